package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConversationReference(t *testing.T) {
	t.Run("empty blob", func(t *testing.T) {
		ref, err := ParseConversationReference("")
		require.NoError(t, err)
		assert.Nil(t, ref)
	})

	t.Run("valid blob", func(t *testing.T) {
		ref, err := ParseConversationReference(`{"conversationId":"19:abc","serviceUrl":"https://smba.trafficmanager.net/amer/"}`)
		require.NoError(t, err)
		require.NotNil(t, ref)
		assert.Equal(t, "19:abc", ref.ConversationID)
		assert.True(t, ref.HasValidEndpoint())
	})

	t.Run("garbage blob", func(t *testing.T) {
		_, err := ParseConversationReference("{not json")
		assert.Error(t, err)
	})
}

func TestConversationReferenceEndpoint(t *testing.T) {
	cases := []struct {
		name       string
		serviceURL string
		valid      bool
	}{
		{"https endpoint", "https://api.groupme.com", true},
		{"http endpoint", "http://localhost:8080", true},
		{"relative path", "/v3/bots/post", false},
		{"no scheme", "smba.trafficmanager.net", false},
		{"wrong scheme", "ftp://example.com", false},
		{"empty", "", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ref := ConversationReference{ConversationID: "c1", ServiceURL: tc.serviceURL}
			assert.Equal(t, tc.valid, ref.HasValidEndpoint())
		})
	}
}

func TestReferenceValidationCanAttemptSend(t *testing.T) {
	assert.True(t, ReferenceValidation{Status: ReferenceValid}.CanAttemptSend())
	assert.True(t, ReferenceValidation{Status: ReferencePossiblyStale}.CanAttemptSend())
	assert.False(t, ReferenceValidation{Status: ReferenceMissing}.CanAttemptSend())
	assert.False(t, ReferenceValidation{Status: ReferenceInvalid}.CanAttemptSend())
	assert.False(t, ReferenceValidation{Status: ReferenceExpired}.CanAttemptSend())
}

func TestPlatform(t *testing.T) {
	assert.True(t, PlatformGroupMe.IsValid())
	assert.True(t, PlatformTeams.IsValid())
	assert.True(t, PlatformSignal.IsValid())
	assert.False(t, Platform("discord").IsValid())

	assert.True(t, PlatformGroupMe.IsImplemented())
	assert.True(t, PlatformTeams.IsImplemented())
	assert.False(t, PlatformSignal.IsImplemented())
	assert.False(t, PlatformSlack.IsImplemented())
}

func TestChannelMappingIsLinked(t *testing.T) {
	m := &ChannelMapping{}
	assert.False(t, m.IsLinked())

	empty := ""
	m.ChatThreadID = &empty
	assert.False(t, m.IsLinked())

	tid := "thread-1"
	m.ChatThreadID = &tid
	assert.True(t, m.IsLinked())
}
