package teams

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendActivity(t *testing.T) {
	var captured Activity
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/conversations/19:abc@thread.v2/activities", r.URL.EscapedPath())
		assert.Equal(t, "POST", r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		_, _ = w.Write([]byte(`{"id":"activity-42"}`))
	}))
	defer server.Close()

	client := NewClient("", "", "", nil)
	id, err := client.SendActivity(context.Background(), server.URL, "19:abc@thread.v2", "announcement text")

	require.NoError(t, err)
	assert.Equal(t, "activity-42", id)
	assert.Equal(t, ActivityTypeMessage, captured.Type)
	assert.Equal(t, "announcement text", captured.Text)
}

func TestSendActivityAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"code":"BotNotInConversationRoster"}}`))
	}))
	defer server.Close()

	client := NewClient("", "", "", nil)
	_, err := client.SendActivity(context.Background(), server.URL, "conv-1", "text")

	require.Error(t, err)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
	assert.Contains(t, apiErr.Body, "BotNotInConversationRoster")
}

func TestSendActivityFetchesAndCachesToken(t *testing.T) {
	var tokenRequests int32
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&tokenRequests, 1)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.Form.Get("grant_type"))
		assert.Equal(t, "app-1", r.Form.Get("client_id"))
		_, _ = w.Write([]byte(`{"access_token":"tok-xyz","token_type":"Bearer","expires_in":3600}`))
	}))
	defer tokenServer.Close()

	var authHeaders []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeaders = append(authHeaders, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"id":"a1"}`))
	}))
	defer server.Close()

	client := NewClient("app-1", "secret", tokenServer.URL, nil)

	for i := 0; i < 3; i++ {
		_, err := client.SendActivity(context.Background(), server.URL, "conv-1", "text")
		require.NoError(t, err)
	}

	assert.Equal(t, int32(1), atomic.LoadInt32(&tokenRequests))
	for _, h := range authHeaders {
		assert.Equal(t, "Bearer tok-xyz", h)
	}
}

func TestSendActivityTokenFailure(t *testing.T) {
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid_client"}`))
	}))
	defer tokenServer.Close()

	client := NewClient("app-1", "wrong", tokenServer.URL, nil)
	_, err := client.SendActivity(context.Background(), "http://unused.example", "conv-1", "text")

	require.Error(t, err)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
}

func TestParseActivityMessage(t *testing.T) {
	raw := []byte(`{
		"type": "message",
		"id": "1484755971",
		"serviceUrl": "https://smba.trafficmanager.net/amer/",
		"channelId": "msteams",
		"from": {"id": "29:user", "name": "Jordan"},
		"recipient": {"id": "28:bot-app"},
		"conversation": {"id": "19:meeting@thread.v2", "isGroup": true},
		"text": "supplies are staged",
		"channelData": {"tenant": {"id": "tenant-1"}, "team": {"id": "t1", "name": "Field Ops"}}
	}`)

	client := NewClient("", "", "", nil)
	activity, err := client.ParseActivity(raw)

	require.NoError(t, err)
	assert.Equal(t, ActivityTypeMessage, activity.Type)
	assert.Equal(t, "19:meeting@thread.v2", activity.Conversation.ID)
	assert.Equal(t, "tenant-1", activity.TenantID())
	assert.Equal(t, "Field Ops", activity.TeamName())
	assert.False(t, activity.FromEmulator())
	assert.False(t, activity.FromSelf())
}

func TestParseActivityDetectsSelfEcho(t *testing.T) {
	raw := []byte(`{
		"type": "message",
		"from": {"id": "28:bot-app"},
		"recipient": {"id": "28:bot-app"},
		"conversation": {"id": "19:x@thread.v2"},
		"text": "relayed"
	}`)

	client := NewClient("", "", "", nil)
	activity, err := client.ParseActivity(raw)

	require.NoError(t, err)
	assert.True(t, activity.FromSelf())
}

func TestParseActivityEmulator(t *testing.T) {
	raw := []byte(`{"type":"message","channelId":"emulator","conversation":{"id":"c1"},"text":"hi"}`)

	client := NewClient("", "", "", nil)
	activity, err := client.ParseActivity(raw)

	require.NoError(t, err)
	assert.True(t, activity.FromEmulator())
}

func TestParseActivityRejectsInvalid(t *testing.T) {
	client := NewClient("", "", "", nil)

	_, err := client.ParseActivity([]byte(`{`))
	assert.Error(t, err)

	_, err = client.ParseActivity([]byte(`{"text":"no type"}`))
	assert.Error(t, err)

	_, err = client.ParseActivity([]byte(`{"type":"message","text":"no conversation"}`))
	assert.Error(t, err)
}

func TestActivityTenantFallback(t *testing.T) {
	a := &Activity{Conversation: &ConversationAccount{ID: "c", TenantID: "tenant-conv"}}
	assert.Equal(t, "tenant-conv", a.TenantID())

	a.ChannelData = &ChannelData{Tenant: &TenantInfo{ID: "tenant-data"}}
	assert.Equal(t, "tenant-data", a.TenantID())
}
