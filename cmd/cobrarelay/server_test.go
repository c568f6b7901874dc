package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cobrarelay/internal/constants"
	"cobrarelay/internal/database"
	"cobrarelay/internal/models"
	"cobrarelay/internal/realtime"
	"cobrarelay/internal/service"
	"cobrarelay/pkg/groupme"
	"cobrarelay/pkg/teams"
)

func testConfig() *models.Config {
	return &models.Config{
		Server: models.ServerConfig{
			Port:                constants.DefaultServerPort,
			ReadTimeoutSec:      constants.DefaultServerReadTimeoutSec,
			WriteTimeoutSec:     constants.DefaultServerWriteTimeoutSec,
			IdleTimeoutSec:      constants.DefaultServerIdleTimeoutSec,
			MaxWebhookBodyBytes: constants.DefaultMaxWebhookBodyBytes,
			WebhookRatePerMin:   1000,
		},
		Relay: models.RelayConfig{
			StaleThresholdDays:   constants.DefaultStaleThresholdDays,
			CleanupIntervalHours: constants.DefaultCleanupIntervalHours,
			BroadcastParallelism: constants.DefaultBroadcastParallelism,
			AdapterTimeoutSec:    constants.DefaultAdapterTimeoutSec,
			SystemUserName:       "External Relay",
		},
	}
}

// newTestServer wires a server against a real sqlite database and platform
// clients pointed at the given API base URLs.
func newTestServer(t *testing.T, groupmeURL, teamsTokenURL string) (*Server, *database.Database) {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	db, err := database.New(filepath.Join(t.TempDir(), "relay.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := testConfig()
	httpClient := &http.Client{Timeout: 5 * time.Second}
	gmClient := groupme.NewClientWithLogger(groupmeURL, "test-token", httpClient, logger)
	tsClient := teams.NewClientWithLogger("", "", teamsTokenURL, httpClient, logger)

	adapters := service.NewAdapterRegistry()
	adapters.Register(models.PlatformGroupMe, service.NewGroupMeAdapter(gmClient, logger))
	adapters.Register(models.PlatformTeams, service.NewTeamsAdapter(tsClient, logger))

	validator := service.NewReferenceValidator(cfg.Relay)
	hub := realtime.NewHub(logger)
	processor := service.NewWebhookProcessor(db, db, adapters, hub, cfg.Relay.SystemUserName, logger)
	broadcaster := service.NewBroadcaster(db, adapters, validator, cfg.Relay, logger)

	return NewServer(cfg, db, processor, broadcaster, validator, hub, logger), db
}

func createLinkedMapping(t *testing.T, db *database.Database, platform models.Platform, groupID, threadID, secret string) *models.ChannelMapping {
	t.Helper()
	mapping := &models.ChannelMapping{
		Platform:        platform,
		ExternalGroupID: groupID,
		BotID:           "bot-1",
		WebhookSecret:   secret,
		IsActive:        true,
		CreatedBy:       "test",
	}
	if threadID != "" {
		mapping.ChatThreadID = &threadID
	}
	require.NoError(t, db.CreateMapping(context.Background(), mapping))
	return mapping
}

func groupmeCallback(messageID, groupID, sender, text string) []byte {
	payload := map[string]interface{}{
		"id":          messageID,
		"group_id":    groupID,
		"name":        sender,
		"sender_id":   "u-1",
		"sender_type": "user",
		"text":        text,
		"created_at":  time.Now().Unix(),
	}
	body, _ := json.Marshal(payload)
	return body
}

func doJSON(t *testing.T, router http.Handler, method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	s, _ := newTestServer(t, "http://groupme.invalid", "")

	rec := doJSON(t, s.router, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestWebhookStoresAndDeduplicates(t *testing.T) {
	s, db := newTestServer(t, "http://groupme.invalid", "")
	mapping := createLinkedMapping(t, db, models.PlatformGroupMe, "g-100", "thread-1", "s3cret")

	path := fmt.Sprintf("/webhooks/groupme/%s?secret=s3cret", mapping.ID)
	body := groupmeCallback("gm-1", "g-100", "Bob", "hello")

	rec := doJSON(t, s.router, http.MethodPost, path, body, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"stored"}`, rec.Body.String())

	// Redelivery of the same external message id is acknowledged, not duplicated.
	rec = doJSON(t, s.router, http.MethodPost, path, body, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"duplicate"}`, rec.Body.String())

	rec = doJSON(t, s.router, http.MethodGet, "/api/v1/threads/thread-1/messages", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var messages []*models.ChatMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &messages))
	require.Len(t, messages, 1)
	assert.Equal(t, "Bob", messages[0].ExternalSenderName)
	assert.Equal(t, "hello", messages[0].Message)
}

func TestWebhookSecretFromHeader(t *testing.T) {
	s, db := newTestServer(t, "http://groupme.invalid", "")
	mapping := createLinkedMapping(t, db, models.PlatformGroupMe, "g-100", "thread-1", "s3cret")

	rec := doJSON(t, s.router, http.MethodPost, "/webhooks/groupme/"+mapping.ID,
		groupmeCallback("gm-1", "g-100", "Bob", "hello"),
		map[string]string{WebhookSecretHeader: "s3cret"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWebhookRejections(t *testing.T) {
	s, db := newTestServer(t, "http://groupme.invalid", "")
	mapping := createLinkedMapping(t, db, models.PlatformGroupMe, "g-100", "thread-1", "s3cret")
	body := groupmeCallback("gm-1", "g-100", "Bob", "hello")

	tests := []struct {
		name       string
		path       string
		body       []byte
		wantStatus int
	}{
		{"wrong secret", "/webhooks/groupme/" + mapping.ID + "?secret=wrong", body, http.StatusUnauthorized},
		{"missing secret", "/webhooks/groupme/" + mapping.ID, body, http.StatusUnauthorized},
		{"unknown mapping", "/webhooks/groupme/nope?secret=s3cret", body, http.StatusNotFound},
		{"unsupported platform", "/webhooks/slack/" + mapping.ID + "?secret=s3cret", body, http.StatusNotFound},
		{"malformed payload", "/webhooks/groupme/" + mapping.ID + "?secret=s3cret", []byte("not json"), http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, s.router, http.MethodPost, tt.path, tt.body, nil)
			assert.Equal(t, tt.wantStatus, rec.Code)

			var envelope struct {
				Error struct {
					Message string `json:"message"`
				} `json:"error"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
			assert.NotEmpty(t, envelope.Error.Message)
			// Rejections never explain which check failed.
			assert.NotContains(t, envelope.Error.Message, "secret")
		})
	}
}

func TestWebhookRateLimited(t *testing.T) {
	s, db := newTestServer(t, "http://groupme.invalid", "")
	s.limiter = NewRateLimiter(2, time.Minute)
	mapping := createLinkedMapping(t, db, models.PlatformGroupMe, "g-100", "thread-1", "s3cret")

	path := "/webhooks/groupme/" + mapping.ID + "?secret=s3cret"
	for i := 0; i < 2; i++ {
		rec := doJSON(t, s.router, http.MethodPost, path, groupmeCallback(fmt.Sprintf("gm-%d", i), "g-100", "Bob", "hi"), nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := doJSON(t, s.router, http.MethodPost, path, groupmeCallback("gm-3", "g-100", "Bob", "hi"), nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestMappingLifecycle(t *testing.T) {
	s, _ := newTestServer(t, "http://groupme.invalid", "")

	create := `{"platform":"groupme","externalGroupId":"g-200","externalGroupName":"Ops Room","botId":"bot-2","webhookSecret":"s3cret"}`
	rec := doJSON(t, s.router, http.MethodPost, "/api/v1/mappings", []byte(create), nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created models.ChannelMapping
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.ID)
	assert.False(t, created.IsLinked())

	// Duplicate active mapping for the same conversation conflicts.
	rec = doJSON(t, s.router, http.MethodPost, "/api/v1/mappings", []byte(create), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, s.router, http.MethodPost, "/api/v1/mappings/"+created.ID+"/rename", []byte(`{"name":"Night Shift"}`), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s.router, http.MethodPost, "/api/v1/mappings/"+created.ID+"/link", []byte(`{"eventId":"evt-1","chatThreadId":"thread-9"}`), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s.router, http.MethodGet, "/api/v1/mappings/"+created.ID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var view mappingView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "Night Shift", view.Mapping.ExternalGroupName)
	require.NotNil(t, view.Mapping.ChatThreadID)
	assert.Equal(t, "thread-9", *view.Mapping.ChatThreadID)
	assert.Equal(t, models.ReferenceValid, view.Reference.Status)
	assert.Equal(t, http.StatusOK, view.Reference.HTTPStatus)

	rec = doJSON(t, s.router, http.MethodPost, "/api/v1/mappings/"+created.ID+"/deactivate", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s.router, http.MethodGet, "/api/v1/mappings?activeOnly=true", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed []*models.ChannelMapping
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	assert.Empty(t, listed)

	rec = doJSON(t, s.router, http.MethodPost, "/api/v1/mappings/"+created.ID+"/reactivate", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s.router, http.MethodGet, "/api/v1/mappings/unknown-id", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReferenceGetAndPut(t *testing.T) {
	s, db := newTestServer(t, "http://groupme.invalid", "")
	createLinkedMapping(t, db, models.PlatformTeams, "19:chan@thread.v2", "thread-1", "s3cret")

	ref := `{"conversationId":"19:chan@thread.v2","serviceUrl":"https://smba.trafficmanager.net/amer/"}`
	rec := doJSON(t, s.router, http.MethodPut, "/api/v1/references/teams/19:chan@thread.v2", []byte(ref), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s.router, http.MethodGet, "/api/v1/references/teams/19:chan@thread.v2", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got struct {
		Reference  *models.ConversationReference `json:"conversationReference"`
		Validation models.ReferenceValidation    `json:"validation"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.NotNil(t, got.Reference)
	assert.Equal(t, "19:chan@thread.v2", got.Reference.ConversationID)
	assert.Equal(t, models.ReferenceValid, got.Validation.Status)

	rec = doJSON(t, s.router, http.MethodGet, "/api/v1/references/teams/unknown", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSendToThreadBroadcasts(t *testing.T) {
	var posted []string
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			BotID string `json:"bot_id"`
			Text  string `json:"text"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		posted = append(posted, req.Text)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer api.Close()

	s, db := newTestServer(t, api.URL, "")
	createLinkedMapping(t, db, models.PlatformGroupMe, "g-100", "thread-1", "s3cret")

	rec := doJSON(t, s.router, http.MethodPost, "/api/v1/threads/thread-1/messages", []byte(`{"message":"status update","senderName":"Alice"}`), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		MessageID string                  `json:"messageId"`
		Outcomes  []models.ChannelOutcome `json:"outcomes"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Outcomes, 1)
	assert.Equal(t, models.ChannelSent, resp.Outcomes[0].Result)
	assert.Equal(t, []string{"[Alice] status update"}, posted)

	// The outbound message is part of the thread history.
	require.NotEmpty(t, resp.MessageID)
	messages, err := db.GetMessagesByThread(context.Background(), "thread-1")
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "status update", messages[0].Message)
	assert.Equal(t, resp.MessageID, messages[0].ID)
}

func TestDeleteMessageHidesItFromThread(t *testing.T) {
	s, db := newTestServer(t, "http://groupme.invalid", "")

	msg := &models.ChatMessage{ChatThreadID: "thread-7", Message: "scratch that", CreatedBy: "operator"}
	require.NoError(t, db.InsertNativeMessage(context.Background(), msg))

	rec := doJSON(t, s.router, http.MethodDelete, "/api/v1/messages/"+msg.ID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	messages, err := db.GetMessagesByThread(context.Background(), "thread-7")
	require.NoError(t, err)
	assert.Empty(t, messages)

	rec = doJSON(t, s.router, http.MethodDelete, "/api/v1/messages/missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCleanupStaleEndpoint(t *testing.T) {
	s, db := newTestServer(t, "http://groupme.invalid", "")

	stale := createLinkedMapping(t, db, models.PlatformGroupMe, "g-old", "thread-old", "s3cret")
	old := time.Now().UTC().AddDate(0, 0, -30)
	require.NoError(t, db.RefreshMappingActivity(context.Background(), stale.ID, "", "", "", old))

	rec := doJSON(t, s.router, http.MethodPost, "/api/v1/mappings/cleanup-stale", []byte(`{"olderThanDays":14}`), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"deactivated":1}`, rec.Body.String())

	got, err := db.GetMapping(context.Background(), stale.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t, "http://groupme.invalid", "")

	rec := doJSON(t, s.router, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")

	var snapshot map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snapshot))
}
