package integration_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"cobrarelay/internal/database"
	"cobrarelay/internal/models"
	"cobrarelay/internal/realtime"
	"cobrarelay/internal/service"
	"cobrarelay/pkg/groupme"
	"cobrarelay/pkg/teams"
)

// groupmePost is one captured bot post on the stub GroupMe API.
type groupmePost struct {
	BotID string `json:"bot_id"`
	Text  string `json:"text"`
}

// TestEnvironment wires the relay core against a real sqlite database and
// stub platform APIs, one instance per test.
type TestEnvironment struct {
	t *testing.T

	DB          *database.Database
	Processor   *service.WebhookProcessor
	Broadcaster *service.Broadcaster
	Validator   *service.ReferenceValidator
	Hub         *realtime.Hub

	GroupMeAPI *httptest.Server
	TeamsAPI   *httptest.Server

	mu            sync.Mutex
	groupmePosts  []groupmePost
	teamsSends    []string
	groupmeStatus int    // non-zero forces bot posts to fail with this status
	groupmeBody   string // body returned alongside a forced failure
}

func NewTestEnvironment(t *testing.T) *TestEnvironment {
	t.Helper()

	env := &TestEnvironment{t: t}

	env.GroupMeAPI = httptest.NewServer(http.HandlerFunc(env.serveGroupMe))
	t.Cleanup(env.GroupMeAPI.Close)
	env.TeamsAPI = httptest.NewServer(http.HandlerFunc(env.serveTeams))
	t.Cleanup(env.TeamsAPI.Close)

	db, err := database.New(filepath.Join(t.TempDir(), "relay.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	env.DB = db

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	httpClient := &http.Client{Timeout: 5 * time.Second}
	gmClient := groupme.NewClientWithLogger(env.GroupMeAPI.URL, "test-token", httpClient, logger)
	tsClient := teams.NewClientWithLogger("", "", "", httpClient, logger)

	adapters := service.NewAdapterRegistry()
	adapters.Register(models.PlatformGroupMe, service.NewGroupMeAdapter(gmClient, logger))
	adapters.Register(models.PlatformTeams, service.NewTeamsAdapter(tsClient, logger))

	cfg := models.RelayConfig{
		StaleThresholdDays:   14,
		BroadcastParallelism: 2,
		AdapterTimeoutSec:    5,
		SystemUserName:       "External Relay",
	}

	env.Validator = service.NewReferenceValidator(cfg)
	env.Hub = realtime.NewHub(logger)
	env.Processor = service.NewWebhookProcessor(db, db, adapters, env.Hub, cfg.SystemUserName, logger)
	env.Broadcaster = service.NewBroadcaster(db, adapters, env.Validator, cfg, logger)

	return env
}

func (env *TestEnvironment) serveGroupMe(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/bots/post" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	env.mu.Lock()
	status := env.groupmeStatus
	body := env.groupmeBody
	env.mu.Unlock()

	if status != 0 {
		w.WriteHeader(status)
		fmt.Fprint(w, body)
		return
	}

	var post groupmePost
	if err := json.NewDecoder(r.Body).Decode(&post); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	env.mu.Lock()
	env.groupmePosts = append(env.groupmePosts, post)
	env.mu.Unlock()
	w.WriteHeader(http.StatusAccepted)
}

func (env *TestEnvironment) serveTeams(w http.ResponseWriter, r *http.Request) {
	var activity teams.Activity
	if err := json.NewDecoder(r.Body).Decode(&activity); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	env.mu.Lock()
	env.teamsSends = append(env.teamsSends, activity.Text)
	n := len(env.teamsSends)
	env.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"id":"act-%d"}`, n)
}

// FailGroupMePosts makes subsequent bot posts fail with the given status and body.
func (env *TestEnvironment) FailGroupMePosts(status int, body string) {
	env.mu.Lock()
	defer env.mu.Unlock()
	env.groupmeStatus = status
	env.groupmeBody = body
}

func (env *TestEnvironment) GroupMePosts() []groupmePost {
	env.mu.Lock()
	defer env.mu.Unlock()
	return append([]groupmePost(nil), env.groupmePosts...)
}

func (env *TestEnvironment) TeamsSends() []string {
	env.mu.Lock()
	defer env.mu.Unlock()
	return append([]string(nil), env.teamsSends...)
}

// CreateMapping persists a mapping directly, defaulting the fields most
// scenarios share.
func (env *TestEnvironment) CreateMapping(m *models.ChannelMapping) *models.ChannelMapping {
	env.t.Helper()
	if m.WebhookSecret == "" {
		m.WebhookSecret = "s3cret"
	}
	m.IsActive = true
	m.CreatedBy = "test"
	require.NoError(env.t, env.DB.CreateMapping(context.Background(), m))
	return m
}

// TeamsReference builds a conversation reference blob pointing at the stub
// Teams API.
func (env *TestEnvironment) TeamsReference(conversationID string) string {
	blob, err := json.Marshal(models.ConversationReference{
		ConversationID: conversationID,
		ServiceURL:     env.TeamsAPI.URL,
		BotID:          "28:bot",
	})
	require.NoError(env.t, err)
	return string(blob)
}
