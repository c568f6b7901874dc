package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"cobrarelay/internal/database"
	apperrors "cobrarelay/internal/errors"
	"cobrarelay/internal/httputil"
	"cobrarelay/internal/middleware"
	"cobrarelay/internal/models"
	"cobrarelay/internal/realtime"
	"cobrarelay/internal/service"
	"cobrarelay/internal/tracing"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// WebhookSecretHeader carries the per-mapping shared secret on inbound
// callbacks. Platforms that cannot set headers (GroupMe bot callbacks)
// embed it as a "secret" query parameter instead.
const WebhookSecretHeader = "X-Webhook-Secret"

type Server struct {
	cfg         *models.Config
	router      *mux.Router
	logger      *logrus.Logger
	db          *database.Database
	processor   *service.WebhookProcessor
	broadcaster *service.Broadcaster
	validator   *service.ReferenceValidator
	hub         *realtime.Hub
	limiter     *RateLimiter
	server      *http.Server
}

func NewServer(cfg *models.Config, db *database.Database, processor *service.WebhookProcessor, broadcaster *service.Broadcaster, validator *service.ReferenceValidator, hub *realtime.Hub, logger *logrus.Logger) *Server {
	s := &Server{
		cfg:         cfg,
		router:      mux.NewRouter(),
		logger:      logger,
		db:          db,
		processor:   processor,
		broadcaster: broadcaster,
		validator:   validator,
		hub:         hub,
		limiter:     NewRateLimiter(cfg.Server.WebhookRatePerMin, time.Minute),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)
	s.router.Handle("/metrics", middleware.Observability(s.logger)(s.handleMetrics())).Methods(http.MethodGet)

	// Realtime subscriptions bypass the observability wrapper; the upgrade
	// needs the raw ResponseWriter.
	s.router.Handle("/ws/threads/{threadId}", s.hub).Methods(http.MethodGet)

	webhooks := s.router.PathPrefix("/webhooks").Subrouter()
	webhooks.Use(middleware.WebhookObservability(s.logger))
	webhooks.HandleFunc("/{platform}/{mappingId}", s.handleWebhook()).Methods(http.MethodPost)

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.Observability(s.logger))

	api.HandleFunc("/mappings", s.handleCreateMapping()).Methods(http.MethodPost)
	api.HandleFunc("/mappings", s.handleListMappings()).Methods(http.MethodGet)
	api.HandleFunc("/mappings/cleanup-stale", s.handleCleanupStale()).Methods(http.MethodPost)
	api.HandleFunc("/mappings/{id}", s.handleGetMapping()).Methods(http.MethodGet)
	api.HandleFunc("/mappings/{id}/rename", s.handleRenameMapping()).Methods(http.MethodPost)
	api.HandleFunc("/mappings/{id}/link", s.handleLinkMapping()).Methods(http.MethodPost)
	api.HandleFunc("/mappings/{id}/unlink", s.handleUnlinkMapping()).Methods(http.MethodPost)
	api.HandleFunc("/mappings/{id}/deactivate", s.handleDeactivateMapping()).Methods(http.MethodPost)
	api.HandleFunc("/mappings/{id}/reactivate", s.handleReactivateMapping()).Methods(http.MethodPost)

	api.HandleFunc("/references/{platform}/{externalGroupId}", s.handleGetReference()).Methods(http.MethodGet)
	api.HandleFunc("/references/{platform}/{externalGroupId}", s.handlePutReference()).Methods(http.MethodPut)

	api.HandleFunc("/threads/{threadId}/messages", s.handleThreadMessages()).Methods(http.MethodGet)
	api.HandleFunc("/threads/{threadId}/messages", s.handleSendToThread()).Methods(http.MethodPost)
	api.HandleFunc("/events/{eventId}/announcements", s.handleAnnouncement()).Methods(http.MethodPost)
	api.HandleFunc("/messages/{id}", s.handleDeleteMessage()).Methods(http.MethodDelete)
	api.HandleFunc("/messages/{id}/promote", s.handlePromoteMessage()).Methods(http.MethodPost)
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(s.cfg.Server.WriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(s.cfg.Server.IdleTimeoutSec) * time.Second,
	}

	s.logger.Infof("Starting server on port %d", s.cfg.Server.Port)
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			s.logger.WithError(err).Warn("Failed to write health response")
		}
	}
}

func (s *Server) handleWebhook() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clientIP := httputil.GetClientIP(r)
		if !s.limiter.Allow(clientIP) {
			s.writeError(w, r, apperrors.New(apperrors.ErrCodeRateLimit, "webhook rate limit exceeded").
				WithContext("client_ip", clientIP).
				WithUserMessage("Too many requests"))
			return
		}

		vars := mux.Vars(r)
		platform := models.Platform(vars["platform"])
		if !platform.IsImplemented() {
			s.writeError(w, r, apperrors.NewNotFoundError("platform", string(platform)))
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, int64(s.cfg.Server.MaxWebhookBodyBytes))
		body, err := io.ReadAll(r.Body)
		if err != nil {
			s.writeError(w, r, apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "failed to read webhook body").
				WithUserMessage("Invalid request body"))
			return
		}

		result, err := s.processor.Process(r.Context(), platform, vars["mappingId"], webhookSecret(r), body)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		s.writeJSON(w, http.StatusOK, map[string]string{"status": string(result.Outcome)})
	}
}

func webhookSecret(r *http.Request) string {
	if secret := r.Header.Get(WebhookSecretHeader); secret != "" {
		return secret
	}
	return r.URL.Query().Get("secret")
}

// actor resolves the acting user for audit columns on management writes.
func (s *Server) actor(r *http.Request) string {
	if a := r.Header.Get("X-Actor"); a != "" {
		return a
	}
	return s.cfg.Relay.SystemUserName
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatusCode(err)
	requestInfo := tracing.GetRequestInfo(r.Context())

	entry := s.logger.WithFields(logrus.Fields{
		"request_id":  requestInfo.RequestID,
		"status_code": status,
		"path":        r.URL.Path,
	}).WithError(err)
	if status >= http.StatusInternalServerError {
		entry.Error("Request failed")
	} else {
		entry.Warn("Request rejected")
	}

	s.writeJSON(w, status, apperrors.ToHTTPResponse(err, requestInfo.RequestID))
}
