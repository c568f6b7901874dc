package main

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	apperrors "cobrarelay/internal/errors"
	"cobrarelay/internal/models"

	"github.com/gorilla/mux"
)

const maxManagementBodyBytes = 64 * 1024

type createMappingRequest struct {
	Platform          models.Platform `json:"platform"`
	ExternalGroupID   string          `json:"externalGroupId"`
	ExternalGroupName string          `json:"externalGroupName"`
	ShareURL          string          `json:"shareUrl"`
	BotID             string          `json:"botId"`
	WebhookSecret     string          `json:"webhookSecret"`
	ConversationRef   string          `json:"conversationRef"`
	TenantID          string          `json:"tenantId"`
	IsEmulatorOrTest  bool            `json:"isEmulatorOrTest"`
	EventID           string          `json:"eventId"`
	ChatThreadID      string          `json:"chatThreadId"`
}

type renameMappingRequest struct {
	Name string `json:"name"`
}

type linkMappingRequest struct {
	EventID      string `json:"eventId"`
	ChatThreadID string `json:"chatThreadId"`
}

type cleanupStaleRequest struct {
	OlderThanDays int `json:"olderThanDays"`
}

type broadcastRequest struct {
	Message    string `json:"message"`
	SenderName string `json:"senderName"`
}

type promoteMessageRequest struct {
	LogbookEntryID string `json:"logbookEntryId"`
}

// mappingView pairs a mapping with the transient validation of its
// conversation reference so the admin UI can show reachability.
type mappingView struct {
	Mapping   *models.ChannelMapping     `json:"mapping"`
	Reference models.ReferenceValidation `json:"reference"`
}

func (s *Server) decodeJSON(r *http.Request, dst interface{}) error {
	body := http.MaxBytesReader(nil, r.Body, maxManagementBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "invalid request body").
			WithUserMessage("Invalid request body")
	}
	return nil
}

func invalidInput(message string) error {
	return apperrors.New(apperrors.ErrCodeInvalidInput, message).WithUserMessage(message)
}

func (s *Server) handleCreateMapping() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createMappingRequest
		if err := s.decodeJSON(r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		if !req.Platform.IsImplemented() {
			s.writeError(w, r, invalidInput("unsupported platform"))
			return
		}
		if req.ExternalGroupID == "" {
			s.writeError(w, r, invalidInput("externalGroupId is required"))
			return
		}
		if req.WebhookSecret == "" {
			s.writeError(w, r, invalidInput("webhookSecret is required"))
			return
		}

		mapping := &models.ChannelMapping{
			Platform:          req.Platform,
			ExternalGroupID:   req.ExternalGroupID,
			ExternalGroupName: req.ExternalGroupName,
			ShareURL:          req.ShareURL,
			BotID:             req.BotID,
			WebhookSecret:     req.WebhookSecret,
			ConversationRef:   req.ConversationRef,
			TenantID:          req.TenantID,
			IsEmulatorOrTest:  req.IsEmulatorOrTest,
			IsActive:          true,
			CreatedBy:         s.actor(r),
		}
		if req.EventID != "" {
			mapping.EventID = &req.EventID
		}
		if req.ChatThreadID != "" {
			mapping.ChatThreadID = &req.ChatThreadID
		}

		if err := s.db.CreateMapping(r.Context(), mapping); err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusCreated, mapping)
	}
}

func (s *Server) handleListMappings() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		filter := models.MappingFilter{
			Platform:    models.Platform(query.Get("platform")),
			EventID:     query.Get("eventId"),
			ActiveOnly:  query.Get("activeOnly") == "true",
			IncludeTest: query.Get("includeTest") == "true",
		}
		if days, err := strconv.Atoi(query.Get("idleDays")); err == nil && days > 0 {
			cutoff := time.Now().UTC().AddDate(0, 0, -days)
			filter.IdleSince = &cutoff
		}

		mappings, err := s.db.ListMappings(r.Context(), filter)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if mappings == nil {
			mappings = []*models.ChannelMapping{}
		}
		s.writeJSON(w, http.StatusOK, mappings)
	}
}

func (s *Server) handleGetMapping() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		mapping, err := s.db.GetMapping(r.Context(), id)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if mapping == nil {
			s.writeError(w, r, apperrors.NewNotFoundError("mapping", id))
			return
		}
		s.writeJSON(w, http.StatusOK, mappingView{
			Mapping:   mapping,
			Reference: s.validator.Validate(mapping),
		})
	}
}

func (s *Server) handleRenameMapping() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req renameMappingRequest
		if err := s.decodeJSON(r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		if req.Name == "" {
			s.writeError(w, r, invalidInput("name is required"))
			return
		}

		id := mux.Vars(r)["id"]
		if err := s.db.RenameMapping(r.Context(), id, req.Name, s.actor(r)); err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "renamed"})
	}
}

func (s *Server) handleLinkMapping() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req linkMappingRequest
		if err := s.decodeJSON(r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		if req.ChatThreadID == "" {
			s.writeError(w, r, invalidInput("chatThreadId is required"))
			return
		}

		id := mux.Vars(r)["id"]
		if err := s.db.LinkMapping(r.Context(), id, req.EventID, req.ChatThreadID, s.actor(r)); err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "linked"})
	}
}

func (s *Server) handleUnlinkMapping() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		if err := s.db.UnlinkMapping(r.Context(), id, s.actor(r)); err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "unlinked"})
	}
}

func (s *Server) handleDeactivateMapping() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		if err := s.db.DeactivateMapping(r.Context(), id, s.actor(r)); err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "deactivated"})
	}
}

func (s *Server) handleReactivateMapping() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		if err := s.db.ReactivateMapping(r.Context(), id, s.actor(r)); err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "reactivated"})
	}
}

func (s *Server) handleCleanupStale() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := cleanupStaleRequest{OlderThanDays: s.cfg.Relay.StaleThresholdDays}
		if r.ContentLength > 0 {
			if err := s.decodeJSON(r, &req); err != nil {
				s.writeError(w, r, err)
				return
			}
		}
		if req.OlderThanDays <= 0 {
			req.OlderThanDays = s.cfg.Relay.StaleThresholdDays
		}

		cutoff := time.Now().UTC().AddDate(0, 0, -req.OlderThanDays)
		count, err := s.db.DeactivateStaleMappings(r.Context(), cutoff, s.actor(r))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]int64{"deactivated": count})
	}
}

func (s *Server) handleGetReference() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		platform := models.Platform(vars["platform"])
		groupID := vars["externalGroupId"]

		mapping, err := s.db.GetActiveMappingByConversation(r.Context(), platform, groupID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if mapping == nil {
			s.writeError(w, r, apperrors.NewNotFoundError("conversation", groupID))
			return
		}

		ref, _ := models.ParseConversationReference(mapping.ConversationRef)
		s.writeJSON(w, http.StatusOK, struct {
			MappingID  string                        `json:"mappingId"`
			Reference  *models.ConversationReference `json:"conversationReference"`
			Validation models.ReferenceValidation    `json:"validation"`
		}{mapping.ID, ref, s.validator.Validate(mapping)})
	}
}

func (s *Server) handlePutReference() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var ref models.ConversationReference
		if err := s.decodeJSON(r, &ref); err != nil {
			s.writeError(w, r, err)
			return
		}
		if ref.ConversationID == "" {
			s.writeError(w, r, invalidInput("conversationId is required"))
			return
		}

		vars := mux.Vars(r)
		platform := models.Platform(vars["platform"])
		groupID := vars["externalGroupId"]

		mapping, err := s.db.GetActiveMappingByConversation(r.Context(), platform, groupID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if mapping == nil {
			s.writeError(w, r, apperrors.NewNotFoundError("conversation", groupID))
			return
		}

		blob, err := json.Marshal(ref)
		if err != nil {
			s.writeError(w, r, apperrors.Wrap(err, apperrors.ErrCodeInternalError, "failed to encode reference"))
			return
		}
		if err := s.db.UpdateConversationRef(r.Context(), mapping.ID, string(blob), s.actor(r)); err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
	}
}

func (s *Server) handleThreadMessages() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		messages, err := s.db.GetMessagesByThread(r.Context(), mux.Vars(r)["threadId"])
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if messages == nil {
			messages = []*models.ChatMessage{}
		}
		s.writeJSON(w, http.StatusOK, messages)
	}
}

func (s *Server) handleSendToThread() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req broadcastRequest
		if err := s.decodeJSON(r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		if req.Message == "" {
			s.writeError(w, r, invalidInput("message is required"))
			return
		}

		sender := req.SenderName
		if sender == "" {
			sender = s.actor(r)
		}

		threadID := mux.Vars(r)["threadId"]
		msg := &models.ChatMessage{
			ChatThreadID: threadID,
			Message:      req.Message,
			CreatedBy:    sender,
		}
		if err := s.db.InsertNativeMessage(r.Context(), msg); err != nil {
			s.writeError(w, r, err)
			return
		}

		outcomes, err := s.broadcaster.SendToThread(r.Context(), threadID, sender, req.Message)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]interface{}{
			"messageId": msg.ID,
			"outcomes":  outcomes,
		})
	}
}

func (s *Server) handleAnnouncement() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req broadcastRequest
		if err := s.decodeJSON(r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		if req.Message == "" {
			s.writeError(w, r, invalidInput("message is required"))
			return
		}

		sender := req.SenderName
		if sender == "" {
			sender = s.actor(r)
		}

		outcomes, err := s.broadcaster.BroadcastAnnouncement(r.Context(), mux.Vars(r)["eventId"], sender, req.Message)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		reached := 0
		for _, o := range outcomes {
			if o.Result == models.ChannelSent {
				reached++
			}
		}
		s.writeJSON(w, http.StatusOK, map[string]interface{}{
			"reached":  reached,
			"outcomes": outcomes,
		})
	}
}

func (s *Server) handleDeleteMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.db.SoftDeleteMessage(r.Context(), mux.Vars(r)["id"]); err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func (s *Server) handlePromoteMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req promoteMessageRequest
		if err := s.decodeJSON(r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		if req.LogbookEntryID == "" {
			s.writeError(w, r, invalidInput("logbookEntryId is required"))
			return
		}

		id := mux.Vars(r)["id"]
		msg, err := s.db.GetMessage(r.Context(), id)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if msg == nil {
			s.writeError(w, r, apperrors.NewNotFoundError("message", id))
			return
		}

		if err := s.db.PromoteMessage(r.Context(), id, req.LogbookEntryID, s.actor(r)); err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "promoted"})
	}
}
