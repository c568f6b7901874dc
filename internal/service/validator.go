package service

import (
	"net/http"
	"strings"
	"time"

	"cobrarelay/internal/constants"
	apperrors "cobrarelay/internal/errors"
	"cobrarelay/internal/models"
)

// ReferenceValidator classifies the conversation reference stored on a
// mapping before an outbound attempt, and classifies delivery failures
// afterwards. The classification never persists; every broadcast evaluates
// fresh state.
type ReferenceValidator struct {
	staleThreshold time.Duration
	expiryPatterns []string
}

// NewReferenceValidator builds a validator from relay config. An empty
// pattern list falls back to the built-in table.
func NewReferenceValidator(cfg models.RelayConfig) *ReferenceValidator {
	patterns := cfg.ExpiryPatterns
	if len(patterns) == 0 {
		patterns = constants.DefaultExpiryPatterns
	}

	days := cfg.StaleThresholdDays
	if days <= 0 {
		days = constants.DefaultStaleThresholdDays
	}

	lowered := make([]string, len(patterns))
	for i, p := range patterns {
		lowered[i] = strings.ToLower(p)
	}

	return &ReferenceValidator{
		staleThreshold: time.Duration(days) * 24 * time.Hour,
		expiryPatterns: lowered,
	}
}

// Validate inspects the mapping's stored reference.
//
// Valid          - structurally sound addressing data, recent activity
// Missing        - no reference stored yet
// Invalid        - stored blob is unparseable or lacks required addressing
// PossiblyStale  - sound, but no inbound activity within the threshold
//
// Expired is never produced here; it only comes out of ClassifyFailure after
// the platform rejects a send.
func (v *ReferenceValidator) Validate(mapping *models.ChannelMapping) models.ReferenceValidation {
	ref, err := models.ParseConversationReference(mapping.ConversationRef)
	if err != nil {
		return newValidation(models.ReferenceInvalid, "stored reference is unparseable")
	}

	switch mapping.Platform {
	case models.PlatformGroupMe:
		// GroupMe addresses by bot id. The reference blob is optional as
		// long as the mapping carries the bot id.
		botID := mapping.BotID
		if ref != nil && ref.BotID != "" {
			botID = ref.BotID
		}
		if botID == "" {
			return newValidation(models.ReferenceMissing, "no bot id on mapping or reference")
		}
	default:
		if ref == nil {
			return newValidation(models.ReferenceMissing, "no conversation reference stored")
		}
		if ref.ConversationID == "" || !ref.HasValidEndpoint() {
			return newValidation(models.ReferenceInvalid, "reference lacks a conversation id or a usable service URL")
		}
	}

	if v.isStale(mapping.LastActivityAt) {
		return newValidation(models.ReferencePossiblyStale, "no inbound activity within the staleness threshold")
	}

	return newValidation(models.ReferenceValid, "")
}

// newValidation pairs a status with the HTTP status API surfaces should use
// when they embed the validation in a response.
func newValidation(status models.ReferenceStatus, reason string) models.ReferenceValidation {
	validation := models.ReferenceValidation{
		Status:     status,
		Reason:     reason,
		HTTPStatus: http.StatusOK,
	}
	switch status {
	case models.ReferenceMissing, models.ReferenceInvalid:
		validation.HTTPStatus = http.StatusUnprocessableEntity
	case models.ReferenceExpired:
		validation.HTTPStatus = http.StatusGone
	}
	return validation
}

// IsExpiredFailure decides whether a delivery failure means the conversation
// is gone for good. HTTP 403 and 404 from the platform are definitive; the
// configured pattern table catches platforms that bury the condition in an
// error message instead of a status. Anything else is an ordinary failure
// and leaves the mapping untouched.
func (v *ReferenceValidator) IsExpiredFailure(err error) bool {
	if err == nil {
		return false
	}

	status := apperrors.StatusCode(err)
	if status == http.StatusForbidden || status == http.StatusNotFound {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range v.expiryPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}

	return false
}

func (v *ReferenceValidator) isStale(lastActivity *time.Time) bool {
	if lastActivity == nil || lastActivity.IsZero() {
		return false
	}
	return time.Since(*lastActivity) > v.staleThreshold
}
