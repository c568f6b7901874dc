package models

import (
	"encoding/json"
	"net/url"
)

// ReferenceStatus classifies a stored conversation reference.
type ReferenceStatus string

const (
	ReferenceValid         ReferenceStatus = "valid"
	ReferenceMissing       ReferenceStatus = "missing"
	ReferenceInvalid       ReferenceStatus = "invalid"
	ReferenceExpired       ReferenceStatus = "expired"
	ReferencePossiblyStale ReferenceStatus = "possibly_stale"
)

// ConversationReference is the platform addressing token stored per mapping.
// For Teams it carries the Bot Framework service URL and conversation id; for
// GroupMe the bot id doubles as the address and ServiceURL points at the
// GroupMe API.
type ConversationReference struct {
	ConversationID string `json:"conversationId"`
	ServiceURL     string `json:"serviceUrl"`
	BotID          string `json:"botId,omitempty"`
	TenantID       string `json:"tenantId,omitempty"`
}

// ParseConversationReference decodes the stored reference blob. An empty blob
// yields (nil, nil); callers treat that as ReferenceMissing.
func ParseConversationReference(blob string) (*ConversationReference, error) {
	if blob == "" {
		return nil, nil
	}
	var ref ConversationReference
	if err := json.Unmarshal([]byte(blob), &ref); err != nil {
		return nil, err
	}
	return &ref, nil
}

// Encode serializes the reference for storage.
func (r *ConversationReference) Encode() (string, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// HasValidEndpoint reports whether ServiceURL is a well-formed absolute
// HTTP(S) URL.
func (r *ConversationReference) HasValidEndpoint() bool {
	u, err := url.Parse(r.ServiceURL)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// ReferenceValidation is the transient result of validating a mapping's
// conversation reference. Never persisted.
type ReferenceValidation struct {
	Status     ReferenceStatus `json:"status"`
	Reason     string          `json:"reason"`
	HTTPStatus int             `json:"httpStatus"`
}

// CanAttemptSend reports whether an outbound send may be attempted with this
// reference. PossiblyStale is informational and does not block sending.
func (v ReferenceValidation) CanAttemptSend() bool {
	return v.Status == ReferenceValid || v.Status == ReferencePossiblyStale
}
