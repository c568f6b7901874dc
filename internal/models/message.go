package models

import "time"

// ChatMessage is a single message in a COBRA chat thread, either native or
// mirrored from an external platform. External-origin fields are empty for
// native messages.
type ChatMessage struct {
	ID           string    `json:"id"`
	ChatThreadID string    `json:"chatThreadId"`
	Message      string    `json:"message"`
	CreatedAt    time.Time `json:"createdAt"`
	CreatedBy    string    `json:"createdBy"`
	IsActive     bool      `json:"isActive"`

	ExternalSource           Platform   `json:"externalSource,omitempty"`
	ExternalMessageID        string     `json:"externalMessageId,omitempty"`
	ExternalSenderName       string     `json:"externalSenderName,omitempty"`
	ExternalSenderID         string     `json:"externalSenderId,omitempty"`
	ExternalTimestamp        *time.Time `json:"externalTimestamp,omitempty"`
	ExternalAttachmentURL    string     `json:"externalAttachmentUrl,omitempty"`
	ExternalChannelMappingID string     `json:"externalChannelMappingId,omitempty"`

	// Promotion markers link a message to a derived logbook entry. One-way;
	// the message body is never altered.
	LogbookEntryID string     `json:"logbookEntryId,omitempty"`
	PromotedAt     *time.Time `json:"promotedAt,omitempty"`
	PromotedBy     string     `json:"promotedBy,omitempty"`
}

// IsExternal reports whether the message was mirrored from an external platform.
func (m *ChatMessage) IsExternal() bool {
	return m.ExternalMessageID != ""
}

// InboundMessage is the platform-neutral result of parsing a webhook callback.
// Adapters produce it; the processor never sees raw platform payloads.
type InboundMessage struct {
	ExternalGroupID   string
	ExternalMessageID string
	SenderName        string
	SenderID          string
	Text              string
	AttachmentURL     string
	Timestamp         *time.Time
	// SenderIsBot marks echoes of our own outbound posts; the processor
	// drops them instead of mirroring them back.
	SenderIsBot bool
	// ConversationRef carries refreshed addressing data when the platform
	// includes it in the callback (Teams does, GroupMe does not).
	ConversationRef string
	GroupName       string
	InstalledBy     string
	TenantID        string
	// FromEmulator marks tool traffic (Bot Framework Emulator) so mappings
	// parked for it can be filtered out of real listings.
	FromEmulator bool
}
