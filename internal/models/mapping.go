package models

import "time"

// Platform identifies an external chat platform.
type Platform string

const (
	PlatformGroupMe Platform = "groupme"
	PlatformTeams   Platform = "teams"
	// Reserved, no adapter yet.
	PlatformSignal Platform = "signal"
	PlatformSlack  Platform = "slack"
)

// IsValid reports whether p is a known platform value.
func (p Platform) IsValid() bool {
	switch p {
	case PlatformGroupMe, PlatformTeams, PlatformSignal, PlatformSlack:
		return true
	}
	return false
}

// IsImplemented reports whether an adapter exists for p.
func (p Platform) IsImplemented() bool {
	return p == PlatformGroupMe || p == PlatformTeams
}

// ChannelMapping links one COBRA chat thread/event to one external platform
// conversation. EventID and ChatThreadID stay empty until a user links the
// mapping; a bot install callback parks an unlinked mapping first.
type ChannelMapping struct {
	ID                string     `json:"id"`
	EventID           *string    `json:"eventId,omitempty"`
	ChatThreadID      *string    `json:"chatThreadId,omitempty"`
	Platform          Platform   `json:"platform"`
	ExternalGroupID   string     `json:"externalGroupId"`
	ExternalGroupName string     `json:"externalGroupName"`
	ShareURL          string     `json:"shareUrl,omitempty"`
	BotID             string     `json:"botId,omitempty"`
	WebhookSecret     string     `json:"-"`
	ConversationRef   string     `json:"-"`
	TenantID          string     `json:"tenantId,omitempty"`
	InstalledByName   string     `json:"installedByName,omitempty"`
	IsEmulatorOrTest  bool       `json:"isEmulatorOrTest"`
	LastActivityAt    *time.Time `json:"lastActivityAt,omitempty"`
	IsActive          bool       `json:"isActive"`
	CreatedAt         time.Time  `json:"createdAt"`
	CreatedBy         string     `json:"createdBy,omitempty"`
	UpdatedAt         time.Time  `json:"updatedAt"`
	UpdatedBy         string     `json:"updatedBy,omitempty"`
}

// IsLinked reports whether the mapping has been connected to a COBRA thread.
func (m *ChannelMapping) IsLinked() bool {
	return m.ChatThreadID != nil && *m.ChatThreadID != ""
}

// MappingFilter narrows administrative mapping listings.
type MappingFilter struct {
	Platform    Platform
	ActiveOnly  bool
	IdleSince   *time.Time // mappings with no activity after this instant
	EventID     string
	IncludeTest bool
}
