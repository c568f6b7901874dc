package teams

import (
	"fmt"
	"time"
)

// Activity types the relay handles.
const (
	ActivityTypeMessage            = "message"
	ActivityTypeConversationUpdate = "conversationUpdate"
	ActivityTypeInstallationUpdate = "installationUpdate"
)

// ChannelIDEmulator marks traffic from the Bot Framework Emulator.
const ChannelIDEmulator = "emulator"

// ChannelAccount identifies a user or bot in an activity.
type ChannelAccount struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ConversationAccount identifies the conversation an activity belongs to.
type ConversationAccount struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	TenantID string `json:"tenantId,omitempty"`
	IsGroup  bool   `json:"isGroup,omitempty"`
}

// ChannelData carries Teams-specific payload extensions.
type ChannelData struct {
	Tenant  *TenantInfo  `json:"tenant,omitempty"`
	Team    *ChannelInfo `json:"team,omitempty"`
	Channel *ChannelInfo `json:"channel,omitempty"`
}

type TenantInfo struct {
	ID string `json:"id"`
}

type ChannelInfo struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Attachment is a single attachment on an activity.
type Attachment struct {
	ContentType string `json:"contentType"`
	ContentURL  string `json:"contentUrl,omitempty"`
	Name        string `json:"name,omitempty"`
}

// Activity is the Bot Framework activity envelope, reduced to the fields the
// relay reads and writes.
type Activity struct {
	Type         string               `json:"type"`
	ID           string               `json:"id,omitempty"`
	Timestamp    *time.Time           `json:"timestamp,omitempty"`
	ServiceURL   string               `json:"serviceUrl,omitempty"`
	ChannelID    string               `json:"channelId,omitempty"`
	From         ChannelAccount       `json:"from"`
	Recipient    ChannelAccount       `json:"recipient,omitempty"`
	Conversation *ConversationAccount `json:"conversation,omitempty"`
	Text         string               `json:"text,omitempty"`
	ChannelData  *ChannelData         `json:"channelData,omitempty"`
	Attachments  []Attachment         `json:"attachments,omitempty"`
}

// TenantID returns the tenant from channelData, falling back to the
// conversation account.
func (a *Activity) TenantID() string {
	if a.ChannelData != nil && a.ChannelData.Tenant != nil && a.ChannelData.Tenant.ID != "" {
		return a.ChannelData.Tenant.ID
	}
	if a.Conversation != nil {
		return a.Conversation.TenantID
	}
	return ""
}

// TeamName returns the team display name when present.
func (a *Activity) TeamName() string {
	if a.ChannelData != nil && a.ChannelData.Team != nil {
		return a.ChannelData.Team.Name
	}
	return ""
}

// AttachmentURL returns the first attachment content URL, if any.
func (a *Activity) AttachmentURL() string {
	for _, att := range a.Attachments {
		if att.ContentURL != "" {
			return att.ContentURL
		}
	}
	return ""
}

// FromEmulator reports whether the activity came from the Bot Framework
// Emulator rather than a real Teams channel.
func (a *Activity) FromEmulator() bool {
	return a.ChannelID == ChannelIDEmulator
}

// FromSelf reports whether the activity was authored by the receiving bot,
// which happens when our own proactive posts echo back.
func (a *Activity) FromSelf() bool {
	return a.Recipient.ID != "" && a.From.ID == a.Recipient.ID
}

// tokenResponse is the client-credentials grant response.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// sendResponse is the body returned when an activity is created.
type sendResponse struct {
	ID string `json:"id"`
}

// APIError is returned for non-2xx Bot Framework responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("teams API error: status %d, body: %s", e.StatusCode, e.Body)
}
