package groupme

import "fmt"

// SenderType values GroupMe uses in callback payloads.
const (
	SenderTypeUser   = "user"
	SenderTypeBot    = "bot"
	SenderTypeSystem = "system"
)

// Attachment is a single attachment on a GroupMe message.
type Attachment struct {
	Type string `json:"type"`
	URL  string `json:"url,omitempty"`
}

// CallbackMessage is the payload GroupMe POSTs to a bot's callback URL for
// every message in the group.
type CallbackMessage struct {
	ID          string       `json:"id"`
	SourceGUID  string       `json:"source_guid"`
	GroupID     string       `json:"group_id"`
	Name        string       `json:"name"`
	SenderID    string       `json:"sender_id"`
	SenderType  string       `json:"sender_type"`
	UserID      string       `json:"user_id"`
	Text        string       `json:"text"`
	System      bool         `json:"system"`
	CreatedAt   int64        `json:"created_at"`
	AvatarURL   string       `json:"avatar_url"`
	Attachments []Attachment `json:"attachments"`
}

// ImageURL returns the first image attachment URL, if any.
func (m *CallbackMessage) ImageURL() string {
	for _, a := range m.Attachments {
		if a.Type == "image" && a.URL != "" {
			return a.URL
		}
	}
	return ""
}

// FromBot reports whether the message was posted by a bot. Bot posts include
// our own relayed messages echoed back through the callback.
func (m *CallbackMessage) FromBot() bool {
	return m.SenderType == SenderTypeBot
}

// botPostRequest is the body for the bot post endpoint.
type botPostRequest struct {
	BotID string `json:"bot_id"`
	Text  string `json:"text"`
}

// Group is the subset of the GroupMe group object the relay cares about.
type Group struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ShareURL string `json:"share_url"`
}

type groupEnvelope struct {
	Response Group `json:"response"`
}

// APIError is returned for non-2xx GroupMe API responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("groupme API error: status %d, body: %s", e.StatusCode, e.Body)
}
