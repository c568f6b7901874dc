package models

// ChannelResult is the per-channel outcome of a broadcast.
type ChannelResult string

const (
	ChannelSent    ChannelResult = "sent"
	ChannelSkipped ChannelResult = "skipped-invalid-reference"
	ChannelFailed  ChannelResult = "failed"
)

// ChannelOutcome reports what happened on one external channel during a
// broadcast. Broadcasts are best-effort: one failed channel never rolls back
// or blocks the others, so callers get the full list and decide whether
// partial delivery is acceptable.
type ChannelOutcome struct {
	MappingID         string          `json:"mappingId"`
	Platform          Platform        `json:"platform"`
	ExternalGroupName string          `json:"externalGroupName,omitempty"`
	Result            ChannelResult   `json:"result"`
	ExternalMessageID string          `json:"externalMessageId,omitempty"`
	Reference         ReferenceStatus `json:"referenceStatus,omitempty"`
	Error             string          `json:"error,omitempty"`
	Deactivated       bool            `json:"deactivated,omitempty"`
}
