package service

import (
	"context"
	"fmt"
	"time"

	apperrors "cobrarelay/internal/errors"
	"cobrarelay/internal/models"
	"cobrarelay/pkg/groupme"
	"cobrarelay/pkg/teams"

	"github.com/sirupsen/logrus"
)

// PlatformAdapter is the uniform contract every external platform implements.
// SendMessage posts text through the mapping's conversation reference and
// returns the platform message id when the platform reports one. ParseInbound
// turns a raw webhook body into the platform-neutral InboundMessage.
type PlatformAdapter interface {
	SendMessage(ctx context.Context, mapping *models.ChannelMapping, ref *models.ConversationReference, text string) (string, error)
	ParseInbound(raw []byte) (*models.InboundMessage, error)
}

// GroupDescriber is an optional adapter capability for platforms whose
// callbacks omit group metadata. The processor uses it to name mappings it
// parks for unknown conversations.
type GroupDescriber interface {
	DescribeGroup(ctx context.Context, externalGroupID string) (name, shareURL string, err error)
}

// AdapterRegistry resolves adapters by platform.
type AdapterRegistry struct {
	adapters map[models.Platform]PlatformAdapter
}

func NewAdapterRegistry() *AdapterRegistry {
	return &AdapterRegistry{adapters: make(map[models.Platform]PlatformAdapter)}
}

func (r *AdapterRegistry) Register(platform models.Platform, adapter PlatformAdapter) {
	r.adapters[platform] = adapter
}

// Get returns the adapter for a platform. Known-but-unimplemented platforms
// and unknown strings both come back as errors; callers map them to HTTP 400.
func (r *AdapterRegistry) Get(platform models.Platform) (PlatformAdapter, error) {
	adapter, ok := r.adapters[platform]
	if !ok {
		return nil, apperrors.New(apperrors.ErrCodeInvalidInput, fmt.Sprintf("no adapter registered for platform %q", platform))
	}
	return adapter, nil
}

// Platforms lists the registered platforms.
func (r *AdapterRegistry) Platforms() []models.Platform {
	platforms := make([]models.Platform, 0, len(r.adapters))
	for p := range r.adapters {
		platforms = append(platforms, p)
	}
	return platforms
}

type groupmeAdapter struct {
	client groupme.Client
	logger *logrus.Logger
}

// NewGroupMeAdapter wraps the GroupMe bot API as a PlatformAdapter.
func NewGroupMeAdapter(client groupme.Client, logger *logrus.Logger) PlatformAdapter {
	return &groupmeAdapter{client: client, logger: logger}
}

func (a *groupmeAdapter) SendMessage(ctx context.Context, mapping *models.ChannelMapping, ref *models.ConversationReference, text string) (string, error) {
	botID := mapping.BotID
	if ref != nil && ref.BotID != "" {
		botID = ref.BotID
	}
	if botID == "" {
		return "", apperrors.NewReferenceInvalidError(string(models.ReferenceInvalid), "mapping has no bot id")
	}

	if err := a.client.PostBotMessage(ctx, botID, text); err != nil {
		return "", deliveryError(models.PlatformGroupMe, err)
	}

	// The bot post endpoint returns no message id.
	return "", nil
}

func (a *groupmeAdapter) ParseInbound(raw []byte) (*models.InboundMessage, error) {
	callback, err := a.client.ParseCallback(raw)
	if err != nil {
		return nil, apperrors.NewMalformedPayloadError(string(models.PlatformGroupMe), err)
	}

	msg := &models.InboundMessage{
		ExternalGroupID:   callback.GroupID,
		ExternalMessageID: callback.ID,
		SenderName:        callback.Name,
		SenderID:          callback.SenderID,
		Text:              callback.Text,
		AttachmentURL:     callback.ImageURL(),
		SenderIsBot:       callback.FromBot() || callback.System,
	}
	if callback.CreatedAt > 0 {
		ts := time.Unix(callback.CreatedAt, 0).UTC()
		msg.Timestamp = &ts
	}
	return msg, nil
}

// DescribeGroup looks up group metadata GroupMe callbacks do not carry.
func (a *groupmeAdapter) DescribeGroup(ctx context.Context, externalGroupID string) (string, string, error) {
	group, err := a.client.GetGroup(ctx, externalGroupID)
	if err != nil {
		return "", "", deliveryError(models.PlatformGroupMe, err)
	}
	return group.Name, group.ShareURL, nil
}

type teamsAdapter struct {
	client teams.Client
	logger *logrus.Logger
}

// NewTeamsAdapter wraps Bot Framework proactive messaging as a PlatformAdapter.
func NewTeamsAdapter(client teams.Client, logger *logrus.Logger) PlatformAdapter {
	return &teamsAdapter{client: client, logger: logger}
}

func (a *teamsAdapter) SendMessage(ctx context.Context, mapping *models.ChannelMapping, ref *models.ConversationReference, text string) (string, error) {
	if ref == nil || ref.ServiceURL == "" || ref.ConversationID == "" {
		return "", apperrors.NewReferenceInvalidError(string(models.ReferenceMissing), "mapping has no conversation reference")
	}

	activityID, err := a.client.SendActivity(ctx, ref.ServiceURL, ref.ConversationID, text)
	if err != nil {
		return "", deliveryError(models.PlatformTeams, err)
	}
	return activityID, nil
}

func (a *teamsAdapter) ParseInbound(raw []byte) (*models.InboundMessage, error) {
	activity, err := a.client.ParseActivity(raw)
	if err != nil {
		return nil, apperrors.NewMalformedPayloadError(string(models.PlatformTeams), err)
	}

	switch activity.Type {
	case teams.ActivityTypeMessage:
		return a.messageFromActivity(activity), nil
	case teams.ActivityTypeConversationUpdate, teams.ActivityTypeInstallationUpdate:
		// Install and roster callbacks carry no message; the processor uses
		// them to refresh the mapping and record who installed the bot.
		return a.controlFromActivity(activity), nil
	default:
		return nil, apperrors.NewMalformedPayloadError(string(models.PlatformTeams),
			fmt.Errorf("unsupported activity type %q", activity.Type))
	}
}

func (a *teamsAdapter) messageFromActivity(activity *teams.Activity) *models.InboundMessage {
	msg := &models.InboundMessage{
		ExternalGroupID:   activity.Conversation.ID,
		ExternalMessageID: activity.ID,
		SenderName:        activity.From.Name,
		SenderID:          activity.From.ID,
		Text:              activity.Text,
		AttachmentURL:     activity.AttachmentURL(),
		Timestamp:         activity.Timestamp,
		SenderIsBot:       activity.FromSelf(),
		ConversationRef:   a.encodeReference(activity),
		GroupName:         a.groupName(activity),
		TenantID:          activity.TenantID(),
		FromEmulator:      activity.FromEmulator(),
	}
	return msg
}

func (a *teamsAdapter) controlFromActivity(activity *teams.Activity) *models.InboundMessage {
	msg := &models.InboundMessage{
		SenderName:      activity.From.Name,
		SenderID:        activity.From.ID,
		ConversationRef: a.encodeReference(activity),
		GroupName:       a.groupName(activity),
		InstalledBy:     activity.From.Name,
		TenantID:        activity.TenantID(),
		FromEmulator:    activity.FromEmulator(),
	}
	if activity.Conversation != nil {
		msg.ExternalGroupID = activity.Conversation.ID
	}
	return msg
}

func (a *teamsAdapter) encodeReference(activity *teams.Activity) string {
	if activity.ServiceURL == "" || activity.Conversation == nil {
		return ""
	}
	ref := models.ConversationReference{
		ConversationID: activity.Conversation.ID,
		ServiceURL:     activity.ServiceURL,
		BotID:          activity.Recipient.ID,
		TenantID:       activity.TenantID(),
	}
	encoded, err := ref.Encode()
	if err != nil {
		a.logger.WithError(err).Warn("Failed to encode conversation reference from activity")
		return ""
	}
	return encoded
}

func (a *teamsAdapter) groupName(activity *teams.Activity) string {
	if name := activity.TeamName(); name != "" {
		return name
	}
	if activity.Conversation != nil {
		return activity.Conversation.Name
	}
	return ""
}

// deliveryError normalizes platform client failures, preserving the HTTP
// status when the platform returned one.
func deliveryError(platform models.Platform, err error) error {
	switch e := err.(type) {
	case *groupme.APIError:
		return apperrors.NewDeliveryError(string(platform), e.StatusCode, err)
	case *teams.APIError:
		return apperrors.NewDeliveryError(string(platform), e.StatusCode, err)
	default:
		return apperrors.NewDeliveryError(string(platform), 0, err)
	}
}
