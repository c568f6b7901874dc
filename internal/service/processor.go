package service

import (
	"context"
	"crypto/hmac"
	"time"

	apperrors "cobrarelay/internal/errors"
	"cobrarelay/internal/metrics"
	"cobrarelay/internal/models"
	"cobrarelay/internal/tracing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// MappingStore is the slice of the database the processor needs.
type MappingStore interface {
	GetMapping(ctx context.Context, id string) (*models.ChannelMapping, error)
	GetActiveMappingByConversation(ctx context.Context, platform models.Platform, externalGroupID string) (*models.ChannelMapping, error)
	CreateMapping(ctx context.Context, m *models.ChannelMapping) error
	RefreshMappingActivity(ctx context.Context, id, conversationRef, installedBy, groupName string, activityAt time.Time) error
}

// MessageStore persists mirrored messages.
type MessageStore interface {
	InsertExternalMessage(ctx context.Context, msg *models.ChatMessage) (bool, error)
}

// ProcessOutcome says what the processor did with a webhook.
type ProcessOutcome string

const (
	// OutcomeStored - message persisted and notified.
	OutcomeStored ProcessOutcome = "stored"
	// OutcomeDuplicate - redelivery of an already-persisted message.
	OutcomeDuplicate ProcessOutcome = "duplicate"
	// OutcomeDropped - the platform echoed our own bot post back.
	OutcomeDropped ProcessOutcome = "dropped"
	// OutcomeParked - unknown conversation; a new unlinked mapping was parked.
	OutcomeParked ProcessOutcome = "parked"
	// OutcomeRefreshed - control callback (install, roster change); mapping
	// state refreshed, nothing to persist.
	OutcomeRefreshed ProcessOutcome = "refreshed"
	// OutcomeUnlinked - mapping exists but no thread is linked yet; the
	// message has nowhere to land and is acknowledged without persisting.
	OutcomeUnlinked ProcessOutcome = "unlinked"
)

// ProcessResult is the processor's answer for one webhook delivery. Every
// outcome maps to HTTP 200; failures come back as errors instead.
type ProcessResult struct {
	Outcome   ProcessOutcome
	MappingID string
	Message   *models.ChatMessage
}

// WebhookProcessor runs the inbound pipeline: authenticate, parse, dedup,
// refresh mapping state, persist, notify.
type WebhookProcessor struct {
	mappings   MappingStore
	messages   MessageStore
	adapters   *AdapterRegistry
	notifier   Notifier
	systemUser string
	logger     *logrus.Logger
}

func NewWebhookProcessor(mappings MappingStore, messages MessageStore, adapters *AdapterRegistry, notifier Notifier, systemUser string, logger *logrus.Logger) *WebhookProcessor {
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	return &WebhookProcessor{
		mappings:   mappings,
		messages:   messages,
		adapters:   adapters,
		notifier:   notifier,
		systemUser: systemUser,
		logger:     logger,
	}
}

// Process handles one webhook delivery addressed to a mapping.
func (p *WebhookProcessor) Process(ctx context.Context, platform models.Platform, mappingID, secret string, body []byte) (*ProcessResult, error) {
	ctx, span := tracing.WithSpan(ctx, "webhook_process")
	defer span.End()

	mapping, err := p.authenticate(ctx, platform, mappingID, secret)
	if err != nil {
		return nil, err
	}

	adapter, err := p.adapters.Get(platform)
	if err != nil {
		return nil, err
	}

	inbound, err := adapter.ParseInbound(body)
	if err != nil {
		return nil, err
	}

	if inbound.SenderIsBot {
		p.logger.WithFields(logrus.Fields{
			"mapping_id": mapping.ID,
			"platform":   platform,
		}).Debug("Dropping echoed bot message")
		return &ProcessResult{Outcome: OutcomeDropped, MappingID: mapping.ID}, nil
	}

	// A callback can carry a conversation the addressed mapping does not
	// cover, e.g. the bot was added to a second Teams conversation. Route
	// to the mapping that owns the conversation, or park a new one.
	if inbound.ExternalGroupID != "" && inbound.ExternalGroupID != mapping.ExternalGroupID {
		owner, err := p.mappings.GetActiveMappingByConversation(ctx, platform, inbound.ExternalGroupID)
		if err != nil {
			return nil, err
		}
		if owner == nil {
			return p.parkMapping(ctx, platform, adapter, mapping, inbound)
		}
		mapping = owner
	}

	now := time.Now().UTC()
	activityAt := now
	if inbound.Timestamp != nil {
		activityAt = *inbound.Timestamp
	}
	if err := p.mappings.RefreshMappingActivity(ctx, mapping.ID, inbound.ConversationRef, inbound.InstalledBy, inbound.GroupName, activityAt); err != nil {
		return nil, err
	}

	if inbound.ExternalMessageID == "" {
		return &ProcessResult{Outcome: OutcomeRefreshed, MappingID: mapping.ID}, nil
	}

	if !mapping.IsLinked() {
		p.logger.WithFields(logrus.Fields{
			"mapping_id": mapping.ID,
			"platform":   platform,
		}).Info("Message for unlinked mapping acknowledged without persisting")
		return &ProcessResult{Outcome: OutcomeUnlinked, MappingID: mapping.ID}, nil
	}

	msg := &models.ChatMessage{
		ID:                       uuid.New().String(),
		ChatThreadID:             *mapping.ChatThreadID,
		Message:                  inbound.Text,
		CreatedAt:                now,
		CreatedBy:                p.systemUser,
		IsActive:                 true,
		ExternalSource:           platform,
		ExternalMessageID:        inbound.ExternalMessageID,
		ExternalSenderName:       inbound.SenderName,
		ExternalSenderID:         inbound.SenderID,
		ExternalTimestamp:        inbound.Timestamp,
		ExternalAttachmentURL:    inbound.AttachmentURL,
		ExternalChannelMappingID: mapping.ID,
	}

	created, err := p.messages.InsertExternalMessage(ctx, msg)
	if err != nil {
		return nil, err
	}
	if !created {
		metrics.IncrementCounter(metrics.MetricMessagesDuplicate, map[string]string{
			"platform": string(platform),
		}, "Webhook redeliveries suppressed by the dedup key")
		return &ProcessResult{Outcome: OutcomeDuplicate, MappingID: mapping.ID}, nil
	}

	metrics.IncrementCounter(metrics.MetricMessagesStored, map[string]string{
		"platform": string(platform),
	}, "External messages mirrored into chat threads")

	p.notifier.NotifyNewMessage(ctx, msg)

	p.logger.WithFields(logrus.Fields{
		"mapping_id":          mapping.ID,
		"platform":            platform,
		"chat_thread_id":      msg.ChatThreadID,
		"external_message_id": msg.ExternalMessageID,
	}).Info("Mirrored external message")

	return &ProcessResult{Outcome: OutcomeStored, MappingID: mapping.ID, Message: msg}, nil
}

// authenticate resolves the mapping and checks the shared secret. An unknown
// mapping id maps to not-found; every other failure mode collapses into the
// same generic authentication error so the response does not reveal why.
func (p *WebhookProcessor) authenticate(ctx context.Context, platform models.Platform, mappingID, secret string) (*models.ChannelMapping, error) {
	mapping, err := p.mappings.GetMapping(ctx, mappingID)
	if err != nil {
		return nil, err
	}
	if mapping == nil {
		return nil, apperrors.NewNotFoundError("mapping", mappingID)
	}
	if !mapping.IsActive {
		return nil, apperrors.NewAuthenticationError("mapping is deactivated")
	}
	if mapping.Platform != platform {
		return nil, apperrors.NewAuthenticationError("platform mismatch")
	}
	if mapping.WebhookSecret == "" || !hmac.Equal([]byte(mapping.WebhookSecret), []byte(secret)) {
		return nil, apperrors.NewAuthenticationError("secret mismatch")
	}
	return mapping, nil
}

// parkMapping creates an unlinked mapping for a conversation nobody has
// claimed. Parked mappings show up in the management API for an operator to
// link; the triggering message itself is acknowledged and not replayed.
func (p *WebhookProcessor) parkMapping(ctx context.Context, platform models.Platform, adapter PlatformAdapter, via *models.ChannelMapping, inbound *models.InboundMessage) (*ProcessResult, error) {
	parked := &models.ChannelMapping{
		Platform:          platform,
		ExternalGroupID:   inbound.ExternalGroupID,
		ExternalGroupName: inbound.GroupName,
		BotID:             via.BotID,
		WebhookSecret:     via.WebhookSecret,
		ConversationRef:   inbound.ConversationRef,
		TenantID:          inbound.TenantID,
		InstalledByName:   inbound.InstalledBy,
		IsEmulatorOrTest:  inbound.FromEmulator,
		IsActive:          true,
		CreatedBy:         p.systemUser,
	}
	if parked.InstalledByName == "" {
		parked.InstalledByName = inbound.SenderName
	}

	// GroupMe callbacks carry only the group id; fetch the name and share URL
	// so operators can tell parked mappings apart. Best effort: the mapping
	// parks either way.
	if parked.ExternalGroupName == "" {
		if describer, ok := adapter.(GroupDescriber); ok {
			name, shareURL, err := describer.DescribeGroup(ctx, inbound.ExternalGroupID)
			if err != nil {
				p.logger.WithError(err).WithFields(logrus.Fields{
					"platform":          platform,
					"external_group_id": inbound.ExternalGroupID,
				}).Warn("Could not fetch group metadata for parked mapping")
			} else {
				parked.ExternalGroupName = name
				parked.ShareURL = shareURL
			}
		}
	}

	if err := p.mappings.CreateMapping(ctx, parked); err != nil {
		// A concurrent webhook may have parked it first; that is fine.
		if apperrors.IsCode(err, apperrors.ErrCodeConflict) {
			return &ProcessResult{Outcome: OutcomeParked, MappingID: via.ID}, nil
		}
		return nil, err
	}

	metrics.IncrementCounter(metrics.MetricMappingsParked, map[string]string{
		"platform": string(platform),
	}, "Unlinked mappings parked for unknown conversations")

	p.logger.WithFields(logrus.Fields{
		"mapping_id":        parked.ID,
		"platform":          platform,
		"external_group_id": inbound.ExternalGroupID,
	}).Info("Parked unlinked mapping for unknown conversation")

	return &ProcessResult{Outcome: OutcomeParked, MappingID: parked.ID}, nil
}
