package service

import (
	"context"
	"sync"
	"time"

	"cobrarelay/internal/metrics"
	"cobrarelay/internal/models"
	"cobrarelay/internal/tracing"

	"github.com/sirupsen/logrus"
)

// BroadcastStore is the slice of the database the broadcaster needs.
type BroadcastStore interface {
	GetActiveMappingsByThread(ctx context.Context, chatThreadID string) ([]*models.ChannelMapping, error)
	GetActiveMappingsByEvent(ctx context.Context, eventID string) ([]*models.ChannelMapping, error)
	DeactivateMapping(ctx context.Context, id, actor string) error
}

// Broadcaster fans an outbound message out to every mapped external channel.
// Dispatch is best-effort: each channel yields its own outcome and no failure
// aborts the batch.
type Broadcaster struct {
	store       BroadcastStore
	adapters    *AdapterRegistry
	validator   *ReferenceValidator
	parallelism int
	sendTimeout time.Duration
	systemUser  string
	logger      *logrus.Logger
}

func NewBroadcaster(store BroadcastStore, adapters *AdapterRegistry, validator *ReferenceValidator, cfg models.RelayConfig, logger *logrus.Logger) *Broadcaster {
	parallelism := cfg.BroadcastParallelism
	if parallelism <= 0 {
		parallelism = 1
	}
	timeout := time.Duration(cfg.AdapterTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Broadcaster{
		store:       store,
		adapters:    adapters,
		validator:   validator,
		parallelism: parallelism,
		sendTimeout: timeout,
		systemUser:  cfg.SystemUserName,
		logger:      logger,
	}
}

// SendToThread relays a thread message to every channel mapped to the thread.
// The sender name is prefixed so external readers see who wrote the message.
func (b *Broadcaster) SendToThread(ctx context.Context, chatThreadID, sender, text string) ([]models.ChannelOutcome, error) {
	ctx, span := tracing.WithSpan(ctx, "broadcast_thread")
	defer span.End()

	mappings, err := b.store.GetActiveMappingsByThread(ctx, chatThreadID)
	if err != nil {
		return nil, err
	}
	return b.dispatch(ctx, mappings, sender, text), nil
}

// BroadcastAnnouncement relays an announcement to every channel mapped to any
// thread of the event.
func (b *Broadcaster) BroadcastAnnouncement(ctx context.Context, eventID, sender, text string) ([]models.ChannelOutcome, error) {
	ctx, span := tracing.WithSpan(ctx, "broadcast_announcement")
	defer span.End()

	mappings, err := b.store.GetActiveMappingsByEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	return b.dispatch(ctx, mappings, sender, text), nil
}

// dispatch sends to every mapping with bounded concurrency and returns one
// outcome per mapping, in mapping order.
func (b *Broadcaster) dispatch(ctx context.Context, mappings []*models.ChannelMapping, sender, text string) []models.ChannelOutcome {
	outcomes := make([]models.ChannelOutcome, len(mappings))
	sem := make(chan struct{}, b.parallelism)
	var wg sync.WaitGroup

	// When the batch spans more than one thread the recipients cannot tell
	// which channel a message came from; add the thread as context.
	threads := make(map[string]struct{})
	for _, mapping := range mappings {
		if mapping.ChatThreadID != nil {
			threads[*mapping.ChatThreadID] = struct{}{}
		}
	}
	ambiguous := len(threads) > 1

	started := time.Now()
	for i, mapping := range mappings {
		wg.Add(1)
		go func(i int, mapping *models.ChannelMapping) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			outcomes[i] = b.sendOne(ctx, mapping, b.outboundText(mapping, sender, text, ambiguous))
		}(i, mapping)
	}
	wg.Wait()

	metrics.RecordTimer(metrics.MetricBroadcastDuration, time.Since(started), nil)
	return outcomes
}

// outboundText carries sender attribution onto the platform, where messages
// arrive under the bot's identity.
func (b *Broadcaster) outboundText(mapping *models.ChannelMapping, sender, text string, ambiguous bool) string {
	if sender == "" {
		sender = b.systemUser
	}
	prefixed := "[" + sender + "] " + text
	if ambiguous && mapping.ChatThreadID != nil && *mapping.ChatThreadID != "" {
		prefixed = "[" + *mapping.ChatThreadID + "] " + prefixed
	}
	return prefixed
}

func (b *Broadcaster) sendOne(ctx context.Context, mapping *models.ChannelMapping, text string) models.ChannelOutcome {
	outcome := models.ChannelOutcome{
		MappingID:         mapping.ID,
		Platform:          mapping.Platform,
		ExternalGroupName: mapping.ExternalGroupName,
	}

	validation := b.validator.Validate(mapping)
	outcome.Reference = validation.Status
	if !validation.CanAttemptSend() {
		outcome.Result = models.ChannelSkipped
		outcome.Error = validation.Reason
		metrics.IncrementCounter(metrics.MetricBroadcastsSkipped, map[string]string{
			"platform": string(mapping.Platform),
			"status":   string(validation.Status),
		}, "Channels skipped for unusable references")
		b.logger.WithFields(logrus.Fields{
			"mapping_id": mapping.ID,
			"platform":   mapping.Platform,
			"status":     validation.Status,
		}).Warn("Skipping channel with unusable reference")
		return outcome
	}

	adapter, err := b.adapters.Get(mapping.Platform)
	if err != nil {
		outcome.Result = models.ChannelFailed
		outcome.Error = err.Error()
		return outcome
	}

	ref, _ := models.ParseConversationReference(mapping.ConversationRef)

	sendCtx, cancel := context.WithTimeout(ctx, b.sendTimeout)
	defer cancel()

	sendStarted := time.Now()
	externalID, err := adapter.SendMessage(sendCtx, mapping, ref, text)
	metrics.RecordTimer(metrics.MetricAdapterSendLatency, time.Since(sendStarted), map[string]string{
		"platform": string(mapping.Platform),
	})

	if err != nil {
		outcome.Result = models.ChannelFailed
		outcome.Error = err.Error()
		metrics.IncrementCounter(metrics.MetricBroadcastsFailed, map[string]string{
			"platform": string(mapping.Platform),
		}, "Channel delivery failures")

		if b.validator.IsExpiredFailure(err) {
			outcome.Reference = models.ReferenceExpired
			b.deactivateExpired(ctx, mapping, &outcome)
		} else {
			b.logger.WithError(err).WithFields(logrus.Fields{
				"mapping_id": mapping.ID,
				"platform":   mapping.Platform,
			}).Error("Channel delivery failed")
		}
		return outcome
	}

	outcome.Result = models.ChannelSent
	outcome.ExternalMessageID = externalID
	metrics.IncrementCounter(metrics.MetricBroadcastsSent, map[string]string{
		"platform": string(mapping.Platform),
	}, "Channels delivered")
	return outcome
}

// deactivateExpired retires a mapping whose conversation is gone. Failure to
// deactivate is logged and the broadcast outcome still reports the expiry;
// the next broadcast will simply classify it again.
func (b *Broadcaster) deactivateExpired(ctx context.Context, mapping *models.ChannelMapping, outcome *models.ChannelOutcome) {
	if err := b.store.DeactivateMapping(ctx, mapping.ID, b.systemUser); err != nil {
		b.logger.WithError(err).WithField("mapping_id", mapping.ID).Error("Failed to deactivate expired mapping")
		return
	}

	outcome.Deactivated = true
	metrics.IncrementCounter(metrics.MetricMappingsExpired, map[string]string{
		"platform": string(mapping.Platform),
	}, "Mappings deactivated after expired-reference failures")

	b.logger.WithFields(logrus.Fields{
		"mapping_id": mapping.ID,
		"platform":   mapping.Platform,
	}).Warn("Deactivated mapping after expired-reference delivery failure")
}
