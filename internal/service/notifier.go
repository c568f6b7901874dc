package service

import (
	"context"

	"cobrarelay/internal/models"
)

// Notifier is the real-time sink new external messages are pushed to after
// they are persisted. Delivery is at-least-once and decoupled from webhook
// success: a notification failure never fails the webhook.
type Notifier interface {
	NotifyNewMessage(ctx context.Context, msg *models.ChatMessage)
}

// NoopNotifier discards notifications. Used when the websocket hub is
// disabled and in tests that do not care about fan-out.
type NoopNotifier struct{}

func (NoopNotifier) NotifyNewMessage(context.Context, *models.ChatMessage) {}
