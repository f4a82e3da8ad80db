package sync

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/nsqio/go-nsq"

	"docsync/internal/middleware"
)

// ChangeHandler applies one notification's changes.
type ChangeHandler interface {
	HandleChange(ctx context.Context, remoteSubscriptionID, clientState string) error
}

// NotificationConsumer drains queued change notifications. Returning an
// error requeues the message; malformed messages are dropped.
type NotificationConsumer struct {
	handler ChangeHandler
}

func NewNotificationConsumer(handler ChangeHandler) *NotificationConsumer {
	return &NotificationConsumer{handler: handler}
}

func (c *NotificationConsumer) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	var n Notification
	if err := json.Unmarshal(m.Body, &n); err != nil {
		slog.Error("invalid notification message, dropping", "error", err)
		return nil
	}

	correlationID := n.CorrelationID
	if correlationID == "" {
		correlationID = uuid.New().String()
	}
	ctx := middleware.WithCorrelationID(context.Background(), correlationID)

	if n.SubscriptionID == "" {
		slog.ErrorContext(ctx, "notification missing subscription id, dropping")
		return nil
	}

	if err := c.handler.HandleChange(ctx, n.SubscriptionID, n.ClientState); err != nil {
		slog.ErrorContext(ctx, "change handling failed, will retry", "subscription_id", n.SubscriptionID, "error", err)
		return err
	}
	return nil
}
