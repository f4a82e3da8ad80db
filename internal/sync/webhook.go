package sync

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"docsync/internal/config"
	"docsync/internal/middleware"
)

// Notification is the message published to NSQ for each received change.
type Notification struct {
	SubscriptionID string `json:"subscription_id"`
	ClientState    string `json:"client_state"`
	Resource       string `json:"resource"`
	CorrelationID  string `json:"correlation_id,omitempty"`
}

// Publisher is the NSQ producer surface the webhook needs.
type Publisher interface {
	Publish(topic string, body []byte) error
}

// WebhookHandler terminates the remote store's notification callbacks. The
// endpoint must answer validation handshakes within seconds, so received
// notifications are acknowledged immediately and drained asynchronously.
type WebhookHandler struct {
	publisher Publisher
}

func NewWebhookHandler(publisher Publisher) *WebhookHandler {
	return &WebhookHandler{publisher: publisher}
}

func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	// Subscription validation handshake: echo the token back verbatim.
	if token := r.URL.Query().Get("validationToken"); token != "" {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(token)); err != nil {
			slog.Error("failed to write validation token", "error", err)
		}
		return
	}

	var payload struct {
		Value []struct {
			SubscriptionID string `json:"subscriptionId"`
			ClientState    string `json:"clientState"`
			Resource       string `json:"resource"`
		} `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		slog.WarnContext(r.Context(), "malformed notification body", "error", err)
		// Still 202: the remote retries aggressively on anything else.
		w.WriteHeader(http.StatusAccepted)
		return
	}

	correlationID := middleware.GetCorrelationID(r.Context())
	for _, n := range payload.Value {
		body, err := json.Marshal(Notification{
			SubscriptionID: n.SubscriptionID,
			ClientState:    n.ClientState,
			Resource:       n.Resource,
			CorrelationID:  correlationID,
		})
		if err != nil {
			slog.ErrorContext(r.Context(), "failed to marshal notification", "error", err)
			continue
		}
		if err := h.publisher.Publish(config.TopicSyncNotification, body); err != nil {
			slog.ErrorContext(r.Context(), "failed to publish notification", "error", err,
				"subscription_id", n.SubscriptionID)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
	}

	slog.InfoContext(r.Context(), "notifications accepted", "count", len(payload.Value))
	w.WriteHeader(http.StatusAccepted)
}
