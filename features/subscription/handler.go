package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"docsync/internal/middleware"
)

// Registrar manages the remote side of a subscription; the sync manager
// implements it.
type Registrar interface {
	EnsureSubscription(ctx context.Context, connectionID string) (*Subscription, error)
	RemoveSubscription(ctx context.Context, connectionID string) error
}

type Lister interface {
	List(ctx context.Context) ([]Subscription, error)
}

type Handler struct {
	registrar Registrar
	lister    Lister
}

func NewHandler(registrar Registrar, lister Lister) *Handler {
	return &Handler{registrar: registrar, lister: lister}
}

// Create registers a change subscription for the connection in the path.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	connectionID := r.PathValue("id")

	sub, err := h.registrar.EnsureSubscription(r.Context(), connectionID)
	if err != nil {
		slog.Error("failed to register subscription", "error", err, "connection_id", connectionID)
		h.writeError(r.Context(), w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": sub}); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	connectionID := r.PathValue("id")
	if err := h.registrar.RemoveSubscription(r.Context(), connectionID); err != nil {
		if errors.Is(err, ErrNotFound) {
			h.writeError(r.Context(), w, "NOT_FOUND", "Subscription not found", http.StatusNotFound)
			return
		}
		h.writeError(r.Context(), w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	subs, err := h.lister.List(r.Context())
	if err != nil {
		h.writeError(r.Context(), w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}
	if subs == nil {
		subs = []Subscription{}
	}

	w.Header().Set("Content-Type", "application/json")
	resp := map[string]interface{}{
		"data": subs,
		"meta": map[string]int{"count": len(subs)},
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
