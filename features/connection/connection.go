package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

const (
	StatusPending   = "pending"
	StatusConnected = "connected"
	StatusError     = "error"
)

var ErrNotFound = errors.New("connection not found")

// Connection binds a remote drive (or a folder within it) to the local
// index. ClientSecret is stored encrypted; it is only ever decrypted through
// a SecretDecrypter at the point of use.
type Connection struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	DriveID      string     `json:"drive_id"`
	FolderID     string     `json:"folder_id"` // empty means drive root
	Recursive    bool       `json:"recursive"`
	TenantID     string     `json:"tenant_id"`
	ClientID     string     `json:"client_id"`
	ClientSecret string     `json:"-"`
	Status       string     `json:"status"`
	StatusReason string     `json:"status_reason,omitempty"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// SecretDecrypter recovers the plaintext credential for a stored connection.
// Encryption at rest lives behind this interface.
type SecretDecrypter interface {
	Decrypt(ciphertext string) (string, error)
}

// AuthProber checks that a connection's credentials can reach the remote API.
type AuthProber interface {
	ValidateAuth(ctx context.Context, conn *Connection) error
}

// VectorCleaner removes all indexed chunks belonging to a connection.
type VectorCleaner interface {
	DeleteByConnection(ctx context.Context, connectionID string) error
}

type Repo interface {
	Save(ctx context.Context, conn *Connection) error
	Get(ctx context.Context, id string) (*Connection, error)
	List(ctx context.Context) ([]Connection, error)
	UpdateStatus(ctx context.Context, id, status, reason string) error
	TouchLastSynced(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}

// SubscriptionTeardown detaches a connection's webhook subscription, local
// and remote, before the connection itself goes away.
type SubscriptionTeardown interface {
	RemoveSubscription(ctx context.Context, connectionID string) error
}

type Service struct {
	repo    Repo
	prober  AuthProber
	vectors VectorCleaner
	subs    SubscriptionTeardown
}

func NewService(repo Repo, prober AuthProber, vectors VectorCleaner, subs SubscriptionTeardown) *Service {
	return &Service{repo: repo, prober: prober, vectors: vectors, subs: subs}
}

// Create stores the connection as pending, then probes the remote API and
// flips it to connected or error depending on the outcome.
func (s *Service) Create(ctx context.Context, conn *Connection) error {
	conn.Status = StatusPending
	if err := s.repo.Save(ctx, conn); err != nil {
		return fmt.Errorf("save connection: %w", err)
	}

	if err := s.prober.ValidateAuth(ctx, conn); err != nil {
		slog.WarnContext(ctx, "connection auth probe failed", "connection_id", conn.ID, "error", err)
		conn.Status = StatusError
		conn.StatusReason = err.Error()
		return s.repo.UpdateStatus(ctx, conn.ID, StatusError, err.Error())
	}

	conn.Status = StatusConnected
	conn.StatusReason = ""
	return s.repo.UpdateStatus(ctx, conn.ID, StatusConnected, "")
}

func (s *Service) Get(ctx context.Context, id string) (*Connection, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]Connection, error) {
	return s.repo.List(ctx)
}

// Delete removes the connection and everything derived from it. Vector
// objects go first; the row delete then cascades over documents, chunks,
// jobs, subscriptions and delta tokens via foreign keys.
func (s *Service) Delete(ctx context.Context, id string) error {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return err
	}
	if s.subs != nil {
		if err := s.subs.RemoveSubscription(ctx, id); err != nil {
			slog.WarnContext(ctx, "subscription teardown failed, continuing delete", "connection_id", id, "error", err)
		}
	}
	if err := s.vectors.DeleteByConnection(ctx, id); err != nil {
		return fmt.Errorf("delete vectors: %w", err)
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete connection: %w", err)
	}
	slog.InfoContext(ctx, "connection deleted", "connection_id", id)
	return nil
}
