package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"docsync/features/connection"
	"docsync/features/importjob"
	"docsync/features/subscription"
	"docsync/internal/graph"
	"docsync/internal/ingest"
)

// DeltaSource is the change-tracking surface of the remote API for one
// connection's credentials.
type DeltaSource interface {
	GetDelta(ctx context.Context, driveID, token string) (*graph.DeltaPage, error)
	CreateSubscription(ctx context.Context, resource, notificationURL, clientState string, expiration time.Time) (*graph.Subscription, error)
	RenewSubscription(ctx context.Context, subscriptionID string, expiration time.Time) (*graph.Subscription, error)
	DeleteSubscription(ctx context.Context, subscriptionID string) error
}

// SourceFactory builds a DeltaSource authenticated for the given connection.
type SourceFactory func(ctx context.Context, conn *connection.Connection) (DeltaSource, error)

// Ingestor is the per-file pipeline the sync loop feeds.
type Ingestor interface {
	Process(ctx context.Context, connectionID string, file *graph.File) (ingest.Result, error)
	Remove(ctx context.Context, connectionID, itemID string) error
}

// Resync triggers a full crawl when incremental sync cannot continue.
type Resync interface {
	Start(ctx context.Context, connectionID string, opts importjob.Options) (*importjob.ImportJob, error)
}

type Connections interface {
	Get(ctx context.Context, id string) (*connection.Connection, error)
	TouchLastSynced(ctx context.Context, id string) error
}

type Subscriptions interface {
	Save(ctx context.Context, sub *subscription.Subscription) error
	GetByRemoteID(ctx context.Context, remoteID string) (*subscription.Subscription, error)
	GetByConnection(ctx context.Context, connectionID string) (*subscription.Subscription, error)
	ListExpiring(ctx context.Context, before time.Time) ([]subscription.Subscription, error)
	UpdateExpiry(ctx context.Context, id string, expiresAt time.Time) error
	UpdateStatus(ctx context.Context, id, status string) error
	RecordNotification(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}

type Tokens interface {
	Get(ctx context.Context, connectionID string) (string, error)
	Save(ctx context.Context, connectionID, resource, token string) error
	Reset(ctx context.Context, connectionID string) error
}

// Options carry the subscription parameters the manager needs.
type Options struct {
	NotificationURL string
	Secret          string
	Lifetime        time.Duration
	RenewalLead     time.Duration
}

// Manager keeps the index consistent with the remote store: it owns webhook
// subscriptions, drains delta queries, and falls back to a full re-crawl
// when a delta token expires.
type Manager struct {
	conns     Connections
	subs      Subscriptions
	tokens    Tokens
	newSource SourceFactory
	worker    Ingestor
	resync    Resync
	opts      Options

	dropped atomic.Int64
}

func NewManager(conns Connections, subs Subscriptions, tokens Tokens, newSource SourceFactory, worker Ingestor, resync Resync, opts Options) *Manager {
	if opts.Lifetime <= 0 {
		opts.Lifetime = 4230 * time.Hour
	}
	if opts.RenewalLead <= 0 {
		opts.RenewalLead = 48 * time.Hour
	}
	return &Manager{
		conns:     conns,
		subs:      subs,
		tokens:    tokens,
		newSource: newSource,
		worker:    worker,
		resync:    resync,
		opts:      opts,
	}
}

// DroppedNotifications reports how many notifications were rejected for a
// client-state mismatch.
func (m *Manager) DroppedNotifications() int64 {
	return m.dropped.Load()
}

func resourceFor(conn *connection.Connection) string {
	return "/drives/" + conn.DriveID + "/root"
}

// EnsureSubscription registers (or refreshes) the change subscription for a
// connection's watched resource.
func (m *Manager) EnsureSubscription(ctx context.Context, connectionID string) (*subscription.Subscription, error) {
	conn, err := m.conns.Get(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	source, err := m.newSource(ctx, conn)
	if err != nil {
		return nil, err
	}

	resource := resourceFor(conn)
	clientState := subscription.ClientState(conn.ID, m.opts.Secret)
	expiration := time.Now().UTC().Add(m.opts.Lifetime)

	remote, err := source.CreateSubscription(ctx, resource, m.opts.NotificationURL, clientState, expiration)
	if err != nil {
		return nil, fmt.Errorf("create subscription: %w", err)
	}

	sub := &subscription.Subscription{
		ConnectionID: conn.ID,
		RemoteID:     remote.ID,
		Resource:     resource,
		ClientState:  clientState,
		Status:       subscription.StatusActive,
		ExpiresAt:    remote.Expiration,
	}
	if err := m.subs.Save(ctx, sub); err != nil {
		return nil, fmt.Errorf("save subscription: %w", err)
	}
	slog.InfoContext(ctx, "subscription registered", "connection_id", conn.ID, "remote_id", remote.ID, "expires_at", remote.Expiration)
	return sub, nil
}

// RemoveSubscription tears down the remote subscription and its local row.
// A subscription already gone remotely is not an error.
func (m *Manager) RemoveSubscription(ctx context.Context, connectionID string) error {
	sub, err := m.subs.GetByConnection(ctx, connectionID)
	if errors.Is(err, subscription.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	conn, err := m.conns.Get(ctx, connectionID)
	if err == nil {
		if source, srcErr := m.newSource(ctx, conn); srcErr == nil {
			if delErr := source.DeleteSubscription(ctx, sub.RemoteID); delErr != nil && !graph.IsNotFound(delErr) {
				slog.WarnContext(ctx, "remote subscription delete failed", "remote_id", sub.RemoteID, "error", delErr)
			}
		}
	}
	return m.subs.Delete(ctx, sub.ID)
}

// HandleChange processes one change notification. Unknown subscriptions and
// client-state mismatches are dropped, not retried.
func (m *Manager) HandleChange(ctx context.Context, remoteSubscriptionID, clientState string) error {
	sub, err := m.subs.GetByRemoteID(ctx, remoteSubscriptionID)
	if errors.Is(err, subscription.ErrNotFound) {
		slog.WarnContext(ctx, "notification for unknown subscription, dropping", "remote_id", remoteSubscriptionID)
		return nil
	}
	if err != nil {
		return err
	}

	if sub.ClientState != clientState {
		m.dropped.Add(1)
		slog.WarnContext(ctx, "client state mismatch, dropping notification",
			"remote_id", remoteSubscriptionID, "connection_id", sub.ConnectionID)
		return nil
	}

	if err := m.subs.RecordNotification(ctx, sub.ID); err != nil {
		slog.WarnContext(ctx, "failed to count notification", "remote_id", remoteSubscriptionID, "error", err)
	}

	return m.SyncConnection(ctx, sub.ConnectionID)
}

// SyncConnection drains the connection's delta query. The stored token only
// advances after every item in its batch has been applied, so a mid-batch
// failure replays the batch (cheaply, via the content-hash skip). An expired
// token resets the cursor and schedules a full re-crawl.
func (m *Manager) SyncConnection(ctx context.Context, connectionID string) error {
	conn, err := m.conns.Get(ctx, connectionID)
	if err != nil {
		return err
	}
	source, err := m.newSource(ctx, conn)
	if err != nil {
		return err
	}

	token, err := m.tokens.Get(ctx, connectionID)
	if err != nil {
		return err
	}

	resource := resourceFor(conn)
	applied := 0
	removed := 0

	for {
		page, err := source.GetDelta(ctx, conn.DriveID, token)
		if errors.Is(err, graph.ErrDeltaExpired) {
			slog.WarnContext(ctx, "delta token expired, falling back to full re-crawl", "connection_id", connectionID)
			if resetErr := m.tokens.Reset(ctx, connectionID); resetErr != nil {
				return resetErr
			}
			if _, startErr := m.resync.Start(ctx, connectionID, importjob.Options{}); startErr != nil && !errors.Is(startErr, importjob.ErrAlreadyRunning) {
				return fmt.Errorf("start full re-crawl: %w", startErr)
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("delta query: %w", err)
		}

		var itemErrs []error
		for _, item := range page.Items {
			switch {
			case item.Deleted:
				if err := m.worker.Remove(ctx, connectionID, item.ItemID); err != nil {
					itemErrs = append(itemErrs, fmt.Errorf("remove %s: %w", item.ItemID, err))
				} else {
					removed++
				}
			case item.IsFolder || item.File == nil:
				// Folder changes only matter through the files inside them.
			case !graph.SupportedFile(item.File.Name):
			default:
				if _, err := m.worker.Process(ctx, connectionID, item.File); err != nil {
					itemErrs = append(itemErrs, fmt.Errorf("ingest %s: %w", item.File.Path, err))
				} else {
					applied++
				}
			}
		}
		if len(itemErrs) > 0 {
			return errors.Join(itemErrs...)
		}

		if page.DeltaLink != "" {
			if err := m.tokens.Save(ctx, connectionID, resource, page.DeltaLink); err != nil {
				return err
			}
			break
		}
		if err := m.tokens.Save(ctx, connectionID, resource, page.NextLink); err != nil {
			return err
		}
		token = page.NextLink
	}

	if err := m.conns.TouchLastSynced(ctx, connectionID); err != nil {
		slog.WarnContext(ctx, "failed to update last_synced_at", "connection_id", connectionID, "error", err)
	}
	slog.InfoContext(ctx, "delta sync complete", "connection_id", connectionID, "ingested", applied, "removed", removed)
	return nil
}

// RenewExpiring renews every subscription expiring within the renewal lead.
// A subscription the remote no longer knows is re-created from scratch; any
// other renewal failure marks the subscription and falls back to a full
// re-crawl so changes are not lost while notifications are dead.
func (m *Manager) RenewExpiring(ctx context.Context) {
	cutoff := time.Now().UTC().Add(m.opts.RenewalLead)
	subs, err := m.subs.ListExpiring(ctx, cutoff)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list expiring subscriptions", "error", err)
		return
	}

	for i := range subs {
		if err := m.renewOne(ctx, &subs[i]); err != nil {
			m.failRenewal(ctx, &subs[i], err)
		}
	}
}

func (m *Manager) failRenewal(ctx context.Context, sub *subscription.Subscription, cause error) {
	status := subscription.StatusError
	if time.Now().UTC().After(sub.ExpiresAt) {
		status = subscription.StatusExpired
	}
	slog.ErrorContext(ctx, "subscription renewal failed, scheduling full re-crawl",
		"remote_id", sub.RemoteID, "connection_id", sub.ConnectionID, "status", status, "error", cause)

	if err := m.subs.UpdateStatus(ctx, sub.ID, status); err != nil {
		slog.ErrorContext(ctx, "failed to update subscription status", "remote_id", sub.RemoteID, "error", err)
	}
	if _, err := m.resync.Start(ctx, sub.ConnectionID, importjob.Options{}); err != nil && !errors.Is(err, importjob.ErrAlreadyRunning) {
		slog.ErrorContext(ctx, "failed to start fallback re-crawl", "connection_id", sub.ConnectionID, "error", err)
	}
}

func (m *Manager) renewOne(ctx context.Context, sub *subscription.Subscription) error {
	conn, err := m.conns.Get(ctx, sub.ConnectionID)
	if err != nil {
		return err
	}
	source, err := m.newSource(ctx, conn)
	if err != nil {
		return err
	}

	expiration := time.Now().UTC().Add(m.opts.Lifetime)
	remote, err := source.RenewSubscription(ctx, sub.RemoteID, expiration)
	if graph.IsNotFound(err) {
		slog.WarnContext(ctx, "subscription gone remotely, recreating", "remote_id", sub.RemoteID)
		_, err := m.EnsureSubscription(ctx, sub.ConnectionID)
		return err
	}
	if err != nil {
		return err
	}

	if err := m.subs.UpdateExpiry(ctx, sub.ID, remote.Expiration); err != nil {
		return err
	}
	slog.InfoContext(ctx, "subscription renewed", "remote_id", sub.RemoteID, "expires_at", remote.Expiration)
	return nil
}
