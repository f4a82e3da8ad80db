package subscription

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Save(ctx context.Context, sub *Subscription) error {
	if sub.Status == "" {
		sub.Status = StatusActive
	}
	query := `INSERT INTO webhook_subscriptions (connection_id, remote_id, resource, client_state, status, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (connection_id, resource) DO UPDATE SET
			remote_id = EXCLUDED.remote_id,
			client_state = EXCLUDED.client_state,
			status = EXCLUDED.status,
			expires_at = EXCLUDED.expires_at,
			updated_at = NOW()
		RETURNING id, created_at, updated_at`
	return r.db.QueryRowContext(ctx, query,
		sub.ConnectionID, sub.RemoteID, sub.Resource, sub.ClientState, sub.Status, sub.ExpiresAt,
	).Scan(&sub.ID, &sub.CreatedAt, &sub.UpdatedAt)
}

func (r *PostgresRepo) GetByRemoteID(ctx context.Context, remoteID string) (*Subscription, error) {
	query := `SELECT id, connection_id, remote_id, resource, client_state, status, notification_count, expires_at, created_at, updated_at
		FROM webhook_subscriptions WHERE remote_id = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, remoteID))
}

func (r *PostgresRepo) GetByConnection(ctx context.Context, connectionID string) (*Subscription, error) {
	query := `SELECT id, connection_id, remote_id, resource, client_state, status, notification_count, expires_at, created_at, updated_at
		FROM webhook_subscriptions WHERE connection_id = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, connectionID))
}

func (r *PostgresRepo) scanOne(row *sql.Row) (*Subscription, error) {
	sub := &Subscription{}
	err := row.Scan(&sub.ID, &sub.ConnectionID, &sub.RemoteID, &sub.Resource,
		&sub.ClientState, &sub.Status, &sub.NotificationCount,
		&sub.ExpiresAt, &sub.CreatedAt, &sub.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (r *PostgresRepo) List(ctx context.Context) ([]Subscription, error) {
	query := `SELECT id, connection_id, remote_id, resource, client_state, status, notification_count, expires_at, created_at, updated_at
		FROM webhook_subscriptions ORDER BY expires_at`
	return r.queryList(ctx, query)
}

// ListExpiring returns subscriptions that expire before the cutoff.
func (r *PostgresRepo) ListExpiring(ctx context.Context, before time.Time) ([]Subscription, error) {
	query := `SELECT id, connection_id, remote_id, resource, client_state, status, notification_count, expires_at, created_at, updated_at
		FROM webhook_subscriptions WHERE expires_at < $1 ORDER BY expires_at`
	return r.queryList(ctx, query, before)
}

func (r *PostgresRepo) queryList(ctx context.Context, query string, args ...interface{}) ([]Subscription, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []Subscription
	for rows.Next() {
		var s Subscription
		if err := rows.Scan(&s.ID, &s.ConnectionID, &s.RemoteID, &s.Resource,
			&s.ClientState, &s.Status, &s.NotificationCount,
			&s.ExpiresAt, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		subs = append(subs, s)
	}
	return subs, rows.Err()
}

// UpdateExpiry records a successful renewal, which also clears any earlier
// error or expired status.
func (r *PostgresRepo) UpdateExpiry(ctx context.Context, id string, expiresAt time.Time) error {
	query := `UPDATE webhook_subscriptions SET expires_at = $1, status = 'active', updated_at = NOW() WHERE id = $2`
	_, err := r.db.ExecContext(ctx, query, expiresAt, id)
	return err
}

func (r *PostgresRepo) UpdateStatus(ctx context.Context, id, status string) error {
	query := `UPDATE webhook_subscriptions SET status = $1, updated_at = NOW() WHERE id = $2`
	_, err := r.db.ExecContext(ctx, query, status, id)
	return err
}

// RecordNotification counts one accepted change notification.
func (r *PostgresRepo) RecordNotification(ctx context.Context, id string) error {
	query := `UPDATE webhook_subscriptions SET notification_count = notification_count + 1, updated_at = NOW() WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	return err
}

func (r *PostgresRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM webhook_subscriptions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
