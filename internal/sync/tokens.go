package sync

import (
	"context"
	"database/sql"
	"errors"
)

// TokenStore persists delta continuation tokens per connection. An empty
// token means the next delta query starts from scratch.
type TokenStore struct {
	db *sql.DB
}

func NewTokenStore(db *sql.DB) *TokenStore {
	return &TokenStore{db: db}
}

func (s *TokenStore) Get(ctx context.Context, connectionID string) (string, error) {
	var token string
	query := `SELECT token FROM delta_tokens WHERE connection_id = $1`
	err := s.db.QueryRowContext(ctx, query, connectionID).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return token, nil
}

func (s *TokenStore) Save(ctx context.Context, connectionID, resource, token string) error {
	query := `INSERT INTO delta_tokens (connection_id, resource, token)
		VALUES ($1, $2, $3)
		ON CONFLICT (connection_id) DO UPDATE SET
			resource = EXCLUDED.resource,
			token = EXCLUDED.token,
			updated_at = NOW()`
	_, err := s.db.ExecContext(ctx, query, connectionID, resource, token)
	return err
}

// Reset drops the stored token so the next sync falls back to a full pass.
func (s *TokenStore) Reset(ctx context.Context, connectionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM delta_tokens WHERE connection_id = $1`, connectionID)
	return err
}
