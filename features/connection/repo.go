package connection

import (
	"context"
	"database/sql"
	"errors"
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Save(ctx context.Context, conn *Connection) error {
	query := `INSERT INTO connections (name, drive_id, folder_id, recursive, tenant_id, client_id, client_secret, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id, created_at, updated_at`
	return r.db.QueryRowContext(ctx, query,
		conn.Name, conn.DriveID, conn.FolderID, conn.Recursive,
		conn.TenantID, conn.ClientID, conn.ClientSecret, conn.Status,
	).Scan(&conn.ID, &conn.CreatedAt, &conn.UpdatedAt)
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (*Connection, error) {
	conn := &Connection{}
	query := `SELECT id, name, drive_id, folder_id, recursive, tenant_id, client_id, client_secret,
		status, status_reason, last_synced_at, created_at, updated_at
		FROM connections WHERE id = $1`
	var reason sql.NullString
	var lastSynced sql.NullTime
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&conn.ID, &conn.Name, &conn.DriveID, &conn.FolderID, &conn.Recursive,
		&conn.TenantID, &conn.ClientID, &conn.ClientSecret,
		&conn.Status, &reason, &lastSynced, &conn.CreatedAt, &conn.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	conn.StatusReason = reason.String
	if lastSynced.Valid {
		conn.LastSyncedAt = &lastSynced.Time
	}
	return conn, nil
}

func (r *PostgresRepo) List(ctx context.Context) ([]Connection, error) {
	query := `SELECT id, name, drive_id, folder_id, recursive, status, status_reason, last_synced_at, created_at, updated_at
		FROM connections ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conns []Connection
	for rows.Next() {
		var c Connection
		var reason sql.NullString
		var lastSynced sql.NullTime
		if err := rows.Scan(&c.ID, &c.Name, &c.DriveID, &c.FolderID, &c.Recursive,
			&c.Status, &reason, &lastSynced, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		c.StatusReason = reason.String
		if lastSynced.Valid {
			c.LastSyncedAt = &lastSynced.Time
		}
		conns = append(conns, c)
	}
	return conns, rows.Err()
}

func (r *PostgresRepo) UpdateStatus(ctx context.Context, id, status, reason string) error {
	query := `UPDATE connections SET status = $1, status_reason = $2, updated_at = NOW() WHERE id = $3`
	_, err := r.db.ExecContext(ctx, query, status, reason, id)
	return err
}

func (r *PostgresRepo) TouchLastSynced(ctx context.Context, id string) error {
	query := `UPDATE connections SET last_synced_at = NOW(), updated_at = NOW() WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	return err
}

func (r *PostgresRepo) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM connections WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
