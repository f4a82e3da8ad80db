package importjob

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Create(ctx context.Context, job *ImportJob) error {
	// A nil FileTypes (default allow-list) round-trips as jsonb null,
	// distinct from an explicit empty list.
	fileTypes, err := json.Marshal(job.FileTypes)
	if err != nil {
		return err
	}
	query := `INSERT INTO import_jobs (connection_id, status, folder_id, recursive, file_types)
		VALUES ($1, $2, $3, $4, $5::jsonb) RETURNING id, created_at`
	return r.db.QueryRowContext(ctx, query,
		job.ConnectionID, job.Status, job.FolderID, job.Recursive, fileTypes,
	).Scan(&job.ID, &job.CreatedAt)
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (*ImportJob, error) {
	query := `SELECT id, connection_id, status, COALESCE(folder_id, ''), recursive,
		COALESCE(file_types, 'null'::jsonb), files_found, files_processed, files_failed, files_skipped,
		total_chunks, COALESCE(current_file, ''), COALESCE(error_log, '[]'::jsonb),
		started_at, finished_at, created_at
		FROM import_jobs WHERE id = $1`
	job := &ImportJob{}
	var fileTypes, errorLog []byte
	var started, finished sql.NullTime
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&job.ID, &job.ConnectionID, &job.Status, &job.FolderID, &job.Recursive, &fileTypes,
		&job.FilesFound, &job.FilesProcessed, &job.FilesFailed, &job.FilesSkipped,
		&job.TotalChunks, &job.CurrentFile, &errorLog,
		&started, &finished, &job.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(fileTypes, &job.FileTypes); err != nil {
		return nil, fmt.Errorf("decode file_types: %w", err)
	}
	if err := json.Unmarshal(errorLog, &job.ErrorLog); err != nil {
		return nil, fmt.Errorf("decode error_log: %w", err)
	}
	if started.Valid {
		job.StartedAt = &started.Time
	}
	if finished.Valid {
		job.FinishedAt = &finished.Time
	}
	return job, nil
}

func (r *PostgresRepo) List(ctx context.Context, connectionID string) ([]ImportJob, error) {
	query := `SELECT id, connection_id, status, COALESCE(folder_id, ''), recursive,
		files_found, files_processed, files_failed, files_skipped,
		total_chunks, started_at, finished_at, created_at
		FROM import_jobs`
	args := []interface{}{}
	if connectionID != "" {
		query += ` WHERE connection_id = $1`
		args = append(args, connectionID)
	}
	query += ` ORDER BY created_at DESC LIMIT 100`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []ImportJob
	for rows.Next() {
		var j ImportJob
		var started, finished sql.NullTime
		if err := rows.Scan(&j.ID, &j.ConnectionID, &j.Status, &j.FolderID, &j.Recursive,
			&j.FilesFound, &j.FilesProcessed, &j.FilesFailed, &j.FilesSkipped,
			&j.TotalChunks, &started, &finished, &j.CreatedAt); err != nil {
			return nil, err
		}
		if started.Valid {
			j.StartedAt = &started.Time
		}
		if finished.Valid {
			j.FinishedAt = &finished.Time
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// HasActive reports whether the connection already has a non-terminal job.
func (r *PostgresRepo) HasActive(ctx context.Context, connectionID string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM import_jobs
		WHERE connection_id = $1 AND status IN ('pending', 'crawling', 'processing'))`
	err := r.db.QueryRowContext(ctx, query, connectionID).Scan(&exists)
	return exists, err
}

func (r *PostgresRepo) MarkStarted(ctx context.Context, id, status string) error {
	query := `UPDATE import_jobs SET status = $1, started_at = COALESCE(started_at, NOW()) WHERE id = $2`
	_, err := r.db.ExecContext(ctx, query, status, id)
	return err
}

func (r *PostgresRepo) UpdateStatus(ctx context.Context, id, status string) error {
	query := `UPDATE import_jobs SET status = $1 WHERE id = $2`
	_, err := r.db.ExecContext(ctx, query, status, id)
	return err
}

func (r *PostgresRepo) UpdateProgress(ctx context.Context, id string, found, processed, failed, skipped, totalChunks int, currentFile string) error {
	query := `UPDATE import_jobs SET files_found = $1, files_processed = $2, files_failed = $3,
		files_skipped = $4, total_chunks = $5, current_file = $6 WHERE id = $7`
	_, err := r.db.ExecContext(ctx, query, found, processed, failed, skipped, totalChunks, currentFile, id)
	return err
}

func (r *PostgresRepo) AppendError(ctx context.Context, id string, jobErr JobError) error {
	payload, err := json.Marshal([]JobError{jobErr})
	if err != nil {
		return err
	}
	query := `UPDATE import_jobs SET error_log = COALESCE(error_log, '[]'::jsonb) || $1::jsonb WHERE id = $2`
	_, err = r.db.ExecContext(ctx, query, payload, id)
	return err
}

func (r *PostgresRepo) Finish(ctx context.Context, id, status string) error {
	query := `UPDATE import_jobs SET status = $1, current_file = '', finished_at = NOW() WHERE id = $2`
	_, err := r.db.ExecContext(ctx, query, status, id)
	return err
}
