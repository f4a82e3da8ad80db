package document

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

// Upsert inserts the document or, when (connection_id, item_id) already
// exists, refreshes the mutable metadata. The row id is stable across
// re-imports.
func (r *PostgresRepo) Upsert(ctx context.Context, doc *Document) error {
	query := `INSERT INTO documents (connection_id, item_id, name, path, mime_type, size_bytes, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (connection_id, item_id) DO UPDATE SET
			name = EXCLUDED.name,
			path = EXCLUDED.path,
			mime_type = EXCLUDED.mime_type,
			size_bytes = EXCLUDED.size_bytes,
			updated_at = NOW()
		RETURNING id, content_hash, status, chunk_count`
	var hash sql.NullString
	err := r.db.QueryRowContext(ctx, query,
		doc.ConnectionID, doc.ItemID, doc.Name, doc.Path, doc.MimeType, doc.SizeBytes, doc.Status,
	).Scan(&doc.ID, &hash, &doc.Status, &doc.ChunkCount)
	if err != nil {
		return err
	}
	doc.ContentHash = hash.String
	return nil
}

func (r *PostgresRepo) GetByItem(ctx context.Context, connectionID, itemID string) (*Document, error) {
	query := `SELECT id, connection_id, item_id, name, path, mime_type, size_bytes,
		COALESCE(content_hash, ''), status, COALESCE(error_message, ''), chunk_count,
		last_ingested_at, created_at, updated_at
		FROM documents WHERE connection_id = $1 AND item_id = $2`
	return r.scanOne(r.db.QueryRowContext(ctx, query, connectionID, itemID))
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (*Document, error) {
	query := `SELECT id, connection_id, item_id, name, path, mime_type, size_bytes,
		COALESCE(content_hash, ''), status, COALESCE(error_message, ''), chunk_count,
		last_ingested_at, created_at, updated_at
		FROM documents WHERE id = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepo) scanOne(row *sql.Row) (*Document, error) {
	doc := &Document{}
	var lastIngested sql.NullTime
	err := row.Scan(
		&doc.ID, &doc.ConnectionID, &doc.ItemID, &doc.Name, &doc.Path, &doc.MimeType,
		&doc.SizeBytes, &doc.ContentHash, &doc.Status, &doc.ErrorMessage, &doc.ChunkCount,
		&lastIngested, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if lastIngested.Valid {
		doc.LastIngestedAt = &lastIngested.Time
	}
	return doc, nil
}

func (r *PostgresRepo) ListByConnection(ctx context.Context, connectionID string) ([]Document, error) {
	query := `SELECT id, connection_id, item_id, name, path, mime_type, size_bytes,
		COALESCE(content_hash, ''), status, COALESCE(error_message, ''), chunk_count,
		last_ingested_at, created_at, updated_at
		FROM documents WHERE connection_id = $1 ORDER BY path`
	rows, err := r.db.QueryContext(ctx, query, connectionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		var lastIngested sql.NullTime
		if err := rows.Scan(&d.ID, &d.ConnectionID, &d.ItemID, &d.Name, &d.Path, &d.MimeType,
			&d.SizeBytes, &d.ContentHash, &d.Status, &d.ErrorMessage, &d.ChunkCount,
			&lastIngested, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		if lastIngested.Valid {
			d.LastIngestedAt = &lastIngested.Time
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func (r *PostgresRepo) UpdateStatus(ctx context.Context, id, status string) error {
	query := `UPDATE documents SET status = $1, error_message = NULL, updated_at = NOW() WHERE id = $2`
	_, err := r.db.ExecContext(ctx, query, status, id)
	return err
}

func (r *PostgresRepo) SetError(ctx context.Context, id, message string) error {
	query := `UPDATE documents SET status = $1, error_message = $2, updated_at = NOW() WHERE id = $3`
	_, err := r.db.ExecContext(ctx, query, StatusFailed, message, id)
	return err
}

// ReplaceChunks swaps a document's chunk rows in one transaction and marks
// the document indexed with the new content hash. A failure anywhere leaves
// the previous chunk set intact.
func (r *PostgresRepo) ReplaceChunks(ctx context.Context, documentID, contentHash string, chunks []Chunk) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("delete old chunks: %w", err)
	}

	insert := `INSERT INTO chunks (document_id, chunk_index, content, token_count, page_number, section_title, vector_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	for _, c := range chunks {
		if _, err := tx.ExecContext(ctx, insert,
			documentID, c.ChunkIndex, c.Content, c.TokenCount, c.PageNumber, c.SectionTitle, c.VectorID); err != nil {
			return fmt.Errorf("insert chunk %d: %w", c.ChunkIndex, err)
		}
	}

	update := `UPDATE documents SET content_hash = $1, status = $2, error_message = NULL,
		chunk_count = $3, last_ingested_at = NOW(), updated_at = NOW() WHERE id = $4`
	if _, err := tx.ExecContext(ctx, update, contentHash, StatusIndexed, len(chunks), documentID); err != nil {
		return fmt.Errorf("update document: %w", err)
	}

	return tx.Commit()
}

func (r *PostgresRepo) GetChunks(ctx context.Context, documentID string) ([]Chunk, error) {
	query := `SELECT id, document_id, chunk_index, content, token_count, page_number,
		COALESCE(section_title, ''), vector_id
		FROM chunks WHERE document_id = $1 ORDER BY chunk_index`
	rows, err := r.db.QueryContext(ctx, query, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.ChunkIndex, &c.Content,
			&c.TokenCount, &c.PageNumber, &c.SectionTitle, &c.VectorID); err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// Delete removes the document row; chunk rows go with it via the foreign
// key. Vector objects are the caller's responsibility and must be removed
// first.
func (r *PostgresRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
