package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"docsync/features/document"
	"docsync/internal/extract"
	"docsync/internal/graph"
	"docsync/internal/text"
)

// ChunkVectorID derives the stable vector object id for one chunk. Both the
// chunk row and the Weaviate object carry it, so re-ingesting overwrites
// instead of duplicating.
func ChunkVectorID(documentID string, chunkIndex int) string {
	name := "docsync://" + documentID + "/" + strconv.Itoa(chunkIndex)
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
}

// Result reports what processing one file did.
type Result struct {
	Chunks  int
	Skipped bool
}

// Fetcher downloads a file's bytes using the owning connection's credentials.
type Fetcher interface {
	Fetch(ctx context.Context, connectionID string, file *graph.File) ([]byte, error)
}

// DocumentRepo is the document persistence surface the worker needs.
type DocumentRepo interface {
	Upsert(ctx context.Context, doc *document.Document) error
	GetByItem(ctx context.Context, connectionID, itemID string) (*document.Document, error)
	UpdateStatus(ctx context.Context, id, status string) error
	SetError(ctx context.Context, id, message string) error
	ReplaceChunks(ctx context.Context, documentID, contentHash string, chunks []document.Chunk) error
	Delete(ctx context.Context, id string) error
}

// Worker runs the per-file pipeline: fetch, extract, chunk, embed, upsert.
// Safe for concurrent use; concurrent triggers for the same file coalesce
// into one pass.
type Worker struct {
	docs     DocumentRepo
	fetcher  Fetcher
	registry *extract.Registry
	chunker  *text.Chunker
	embedder Embedder
	vectors  VectorStore

	inflight singleflight.Group
}

func NewWorker(docs DocumentRepo, fetcher Fetcher, registry *extract.Registry, chunker *text.Chunker, embedder Embedder, vectors VectorStore) *Worker {
	return &Worker{
		docs:     docs,
		fetcher:  fetcher,
		registry: registry,
		chunker:  chunker,
		embedder: embedder,
		vectors:  vectors,
	}
}

// Process ingests one file. Re-processing an unchanged file (same content
// fingerprint, already indexed) is a cheap skip.
func (w *Worker) Process(ctx context.Context, connectionID string, file *graph.File) (Result, error) {
	key := connectionID + "|" + file.ID
	v, err, shared := w.inflight.Do(key, func() (interface{}, error) {
		return w.process(ctx, connectionID, file)
	})
	if shared {
		slog.DebugContext(ctx, "coalesced concurrent ingestion", "item_id", file.ID)
	}
	if err != nil {
		return Result{}, err
	}
	return v.(Result), nil
}

func (w *Worker) process(ctx context.Context, connectionID string, file *graph.File) (Result, error) {
	doc := &document.Document{
		ConnectionID: connectionID,
		ItemID:       file.ID,
		Name:         file.Name,
		Path:         file.Path,
		MimeType:     file.MimeType,
		SizeBytes:    file.Size,
		Status:       document.StatusPending,
	}
	if err := w.docs.Upsert(ctx, doc); err != nil {
		return Result{}, fmt.Errorf("upsert document: %w", err)
	}

	fingerprint := file.Fingerprint()
	if fingerprint != "" && doc.ContentHash == fingerprint && doc.Status == document.StatusIndexed {
		slog.DebugContext(ctx, "content unchanged, skipping", "path", file.Path, "item_id", file.ID)
		return Result{Skipped: true}, nil
	}

	if err := w.docs.UpdateStatus(ctx, doc.ID, document.StatusProcessing); err != nil {
		return Result{}, fmt.Errorf("mark processing: %w", err)
	}

	content, err := w.fetcher.Fetch(ctx, connectionID, file)
	if err != nil {
		return Result{}, w.failDoc(ctx, doc.ID, fmt.Errorf("fetch content: %w", err))
	}

	// Fall back to hashing the bytes when the remote store gave no
	// fingerprint, so the next sync can still skip.
	if fingerprint == "" {
		sum := sha256.Sum256(content)
		fingerprint = hex.EncodeToString(sum[:])
		if doc.ContentHash == fingerprint && doc.Status == document.StatusIndexed {
			slog.DebugContext(ctx, "content unchanged after download, skipping", "path", file.Path)
			return Result{Skipped: true}, nil
		}
	}

	extracted, err := w.registry.Extract(ctx, content, file.MimeType)
	if err != nil {
		if errors.Is(err, extract.ErrEmpty) {
			slog.InfoContext(ctx, "document has no extractable text", "path", file.Path)
			if err := w.replace(ctx, doc.ID, fingerprint, nil); err != nil {
				return Result{}, err
			}
			return Result{Chunks: 0}, nil
		}
		return Result{}, w.failDoc(ctx, doc.ID, fmt.Errorf("extract: %w", err))
	}

	chunks := w.chunker.Chunk(extracted)

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vectors, err := w.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return Result{}, w.failDoc(ctx, doc.ID, fmt.Errorf("embed: %w", err))
	}

	records := make([]ChunkRecord, len(chunks))
	rows := make([]document.Chunk, len(chunks))
	for i, c := range chunks {
		vectorID := ChunkVectorID(doc.ID, c.Index)
		records[i] = ChunkRecord{
			DocumentID:   doc.ID,
			ConnectionID: connectionID,
			ItemID:       file.ID,
			Path:         file.Path,
			MimeType:     file.MimeType,
			ChunkIndex:   c.Index,
			PageNumber:   c.PageNumber,
			SectionTitle: c.SectionTitle,
			Content:      c.Content,
			Vector:       vectors[i],
		}
		rows[i] = document.Chunk{
			DocumentID:   doc.ID,
			ChunkIndex:   c.Index,
			Content:      c.Content,
			TokenCount:   c.TokenCount,
			PageNumber:   c.PageNumber,
			SectionTitle: c.SectionTitle,
			VectorID:     vectorID,
		}
	}

	// New vectors go in before old state is touched: a failure up to this
	// point leaves the previous index intact.
	if err := w.vectors.UpsertChunks(ctx, records); err != nil {
		return Result{}, w.failDoc(ctx, doc.ID, fmt.Errorf("upsert vectors: %w", err))
	}
	if err := w.vectors.DeleteStale(ctx, doc.ID, len(records)); err != nil {
		return Result{}, w.failDoc(ctx, doc.ID, fmt.Errorf("prune stale vectors: %w", err))
	}
	if err := w.docs.ReplaceChunks(ctx, doc.ID, fingerprint, rows); err != nil {
		return Result{}, fmt.Errorf("replace chunks: %w", err)
	}

	slog.InfoContext(ctx, "document ingested", "path", file.Path, "item_id", file.ID, "chunks", len(chunks))
	return Result{Chunks: len(chunks)}, nil
}

func (w *Worker) replace(ctx context.Context, docID, fingerprint string, rows []document.Chunk) error {
	if err := w.vectors.DeleteByDocument(ctx, docID); err != nil {
		return w.failDoc(ctx, docID, fmt.Errorf("delete vectors: %w", err))
	}
	if err := w.docs.ReplaceChunks(ctx, docID, fingerprint, rows); err != nil {
		return fmt.Errorf("replace chunks: %w", err)
	}
	return nil
}

// Remove deletes everything held for a remote item: vector objects first,
// then the document row (chunk rows cascade with it). Unknown items are a
// no-op so deletion notifications can replay safely.
func (w *Worker) Remove(ctx context.Context, connectionID, itemID string) error {
	doc, err := w.docs.GetByItem(ctx, connectionID, itemID)
	if errors.Is(err, document.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := w.vectors.DeleteByDocument(ctx, doc.ID); err != nil {
		return fmt.Errorf("delete vectors: %w", err)
	}
	if err := w.docs.Delete(ctx, doc.ID); err != nil && !errors.Is(err, document.ErrNotFound) {
		return fmt.Errorf("delete document: %w", err)
	}
	slog.InfoContext(ctx, "document removed", "connection_id", connectionID, "item_id", itemID)
	return nil
}

func (w *Worker) failDoc(ctx context.Context, docID string, cause error) error {
	if err := w.docs.SetError(ctx, docID, cause.Error()); err != nil {
		slog.ErrorContext(ctx, "failed to record document error", "document_id", docID, "error", err)
	}
	return cause
}
