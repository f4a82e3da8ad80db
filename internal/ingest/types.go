package ingest

import "context"

// ChunkRecord is the unit written to the vector index: one chunk of a
// document plus the metadata needed for filtered retrieval and cascade
// deletes.
type ChunkRecord struct {
	DocumentID   string
	ConnectionID string
	ItemID       string
	Path         string
	MimeType     string
	ChunkIndex   int
	PageNumber   int
	SectionTitle string
	Content      string
	Vector       []float32
}

// Embedder turns text into vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorStore persists chunk vectors. Upserts are idempotent: re-writing
// the same document's chunks overwrites the previous objects.
type VectorStore interface {
	UpsertChunks(ctx context.Context, chunks []ChunkRecord) error
	// DeleteStale removes a document's objects at chunk indexes >= fromIndex,
	// pruning leftovers after a document shrinks.
	DeleteStale(ctx context.Context, documentID string, fromIndex int) error
	DeleteByDocument(ctx context.Context, documentID string) error
	DeleteByConnection(ctx context.Context, connectionID string) error
}
