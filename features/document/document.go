package document

import (
	"errors"
	"time"
)

const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusIndexed    = "indexed"
	StatusFailed     = "failed"
	StatusSkipped    = "skipped"
)

var ErrNotFound = errors.New("document not found")

// Document is the local record of one remote file. Identity is
// (connection_id, item_id): renames and moves update the row in place.
type Document struct {
	ID             string     `json:"id"`
	ConnectionID   string     `json:"connection_id"`
	ItemID         string     `json:"item_id"`
	Name           string     `json:"name"`
	Path           string     `json:"path"`
	MimeType       string     `json:"mime_type"`
	SizeBytes      int64      `json:"size_bytes"`
	ContentHash    string     `json:"content_hash"`
	Status         string     `json:"status"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	ChunkCount     int        `json:"chunk_count"`
	LastIngestedAt *time.Time `json:"last_ingested_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Chunk is the persisted text span backing one vector object. ChunkIndex is
// zero-based and contiguous within a document.
type Chunk struct {
	ID           string `json:"id"`
	DocumentID   string `json:"document_id"`
	ChunkIndex   int    `json:"chunk_index"`
	Content      string `json:"content"`
	TokenCount   int    `json:"token_count"`
	PageNumber   int    `json:"page_number,omitempty"`
	SectionTitle string `json:"section_title,omitempty"`
	VectorID     string `json:"vector_id"`
}
