package importjob

import (
	"errors"
	"time"
)

const (
	StatusPending    = "pending"
	StatusCrawling   = "crawling"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
)

var (
	ErrNotFound       = errors.New("import job not found")
	ErrAlreadyRunning = errors.New("an import is already running for this connection")
	ErrNotRunning     = errors.New("import job is not running")
)

// statusRank orders states so transitions only move forward. Terminal
// states share a rank and cannot replace each other.
var statusRank = map[string]int{
	StatusPending:    0,
	StatusCrawling:   1,
	StatusProcessing: 2,
	StatusCompleted:  3,
	StatusFailed:     3,
	StatusCancelled:  3,
}

// CanTransition reports whether a job may move from one status to another.
func CanTransition(from, to string) bool {
	return statusRank[to] > statusRank[from]
}

// IsTerminal reports whether a status is final.
func IsTerminal(status string) bool {
	return statusRank[status] == 3
}

// JobError is one per-file failure recorded on the job.
type JobError struct {
	Path    string    `json:"path"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Options narrow one import run. Zero values fall back to the connection's
// configured folder and recursion; a nil FileTypes means the default
// supported set.
type Options struct {
	FolderID  string   `json:"folder_id"`
	Recursive *bool    `json:"recursive"`
	FileTypes []string `json:"file_types"`
}

// ImportJob tracks one full crawl-and-ingest run over a connection.
type ImportJob struct {
	ID             string     `json:"id"`
	ConnectionID   string     `json:"connection_id"`
	FolderID       string     `json:"folder_id,omitempty"`
	Recursive      bool       `json:"recursive"`
	FileTypes      []string   `json:"file_types,omitempty"`
	Status         string     `json:"status"`
	FilesFound     int        `json:"files_found"`
	FilesProcessed int        `json:"files_processed"`
	FilesFailed    int        `json:"files_failed"`
	FilesSkipped   int        `json:"files_skipped"`
	TotalChunks    int        `json:"total_chunks"`
	CurrentFile    string     `json:"current_file,omitempty"`
	ErrorLog       []JobError `json:"error_log,omitempty"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}
