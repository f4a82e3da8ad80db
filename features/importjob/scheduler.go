package importjob

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"docsync/features/connection"
	"docsync/internal/graph"
)

// Repo is the job persistence surface the scheduler needs.
type Repo interface {
	Create(ctx context.Context, job *ImportJob) error
	Get(ctx context.Context, id string) (*ImportJob, error)
	List(ctx context.Context, connectionID string) ([]ImportJob, error)
	HasActive(ctx context.Context, connectionID string) (bool, error)
	MarkStarted(ctx context.Context, id, status string) error
	UpdateStatus(ctx context.Context, id, status string) error
	UpdateProgress(ctx context.Context, id string, found, processed, failed, skipped, totalChunks int, currentFile string) error
	AppendError(ctx context.Context, id string, jobErr JobError) error
	Finish(ctx context.Context, id, status string) error
}

// Connections is the slice of the connection feature the scheduler uses.
type Connections interface {
	Get(ctx context.Context, id string) (*connection.Connection, error)
	TouchLastSynced(ctx context.Context, id string) error
}

// FileSource enumerates files for one connection's credentials.
type FileSource interface {
	Crawl(ctx context.Context, driveID, folderID string, opts graph.CrawlOptions) <-chan graph.CrawlEvent
}

// SourceFactory builds a FileSource authenticated for the given connection.
type SourceFactory func(ctx context.Context, conn *connection.Connection) (FileSource, error)

// ProcessResult reports what ingesting one file did.
type ProcessResult struct {
	Chunks  int
	Skipped bool
}

// FileProcessor ingests a single discovered file.
type FileProcessor interface {
	Process(ctx context.Context, connectionID string, file *graph.File) (ProcessResult, error)
}

// Scheduler runs import jobs: one crawl goroutine feeding a bounded worker
// pool. At most one active job per connection.
type Scheduler struct {
	repo         Repo
	conns        Connections
	newSource    SourceFactory
	processor    FileProcessor
	concurrency  int
	maxFileBytes int64

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func NewScheduler(repo Repo, conns Connections, newSource SourceFactory, processor FileProcessor, concurrency int, maxFileBytes int64) *Scheduler {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Scheduler{
		repo:         repo,
		conns:        conns,
		newSource:    newSource,
		processor:    processor,
		concurrency:  concurrency,
		maxFileBytes: maxFileBytes,
		cancels:      make(map[string]context.CancelFunc),
	}
}

// Start creates a job for the connection and runs it in the background.
// Options override the connection's folder and recursion for this run only.
func (s *Scheduler) Start(ctx context.Context, connectionID string, opts Options) (*ImportJob, error) {
	conn, err := s.conns.Get(ctx, connectionID)
	if err != nil {
		return nil, err
	}

	active, err := s.repo.HasActive(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	if active {
		return nil, ErrAlreadyRunning
	}

	folderID := opts.FolderID
	if folderID == "" {
		folderID = conn.FolderID
	}
	recursive := conn.Recursive
	if opts.Recursive != nil {
		recursive = *opts.Recursive
	}

	job := &ImportJob{
		ConnectionID: connectionID,
		FolderID:     folderID,
		Recursive:    recursive,
		FileTypes:    opts.FileTypes,
		Status:       StatusPending,
	}
	if err := s.repo.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	// The job outlives the HTTP request that started it.
	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.mu.Lock()
	s.cancels[job.ID] = cancel
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.cancels, job.ID)
			s.mu.Unlock()
			cancel()
		}()
		s.run(jobCtx, job, conn)
	}()

	return job, nil
}

// Cancel requests cooperative cancellation of a running job.
func (s *Scheduler) Cancel(ctx context.Context, jobID string) error {
	s.mu.Lock()
	cancel, ok := s.cancels[jobID]
	s.mu.Unlock()
	if ok {
		cancel()
		return nil
	}

	job, err := s.repo.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if IsTerminal(job.Status) {
		return ErrNotRunning
	}
	// Not in this process's registry (stale row after a restart): close it out.
	return s.repo.Finish(ctx, jobID, StatusCancelled)
}

func (s *Scheduler) Get(ctx context.Context, jobID string) (*ImportJob, error) {
	return s.repo.Get(ctx, jobID)
}

func (s *Scheduler) List(ctx context.Context, connectionID string) ([]ImportJob, error) {
	return s.repo.List(ctx, connectionID)
}

// progress collects counters shared between workers under one lock.
type progress struct {
	mu          sync.Mutex
	found       int
	processed   int
	failed      int
	skipped     int
	totalChunks int
	currentFile string
}

func (s *Scheduler) run(ctx context.Context, job *ImportJob, conn *connection.Connection) {
	slog.InfoContext(ctx, "import job starting", "job_id", job.ID, "connection_id", conn.ID)

	if err := s.repo.MarkStarted(ctx, job.ID, StatusCrawling); err != nil {
		slog.ErrorContext(ctx, "failed to mark job started", "job_id", job.ID, "error", err)
		return
	}

	source, err := s.newSource(ctx, conn)
	if err != nil {
		s.fail(ctx, job.ID, fmt.Errorf("build source: %w", err))
		return
	}

	folderID := job.FolderID
	if folderID == "" {
		folderID = "root"
	}

	events := source.Crawl(ctx, conn.DriveID, folderID, graph.CrawlOptions{
		Recursive:  job.Recursive,
		Extensions: job.FileTypes,
	})

	var (
		p        progress
		crawlErr error
		started  bool
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for ev := range events {
		if ev.Err != nil {
			// Enumeration failure is fatal for the job; files already
			// dispatched still finish.
			crawlErr = ev.Err
			break
		}

		if !started {
			started = true
			if err := s.repo.UpdateStatus(ctx, job.ID, StatusProcessing); err != nil {
				slog.WarnContext(ctx, "failed to update job status", "job_id", job.ID, "error", err)
			}
		}

		p.mu.Lock()
		p.found++
		p.mu.Unlock()

		file := ev.File
		g.Go(func() error {
			s.processOne(gctx, job.ID, conn.ID, file, &p)
			return nil
		})
	}

	waitErr := g.Wait()
	s.flushProgress(ctx, job.ID, &p, "")

	switch {
	case ctx.Err() != nil:
		slog.InfoContext(ctx, "import job cancelled", "job_id", job.ID)
		s.finish(ctx, job.ID, StatusCancelled)
	case crawlErr != nil:
		s.fail(ctx, job.ID, fmt.Errorf("crawl: %w", crawlErr))
	case waitErr != nil:
		s.fail(ctx, job.ID, waitErr)
	default:
		s.finish(ctx, job.ID, StatusCompleted)
		if err := s.conns.TouchLastSynced(ctx, conn.ID); err != nil {
			slog.WarnContext(ctx, "failed to update last_synced_at", "connection_id", conn.ID, "error", err)
		}
		p.mu.Lock()
		slog.InfoContext(ctx, "import job completed", "job_id", job.ID,
			"files_found", p.found, "files_processed", p.processed,
			"files_failed", p.failed, "files_skipped", p.skipped,
			"total_chunks", p.totalChunks)
		p.mu.Unlock()
	}
}

func (s *Scheduler) processOne(ctx context.Context, jobID, connectionID string, file *graph.File, p *progress) {
	if ctx.Err() != nil {
		return
	}

	s.flushProgress(ctx, jobID, p, file.Path)

	if s.maxFileBytes > 0 && file.Size > s.maxFileBytes {
		slog.InfoContext(ctx, "file exceeds size limit, skipping",
			"path", file.Path, "size", file.Size, "limit", s.maxFileBytes)
		p.mu.Lock()
		p.skipped++
		p.mu.Unlock()
		return
	}

	res, err := s.processor.Process(ctx, connectionID, file)
	p.mu.Lock()
	switch {
	case err != nil:
		p.failed++
	case res.Skipped:
		p.skipped++
	default:
		p.processed++
		p.totalChunks += res.Chunks
	}
	p.mu.Unlock()

	if err != nil {
		slog.WarnContext(ctx, "file ingestion failed", "job_id", jobID, "path", file.Path, "error", err)
		if appendErr := s.repo.AppendError(ctx, jobID, JobError{
			Path:    file.Path,
			Message: err.Error(),
			At:      time.Now().UTC(),
		}); appendErr != nil {
			slog.ErrorContext(ctx, "failed to record file error", "job_id", jobID, "error", appendErr)
		}
	}
}

func (s *Scheduler) flushProgress(ctx context.Context, jobID string, p *progress, currentFile string) {
	p.mu.Lock()
	found, processed, failed, skipped, chunks := p.found, p.processed, p.failed, p.skipped, p.totalChunks
	if currentFile != "" {
		p.currentFile = currentFile
	}
	current := p.currentFile
	p.mu.Unlock()

	if err := s.repo.UpdateProgress(ctx, jobID, found, processed, failed, skipped, chunks, current); err != nil {
		slog.WarnContext(ctx, "failed to update job progress", "job_id", jobID, "error", err)
	}
}

func (s *Scheduler) fail(ctx context.Context, jobID string, cause error) {
	slog.ErrorContext(ctx, "import job failed", "job_id", jobID, "error", cause)
	if err := s.repo.AppendError(ctx, jobID, JobError{Message: cause.Error(), At: time.Now().UTC()}); err != nil {
		slog.ErrorContext(ctx, "failed to record job error", "job_id", jobID, "error", err)
	}
	s.finish(ctx, jobID, StatusFailed)
}

func (s *Scheduler) finish(ctx context.Context, jobID, status string) {
	if err := s.repo.Finish(ctx, jobID, status); err != nil {
		slog.ErrorContext(ctx, "failed to finalize job", "job_id", jobID, "status", status, "error", err)
	}
}
