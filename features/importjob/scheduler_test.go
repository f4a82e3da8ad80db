package importjob

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docsync/features/connection"
	"docsync/internal/graph"
)

type memJobRepo struct {
	mu     sync.Mutex
	jobs   map[string]*ImportJob
	nextID int
	active bool
}

func newMemJobRepo() *memJobRepo {
	return &memJobRepo{jobs: make(map[string]*ImportJob)}
}

func (r *memJobRepo) Create(ctx context.Context, job *ImportJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	job.ID = "job-1"
	job.CreatedAt = time.Now()
	copied := *job
	r.jobs[job.ID] = &copied
	return nil
}

func (r *memJobRepo) Get(ctx context.Context, id string) (*ImportJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *j
	copied.ErrorLog = append([]JobError(nil), j.ErrorLog...)
	return &copied, nil
}

func (r *memJobRepo) List(ctx context.Context, connectionID string) ([]ImportJob, error) {
	return nil, nil
}

func (r *memJobRepo) HasActive(ctx context.Context, connectionID string) (bool, error) {
	return r.active, nil
}

func (r *memJobRepo) MarkStarted(ctx context.Context, id, status string) error {
	return r.UpdateStatus(ctx, id, status)
}

func (r *memJobRepo) UpdateStatus(ctx context.Context, id, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if j, ok := r.jobs[id]; ok {
		j.Status = status
	}
	return nil
}

func (r *memJobRepo) UpdateProgress(ctx context.Context, id string, found, processed, failed, skipped, totalChunks int, currentFile string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if j, ok := r.jobs[id]; ok {
		j.FilesFound = found
		j.FilesProcessed = processed
		j.FilesFailed = failed
		j.FilesSkipped = skipped
		j.TotalChunks = totalChunks
		j.CurrentFile = currentFile
	}
	return nil
}

func (r *memJobRepo) AppendError(ctx context.Context, id string, jobErr JobError) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if j, ok := r.jobs[id]; ok {
		j.ErrorLog = append(j.ErrorLog, jobErr)
	}
	return nil
}

func (r *memJobRepo) Finish(ctx context.Context, id, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if j, ok := r.jobs[id]; ok {
		j.Status = status
		now := time.Now()
		j.FinishedAt = &now
	}
	return nil
}

type stubConnections struct {
	conn    *connection.Connection
	touched int
	mu      sync.Mutex
}

func (s *stubConnections) Get(ctx context.Context, id string) (*connection.Connection, error) {
	if s.conn == nil {
		return nil, connection.ErrNotFound
	}
	return s.conn, nil
}

func (s *stubConnections) TouchLastSynced(ctx context.Context, id string) error {
	s.mu.Lock()
	s.touched++
	s.mu.Unlock()
	return nil
}

type stubSource struct {
	events []graph.CrawlEvent
	block  bool

	mu        sync.Mutex
	gotFolder string
	gotOpts   graph.CrawlOptions
}

func (s *stubSource) Crawl(ctx context.Context, driveID, folderID string, opts graph.CrawlOptions) <-chan graph.CrawlEvent {
	s.mu.Lock()
	s.gotFolder = folderID
	s.gotOpts = opts
	s.mu.Unlock()

	out := make(chan graph.CrawlEvent)
	go func() {
		defer close(out)
		for _, ev := range s.events {
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
		if s.block {
			<-ctx.Done()
		}
	}()
	return out
}

type stubProcessor struct {
	mu      sync.Mutex
	calls   []string
	results map[string]ProcessResult
	errs    map[string]error
}

func (p *stubProcessor) Process(ctx context.Context, connectionID string, file *graph.File) (ProcessResult, error) {
	p.mu.Lock()
	p.calls = append(p.calls, file.Path)
	p.mu.Unlock()
	if err, ok := p.errs[file.Path]; ok {
		return ProcessResult{}, err
	}
	return p.results[file.Path], nil
}

func (p *stubProcessor) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func fileEvent(id, path string, size int64) graph.CrawlEvent {
	return graph.CrawlEvent{File: &graph.File{ID: id, Name: path, Path: path, Size: size}}
}

func newTestScheduler(repo Repo, conns Connections, source FileSource, proc FileProcessor, maxBytes int64) *Scheduler {
	factory := func(ctx context.Context, conn *connection.Connection) (FileSource, error) {
		return source, nil
	}
	return NewScheduler(repo, conns, factory, proc, 4, maxBytes)
}

func waitTerminal(t *testing.T, repo *memJobRepo, jobID string) *ImportJob {
	t.Helper()
	var job *ImportJob
	require.Eventually(t, func() bool {
		j, err := repo.Get(context.Background(), jobID)
		if err != nil {
			return false
		}
		job = j
		return IsTerminal(j.Status)
	}, 5*time.Second, 10*time.Millisecond)
	return job
}

func TestImportThreeFiles(t *testing.T) {
	repo := newMemJobRepo()
	conns := &stubConnections{conn: &connection.Connection{ID: "conn-1", DriveID: "drive-1", Recursive: true}}
	source := &stubSource{events: []graph.CrawlEvent{
		fileEvent("f1", "/a.txt", 10),
		fileEvent("f2", "/b.txt", 10),
		fileEvent("f3", "/c.pdf", 10),
	}}
	proc := &stubProcessor{results: map[string]ProcessResult{
		"/a.txt": {Chunks: 2},
		"/b.txt": {Chunks: 3},
		"/c.pdf": {Chunks: 4},
	}}

	sched := newTestScheduler(repo, conns, source, proc, 0)
	job, err := sched.Start(context.Background(), "conn-1", Options{})
	require.NoError(t, err)

	final := waitTerminal(t, repo, job.ID)
	assert.Equal(t, StatusCompleted, final.Status)
	assert.Equal(t, 3, final.FilesFound)
	assert.Equal(t, 3, final.FilesProcessed)
	assert.Equal(t, 0, final.FilesFailed)
	assert.Equal(t, 9, final.TotalChunks)
	assert.NotNil(t, final.FinishedAt)
	assert.Equal(t, 3, proc.callCount())
}

func TestStartDefaultsToConnectionScope(t *testing.T) {
	repo := newMemJobRepo()
	conns := &stubConnections{conn: &connection.Connection{
		ID: "conn-1", DriveID: "drive-1", FolderID: "folder-home", Recursive: true,
	}}
	source := &stubSource{}

	sched := newTestScheduler(repo, conns, source, &stubProcessor{}, 0)
	job, err := sched.Start(context.Background(), "conn-1", Options{})
	require.NoError(t, err)

	waitTerminal(t, repo, job.ID)
	source.mu.Lock()
	defer source.mu.Unlock()
	assert.Equal(t, "folder-home", source.gotFolder)
	assert.True(t, source.gotOpts.Recursive)
	assert.Nil(t, source.gotOpts.Extensions)
}

func TestStartOverridesCrawlScope(t *testing.T) {
	repo := newMemJobRepo()
	conns := &stubConnections{conn: &connection.Connection{
		ID: "conn-1", DriveID: "drive-1", FolderID: "folder-home", Recursive: true,
	}}
	source := &stubSource{events: []graph.CrawlEvent{fileEvent("f1", "/a.pdf", 10)}}
	proc := &stubProcessor{results: map[string]ProcessResult{"/a.pdf": {Chunks: 1}}}

	sched := newTestScheduler(repo, conns, source, proc, 0)
	flat := false
	job, err := sched.Start(context.Background(), "conn-1", Options{
		FolderID:  "folder-reports",
		Recursive: &flat,
		FileTypes: []string{"pdf", ".docx"},
	})
	require.NoError(t, err)

	final := waitTerminal(t, repo, job.ID)

	// The overrides reach the crawl and survive on the job row.
	source.mu.Lock()
	assert.Equal(t, "folder-reports", source.gotFolder)
	assert.False(t, source.gotOpts.Recursive)
	assert.Equal(t, []string{"pdf", ".docx"}, source.gotOpts.Extensions)
	source.mu.Unlock()

	assert.Equal(t, "folder-reports", final.FolderID)
	assert.False(t, final.Recursive)
	assert.Equal(t, []string{"pdf", ".docx"}, final.FileTypes)
}

func TestCrawlFailureFailsJob(t *testing.T) {
	repo := newMemJobRepo()
	conns := &stubConnections{conn: &connection.Connection{ID: "conn-1", DriveID: "drive-1"}}
	source := &stubSource{events: []graph.CrawlEvent{
		fileEvent("f1", "/a.txt", 10),
		{Err: errors.New("listing failed: 503")},
	}}
	proc := &stubProcessor{results: map[string]ProcessResult{"/a.txt": {Chunks: 1}}}

	sched := newTestScheduler(repo, conns, source, proc, 0)
	job, err := sched.Start(context.Background(), "conn-1", Options{})
	require.NoError(t, err)

	final := waitTerminal(t, repo, job.ID)
	assert.Equal(t, StatusFailed, final.Status)
	require.NotEmpty(t, final.ErrorLog)
	assert.Contains(t, final.ErrorLog[len(final.ErrorLog)-1].Message, "listing failed")
}

func TestPerFileFailureDoesNotFailJob(t *testing.T) {
	repo := newMemJobRepo()
	conns := &stubConnections{conn: &connection.Connection{ID: "conn-1", DriveID: "drive-1"}}
	source := &stubSource{events: []graph.CrawlEvent{
		fileEvent("f1", "/ok.txt", 10),
		fileEvent("f2", "/bad.txt", 10),
		fileEvent("f3", "/also-ok.txt", 10),
	}}
	proc := &stubProcessor{
		results: map[string]ProcessResult{"/ok.txt": {Chunks: 1}, "/also-ok.txt": {Chunks: 1}},
		errs:    map[string]error{"/bad.txt": errors.New("extract: unsupported format")},
	}

	sched := newTestScheduler(repo, conns, source, proc, 0)
	job, err := sched.Start(context.Background(), "conn-1", Options{})
	require.NoError(t, err)

	final := waitTerminal(t, repo, job.ID)
	assert.Equal(t, StatusCompleted, final.Status)
	assert.Equal(t, 2, final.FilesProcessed)
	assert.Equal(t, 1, final.FilesFailed)
	require.Len(t, final.ErrorLog, 1)
	assert.Equal(t, "/bad.txt", final.ErrorLog[0].Path)
}

func TestOversizedFileSkipped(t *testing.T) {
	repo := newMemJobRepo()
	conns := &stubConnections{conn: &connection.Connection{ID: "conn-1", DriveID: "drive-1"}}
	source := &stubSource{events: []graph.CrawlEvent{
		fileEvent("f1", "/small.txt", 100),
		fileEvent("f2", "/huge.pdf", 10<<20),
	}}
	proc := &stubProcessor{results: map[string]ProcessResult{"/small.txt": {Chunks: 1}}}

	sched := newTestScheduler(repo, conns, source, proc, 1<<20)
	job, err := sched.Start(context.Background(), "conn-1", Options{})
	require.NoError(t, err)

	final := waitTerminal(t, repo, job.ID)
	assert.Equal(t, StatusCompleted, final.Status)
	assert.Equal(t, 1, final.FilesProcessed)
	assert.Equal(t, 1, final.FilesSkipped)
	assert.NotContains(t, proc.calls, "/huge.pdf")
}

func TestCancelRunningJob(t *testing.T) {
	repo := newMemJobRepo()
	conns := &stubConnections{conn: &connection.Connection{ID: "conn-1", DriveID: "drive-1"}}
	source := &stubSource{events: []graph.CrawlEvent{fileEvent("f1", "/a.txt", 10)}, block: true}
	proc := &stubProcessor{results: map[string]ProcessResult{"/a.txt": {Chunks: 1}}}

	sched := newTestScheduler(repo, conns, source, proc, 0)
	job, err := sched.Start(context.Background(), "conn-1", Options{})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return proc.callCount() > 0
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, sched.Cancel(context.Background(), job.ID))

	final := waitTerminal(t, repo, job.ID)
	assert.Equal(t, StatusCancelled, final.Status)
}

func TestStartRejectsSecondActiveJob(t *testing.T) {
	repo := newMemJobRepo()
	repo.active = true
	conns := &stubConnections{conn: &connection.Connection{ID: "conn-1", DriveID: "drive-1"}}

	sched := newTestScheduler(repo, conns, &stubSource{}, &stubProcessor{}, 0)
	_, err := sched.Start(context.Background(), "conn-1", Options{})
	assert.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestStartUnknownConnection(t *testing.T) {
	sched := newTestScheduler(newMemJobRepo(), &stubConnections{}, &stubSource{}, &stubProcessor{}, 0)
	_, err := sched.Start(context.Background(), "ghost", Options{})
	assert.ErrorIs(t, err, connection.ErrNotFound)
}

func TestStatusTransitionsAreMonotonic(t *testing.T) {
	assert.True(t, CanTransition(StatusPending, StatusCrawling))
	assert.True(t, CanTransition(StatusCrawling, StatusProcessing))
	assert.True(t, CanTransition(StatusProcessing, StatusCompleted))
	assert.True(t, CanTransition(StatusPending, StatusFailed))

	assert.False(t, CanTransition(StatusProcessing, StatusCrawling))
	assert.False(t, CanTransition(StatusCompleted, StatusProcessing))
	assert.False(t, CanTransition(StatusFailed, StatusCompleted))
	assert.False(t, CanTransition(StatusCancelled, StatusCancelled))
}
