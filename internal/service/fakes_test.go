package service

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vidmark/vidmark/internal/core"
	"github.com/vidmark/vidmark/internal/data"
	"github.com/vidmark/vidmark/internal/domain/model"
)

// fakeRepo is an in-memory VideoJobRepository.
type fakeRepo struct {
	mu     sync.Mutex
	nextID int64
	jobs   map[int64]*model.VideoJob

	failCreate error
	failClaim  error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{jobs: make(map[int64]*model.VideoJob)}
}

func (r *fakeRepo) clone(job *model.VideoJob) *model.VideoJob {
	c := *job
	return &c
}

func (r *fakeRepo) Create(_ context.Context, sourceURL string, status model.JobStatus) (*model.VideoJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failCreate != nil {
		return nil, r.failCreate
	}
	r.nextID++
	job := &model.VideoJob{
		ID:        r.nextID,
		SourceURL: sourceURL,
		Status:    status,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	r.jobs[job.ID] = job
	return r.clone(job), nil
}

func (r *fakeRepo) GetByID(_ context.Context, id int64) (*model.VideoJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, data.ErrVideoJobNotFound
	}
	return r.clone(job), nil
}

func (r *fakeRepo) ListRecent(_ context.Context, limit int) ([]*model.VideoJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*model.VideoJob, 0, len(r.jobs))
	for id := r.nextID; id > 0 && len(out) < limit; id-- {
		if job, ok := r.jobs[id]; ok {
			out = append(out, r.clone(job))
		}
	}
	return out, nil
}

func (r *fakeRepo) MarkQueued(_ context.Context, id int64, watermark string, position model.WatermarkPosition) (*model.VideoJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, data.ErrVideoJobNotFound
	}
	if job.Status == model.JobStatusQueued || job.Status == model.JobStatusProcessing {
		return nil, data.ErrJobNotQueueable
	}
	job.Status = model.JobStatusQueued
	job.Watermark = &watermark
	p := position
	job.Position = &p
	job.ErrorMessage = nil
	return r.clone(job), nil
}

func (r *fakeRepo) Claim(_ context.Context, id int64) (*model.VideoJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failClaim != nil {
		return nil, r.failClaim
	}
	job, ok := r.jobs[id]
	if !ok {
		return nil, data.ErrVideoJobNotFound
	}
	if job.Status != model.JobStatusQueued {
		return nil, data.ErrJobNotClaimable
	}
	job.Status = model.JobStatusProcessing
	return r.clone(job), nil
}

func (r *fakeRepo) Complete(_ context.Context, id int64, resultURL string) (*model.VideoJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, data.ErrVideoJobNotFound
	}
	job.Status = model.JobStatusCompleted
	job.ResultURL = &resultURL
	job.ErrorMessage = nil
	return r.clone(job), nil
}

func (r *fakeRepo) Fail(_ context.Context, id int64, message string) (*model.VideoJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, data.ErrVideoJobNotFound
	}
	job.Status = model.JobStatusFailed
	job.ErrorMessage = &message
	return r.clone(job), nil
}

func (r *fakeRepo) Reset(_ context.Context, id int64) (*model.VideoJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, data.ErrVideoJobNotFound
	}
	job.Status = model.JobStatusPending
	job.ErrorMessage = nil
	return r.clone(job), nil
}

func (r *fakeRepo) CountByStatus(_ context.Context) (*model.JobStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var stats model.JobStats
	for _, job := range r.jobs {
		switch job.Status {
		case model.JobStatusUploaded:
			stats.Uploaded++
		case model.JobStatusPending:
			stats.Pending++
		case model.JobStatusQueued:
			stats.Queued++
		case model.JobStatusProcessing:
			stats.Processing++
		case model.JobStatusCompleted:
			stats.Completed++
		case model.JobStatusFailed:
			stats.Failed++
		}
	}
	return &stats, nil
}

// fakeStore is an in-memory MediaStore.
type fakeStore struct {
	mu         sync.Mutex
	scratchDir string
	pushed     map[string]string // key -> contentType

	failFetch error
	failPush  error
}

func newFakeStore(scratchDir string) *fakeStore {
	return &fakeStore{scratchDir: scratchDir, pushed: make(map[string]string)}
}

func (s *fakeStore) FetchToLocal(_ context.Context, mediaURL string) (string, func(), error) {
	if s.failFetch != nil {
		return "", nil, s.failFetch
	}
	f, err := os.CreateTemp(s.scratchDir, "fetched-*")
	if err != nil {
		return "", nil, err
	}
	fmt.Fprintf(f, "contents of %s", mediaURL)
	_ = f.Close()
	return f.Name(), func() { _ = os.Remove(f.Name()) }, nil
}

func (s *fakeStore) PushFromLocal(_ context.Context, localPath, key, contentType string) (string, error) {
	if s.failPush != nil {
		return "", s.failPush
	}
	if _, err := os.Stat(localPath); err != nil {
		return "", fmt.Errorf("local file missing: %w", err)
	}
	s.mu.Lock()
	s.pushed[key] = contentType
	s.mu.Unlock()
	return s.PublicURL(key), nil
}

func (s *fakeStore) Push(_ context.Context, body io.Reader, key, contentType string) (string, error) {
	if s.failPush != nil {
		return "", s.failPush
	}
	_, _ = io.Copy(io.Discard, body)
	s.mu.Lock()
	s.pushed[key] = contentType
	s.mu.Unlock()
	return s.PublicURL(key), nil
}

func (s *fakeStore) PresignUpload(_ context.Context, fileName, _ string) (string, string, string, error) {
	key := "videos/fixed-uuid_" + fileName
	return "https://store.example.com/presigned/" + key, key, s.PublicURL(key), nil
}

func (s *fakeStore) PublicURL(key string) string {
	return "https://media.example.com/" + key
}

func (s *fakeStore) ScratchDir() string { return s.scratchDir }

// fakeCache is an in-memory StatusCache.
type fakeCache struct {
	mu      sync.Mutex
	entries map[int64]*model.VideoJob
	sets    int
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[int64]*model.VideoJob)}
}

func (c *fakeCache) Get(_ context.Context, id int64) (*model.VideoJob, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[id], nil
}

func (c *fakeCache) Set(_ context.Context, job *model.VideoJob) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[job.ID] = job
	c.sets++
	return nil
}

func (c *fakeCache) Invalidate(_ context.Context, id int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
	return nil
}

// fakeDispatcher records enqueued work items.
type fakeDispatcher struct {
	mu    sync.Mutex
	items []core.WorkItem
	err   error
}

func (d *fakeDispatcher) Enqueue(_ context.Context, item core.WorkItem) error {
	if d.err != nil {
		return d.err
	}
	d.mu.Lock()
	d.items = append(d.items, item)
	d.mu.Unlock()
	return nil
}

// fakeRunner records ffmpeg argument vectors and simulates output.
type fakeRunner struct {
	mu     sync.Mutex
	calls  [][]string
	output string
	err    error
}

func (r *fakeRunner) Run(_ context.Context, args []string, sink io.Writer) error {
	r.mu.Lock()
	r.calls = append(r.calls, args)
	r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	if sink != nil {
		_, _ = io.WriteString(sink, r.output)
	} else {
		// File-targeted invocations must leave the output in place.
		out := args[len(args)-1]
		if err := os.WriteFile(out, []byte(r.output), 0o600); err != nil {
			return err
		}
	}
	return nil
}

func (r *fakeRunner) lastArgs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.calls) == 0 {
		return nil
	}
	return r.calls[len(r.calls)-1]
}

// scratchFile asserts helper: returns files left in dir.
func scratchFiles(dir string) []string {
	matches, _ := filepath.Glob(filepath.Join(dir, "*"))
	return matches
}
