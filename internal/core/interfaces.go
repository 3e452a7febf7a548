// Package core defines the interfaces between the service layer and its
// persistence, storage, and execution adapters.
package core

import (
	"context"
	"errors"
	"io"

	"github.com/vidmark/vidmark/internal/domain/model"
)

// ErrQueueFull is returned by Enqueue when the worker cannot accept more work.
var ErrQueueFull = errors.New("processing queue is full")

// VideoJobRepository defines the interface for video job persistence.
type VideoJobRepository interface {
	Create(ctx context.Context, sourceURL string, status model.JobStatus) (*model.VideoJob, error)
	GetByID(ctx context.Context, id int64) (*model.VideoJob, error)
	ListRecent(ctx context.Context, limit int) ([]*model.VideoJob, error)
	// MarkQueued transitions a job to queued only when it is not already
	// queued or processing. Concurrent submitters race on the guarded
	// update; losers receive a not-queueable error.
	MarkQueued(ctx context.Context, id int64, watermark string, position model.WatermarkPosition) (*model.VideoJob, error)
	// Claim transitions a queued job to processing; only one caller wins.
	Claim(ctx context.Context, id int64) (*model.VideoJob, error)
	Complete(ctx context.Context, id int64, resultURL string) (*model.VideoJob, error)
	Fail(ctx context.Context, id int64, message string) (*model.VideoJob, error)
	Reset(ctx context.Context, id int64) (*model.VideoJob, error)
	CountByStatus(ctx context.Context) (*model.JobStats, error)
}

// StatusCache defines the interface for short-lived job snapshot caching.
type StatusCache interface {
	// Get returns a cached snapshot, or nil on miss.
	Get(ctx context.Context, id int64) (*model.VideoJob, error)
	Set(ctx context.Context, job *model.VideoJob) error
	Invalidate(ctx context.Context, id int64) error
}

// MediaStore defines the interface for moving media between local scratch
// space and the object store.
type MediaStore interface {
	// FetchToLocal downloads a media URL into scratch space. The returned
	// cleanup removes the file and must always be called.
	FetchToLocal(ctx context.Context, mediaURL string) (path string, cleanup func(), err error)
	PushFromLocal(ctx context.Context, localPath, key, contentType string) (publicURL string, err error)
	Push(ctx context.Context, body io.Reader, key, contentType string) (publicURL string, err error)
	PresignUpload(ctx context.Context, fileName, contentType string) (uploadURL, key, publicURL string, err error)
	PublicURL(key string) string
	ScratchDir() string
}

// MediaRunner defines the interface for executing the external media tool.
type MediaRunner interface {
	Run(ctx context.Context, args []string, sink io.Writer) error
}

// WorkItem is a queued processing request. The watermark URL and anchor are
// persisted on the job row; the transient encode knobs ride along in memory.
type WorkItem struct {
	JobID   int64
	Opacity float64
	Scale   float64
	Format  model.OutputContainer
}

// Dispatcher defines the interface for handing accepted jobs to the
// background worker.
type Dispatcher interface {
	// Enqueue submits a work item for background processing. It returns an
	// error without blocking when the queue is full.
	Enqueue(ctx context.Context, item WorkItem) error
}

// Processor defines the interface for running the watermark pipeline on a
// claimed job.
type Processor interface {
	Process(ctx context.Context, item WorkItem) error
}
