// Package service implements the business operations of the vidmark job
// system: job registration, status reads, and the watermark pipeline.
package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"mime"
	"path"
	"strings"

	"github.com/vidmark/vidmark/internal/core"
	"github.com/vidmark/vidmark/internal/data"
	"github.com/vidmark/vidmark/internal/domain/model"
	apperrors "github.com/vidmark/vidmark/internal/errors"
	"github.com/vidmark/vidmark/internal/storage"
)

// VideoServiceOptions groups dependencies for VideoService.
type VideoServiceOptions struct {
	Repo       core.VideoJobRepository // Required: job repository
	Store      core.MediaStore         // Required: object storage gateway
	Cache      core.StatusCache        // Required: status snapshot cache
	Dispatcher core.Dispatcher         // Required: background worker handoff
	Logger     *slog.Logger            // Optional: structured logger

	// WatermarkBaseURL resolves bare watermark selectors ("kling") to
	// overlay asset URLs. Empty means selectors pass through unchanged.
	WatermarkBaseURL string
}

// VideoService provides video job lifecycle operations.
//
// This service manages:
// - Registering uploaded source media as job rows.
// - Serving job status and listings, cache-first.
// - Accepting processing requests and handing them to the worker.
type VideoService struct {
	repo             core.VideoJobRepository
	store            core.MediaStore
	cache            core.StatusCache
	dispatcher       core.Dispatcher
	watermarkBaseURL string
	logger           *slog.Logger
}

// NewVideoService constructs a new VideoService.
func NewVideoService(opts VideoServiceOptions) (*VideoService, error) {
	if opts.Repo == nil {
		return nil, errors.New("VideoJobRepository is required")
	}
	if opts.Store == nil {
		return nil, errors.New("MediaStore is required")
	}
	if opts.Cache == nil {
		return nil, errors.New("StatusCache is required")
	}
	if opts.Dispatcher == nil {
		return nil, errors.New("Dispatcher is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &VideoService{
		repo:             opts.Repo,
		store:            opts.Store,
		cache:            opts.Cache,
		dispatcher:       opts.Dispatcher,
		watermarkBaseURL: opts.WatermarkBaseURL,
		logger:           logger.With("component", "video_service"),
	}, nil
}

// IngestUpload stores server-relayed upload bytes in the object store and
// registers a job row for the resulting media URL.
func (s *VideoService) IngestUpload(
	ctx context.Context,
	body io.Reader,
	fileName, contentType string,
) (*model.VideoJob, error) {
	if fileName == "" {
		return nil, apperrors.Validation("fileName is required and cannot be empty")
	}
	if !isVideoContentType(contentType) {
		return nil, apperrors.Validationf("unsupported content type %q, expected video/*", contentType)
	}

	key := storage.ObjectKey(fileName)
	publicURL, err := s.store.Push(ctx, body, key, contentType)
	if err != nil {
		return nil, err
	}

	job, err := s.repo.Create(ctx, publicURL, model.JobStatusUploaded)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to register uploaded video")
	}

	s.logger.Info("ingested upload", "job_id", job.ID, "key", key)
	return job, nil
}

// Register records an already-stored media URL (typically after a
// client-direct presigned upload) as a new job.
func (s *VideoService) Register(ctx context.Context, req *model.RegisterJobRequest) (*model.VideoJob, error) {
	if req == nil {
		return nil, apperrors.Validation("request body is required")
	}
	if err := req.Validate(); err != nil {
		return nil, apperrors.Validation(err.Error())
	}

	job, err := s.repo.Create(ctx, req.PublicURL, model.JobStatusUploaded)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to register video")
	}

	s.logger.Info("registered video", "job_id", job.ID)
	return job, nil
}

// PresignUpload issues a presigned PUT URL so browsers can upload source
// media directly to the object store.
func (s *VideoService) PresignUpload(
	ctx context.Context,
	req *model.PresignUploadRequest,
) (*model.PresignUploadResponse, error) {
	if req == nil {
		return nil, apperrors.Validation("request body is required")
	}
	if err := req.Validate(); err != nil {
		return nil, apperrors.Validation(err.Error())
	}
	if !isVideoContentType(req.ContentType) {
		return nil, apperrors.Validationf("unsupported content type %q, expected video/*", req.ContentType)
	}

	uploadURL, key, publicURL, err := s.store.PresignUpload(ctx, req.FileName, req.ContentType)
	if err != nil {
		return nil, err
	}

	return &model.PresignUploadResponse{
		UploadURL: uploadURL,
		Key:       key,
		PublicURL: publicURL,
	}, nil
}

// Get returns a job snapshot, serving from the cache when possible so
// browser polling does not hammer Postgres.
func (s *VideoService) Get(ctx context.Context, id int64) (*model.VideoJob, error) {
	if cached, err := s.cache.Get(ctx, id); err != nil {
		// Cache trouble never fails a read; fall through to the database.
		s.logger.Warn("status cache read failed", "job_id", id, "error", err)
	} else if cached != nil {
		return cached, nil
	}

	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, mapRepoError(err, id)
	}

	if cacheErr := s.cache.Set(ctx, job); cacheErr != nil {
		s.logger.Warn("status cache write failed", "job_id", id, "error", cacheErr)
	}
	return job, nil
}

// List returns the newest jobs first.
func (s *VideoService) List(ctx context.Context, limit int) ([]*model.VideoJob, error) {
	jobs, err := s.repo.ListRecent(ctx, limit)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to list videos")
	}
	return jobs, nil
}

// Stats returns job counts per status.
func (s *VideoService) Stats(ctx context.Context) (*model.JobStats, error) {
	stats, err := s.repo.CountByStatus(ctx)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to count videos")
	}
	return stats, nil
}

// Reset returns a job to pending so it can be processed again, clearing any
// stored error.
func (s *VideoService) Reset(ctx context.Context, id int64) (*model.VideoJob, error) {
	job, err := s.repo.Reset(ctx, id)
	if err != nil {
		return nil, mapRepoError(err, id)
	}
	s.refreshCache(ctx, job)

	s.logger.Info("reset video job", "job_id", id)
	return job, nil
}

// RequestProcess accepts a watermark request for a job: it atomically
// queues the job, records the chosen watermark and anchor, and hands the
// job to the background worker. Duplicate submissions for an in-flight job
// are rejected rather than queued twice.
func (s *VideoService) RequestProcess(
	ctx context.Context,
	id int64,
	req *model.ProcessRequest,
) (*model.VideoJob, error) {
	if req == nil {
		return nil, apperrors.Validation("request body is required")
	}
	if err := req.Validate(); err != nil {
		return nil, apperrors.Validation(err.Error())
	}

	watermark := ResolveWatermarkURL(s.watermarkBaseURL, req.Watermark)
	job, err := s.repo.MarkQueued(ctx, id, watermark, req.Position)
	if err != nil {
		return nil, mapRepoError(err, id)
	}
	s.refreshCache(ctx, job)

	item := core.WorkItem{
		JobID:   id,
		Opacity: req.Opacity,
		Scale:   req.Scale,
		Format:  req.Format,
	}
	if enqueueErr := s.dispatcher.Enqueue(ctx, item); enqueueErr != nil {
		// The queue is full; put the row back so the client can retry.
		if _, resetErr := s.repo.Reset(ctx, id); resetErr != nil {
			s.logger.Error("failed to reset job after enqueue failure", "job_id", id, "error", resetErr)
		} else {
			s.cacheInvalidate(ctx, id)
		}
		return nil, apperrors.Unavailable("processing queue is full, try again later")
	}

	s.logger.Info("queued video job",
		"job_id", id,
		"position", req.Position,
		"opacity", req.Opacity,
		"scale", req.Scale,
		"format", req.Format)
	return job, nil
}

// refreshCache writes a fresh snapshot after a state transition, best effort.
func (s *VideoService) refreshCache(ctx context.Context, job *model.VideoJob) {
	if err := s.cache.Set(ctx, job); err != nil {
		s.logger.Warn("status cache refresh failed", "job_id", job.ID, "error", err)
	}
}

func (s *VideoService) cacheInvalidate(ctx context.Context, id int64) {
	if err := s.cache.Invalidate(ctx, id); err != nil {
		s.logger.Warn("status cache invalidate failed", "job_id", id, "error", err)
	}
}

// mapRepoError converts data-layer sentinels into application errors.
func mapRepoError(err error, id int64) error {
	switch {
	case errors.Is(err, data.ErrVideoJobNotFound):
		return apperrors.NotFoundf("video job %d not found", id)
	case errors.Is(err, data.ErrJobNotQueueable):
		return apperrors.Conflict("job is already queued or processing")
	case errors.Is(err, data.ErrJobNotClaimable):
		return apperrors.Conflict("job is not queued")
	default:
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "database operation failed")
	}
}

// ResolveWatermarkURL maps a watermark selector to an overlay asset URL.
// Full URLs pass through; bare selectors are joined onto base and get a
// .png extension when they carry none. With no base the selector is
// returned as-is.
func ResolveWatermarkURL(base, watermark string) string {
	if watermark == "" || base == "" || strings.Contains(watermark, "://") {
		return watermark
	}
	name := watermark
	if path.Ext(name) == "" {
		name += ".png"
	}
	return strings.TrimRight(base, "/") + "/" + name
}

// isVideoContentType accepts video/* media types, tolerating parameters.
func isVideoContentType(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return strings.HasPrefix(mt, "video/")
}
