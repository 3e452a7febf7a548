package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/vidmark/vidmark/internal/core"
	"github.com/vidmark/vidmark/internal/data"
	"github.com/vidmark/vidmark/internal/domain/model"
	apperrors "github.com/vidmark/vidmark/internal/errors"
	"github.com/vidmark/vidmark/internal/media"
	"github.com/vidmark/vidmark/internal/storage"
)

// PipelineServiceOptions groups dependencies for PipelineService.
type PipelineServiceOptions struct {
	Repo   core.VideoJobRepository // Required: job repository
	Store  core.MediaStore         // Required: object storage gateway
	Runner core.MediaRunner        // Required: ffmpeg runner
	Cache  core.StatusCache        // Required: status snapshot cache
	Logger *slog.Logger            // Optional: structured logger

	// WatermarkBaseURL resolves bare watermark selectors for the
	// synchronous streaming path; queued jobs carry resolved URLs already.
	WatermarkBaseURL string
}

// PipelineService runs the watermark pipeline for queued jobs and serves
// the synchronous streaming variants.
//
// The async pipeline for a claimed job is:
// claim -> fetch source -> fetch overlay -> run ffmpeg -> push result -> complete.
// Any step failing marks the job failed with the step's reason; scratch
// files are removed on every path.
type PipelineService struct {
	repo             core.VideoJobRepository
	store            core.MediaStore
	runner           core.MediaRunner
	cache            core.StatusCache
	watermarkBaseURL string
	logger           *slog.Logger
}

// NewPipelineService constructs a new PipelineService.
func NewPipelineService(opts PipelineServiceOptions) (*PipelineService, error) {
	if opts.Repo == nil {
		return nil, errors.New("VideoJobRepository is required")
	}
	if opts.Store == nil {
		return nil, errors.New("MediaStore is required")
	}
	if opts.Runner == nil {
		return nil, errors.New("MediaRunner is required")
	}
	if opts.Cache == nil {
		return nil, errors.New("StatusCache is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &PipelineService{
		repo:             opts.Repo,
		store:            opts.Store,
		runner:           opts.Runner,
		cache:            opts.Cache,
		watermarkBaseURL: opts.WatermarkBaseURL,
		logger:           logger.With("component", "pipeline_service"),
	}, nil
}

// Process runs the full watermark pipeline for a queued job. Losing the
// claim race is not an error: another worker owns the job.
func (s *PipelineService) Process(ctx context.Context, item core.WorkItem) error {
	job, err := s.repo.Claim(ctx, item.JobID)
	if err != nil {
		if errors.Is(err, data.ErrJobNotClaimable) || errors.Is(err, data.ErrVideoJobNotFound) {
			s.logger.Info("skipping job, no longer claimable", "job_id", item.JobID)
			return nil
		}
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to claim job")
	}
	s.refresh(ctx, job)

	if runErr := s.run(ctx, job, item); runErr != nil {
		s.markFailed(ctx, job.ID, runErr)
		return runErr
	}
	return nil
}

func (s *PipelineService) run(ctx context.Context, job *model.VideoJob, item core.WorkItem) error {
	if job.Watermark == nil || *job.Watermark == "" {
		return apperrors.Validation("job has no watermark recorded")
	}
	position := model.PositionBottomRight
	if job.Position != nil {
		position = job.Position.Normalize()
	}

	srcPath, srcCleanup, err := s.store.FetchToLocal(ctx, job.SourceURL)
	if err != nil {
		return err
	}
	defer srcCleanup()

	overlayPath, overlayCleanup, err := s.store.FetchToLocal(ctx, *job.Watermark)
	if err != nil {
		return err
	}
	defer overlayCleanup()

	format := item.Format.Normalize()
	outPath := filepath.Join(s.store.ScratchDir(),
		fmt.Sprintf("vidmark-out-%s.%s", uuid.NewString(), format))
	defer func() {
		if rmErr := os.Remove(outPath); rmErr != nil && !os.IsNotExist(rmErr) {
			s.logger.Warn("failed to remove scratch output", "path", outPath, "error", rmErr)
		}
	}()

	opacity := item.Opacity
	if opacity == 0 {
		opacity = model.DefaultOpacity
	}
	scale := item.Scale
	if scale == 0 {
		scale = model.DefaultScale
	}

	args, err := media.BuildWatermarkArgs(media.WatermarkSpec{
		Input:    srcPath,
		Overlay:  overlayPath,
		Position: position,
		Opacity:  opacity,
		Scale:    scale,
		Format:   format,
		Output:   outPath,
	})
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid watermark parameters")
	}

	s.logger.Info("processing video job", "job_id", job.ID, "position", position, "format", format)
	if runErr := s.runner.Run(ctx, args, nil); runErr != nil {
		return apperrors.Wrap(runErr, apperrors.ErrCodeProcess, "watermarking failed")
	}

	key := storage.ObjectKey(fmt.Sprintf("watermarked-%d.%s", job.ID, format))
	resultURL, err := s.store.PushFromLocal(ctx, outPath, key, format.MIMEType())
	if err != nil {
		return err
	}

	completed, err := s.repo.Complete(ctx, job.ID, resultURL)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to record completion")
	}
	s.refresh(ctx, completed)

	s.logger.Info("completed video job", "job_id", job.ID, "result_url", resultURL)
	return nil
}

// markFailed records a pipeline failure, best effort. The original error is
// what callers see; a failed status write only gets logged.
func (s *PipelineService) markFailed(ctx context.Context, id int64, cause error) {
	failed, err := s.repo.Fail(ctx, id, cause.Error())
	if err != nil {
		s.logger.Error("failed to mark job failed", "job_id", id, "error", err, "cause", cause)
		return
	}
	s.refresh(ctx, failed)
	s.logger.Warn("video job failed", "job_id", id, "error", cause)
}

func (s *PipelineService) refresh(ctx context.Context, job *model.VideoJob) {
	if err := s.cache.Set(ctx, job); err != nil {
		s.logger.Warn("status cache refresh failed", "job_id", job.ID, "error", err)
	}
}

// StreamWatermark runs the watermark filter synchronously, writing the
// produced media to w as ffmpeg emits it. The job row is not touched: this
// is the preview path, ffmpeg reads both inputs straight from their URLs.
func (s *PipelineService) StreamWatermark(
	ctx context.Context,
	job *model.VideoJob,
	req *model.ProcessRequest,
	w io.Writer,
) error {
	if req == nil {
		return apperrors.Validation("watermark parameters are required")
	}
	if err := req.Validate(); err != nil {
		return apperrors.Validation(err.Error())
	}

	args, err := media.BuildWatermarkArgs(media.WatermarkSpec{
		Input:    job.SourceURL,
		Overlay:  ResolveWatermarkURL(s.watermarkBaseURL, req.Watermark),
		Position: req.Position,
		Opacity:  req.Opacity,
		Scale:    req.Scale,
		Format:   req.Format,
		Output:   media.PipeOutput,
	})
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid watermark parameters")
	}

	if runErr := s.runner.Run(ctx, args, w); runErr != nil {
		return apperrors.Wrap(runErr, apperrors.ErrCodeProcess, "watermarking failed")
	}
	return nil
}

// StreamConvert transcodes a media URL to the requested container, writing
// the produced media to w as ffmpeg emits it.
func (s *PipelineService) StreamConvert(
	ctx context.Context,
	mediaURL string,
	format model.OutputContainer,
	quality model.QualityTier,
	w io.Writer,
) error {
	if mediaURL == "" {
		return apperrors.Validation("url is required and cannot be empty")
	}

	args, err := media.BuildConvertArgs(media.ConvertSpec{
		Input:   mediaURL,
		Format:  format,
		Quality: quality,
		Output:  media.PipeOutput,
	})
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid conversion parameters")
	}

	if runErr := s.runner.Run(ctx, args, w); runErr != nil {
		return apperrors.Wrap(runErr, apperrors.ErrCodeProcess, "conversion failed")
	}
	return nil
}
