// Package data provides Postgres-backed persistence for video jobs and the
// Redis-backed status cache.
package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vidmark/vidmark/internal/domain/model"
)

// Shared sentinel errors for the video job repository.
var (
	// ErrVideoJobNotFound is returned when a job row does not exist.
	ErrVideoJobNotFound = errors.New("video job not found")
	// ErrJobNotQueueable is returned when a processing request targets a job
	// that is already queued or processing.
	ErrJobNotQueueable = errors.New("job is already queued or processing")
	// ErrJobNotClaimable is returned when a worker tries to claim a job that
	// is no longer queued.
	ErrJobNotClaimable = errors.New("job is not queued")
)

// maxListLimit caps ListRecent page sizes.
const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// VideoRepo provides database operations for video job management.
type VideoRepo struct {
	DB     *sql.DB
	logger *slog.Logger
}

// NewVideoRepo creates a new VideoRepo instance with the given database connection.
func NewVideoRepo(db *sql.DB, logger *slog.Logger) *VideoRepo {
	return &VideoRepo{DB: db, logger: logger}
}

const videoJobColumns = `
  id,
  source_url,
  result_url,
  watermark,
  position,
  status,
  error_message,
  created_at,
  updated_at
`

// scanner abstracts *sql.Row and *sql.Rows for scanVideoJob.
type scanner interface {
	Scan(dest ...any) error
}

func scanVideoJob(row scanner) (*model.VideoJob, error) {
	var (
		job      model.VideoJob
		position sql.NullString
	)
	err := row.Scan(
		&job.ID,
		&job.SourceURL,
		&job.ResultURL,
		&job.Watermark,
		&position,
		&job.Status,
		&job.ErrorMessage,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if position.Valid {
		p := model.WatermarkPosition(position.String)
		job.Position = &p
	}
	return &job, nil
}

// Create inserts a new job row for already-stored source media.
func (r *VideoRepo) Create(ctx context.Context, sourceURL string, status model.JobStatus) (*model.VideoJob, error) {
	if sourceURL == "" {
		return nil, errors.New("source URL is required")
	}
	if !status.Valid() {
		return nil, fmt.Errorf("invalid job status: %q", status)
	}

	row := r.DB.QueryRowContext(ctx, `
		INSERT INTO video_jobs (source_url, status)
		VALUES ($1, $2)
		RETURNING `+videoJobColumns, sourceURL, status)

	job, err := scanVideoJob(row)
	if err != nil {
		return nil, fmt.Errorf("insert video job: %w", mapPgError(err))
	}

	r.logger.Debug("created video job", "job_id", job.ID, "status", job.Status)
	return job, nil
}

// GetByID fetches a single job row.
func (r *VideoRepo) GetByID(ctx context.Context, id int64) (*model.VideoJob, error) {
	row := r.DB.QueryRowContext(ctx, `
		SELECT `+videoJobColumns+`
		FROM video_jobs
		WHERE id = $1`, id)

	job, err := scanVideoJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrVideoJobNotFound
		}
		return nil, fmt.Errorf("get video job: %w", err)
	}
	return job, nil
}

// ListRecent returns the newest jobs first. Limits outside [1,100] are
// clamped rather than rejected.
func (r *VideoRepo) ListRecent(ctx context.Context, limit int) ([]*model.VideoJob, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	rows, err := r.DB.QueryContext(ctx, `
		SELECT `+videoJobColumns+`
		FROM video_jobs
		ORDER BY created_at DESC, id DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list video jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]*model.VideoJob, 0, limit)
	for rows.Next() {
		job, scanErr := scanVideoJob(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan video job: %w", scanErr)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate video jobs: %w", err)
	}
	return jobs, nil
}

// MarkQueued atomically transitions a job to queued and records the chosen
// watermark and anchor. The guarded UPDATE is what makes concurrent
// processing requests safe: only one caller observes the transition, later
// callers get ErrJobNotQueueable.
func (r *VideoRepo) MarkQueued(
	ctx context.Context,
	id int64,
	watermark string,
	position model.WatermarkPosition,
) (*model.VideoJob, error) {
	row := r.DB.QueryRowContext(ctx, `
		UPDATE video_jobs
		SET status = $2,
		    watermark = $3,
		    position = $4,
		    error_message = NULL,
		    updated_at = now()
		WHERE id = $1
		  AND status NOT IN ($5, $6)
		RETURNING `+videoJobColumns,
		id, model.JobStatusQueued, watermark, position,
		model.JobStatusQueued, model.JobStatusProcessing)

	job, err := scanVideoJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, r.explainMissedUpdate(ctx, id, ErrJobNotQueueable)
		}
		return nil, fmt.Errorf("queue video job: %w", mapPgError(err))
	}
	return job, nil
}

// Claim atomically transitions a queued job to processing. Exactly one
// worker wins; others get ErrJobNotClaimable.
func (r *VideoRepo) Claim(ctx context.Context, id int64) (*model.VideoJob, error) {
	row := r.DB.QueryRowContext(ctx, `
		UPDATE video_jobs
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+videoJobColumns,
		id, model.JobStatusProcessing, model.JobStatusQueued)

	job, err := scanVideoJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, r.explainMissedUpdate(ctx, id, ErrJobNotClaimable)
		}
		return nil, fmt.Errorf("claim video job: %w", err)
	}
	return job, nil
}

// Complete records a successful pipeline run: the result URL is stored and
// any stale error message is cleared.
func (r *VideoRepo) Complete(ctx context.Context, id int64, resultURL string) (*model.VideoJob, error) {
	row := r.DB.QueryRowContext(ctx, `
		UPDATE video_jobs
		SET status = $2,
		    result_url = $3,
		    error_message = NULL,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+videoJobColumns,
		id, model.JobStatusCompleted, resultURL)

	job, err := scanVideoJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrVideoJobNotFound
		}
		return nil, fmt.Errorf("complete video job: %w", err)
	}
	return job, nil
}

// Fail records a failed pipeline run with its reason.
func (r *VideoRepo) Fail(ctx context.Context, id int64, message string) (*model.VideoJob, error) {
	row := r.DB.QueryRowContext(ctx, `
		UPDATE video_jobs
		SET status = $2,
		    error_message = $3,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+videoJobColumns,
		id, model.JobStatusFailed, truncate(message, maxErrorMessageLen))

	job, err := scanVideoJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrVideoJobNotFound
		}
		return nil, fmt.Errorf("fail video job: %w", err)
	}
	return job, nil
}

// Reset returns a job to pending so it can be processed again. The previous
// error is cleared; the stored result URL is kept until a new run replaces it.
func (r *VideoRepo) Reset(ctx context.Context, id int64) (*model.VideoJob, error) {
	row := r.DB.QueryRowContext(ctx, `
		UPDATE video_jobs
		SET status = $2,
		    error_message = NULL,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+videoJobColumns,
		id, model.JobStatusPending)

	job, err := scanVideoJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrVideoJobNotFound
		}
		return nil, fmt.Errorf("reset video job: %w", err)
	}
	return job, nil
}

// CountByStatus returns job counts per status for the admin surface.
func (r *VideoRepo) CountByStatus(ctx context.Context) (*model.JobStats, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT status, COUNT(*)
		FROM video_jobs
		GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count video jobs: %w", err)
	}
	defer rows.Close()

	var stats model.JobStats
	for rows.Next() {
		var (
			status model.JobStatus
			count  int
		)
		if scanErr := rows.Scan(&status, &count); scanErr != nil {
			return nil, fmt.Errorf("scan job counts: %w", scanErr)
		}
		switch status {
		case model.JobStatusUploaded:
			stats.Uploaded = count
		case model.JobStatusPending:
			stats.Pending = count
		case model.JobStatusQueued:
			stats.Queued = count
		case model.JobStatusProcessing:
			stats.Processing = count
		case model.JobStatusCompleted:
			stats.Completed = count
		case model.JobStatusFailed:
			stats.Failed = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job counts: %w", err)
	}
	return &stats, nil
}

// explainMissedUpdate distinguishes "row missing" from "guard not met" after
// a guarded UPDATE matched nothing.
func (r *VideoRepo) explainMissedUpdate(ctx context.Context, id int64, guardErr error) error {
	var exists bool
	if err := r.DB.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM video_jobs WHERE id = $1)`, id,
	).Scan(&exists); err != nil {
		return fmt.Errorf("check video job existence: %w", err)
	}
	if !exists {
		return ErrVideoJobNotFound
	}
	return guardErr
}

const maxErrorMessageLen = 2000

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

// mapPgError surfaces constraint violations with their constraint name so
// callers can report them as input problems instead of opaque SQL errors.
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case pgerrcode.CheckViolation:
		return fmt.Errorf("constraint %s violated: %w", pgErr.ConstraintName, err)
	case pgerrcode.UniqueViolation:
		return fmt.Errorf("duplicate value for constraint %s: %w", pgErr.ConstraintName, err)
	}
	return err
}
