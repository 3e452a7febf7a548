// Package model defines the core data types and structures used throughout the vidmark job system.
package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// JobStatus represents the current status of a video job.
type JobStatus string

const (
	// JobStatusUploaded indicates the source media has been stored and the job registered.
	JobStatusUploaded JobStatus = "uploaded"
	// JobStatusPending indicates a job is waiting for a processing request.
	JobStatusPending JobStatus = "pending"
	// JobStatusQueued indicates a processing request was accepted but not yet started.
	JobStatusQueued JobStatus = "queued"
	// JobStatusProcessing indicates the pipeline is currently running for this job.
	JobStatusProcessing JobStatus = "processing"
	// JobStatusCompleted indicates processing finished and the result was stored.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates processing failed; ErrorMessage carries the reason.
	JobStatusFailed JobStatus = "failed"
)

// Valid returns true if the JobStatus is valid.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusUploaded, JobStatusPending, JobStatusQueued,
		JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

// Terminal returns true when the status is an end state of the pipeline.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// WatermarkPosition identifies the corner (or center) the overlay is anchored to.
type WatermarkPosition string

const (
	PositionTopLeft     WatermarkPosition = "top-left"
	PositionTopRight    WatermarkPosition = "top-right"
	PositionBottomLeft  WatermarkPosition = "bottom-left"
	PositionBottomRight WatermarkPosition = "bottom-right"
	PositionCenter      WatermarkPosition = "center"
)

// Valid returns true if the WatermarkPosition is one of the five anchors.
func (p WatermarkPosition) Valid() bool {
	switch p {
	case PositionTopLeft, PositionTopRight, PositionBottomLeft, PositionBottomRight, PositionCenter:
		return true
	}
	return false
}

// Normalize lowercases the position and falls back to bottom-right for
// unknown values. Unknown positions are a documented default, not an error.
func (p WatermarkPosition) Normalize() WatermarkPosition {
	n := WatermarkPosition(strings.ToLower(strings.TrimSpace(string(p))))
	if n.Valid() {
		return n
	}
	return PositionBottomRight
}

// OutputContainer is the target container/codec family for produced media.
type OutputContainer string

const (
	ContainerMP4  OutputContainer = "mp4"
	ContainerWebM OutputContainer = "webm"
)

// Valid returns true if the OutputContainer is supported.
func (c OutputContainer) Valid() bool {
	return c == ContainerMP4 || c == ContainerWebM
}

// Normalize lowercases the container and falls back to mp4 for unknown values.
func (c OutputContainer) Normalize() OutputContainer {
	n := OutputContainer(strings.ToLower(strings.TrimSpace(string(c))))
	if n.Valid() {
		return n
	}
	return ContainerMP4
}

// MIMEType returns the Content-Type for media in this container.
func (c OutputContainer) MIMEType() string {
	return "video/" + string(c.Normalize())
}

// QualityTier is the coarse encoding-effort/size tradeoff knob.
type QualityTier string

const (
	QualityLow    QualityTier = "low"
	QualityMedium QualityTier = "medium"
	QualityHigh   QualityTier = "high"
)

// Valid returns true if the QualityTier is supported.
func (q QualityTier) Valid() bool {
	return q == QualityLow || q == QualityMedium || q == QualityHigh
}

// Normalize lowercases the tier and falls back to medium for unknown values.
func (q QualityTier) Normalize() QualityTier {
	n := QualityTier(strings.ToLower(strings.TrimSpace(string(q))))
	if n.Valid() {
		return n
	}
	return QualityMedium
}

// VideoJob represents a watermark/convert job row with all its metadata.
type VideoJob struct {
	ID           int64              `json:"id"                     db:"id"`
	SourceURL    string             `json:"source_url"             db:"source_url"`
	ResultURL    *string            `json:"result_url,omitempty"   db:"result_url"`
	Watermark    *string            `json:"watermark,omitempty"    db:"watermark"`
	Position     *WatermarkPosition `json:"position,omitempty"     db:"position"`
	Status       JobStatus          `json:"status"                 db:"status"`
	ErrorMessage *string            `json:"error_message,omitempty" db:"error_message"`
	CreatedAt    time.Time          `json:"created_at"             db:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"             db:"updated_at"`
}

// RegisterJobRequest represents a request to register an already-uploaded video.
type RegisterJobRequest struct {
	PublicURL string `json:"publicUrl"`
}

// Validate validates the RegisterJobRequest fields.
func (r *RegisterJobRequest) Validate() error {
	if strings.TrimSpace(r.PublicURL) == "" {
		return errors.New("publicUrl is required and cannot be empty")
	}
	if !strings.HasPrefix(r.PublicURL, "http://") && !strings.HasPrefix(r.PublicURL, "https://") {
		return errors.New("publicUrl must use http or https scheme")
	}
	return nil
}

// PresignUploadRequest represents a request for a client-direct upload URL.
type PresignUploadRequest struct {
	FileName    string `json:"fileName"`
	ContentType string `json:"contentType"`
}

// Validate validates the PresignUploadRequest fields.
func (r *PresignUploadRequest) Validate() error {
	if strings.TrimSpace(r.FileName) == "" {
		return errors.New("fileName is required and cannot be empty")
	}
	if strings.TrimSpace(r.ContentType) == "" {
		return errors.New("contentType is required and cannot be empty")
	}
	return nil
}

// PresignUploadResponse carries the presigned PUT URL for a client-direct
// upload plus the key and public URL the object will have once uploaded.
type PresignUploadResponse struct {
	UploadURL string `json:"uploadUrl"`
	Key       string `json:"key"`
	PublicURL string `json:"publicUrl"`
}

// ProcessRequest represents a request to watermark a registered job.
//
// Position, Format and unknown enum values fall back to documented
// defaults rather than failing; Opacity and Scale are hard-validated
// because out-of-range values produce broken filter graphs.
type ProcessRequest struct {
	Watermark string            `json:"watermark"`
	Position  WatermarkPosition `json:"position,omitempty"`
	Opacity   float64           `json:"opacity,omitempty"`
	Scale     float64           `json:"scale,omitempty"`
	Format    OutputContainer   `json:"format,omitempty"`
}

// Defaults observed in the deployed service.
const (
	DefaultOpacity = 0.8
	DefaultScale   = 0.1
)

// Validate validates the ProcessRequest fields and applies defaults.
func (r *ProcessRequest) Validate() error {
	if strings.TrimSpace(r.Watermark) == "" {
		return errors.New("watermark is required and cannot be empty")
	}
	if r.Opacity == 0 {
		r.Opacity = DefaultOpacity
	}
	if r.Opacity < 0 || r.Opacity > 1 {
		return fmt.Errorf("opacity must be between 0 and 1, got %v", r.Opacity)
	}
	if r.Scale == 0 {
		r.Scale = DefaultScale
	}
	if r.Scale < 0 || r.Scale > 1 {
		return fmt.Errorf("scale must be between 0 and 1, got %v", r.Scale)
	}
	r.Position = r.Position.Normalize()
	r.Format = r.Format.Normalize()
	return nil
}

// JobStats represents counts of jobs in each state.
type JobStats struct {
	Uploaded   int `json:"uploaded"`
	Pending    int `json:"pending"`
	Queued     int `json:"queued"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}
