package httpx

import (
	"errors"
	"net/http"

	"github.com/vidmark/vidmark/internal/domain/model"
	"github.com/vidmark/vidmark/internal/service"
)

// VideoHandlers provides HTTP handlers for video job lifecycle operations.
type VideoHandlers struct {
	Svc            *service.VideoService
	MaxUploadBytes int64
}

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// UploadVideo handles multipart uploads relayed through the server. The
// stored media URL comes back in the response along with the new job.
func (h *VideoHandlers) UploadVideo(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.MaxUploadBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			WriteError(w, ErrorParams{
				Code:    http.StatusRequestEntityTooLarge,
				ErrCode: "validation",
				Err:     errors.New("uploaded file exceeds the size limit"),
			})
			return
		}
		WriteError(w, ErrorParams{
			Code:    http.StatusBadRequest,
			ErrCode: "validation",
			Err:     errors.New("multipart field 'file' is required"),
		})
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	job, err := h.Svc.IngestUpload(r.Context(), file, header.Filename, contentType)
	if err != nil {
		WriteAppError(w, err)
		return
	}

	WriteSuccess(w, http.StatusCreated, map[string]any{
		"video":     job,
		"publicUrl": job.SourceURL,
	})
}

// RegisterVideo records media already uploaded via a presigned URL.
func (h *VideoHandlers) RegisterVideo(w http.ResponseWriter, r *http.Request) {
	var req model.RegisterJobRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	job, err := h.Svc.Register(r.Context(), &req)
	if err != nil {
		WriteAppError(w, err)
		return
	}

	WriteSuccess(w, http.StatusCreated, map[string]any{"video": job})
}

// PresignUpload issues a presigned PUT URL for client-direct uploads.
func (h *VideoHandlers) PresignUpload(w http.ResponseWriter, r *http.Request) {
	var req model.PresignUploadRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	resp, err := h.Svc.PresignUpload(r.Context(), &req)
	if err != nil {
		WriteAppError(w, err)
		return
	}

	WriteSuccess(w, http.StatusOK, map[string]any{
		"uploadUrl": resp.UploadURL,
		"key":       resp.Key,
		"publicUrl": resp.PublicURL,
	})
}

// ListVideos returns the newest jobs first.
func (h *VideoHandlers) ListVideos(w http.ResponseWriter, r *http.Request) {
	limit := ParseLimit(r, defaultListLimit, maxListLimit)

	jobs, err := h.Svc.List(r.Context(), limit)
	if err != nil {
		WriteAppError(w, err)
		return
	}

	WriteSuccess(w, http.StatusOK, map[string]any{"videos": jobs})
}

// GetVideo returns a single job snapshot, served cache-first for polling.
func (h *VideoHandlers) GetVideo(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDPath(r)
	if !ok {
		WriteError(w, ErrorParams{
			Code:    http.StatusBadRequest,
			ErrCode: "validation",
			Err:     errors.New("id must be a positive integer"),
		})
		return
	}

	job, err := h.Svc.Get(r.Context(), id)
	if err != nil {
		WriteAppError(w, err)
		return
	}

	WriteSuccess(w, http.StatusOK, map[string]any{"video": job})
}

// ResetVideo returns a job to pending and clears its recorded error.
func (h *VideoHandlers) ResetVideo(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDPath(r)
	if !ok {
		WriteError(w, ErrorParams{
			Code:    http.StatusBadRequest,
			ErrCode: "validation",
			Err:     errors.New("id must be a positive integer"),
		})
		return
	}

	job, err := h.Svc.Reset(r.Context(), id)
	if err != nil {
		WriteAppError(w, err)
		return
	}

	WriteSuccess(w, http.StatusOK, map[string]any{"video": job})
}

// Stats returns job counts per status.
func (h *VideoHandlers) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Svc.Stats(r.Context())
	if err != nil {
		WriteAppError(w, err)
		return
	}

	WriteSuccess(w, http.StatusOK, map[string]any{"stats": stats})
}
