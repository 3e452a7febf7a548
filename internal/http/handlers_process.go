package httpx

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/vidmark/vidmark/internal/domain/model"
	"github.com/vidmark/vidmark/internal/service"
)

// ProcessHandlers provides HTTP handlers for watermarking and conversion.
type ProcessHandlers struct {
	Videos   *service.VideoService
	Pipeline *service.PipelineService
	Logger   *slog.Logger
}

// ProcessVideo accepts a watermark request and queues it for background
// processing. The response is immediate; clients poll GET /api/videos/{id}
// for the outcome.
func (h *ProcessHandlers) ProcessVideo(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDPath(r)
	if !ok {
		WriteError(w, ErrorParams{
			Code:    http.StatusBadRequest,
			ErrCode: "validation",
			Err:     errors.New("id must be a positive integer"),
		})
		return
	}

	var req model.ProcessRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	job, err := h.Videos.RequestProcess(r.Context(), id, &req)
	if err != nil {
		WriteAppError(w, err)
		return
	}

	WriteSuccess(w, http.StatusAccepted, map[string]any{"video": job})
}

// WatermarkStream applies a watermark synchronously and streams the result
// as it is encoded. Parameters come from the query string so the URL can be
// used directly as a video source.
func (h *ProcessHandlers) WatermarkStream(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDPath(r)
	if !ok {
		WriteError(w, ErrorParams{
			Code:    http.StatusBadRequest,
			ErrCode: "validation",
			Err:     errors.New("id must be a positive integer"),
		})
		return
	}

	job, err := h.Videos.Get(r.Context(), id)
	if err != nil {
		WriteAppError(w, err)
		return
	}

	req := &model.ProcessRequest{
		Watermark: r.URL.Query().Get("watermark"),
		Position:  model.WatermarkPosition(r.URL.Query().Get("position")),
		Opacity:   parseFloatQuery(r, "opacity", model.DefaultOpacity),
		Scale:     parseFloatQuery(r, "scale", model.DefaultScale),
		Format:    model.OutputContainer(r.URL.Query().Get("format")),
	}
	if err := req.Validate(); err != nil {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "validation", Err: err})
		return
	}

	h.stream(w, r, req.Format, fmt.Sprintf("watermarked-%d", id), func(sink *streamWriter) error {
		return h.Pipeline.StreamWatermark(r.Context(), job, req, sink)
	})
}

// ConvertStream transcodes an arbitrary media URL and streams the result.
func (h *ProcessHandlers) ConvertStream(w http.ResponseWriter, r *http.Request) {
	mediaURL := r.URL.Query().Get("url")
	if mediaURL == "" {
		WriteError(w, ErrorParams{
			Code:    http.StatusBadRequest,
			ErrCode: "validation",
			Err:     errors.New("url is required and cannot be empty"),
		})
		return
	}

	format := model.OutputContainer(r.URL.Query().Get("format")).Normalize()
	quality := model.QualityTier(r.URL.Query().Get("quality")).Normalize()

	h.stream(w, r, format, "converted", func(sink *streamWriter) error {
		return h.Pipeline.StreamConvert(r.Context(), mediaURL, format, quality, sink)
	})
}

// stream sets media headers and runs fn with a sink tied to the response.
// Once the first byte is written the status is committed; later failures can
// only be logged and the connection cut short.
func (h *ProcessHandlers) stream(
	w http.ResponseWriter,
	r *http.Request,
	format model.OutputContainer,
	baseName string,
	fn func(*streamWriter) error,
) {
	format = format.Normalize()
	w.Header().Set("Content-Type", format.MIMEType())
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("inline; filename=%q", baseName+"."+string(format)))

	sink := &streamWriter{w: w}
	if err := fn(sink); err != nil {
		if sink.written == 0 {
			w.Header().Del("Content-Type")
			w.Header().Del("Content-Disposition")
			WriteAppError(w, err)
			return
		}
		h.Logger.Error("media stream aborted",
			"path", r.URL.Path,
			"bytes_written", sink.written,
			"error", err)
	}
}

// streamWriter counts bytes and flushes after each write so clients start
// playback before encoding finishes.
type streamWriter struct {
	w       http.ResponseWriter
	written int64
}

func (s *streamWriter) Write(p []byte) (int, error) {
	n, err := s.w.Write(p)
	s.written += int64(n)
	if flusher, ok := s.w.(http.Flusher); ok {
		flusher.Flush()
	}
	return n, err
}
