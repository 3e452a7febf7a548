package httpx

import (
	"log/slog"
	"net/http"

	"github.com/vidmark/vidmark/internal/service"
)

// RouterServices holds all the services needed by the HTTP router.
type RouterServices struct {
	Videos         *service.VideoService
	Pipeline       *service.PipelineService
	MaxUploadBytes int64
	Logger         *slog.Logger // Logger for request logging and panic recovery (optional)
}

// NewRouter creates and configures a new HTTP router.
func NewRouter(services RouterServices) http.Handler {
	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()

	videoHandlers := &VideoHandlers{
		Svc:            services.Videos,
		MaxUploadBytes: services.MaxUploadBytes,
	}
	processHandlers := &ProcessHandlers{
		Videos:   services.Videos,
		Pipeline: services.Pipeline,
		Logger:   logger,
	}

	registerVideoRoutes(mux, videoHandlers)
	registerProcessRoutes(mux, processHandlers)
	mux.Handle("GET /healthz", http.HandlerFunc(healthHandler))
	mux.Handle("HEAD /healthz", http.HandlerFunc(healthHandler))

	return Logging(logger)(Recover(logger)(mux))
}

func registerVideoRoutes(mux *http.ServeMux, h *VideoHandlers) {
	mux.HandleFunc("POST /api/videos", h.UploadVideo)
	mux.HandleFunc("POST /api/videos/register", h.RegisterVideo)
	mux.HandleFunc("POST /api/videos/upload-url", h.PresignUpload)
	mux.HandleFunc("GET /api/videos", h.ListVideos)
	mux.HandleFunc("GET /api/videos/stats", h.Stats)
	mux.HandleFunc("GET /api/videos/{id}", h.GetVideo)
	mux.HandleFunc("POST /api/videos/{id}/reset", h.ResetVideo)
}

func registerProcessRoutes(mux *http.ServeMux, h *ProcessHandlers) {
	mux.HandleFunc("POST /api/videos/{id}/process", h.ProcessVideo)
	mux.HandleFunc("GET /api/videos/{id}/watermark", h.WatermarkStream)
	mux.HandleFunc("GET /api/convert", h.ConvertStream)
}

// healthHandler reports process liveness.
func healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
