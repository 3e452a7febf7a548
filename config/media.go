package config

import "time"

// MediaConfig contains ffmpeg invocation and scratch storage configuration.
type MediaConfig struct {
	// FFmpegPath is the path to the ffmpeg binary.
	FFmpegPath string `env:"FFMPEG_PATH" envDefault:"ffmpeg"`

	// ScratchDir is the directory for transient per-attempt files.
	// Empty means the OS temp directory.
	ScratchDir string `env:"SCRATCH_DIR" envDefault:""`

	// Timeout is the wall-clock deadline for a single ffmpeg run.
	// When it fires the attempt fails; the spawned process may be left
	// running briefly while the kill signal propagates.
	Timeout time.Duration `env:"TIMEOUT" envDefault:"120s"`

	// WatermarkBaseURL is the base URL under which overlay assets are
	// published (e.g. "https://cdn.example.com/images/watermark").
	// The selector "kling" resolves to "<base>/kling.png".
	WatermarkBaseURL string `env:"WATERMARK_BASE_URL" envDefault:""`
}

// Sanitize applies guardrails to media configuration values.
func (m *MediaConfig) Sanitize() {
	if m.FFmpegPath == "" {
		m.FFmpegPath = "ffmpeg"
	}
	if m.Timeout < 5*time.Second {
		m.Timeout = 5 * time.Second
	}
}

// WorkerConfig contains background processing worker configuration.
type WorkerConfig struct {
	// Concurrency is the number of pipeline goroutines. Each runs at most
	// one ffmpeg process at a time.
	Concurrency int `env:"CONCURRENCY" envDefault:"1"`

	// QueueDepth is the capacity of the in-process job queue. A full
	// queue rejects new process requests rather than dropping them.
	QueueDepth int `env:"QUEUE_DEPTH" envDefault:"16"`
}

// Sanitize applies guardrails to worker configuration values.
func (w *WorkerConfig) Sanitize() {
	if w.Concurrency < 1 {
		w.Concurrency = 1
	}
	if w.QueueDepth < 1 {
		w.QueueDepth = 1
	}
}
