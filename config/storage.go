package config

import "time"

// StorageConfig contains object storage (S3-compatible) configuration.
// Cloudflare R2 is the deployed backend; any S3-compatible store works.
type StorageConfig struct {
	// Endpoint is the S3 API endpoint (e.g. "https://<account>.r2.cloudflarestorage.com").
	Endpoint string `env:"ENDPOINT"`

	// Region is the S3 region ("auto" for R2).
	Region string `env:"REGION" envDefault:"auto"`

	// Bucket is the bucket holding source and result media.
	Bucket string `env:"BUCKET"`

	// AccessKeyID and SecretAccessKey authenticate against the store.
	AccessKeyID     string `env:"ACCESS_KEY_ID"`
	SecretAccessKey string `env:"SECRET_ACCESS_KEY"`

	// PublicBaseURL is the public serving domain for uploaded objects
	// (e.g. "https://pub-xxxx.r2.dev"). Object URLs are PublicBaseURL/key.
	PublicBaseURL string `env:"PUBLIC_BASE_URL"`

	// PresignTTL is the validity window for presigned upload URLs.
	PresignTTL time.Duration `env:"PRESIGN_TTL" envDefault:"10m"`
}

// Sanitize applies guardrails to storage configuration values.
func (s *StorageConfig) Sanitize() {
	if s.PresignTTL < time.Minute {
		s.PresignTTL = time.Minute
	}
}
