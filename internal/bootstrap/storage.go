package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/vidmark/vidmark/config"
	"github.com/vidmark/vidmark/internal/storage"
)

// StorageDeps groups dependencies for object storage initialization.
type StorageDeps struct {
	Storage config.StorageConfig
	Media   config.MediaConfig
	Logger  *slog.Logger
}

// ConnectStorage builds the S3 client against the configured endpoint
// (Cloudflare R2 in production) and wraps it in the media gateway.
func ConnectStorage(ctx context.Context, deps StorageDeps) (*storage.Gateway, error) {
	cfg := deps.Storage
	if cfg.Endpoint == "" {
		return nil, errors.New("storage endpoint is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("storage bucket is required")
	}
	if cfg.PublicBaseURL == "" {
		return nil, errors.New("storage public base URL is required")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.SecretAccessKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("load storage credentials: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.Endpoint)
		// R2 serves buckets on the path, not as subdomains.
		o.UsePathStyle = true
	})

	scratchDir := deps.Media.ScratchDir
	if scratchDir == "" {
		scratchDir = os.TempDir()
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	gateway := storage.NewGateway(storage.GatewayParams{
		Client:        client,
		Bucket:        cfg.Bucket,
		PublicBaseURL: cfg.PublicBaseURL,
		ScratchDir:    scratchDir,
		PresignTTL:    cfg.PresignTTL,
		Logger:        logger.With("component", "storage_gateway"),
	})

	logger.Info("object storage connected",
		"endpoint", cfg.Endpoint,
		"bucket", cfg.Bucket,
		"scratch_dir", scratchDir,
	)

	return gateway, nil
}
