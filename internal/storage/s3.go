// Package storage moves media between the local scratch directory and the
// S3-compatible object store that serves it publicly.
package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	apperrors "github.com/vidmark/vidmark/internal/errors"
)

// KeyPrefix namespaces all media objects in the bucket.
const KeyPrefix = "videos/"

// fetchTimeout bounds the source-media download when the caller's context
// carries no deadline.
const fetchTimeout = 5 * time.Minute

// Gateway provides media transfer between local scratch files and the
// object store, plus presigned client-direct uploads.
type Gateway struct {
	client        *s3.Client
	presigner     *s3.PresignClient
	httpClient    *http.Client
	bucket        string
	publicBaseURL string
	scratchDir    string
	presignTTL    time.Duration
	logger        *slog.Logger
}

// GatewayParams configures a Gateway.
type GatewayParams struct {
	Client        *s3.Client
	Bucket        string
	PublicBaseURL string
	ScratchDir    string
	PresignTTL    time.Duration
	Logger        *slog.Logger
}

// NewGateway creates a Gateway backed by the given S3 client.
func NewGateway(p GatewayParams) *Gateway {
	return &Gateway{
		client:        p.Client,
		presigner:     s3.NewPresignClient(p.Client),
		httpClient:    &http.Client{Timeout: fetchTimeout},
		bucket:        p.Bucket,
		publicBaseURL: strings.TrimRight(p.PublicBaseURL, "/"),
		scratchDir:    p.ScratchDir,
		presignTTL:    p.PresignTTL,
		logger:        p.Logger,
	}
}

// FetchToLocal downloads a media URL into the scratch directory and returns
// the local path with a cleanup func that removes it. The caller must invoke
// cleanup regardless of pipeline outcome.
func (g *Gateway) FetchToLocal(ctx context.Context, mediaURL string) (string, func(), error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return "", nil, apperrors.Wrapf(err, apperrors.ErrCodeFetch, "invalid media URL %q", mediaURL)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", nil, apperrors.Wrap(err, apperrors.ErrCodeFetch, "failed to download source media")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", nil, apperrors.Wrapf(
			fmt.Errorf("unexpected status %d", resp.StatusCode),
			apperrors.ErrCodeFetch,
			"failed to download source media",
		)
	}

	f, err := os.CreateTemp(g.scratchDir, "vidmark-src-*"+extensionFor(mediaURL))
	if err != nil {
		return "", nil, apperrors.Wrap(err, apperrors.ErrCodeFetch, "failed to create scratch file")
	}
	cleanup := func() {
		if rmErr := os.Remove(f.Name()); rmErr != nil && !os.IsNotExist(rmErr) {
			g.logger.Warn("failed to remove scratch file", "path", f.Name(), "error", rmErr)
		}
	}

	n, err := io.Copy(f, resp.Body)
	closeErr := f.Close()
	if err != nil {
		cleanup()
		return "", nil, apperrors.Wrap(err, apperrors.ErrCodeFetch, "failed to write source media to scratch")
	}
	if closeErr != nil {
		cleanup()
		return "", nil, apperrors.Wrap(closeErr, apperrors.ErrCodeFetch, "failed to flush scratch file")
	}

	g.logger.Debug("fetched source media", "url", mediaURL, "bytes", n, "path", f.Name())
	return f.Name(), cleanup, nil
}

// PushFromLocal uploads a local file under the given key and returns the
// public URL it will be served from.
func (g *Gateway) PushFromLocal(ctx context.Context, localPath, key, contentType string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeUpload, "failed to open result media")
	}
	defer f.Close()

	return g.push(ctx, f, key, contentType)
}

// Push uploads a stream under the given key and returns the public URL.
func (g *Gateway) Push(ctx context.Context, body io.Reader, key, contentType string) (string, error) {
	return g.push(ctx, body, key, contentType)
}

func (g *Gateway) push(ctx context.Context, body io.Reader, key, contentType string) (string, error) {
	_, err := g.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(g.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeUpload, "failed to upload media to object storage")
	}

	url := g.PublicURL(key)
	g.logger.Debug("uploaded media", "key", key, "url", url)
	return url, nil
}

// PresignUpload returns a presigned PUT URL for a client-direct upload,
// along with the object key and the public URL the object will have.
func (g *Gateway) PresignUpload(ctx context.Context, fileName, contentType string) (uploadURL, key, publicURL string, err error) {
	key = ObjectKey(fileName)
	req, err := g.presigner.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(g.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}, s3.WithPresignExpires(g.presignTTL))
	if err != nil {
		return "", "", "", apperrors.Wrap(err, apperrors.ErrCodeUpload, "failed to presign upload URL")
	}
	return req.URL, key, g.PublicURL(key), nil
}

// PublicURL maps an object key to its public serving URL.
func (g *Gateway) PublicURL(key string) string {
	return g.publicBaseURL + "/" + key
}

// ScratchDir returns the directory used for intermediate media files.
func (g *Gateway) ScratchDir() string {
	return g.scratchDir
}

// ObjectKey builds a collision-free object key from a client-supplied file
// name. The name is sanitized so keys never escape the prefix and stay
// URL-safe.
func ObjectKey(fileName string) string {
	return KeyPrefix + uuid.NewString() + "_" + sanitizeFileName(fileName)
}

// sanitizeFileName strips path components and replaces characters outside
// [A-Za-z0-9._-] with underscores.
func sanitizeFileName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == ".." || name == "/" || name == "" {
		return "upload"
	}

	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// extensionFor extracts a file extension from a URL, defaulting to .mp4 so
// ffmpeg can sniff the container.
func extensionFor(mediaURL string) string {
	trimmed := mediaURL
	if i := strings.IndexAny(trimmed, "?#"); i >= 0 {
		trimmed = trimmed[:i]
	}
	ext := filepath.Ext(trimmed)
	if ext == "" || len(ext) > 8 {
		return ".mp4"
	}
	return ext
}
