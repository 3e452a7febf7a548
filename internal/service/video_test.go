package service

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidmark/vidmark/internal/core"
	"github.com/vidmark/vidmark/internal/domain/model"
	apperrors "github.com/vidmark/vidmark/internal/errors"
)

type videoFixture struct {
	svc        *VideoService
	repo       *fakeRepo
	store      *fakeStore
	cache      *fakeCache
	dispatcher *fakeDispatcher
}

func newVideoFixture(t *testing.T) *videoFixture {
	t.Helper()
	repo := newFakeRepo()
	store := newFakeStore(t.TempDir())
	cache := newFakeCache()
	dispatcher := &fakeDispatcher{}

	svc, err := NewVideoService(VideoServiceOptions{
		Repo:       repo,
		Store:      store,
		Cache:      cache,
		Dispatcher: dispatcher,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)

	return &videoFixture{svc: svc, repo: repo, store: store, cache: cache, dispatcher: dispatcher}
}

func TestNewVideoServiceRequiresDeps(t *testing.T) {
	_, err := NewVideoService(VideoServiceOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "VideoJobRepository is required")
}

func TestVideoService_Register(t *testing.T) {
	f := newVideoFixture(t)
	ctx := context.Background()

	job, err := f.svc.Register(ctx, &model.RegisterJobRequest{
		PublicURL: "https://media.example.com/videos/abc_clip.mp4",
	})
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusUploaded, job.Status)
	assert.Equal(t, "https://media.example.com/videos/abc_clip.mp4", job.SourceURL)
}

func TestVideoService_RegisterValidation(t *testing.T) {
	f := newVideoFixture(t)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, &model.RegisterJobRequest{PublicURL: "   "})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))

	_, err = f.svc.Register(ctx, &model.RegisterJobRequest{PublicURL: "ftp://nope/clip.mp4"})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))

	_, err = f.svc.Register(ctx, nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}

func TestVideoService_IngestUpload(t *testing.T) {
	f := newVideoFixture(t)
	ctx := context.Background()

	job, err := f.svc.IngestUpload(ctx, strings.NewReader("bytes"), "My Clip.mp4", "video/mp4")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusUploaded, job.Status)
	assert.Contains(t, job.SourceURL, "https://media.example.com/videos/")
	assert.Contains(t, job.SourceURL, "My_Clip.mp4")

	// Exactly one object was stored.
	assert.Len(t, f.store.pushed, 1)
}

func TestVideoService_IngestUploadRejectsNonVideo(t *testing.T) {
	f := newVideoFixture(t)

	_, err := f.svc.IngestUpload(context.Background(), strings.NewReader("x"), "doc.pdf", "application/pdf")
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
	assert.Empty(t, f.store.pushed)
}

func TestVideoService_PresignUpload(t *testing.T) {
	f := newVideoFixture(t)

	resp, err := f.svc.PresignUpload(context.Background(), &model.PresignUploadRequest{
		FileName:    "clip.mp4",
		ContentType: "video/mp4",
	})
	require.NoError(t, err)
	assert.Contains(t, resp.UploadURL, "presigned")
	assert.Contains(t, resp.PublicURL, resp.Key)

	_, err = f.svc.PresignUpload(context.Background(), &model.PresignUploadRequest{
		FileName:    "clip.gif",
		ContentType: "image/gif",
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}

func TestVideoService_GetCacheBehavior(t *testing.T) {
	f := newVideoFixture(t)
	ctx := context.Background()

	created, err := f.repo.Create(ctx, "https://media.example.com/videos/a.mp4", model.JobStatusUploaded)
	require.NoError(t, err)

	// Miss populates the cache.
	got, err := f.svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, 1, f.cache.sets)

	// Hit does not touch the repo again: mutate the row behind the cache
	// and confirm the stale snapshot is served.
	_, err = f.repo.Fail(ctx, created.ID, "hidden by cache")
	require.NoError(t, err)

	got, err = f.svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusUploaded, got.Status)
}

func TestVideoService_GetNotFound(t *testing.T) {
	f := newVideoFixture(t)

	_, err := f.svc.Get(context.Background(), 404)
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestVideoService_RequestProcess(t *testing.T) {
	f := newVideoFixture(t)
	ctx := context.Background()

	created, err := f.repo.Create(ctx, "https://media.example.com/videos/a.mp4", model.JobStatusUploaded)
	require.NoError(t, err)

	job, err := f.svc.RequestProcess(ctx, created.ID, &model.ProcessRequest{
		Watermark: "https://media.example.com/wm.png",
		Position:  model.PositionTopRight,
		Format:    model.ContainerWebM,
	})
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusQueued, job.Status)
	require.NotNil(t, job.Position)
	assert.Equal(t, model.PositionTopRight, *job.Position)

	require.Len(t, f.dispatcher.items, 1)
	item := f.dispatcher.items[0]
	assert.Equal(t, created.ID, item.JobID)
	assert.Equal(t, model.ContainerWebM, item.Format)
	assert.InDelta(t, model.DefaultOpacity, item.Opacity, 1e-9)
	assert.InDelta(t, model.DefaultScale, item.Scale, 1e-9)
}

func TestVideoService_RequestProcessDuplicate(t *testing.T) {
	f := newVideoFixture(t)
	ctx := context.Background()

	created, err := f.repo.Create(ctx, "https://media.example.com/videos/a.mp4", model.JobStatusUploaded)
	require.NoError(t, err)

	req := &model.ProcessRequest{Watermark: "https://media.example.com/wm.png"}
	_, err = f.svc.RequestProcess(ctx, created.ID, req)
	require.NoError(t, err)

	_, err = f.svc.RequestProcess(ctx, created.ID, req)
	require.Error(t, err)
	assert.True(t, apperrors.IsConflict(err))
	assert.Len(t, f.dispatcher.items, 1)
}

func TestVideoService_RequestProcessQueueFull(t *testing.T) {
	f := newVideoFixture(t)
	f.dispatcher.err = core.ErrQueueFull
	ctx := context.Background()

	created, err := f.repo.Create(ctx, "https://media.example.com/videos/a.mp4", model.JobStatusUploaded)
	require.NoError(t, err)

	_, err = f.svc.RequestProcess(ctx, created.ID, &model.ProcessRequest{
		Watermark: "https://media.example.com/wm.png",
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsUnavailable(err))

	// The row went back to pending so the client can retry.
	job, err := f.repo.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusPending, job.Status)
}

func TestVideoService_RequestProcessValidation(t *testing.T) {
	f := newVideoFixture(t)
	ctx := context.Background()

	created, err := f.repo.Create(ctx, "https://media.example.com/videos/a.mp4", model.JobStatusUploaded)
	require.NoError(t, err)

	_, err = f.svc.RequestProcess(ctx, created.ID, &model.ProcessRequest{})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))

	_, err = f.svc.RequestProcess(ctx, created.ID, &model.ProcessRequest{
		Watermark: "https://media.example.com/wm.png",
		Opacity:   3,
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
	assert.Empty(t, f.dispatcher.items)
}

func TestVideoService_Reset(t *testing.T) {
	f := newVideoFixture(t)
	ctx := context.Background()

	created, err := f.repo.Create(ctx, "https://media.example.com/videos/a.mp4", model.JobStatusUploaded)
	require.NoError(t, err)
	_, err = f.repo.Fail(ctx, created.ID, "boom")
	require.NoError(t, err)

	job, err := f.svc.Reset(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusPending, job.Status)
	assert.Nil(t, job.ErrorMessage)

	_, err = f.svc.Reset(ctx, 404)
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestVideoService_ListAndStats(t *testing.T) {
	f := newVideoFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.repo.Create(ctx, "https://media.example.com/videos/n.mp4", model.JobStatusUploaded)
		require.NoError(t, err)
	}

	jobs, err := f.svc.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)

	stats, err := f.svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Uploaded)
}

func TestResolveWatermarkURL(t *testing.T) {
	const base = "https://cdn.example.com/images/watermark"

	tests := []struct {
		name      string
		base      string
		watermark string
		want      string
	}{
		{"bare selector gets extension", base, "kling", base + "/kling.png"},
		{"selector with extension", base, "brand.webp", base + "/brand.webp"},
		{"full URL passes through", base, "https://other.example.com/wm.png", "https://other.example.com/wm.png"},
		{"trailing slash on base", base + "/", "kling", base + "/kling.png"},
		{"no base passes through", "", "kling", "kling"},
		{"empty watermark", base, "", ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ResolveWatermarkURL(tc.base, tc.watermark))
		})
	}
}

func TestVideoService_RequestProcessResolvesWatermarkSelector(t *testing.T) {
	repo := newFakeRepo()
	svc, err := NewVideoService(VideoServiceOptions{
		Repo:             repo,
		Store:            newFakeStore(t.TempDir()),
		Cache:            newFakeCache(),
		Dispatcher:       &fakeDispatcher{},
		Logger:           slog.New(slog.NewTextHandler(io.Discard, nil)),
		WatermarkBaseURL: "https://cdn.example.com/images/watermark",
	})
	require.NoError(t, err)
	ctx := context.Background()

	created, err := repo.Create(ctx, "https://media.example.com/videos/a.mp4", model.JobStatusUploaded)
	require.NoError(t, err)

	job, err := svc.RequestProcess(ctx, created.ID, &model.ProcessRequest{Watermark: "kling"})
	require.NoError(t, err)
	require.NotNil(t, job.Watermark)
	assert.Equal(t, "https://cdn.example.com/images/watermark/kling.png", *job.Watermark)
}
