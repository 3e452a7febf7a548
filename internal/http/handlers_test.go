package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidmark/vidmark/internal/core"
	"github.com/vidmark/vidmark/internal/data"
	"github.com/vidmark/vidmark/internal/domain/model"
	"github.com/vidmark/vidmark/internal/service"
)

// memRepo is a minimal in-memory repository for handler tests.
type memRepo struct {
	mu     sync.Mutex
	nextID int64
	jobs   map[int64]*model.VideoJob
}

func newMemRepo() *memRepo { return &memRepo{jobs: make(map[int64]*model.VideoJob)} }

func (m *memRepo) Create(_ context.Context, sourceURL string, status model.JobStatus) (*model.VideoJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	job := &model.VideoJob{ID: m.nextID, SourceURL: sourceURL, Status: status}
	m.jobs[job.ID] = job
	c := *job
	return &c, nil
}

func (m *memRepo) GetByID(_ context.Context, id int64) (*model.VideoJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, data.ErrVideoJobNotFound
	}
	c := *job
	return &c, nil
}

func (m *memRepo) ListRecent(_ context.Context, limit int) ([]*model.VideoJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.VideoJob, 0)
	for id := m.nextID; id > 0 && len(out) < limit; id-- {
		if job, ok := m.jobs[id]; ok {
			c := *job
			out = append(out, &c)
		}
	}
	return out, nil
}

func (m *memRepo) MarkQueued(_ context.Context, id int64, watermark string, position model.WatermarkPosition) (*model.VideoJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, data.ErrVideoJobNotFound
	}
	if job.Status == model.JobStatusQueued || job.Status == model.JobStatusProcessing {
		return nil, data.ErrJobNotQueueable
	}
	job.Status = model.JobStatusQueued
	job.Watermark = &watermark
	p := position
	job.Position = &p
	c := *job
	return &c, nil
}

func (m *memRepo) Claim(_ context.Context, id int64) (*model.VideoJob, error) {
	return nil, data.ErrJobNotClaimable
}

func (m *memRepo) Complete(_ context.Context, id int64, resultURL string) (*model.VideoJob, error) {
	return m.update(id, func(j *model.VideoJob) {
		j.Status = model.JobStatusCompleted
		j.ResultURL = &resultURL
	})
}

func (m *memRepo) Fail(_ context.Context, id int64, message string) (*model.VideoJob, error) {
	return m.update(id, func(j *model.VideoJob) {
		j.Status = model.JobStatusFailed
		j.ErrorMessage = &message
	})
}

func (m *memRepo) Reset(_ context.Context, id int64) (*model.VideoJob, error) {
	return m.update(id, func(j *model.VideoJob) {
		j.Status = model.JobStatusPending
		j.ErrorMessage = nil
	})
}

func (m *memRepo) update(id int64, fn func(*model.VideoJob)) (*model.VideoJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, data.ErrVideoJobNotFound
	}
	fn(job)
	c := *job
	return &c, nil
}

func (m *memRepo) CountByStatus(_ context.Context) (*model.JobStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var stats model.JobStats
	for _, job := range m.jobs {
		if job.Status == model.JobStatusUploaded {
			stats.Uploaded++
		}
	}
	return &stats, nil
}

// memStore is a minimal in-memory media store.
type memStore struct{ scratch string }

func (s *memStore) FetchToLocal(_ context.Context, mediaURL string) (string, func(), error) {
	f, err := os.CreateTemp(s.scratch, "fetched-*")
	if err != nil {
		return "", nil, err
	}
	_ = f.Close()
	return f.Name(), func() { _ = os.Remove(f.Name()) }, nil
}

func (s *memStore) PushFromLocal(_ context.Context, _, key, _ string) (string, error) {
	return s.PublicURL(key), nil
}

func (s *memStore) Push(_ context.Context, body io.Reader, key, _ string) (string, error) {
	_, _ = io.Copy(io.Discard, body)
	return s.PublicURL(key), nil
}

func (s *memStore) PresignUpload(_ context.Context, fileName, _ string) (string, string, string, error) {
	key := "videos/uuid_" + fileName
	return "https://store.example.com/presigned/" + key, key, s.PublicURL(key), nil
}

func (s *memStore) PublicURL(key string) string { return "https://media.example.com/" + key }
func (s *memStore) ScratchDir() string          { return s.scratch }

// memCache is a no-op status cache.
type memCache struct{}

func (memCache) Get(context.Context, int64) (*model.VideoJob, error) { return nil, nil }
func (memCache) Set(context.Context, *model.VideoJob) error          { return nil }
func (memCache) Invalidate(context.Context, int64) error             { return nil }

// memDispatcher records enqueued items.
type memDispatcher struct {
	mu    sync.Mutex
	items []core.WorkItem
	err   error
}

func (d *memDispatcher) Enqueue(_ context.Context, item core.WorkItem) error {
	if d.err != nil {
		return d.err
	}
	d.mu.Lock()
	d.items = append(d.items, item)
	d.mu.Unlock()
	return nil
}

// memRunner streams a fixed payload.
type memRunner struct {
	output string
	err    error
}

func (r *memRunner) Run(_ context.Context, args []string, sink io.Writer) error {
	if r.err != nil {
		return r.err
	}
	if sink != nil {
		_, _ = io.WriteString(sink, r.output)
	}
	return nil
}

type routerFixture struct {
	handler    http.Handler
	repo       *memRepo
	dispatcher *memDispatcher
	runner     *memRunner
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := newMemRepo()
	store := &memStore{scratch: t.TempDir()}
	dispatcher := &memDispatcher{}
	runner := &memRunner{output: "encoded media"}

	videos, err := service.NewVideoService(service.VideoServiceOptions{
		Repo:       repo,
		Store:      store,
		Cache:      memCache{},
		Dispatcher: dispatcher,
		Logger:     logger,
	})
	require.NoError(t, err)

	pipeline, err := service.NewPipelineService(service.PipelineServiceOptions{
		Repo:   repo,
		Store:  store,
		Runner: runner,
		Cache:  memCache{},
		Logger: logger,
	})
	require.NoError(t, err)

	handler := NewRouter(RouterServices{
		Videos:         videos,
		Pipeline:       pipeline,
		MaxUploadBytes: 1 << 20,
		Logger:         logger,
	})
	return &routerFixture{handler: handler, repo: repo, dispatcher: dispatcher, runner: runner}
}

func (f *routerFixture) do(t *testing.T, method, path string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestHealthz(t *testing.T) {
	f := newRouterFixture(t)
	w := f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decodeBody(t, w)["status"])
}

func TestRegisterVideo(t *testing.T) {
	f := newRouterFixture(t)

	w := f.do(t, http.MethodPost, "/api/videos/register",
		strings.NewReader(`{"publicUrl":"https://media.example.com/videos/a.mp4"}`))
	require.Equal(t, http.StatusCreated, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, true, body["success"])
	video, ok := body["video"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "uploaded", video["status"])
}

func TestRegisterVideoValidation(t *testing.T) {
	f := newRouterFixture(t)

	w := f.do(t, http.MethodPost, "/api/videos/register", strings.NewReader(`{"publicUrl":""}`))
	require.Equal(t, http.StatusBadRequest, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "validation", body["error"])

	w = f.do(t, http.MethodPost, "/api/videos/register", strings.NewReader(`{not json`))
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_json", decodeBody(t, w)["error"])
}

func TestUploadVideoMultipart(t *testing.T) {
	f := newRouterFixture(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreatePart(map[string][]string{
		"Content-Disposition": {`form-data; name="file"; filename="clip.mp4"`},
		"Content-Type":        {"video/mp4"},
	})
	require.NoError(t, err)
	_, err = part.Write([]byte("fake video bytes"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/videos", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, true, body["success"])
	assert.Contains(t, body["publicUrl"], "clip.mp4")
}

func TestUploadVideoMissingFile(t *testing.T) {
	f := newRouterFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/videos", strings.NewReader("nope"))
	req.Header.Set("Content-Type", "multipart/form-data; boundary=xyz")
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decodeBody(t, w)["message"], "file")
}

func TestPresignUpload(t *testing.T) {
	f := newRouterFixture(t)

	w := f.do(t, http.MethodPost, "/api/videos/upload-url",
		strings.NewReader(`{"fileName":"clip.mp4","contentType":"video/mp4"}`))
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, true, body["success"])
	assert.Contains(t, body["uploadUrl"], "presigned")
	assert.NotEmpty(t, body["publicUrl"])
}

func TestGetVideo(t *testing.T) {
	f := newRouterFixture(t)
	job, err := f.repo.Create(context.Background(), "https://media.example.com/videos/a.mp4", model.JobStatusUploaded)
	require.NoError(t, err)

	w := f.do(t, http.MethodGet, "/api/videos/1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	video := decodeBody(t, w)["video"].(map[string]any)
	assert.Equal(t, float64(job.ID), video["id"])

	w = f.do(t, http.MethodGet, "/api/videos/999", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodGet, "/api/videos/abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListVideos(t *testing.T) {
	f := newRouterFixture(t)
	for i := 0; i < 3; i++ {
		_, err := f.repo.Create(context.Background(), "https://media.example.com/videos/n.mp4", model.JobStatusUploaded)
		require.NoError(t, err)
	}

	w := f.do(t, http.MethodGet, "/api/videos?limit=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	videos := decodeBody(t, w)["videos"].([]any)
	assert.Len(t, videos, 2)
}

func TestProcessVideo(t *testing.T) {
	f := newRouterFixture(t)
	_, err := f.repo.Create(context.Background(), "https://media.example.com/videos/a.mp4", model.JobStatusUploaded)
	require.NoError(t, err)

	w := f.do(t, http.MethodPost, "/api/videos/1/process",
		strings.NewReader(`{"watermark":"https://media.example.com/wm.png","position":"top-left"}`))
	require.Equal(t, http.StatusAccepted, w.Code)

	body := decodeBody(t, w)
	video := body["video"].(map[string]any)
	assert.Equal(t, "queued", video["status"])
	require.Len(t, f.dispatcher.items, 1)
	assert.Equal(t, int64(1), f.dispatcher.items[0].JobID)
}

func TestProcessVideoDuplicate(t *testing.T) {
	f := newRouterFixture(t)
	_, err := f.repo.Create(context.Background(), "https://media.example.com/videos/a.mp4", model.JobStatusUploaded)
	require.NoError(t, err)

	payload := `{"watermark":"https://media.example.com/wm.png"}`
	w := f.do(t, http.MethodPost, "/api/videos/1/process", strings.NewReader(payload))
	require.Equal(t, http.StatusAccepted, w.Code)

	w = f.do(t, http.MethodPost, "/api/videos/1/process", strings.NewReader(payload))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "conflict", decodeBody(t, w)["error"])
}

func TestProcessVideoQueueFull(t *testing.T) {
	f := newRouterFixture(t)
	f.dispatcher.err = core.ErrQueueFull
	_, err := f.repo.Create(context.Background(), "https://media.example.com/videos/a.mp4", model.JobStatusUploaded)
	require.NoError(t, err)

	w := f.do(t, http.MethodPost, "/api/videos/1/process",
		strings.NewReader(`{"watermark":"https://media.example.com/wm.png"}`))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "unavailable", decodeBody(t, w)["error"])
}

func TestResetVideo(t *testing.T) {
	f := newRouterFixture(t)
	_, err := f.repo.Create(context.Background(), "https://media.example.com/videos/a.mp4", model.JobStatusUploaded)
	require.NoError(t, err)
	_, err = f.repo.Fail(context.Background(), 1, "boom")
	require.NoError(t, err)

	w := f.do(t, http.MethodPost, "/api/videos/1/reset", nil)
	require.Equal(t, http.StatusOK, w.Code)
	video := decodeBody(t, w)["video"].(map[string]any)
	assert.Equal(t, "pending", video["status"])
	assert.Nil(t, video["error_message"])
}

func TestWatermarkStream(t *testing.T) {
	f := newRouterFixture(t)
	_, err := f.repo.Create(context.Background(), "https://media.example.com/videos/a.mp4", model.JobStatusUploaded)
	require.NoError(t, err)

	w := f.do(t, http.MethodGet,
		"/api/videos/1/watermark?watermark=https://media.example.com/wm.png&position=center&format=webm", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "video/webm", w.Header().Get("Content-Type"))
	assert.Equal(t, "encoded media", w.Body.String())
}

func TestWatermarkStreamMissingWatermark(t *testing.T) {
	f := newRouterFixture(t)
	_, err := f.repo.Create(context.Background(), "https://media.example.com/videos/a.mp4", model.JobStatusUploaded)
	require.NoError(t, err)

	w := f.do(t, http.MethodGet, "/api/videos/1/watermark", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestConvertStream(t *testing.T) {
	f := newRouterFixture(t)

	w := f.do(t, http.MethodGet, "/api/convert?url=https://media.example.com/videos/a.webm&format=mp4&quality=high", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "video/mp4", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "converted.mp4")
	assert.Equal(t, "encoded media", w.Body.String())
}

func TestConvertStreamMissingURL(t *testing.T) {
	f := newRouterFixture(t)

	w := f.do(t, http.MethodGet, "/api/convert", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestConvertStreamFailureBeforeFirstByte(t *testing.T) {
	f := newRouterFixture(t)
	f.runner.err = io.ErrUnexpectedEOF

	w := f.do(t, http.MethodGet, "/api/convert?url=https://media.example.com/videos/a.webm", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "process", decodeBody(t, w)["error"])
}
