package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/udown/udownd/internal/config"
	"github.com/udown/udownd/internal/event"
	"github.com/udown/udownd/internal/fetch"
	"github.com/udown/udownd/internal/job"
)

type stubStarter struct {
	mu      sync.Mutex
	started []startedJob
	run     func(ch *job.Channel)
}

type startedJob struct {
	ctx   context.Context
	jobID string
	url   string
	opts  fetch.Options
}

func (s *stubStarter) Run(ctx context.Context, jobID string, ch *job.Channel, playlistURL string, opts fetch.Options) {
	s.mu.Lock()
	s.started = append(s.started, startedJob{ctx: ctx, jobID: jobID, url: playlistURL, opts: opts})
	s.mu.Unlock()
	if s.run != nil {
		s.run(ch)
	}
}

func (s *stubStarter) jobs() []startedJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]startedJob(nil), s.started...)
}

func testConfig() config.Config {
	return config.Config{
		Server:    config.ServerConfig{Port: 5000},
		Downloads: config.DownloadsConfig{Dir: "./downloads", QualityDefault: "best", NameTemplate: "%(title)s.%(ext)s"},
		Jobs:      config.JobsConfig{ChannelCapacity: 64, KeepAliveSeconds: 1, SweepMinutes: 10, TTLMinutes: 60},
	}
}

func newTestServer(starter Starter) (*Server, *job.Registry) {
	registry := job.NewRegistry(64, zap.NewNop())
	return NewServer(context.Background(), registry, starter, testConfig(), zap.NewNop()), registry
}

func postForm(t *testing.T, handler http.Handler, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestStartDownloadRequiresPlaylistURL(t *testing.T) {
	t.Parallel()

	srv, registry := newTestServer(&stubStarter{})

	rec := postForm(t, srv.Handler(), "/download", url.Values{"playlist_url": {"   "}})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Contains(t, body["error"], "Playlist URL")
	require.Zero(t, registry.Len(), "no job may be created for an invalid request")
}

func TestStartDownloadReturnsJobIDWithoutBlocking(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	starter := &stubStarter{run: func(*job.Channel) { <-block }}
	defer close(block)
	srv, registry := newTestServer(starter)

	rec := postForm(t, srv.Handler(), "/download", url.Values{
		"playlist_url": {"https://example.com/playlist"},
		"to_mp3":       {"on"},
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	jobID := body["job_id"]
	require.NotEmpty(t, jobID)

	_, ok := registry.Get(jobID)
	require.True(t, ok)

	require.Eventually(t, func() bool {
		jobs := starter.jobs()
		return len(jobs) == 1 && jobs[0].jobID == jobID
	}, time.Second, 5*time.Millisecond)

	started := starter.jobs()[0]
	require.Equal(t, "https://example.com/playlist", started.url)
	require.Equal(t, "audio-only", started.opts.Quality)
	require.Equal(t, "mp3", started.opts.AudioFormat)
}

func TestStartDownloadSimpleSerialOverridesTemplate(t *testing.T) {
	t.Parallel()

	starter := &stubStarter{}
	srv, _ := newTestServer(starter)

	rec := postForm(t, srv.Handler(), "/download", url.Values{
		"playlist_url":  {"https://example.com/p"},
		"name_template": {"%(title)s.%(ext)s"},
		"simple_serial": {"on"},
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Eventually(t, func() bool { return len(starter.jobs()) == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, "%(playlist_index)02d.%(ext)s", starter.jobs()[0].opts.NameTemplate)
}

func TestStartDownloadWorkerInheritsServerContext(t *testing.T) {
	t.Parallel()

	baseCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	starter := &stubStarter{}
	registry := job.NewRegistry(64, zap.NewNop())
	srv := NewServer(baseCtx, registry, starter, testConfig(), zap.NewNop())

	rec := postForm(t, srv.Handler(), "/download", url.Values{"playlist_url": {"https://example.com/p"}})
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Eventually(t, func() bool { return len(starter.jobs()) == 1 }, time.Second, 5*time.Millisecond)
	jobCtx := starter.jobs()[0].ctx
	require.NoError(t, jobCtx.Err(), "job context must outlive the request")

	cancel()
	require.Error(t, jobCtx.Err(), "process shutdown must reach the job context")
}

// noFlushWriter hides the recorder's Flush method so the handler sees a
// writer that cannot stream.
type noFlushWriter struct {
	rec *httptest.ResponseRecorder
}

func (w *noFlushWriter) Header() http.Header         { return w.rec.Header() }
func (w *noFlushWriter) Write(p []byte) (int, error) { return w.rec.Write(p) }
func (w *noFlushWriter) WriteHeader(code int)        { w.rec.WriteHeader(code) }

func TestStreamWithoutFlusherLeavesObserverSlotFree(t *testing.T) {
	t.Parallel()

	srv, registry := newTestServer(&stubStarter{})
	jobID, ch := registry.Create()

	req := httptest.NewRequest(http.MethodGet, "/stream/"+jobID, nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("job_id", jobID)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))

	rec := httptest.NewRecorder()
	srv.streamJob(&noFlushWriter{rec: rec}, req)
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	_, ok := registry.Get(jobID)
	require.True(t, ok, "the job must stay registered for a capable observer")
	require.True(t, ch.Attach(), "the observer slot must not be consumed")
}

func TestStreamUnknownJobReturnsNotFound(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(&stubStarter{})
	req := httptest.NewRequest(http.MethodGet, "/stream/doesnotexist", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStreamDeliversBacklogAndRemovesJob(t *testing.T) {
	t.Parallel()

	srv, registry := newTestServer(&stubStarter{})

	// Worker already finished before the observer attaches; the buffered
	// backlog, including finished, must still be delivered.
	jobID, ch := registry.Create()
	ch.Push(event.Message("Starting download..."))
	ch.Push(event.NewVideo("v1 title"))
	ch.Push(event.Progress("v1", 50, true, "1.0MiB/s", "10s"))
	ch.Push(event.Finished())
	ch.Close()

	req := httptest.NewRequest(http.MethodGet, "/stream/"+jobID, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	require.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))

	body := rec.Body.String()
	require.Contains(t, body, "event: message\ndata: Starting download...\n\n")
	require.Contains(t, body, "event: new_video\ndata: v1 title\n\n")
	require.Contains(t, body, "event: progress\n")
	require.Contains(t, body, "event: finished\ndata: close\n\n")
	require.Less(t, strings.Index(body, "event: message"), strings.Index(body, "event: finished"),
		"envelope order must be preserved")

	_, ok := registry.Get(jobID)
	require.False(t, ok, "registry entry must be removed once the stream ends")
}

func TestStreamSecondObserverConflicts(t *testing.T) {
	t.Parallel()

	srv, registry := newTestServer(&stubStarter{})
	jobID, ch := registry.Create()
	require.True(t, ch.Attach(), "simulate the first observer")

	req := httptest.NewRequest(http.MethodGet, "/stream/"+jobID, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusConflict, rec.Code)

	_, ok := registry.Get(jobID)
	require.True(t, ok, "a rejected attachment must not remove the job")
}

func TestStreamEmitsKeepAliveWhileIdle(t *testing.T) {
	t.Parallel()

	srv, registry := newTestServer(&stubStarter{})
	jobID, ch := registry.Create()

	go func() {
		// Let one keep-alive interval elapse before terminating the job.
		time.Sleep(1200 * time.Millisecond)
		ch.Push(event.Finished())
		ch.Close()
	}()

	req := httptest.NewRequest(http.MethodGet, "/stream/"+jobID, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	require.Contains(t, body, ": keep-alive\n\n")
	require.Contains(t, body, "event: finished\n")
}

func TestSSEFrameSplitsMultilinePayloads(t *testing.T) {
	t.Parallel()

	frame := sseFrame(event.Message("line one\nline two"))
	require.Equal(t, "event: message\ndata: line one\ndata: line two\n\n", frame)
}

func TestFormatVersionsRejectsMissingRoots(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(&stubStarter{})
	rec := postForm(t, srv.Handler(), "/format_versions", url.Values{"source_root": {"/tmp/in"}})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(&stubStarter{})
	for _, path := range []string{"/healthz", "/readyz"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, path)
	}
}
