package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"thirdcoast.systems/certify/internal/db"
	"thirdcoast.systems/certify/internal/jobqueue"
	"thirdcoast.systems/certify/internal/runner"
)

const (
	cronSecret = "cron-secret"
	adminToken = "admin-token"
)

type fakeInvoker struct {
	summary runner.Summary
	err     error
	calls   int
	gotMax  time.Duration
	// gotErr is the run context's error when Run returns.
	gotErr error
	onRun  func(ctx context.Context)
}

func (f *fakeInvoker) Run(ctx context.Context, maxDuration, grace time.Duration) (runner.Summary, error) {
	f.calls++
	f.gotMax = maxDuration
	if f.onRun != nil {
		f.onRun(ctx)
	}
	f.gotErr = ctx.Err()
	return f.summary, f.err
}

type failingQueue struct{ jobqueue.Queue }

func (failingQueue) Enqueue(context.Context, string, jobqueue.Payload) (jobqueue.EnqueueResult, error) {
	return jobqueue.EnqueueResult{}, errors.New("context deadline exceeded")
}

func (failingQueue) Status(context.Context, string) (*jobqueue.Status, error) {
	return nil, errors.New("context deadline exceeded")
}

type testServer struct {
	srv      *Webserver
	media    *db.MemoryStore
	queue    *jobqueue.MemoryQueue
	invoker  *fakeInvoker
	shutdown context.CancelFunc
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{
		media:   db.NewMemoryStore(),
		queue:   jobqueue.NewMemoryQueue(jobqueue.Options{}),
		invoker: &fakeInvoker{},
	}
	base, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	ts.shutdown = cancel
	srv, err := NewWebserver(Deps{
		Media:             ts.media,
		Queue:             ts.queue,
		Runner:            ts.invoker,
		CronSecret:        cronSecret,
		AdminAPIToken:     adminToken,
		RunnerMaxDuration: 4 * time.Minute,
		RunnerGraceWindow: 5 * time.Second,
		BaseContext:       base,
	})
	require.NoError(t, err)
	ts.srv = srv
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, token, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.srv.ServeHTTP(rec, req)

	var out map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

func TestNewWebserver_RequiresDeps(t *testing.T) {
	_, err := NewWebserver(Deps{})
	require.Error(t, err)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	rec, body := ts.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestCronTrigger_Auth(t *testing.T) {
	ts := newTestServer(t)

	rec, _ := ts.do(t, http.MethodPost, "/api/cron/transcriptions", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = ts.do(t, http.MethodPost, "/api/cron/transcriptions", "wrong", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = ts.do(t, http.MethodPost, "/api/cron/transcriptions", adminToken, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	assert.Zero(t, ts.invoker.calls)
}

func TestCronTrigger_Success(t *testing.T) {
	ts := newTestServer(t)
	ts.invoker.summary = runner.Summary{InvocationID: "inv-1", Processed: 3, Succeeded: 2, Failed: 1, StopReason: runner.StopDrained}

	for _, method := range []string{http.MethodGet, http.MethodPost} {
		rec, body := ts.do(t, method, "/api/cron/transcriptions", cronSecret, "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, true, body["success"])
		assert.Equal(t, float64(3), body["processedCount"])
	}
	assert.Equal(t, 2, ts.invoker.calls)
	assert.Equal(t, 4*time.Minute, ts.invoker.gotMax)
	assert.NoError(t, ts.invoker.gotErr)
}

func TestCronTrigger_OutlivesRequest(t *testing.T) {
	ts := newTestServer(t)

	reqCtx, cancel := context.WithCancel(context.Background())
	ts.invoker.onRun = func(context.Context) { cancel() }
	req := httptest.NewRequest(http.MethodPost, "/api/cron/transcriptions", nil).WithContext(reqCtx)
	req.Header.Set("Authorization", "Bearer "+cronSecret)
	rec := httptest.NewRecorder()
	ts.srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NoError(t, ts.invoker.gotErr, "the scheduler hanging up does not cancel the run")
}

func TestCronTrigger_CanceledOnShutdown(t *testing.T) {
	ts := newTestServer(t)
	ts.invoker.onRun = func(ctx context.Context) {
		ts.shutdown()
		select {
		case <-ctx.Done():
		case <-time.After(time.Second):
		}
	}

	rec, _ := ts.do(t, http.MethodPost, "/api/cron/transcriptions", cronSecret, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.ErrorIs(t, ts.invoker.gotErr, context.Canceled)
}

func TestCronTrigger_Busy(t *testing.T) {
	ts := newTestServer(t)
	ts.invoker.err = runner.ErrBusy

	rec, body := ts.do(t, http.MethodPost, "/api/cron/transcriptions", cronSecret, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(0), body["processedCount"])
	assert.Equal(t, true, body["busy"])
}

func TestCronTrigger_InternalError(t *testing.T) {
	ts := newTestServer(t)
	ts.invoker.err = errors.New("queue unreachable")

	rec, body := ts.do(t, http.MethodPost, "/api/cron/transcriptions", cronSecret, "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "queue unreachable", body["error"])
}

func TestInternal_CreateMediaEnqueues(t *testing.T) {
	ts := newTestServer(t)
	payload := `{"id":"v1","title":"Intro","sourceKey":"uploads/v1.mp4","sourceName":"intro.mp4","wantsDescription":true}`

	rec, _ := ts.do(t, http.MethodPost, "/api/internal/media", cronSecret, payload)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, body := ts.do(t, http.MethodPost, "/api/internal/media", adminToken, payload)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "transcribe-v1", body["jobKey"])
	assert.Equal(t, "pending", body["status"])
	assert.Equal(t, "waiting", body["state"])

	job, err := ts.queue.Claim(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "intro.mp4", job.Payload.SourceName)
	assert.True(t, job.Payload.WantsDerivedDescription)

	rec, _ = ts.do(t, http.MethodPost, "/api/internal/media", adminToken, payload)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, _ = ts.do(t, http.MethodPost, "/api/internal/media", adminToken, `{"id":"v2"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInternal_CreateMediaRejectsMalformedID(t *testing.T) {
	ts := newTestServer(t)

	for name, id := range map[string]string{
		"slash":      "a/b",
		"whitespace": "a b",
		"tab":        "a\\tb",
		"too long":   strings.Repeat("x", 129),
	} {
		t.Run(name, func(t *testing.T) {
			payload := `{"id":"` + id + `","sourceKey":"uploads/v1.mp4"}`
			rec, _ := ts.do(t, http.MethodPost, "/api/internal/media", adminToken, payload)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}

	counts, err := ts.queue.Counts(context.Background())
	require.NoError(t, err)
	assert.Zero(t, counts.Waiting)

	rec, _ := ts.do(t, http.MethodPost, "/api/internal/media", adminToken, `{"id":"`+strings.Repeat("x", 128)+`","sourceKey":"uploads/v1.mp4"}`)
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestInternal_EnqueueAndStatus(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	_, err := ts.media.CreateMedia(ctx, db.CreateMediaParams{ID: "v1", SourceKey: "uploads/v1.mp4"})
	require.NoError(t, err)

	rec, _ := ts.do(t, http.MethodGet, "/api/internal/transcription-jobs/v1", adminToken, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, body := ts.do(t, http.MethodPost, "/api/internal/media/v1/transcription", adminToken, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["duplicate"])

	rec, body = ts.do(t, http.MethodPost, "/api/internal/media/v1/transcription", adminToken, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["duplicate"])

	rec, body = ts.do(t, http.MethodGet, "/api/internal/transcription-jobs/v1", adminToken, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "transcribe-v1", body["key"])
	assert.Equal(t, "waiting", body["state"])
	assert.Equal(t, float64(0), body["attemptsMade"])

	rec, body = ts.do(t, http.MethodGet, "/api/internal/transcription-jobs", adminToken, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["waiting"])

	rec, _ = ts.do(t, http.MethodPost, "/api/internal/media/missing/transcription", adminToken, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInternal_EnqueueWithoutSource(t *testing.T) {
	ts := newTestServer(t)
	_, err := ts.media.CreateMedia(context.Background(), db.CreateMediaParams{ID: "v1"})
	require.NoError(t, err)

	rec, _ := ts.do(t, http.MethodPost, "/api/internal/media/v1/transcription", adminToken, "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestInternal_Retry(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	_, err := ts.media.CreateMedia(ctx, db.CreateMediaParams{ID: "v1", SourceKey: "uploads/v1.mp4"})
	require.NoError(t, err)
	require.NoError(t, ts.media.CompleteTranscription(ctx, db.CompleteTranscriptionParams{ID: "v1", Transcript: "hi", CaptionsURL: "u"}))

	rec, _ := ts.do(t, http.MethodPost, "/api/internal/media/v1/transcription/retry", adminToken, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	require.NoError(t, ts.media.FailTranscription(ctx, "v1", "transcription timed out"))
	rec, body := ts.do(t, http.MethodPost, "/api/internal/media/v1/transcription/retry", adminToken, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pending", body["status"])

	m, err := ts.media.GetMedia(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, db.TranscriptionStatusPending, m.TranscriptionStatus)
}

func TestInternal_EnqueueDegradesWhenQueueDown(t *testing.T) {
	media := db.NewMemoryStore()
	_, err := media.CreateMedia(context.Background(), db.CreateMediaParams{ID: "v1", SourceKey: "uploads/v1.mp4"})
	require.NoError(t, err)
	srv, err := NewWebserver(Deps{Media: media, Queue: failingQueue{}, Runner: &fakeInvoker{}, AdminAPIToken: adminToken})
	require.NoError(t, err)
	ts := &testServer{srv: srv, media: media}

	rec, body := ts.do(t, http.MethodPost, "/api/internal/media/v1/transcription", adminToken, "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "pending", body["status"])
	assert.Equal(t, true, body["deferred"])
}

func TestUnsetSecretRejectsEverything(t *testing.T) {
	srv, err := NewWebserver(Deps{Media: db.NewMemoryStore(), Queue: jobqueue.NewMemoryQueue(jobqueue.Options{}), Runner: &fakeInvoker{}})
	require.NoError(t, err)
	ts := &testServer{srv: srv}

	rec, _ := ts.do(t, http.MethodPost, "/api/cron/transcriptions", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec, _ = ts.do(t, http.MethodPost, "/api/cron/transcriptions", "anything", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
