package attachhttp

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wc-attach-images/wc-attach-images/internal/hostlog"
	"github.com/wc-attach-images/wc-attach-images/internal/shared"
	"github.com/wc-attach-images/wc-attach-images/internal/view"
	"github.com/wc-attach-images/wc-attach-images/jobs"
)

type stubScheduler struct {
	calls []jobs.AttachImagesPayload
	err   error
}

func (s *stubScheduler) ScheduleAttachImages(_ context.Context, payload jobs.AttachImagesPayload) (*asynq.TaskInfo, error) {
	s.calls = append(s.calls, payload)
	if s.err != nil {
		return nil, s.err
	}
	return &asynq.TaskInfo{ID: "t1", Type: jobs.TaskAttachProductImages}, nil
}

type stubStatus struct {
	status jobs.QueueStatus
	err    error
}

func (s stubStatus) QueueStatus(context.Context) (jobs.QueueStatus, error) {
	return s.status, s.err
}

type stubLog struct {
	entries []hostlog.Entry
	err     error
	limit   int
}

func (s *stubLog) Channel() string { return "wc-attach-images" }

func (s *stubLog) Recent(_ context.Context, limit int) ([]hostlog.Entry, error) {
	s.limit = limit
	return s.entries, s.err
}

func newTestRouter(t *testing.T, h *Handler, user string) (http.Handler, *shared.Session) {
	t.Helper()
	sm := shared.NewSessionManager(nil, "", time.Hour, false)
	sess, err := sm.Load(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	if user != "" {
		sess.SetUser(user)
	}
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(shared.ContextWithSession(r.Context(), sess)))
		})
	})
	h.MountRoutes(r)
	return r, sess
}

func newTestHandler(t *testing.T, scheduler Scheduler, status StatusSource, log LogReader, settings Settings) *Handler {
	t.Helper()
	templates, err := view.NewEngine()
	require.NoError(t, err)
	return NewHandler(nil, scheduler, status, log, templates, shared.NewCSRFManager("secret"), settings)
}

func TestPageRequiresLogin(t *testing.T) {
	h := newTestHandler(t, &stubScheduler{}, nil, nil, Settings{})
	router, _ := newTestRouter(t, h, "")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, BasePath, nil))
	assert.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/auth/login", rr.Header().Get("Location"))
}

func TestPageRendersButtonAndQueue(t *testing.T) {
	next := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)
	h := newTestHandler(t, &stubScheduler{}, stubStatus{status: jobs.QueueStatus{Queue: "default", Pending: 1, NextRunAt: &next}}, nil,
		Settings{Backend: "rest", Pause: 5 * time.Second})
	router, sess := newTestRouter(t, h, "admin@example.com")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, BasePath, nil))

	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, `value="Attach Images"`)
	assert.Contains(t, body, "1 pending, 0 active, 0 scheduled")
	assert.Contains(t, body, sess.Get(shared.CSRFSessionKey))
}

func TestPageSurvivesQueueError(t *testing.T) {
	h := newTestHandler(t, &stubScheduler{}, stubStatus{err: errors.New("redis down")}, nil, Settings{Backend: "mysql"})
	router, _ := newTestRouter(t, h, "admin@example.com")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, BasePath, nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "unavailable")
}

func TestTriggerSchedulesRun(t *testing.T) {
	scheduler := &stubScheduler{}
	h := newTestHandler(t, scheduler, nil, nil, Settings{Continuation: true})
	router, sess := newTestRouter(t, h, "admin@example.com")

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, BasePath, strings.NewReader("attach-images=Attach+Images"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, BasePath, rr.Header().Get("Location"))
	require.Len(t, scheduler.calls, 1)
	assert.Equal(t, jobs.AttachImagesPayload{Page: 1, Continuation: true, RequestedBy: "admin@example.com"}, scheduler.calls[0])

	flash := sess.PopFlash()
	require.NotNil(t, flash)
	assert.Equal(t, shared.FlashSuccess, flash.Kind)
	assert.Equal(t, msgScheduled, flash.Message)
}

func TestTriggerAlreadyScheduled(t *testing.T) {
	scheduler := &stubScheduler{err: jobs.ErrAlreadyScheduled}
	h := newTestHandler(t, scheduler, nil, nil, Settings{})
	router, sess := newTestRouter(t, h, "admin@example.com")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, BasePath, nil))

	assert.Equal(t, http.StatusSeeOther, rr.Code)
	flash := sess.PopFlash()
	require.NotNil(t, flash)
	assert.Equal(t, shared.FlashWarning, flash.Kind)
}

func TestTriggerFailure(t *testing.T) {
	scheduler := &stubScheduler{err: errors.New("dial tcp: refused")}
	h := newTestHandler(t, scheduler, nil, nil, Settings{})
	router, sess := newTestRouter(t, h, "admin@example.com")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, BasePath, nil))

	assert.Equal(t, http.StatusSeeOther, rr.Code)
	flash := sess.PopFlash()
	require.NotNil(t, flash)
	assert.Equal(t, shared.FlashError, flash.Kind)
}

func TestLogPageListsEntries(t *testing.T) {
	log := &stubLog{entries: []hostlog.Entry{
		{ID: 2, Message: "Media ID found: 55", CreatedAt: time.Now()},
		{ID: 1, Message: "Querying products...", CreatedAt: time.Now()},
	}}
	h := newTestHandler(t, nil, stubStatus{status: jobs.QueueStatus{Running: true}}, log, Settings{})
	router, _ := newTestRouter(t, h, "admin@example.com")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, BasePath+"/log", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, "Media ID found: 55")
	assert.Contains(t, body, "A run is in progress")
	assert.Equal(t, logLimit, log.limit)
}

func TestLogPageStoreError(t *testing.T) {
	h := newTestHandler(t, nil, nil, &stubLog{err: errors.New("pg down")}, Settings{})
	router, _ := newTestRouter(t, h, "admin@example.com")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, BasePath+"/log", nil))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}
