package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/zerodna/cms-authz/internal/jobs"
	"github.com/zerodna/cms-authz/internal/rbac"
	"github.com/zerodna/cms-authz/internal/rbac/rbactest"
)

type stubPurger struct {
	users int
	err   error
	calls int
}

func (s *stubPurger) PurgeExpired(context.Context) (int, error) {
	s.calls++
	return s.users, s.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestPurgeExpiredTaskPayload(t *testing.T) {
	at := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	task, err := NewPurgeExpiredTask("ops", at)
	require.NoError(t, err)
	assert.Equal(t, TaskPurgeExpired, task.Type())

	var payload PurgeExpiredPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, "ops", payload.RequestedBy)
	assert.True(t, payload.RequestedAt.Equal(at))
}

func TestPurgeExpiredJobRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)
	purger := &stubPurger{users: 3}
	job := NewPurgeExpiredJob(purger, discardLogger(), metrics)

	task, err := NewPurgeExpiredTask("cron", time.Time{})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	assert.Equal(t, 1, purger.calls)

	expected := `
# HELP cms_job_items_total Items processed by background jobs.
# TYPE cms_job_items_total counter
cms_job_items_total{job="purge:expired"} 3
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "cms_job_items_total"))
}

func TestPurgeExpiredJobFailure(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)
	job := NewPurgeExpiredJob(&stubPurger{err: errors.New("db down")}, discardLogger(), metrics)

	err := job.Handle(context.Background(), asynq.NewTask(TaskPurgeExpired, nil))
	require.Error(t, err)

	expected := `
# HELP cms_jobs_failures_total Total failures observed for background jobs.
# TYPE cms_jobs_failures_total counter
cms_jobs_failures_total{job="purge:expired"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "cms_jobs_failures_total"))
}

func TestPurgeExpiredJobBadPayloadSkipsRetry(t *testing.T) {
	purger := &stubPurger{}
	job := NewPurgeExpiredJob(purger, discardLogger(), nil)

	err := job.Handle(context.Background(), asynq.NewTask(TaskPurgeExpired, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.Zero(t, purger.calls)
}

func TestPurgeExpiredJobAgainstStore(t *testing.T) {
	f := rbactest.NewFixture(t)
	u := f.User("temp")
	past := time.Now().Add(-time.Minute)
	f.Assign(u, f.Role("contractor", 1), &past)

	job := NewPurgeExpiredJob(rbac.NewAssignmentManager(f.Store, nil), discardLogger(), nil)
	require.NoError(t, job.Handle(context.Background(), asynq.NewTask(TaskPurgeExpired, nil)))

	roles, err := f.Store.ListUserRoles(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Empty(t, roles)
}

type stubInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (s stubInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) {
	return s.info, s.err
}

func serveHealth(inspector QueueInspector) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	NewHandler(inspector, discardLogger()).MountRoutes(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	return rec
}

func TestHealthHandler(t *testing.T) {
	rec := serveHealth(stubInspector{info: &asynq.QueueInfo{Queue: QueueDefault, Pending: 2, Retry: 1, Processed: 10}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"queue":"default","pending":2,"active":0,"retry":1,"archived":0,"processedToday":10,"failedToday":0}`, rec.Body.String())

	rec = serveHealth(stubInspector{err: asynq.ErrQueueNotFound})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"pending":0`)

	rec = serveHealth(stubInspector{err: errors.New("redis down")})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
