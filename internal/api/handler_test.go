package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/keepon/remindd/internal/circuitbreaker"
	"github.com/keepon/remindd/internal/reminder"
)

type fakeRunner struct {
	sum     *reminder.Summary
	err     error
	calls   int
	started chan struct{}
	release chan struct{}
	ctxErr  error
}

func (f *fakeRunner) Run(ctx context.Context) (*reminder.Summary, error) {
	f.calls++
	if f.started != nil {
		close(f.started)
		<-f.release
	}
	f.ctxErr = ctx.Err()
	if f.err != nil {
		return nil, f.err
	}
	return f.sum, nil
}

type fakeSchedule struct {
	anchor time.Time
	err    error
}

func (f *fakeSchedule) Anchor() time.Time { return f.anchor }

func (f *fakeSchedule) Reschedule(ctx context.Context, at time.Time) error {
	if f.err != nil {
		return f.err
	}
	f.anchor = at
	return nil
}

type fakeBreakers []circuitbreaker.Stats

func (f fakeBreakers) Stats() []circuitbreaker.Stats { return f }

var testAnchor = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func newTestServer(runner *fakeRunner, schedule *fakeSchedule, opts Options) http.Handler {
	if opts.ScheduleSpec == "" {
		opts.ScheduleSpec = "@every 1m"
	}
	h := NewHandler(zap.NewNop(), runner, schedule, opts)
	return NewRouter(h, nil, zap.NewNop())
}

func do(t *testing.T, srv http.Handler, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func decodeProblem(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	var problem ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&problem))
	assert.Equal(t, rec.Code, problem.Status)
	return problem
}

func TestHealth(t *testing.T) {
	srv := newTestServer(&fakeRunner{}, &fakeSchedule{}, Options{})

	rec := do(t, srv, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestReady(t *testing.T) {
	tests := []struct {
		name   string
		checks map[string]Check
		want   int
	}{
		{"no checks", nil, http.StatusOK},
		{"all healthy", map[string]Check{"postgres": func(context.Context) error { return nil }}, http.StatusOK},
		{"redis down", map[string]Check{
			"postgres": func(context.Context) error { return nil },
			"redis":    func(context.Context) error { return errors.New("connection refused") },
		}, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(&fakeRunner{}, &fakeSchedule{}, Options{Checks: tt.checks})

			rec := do(t, srv, http.MethodGet, "/ready", nil)

			assert.Equal(t, tt.want, rec.Code)
			var body struct {
				Checks map[string]string `json:"checks"`
			}
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.Len(t, body.Checks, len(tt.checks))
		})
	}
}

func TestTriggerRun(t *testing.T) {
	runner := &fakeRunner{sum: &reminder.Summary{
		Claimed: 4,
		Details: 2,
		Mails:   3,
		SMS:     1,
		Tasks:   1,
		Skipped: map[string]int{"no_sms_credit": 2},
	}}
	srv := newTestServer(runner, &fakeSchedule{}, Options{})

	rec := do(t, srv, http.MethodPost, "/v1/runs", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var sum reminder.Summary
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&sum))
	assert.Equal(t, 4, sum.Claimed)
	assert.Equal(t, 3, sum.Mails)
	assert.Equal(t, map[string]int{"no_sms_credit": 2}, sum.Skipped)
	assert.Equal(t, 1, runner.calls)
}

func TestTriggerRun_Failure(t *testing.T) {
	srv := newTestServer(&fakeRunner{err: errors.New("write outbox: conn reset")}, &fakeSchedule{}, Options{})

	rec := do(t, srv, http.MethodPost, "/v1/runs", nil)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	problem := decodeProblem(t, rec)
	assert.Equal(t, "run_failed", problem.Type)
	assert.Contains(t, problem.Detail, "conn reset")
}

func TestTriggerRun_DetachedFromRequest(t *testing.T) {
	runner := &fakeRunner{sum: &reminder.Summary{}}
	h := NewHandler(zap.NewNop(), runner, &fakeSchedule{}, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/v1/runs", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	h.TriggerRun(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NoError(t, runner.ctxErr, "a cancelled request must not cancel the run")
}

func TestTriggerRun_Conflict(t *testing.T) {
	runner := &fakeRunner{
		sum:     &reminder.Summary{},
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	srv := newTestServer(runner, &fakeSchedule{}, Options{})

	first := make(chan int, 1)
	go func() {
		first <- do(t, srv, http.MethodPost, "/v1/runs", nil).Code
	}()
	<-runner.started

	rec := do(t, srv, http.MethodPost, "/v1/runs", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "run_in_progress", decodeProblem(t, rec).Type)

	close(runner.release)
	assert.Equal(t, http.StatusOK, <-first)
}

func TestGetSchedule(t *testing.T) {
	srv := newTestServer(&fakeRunner{}, &fakeSchedule{anchor: testAnchor}, Options{ScheduleSpec: "@every 5m"})

	rec := do(t, srv, http.MethodGet, "/v1/schedule", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp ScheduleResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, reminder.TaskName, resp.Task)
	assert.Equal(t, "@every 5m", resp.Schedule)
	assert.True(t, resp.ScheduledAt.Equal(testAnchor))
}

func TestUpdateSchedule(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		failSave bool
		wantCode int
		wantType string
		wantAt   time.Time
	}{
		{
			name:     "rfc3339 with offset",
			body:     `{"scheduled_at":"2026-03-03T09:00:00+11:00"}`,
			wantCode: http.StatusOK,
			wantAt:   time.Date(2026, 3, 2, 22, 0, 0, 0, time.UTC),
		},
		{
			name:     "malformed json",
			body:     `{"scheduled_at":`,
			wantCode: http.StatusBadRequest,
			wantType: "invalid_request",
		},
		{
			name:     "missing field",
			body:     `{}`,
			wantCode: http.StatusBadRequest,
			wantType: "invalid_request",
		},
		{
			name:     "unparseable time",
			body:     `{"scheduled_at":"next tuesday"}`,
			wantCode: http.StatusBadRequest,
			wantType: "invalid_request",
		},
		{
			name:     "save fails",
			body:     `{"scheduled_at":"2026-03-03T09:00:00Z"}`,
			failSave: true,
			wantCode: http.StatusInternalServerError,
			wantType: "database_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			schedule := &fakeSchedule{anchor: testAnchor}
			if tt.failSave {
				schedule.err = errors.New("db down")
			}
			srv := newTestServer(&fakeRunner{}, schedule, Options{})

			rec := do(t, srv, http.MethodPut, "/v1/schedule", []byte(tt.body))

			require.Equal(t, tt.wantCode, rec.Code)
			if tt.wantType != "" {
				assert.Equal(t, tt.wantType, decodeProblem(t, rec).Type)
				assert.True(t, schedule.anchor.Equal(testAnchor), "anchor must be unchanged")
				return
			}

			var resp ScheduleResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.True(t, resp.ScheduledAt.Equal(tt.wantAt), "got %s", resp.ScheduledAt)
			assert.True(t, schedule.anchor.Equal(tt.wantAt))
		})
	}
}

func TestListBreakers(t *testing.T) {
	stats := fakeBreakers{
		{Name: "ses", State: "closed"},
		{Name: "twilio", State: "open", FailureCount: 5},
	}

	tests := []struct {
		name      string
		breakers  BreakerStats
		wantCount int
	}{
		{"with breakers", stats, 2},
		{"none configured", nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(&fakeRunner{}, &fakeSchedule{}, Options{Breakers: tt.breakers})

			rec := do(t, srv, http.MethodGet, "/v1/breakers", nil)

			require.Equal(t, http.StatusOK, rec.Code)
			var body struct {
				Data  []circuitbreaker.Stats `json:"data"`
				Count int                    `json:"count"`
			}
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.Equal(t, tt.wantCount, body.Count)
			assert.Len(t, body.Data, tt.wantCount)
		})
	}
}

func TestMetricsRoute(t *testing.T) {
	srv := newTestServer(&fakeRunner{}, &fakeSchedule{}, Options{})

	do(t, srv, http.MethodGet, "/health", nil)
	rec := do(t, srv, http.MethodGet, "/metrics", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "remindd_http_requests_total")
}
