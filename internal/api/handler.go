package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/keepon/remindd/internal/circuitbreaker"
	"github.com/keepon/remindd/internal/recurrence"
	"github.com/keepon/remindd/internal/reminder"
)

// manualRunTimeout bounds a run triggered over HTTP. The run is detached from
// the request so a dropped connection cannot cut it off between claiming
// slots and writing the outbox.
const manualRunTimeout = 2 * time.Minute

// Runner performs one reminder dispatch pass.
type Runner interface {
	Run(ctx context.Context) (*reminder.Summary, error)
}

// Schedule exposes the recurring task's anchor.
type Schedule interface {
	Anchor() time.Time
	Reschedule(ctx context.Context, at time.Time) error
}

// BreakerStats reports circuit breaker state.
type BreakerStats interface {
	Stats() []circuitbreaker.Stats
}

// Check is a readiness probe for one dependency.
type Check func(ctx context.Context) error

// ErrorResponse represents an error in problem+json format
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// ScheduleResponse describes the reminder task's next run.
type ScheduleResponse struct {
	Task        string    `json:"task"`
	Schedule    string    `json:"schedule"`
	ScheduledAt time.Time `json:"scheduled_at"`
}

// ScheduleRequest overrides the next run.
type ScheduleRequest struct {
	ScheduledAt string `json:"scheduled_at"`
}

// Handler holds dependencies for API handlers
type Handler struct {
	logger   *zap.Logger
	runner   Runner
	schedule Schedule
	spec     string
	breakers BreakerStats
	checks   map[string]Check

	// runMu keeps manual runs from piling up behind each other.
	runMu sync.Mutex
}

// Options carries the handler's optional dependencies.
type Options struct {
	ScheduleSpec string
	Breakers     BreakerStats
	Checks       map[string]Check
}

// NewHandler creates a new API handler
func NewHandler(logger *zap.Logger, runner Runner, schedule Schedule, opts Options) *Handler {
	return &Handler{
		logger:   logger,
		runner:   runner,
		schedule: schedule,
		spec:     opts.ScheduleSpec,
		breakers: opts.Breakers,
		checks:   opts.Checks,
	}
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// Ready handles GET /ready, failing when any dependency check fails.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.logger.Warn("readiness check failed", zap.String("check", name), zap.Error(err))
			results[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}

	writeJSON(w, status, map[string]interface{}{"checks": results})
}

// TriggerRun handles POST /v1/runs
func (h *Handler) TriggerRun(w http.ResponseWriter, r *http.Request) {
	if !h.runMu.TryLock() {
		h.writeError(w, http.StatusConflict, "run_in_progress", "A manual run is already in progress", "")
		return
	}
	defer h.runMu.Unlock()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), manualRunTimeout)
	defer cancel()

	sum, err := h.runner.Run(ctx)
	if err != nil {
		h.logger.Error("manual reminder run failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "run_failed", "Reminder run failed", err.Error())
		return
	}

	h.logger.Info("manual reminder run completed",
		zap.Int("claimed", sum.Claimed),
		zap.Int("mails", sum.Mails),
		zap.Int("sms", sum.SMS),
		zap.Int("tasks", sum.Tasks),
	)

	writeJSON(w, http.StatusOK, sum)
}

// GetSchedule handles GET /v1/schedule
func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.scheduleResponse())
}

// UpdateSchedule handles PUT /v1/schedule
func (h *Handler) UpdateSchedule(w http.ResponseWriter, r *http.Request) {
	var req ScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}
	if req.ScheduledAt == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing required fields", "scheduled_at is required")
		return
	}

	at, err := recurrence.ParseScheduledAt(req.ScheduledAt)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid scheduled_at", err.Error())
		return
	}

	if err := h.schedule.Reschedule(r.Context(), at); err != nil {
		h.logger.Error("failed to reschedule reminders", zap.Error(err), zap.Time("scheduled_at", at))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to update schedule", "")
		return
	}

	h.logger.Info("reminder schedule overridden", zap.Time("scheduled_at", at))
	writeJSON(w, http.StatusOK, h.scheduleResponse())
}

func (h *Handler) scheduleResponse() ScheduleResponse {
	return ScheduleResponse{
		Task:        reminder.TaskName,
		Schedule:    h.spec,
		ScheduledAt: h.schedule.Anchor(),
	}
}

// ListBreakers handles GET /v1/breakers
func (h *Handler) ListBreakers(w http.ResponseWriter, r *http.Request) {
	stats := []circuitbreaker.Stats{}
	if h.breakers != nil {
		stats = h.breakers.Stats()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":  stats,
		"count": len(stats),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	writeProblem(w, status, errType, title, detail)
}

func writeProblem(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
