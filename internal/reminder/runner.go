package reminder

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/keepon/remindd/internal/db"
	"github.com/keepon/remindd/internal/metrics"
)

// TaskName is the recurring task this runner implements.
const TaskName = "sendAppointmentReminders"

// Store is the persistence the runner needs. Each call is its own transaction.
type Store interface {
	ClaimDueSlots(ctx context.Context) ([]db.ClaimedSlot, error)
	LoadReminderDetails(ctx context.Context, sessionIDs []uuid.UUID) ([]*db.ReminderDetail, error)
	WriteOutbox(ctx context.Context, out *db.Outbox) error
}

// Summary reports what one run did.
type Summary struct {
	Claimed      int            `json:"claimed"`
	Unrecognised int            `json:"unrecognised"`
	Details      int            `json:"details"`
	Tasks        int            `json:"tasks"`
	Mails        int            `json:"mails"`
	SMS          int            `json:"sms"`
	Advisories   int            `json:"advisories"`
	Skipped      map[string]int `json:"skipped,omitempty"`
	Duration     time.Duration  `json:"duration_ns"`
}

// Runner performs one reminder dispatch pass.
type Runner struct {
	store   Store
	builder *Builder
	logger  *zap.Logger
}

// NewRunner creates a runner.
func NewRunner(store Store, builder *Builder, logger *zap.Logger) *Runner {
	return &Runner{store: store, builder: builder, logger: logger}
}

// Run claims due slots, renders their reminders and writes them to the outbox.
// Claims are committed before anything else happens, so a later failure loses
// that tick's messages rather than sending them twice.
func (r *Runner) Run(ctx context.Context) (sum *Summary, err error) {
	start := time.Now()
	sum = &Summary{}
	defer func() {
		sum.Duration = time.Since(start)
		outcome := "success"
		if err != nil {
			outcome = "failure"
		}
		metrics.RecordRun(outcome, sum.Duration)
	}()

	claimed, err := r.store.ClaimDueSlots(ctx)
	if err != nil {
		return sum, fmt.Errorf("claim due slots: %w", err)
	}
	sum.Claimed = len(claimed)

	fired, sessionIDs := r.firings(claimed, sum)
	if len(fired) == 0 {
		r.logger.Debug("no reminders due", zap.Int("claimed", sum.Claimed))
		return sum, nil
	}

	rows, err := r.store.LoadReminderDetails(ctx, sessionIDs)
	if err != nil {
		return sum, fmt.Errorf("load reminder details: %w", err)
	}

	details := make([]Detail, 0, len(fired))
	for _, row := range rows {
		d, ok := NewDetail(row)
		if !ok {
			continue
		}
		if _, want := fired[firing{sessionID: d.SessionID.String(), kind: d.Type}]; !want {
			continue
		}
		details = append(details, d)
	}
	sum.Details = len(details)

	out, stats, err := r.builder.Build(details, NewLedger())
	if err != nil {
		return sum, fmt.Errorf("build reminders: %w", err)
	}

	for reason, n := range stats.Skipped {
		if sum.Skipped == nil {
			sum.Skipped = make(map[string]int)
		}
		sum.Skipped[string(reason)] = n
		metrics.RecordSkipped(string(reason), n)
	}
	for kind, n := range stats.Advisories {
		sum.Advisories += n
		metrics.RecordAdvisories(string(kind), n)
	}

	if out.Empty() {
		return sum, nil
	}

	if err := r.store.WriteOutbox(ctx, out); err != nil {
		r.logger.Error("reminder outbox write failed, claimed slots stay checked",
			zap.Error(err),
			zap.Int("claimed", sum.Claimed),
			zap.Int("mails", len(out.Mails)),
			zap.Int("sms", len(out.SMS)),
			zap.Int("tasks", len(out.Tasks)),
		)
		return sum, fmt.Errorf("write outbox: %w", err)
	}

	sum.Tasks, sum.Mails, sum.SMS = len(out.Tasks), len(out.Mails), len(out.SMS)
	metrics.RecordArtifacts(db.ChannelTask, sum.Tasks)
	metrics.RecordArtifacts(db.ChannelEmail, sum.Mails)
	metrics.RecordArtifacts(db.ChannelSMS, sum.SMS)

	r.logger.Info("appointment reminders queued",
		zap.Int("claimed", sum.Claimed),
		zap.Int("details", sum.Details),
		zap.Int("tasks", sum.Tasks),
		zap.Int("mails", sum.Mails),
		zap.Int("sms", sum.SMS),
		zap.Int("advisories", sum.Advisories),
	)

	return sum, nil
}

// firings parses claimed slots into the fired set and the sessions to load.
// Slots with an unrecognised type stay consumed and are dropped here.
func (r *Runner) firings(claimed []db.ClaimedSlot, sum *Summary) (map[firing]struct{}, []uuid.UUID) {
	fired := make(map[firing]struct{}, len(claimed))
	seen := make(map[uuid.UUID]struct{}, len(claimed))
	var sessionIDs []uuid.UUID

	for _, c := range claimed {
		metrics.RecordSlotClaimed(c.Slot)

		kind, ok := ParseReminderType(c.ReminderType)
		if !ok {
			sum.Unrecognised++
			metrics.RecordSlotDropped(c.Slot)
			r.logger.Warn("dropping reminder slot with unrecognised type",
				zap.String("session_id", c.SessionID.String()),
				zap.String("slot", c.Slot),
				zap.String("reminder_type", c.ReminderType),
			)
			continue
		}

		fired[firing{sessionID: c.SessionID.String(), kind: kind}] = struct{}{}
		if _, ok := seen[c.SessionID]; !ok {
			seen[c.SessionID] = struct{}{}
			sessionIDs = append(sessionIDs, c.SessionID)
		}
	}

	return fired, sessionIDs
}
