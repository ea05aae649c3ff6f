// Package recurrence re-arms a named task from its persisted anchor.
package recurrence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/keepon/remindd/internal/db"
	"github.com/keepon/remindd/internal/metrics"
)

// Store persists the anchor of a recurring task. LoadAnchor returns
// db.ErrNoSchedule when the task has never been scheduled.
type Store interface {
	LoadAnchor(ctx context.Context, name string) (time.Time, error)
	SaveAnchor(ctx context.Context, name string, at time.Time) error
}

// Task is the unit of work run on every tick.
type Task func(ctx context.Context) error

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// ParseSchedule accepts a standard five field cron expression or a
// descriptor such as "@every 1m" or "@hourly".
func ParseSchedule(spec string) (cron.Schedule, error) {
	s, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", spec, err)
	}
	return s, nil
}

// ParseScheduledAt reads a stored or user supplied anchor.
func ParseScheduledAt(raw string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05Z07:00", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid scheduled_at: %q", raw)
}

const saveTimeout = 5 * time.Second

// Config configures a Scheduler.
type Config struct {
	Name     string
	Schedule cron.Schedule
	Clock    Clock
}

// Scheduler runs a task at anchors derived from the previous anchor, so a
// stalled process runs the ticks it missed instead of drifting forward.
type Scheduler struct {
	name     string
	schedule cron.Schedule
	store    Store
	task     Task
	clock    Clock
	logger   *zap.Logger

	wake chan struct{}

	mu     sync.Mutex
	anchor time.Time

	// saveMu orders anchor writes between cycles and overrides. overrideGen
	// counts overrides so a cycle can tell one arrived while its task ran.
	saveMu      sync.Mutex
	overrideGen uint64
	override    time.Time
}

// New creates a scheduler.
func New(cfg Config, store Store, task Task, logger *zap.Logger) *Scheduler {
	clock := cfg.Clock
	if clock == nil {
		clock = realClock{}
	}
	return &Scheduler{
		name:     cfg.Name,
		schedule: cfg.Schedule,
		store:    store,
		task:     task,
		clock:    clock,
		logger:   logger,
		wake:     make(chan struct{}, 1),
	}
}

// Start runs the task on schedule until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.setAnchor(s.loadAnchor(ctx))

	s.logger.Info("recurring task scheduler started",
		zap.String("task", s.name),
		zap.Time("next_run", s.Anchor()),
	)

	for ctx.Err() == nil {
		anchor := s.Anchor()
		wait := anchor.Sub(s.clock.Now())
		if wait < 0 {
			wait = 0
		}

		select {
		case <-ctx.Done():
		case <-s.wake:
			s.setAnchor(s.loadAnchor(ctx))
		case <-s.clock.After(wait):
			s.setAnchor(s.cycle(ctx, anchor))
		}
	}

	s.logger.Info("recurring task scheduler stopping", zap.String("task", s.name))
}

// Anchor is the next run the scheduler is waiting for.
func (s *Scheduler) Anchor() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.anchor
}

func (s *Scheduler) setAnchor(at time.Time) {
	s.mu.Lock()
	s.anchor = at
	s.mu.Unlock()
	metrics.SetNextRun(at)
}

// Reschedule persists a new anchor and wakes the loop to pick it up. An
// override made while the task is running survives that run's own re-arm.
func (s *Scheduler) Reschedule(ctx context.Context, at time.Time) error {
	s.saveMu.Lock()
	if err := s.store.SaveAnchor(ctx, s.name, at); err != nil {
		s.saveMu.Unlock()
		return err
	}
	s.overrideGen++
	s.override = at
	s.saveMu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}

	s.logger.Info("recurring task rescheduled",
		zap.String("task", s.name),
		zap.Time("next_run", at),
	)
	return nil
}

// loadAnchor reads the stored anchor, seeding it with now when absent.
func (s *Scheduler) loadAnchor(ctx context.Context) time.Time {
	at, err := s.store.LoadAnchor(ctx, s.name)
	if err == nil {
		return at
	}

	now := s.clock.Now()
	if errors.Is(err, db.ErrNoSchedule) {
		if err := s.store.SaveAnchor(ctx, s.name, now); err != nil {
			s.logger.Warn("failed to seed recurring task anchor",
				zap.String("task", s.name),
				zap.Error(err),
			)
		}
		return now
	}

	s.logger.Error("failed to load recurring task anchor, running now",
		zap.String("task", s.name),
		zap.Error(err),
	)
	if prev := s.Anchor(); !prev.IsZero() {
		return prev
	}
	return now
}

// cycle runs the task once and always computes and persists the next anchor.
func (s *Scheduler) cycle(ctx context.Context, anchor time.Time) (next time.Time) {
	gen := s.generation()
	defer func() {
		next = s.scheduleNext(ctx, anchor, gen)
	}()

	start := s.clock.Now()
	if err := s.run(ctx); err != nil {
		s.logger.Error("recurring task failed",
			zap.String("task", s.name),
			zap.Time("scheduled_at", anchor),
			zap.Error(err),
		)
		return
	}

	s.logger.Debug("recurring task completed",
		zap.String("task", s.name),
		zap.Time("scheduled_at", anchor),
		zap.Duration("duration", s.clock.Now().Sub(start)),
	)
	return
}

// run invokes the task, converting a panic into an error.
func (s *Scheduler) run(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return s.task(ctx)
}

func (s *Scheduler) generation() uint64 {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	return s.overrideGen
}

// scheduleNext derives the next anchor from the previous one. A failed write
// keeps the in-memory anchor; the following cycle writes again. When an
// override landed after gen was taken, the override is the next anchor and
// nothing is written.
func (s *Scheduler) scheduleNext(ctx context.Context, anchor time.Time, gen uint64) time.Time {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	if s.overrideGen != gen {
		s.logger.Info("keeping anchor rescheduled during run",
			zap.String("task", s.name),
			zap.Time("next_run", s.override),
		)
		return s.override
	}

	next := s.schedule.Next(anchor)

	// The write must land even when the run was cut short by shutdown.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), saveTimeout)
	defer cancel()

	if err := s.store.SaveAnchor(saveCtx, s.name, next); err != nil {
		metrics.RecordScheduleFailure()
		s.logger.Error("failed to persist next recurring run",
			zap.String("task", s.name),
			zap.Time("next_run", next),
			zap.Error(err),
		)
	}

	return next
}
