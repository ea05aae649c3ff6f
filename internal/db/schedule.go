package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ErrNoSchedule is returned when a recurring task has no stored anchor.
var ErrNoSchedule = errors.New("recurring task not scheduled")

// LoadAnchor returns the next scheduled run for a recurring task.
func (s *Store) LoadAnchor(ctx context.Context, name string) (time.Time, error) {
	var at time.Time
	err := s.db.Pool().QueryRow(ctx,
		`SELECT scheduled_at FROM recurring_task_schedule WHERE name = $1`, name,
	).Scan(&at)

	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, ErrNoSchedule
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("query schedule %s: %w", name, err)
	}

	return at, nil
}

// SaveAnchor stores the next scheduled run for a recurring task.
func (s *Store) SaveAnchor(ctx context.Context, name string, at time.Time) error {
	query := `
		INSERT INTO recurring_task_schedule (name, scheduled_at, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (name) DO UPDATE
		SET scheduled_at = EXCLUDED.scheduled_at, updated_at = NOW()
	`

	if _, err := s.db.Pool().Exec(ctx, query, name, at.UTC()); err != nil {
		return fmt.Errorf("save schedule %s: %w", name, err)
	}
	return nil
}
