package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// StaleClaimAfter is how long a row may sit in processing before another relay
// may claim it again.
const StaleClaimAfter = 10 * time.Minute

// channelTables maps a delivery channel to its outbox table.
var channelTables = map[string]string{
	ChannelEmail: "mail",
	ChannelSMS:   "sms",
	ChannelTask:  "workflow_outbox",
}

// OutboxTable returns the table backing a channel.
func OutboxTable(channel string) (string, error) {
	table, ok := channelTables[channel]
	if !ok {
		return "", fmt.Errorf("unknown channel: %s", channel)
	}
	return table, nil
}

// claimQuery moves up to $1 deliverable rows into processing. Rows left in
// processing by a crashed relay become claimable again after $2 seconds.
func claimQuery(table, columns string) string {
	return fmt.Sprintf(`
		UPDATE %[1]s
		SET status = 'processing', updated_at = NOW()
		WHERE id IN (
			SELECT id FROM %[1]s
			WHERE (status = 'pending' AND (next_retry_at IS NULL OR next_retry_at <= NOW()))
			   OR (status = 'processing' AND updated_at < NOW() - make_interval(secs => $2))
			ORDER BY created_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING %[2]s
	`, table, columns)
}

var (
	claimMailQuery = claimQuery("mail", "id, attempt, trainer_id, to_email, to_name, from_name, reply_to, subject, html, text")
	claimSMSQuery  = claimQuery("sms", "id, attempt, trainer_id, client_id, to_number, from_name, body")
	claimTaskQuery = claimQuery("workflow_outbox", "id, attempt, name, payload")
)

// ClaimDeliveries claims up to limit rows from each outbox table.
func (s *Store) ClaimDeliveries(ctx context.Context, limit int) ([]*Delivery, error) {
	var out []*Delivery
	stale := StaleClaimAfter.Seconds()

	err := s.db.inTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		mails, err := claimRows(ctx, tx, claimMailQuery, limit, stale, func(row pgx.Rows) (*Delivery, error) {
			m := &Mail{}
			d := &Delivery{Channel: ChannelEmail, Mail: m}
			err := row.Scan(&d.ID, &d.Attempt, &m.TrainerID, &m.ToEmail, &m.ToName, &m.FromName, &m.ReplyTo, &m.Subject, &m.HTML, &m.Text)
			m.ID = d.ID
			return d, err
		})
		if err != nil {
			return fmt.Errorf("claim mail: %w", err)
		}

		sms, err := claimRows(ctx, tx, claimSMSQuery, limit, stale, func(row pgx.Rows) (*Delivery, error) {
			m := &SMS{}
			d := &Delivery{Channel: ChannelSMS, SMS: m}
			err := row.Scan(&d.ID, &d.Attempt, &m.TrainerID, &m.ClientID, &m.ToNumber, &m.FromName, &m.Body)
			m.ID = d.ID
			return d, err
		})
		if err != nil {
			return fmt.Errorf("claim sms: %w", err)
		}

		tasks, err := claimRows(ctx, tx, claimTaskQuery, limit, stale, func(row pgx.Rows) (*Delivery, error) {
			t := &Task{}
			d := &Delivery{Channel: ChannelTask, Task: t}
			err := row.Scan(&d.ID, &d.Attempt, &t.Name, &t.Payload)
			t.ID = d.ID
			return d, err
		})
		if err != nil {
			return fmt.Errorf("claim tasks: %w", err)
		}

		out = append(append(append(out, mails...), sms...), tasks...)
		return nil
	})
	if err != nil {
		s.logger.Error("failed to claim outbox deliveries", zap.Error(err))
		return nil, err
	}

	return out, nil
}

func claimRows(ctx context.Context, tx pgx.Tx, query string, limit int, stale float64, scan func(pgx.Rows) (*Delivery, error)) ([]*Delivery, error) {
	rows, err := tx.Query(ctx, query, limit, stale)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Delivery
	for rows.Next() {
		d, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// MarkSent records a successful delivery.
func (s *Store) MarkSent(ctx context.Context, d *Delivery) error {
	table, err := OutboxTable(d.Channel)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		UPDATE %s
		SET status = $1, sent_at = NOW(), error_message = NULL, updated_at = NOW()
		WHERE id = $2
	`, table)

	if _, err := s.db.Pool().Exec(ctx, query, StatusSent, d.ID); err != nil {
		return fmt.Errorf("mark %s sent: %w", d.ID, err)
	}
	return nil
}

// MarkRetry puts a delivery back to pending until nextRetry.
func (s *Store) MarkRetry(ctx context.Context, d *Delivery, lastError string, nextRetry time.Time) error {
	table, err := OutboxTable(d.Channel)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		UPDATE %s
		SET status = $1, attempt = $2, error_message = $3, next_retry_at = $4, updated_at = NOW()
		WHERE id = $5
	`, table)

	if _, err := s.db.Pool().Exec(ctx, query, StatusPending, d.Attempt, lastError, nextRetry, d.ID); err != nil {
		return fmt.Errorf("mark %s for retry: %w", d.ID, err)
	}
	return nil
}

// MarkFailed gives up on a delivery.
func (s *Store) MarkFailed(ctx context.Context, d *Delivery, lastError string) error {
	table, err := OutboxTable(d.Channel)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		UPDATE %s
		SET status = $1, attempt = $2, error_message = $3, updated_at = NOW()
		WHERE id = $4
	`, table)

	if _, err := s.db.Pool().Exec(ctx, query, StatusFailed, d.Attempt, lastError, d.ID); err != nil {
		return fmt.Errorf("mark %s failed: %w", d.ID, err)
	}

	s.logger.Warn("outbox delivery failed permanently",
		zap.String("id", d.ID.String()),
		zap.String("channel", d.Channel),
		zap.Int("attempt", d.Attempt),
		zap.String("last_error", lastError),
	)
	return nil
}

// OutboxDepth counts pending rows per channel.
func (s *Store) OutboxDepth(ctx context.Context) (map[string]int, error) {
	depth := make(map[string]int, len(channelTables))
	for channel, table := range channelTables {
		var n int
		query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE status = 'pending'`, table)
		if err := s.db.Pool().QueryRow(ctx, query).Scan(&n); err != nil {
			return nil, fmt.Errorf("count pending %s: %w", table, err)
		}
		depth[channel] = n
	}
	return depth, nil
}
