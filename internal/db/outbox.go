package db

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

var (
	taskColumns  = []string{"id", "name", "payload", "status"}
	mailColumns  = []string{"id", "trainer_id", "to_email", "to_name", "from_name", "reply_to", "subject", "html", "text", "status"}
	auditColumns = []string{"mail_id", "session_id", "client_session_id", "reminder_type", "recipient"}
	smsColumns   = []string{"id", "trainer_id", "client_id", "to_number", "from_name", "body", "status"}
)

func taskRows(tasks []*Task) [][]any {
	rows := make([][]any, len(tasks))
	for i, t := range tasks {
		rows[i] = []any{t.ID, t.Name, t.Payload, StatusPending}
	}
	return rows
}

func mailRows(mails []*Mail) [][]any {
	rows := make([][]any, len(mails))
	for i, m := range mails {
		rows[i] = []any{m.ID, m.TrainerID, m.ToEmail, m.ToName, m.FromName, m.ReplyTo, m.Subject, m.HTML, m.Text, StatusPending}
	}
	return rows
}

func auditRows(audits []*MailAudit) [][]any {
	rows := make([][]any, len(audits))
	for i, a := range audits {
		rows[i] = []any{a.MailID, a.SessionID, a.ClientSessionID, a.ReminderType, a.Recipient}
	}
	return rows
}

func smsRows(sms []*SMS) [][]any {
	rows := make([][]any, len(sms))
	for i, s := range sms {
		rows[i] = []any{s.ID, s.TrainerID, s.ClientID, s.ToNumber, s.FromName, s.Body, StatusPending}
	}
	return rows
}

// CreditDebit is how many SMS credits a run spent for one trainer.
type CreditDebit struct {
	TrainerID uuid.UUID
	Count     int
}

// SMSDebits groups sms rows by trainer, ordered by trainer id so concurrent
// writers lock trainer rows in the same order.
func SMSDebits(sms []*SMS) []CreditDebit {
	counts := make(map[uuid.UUID]int)
	for _, m := range sms {
		counts[m.TrainerID]++
	}

	debits := make([]CreditDebit, 0, len(counts))
	for id, n := range counts {
		debits = append(debits, CreditDebit{TrainerID: id, Count: n})
	}
	sort.Slice(debits, func(i, j int) bool {
		return bytes.Compare(debits[i].TrainerID[:], debits[j].TrainerID[:]) < 0
	})
	return debits
}

const debitCreditsQuery = `
	UPDATE trainer
	SET sms_credit_balance = sms_credit_balance - $1, updated_at = NOW()
	WHERE id = $2`

func debitCredits(ctx context.Context, tx pgx.Tx, debits []CreditDebit) error {
	if len(debits) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, d := range debits {
		batch.Queue(debitCreditsQuery, d.Count, d.TrainerID)
	}

	results := tx.SendBatch(ctx, batch)
	for _, d := range debits {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return fmt.Errorf("debit sms credits for trainer %s: %w", d.TrainerID, err)
		}
	}
	return results.Close()
}

// WriteOutbox inserts everything a run produced in one transaction. Mail rows
// go in before their audit rows, which reference them. Each trainer's SMS
// credit balance is lowered by the sms rows written for them, so the next run
// seeds its ledger from what is left.
func (s *Store) WriteOutbox(ctx context.Context, out *Outbox) error {
	if out.Empty() {
		return nil
	}

	copies := []struct {
		table   string
		columns []string
		rows    [][]any
	}{
		{"workflow_outbox", taskColumns, taskRows(out.Tasks)},
		{"mail", mailColumns, mailRows(out.Mails)},
		{"email_appointment_reminder", auditColumns, auditRows(out.Audits)},
		{"sms", smsColumns, smsRows(out.SMS)},
	}

	err := s.db.inTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		for _, c := range copies {
			if len(c.rows) == 0 {
				continue
			}
			n, err := tx.CopyFrom(ctx, pgx.Identifier{c.table}, c.columns, pgx.CopyFromRows(c.rows))
			if err != nil {
				return fmt.Errorf("copy into %s: %w", c.table, err)
			}
			if int(n) != len(c.rows) {
				return fmt.Errorf("copy into %s: wrote %d of %d rows", c.table, n, len(c.rows))
			}
		}
		return debitCredits(ctx, tx, SMSDebits(out.SMS))
	})
	if err != nil {
		s.logger.Error("failed to write reminder outbox", zap.Error(err))
		return err
	}

	s.logger.Debug("reminder outbox written",
		zap.Int("tasks", len(out.Tasks)),
		zap.Int("mails", len(out.Mails)),
		zap.Int("audits", len(out.Audits)),
		zap.Int("sms", len(out.SMS)),
	)
	return nil
}
