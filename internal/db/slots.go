package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// ReminderSlots maps each reminder slot to the session column holding its type.
// The matching marker column is <column>_checked_at.
var ReminderSlots = []struct {
	Slot   string
	Column string
}{
	{"serviceProviderReminder1", "service_provider_reminder_1"},
	{"serviceProviderReminder2", "service_provider_reminder_2"},
	{"clientReminder1", "client_reminder_1"},
	{"clientReminder2", "client_reminder_2"},
}

// claimSlotQuery marks every due, unchecked session for one slot. The
// checked_at IS NULL guard makes concurrent claims of the same row exclusive.
// column must come from ReminderSlots.
func claimSlotQuery(column string) string {
	return fmt.Sprintf(`
		UPDATE session s
		SET %[1]s_checked_at = NOW()
		FROM vw_due_session_reminder_slot due
		WHERE due.session_id = s.id
		  AND due.reminder_slot = $1
		  AND s.%[1]s_checked_at IS NULL
		RETURNING s.trainer_id, s.id, COALESCE(s.%[1]s, '')
	`, column)
}

// ClaimDueSlots marks every due reminder slot as checked and returns what was
// claimed. All four slots are claimed in one transaction.
func (s *Store) ClaimDueSlots(ctx context.Context) ([]ClaimedSlot, error) {
	var claimed []ClaimedSlot

	err := s.db.inTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		for _, slot := range ReminderSlots {
			rows, err := tx.Query(ctx, claimSlotQuery(slot.Column), slot.Slot)
			if err != nil {
				return fmt.Errorf("claim %s: %w", slot.Slot, err)
			}

			for rows.Next() {
				c := ClaimedSlot{Slot: slot.Slot}
				if err := rows.Scan(&c.TrainerID, &c.SessionID, &c.ReminderType); err != nil {
					rows.Close()
					return fmt.Errorf("scan %s claim: %w", slot.Slot, err)
				}
				claimed = append(claimed, c)
			}
			rows.Close()
			if err := rows.Err(); err != nil {
				return fmt.Errorf("iterate %s claims: %w", slot.Slot, err)
			}
		}
		return nil
	})
	if err != nil {
		s.logger.Error("failed to claim due reminder slots", zap.Error(err))
		return nil, err
	}

	return claimed, nil
}
