package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

const reminderDetailsQuery = `
	SELECT
		session_id, reminder_type, trainer_id, trainer_user_id,
		session_name, start_time, end_time, timezone,
		location, address, geo, google_place_id, cancelled,
		provider_first_name, provider_last_name, business_name,
		brand_color, business_logo_url, provider_email,
		provider_mobile_number, country,
		sms_credit_balance, client_reminders_enabled, clients
	FROM vw_session_reminder_details
	WHERE session_id = ANY($1::uuid[])
	ORDER BY start_time ASC, session_id ASC, reminder_type ASC
`

// LoadReminderDetails reads the detail view for the given sessions. The view
// returns every configured reminder type, not only the ones that fired.
func (s *Store) LoadReminderDetails(ctx context.Context, sessionIDs []uuid.UUID) ([]*ReminderDetail, error) {
	if len(sessionIDs) == 0 {
		return nil, nil
	}

	ids := make([]string, len(sessionIDs))
	for i, id := range sessionIDs {
		ids[i] = id.String()
	}

	var details []*ReminderDetail
	err := s.db.inTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly}, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, reminderDetailsQuery, ids)
		if err != nil {
			return fmt.Errorf("query reminder details: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var d ReminderDetail
			err := rows.Scan(
				&d.SessionID,
				&d.ReminderType,
				&d.TrainerID,
				&d.TrainerUserID,
				&d.SessionName,
				&d.StartTime,
				&d.EndTime,
				&d.Timezone,
				&d.Location,
				&d.Address,
				&d.Geo,
				&d.GooglePlaceID,
				&d.Cancelled,
				&d.ProviderFirstName,
				&d.ProviderLastName,
				&d.BusinessName,
				&d.BrandColor,
				&d.BusinessLogoURL,
				&d.ProviderEmail,
				&d.ProviderMobileNumber,
				&d.Country,
				&d.SMSCreditBalance,
				&d.ClientRemindersEnabled,
				&d.Clients,
			)
			if err != nil {
				return fmt.Errorf("scan reminder detail: %w", err)
			}
			details = append(details, &d)
		}

		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate rows: %w", err)
		}
		return nil
	})
	if err != nil {
		s.logger.Error("failed to load reminder details",
			zap.Error(err),
			zap.Int("sessions", len(sessionIDs)),
		)
		return nil, err
	}

	return details, nil
}
