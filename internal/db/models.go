package db

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ClaimedSlot is a reminder slot this run marked as checked.
type ClaimedSlot struct {
	TrainerID    uuid.UUID `json:"trainer_id"`
	SessionID    uuid.UUID `json:"session_id"`
	Slot         string    `json:"slot"`
	ReminderType string    `json:"reminder_type"`
}

// ReminderDetail is one row of vw_session_reminder_details.
// Geo and Clients are raw json columns and are parsed by the caller.
type ReminderDetail struct {
	SessionID              uuid.UUID
	ReminderType           string
	TrainerID              uuid.UUID
	TrainerUserID          *uuid.UUID
	SessionName            string
	StartTime              time.Time
	EndTime                time.Time
	Timezone               string
	Location               *string
	Address                *string
	Geo                    []byte
	GooglePlaceID          *string
	Cancelled              bool
	ProviderFirstName      string
	ProviderLastName       *string
	BusinessName           *string
	BrandColor             *string
	BusinessLogoURL        *string
	ProviderEmail          *string
	ProviderMobileNumber   *string
	Country                *string
	SMSCreditBalance       int
	ClientRemindersEnabled bool
	Clients                []byte
}

// Outbox row status constants
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusSent       = "sent"
	StatusFailed     = "failed"
)

// Channel constants
const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"
	ChannelTask  = "task"
)

// Recipient kinds recorded on email_appointment_reminder rows
const (
	RecipientServiceProvider = "serviceProvider"
	RecipientClient          = "client"
)

// TaskUserNotify is the workflow task consumed by the notification delivery worker.
const TaskUserNotify = "user.notify"

// Mail is a row of the mail outbox table.
type Mail struct {
	ID        uuid.UUID `json:"id"`
	TrainerID uuid.UUID `json:"trainer_id"`
	ToEmail   string    `json:"to_email"`
	ToName    string    `json:"to_name"`
	FromName  string    `json:"from_name"`
	ReplyTo   *string   `json:"reply_to,omitempty"`
	Subject   string    `json:"subject"`
	HTML      string    `json:"html"`
	Text      string    `json:"text"`
}

// SMS is a row of the sms outbox table.
type SMS struct {
	ID        uuid.UUID  `json:"id"`
	TrainerID uuid.UUID  `json:"trainer_id"`
	ClientID  *uuid.UUID `json:"client_id,omitempty"`
	ToNumber  string     `json:"to_number"`
	FromName  string     `json:"from_name"`
	Body      string     `json:"body"`
}

// Task is a row of the workflow_outbox table.
type Task struct {
	ID      uuid.UUID       `json:"id"`
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload"`
}

// MailAudit is a row of email_appointment_reminder linking a mail back to its reminder.
type MailAudit struct {
	MailID          uuid.UUID  `json:"mail_id"`
	SessionID       uuid.UUID  `json:"session_id"`
	ClientSessionID *uuid.UUID `json:"client_session_id,omitempty"`
	ReminderType    string     `json:"reminder_type"`
	Recipient       string     `json:"recipient"`
}

// Outbox is everything a reminder run writes in one transaction.
type Outbox struct {
	Tasks  []*Task
	Mails  []*Mail
	Audits []*MailAudit
	SMS    []*SMS
}

// Empty reports whether there is nothing to write.
func (o *Outbox) Empty() bool {
	return len(o.Tasks) == 0 && len(o.Mails) == 0 && len(o.Audits) == 0 && len(o.SMS) == 0
}

// Delivery is a claimed outbox row on its way to a transport.
// Exactly one of Mail, SMS and Task is set, matching Channel.
type Delivery struct {
	ID      uuid.UUID
	Channel string
	Attempt int
	Mail    *Mail
	SMS     *SMS
	Task    *Task
}
