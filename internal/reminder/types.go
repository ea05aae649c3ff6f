// Package reminder turns due session reminder slots into outbox artifacts.
package reminder

// ReminderType is the configured channel and recipient of a reminder slot.
type ReminderType string

const (
	EmailServiceProvider                ReminderType = "emailServiceProvider"
	NotificationServiceProvider         ReminderType = "notificationServiceProvider"
	EmailAndNotificationServiceProvider ReminderType = "emailAndNotificationServiceProvider"
	EmailClient                         ReminderType = "emailClient"
	SmsClient                           ReminderType = "smsClient"
	EmailAndSmsClient                   ReminderType = "emailAndSmsClient"
)

var reminderTypes = map[string]ReminderType{
	string(EmailServiceProvider):                EmailServiceProvider,
	string(NotificationServiceProvider):         NotificationServiceProvider,
	string(EmailAndNotificationServiceProvider): EmailAndNotificationServiceProvider,
	string(EmailClient):                         EmailClient,
	string(SmsClient):                           SmsClient,
	string(EmailAndSmsClient):                   EmailAndSmsClient,
}

// ParseReminderType maps a stored value onto the closed set of reminder types.
// The second result is false for anything unrecognised.
func ParseReminderType(raw string) (ReminderType, bool) {
	t, ok := reminderTypes[raw]
	return t, ok
}

func (t ReminderType) String() string { return string(t) }

// NotifiesServiceProvider reports whether the trainer gets an in-app notification.
func (t ReminderType) NotifiesServiceProvider() bool {
	return t == NotificationServiceProvider || t == EmailAndNotificationServiceProvider
}

// EmailsServiceProvider reports whether the trainer gets an email.
func (t ReminderType) EmailsServiceProvider() bool {
	return t == EmailServiceProvider || t == EmailAndNotificationServiceProvider
}

// EmailsClient reports whether each attendee gets an email.
func (t ReminderType) EmailsClient() bool {
	return t == EmailClient || t == EmailAndSmsClient
}

// TextsClient reports whether each attendee gets an SMS.
func (t ReminderType) TextsClient() bool {
	return t == SmsClient || t == EmailAndSmsClient
}

// ForClient reports whether the reminder is client facing.
func (t ReminderType) ForClient() bool {
	return t.EmailsClient() || t.TextsClient()
}

// Slot is one of the four reminder opportunities on a session.
type Slot string

const (
	ServiceProviderReminder1 Slot = "serviceProviderReminder1"
	ServiceProviderReminder2 Slot = "serviceProviderReminder2"
	ClientReminder1          Slot = "clientReminder1"
	ClientReminder2          Slot = "clientReminder2"
)

// Slots lists every slot in claim order.
var Slots = []Slot{
	ServiceProviderReminder1,
	ServiceProviderReminder2,
	ClientReminder1,
	ClientReminder2,
}

func (s Slot) String() string { return string(s) }

// firing identifies one (session, reminder type) combination claimed in a run.
type firing struct {
	sessionID string
	kind      ReminderType
}
