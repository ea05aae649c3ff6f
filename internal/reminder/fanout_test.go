package reminder

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/keepon/remindd/internal/db"
)

var testNow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func testBuilder() *Builder {
	return NewBuilder(
		Links{BaseURL: "https://app.example.com", BookingShortURL: "https://bk.example.com"},
		zap.NewNop(),
		func() time.Time { return testNow },
	)
}

func ptr[T any](v T) *T { return &v }

func testClient(first, email, mobile string) Client {
	return Client{
		ClientID:     uuid.New(),
		FirstName:    first,
		LastName:     "Client",
		Email:        email,
		MobileNumber: mobile,
		BookingID:    "bk-" + strings.ToLower(first),
	}
}

func testDetail(kind ReminderType, clients ...Client) Detail {
	start := testNow.Add(29 * time.Hour)
	return Detail{
		SessionID:     uuid.New(),
		Type:          kind,
		TrainerID:     uuid.New(),
		TrainerUserID: ptr(uuid.New()),
		SessionName:   "Strength",
		Start:         start,
		End:           start.Add(time.Hour),
		TimeZone:      "UTC",
		Loc:           time.UTC,
		Place:         Place{Name: "Gym", Address: "1 Main St"},
		Provider: Provider{
			FirstName:    "Jo",
			LastName:     "Trainer",
			BusinessName: "Jo Fitness",
			Email:        "jo@example.com",
			MobileNumber: "+61412000111",
			Country:      "AU",
		},
		SMSCreditBalance:       50,
		ClientRemindersEnabled: true,
		Clients:                clients,
	}
}

func decodeTask(t *testing.T, task *db.Task) NotifyPayload {
	t.Helper()
	require.Equal(t, db.TaskUserNotify, task.Name)
	var p NotifyPayload
	require.NoError(t, json.Unmarshal(task.Payload, &p))
	return p
}

func TestBuildProviderNotification(t *testing.T) {
	d := testDetail(NotificationServiceProvider, testClient("Ana", "", ""), testClient("Ben", "", ""))

	out, _, err := testBuilder().Build([]Detail{d}, NewLedger())
	require.NoError(t, err)

	require.Len(t, out.Tasks, 1)
	assert.Empty(t, out.Mails)
	assert.Empty(t, out.SMS)

	p := decodeTask(t, out.Tasks[0])
	assert.Equal(t, d.TrainerUserID.String(), p.UserID)
	assert.Equal(t, "Tomorrow at 3pm: Strength with Ana Client, Ben Client", p.Body)
	assert.Equal(t, NotificationAppointmentReminder, p.NotificationType)
	assert.Equal(t, "default", p.MessageType)
	assert.Nil(t, p.SkipAppNotification)
}

func TestBuildProviderNotificationWithoutUser(t *testing.T) {
	d := testDetail(NotificationServiceProvider)
	d.TrainerUserID = nil

	out, stats, err := testBuilder().Build([]Detail{d}, NewLedger())
	require.NoError(t, err)
	assert.True(t, out.Empty())
	assert.Equal(t, 1, stats.Skipped[SkipNoUser])
}

func TestBuildProviderEmail(t *testing.T) {
	d := testDetail(EmailAndNotificationServiceProvider, testClient("Ana", "ana@example.com", ""))
	d.Place.Geo = &Geo{Lat: -33.87, Lng: 151.21}

	out, _, err := testBuilder().Build([]Detail{d}, NewLedger())
	require.NoError(t, err)

	require.Len(t, out.Tasks, 1)
	require.Len(t, out.Mails, 1)
	require.Len(t, out.Audits, 1)

	m := out.Mails[0]
	assert.Equal(t, "jo@example.com", m.ToEmail)
	assert.Equal(t, "Jo Trainer", m.ToName)
	assert.Equal(t, systemSender, m.FromName)
	assert.Equal(t, "Upcoming: Strength Tomorrow at 3pm", m.Subject)
	assert.Contains(t, m.HTML, "https://app.example.com/calendar/"+d.SessionID.String())
	assert.Contains(t, m.HTML, "Ana Client")
	assert.Contains(t, m.HTML, "https://www.google.com/maps/search/")
	assert.Contains(t, m.HTML, "https://maps.apple.com/")
	assert.Contains(t, m.Text, "Tuesday 3 March 2026, 3pm - 4pm")

	a := out.Audits[0]
	assert.Equal(t, m.ID, a.MailID)
	assert.Equal(t, d.SessionID, a.SessionID)
	assert.Equal(t, db.RecipientServiceProvider, a.Recipient)
	assert.Equal(t, string(EmailAndNotificationServiceProvider), a.ReminderType)
	assert.Nil(t, a.ClientSessionID)
}

func TestBuildClientEmail(t *testing.T) {
	ana := testClient("Ana", "ana@example.com", "")
	ana.ClientSessionID = ptr(uuid.New())
	ana.MailID = ptr(uuid.New())
	d := testDetail(EmailClient, ana, testClient("Ben", "", ""))

	out, stats, err := testBuilder().Build([]Detail{d}, NewLedger())
	require.NoError(t, err)

	assert.Empty(t, out.Tasks)
	require.Len(t, out.Mails, 1)
	assert.Equal(t, 1, stats.Skipped[SkipNoEmail])

	m := out.Mails[0]
	assert.Equal(t, *ana.MailID, m.ID)
	assert.Equal(t, "ana@example.com", m.ToEmail)
	assert.Equal(t, "Jo Fitness", m.FromName)
	require.NotNil(t, m.ReplyTo)
	assert.Equal(t, "jo@example.com", *m.ReplyTo)
	assert.Equal(t, "Reminder: Strength with Jo Fitness tomorrow at 3pm", m.Subject)
	assert.Contains(t, m.Text, "https://app.example.com/api/ics?")
	assert.Contains(t, m.Text, "https://calendar.google.com/calendar/render?")
	assert.Contains(t, m.Text, "View booking: https://app.example.com/book/bookings/bk-ana")
	assert.Contains(t, m.Text, "Email: jo@example.com")
	assert.Contains(t, m.Text, "Phone: +61412000111")

	require.Len(t, out.Audits, 1)
	assert.Equal(t, db.RecipientClient, out.Audits[0].Recipient)
	assert.Equal(t, ana.ClientSessionID, out.Audits[0].ClientSessionID)
}

func TestBuildClientEmailPrivacyRelay(t *testing.T) {
	d := testDetail(EmailClient, testClient("Ana", "ana@example.com", ""))
	d.Provider.Email = "xyz@privaterelay.appleid.com"

	out, _, err := testBuilder().Build([]Detail{d}, NewLedger())
	require.NoError(t, err)
	require.Len(t, out.Mails, 1)

	m := out.Mails[0]
	assert.Nil(t, m.ReplyTo)
	assert.NotContains(t, m.HTML, "privaterelay")
	assert.NotContains(t, m.Text, "privaterelay")
	assert.Contains(t, m.Text, "Phone: +61412000111")
}

func TestBuildMailIDUsedOncePerRun(t *testing.T) {
	shared := uuid.New()
	a := testClient("Ana", "ana@example.com", "")
	a.MailID = &shared
	b := testClient("Ben", "ben@example.com", "")
	b.MailID = &shared

	out, _, err := testBuilder().Build([]Detail{testDetail(EmailClient, a, b)}, NewLedger())
	require.NoError(t, err)
	require.Len(t, out.Mails, 2)
	assert.Equal(t, shared, out.Mails[0].ID)
	assert.NotEqual(t, shared, out.Mails[1].ID)
	assert.Equal(t, out.Mails[1].ID, out.Audits[1].MailID)
}

func TestBuildClientRemindersDisabled(t *testing.T) {
	for _, kind := range []ReminderType{EmailClient, SmsClient, EmailAndSmsClient} {
		t.Run(kind.String(), func(t *testing.T) {
			d := testDetail(kind, testClient("Ana", "ana@example.com", "0412 345 678"))
			d.ClientRemindersEnabled = false

			out, stats, err := testBuilder().Build([]Detail{d}, NewLedger())
			require.NoError(t, err)
			assert.True(t, out.Empty())
			assert.Equal(t, 1, stats.Skipped[SkipClientsDisabled])
		})
	}
}

func TestBuildCancelledSession(t *testing.T) {
	d := testDetail(EmailAndSmsClient, testClient("Ana", "ana@example.com", "0412 345 678"))
	d.Cancelled = true
	d.SMSCreditBalance = 1

	ledger := NewLedger()
	out, stats, err := testBuilder().Build([]Detail{d}, ledger)
	require.NoError(t, err)
	assert.True(t, out.Empty())
	assert.Equal(t, 1, stats.Skipped[SkipCancelled])

	_, tracked := ledger.Balance(d.TrainerID)
	assert.False(t, tracked, "cancelled sessions do not seed the ledger")
}

func TestBuildSMSSingleCredit(t *testing.T) {
	d := testDetail(SmsClient,
		testClient("Ana", "", "0412 345 678"),
		testClient("Ben", "", "0412 345 679"),
	)
	d.SMSCreditBalance = 1

	out, stats, err := testBuilder().Build([]Detail{d}, NewLedger())
	require.NoError(t, err)

	require.Len(t, out.SMS, 1)
	s := out.SMS[0]
	assert.Equal(t, "+61412345678", s.ToNumber)
	assert.Equal(t, d.Clients[0].ClientID, *s.ClientID)
	assert.Equal(t, "Reminder: Strength with Jo Fitness tomorrow at 3pm. Details: https://bk.example.com/bk-ana", s.Body)
	assert.Equal(t, 1, stats.Skipped[SkipNoCredit])

	// starting=1 and current=0 is an out of credits advisory
	assert.Equal(t, 1, stats.Advisories[AdvisoryOutOfCredits])
	require.Len(t, out.Tasks, 1)
	p := decodeTask(t, out.Tasks[0])
	assert.Equal(t, string(AdvisoryOutOfCredits), p.NotificationType)
	assert.Equal(t, "warning", p.MessageType)

	require.Len(t, out.Mails, 1)
	assert.Equal(t, "You're out of SMS credits", out.Mails[0].Subject)
	assert.Contains(t, out.Mails[0].Text, "https://app.example.com/settings/sms-credits")
	assert.Empty(t, out.Audits, "advisory mail has no reminder audit")
}

func TestBuildSMSNeverExceedsStartingCredit(t *testing.T) {
	trainer := uuid.New()
	var details []Detail
	for i := 0; i < 4; i++ {
		d := testDetail(SmsClient,
			testClient("Ana", "", "0412 345 678"),
			testClient("Ben", "", "0412 345 679"),
			testClient("Cat", "", "0412 345 680"),
		)
		d.TrainerID = trainer
		d.SMSCreditBalance = 5
		details = append(details, d)
	}

	ledger := NewLedger()
	out, stats, err := testBuilder().Build(details, ledger)
	require.NoError(t, err)

	assert.Len(t, out.SMS, 5)
	assert.Equal(t, 7, stats.Skipped[SkipNoCredit])
	b, _ := ledger.Balance(trainer)
	assert.Equal(t, CreditBalance{Starting: 5, Current: 0}, b)
	assert.Equal(t, 1, stats.Advisories[AdvisoryOutOfCredits])
}

func TestBuildEmailAndSMSInvalidPhone(t *testing.T) {
	d := testDetail(EmailAndSmsClient, testClient("Ana", "ana@example.com", "12345"))

	ledger := NewLedger()
	out, stats, err := testBuilder().Build([]Detail{d}, ledger)
	require.NoError(t, err)

	assert.Len(t, out.Mails, 1)
	assert.Empty(t, out.SMS)
	assert.Equal(t, 1, stats.Skipped[SkipNoMobile])

	b, _ := ledger.Balance(d.TrainerID)
	assert.Equal(t, 50, b.Current, "invalid numbers do not spend credit")
}

func TestBuildLowCreditAdvisory(t *testing.T) {
	d := testDetail(SmsClient,
		testClient("Ana", "", "0412 345 678"),
		testClient("Ben", "", "0412 345 679"),
	)
	d.SMSCreditBalance = 11
	d.Provider.Email = ""

	out, stats, err := testBuilder().Build([]Detail{d}, NewLedger())
	require.NoError(t, err)

	assert.Len(t, out.SMS, 2)
	assert.Equal(t, 1, stats.Advisories[AdvisoryLowCredits])
	require.Len(t, out.Tasks, 1)
	p := decodeTask(t, out.Tasks[0])
	assert.Equal(t, string(AdvisoryLowCredits), p.NotificationType)
	assert.Contains(t, p.Body, "9 SMS credits")
	assert.Empty(t, out.Mails, "no advisory mail without a trainer email")
}

func TestBuildNoAdvisoryWithoutSMS(t *testing.T) {
	d := testDetail(EmailClient, testClient("Ana", "ana@example.com", ""))
	d.SMSCreditBalance = 0

	out, stats, err := testBuilder().Build([]Detail{d}, NewLedger())
	require.NoError(t, err)
	assert.Len(t, out.Mails, 1)
	assert.Empty(t, out.Tasks)
	assert.Empty(t, stats.Advisories)
}

func TestBuildAdvisoryWithoutRecipientIsNotCounted(t *testing.T) {
	d := testDetail(SmsClient, testClient("Ana", "", "0412 345 678"))
	d.SMSCreditBalance = 1
	d.TrainerUserID = nil
	d.Provider.Email = ""

	out, stats, err := testBuilder().Build([]Detail{d}, NewLedger())
	require.NoError(t, err)

	assert.Len(t, out.SMS, 1)
	assert.Empty(t, out.Tasks)
	assert.Empty(t, out.Mails)
	assert.Empty(t, stats.Advisories)
}
