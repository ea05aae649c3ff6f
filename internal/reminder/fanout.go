package reminder

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/keepon/remindd/internal/db"
)

// SkipReason explains why a channel was not used for a recipient.
type SkipReason string

const (
	SkipCancelled       SkipReason = "cancelled"
	SkipClientsDisabled SkipReason = "client_reminders_disabled"
	SkipNoEmail         SkipReason = "no_email"
	SkipNoMobile        SkipReason = "no_valid_mobile"
	SkipNoCredit        SkipReason = "no_sms_credit"
	SkipNoUser          SkipReason = "no_user"
)

// Notification types carried on user.notify tasks
const (
	NotificationAppointmentReminder = "appointmentReminder"
	messageTypeDefault              = "default"
	messageTypeWarning              = "warning"
)

// systemSender is the from name on mail sent to trainers.
const systemSender = "Keepon"

// NotifyPayload is the body of a user.notify workflow task.
type NotifyPayload struct {
	Title               string `json:"title"`
	Body                string `json:"body"`
	MessageType         string `json:"messageType"`
	NotificationType    string `json:"notificationType"`
	UserID              string `json:"userId"`
	SkipAppNotification *bool  `json:"skipAppNotification,omitempty"`
}

// BuildStats counts what a build produced and skipped.
type BuildStats struct {
	Skipped    map[SkipReason]int
	Advisories map[AdvisoryKind]int
}

func (s *BuildStats) skip(r SkipReason) {
	if s.Skipped == nil {
		s.Skipped = make(map[SkipReason]int)
	}
	s.Skipped[r]++
}

// Builder renders reminder details into outbox artifacts.
type Builder struct {
	links  Links
	now    func() time.Time
	logger *zap.Logger
}

// NewBuilder creates a builder. A nil now uses time.Now.
func NewBuilder(links Links, logger *zap.Logger, now func() time.Time) *Builder {
	if now == nil {
		now = time.Now
	}
	return &Builder{links: links, now: now, logger: logger}
}

// buildRun holds the state of one Build call.
type buildRun struct {
	*Builder
	now      time.Time
	ledger   *Ledger
	out      *db.Outbox
	stats    BuildStats
	trainers map[uuid.UUID]Detail
	mailIDs  map[uuid.UUID]struct{}
}

// Build turns details into artifacts, consuming SMS credit from ledger, and
// appends credit advisories for every trainer whose balance crossed a threshold.
func (b *Builder) Build(details []Detail, ledger *Ledger) (*db.Outbox, BuildStats, error) {
	r := &buildRun{
		Builder:  b,
		now:      b.now(),
		ledger:   ledger,
		out:      &db.Outbox{},
		trainers: make(map[uuid.UUID]Detail),
		mailIDs:  make(map[uuid.UUID]struct{}),
	}

	for i := range details {
		if err := r.detail(&details[i]); err != nil {
			return nil, r.stats, err
		}
	}

	if err := r.advisories(); err != nil {
		return nil, r.stats, err
	}

	return r.out, r.stats, nil
}

func (r *buildRun) detail(d *Detail) error {
	if d.Cancelled {
		r.stats.skip(SkipCancelled)
		r.logger.Debug("skipping cancelled session",
			zap.String("session_id", d.SessionID.String()),
			zap.String("reminder_type", d.Type.String()),
		)
		return nil
	}

	r.ledger.Observe(d.TrainerID, d.SMSCreditBalance)
	if _, ok := r.trainers[d.TrainerID]; !ok {
		r.trainers[d.TrainerID] = *d
	}

	relative := RelativePhrase(d.Start, r.now, d.Loc)

	if d.Type.NotifiesServiceProvider() {
		if err := r.providerNotification(d, relative); err != nil {
			return err
		}
	}
	if d.Type.EmailsServiceProvider() {
		if err := r.providerEmail(d, relative); err != nil {
			return err
		}
	}

	if d.Type.ForClient() && !d.ClientRemindersEnabled {
		r.stats.skip(SkipClientsDisabled)
		return nil
	}
	if d.Type.EmailsClient() {
		if err := r.clientEmails(d, relative); err != nil {
			return err
		}
	}
	if d.Type.TextsClient() {
		r.clientTexts(d, relative)
	}

	return nil
}

func (r *buildRun) task(userID uuid.UUID, p NotifyPayload) error {
	p.UserID = userID.String()
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal notify payload: %w", err)
	}
	r.out.Tasks = append(r.out.Tasks, &db.Task{ID: uuid.New(), Name: db.TaskUserNotify, Payload: body})
	return nil
}

func (r *buildRun) providerNotification(d *Detail, relative string) error {
	if d.TrainerUserID == nil {
		r.stats.skip(SkipNoUser)
		return nil
	}

	body := Capitalize(relative) + ": " + d.SessionName
	if names := d.AttendeeNames(); len(names) > 0 {
		body += " with " + strings.Join(names, ", ")
	}

	return r.task(*d.TrainerUserID, NotifyPayload{
		Title:            "Upcoming appointment",
		Body:             body,
		MessageType:      messageTypeDefault,
		NotificationType: NotificationAppointmentReminder,
	})
}

func (r *buildRun) mapBlock(d *Detail) *mapBlock {
	google, apple, ok := MapLinks(d.Place)
	if !ok {
		if label := d.Place.Label(); label != "" {
			return &mapBlock{Label: label}
		}
		return nil
	}
	return &mapBlock{Label: d.Place.Label(), GoogleURL: google, AppleURL: apple}
}

func (r *buildRun) providerEmail(d *Detail, relative string) error {
	if d.Provider.Email == "" {
		r.stats.skip(SkipNoEmail)
		return nil
	}

	content, err := providerMail(providerMailData{
		BrandColor:   d.Provider.BrandColor,
		LogoURL:      d.Provider.LogoURL,
		ProviderName: d.Provider.DisplayName(),
		SessionName:  d.SessionName,
		TimeRange:    FormatRange(d.Start, d.End, d.Loc),
		Relative:     Capitalize(relative),
		Attendees:    strings.Join(d.AttendeeNames(), ", "),
		Map:          r.mapBlock(d),
		CalendarURL:  r.links.CalendarURL(d.SessionID.String()),
	})
	if err != nil {
		return fmt.Errorf("provider mail for session %s: %w", d.SessionID, err)
	}

	mail := &db.Mail{
		ID:        uuid.New(),
		TrainerID: d.TrainerID,
		ToEmail:   d.Provider.Email,
		ToName:    joinName(d.Provider.FirstName, d.Provider.LastName),
		FromName:  systemSender,
		Subject:   content.Subject,
		HTML:      content.HTML,
		Text:      content.Text,
	}
	r.addMail(mail, &db.MailAudit{
		SessionID:    d.SessionID,
		ReminderType: d.Type.String(),
		Recipient:    db.RecipientServiceProvider,
	})
	return nil
}

func (r *buildRun) clientEmails(d *Detail, relative string) error {
	contactEmail := d.Provider.Email
	if IsPrivacyRelay(contactEmail) {
		contactEmail = ""
	}
	var replyTo *string
	if contactEmail != "" {
		replyTo = &contactEmail
	}

	for _, c := range d.Clients {
		if c.Email == "" {
			r.stats.skip(SkipNoEmail)
			continue
		}

		var bookingURL string
		if c.BookingID != "" {
			bookingURL = r.links.BookingURL(c.BookingID)
		}
		ev := d.event(bookingURL)

		data := clientMailData{
			BrandColor:        d.Provider.BrandColor,
			LogoURL:           d.Provider.LogoURL,
			ClientFirstName:   c.FirstName,
			ProviderName:      d.Provider.DisplayName(),
			SessionName:       d.SessionName,
			TimeRange:         FormatRange(d.Start, d.End, d.Loc),
			Relative:          relative,
			Map:               r.mapBlock(d),
			ICSURL:            r.links.ICSURL(ev),
			GoogleCalendarURL: GoogleCalendarURL(ev),
			ContactEmail:      contactEmail,
			ContactPhone:      d.Provider.MobileNumber,
			BookingURL:        bookingURL,
		}

		content, err := clientMail(data)
		if err != nil {
			return fmt.Errorf("client mail for session %s: %w", d.SessionID, err)
		}

		mail := &db.Mail{
			ID:        r.mailID(c.MailID),
			TrainerID: d.TrainerID,
			ToEmail:   c.Email,
			ToName:    c.FullName(),
			FromName:  d.Provider.DisplayName(),
			ReplyTo:   replyTo,
			Subject:   content.Subject,
			HTML:      content.HTML,
			Text:      content.Text,
		}
		r.addMail(mail, &db.MailAudit{
			SessionID:       d.SessionID,
			ClientSessionID: c.ClientSessionID,
			ReminderType:    d.Type.String(),
			Recipient:       db.RecipientClient,
		})
	}
	return nil
}

func (r *buildRun) clientTexts(d *Detail, relative string) {
	for _, c := range d.Clients {
		number, ok := NormalizeMobile(c.MobileNumber, d.Provider.Country)
		if !ok {
			r.stats.skip(SkipNoMobile)
			continue
		}
		if !r.ledger.TryConsume(d.TrainerID) {
			r.stats.skip(SkipNoCredit)
			r.logger.Debug("sms credit exhausted",
				zap.String("trainer_id", d.TrainerID.String()),
				zap.String("session_id", d.SessionID.String()),
			)
			continue
		}

		var link string
		if c.BookingID != "" && r.links.BookingShortURL != "" {
			link = r.links.ShortBookingURL(c.BookingID)
		}

		clientID := c.ClientID
		r.out.SMS = append(r.out.SMS, &db.SMS{
			ID:        uuid.New(),
			TrainerID: d.TrainerID,
			ClientID:  &clientID,
			ToNumber:  number,
			FromName:  d.Provider.DisplayName(),
			Body:      oneLine(clientSMS(d.Provider.DisplayName(), d.SessionName, relative, link)),
		})
	}
}

// mailID uses the view supplied id once per run and a fresh one otherwise.
func (r *buildRun) mailID(preferred *uuid.UUID) uuid.UUID {
	if preferred != nil {
		if _, used := r.mailIDs[*preferred]; !used {
			return *preferred
		}
	}
	return uuid.New()
}

func (r *buildRun) addMail(mail *db.Mail, audit *db.MailAudit) {
	r.mailIDs[mail.ID] = struct{}{}
	audit.MailID = mail.ID
	r.out.Mails = append(r.out.Mails, mail)
	r.out.Audits = append(r.out.Audits, audit)
}

func (r *buildRun) advisories() error {
	for _, adv := range r.ledger.Advisories() {
		d, ok := r.trainers[adv.TrainerID]
		if !ok {
			continue
		}
		if d.TrainerUserID == nil && d.Provider.Email == "" {
			r.logger.Debug("sms credit advisory has no recipient",
				zap.String("trainer_id", adv.TrainerID.String()),
				zap.String("kind", string(adv.Kind)),
			)
			continue
		}
		if r.stats.Advisories == nil {
			r.stats.Advisories = make(map[AdvisoryKind]int)
		}
		r.stats.Advisories[adv.Kind]++

		out := adv.Kind == AdvisoryOutOfCredits
		title, body := "You're running low on SMS credits",
			fmt.Sprintf("You have %d SMS credits left. Top up to keep sending text reminders.", adv.Balance.Current)
		if out {
			title, body = "You're out of SMS credits",
				"Clients will not receive text reminders until you top up."
		}

		if d.TrainerUserID != nil {
			if err := r.task(*d.TrainerUserID, NotifyPayload{
				Title:            title,
				Body:             body,
				MessageType:      messageTypeWarning,
				NotificationType: string(adv.Kind),
			}); err != nil {
				return err
			}
		}

		if d.Provider.Email == "" {
			continue
		}
		content, err := creditMail(creditMailData{
			ProviderName: d.Provider.FirstName,
			Balance:      adv.Balance.Current,
			OutOfCredits: out,
			TopUpURL:     r.links.CreditsURL(),
		})
		if err != nil {
			return fmt.Errorf("credit mail for trainer %s: %w", adv.TrainerID, err)
		}
		r.out.Mails = append(r.out.Mails, &db.Mail{
			ID:        uuid.New(),
			TrainerID: adv.TrainerID,
			ToEmail:   d.Provider.Email,
			ToName:    joinName(d.Provider.FirstName, d.Provider.LastName),
			FromName:  systemSender,
			Subject:   content.Subject,
			HTML:      content.HTML,
			Text:      content.Text,
		})

		r.logger.Info("sms credit advisory queued",
			zap.String("trainer_id", adv.TrainerID.String()),
			zap.String("kind", string(adv.Kind)),
			zap.Int("starting", adv.Balance.Starting),
			zap.Int("current", adv.Balance.Current),
		)
	}
	return nil
}
