package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/keepon/remindd/internal/db"
)

func mailDelivery() *db.Delivery {
	id := uuid.New()
	replyTo := "jo@example.com"
	return &db.Delivery{
		ID:      id,
		Channel: db.ChannelEmail,
		Mail: &db.Mail{
			ID:        id,
			TrainerID: uuid.New(),
			ToEmail:   "sam@example.com",
			ToName:    "Sam Client",
			FromName:  "Jo Fitness",
			ReplyTo:   &replyTo,
			Subject:   "Reminder: PT with Jo Fitness tomorrow at 3pm",
			HTML:      "<p>See you</p>",
			Text:      "See you\n",
		},
	}
}

func smsDelivery() *db.Delivery {
	id := uuid.New()
	return &db.Delivery{
		ID:      id,
		Channel: db.ChannelSMS,
		SMS: &db.SMS{
			ID:        id,
			TrainerID: uuid.New(),
			ToNumber:  "+61412345678",
			FromName:  "Jo Fitness",
			Body:      "Reminder: PT with Jo Fitness tomorrow at 3pm.",
		},
	}
}

func taskDelivery() *db.Delivery {
	id := uuid.New()
	return &db.Delivery{
		ID:      id,
		Channel: db.ChannelTask,
		Task:    &db.Task{ID: id, Name: db.TaskUserNotify, Payload: []byte(`{"userId":"u1"}`)},
	}
}

func TestLogSender_AllChannels(t *testing.T) {
	sender := NewLogSender(zap.NewNop())

	for _, d := range []*db.Delivery{mailDelivery(), smsDelivery(), taskDelivery()} {
		t.Run(d.Channel, func(t *testing.T) {
			if !sender.SupportsChannel(d.Channel) {
				t.Fatalf("LogSender should support %s", d.Channel)
			}
			ref, err := sender.Send(context.Background(), d)
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if ref != "log-"+d.ID.String() {
				t.Errorf("ref = %q", ref)
			}
		})
	}
}

func TestLogSender_EmptyDelivery(t *testing.T) {
	sender := NewLogSender(zap.NewNop())
	_, err := sender.Send(context.Background(), &db.Delivery{ID: uuid.New(), Channel: db.ChannelEmail})
	if !IsPermanent(err) {
		t.Errorf("expected permanent error, got %v", err)
	}
	if sender.SupportsChannel("webhook") {
		t.Error("LogSender should not support webhook")
	}
}

func TestPermanent(t *testing.T) {
	base := errors.New("bad recipient")

	if Permanent(nil) != nil {
		t.Error("Permanent(nil) should be nil")
	}
	if IsPermanent(base) {
		t.Error("plain error reported permanent")
	}

	wrapped := fmt.Errorf("send: %w", Permanent(base))
	if !IsPermanent(wrapped) {
		t.Error("wrapped permanent error not detected")
	}
	if !errors.Is(wrapped, base) {
		t.Error("permanent error should unwrap to its cause")
	}
	if wrapped.Error() != "send: bad recipient" {
		t.Errorf("message = %q", wrapped.Error())
	}
}

func TestRequireChannelRow(t *testing.T) {
	if _, err := requireMail(smsDelivery()); !IsPermanent(err) || !errors.Is(err, errMissingBody) {
		t.Errorf("requireMail(sms) = %v", err)
	}
	if _, err := requireSMS(mailDelivery()); !IsPermanent(err) {
		t.Errorf("requireSMS(mail) = %v", err)
	}
	if m, err := requireMail(mailDelivery()); err != nil || m == nil {
		t.Errorf("requireMail(mail) = %v, %v", m, err)
	}
}

func TestSenderID(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"Keepon", "Keepon"},
		{"Jo Fitness", "JoFitness"},
		{"Jo's Strength & Conditioning", "JosStrength"},
		{"24/7 Gym", "247Gym"},
		{"12345", ""},
		{"", ""},
		{"Café", "Caf"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := senderID(tt.name)
			if got != tt.want {
				t.Errorf("senderID(%q) = %q, want %q", tt.name, got, tt.want)
			}
			if len(got) > 11 {
				t.Errorf("senderID longer than 11: %q", got)
			}
		})
	}
}

func TestStatusError(t *testing.T) {
	tests := []struct {
		status    int
		wantErr   bool
		permanent bool
	}{
		{200, false, false},
		{202, false, false},
		{400, true, true},
		{401, true, true},
		{429, true, false},
		{500, true, false},
		{503, true, false},
	}

	for _, tt := range tests {
		err := statusError("sendgrid", tt.status, "body")
		if (err != nil) != tt.wantErr {
			t.Errorf("status %d: err = %v", tt.status, err)
			continue
		}
		if IsPermanent(err) != tt.permanent {
			t.Errorf("status %d: permanent = %v, want %v", tt.status, IsPermanent(err), tt.permanent)
		}
		if err != nil && !strings.Contains(err.Error(), "sendgrid returned status") {
			t.Errorf("status %d: message = %q", tt.status, err.Error())
		}
	}
}
