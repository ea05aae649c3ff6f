package reminder

import (
	"testing"

	"github.com/google/uuid"
)

func TestParseReminderType(t *testing.T) {
	tests := []struct {
		raw  string
		want ReminderType
		ok   bool
	}{
		{"emailServiceProvider", EmailServiceProvider, true},
		{"notificationServiceProvider", NotificationServiceProvider, true},
		{"emailAndNotificationServiceProvider", EmailAndNotificationServiceProvider, true},
		{"emailClient", EmailClient, true},
		{"smsClient", SmsClient, true},
		{"emailAndSmsClient", EmailAndSmsClient, true},
		{"EmailClient", "", false},
		{"pigeon", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, ok := ParseReminderType(tt.raw)
			if ok != tt.ok || got != tt.want {
				t.Errorf("ParseReminderType(%q) = %q, %v; want %q, %v", tt.raw, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestReminderTypeChannels(t *testing.T) {
	tests := []struct {
		kind                                         ReminderType
		notifyProvider, mailProvider, mailClient, sms bool
	}{
		{EmailServiceProvider, false, true, false, false},
		{NotificationServiceProvider, true, false, false, false},
		{EmailAndNotificationServiceProvider, true, true, false, false},
		{EmailClient, false, false, true, false},
		{SmsClient, false, false, false, true},
		{EmailAndSmsClient, false, false, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			if got := tt.kind.NotifiesServiceProvider(); got != tt.notifyProvider {
				t.Errorf("NotifiesServiceProvider = %v", got)
			}
			if got := tt.kind.EmailsServiceProvider(); got != tt.mailProvider {
				t.Errorf("EmailsServiceProvider = %v", got)
			}
			if got := tt.kind.EmailsClient(); got != tt.mailClient {
				t.Errorf("EmailsClient = %v", got)
			}
			if got := tt.kind.TextsClient(); got != tt.sms {
				t.Errorf("TextsClient = %v", got)
			}
			if got := tt.kind.ForClient(); got != (tt.mailClient || tt.sms) {
				t.Errorf("ForClient = %v", got)
			}
		})
	}
}

func TestParseClients(t *testing.T) {
	id := uuid.New()
	mailID := uuid.New()

	raw := []byte(`[
		{"clientId": "` + id.String() + `", "firstName": " Ana ", "lastName": "Silva", "email": "ana@example.com",
		 "mobileNumber": "0412 345 678", "mailId": "` + mailID.String() + `", "clientSessionId": "nope", "bookingId": "b-1"},
		{"clientId": "not-a-uuid", "email": "x@example.com"},
		{"firstName": "No Id"},
		42,
		"string"
	]`)

	got := ParseClients(raw)
	if len(got) != 1 {
		t.Fatalf("ParseClients returned %d clients, want 1", len(got))
	}

	c := got[0]
	if c.ClientID != id {
		t.Errorf("ClientID = %s, want %s", c.ClientID, id)
	}
	if c.FullName() != "Ana Silva" {
		t.Errorf("FullName = %q", c.FullName())
	}
	if c.MailID == nil || *c.MailID != mailID {
		t.Errorf("MailID = %v, want %s", c.MailID, mailID)
	}
	if c.ClientSessionID != nil {
		t.Errorf("ClientSessionID = %v, want nil for invalid uuid", c.ClientSessionID)
	}
	if c.BookingID != "b-1" {
		t.Errorf("BookingID = %q", c.BookingID)
	}
}

func TestParseClientsMalformed(t *testing.T) {
	for _, raw := range []string{"", "null", "{}", "not json", `{"clientId":"x"}`} {
		if got := ParseClients([]byte(raw)); len(got) != 0 {
			t.Errorf("ParseClients(%q) = %v, want none", raw, got)
		}
	}
}

func TestParseClientsBadlyTypedFields(t *testing.T) {
	id := uuid.New()
	raw := []byte(`[{"clientId": "` + id.String() + `", "firstName": {"nested": true}, "email": "ana@example.com",
		"mobileNumber": 412345678, "mailId": 7, "bookingId": ["b-1"]}]`)

	got := ParseClients(raw)
	if len(got) != 1 {
		t.Fatalf("ParseClients returned %d clients, want 1", len(got))
	}

	c := got[0]
	tests := []struct {
		field, got, want string
	}{
		{"Email", c.Email, "ana@example.com"},
		{"MobileNumber", c.MobileNumber, "412345678"},
		{"FirstName", c.FirstName, ""},
		{"BookingID", c.BookingID, ""},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %q, want %q", tt.field, tt.got, tt.want)
		}
	}
	if c.MailID != nil {
		t.Errorf("MailID = %v, want nil", c.MailID)
	}
	if n, ok := NormalizeMobile(c.MobileNumber, "AU"); !ok || n != "+61412345678" {
		t.Errorf("NormalizeMobile(%q) = %q, %v", c.MobileNumber, n, ok)
	}
}

func TestParseClientsRequiresClientID(t *testing.T) {
	raw := []byte(`[{"clientId": 12345, "email": "ana@example.com"}, {"clientId": null, "email": "bo@example.com"}]`)
	if got := ParseClients(raw); len(got) != 0 {
		t.Errorf("ParseClients = %v, want none without a valid client id", got)
	}
}

func TestParseGeo(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Geo
		ok   bool
	}{
		{"valid", `{"lat": -33.8688, "lng": 151.2093}`, Geo{Lat: -33.8688, Lng: 151.2093}, true},
		{"zero is a place", `{"lat": 0, "lng": 0}`, Geo{}, true},
		{"missing lng", `{"lat": 1}`, Geo{}, false},
		{"strings", `{"lat": "1", "lng": "2"}`, Geo{}, false},
		{"out of range", `{"lat": 91, "lng": 0}`, Geo{}, false},
		{"array", `[1, 2]`, Geo{}, false},
		{"null", `null`, Geo{}, false},
		{"empty", ``, Geo{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseGeo([]byte(tt.raw))
			if ok != tt.ok || got != tt.want {
				t.Errorf("ParseGeo(%s) = %v, %v; want %v, %v", tt.raw, got, ok, tt.want, tt.ok)
			}
		})
	}
}
