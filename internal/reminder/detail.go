package reminder

import (
	"time"

	"github.com/google/uuid"

	"github.com/keepon/remindd/internal/db"
)

// Provider is the trainer side of a reminder.
type Provider struct {
	FirstName    string
	LastName     string
	BusinessName string
	BrandColor   string
	LogoURL      string
	Email        string
	MobileNumber string
	Country      string
}

// DisplayName prefers the business name over the trainer's own.
func (p Provider) DisplayName() string {
	if p.BusinessName != "" {
		return p.BusinessName
	}
	return joinName(p.FirstName, p.LastName)
}

// Detail is a typed reminder detail row.
type Detail struct {
	SessionID              uuid.UUID
	Type                   ReminderType
	TrainerID              uuid.UUID
	TrainerUserID          *uuid.UUID
	SessionName            string
	Start                  time.Time
	End                    time.Time
	TimeZone               string
	Loc                    *time.Location
	Place                  Place
	Cancelled              bool
	Provider               Provider
	SMSCreditBalance       int
	ClientRemindersEnabled bool
	Clients                []Client
}

// NewDetail converts a view row, returning false when its reminder type is not recognised.
func NewDetail(row *db.ReminderDetail) (Detail, bool) {
	kind, ok := ParseReminderType(row.ReminderType)
	if !ok {
		return Detail{}, false
	}

	place := Place{
		Name:    deref(row.Location),
		Address: deref(row.Address),
		PlaceID: deref(row.GooglePlaceID),
	}
	if g, ok := ParseGeo(row.Geo); ok {
		place.Geo = &g
	}

	name := row.SessionName
	if name == "" {
		name = "Appointment"
	}

	return Detail{
		SessionID:     row.SessionID,
		Type:          kind,
		TrainerID:     row.TrainerID,
		TrainerUserID: row.TrainerUserID,
		SessionName:   name,
		Start:         row.StartTime,
		End:           row.EndTime,
		TimeZone:      row.Timezone,
		Loc:           loadLocation(row.Timezone),
		Place:         place,
		Cancelled:     row.Cancelled,
		Provider: Provider{
			FirstName:    row.ProviderFirstName,
			LastName:     deref(row.ProviderLastName),
			BusinessName: deref(row.BusinessName),
			BrandColor:   deref(row.BrandColor),
			LogoURL:      deref(row.BusinessLogoURL),
			Email:        deref(row.ProviderEmail),
			MobileNumber: deref(row.ProviderMobileNumber),
			Country:      deref(row.Country),
		},
		SMSCreditBalance:       row.SMSCreditBalance,
		ClientRemindersEnabled: row.ClientRemindersEnabled,
		Clients:                ParseClients(row.Clients),
	}, true
}

// AttendeeNames lists the names of clients attending.
func (d Detail) AttendeeNames() []string {
	names := make([]string, 0, len(d.Clients))
	for _, c := range d.Clients {
		if n := c.FullName(); n != "" {
			names = append(names, n)
		}
	}
	return names
}

func (d Detail) event(description string) Event {
	return Event{
		Title:       d.SessionName + " with " + d.Provider.DisplayName(),
		Description: description,
		Location:    d.Place.Label(),
		Start:       d.Start,
		End:         d.End,
		TimeZone:    d.Loc.String(),
	}
}
