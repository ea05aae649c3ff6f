package reminder

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
)

// Client is an attendee of a session as exposed by the detail view.
type Client struct {
	ClientID        uuid.UUID
	FirstName       string
	LastName        string
	Email           string
	MobileNumber    string
	MailID          *uuid.UUID
	ClientSessionID *uuid.UUID
	BookingID       string
}

// FullName joins first and last name, skipping blanks.
func (c Client) FullName() string {
	return joinName(c.FirstName, c.LastName)
}

// Geo is a latitude/longitude pair.
type Geo struct {
	Lat float64
	Lng float64
}

// looseString takes any JSON scalar. Strings are kept, numbers keep their
// literal text, and everything else decodes as empty. It never fails, so one
// badly typed field cannot drop the whole client entry.
type looseString string

func (s *looseString) UnmarshalJSON(b []byte) error {
	*s = ""
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil
	}
	switch x := v.(type) {
	case string:
		*s = looseString(strings.TrimSpace(x))
	case json.Number:
		*s = looseString(x.String())
	}
	return nil
}

type rawClient struct {
	ClientID        looseString `json:"clientId"`
	FirstName       looseString `json:"firstName"`
	LastName        looseString `json:"lastName"`
	Email           looseString `json:"email"`
	MobileNumber    looseString `json:"mobileNumber"`
	MailID          looseString `json:"mailId"`
	ClientSessionID looseString `json:"clientSessionId"`
	BookingID       looseString `json:"bookingId"`
}

// ParseClients decodes the clients json column. Elements that are not objects or
// lack a valid client id are skipped; any other field of the wrong type is
// treated as absent. Malformed input yields no clients.
func ParseClients(raw []byte) []Client {
	if len(raw) == 0 {
		return nil
	}

	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		return nil
	}

	clients := make([]Client, 0, len(elems))
	for _, elem := range elems {
		var rc rawClient
		if err := json.Unmarshal(elem, &rc); err != nil {
			continue
		}
		id, ok := parseUUID(rc.ClientID)
		if !ok {
			continue
		}

		c := Client{
			ClientID:     id,
			FirstName:    string(rc.FirstName),
			LastName:     string(rc.LastName),
			Email:        string(rc.Email),
			MobileNumber: string(rc.MobileNumber),
			BookingID:    string(rc.BookingID),
		}
		if mailID, ok := parseUUID(rc.MailID); ok {
			c.MailID = &mailID
		}
		if csID, ok := parseUUID(rc.ClientSessionID); ok {
			c.ClientSessionID = &csID
		}
		clients = append(clients, c)
	}

	return clients
}

// ParseGeo decodes the geo json column. Anything other than an object with
// in-range numeric lat and lng is treated as absent.
func ParseGeo(raw []byte) (Geo, bool) {
	if len(raw) == 0 {
		return Geo{}, false
	}

	var g struct {
		Lat *float64 `json:"lat"`
		Lng *float64 `json:"lng"`
	}
	if err := json.Unmarshal(raw, &g); err != nil {
		return Geo{}, false
	}
	if g.Lat == nil || g.Lng == nil {
		return Geo{}, false
	}
	if *g.Lat < -90 || *g.Lat > 90 || *g.Lng < -180 || *g.Lng > 180 {
		return Geo{}, false
	}

	return Geo{Lat: *g.Lat, Lng: *g.Lng}, true
}

func parseUUID(s looseString) (uuid.UUID, bool) {
	if s == "" {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(string(s))
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func trimmed(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}

func deref(s *string) string {
	return trimmed(s)
}

func joinName(parts ...string) string {
	var out []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " ")
}
