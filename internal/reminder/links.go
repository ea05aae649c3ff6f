package reminder

import (
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Links builds the outbound URLs embedded in reminders.
type Links struct {
	BaseURL         string
	BookingShortURL string
}

func joinURL(base string, parts ...string) string {
	out := strings.TrimRight(base, "/")
	for _, p := range parts {
		out += "/" + url.PathEscape(p)
	}
	return out
}

// BookingURL is the booking detail page for a client.
func (l Links) BookingURL(bookingID string) string {
	return joinURL(l.BaseURL, "book", "bookings", bookingID)
}

// ShortBookingURL is the compact booking link used in SMS.
func (l Links) ShortBookingURL(bookingID string) string {
	return joinURL(l.BookingShortURL, bookingID)
}

// CalendarURL deep links a trainer to the session in their calendar.
func (l Links) CalendarURL(sessionID string) string {
	return joinURL(l.BaseURL, "calendar", sessionID)
}

// CreditsURL is where a trainer tops up SMS credits.
func (l Links) CreditsURL() string {
	return joinURL(l.BaseURL, "settings", "sms-credits")
}

// Event is what calendar links describe.
type Event struct {
	Title       string
	Description string
	Location    string
	Start       time.Time
	End         time.Time
	TimeZone    string
}

// ICSURL points at the self-hosted ICS generator.
func (l Links) ICSURL(ev Event) string {
	q := url.Values{}
	q.Set("startTime", ev.Start.UTC().Format(time.RFC3339))
	q.Set("endTime", ev.End.UTC().Format(time.RFC3339))
	q.Set("timeZone", ev.TimeZone)
	q.Set("title", ev.Title)
	q.Set("location", ev.Location)
	q.Set("description", ev.Description)
	return joinURL(l.BaseURL, "api", "ics") + "?" + q.Encode()
}

const googleCalendarStamp = "20060102T150405Z"

// GoogleCalendarURL opens Google Calendar's event creation form prefilled with ev.
func GoogleCalendarURL(ev Event) string {
	q := url.Values{}
	q.Set("action", "TEMPLATE")
	q.Set("text", ev.Title)
	q.Set("dates", ev.Start.UTC().Format(googleCalendarStamp)+"/"+ev.End.UTC().Format(googleCalendarStamp))
	if ev.Description != "" {
		q.Set("details", ev.Description)
	}
	if ev.Location != "" {
		q.Set("location", ev.Location)
	}
	if ev.TimeZone != "" {
		q.Set("ctz", ev.TimeZone)
	}
	return "https://calendar.google.com/calendar/render?" + q.Encode()
}

// Place is where a session happens.
type Place struct {
	Name    string
	Address string
	PlaceID string
	Geo     *Geo
}

// Label is the human readable form of the place.
func (p Place) Label() string {
	switch {
	case p.Name != "" && p.Address != "" && p.Name != p.Address:
		return p.Name + ", " + p.Address
	case p.Address != "":
		return p.Address
	default:
		return p.Name
	}
}

// MapLinks returns Google and Apple Maps URLs for the place. Geo and place id win
// over the address; a place with none of them has no links.
func MapLinks(p Place) (google, apple string, ok bool) {
	label := p.Label()

	switch {
	case p.Geo != nil:
		ll := formatCoord(p.Geo.Lat) + "," + formatCoord(p.Geo.Lng)
		gq := url.Values{"api": {"1"}, "query": {ll}}
		if p.PlaceID != "" {
			gq.Set("query_place_id", p.PlaceID)
		}
		aq := url.Values{"ll": {ll}}
		if label != "" {
			aq.Set("q", label)
		}
		return "https://www.google.com/maps/search/?" + gq.Encode(), "https://maps.apple.com/?" + aq.Encode(), true

	case p.PlaceID != "" && label != "":
		gq := url.Values{"api": {"1"}, "query": {label}, "query_place_id": {p.PlaceID}}
		return "https://www.google.com/maps/search/?" + gq.Encode(), "https://maps.apple.com/?" + url.Values{"q": {label}}.Encode(), true

	case p.Address != "":
		gq := url.Values{"api": {"1"}, "query": {p.Address}}
		return "https://www.google.com/maps/search/?" + gq.Encode(), "https://maps.apple.com/?" + url.Values{"address": {p.Address}}.Encode(), true
	}

	return "", "", false
}

func formatCoord(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
