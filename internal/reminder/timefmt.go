package reminder

import (
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// loadLocation resolves an IANA zone name, falling back to UTC.
func loadLocation(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// formatClock renders a wall time as "3pm" or "3:30pm".
func formatClock(t time.Time) string {
	if t.Minute() == 0 {
		return strings.ToLower(t.Format("3PM"))
	}
	return strings.ToLower(t.Format("3:04PM"))
}

// calendarDays counts midnights between the dates of from and to in loc.
func calendarDays(from, to time.Time, loc *time.Location) int {
	fy, fm, fd := from.In(loc).Date()
	ty, tm, td := to.In(loc).Date()
	a := time.Date(fy, fm, fd, 0, 0, 0, 0, time.UTC)
	b := time.Date(ty, tm, td, 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours() / 24)
}

// RelativePhrase describes start relative to now in the given zone,
// e.g. "today at 9am", "tomorrow at 3pm", "friday at 6:30pm".
func RelativePhrase(start, now time.Time, loc *time.Location) string {
	local := start.In(loc)
	clock := formatClock(local)

	switch days := calendarDays(now, start, loc); {
	case days == 0:
		return "today at " + clock
	case days == 1:
		return "tomorrow at " + clock
	case days == -1:
		return "yesterday at " + clock
	case days > 1 && days < 7:
		return strings.ToLower(local.Weekday().String()) + " at " + clock
	case days < -1 && days > -7:
		return "last " + strings.ToLower(local.Weekday().String()) + " at " + clock
	default:
		return "on " + local.Format("2 January 2006") + " at " + clock
	}
}

// Capitalize upper-cases the first rune.
func Capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

// FormatRange renders a session time range in loc, collapsing same-day ranges:
// "Tuesday 13 October 2026, 3pm - 4:30pm".
func FormatRange(start, end time.Time, loc *time.Location) string {
	s, e := start.In(loc), end.In(loc)
	day := s.Format("Monday 2 January 2006")

	if calendarDays(s, e, loc) == 0 {
		return fmt.Sprintf("%s, %s - %s", day, formatClock(s), formatClock(e))
	}
	return fmt.Sprintf("%s, %s - %s, %s", day, formatClock(s), e.Format("Monday 2 January 2006"), formatClock(e))
}
