package reminder

import (
	"testing"
	"time"
)

func TestRelativePhrase(t *testing.T) {
	sydney, err := time.LoadLocation("Australia/Sydney")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}

	// Monday 2 March 2026, 9am in Sydney
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, sydney)

	tests := []struct {
		name  string
		start time.Time
		want  string
	}{
		{"today", time.Date(2026, 3, 2, 15, 0, 0, 0, sydney), "today at 3pm"},
		{"tomorrow", time.Date(2026, 3, 3, 15, 30, 0, 0, sydney), "tomorrow at 3:30pm"},
		{"yesterday", time.Date(2026, 3, 1, 8, 0, 0, 0, sydney), "yesterday at 8am"},
		{"this week", time.Date(2026, 3, 6, 18, 0, 0, 0, sydney), "friday at 6pm"},
		{"last week", time.Date(2026, 2, 26, 12, 0, 0, 0, sydney), "last thursday at 12pm"},
		{"far", time.Date(2026, 4, 20, 7, 15, 0, 0, sydney), "on 20 April 2026 at 7:15am"},
		{"utc input", time.Date(2026, 3, 2, 23, 0, 0, 0, time.UTC), "tomorrow at 10am"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RelativePhrase(tt.start, now, sydney); got != tt.want {
				t.Errorf("RelativePhrase = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFormatRange(t *testing.T) {
	start := time.Date(2026, 10, 13, 15, 0, 0, 0, time.UTC)

	if got, want := FormatRange(start, start.Add(90*time.Minute), time.UTC), "Tuesday 13 October 2026, 3pm - 4:30pm"; got != want {
		t.Errorf("FormatRange same day = %q, want %q", got, want)
	}

	end := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)
	if got, want := FormatRange(start, end, time.UTC), "Tuesday 13 October 2026, 3pm - Wednesday 14 October 2026, 9am"; got != want {
		t.Errorf("FormatRange spanning days = %q, want %q", got, want)
	}
}

func TestCapitalize(t *testing.T) {
	for in, want := range map[string]string{"tomorrow at 3pm": "Tomorrow at 3pm", "": "", "énfasis": "Énfasis"} {
		if got := Capitalize(in); got != want {
			t.Errorf("Capitalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLoadLocationFallsBack(t *testing.T) {
	if got := loadLocation("Not/AZone"); got != time.UTC {
		t.Errorf("loadLocation = %v, want UTC", got)
	}
	if got := loadLocation(""); got != time.UTC {
		t.Errorf("loadLocation empty = %v, want UTC", got)
	}
}
