package calendar

import (
	"testing"
	"time"
)

func TestDayIndex(t *testing.T) {
	tests := []struct {
		in   time.Time
		want int64
	}{
		{in: time.Unix(0, 0), want: 0},
		{in: time.Date(1970, 1, 1, 23, 59, 59, 0, time.UTC), want: 0},
		{in: time.Date(1970, 1, 2, 0, 0, 0, 0, time.UTC), want: 1},
		{in: time.Date(1969, 12, 31, 23, 0, 0, 0, time.UTC), want: -1},
		{in: time.Date(2025, 8, 6, 12, 0, 0, 0, time.UTC), want: 20306},
	}
	for _, tc := range tests {
		if got := DayIndex(tc.in); got != tc.want {
			t.Fatalf("DayIndex(%s) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestDayIndexIgnoresZone(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Fatalf("load zone: %v", err)
	}
	// 00:30 in Berlin on Aug 7 is still Aug 6 in UTC.
	local := time.Date(2025, 8, 7, 0, 30, 0, 0, berlin)
	if got, want := DayIndex(local), DayIndex(time.Date(2025, 8, 6, 0, 0, 0, 0, time.UTC)); got != want {
		t.Fatalf("got %d want %d", got, want)
	}
	if got := CompactDay(local); got != "20250806" {
		t.Fatalf("CompactDay = %q", got)
	}
}

func TestParseCompactDay(t *testing.T) {
	ts := time.Date(2024, 2, 29, 18, 0, 0, 0, time.UTC)
	got, err := ParseCompactDay(CompactDay(ts))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != DayIndex(ts) {
		t.Fatalf("got %d want %d", got, DayIndex(ts))
	}

	for _, bad := range []string{"", "2024-02-29", "2024022", "abcdefgh", "20241399"} {
		if _, err := ParseCompactDay(bad); err == nil {
			t.Fatalf("expected %q to fail", bad)
		}
	}
}

func TestTrailingDays(t *testing.T) {
	now := time.Date(2025, 3, 2, 8, 0, 0, 0, time.UTC)
	got := TrailingDays(now, 3)
	want := []string{"2025-02-28", "2025-03-01", "2025-03-02"}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}
	if TrailingDays(now, 0) != nil {
		t.Fatalf("expected nil for n=0")
	}
}

func TestWeekKey(t *testing.T) {
	wk, err := NewWeekKeyer("")
	if err != nil {
		t.Fatalf("keyer: %v", err)
	}
	tests := []struct {
		name string
		in   time.Time
		want string
	}{
		{name: "mid week 32", in: time.Date(2025, 8, 6, 12, 0, 0, 0, time.UTC), want: "2025-W32"},
		{name: "new year in previous iso year", in: time.Date(2021, 1, 3, 12, 0, 0, 0, time.UTC), want: "2020-W53"},
		{name: "late december in next iso year", in: time.Date(2024, 12, 30, 12, 0, 0, 0, time.UTC), want: "2025-W01"},
		{name: "single digit week padded", in: time.Date(2025, 1, 8, 12, 0, 0, 0, time.UTC), want: "2025-W02"},
	}
	for _, tc := range tests {
		if got := wk.Key(tc.in); got != tc.want {
			t.Fatalf("%s: got %q want %q", tc.name, got, tc.want)
		}
	}
}

func TestWeekKeyBoundaryFollowsZone(t *testing.T) {
	wk, err := NewWeekKeyer("Europe/Berlin")
	if err != nil {
		t.Fatalf("keyer: %v", err)
	}
	// Monday 2025-08-11 00:00 in Berlin (CEST, UTC+2) is Sunday 22:00 UTC.
	boundary := time.Date(2025, 8, 10, 22, 0, 0, 0, time.UTC)
	if got := wk.Key(boundary.Add(-time.Second)); got != "2025-W32" {
		t.Fatalf("before boundary: got %q", got)
	}
	if got := wk.Key(boundary); got != "2025-W33" {
		t.Fatalf("at boundary: got %q", got)
	}
	// UTC midnight is not the boundary.
	utcMidnight := time.Date(2025, 8, 11, 0, 0, 0, 0, time.UTC)
	if got := wk.Key(utcMidnight.Add(-time.Second)); got != "2025-W33" {
		t.Fatalf("before utc midnight: got %q", got)
	}
	if got := wk.PreviousKey(boundary); got != "2025-W32" {
		t.Fatalf("previous: got %q", got)
	}
}

func TestNewWeekKeyerRejectsUnknownZone(t *testing.T) {
	if _, err := NewWeekKeyer("Mars/Olympus"); err == nil {
		t.Fatalf("expected unknown zone to fail")
	}
}
