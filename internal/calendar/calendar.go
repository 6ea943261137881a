// Package calendar derives the day and week keys that progress counters are
// bucketed by. Day keys are always UTC; week keys are computed in a fixed
// zone so the weekly boundary follows the players' local Monday.
package calendar

import (
	"fmt"
	"strconv"
	"time"
	_ "time/tzdata"
)

const DefaultWeekZone = "Europe/Berlin"

const secondsPerDay = 24 * 60 * 60

// FromUnixMilli converts an epoch-milliseconds timestamp into a UTC time.
func FromUnixMilli(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// DayIndex returns the number of whole UTC days since the Unix epoch.
func DayIndex(t time.Time) int64 {
	sec := t.Unix()
	day := sec / secondsPerDay
	if sec%secondsPerDay < 0 {
		day--
	}
	return day
}

// CompactDay formats the UTC calendar day of t as YYYYMMDD.
func CompactDay(t time.Time) string {
	return t.UTC().Format("20060102")
}

// DashedDay formats the UTC calendar day of t as YYYY-MM-DD.
func DashedDay(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// ParseCompactDay returns the day index of a YYYYMMDD string.
func ParseCompactDay(s string) (int64, error) {
	if len(s) != 8 {
		return 0, fmt.Errorf("day %q: want 8 digits", s)
	}
	if _, err := strconv.Atoi(s); err != nil {
		return 0, fmt.Errorf("day %q: %w", s, err)
	}
	t, err := time.ParseInLocation("20060102", s, time.UTC)
	if err != nil {
		return 0, fmt.Errorf("day %q: %w", s, err)
	}
	return DayIndex(t), nil
}

// TrailingDays lists the last n UTC days ending with the day of now,
// oldest first, formatted as YYYY-MM-DD.
func TrailingDays(now time.Time, n int) []string {
	if n <= 0 {
		return nil
	}
	today := time.Unix(DayIndex(now)*secondsPerDay, 0).UTC()
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = DashedDay(today.AddDate(0, 0, i-(n-1)))
	}
	return out
}

// WeekKeyer computes ISO-8601 week keys in a fixed zone.
type WeekKeyer struct {
	loc *time.Location
}

func NewWeekKeyer(zone string) (WeekKeyer, error) {
	if zone == "" {
		zone = DefaultWeekZone
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return WeekKeyer{}, fmt.Errorf("load week zone: %w", err)
	}
	return WeekKeyer{loc: loc}, nil
}

func (w WeekKeyer) Location() *time.Location {
	if w.loc == nil {
		return time.UTC
	}
	return w.loc
}

// Key projects t into the keyer's zone and formats its ISO week as
// "<ISOYear>-W<ww>".
func (w WeekKeyer) Key(t time.Time) string {
	year, week := t.In(w.Location()).ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}

// PreviousKey is the key of the ISO week before the one containing t.
func (w WeekKeyer) PreviousKey(t time.Time) string {
	return w.Key(t.In(w.Location()).AddDate(0, 0, -7))
}
