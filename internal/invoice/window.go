package invoice

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the calendar-day format used in config, state and flags.
const DateLayout = "2006-01-02"

// Window is one calendar day processed for one direction.
type Window struct {
	// Day holds the calendar date at midnight UTC. Use Bounds to get the
	// instants for a particular time zone.
	Day       time.Time
	Direction Direction
}

// DayOf truncates t to its calendar date in t's own location.
func DayOf(t time.Time) time.Time {
	y, m, d := t.Date()

	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDay parses a YYYY-MM-DD string.
func ParseDay(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("invoice: invalid date %q: %w", s, err)
	}

	return t, nil
}

// Bounds returns the first and last second of the window's day in loc.
func (w Window) Bounds(loc *time.Location) (time.Time, time.Time) {
	y, m, d := w.Day.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, loc)
	end := time.Date(y, m, d, 23, 59, 59, 0, loc)

	return start, end
}

// String renders the window as "2024-03-05/Received".
func (w Window) String() string {
	return w.Day.Format(DateLayout) + "/" + w.Direction.String()
}

// ParseWindow is the inverse of Window.String.
func ParseWindow(s string) (Window, error) {
	dayStr, dirStr, ok := strings.Cut(s, "/")
	if !ok {
		return Window{}, fmt.Errorf("invoice: invalid window %q", s)
	}

	day, err := ParseDay(dayStr)
	if err != nil {
		return Window{}, err
	}

	dir, err := ParseDirection(dirStr)
	if err != nil {
		return Window{}, err
	}

	if dir == DirectionUnknown {
		return Window{}, fmt.Errorf("invoice: window %q has no direction", s)
	}

	return Window{Day: day, Direction: dir}, nil
}

// MarshalText implements encoding.TextMarshaler.
func (w Window) MarshalText() ([]byte, error) {
	return []byte(w.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (w *Window) UnmarshalText(b []byte) error {
	parsed, err := ParseWindow(string(b))
	if err != nil {
		return err
	}

	*w = parsed

	return nil
}

// Days returns every calendar day from start to end inclusive, ascending.
// Both arguments are truncated to their calendar date first.
func Days(start, end time.Time) []time.Time {
	first := DayOf(start)
	last := DayOf(end)

	var days []time.Time
	for d := first; !d.After(last); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}

	return days
}
