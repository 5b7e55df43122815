// Package blackout implements the trading blackout calendar. Windows are
// intraday time-of-day ranges evaluated in Japan Standard Time; orders and
// signal evaluation are suppressed while the clock is inside a window.
package blackout

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// JST has no daylight saving, a fixed zone is sufficient.
var JST = time.FixedZone("JST", 9*60*60)

// Window is a half-open [Start, End) range in minutes since midnight JST.
type Window struct {
	Start int
	End   int
}

// WindowSpec is the serialized form of a window ("HH:MM" strings).
type WindowSpec struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// DefaultSpecs returns the stock blackout windows: the Tokyo open spread
// widening, and the NY economic release slots.
func DefaultSpecs() []WindowSpec {
	return []WindowSpec{
		{Start: "04:00", End: "09:15"},
		{Start: "21:20", End: "21:45"},
		{Start: "22:25", End: "23:10"},
	}
}

// Calendar holds the active window set. Safe for concurrent use: the
// pipeline reads it on every evaluation while the config API may replace
// the windows at any time.
type Calendar struct {
	mu      sync.RWMutex
	windows []Window
}

// NewCalendar builds a calendar from serialized windows. Invalid specs
// reject the whole set.
func NewCalendar(specs []WindowSpec) (*Calendar, error) {
	windows, err := ParseWindows(specs)
	if err != nil {
		return nil, err
	}
	return &Calendar{windows: windows}, nil
}

// ParseWindows parses and validates "HH:MM" window specs. Windows must
// satisfy start < end; the result is sorted by start time.
func ParseWindows(specs []WindowSpec) ([]Window, error) {
	windows := make([]Window, 0, len(specs))
	for _, s := range specs {
		start, err := parseMinutes(s.Start)
		if err != nil {
			return nil, fmt.Errorf("blackout window start %q: %w", s.Start, err)
		}
		end, err := parseMinutes(s.End)
		if err != nil {
			return nil, fmt.Errorf("blackout window end %q: %w", s.End, err)
		}
		if start >= end {
			return nil, fmt.Errorf("blackout window %s-%s: start must precede end", s.Start, s.End)
		}
		windows = append(windows, Window{Start: start, End: end})
	}
	sort.Slice(windows, func(i, j int) bool { return windows[i].Start < windows[j].Start })
	return windows, nil
}

// SetWindows atomically replaces the window set.
func (c *Calendar) SetWindows(windows []Window) {
	c.mu.Lock()
	c.windows = append([]Window(nil), windows...)
	c.mu.Unlock()
}

// Specs serializes the active windows back to "HH:MM" form.
func (c *Calendar) Specs() []WindowSpec {
	c.mu.RLock()
	defer c.mu.RUnlock()
	specs := make([]WindowSpec, 0, len(c.windows))
	for _, w := range c.windows {
		specs = append(specs, WindowSpec{Start: formatMinutes(w.Start), End: formatMinutes(w.End)})
	}
	return specs
}

// IsBlackout reports whether t falls inside any window. The comparison is
// done on t converted to JST; callers pass the event timestamp, not the
// wall clock, so replays and delayed frames gate consistently.
func (c *Calendar) IsBlackout(t time.Time) bool {
	jst := t.In(JST)
	minutes := jst.Hour()*60 + jst.Minute()

	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, w := range c.windows {
		if minutes >= w.Start && minutes < w.End {
			return true
		}
	}
	return false
}

func parseMinutes(s string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("want HH:MM: %w", err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("out of range")
	}
	return h*60 + m, nil
}

func formatMinutes(m int) string {
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}
