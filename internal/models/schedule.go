package models

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// locations caches resolved timezones by IANA name. Failed lookups are
// cached as nil.
var locations sync.Map

func loadLocation(name string) (*time.Location, error) {
	if v, ok := locations.Load(name); ok {
		if loc := v.(*time.Location); loc != nil {
			return loc, nil
		}
		return nil, fmt.Errorf("unknown time zone %s", name)
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		locations.Store(name, (*time.Location)(nil))
		return nil, err
	}
	locations.Store(name, loc)
	return loc, nil
}

// WorkingHours is a recurring daily window. The zero value means "always".
//
// Start and End are "HH:MM" in Timezone (IANA name, UTC when empty). When End
// is before Start the window crosses midnight, e.g. 21:00-05:00. Days limits the
// window to the weekdays on which it starts; empty means every day.
type WorkingHours struct {
	Timezone string         `json:"timezone,omitempty" yaml:"timezone"`
	Days     []time.Weekday `json:"days,omitempty" yaml:"days"`
	Start    string         `json:"start,omitempty" yaml:"start"`
	End      string         `json:"end,omitempty" yaml:"end"`
}

// IsZero reports whether no window is configured.
func (w WorkingHours) IsZero() bool {
	return w.Start == "" && w.End == "" && len(w.Days) == 0
}

// Validate checks the clock strings and timezone.
func (w WorkingHours) Validate() error {
	if w.IsZero() {
		return nil
	}
	if _, err := parseClock(w.Start); err != nil {
		return fmt.Errorf("working_hours.start: %w", err)
	}
	if _, err := parseClock(w.End); err != nil {
		return fmt.Errorf("working_hours.end: %w", err)
	}
	if w.Timezone != "" {
		if _, err := loadLocation(w.Timezone); err != nil {
			return fmt.Errorf("working_hours.timezone: %w", err)
		}
	}
	return nil
}

// Contains reports whether t falls inside the window. A malformed window
// never matches, so a misconfigured agent is not handed work.
func (w WorkingHours) Contains(t time.Time) bool {
	if w.IsZero() {
		return true
	}
	loc := time.UTC
	if w.Timezone != "" {
		l, err := loadLocation(w.Timezone)
		if err != nil {
			return false
		}
		loc = l
	}
	start, err := parseClock(w.Start)
	if err != nil {
		return false
	}
	end, err := parseClock(w.End)
	if err != nil {
		return false
	}

	local := t.In(loc)
	minute := local.Hour()*60 + local.Minute()

	if start == end {
		// Full-day window on the allowed days.
		return w.dayAllowed(local.Weekday())
	}
	if start < end {
		return minute >= start && minute < end && w.dayAllowed(local.Weekday())
	}

	// Overnight: the evening part belongs to today, the early-morning part to
	// the shift that started yesterday.
	if minute >= start {
		return w.dayAllowed(local.Weekday())
	}
	if minute < end {
		return w.dayAllowed(local.AddDate(0, 0, -1).Weekday())
	}
	return false
}

func (w WorkingHours) dayAllowed(d time.Weekday) bool {
	if len(w.Days) == 0 {
		return true
	}
	for _, allowed := range w.Days {
		if allowed == d {
			return true
		}
	}
	return false
}

// parseClock turns "HH:MM" into minutes after midnight.
func parseClock(s string) (int, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid clock %q (want HH:MM)", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 24 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	if h == 24 && m != 0 {
		return 0, fmt.Errorf("invalid clock %q", s)
	}
	return h*60 + m, nil
}
