// Package timefmt renders instants in the clinic's display timezone and
// carries the calendar-date value used throughout the scheduling flows.
package timefmt

import (
	"fmt"
	"time"
)

// DefaultZone is the display timezone used when none is configured.
const DefaultZone = "Asia/Colombo"

const (
	dateTimeLayout = "02 Jan 2006, 03:04 PM"
	dateLayout     = "2006-01-02"
)

// Zone wraps a loaded time.Location for display formatting.
type Zone struct {
	loc *time.Location
}

// LoadZone loads the named IANA timezone, falling back to DefaultZone on
// an empty name.
func LoadZone(name string) (*Zone, error) {
	if name == "" {
		name = DefaultZone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("timefmt: load zone %q: %w", name, err)
	}
	return &Zone{loc: loc}, nil
}

// MustLoadZone is LoadZone for known-good names; panics otherwise.
func MustLoadZone(name string) *Zone {
	z, err := LoadZone(name)
	if err != nil {
		panic(err)
	}
	return z
}

// Location exposes the underlying location.
func (z *Zone) Location() *time.Location {
	return z.loc
}

// Format renders an instant as "02 Jan 2006, 03:04 PM" in the display zone.
func (z *Zone) Format(t time.Time) string {
	return t.In(z.loc).Format(dateTimeLayout)
}

// FormatDate renders the calendar day of an instant in the display zone.
func (z *Zone) FormatDate(t time.Time) string {
	return t.In(z.loc).Format(dateLayout)
}

// Today returns the current calendar date in the display zone.
func (z *Zone) Today(now time.Time) CalendarDate {
	return CalendarDate(now.In(z.loc).Format(dateLayout))
}

// CalendarDate is a calendar day with no time component, in YYYY-MM-DD form.
// The zero value is "no date".
type CalendarDate string

// ParseCalendarDate validates s as a YYYY-MM-DD date.
func ParseCalendarDate(s string) (CalendarDate, error) {
	if _, err := time.Parse(dateLayout, s); err != nil {
		return "", fmt.Errorf("timefmt: invalid calendar date %q: %w", s, err)
	}
	return CalendarDate(s), nil
}

// DateOf truncates an instant to its calendar day in loc.
func DateOf(t time.Time, loc *time.Location) CalendarDate {
	return CalendarDate(t.In(loc).Format(dateLayout))
}

func (d CalendarDate) String() string {
	return string(d)
}

// IsZero reports whether the date is unset.
func (d CalendarDate) IsZero() bool {
	return d == ""
}

// Time returns midnight of the date in loc.
func (d CalendarDate) Time(loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(dateLayout, string(d), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("timefmt: invalid calendar date %q: %w", string(d), err)
	}
	return t, nil
}
