package models

import "time"

// DateRange is a half-open time interval [Start, End).
type DateRange struct {
	Start time.Time
	End   time.Time
}

// DayRange returns the calendar day containing t in loc.
func DayRange(t time.Time, loc *time.Location) DateRange {
	if loc == nil {
		loc = time.Local
	}
	local := t.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return DateRange{Start: start, End: start.AddDate(0, 0, 1)}
}

// Contains reports whether t falls inside the range.
func (r DateRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && t.Before(r.End)
}

// Valid reports whether the range is non-empty.
func (r DateRange) Valid() bool {
	return !r.Start.IsZero() && r.End.After(r.Start)
}
