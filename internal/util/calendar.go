package util

import (
	"time"
)

// Calendar provides calendar-month arithmetic in a fixed location. Dates are
// compared by calendar day in that location, never by instant.
type Calendar struct {
	loc *time.Location
}

// NewCalendar creates a Calendar for loc. A nil loc means UTC.
func NewCalendar(loc *time.Location) *Calendar {
	if loc == nil {
		loc = time.UTC
	}
	return &Calendar{loc: loc}
}

// Location returns the calendar's time zone.
func (c *Calendar) Location() *time.Location {
	return c.loc
}

// DayOf truncates t to midnight of its calendar day.
func (c *Calendar) DayOf(t time.Time) time.Time {
	t = t.In(c.loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, c.loc)
}

// SameDay reports whether a and b fall on the same calendar day.
func (c *Calendar) SameDay(a, b time.Time) bool {
	a, b = a.In(c.loc), b.In(c.loc)
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}

// DaysInMonth returns the number of days in the given month.
func (c *Calendar) DaysInMonth(year int, month time.Month) int {
	// Day 0 of the next month normalizes to the last day of this one.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, c.loc).Day()
}

// MonthBounds returns midnight of the first and of the last day of the
// month.
func (c *Calendar) MonthBounds(year int, month time.Month) (first, last time.Time) {
	first = time.Date(year, month, 1, 0, 0, 0, 0, c.loc)
	last = time.Date(year, month, c.DaysInMonth(year, month), 0, 0, 0, 0, c.loc)
	return first, last
}

// MonthDays returns midnight of every day in the month, in order.
func (c *Calendar) MonthDays(year int, month time.Month) []time.Time {
	n := c.DaysInMonth(year, month)
	days := make([]time.Time, n)
	for d := 1; d <= n; d++ {
		days[d-1] = time.Date(year, month, d, 0, 0, 0, 0, c.loc)
	}
	return days
}

// YearMonth returns the calendar year and month containing t.
func (c *Calendar) YearMonth(t time.Time) (int, time.Month) {
	t = t.In(c.loc)
	return t.Year(), t.Month()
}

// IsWeekday reports whether t falls on Monday through Friday.
func (c *Calendar) IsWeekday(t time.Time) bool {
	switch t.In(c.loc).Weekday() {
	case time.Saturday, time.Sunday:
		return false
	default:
		return true
	}
}
