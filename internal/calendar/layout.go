// Package calendar lays out a month as a grid of week rows and renders it
// as an HTML table for embedding in calendar pages.
package calendar

import (
	"errors"
	"fmt"
	"time"

	"cloudeng.io/datetime"
)

// ErrInvalidDate is returned when a year/month pair cannot be laid out.
var ErrInvalidDate = errors.New("invalid date")

// DateError reports the offending date. Day is zero when only the month
// was checked. It matches ErrInvalidDate with errors.Is.
type DateError struct {
	Year  int
	Month int
	Day   int
}

func (e *DateError) Error() string {
	if e.Day != 0 {
		return fmt.Sprintf("invalid date: year=%d month=%d day=%d", e.Year, e.Month, e.Day)
	}
	return fmt.Sprintf("invalid date: year=%d month=%d", e.Year, e.Month)
}

func (e *DateError) Unwrap() error { return ErrInvalidDate }

// Slot is a single cell of the month grid. Day is zero for padding slots
// that fall outside the month.
type Slot struct {
	Day     int
	Weekday time.Weekday
}

// Week is one row of the month grid, ordered from the configured first
// weekday.
type Week [7]Slot

// Days returns the non-padding day numbers in the row.
func (w Week) Days() []int {
	days := make([]int, 0, 7)
	for _, s := range w {
		if s.Day != 0 {
			days = append(days, s.Day)
		}
	}
	return days
}

// Contains reports whether day is a non-padding day of the row.
func (w Week) Contains(day int) bool {
	if day <= 0 {
		return false
	}
	for _, s := range w {
		if s.Day == day {
			return true
		}
	}
	return false
}

// ValidateMonth checks that year/month identify a real Gregorian month.
func ValidateMonth(year, month int) error {
	if month < 1 || month > 12 || year < 1 || year > 9999 {
		return &DateError{Year: year, Month: month}
	}
	return nil
}

// ValidateDate checks that year/month/day is a real Gregorian date.
func ValidateDate(year, month, day int) error {
	if err := ValidateMonth(year, month); err != nil {
		return err
	}
	if day < 1 || day > DaysInMonth(year, month) {
		return &DateError{Year: year, Month: month, Day: day}
	}
	return nil
}

// DaysInMonth returns the length of a valid month.
func DaysInMonth(year, month int) int {
	return datetime.DaysInMonth(year, datetime.Month(month))
}

// LayoutMonth partitions the month into week rows starting on start.
// Slots before the 1st and after the last day of the month are padding.
// The result always has 4, 5 or 6 rows.
func LayoutMonth(year, month int, start time.Weekday) ([]Week, error) {
	if err := ValidateMonth(year, month); err != nil {
		return nil, err
	}
	if start < time.Sunday || start > time.Saturday {
		start = time.Monday
	}

	first := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	lead := (int(first.Weekday()) - int(start) + 7) % 7
	ndays := DaysInMonth(year, month)

	nslots := lead + ndays
	if rem := nslots % 7; rem != 0 {
		nslots += 7 - rem
	}

	weeks := make([]Week, nslots/7)
	for i := 0; i < nslots; i++ {
		day := i - lead + 1
		if day < 1 || day > ndays {
			day = 0
		}
		weeks[i/7][i%7] = Slot{
			Day:     day,
			Weekday: time.Weekday((int(start) + i) % 7),
		}
	}
	return weeks, nil
}
