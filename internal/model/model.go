package model

import "time"

// Occurrence is a single concrete instance of a calendar event after
// recurrence expansion, normalized into the display timezone.
type Occurrence struct {
	Calendar string // configured calendar name
	UID      string // iCalendar UID

	// InstanceKey distinguishes instances of a recurring event; it is the
	// local start time in RFC3339.
	InstanceKey string

	Summary     string
	Description string
	Location    string

	AllDay bool

	Start time.Time
	End   time.Time
}

// Overlaps reports whether the occurrence intersects [from, to). A
// zero-length occurrence overlaps when its start lies in the window.
func (o Occurrence) Overlaps(from, to time.Time) bool {
	if !o.End.After(o.Start) {
		return !o.Start.Before(from) && o.Start.Before(to)
	}
	return o.Start.Before(to) && o.End.After(from)
}
