// Package store keeps the most recently refreshed occurrences per calendar
// in memory.
package store

import (
	"sort"
	"sync"
	"time"

	"monthcal/internal/model"
)

type entry struct {
	occurrences []model.Occurrence
	updatedAt   time.Time
}

// Store is safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	entries map[string]entry
}

func New() *Store {
	return &Store{entries: make(map[string]entry)}
}

// Replace swaps the occurrences held for calendar.
func (s *Store) Replace(calendar string, occs []model.Occurrence) {
	sorted := make([]model.Occurrence, len(occs))
	copy(sorted, occs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Start.Before(sorted[j].Start)
	})

	s.mu.Lock()
	s.entries[calendar] = entry{occurrences: sorted, updatedAt: time.Now()}
	s.mu.Unlock()
}

// UpdatedAt returns when calendar was last replaced, or the zero time.
func (s *Store) UpdatedAt(calendar string) time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries[calendar].updatedAt
}

// Day returns the occurrences of calendar overlapping the given local day,
// ordered by start.
func (s *Store) Day(calendar string, year, month, day int, loc *time.Location) []model.Occurrence {
	from := time.Date(year, time.Month(month), day, 0, 0, 0, 0, loc)
	return s.Between(calendar, from, from.AddDate(0, 0, 1))
}

// MonthDays counts occurrences per day of month for calendar. Days without
// events are absent from the map.
func (s *Store) MonthDays(calendar string, year, month int, loc *time.Location) map[int]int {
	first := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, loc)
	next := first.AddDate(0, 1, 0)

	counts := make(map[int]int)
	for _, o := range s.Between(calendar, first, next) {
		for d := first; d.Before(next); d = d.AddDate(0, 0, 1) {
			if o.Overlaps(d, d.AddDate(0, 0, 1)) {
				counts[d.Day()]++
			}
		}
	}
	return counts
}

// Between returns the occurrences of calendar overlapping [from, to).
func (s *Store) Between(calendar string, from, to time.Time) []model.Occurrence {
	s.mu.RLock()
	occs := s.entries[calendar].occurrences
	s.mu.RUnlock()

	out := make([]model.Occurrence, 0)
	for _, o := range occs {
		if !o.Start.Before(to) {
			break
		}
		if o.Overlaps(from, to) {
			out = append(out, o)
		}
	}
	return out
}
