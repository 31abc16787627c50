// Package refresh keeps the occurrence store in sync with the configured
// iCalendar feeds on a cron schedule.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"monthcal/internal/config"
	"monthcal/internal/ics"
	appLog "monthcal/internal/log"
	"monthcal/internal/store"
)

// Fetcher is the subset of ics.Fetcher used here.
type Fetcher interface {
	FetchAll(ctx context.Context, sources []ics.Source) ([]ics.FetchResult, []error)
}

// Refresher fetches, parses and expands every calendar feed and replaces
// the store contents. Feeds cover one month back and two months ahead.
type Refresher struct {
	cfg     *config.Config
	fetcher Fetcher
	store   *store.Store
	now     func() time.Time

	mu   sync.Mutex // serializes RefreshAll
	cron *cron.Cron
}

func New(cfg *config.Config, fetcher Fetcher, st *store.Store) *Refresher {
	return &Refresher{
		cfg:     cfg,
		fetcher: fetcher,
		store:   st,
		now:     time.Now,
	}
}

// Window returns the expansion range for a refresh at now.
func Window(now time.Time, loc *time.Location) (time.Time, time.Time) {
	first := time.Date(now.In(loc).Year(), now.In(loc).Month(), 1, 0, 0, 0, 0, loc)
	return first.AddDate(0, -1, 0), first.AddDate(0, 3, 0)
}

// RefreshAll runs one refresh cycle. Calendars whose feed fails keep their
// previous occurrences; the joined errors are returned.
func (r *Refresher) RefreshAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sources := make([]ics.Source, 0, len(r.cfg.Calendars))
	for _, c := range r.cfg.Calendars {
		if c.ICSURL == "" {
			continue
		}
		sources = append(sources, ics.Source{Calendar: c.Name, URL: c.ICSURL})
	}
	if len(sources) == 0 {
		return nil
	}

	started := time.Now()
	loc := r.cfg.Location()
	from, to := Window(r.now(), loc)

	results, errs := r.fetcher.FetchAll(ctx, sources)
	for _, res := range results {
		events, err := ics.ParseICS(res.Source, res.Body)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		expanded, err := ics.ExpandOccurrences(events, ics.ExpandConfig{
			DisplayLocation: loc,
			RangeStart:      from,
			RangeEnd:        to,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("calendar %s: %w", res.Source.Calendar, err))
			continue
		}
		r.store.Replace(res.Source.Calendar, expanded.Occurrences)
		appLog.Info("calendar refreshed",
			"calendar", res.Source.Calendar,
			"occurrences", len(expanded.Occurrences),
			"from_cache", res.FromCache,
		)
	}

	err := errors.Join(errs...)
	if err != nil {
		appLog.Error("refresh finished with errors", err, "error_count", len(errs))
	}
	appLog.Debug("refresh done", "calendars", len(sources), "took", time.Since(started))
	return err
}

// Start runs an immediate refresh in the background and then schedules
// RefreshAll on cfg.RefreshCron until ctx is done or Stop is called.
func (r *Refresher) Start(ctx context.Context) error {
	c := cron.New()
	if _, err := c.AddFunc(r.cfg.RefreshCron, func() {
		_ = r.RefreshAll(ctx)
	}); err != nil {
		return fmt.Errorf("refresh schedule %q: %w", r.cfg.RefreshCron, err)
	}
	r.cron = c

	go func() { _ = r.RefreshAll(ctx) }()
	c.Start()
	appLog.Info("refresh scheduler started", "schedule", r.cfg.RefreshCron)

	go func() {
		<-ctx.Done()
		r.Stop()
	}()
	return nil
}

// Stop halts the scheduler and waits for a running refresh to finish.
func (r *Refresher) Stop() {
	if r.cron == nil {
		return
	}
	<-r.cron.Stop().Done()
}

// ValidateSchedule reports whether spec is a usable cron expression.
func ValidateSchedule(spec string) error {
	_, err := cron.ParseStandard(spec)
	return err
}
