package web

import (
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"monthcal/internal/calendar"
	"monthcal/internal/config"
	appLog "monthcal/internal/log"
	"monthcal/internal/model"
)

type busyDay struct {
	Day   int
	Count int
	URL   string
}

type pageData struct {
	Calendars []config.CalendarConfig
	Calendar  config.CalendarConfig

	Year      int
	Month     int
	Day       int
	MonthName string

	Table    template.HTML
	BusyDays []busyDay
	Events   []model.Occurrence

	PrevURL   string
	NextURL   string
	MonthURL  string
	UpdatedAt time.Time
}

type monthResponse struct {
	Calendar string `json:"calendar"`
	Year     int    `json:"year"`
	Month    int    `json:"month"`
	Day      int    `json:"day"`
	HTML     string `json:"html"`
}

type occurrenceDTO struct {
	UID         string    `json:"uid"`
	InstanceKey string    `json:"instance_key"`
	Summary     string    `json:"summary"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	AllDay      bool      `json:"all_day"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
}

type eventsResponse struct {
	Calendar        string          `json:"calendar"`
	Occurrences     []occurrenceDTO `json:"occurrences"`
	RangeStart      time.Time       `json:"range_start"`
	RangeEnd        time.Time       `json:"range_end"`
	DisplayTimeZone string          `json:"display_timezone"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	s.renderPage(w, "index", pageData{Calendars: s.cfg.Calendars})
}

// handleCalendar redirects to the month page for today.
func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	cal, ok := s.lookupCalendar(w, r)
	if !ok {
		return
	}
	now := s.clock.Now()
	target, err := s.BuildURL(RouteMonth, map[string]string{
		"calendar_name": cal.Name,
		"year":          strconv.Itoa(now.Year()),
		"month":         strconv.Itoa(int(now.Month())),
	})
	if err != nil {
		s.serverError(w, err)
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// handleMonth renders the month page. ?day= picks the reference day; it
// defaults to today in the current month and to the 1st otherwise.
func (s *Server) handleMonth(w http.ResponseWriter, r *http.Request) {
	cal, ok := s.lookupCalendar(w, r)
	if !ok {
		return
	}
	year, month, ok := s.monthVars(w, r)
	if !ok {
		return
	}
	day := s.referenceDay(r, year, month)

	table, err := s.renderMonth(cal.Name, year, month, day)
	if err != nil {
		s.renderError(w, err)
		return
	}

	data := pageData{
		Calendar:  cal,
		Year:      year,
		Month:     month,
		Day:       day,
		MonthName: time.Month(month).String(),
		Table:     template.HTML(table),
	}

	prev := time.Date(year, time.Month(month)-1, 1, 0, 0, 0, 0, time.UTC)
	next := time.Date(year, time.Month(month)+1, 1, 0, 0, 0, 0, time.UTC)
	if data.PrevURL, err = s.monthURL(cal.Name, prev); err != nil {
		s.serverError(w, err)
		return
	}
	if data.NextURL, err = s.monthURL(cal.Name, next); err != nil {
		s.serverError(w, err)
		return
	}

	counts := s.store.MonthDays(cal.Name, year, month, s.cfg.Location())
	for d := 1; d <= calendar.DaysInMonth(year, month); d++ {
		n, ok := counts[d]
		if !ok {
			continue
		}
		u, err := s.dayURL(cal.Name, year, month, d)
		if err != nil {
			s.serverError(w, err)
			return
		}
		data.BusyDays = append(data.BusyDays, busyDay{Day: d, Count: n, URL: u})
	}

	s.renderPage(w, "month", data)
}

// handleDay is the calendar_fullday page: the day's events plus the month
// table with the day's week marked.
func (s *Server) handleDay(w http.ResponseWriter, r *http.Request) {
	cal, ok := s.lookupCalendar(w, r)
	if !ok {
		return
	}
	year, month, ok := s.monthVars(w, r)
	if !ok {
		return
	}
	day, err := strconv.Atoi(mux.Vars(r)["day"])
	if err == nil {
		err = calendar.ValidateDate(year, month, day)
	}
	if err != nil {
		http.Error(w, "invalid date", http.StatusBadRequest)
		return
	}

	table, err := s.renderMonth(cal.Name, year, month, day)
	if err != nil {
		s.renderError(w, err)
		return
	}
	monthURL, err := s.monthURL(cal.Name, time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		s.serverError(w, err)
		return
	}

	s.renderPage(w, "day", pageData{
		Calendar:  cal,
		Year:      year,
		Month:     month,
		Day:       day,
		MonthName: time.Month(month).String(),
		Table:     template.HTML(table),
		Events:    s.store.Day(cal.Name, year, month, day, s.cfg.Location()),
		MonthURL:  monthURL,
		UpdatedAt: s.store.UpdatedAt(cal.Name),
	})
}

// handleAPIMonth returns the month table as JSON for pages that embed it.
func (s *Server) handleAPIMonth(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["calendar_name"]
	if _, ok := s.cfg.Calendar(name); !ok {
		writeError(w, http.StatusNotFound, "unknown calendar")
		return
	}
	year, err1 := strconv.Atoi(mux.Vars(r)["year"])
	month, err2 := strconv.Atoi(mux.Vars(r)["month"])
	if err1 != nil || err2 != nil {
		writeError(w, http.StatusBadRequest, "invalid date")
		return
	}
	day := s.referenceDay(r, year, month)

	table, err := s.renderMonth(name, year, month, day)
	switch {
	case errors.Is(err, calendar.ErrInvalidDate):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		appLog.Error("api month render failed", err, "calendar", name)
		writeError(w, http.StatusInternalServerError, "failed to render month")
		return
	}

	writeJSON(w, http.StatusOK, monthResponse{
		Calendar: name,
		Year:     year,
		Month:    month,
		Day:      day,
		HTML:     table,
	})
}

// GET /api/{calendar_name}/events?days=7&backfill=1
//   - days:     how many days ahead of today to include (default 7)
//   - backfill: how many days before today to include (default 1)
func (s *Server) handleAPIEvents(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["calendar_name"]
	if _, ok := s.cfg.Calendar(name); !ok {
		writeError(w, http.StatusNotFound, "unknown calendar")
		return
	}

	q := r.URL.Query()
	days := parseIntDefault(q.Get("days"), 7)
	if days <= 0 {
		days = 7
	}
	backfill := parseIntDefault(q.Get("backfill"), 1)
	if backfill < 0 {
		backfill = 0
	}

	loc := s.cfg.Location()
	now := s.clock.Now().In(loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	rangeStart := today.AddDate(0, 0, -backfill)
	rangeEnd := today.AddDate(0, 0, days)

	occs := s.store.Between(name, rangeStart, rangeEnd)
	dtos := make([]occurrenceDTO, 0, len(occs))
	for _, o := range occs {
		dtos = append(dtos, occurrenceDTO{
			UID:         o.UID,
			InstanceKey: o.InstanceKey,
			Summary:     o.Summary,
			Description: o.Description,
			Location:    o.Location,
			AllDay:      o.AllDay,
			Start:       o.Start,
			End:         o.End,
		})
	}

	writeJSON(w, http.StatusOK, eventsResponse{
		Calendar:        name,
		Occurrences:     dtos,
		RangeStart:      rangeStart,
		RangeEnd:        rangeEnd,
		DisplayTimeZone: loc.String(),
		UpdatedAt:       s.store.UpdatedAt(name),
	})
}

func (s *Server) renderMonth(name string, year, month, day int) (string, error) {
	out, err := s.renderer.RenderMonth(calendar.Request{
		Year:         year,
		Month:        month,
		Day:          day,
		CalendarName: name,
	}, s.cfg.WithYear())
	s.metrics.observeRender(err)
	return out, err
}

func (s *Server) lookupCalendar(w http.ResponseWriter, r *http.Request) (config.CalendarConfig, bool) {
	cal, ok := s.cfg.Calendar(mux.Vars(r)["calendar_name"])
	if !ok {
		http.Error(w, "unknown calendar", http.StatusNotFound)
	}
	return cal, ok
}

func (s *Server) monthVars(w http.ResponseWriter, r *http.Request) (int, int, bool) {
	vars := mux.Vars(r)
	year, err := strconv.Atoi(vars["year"])
	if err != nil {
		http.Error(w, "invalid year", http.StatusBadRequest)
		return 0, 0, false
	}
	month, err := strconv.Atoi(vars["month"])
	if err != nil {
		http.Error(w, "invalid month", http.StatusBadRequest)
		return 0, 0, false
	}
	return year, month, true
}

func (s *Server) referenceDay(r *http.Request, year, month int) int {
	if v := r.URL.Query().Get("day"); v != "" {
		if d, err := strconv.Atoi(v); err == nil {
			return d
		}
	}
	now := s.clock.Now()
	if now.Year() == year && int(now.Month()) == month {
		return now.Day()
	}
	return 1
}

func (s *Server) monthURL(name string, t time.Time) (string, error) {
	return s.BuildURL(RouteMonth, map[string]string{
		"calendar_name": name,
		"year":          strconv.Itoa(t.Year()),
		"month":         strconv.Itoa(int(t.Month())),
	})
}

func (s *Server) dayURL(name string, year, month, day int) (string, error) {
	return s.BuildURL(calendar.RouteFullDay, map[string]string{
		"calendar_name": name,
		"year":          strconv.Itoa(year),
		"month":         strconv.Itoa(month),
		"day":           strconv.Itoa(day),
	})
}

func (s *Server) renderError(w http.ResponseWriter, err error) {
	if errors.Is(err, calendar.ErrInvalidDate) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.serverError(w, err)
}

func (s *Server) serverError(w http.ResponseWriter, err error) {
	appLog.Error("request failed", err)
	http.Error(w, "Internal Server Error", http.StatusInternalServerError)
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
