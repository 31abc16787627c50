package calendar

import (
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"
)

// RouteFullDay is the route name day cells link to.
const RouteFullDay = "calendar_fullday"

// Request describes one month to render. Day is the reference day whose
// row is marked as the current week. An empty CalendarName disables the
// per-day links.
type Request struct {
	Year         int
	Month        int
	Day          int
	CalendarName string
}

// URLBuilder resolves a named route and its parameters into a URL.
type URLBuilder interface {
	BuildURL(route string, params map[string]string) (string, error)
}

// URLBuilderFunc adapts a plain function to URLBuilder.
type URLBuilderFunc func(route string, params map[string]string) (string, error)

func (f URLBuilderFunc) BuildURL(route string, params map[string]string) (string, error) {
	return f(route, params)
}

// Clock supplies the current time used for the "today" highlight.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock, optionally in a fixed location.
type SystemClock struct {
	Location *time.Location
}

func (c SystemClock) Now() time.Time {
	if c.Location != nil {
		return time.Now().In(c.Location)
	}
	return time.Now()
}

// FixedClock always returns the same instant.
type FixedClock time.Time

func (c FixedClock) Now() time.Time { return time.Time(c) }

// weekdayClasses are indexed by time.Weekday.
var weekdayClasses = [7]string{"sun", "mon", "tue", "wed", "thu", "fri", "sat"}

// Renderer formats months as HTML tables. It holds no per-call state and
// is safe for concurrent use.
type Renderer struct {
	urls      URLBuilder
	clock     Clock
	weekStart time.Weekday
}

// Option configures a Renderer.
type Option func(*Renderer)

func WithURLBuilder(b URLBuilder) Option {
	return func(r *Renderer) { r.urls = b }
}

func WithClock(c Clock) Option {
	return func(r *Renderer) { r.clock = c }
}

func WithWeekStart(d time.Weekday) Option {
	return func(r *Renderer) { r.weekStart = d }
}

// NewRenderer returns a Renderer using the system clock and Monday as the
// first column unless overridden.
func NewRenderer(opts ...Option) *Renderer {
	r := &Renderer{
		clock:     SystemClock{},
		weekStart: time.Monday,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// monthView carries the values fixed for the duration of one render call.
type monthView struct {
	req   Request
	today time.Time
	urls  URLBuilder
}

// RenderMonth returns req's month as a <table class="month"> fragment.
// Links are only emitted when req.CalendarName is set, in which case a
// URLBuilder must have been configured.
func (r *Renderer) RenderMonth(req Request, withYear bool) (string, error) {
	weeks, err := LayoutMonth(req.Year, req.Month, r.weekStart)
	if err != nil {
		return "", err
	}
	if req.CalendarName != "" && r.urls == nil {
		return "", fmt.Errorf("calendar %q: no url builder configured", req.CalendarName)
	}

	v := monthView{req: req, today: r.clock.Now(), urls: r.urls}

	var b strings.Builder
	b.WriteString(`<table class="month">`)
	b.WriteByte('\n')
	b.WriteString(v.formatMonthHeader(withYear))
	b.WriteByte('\n')
	for _, w := range weeks {
		row, err := v.formatWeekRow(w, w.Contains(req.Day))
		if err != nil {
			return "", err
		}
		b.WriteString(row)
		b.WriteByte('\n')
	}
	b.WriteString("</table>")
	b.WriteByte('\n')
	return b.String(), nil
}

func (v monthView) formatMonthHeader(withYear bool) string {
	name := time.Month(v.req.Month).String()
	if withYear {
		name = name + " " + strconv.Itoa(v.req.Year)
	}
	const (
		prev = `<a class="button" href="#"><</a>`
		next = `<a class="button" href="#">></a>`
	)
	return `<tr><th colspan="7" class="month">` + prev + " " + name + " " + next + `</th></tr>`
}

func (v monthView) formatWeekRow(w Week, current bool) (string, error) {
	var b strings.Builder
	if current {
		b.WriteString(`<tr class="current_week">`)
	} else {
		b.WriteString("<tr>")
	}
	for _, s := range w {
		cell, err := v.formatDayCell(s.Day, s.Weekday)
		if err != nil {
			return "", err
		}
		b.WriteString(cell)
	}
	b.WriteString("</tr>")
	return b.String(), nil
}

func (v monthView) formatDayCell(day int, wd time.Weekday) (string, error) {
	if day == 0 {
		return `<td class="noday">&nbsp;</td>`, nil
	}

	label := strconv.Itoa(day)
	if v.req.CalendarName != "" {
		href, err := v.urls.BuildURL(RouteFullDay, map[string]string{
			"calendar_name": v.req.CalendarName,
			"year":          strconv.Itoa(v.req.Year),
			"month":         strconv.Itoa(v.req.Month),
			"day":           label,
		})
		if err != nil {
			return "", fmt.Errorf("build %s url for day %d: %w", RouteFullDay, day, err)
		}
		label = `<a href="` + html.EscapeString(href) + `">` + label + `</a>`
	}

	class := weekdayClasses[wd]
	if v.isToday(day) {
		class += " today"
	}
	return `<td class="` + class + `">` + label + `</td>`, nil
}

func (v monthView) isToday(day int) bool {
	y, m, d := v.today.Date()
	return day == d && v.req.Month == int(m) && v.req.Year == y
}
