package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"monthcal/internal/calendar"
	"monthcal/internal/config"
	"monthcal/internal/model"
	"monthcal/internal/store"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Calendars = []config.CalendarConfig{
		{Name: "team", Title: "Team"},
		{Name: "infra", Title: "Infrastructure"},
	}
	cfg.RateLimit = config.RateLimitConfig{}
	return cfg
}

func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	st := store.New()
	st.Replace("team", []model.Occurrence{
		{
			Calendar: "team",
			UID:      "release",
			Summary:  "Release",
			Location: "Room 1",
			Start:    time.Date(2024, time.February, 14, 15, 0, 0, 0, time.UTC),
			End:      time.Date(2024, time.February, 14, 16, 0, 0, 0, time.UTC),
		},
		{
			Calendar: "team",
			UID:      "holiday",
			Summary:  "Holiday",
			AllDay:   true,
			Start:    time.Date(2024, time.February, 19, 0, 0, 0, 0, time.UTC),
			End:      time.Date(2024, time.February, 20, 0, 0, 0, 0, time.UTC),
		},
	})

	clock := calendar.FixedClock(time.Date(2024, time.February, 14, 10, 0, 0, 0, time.UTC))
	s, err := NewServer(cfg, st, WithClock(clock))
	require.NoError(t, err)
	return s
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

var currentWeekRe = regexp.MustCompile(`<tr class="current_week">.*</tr>`)

func TestBuildURL(t *testing.T) {
	s := newTestServer(t, testConfig())

	u, err := s.BuildURL(calendar.RouteFullDay, map[string]string{
		"calendar_name": "team", "year": "2024", "month": "2", "day": "14",
	})
	require.NoError(t, err)
	assert.Equal(t, "/team/2024/2/14/", u)

	u, err = s.BuildURL(RouteIndex, nil)
	require.NoError(t, err)
	assert.Equal(t, "/", u)

	_, err = s.BuildURL("calendar_week", nil)
	assert.ErrorIs(t, err, ErrUnknownRoute)
}

func TestMonthPage(t *testing.T) {
	h := newTestServer(t, testConfig()).Handler()

	rec := get(t, h, "/team/2024/2/")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()

	assert.Equal(t, 1, strings.Count(body, `<table class="month">`))
	assert.Contains(t, body, `<a class="button" href="#"><</a> February 2024 <a class="button" href="#">></a>`)
	assert.Contains(t, body, `<td class="wed today"><a href="/team/2024/2/14/">14</a></td>`)
	table := body[strings.Index(body, `<table class="month">`):strings.Index(body, "</table>")]
	assert.Equal(t, 29, strings.Count(table, `<a href="/team/2024/2/`))
	assert.Contains(t, currentWeekRe.FindString(body), `>14</a>`)

	assert.Contains(t, body, `href="/team/2024/1/"`)
	assert.Contains(t, body, `href="/team/2024/3/"`)
	assert.Contains(t, body, `<li><a href="/team/2024/2/14/">14</a>: 1 event</li>`)
	assert.Contains(t, body, `<li><a href="/team/2024/2/19/">19</a>: 1 event</li>`)

	rec = get(t, h, "/team/2024/2/?day=1")
	require.Equal(t, http.StatusOK, rec.Code)
	week := currentWeekRe.FindString(rec.Body.String())
	assert.Contains(t, week, `>1</a>`)
	assert.NotContains(t, week, `>14</a>`)

	rec = get(t, h, "/team/2023/7/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), " today")
	assert.Contains(t, currentWeekRe.FindString(rec.Body.String()), `>1</a>`)
}

func TestMonthPageErrors(t *testing.T) {
	h := newTestServer(t, testConfig()).Handler()

	tests := []struct {
		target string
		code   int
	}{
		{"/team/2024/13/", http.StatusBadRequest},
		{"/team/2024/0/", http.StatusBadRequest},
		{"/team/0/5/", http.StatusBadRequest},
		{"/team/99999999999999999999/5/", http.StatusBadRequest},
		{"/nope/2024/2/", http.StatusNotFound},
		{"/nope/", http.StatusNotFound},
		{"/team/2024/2/30/", http.StatusBadRequest},
		{"/nope/2024/2/1/", http.StatusNotFound},
		{"/team/x/2/", http.StatusNotFound},
	}
	for _, tt := range tests {
		rec := get(t, h, tt.target)
		assert.Equal(t, tt.code, rec.Code, tt.target)
	}
}

func TestCalendarRedirect(t *testing.T) {
	h := newTestServer(t, testConfig()).Handler()

	rec := get(t, h, "/team/")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/team/2024/2/", rec.Header().Get("Location"))
}

func TestDayPage(t *testing.T) {
	h := newTestServer(t, testConfig()).Handler()

	rec := get(t, h, "/team/2024/2/14/")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "Team: 14 February 2024")
	assert.Contains(t, body, "15:00 - 16:00")
	assert.Contains(t, body, "Release")
	assert.Contains(t, body, "(Room 1)")
	assert.Contains(t, body, `href="/team/2024/2/"`)
	assert.Contains(t, currentWeekRe.FindString(body), `>14</a>`)

	rec = get(t, h, "/team/2024/2/19/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "all day")

	rec = get(t, h, "/infra/2024/2/14/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "No events on this day.")
}

func TestDayLinksResolve(t *testing.T) {
	s := newTestServer(t, testConfig())
	h := s.Handler()

	table, err := s.Renderer().RenderMonth(calendar.Request{Year: 2023, Month: 1, Day: 1, CalendarName: "infra"}, true)
	require.NoError(t, err)

	links := regexp.MustCompile(`<a href="([^"]+)">`).FindAllStringSubmatch(table, -1)
	require.Len(t, links, 31)
	for _, l := range links {
		rec := get(t, h, l[1])
		assert.Equal(t, http.StatusOK, rec.Code, l[1])
	}
}

func TestAPIMonth(t *testing.T) {
	h := newTestServer(t, testConfig()).Handler()

	rec := get(t, h, "/api/team/2024/2")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))

	var resp monthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "team", resp.Calendar)
	assert.Equal(t, 14, resp.Day)
	assert.True(t, strings.HasPrefix(resp.HTML, `<table class="month">`))
	assert.Equal(t, 5, strings.Count(resp.HTML, "<tr")-1)

	rec = get(t, h, "/api/team/2024/13")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid date")

	rec = get(t, h, "/api/nope/2024/2")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPIEvents(t *testing.T) {
	h := newTestServer(t, testConfig()).Handler()

	rec := get(t, h, "/api/team/events")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp eventsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "UTC", resp.DisplayTimeZone)
	assert.Equal(t, time.Date(2024, time.February, 13, 0, 0, 0, 0, time.UTC), resp.RangeStart.UTC())
	assert.Equal(t, time.Date(2024, time.February, 21, 0, 0, 0, 0, time.UTC), resp.RangeEnd.UTC())
	require.Len(t, resp.Occurrences, 2)
	assert.Equal(t, "release", resp.Occurrences[0].UID)
	assert.True(t, resp.Occurrences[1].AllDay)

	rec = get(t, h, "/api/team/events?days=2&backfill=0")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Occurrences, 1)
	assert.Equal(t, "Release", resp.Occurrences[0].Summary)

	rec = get(t, h, "/api/infra/events")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"occurrences":[]`)

	assert.Equal(t, http.StatusNotFound, get(t, h, "/api/nope/events").Code)
}

func TestIndexAndHealth(t *testing.T) {
	h := newTestServer(t, testConfig()).Handler()

	rec := get(t, h, "/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `<a href="/team/">Team</a>`)
	assert.Contains(t, rec.Body.String(), `<a href="/infra/">Infrastructure</a>`)

	rec = get(t, h, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestBasicAuth(t *testing.T) {
	cfg := testConfig()
	cfg.BasicAuth = &config.BasicAuthConfig{Username: "admin", Password: "secret"}
	h := newTestServer(t, cfg).Handler()

	assert.Equal(t, http.StatusOK, get(t, h, "/health").Code)
	assert.Equal(t, http.StatusUnauthorized, get(t, h, "/team/2024/2/").Code)

	req := httptest.NewRequest(http.MethodGet, "/team/2024/2/", nil)
	req.SetBasicAuth("admin", "secret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/team/2024/2/", nil)
	req.SetBasicAuth("admin", "wrong")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit = config.RateLimitConfig{RPS: 0.001, Burst: 2}
	h := newTestServer(t, cfg).Handler()

	assert.Equal(t, http.StatusOK, get(t, h, "/").Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/").Code)
	assert.Equal(t, http.StatusTooManyRequests, get(t, h, "/").Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/health").Code)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetrics(t *testing.T) {
	h := newTestServer(t, testConfig()).Handler()

	require.Equal(t, http.StatusOK, get(t, h, "/team/2024/2/").Code)
	require.Equal(t, http.StatusBadRequest, get(t, h, "/team/2024/13/").Code)

	rec := get(t, h, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `monthcal_month_renders_total{result="ok"} 1`)
	assert.Contains(t, body, `monthcal_month_renders_total{result="error"} 1`)
	assert.Contains(t, body, `route="/{calendar_name}/{year:[0-9]+}/{month:[0-9]+}/"`)

	cfg := testConfig()
	cfg.Metrics = false
	h = newTestServer(t, cfg).Handler()
	assert.NotEqual(t, http.StatusOK, get(t, h, "/metrics").Code)
}

func TestTimeRange(t *testing.T) {
	at := func(d, h, m int) time.Time { return time.Date(2024, time.February, d, h, m, 0, 0, time.UTC) }

	assert.Equal(t, "all day", timeRange(model.Occurrence{AllDay: true}))
	assert.Equal(t, "09:30", timeRange(model.Occurrence{Start: at(1, 9, 30), End: at(1, 9, 30)}))
	assert.Equal(t, "09:30 - 10:00", timeRange(model.Occurrence{Start: at(1, 9, 30), End: at(1, 10, 0)}))
	assert.Equal(t, "Feb 1 22:00 - Feb 2 02:00", timeRange(model.Occurrence{Start: at(1, 22, 0), End: at(2, 2, 0)}))
}
