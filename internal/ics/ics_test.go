package ics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const feed = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//monthcal//test//EN
BEGIN:VEVENT
UID:standup@example.com
DTSTAMP:20240101T000000Z
DTSTART:20240205T090000Z
DTEND:20240205T091500Z
RRULE:FREQ=DAILY;COUNT=10
EXDATE:20240207T090000Z
SUMMARY:Standup
END:VEVENT
BEGIN:VEVENT
UID:standup@example.com
DTSTAMP:20240101T000000Z
RECURRENCE-ID:20240208T090000Z
DTSTART:20240208T100000Z
DTEND:20240208T103000Z
SUMMARY:Standup (moved)
END:VEVENT
BEGIN:VEVENT
UID:release@example.com
DTSTAMP:20240101T000000Z
DTSTART:20240214T150000Z
DTEND:20240214T160000Z
SUMMARY:Release
LOCATION:Room 1
END:VEVENT
BEGIN:VEVENT
UID:holiday@example.com
DTSTAMP:20240101T000000Z
DTSTART;VALUE=DATE:20240219
DTEND;VALUE=DATE:20240220
SUMMARY:Holiday
END:VEVENT
BEGIN:VEVENT
DTSTAMP:20240101T000000Z
DTSTART:20240214T150000Z
SUMMARY:No uid
END:VEVENT
END:VCALENDAR
`

func feedBody() []byte {
	return []byte(strings.ReplaceAll(feed, "\n", "\r\n"))
}

func utc(y int, m time.Month, d, hh, mm int) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, time.UTC)
}

func TestParseICS(t *testing.T) {
	src := Source{Calendar: "team", URL: "https://example.com/team.ics"}

	events, err := ParseICS(src, feedBody())
	require.NoError(t, err)
	require.Len(t, events, 4)

	standup := events[0]
	assert.Equal(t, "standup@example.com", standup.UID)
	assert.Equal(t, "team", standup.Source.Calendar)
	assert.Equal(t, "FREQ=DAILY;COUNT=10", standup.RawRRule)
	assert.True(t, standup.Start.Equal(utc(2024, 2, 5, 9, 0)))
	assert.True(t, standup.End.Equal(utc(2024, 2, 5, 9, 15)))
	require.Len(t, standup.ExDates, 1)
	assert.True(t, standup.ExDates[0].Equal(utc(2024, 2, 7, 9, 0)))
	assert.Nil(t, standup.RecurrenceID)

	moved := events[1]
	require.NotNil(t, moved.RecurrenceID)
	assert.True(t, moved.RecurrenceID.Equal(utc(2024, 2, 8, 9, 0)))

	assert.Equal(t, "Room 1", events[2].Location)

	holiday := events[3]
	assert.True(t, holiday.AllDay)
	assert.Equal(t, 19, holiday.Start.Day())

	_, err = ParseICS(src, nil)
	assert.Error(t, err)
}

func TestExpandOccurrences(t *testing.T) {
	events, err := ParseICS(Source{Calendar: "team"}, feedBody())
	require.NoError(t, err)

	res, err := ExpandOccurrences(events, ExpandConfig{
		DisplayLocation: time.UTC,
		RangeStart:      utc(2024, 2, 1, 0, 0),
		RangeEnd:        utc(2024, 3, 1, 0, 0),
	})
	require.NoError(t, err)
	assert.Empty(t, res.TruncatedUIDs)

	var standups []time.Time
	var moved, release, holiday int
	for i, o := range res.Occurrences {
		if i > 0 {
			assert.False(t, o.Start.Before(res.Occurrences[i-1].Start), "occurrences must be sorted")
		}
		assert.Equal(t, "team", o.Calendar)
		switch o.Summary {
		case "Standup":
			standups = append(standups, o.Start)
		case "Standup (moved)":
			moved++
			assert.True(t, o.Start.Equal(utc(2024, 2, 8, 10, 0)))
		case "Release":
			release++
		case "Holiday":
			holiday++
			assert.True(t, o.AllDay)
			assert.Equal(t, utc(2024, 2, 19, 0, 0), o.Start)
			assert.Equal(t, utc(2024, 2, 20, 0, 0), o.End)
		}
	}

	// 10 daily instances, minus the EXDATE, minus the overridden one.
	assert.Len(t, standups, 8)
	for _, s := range standups {
		assert.NotEqual(t, 7, s.Day())
		assert.NotEqual(t, 8, s.Day())
	}
	assert.Equal(t, 1, moved)
	assert.Equal(t, 1, release)
	assert.Equal(t, 1, holiday)
}

func TestExpandWindowAndCap(t *testing.T) {
	events, err := ParseICS(Source{Calendar: "team"}, feedBody())
	require.NoError(t, err)

	res, err := ExpandOccurrences(events, ExpandConfig{
		DisplayLocation:        time.UTC,
		RangeStart:             utc(2024, 2, 10, 0, 0),
		RangeEnd:               utc(2024, 2, 12, 23, 59),
		MaxOccurrencesPerEvent: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"standup@example.com"}, res.TruncatedUIDs)
	assert.Len(t, res.Occurrences, 2)

	_, err = ExpandOccurrences(events, ExpandConfig{
		RangeStart: utc(2024, 3, 1, 0, 0),
		RangeEnd:   utc(2024, 2, 1, 0, 0),
	})
	assert.Error(t, err)
}

func TestFetcherCaching(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	var conditional atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"v1"` {
			conditional.Add(1)
		}
		switch code := int(status.Load()); code {
		case http.StatusOK:
			if r.Header.Get("If-None-Match") == `"v1"` {
				w.WriteHeader(http.StatusNotModified)
				return
			}
			w.Header().Set("ETag", `"v1"`)
			_, _ = w.Write(feedBody())
		default:
			w.WriteHeader(code)
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	src := Source{Calendar: "team", URL: srv.URL + "/team.ics?token=secret"}
	f := NewFetcher(t.TempDir(), srv.Client())

	res, err := f.FetchOne(ctx, src)
	require.NoError(t, err)
	assert.False(t, res.FromCache)
	assert.Equal(t, feedBody(), res.Body)

	res, err = f.FetchOne(ctx, src)
	require.NoError(t, err)
	assert.True(t, res.FromCache)
	assert.Equal(t, int32(1), conditional.Load())
	assert.Equal(t, feedBody(), res.Body)

	status.Store(http.StatusInternalServerError)
	res, err = f.FetchOne(ctx, src)
	require.NoError(t, err)
	assert.True(t, res.FromCache)

	results, errs := NewFetcher(t.TempDir(), srv.Client()).FetchAll(ctx, []Source{src, {Calendar: "empty"}})
	assert.Empty(t, results)
	assert.Len(t, errs, 2)
}

func TestRedactURL(t *testing.T) {
	assert.Equal(t, "https://example.com/...(redacted)", redactURL("https://example.com/private/a.ics?token=x"))
	assert.Equal(t, "ics://...(redacted)", redactURL("not a url"))
}
