// Package calendar answers "is the market open at T?" and computes the
// ordered session table (open, close) for a configured market over a date
// range. Three markets are supported: NYSE (regular US equity session),
// CME_FX (the nearly-continuous FX week), and 24/7 (crypto, one session per
// calendar day).
//
// A Calendar is immutable after construction: Sessions are built once for
// the requested range and queried by binary search, giving O(log N) lookup
// on the number of sessions in range as required.
package calendar

import (
	"fmt"
	"sort"
	"time"
)

// Market names one of the supported trading calendars.
type Market string

const (
	NYSE   Market = "NYSE"
	CMEFX  Market = "CME_FX"
	Crypto Market = "24/7"
)

// Session is one continuous trading interval, open inclusive, close
// exclusive, both in UTC.
type Session struct {
	Open  time.Time
	Close time.Time
}

// Calendar holds the precomputed, ascending-by-Open session table for one
// market over [start, end].
type Calendar struct {
	market   Market
	loc      *time.Location
	sessions []Session
}

// New builds the session table for market over [start, end]. An unknown
// market is a configuration error, fatal at construction.
func New(market Market, start, end time.Time) (*Calendar, error) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		loc = time.FixedZone("EST", -5*60*60)
	}

	var sessions []Session
	switch market {
	case NYSE:
		sessions = nyseSessions(start, end, loc)
	case CMEFX:
		sessions = cmeFXSessions(start, end, loc)
	case Crypto:
		sessions = cryptoSessions(start, end)
	default:
		return nil, fmt.Errorf("calendar: unknown market %q", market)
	}

	sort.Slice(sessions, func(i, j int) bool { return sessions[i].Open.Before(sessions[j].Open) })

	return &Calendar{market: market, loc: loc, sessions: sessions}, nil
}

// Market returns the configured market.
func (c *Calendar) Market() Market { return c.market }

// Sessions returns the full ordered session table.
func (c *Calendar) Sessions() []Session { return c.sessions }

// IsOpen reports whether t falls within some session: open <= t < close.
func (c *Calendar) IsOpen(t time.Time) bool {
	i := sort.Search(len(c.sessions), func(i int) bool { return c.sessions[i].Close.After(t) })
	if i == len(c.sessions) {
		return false
	}
	s := c.sessions[i]
	return !t.Before(s.Open) && t.Before(s.Close)
}

// NextOpen returns the open time of the next session at or after t. When no
// session opens at or after t but t is inside the last known session, it
// returns that session's open, which is before t. ok is false if t is past
// the last known session — callers log "Cannot predict future" and fall
// back to zero.
func (c *Calendar) NextOpen(t time.Time) (open time.Time, ok bool) {
	i := sort.Search(len(c.sessions), func(i int) bool { return !c.sessions[i].Open.Before(t) })
	if i < len(c.sessions) {
		return c.sessions[i].Open, true
	}
	// t may already be inside the last session.
	if n := len(c.sessions); n > 0 && !t.Before(c.sessions[n-1].Open) && t.Before(c.sessions[n-1].Close) {
		return c.sessions[n-1].Open, true
	}
	return time.Time{}, false
}

// NextClose returns the close time of the session covering t, or of the
// next session if t is currently outside any session. ok is false past the
// last known session.
func (c *Calendar) NextClose(t time.Time) (close time.Time, ok bool) {
	i := sort.Search(len(c.sessions), func(i int) bool { return c.sessions[i].Close.After(t) })
	if i == len(c.sessions) {
		return time.Time{}, false
	}
	return c.sessions[i].Close, true
}

// CurrentOrNextSession returns the session that contains t, or the next
// upcoming one if t is outside all sessions. ok is false past the last
// known session.
func (c *Calendar) CurrentOrNextSession(t time.Time) (s Session, ok bool) {
	i := sort.Search(len(c.sessions), func(i int) bool { return c.sessions[i].Close.After(t) })
	if i == len(c.sessions) {
		return Session{}, false
	}
	return c.sessions[i], true
}

func cryptoSessions(start, end time.Time) []Session {
	var out []Session
	day := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	endDay := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC)
	for !day.After(endDay) {
		out = append(out, Session{Open: day, Close: day.Add(24 * time.Hour)})
		day = day.Add(24 * time.Hour)
	}
	return out
}

// cmeFXSessions builds the FX week: Sunday 17:00 ET through Friday 17:00
// ET, represented as daily 24h intervals within that window.
func cmeFXSessions(start, end time.Time, loc *time.Location) []Session {
	var out []Session
	day := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, loc)
	endDay := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, loc)
	for !day.After(endDay) {
		switch day.Weekday() {
		case time.Saturday:
			// market closed all of Saturday
		case time.Sunday:
			open := time.Date(day.Year(), day.Month(), day.Day(), 17, 0, 0, 0, loc)
			out = append(out, Session{Open: open.UTC(), Close: open.Add(24 * time.Hour).UTC()})
		case time.Friday:
			open := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, loc)
			close := time.Date(day.Year(), day.Month(), day.Day(), 17, 0, 0, 0, loc)
			out = append(out, Session{Open: open.UTC(), Close: close.UTC()})
		default:
			out = append(out, Session{Open: day.UTC(), Close: day.Add(24 * time.Hour).UTC()})
		}
		day = day.Add(24 * time.Hour)
	}
	return out
}

// nyseSessions builds the regular 09:30-16:00 ET session for each weekday
// in range that is not a recognized NYSE holiday.
func nyseSessions(start, end time.Time, loc *time.Location) []Session {
	var out []Session
	day := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, loc)
	endDay := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, loc)
	holidays := nyseHolidays(start.Year()-1, end.Year()+1)
	for !day.After(endDay) {
		if day.Weekday() != time.Saturday && day.Weekday() != time.Sunday && !holidays[dateKey(day)] {
			open := time.Date(day.Year(), day.Month(), day.Day(), 9, 30, 0, 0, loc)
			close := time.Date(day.Year(), day.Month(), day.Day(), 16, 0, 0, 0, loc)
			out = append(out, Session{Open: open.UTC(), Close: close.UTC()})
		}
		day = day.Add(24 * time.Hour)
	}
	return out
}

func dateKey(t time.Time) string {
	return t.Format("2006-01-02")
}
