package holiday_source

import (
	"context"
	"fmt"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"golang.org/x/time/rate"

	"github.com/wenjunxiao/trade-calendar/go_src/calendar"
)

// AlpacaCalendar is the calendar part of *alpaca.Client.
type AlpacaCalendar interface {
	GetCalendar(req alpaca.GetCalendarRequest) ([]alpaca.CalendarDay, error)
}

// NewAlpacaClient connects to the Alpaca trading API.
func NewAlpacaClient(apiKey, apiSecret, baseURL string) *alpaca.Client {
	return alpaca.NewClient(alpaca.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
		BaseURL:   baseURL,
	})
}

// AlpacaSource derives holidays from the broker's list of trading days: a
// weekday missing from the list is closed all day, and a day closing before the
// regular close is closed from its early close to midnight.
type AlpacaSource struct {
	client       AlpacaCalendar
	loc          *time.Location
	regularClose calendar.TimePoint
	limiter      *rate.Limiter
}

// NewAlpacaSource creates a source for an exchange whose times are in loc.
func NewAlpacaSource(client AlpacaCalendar, loc *time.Location, regularClose calendar.TimePoint) *AlpacaSource {
	if loc == nil {
		loc = time.Local
	}
	return &AlpacaSource{
		client:       client,
		loc:          loc,
		regularClose: regularClose,
		limiter:      rate.NewLimiter(rate.Every(300*time.Millisecond), 3),
	}
}

func (s *AlpacaSource) Fetch(ctx context.Context, start, end int64) ([]calendar.HolidayInterval, error) {
	if end <= start {
		return nil, nil
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	first := time.UnixMilli(start).In(s.loc)
	first = time.Date(first.Year(), first.Month(), first.Day(), 0, 0, 0, 0, s.loc)
	last := time.UnixMilli(end - 1).In(s.loc)

	days, err := s.client.GetCalendar(alpaca.GetCalendarRequest{Start: first, End: last})
	if err != nil {
		return nil, fmt.Errorf("GetCalendar: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	byDate := make(map[string]alpaca.CalendarDay, len(days))
	for _, d := range days {
		byDate[d.Date] = d
	}

	var out []calendar.HolidayInterval
	for day := first; day.UnixMilli() < end; day = time.Date(day.Year(), day.Month(), day.Day()+1, 0, 0, 0, 0, s.loc) {
		if wd := day.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		next := time.Date(day.Year(), day.Month(), day.Day()+1, 0, 0, 0, 0, s.loc)
		cd, open := byDate[day.Format("2006-01-02")]
		if !open {
			out = append(out, calendar.HolidayInterval{Start: day.UnixMilli(), End: next.UnixMilli()})
			continue
		}
		if s.regularClose.IsZero() || cd.Close == "" {
			continue
		}
		closeAt, err := calendar.ParseTimePoint(cd.Close)
		if err != nil {
			return nil, fmt.Errorf("invalid close time %q for %s: %w", cd.Close, cd.Date, err)
		}
		if closeAt.Before(s.regularClose) {
			out = append(out, calendar.HolidayInterval{Start: closeAt.On(day).UnixMilli(), End: next.UnixMilli()})
		}
	}
	return out, nil
}
