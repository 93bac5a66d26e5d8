package holiday_source

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wenjunxiao/trade-calendar/go_src/calendar"
)

// Static serves closures known at startup: whole closed dates plus explicit intervals.
type Static struct {
	intervals []calendar.HolidayInterval
}

// NewStatic builds a source from closed dates ("2006-01-02" or "20060102"),
// each closing the full local day in loc, and extra intervals.
func NewStatic(closedDates []string, intervals []calendar.HolidayInterval, loc *time.Location) (*Static, error) {
	if loc == nil {
		loc = time.Local
	}
	all := make([]calendar.HolidayInterval, 0, len(closedDates)+len(intervals))
	for _, dateStr := range closedDates {
		date, err := calendar.ParseTradeDateString(dateStr)
		if err != nil {
			return nil, fmt.Errorf("invalid closed date: %w", err)
		}
		day, err := calendar.ParseTradeDate(date, loc)
		if err != nil {
			return nil, err
		}
		next := time.Date(day.Year(), day.Month(), day.Day()+1, 0, 0, 0, 0, loc)
		all = append(all, calendar.HolidayInterval{Start: day.UnixMilli(), End: next.UnixMilli()})
	}
	for _, h := range intervals {
		if h.End <= h.Start {
			logrus.Warnf("Ignoring empty holiday interval [%d, %d)", h.Start, h.End)
			continue
		}
		all = append(all, h)
	}
	return &Static{intervals: calendar.NormalizeHolidays(all)}, nil
}

func (s *Static) Fetch(ctx context.Context, start, end int64) ([]calendar.HolidayInterval, error) {
	// First interval ending after start; intervals are normalized so ends are sorted too.
	i := sort.Search(len(s.intervals), func(i int) bool { return s.intervals[i].End > start })
	var out []calendar.HolidayInterval
	for ; i < len(s.intervals) && s.intervals[i].Start < end; i++ {
		out = append(out, s.intervals[i])
	}
	return out, nil
}

// Len returns the number of merged intervals.
func (s *Static) Len() int {
	return len(s.intervals)
}
