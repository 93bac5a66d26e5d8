package holiday_source

import (
	"context"
	"fmt"
	"time"

	"github.com/wenjunxiao/trade-calendar/go_src/calendar"
)

// Bounded gives every fetch of the wrapped source its own deadline.
func Bounded(src calendar.HolidaySource, timeout time.Duration) calendar.HolidaySource {
	if timeout <= 0 {
		return src
	}
	return calendar.HolidaySourceFunc(func(ctx context.Context, start, end int64) ([]calendar.HolidayInterval, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		holidays, err := src.Fetch(ctx, start, end)
		if err != nil && ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("holiday lookup timed out after %s: %w", timeout, err)
		}
		return holidays, err
	})
}

// Multi returns the union of all sources. Any failing source fails the fetch.
func Multi(sources ...calendar.HolidaySource) calendar.HolidaySource {
	switch len(sources) {
	case 0:
		return calendar.NoHolidays
	case 1:
		return sources[0]
	}
	return calendar.HolidaySourceFunc(func(ctx context.Context, start, end int64) ([]calendar.HolidayInterval, error) {
		var all []calendar.HolidayInterval
		for i, src := range sources {
			holidays, err := src.Fetch(ctx, start, end)
			if err != nil {
				return nil, fmt.Errorf("holiday source %d: %w", i, err)
			}
			all = append(all, holidays...)
		}
		return calendar.NormalizeHolidays(all), nil
	})
}
