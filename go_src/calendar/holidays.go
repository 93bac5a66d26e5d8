package calendar

import (
	"context"
	"sort"
)

// HolidaySource returns the holiday intervals overlapping [start, end].
// Results may be unsorted and overlapping.
type HolidaySource interface {
	Fetch(ctx context.Context, start, end int64) ([]HolidayInterval, error)
}

// HolidaySourceFunc adapts a function to HolidaySource.
type HolidaySourceFunc func(ctx context.Context, start, end int64) ([]HolidayInterval, error)

func (f HolidaySourceFunc) Fetch(ctx context.Context, start, end int64) ([]HolidayInterval, error) {
	return f(ctx, start, end)
}

// NoHolidays never reports a holiday.
var NoHolidays HolidaySource = HolidaySourceFunc(func(context.Context, int64, int64) ([]HolidayInterval, error) {
	return nil, nil
})

// NormalizeHolidays sorts intervals by start and merges every interval whose start
// is at or before the end of the current merged interval. Empty or inverted
// intervals are dropped. The result is ascending and disjoint.
func NormalizeHolidays(in []HolidayInterval) []HolidayInterval {
	if len(in) == 0 {
		return nil
	}
	sorted := make([]HolidayInterval, 0, len(in))
	for _, h := range in {
		if h.End > h.Start {
			sorted = append(sorted, h)
		}
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Start == sorted[j].Start {
			return sorted[i].End < sorted[j].End
		}
		return sorted[i].Start < sorted[j].Start
	})

	var merged []HolidayInterval
	for _, h := range sorted {
		n := len(merged)
		if n > 0 && h.Start <= merged[n-1].End {
			if h.End > merged[n-1].End {
				merged[n-1].End = h.End
			}
			continue
		}
		merged = append(merged, h)
	}
	return merged
}

// subtractHolidays removes normalized holidays from the session [start, end)
// and returns the remaining tradable periods in order.
func subtractHolidays(start, end int64, holidays []HolidayInterval) []TimePeriod {
	var periods []TimePeriod
	cursor := start
	for _, h := range holidays {
		if h.End <= cursor {
			continue
		}
		if h.Start >= end {
			break
		}
		if h.Start > cursor {
			periods = append(periods, TimePeriod{Start: cursor, End: h.Start})
		}
		cursor = h.End
		if cursor >= end {
			return periods
		}
	}
	if cursor < end {
		periods = append(periods, TimePeriod{Start: cursor, End: end})
	}
	return periods
}
