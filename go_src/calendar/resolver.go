package calendar

import (
	"context"
	"fmt"
	"time"

	"github.com/wenjunxiao/trade-calendar/go_src/trade_exceptions"
)

// Resolve finds the nearest trade date starting at date and stepping one calendar
// day at a time in direction (any value >= 0 steps forward, negative steps backward).
// Weekends are skipped, holidays are subtracted from the regular session and a day
// left without any period is not a trade date.
//
// The search gives up with ErrNoTradingDay after maxLookahead days (DefaultMaxLookaheadDays
// when maxLookahead <= 0). Holiday source errors are returned as is, wrapped in a
// ResolutionError; they are never retried here.
func Resolve(ctx context.Context, cfg Config, loc *time.Location, source HolidaySource, date, direction, maxLookahead int) (TimeInfo, error) {
	if loc == nil {
		loc = time.Local
	}
	if source == nil {
		source = NoHolidays
	}
	if maxLookahead <= 0 {
		maxLookahead = DefaultMaxLookaheadDays
	}
	step := 1
	if direction < 0 {
		step = -1
	}

	day, err := ParseTradeDate(date, loc)
	if err != nil {
		return TimeInfo{}, trade_exceptions.NewResolutionError("", date, err)
	}

	for i := 0; i < maxLookahead; i++ {
		if err := ctx.Err(); err != nil {
			return TimeInfo{}, trade_exceptions.NewResolutionError("", date, err)
		}
		candidate := time.Date(day.Year(), day.Month(), day.Day()+i*step, 0, 0, 0, 0, loc)
		if wd := candidate.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}

		sessionStart := cfg.Start.On(candidate).UnixMilli()
		sessionEnd := cfg.End.On(candidate).UnixMilli()

		holidays, err := source.Fetch(ctx, sessionStart, sessionEnd)
		if err != nil {
			return TimeInfo{}, trade_exceptions.NewResolutionError("", TradeDateOf(candidate),
				fmt.Errorf("failed to fetch holidays: %w", err))
		}

		periods := subtractHolidays(sessionStart, sessionEnd, NormalizeHolidays(holidays))
		if len(periods) == 0 {
			continue
		}

		dayStart, dayEnd := dayBounds(candidate)
		return TimeInfo{
			TradeDate:   TradeDateOf(candidate),
			TimePeriods: periods,
			DayStart:    dayStart,
			DayEnd:      dayEnd,
		}, nil
	}

	return TimeInfo{}, trade_exceptions.NewResolutionError("", date,
		fmt.Errorf("%w: searched %d days", trade_exceptions.ErrNoTradingDay, maxLookahead))
}
