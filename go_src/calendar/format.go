package calendar

import "time"

const momentLayout = "2006-01-02 15:04:05.000 MST"

// FormattedPeriod is a TimePeriod rendered for humans.
type FormattedPeriod struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// FormattedTimeInfo is a TimeInfo rendered as timezone-qualified strings.
type FormattedTimeInfo struct {
	TradeDate   string            `json:"trade_date"`
	TimePeriods []FormattedPeriod `json:"time_periods"`
	DayStart    string            `json:"day_start"`
	DayEnd      string            `json:"day_end"`
}

// FormatTimeInfo renders info in loc.
func FormatTimeInfo(info TimeInfo, loc *time.Location) FormattedTimeInfo {
	if loc == nil {
		loc = time.Local
	}
	f := func(ms int64) string { return time.UnixMilli(ms).In(loc).Format(momentLayout) }
	out := FormattedTimeInfo{
		TradeDate:   FormatTradeDate(info.TradeDate),
		TimePeriods: make([]FormattedPeriod, 0, len(info.TimePeriods)),
		DayStart:    f(info.DayStart),
		DayEnd:      f(info.DayEnd),
	}
	for _, p := range info.TimePeriods {
		out.TimePeriods = append(out.TimePeriods, FormattedPeriod{Start: f(p.Start), End: f(p.End)})
	}
	return out
}

// FormatTimeInfo renders info in the calendar timezone.
func (c *Calendar) FormatTimeInfo(info TimeInfo) FormattedTimeInfo {
	return FormatTimeInfo(info, c.Location())
}
