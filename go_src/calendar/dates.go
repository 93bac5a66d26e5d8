package calendar

import (
	"fmt"
	"time"
)

// TradeDateOf returns t's local date as YYYYMMDD.
func TradeDateOf(t time.Time) int {
	return t.Year()*10000 + int(t.Month())*100 + t.Day()
}

// ParseTradeDate turns a YYYYMMDD integer into the local midnight of that date.
func ParseTradeDate(date int, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	y, m, d := date/10000, time.Month(date/100%100), date%100
	if date < 10000101 || date > 99991231 || m < 1 || m > 12 || d < 1 {
		return time.Time{}, fmt.Errorf("invalid trade date %d: expected YYYYMMDD", date)
	}
	t := time.Date(y, m, d, 0, 0, 0, 0, loc)
	if t.Day() != d || t.Month() != m {
		return time.Time{}, fmt.Errorf("invalid trade date %d: day out of range", date)
	}
	return t, nil
}

// ParseTradeDateString accepts "20240105" or "2024-01-05".
func ParseTradeDateString(s string) (int, error) {
	for _, layout := range []string{"20060102", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return TradeDateOf(t), nil
		}
	}
	return 0, fmt.Errorf("invalid trade date '%s'", s)
}

// AddDays shifts a YYYYMMDD date by n calendar days. Invalid input is returned unchanged.
func AddDays(date, n int) int {
	t, err := ParseTradeDate(date, time.UTC)
	if err != nil {
		return date
	}
	return TradeDateOf(t.AddDate(0, 0, n))
}

func NextDay(date int) int { return AddDays(date, 1) }
func PrevDay(date int) int { return AddDays(date, -1) }

// FormatTradeDate renders YYYYMMDD as 2006-01-02.
func FormatTradeDate(date int) string {
	return fmt.Sprintf("%04d-%02d-%02d", date/10000, date/100%100, date%100)
}

// dayBounds returns local midnight and the next local midnight minus 1 ms.
func dayBounds(day time.Time) (int64, int64) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	next := time.Date(day.Year(), day.Month(), day.Day()+1, 0, 0, 0, 0, day.Location())
	return start.UnixMilli(), next.UnixMilli() - 1
}
