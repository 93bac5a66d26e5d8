package calendar

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const msPerDay int64 = 24 * 60 * 60 * 1000

// TimePoint is a wall-clock instant within a day, relative to the calendar timezone.
// Its text form is HH:MM[:SS[.mmm]]. A parsed 00:00 is distinct from an unset point.
type TimePoint struct {
	Hour        int
	Minute      int
	Second      int
	Millisecond int
	set         bool
}

// ParseTimePoint parses "HH:MM", "HH:MM:SS" or "HH:MM:SS.mmm".
func ParseTimePoint(s string) (TimePoint, error) {
	var tp TimePoint
	s = strings.TrimSpace(s)
	if s == "" {
		return tp, fmt.Errorf("empty time point")
	}

	clock, frac, hasFrac := strings.Cut(s, ".")
	parts := strings.Split(clock, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return tp, fmt.Errorf("invalid time point '%s': expected HH:MM[:SS[.mmm]]", s)
	}
	if hasFrac && len(parts) != 3 {
		return tp, fmt.Errorf("invalid time point '%s': milliseconds require seconds", s)
	}

	fields := []*int{&tp.Hour, &tp.Minute, &tp.Second}
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil {
			return TimePoint{}, fmt.Errorf("invalid time point '%s': %w", s, err)
		}
		*fields[i] = v
	}
	if hasFrac {
		if len(frac) == 0 || len(frac) > 3 {
			return TimePoint{}, fmt.Errorf("invalid time point '%s': milliseconds must have 1-3 digits", s)
		}
		v, err := strconv.Atoi(frac + strings.Repeat("0", 3-len(frac)))
		if err != nil {
			return TimePoint{}, fmt.Errorf("invalid time point '%s': %w", s, err)
		}
		tp.Millisecond = v
	}
	if err := tp.Validate(); err != nil {
		return TimePoint{}, err
	}
	tp.set = true
	return tp, nil
}

// MustTimePoint is ParseTimePoint for literals; it panics on bad input.
func MustTimePoint(s string) TimePoint {
	tp, err := ParseTimePoint(s)
	if err != nil {
		panic(err)
	}
	return tp
}

// Validate checks the field ranges.
func (p TimePoint) Validate() error {
	if p.Hour < 0 || p.Hour > 23 {
		return fmt.Errorf("time point hour out of range: %d", p.Hour)
	}
	if p.Minute < 0 || p.Minute > 59 {
		return fmt.Errorf("time point minute out of range: %d", p.Minute)
	}
	if p.Second < 0 || p.Second > 59 {
		return fmt.Errorf("time point second out of range: %d", p.Second)
	}
	if p.Millisecond < 0 || p.Millisecond > 999 {
		return fmt.Errorf("time point millisecond out of range: %d", p.Millisecond)
	}
	return nil
}

// IsZero reports whether the point was never given.
func (p TimePoint) IsZero() bool {
	return !p.set
}

// Equal compares wall-clock values, ignoring presence.
func (p TimePoint) Equal(o TimePoint) bool {
	return p.Offset() == o.Offset()
}

// Offset is the time elapsed since midnight.
func (p TimePoint) Offset() time.Duration {
	return time.Duration(p.Hour)*time.Hour +
		time.Duration(p.Minute)*time.Minute +
		time.Duration(p.Second)*time.Second +
		time.Duration(p.Millisecond)*time.Millisecond
}

// Before reports whether p is strictly earlier in the day than o.
func (p TimePoint) Before(o TimePoint) bool {
	return p.Offset() < o.Offset()
}

// On anchors the time point to the given local day.
func (p TimePoint) On(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), p.Hour, p.Minute, p.Second, p.Millisecond*int(time.Millisecond), day.Location())
}

func (p TimePoint) String() string {
	if p.Millisecond != 0 {
		return fmt.Sprintf("%02d:%02d:%02d.%03d", p.Hour, p.Minute, p.Second, p.Millisecond)
	}
	return fmt.Sprintf("%02d:%02d:%02d", p.Hour, p.Minute, p.Second)
}

func (p TimePoint) MarshalText() ([]byte, error) {
	if p.IsZero() {
		return []byte{}, nil
	}
	return []byte(p.String()), nil
}

func (p *TimePoint) UnmarshalText(text []byte) error {
	if len(strings.TrimSpace(string(text))) == 0 {
		*p = TimePoint{}
		return nil
	}
	tp, err := ParseTimePoint(string(text))
	if err != nil {
		return err
	}
	*p = tp
	return nil
}

// SessionWindow is a [Start, End] pair of time points, used for pre- and post-market.
type SessionWindow struct {
	Start TimePoint `json:"start" yaml:"start"`
	End   TimePoint `json:"end" yaml:"end"`
}

func (w SessionWindow) IsZero() bool {
	return w.Start.IsZero() && w.End.IsZero()
}

// TimePeriod is one contiguous tradable window [Start, End) in epoch milliseconds.
type TimePeriod struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// Contains reports whether ts falls within [Start, End).
func (p TimePeriod) Contains(ts int64) bool {
	return ts >= p.Start && ts < p.End
}

// TimeInfo describes one trade date and its tradable periods.
type TimeInfo struct {
	TradeDate   int          `json:"trade_date"` // YYYYMMDD
	TimePeriods []TimePeriod `json:"time_periods"`
	DayStart    int64        `json:"day_start"`
	DayEnd      int64        `json:"day_end"`
}

// HolidayInterval is a closed interval reported by a holiday source.
type HolidayInterval struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}
