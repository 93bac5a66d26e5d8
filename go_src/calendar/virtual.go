package calendar

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wenjunxiao/trade-calendar/go_src/trade_exceptions"
)

// Strategy selects how the virtual clock is anchored to the real one.
type Strategy string

const (
	StrategySystem   Strategy = "SYSTEM"   // virtual == real, other settings ignored
	StrategyStandard Strategy = "STANDARD" // both clocks coincide at the standard instant
	StrategyStart    Strategy = "START"    // virtual equals standard at calendar start
	StrategyCustom   Strategy = "CUSTOM"   // real anchor is custom, virtual anchor is standard
)

// VirtualConfig is the optional virtual-time block of a calendar config.
// Instants accept epoch milliseconds, RFC3339, "2006-01-02 15:04:05[.000]" or
// "2006-01-02" (read in the calendar timezone). OneDayDuration is a Go duration
// such as "10m"; empty means 24h.
type VirtualConfig struct {
	Strategy       Strategy `json:"strategy" yaml:"strategy"`
	Standard       string   `json:"standard,omitempty" yaml:"standard,omitempty"`
	Custom         string   `json:"custom,omitempty" yaml:"custom,omitempty"`
	OneDayDuration string   `json:"one_day_duration,omitempty" yaml:"one_day_duration,omitempty"`
}

// Transform maps between real and calendar coordinates.
type Transform interface {
	// Timestamp converts a real timestamp to calendar time.
	Timestamp(realMs int64) int64
	// RealStamp converts a calendar timestamp to real time.
	RealStamp(calMs int64) int64
}

type identity struct{}

func (identity) Timestamp(realMs int64) int64 { return realMs }
func (identity) RealStamp(calMs int64) int64  { return calMs }

// Identity is the transform of an undilated calendar.
var Identity Transform = identity{}

// VirtualTime is the linear map
//
//	virtual = (real - realBase) / ratio + virtualBase
//	real    = (virtual - virtualBase) * ratio + realBase
//
// with ratio = oneDay / 24h. Values are immutable; re-anchoring builds a new one.
type VirtualTime struct {
	strategy    Strategy
	realBase    int64
	virtualBase int64
	oneDayMs    int64
}

var msPerDayDec = decimal.NewFromInt(msPerDay)

// NewVirtualTime derives the anchors from cfg. startedAt is the real instant the
// calendar started, used by START and as the default standard instant.
func NewVirtualTime(cfg VirtualConfig, loc *time.Location, startedAt int64) (*VirtualTime, error) {
	strategy := Strategy(strings.ToUpper(strings.TrimSpace(string(cfg.Strategy))))
	if strategy == "" {
		strategy = StrategySystem
	}

	vt := &VirtualTime{strategy: strategy, oneDayMs: msPerDay}
	switch strategy {
	case StrategySystem:
		return vt, nil
	case StrategyStandard, StrategyStart, StrategyCustom:
	default:
		return nil, trade_exceptions.NewConfigurationError("virtual.strategy", "unknown virtual time strategy '%s'", cfg.Strategy)
	}

	if cfg.OneDayDuration != "" {
		d, err := time.ParseDuration(cfg.OneDayDuration)
		if err != nil {
			return nil, trade_exceptions.NewConfigurationError("virtual.one_day_duration", "invalid duration '%s': %v", cfg.OneDayDuration, err)
		}
		if d.Milliseconds() <= 0 {
			return nil, trade_exceptions.NewConfigurationError("virtual.one_day_duration", "duration must be at least 1ms, got %s", d)
		}
		vt.oneDayMs = d.Milliseconds()
	}

	standard := startedAt
	if cfg.Standard != "" {
		v, err := ParseInstant(cfg.Standard, loc)
		if err != nil {
			return nil, trade_exceptions.NewConfigurationError("virtual.standard", "%v", err)
		}
		standard = v
	}

	switch strategy {
	case StrategyStandard:
		vt.realBase, vt.virtualBase = standard, standard
	case StrategyStart:
		vt.realBase, vt.virtualBase = startedAt, standard
	case StrategyCustom:
		if cfg.Custom == "" {
			return nil, trade_exceptions.NewConfigurationError("virtual.custom", "custom instant is required for strategy %s", StrategyCustom)
		}
		custom, err := ParseInstant(cfg.Custom, loc)
		if err != nil {
			return nil, trade_exceptions.NewConfigurationError("virtual.custom", "%v", err)
		}
		vt.realBase, vt.virtualBase = custom, standard
	}
	return vt, nil
}

func (v *VirtualTime) Strategy() Strategy { return v.strategy }
func (v *VirtualTime) RealBase() int64    { return v.realBase }
func (v *VirtualTime) VirtualBase() int64 { return v.virtualBase }

// Ratio is real milliseconds per calendar millisecond.
func (v *VirtualTime) Ratio() decimal.Decimal {
	return decimal.NewFromInt(v.oneDayMs).Div(msPerDayDec)
}

func (v *VirtualTime) Timestamp(realMs int64) int64 {
	if v.oneDayMs == msPerDay {
		return realMs - v.realBase + v.virtualBase
	}
	delta := decimal.NewFromInt(realMs-v.realBase).Mul(msPerDayDec).DivRound(decimal.NewFromInt(v.oneDayMs), 0)
	return delta.IntPart() + v.virtualBase
}

func (v *VirtualTime) RealStamp(calMs int64) int64 {
	if v.oneDayMs == msPerDay {
		return calMs - v.virtualBase + v.realBase
	}
	delta := decimal.NewFromInt(calMs-v.virtualBase).Mul(decimal.NewFromInt(v.oneDayMs)).DivRound(msPerDayDec, 0)
	return delta.IntPart() + v.realBase
}

// ParseInstant reads an instant as epoch milliseconds.
func ParseInstant(s string, loc *time.Location) (int64, error) {
	s = strings.TrimSpace(s)
	if loc == nil {
		loc = time.Local
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil && len(s) > 8 {
		return ms, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UnixMilli(), nil
	}
	for _, layout := range []string{"2006-01-02 15:04:05.000", "2006-01-02 15:04:05", "2006-01-02T15:04:05", "2006-01-02", "20060102"} {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t.UnixMilli(), nil
		}
	}
	return 0, fmt.Errorf("invalid instant '%s'", s)
}
