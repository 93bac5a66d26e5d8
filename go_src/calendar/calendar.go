package calendar

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/wenjunxiao/trade-calendar/go_src/trade_exceptions"
)

// Provider is the capability surface of a calendar: session resolution and
// real/calendar time conversion. *Calendar implements it.
type Provider interface {
	Name() string
	Location() *time.Location
	TimeInfo(ctx context.Context, date, direction int) (TimeInfo, error)
	RealTimeInfo(ctx context.Context, date, direction int) (TimeInfo, error)
	MarketOpen(tradeDate int) (int64, error)
	MarketClose(tradeDate int) (int64, error)
	BeforeMarketStart(tradeDate int) (int64, error)
	AfterMarketEnd(tradeDate int) (int64, error)
	RealMarketOpen(tradeDate int) (int64, error)
	RealMarketClose(tradeDate int) (int64, error)
	RealBeforeMarketStart(tradeDate int) (int64, error)
	RealAfterMarketEnd(tradeDate int) (int64, error)
	Timestamp(realMs int64) int64
	RealStamp(calMs int64) int64
	Now() int64
	Today() int
}

type state struct {
	cfg       Config
	loc       *time.Location
	transform Transform
}

// Calendar binds a Config and timezone to the session resolver.
// It is safe for concurrent use; Reload swaps its state in one step.
type Calendar struct {
	name      string
	clock     clockwork.Clock
	source    HolidaySource
	startedAt int64

	mu    sync.RWMutex
	state *state
}

// Option configures a Calendar.
type Option func(*Calendar)

func WithClock(clock clockwork.Clock) Option {
	return func(c *Calendar) { c.clock = clock }
}

func WithName(name string) Option {
	return func(c *Calendar) { c.name = name }
}

// New creates a calendar. A nil source means no holidays.
func New(cfg Config, source HolidaySource, opts ...Option) (*Calendar, error) {
	c := &Calendar{clock: clockwork.NewRealClock(), source: source}
	for _, opt := range opts {
		opt(c)
	}
	if c.source == nil {
		c.source = NoHolidays
	}
	c.startedAt = c.clock.Now().UnixMilli()

	st, err := c.build(cfg)
	if err != nil {
		return nil, err
	}
	c.state = st
	return c, nil
}

func (c *Calendar) build(cfg Config) (*state, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	st := &state{cfg: cfg, loc: LoadLocation(cfg.Timezone), transform: Identity}
	if cfg.Virtual != nil {
		vt, err := NewVirtualTime(*cfg.Virtual, st.loc, c.startedAt)
		if err != nil {
			return nil, err
		}
		st.transform = vt
	}
	return st, nil
}

func (c *Calendar) snapshot() *state {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Reload merges override into the current config and re-anchors virtual time.
// On error the previous state stays in effect.
func (c *Calendar) Reload(override Config) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, err := c.build(c.state.cfg.Merge(override))
	if err != nil {
		return err
	}
	c.state = st
	logrus.WithField("calendar", c.name).Infof("Calendar reloaded: session %s-%s %s", st.cfg.Start, st.cfg.End, st.loc)
	return nil
}

func (c *Calendar) Name() string { return c.name }

func (c *Calendar) Config() Config { return c.snapshot().cfg }

func (c *Calendar) Location() *time.Location { return c.snapshot().loc }

func (c *Calendar) Transform() Transform { return c.snapshot().transform }

// TimeInfo resolves the trade date nearest to date (YYYYMMDD, 0 for today) in
// calendar coordinates.
func (c *Calendar) TimeInfo(ctx context.Context, date, direction int) (TimeInfo, error) {
	return c.timeInfo(ctx, c.snapshot(), date, direction)
}

func (c *Calendar) timeInfo(ctx context.Context, st *state, date, direction int) (TimeInfo, error) {
	if date == 0 {
		date = c.today(st)
	}
	info, err := Resolve(ctx, st.cfg, st.loc, c.source, date, direction, st.cfg.MaxLookaheadDays)
	if err != nil {
		return TimeInfo{}, trade_exceptions.NewResolutionError(c.name, date, err)
	}
	return info, nil
}

// RealTimeInfo is TimeInfo with every timestamp converted to real coordinates.
func (c *Calendar) RealTimeInfo(ctx context.Context, date, direction int) (TimeInfo, error) {
	st := c.snapshot()
	info, err := c.timeInfo(ctx, st, date, direction)
	if err != nil {
		return TimeInfo{}, err
	}
	return toReal(info, st.transform), nil
}

// GetTimeInfo is an alias of RealTimeInfo.
func (c *Calendar) GetTimeInfo(ctx context.Context, date, direction int) (TimeInfo, error) {
	return c.RealTimeInfo(ctx, date, direction)
}

func toReal(info TimeInfo, tr Transform) TimeInfo {
	out := TimeInfo{
		TradeDate:   info.TradeDate,
		TimePeriods: make([]TimePeriod, len(info.TimePeriods)),
		DayStart:    tr.RealStamp(info.DayStart),
		DayEnd:      tr.RealStamp(info.DayEnd),
	}
	for i, p := range info.TimePeriods {
		out.TimePeriods[i] = TimePeriod{Start: tr.RealStamp(p.Start), End: tr.RealStamp(p.End)}
	}
	return out
}

func (c *Calendar) boundary(tradeDate int, tp TimePoint, real bool) (int64, error) {
	st := c.snapshot()
	day, err := ParseTradeDate(tradeDate, st.loc)
	if err != nil {
		return 0, fmt.Errorf("calendar %s: %w", c.name, err)
	}
	ts := tp.On(day).UnixMilli()
	if real {
		ts = st.transform.RealStamp(ts)
	}
	return ts, nil
}

func (c *Calendar) MarketOpen(tradeDate int) (int64, error) {
	return c.boundary(tradeDate, c.snapshot().cfg.Start, false)
}

func (c *Calendar) MarketClose(tradeDate int) (int64, error) {
	return c.boundary(tradeDate, c.snapshot().cfg.End, false)
}

func (c *Calendar) BeforeMarketStart(tradeDate int) (int64, error) {
	return c.boundary(tradeDate, c.snapshot().cfg.Before.Start, false)
}

func (c *Calendar) AfterMarketEnd(tradeDate int) (int64, error) {
	return c.boundary(tradeDate, c.snapshot().cfg.After.End, false)
}

func (c *Calendar) RealMarketOpen(tradeDate int) (int64, error) {
	return c.boundary(tradeDate, c.snapshot().cfg.Start, true)
}

func (c *Calendar) RealMarketClose(tradeDate int) (int64, error) {
	return c.boundary(tradeDate, c.snapshot().cfg.End, true)
}

func (c *Calendar) RealBeforeMarketStart(tradeDate int) (int64, error) {
	return c.boundary(tradeDate, c.snapshot().cfg.Before.Start, true)
}

func (c *Calendar) RealAfterMarketEnd(tradeDate int) (int64, error) {
	return c.boundary(tradeDate, c.snapshot().cfg.After.End, true)
}

// Timestamp converts real epoch ms to calendar time.
func (c *Calendar) Timestamp(realMs int64) int64 {
	return c.snapshot().transform.Timestamp(realMs)
}

// RealStamp converts calendar epoch ms to real time.
func (c *Calendar) RealStamp(calMs int64) int64 {
	return c.snapshot().transform.RealStamp(calMs)
}

// Now is the current calendar time in epoch ms.
func (c *Calendar) Now() int64 {
	return c.Timestamp(c.clock.Now().UnixMilli())
}

// RealNow is the current real time in epoch ms.
func (c *Calendar) RealNow() int64 {
	return c.clock.Now().UnixMilli()
}

// Moment renders a calendar timestamp in the calendar timezone.
func (c *Calendar) Moment(calMs int64) time.Time {
	return time.UnixMilli(calMs).In(c.Location())
}

// Today is the calendar date of the current calendar time. It may be a non-trading day.
func (c *Calendar) Today() int {
	return c.today(c.snapshot())
}

func (c *Calendar) today(st *state) int {
	now := st.transform.Timestamp(c.clock.Now().UnixMilli())
	return TradeDateOf(time.UnixMilli(now).In(st.loc))
}
