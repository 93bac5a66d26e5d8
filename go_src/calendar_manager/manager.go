package calendar_manager

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/wenjunxiao/trade-calendar/go_src/calendar"
	"github.com/wenjunxiao/trade-calendar/go_src/scheduler"
	"github.com/wenjunxiao/trade-calendar/go_src/trade_exceptions"
)

const (
	DefaultRetryInterval  = 10 * time.Second
	DefaultResolveTimeout = 30 * time.Second
	sinkTimeout           = 5 * time.Second
)

// TimerHost fires a task at an absolute real instant.
type TimerHost interface {
	Schedule(at time.Time, task func()) (uuid.UUID, error)
	Cancel(id uuid.UUID) error
}

// Manager keeps named calendars advancing in real time and emits their lifecycle
// events. Each calendar is driven by its own goroutine; timers only enqueue ticks.
// All scheduling happens in real coordinates: calendar boundaries are converted
// with RealStamp before a timer is armed.
type Manager struct {
	timers         TimerHost
	clock          clockwork.Clock
	sinks          []EventSink
	recorder       Recorder
	retryInterval  time.Duration
	resolveTimeout time.Duration

	mu      sync.Mutex
	entries map[string]*entry
}

// Option configures a Manager.
type Option func(*Manager)

func WithClock(clock clockwork.Clock) Option {
	return func(m *Manager) { m.clock = clock }
}

// WithSink adds event sinks. Sinks are called in order from the calendar goroutine.
func WithSink(sinks ...EventSink) Option {
	return func(m *Manager) { m.sinks = append(m.sinks, sinks...) }
}

func WithRecorder(r Recorder) Option {
	return func(m *Manager) { m.recorder = r }
}

func WithRetryInterval(d time.Duration) Option {
	return func(m *Manager) { m.retryInterval = d }
}

// WithResolveTimeout bounds every resolution pass, holiday lookups included.
func WithResolveTimeout(d time.Duration) Option {
	return func(m *Manager) { m.resolveTimeout = d }
}

// New creates a Manager. A nil timer host uses clock-based timers.
func New(timers TimerHost, opts ...Option) *Manager {
	m := &Manager{
		clock:          clockwork.NewRealClock(),
		recorder:       noopRecorder{},
		retryInterval:  DefaultRetryInterval,
		resolveTimeout: DefaultResolveTimeout,
		entries:        make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(m)
	}
	if timers == nil {
		timers = scheduler.NewClockTimers(m.clock)
	}
	m.timers = timers
	if m.recorder == nil {
		m.recorder = noopRecorder{}
	}
	return m
}

func (m *Manager) now() int64 {
	return m.clock.Now().UnixMilli()
}

// Start registers cal under name and runs the initial resolution pass for "now".
// An error from that pass is returned and the calendar is not registered.
// Starting the same instance twice under one name is a no-op.
func (m *Manager) Start(ctx context.Context, name string, cal calendar.Provider) error {
	if cal == nil {
		return fmt.Errorf("calendar %s is nil", name)
	}

	m.mu.Lock()
	if existing, ok := m.entries[name]; ok {
		m.mu.Unlock()
		if existing.cal == cal {
			return nil
		}
		return &trade_exceptions.NamingConflictError{Name: name}
	}
	e := newEntry(name, cal)
	m.entries[name] = e
	m.mu.Unlock()

	if err := m.runPass(ctx, e, 0, false); err != nil {
		m.mu.Lock()
		if m.entries[name] == e {
			delete(m.entries, name)
		}
		m.mu.Unlock()
		e.stop(m.timers)
		return err
	}
	e.publishState()
	m.flush(e)

	logrus.WithField("calendar", name).Infof("Calendar started: trade date %d, next %d", e.tradeDate, e.nextTradeDate)
	go m.run(e)
	return nil
}

// Stop cancels every timer of the named calendar. Unknown names are ignored.
func (m *Manager) Stop(name string) {
	m.mu.Lock()
	e, ok := m.entries[name]
	if ok {
		delete(m.entries, name)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	e.stop(m.timers)
	logrus.WithField("calendar", name).Info("Calendar stopped")
}

// StopAll stops every registered calendar.
func (m *Manager) StopAll() {
	for _, name := range m.Names() {
		m.Stop(name)
	}
}

// Names lists the registered calendars in order.
func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.entries))
	for name := range m.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Calendar returns the calendar registered under name.
func (m *Manager) Calendar(name string) (calendar.Provider, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[name]
	if !ok {
		return nil, false
	}
	return e.cal, true
}

// State returns the latest scheduling snapshot of a calendar.
func (m *Manager) State(name string) (EntryState, bool) {
	m.mu.Lock()
	e, ok := m.entries[name]
	m.mu.Unlock()
	if !ok {
		return EntryState{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.snap
	st.Pending = append([]calendar.TimePeriod{}, st.Pending...)
	return st, true
}

func (m *Manager) run(e *entry) {
	for {
		select {
		case <-e.done:
			return
		case t := <-e.ticks:
			m.handle(e, t)
			e.publishState()
			m.flush(e)
		}
	}
}

func (m *Manager) handle(e *entry, t tick) {
	if t.gen != e.gens[t.slot] {
		return // cancelled or re-armed since
	}
	e.armed[t.slot] = tick{}
	e.mu.Lock()
	delete(e.timers, t.slot)
	e.mu.Unlock()

	// Self-correcting timers: a host that fires early gets re-armed for the remainder.
	if t.slot != slotRetry && t.target > m.now() {
		if err := m.arm(e, t.slot, t.target, t); err != nil {
			logrus.WithField("calendar", e.name).Errorf("Failed to re-arm early timer: %v", err)
		}
		return
	}

	switch t.slot {
	case slotAfterClose:
		// Boundaries of the closing day due at the same instant go out first.
		for _, s := range []slot{slotPeriodStart, slotMarketOpen, slotPeriodEnd, slotMarketClose} {
			if due, ok := m.takeDue(e, s); ok {
				m.fire(e, due)
			}
		}
		m.emit(e, Event{Type: EventAfterMarketClose, TradeDate: t.tradeDate})
		_ = m.runPass(e.ctx, e, calendar.NextDay(t.tradeDate), true)
	case slotRetry:
		logrus.WithField("calendar", e.name).Infof("Retrying resolution pass for anchor %d", t.anchor)
		_ = m.runPass(e.ctx, e, t.anchor, true)
	default:
		m.fire(e, t)
	}
}

// fire emits the events of a session boundary tick.
func (m *Manager) fire(e *entry, t tick) {
	switch t.slot {
	case slotPeriodStart:
		m.emit(e, Event{Type: EventSystemTimeStart, Period: copyPeriod(e.current)})
	case slotPeriodEnd:
		m.emit(e, Event{Type: EventSystemTimeEnd, Period: copyPeriod(e.current)})
		if err := m.advancePeriods(e); err != nil {
			logrus.WithField("calendar", e.name).Errorf("Failed to advance session period: %v", err)
		}
	case slotMarketOpen:
		m.emit(e, Event{Type: EventMarketOpen, TradeDate: t.tradeDate})
	case slotMarketClose:
		m.emit(e, Event{Type: EventMarketClose, TradeDate: t.tradeDate})
	}
}

// takeDue consumes the timer armed in slot s if its instant has passed.
// A tick it already queued becomes stale.
func (m *Manager) takeDue(e *entry, s slot) (tick, bool) {
	t := e.armed[s]
	if t.gen == 0 || t.gen != e.gens[s] || t.target > m.now() {
		return tick{}, false
	}
	m.cancel(e, s)
	return t, true
}

// runPass resolves the trade date for anchor and arms its timers. A scheduled
// pass that fails is retried after the retry interval; the initial pass returns
// its error instead.
func (m *Manager) runPass(ctx context.Context, e *entry, anchor int, scheduled bool) error {
	err := m.pass(ctx, e, anchor)
	m.recorder.PassCompleted(e.name, err)
	if err == nil {
		e.lastErr = nil
		m.cancel(e, slotRetry)
		return nil
	}

	err = trade_exceptions.NewResolutionError(e.name, anchor, err)
	e.lastErr = err
	if !scheduled {
		return err
	}

	logrus.WithFields(logrus.Fields{"calendar": e.name, "anchor": anchor}).
		Errorf("Resolution pass failed, retrying in %s: %v", m.retryInterval, err)
	m.cancel(e, slotAfterClose)
	if armErr := m.arm(e, slotRetry, m.now()+m.retryInterval.Milliseconds(), tick{anchor: anchor}); armErr != nil {
		logrus.WithField("calendar", e.name).Errorf("Failed to arm retry timer: %v", armErr)
		return err
	}
	m.recorder.RetryScheduled(e.name)
	return err
}

func (m *Manager) pass(ctx context.Context, e *entry, anchor int) error {
	ctx, cancel := context.WithTimeout(ctx, m.resolveTimeout)
	defer cancel()

	var (
		info       calendar.TimeInfo
		afterClose int64
		err        error
	)
	// Catch up on trade dates whose lifecycle already finished.
	for {
		info, err = e.cal.RealTimeInfo(ctx, anchor, 1)
		if err != nil {
			return err
		}
		afterClose, err = e.cal.RealAfterMarketEnd(info.TradeDate)
		if err != nil {
			return err
		}
		if m.now() < afterClose {
			break
		}
		anchor = calendar.NextDay(info.TradeDate)
	}

	changed := info.TradeDate != e.tradeDate
	pre, next := e.preTradeDate, e.nextTradeDate
	if changed {
		if e.tradeDate != 0 && e.nextTradeDate == info.TradeDate {
			pre = e.tradeDate
		} else {
			prev, err := e.cal.RealTimeInfo(ctx, calendar.PrevDay(info.TradeDate), -1)
			if err != nil {
				return err
			}
			pre = prev.TradeDate
		}
		following, err := e.cal.RealTimeInfo(ctx, calendar.NextDay(info.TradeDate), 1)
		if err != nil {
			return err
		}
		next = following.TradeDate
	}
	open, err := e.cal.RealMarketOpen(info.TradeDate)
	if err != nil {
		return err
	}
	closeAt, err := e.cal.RealMarketClose(info.TradeDate)
	if err != nil {
		return err
	}

	if changed {
		e.tradeDate, e.preTradeDate, e.nextTradeDate = info.TradeDate, pre, next
		m.emit(e, Event{Type: EventTradeDateChange, TradeDate: info.TradeDate, PrevTradeDate: pre, NextTradeDate: next})
		m.recorder.TradeDateChanged(e.name, info.TradeDate)
	}
	e.dayStart, e.dayEnd = info.DayStart, info.DayEnd
	e.periods = append([]calendar.TimePeriod{}, info.TimePeriods...)
	e.current = nil
	if err := m.advancePeriods(e); err != nil {
		return err
	}

	if len(info.TimePeriods) > 0 {
		now := m.now()
		if open > now {
			if err := m.arm(e, slotMarketOpen, open, tick{tradeDate: info.TradeDate}); err != nil {
				return err
			}
		} else {
			m.cancel(e, slotMarketOpen)
		}
		if closeAt > now {
			if err := m.arm(e, slotMarketClose, closeAt, tick{tradeDate: info.TradeDate}); err != nil {
				return err
			}
		} else {
			m.cancel(e, slotMarketClose)
			m.emit(e, Event{Type: EventMarketClose, TradeDate: info.TradeDate})
		}
	}
	return m.arm(e, slotAfterClose, afterClose, tick{tradeDate: info.TradeDate})
}

// advancePeriods pops the next pending period and arms its boundaries.
// Boundaries already in the past are emitted immediately, in order.
func (m *Manager) advancePeriods(e *entry) error {
	for {
		m.cancel(e, slotPeriodStart)
		m.cancel(e, slotPeriodEnd)
		if len(e.periods) == 0 {
			e.current = nil
			return nil
		}

		p := e.periods[0]
		e.periods = e.periods[1:]
		e.current = &p
		m.emit(e, Event{
			Type:      EventSystemPeriodChange,
			Period:    copyPeriod(&p),
			Remaining: append([]calendar.TimePeriod{}, e.periods...),
		})

		now := m.now()
		if p.Start > now {
			if err := m.arm(e, slotPeriodStart, p.Start, tick{}); err != nil {
				return err
			}
			return m.arm(e, slotPeriodEnd, p.End, tick{})
		}
		m.emit(e, Event{Type: EventSystemTimeStart, Period: copyPeriod(&p)})
		if p.End > now {
			return m.arm(e, slotPeriodEnd, p.End, tick{})
		}
		m.emit(e, Event{Type: EventSystemTimeEnd, Period: copyPeriod(&p)})
	}
}

// arm replaces the timer in slot with one firing at the real instant at.
func (m *Manager) arm(e *entry, s slot, at int64, t tick) error {
	e.gens[s]++
	t.slot, t.gen, t.target = s, e.gens[s], at
	e.armed[s] = t

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		logrus.WithField("calendar", e.name).Debugf("Calendar stopped, not arming timer %d", s)
		return nil
	}
	if old, ok := e.timers[s]; ok {
		_ = m.timers.Cancel(old)
		delete(e.timers, s)
	}
	id, err := m.timers.Schedule(time.UnixMilli(at), func() { e.enqueue(t) })
	if err != nil {
		return fmt.Errorf("failed to arm timer for %s: %w", time.UnixMilli(at).Format(time.RFC3339), err)
	}
	e.timers[s] = id
	return nil
}

func (m *Manager) cancel(e *entry, s slot) {
	e.gens[s]++
	e.mu.Lock()
	defer e.mu.Unlock()
	if id, ok := e.timers[s]; ok {
		_ = m.timers.Cancel(id)
		delete(e.timers, s)
	}
}

func (m *Manager) emit(e *entry, ev Event) {
	ev.ID = uuid.New()
	ev.Calendar = e.name
	ev.EmittedAt = m.now()
	if ev.TradeDate == 0 {
		ev.TradeDate = e.tradeDate
	}
	e.outbox = append(e.outbox, ev)
}

// flush hands buffered events to the sinks once a pass or tick has committed.
func (m *Manager) flush(e *entry) {
	events := e.outbox
	e.outbox = nil
	if e.isStopped() {
		return
	}
	for _, ev := range events {
		logrus.WithField("calendar", e.name).Debugf("Event %s", ev)
		for _, s := range m.sinks {
			m.deliver(s, ev)
		}
		m.recorder.EventEmitted(e.name, string(ev.Type))
	}
}

func (m *Manager) deliver(s EventSink, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			logrus.WithFields(logrus.Fields{"calendar": ev.Calendar, "event": ev.Type}).Errorf("Event sink panicked: %v", r)
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()
	if err := s.Publish(ctx, ev); err != nil {
		logrus.WithFields(logrus.Fields{"calendar": ev.Calendar, "event": ev.Type}).Errorf("Event sink failed: %v", err)
	}
}

func copyPeriod(p *calendar.TimePeriod) *calendar.TimePeriod {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}
