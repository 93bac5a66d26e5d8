package calendar_manager

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/wenjunxiao/trade-calendar/go_src/calendar"
)

type slot int

const (
	slotPeriodStart slot = iota
	slotPeriodEnd
	slotMarketOpen
	slotMarketClose
	slotAfterClose
	slotRetry
	slotCount
)

// tick is what a fired timer sends to its calendar loop.
type tick struct {
	slot      slot
	gen       uint64
	target    int64 // real epoch ms the timer was armed for
	tradeDate int
	anchor    int
}

// EntryState is a snapshot of the scheduling state of one calendar.
type EntryState struct {
	Name          string                `json:"name"`
	TradeDate     int                   `json:"trade_date"`
	PreTradeDate  int                   `json:"pre_trade_date"`
	NextTradeDate int                   `json:"next_trade_date"`
	DayStart      int64                 `json:"day_start"`
	DayEnd        int64                 `json:"day_end"`
	Current       *calendar.TimePeriod  `json:"current,omitempty"`
	Pending       []calendar.TimePeriod `json:"pending"`
	Retrying      bool                  `json:"retrying"`
	LastError     string                `json:"last_error,omitempty"`
	Stopped       bool                  `json:"stopped"`
}

type entry struct {
	name   string
	cal    calendar.Provider
	ctx    context.Context
	cancel context.CancelFunc
	ticks  chan tick
	done   chan struct{}
	once   sync.Once

	mu      sync.Mutex
	stopped bool
	timers  map[slot]uuid.UUID
	snap    EntryState

	// Owned by whoever runs the passes: Start before the loop exists, the loop after.
	tradeDate     int
	preTradeDate  int
	nextTradeDate int
	dayStart      int64
	dayEnd        int64
	periods       []calendar.TimePeriod
	current       *calendar.TimePeriod
	gens          [slotCount]uint64
	armed         [slotCount]tick
	outbox        []Event
	lastErr       error
}

func newEntry(name string, cal calendar.Provider) *entry {
	ctx, cancel := context.WithCancel(context.Background())
	return &entry{
		name:   name,
		cal:    cal,
		ctx:    ctx,
		cancel: cancel,
		ticks:  make(chan tick, 64),
		done:   make(chan struct{}),
		timers: make(map[slot]uuid.UUID),
		snap:   EntryState{Name: name},
	}
}

func (e *entry) enqueue(t tick) {
	select {
	case e.ticks <- t:
	case <-e.done:
	}
}

func (e *entry) isStopped() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopped
}

// stop cancels every armed timer and refuses any later arming.
func (e *entry) stop(timers TimerHost) {
	e.once.Do(func() {
		e.mu.Lock()
		e.stopped = true
		for s, id := range e.timers {
			_ = timers.Cancel(id)
			delete(e.timers, s)
		}
		e.snap.Stopped = true
		e.mu.Unlock()
		e.cancel()
		close(e.done)
	})
}

func (e *entry) publishState() {
	st := EntryState{
		Name:          e.name,
		TradeDate:     e.tradeDate,
		PreTradeDate:  e.preTradeDate,
		NextTradeDate: e.nextTradeDate,
		DayStart:      e.dayStart,
		DayEnd:        e.dayEnd,
		Pending:       append([]calendar.TimePeriod{}, e.periods...),
	}
	if e.current != nil {
		p := *e.current
		st.Current = &p
	}
	if e.lastErr != nil {
		st.LastError = e.lastErr.Error()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	_, st.Retrying = e.timers[slotRetry]
	st.Stopped = e.stopped
	e.snap = st
}
