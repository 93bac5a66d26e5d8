package calendar_manager

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/wenjunxiao/trade-calendar/go_src/calendar"
)

// EventType names a lifecycle event.
type EventType string

const (
	EventTradeDateChange    EventType = "trade-date-change"
	EventSystemPeriodChange EventType = "system-period-change"
	EventSystemTimeStart    EventType = "system-time-start"
	EventSystemTimeEnd      EventType = "system-time-end"
	EventMarketOpen         EventType = "market-open"
	EventMarketClose        EventType = "market-close"
	EventAfterMarketClose   EventType = "after-market-close"
)

// Event is emitted by the manager. All timestamps are real epoch milliseconds.
type Event struct {
	ID            uuid.UUID             `json:"id"`
	Type          EventType             `json:"type"`
	Calendar      string                `json:"calendar"`
	TradeDate     int                   `json:"trade_date"`
	PrevTradeDate int                   `json:"prev_trade_date,omitempty"`
	NextTradeDate int                   `json:"next_trade_date,omitempty"`
	Period        *calendar.TimePeriod  `json:"period,omitempty"`
	Remaining     []calendar.TimePeriod `json:"remaining,omitempty"`
	EmittedAt     int64                 `json:"emitted_at"`
}

func (e Event) String() string {
	switch {
	case e.Type == EventTradeDateChange:
		return fmt.Sprintf("%s %s %d (prev %d, next %d)", e.Calendar, e.Type, e.TradeDate, e.PrevTradeDate, e.NextTradeDate)
	case e.Period != nil:
		return fmt.Sprintf("%s %s %d [%d, %d) remaining %d", e.Calendar, e.Type, e.TradeDate, e.Period.Start, e.Period.End, len(e.Remaining))
	default:
		return fmt.Sprintf("%s %s %d", e.Calendar, e.Type, e.TradeDate)
	}
}

// EventSink consumes lifecycle events. Errors and panics are logged and never
// stop the manager.
type EventSink interface {
	Publish(ctx context.Context, ev Event) error
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(ctx context.Context, ev Event) error

func (f EventSinkFunc) Publish(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

// Recorder receives scheduling measurements.
type Recorder interface {
	PassCompleted(calendar string, err error)
	RetryScheduled(calendar string)
	EventEmitted(calendar string, eventType string)
	TradeDateChanged(calendar string, tradeDate int)
}

type noopRecorder struct{}

func (noopRecorder) PassCompleted(string, error)  {}
func (noopRecorder) RetryScheduled(string)        {}
func (noopRecorder) EventEmitted(string, string)  {}
func (noopRecorder) TradeDateChanged(string, int) {}
