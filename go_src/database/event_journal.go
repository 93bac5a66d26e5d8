package database

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/wenjunxiao/trade-calendar/go_src/calendar_manager"
)

// EventJournal appends calendar events to the calendar_event table. It is an
// event sink for the calendar manager.
type EventJournal struct {
	cdb *CalendarDB
}

func NewEventJournal(cdb *CalendarDB) *EventJournal {
	return &EventJournal{cdb: cdb}
}

// CreateSchemaEvents creates the calendar_event table.
func (ej *EventJournal) CreateSchemaEvents() error {
	schema := `
	CREATE TABLE IF NOT EXISTS calendar_event (
		id VARCHAR PRIMARY KEY,
		calendar VARCHAR NOT NULL,
		event_type VARCHAR NOT NULL,
		trade_date INTEGER NOT NULL,
		emitted_at BIGINT NOT NULL,
		payload VARCHAR NOT NULL
	);`
	if _, err := ej.cdb.DB().Exec(schema); err != nil {
		return fmt.Errorf("failed to create calendar_event schema: %w", err)
	}
	return nil
}

func (ej *EventJournal) Publish(ctx context.Context, ev calendar_manager.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event %s: %w", ev.ID, err)
	}
	query := `INSERT INTO calendar_event (id, calendar, event_type, trade_date, emitted_at, payload) VALUES (?, ?, ?, ?, ?, ?);`
	_, err = ej.cdb.DB().ExecContext(ctx, query, ev.ID.String(), ev.Calendar, string(ev.Type), ev.TradeDate, ev.EmittedAt, string(payload))
	if err != nil {
		return fmt.Errorf("failed to journal event %s for calendar %s: %w", ev.Type, ev.Calendar, err)
	}
	return nil
}

// Recent returns up to limit events of calendarName, newest first.
func (ej *EventJournal) Recent(ctx context.Context, calendarName string, limit int) ([]calendar_manager.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
	SELECT id, calendar, event_type, trade_date, emitted_at, payload
	FROM calendar_event
	WHERE calendar = ?
	ORDER BY emitted_at DESC
	LIMIT ?;`
	rows, err := ej.cdb.DB().QueryContext(ctx, query, calendarName, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []calendar_manager.Event
	for rows.Next() {
		var je JournalEntry
		if err := rows.Scan(&je.ID, &je.Calendar, &je.EventType, &je.TradeDate, &je.EmittedAt, &je.Payload); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		var ev calendar_manager.Event
		if err := json.Unmarshal([]byte(je.Payload), &ev); err != nil {
			return nil, fmt.Errorf("failed to decode event %s: %w", je.ID, err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate event rows: %w", err)
	}
	return events, nil
}

// CountByType returns how many events of each type were journaled for calendarName.
func (ej *EventJournal) CountByType(ctx context.Context, calendarName string) (map[string]int, error) {
	rows, err := ej.cdb.DB().QueryContext(ctx,
		`SELECT event_type, COUNT(*) FROM calendar_event WHERE calendar = ? GROUP BY event_type;`, calendarName)
	if err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var eventType string
		var n int
		if err := rows.Scan(&eventType, &n); err != nil {
			return nil, fmt.Errorf("failed to scan event count: %w", err)
		}
		counts[eventType] = n
	}
	return counts, rows.Err()
}
