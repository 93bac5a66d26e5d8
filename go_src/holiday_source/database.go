package holiday_source

import (
	"context"

	"github.com/wenjunxiao/trade-calendar/go_src/calendar"
	"github.com/wenjunxiao/trade-calendar/go_src/database"
)

// HolidayStore is the query side of database.HolidayManager.
type HolidayStore interface {
	Overlapping(ctx context.Context, calendarName string, start, end int64) ([]database.HolidayRecord, error)
}

// Database reads the holidays of one calendar from the holiday table.
type Database struct {
	store    HolidayStore
	calendar string
}

func NewDatabase(store HolidayStore, calendarName string) *Database {
	return &Database{store: store, calendar: calendarName}
}

func (d *Database) Fetch(ctx context.Context, start, end int64) ([]calendar.HolidayInterval, error) {
	records, err := d.store.Overlapping(ctx, d.calendar, start, end)
	if err != nil {
		return nil, err
	}
	intervals := make([]calendar.HolidayInterval, 0, len(records))
	for _, r := range records {
		intervals = append(intervals, calendar.HolidayInterval{Start: r.Start, End: r.End})
	}
	return intervals, nil
}
