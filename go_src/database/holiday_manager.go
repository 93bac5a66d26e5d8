package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// HolidayManager handles operations for the calendar_holiday table.
type HolidayManager struct {
	cdb *CalendarDB
}

func NewHolidayManager(cdb *CalendarDB) *HolidayManager {
	return &HolidayManager{cdb: cdb}
}

// CreateSchemaHolidays creates the calendar_holiday table.
func (hm *HolidayManager) CreateSchemaHolidays() error {
	schema := `
	CREATE TABLE IF NOT EXISTS calendar_holiday (
		id VARCHAR PRIMARY KEY,
		calendar VARCHAR NOT NULL,
		start_ms BIGINT NOT NULL,
		end_ms BIGINT NOT NULL,
		reason VARCHAR,
		created_at BIGINT NOT NULL
	);`
	if _, err := hm.cdb.DB().Exec(schema); err != nil {
		return fmt.Errorf("failed to create calendar_holiday schema: %w", err)
	}
	index := `CREATE INDEX IF NOT EXISTS idx_calendar_holiday_range ON calendar_holiday (calendar, start_ms, end_ms);`
	if _, err := hm.cdb.DB().Exec(index); err != nil {
		return fmt.Errorf("failed to create calendar_holiday index: %w", err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// InsertHoliday stores h, assigning an ID and creation time when missing.
func (hm *HolidayManager) InsertHoliday(ctx context.Context, h *HolidayRecord) error {
	return insertHoliday(ctx, hm.cdb.DB(), h)
}

// InsertHolidays stores every record in one transaction: either all are stored or none.
func (hm *HolidayManager) InsertHolidays(ctx context.Context, records []*HolidayRecord) error {
	tx, err := hm.cdb.DB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin holiday import: %w", err)
	}
	for _, h := range records {
		if err := insertHoliday(ctx, tx, h); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				logrus.Errorf("Failed to roll back holiday import: %v", rbErr)
			}
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit holiday import: %w", err)
	}
	return nil
}

func insertHoliday(ctx context.Context, ex execer, h *HolidayRecord) error {
	if h == nil {
		return fmt.Errorf("holiday cannot be nil")
	}
	if h.Calendar == "" {
		return fmt.Errorf("holiday calendar is required")
	}
	if h.End <= h.Start {
		return fmt.Errorf("holiday end %d must be after start %d", h.End, h.Start)
	}
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	if h.CreatedAt == 0 {
		h.CreatedAt = time.Now().UnixMilli()
	}

	query := `INSERT INTO calendar_holiday (id, calendar, start_ms, end_ms, reason, created_at) VALUES (?, ?, ?, ?, ?, ?);`
	if _, err := ex.ExecContext(ctx, query, h.ID, h.Calendar, h.Start, h.End, h.Reason, h.CreatedAt); err != nil {
		return fmt.Errorf("failed to insert holiday for calendar %s: %w", h.Calendar, err)
	}
	return nil
}

// Overlapping returns the holidays of calendarName intersecting [start, end), ordered by start.
func (hm *HolidayManager) Overlapping(ctx context.Context, calendarName string, start, end int64) ([]HolidayRecord, error) {
	query := `
	SELECT id, calendar, start_ms, end_ms, COALESCE(reason, ''), created_at
	FROM calendar_holiday
	WHERE calendar = ? AND start_ms < ? AND end_ms > ?
	ORDER BY start_ms, end_ms;`
	return hm.query(ctx, query, calendarName, end, start)
}

// ListHolidays returns every holiday of calendarName ordered by start.
func (hm *HolidayManager) ListHolidays(ctx context.Context, calendarName string) ([]HolidayRecord, error) {
	query := `
	SELECT id, calendar, start_ms, end_ms, COALESCE(reason, ''), created_at
	FROM calendar_holiday
	WHERE calendar = ?
	ORDER BY start_ms, end_ms;`
	return hm.query(ctx, query, calendarName)
}

// DeleteHoliday removes a holiday by ID. Deleting a missing ID is not an error.
func (hm *HolidayManager) DeleteHoliday(ctx context.Context, id string) error {
	if _, err := hm.cdb.DB().ExecContext(ctx, `DELETE FROM calendar_holiday WHERE id = ?;`, id); err != nil {
		return fmt.Errorf("failed to delete holiday %s: %w", id, err)
	}
	return nil
}

func (hm *HolidayManager) query(ctx context.Context, query string, args ...any) ([]HolidayRecord, error) {
	rows, err := hm.cdb.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query holidays: %w", err)
	}
	defer rows.Close()

	var records []HolidayRecord
	for rows.Next() {
		var r HolidayRecord
		if err := rows.Scan(&r.ID, &r.Calendar, &r.Start, &r.End, &r.Reason, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan holiday row: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate holiday rows: %w", err)
	}
	return records, nil
}
