package database

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/wenjunxiao/trade-calendar/go_src/calendar"
	"github.com/wenjunxiao/trade-calendar/go_src/calendar_manager"
)

var drivers = []string{DriverDuckDB, DriverSQLite}

// setupTestDB opens an in-memory database with both schemas.
func setupTestDB(t *testing.T, driver string) *CalendarDB {
	t.Helper()
	cdb, err := Open(driver, MemoryPath)
	if err != nil {
		t.Fatalf("Failed to create in-memory %s test DB: %v", driver, err)
	}
	t.Cleanup(func() { cdb.Close() })
	if err := NewHolidayManager(cdb).CreateSchemaHolidays(); err != nil {
		t.Fatalf("CreateSchemaHolidays failed: %v", err)
	}
	if err := NewEventJournal(cdb).CreateSchemaEvents(); err != nil {
		t.Fatalf("CreateSchemaEvents failed: %v", err)
	}
	return cdb
}

func TestOpen_InMemory(t *testing.T) {
	for _, driver := range drivers {
		t.Run(driver, func(t *testing.T) {
			cdb, err := Open(driver, MemoryPath)
			if err != nil {
				t.Fatalf("Open in-memory failed: %v", err)
			}
			if !cdb.inMemory || cdb.Driver() != driver {
				t.Errorf("Unexpected db state: inMemory=%v driver=%s", cdb.inMemory, cdb.Driver())
			}
			if err := cdb.DB().Ping(); err != nil {
				t.Errorf("Ping failed: %v", err)
			}
			if cdb.IsDatabaseCorrupted() {
				t.Error("In-memory database can never be corrupted")
			}
			if err := cdb.MarkDatabaseAsCorrupted(); err == nil {
				t.Error("Expected an error marking an in-memory database")
			}
			if err := cdb.Close(); err != nil {
				t.Errorf("Close failed: %v", err)
			}
		})
	}
}

func TestOpen_Errors(t *testing.T) {
	if _, err := Open("postgres", MemoryPath); err == nil || !strings.Contains(err.Error(), "unsupported") {
		t.Errorf("Expected unsupported driver error, got %v", err)
	}
	if _, err := Open(DriverSQLite, ""); err == nil {
		t.Error("Expected an error for an empty path")
	}
}

func TestOpen_FileAndCorruptionMarker(t *testing.T) {
	for _, driver := range drivers {
		t.Run(driver, func(t *testing.T) {
			tempDir := t.TempDir()
			dbFilePath := filepath.Join(tempDir, "nested", "calendar.db")

			cdb, err := Open(driver, dbFilePath)
			if err != nil {
				t.Fatalf("Open with file failed: %v", err)
			}
			if err := NewHolidayManager(cdb).CreateSchemaHolidays(); err != nil {
				t.Fatalf("CreateSchemaHolidays failed: %v", err)
			}
			if cdb.IsDatabaseCorrupted() {
				t.Error("Database should not be marked as corrupted initially")
			}
			if err := cdb.MarkDatabaseAsCorrupted(); err != nil {
				t.Fatalf("MarkDatabaseAsCorrupted failed: %v", err)
			}
			if !cdb.IsDatabaseCorrupted() {
				t.Error("Database should be marked as corrupted after marking")
			}
			cdb.Close()

			if _, err := Open(driver, dbFilePath); err == nil {
				t.Fatal("Open should fail for a database marked as corrupted")
			}
			if err := cdb.RemoveCorruptionMark(); err != nil {
				t.Fatalf("RemoveCorruptionMark failed: %v", err)
			}
			if _, statErr := os.Stat(filepath.Join(filepath.Dir(dbFilePath), corruptionMarkerFile)); !os.IsNotExist(statErr) {
				t.Error("Corruption marker file still exists after RemoveCorruptionMark")
			}

			reopened, err := Open(driver, dbFilePath)
			if err != nil {
				t.Fatalf("Reopen failed: %v", err)
			}
			defer reopened.Close()
			if _, err := os.Stat(dbFilePath); os.IsNotExist(err) {
				t.Errorf("Database file %s was not created", dbFilePath)
			}
		})
	}
}

func TestHolidayManager(t *testing.T) {
	for _, driver := range drivers {
		t.Run(driver, func(t *testing.T) {
			cdb := setupTestDB(t, driver)
			hm := NewHolidayManager(cdb)
			ctx := context.Background()

			records := []*HolidayRecord{
				{Calendar: "XNYS", Start: 3000, End: 4000, Reason: "later"},
				{Calendar: "XNYS", Start: 1000, End: 2000, Reason: "earlier"},
				{Calendar: "XLON", Start: 1000, End: 5000},
			}
			for _, r := range records {
				if err := hm.InsertHoliday(ctx, r); err != nil {
					t.Fatalf("InsertHoliday failed: %v", err)
				}
				if r.ID == "" || r.CreatedAt == 0 {
					t.Errorf("Expected ID and CreatedAt to be assigned: %+v", r)
				}
			}

			got, err := hm.Overlapping(ctx, "XNYS", 1500, 3500)
			if err != nil {
				t.Fatalf("Overlapping failed: %v", err)
			}
			if len(got) != 2 || got[0].Reason != "earlier" || got[1].Reason != "later" {
				t.Errorf("Unexpected overlapping holidays: %+v", got)
			}

			// Half-open: a holiday ending exactly at start does not overlap.
			got, err = hm.Overlapping(ctx, "XNYS", 2000, 3000)
			if err != nil {
				t.Fatalf("Overlapping failed: %v", err)
			}
			if len(got) != 0 {
				t.Errorf("Expected no overlap for touching ranges, got %+v", got)
			}

			got, err = hm.Overlapping(ctx, "XLON", 0, 10000)
			if err != nil {
				t.Fatalf("Overlapping failed: %v", err)
			}
			if len(got) != 1 || got[0].Start != 1000 || got[0].End != 5000 || got[0].Reason != "" {
				t.Errorf("Unexpected XLON holidays: %+v", got)
			}

			if err := hm.DeleteHoliday(ctx, records[0].ID); err != nil {
				t.Fatalf("DeleteHoliday failed: %v", err)
			}
			all, err := hm.ListHolidays(ctx, "XNYS")
			if err != nil {
				t.Fatalf("ListHolidays failed: %v", err)
			}
			if len(all) != 1 || all[0].ID != records[1].ID {
				t.Errorf("Unexpected holidays after delete: %+v", all)
			}
		})
	}
}

func TestHolidayManager_InsertValidation(t *testing.T) {
	cdb := setupTestDB(t, DriverSQLite)
	hm := NewHolidayManager(cdb)
	ctx := context.Background()

	tests := []struct {
		name string
		h    *HolidayRecord
	}{
		{"nil", nil},
		{"no calendar", &HolidayRecord{Start: 1, End: 2}},
		{"inverted", &HolidayRecord{Calendar: "XNYS", Start: 2, End: 1}},
		{"empty", &HolidayRecord{Calendar: "XNYS", Start: 2, End: 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := hm.InsertHoliday(ctx, tt.h); err == nil {
				t.Error("Expected a validation error")
			}
		})
	}
}

func TestHolidayManager_InsertHolidaysIsAtomic(t *testing.T) {
	for _, driver := range drivers {
		t.Run(driver, func(t *testing.T) {
			cdb := setupTestDB(t, driver)
			hm := NewHolidayManager(cdb)
			ctx := context.Background()

			existing := &HolidayRecord{Calendar: "XNYS", Start: 100, End: 200}
			if err := hm.InsertHoliday(ctx, existing); err != nil {
				t.Fatalf("InsertHoliday failed: %v", err)
			}

			// The second record collides on the primary key after the first was written.
			err := hm.InsertHolidays(ctx, []*HolidayRecord{
				{Calendar: "XNYS", Start: 1000, End: 2000, Reason: "first"},
				{ID: existing.ID, Calendar: "XNYS", Start: 3000, End: 4000},
			})
			if err == nil {
				t.Fatal("Expected the duplicate ID to fail the import")
			}
			all, err := hm.ListHolidays(ctx, "XNYS")
			if err != nil {
				t.Fatalf("ListHolidays failed: %v", err)
			}
			if len(all) != 1 || all[0].ID != existing.ID {
				t.Errorf("Expected the failed import rolled back, got %+v", all)
			}

			if err := hm.InsertHolidays(ctx, []*HolidayRecord{
				{Calendar: "XNYS", Start: 1000, End: 2000},
				{Calendar: "XNYS", Start: 3000, End: 4000},
			}); err != nil {
				t.Fatalf("InsertHolidays failed: %v", err)
			}
			if all, _ := hm.ListHolidays(ctx, "XNYS"); len(all) != 3 {
				t.Errorf("Expected 3 holidays, got %d", len(all))
			}
		})
	}
}

func TestEventJournal(t *testing.T) {
	for _, driver := range drivers {
		t.Run(driver, func(t *testing.T) {
			cdb := setupTestDB(t, driver)
			ej := NewEventJournal(cdb)
			ctx := context.Background()

			events := []calendar_manager.Event{
				{ID: uuid.New(), Type: calendar_manager.EventTradeDateChange, Calendar: "XNYS", TradeDate: 20240105, PrevTradeDate: 20240104, NextTradeDate: 20240108, EmittedAt: 100},
				{ID: uuid.New(), Type: calendar_manager.EventMarketOpen, Calendar: "XNYS", TradeDate: 20240105, EmittedAt: 200},
				{ID: uuid.New(), Type: calendar_manager.EventSystemTimeStart, Calendar: "XNYS", TradeDate: 20240105, Period: &calendar.TimePeriod{Start: 10, End: 20}, EmittedAt: 300},
				{ID: uuid.New(), Type: calendar_manager.EventMarketOpen, Calendar: "XLON", TradeDate: 20240105, EmittedAt: 150},
			}
			for _, ev := range events {
				if err := ej.Publish(ctx, ev); err != nil {
					t.Fatalf("Publish failed: %v", err)
				}
			}
			if err := ej.Publish(ctx, events[0]); err == nil {
				t.Error("Expected a duplicate event ID to be rejected")
			}

			recent, err := ej.Recent(ctx, "XNYS", 2)
			if err != nil {
				t.Fatalf("Recent failed: %v", err)
			}
			if len(recent) != 2 {
				t.Fatalf("Expected 2 events, got %d", len(recent))
			}
			if recent[0].ID != events[2].ID || recent[1].ID != events[1].ID {
				t.Errorf("Expected newest first, got %v then %v", recent[0], recent[1])
			}
			if recent[0].Period == nil || *recent[0].Period != (calendar.TimePeriod{Start: 10, End: 20}) {
				t.Errorf("Period not preserved: %+v", recent[0].Period)
			}

			counts, err := ej.CountByType(ctx, "XNYS")
			if err != nil {
				t.Fatalf("CountByType failed: %v", err)
			}
			if counts[string(calendar_manager.EventMarketOpen)] != 1 || counts[string(calendar_manager.EventTradeDateChange)] != 1 {
				t.Errorf("Unexpected counts: %v", counts)
			}
		})
	}
}
