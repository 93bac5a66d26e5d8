package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	_ "time/tzdata"

	"github.com/google/uuid"

	"github.com/wenjunxiao/trade-calendar/go_src/api"
	"github.com/wenjunxiao/trade-calendar/go_src/calendar"
	"github.com/wenjunxiao/trade-calendar/go_src/calendar_manager"
	"github.com/wenjunxiao/trade-calendar/go_src/configuration"
	"github.com/wenjunxiao/trade-calendar/go_src/database"
	"github.com/wenjunxiao/trade-calendar/go_src/metrics"
	"github.com/wenjunxiao/trade-calendar/go_src/trade_exceptions"
)

func nySession() calendar.Config {
	return calendar.Config{
		Start:    calendar.MustTimePoint("09:30"),
		End:      calendar.MustTimePoint("16:00"),
		Timezone: "America/New_York",
	}
}

func memoryServices(t *testing.T) *services {
	t.Helper()
	db, err := database.Open(database.DriverSQLite, database.MemoryPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := database.NewHolidayManager(db).CreateSchemaHolidays(); err != nil {
		t.Fatalf("CreateSchemaHolidays failed: %v", err)
	}
	return &services{db: db}
}

func TestEventSinks_JournalAndHub(t *testing.T) {
	svc := memoryServices(t)
	cfg := &configuration.Config{Database: configuration.Database{Enabled: true, Journal: true}}
	sinks, err := eventSinks(cfg, svc, api.NewHub(), metrics.New("test"))
	if err != nil {
		t.Fatalf("eventSinks failed: %v", err)
	}
	if len(sinks) != 3 {
		t.Fatalf("Expected journal, websocket and log sinks, got %d", len(sinks))
	}

	ev := calendar_manager.Event{ID: uuid.New(), Type: calendar_manager.EventMarketOpen, Calendar: "XNYS", TradeDate: 20240105, EmittedAt: 1}
	for _, s := range sinks {
		if err := s.Publish(context.Background(), ev); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}
	recent, err := database.NewEventJournal(svc.db).Recent(context.Background(), "XNYS", 10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(recent) != 1 || recent[0].ID != ev.ID {
		t.Errorf("Expected the journaled event, got %+v", recent)
	}
}

func TestStartCalendars(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "holiday feed down", http.StatusInternalServerError)
	}))
	defer down.Close()

	cfg := &configuration.Config{
		Calendars: []configuration.CalendarSettings{
			{Name: "XNYS", Session: nySession()},
			{Name: "UNREACHABLE", Session: nySession(), Holidays: configuration.HolidaySettings{Sources: []string{"http"}, HTTPURL: down.URL}},
		},
	}
	mgr := calendar_manager.New(nil)
	defer mgr.StopAll()

	started, err := startCalendars(context.Background(), cfg, mgr, &services{})
	if err != nil {
		t.Fatalf("startCalendars failed: %v", err)
	}
	if started != 1 {
		t.Fatalf("Expected 1 started calendar, got %d", started)
	}
	st, ok := mgr.State("XNYS")
	if !ok || st.TradeDate == 0 || st.NextTradeDate <= st.TradeDate {
		t.Errorf("Unexpected state %+v", st)
	}
	if _, ok := mgr.State("UNREACHABLE"); ok {
		t.Error("A calendar whose first resolution failed must not be registered")
	}
	heartbeat(mgr)()
}

func TestStartCalendars_ConfigurationErrorsAreFatal(t *testing.T) {
	tests := []struct {
		name     string
		settings configuration.CalendarSettings
	}{
		{"inverted session", configuration.CalendarSettings{Name: "BROKEN", Session: calendar.Config{
			Start: calendar.MustTimePoint("16:00"), End: calendar.MustTimePoint("09:30"),
		}}},
		{"unknown virtual strategy", configuration.CalendarSettings{Name: "SIM", Session: calendar.Config{
			Start: calendar.MustTimePoint("09:30"), End: calendar.MustTimePoint("16:00"),
			Virtual: &calendar.VirtualConfig{Strategy: "BOGUS"},
		}}},
		{"unknown holiday source", configuration.CalendarSettings{Name: "ODD", Session: nySession(),
			Holidays: configuration.HolidaySettings{Sources: []string{"oracle"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &configuration.Config{Calendars: []configuration.CalendarSettings{tt.settings}}
			mgr := calendar_manager.New(nil)
			defer mgr.StopAll()

			_, err := startCalendars(context.Background(), cfg, mgr, &services{})
			if !trade_exceptions.IsConfigurationError(err) {
				t.Fatalf("Expected a ConfigurationError, got %v", err)
			}
			if len(mgr.Names()) != 0 {
				t.Errorf("Nothing should be registered, got %v", mgr.Names())
			}
		})
	}
}
