package holiday_source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/redis/go-redis/v9"

	"github.com/wenjunxiao/trade-calendar/go_src/calendar"
	"github.com/wenjunxiao/trade-calendar/go_src/database"
)

func newYork(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("LoadLocation failed: %v", err)
	}
	return loc
}

func ms(loc *time.Location, y int, m time.Month, d, h, min int) int64 {
	return time.Date(y, m, d, h, min, 0, 0, loc).UnixMilli()
}

func TestStatic(t *testing.T) {
	loc := newYork(t)
	s, err := NewStatic(
		[]string{"2024-12-25", "20240101"},
		[]calendar.HolidayInterval{
			{Start: ms(loc, 2024, 7, 3, 13, 0), End: ms(loc, 2024, 7, 3, 23, 59)},
			{Start: 10, End: 5}, // ignored
		},
		loc,
	)
	if err != nil {
		t.Fatalf("NewStatic failed: %v", err)
	}
	if s.Len() != 3 {
		t.Errorf("Expected 3 intervals, got %d", s.Len())
	}

	got, _ := s.Fetch(context.Background(), ms(loc, 2024, 12, 25, 9, 30), ms(loc, 2024, 12, 25, 16, 0))
	want := calendar.HolidayInterval{Start: ms(loc, 2024, 12, 25, 0, 0), End: ms(loc, 2024, 12, 26, 0, 0)}
	if len(got) != 1 || got[0] != want {
		t.Errorf("Expected %v, got %v", want, got)
	}

	got, _ = s.Fetch(context.Background(), ms(loc, 2024, 7, 3, 9, 30), ms(loc, 2024, 7, 3, 16, 0))
	if len(got) != 1 || got[0].Start != ms(loc, 2024, 7, 3, 13, 0) {
		t.Errorf("Expected the half-day interval, got %v", got)
	}

	got, _ = s.Fetch(context.Background(), ms(loc, 2024, 7, 5, 9, 30), ms(loc, 2024, 7, 5, 16, 0))
	if len(got) != 0 {
		t.Errorf("Expected no holidays, got %v", got)
	}

	if _, err := NewStatic([]string{"Christmas"}, nil, loc); err == nil {
		t.Error("Expected an error for an invalid closed date")
	}
}

type fakeStore struct {
	records []database.HolidayRecord
	err     error
	asked   string
}

func (f *fakeStore) Overlapping(ctx context.Context, calendarName string, start, end int64) ([]database.HolidayRecord, error) {
	f.asked = calendarName
	return f.records, f.err
}

func TestDatabase(t *testing.T) {
	store := &fakeStore{records: []database.HolidayRecord{{Start: 1, End: 2}, {Start: 5, End: 9}}}
	got, err := NewDatabase(store, "XNYS").Fetch(context.Background(), 0, 10)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if store.asked != "XNYS" || len(got) != 2 || got[1] != (calendar.HolidayInterval{Start: 5, End: 9}) {
		t.Errorf("Unexpected result %v (asked %s)", got, store.asked)
	}

	store.err = errors.New("db locked")
	if _, err := NewDatabase(store, "XNYS").Fetch(context.Background(), 0, 10); err == nil {
		t.Error("Expected the store error")
	}
}

func TestBounded(t *testing.T) {
	slow := calendar.HolidaySourceFunc(func(ctx context.Context, start, end int64) ([]calendar.HolidayInterval, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	_, err := Bounded(slow, 20*time.Millisecond).Fetch(context.Background(), 0, 1)
	if err == nil || !strings.Contains(err.Error(), "timed out") || !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected a timeout error, got %v", err)
	}

	static, _ := NewStatic(nil, nil, time.UTC)
	if src, ok := Bounded(static, 0).(*Static); !ok || src != static {
		t.Error("A zero timeout should return the source unchanged")
	}
}

func TestMulti(t *testing.T) {
	a := calendar.HolidaySourceFunc(func(ctx context.Context, start, end int64) ([]calendar.HolidayInterval, error) {
		return []calendar.HolidayInterval{{Start: 5, End: 10}}, nil
	})
	b := calendar.HolidaySourceFunc(func(ctx context.Context, start, end int64) ([]calendar.HolidayInterval, error) {
		return []calendar.HolidayInterval{{Start: 1, End: 6}, {Start: 20, End: 30}}, nil
	})
	got, err := Multi(a, b).Fetch(context.Background(), 0, 100)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	want := []calendar.HolidayInterval{{Start: 1, End: 10}, {Start: 20, End: 30}}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("Expected %v, got %v", want, got)
	}

	failing := calendar.HolidaySourceFunc(func(ctx context.Context, start, end int64) ([]calendar.HolidayInterval, error) {
		return nil, errors.New("feed down")
	})
	if _, err := Multi(a, failing).Fetch(context.Background(), 0, 100); err == nil {
		t.Error("Expected the failing source to fail the union")
	}
	if got, err := Multi().Fetch(context.Background(), 0, 100); err != nil || len(got) != 0 {
		t.Errorf("An empty union should report no holidays, got %v (%v)", got, err)
	}
}

func TestHTTPSource(t *testing.T) {
	loc := newYork(t)
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if r.URL.Path != "/api/holidays" {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("calendar") != "XNYS" || r.Header.Get("X-Api-Key") != "secret" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if n == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"holidays":[{"date":"2024-12-25","reason":"Christmas"},{"start":%s,"end":%s}]}`,
			r.URL.Query().Get("start"), r.URL.Query().Get("end"))
	}))
	defer server.Close()

	src := NewHTTPSource(server.URL+"/api/", "XNYS", loc, WithHeader("X-Api-Key", "secret"), WithRateLimit(100, 10))
	got, err := src.Fetch(context.Background(), 1000, 2000)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("Expected one retry after 429, got %d calls", calls.Load())
	}
	want := []calendar.HolidayInterval{
		{Start: ms(loc, 2024, 12, 25, 0, 0), End: ms(loc, 2024, 12, 26, 0, 0)},
		{Start: 1000, End: 2000},
	}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
}

func TestHTTPSource_Errors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("calendar") {
		case "GONE":
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("maintenance"))
		case "LIMITED":
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			w.Write([]byte("not json"))
		}
	}))
	defer server.Close()

	_, err := NewHTTPSource(server.URL, "GONE", time.UTC).Fetch(context.Background(), 0, 1)
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.Code != http.StatusServiceUnavailable || httpErr.Body != "maintenance" {
		t.Errorf("Expected HTTPError 503, got %v", err)
	}

	_, err = NewHTTPSource(server.URL, "LIMITED", time.UTC).Fetch(context.Background(), 0, 1)
	if !errors.As(err, &httpErr) || httpErr.Code != http.StatusTooManyRequests {
		t.Errorf("Expected HTTPError 429 after one retry, got %v", err)
	}

	_, err = NewHTTPSource(server.URL, "XNYS", time.UTC).Fetch(context.Background(), 0, 1)
	if err == nil || !strings.Contains(err.Error(), "failed to decode") {
		t.Errorf("Expected a decode error, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewHTTPSource(server.URL, "XNYS", time.UTC).Fetch(ctx, 0, 1); err == nil {
		t.Error("Expected an error for a cancelled context")
	}
}

type fakeAlpaca struct {
	days []alpaca.CalendarDay
	err  error
	req  alpaca.GetCalendarRequest
}

func (f *fakeAlpaca) GetCalendar(req alpaca.GetCalendarRequest) ([]alpaca.CalendarDay, error) {
	f.req = req
	return f.days, f.err
}

func TestAlpacaSource(t *testing.T) {
	loc := newYork(t)
	// Week of 2024-07-01: Thursday 07-04 missing (holiday), Wednesday 07-03 closes early.
	client := &fakeAlpaca{days: []alpaca.CalendarDay{
		{Date: "2024-07-01", Open: "09:30", Close: "16:00"},
		{Date: "2024-07-02", Open: "09:30", Close: "16:00"},
		{Date: "2024-07-03", Open: "09:30", Close: "13:00"},
		{Date: "2024-07-05", Open: "09:30", Close: "16:00"},
	}}
	src := NewAlpacaSource(client, loc, calendar.MustTimePoint("16:00"))

	got, err := src.Fetch(context.Background(), ms(loc, 2024, 7, 1, 0, 0), ms(loc, 2024, 7, 8, 0, 0))
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	want := []calendar.HolidayInterval{
		{Start: ms(loc, 2024, 7, 3, 13, 0), End: ms(loc, 2024, 7, 4, 0, 0)},
		{Start: ms(loc, 2024, 7, 4, 0, 0), End: ms(loc, 2024, 7, 5, 0, 0)},
	}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
	if client.req.Start.Format("2006-01-02") != "2024-07-01" || client.req.End.Format("2006-01-02") != "2024-07-07" {
		t.Errorf("Unexpected request range %v - %v", client.req.Start, client.req.End)
	}

	// A session-sized window on a regular day yields nothing.
	got, err = src.Fetch(context.Background(), ms(loc, 2024, 7, 1, 9, 30), ms(loc, 2024, 7, 1, 16, 0))
	if err != nil || len(got) != 0 {
		t.Errorf("Expected no holidays, got %v (%v)", got, err)
	}

	client.err = errors.New("unauthorized")
	if _, err := src.Fetch(context.Background(), ms(loc, 2024, 7, 1, 0, 0), ms(loc, 2024, 7, 2, 0, 0)); err == nil {
		t.Error("Expected the client error")
	}
}

type fakeRedis struct {
	data   map[string]string
	getErr error
	sets   int
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	if f.getErr != nil {
		return redis.NewStringResult("", f.getErr)
	}
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	f.sets++
	switch v := value.(type) {
	case []byte:
		f.data[key] = string(v)
	case string:
		f.data[key] = v
	}
	return redis.NewStatusResult("OK", nil)
}

func TestRedisCache(t *testing.T) {
	var calls atomic.Int32
	inner := calendar.HolidaySourceFunc(func(ctx context.Context, start, end int64) ([]calendar.HolidayInterval, error) {
		calls.Add(1)
		if start == 666 {
			return nil, errors.New("feed down")
		}
		return []calendar.HolidayInterval{{Start: start, End: start + 10}}, nil
	})
	rdb := &fakeRedis{data: map[string]string{}}
	cache := NewRedisCache(rdb, inner, "XNYS", 0)

	for i := 0; i < 3; i++ {
		got, err := cache.Fetch(context.Background(), 100, 200)
		if err != nil {
			t.Fatalf("Fetch failed: %v", err)
		}
		if len(got) != 1 || got[0] != (calendar.HolidayInterval{Start: 100, End: 110}) {
			t.Errorf("Unexpected holidays %v", got)
		}
	}
	if calls.Load() != 1 || rdb.sets != 1 {
		t.Errorf("Expected a single source call and cache write, got %d/%d", calls.Load(), rdb.sets)
	}

	if _, err := cache.Fetch(context.Background(), 666, 700); err == nil {
		t.Error("Expected the source error")
	}
	if _, ok := rdb.data[cache.key(666, 700)]; ok {
		t.Error("Errors must not be cached")
	}

	rdb.getErr = errors.New("connection refused")
	if _, err := cache.Fetch(context.Background(), 100, 200); err != nil {
		t.Fatalf("Expected fallthrough on redis failure, got %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("Expected the source to be used when redis fails, calls=%d", calls.Load())
	}
}
