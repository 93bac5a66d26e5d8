package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"

	"github.com/wenjunxiao/trade-calendar/go_src/calendar"
	"github.com/wenjunxiao/trade-calendar/go_src/calendar_manager"
	"github.com/wenjunxiao/trade-calendar/go_src/trade_exceptions"
)

// Registry is the read side of the calendar manager.
type Registry interface {
	Names() []string
	Calendar(name string) (calendar.Provider, bool)
	State(name string) (calendar_manager.EntryState, bool)
}

// Server serves calendar queries, the event stream and metrics.
type Server struct {
	router   chi.Router
	registry Registry
	hub      *Hub
}

// NewServer builds the routes. hub and metrics may be nil.
func NewServer(registry Registry, hub *Hub, metrics http.Handler) *Server {
	s := &Server{router: chi.NewRouter(), registry: registry, hub: hub}

	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/calendars", s.listCalendars)
	r.Route("/calendars/{name}", func(r chi.Router) {
		r.Get("/timeinfo", s.timeInfo)
		r.Get("/today", s.today)
		r.Get("/boundaries", s.boundaries)
		r.Get("/state", s.state)
	})
	if hub != nil {
		r.Get("/events", hub.ServeWS)
	}
	if metrics != nil {
		r.Handle("/metrics", metrics)
	}
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logrus.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"duration":   time.Since(start).String(),
			"request_id": middleware.GetReqID(r.Context()),
		}).Debug("HTTP request")
	})
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.Errorf("Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (calendar.Provider, bool) {
	name := chi.URLParam(r, "name")
	cal, ok := s.registry.Calendar(name)
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("unknown calendar "+name))
		return nil, false
	}
	return cal, true
}

// dateParam reads ?date= (YYYYMMDD or YYYY-MM-DD), defaulting to the calendar's today.
func dateParam(r *http.Request, cal calendar.Provider) (int, error) {
	raw := r.URL.Query().Get("date")
	if raw == "" {
		return cal.Today(), nil
	}
	return calendar.ParseTradeDateString(raw)
}

type calendarSummary struct {
	Name  string                       `json:"name"`
	State *calendar_manager.EntryState `json:"state,omitempty"`
}

func (s *Server) listCalendars(w http.ResponseWriter, r *http.Request) {
	names := s.registry.Names()
	out := make([]calendarSummary, 0, len(names))
	for _, name := range names {
		sum := calendarSummary{Name: name}
		if st, ok := s.registry.State(name); ok {
			sum.State = &st
		}
		out = append(out, sum)
	}
	writeJSON(w, http.StatusOK, out)
}

type timeInfoResponse struct {
	calendar.TimeInfo
	Real      bool                       `json:"real"`
	Formatted calendar.FormattedTimeInfo `json:"formatted"`
}

func (s *Server) timeInfo(w http.ResponseWriter, r *http.Request) {
	cal, ok := s.lookup(w, r)
	if !ok {
		return
	}
	date, err := dateParam(r, cal)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	direction := 1
	if raw := r.URL.Query().Get("direction"); raw != "" {
		if direction, err = strconv.Atoi(raw); err != nil {
			writeError(w, http.StatusBadRequest, errors.New("direction must be an integer"))
			return
		}
	}
	useReal, _ := strconv.ParseBool(r.URL.Query().Get("real"))

	var info calendar.TimeInfo
	if useReal {
		info, err = cal.RealTimeInfo(r.Context(), date, direction)
	} else {
		info, err = cal.TimeInfo(r.Context(), date, direction)
	}
	if err != nil {
		writeError(w, resolutionStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, timeInfoResponse{TimeInfo: info, Real: useReal, Formatted: calendar.FormatTimeInfo(info, cal.Location())})
}

func resolutionStatus(err error) int {
	switch {
	case errors.Is(err, trade_exceptions.ErrNoTradingDay):
		return http.StatusNotFound
	case trade_exceptions.IsConfigurationError(err):
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}

type todayResponse struct {
	TradeDate int    `json:"trade_date"`
	Now       int64  `json:"now"`
	NowText   string `json:"now_text"`
}

func (s *Server) today(w http.ResponseWriter, r *http.Request) {
	cal, ok := s.lookup(w, r)
	if !ok {
		return
	}
	now := cal.Now()
	writeJSON(w, http.StatusOK, todayResponse{
		TradeDate: cal.Today(),
		Now:       now,
		NowText:   time.UnixMilli(now).In(cal.Location()).Format("2006-01-02 15:04:05.000 MST"),
	})
}

type boundariesResponse struct {
	TradeDate             int   `json:"trade_date"`
	BeforeMarketStart     int64 `json:"before_market_start"`
	MarketOpen            int64 `json:"market_open"`
	MarketClose           int64 `json:"market_close"`
	AfterMarketEnd        int64 `json:"after_market_end"`
	RealBeforeMarketStart int64 `json:"real_before_market_start"`
	RealMarketOpen        int64 `json:"real_market_open"`
	RealMarketClose       int64 `json:"real_market_close"`
	RealAfterMarketEnd    int64 `json:"real_after_market_end"`
}

func (s *Server) boundaries(w http.ResponseWriter, r *http.Request) {
	cal, ok := s.lookup(w, r)
	if !ok {
		return
	}
	date, err := dateParam(r, cal)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp := boundariesResponse{TradeDate: date}
	for _, b := range []struct {
		dst *int64
		fn  func(int) (int64, error)
	}{
		{&resp.BeforeMarketStart, cal.BeforeMarketStart},
		{&resp.MarketOpen, cal.MarketOpen},
		{&resp.MarketClose, cal.MarketClose},
		{&resp.AfterMarketEnd, cal.AfterMarketEnd},
		{&resp.RealBeforeMarketStart, cal.RealBeforeMarketStart},
		{&resp.RealMarketOpen, cal.RealMarketOpen},
		{&resp.RealMarketClose, cal.RealMarketClose},
		{&resp.RealAfterMarketEnd, cal.RealAfterMarketEnd},
	} {
		if *b.dst, err = b.fn(date); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) state(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	st, ok := s.registry.State(name)
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("unknown calendar "+name))
		return
	}
	writeJSON(w, http.StatusOK, st)
}
