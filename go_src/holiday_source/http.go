package holiday_source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/wenjunxiao/trade-calendar/go_src/calendar"
)

const (
	defaultHTTPTimeout   = 10 * time.Second
	defaultRequestsPerS  = 5
	maxErrorBodyInReport = 200
)

// HTTPError is a non-2xx answer from the holiday feed.
type HTTPError struct {
	Code   int
	Reason string
	Body   string
}

func (e *HTTPError) Error() string {
	body := e.Body
	if len(body) > maxErrorBodyInReport {
		body = body[:maxErrorBodyInReport] + "..."
	}
	return fmt.Sprintf("holiday feed error (HTTP %d %s): %s", e.Code, e.Reason, body)
}

// feedHoliday is one entry of the feed. Either Date (a full local day) or
// Start/End in epoch milliseconds is set.
type feedHoliday struct {
	Date   string `json:"date,omitempty"`
	Start  int64  `json:"start,omitempty"`
	End    int64  `json:"end,omitempty"`
	Reason string `json:"reason,omitempty"`
}

type feedResponse struct {
	Holidays []feedHoliday `json:"holidays"`
}

// HTTPSource reads holidays from a JSON feed:
//
//	GET {base}/holidays?calendar=NAME&start=MS&end=MS -> {"holidays": [...]}
type HTTPSource struct {
	baseURL    string
	calendar   string
	loc        *time.Location
	httpClient *http.Client
	limiter    *rate.Limiter
	headers    http.Header
}

// HTTPOption configures an HTTPSource.
type HTTPOption func(*HTTPSource)

func WithHTTPClient(c *http.Client) HTTPOption {
	return func(s *HTTPSource) { s.httpClient = c }
}

// WithRateLimit caps outgoing requests per second.
func WithRateLimit(perSecond float64, burst int) HTTPOption {
	return func(s *HTTPSource) { s.limiter = rate.NewLimiter(rate.Limit(perSecond), burst) }
}

// WithHeader adds a header to every request, e.g. an API key.
func WithHeader(key, value string) HTTPOption {
	return func(s *HTTPSource) { s.headers.Add(key, value) }
}

func NewHTTPSource(baseURL, calendarName string, loc *time.Location, opts ...HTTPOption) *HTTPSource {
	if loc == nil {
		loc = time.Local
	}
	s := &HTTPSource{
		baseURL:    baseURL,
		calendar:   calendarName,
		loc:        loc,
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		limiter:    rate.NewLimiter(rate.Limit(defaultRequestsPerS), defaultRequestsPerS),
		headers:    http.Header{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *HTTPSource) Fetch(ctx context.Context, start, end int64) ([]calendar.HolidayInterval, error) {
	fullURL, err := url.Parse(s.baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse holiday feed URL '%s': %w", s.baseURL, err)
	}
	fullURL.Path = strings.TrimRight(fullURL.Path, "/") + "/holidays"
	fullURL.RawQuery = url.Values{
		"calendar": {s.calendar},
		"start":    {strconv.FormatInt(start, 10)},
		"end":      {strconv.FormatInt(end, 10)},
	}.Encode()

	var resp *http.Response
	for attempt := 0; attempt < 2; attempt++ {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait for %s: %w", fullURL.String(), err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL.String(), nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create HTTP request for %s: %w", fullURL.String(), err)
		}
		req.Header.Set("Accept", "application/json")
		for key, values := range s.headers {
			for _, value := range values {
				req.Header.Add(key, value)
			}
		}

		logrus.Debugf("Holiday feed request: GET %s", req.URL.String())
		resp, err = s.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("HTTP request context cancelled for %s: %w", fullURL.String(), ctx.Err())
			}
			return nil, fmt.Errorf("HTTP request execution failed for %s: %w", fullURL.String(), err)
		}
		if resp.StatusCode == http.StatusTooManyRequests && attempt == 0 {
			wait := retryAfter(resp.Header)
			logrus.Warnf("Holiday feed rate limit hit (429). Retrying once in %s.", wait)
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			continue
		}
		break
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read holiday feed response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, &HTTPError{Code: resp.StatusCode, Reason: http.StatusText(resp.StatusCode), Body: string(body)}
	}

	var feed feedResponse
	if err := json.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("failed to decode holiday feed response: %w. Body: %s", err, string(body))
	}
	return s.toIntervals(feed.Holidays)
}

func (s *HTTPSource) toIntervals(entries []feedHoliday) ([]calendar.HolidayInterval, error) {
	intervals := make([]calendar.HolidayInterval, 0, len(entries))
	for _, h := range entries {
		if h.Date == "" {
			intervals = append(intervals, calendar.HolidayInterval{Start: h.Start, End: h.End})
			continue
		}
		date, err := calendar.ParseTradeDateString(h.Date)
		if err != nil {
			return nil, fmt.Errorf("holiday feed returned an invalid date: %w", err)
		}
		day, err := calendar.ParseTradeDate(date, s.loc)
		if err != nil {
			return nil, err
		}
		next := time.Date(day.Year(), day.Month(), day.Day()+1, 0, 0, 0, 0, s.loc)
		intervals = append(intervals, calendar.HolidayInterval{Start: day.UnixMilli(), End: next.UnixMilli()})
	}
	return intervals, nil
}

func retryAfter(h http.Header) time.Duration {
	if secs, err := strconv.Atoi(h.Get("Retry-After")); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	return time.Second
}
