package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wenjunxiao/trade-calendar/go_src/calendar_manager"
)

// Metrics holds the calendar manager collectors on a private registry.
type Metrics struct {
	registry   *prometheus.Registry
	passes     *prometheus.CounterVec
	retries    *prometheus.CounterVec
	events     *prometheus.CounterVec
	tradeDates *prometheus.GaugeVec
	sinkErrors *prometheus.CounterVec
}

// New creates and registers the collectors under namespace.
func New(namespace string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolution_passes_total",
			Help:      "Resolution passes by calendar and result",
		}, []string{"calendar", "result"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolution_retries_total",
			Help:      "Retries scheduled after a failed resolution pass",
		}, []string{"calendar"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Lifecycle events emitted by calendar and type",
		}, []string{"calendar", "type"}),
		tradeDates: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "trade_date",
			Help:      "Current trade date (YYYYMMDD) per calendar",
		}, []string{"calendar"}),
		sinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_errors_total",
			Help:      "Event publication failures by sink",
		}, []string{"sink"}),
	}
	m.registry.MustRegister(m.passes, m.retries, m.events, m.tradeDates, m.sinkErrors)
	m.registry.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) PassCompleted(calendar string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.passes.WithLabelValues(calendar, result).Inc()
}

func (m *Metrics) RetryScheduled(calendar string) {
	m.retries.WithLabelValues(calendar).Inc()
}

func (m *Metrics) EventEmitted(calendar string, eventType string) {
	m.events.WithLabelValues(calendar, eventType).Inc()
}

func (m *Metrics) TradeDateChanged(calendar string, tradeDate int) {
	m.tradeDates.WithLabelValues(calendar).Set(float64(tradeDate))
}

// SinkFailed counts a failed publication on the named sink.
func (m *Metrics) SinkFailed(sink string) {
	m.sinkErrors.WithLabelValues(sink).Inc()
}

// CountFailures wraps sink so that its publication errors are counted under name.
func (m *Metrics) CountFailures(name string, sink calendar_manager.EventSink) calendar_manager.EventSink {
	return calendar_manager.EventSinkFunc(func(ctx context.Context, ev calendar_manager.Event) error {
		err := sink.Publish(ctx, ev)
		if err != nil {
			m.SinkFailed(name)
		}
		return err
	})
}
