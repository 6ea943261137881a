// Package metrics owns the Prometheus collectors of the API and worker
// processes. Each process builds one Metrics on its own registry; a nil
// *Metrics is valid and records nothing.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"raetsel/internal/progress"
)

const namespace = "raetsel"

type Metrics struct {
	registry *prometheus.Registry

	storeOps     *prometheus.CounterVec
	storeLatency *prometheus.HistogramVec

	submissions    *prometheus.CounterVec
	scores         prometheus.Histogram
	failedUpdates  prometheus.Counter
	auxFailures    *prometheus.CounterVec
	generatedGames *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec

	globalCounters *prometheus.GaugeVec
	lastRefresh    prometheus.Gauge
	refreshErrors  prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		storeOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "operations_total",
			Help:      "Key-value store calls by operation and outcome.",
		}, []string{"op", "outcome"}),
		storeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "operation_duration_seconds",
			Help:      "Latency of key-value store calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Completed sessions folded into player aggregates, by puzzle namespace.",
		}, []string{"namespace"}),
		scores: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "submission_score",
			Help:      "Distribution of stored session scores.",
			Buckets:   prometheus.LinearBuckets(0, 10, 11),
		}),
		failedUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submission_failed_updates_total",
			Help:      "Primary submission writes that failed and were reported to the caller.",
		}),
		auxFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auxiliary_update_failures_total",
			Help:      "Best-effort writes whose failure was logged and dropped.",
		}, []string{"update"}),
		generatedGames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "games_generated_total",
			Help:      "Generated puzzles reported by clients, by namespace.",
		}, []string{"namespace"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		globalCounters: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "global",
			Name:      "games",
			Help:      "All-time global game counters as last read from the store.",
		}, []string{"family", "namespace"}),
		lastRefresh: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "global",
			Name:      "last_refresh_timestamp_seconds",
			Help:      "Unix time of the last successful counter refresh.",
		}),
		refreshErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "global",
			Name:      "refresh_errors_total",
			Help:      "Counter refreshes that failed.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.storeOps, m.storeLatency,
		m.submissions, m.scores, m.failedUpdates, m.auxFailures, m.generatedGames,
		m.httpRequests, m.httpLatency,
		m.globalCounters, m.lastRefresh, m.refreshErrors,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveStoreOp(op string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded):
		outcome = "timeout"
	default:
		outcome = "error"
	}
	m.storeOps.WithLabelValues(op, outcome).Inc()
	m.storeLatency.WithLabelValues(op).Observe(elapsed.Seconds())
}

func (m *Metrics) SubmissionRecorded(namespace string, score int64) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(namespace).Inc()
	m.scores.Observe(float64(score))
}

func (m *Metrics) SubmissionFailed(failed int) {
	if m == nil {
		return
	}
	m.failedUpdates.Add(float64(failed))
}

func (m *Metrics) AuxiliaryFailed(name string) {
	if m == nil {
		return
	}
	m.auxFailures.WithLabelValues(name).Inc()
}

func (m *Metrics) GameGenerated(namespace string) {
	if m == nil {
		return
	}
	m.generatedGames.WithLabelValues(namespace).Inc()
}

// SetGlobal publishes one all-time counter. namespace is empty for the
// overall total.
func (m *Metrics) SetGlobal(family, namespace string, value int64) {
	if m == nil {
		return
	}
	if namespace == "" {
		namespace = "all"
	}
	m.globalCounters.WithLabelValues(family, namespace).Set(float64(value))
}

// PublishGlobal copies the all-time counters of stats into the gauges.
func (m *Metrics) PublishGlobal(stats *progress.GlobalStats) {
	if m == nil || stats == nil {
		return
	}
	m.SetGlobal(progress.FamilyGenerated, "", stats.Generated)
	m.SetGlobal(progress.FamilyCompleted, "", stats.Completed)
	for ns, c := range stats.ByNamespace {
		m.SetGlobal(progress.FamilyGenerated, ns, c.Generated)
		m.SetGlobal(progress.FamilyCompleted, ns, c.Completed)
	}
}

func (m *Metrics) RefreshDone(at time.Time, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.refreshErrors.Inc()
		return
	}
	m.lastRefresh.Set(float64(at.Unix()))
}

// Middleware records every request under its chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.httpRequests.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
		m.httpLatency.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}
