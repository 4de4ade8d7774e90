package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics stores Prometheus collectors used by the API, worker and sweeper flows.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal     *prometheus.CounterVec
	httpRequestDuration   *prometheus.HistogramVec
	dispatchesSentTotal   prometheus.Counter
	dispatchesFailedTotal *prometheus.CounterVec
	dispatchesSkipped     *prometheus.CounterVec
	dispatchSendDuration  prometheus.Histogram
	workerInflight        prometheus.Gauge
	watcherEnqueuedTotal  *prometheus.CounterVec
	pendingRequeuedTotal  prometheus.Counter
	sweeperDeletedTotal   prometheus.Counter
	sweeperRunsTotal      *prometheus.CounterVec
}

const metricsNamespace = "push_relay"

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		dispatchesSentTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "dispatches_sent_total",
				Help:      "Total number of dispatch records delivered to the push gateway.",
			},
		),
		dispatchesFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "dispatches_failed_total",
				Help:      "Total number of dispatch records that ended in failed state, by error code.",
			},
			[]string{"reason"},
		),
		dispatchesSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "dispatches_skipped_total",
				Help:      "Dispatch invocations that made no write, by reason.",
			},
			[]string{"reason"},
		),
		dispatchSendDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "dispatch_send_duration_seconds",
				Help:      "Push gateway send duration in seconds.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
		),
		workerInflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "worker_inflight",
				Help:      "Current number of in-flight dispatch operations.",
			},
		),
		watcherEnqueuedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "watcher_enqueued_total",
				Help:      "Inserted records handed to the dispatch queue, by result.",
			},
			[]string{"result"},
		),
		pendingRequeuedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "pending_requeued_total",
				Help:      "Stale pending records re-enqueued by the pending scanner.",
			},
		),
		sweeperDeletedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "sweeper_deleted_total",
				Help:      "Expired dispatch records deleted by the retention sweeper.",
			},
		),
		sweeperRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "sweeper_runs_total",
				Help:      "Retention sweeper runs by result.",
			},
			[]string{"result"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.dispatchesSentTotal,
		m.dispatchesFailedTotal,
		m.dispatchesSkipped,
		m.dispatchSendDuration,
		m.workerInflight,
		m.watcherEnqueuedTotal,
		m.pendingRequeuedTotal,
		m.sweeperDeletedTotal,
		m.sweeperRunsTotal,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		// Avoid self-scrape noise for request counters.
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncDispatchSent() {
	if m == nil {
		return
	}
	m.dispatchesSentTotal.Inc()
}

func (m *Metrics) IncDispatchFailed(reason string) {
	if m == nil {
		return
	}
	m.dispatchesFailedTotal.WithLabelValues(normalizeLabel(reason)).Inc()
}

func (m *Metrics) IncDispatchSkipped(reason string) {
	if m == nil {
		return
	}
	m.dispatchesSkipped.WithLabelValues(normalizeLabel(reason)).Inc()
}

func (m *Metrics) ObserveDispatchSendDuration(duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.dispatchSendDuration.Observe(seconds)
}

func (m *Metrics) IncWorkerInFlight() {
	if m == nil {
		return
	}
	m.workerInflight.Inc()
}

func (m *Metrics) DecWorkerInFlight() {
	if m == nil {
		return
	}
	m.workerInflight.Dec()
}

func (m *Metrics) IncWatcherEnqueued(result string) {
	if m == nil {
		return
	}
	m.watcherEnqueuedTotal.WithLabelValues(normalizeLabel(result)).Inc()
}

func (m *Metrics) IncPendingRequeued() {
	if m == nil {
		return
	}
	m.pendingRequeuedTotal.Inc()
}

func (m *Metrics) ObserveSweep(deleted int, result string) {
	if m == nil {
		return
	}
	if deleted > 0 {
		m.sweeperDeletedTotal.Add(float64(deleted))
	}
	m.sweeperRunsTotal.WithLabelValues(normalizeLabel(result)).Inc()
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
