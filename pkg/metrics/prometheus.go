// Package metrics provides Prometheus metrics for the scoreboard service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Default metrics configuration constants.
const (
	defaultRefreshInterval = 10 * time.Second
)

// defaultStoreBuckets are tuned for remote HTTP round trips (milliseconds).
var defaultStoreBuckets = []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000} //nolint:gochecknoglobals // bucket layout

// Manager manages all Prometheus metrics for the scoreboard service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	storeBuckets     []float64
	enabled          bool
	refreshInterval  time.Duration
	customLabels     map[string]string
	metricPrefix     string
	registry         prometheus.Registerer

	// Core business metrics
	submissions        *prometheus.CounterVec
	queries            *prometheus.CounterVec
	leaderboardRecords prometheus.Gauge

	// Versioned store metrics
	storeOperations       *prometheus.CounterVec
	storeOperationLatency *prometheus.HistogramVec
	storeConflicts        prometheus.Counter
	storeProvisions       prometheus.Counter

	// Retry metrics
	retryAttempts    *prometheus.CounterVec
	retriesExhausted *prometheus.CounterVec
	cycleAttempts    prometheus.Histogram

	// HTTP performance metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRateLimited     *prometheus.CounterVec

	// Error metrics
	errorRateByComponent *prometheus.CounterVec
	errorRateByType      *prometheus.CounterVec
	errorRateByEndpoint  *prometheus.CounterVec
	errorLatency         *prometheus.HistogramVec

	// System performance metrics
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "scoreboard",
		subsystem:        "leaderboard",
		histogramBuckets: prometheus.DefBuckets,
		storeBuckets:     defaultStoreBuckets,
		enabled:          true,
		refreshInterval:  defaultRefreshInterval,
		customLabels:     make(map[string]string),
		metricPrefix:     "",
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) name(n string) string {
	return m.metricPrefix + n
}

func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	auto := promauto.With(m.registry)
	constLabels := prometheus.Labels(m.customLabels)

	m.submissions = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("submissions_total"),
		Help:        "Score submissions by outcome (created, updated, unchanged, invalid, failed)",
		ConstLabels: constLabels,
	}, []string{"outcome"})

	m.queries = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("queries_total"),
		Help:        "Leaderboard queries by result",
		ConstLabels: constLabels,
	}, []string{"result"})

	m.leaderboardRecords = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("records"),
		Help:        "Number of score records seen at the last store read",
		ConstLabels: constLabels,
	})

	m.storeOperations = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   "store",
		Name:        m.name("operations_total"),
		Help:        "Versioned store calls by backend, operation and result kind",
		ConstLabels: constLabels,
	}, []string{"backend", "op", "result"})

	m.storeOperationLatency = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   "store",
		Name:        m.name("operation_latency_milliseconds"),
		Help:        "Versioned store call latency in milliseconds",
		Buckets:     m.storeBuckets,
		ConstLabels: constLabels,
	}, []string{"backend", "op"})

	m.storeConflicts = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   "store",
		Name:        m.name("conflicts_total"),
		Help:        "Compare-and-swap writes rejected because the revision moved",
		ConstLabels: constLabels,
	})

	m.storeProvisions = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   "store",
		Name:        m.name("provisions_total"),
		Help:        "Documents created because the store reported not found",
		ConstLabels: constLabels,
	})

	m.retryAttempts = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   "retry",
		Name:        m.name("attempts_total"),
		Help:        "Retries scheduled after a retryable failure, by operation",
		ConstLabels: constLabels,
	}, []string{"operation"})

	m.retriesExhausted = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   "retry",
		Name:        m.name("exhausted_total"),
		Help:        "Operations that failed after the retry ceiling",
		ConstLabels: constLabels,
	}, []string{"operation"})

	m.cycleAttempts = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   "retry",
		Name:        m.name("cycle_attempts"),
		Help:        "Fetch/merge/write cycles needed per successful submission",
		Buckets:     []float64{1, 2, 3, 4, 5, 8, 13},
		ConstLabels: constLabels,
	})

	m.httpRequests = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   m.namespace,
			Subsystem:   m.subsystem,
			Name:        m.name("http_requests_total"),
			Help:        "Total number of HTTP requests by endpoint and method",
			ConstLabels: constLabels,
		},
		[]string{"endpoint", "method", "status_code"},
	)

	m.httpRequestDuration = auto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   m.namespace,
			Subsystem:   m.subsystem,
			Name:        m.name("http_request_duration_milliseconds"),
			Help:        "HTTP request duration in milliseconds",
			Buckets:     m.histogramBuckets,
			ConstLabels: constLabels,
		},
		[]string{"endpoint", "method", "status_code"},
	)

	m.httpRateLimited = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("http_rate_limited_total"),
		Help:        "Requests rejected by the per-client rate limiter",
		ConstLabels: constLabels,
	}, []string{"endpoint"})

	m.errorRateByComponent = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   "errors",
		Name:        m.name("by_component_total"),
		Help:        "Errors by component and type",
		ConstLabels: constLabels,
	}, []string{"component", "error_type"})

	m.errorRateByType = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   "errors",
		Name:        m.name("by_type_total"),
		Help:        "Errors by type and severity",
		ConstLabels: constLabels,
	}, []string{"error_type", "severity"})

	m.errorRateByEndpoint = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   "errors",
		Name:        m.name("by_endpoint_total"),
		Help:        "Errors by HTTP endpoint, method and type",
		ConstLabels: constLabels,
	}, []string{"endpoint", "method", "error_type"})

	m.errorLatency = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   "errors",
		Name:        m.name("latency_milliseconds"),
		Help:        "Latency of operations that ended in an error",
		Buckets:     m.histogramBuckets,
		ConstLabels: constLabels,
	}, []string{"component", "error_type"})

	m.systemMemoryUsage = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   "system",
		Name:        m.name("memory_usage_bytes"),
		Help:        "System memory usage in bytes",
		ConstLabels: constLabels,
	})

	m.systemGoroutineCount = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   "system",
		Name:        m.name("goroutine_count"),
		Help:        "Number of goroutines",
		ConstLabels: constLabels,
	})

	m.systemGCPauseTime = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   "system",
		Name:        m.name("gc_pause_time_milliseconds"),
		Help:        "GC pause time in milliseconds",
		Buckets:     []float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
		ConstLabels: constLabels,
	})
}

// RecordSubmission counts a score submission by outcome.
func RecordSubmission(outcome string) {
	if !globalManager.enabled {
		return
	}
	globalManager.submissions.WithLabelValues(outcome).Inc()
}

// RecordQuery counts a leaderboard query by result.
func RecordQuery(result string) {
	if !globalManager.enabled {
		return
	}
	globalManager.queries.WithLabelValues(result).Inc()
}

// UpdateLeaderboardRecords sets the number of records seen at the last read.
func UpdateLeaderboardRecords(count int) {
	globalManager.leaderboardRecords.Set(float64(count))
}

// Store Metrics Functions.

// RecordStoreOperation records one versioned store call.
func RecordStoreOperation(backend, op, result string, latencyMs float64) {
	if !globalManager.enabled {
		return
	}
	globalManager.storeOperations.WithLabelValues(backend, op, result).Inc()
	globalManager.storeOperationLatency.WithLabelValues(backend, op).Observe(latencyMs)
}

// RecordStoreConflict increments the CAS conflict counter.
func RecordStoreConflict() {
	globalManager.storeConflicts.Inc()
}

// RecordStoreProvision increments the provisioning counter.
func RecordStoreProvision() {
	globalManager.storeProvisions.Inc()
}

// Retry Metrics Functions.

// RecordRetry counts a scheduled retry for operation.
func RecordRetry(operation string) {
	globalManager.retryAttempts.WithLabelValues(operation).Inc()
}

// RecordRetriesExhausted counts an operation that hit the retry ceiling.
func RecordRetriesExhausted(operation string) {
	globalManager.retriesExhausted.WithLabelValues(operation).Inc()
}

// RecordCycleAttempts observes how many cycles a successful submission took.
func RecordCycleAttempts(attempts int) {
	globalManager.cycleAttempts.Observe(float64(attempts))
}

// HTTP Metrics Functions.

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordRateLimited counts a request rejected by the rate limiter.
func RecordRateLimited(endpoint string) {
	globalManager.httpRateLimited.WithLabelValues(endpoint).Inc()
}

// Error Metrics Functions.

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// RecordErrorByType records an error with type and severity labels.
func RecordErrorByType(errorType, severity string) {
	globalManager.errorRateByType.WithLabelValues(errorType, severity).Inc()
}

// RecordErrorByEndpoint records an error with endpoint, method, and error type labels.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// RecordErrorLatency records the latency of an operation that resulted in an error.
func RecordErrorLatency(component, errorType string, latencyMs float64) {
	globalManager.errorLatency.WithLabelValues(component, errorType).Observe(latencyMs)
}

// System Performance Metrics Functions.

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) {
	globalManager.systemGCPauseTime.Observe(pauseMs)
}

// RefreshInterval returns how often sampled gauges should be refreshed.
func RefreshInterval() time.Duration {
	return globalManager.refreshInterval
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
