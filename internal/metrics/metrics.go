package metrics

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"
)

var defaultRegistry = prometheus.DefaultRegisterer

// Config holds metrics configuration.
type Config struct {
	EnableNamespaceLabel bool
}

// Metrics holds every engine-wide Prometheus collector, instrumenting the
// lifecycle spec §4.4 describes: context creation, per-state transitions,
// key/schema cache dedupe, and KMS round trips. Shaped after the teacher's
// internal/metrics/metrics.go, which instrumented the S3 gateway's request
// and operation lifecycle the same way.
type Metrics struct {
	config Config

	contextsTotal       *prometheus.CounterVec
	contextDuration     *prometheus.HistogramVec
	contextErrors       *prometheus.CounterVec
	stateTransitions    *prometheus.CounterVec
	stateDuration       *prometheus.HistogramVec
	keyBrokerRequests   *prometheus.CounterVec
	keyBrokerDedupes    *prometheus.CounterVec
	schemaCacheLookups  *prometheus.CounterVec
	kmsOperations       *prometheus.CounterVec
	kmsDuration         *prometheus.HistogramVec
	bufferPoolHits      *prometheus.CounterVec
	bufferPoolMisses    *prometheus.CounterVec
	activeContexts      prometheus.Gauge
	goroutines          prometheus.Gauge
	memoryAllocBytes    prometheus.Gauge
	memorySysBytes      prometheus.Gauge
	hardwareAccelerationEnabled *prometheus.GaugeVec
}

// NewMetrics creates a new metrics instance with default configuration,
// registered against the default Prometheus registry.
func NewMetrics() *Metrics {
	return NewMetricsWithConfig(Config{EnableNamespaceLabel: true})
}

// NewMetricsWithConfig creates a new metrics instance with the provided configuration.
func NewMetricsWithConfig(cfg Config) *Metrics {
	return newMetricsWithRegistry(defaultRegistry, cfg)
}

// NewMetricsWithRegistry creates a new metrics instance with a custom
// registry, used in tests to avoid duplicate registration across cases.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	return newMetricsWithRegistry(reg, Config{EnableNamespaceLabel: true})
}

func newMetricsWithRegistry(reg prometheus.Registerer, cfg Config) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		config: cfg,
		contextsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mongocrypt_contexts_total",
				Help: "Total number of contexts minted, by kind",
			},
			[]string{"kind"},
		),
		contextDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mongocrypt_context_finalize_duration_seconds",
				Help:    "Time from context creation to Finalize, by kind",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
		contextErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mongocrypt_context_errors_total",
				Help: "Total number of contexts that finished in ERROR, by kind and status category",
			},
			[]string{"kind", "category"},
		),
		stateTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mongocrypt_state_transitions_total",
				Help: "Total number of state-machine transitions, by kind, from, and to state",
			},
			[]string{"kind", "from", "to"},
		),
		stateDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mongocrypt_state_duration_seconds",
				Help:    "Time a context spent waiting in a given state before Feed/Done advanced it",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
			},
			[]string{"state"},
		),
		keyBrokerRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mongocrypt_key_broker_requests_total",
				Help: "Total number of key identifiers registered with a context's broker",
			},
			[]string{"kind"},
		),
		keyBrokerDedupes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mongocrypt_key_broker_dedupes_total",
				Help: "Total number of key requests satisfied without a new cache entry, by owner/dependent role",
			},
			[]string{"role"},
		),
		schemaCacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mongocrypt_schema_cache_lookups_total",
				Help: "Total number of schema cache lookups, by hit origin",
			},
			[]string{"origin"}, // "none", "cache", "collinfo", "local"
		),
		kmsOperations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mongocrypt_kms_operations_total",
				Help: "Total number of KMS wrap/unwrap round trips, by provider and operation",
			},
			[]string{"provider", "operation"},
		),
		kmsDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mongocrypt_kms_duration_seconds",
				Help:    "KMS wrap/unwrap round-trip duration, by provider",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider"},
		),
		bufferPoolHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mongocrypt_buffer_pool_hits_total",
				Help: "Total number of pooled buffer reuses, by size class",
			},
			[]string{"size_class"},
		),
		bufferPoolMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mongocrypt_buffer_pool_misses_total",
				Help: "Total number of buffer allocations that missed the pool, by size class",
			},
			[]string{"size_class"},
		),
		activeContexts: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "mongocrypt_active_contexts",
				Help: "Number of contexts currently minted but not yet finalized or cleaned up",
			},
		),
		goroutines: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "mongocrypt_goroutines",
				Help: "Number of goroutines",
			},
		),
		memoryAllocBytes: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "mongocrypt_memory_alloc_bytes",
				Help: "Number of bytes allocated and not yet freed",
			},
		),
		memorySysBytes: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "mongocrypt_memory_sys_bytes",
				Help: "Total bytes of memory obtained from OS",
			},
		),
		hardwareAccelerationEnabled: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "mongocrypt_hardware_acceleration_enabled",
				Help: "Hardware acceleration status (1=enabled, 0=disabled), by type",
			},
			[]string{"type"},
		),
	}
}

// SetHardwareAccelerationStatus sets the hardware acceleration status metric.
func (m *Metrics) SetHardwareAccelerationStatus(accelType string, enabled bool) {
	val := 0.0
	if enabled {
		val = 1.0
	}
	m.hardwareAccelerationEnabled.WithLabelValues(accelType).Set(val)
}

// GetHardwareAccelerationEnabledMetric returns the hardware acceleration enabled metric (for testing).
func (m *Metrics) GetHardwareAccelerationEnabledMetric() *prometheus.GaugeVec {
	return m.hardwareAccelerationEnabled
}

// RecordContextInit records that a context of the given kind was minted.
func (m *Metrics) RecordContextInit(ctx context.Context, kind string) {
	if exemplar := getExemplar(ctx); exemplar != nil {
		if adder, ok := m.contextsTotal.WithLabelValues(kind).(prometheus.ExemplarAdder); ok {
			adder.AddWithExemplar(1, exemplar)
		} else {
			m.contextsTotal.WithLabelValues(kind).Inc()
		}
	} else {
		m.contextsTotal.WithLabelValues(kind).Inc()
	}
	m.activeContexts.Inc()
}

// RecordContextFinalize records the outcome of a context's Finalize call:
// total elapsed time since creation, and — on failure — one context error
// under the category "unknown", since this call is not given the status
// category (RecordContextError records a failure with its category).
func (m *Metrics) RecordContextFinalize(kind string, duration time.Duration, success bool) {
	m.contextDuration.WithLabelValues(kind).Observe(duration.Seconds())
	m.activeContexts.Dec()
	if !success {
		m.contextErrors.WithLabelValues(kind, "unknown").Inc()
	}
}

// RecordContextError records a failed context with its status category.
func (m *Metrics) RecordContextError(kind, category string) {
	m.contextErrors.WithLabelValues(kind, category).Inc()
}

// RecordStateTransition records a context moving from one state to another.
func (m *Metrics) RecordStateTransition(ctx context.Context, kind, from, to string) {
	if exemplar := getExemplar(ctx); exemplar != nil {
		if adder, ok := m.stateTransitions.WithLabelValues(kind, from, to).(prometheus.ExemplarAdder); ok {
			adder.AddWithExemplar(1, exemplar)
		} else {
			m.stateTransitions.WithLabelValues(kind, from, to).Inc()
		}
	} else {
		m.stateTransitions.WithLabelValues(kind, from, to).Inc()
	}
}

// RecordStateDuration records how long a context sat in state before being
// advanced by Feed/Done.
func (m *Metrics) RecordStateDuration(state string, duration time.Duration) {
	m.stateDuration.WithLabelValues(state).Observe(duration.Seconds())
}

// RecordKeyBrokerRequest records a key identifier being registered with a
// context's broker.
func (m *Metrics) RecordKeyBrokerRequest(kind string) {
	m.keyBrokerRequests.WithLabelValues(kind).Inc()
}

// RecordKeyBrokerDedupe records a key request satisfied by an existing
// cache entry rather than a fresh owner claim, by the requester's resulting
// role.
func (m *Metrics) RecordKeyBrokerDedupe(role string) {
	m.keyBrokerDedupes.WithLabelValues(role).Inc()
}

// RecordSchemaCacheLookup records a schema cache lookup and its origin.
func (m *Metrics) RecordSchemaCacheLookup(origin string) {
	m.schemaCacheLookups.WithLabelValues(origin).Inc()
}

// RecordKMSOperation records a wrap/unwrap round trip against a KMSProvider.
func (m *Metrics) RecordKMSOperation(ctx context.Context, provider, operation string, duration time.Duration) {
	if exemplar := getExemplar(ctx); exemplar != nil {
		if adder, ok := m.kmsOperations.WithLabelValues(provider, operation).(prometheus.ExemplarAdder); ok {
			adder.AddWithExemplar(1, exemplar)
		} else {
			m.kmsOperations.WithLabelValues(provider, operation).Inc()
		}
		if observer, ok := m.kmsDuration.WithLabelValues(provider).(prometheus.ExemplarObserver); ok {
			observer.ObserveWithExemplar(duration.Seconds(), exemplar)
		} else {
			m.kmsDuration.WithLabelValues(provider).Observe(duration.Seconds())
		}
	} else {
		m.kmsOperations.WithLabelValues(provider, operation).Inc()
		m.kmsDuration.WithLabelValues(provider).Observe(duration.Seconds())
	}
}

// RecordBufferPoolHit records a buffer pool hit.
func (m *Metrics) RecordBufferPoolHit(sizeClass string) {
	m.bufferPoolHits.WithLabelValues(sizeClass).Inc()
}

// RecordBufferPoolMiss records a buffer pool miss.
func (m *Metrics) RecordBufferPoolMiss(sizeClass string) {
	m.bufferPoolMisses.WithLabelValues(sizeClass).Inc()
}

// UpdateSystemMetrics updates system-level metrics (goroutines, memory).
func (m *Metrics) UpdateSystemMetrics() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.goroutines.Set(float64(runtime.NumGoroutine()))
	m.memoryAllocBytes.Set(float64(memStats.Alloc))
	m.memorySysBytes.Set(float64(memStats.Sys))
}

// StartSystemMetricsCollector starts a goroutine that periodically updates system metrics.
func (m *Metrics) StartSystemMetricsCollector() {
	ticker := time.NewTicker(5 * time.Second)
	go func() {
		for range ticker.C {
			m.UpdateSystemMetrics()
		}
	}()
}

// Handler returns the HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}

// getExemplar extracts a trace ID from context and returns prometheus Labels for exemplar.
func getExemplar(ctx context.Context) prometheus.Labels {
	if ctx == nil {
		return nil
	}
	spanContext := trace.SpanFromContext(ctx).SpanContext()
	if spanContext.IsValid() {
		return prometheus.Labels{"trace_id": spanContext.TraceID().String()}
	}
	return nil
}
