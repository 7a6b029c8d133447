package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "livetutor"

type moduleMetrics struct {
	activeConnections  prometheus.Gauge
	connectionsTotal   *prometheus.CounterVec
	connectionDuration prometheus.Histogram

	inboundFrames   *prometheus.CounterVec
	malformedFrames *prometheus.CounterVec
	outboundEvents  *prometheus.CounterVec

	queueDepth     prometheus.Gauge
	queueOverflows *prometheus.CounterVec

	teardownTotal *prometheus.CounterVec

	sessionResolveDuration *prometheus.HistogramVec
	sessionsSwept          prometheus.Counter

	runtimeConnectTotal    *prometheus.CounterVec
	runtimeConnectDuration *prometheus.HistogramVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			activeConnections: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "active_connections",
					Help:      "Current number of live tutoring connections.",
				},
			),
			connectionsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "connections_total",
					Help:      "Total tutoring connections by outcome.",
				},
				[]string{"outcome"},
			),
			connectionDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "connection_duration_seconds",
					Help:      "Lifetime of tutoring connections in seconds.",
					Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 1800, 3600},
				},
			),
			inboundFrames: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "inbound_frames_total",
					Help:      "Total frames enqueued for the agent runtime by kind.",
				},
				[]string{"kind"},
			),
			malformedFrames: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "malformed_frames_total",
					Help:      "Total inbound messages dropped as malformed by reason.",
				},
				[]string{"reason"},
			),
			outboundEvents: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "outbound_events_total",
					Help:      "Total agent events observed downstream by kind and whether they were forwarded.",
				},
				[]string{"kind", "forwarded"},
			),
			queueDepth: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "request_queue_depth",
					Help:      "Frames waiting in request queues across all connections.",
				},
			),
			queueOverflows: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "request_queue_overflow_total",
					Help:      "Total pushes that found the request queue full by policy.",
				},
				[]string{"policy"},
			),
			teardownTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "teardown_total",
					Help:      "Total connection teardowns by cause.",
				},
				[]string{"cause"},
			),
			sessionResolveDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "session_resolve_duration_seconds",
					Help:      "Session resolution duration in seconds by store and status.",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"store", "status"},
			),
			sessionsSwept: prometheus.NewCounter(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "sessions_swept_total",
					Help:      "Total idle sessions removed by the retention sweeper.",
				},
			),
			runtimeConnectTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "runtime_connect_total",
					Help:      "Total agent runtime connection attempts by provider and status.",
				},
				[]string{"provider", "status"},
			),
			runtimeConnectDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "runtime_connect_duration_seconds",
					Help:      "Agent runtime connect duration in seconds by provider.",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"provider"},
			),
		}

		prometheus.MustRegister(
			m.activeConnections,
			m.connectionsTotal,
			m.connectionDuration,
			m.inboundFrames,
			m.malformedFrames,
			m.outboundEvents,
			m.queueDepth,
			m.queueOverflows,
			m.teardownTotal,
			m.sessionResolveDuration,
			m.sessionsSwept,
			m.runtimeConnectTotal,
			m.runtimeConnectDuration,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

func RecordConnectionOpened() {
	getMetrics().activeConnections.Inc()
}

// RecordConnectionClosed must pair with a prior RecordConnectionOpened.
func RecordConnectionClosed(outcome string, duration time.Duration) {
	m := getMetrics()
	m.activeConnections.Dec()
	m.connectionsTotal.WithLabelValues(outcome).Inc()
	m.connectionDuration.Observe(duration.Seconds())
}

// RecordConnectionRefused counts connections that never became active.
func RecordConnectionRefused(outcome string) {
	getMetrics().connectionsTotal.WithLabelValues(outcome).Inc()
}

func RecordInboundFrame(kind string) {
	getMetrics().inboundFrames.WithLabelValues(kind).Inc()
}

func RecordMalformedFrame(reason string) {
	getMetrics().malformedFrames.WithLabelValues(reason).Inc()
}

func RecordOutboundEvent(kind string, forwarded bool) {
	value := "false"
	if forwarded {
		value = "true"
	}
	getMetrics().outboundEvents.WithLabelValues(kind, value).Inc()
}

func AddQueueDepth(delta int) {
	getMetrics().queueDepth.Add(float64(delta))
}

func RecordQueueOverflow(policy string) {
	getMetrics().queueOverflows.WithLabelValues(policy).Inc()
}

func RecordTeardown(cause string) {
	getMetrics().teardownTotal.WithLabelValues(cause).Inc()
}

func RecordSessionResolve(store string, duration time.Duration, success bool) {
	getMetrics().sessionResolveDuration.WithLabelValues(store, status(success)).Observe(duration.Seconds())
}

func RecordSessionsSwept(count int) {
	getMetrics().sessionsSwept.Add(float64(count))
}

func RecordRuntimeConnect(provider string, duration time.Duration, success bool) {
	m := getMetrics()
	m.runtimeConnectTotal.WithLabelValues(provider, status(success)).Inc()
	m.runtimeConnectDuration.WithLabelValues(provider).Observe(duration.Seconds())
}
