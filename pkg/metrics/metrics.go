package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Session metrics
	ActiveSessions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ottobot_active_sessions",
			Help: "Current number of sessions by status",
		},
		[]string{"status"},
	)

	TotalSessions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ottobot_sessions_total",
			Help: "Total number of sessions created",
		},
	)

	SessionTerminationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ottobot_session_terminations_total",
			Help: "Total number of session terminations by reason",
		},
		[]string{"reason"},
	)

	// Work queue metrics
	QueueLength = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ottobot_queue_length",
			Help: "Current number of jobs waiting by priority",
		},
		[]string{"priority"},
	)

	JobsEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ottobot_jobs_enqueued_total",
			Help: "Total number of jobs enqueued by kind",
		},
		[]string{"kind"},
	)

	JobsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ottobot_jobs_completed_total",
			Help: "Total number of jobs completed by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	JobsDeadLetteredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ottobot_jobs_dead_lettered_total",
			Help: "Total number of jobs moved to the dead letter queue by kind",
		},
		[]string{"kind"},
	)

	JobProcessingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ottobot_job_processing_duration_seconds",
			Help:    "Time taken to process a job in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	// Gateway metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ottobot_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ottobot_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	ActiveChatConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ottobot_active_chat_connections",
			Help: "Current number of open chat WebSocket connections",
		},
	)

	// Sandbox metrics
	SandboxCreateDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ottobot_sandbox_create_duration_seconds",
			Help:    "Time taken to create a sandbox container in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	SandboxStartDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ottobot_sandbox_start_duration_seconds",
			Help:    "Time taken to start a sandbox container in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	SandboxStopDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ottobot_sandbox_stop_duration_seconds",
			Help:    "Time taken to stop a sandbox container in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	SandboxReadinessDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ottobot_sandbox_readiness_duration_seconds",
			Help:    "Time taken for a sandbox's desktop readiness probe to pass in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	SandboxesFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ottobot_sandboxes_failed_total",
			Help: "Total number of sandboxes that failed to become ready",
		},
	)

	// Port allocator metrics
	PortsAllocated = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ottobot_ports_allocated",
			Help: "Current number of allocated ports by kind",
		},
		[]string{"kind"},
	)

	PortsReaped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ottobot_ports_reaped_total",
			Help: "Total number of stale port reservations reclaimed by the reaper",
		},
		[]string{"kind"},
	)

	// Controller/reconcile metrics
	ControllerCycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ottobot_controller_cycle_duration_seconds",
			Help:    "Time taken for a controller reconcile cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ControllerCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ottobot_controller_cycles_total",
			Help: "Total number of controller reconcile cycles completed",
		},
	)

	// Worker metrics
	ActiveWorkers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ottobot_active_workers",
			Help: "Current number of registered workers",
		},
	)

	WorkerJobsInFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ottobot_worker_jobs_in_flight",
			Help: "Current number of jobs being processed by a worker",
		},
		[]string{"worker_id"},
	)

	// Message fabric metrics
	EventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ottobot_events_published_total",
			Help: "Total number of chat events published by type",
		},
		[]string{"type"},
	)

	EventsDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ottobot_events_dropped_total",
			Help: "Total number of chat events dropped as duplicates by the fabric's dedup filter",
		},
		[]string{"type"},
	)
)

func init() {
	// Register session metrics
	prometheus.MustRegister(ActiveSessions)
	prometheus.MustRegister(TotalSessions)
	prometheus.MustRegister(SessionTerminationsTotal)

	// Register work queue metrics
	prometheus.MustRegister(QueueLength)
	prometheus.MustRegister(JobsEnqueuedTotal)
	prometheus.MustRegister(JobsCompletedTotal)
	prometheus.MustRegister(JobsDeadLetteredTotal)
	prometheus.MustRegister(JobProcessingDuration)

	// Register gateway metrics
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(ActiveChatConnections)

	// Register sandbox metrics
	prometheus.MustRegister(SandboxCreateDuration)
	prometheus.MustRegister(SandboxStartDuration)
	prometheus.MustRegister(SandboxStopDuration)
	prometheus.MustRegister(SandboxReadinessDuration)
	prometheus.MustRegister(SandboxesFailed)

	// Register port allocator metrics
	prometheus.MustRegister(PortsAllocated)
	prometheus.MustRegister(PortsReaped)

	// Register controller metrics
	prometheus.MustRegister(ControllerCycleDuration)
	prometheus.MustRegister(ControllerCyclesTotal)

	// Register worker metrics
	prometheus.MustRegister(ActiveWorkers)
	prometheus.MustRegister(WorkerJobsInFlight)

	// Register message fabric metrics
	prometheus.MustRegister(EventsPublishedTotal)
	prometheus.MustRegister(EventsDroppedTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
