/*
Package metrics provides Prometheus metrics collection and exposition for
the session orchestration plane.

The metrics package defines and registers all orchestrator metrics using
the Prometheus client library, covering session lifecycle, the work
queue, sandbox provisioning, port allocation, the controller's reconcile
loop, worker registration, and the message fabric's event delivery.

# Architecture

	┌──────────────────── METRICS SYSTEM ───────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │          Prometheus Registry                 │          │
	│  │  - Package-level metric variables           │          │
	│  │  - Registered once via init()                │          │
	│  │  - Thread-safe for concurrent updates        │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │             Metric Categories                │          │
	│  │  - Session: active/total/terminations        │          │
	│  │  - Queue: length, enqueued/completed/DLQ      │          │
	│  │  - Gateway: API requests, chat connections    │          │
	│  │  - Sandbox: create/start/stop/readiness       │          │
	│  │  - Ports: allocated, reaped                   │          │
	│  │  - Controller: reconcile cycles               │          │
	│  │  - Worker: active count, jobs in flight       │          │
	│  │  - Fabric: events published/dropped           │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │             HTTP Exposition                  │          │
	│  │  - metrics.Handler() -> promhttp.Handler()   │          │
	│  │  - Scraped by Prometheus at /metrics         │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Session Metrics:
  - ActiveSessions: gauge vec by status (Initializing/Ready/Running/...)
  - TotalSessions: counter of sessions created
  - SessionTerminationsTotal: counter vec by reason (ttl_expired, user,
    error, ...)

Work Queue Metrics:
  - QueueLength: gauge vec by priority
  - JobsEnqueuedTotal / JobsCompletedTotal / JobsDeadLetteredTotal:
    counter vecs by job kind
  - JobProcessingDuration: histogram vec by job kind

Gateway Metrics:
  - APIRequestsTotal / APIRequestDuration: counter/histogram vecs by
    method (and status for the counter)
  - ActiveChatConnections: gauge of open chat WebSocket connections

Sandbox Metrics:
  - SandboxCreateDuration / SandboxStartDuration / SandboxStopDuration:
    histograms of container lifecycle timings
  - SandboxReadinessDuration: histogram of time to pass the desktop
    readiness probe
  - SandboxesFailed: counter of sandboxes that never became ready

Port Allocator Metrics:
  - PortsAllocated: gauge vec by kind (desktop/tool)
  - PortsReaped: counter vec of stale reservations reclaimed

Controller Metrics:
  - ControllerCycleDuration / ControllerCyclesTotal: reconcile loop
    timing and count

Worker Metrics:
  - ActiveWorkers: gauge of registered workers
  - WorkerJobsInFlight: gauge vec by worker_id

Message Fabric Metrics:
  - EventsPublishedTotal / EventsDroppedTotal: counter vecs by event type

# Usage

Registering a Gauge Update:

	metrics.ActiveSessions.WithLabelValues(string(types.SessionRunning)).Set(float64(count))

Timing an Operation:

	timer := metrics.NewTimer()
	// ... do work ...
	timer.ObserveDuration(metrics.SandboxCreateDuration)

Timing with Labels:

	timer := metrics.NewTimer()
	// ... process a job ...
	timer.ObserveDurationVec(metrics.JobProcessingDuration, string(job.Kind))

Exposing the /metrics Endpoint:

	mux.Handle("/metrics", metrics.Handler())

Health/Readiness Endpoints:

	mux.HandleFunc("/health", metrics.HealthHandler())
	mux.HandleFunc("/ready", metrics.ReadyHandler())
	mux.HandleFunc("/live", metrics.LivenessHandler())

	metrics.RegisterComponent("store", true, "")
	metrics.RegisterComponent("containerd", true, "")
	metrics.RegisterComponent("gateway", true, "")

# Integration Points

This package integrates with:

  - pkg/registry: updates ActiveSessions/TotalSessions/SessionTerminationsTotal
  - pkg/queue: updates QueueLength/JobsEnqueuedTotal/JobsCompletedTotal/JobsDeadLetteredTotal
  - pkg/sandbox: updates SandboxCreateDuration/SandboxStartDuration/SandboxStopDuration/SandboxReadinessDuration
  - pkg/ports: updates PortsAllocated/PortsReaped
  - pkg/controller: updates ControllerCycleDuration/ControllerCyclesTotal
  - pkg/worker: updates ActiveWorkers/WorkerJobsInFlight
  - pkg/fabric: updates EventsPublishedTotal/EventsDroppedTotal
  - pkg/gateway: updates ActiveChatConnections; nothing updates
    APIRequestsTotal/APIRequestDuration, and no route mounts
    Handler()/HealthHandler()/ReadyHandler()

# Performance Characteristics

Metric updates are effectively free (a few tens of nanoseconds for a
counter increment or gauge set); histogram observations cost more
(bucket comparison per observation) but remain negligible next to the
I/O they measure (container creation, Redis round-trips).

# Best Practices

Do:
  - Use WithLabelValues consistently (same label set across call sites)
  - Use NewTimer+ObserveDuration for any operation worth SLO-tracking
  - Register component health via RegisterComponent at startup

Don't:
  - Create unbounded label cardinality (never label by session_id)
  - Update metrics from more than one place for the same event
*/
package metrics
