package worker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rohanbojja/ottobot-orchestrator/pkg/controller"
	"github.com/rohanbojja/ottobot-orchestrator/pkg/log"
	"github.com/rohanbojja/ottobot-orchestrator/pkg/metrics"
	"github.com/rohanbojja/ottobot-orchestrator/pkg/queue"
	"github.com/rohanbojja/ottobot-orchestrator/pkg/store"
	"github.com/rohanbojja/ottobot-orchestrator/pkg/types"
)

// DefaultConcurrency is WORKER_CONCURRENCY's default per spec §6.5.
const DefaultConcurrency = 2

// pollInterval is how long a consumer goroutine waits after an empty
// Dequeue before trying again.
const pollInterval = 500 * time.Millisecond

// drainTimeout bounds how long Stop waits for in-flight jobs to finish
// before giving up and shutting down agents anyway.
const drainTimeout = 30 * time.Second

// Config holds a Worker's fixed settings.
type Config struct {
	ID          string // defaults to a generated uuid if empty
	Concurrency int    // WORKER_CONCURRENCY, default DefaultConcurrency
}

// Worker drains jobs from the Work Queue across Concurrency goroutines
// and hands each to the Controller, per spec §4.8.
type Worker struct {
	id          string
	concurrency int
	s           *store.Store
	q           *queue.Queue
	ctrl        *controller.Controller
	logger      zerolog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs a Worker. s is used directly for registration
// heartbeats; q and ctrl drive the consume loop.
func New(cfg Config, s *store.Store, q *queue.Queue, ctrl *controller.Controller) *Worker {
	id := cfg.ID
	if id == "" {
		id = uuid.NewString()
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Worker{
		id:          id,
		concurrency: concurrency,
		s:           s,
		q:           q,
		ctrl:        ctrl,
		logger:      log.WithComponent("worker").With().Str("worker_id", id).Logger(),
		stopCh:      make(chan struct{}),
	}
}

// ID returns this worker's generated or configured identifier.
func (w *Worker) ID() string { return w.id }

// Start registers the worker, launches its heartbeat and its
// Concurrency consumer goroutines, and returns immediately; callers
// wait on a signal (or context cancellation) and then call Stop.
func (w *Worker) Start(ctx context.Context) error {
	if err := w.register(ctx); err != nil {
		return err
	}
	metrics.ActiveWorkers.Inc()

	w.wg.Add(1)
	go w.heartbeatLoop()

	w.wg.Add(1)
	go w.stalledSweepLoop()

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.consumeLoop(ctx)
	}
	return nil
}

// Stop runs the graceful stop sequence from spec §4.8: transition to
// stopping, drain in-flight jobs up to drainTimeout, then shut down
// every active agent (each moved to Terminated).
func (w *Worker) Stop(ctx context.Context) error {
	if err := w.setStatus(ctx, types.WorkerStopping); err != nil {
		w.logger.Warn().Err(err).Msg("failed to mark worker stopping")
	}

	close(w.stopCh)

	drained := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
	case <-time.After(drainTimeout):
		w.logger.Warn().Msg("drain timeout exceeded, shutting down anyway")
	}

	w.ctrl.ShutdownAgents(ctx)
	metrics.ActiveWorkers.Dec()
	metrics.WorkerJobsInFlight.WithLabelValues(w.id).Set(0)

	return w.deregister(ctx)
}

func (w *Worker) consumeLoop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		claim, err := w.q.Dequeue(ctx, w.id)
		if err != nil {
			w.logger.Error().Err(err).Msg("dequeue failed")
			time.Sleep(pollInterval)
			continue
		}
		if claim == nil {
			select {
			case <-time.After(pollInterval):
			case <-w.stopCh:
				return
			}
			continue
		}

		w.runClaim(ctx, claim)
	}
}

func (w *Worker) runClaim(ctx context.Context, claim *queue.Claim) {
	metrics.WorkerJobsInFlight.WithLabelValues(w.id).Inc()
	defer metrics.WorkerJobsInFlight.WithLabelValues(w.id).Dec()

	started := time.Now()
	job := claim.Job
	logger := w.logger.With().Str("job_id", job.JobID).Str("kind", string(job.Kind)).Logger()

	err := w.ctrl.HandleJob(ctx, job, w.id)
	if err != nil {
		logger.Error().Err(err).Msg("job handler failed")
		if failErr := w.q.Fail(ctx, job.JobID, job.Kind, err); failErr != nil {
			logger.Error().Err(failErr).Msg("failed to record job failure")
		}
		return
	}

	if err := w.q.Complete(ctx, job.JobID, job.Kind, started); err != nil {
		logger.Error().Err(err).Msg("failed to record job completion")
	}
}

func (w *Worker) stalledSweepLoop() {
	defer w.wg.Done()
	ticker := time.NewTicker(queue.StalledInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := w.q.SweepStalled(context.Background()); err != nil {
				w.logger.Error().Err(err).Msg("sweep stalled jobs failed")
			}
		case <-w.stopCh:
			return
		}
	}
}
