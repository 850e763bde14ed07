// Package queue implements the Work Queue (C5): a durable, prioritized
// job queue over pkg/store with at-least-once delivery, retries, and
// stall detection.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/rohanbojja/ottobot-orchestrator/pkg/log"
	"github.com/rohanbojja/ottobot-orchestrator/pkg/metrics"
	"github.com/rohanbojja/ottobot-orchestrator/pkg/orcherrors"
	"github.com/rohanbojja/ottobot-orchestrator/pkg/store"
	"github.com/rohanbojja/ottobot-orchestrator/pkg/types"
)

// MaxAttempts bounds total delivery attempts before a job is dead-lettered.
const MaxAttempts = 3

// StalledInterval is how long a claimed job may run without being
// completed before it's considered stalled and reclaimed.
const StalledInterval = 30 * time.Second

// MaxStalled bounds how many times a job may be reclaimed from a
// stalled lease before it's moved to dead-letter.
const MaxStalled = 3

// backoffBase is the starting delay of the exponential retry backoff.
const backoffBase = 2 * time.Second

// priority assigns each job kind its queue list. CreateSession and
// ProcessMessage share priority 1; TerminateSession is priority 2.
//
// Convention: higher numeric priority is drained first. Dequeue
// always checks the priority-2 (terminate) list before priority 1
// whenever it is non-empty, so a flood of create/process jobs can
// never starve termination — termination is the one job kind the
// spec requires to never be starved.
func priority(kind types.JobKind) int {
	if kind == types.JobTerminateSession {
		return 2
	}
	return 1
}

func queueKey(p int) string {
	if p == 2 {
		return "queue:jobs:p2"
	}
	return "queue:jobs:p1"
}

const inflightSetKey = "queue:inflight"

func inflightKey(jobID string) string { return "queue:inflight:" + jobID }
func leaseKey(jobID string) string    { return "queue:lease:" + jobID }
func stallsKey(jobID string) string   { return "queue:stalls:" + jobID }

// inflightRecord is what's stored for a claimed job so the stall
// sweep can re-enqueue or dead-letter it without the original list
// entry (which is removed on claim).
type inflightRecord struct {
	Job        types.Job `json:"job"`
	ClaimedBy  string    `json:"claimed_by"`
	ClaimedAt  time.Time `json:"claimed_at"`
	StallCount int       `json:"stall_count"`
}

// Queue wraps *store.Store and implements spec §4.5.
type Queue struct {
	s      *store.Store
	logger zerolog.Logger
}

// New constructs a Queue over s.
func New(s *store.Store) *Queue {
	return &Queue{s: s, logger: log.WithComponent("queue")}
}

// Enqueue submits a new job of the given kind for sessionID with an
// opaque payload, assigning it a fresh job id and this kind's priority.
func (q *Queue) Enqueue(ctx context.Context, kind types.JobKind, sessionID string, payload map[string]any) (string, error) {
	job := types.Job{
		JobID:     uuid.NewString(),
		Kind:      kind,
		SessionID: sessionID,
		Payload:   payload,
		Attempts:  0,
		Priority:  priority(kind),
	}
	if err := q.push(ctx, job); err != nil {
		return "", err
	}
	metrics.JobsEnqueuedTotal.WithLabelValues(string(kind)).Inc()
	metrics.QueueLength.WithLabelValues(queueLabel(job.Priority)).Inc()
	return job.JobID, nil
}

func (q *Queue) push(ctx context.Context, job types.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return orcherrors.Wrap(orcherrors.StoreError, "marshal job", err)
	}
	return q.s.RPush(ctx, queueKey(job.Priority), string(data))
}

func queueLabel(p int) string {
	if p == 2 {
		return "terminate"
	}
	return "default"
}

// Claim is a job handed to a worker, with the lease it must renew or
// complete before StalledInterval elapses.
type Claim struct {
	Job       types.Job
	WorkerID  string
	claimedAt time.Time
}

// Dequeue claims at most one ready job for workerID, checking the
// terminate-priority list first so termination is never starved.
// Returns (nil, nil) when nothing is ready to claim.
func (q *Queue) Dequeue(ctx context.Context, workerID string) (*Claim, error) {
	for _, p := range []int{2, 1} {
		claim, err := q.dequeueFrom(ctx, p, workerID)
		if err != nil {
			return nil, err
		}
		if claim != nil {
			return claim, nil
		}
	}
	return nil, nil
}

// dequeueFrom attempts to claim the head of the priority-p list. The
// queue's primitives don't include an atomic pop, so claiming is done
// by peeking the head, winning an exclusive lease via SetNX, and only
// the winner trims the head off the list. A losing peek (someone else
// already holds the lease) is left untrimmed for its owner to remove.
func (q *Queue) dequeueFrom(ctx context.Context, p int, workerID string) (*Claim, error) {
	key := queueKey(p)
	const maxPeek = 8

	for i := 0; i < maxPeek; i++ {
		items, err := q.s.LRange(ctx, key, int64(i), int64(i))
		if err != nil {
			return nil, err
		}
		if len(items) == 0 {
			return nil, nil
		}

		var job types.Job
		if err := json.Unmarshal([]byte(items[0]), &job); err != nil {
			q.logger.Warn().Err(err).Msg("discarding malformed job entry")
			continue
		}

		won, err := q.s.SetNX(ctx, leaseKey(job.JobID), workerID, StalledInterval)
		if err != nil {
			return nil, err
		}
		if !won {
			// already claimed by someone else; try the next entry down
			continue
		}

		if i == 0 {
			if err := q.s.LTrim(ctx, key, 1, -1); err != nil {
				return nil, err
			}
		}

		record := inflightRecord{Job: job, ClaimedBy: workerID, ClaimedAt: time.Now()}
		if err := q.putInflight(ctx, record); err != nil {
			return nil, err
		}

		metrics.QueueLength.WithLabelValues(queueLabel(p)).Dec()
		return &Claim{Job: job, WorkerID: workerID, claimedAt: record.ClaimedAt}, nil
	}
	return nil, nil
}

func (q *Queue) putInflight(ctx context.Context, record inflightRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return orcherrors.Wrap(orcherrors.StoreError, "marshal inflight record", err)
	}
	if err := q.s.Set(ctx, inflightKey(record.Job.JobID), string(data)); err != nil {
		return err
	}
	return q.s.SAdd(ctx, inflightSetKey, record.Job.JobID)
}

// RenewLease extends a claimed job's lease, used by long-running
// handlers to avoid being reclaimed as stalled.
func (q *Queue) RenewLease(ctx context.Context, jobID, _ string) error {
	return q.s.Expire(ctx, leaseKey(jobID), StalledInterval)
}

// Complete marks a claimed job done and garbage-collects its
// bookkeeping, per spec: completed jobs are not retained.
func (q *Queue) Complete(ctx context.Context, jobID string, kind types.JobKind, started time.Time) error {
	_ = q.s.Del(ctx, leaseKey(jobID))
	_ = q.s.Del(ctx, inflightKey(jobID))
	_ = q.s.SRem(ctx, inflightSetKey, jobID)
	_ = q.s.Del(ctx, stallsKey(jobID))
	metrics.JobsCompletedTotal.WithLabelValues(string(kind), "success").Inc()
	metrics.JobProcessingDuration.WithLabelValues(string(kind)).Observe(time.Since(started).Seconds())
	return nil
}

// Fail reports that a claimed job's handler returned an error. The job
// is re-enqueued up to MaxAttempts total attempts, after which it is
// dead-lettered. Retried jobs are re-enqueued immediately with no
// delay, since the queue has no native delay primitive; RetryBackoff
// computes an exponential delay, but neither Fail nor the worker's
// consume loop applies it.
func (q *Queue) Fail(ctx context.Context, jobID string, kind types.JobKind, handlerErr error) error {
	record, err := q.getInflight(ctx, jobID)
	if err != nil {
		return err
	}
	if record == nil {
		return nil
	}

	_ = q.s.Del(ctx, leaseKey(jobID))
	_ = q.s.Del(ctx, inflightKey(jobID))
	_ = q.s.SRem(ctx, inflightSetKey, jobID)

	record.Job.Attempts++
	if record.Job.Attempts >= MaxAttempts {
		metrics.JobsCompletedTotal.WithLabelValues(string(kind), "failure").Inc()
		return q.deadLetter(ctx, record.Job, handlerErr)
	}

	metrics.JobsEnqueuedTotal.WithLabelValues(string(kind)).Inc()
	metrics.QueueLength.WithLabelValues(queueLabel(record.Job.Priority)).Inc()
	return q.push(ctx, record.Job)
}

// RetryBackoff returns the exponential delay before attempt n (1-based)
// should be retried, starting at backoffBase and doubling, uncapped
// beyond what the caller chooses to sleep.
func RetryBackoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := backoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}

func (q *Queue) getInflight(ctx context.Context, jobID string) (*inflightRecord, error) {
	data, err := q.s.Get(ctx, inflightKey(jobID))
	if err != nil {
		if isMiss(err) {
			return nil, nil
		}
		return nil, err
	}
	var record inflightRecord
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return nil, orcherrors.Wrap(orcherrors.StoreError, "unmarshal inflight record", err)
	}
	return &record, nil
}

const deadLetterKey = "queue:deadletter"

// deadLetterEntry records a permanently failed job for inspection.
type deadLetterEntry struct {
	Job     types.Job `json:"job"`
	Reason  string    `json:"reason"`
	Failed  time.Time `json:"failed_at"`
}

func (q *Queue) deadLetter(ctx context.Context, job types.Job, cause error) error {
	reason := ""
	if cause != nil {
		reason = cause.Error()
	}
	entry := deadLetterEntry{Job: job, Reason: reason, Failed: time.Now()}
	data, err := json.Marshal(entry)
	if err != nil {
		return orcherrors.Wrap(orcherrors.StoreError, "marshal dead letter entry", err)
	}
	metrics.JobsDeadLetteredTotal.WithLabelValues(string(job.Kind)).Inc()
	return q.s.RPush(ctx, deadLetterKey, string(data))
}

// Length returns the total number of jobs waiting across both
// priority lists, not counting claimed (in-flight) jobs. Used for
// observability surfaces, not the dequeue path itself.
func (q *Queue) Length(ctx context.Context) (int, error) {
	total := 0
	for _, p := range []int{1, 2} {
		items, err := q.s.LRange(ctx, queueKey(p), 0, -1)
		if err != nil {
			return 0, err
		}
		total += len(items)
	}
	return total, nil
}

// InFlightCounts returns the number of claimed-but-not-yet-completed
// jobs per worker id, used to report current_jobs on the health surface.
func (q *Queue) InFlightCounts(ctx context.Context) (map[string]int, error) {
	ids, err := q.s.SMembers(ctx, inflightSetKey)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int)
	for _, id := range ids {
		record, err := q.getInflight(ctx, id)
		if err != nil || record == nil {
			continue
		}
		counts[record.ClaimedBy]++
	}
	return counts, nil
}

// DeadLettered returns every job moved to the dead letter queue.
func (q *Queue) DeadLettered(ctx context.Context) ([]types.Job, error) {
	raw, err := q.s.LRange(ctx, deadLetterKey, 0, -1)
	if err != nil {
		return nil, err
	}
	jobs := make([]types.Job, 0, len(raw))
	for _, item := range raw {
		var entry deadLetterEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			continue
		}
		jobs = append(jobs, entry.Job)
	}
	return jobs, nil
}

// SweepStalled scans in-flight jobs whose lease has expired without
// being renewed or completed, and either re-queues them (incrementing
// their stall count) or dead-letters them once MaxStalled is reached.
// Intended to run on a ticker, grounded on pkg/reconciler.go's
// Start/run/ticker shape.
func (q *Queue) SweepStalled(ctx context.Context) error {
	ids, err := q.s.SMembers(ctx, inflightSetKey)
	if err != nil {
		return err
	}

	for _, jobID := range ids {
		ttl, err := q.s.TTL(ctx, leaseKey(jobID))
		if err != nil {
			return err
		}
		if ttl > 0 {
			continue // lease still held, not stalled
		}

		record, err := q.getInflight(ctx, jobID)
		if err != nil {
			return err
		}
		if record == nil {
			_ = q.s.SRem(ctx, inflightSetKey, jobID)
			continue
		}

		_ = q.s.Del(ctx, inflightKey(jobID))
		_ = q.s.SRem(ctx, inflightSetKey, jobID)

		// The in-flight record is rebuilt on every claim, so the stall
		// count is kept in its own counter that survives re-queueing.
		stalls, err := q.s.Incr(ctx, stallsKey(jobID))
		if err != nil {
			return err
		}
		record.StallCount = int(stalls)
		if record.StallCount >= MaxStalled {
			_ = q.s.Del(ctx, stallsKey(jobID))
			if err := q.deadLetter(ctx, record.Job, orcherrors.Wrap(orcherrors.Fatal, "job stalled too many times", nil)); err != nil {
				return err
			}
			continue
		}

		q.logger.Warn().Str("job_id", jobID).Int("stall_count", record.StallCount).Msg("reclaiming stalled job")
		metrics.QueueLength.WithLabelValues(queueLabel(record.Job.Priority)).Inc()
		if err := q.push(ctx, record.Job); err != nil {
			return err
		}
	}
	return nil
}

func isMiss(err error) bool {
	return errors.Is(err, redis.Nil)
}
