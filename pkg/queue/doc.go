/*
Package queue implements the Work Queue (C5): a durable, prioritized
job queue built entirely out of pkg/store's primitives (no native
atomic pop, no delayed delivery, no multi-key transaction), per spec
§4.5.

# Priority Convention

TerminateSession jobs are priority 2, CreateSession/ProcessMessage are
priority 1. Dequeue always checks the priority-2 list first: whenever
it's non-empty a terminate job is claimed before any create/process
job is looked at, so termination can never be starved by a flood of
other work, regardless of which numeric convention "higher priority"
maps to.

# Claiming Without Atomic Pop

The store only exposes list peek/trim and SetNX, not a pop-and-lease
primitive, so Dequeue claims a job in two steps: peek the head with
LRange, then race to claim exclusive ownership of that job id with
SetNX on a lease key. Only the SetNX winner removes the head via
LTrim; a losing peek leaves the entry for its owner to remove, and the
loser tries the next position down (bounded by a small lookahead) in
case several heads are contended at once.

A claimed job's payload moves into a parallel "in-flight" record keyed
by job id, since the original list entry is gone once claimed — this
is what SweepStalled and Fail/Complete operate against.

# Stall Detection and Retry

The lease has TTL StalledInterval. SweepStalled (intended to run on a
ticker) finds in-flight jobs whose lease has expired without being
renewed or completed and re-queues them, counting stalls separately
from delivery attempts; a job stalled MaxStalled times is
dead-lettered regardless of its attempt count. Fail increments the
job's attempt count and re-enqueues it immediately up to MaxAttempts,
after which it's dead-lettered; RetryBackoff computes an exponential
delay, but the queue has no delayed-delivery primitive and neither
Fail nor the worker applies it, so a retried job is redelivered
without delay.

Completed jobs are deleted outright (no retention); dead-lettered jobs
are retained on queue:deadletter for inspection via DeadLettered.
*/
package queue
