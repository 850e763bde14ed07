package queue

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohanbojja/ottobot-orchestrator/pkg/store"
	"github.com/rohanbojja/ottobot-orchestrator/pkg/types"
)

func newTestQueue(t *testing.T) (*Queue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)
	s, err := store.NewClient(context.Background(), store.Config{Host: mr.Host(), Port: port}, zerolog.Nop())
	require.NoError(t, err)
	return New(s), mr
}

func TestEnqueueDequeueRoundTrip(t *testing.T) {
	q, mr := newTestQueue(t)
	defer mr.Close()
	ctx := context.Background()

	jobID, err := q.Enqueue(ctx, types.JobCreateSession, "sess-1", map[string]any{"prompt": "hi"})
	require.NoError(t, err)
	require.NotEmpty(t, jobID)

	claim, err := q.Dequeue(ctx, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, claim)
	assert.Equal(t, jobID, claim.Job.JobID)
	assert.Equal(t, "sess-1", claim.Job.SessionID)
}

func TestDequeueEmptyReturnsNil(t *testing.T) {
	q, mr := newTestQueue(t)
	defer mr.Close()

	claim, err := q.Dequeue(context.Background(), "worker-1")
	require.NoError(t, err)
	assert.Nil(t, claim)
}

func TestTerminateNeverStarvedByFlood(t *testing.T) {
	q, mr := newTestQueue(t)
	defer mr.Close()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := q.Enqueue(ctx, types.JobProcessMessage, "sess-1", nil)
		require.NoError(t, err)
	}
	termID, err := q.Enqueue(ctx, types.JobTerminateSession, "sess-1", nil)
	require.NoError(t, err)

	claim, err := q.Dequeue(ctx, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, claim)
	assert.Equal(t, termID, claim.Job.JobID, "terminate job must be claimed before the flood of process jobs")
}

func TestTwoWorkersDoNotClaimSameJob(t *testing.T) {
	q, mr := newTestQueue(t)
	defer mr.Close()
	ctx := context.Background()

	_, err := q.Enqueue(ctx, types.JobCreateSession, "sess-1", nil)
	require.NoError(t, err)

	claim1, err := q.Dequeue(ctx, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, claim1)

	claim2, err := q.Dequeue(ctx, "worker-2")
	require.NoError(t, err)
	assert.Nil(t, claim2)
}

func TestCompleteRemovesBookkeeping(t *testing.T) {
	q, mr := newTestQueue(t)
	defer mr.Close()
	ctx := context.Background()

	_, err := q.Enqueue(ctx, types.JobCreateSession, "sess-1", nil)
	require.NoError(t, err)
	claim, err := q.Dequeue(ctx, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, claim)

	require.NoError(t, q.Complete(ctx, claim.Job.JobID, claim.Job.Kind, time.Now()))

	assert.False(t, mr.Exists(leaseKey(claim.Job.JobID)))
	assert.False(t, mr.Exists(inflightKey(claim.Job.JobID)))
}

func TestFailRetriesUntilMaxAttemptsThenDeadLetters(t *testing.T) {
	q, mr := newTestQueue(t)
	defer mr.Close()
	ctx := context.Background()

	jobID, err := q.Enqueue(ctx, types.JobCreateSession, "sess-1", nil)
	require.NoError(t, err)

	for attempt := 0; attempt < MaxAttempts; attempt++ {
		claim, err := q.Dequeue(ctx, "worker-1")
		require.NoError(t, err)
		require.NotNil(t, claim, "attempt %d", attempt)
		assert.Equal(t, jobID, claim.Job.JobID)
		require.NoError(t, q.Fail(ctx, claim.Job.JobID, claim.Job.Kind, assert.AnError))
	}

	claim, err := q.Dequeue(ctx, "worker-1")
	require.NoError(t, err)
	assert.Nil(t, claim, "job should be dead-lettered, not re-queued, after MaxAttempts")

	deadLettered, err := q.DeadLettered(ctx)
	require.NoError(t, err)
	require.Len(t, deadLettered, 1)
	assert.Equal(t, jobID, deadLettered[0].JobID)
}

func TestSweepStalledReclaimsExpiredLease(t *testing.T) {
	q, mr := newTestQueue(t)
	defer mr.Close()
	ctx := context.Background()

	_, err := q.Enqueue(ctx, types.JobCreateSession, "sess-1", nil)
	require.NoError(t, err)
	claim, err := q.Dequeue(ctx, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, claim)

	mr.FastForward(StalledInterval + time.Second)

	require.NoError(t, q.SweepStalled(ctx))

	reclaimed, err := q.Dequeue(ctx, "worker-2")
	require.NoError(t, err)
	require.NotNil(t, reclaimed, "stalled job should be re-queued for another worker")
	assert.Equal(t, claim.Job.JobID, reclaimed.Job.JobID)
}

func TestSweepStalledDeadLettersAfterMaxStalled(t *testing.T) {
	q, mr := newTestQueue(t)
	defer mr.Close()
	ctx := context.Background()

	jobID, err := q.Enqueue(ctx, types.JobCreateSession, "sess-1", nil)
	require.NoError(t, err)

	for i := 0; i < MaxStalled; i++ {
		claim, err := q.Dequeue(ctx, "worker-1")
		require.NoError(t, err)
		require.NotNil(t, claim, "round %d", i)
		mr.FastForward(StalledInterval + time.Second)
		require.NoError(t, q.SweepStalled(ctx))
	}

	claim, err := q.Dequeue(ctx, "worker-1")
	require.NoError(t, err)
	assert.Nil(t, claim)

	deadLettered, err := q.DeadLettered(ctx)
	require.NoError(t, err)
	require.Len(t, deadLettered, 1)
	assert.Equal(t, jobID, deadLettered[0].JobID)
}

func TestRetryBackoffDoublesFromBase(t *testing.T) {
	assert.Equal(t, 2*time.Second, RetryBackoff(1))
	assert.Equal(t, 4*time.Second, RetryBackoff(2))
	assert.Equal(t, 8*time.Second, RetryBackoff(3))
}
