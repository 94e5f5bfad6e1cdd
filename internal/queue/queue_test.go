package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ecommerce-admin/internal/apperr"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestQueue(t *testing.T, cfg Config) (*Queue, *fakeClock, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	clk := &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	cfg.Now = clk.Now
	return New(rdb, cfg), clk, mr
}

func TestBackoffDelay(t *testing.T) {
	base := 10 * time.Second
	assert.Equal(t, 10*time.Second, BackoffDelay(base, 1))
	assert.Equal(t, 20*time.Second, BackoffDelay(base, 2))
	assert.Equal(t, 40*time.Second, BackoffDelay(base, 3))
	assert.Equal(t, 10*time.Second, BackoffDelay(base, 0))
}

func TestQueue_DelayedJobIsNotDueEarly(t *testing.T) {
	ctx := context.Background()
	q, clk, _ := newTestQueue(t, Config{})

	id, err := q.Enqueue(ctx, []byte(`{"callRecordId":"c1"}`), Options{Delay: 5 * time.Second})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	job, err := q.Reserve(ctx)
	require.NoError(t, err)
	require.Nil(t, job)

	clk.Advance(5 * time.Second)
	job, err = q.Reserve(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, id, job.ID)
	assert.Equal(t, `{"callRecordId":"c1"}`, string(job.Payload))
	assert.Equal(t, 1, job.Attempt)
	assert.Equal(t, DefaultMaxAttempts, job.MaxAttempts)
	assert.Equal(t, DefaultBackoff, job.Backoff)

	require.NoError(t, q.Complete(ctx, job))
	st, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{}, st)
}

func TestQueue_ImmediateJobIsDueNow(t *testing.T) {
	ctx := context.Background()
	q, _, _ := newTestQueue(t, Config{})

	id, err := q.EnqueueImmediate(ctx, []byte("x"))
	require.NoError(t, err)

	job, err := q.Reserve(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, id, job.ID)
}

func TestQueue_ReservedJobIsHeldByOneConsumer(t *testing.T) {
	ctx := context.Background()
	q, _, _ := newTestQueue(t, Config{})

	_, err := q.EnqueueImmediate(ctx, []byte("x"))
	require.NoError(t, err)

	first, err := q.Reserve(ctx)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := q.Reserve(ctx)
	require.NoError(t, err)
	assert.Nil(t, second)
}

func TestQueue_RetryBacksOffExponentiallyThenFails(t *testing.T) {
	ctx := context.Background()
	q, clk, _ := newTestQueue(t, Config{})

	_, err := q.EnqueueImmediate(ctx, []byte("x"))
	require.NoError(t, err)

	cause := &apperr.TelephonyError{HTTPStatus: 503}
	wantDelays := []time.Duration{10 * time.Second, 20 * time.Second, 40 * time.Second}

	for attempt := 1; attempt <= 3; attempt++ {
		job, err := q.Reserve(ctx)
		require.NoError(t, err)
		require.NotNil(t, job, "attempt %d", attempt)
		require.Equal(t, attempt, job.Attempt)

		out, err := q.Fail(ctx, job, cause)
		require.NoError(t, err)
		require.True(t, out.Retried)
		require.Equal(t, wantDelays[attempt-1], out.Delay)

		clk.Advance(out.Delay - time.Millisecond)
		early, err := q.Reserve(ctx)
		require.NoError(t, err)
		require.Nil(t, early)
		clk.Advance(time.Millisecond)
	}

	job, err := q.Reserve(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	require.Equal(t, 4, job.Attempt)

	out, err := q.Fail(ctx, job, cause)
	require.NoError(t, err)
	require.False(t, out.Retried)

	clk.Advance(time.Hour)
	again, err := q.Reserve(ctx)
	require.NoError(t, err)
	require.Nil(t, again)

	failed, err := q.Failed(ctx, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, job.ID, failed[0].ID)
	assert.Equal(t, 4, failed[0].Attempts)
	assert.Equal(t, "telephony: HTTP 503", failed[0].LastError)
	assert.Equal(t, []byte("x"), failed[0].Payload)
}

func TestQueue_PermanentErrorSkipsRetries(t *testing.T) {
	ctx := context.Background()
	q, _, _ := newTestQueue(t, Config{})

	_, err := q.EnqueueImmediate(ctx, []byte("x"))
	require.NoError(t, err)
	job, err := q.Reserve(ctx)
	require.NoError(t, err)

	out, err := q.Fail(ctx, job, Permanent(apperr.ErrMissingPhone))
	require.NoError(t, err)
	assert.False(t, out.Retried)

	st, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.Failed)
	assert.Equal(t, int64(0), st.Active)
}

func TestQueue_StalledJobIsRedeliveredThenFailed(t *testing.T) {
	ctx := context.Background()
	q, clk, _ := newTestQueue(t, Config{Visibility: 30 * time.Second, MaxStalls: 1})

	_, err := q.EnqueueImmediate(ctx, []byte("x"))
	require.NoError(t, err)

	first, err := q.Reserve(ctx)
	require.NoError(t, err)
	require.NotNil(t, first)

	clk.Advance(31 * time.Second)
	second, err := q.Reserve(ctx)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, second.Attempt, "stalls do not consume attempts")
	assert.NotEqual(t, first.Token, second.Token)

	// the stalled holder can no longer acknowledge
	assert.ErrorIs(t, q.Complete(ctx, first), ErrLeaseLost)

	clk.Advance(31 * time.Second)
	third, err := q.Reserve(ctx)
	require.NoError(t, err)
	assert.Nil(t, third)

	failed, err := q.Failed(ctx, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Contains(t, failed[0].LastError, "stalled")
}

func TestQueue_RemovePendingJob(t *testing.T) {
	ctx := context.Background()
	q, clk, _ := newTestQueue(t, Config{})

	id, err := q.Enqueue(ctx, []byte("x"), Options{Delay: time.Minute})
	require.NoError(t, err)

	removed, err := q.Remove(ctx, id)
	require.NoError(t, err)
	assert.True(t, removed)

	clk.Advance(2 * time.Minute)
	job, err := q.Reserve(ctx)
	require.NoError(t, err)
	assert.Nil(t, job)

	removed, err = q.Remove(ctx, id)
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestQueue_RemoveRefusesActiveJob(t *testing.T) {
	ctx := context.Background()
	q, _, _ := newTestQueue(t, Config{})

	id, err := q.EnqueueImmediate(ctx, []byte("x"))
	require.NoError(t, err)
	job, err := q.Reserve(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)

	removed, err := q.Remove(ctx, id)
	require.NoError(t, err)
	assert.False(t, removed)
	require.NoError(t, q.Complete(ctx, job))
}

func TestQueue_RemoveKeepsFailedJob(t *testing.T) {
	ctx := context.Background()
	q, _, _ := newTestQueue(t, Config{})

	id, err := q.EnqueueImmediate(ctx, []byte(`{"callRecordId":"c1"}`))
	require.NoError(t, err)
	job, err := q.Reserve(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	_, err = q.Fail(ctx, job, Permanent(apperr.ErrMissingPhone))
	require.NoError(t, err)

	removed, err := q.Remove(ctx, id)
	require.NoError(t, err)
	assert.False(t, removed)

	failed, err := q.Failed(ctx, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, id, failed[0].ID)
	assert.Equal(t, `{"callRecordId":"c1"}`, string(failed[0].Payload))
	assert.Contains(t, failed[0].LastError, "no phone number available")
	assert.False(t, failed[0].FailedAt.IsZero())
}

func TestQueue_EnqueueFailureIsQueueError(t *testing.T) {
	ctx := context.Background()
	q, _, mr := newTestQueue(t, Config{})
	mr.Close()

	_, err := q.EnqueueImmediate(ctx, []byte("x"))
	require.Error(t, err)
	var qe *apperr.QueueError
	require.True(t, errors.As(err, &qe))
	assert.Equal(t, "enqueue", qe.Op)
}

func TestPermanent(t *testing.T) {
	base := errors.New("boom")
	err := Permanent(base)
	assert.True(t, IsPermanent(err))
	assert.ErrorIs(t, err, base)
	assert.False(t, IsPermanent(base))
	assert.Nil(t, Permanent(nil))
}
