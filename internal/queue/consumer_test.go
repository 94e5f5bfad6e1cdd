package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsumer_ProcessCompletesOnSuccess(t *testing.T) {
	ctx := context.Background()
	q, _, _ := newTestQueue(t, Config{})
	_, err := q.EnqueueImmediate(ctx, []byte("x"))
	require.NoError(t, err)

	var completed int32
	c := NewConsumer(q, func(ctx context.Context, job *Job) error { return nil }, ConsumerConfig{},
		Hooks{OnComplete: func(*Job, time.Duration) { atomic.AddInt32(&completed, 1) }}, nil)

	job, err := q.Reserve(ctx)
	require.NoError(t, err)
	c.Process(ctx, job)

	assert.Equal(t, int32(1), atomic.LoadInt32(&completed))
	st, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{}, st)
}

func TestConsumer_ProcessRetriesAndBuries(t *testing.T) {
	ctx := context.Background()
	q, clk, _ := newTestQueue(t, Config{MaxAttempts: 2})
	_, err := q.EnqueueImmediate(ctx, []byte("x"))
	require.NoError(t, err)

	var retries, failures int32
	c := NewConsumer(q, func(ctx context.Context, job *Job) error { return errors.New("provider down") }, ConsumerConfig{},
		Hooks{
			OnRetry:  func(*Job, error, time.Duration) { atomic.AddInt32(&retries, 1) },
			OnFailed: func(*Job, error) { atomic.AddInt32(&failures, 1) },
		}, nil)

	job, err := q.Reserve(ctx)
	require.NoError(t, err)
	c.Process(ctx, job)
	assert.Equal(t, int32(1), retries)

	clk.Advance(DefaultBackoff)
	job, err = q.Reserve(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	c.Process(ctx, job)
	assert.Equal(t, int32(1), failures)
}

func TestConsumer_PanicIsAFailure(t *testing.T) {
	ctx := context.Background()
	q, _, _ := newTestQueue(t, Config{})
	_, err := q.EnqueueImmediate(ctx, []byte("x"))
	require.NoError(t, err)

	var retried error
	c := NewConsumer(q, func(ctx context.Context, job *Job) error { panic("nil map") }, ConsumerConfig{},
		Hooks{OnRetry: func(_ *Job, err error, _ time.Duration) { retried = err }}, nil)

	job, err := q.Reserve(ctx)
	require.NoError(t, err)
	c.Process(ctx, job)
	require.Error(t, retried)
	assert.Contains(t, retried.Error(), "handler panic")
}

func TestConsumer_RunHandlesJobsConcurrently(t *testing.T) {
	q, _, _ := newTestQueue(t, Config{})
	for i := 0; i < 4; i++ {
		_, err := q.EnqueueImmediate(context.Background(), []byte("x"))
		require.NoError(t, err)
	}

	var (
		mu      sync.Mutex
		inside  int
		maxSeen int
		done    int32
	)
	release := make(chan struct{})
	handler := func(ctx context.Context, job *Job) error {
		mu.Lock()
		inside++
		if inside > maxSeen {
			maxSeen = inside
		}
		mu.Unlock()
		<-release
		mu.Lock()
		inside--
		mu.Unlock()
		atomic.AddInt32(&done, 1)
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := NewConsumer(q, handler, ConsumerConfig{Concurrency: 4, PollInterval: 10 * time.Millisecond}, Hooks{}, nil)
	errc := make(chan error, 1)
	go func() { errc <- c.Run(ctx) }()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return maxSeen == 4
	}, 2*time.Second, 5*time.Millisecond)

	close(release)
	require.Eventually(t, func() bool { return atomic.LoadInt32(&done) == 4 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-errc)
}
