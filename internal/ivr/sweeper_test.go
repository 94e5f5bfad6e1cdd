package ivr

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ecommerce-admin/internal/calls"
	"ecommerce-admin/internal/store"
)

func TestSweeper_FailsStaleCalls(t *testing.T) {
	ctx := context.Background()
	repo := store.NewMemory()
	seedOrder(repo)
	old := testNow.Add(-time.Hour)
	fresh := testNow.Add(-time.Minute)

	require.NoError(t, repo.InsertCall(ctx, calls.CallRecord{ID: "stale-error", OrderID: "order-1", Status: calls.CallStatusError, UpdatedAt: old}))
	require.NoError(t, repo.InsertCall(ctx, calls.CallRecord{ID: "stale-triggering", Status: calls.CallStatusTriggering, UpdatedAt: old}))
	require.NoError(t, repo.InsertCall(ctx, calls.CallRecord{ID: "fresh-error", Status: calls.CallStatusError, UpdatedAt: fresh}))
	require.NoError(t, repo.InsertCall(ctx, calls.CallRecord{ID: "old-triggered", Status: calls.CallStatusTriggered, UpdatedAt: old}))

	s := NewSweeper(repo, 15*time.Minute, nil, nil, fixedNow)
	n, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, id := range []string{"stale-error", "stale-triggering"} {
		rec := mustCall(t, repo, id)
		assert.Equal(t, calls.CallStatusFailed, rec.Status, id)
		assert.Equal(t, 1, countEvents(rec.CallLog, EventSweepFailed), id)
	}
	assert.Equal(t, calls.CallStatusError, mustCall(t, repo, "fresh-error").Status)
	assert.Equal(t, calls.CallStatusTriggered, mustCall(t, repo, "old-triggered").Status)
	assert.Equal(t, 1, countEvents(mustOrder(t, repo, testOrderNumber).CallLog, EventSweepFailed))

	n, err = s.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSweeper_StartRejectsBadSchedule(t *testing.T) {
	s := NewSweeper(store.NewMemory(), time.Minute, nil, nil, fixedNow)
	_, err := s.Start(context.Background(), "not a schedule")
	assert.Error(t, err)

	c, err := s.Start(context.Background(), "@every 1h")
	require.NoError(t, err)
	c.Stop()
}
