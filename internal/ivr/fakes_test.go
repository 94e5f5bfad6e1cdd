package ivr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ecommerce-admin/internal/calls"
	"ecommerce-admin/internal/orders"
	"ecommerce-admin/internal/queue"
	"ecommerce-admin/internal/store"
	"ecommerce-admin/internal/telephony"
)

var testNow = time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return testNow }

type enqueued struct {
	ID        string
	Payload   []byte
	Delay     time.Duration
	Immediate bool
}

type fakeQueue struct {
	mu      sync.Mutex
	jobs    []enqueued
	removed []string
	err     error
}

func (f *fakeQueue) Enqueue(ctx context.Context, payload []byte, opts queue.Options) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	id := fmt.Sprintf("job-%d", len(f.jobs)+1)
	f.jobs = append(f.jobs, enqueued{ID: id, Payload: payload, Delay: opts.Delay})
	return id, nil
}

func (f *fakeQueue) EnqueueImmediate(ctx context.Context, payload []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	id := fmt.Sprintf("job-%d", len(f.jobs)+1)
	f.jobs = append(f.jobs, enqueued{ID: id, Payload: payload, Immediate: true})
	return id, nil
}

func (f *fakeQueue) Remove(ctx context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, id)
	return true, nil
}

// job builds the delivery the consumer would hand to the worker.
func (f *fakeQueue) job(t *testing.T, i, attempt int) *queue.Job {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.Greater(t, len(f.jobs), i)
	return &queue.Job{ID: f.jobs[i].ID, Payload: f.jobs[i].Payload, Attempt: attempt, MaxAttempts: 4, Backoff: 10 * time.Second}
}

type fakeDialer struct {
	mu     sync.Mutex
	phones []string
	nextID string
	err    error
	// during runs while the placement request is "in flight"
	during func()
}

func (d *fakeDialer) Name() string { return "fake" }

func (d *fakeDialer) PlaceCall(ctx context.Context, phone, callbackURL string) (telephony.PlaceResult, error) {
	d.mu.Lock()
	d.phones = append(d.phones, phone)
	during, err, id := d.during, d.err, d.nextID
	d.mu.Unlock()
	if during != nil {
		during()
	}
	if err != nil {
		return telephony.PlaceResult{}, err
	}
	raw, _ := json.Marshal(map[string]any{"Call": map[string]string{"Sid": id}})
	return telephony.PlaceResult{ProviderCallID: id, Raw: raw}, nil
}

func (d *fakeDialer) calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.phones)
}

const (
	testOrderNumber = "ORD-20250101-ABC"
	testPhone       = "+911234567890"
)

func seedOrder(repo *store.Memory) orders.Order {
	o := orders.Order{
		ID:            "order-1",
		OrderNumber:   testOrderNumber,
		Status:        orders.StatusCreated,
		ShippingPhone: testPhone,
	}
	repo.PutOrder(o)
	return o
}

func mustOrder(t *testing.T, repo *store.Memory, number string) orders.Order {
	t.Helper()
	o, err := repo.OrderByNumber(context.Background(), number)
	require.NoError(t, err)
	return o
}

func mustCall(t *testing.T, repo *store.Memory, id string) calls.CallRecord {
	t.Helper()
	c, err := repo.Call(context.Background(), id)
	require.NoError(t, err)
	return c
}

func countEvents(log []calls.LogEntry, event string) int {
	n := 0
	for _, e := range log {
		if e.Event == event {
			n++
		}
	}
	return n
}

var errBoom = errors.New("boom")
