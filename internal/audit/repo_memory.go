package audit

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// MemoryRepo keeps audit events in process, indexed by order number. Used by
// tests and local runs without Postgres.
type MemoryRepo struct {
	mu      sync.Mutex
	events  []Event
	ids     map[string]struct{}
	byOrder map[string][]int
	// Err, when set, is returned by Append and nothing is stored.
	Err error
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{ids: map[string]struct{}{}, byOrder: map[string][]int{}}
}

// Append stores e. An id that was already recorded is rejected rather than
// overwritten.
func (r *MemoryRepo) Append(ctx context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	if _, dup := r.ids[e.ID]; dup && e.ID != "" {
		return fmt.Errorf("audit: event %s already recorded for order %s", e.ID, e.OrderNumber)
	}
	if e.ID != "" {
		r.ids[e.ID] = struct{}{}
	}
	r.byOrder[e.OrderNumber] = append(r.byOrder[e.OrderNumber], len(r.events))
	r.events = append(r.events, e)
	return nil
}

func (r *MemoryRepo) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.events)
}

// ForOrder returns the order's events in append order, optionally limited to
// the given types.
func (r *MemoryRepo) ForOrder(orderNumber string, types ...EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, i := range r.byOrder[orderNumber] {
		if len(types) > 0 && !slices.Contains(types, r.events[i].Type) {
			continue
		}
		out = append(out, r.events[i])
	}
	return out
}
