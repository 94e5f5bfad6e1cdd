package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"ecommerce-admin/internal/apperr"
	"ecommerce-admin/internal/calls"
	"ecommerce-admin/internal/orders"
)

// Memory is an in-memory Repository useful for tests.
// It is not intended for production use.
//
// WithTx serializes transactions and restores a snapshot when fn fails, so
// atomicity behaves like the Postgres implementation.
type Memory struct {
	txMu sync.Mutex

	mu     sync.Mutex
	orders map[string]orders.Order
	calls  map[string]calls.CallRecord

	// FailOn, when set, is consulted before every write; a non-nil error is
	// returned instead of applying the write. Tests use it to inject faults.
	FailOn func(op string) error
}

func NewMemory() *Memory {
	return &Memory{
		orders: make(map[string]orders.Order),
		calls:  make(map[string]calls.CallRecord),
	}
}

// PutOrder seeds or replaces an order.
func (m *Memory) PutOrder(o orders.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = o.Clone()
}

// Orders returns every stored order.
func (m *Memory) Orders() []orders.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]orders.Order, 0, len(m.orders))
	for _, o := range m.orders {
		out = append(out, o.Clone())
	}
	return out
}

// Calls returns every stored call record.
func (m *Memory) Calls() []calls.CallRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]calls.CallRecord, 0, len(m.calls))
	for _, c := range m.calls {
		out = append(out, c.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (m *Memory) WithTx(ctx context.Context, fn TxFunc) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.Lock()
	ordersSnap := make(map[string]orders.Order, len(m.orders))
	for k, v := range m.orders {
		ordersSnap[k] = v
	}
	callsSnap := make(map[string]calls.CallRecord, len(m.calls))
	for k, v := range m.calls {
		callsSnap[k] = v
	}
	m.mu.Unlock()

	if err := fn(ctx, m); err != nil {
		m.mu.Lock()
		m.orders = ordersSnap
		m.calls = callsSnap
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *Memory) fail(op string) error {
	if m.FailOn == nil {
		return nil
	}
	return m.FailOn(op)
}

func (m *Memory) OrderByNumber(ctx context.Context, orderNumber string) (orders.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.OrderNumber == orderNumber {
			return o.Clone(), nil
		}
	}
	return orders.Order{}, apperr.NotFound("order " + orderNumber)
}

func (m *Memory) OrderByID(ctx context.Context, id string) (orders.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return orders.Order{}, apperr.NotFound("order id " + id)
	}
	return o.Clone(), nil
}

func (m *Memory) LockOrder(ctx context.Context, id string) (orders.Order, error) {
	return m.OrderByID(ctx, id)
}

func (m *Memory) PendingOrdersByPhone(ctx context.Context, phone string, limit int) ([]orders.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	phone = strings.TrimSpace(phone)
	var out []orders.Order
	for _, o := range m.orders {
		if o.IVR.CallDone || phone == "" {
			continue
		}
		if o.ShippingPhone == phone || o.Phone == phone || o.CustomerPhone == phone {
			out = append(out, o.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].IVR.NextAt, out[j].IVR.NextAt
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.After(*b)
		}
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) updateOrder(op, id string, fn func(o *orders.Order)) error {
	if err := m.fail(op); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return apperr.NotFound("order id " + id)
	}
	o = o.Clone()
	fn(&o)
	o.UpdatedAt = time.Now().UTC()
	m.orders[id] = o
	return nil
}

func (m *Memory) SaveOrderIVR(ctx context.Context, orderID string, st orders.IVRState) error {
	return m.updateOrder("SaveOrderIVR", orderID, func(o *orders.Order) {
		o.IVR = st
		if st.NextAt != nil {
			t := *st.NextAt
			o.IVR.NextAt = &t
		}
	})
}

func (m *Memory) SetOrderStatus(ctx context.Context, orderID string, status orders.Status) error {
	return m.updateOrder("SetOrderStatus", orderID, func(o *orders.Order) { o.Status = status })
}

func (m *Memory) SetOrderProviderCallID(ctx context.Context, orderID, providerCallID string) error {
	return m.updateOrder("SetOrderProviderCallID", orderID, func(o *orders.Order) { o.ProviderCallID = providerCallID })
}

func (m *Memory) AppendOrderLog(ctx context.Context, orderID string, e calls.LogEntry) error {
	return m.updateOrder("AppendOrderLog", orderID, func(o *orders.Order) {
		o.CallLog = append(o.CallLog, calls.CloneLog([]calls.LogEntry{e})...)
	})
}

func (m *Memory) InsertCall(ctx context.Context, rec calls.CallRecord) error {
	if err := m.fail("InsertCall"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.ProviderCallID != "" {
		for _, c := range m.calls {
			if c.ProviderCallID == rec.ProviderCallID {
				return apperr.Validation("duplicate provider call id %s", rec.ProviderCallID)
			}
		}
	}
	m.calls[rec.ID] = rec.Clone()
	return nil
}

func (m *Memory) Call(ctx context.Context, id string) (calls.CallRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.calls[id]
	if !ok {
		return calls.CallRecord{}, apperr.NotFound("call " + id)
	}
	return c.Clone(), nil
}

func (m *Memory) LockCall(ctx context.Context, id string) (calls.CallRecord, error) {
	return m.Call(ctx, id)
}

func (m *Memory) CallByProviderID(ctx context.Context, providerCallID string) (calls.CallRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if providerCallID != "" {
		for _, c := range m.calls {
			if c.ProviderCallID == providerCallID {
				return c.Clone(), nil
			}
		}
	}
	return calls.CallRecord{}, apperr.NotFound("provider call " + providerCallID)
}

func (m *Memory) SaveCall(ctx context.Context, rec calls.CallRecord) error {
	if err := m.fail("SaveCall"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.calls[rec.ID]
	if !ok {
		return apperr.NotFound("call " + rec.ID)
	}
	next := rec.Clone()
	if cur.ProviderCallID != "" {
		next.ProviderCallID = cur.ProviderCallID
	}
	next.JobRef = cur.JobRef
	next.CreatedAt = cur.CreatedAt
	m.calls[rec.ID] = next
	return nil
}

func (m *Memory) DeleteCall(ctx context.Context, id string) error {
	if err := m.fail("DeleteCall"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.calls[id]; !ok {
		return apperr.NotFound("call " + id)
	}
	delete(m.calls, id)
	return nil
}

func (m *Memory) SetCallJobRef(ctx context.Context, id, jobRef string) error {
	if err := m.fail("SetCallJobRef"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.calls[id]
	if !ok {
		return apperr.NotFound("call " + id)
	}
	c.JobRef = jobRef
	m.calls[id] = c
	return nil
}

func (m *Memory) ListCalls(ctx context.Context, from, to time.Time) ([]calls.CallRecord, error) {
	var out []calls.CallRecord
	for _, c := range m.Calls() {
		if !c.CreatedAt.Before(from) && c.CreatedAt.Before(to) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *Memory) StaleCalls(ctx context.Context, statuses []calls.CallStatus, updatedBefore time.Time, limit int) ([]calls.CallRecord, error) {
	want := make(map[calls.CallStatus]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}
	var out []calls.CallRecord
	for _, c := range m.Calls() {
		if want[c.Status] && c.UpdatedAt.Before(updatedBefore) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

var _ Repository = (*Memory)(nil)
var _ Repository = (*Postgres)(nil)
