package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ecommerce-admin/internal/apperr"
	"ecommerce-admin/internal/calls"
	"ecommerce-admin/internal/orders"
	"ecommerce-admin/pkg/utils"
)

// Postgres implements Repository on database/sql with the pgx stdlib driver.
// Tables are created by Migrate (see schema.sql).
type Postgres struct {
	pgQueries
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{pgQueries: pgQueries{q: db}, db: db}
}

func (p *Postgres) WithTx(ctx context.Context, fn TxFunc) error {
	return utils.WithTx(ctx, p.db, &sql.TxOptions{Isolation: sql.LevelReadCommitted}, func(ctx context.Context, tx *sql.Tx) error {
		return fn(ctx, pgQueries{q: tx})
	})
}

type pgQueries struct {
	q utils.Querier
}

type rowScanner interface {
	Scan(dest ...any) error
}

const orderColumns = `id, order_number, status, shipping_phone, customer_phone, phone,
       ivr_next_at, ivr_latest_call_id, ivr_call_done, provider_call_id, call_log, updated_at`

func scanOrder(row rowScanner) (orders.Order, error) {
	var (
		o          orders.Order
		nextAt     sql.NullTime
		latestCall sql.NullString
		providerID sql.NullString
		logRaw     []byte
	)
	if err := row.Scan(
		&o.ID,
		&o.OrderNumber,
		&o.Status,
		&o.ShippingPhone,
		&o.CustomerPhone,
		&o.Phone,
		&nextAt,
		&latestCall,
		&o.IVR.CallDone,
		&providerID,
		&logRaw,
		&o.UpdatedAt,
	); err != nil {
		return orders.Order{}, err
	}
	if nextAt.Valid {
		t := nextAt.Time
		o.IVR.NextAt = &t
	}
	o.IVR.LatestCallID = latestCall.String
	o.ProviderCallID = providerID.String
	if err := unmarshalJSON(logRaw, &o.CallLog); err != nil {
		return orders.Order{}, fmt.Errorf("store: order call_log: %w", err)
	}
	return o, nil
}

func (p pgQueries) orderWhere(ctx context.Context, what, where string, args ...any) (orders.Order, error) {
	q := `SELECT ` + orderColumns + ` FROM orders WHERE ` + where
	o, err := scanOrder(p.q.QueryRowContext(ctx, q, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return orders.Order{}, apperr.NotFound(what)
		}
		return orders.Order{}, err
	}
	return o, nil
}

func (p pgQueries) OrderByNumber(ctx context.Context, orderNumber string) (orders.Order, error) {
	return p.orderWhere(ctx, "order "+orderNumber, `order_number = $1`, orderNumber)
}

func (p pgQueries) OrderByID(ctx context.Context, id string) (orders.Order, error) {
	return p.orderWhere(ctx, "order id "+id, `id = $1`, id)
}

func (p pgQueries) LockOrder(ctx context.Context, id string) (orders.Order, error) {
	return p.orderWhere(ctx, "order id "+id, `id = $1 FOR UPDATE`, id)
}

func (p pgQueries) PendingOrdersByPhone(ctx context.Context, phone string, limit int) ([]orders.Order, error) {
	q := `
SELECT ` + orderColumns + `
FROM orders
WHERE ivr_call_done = false
  AND (shipping_phone = $1 OR phone = $1 OR customer_phone = $1)
ORDER BY ivr_next_at DESC NULLS LAST
LIMIT $2
`
	rows, err := p.q.QueryContext(ctx, q, phone, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []orders.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (p pgQueries) SaveOrderIVR(ctx context.Context, orderID string, st orders.IVRState) error {
	const q = `
UPDATE orders
SET ivr_next_at = $2, ivr_latest_call_id = $3, ivr_call_done = $4, updated_at = now()
WHERE id = $1
`
	return p.execOne(ctx, "order id "+orderID, q, orderID, nullTime(st.NextAt), nullString(st.LatestCallID), st.CallDone)
}

func (p pgQueries) SetOrderStatus(ctx context.Context, orderID string, status orders.Status) error {
	const q = `UPDATE orders SET status = $2, updated_at = now() WHERE id = $1`
	return p.execOne(ctx, "order id "+orderID, q, orderID, status)
}

func (p pgQueries) SetOrderProviderCallID(ctx context.Context, orderID, providerCallID string) error {
	const q = `UPDATE orders SET provider_call_id = $2, updated_at = now() WHERE id = $1`
	return p.execOne(ctx, "order id "+orderID, q, orderID, providerCallID)
}

func (p pgQueries) AppendOrderLog(ctx context.Context, orderID string, e calls.LogEntry) error {
	raw, err := json.Marshal([]calls.LogEntry{e})
	if err != nil {
		return err
	}
	const q = `UPDATE orders SET call_log = call_log || $2::jsonb, updated_at = now() WHERE id = $1`
	return p.execOne(ctx, "order id "+orderID, q, orderID, string(raw))
}

const callColumns = `id, order_id, order_number, phone, type, scheduled_at, attempts, provider_call_id, status,
       attempted_at, triggered_at, completed_at, digit, result, trigger_response, webhook_payloads,
       call_log, job_ref, created_by, created_at, updated_at`

func scanCall(row rowScanner) (calls.CallRecord, error) {
	var (
		r                                     calls.CallRecord
		orderID, providerID, jobRef           sql.NullString
		attemptedAt, triggeredAt, completedAt sql.NullTime
		triggerRaw, payloadsRaw, logRaw       []byte
	)
	if err := row.Scan(
		&r.ID,
		&orderID,
		&r.OrderNumber,
		&r.Phone,
		&r.Type,
		&r.ScheduledAt,
		&r.Attempts,
		&providerID,
		&r.Status,
		&attemptedAt,
		&triggeredAt,
		&completedAt,
		&r.Digit,
		&r.Result,
		&triggerRaw,
		&payloadsRaw,
		&logRaw,
		&jobRef,
		&r.CreatedBy,
		&r.CreatedAt,
		&r.UpdatedAt,
	); err != nil {
		return calls.CallRecord{}, err
	}
	r.OrderID = orderID.String
	r.ProviderCallID = providerID.String
	r.JobRef = jobRef.String
	r.AttemptedAt = timePtr(attemptedAt)
	r.TriggeredAt = timePtr(triggeredAt)
	r.CompletedAt = timePtr(completedAt)
	if len(triggerRaw) > 0 {
		r.TriggerResponse = json.RawMessage(triggerRaw)
	}
	if err := unmarshalJSON(payloadsRaw, &r.WebhookPayloads); err != nil {
		return calls.CallRecord{}, fmt.Errorf("store: webhook_payloads: %w", err)
	}
	if err := unmarshalJSON(logRaw, &r.CallLog); err != nil {
		return calls.CallRecord{}, fmt.Errorf("store: call_log: %w", err)
	}
	return r, nil
}

func (p pgQueries) callWhere(ctx context.Context, what, where string, args ...any) (calls.CallRecord, error) {
	q := `SELECT ` + callColumns + ` FROM ivr_calls WHERE ` + where
	r, err := scanCall(p.q.QueryRowContext(ctx, q, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return calls.CallRecord{}, apperr.NotFound(what)
		}
		return calls.CallRecord{}, err
	}
	return r, nil
}

func (p pgQueries) InsertCall(ctx context.Context, r calls.CallRecord) error {
	payloads, logRaw, err := marshalCallJSON(r)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO ivr_calls (
  id, order_id, order_number, phone, type, scheduled_at, attempts, provider_call_id, status,
  attempted_at, triggered_at, completed_at, digit, result, trigger_response, webhook_payloads,
  call_log, job_ref, created_by, created_at, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21
)
`
	_, err = p.q.ExecContext(ctx, q,
		r.ID,
		nullString(r.OrderID),
		r.OrderNumber,
		r.Phone,
		r.Type,
		r.ScheduledAt,
		r.Attempts,
		nullString(r.ProviderCallID),
		r.Status,
		nullTime(r.AttemptedAt),
		nullTime(r.TriggeredAt),
		nullTime(r.CompletedAt),
		r.Digit,
		r.Result,
		nullJSON(r.TriggerResponse),
		payloads,
		logRaw,
		nullString(r.JobRef),
		r.CreatedBy,
		r.CreatedAt,
		r.UpdatedAt,
	)
	if utils.IsUniqueViolation(err) {
		return apperr.Validation("duplicate provider call id %s", r.ProviderCallID)
	}
	return err
}

func (p pgQueries) Call(ctx context.Context, id string) (calls.CallRecord, error) {
	return p.callWhere(ctx, "call "+id, `id = $1`, id)
}

func (p pgQueries) LockCall(ctx context.Context, id string) (calls.CallRecord, error) {
	return p.callWhere(ctx, "call "+id, `id = $1 FOR UPDATE`, id)
}

func (p pgQueries) CallByProviderID(ctx context.Context, providerCallID string) (calls.CallRecord, error) {
	if providerCallID == "" {
		return calls.CallRecord{}, apperr.NotFound("call with empty provider id")
	}
	return p.callWhere(ctx, "provider call "+providerCallID, `provider_call_id = $1`, providerCallID)
}

func (p pgQueries) SaveCall(ctx context.Context, r calls.CallRecord) error {
	payloads, logRaw, err := marshalCallJSON(r)
	if err != nil {
		return err
	}
	// provider_call_id is write-once; COALESCE keeps an existing value.
	const q = `
UPDATE ivr_calls
SET phone = $2,
    status = $3,
    attempts = $4,
    provider_call_id = COALESCE(provider_call_id, $5),
    attempted_at = $6,
    triggered_at = $7,
    completed_at = $8,
    digit = $9,
    result = $10,
    trigger_response = $11,
    webhook_payloads = $12,
    call_log = $13,
    updated_at = $14
WHERE id = $1
`
	return p.execOne(ctx, "call "+r.ID, q,
		r.ID,
		r.Phone,
		r.Status,
		r.Attempts,
		nullString(r.ProviderCallID),
		nullTime(r.AttemptedAt),
		nullTime(r.TriggeredAt),
		nullTime(r.CompletedAt),
		r.Digit,
		r.Result,
		nullJSON(r.TriggerResponse),
		payloads,
		logRaw,
		r.UpdatedAt,
	)
}

func (p pgQueries) DeleteCall(ctx context.Context, id string) error {
	return p.execOne(ctx, "call "+id, `DELETE FROM ivr_calls WHERE id = $1`, id)
}

func (p pgQueries) SetCallJobRef(ctx context.Context, id, jobRef string) error {
	return p.execOne(ctx, "call "+id, `UPDATE ivr_calls SET job_ref = $2 WHERE id = $1`, id, jobRef)
}

func (p pgQueries) ListCalls(ctx context.Context, from, to time.Time) ([]calls.CallRecord, error) {
	q := `SELECT ` + callColumns + ` FROM ivr_calls WHERE created_at >= $1 AND created_at < $2 ORDER BY created_at`
	return p.queryCalls(ctx, q, from, to)
}

func (p pgQueries) StaleCalls(ctx context.Context, statuses []calls.CallStatus, updatedBefore time.Time, limit int) ([]calls.CallRecord, error) {
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}
	q := `SELECT ` + callColumns + ` FROM ivr_calls WHERE status = ANY($1) AND updated_at < $2 ORDER BY updated_at LIMIT $3`
	return p.queryCalls(ctx, q, names, updatedBefore, limit)
}

func (p pgQueries) queryCalls(ctx context.Context, q string, args ...any) ([]calls.CallRecord, error) {
	rows, err := p.q.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []calls.CallRecord
	for rows.Next() {
		r, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p pgQueries) execOne(ctx context.Context, what, q string, args ...any) error {
	res, err := p.q.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.NotFound(what)
	}
	return nil
}

func marshalCallJSON(r calls.CallRecord) (payloads, logRaw string, err error) {
	p := r.WebhookPayloads
	if p == nil {
		p = []json.RawMessage{}
	}
	l := r.CallLog
	if l == nil {
		l = []calls.LogEntry{}
	}
	pb, err := json.Marshal(p)
	if err != nil {
		return "", "", err
	}
	lb, err := json.Marshal(l)
	if err != nil {
		return "", "", err
	}
	return string(pb), string(lb), nil
}

func unmarshalJSON(raw []byte, v any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
