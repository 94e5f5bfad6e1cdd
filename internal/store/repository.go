// Package store is the persistence boundary for orders and call records.
//
// Every status read-then-write must happen inside WithTx using the Lock*
// methods; the Postgres implementation backs them with SELECT ... FOR UPDATE.
package store

import (
	"context"
	"time"

	"ecommerce-admin/internal/calls"
	"ecommerce-admin/internal/orders"
)

// Queries are the operations available both inside and outside a transaction.
// Lookups that find nothing return an error matching apperr.ErrNotFound.
type Queries interface {
	OrderByNumber(ctx context.Context, orderNumber string) (orders.Order, error)
	OrderByID(ctx context.Context, id string) (orders.Order, error)
	LockOrder(ctx context.Context, id string) (orders.Order, error)
	// PendingOrdersByPhone returns orders still awaiting a call outcome whose
	// contact fields match phone, most recently scheduled first.
	PendingOrdersByPhone(ctx context.Context, phone string, limit int) ([]orders.Order, error)
	SaveOrderIVR(ctx context.Context, orderID string, st orders.IVRState) error
	SetOrderStatus(ctx context.Context, orderID string, status orders.Status) error
	SetOrderProviderCallID(ctx context.Context, orderID, providerCallID string) error
	AppendOrderLog(ctx context.Context, orderID string, e calls.LogEntry) error

	InsertCall(ctx context.Context, rec calls.CallRecord) error
	Call(ctx context.Context, id string) (calls.CallRecord, error)
	LockCall(ctx context.Context, id string) (calls.CallRecord, error)
	CallByProviderID(ctx context.Context, providerCallID string) (calls.CallRecord, error)
	// SaveCall writes every mutable column of rec. Callers must hold the row
	// lock taken by LockCall.
	SaveCall(ctx context.Context, rec calls.CallRecord) error
	DeleteCall(ctx context.Context, id string) error
	SetCallJobRef(ctx context.Context, id, jobRef string) error

	ListCalls(ctx context.Context, from, to time.Time) ([]calls.CallRecord, error)
	StaleCalls(ctx context.Context, statuses []calls.CallStatus, updatedBefore time.Time, limit int) ([]calls.CallRecord, error)
}

// TxFunc is the unit of work executed by WithTx.
type TxFunc func(ctx context.Context, q Queries) error

// Repository is the store handle injected into the services.
type Repository interface {
	Queries
	// WithTx runs fn atomically: all writes made through q commit together or
	// none do.
	WithTx(ctx context.Context, fn TxFunc) error
}
