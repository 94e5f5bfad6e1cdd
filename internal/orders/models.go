package orders

import (
	"strings"
	"time"

	"ecommerce-admin/internal/calls"
)

// Order holds the order fields the confirmation-call flow reads and writes.
// Catalog, payment and item data live elsewhere.
//
// Invariant: IVRCallDone only ever moves from false to true in this service,
// except when a new call is scheduled (which resets it to false).
type Order struct {
	ID          string `json:"id" db:"id"`
	OrderNumber string `json:"order_number" db:"order_number"`
	Status      Status `json:"status" db:"status"`

	// Contact numbers in lookup priority order.
	ShippingPhone string `json:"shipping_phone,omitempty" db:"shipping_phone"`
	CustomerPhone string `json:"customer_phone,omitempty" db:"customer_phone"`
	Phone         string `json:"phone,omitempty" db:"phone"`

	IVR IVRState `json:"ivr"`

	ProviderCallID string           `json:"provider_call_id,omitempty" db:"provider_call_id"`
	CallLog        []calls.LogEntry `json:"call_log" db:"call_log"`

	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// IVRState is the call-tracking triple that scheduling writes atomically with
// the call record and that compensation restores.
type IVRState struct {
	NextAt       *time.Time `json:"next_at,omitempty" db:"ivr_next_at"`
	LatestCallID string     `json:"latest_call_id,omitempty" db:"ivr_latest_call_id"`
	CallDone     bool       `json:"call_done" db:"ivr_call_done"`
}

type Status string

const (
	StatusCreated   Status = "created"
	StatusConfirmed Status = "confirmed"
	StatusPacked    Status = "packed"
	StatusShipped   Status = "shipped"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"
	StatusReturned  Status = "returned"
)

// ContactPhone returns the first non-empty phone: shipping, customer, then order phone.
func (o Order) ContactPhone() string {
	for _, p := range []string{o.ShippingPhone, o.CustomerPhone, o.Phone} {
		if p = strings.TrimSpace(p); p != "" {
			return p
		}
	}
	return ""
}

// Clone returns a copy that shares no slices with o.
func (o Order) Clone() Order {
	out := o
	out.CallLog = calls.CloneLog(o.CallLog)
	if o.IVR.NextAt != nil {
		t := *o.IVR.NextAt
		out.IVR.NextAt = &t
	}
	return out
}
