package calls

import (
	"encoding/json"
	"errors"
	"time"
)

// CallRecord is one confirmation-call attempt for an order.
//
// Invariants:
// - ProviderCallID is set at most once.
// - Once Status is terminal (completed, cancelled, failed) it never moves back
//   to a non-terminal status.
// - CallLog is append-only.
//
// OrderID is empty for manual calls that are not linked to an order yet.
type CallRecord struct {
	ID          string `json:"id" db:"id"`
	OrderID     string `json:"order_id,omitempty" db:"order_id"`
	OrderNumber string `json:"order_number,omitempty" db:"order_number"`

	Phone string   `json:"phone" db:"phone"`
	Type  CallType `json:"type" db:"type"`

	ScheduledAt time.Time `json:"scheduled_at" db:"scheduled_at"`
	Attempts    int       `json:"attempts" db:"attempts"`

	ProviderCallID string     `json:"provider_call_id,omitempty" db:"provider_call_id"`
	Status         CallStatus `json:"status" db:"status"`

	AttemptedAt *time.Time `json:"attempted_at,omitempty" db:"attempted_at"`
	TriggeredAt *time.Time `json:"triggered_at,omitempty" db:"triggered_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`

	// Digit and Result are only set on webhook receipt.
	Digit  string `json:"digit,omitempty" db:"digit"`
	Result Result `json:"result,omitempty" db:"result"`

	// TriggerResponse is the provider's raw response to the placement request.
	TriggerResponse json.RawMessage   `json:"trigger_response,omitempty" db:"trigger_response"`
	WebhookPayloads []json.RawMessage `json:"webhook_payloads,omitempty" db:"webhook_payloads"`
	CallLog         []LogEntry        `json:"call_log" db:"call_log"`

	// JobRef points at the delayed job that will trigger this call.
	JobRef    string `json:"job_ref,omitempty" db:"job_ref"`
	CreatedBy string `json:"created_by,omitempty" db:"created_by"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// LogEntry is one audit-trail line on a call record or an order.
type LogEntry struct {
	Event   string          `json:"event"`
	At      time.Time       `json:"at"`
	Attempt int             `json:"attempt,omitempty"`
	CallID  string          `json:"call_id,omitempty"`
	Error   string          `json:"error,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type CallType string

const (
	CallTypeOrderReminder CallType = "order_reminder"
	CallTypeManual        CallType = "manual"
	CallTypeBulk          CallType = "bulk"
	CallTypeRetry         CallType = "retry"
)

type CallStatus string

const (
	CallStatusScheduled  CallStatus = "scheduled"
	CallStatusQueued     CallStatus = "queued"
	CallStatusTriggering CallStatus = "triggering"
	CallStatusTriggered  CallStatus = "triggered"
	CallStatusRinging    CallStatus = "ringing"
	CallStatusCompleted  CallStatus = "completed"
	CallStatusFailed     CallStatus = "failed"
	CallStatusNoInput    CallStatus = "no_input"
	CallStatusCancelled  CallStatus = "cancelled"
	CallStatusError      CallStatus = "error"
)

// Terminal reports whether s is a final status.
func (s CallStatus) Terminal() bool {
	switch s {
	case CallStatusCompleted, CallStatusCancelled, CallStatusFailed:
		return true
	default:
		return false
	}
}

// AlreadyPlaced reports whether a job delivery for a record in status s must be
// a no-op: the call was placed already or the record is final.
func (s CallStatus) AlreadyPlaced() bool {
	switch s {
	case CallStatusTriggered, CallStatusRinging, CallStatusNoInput:
		return true
	default:
		return s.Terminal()
	}
}

// Valid reports whether s is a known status.
func (s CallStatus) Valid() bool {
	switch s {
	case CallStatusScheduled, CallStatusQueued, CallStatusTriggering, CallStatusTriggered,
		CallStatusRinging, CallStatusCompleted, CallStatusFailed, CallStatusNoInput,
		CallStatusCancelled, CallStatusError:
		return true
	default:
		return false
	}
}

// Result is the business outcome derived from the DTMF digit.
type Result string

const (
	ResultConfirmed Result = "confirmed"
	ResultCancelled Result = "cancelled"
	ResultInvalid   Result = "invalid"
)

// ResultFromDigits maps the keypress: '1' cancels, '2' confirms, anything else is invalid.
func ResultFromDigits(digits string) Result {
	switch digits {
	case "1":
		return ResultCancelled
	case "2":
		return ResultConfirmed
	default:
		return ResultInvalid
	}
}

var ErrTerminalStatus = errors.New("calls: record is in a terminal status")

// SetStatus moves the record to next, refusing to leave a terminal status for a
// non-terminal one.
func (r *CallRecord) SetStatus(next CallStatus) error {
	if r.Status.Terminal() && !next.Terminal() {
		return ErrTerminalStatus
	}
	r.Status = next
	return nil
}

// SetProviderCallID stores the provider id unless one is already set. It
// reports whether the value was stored.
func (r *CallRecord) SetProviderCallID(id string) bool {
	if id == "" || r.ProviderCallID != "" {
		return false
	}
	r.ProviderCallID = id
	return true
}

// Log appends an entry to the call log.
func (r *CallRecord) Log(e LogEntry) {
	r.CallLog = append(r.CallLog, e)
}

// Clone returns a copy that shares no slices with r.
func (r CallRecord) Clone() CallRecord {
	out := r
	out.TriggerResponse = cloneRaw(r.TriggerResponse)
	if r.WebhookPayloads != nil {
		out.WebhookPayloads = make([]json.RawMessage, len(r.WebhookPayloads))
		for i, p := range r.WebhookPayloads {
			out.WebhookPayloads[i] = cloneRaw(p)
		}
	}
	out.CallLog = CloneLog(r.CallLog)
	out.AttemptedAt = cloneTime(r.AttemptedAt)
	out.TriggeredAt = cloneTime(r.TriggeredAt)
	out.CompletedAt = cloneTime(r.CompletedAt)
	return out
}

// CloneLog copies a log slice.
func CloneLog(in []LogEntry) []LogEntry {
	if in == nil {
		return nil
	}
	out := make([]LogEntry, len(in))
	for i, e := range in {
		e.Payload = cloneRaw(e.Payload)
		out[i] = e
	}
	return out
}

func cloneRaw(in json.RawMessage) json.RawMessage {
	if in == nil {
		return nil
	}
	return append(json.RawMessage(nil), in...)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
