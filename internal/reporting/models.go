package reporting

import (
	"time"

	"ecommerce-admin/internal/calls"
)

// Common filtering inputs.

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// CallsSummaryRequest requests aggregated confirmation-call metrics for
// records created in Range. Type optionally narrows to one call type.
type CallsSummaryRequest struct {
	Range TimeRange      `json:"range"`
	Type  calls.CallType `json:"type,omitempty"`
}

type CallsSummary struct {
	Range TimeRange      `json:"range"`
	Type  calls.CallType `json:"type,omitempty"`

	TotalCalls int `json:"total_calls"`

	ByStatus map[calls.CallStatus]int `json:"by_status"`
	ByResult map[calls.Result]int     `json:"by_result"`

	// Pending counts records that have not reached an outcome yet.
	PendingCalls  int `json:"pending_calls"`
	AnsweredCalls int `json:"answered_calls"`
	// FailedCalls includes records left in error after retries ran out.
	FailedCalls    int `json:"failed_calls"`
	CancelledCalls int `json:"cancelled_calls"`

	// ConfirmationRate is confirmed keypresses over answered calls.
	ConfirmationRate float64 `json:"confirmation_rate"`
	AverageAttempts  float64 `json:"average_attempts"`
}
