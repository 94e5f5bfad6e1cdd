package calls

import (
	"encoding/json"
	"testing"
	"time"
)

func TestCallStatusTerminal(t *testing.T) {
	terminal := []CallStatus{CallStatusCompleted, CallStatusCancelled, CallStatusFailed}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Fatalf("expected %q to be terminal", s)
		}
		if !s.AlreadyPlaced() {
			t.Fatalf("expected %q to short-circuit triggering", s)
		}
	}

	open := []CallStatus{CallStatusScheduled, CallStatusQueued, CallStatusTriggering, CallStatusError}
	for _, s := range open {
		if s.Terminal() || s.AlreadyPlaced() {
			t.Fatalf("expected %q to be triggerable", s)
		}
	}
	if !CallStatusTriggered.AlreadyPlaced() {
		t.Fatalf("expected triggered to short-circuit")
	}
}

func TestSetStatusRefusesRegression(t *testing.T) {
	r := CallRecord{Status: CallStatusCompleted}
	if err := r.SetStatus(CallStatusTriggering); err != ErrTerminalStatus {
		t.Fatalf("expected ErrTerminalStatus, got %v", err)
	}
	if r.Status != CallStatusCompleted {
		t.Fatalf("status changed to %q", r.Status)
	}
	if err := r.SetStatus(CallStatusCancelled); err != nil {
		t.Fatalf("terminal to terminal should be allowed: %v", err)
	}
}

func TestSetProviderCallIDOnce(t *testing.T) {
	var r CallRecord
	if !r.SetProviderCallID("CA1") {
		t.Fatalf("expected first id to be stored")
	}
	if r.SetProviderCallID("CA2") {
		t.Fatalf("expected second id to be refused")
	}
	if r.ProviderCallID != "CA1" {
		t.Fatalf("unexpected id %q", r.ProviderCallID)
	}
}

func TestResultFromDigits(t *testing.T) {
	cases := map[string]Result{"1": ResultCancelled, "2": ResultConfirmed, "3": ResultInvalid, "": ResultInvalid, "12": ResultInvalid}
	for in, want := range cases {
		if got := ResultFromDigits(in); got != want {
			t.Fatalf("ResultFromDigits(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCloneDoesNotShareSlices(t *testing.T) {
	now := time.Now()
	r := CallRecord{
		CallLog:         []LogEntry{{Event: "created", At: now}},
		WebhookPayloads: []json.RawMessage{json.RawMessage(`{"a":1}`)},
		TriggeredAt:     &now,
	}
	c := r.Clone()
	c.CallLog[0].Event = "changed"
	c.WebhookPayloads[0][2] = 'b'
	*c.TriggeredAt = now.Add(time.Hour)

	if r.CallLog[0].Event != "created" {
		t.Fatalf("call log shared")
	}
	if string(r.WebhookPayloads[0]) != `{"a":1}` {
		t.Fatalf("payload shared")
	}
	if !r.TriggeredAt.Equal(now) {
		t.Fatalf("timestamp shared")
	}
}
