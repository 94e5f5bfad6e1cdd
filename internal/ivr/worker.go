package ivr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"ecommerce-admin/internal/apperr"
	"ecommerce-admin/internal/calls"
	"ecommerce-admin/internal/metrics"
	"ecommerce-admin/internal/queue"
	"ecommerce-admin/internal/store"
	"ecommerce-admin/internal/telephony"
	"ecommerce-admin/pkg/logger"
)

type WorkerConfig struct {
	// CallbackURL is where the provider fetches the voice menu.
	CallbackURL string
	// DialTimeout caps one placement request. A timeout is retryable.
	DialTimeout time.Duration
	Now         func() time.Time
}

// Worker handles call trigger jobs.
//
// The status check under the row lock is the only guard against placing a
// call twice when a job is delivered more than once.
type Worker struct {
	repo    store.Repository
	dialer  telephony.Dialer
	metrics *metrics.Metrics
	cfg     WorkerConfig
}

func NewWorker(repo store.Repository, d telephony.Dialer, m *metrics.Metrics, cfg WorkerConfig) *Worker {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = telephony.DefaultTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Worker{repo: repo, dialer: d, metrics: m, cfg: cfg}
}

// Handle is a queue.Handler.
func (w *Worker) Handle(ctx context.Context, job *queue.Job) error {
	var p JobPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil || strings.TrimSpace(p.CallRecordID) == "" {
		return queue.Permanent(apperr.Validation("job %s has no callRecordId", job.ID))
	}
	log := logger.From(ctx).With("call_id", p.CallRecordID)
	attempt := job.Attempt

	var (
		phone   string
		skip    calls.CallStatus
		noPhone bool
	)
	err := w.repo.WithTx(ctx, func(ctx context.Context, q store.Queries) error {
		rec, err := q.LockCall(ctx, p.CallRecordID)
		if err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				return queue.Permanent(err)
			}
			return err
		}
		if rec.Status.AlreadyPlaced() {
			skip = rec.Status
			return nil
		}

		now := w.cfg.Now().UTC()
		phone = strings.TrimSpace(rec.Phone)
		if phone == "" && rec.OrderID != "" {
			o, err := q.OrderByID(ctx, rec.OrderID)
			if err != nil && !errors.Is(err, apperr.ErrNotFound) {
				return err
			}
			phone = o.ContactPhone()
		}
		if phone == "" {
			noPhone = true
			if err := rec.SetStatus(calls.CallStatusFailed); err != nil {
				return err
			}
			rec.UpdatedAt = now
			rec.Log(calls.LogEntry{Event: EventFailedNoPhone, At: now, Attempt: attempt, CallID: rec.ID})
			return q.SaveCall(ctx, rec)
		}

		if err := rec.SetStatus(calls.CallStatusTriggering); err != nil {
			return err
		}
		rec.Phone = phone
		rec.Attempts = attempt
		rec.AttemptedAt = &now
		rec.UpdatedAt = now
		rec.Log(calls.LogEntry{Event: EventTriggerAttempt, At: now, Attempt: attempt, CallID: rec.ID})
		return q.SaveCall(ctx, rec)
	})
	if err != nil {
		return err
	}
	if skip != "" {
		log.Info("call already placed or final, skipping", "status", skip)
		w.metrics.Trigger(w.dialer.Name(), "skipped")
		return nil
	}
	if noPhone {
		log.Warn("no phone for call")
		w.metrics.Trigger(w.dialer.Name(), "no_phone")
		return queue.Permanent(fmt.Errorf("%w: call %s", apperr.ErrMissingPhone, p.CallRecordID))
	}

	dialCtx, cancel := context.WithTimeout(ctx, w.cfg.DialTimeout)
	res, dialErr := w.dialer.PlaceCall(dialCtx, phone, w.cfg.CallbackURL)
	cancel()

	if dialErr != nil {
		w.metrics.Trigger(w.dialer.Name(), "error")
		w.recordFailure(ctx, log, p.CallRecordID, attempt, dialErr)
		return dialErr
	}

	w.metrics.Trigger(w.dialer.Name(), "triggered")
	if err := w.recordSuccess(ctx, p.CallRecordID, res); err != nil {
		// The provider has the call. Failing the job would dial the customer
		// again, so the record is left for the sweep and the webhook's phone
		// fallback.
		log.Error("persist triggered call failed", "provider_call_id", res.ProviderCallID, "err", err)
		return nil
	}
	log.Info("call triggered", "provider_call_id", res.ProviderCallID)
	return nil
}

func (w *Worker) recordSuccess(ctx context.Context, callID string, res telephony.PlaceResult) error {
	ctx = context.WithoutCancel(ctx)
	return w.repo.WithTx(ctx, func(ctx context.Context, q store.Queries) error {
		rec, err := q.LockCall(ctx, callID)
		if err != nil {
			return err
		}
		now := w.cfg.Now().UTC()
		rec.SetProviderCallID(res.ProviderCallID)
		rec.TriggerResponse = res.Raw
		rec.TriggeredAt = &now
		rec.UpdatedAt = now

		event := EventTriggered
		if rec.Status.Terminal() {
			// cancelled while the request was in flight; keep the final status
			event = EventTriggerOrphaned
		} else if err := rec.SetStatus(calls.CallStatusTriggered); err != nil {
			return err
		}
		rec.Log(calls.LogEntry{Event: event, At: now, CallID: rec.ID, Payload: res.Raw})
		if err := q.SaveCall(ctx, rec); err != nil {
			return err
		}

		if rec.OrderID == "" {
			return nil
		}
		if err := q.AppendOrderLog(ctx, rec.OrderID, calls.LogEntry{Event: EventCallTriggered, At: now, CallID: rec.ID}); err != nil {
			return err
		}
		if res.ProviderCallID == "" {
			return nil
		}
		return q.SetOrderProviderCallID(ctx, rec.OrderID, res.ProviderCallID)
	})
}

type triggerFailure struct {
	HTTPStatus int    `json:"httpStatus,omitempty"`
	Body       string `json:"body,omitempty"`
}

func (w *Worker) recordFailure(ctx context.Context, log *slog.Logger, callID string, attempt int, dialErr error) {
	var detail triggerFailure
	var te *apperr.TelephonyError
	if errors.As(dialErr, &te) {
		detail = triggerFailure{HTTPStatus: te.HTTPStatus, Body: te.Body}
	}
	log.Warn("telephony request failed", "attempt", attempt, "http_status", detail.HTTPStatus, "body", detail.Body, "err", dialErr)

	ctx = context.WithoutCancel(ctx)
	err := w.repo.WithTx(ctx, func(ctx context.Context, q store.Queries) error {
		rec, err := q.LockCall(ctx, callID)
		if err != nil {
			return err
		}
		if rec.Status.Terminal() {
			return nil
		}
		now := w.cfg.Now().UTC()
		if err := rec.SetStatus(calls.CallStatusError); err != nil {
			return err
		}
		rec.UpdatedAt = now
		entry := calls.LogEntry{Event: EventTriggerFailed, At: now, Attempt: attempt, CallID: rec.ID, Error: dialErr.Error()}
		if detail != (triggerFailure{}) {
			entry.Payload, _ = json.Marshal(detail)
		}
		rec.Log(entry)
		return q.SaveCall(ctx, rec)
	})
	if err != nil {
		log.Error("persist trigger failure failed", "err", err)
	}
}
