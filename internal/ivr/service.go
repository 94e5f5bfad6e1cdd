// Package ivr is the order confirmation call flow: scheduling a call for an
// order, triggering it from the job queue and applying the customer's
// keypress to the order.
//
// Every status change re-reads the row under lock inside a store transaction.
// Nothing acts on a status held in memory from an earlier read.
package ivr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"ecommerce-admin/internal/apperr"
	"ecommerce-admin/internal/calls"
	"ecommerce-admin/internal/metrics"
	"ecommerce-admin/internal/orders"
	"ecommerce-admin/internal/queue"
	"ecommerce-admin/internal/store"
	"ecommerce-admin/pkg/logger"
)

// Call log events.
const (
	EventScheduled       = "scheduled"
	EventManualEnqueued  = "manual_trigger_enqueued"
	EventCancelled       = "cancelled"
	EventCancelNoCall    = "cancel_no_call"
	EventTriggerAttempt  = "trigger_attempt"
	EventTriggered       = "triggered"
	EventTriggerFailed   = "trigger_failed"
	EventFailedNoPhone   = "failed_no_phone"
	EventCallTriggered   = "call_triggered"
	EventKeypress        = "keypress"
	EventFallbackPress   = "fallback_keypress"
	EventDuplicateHook   = "duplicate_webhook"
	EventSweepFailed     = "sweep_failed"
	EventTriggerOrphaned = "triggered_after_cancel"
)

// Enqueuer is the part of the job queue the scheduling service needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, payload []byte, opts queue.Options) (string, error)
	EnqueueImmediate(ctx context.Context, payload []byte) (string, error)
	Remove(ctx context.Context, id string) (bool, error)
}

// JobPayload is the body of a call trigger job.
type JobPayload struct {
	CallRecordID string `json:"callRecordId"`
}

type ServiceConfig struct {
	// EagerDequeue also removes the pending job on cancel. The trigger-time
	// status check stays the correctness path either way.
	EagerDequeue bool
	Now          func() time.Time
}

type Service struct {
	repo    store.Repository
	queue   Enqueuer
	metrics *metrics.Metrics
	log     *slog.Logger
	cfg     ServiceConfig
}

func NewService(repo store.Repository, q Enqueuer, m *metrics.Metrics, log *slog.Logger, cfg ServiceConfig) *Service {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{repo: repo, queue: q, metrics: m, log: log, cfg: cfg}
}

type ScheduleRequest struct {
	OrderNumber string
	Delay       time.Duration
	CreatedBy   string
}

type ScheduleResult struct {
	Call  calls.CallRecord `json:"callRecord"`
	JobID string           `json:"jobId"`
}

// ScheduleCall creates a call record for the order and enqueues its trigger
// job to fire after req.Delay.
func (s *Service) ScheduleCall(ctx context.Context, req ScheduleRequest) (ScheduleResult, error) {
	return s.schedule(ctx, req, calls.CallTypeOrderReminder)
}

// TriggerNow creates a manual call record and enqueues it for immediate
// delivery.
func (s *Service) TriggerNow(ctx context.Context, orderNumber, createdBy string) (ScheduleResult, error) {
	return s.schedule(ctx, ScheduleRequest{OrderNumber: orderNumber, CreatedBy: createdBy}, calls.CallTypeManual)
}

func (s *Service) schedule(ctx context.Context, req ScheduleRequest, typ calls.CallType) (ScheduleResult, error) {
	orderNumber := strings.TrimSpace(req.OrderNumber)
	if orderNumber == "" {
		return ScheduleResult{}, apperr.Validation("orderNumber is required")
	}
	if req.Delay < 0 {
		return ScheduleResult{}, apperr.Validation("delayMs must be a non-negative number")
	}

	order, err := s.repo.OrderByNumber(ctx, orderNumber)
	if err != nil {
		return ScheduleResult{}, err
	}
	phone := order.ContactPhone()
	if phone == "" {
		return ScheduleResult{}, fmt.Errorf("%w: order %s", apperr.ErrMissingPhone, orderNumber)
	}

	now := s.cfg.Now().UTC()
	scheduledAt := now.Add(req.Delay)
	rec := calls.CallRecord{
		ID:          uuid.NewString(),
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Phone:       phone,
		Type:        typ,
		ScheduledAt: scheduledAt,
		Status:      calls.CallStatusScheduled,
		CreatedBy:   req.CreatedBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	rec.Log(calls.LogEntry{Event: EventScheduled, At: now, CallID: rec.ID})

	// prev is read under the same lock as the write so compensation restores
	// exactly what this transaction replaced.
	var prev orders.IVRState
	err = s.repo.WithTx(ctx, func(ctx context.Context, q store.Queries) error {
		cur, err := q.LockOrder(ctx, order.ID)
		if err != nil {
			return err
		}
		prev = cur.IVR
		if err := q.InsertCall(ctx, rec); err != nil {
			return err
		}
		return q.SaveOrderIVR(ctx, order.ID, orders.IVRState{
			NextAt:       &scheduledAt,
			LatestCallID: rec.ID,
			CallDone:     false,
		})
	})
	if err != nil {
		return ScheduleResult{}, err
	}

	payload, _ := json.Marshal(JobPayload{CallRecordID: rec.ID})
	var jobID string
	if typ == calls.CallTypeManual {
		jobID, err = s.queue.EnqueueImmediate(ctx, payload)
	} else {
		jobID, err = s.queue.Enqueue(ctx, payload, queue.Options{Delay: req.Delay})
	}
	if err != nil {
		s.compensate(ctx, order.ID, rec.ID, prev)
		var qe *apperr.QueueError
		if !errors.As(err, &qe) {
			err = &apperr.QueueError{Op: "enqueue", Err: err}
		}
		return ScheduleResult{}, err
	}

	log := s.logger(ctx).With("order_number", orderNumber, "call_id", rec.ID, "job_id", jobID)
	rec.JobRef = jobID
	if err := s.repo.SetCallJobRef(ctx, rec.ID, jobID); err != nil {
		log.Warn("persist job ref failed", "err", err)
	}
	if typ == calls.CallTypeManual {
		if err := s.repo.AppendOrderLog(ctx, order.ID, calls.LogEntry{Event: EventManualEnqueued, At: now, CallID: rec.ID}); err != nil {
			log.Warn("order log append failed", "event", EventManualEnqueued, "err", err)
		}
	}

	s.metrics.CallScheduled(string(typ))
	log.Info("call scheduled", "type", typ, "scheduled_at", scheduledAt)
	return ScheduleResult{Call: rec, JobID: jobID}, nil
}

// compensate undoes a committed schedule after the enqueue failed. Failures
// here are logged; the caller still gets the enqueue error.
func (s *Service) compensate(ctx context.Context, orderID, callID string, prev orders.IVRState) {
	ctx = context.WithoutCancel(ctx)
	log := s.logger(ctx).With("order_id", orderID, "call_id", callID)

	ok := true
	if err := s.repo.DeleteCall(ctx, callID); err != nil {
		ok = false
		log.Error("compensation: delete call record failed", "err", err)
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, q store.Queries) error {
		cur, err := q.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		// a newer schedule owns the fields now
		if cur.IVR.LatestCallID != callID {
			return nil
		}
		return q.SaveOrderIVR(ctx, orderID, prev)
	})
	if err != nil {
		ok = false
		log.Error("compensation: restore order call fields failed", "err", err)
	}
	s.metrics.Compensation(ok)
}

type CancelResult struct {
	Call    *calls.CallRecord `json:"callRecord,omitempty"`
	Message string            `json:"message,omitempty"`
}

// CancelCall marks the order's latest call cancelled and the order's call as
// done. The queued job is left in place: on delivery the worker sees the
// terminal status and does nothing.
func (s *Service) CancelCall(ctx context.Context, orderNumber string) (CancelResult, error) {
	orderNumber = strings.TrimSpace(orderNumber)
	if orderNumber == "" {
		return CancelResult{}, apperr.Validation("orderNumber is required")
	}
	order, err := s.repo.OrderByNumber(ctx, orderNumber)
	if err != nil {
		return CancelResult{}, err
	}

	now := s.cfg.Now().UTC()
	var out CancelResult
	err = s.repo.WithTx(ctx, func(ctx context.Context, q store.Queries) error {
		// the transaction may rerun; start each run from a clean result
		out = CancelResult{}
		o, err := q.LockOrder(ctx, order.ID)
		if err != nil {
			return err
		}
		done := o.IVR
		done.CallDone = true

		var rec calls.CallRecord
		found := false
		if o.IVR.LatestCallID != "" {
			rec, err = q.LockCall(ctx, o.IVR.LatestCallID)
			switch {
			case err == nil:
				found = true
			case !errors.Is(err, apperr.ErrNotFound):
				return err
			}
		}

		if !found {
			out.Message = "no call found; marked done on order"
			if err := q.SaveOrderIVR(ctx, o.ID, done); err != nil {
				return err
			}
			return q.AppendOrderLog(ctx, o.ID, calls.LogEntry{Event: EventCancelNoCall, At: now})
		}

		if !rec.Status.Terminal() {
			if err := rec.SetStatus(calls.CallStatusCancelled); err != nil {
				return err
			}
			rec.UpdatedAt = now
			rec.Log(calls.LogEntry{Event: EventCancelled, At: now, CallID: rec.ID})
			if err := q.SaveCall(ctx, rec); err != nil {
				return err
			}
		}
		if err := q.SaveOrderIVR(ctx, o.ID, done); err != nil {
			return err
		}
		out.Call = &rec
		return q.AppendOrderLog(ctx, o.ID, calls.LogEntry{Event: EventCancelled, At: now, CallID: rec.ID})
	})
	if err != nil {
		return CancelResult{}, err
	}

	log := s.logger(ctx).With("order_number", orderNumber)
	if out.Call != nil {
		log = log.With("call_id", out.Call.ID, "status", out.Call.Status)
		if s.cfg.EagerDequeue && out.Call.Status == calls.CallStatusCancelled && out.Call.JobRef != "" {
			removed, err := s.queue.Remove(ctx, out.Call.JobRef)
			if err != nil {
				log.Warn("eager dequeue failed", "job_id", out.Call.JobRef, "err", err)
			} else {
				log.Debug("eager dequeue", "job_id", out.Call.JobRef, "removed", removed)
			}
		}
	}
	log.Info("call cancelled")
	return out, nil
}

func (s *Service) logger(ctx context.Context) *slog.Logger {
	if l := logger.From(ctx); l != slog.Default() {
		return l
	}
	return s.log
}
