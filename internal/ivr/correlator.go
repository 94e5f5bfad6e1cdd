package ivr

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"ecommerce-admin/internal/apperr"
	"ecommerce-admin/internal/calls"
	"ecommerce-admin/internal/metrics"
	"ecommerce-admin/internal/orders"
	"ecommerce-admin/internal/store"
	"ecommerce-admin/internal/telephony"
	"ecommerce-admin/pkg/logger"
)

// Webhook match kinds, also used as metric labels.
const (
	MatchProviderID = "provider_call_id"
	MatchDuplicate  = "duplicate"
	MatchFallback   = "fallback_phone"
	MatchUnmatched  = "unmatched"
)

// Correlator applies DTMF webhooks to call records and orders.
type Correlator struct {
	repo    store.Repository
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewCorrelator(repo store.Repository, m *metrics.Metrics, now func() time.Time) *Correlator {
	if now == nil {
		now = time.Now
	}
	return &Correlator{repo: repo, metrics: m, now: now}
}

// HandleDtmf matches the webhook by provider call id, falling back to a
// pending order with the caller's number. An unmatched webhook changes
// nothing and is only logged. It implements telephony.DtmfHandler.
func (c *Correlator) HandleDtmf(ctx context.Context, w telephony.DtmfWebhook) error {
	log := logger.From(ctx).With("call_sid", w.ProviderCallID, "digits", w.Digits, "from", w.From)
	result := calls.ResultFromDigits(w.Digits)

	match, err := c.matchByProviderID(ctx, w, result)
	if err != nil {
		return err
	}
	if match == "" {
		match, err = c.matchByPhone(ctx, log, w, result)
		if err != nil {
			return err
		}
	}

	c.metrics.Webhook(match)
	switch match {
	case MatchUnmatched:
		log.Warn("dtmf webhook matched no call or pending order")
	case MatchDuplicate:
		log.Info("duplicate dtmf webhook for completed call")
	default:
		c.metrics.Outcome(string(result))
		log.Info("dtmf outcome applied", "match", match, "result", result)
	}
	return nil
}

func (c *Correlator) matchByProviderID(ctx context.Context, w telephony.DtmfWebhook, result calls.Result) (string, error) {
	if w.ProviderCallID == "" {
		return "", nil
	}
	match := ""
	err := c.repo.WithTx(ctx, func(ctx context.Context, q store.Queries) error {
		found, err := q.CallByProviderID(ctx, w.ProviderCallID)
		if errors.Is(err, apperr.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		rec, err := q.LockCall(ctx, found.ID)
		if err != nil {
			return err
		}

		now := c.now().UTC()
		rec.WebhookPayloads = append(rec.WebhookPayloads, w.Raw)
		rec.UpdatedAt = now

		if rec.Status == calls.CallStatusCompleted {
			match = MatchDuplicate
			rec.Log(calls.LogEntry{Event: EventDuplicateHook, At: now, CallID: rec.ID, Payload: w.Raw})
			return q.SaveCall(ctx, rec)
		}

		match = MatchProviderID
		rec.Digit = w.Digits
		rec.Result = result
		if err := rec.SetStatus(calls.CallStatusCompleted); err != nil {
			return err
		}
		rec.CompletedAt = &now
		rec.Log(calls.LogEntry{Event: EventKeypress, At: now, CallID: rec.ID, Payload: w.Raw})
		if err := q.SaveCall(ctx, rec); err != nil {
			return err
		}

		if rec.OrderID == "" {
			return nil
		}
		o, err := q.LockOrder(ctx, rec.OrderID)
		if errors.Is(err, apperr.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return applyOutcome(ctx, q, o, result, calls.LogEntry{Event: EventKeypress, At: now, CallID: rec.ID, Payload: w.Raw})
	})
	return match, err
}

// matchByPhone is the fallback for webhooks whose call id is unknown. Two
// pending orders on the same number are ambiguous; the most recently
// scheduled one wins and the ambiguity is logged.
func (c *Correlator) matchByPhone(ctx context.Context, log *slog.Logger, w telephony.DtmfWebhook, result calls.Result) (string, error) {
	if w.From == "" {
		return MatchUnmatched, nil
	}
	match := MatchUnmatched
	err := c.repo.WithTx(ctx, func(ctx context.Context, q store.Queries) error {
		pending, err := q.PendingOrdersByPhone(ctx, w.From, 2)
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			return nil
		}
		if len(pending) > 1 {
			log.Warn("fallback phone match is ambiguous",
				"chosen_order", pending[0].OrderNumber, "other_order", pending[1].OrderNumber)
		}
		o, err := q.LockOrder(ctx, pending[0].ID)
		if err != nil {
			return err
		}
		if o.IVR.CallDone {
			return nil
		}
		match = MatchFallback
		return applyOutcome(ctx, q, o, result, calls.LogEntry{Event: EventFallbackPress, At: c.now().UTC(), Payload: w.Raw})
	})
	return match, err
}

// applyOutcome sets the order status from the keypress and marks its call done.
func applyOutcome(ctx context.Context, q store.Queries, o orders.Order, result calls.Result, entry calls.LogEntry) error {
	switch result {
	case calls.ResultCancelled:
		if err := q.SetOrderStatus(ctx, o.ID, orders.StatusCancelled); err != nil {
			return err
		}
	case calls.ResultConfirmed:
		if err := q.SetOrderStatus(ctx, o.ID, orders.StatusConfirmed); err != nil {
			return err
		}
	}
	st := o.IVR
	st.CallDone = true
	if err := q.SaveOrderIVR(ctx, o.ID, st); err != nil {
		return err
	}
	return q.AppendOrderLog(ctx, o.ID, entry)
}
