package ivr

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"ecommerce-admin/internal/calls"
	"ecommerce-admin/internal/metrics"
	"ecommerce-admin/internal/store"
)

const sweepBatch = 100

// staleStatuses are left behind when retries run out or a worker dies
// mid-dial and its job is failed for stalling.
var staleStatuses = []calls.CallStatus{calls.CallStatusError, calls.CallStatusTriggering}

// Sweeper moves call records stuck in error or triggering to failed so an
// operator sees them as final.
type Sweeper struct {
	repo       store.Repository
	staleAfter time.Duration
	metrics    *metrics.Metrics
	log        *slog.Logger
	now        func() time.Time
}

func NewSweeper(repo store.Repository, staleAfter time.Duration, m *metrics.Metrics, log *slog.Logger, now func() time.Time) *Sweeper {
	if staleAfter <= 0 {
		staleAfter = 15 * time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &Sweeper{repo: repo, staleAfter: staleAfter, metrics: m, log: log, now: now}
}

// Sweep fails every call record not updated within staleAfter. It returns
// how many records it changed.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := s.now().UTC().Add(-s.staleAfter)
	stale, err := s.repo.StaleCalls(ctx, staleStatuses, cutoff, sweepBatch)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, candidate := range stale {
		changed, err := s.failOne(ctx, candidate.ID, cutoff)
		if err != nil {
			s.log.Warn("sweep call failed", "call_id", candidate.ID, "err", err)
			continue
		}
		if changed {
			n++
		}
	}
	s.metrics.SweptCalls(n)
	return n, nil
}

func (s *Sweeper) failOne(ctx context.Context, id string, cutoff time.Time) (bool, error) {
	changed := false
	err := s.repo.WithTx(ctx, func(ctx context.Context, q store.Queries) error {
		rec, err := q.LockCall(ctx, id)
		if err != nil {
			return err
		}
		// re-check under lock; a retry may have moved it on
		if !rec.UpdatedAt.Before(cutoff) || (rec.Status != calls.CallStatusError && rec.Status != calls.CallStatusTriggering) {
			return nil
		}
		now := s.now().UTC()
		was := rec.Status
		if err := rec.SetStatus(calls.CallStatusFailed); err != nil {
			return err
		}
		rec.UpdatedAt = now
		rec.Log(calls.LogEntry{Event: EventSweepFailed, At: now, CallID: rec.ID, Error: fmt.Sprintf("stuck in %s", was)})
		if err := q.SaveCall(ctx, rec); err != nil {
			return err
		}
		changed = true
		if rec.OrderID == "" {
			return nil
		}
		return q.AppendOrderLog(ctx, rec.OrderID, calls.LogEntry{Event: EventSweepFailed, At: now, CallID: rec.ID})
	})
	return changed, err
}

// Start schedules Sweep on a cron spec such as "@every 5m". Stop the
// returned cron to end it.
func (s *Sweeper) Start(ctx context.Context, spec string) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		n, err := s.Sweep(ctx)
		if err != nil {
			s.log.Error("stale call sweep failed", "err", err)
			return
		}
		if n > 0 {
			s.log.Info("stale call sweep", "failed", n)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("sweep schedule %q: %w", spec, err)
	}
	c.Start()
	s.log.Info("stale call sweep started", "schedule", spec, "stale_after", s.staleAfter.String())
	return c, nil
}
