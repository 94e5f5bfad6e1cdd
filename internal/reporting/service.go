package reporting

import (
	"context"
	"errors"
	"time"

	"ecommerce-admin/internal/calls"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// MaxRange bounds a single summary query.
const MaxRange = 92 * 24 * time.Hour

// Repository abstracts data access for reporting. store.Repository
// satisfies it.
type Repository interface {
	ListCalls(ctx context.Context, from, to time.Time) ([]calls.CallRecord, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

func (s *Service) CallsSummary(ctx context.Context, req CallsSummaryRequest) (CallsSummary, error) {
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return CallsSummary{}, ErrInvalidRequest
	}
	if req.Range.To.Sub(req.Range.From) > MaxRange {
		return CallsSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return CallsSummary{}, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.ListCalls(ctx, req.Range.From, req.Range.To)
	if err != nil {
		return CallsSummary{}, err
	}

	out := CallsSummary{
		Range:    req.Range,
		Type:     req.Type,
		ByStatus: map[calls.CallStatus]int{},
		ByResult: map[calls.Result]int{},
	}
	attempts := 0
	for _, c := range rows {
		if req.Type != "" && c.Type != req.Type {
			continue
		}
		out.TotalCalls++
		attempts += c.Attempts
		out.ByStatus[c.Status]++
		if c.Result != "" {
			out.ByResult[c.Result]++
		}

		switch c.Status {
		case calls.CallStatusCompleted:
			out.AnsweredCalls++
		case calls.CallStatusFailed, calls.CallStatusError:
			out.FailedCalls++
		case calls.CallStatusCancelled:
			out.CancelledCalls++
		case calls.CallStatusNoInput:
			// answered without a keypress; counted under by_status only
		default:
			out.PendingCalls++
		}
	}
	if out.TotalCalls > 0 {
		out.AverageAttempts = float64(attempts) / float64(out.TotalCalls)
	}
	if out.AnsweredCalls > 0 {
		out.ConfirmationRate = float64(out.ByResult[calls.ResultConfirmed]) / float64(out.AnsweredCalls)
	}
	return out, nil
}
