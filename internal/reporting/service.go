package reporting

import (
	"context"
	"errors"
	"time"

	"alara-platform/internal/calls"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// CallLister is the read side reporting needs. calls.Service satisfies it.
type CallLister interface {
	ListByUser(ctx context.Context, userID string, from, to time.Time) ([]calls.Call, error)
}

type Service struct {
	calls CallLister
}

func NewService(calls CallLister) *Service { return &Service{calls: calls} }

func (s *Service) CallsSummary(ctx context.Context, req CallsSummaryRequest) (CallsSummary, error) {
	if req.UserID == "" {
		return CallsSummary{}, ErrInvalidRequest
	}
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return CallsSummary{}, ErrInvalidRequest
	}
	if s.calls == nil {
		return CallsSummary{}, errors.New("reporting: call source not configured")
	}

	rows, err := s.calls.ListByUser(ctx, req.UserID, req.Range.From, req.Range.To)
	if err != nil {
		return CallsSummary{}, err
	}

	out := CallsSummary{UserID: req.UserID, Range: req.Range}
	terminal := 0
	for _, c := range rows {
		out.TotalCalls++
		out.TotalDurationSeconds += c.DurationSecs
		if c.Cost != nil {
			out.TotalCost += *c.Cost
			out.CostedCalls++
		}
		if c.Status.IsTerminal() {
			terminal++
		}
		switch c.Status {
		case calls.StatusInitiated:
			out.InitiatedCalls++
		case calls.StatusInProgress:
			out.InProgressCalls++
		case calls.StatusCompleted:
			out.CompletedCalls++
		case calls.StatusFailed:
			out.FailedCalls++
		case calls.StatusNoAnswer:
			out.NoAnswerCalls++
		}
	}
	if out.TotalCalls > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / out.TotalCalls
	}
	if terminal > 0 {
		out.ConnectionRate = float64(out.CompletedCalls) / float64(terminal)
	}
	return out, nil
}
