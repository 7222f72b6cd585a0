package reconcile

import (
	"time"

	"github.com/shopspring/decimal"

	"strapt-sync/internal/domain"
)

// Interpolate projects a reconciled stream's streamed amount to the given
// wall-clock time without a remote call. Non-Active streams are returned
// unchanged. When the schedule has run out the status is promoted to
// Completed and tagged provisional until the next remote reconciliation
// confirms or overrides it.
func Interpolate(s *domain.Stream, now time.Time) *domain.Stream {
	if s.Status != domain.StatusActive {
		return s
	}

	out := s.Clone()
	ts := now.Unix()

	switch {
	case ts < s.StartTime:
		out.Streamed = decimal.Zero
	case ts >= s.EndTime:
		out.Streamed = s.Amount
		out.Status = domain.StatusCompleted
		out.StatusProvisional = true
	default:
		linear := linearShare(s.Amount, s.StartTime, s.EndTime, ts)
		// Never regress below the confirmed paid-out baseline.
		out.Streamed = decimal.Max(linear, s.Withdrawn)
		if out.Streamed.GreaterThan(s.Amount) {
			out.Streamed = s.Amount
		}
	}

	return out
}

// linearShare is the time-proportional share of total between start and end.
// Callers guarantee start < ts < end.
func linearShare(total decimal.Decimal, start, end, ts int64) decimal.Decimal {
	elapsed := decimal.NewFromInt(ts - start)
	duration := decimal.NewFromInt(end - start)
	return total.Mul(elapsed).Div(duration)
}

// projectStreamed reconciles the contract-tracked streamed amount with the
// linear schedule at the given instant. The max guard exists because a
// withdrawal may reset the on-chain counter to a smaller baseline; the
// projection must never report less than what the contract already confirms.
func projectStreamed(contractStreamed, total decimal.Decimal, status domain.StreamStatus, start, end, ts int64) decimal.Decimal {
	if status != domain.StatusActive {
		return contractStreamed
	}
	if ts >= end {
		return total
	}
	if ts > start {
		return decimal.Max(contractStreamed, linearShare(total, start, end, ts))
	}
	return contractStreamed
}
