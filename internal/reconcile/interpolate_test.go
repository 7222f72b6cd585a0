package reconcile

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"strapt-sync/internal/domain"
)

func activeStream(amount, withdrawn int64, start, end int64) *domain.Stream {
	return &domain.Stream{
		ID:        "s1",
		Amount:    decimal.NewFromInt(amount),
		Streamed:  decimal.NewFromInt(withdrawn),
		Withdrawn: decimal.NewFromInt(withdrawn),
		StartTime: start,
		EndTime:   end,
		Status:    domain.StatusActive,
	}
}

func TestInterpolate_Linear(t *testing.T) {
	s := activeStream(100, 0, 0, 100)

	got := Interpolate(s, time.Unix(50, 0))

	if !got.Streamed.Equal(decimal.NewFromInt(50)) {
		t.Errorf("expected streamed=50, got %s", got.Streamed)
	}
	if got.Status != domain.StatusActive {
		t.Errorf("expected status to stay Active, got %s", got.Status)
	}
}

func TestInterpolate_BeforeStart(t *testing.T) {
	s := activeStream(100, 0, 100, 200)

	got := Interpolate(s, time.Unix(50, 0))

	if !got.Streamed.IsZero() {
		t.Errorf("expected streamed=0 before start, got %s", got.Streamed)
	}
}

func TestInterpolate_TimeCompletePromotion(t *testing.T) {
	s := activeStream(100, 0, 0, 100)

	got := Interpolate(s, time.Unix(150, 0))

	if !got.Streamed.Equal(decimal.NewFromInt(100)) {
		t.Errorf("expected streamed=amount, got %s", got.Streamed)
	}
	if got.Status != domain.StatusCompleted {
		t.Errorf("expected promotion to Completed, got %s", got.Status)
	}
	if !got.StatusProvisional {
		t.Error("expected promoted status to be marked provisional")
	}
}

func TestInterpolate_WithdrawnFloor(t *testing.T) {
	// Withdrawal reset the on-chain counter to 500; the linear schedule alone
	// would suggest less shortly after start. The projection must never drop
	// below the confirmed baseline.
	s := activeStream(1000, 500, 1000, 2000)

	got := Interpolate(s, time.Unix(1100, 0)) // linear share: 100

	if !got.Streamed.Equal(decimal.NewFromInt(500)) {
		t.Errorf("expected streamed=500 (withdrawn floor), got %s", got.Streamed)
	}
}

func TestInterpolate_ClimbsPastWithdrawnFloor(t *testing.T) {
	s := activeStream(1000, 500, 1000, 2000)

	got := Interpolate(s, time.Unix(1700, 0)) // linear share: 700

	if !got.Streamed.Equal(decimal.NewFromInt(700)) {
		t.Errorf("expected streamed=700, got %s", got.Streamed)
	}
}

func TestInterpolate_NonActiveUntouched(t *testing.T) {
	s := activeStream(100, 0, 0, 100)
	s.Status = domain.StatusPaused
	s.Streamed = decimal.NewFromInt(30)

	got := Interpolate(s, time.Unix(90, 0))

	if !got.Streamed.Equal(decimal.NewFromInt(30)) {
		t.Errorf("expected paused stream untouched, got %s", got.Streamed)
	}
}

func TestInterpolate_DoesNotMutateInput(t *testing.T) {
	s := activeStream(100, 0, 0, 100)

	_ = Interpolate(s, time.Unix(50, 0))

	if !s.Streamed.IsZero() {
		t.Errorf("input stream mutated: streamed=%s", s.Streamed)
	}
}

func TestInterpolate_FreshStreamScenario(t *testing.T) {
	const T = int64(1_700_000_000)
	s := activeStream(1000, 0, T, T+3600)

	at := func(offset int64) decimal.Decimal {
		return Interpolate(s, time.Unix(T+offset, 0)).Streamed
	}

	if got := at(0); !got.IsZero() {
		t.Errorf("at start: expected 0, got %s", got)
	}
	if got := at(1800); !got.Equal(decimal.NewFromInt(500)) {
		t.Errorf("at midpoint: expected 500, got %s", got)
	}

	end := Interpolate(s, time.Unix(T+3600, 0))
	if !end.Streamed.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("at end: expected 1000, got %s", end.Streamed)
	}
	if end.Status != domain.StatusCompleted || !end.StatusProvisional {
		t.Errorf("at end: expected provisional Completed, got %s (provisional=%v)",
			end.Status, end.StatusProvisional)
	}
}

func TestInterpolate_Monotonic(t *testing.T) {
	s := activeStream(1000, 0, 0, 1000)

	prev := decimal.Zero
	for ts := int64(0); ts <= 1200; ts += 100 {
		got := Interpolate(s, time.Unix(ts, 0)).Streamed
		if got.LessThan(prev) {
			t.Fatalf("streamed regressed at t=%d: %s < %s", ts, got, prev)
		}
		if got.GreaterThan(s.Amount) {
			t.Fatalf("streamed exceeded amount at t=%d: %s", ts, got)
		}
		prev = got
	}
}
