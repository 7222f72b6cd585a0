package domain

import (
	"encoding/hex"

	"github.com/shopspring/decimal"
)

// StreamStatus represents the lifecycle state of a payment stream.
type StreamStatus string

const (
	StatusActive    StreamStatus = "ACTIVE"
	StatusPaused    StreamStatus = "PAUSED"
	StatusCompleted StreamStatus = "COMPLETED"
	StatusCanceled  StreamStatus = "CANCELED"
)

// String returns the string representation of StreamStatus.
func (s StreamStatus) String() string {
	return string(s)
}

// IsValid checks if the status is a valid value.
func (s StreamStatus) IsValid() bool {
	switch s {
	case StatusActive, StatusPaused, StatusCompleted, StatusCanceled:
		return true
	}
	return false
}

// IsTerminal reports whether the stream can no longer accrue.
func (s StreamStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCanceled
}

// On-chain status codes as reported by the ledger contract.
const (
	StatusCodeActive    = 0
	StatusCodePaused    = 1
	StatusCodeCompleted = 2
	StatusCodeCanceled  = 3
)

// StatusFromCode maps an on-chain status code to a StreamStatus.
// Unknown codes map to StatusActive so an unrecognized stream keeps accruing
// rather than silently freezing.
func StatusFromCode(code int) StreamStatus {
	switch code {
	case StatusCodePaused:
		return StatusPaused
	case StatusCodeCompleted:
		return StatusCompleted
	case StatusCodeCanceled:
		return StatusCanceled
	default:
		return StatusActive
	}
}

// Stream is the reconciled client-side view of an on-chain payment stream.
type Stream struct {
	ID           string // 64-char hex digest assigned by the ledger at creation
	Sender       string // account address
	Recipient    string // account address
	TokenAddress string
	TokenSymbol  string
	Amount       decimal.Decimal // total committed quantity, immutable
	Streamed     decimal.Decimal // reconciled quantity streamed as of now
	Withdrawn    decimal.Decimal // cumulative amount already paid out
	StartTime    int64           // Unix seconds
	EndTime      int64           // Unix seconds
	Status       StreamStatus

	// StatusProvisional is true when Status was promoted to COMPLETED by the
	// local interpolation tick and the next remote reconciliation has not yet
	// confirmed it. Mutating operations must never gate on a provisional status.
	StatusProvisional bool

	Milestones []Milestone
}

// Milestone is a sender-triggerable, percentage-gated release point.
// Released flips false->true exactly once.
type Milestone struct {
	Percentage  uint8
	Description string
	Released    bool
}

// Claimable returns the portion of the streamed total not yet withdrawn.
func (s *Stream) Claimable() decimal.Decimal {
	return s.Streamed.Sub(s.Withdrawn)
}

// FullyClaimed reports whether there is nothing left to withdraw.
func (s *Stream) FullyClaimed() bool {
	return s.Claimable().LessThanOrEqual(decimal.Zero)
}

// ProgressPercent returns streamed/amount as a 0-100 percentage.
// Returns 0 for a zero-amount stream.
func (s *Stream) ProgressPercent() decimal.Decimal {
	if s.Amount.IsZero() {
		return decimal.Zero
	}
	return s.Streamed.Div(s.Amount).Mul(decimal.NewFromInt(100))
}

// Clone returns a deep copy of the stream.
func (s *Stream) Clone() *Stream {
	c := *s
	if s.Milestones != nil {
		c.Milestones = make([]Milestone, len(s.Milestones))
		copy(c.Milestones, s.Milestones)
	}
	return &c
}

// StreamIDLen is the length of a hex-encoded stream identifier.
const StreamIDLen = 64

// ValidStreamID checks that id is a 64-character hex digest.
func ValidStreamID(id string) bool {
	if len(id) != StreamIDLen {
		return false
	}
	_, err := hex.DecodeString(id)
	return err == nil
}
