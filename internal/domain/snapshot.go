package domain

import "github.com/shopspring/decimal"

// SnapshotSource indicates how a history point was produced.
type SnapshotSource string

const (
	SnapshotRemote       SnapshotSource = "REMOTE"
	SnapshotInterpolated SnapshotSource = "INTERPOLATED"
)

// StreamSnapshot is an append-only reconciliation history point.
// Corresponds to stream_snapshots table in ClickHouse.
type StreamSnapshot struct {
	StreamID   string
	Streamed   decimal.Decimal
	Withdrawn  decimal.Decimal
	Status     StreamStatus
	Source     SnapshotSource
	ObservedAt int64 // Unix timestamp in milliseconds
}
