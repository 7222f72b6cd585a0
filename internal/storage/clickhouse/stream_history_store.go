package clickhouse

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"strapt-sync/internal/domain"
	"strapt-sync/internal/storage"
)

// StreamHistoryStore implements storage.StreamHistoryStore using ClickHouse.
// Snapshots are append-only; the MergeTree table carries no uniqueness
// constraint, so duplicate appends simply produce duplicate rows.
type StreamHistoryStore struct {
	conn *Conn
}

// NewStreamHistoryStore creates a new StreamHistoryStore.
func NewStreamHistoryStore(conn *Conn) *StreamHistoryStore {
	return &StreamHistoryStore{conn: conn}
}

// Compile-time interface check.
var _ storage.StreamHistoryStore = (*StreamHistoryStore)(nil)

// AppendBulk adds multiple snapshots.
func (s *StreamHistoryStore) AppendBulk(ctx context.Context, snapshots []*domain.StreamSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}

	for _, snap := range snapshots {
		if snap == nil || snap.StreamID == "" {
			return storage.ErrInvalidInput
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO stream_snapshots (
			stream_id, observed_at, streamed, withdrawn, status, source
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, snap := range snapshots {
		err = batch.Append(
			snap.StreamID, uint64(snap.ObservedAt),
			snap.Streamed, snap.Withdrawn,
			string(snap.Status), string(snap.Source),
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetByStreamID retrieves all snapshots for a stream, ordered by observed_at ASC.
func (s *StreamHistoryStore) GetByStreamID(ctx context.Context, streamID string) ([]*domain.StreamSnapshot, error) {
	query := `
		SELECT stream_id, observed_at, streamed, withdrawn, status, source
		FROM stream_snapshots
		WHERE stream_id = ?
		ORDER BY observed_at ASC
	`

	rows, err := s.conn.Query(ctx, query, streamID)
	if err != nil {
		return nil, fmt.Errorf("query by stream id: %w", err)
	}
	defer rows.Close()

	return scanSnapshots(rows)
}

// GetByTimeRange retrieves snapshots for a stream within [start, end] (inclusive).
func (s *StreamHistoryStore) GetByTimeRange(ctx context.Context, streamID string, start, end int64) ([]*domain.StreamSnapshot, error) {
	query := `
		SELECT stream_id, observed_at, streamed, withdrawn, status, source
		FROM stream_snapshots
		WHERE stream_id = ? AND observed_at >= ? AND observed_at <= ?
		ORDER BY observed_at ASC
	`

	rows, err := s.conn.Query(ctx, query, streamID, uint64(start), uint64(end))
	if err != nil {
		return nil, fmt.Errorf("query by time range: %w", err)
	}
	defer rows.Close()

	return scanSnapshots(rows)
}

// chRows abstracts driver.Rows for scanning helpers.
type chRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

// scanSnapshots scans multiple rows.
func scanSnapshots(rows chRows) ([]*domain.StreamSnapshot, error) {
	var snaps []*domain.StreamSnapshot

	for rows.Next() {
		var snap domain.StreamSnapshot
		var observedAt uint64
		var streamed, withdrawn decimal.Decimal
		var status, source string

		err := rows.Scan(
			&snap.StreamID, &observedAt,
			&streamed, &withdrawn,
			&status, &source,
		)
		if err != nil {
			return nil, fmt.Errorf("scan stream snapshot row: %w", err)
		}

		snap.ObservedAt = int64(observedAt)
		snap.Streamed = streamed
		snap.Withdrawn = withdrawn
		snap.Status = domain.StreamStatus(status)
		snap.Source = domain.SnapshotSource(source)
		snaps = append(snaps, &snap)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stream snapshot rows: %w", err)
	}

	return snaps, nil
}
