package registry

import (
	"context"
	"errors"
	"sort"
	"sync"

	"strapt-sync/internal/domain"
	"strapt-sync/internal/observability"
	"strapt-sync/internal/storage"
)

// discover scans the creation log in bounded block chunks for streams that
// mention the account, resuming from the persisted cursor, and unions the
// result with every already-cached id. Returns the ids and the highest block
// scanned; the cursor is advanced by the caller only once the ids are safely
// in the cache, so a mid-scan failure never skips past unfetched streams.
func (r *Registry) discover(ctx context.Context, account string) ([]string, int64, error) {
	height, err := r.ledger.GetBlockHeight(ctx)
	if err != nil {
		return nil, 0, err
	}

	var from int64
	if r.progress != nil {
		p, err := r.progress.Get(ctx, account)
		switch {
		case err == nil:
			from = p.Block + 1
		case !errors.Is(err, storage.ErrNotFound):
			r.logger.Printf("scan cursor read failed for %s: %v", account, err)
		}
	}

	scanned := from - 1
	found := make(map[string]struct{})
	for from <= height {
		to := min(from+r.scanChunk-1, height)

		if err := r.gate.Wait(ctx); err != nil {
			return nil, 0, err
		}
		events, err := r.ledger.GetCreationEvents(ctx, from, to)
		if err != nil {
			return nil, 0, err
		}

		observability.RecordScanChunk(to)

		for _, ev := range events {
			if ev.Sender == account || ev.Recipient == account {
				found[ev.StreamID] = struct{}{}
			}
		}

		scanned = to
		from = to + 1
	}

	// Streams discovered on earlier runs live behind the cursor; their ids
	// survive in the cache.
	if cached, err := r.cache.IDs(ctx); err == nil {
		for _, id := range cached {
			found[id] = struct{}{}
		}
	} else {
		r.logger.Printf("cached id listing failed: %v", err)
	}

	ids := make([]string, 0, len(found))
	for id := range found {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, scanned, nil
}

// fetchStreams resolves ids to reconciled records in bounded parallel
// batches, pausing between batches. Unresolvable ids are skipped; absent
// streams are dropped. The second return reports whether every id resolved
// or was confirmed absent; fetch failures make it false so the caller keeps
// the scan cursor behind the unfetched streams.
func (r *Registry) fetchStreams(ctx context.Context, ids []string) (map[string]*domain.Stream, bool) {
	out := make(map[string]*domain.Stream, len(ids))
	var outMu sync.Mutex
	complete := true

	for start := 0; start < len(ids); start += r.batchSize {
		if start > 0 {
			r.sleep(ctx, r.batchPause)
		}
		if ctx.Err() != nil {
			complete = false
			break
		}

		end := min(start+r.batchSize, len(ids))

		var wg sync.WaitGroup
		for _, id := range ids[start:end] {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				stream, err := r.reader.GetStreamDetails(ctx, id)
				if err != nil {
					r.logger.Printf("stream %s fetch failed during refresh: %v", id, err)
					outMu.Lock()
					complete = false
					outMu.Unlock()
					return
				}
				if stream == nil {
					return
				}
				outMu.Lock()
				out[id] = stream
				outMu.Unlock()
			}(id)
		}
		wg.Wait()
	}

	return out, complete
}
