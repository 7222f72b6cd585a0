package reconcile

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"strapt-sync/internal/domain"
	"strapt-sync/internal/ledger"
	"strapt-sync/internal/observability"
	"strapt-sync/internal/ratelimit"
	"strapt-sync/internal/storage"
)

// Default reader tuning.
const (
	DefaultTTL                = 5 * time.Minute
	DefaultRetryDelay         = 2 * time.Second
	DefaultMilestoneBatchSize = 3
)

// ReaderOptions configures optional Reader behavior. Zero values select
// defaults.
type ReaderOptions struct {
	// Tokens resolves token symbols. Optional; symbols fall back to the
	// cached value when nil.
	Tokens ledger.TokenClient

	// History receives a snapshot after every successful remote
	// reconciliation. Optional; appends are best-effort.
	History storage.StreamHistoryStore

	Logger *log.Logger

	// TTL is the cache freshness window.
	TTL time.Duration

	// RetryDelay is the pause before the single read retry.
	RetryDelay time.Duration

	// MilestoneBatchSize bounds parallel milestone fetches per rate-limit slot.
	MilestoneBatchSize int

	// Clock and Sleep override wall-clock access in tests.
	Clock func() time.Time
	Sleep func(ctx context.Context, d time.Duration)
}

// Reader reconciles raw on-chain stream records with the cache and the
// linear schedule into client-side Stream records.
type Reader struct {
	ledger  ledger.ReadClient
	cache   storage.StreamCacheStore
	gate    *ratelimit.Gate
	tokens  ledger.TokenClient
	history storage.StreamHistoryStore
	logger  *log.Logger

	ttl        time.Duration
	retryDelay time.Duration
	batchSize  int

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration)
}

// NewReader creates a Reader over the given read client, cache and gate.
func NewReader(read ledger.ReadClient, cache storage.StreamCacheStore, gate *ratelimit.Gate, opts ReaderOptions) *Reader {
	r := &Reader{
		ledger:     read,
		cache:      cache,
		gate:       gate,
		tokens:     opts.Tokens,
		history:    opts.History,
		logger:     opts.Logger,
		ttl:        opts.TTL,
		retryDelay: opts.RetryDelay,
		batchSize:  opts.MilestoneBatchSize,
		now:        opts.Clock,
		sleep:      opts.Sleep,
	}
	if r.logger == nil {
		r.logger = log.Default()
	}
	if r.ttl <= 0 {
		r.ttl = DefaultTTL
	}
	if r.retryDelay <= 0 {
		r.retryDelay = DefaultRetryDelay
	}
	if r.batchSize <= 0 {
		r.batchSize = DefaultMilestoneBatchSize
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.sleep == nil {
		r.sleep = sleepCtx
	}
	return r
}

// GetStreamDetails returns the reconciled record for a stream id.
// Returns (nil, nil) when the stream does not exist on the ledger; callers
// must treat that as unknown, not as zero. A remote failure falls back to
// the cache, stale entries included, before propagating the error.
func (r *Reader) GetStreamDetails(ctx context.Context, id string) (*domain.Stream, error) {
	var cached *storage.CacheEntry
	if entry, err := r.cache.Get(ctx, id); err == nil {
		if entry.FreshAt(r.now(), r.ttl) {
			observability.RecordStreamRead("cache")
			return entry.Stream.Clone(), nil
		}
		cached = entry
	} else if !errors.Is(err, storage.ErrNotFound) {
		r.logger.Printf("stream cache read failed for %s: %v", id, err)
	}

	raw, err := r.fetchRaw(ctx, id)
	if err != nil {
		if cached != nil {
			r.logger.Printf("stream fetch failed for %s, serving stale cache: %v", id, err)
			observability.RecordCacheFallback()
			observability.RecordStreamRead("stale_fallback")
			return cached.Stream.Clone(), nil
		}
		observability.RecordReadError("stream")
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}

	status := domain.StatusFromCode(raw.StatusCode)
	now := r.now()

	stream := &domain.Stream{
		ID:           id,
		Sender:       raw.Sender,
		Recipient:    raw.Recipient,
		TokenAddress: raw.TokenAddress,
		TokenSymbol:  r.tokenSymbol(ctx, raw.TokenAddress, cached),
		Amount:       raw.TotalAmount,
		Streamed:     projectStreamed(raw.StreamedAmount, raw.TotalAmount, status, raw.StartTime, raw.EndTime, now.Unix()),
		Withdrawn:    raw.StreamedAmount,
		StartTime:    raw.StartTime,
		EndTime:      raw.EndTime,
		Status:       status,
		Milestones:   r.loadMilestones(ctx, id, status, cached),
	}

	entry := &storage.CacheEntry{Stream: stream, FetchedAt: now.UnixMilli()}
	if err := r.cache.Set(ctx, entry); err != nil {
		r.logger.Printf("stream cache write failed for %s: %v", id, err)
	}
	r.appendHistory(ctx, stream, now)

	observability.RecordStreamRead("remote")
	return stream, nil
}

// fetchRaw performs the rate-limited record fetch with a single retry.
func (r *Reader) fetchRaw(ctx context.Context, id string) (*ledger.RawStream, error) {
	if err := r.gate.Wait(ctx); err != nil {
		return nil, err
	}

	raw, err := r.ledger.GetStream(ctx, id)
	if err == nil {
		return raw, nil
	}

	r.logger.Printf("stream fetch failed for %s, retrying: %v", id, err)
	r.sleep(ctx, r.retryDelay)

	if err := r.gate.Wait(ctx); err != nil {
		return nil, err
	}
	return r.ledger.GetStream(ctx, id)
}

// loadMilestones fetches the milestone list for streams that can still
// change. Completed and Canceled streams reuse cached milestones verbatim.
func (r *Reader) loadMilestones(ctx context.Context, id string, status domain.StreamStatus, cached *storage.CacheEntry) []domain.Milestone {
	if status != domain.StatusActive && status != domain.StatusPaused {
		if cached != nil {
			return cloneMilestones(cached.Stream.Milestones)
		}
		return nil
	}

	count, err := r.ledger.GetMilestoneCount(ctx, id)
	if err != nil {
		r.logger.Printf("milestone count fetch failed for %s: %v", id, err)
		if cached != nil {
			return cloneMilestones(cached.Stream.Milestones)
		}
		return nil
	}

	var out []domain.Milestone
	for start := 0; start < count; start += r.batchSize {
		if err := r.gate.Wait(ctx); err != nil {
			r.logger.Printf("milestone fetch aborted for %s: %v", id, err)
			break
		}

		end := min(start+r.batchSize, count)
		results := make([]*ledger.RawMilestone, end-start)

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				m, err := r.ledger.GetMilestone(ctx, id, idx)
				if err != nil {
					r.logger.Printf("milestone %d fetch failed for %s: %v", idx, id, err)
					return
				}
				observability.RecordMilestoneFetch()
				results[idx-start] = m
			}(i)
		}
		wg.Wait()

		for i, m := range results {
			idx := start + i
			switch {
			case m != nil:
				out = append(out, domain.Milestone{
					Percentage:  m.Percentage,
					Description: m.Description,
					Released:    m.Released,
				})
			case cached != nil && idx < len(cached.Stream.Milestones):
				out = append(out, cached.Stream.Milestones[idx])
			}
			// No remote value and no cached fallback: the milestone is
			// dropped from this reconciliation.
		}
	}
	return out
}

// tokenSymbol resolves the token symbol, preferring the cached value to
// avoid a remote call per refresh.
func (r *Reader) tokenSymbol(ctx context.Context, token string, cached *storage.CacheEntry) string {
	if cached != nil && cached.Stream.TokenAddress == token && cached.Stream.TokenSymbol != "" {
		return cached.Stream.TokenSymbol
	}
	if r.tokens == nil {
		return ""
	}

	symbol, err := r.tokens.SymbolOf(ctx, token)
	if err != nil {
		r.logger.Printf("token symbol fetch failed for %s: %v", token, err)
		return ""
	}
	return symbol
}

// appendHistory records the reconciled state. Best-effort.
func (r *Reader) appendHistory(ctx context.Context, s *domain.Stream, now time.Time) {
	if r.history == nil {
		return
	}

	snap := &domain.StreamSnapshot{
		StreamID:   s.ID,
		Streamed:   s.Streamed,
		Withdrawn:  s.Withdrawn,
		Status:     s.Status,
		Source:     domain.SnapshotRemote,
		ObservedAt: now.UnixMilli(),
	}
	if err := r.history.AppendBulk(ctx, []*domain.StreamSnapshot{snap}); err != nil {
		r.logger.Printf("stream history append failed for %s: %v", s.ID, err)
	}
}

func cloneMilestones(ms []domain.Milestone) []domain.Milestone {
	if ms == nil {
		return nil
	}
	out := make([]domain.Milestone, len(ms))
	copy(out, ms)
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
