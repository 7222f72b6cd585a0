// Package registry discovers the streams visible to the current account and
// keeps them fresh with a dual-cadence loop: a fast local interpolation tick
// and a slow remote reconciliation tick.
package registry

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"strapt-sync/internal/domain"
	"strapt-sync/internal/ledger"
	"strapt-sync/internal/observability"
	"strapt-sync/internal/ratelimit"
	"strapt-sync/internal/reconcile"
	"strapt-sync/internal/storage"
)

// Default registry tuning.
const (
	DefaultFastInterval   = 1 * time.Second
	DefaultSlowInterval   = 2 * time.Minute
	DefaultWarmDelay      = 3 * time.Second
	DefaultBatchPause     = 500 * time.Millisecond
	DefaultFetchBatchSize = 5
	DefaultScanChunk      = 10_000
)

// State is the lifecycle of the visible stream list.
type State int

const (
	StateUninitialized State = iota
	StateFetching
	StatePopulated
)

func (s State) String() string {
	switch s {
	case StateFetching:
		return "fetching"
	case StatePopulated:
		return "populated"
	default:
		return "uninitialized"
	}
}

// IdentityProvider exposes the currently connected account address.
type IdentityProvider interface {
	CurrentAccount() string
}

// StaticIdentity is an IdentityProvider pinned to one address.
type StaticIdentity string

// CurrentAccount returns the pinned address.
func (s StaticIdentity) CurrentAccount() string { return string(s) }

// StreamReader is the reconciled read dependency.
type StreamReader interface {
	GetStreamDetails(ctx context.Context, id string) (*domain.Stream, error)
}

// Options configures optional Registry behavior. Zero values select defaults.
type Options struct {
	// Progress persists discovery cursors across restarts. Optional; without
	// it every discovery rescans from genesis.
	Progress storage.ScanProgressStore

	// History receives interpolated snapshots on gated no-op refreshes.
	// Optional.
	History storage.StreamHistoryStore

	// WS delivers live StreamCreated events. Optional.
	WS ledger.WSClient

	Logger *log.Logger

	// OnUpdate is invoked with the current visible list after every refresh
	// and interpolation tick. Optional.
	OnUpdate func([]*domain.Stream)

	FastInterval   time.Duration
	SlowInterval   time.Duration
	WarmDelay      time.Duration
	BatchPause     time.Duration
	FetchBatchSize int
	ScanChunk      int64

	// Clock and Sleep override wall-clock access in tests.
	Clock func() time.Time
	Sleep func(ctx context.Context, d time.Duration)
}

// Registry maintains the visible stream set for the current account.
type Registry struct {
	ledger   ledger.ReadClient
	reader   StreamReader
	cache    storage.StreamCacheStore
	gate     *ratelimit.Gate
	identity IdentityProvider
	progress storage.ScanProgressStore
	history  storage.StreamHistoryStore
	ws       ledger.WSClient
	logger   *log.Logger
	onUpdate func([]*domain.Stream)

	fastInterval time.Duration
	slowInterval time.Duration
	warmDelay    time.Duration
	batchPause   time.Duration
	batchSize    int
	scanChunk    int64

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration)

	// refreshMu serializes full refreshes (timer-driven and forced).
	refreshMu sync.Mutex

	mu        sync.RWMutex
	account   string
	streams   map[string]*domain.Stream
	state     State
	lastFetch time.Time
}

// NewRegistry creates a Registry for the identity's account.
func NewRegistry(read ledger.ReadClient, reader StreamReader, cache storage.StreamCacheStore, gate *ratelimit.Gate, identity IdentityProvider, opts Options) *Registry {
	r := &Registry{
		ledger:       read,
		reader:       reader,
		cache:        cache,
		gate:         gate,
		identity:     identity,
		progress:     opts.Progress,
		history:      opts.History,
		ws:           opts.WS,
		logger:       opts.Logger,
		onUpdate:     opts.OnUpdate,
		fastInterval: opts.FastInterval,
		slowInterval: opts.SlowInterval,
		warmDelay:    opts.WarmDelay,
		batchPause:   opts.BatchPause,
		batchSize:    opts.FetchBatchSize,
		scanChunk:    opts.ScanChunk,
		now:          opts.Clock,
		sleep:        opts.Sleep,
		streams:      make(map[string]*domain.Stream),
	}
	if r.logger == nil {
		r.logger = log.Default()
	}
	if r.fastInterval <= 0 {
		r.fastInterval = DefaultFastInterval
	}
	if r.slowInterval <= 0 {
		r.slowInterval = DefaultSlowInterval
	}
	if r.warmDelay <= 0 {
		r.warmDelay = DefaultWarmDelay
	}
	if r.batchPause <= 0 {
		r.batchPause = DefaultBatchPause
	}
	if r.batchSize <= 0 {
		r.batchSize = DefaultFetchBatchSize
	}
	if r.scanChunk <= 0 {
		r.scanChunk = DefaultScanChunk
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.sleep == nil {
		r.sleep = func(ctx context.Context, d time.Duration) {
			timer := time.NewTimer(d)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-ctx.Done():
			}
		}
	}
	return r
}

// State returns the current list lifecycle state.
func (r *Registry) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// Snapshot returns the visible streams, newest schedule first.
func (r *Registry) Snapshot() []*domain.Stream {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.Stream, 0, len(r.streams))
	for _, s := range r.streams {
		out = append(out, s.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTime != out[j].StartTime {
			return out[i].StartTime > out[j].StartTime
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ForceRefresh runs a full discovery and fetch, bypassing the elapsed-time
// gate.
func (r *Registry) ForceRefresh(ctx context.Context) error {
	return r.refresh(ctx, true)
}

// Run drives the refresh loop until the context is canceled.
//
// A warm cache lets the list populate immediately from cached entries, with
// the first remote refresh deferred shortly; a cold start refreshes at once.
func (r *Registry) Run(ctx context.Context) error {
	var warmCh <-chan time.Time
	if r.warmStart(ctx) {
		warmTimer := time.NewTimer(r.warmDelay)
		defer warmTimer.Stop()
		warmCh = warmTimer.C
	} else if err := r.refresh(ctx, true); err != nil {
		r.logger.Printf("initial refresh failed: %v", err)
	}

	var liveCh <-chan ledger.CreationNotification
	if r.ws != nil {
		ch, err := r.ws.SubscribeCreations(ctx, ledger.CreationFilter{
			Mentions: []string{r.identity.CurrentAccount()},
		})
		if err != nil {
			r.logger.Printf("creation subscription failed, relying on slow tick: %v", err)
		} else {
			liveCh = ch
		}
	}

	fast := time.NewTicker(r.fastInterval)
	defer fast.Stop()
	slow := time.NewTicker(r.slowInterval)
	defer slow.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-warmCh:
			if err := r.refresh(ctx, true); err != nil {
				r.logger.Printf("warm refresh failed: %v", err)
			}

		case <-fast.C:
			r.interpolateTick()

		case <-slow.C:
			if err := r.refresh(ctx, false); err != nil {
				r.logger.Printf("periodic refresh failed: %v", err)
			}

		case n, ok := <-liveCh:
			if !ok {
				liveCh = nil
				continue
			}
			r.handleCreation(ctx, n)
		}
	}
}

// warmStart populates the list from cached entries when any exist.
// Returns whether the warm path was taken.
func (r *Registry) warmStart(ctx context.Context) bool {
	ids, err := r.cache.IDs(ctx)
	if err != nil || len(ids) == 0 {
		return false
	}

	account := r.identity.CurrentAccount()
	now := r.now()
	streams := make(map[string]*domain.Stream, len(ids))
	for _, id := range ids {
		entry, err := r.cache.Get(ctx, id)
		if err != nil {
			continue
		}
		// A shared cache can hold another identity's streams.
		if entry.Stream.Sender != account && entry.Stream.Recipient != account {
			continue
		}
		streams[id] = reconcile.Interpolate(entry.Stream, now)
	}
	if len(streams) == 0 {
		return false
	}

	r.mu.Lock()
	r.account = account
	r.streams = streams
	r.state = StatePopulated
	r.mu.Unlock()

	r.notify()
	return true
}

// refresh runs discovery and fetch. Without force, an elapsed-time gate turns
// it into a local interpolation pass when the last successful fetch is recent
// enough. On remote failure the last-known list is retained.
func (r *Registry) refresh(ctx context.Context, force bool) error {
	r.refreshMu.Lock()
	defer r.refreshMu.Unlock()

	r.mu.RLock()
	last := r.lastFetch
	r.mu.RUnlock()

	if !force && r.now().Sub(last) < r.slowInterval {
		r.interpolateTick()
		r.recordInterpolated(ctx)
		return nil
	}

	account := r.identity.CurrentAccount()

	r.mu.Lock()
	if r.account != account {
		// Account switched; the old list does not belong to this identity.
		r.account = account
		r.streams = make(map[string]*domain.Stream)
		r.state = StateUninitialized
	}
	if r.state == StateUninitialized {
		r.state = StateFetching
	}
	r.mu.Unlock()

	kind := "periodic"
	if force {
		kind = "forced"
	}

	ids, scanned, err := r.discover(ctx, account)
	if err != nil {
		r.logger.Printf("discovery failed for %s, retaining last-known list: %v", account, err)
		observability.RecordRefresh(kind, "error")
		r.mu.Lock()
		if r.state == StateFetching {
			// Cold start never produced a list; back to square one.
			r.state = StateUninitialized
		}
		r.mu.Unlock()
		return err
	}

	streams, complete := r.fetchStreams(ctx, ids)

	// The scan cursor advances only once every discovered stream is cached,
	// so ids found in an earlier chunk are re-found after a partial failure.
	if complete && scanned >= 0 && r.progress != nil {
		cursor := &storage.ScanProgress{
			Account:   account,
			Block:     scanned,
			UpdatedAt: r.now().UnixMilli(),
		}
		if err := r.progress.Set(ctx, cursor); err != nil {
			r.logger.Printf("scan cursor write failed for %s: %v", account, err)
		}
	}

	// The cached-id union can carry streams of a previous identity; only
	// streams mentioning the current account are visible.
	for id, s := range streams {
		if s.Sender != account && s.Recipient != account {
			delete(streams, id)
		}
	}

	r.mu.Lock()
	r.streams = streams
	r.state = StatePopulated
	r.lastFetch = r.now()
	visible := len(streams)
	r.mu.Unlock()

	observability.RecordRefresh(kind, "success")
	observability.UpdateVisibleStreams(visible)
	observability.DefaultMetrics.LastSuccessfulRefresh.Set(float64(r.now().Unix()))

	r.notify()
	return nil
}

// interpolateTick advances every active stream's projection locally.
func (r *Registry) interpolateTick() {
	now := r.now()

	r.mu.Lock()
	for id, s := range r.streams {
		r.streams[id] = reconcile.Interpolate(s, now)
	}
	r.mu.Unlock()

	observability.RecordInterpolationTick()
	r.notify()
}

// handleCreation folds a live StreamCreated event into the visible list.
func (r *Registry) handleCreation(ctx context.Context, n ledger.CreationNotification) {
	account := r.identity.CurrentAccount()
	if n.Sender != account && n.Recipient != account {
		return
	}

	stream, err := r.reader.GetStreamDetails(ctx, n.StreamID)
	if err != nil || stream == nil {
		r.logger.Printf("fetch of newly created stream %s failed: %v", n.StreamID, err)
		return
	}

	r.mu.Lock()
	r.streams[stream.ID] = stream
	r.state = StatePopulated
	r.mu.Unlock()

	r.notify()
}

// recordInterpolated appends interpolated snapshots for active streams.
// Best-effort, runs only on gated no-op refreshes so the history is bounded.
func (r *Registry) recordInterpolated(ctx context.Context) {
	if r.history == nil {
		return
	}

	now := r.now().UnixMilli()
	var snaps []*domain.StreamSnapshot

	r.mu.RLock()
	for _, s := range r.streams {
		if s.Status != domain.StatusActive && !s.StatusProvisional {
			continue
		}
		snaps = append(snaps, &domain.StreamSnapshot{
			StreamID:   s.ID,
			Streamed:   s.Streamed,
			Withdrawn:  s.Withdrawn,
			Status:     s.Status,
			Source:     domain.SnapshotInterpolated,
			ObservedAt: now,
		})
	}
	r.mu.RUnlock()

	if len(snaps) == 0 {
		return
	}
	if err := r.history.AppendBulk(ctx, snaps); err != nil {
		r.logger.Printf("interpolated history append failed: %v", err)
	}
}

func (r *Registry) notify() {
	if r.onUpdate != nil {
		r.onUpdate(r.Snapshot())
	}
}
