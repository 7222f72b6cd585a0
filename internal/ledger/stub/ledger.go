// Package stub provides scripted ledger clients for testing.
package stub

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"strapt-sync/internal/ledger"
)

// ErrUnavailable is the generic remote failure injected by stubs.
var ErrUnavailable = errors.New("ledger unavailable")

// ReadClient implements ledger.ReadClient for testing.
type ReadClient struct {
	mu sync.Mutex

	Streams    map[string]*ledger.RawStream
	Milestones map[string][]ledger.RawMilestone
	Events     []ledger.CreationEvent
	Height     int64

	// StreamFailures holds the number of remaining injected failures per
	// stream id; each GetStream consumes one before succeeding.
	StreamFailures map[string]int

	// MilestoneFailures marks per-index milestone fetches that always fail.
	MilestoneFailures map[string]map[int]bool

	// EventsErr, when set, fails every GetCreationEvents call.
	EventsErr error

	// EventsErrAtCall maps 1-based GetCreationEvents call ordinals to
	// injected failures, for mid-scan failure scenarios.
	EventsErrAtCall map[int]error

	// HeightErr, when set, fails every GetBlockHeight call.
	HeightErr error

	// Call counters.
	GetStreamCalls    int
	GetMilestoneCalls int
	GetEventsCalls    int
}

// NewReadClient creates a new stub read client.
func NewReadClient() *ReadClient {
	return &ReadClient{
		Streams:           make(map[string]*ledger.RawStream),
		Milestones:        make(map[string][]ledger.RawMilestone),
		StreamFailures:    make(map[string]int),
		MilestoneFailures: make(map[string]map[int]bool),
		EventsErrAtCall:   make(map[int]error),
	}
}

// Compile-time interface check.
var _ ledger.ReadClient = (*ReadClient)(nil)

// AddStream registers a raw stream with optional milestones.
func (c *ReadClient) AddStream(id string, raw *ledger.RawStream, milestones ...ledger.RawMilestone) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Streams[id] = raw
	c.Milestones[id] = milestones
}

// FailStream injects n consecutive GetStream failures for id.
func (c *ReadClient) FailStream(id string, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.StreamFailures[id] = n
}

// FailMilestone makes every fetch of (id, index) fail.
func (c *ReadClient) FailMilestone(id string, index int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.MilestoneFailures[id] == nil {
		c.MilestoneFailures[id] = make(map[int]bool)
	}
	c.MilestoneFailures[id][index] = true
}

// GetStream retrieves a raw stream from the stub store.
func (c *ReadClient) GetStream(_ context.Context, id string) (*ledger.RawStream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.GetStreamCalls++

	if n := c.StreamFailures[id]; n > 0 {
		c.StreamFailures[id] = n - 1
		return nil, ErrUnavailable
	}

	raw, ok := c.Streams[id]
	if !ok {
		return nil, nil
	}
	cp := *raw
	return &cp, nil
}

// GetMilestone retrieves a milestone from the stub store.
func (c *ReadClient) GetMilestone(_ context.Context, id string, index int) (*ledger.RawMilestone, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.GetMilestoneCalls++

	if c.MilestoneFailures[id][index] {
		return nil, ErrUnavailable
	}

	ms, ok := c.Milestones[id]
	if !ok || index < 0 || index >= len(ms) {
		return nil, fmt.Errorf("milestone %d out of range for %s", index, id)
	}
	cp := ms[index]
	return &cp, nil
}

// GetMilestoneCount retrieves the milestone count from the stub store.
func (c *ReadClient) GetMilestoneCount(_ context.Context, id string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Milestones[id]), nil
}

// GetCreationEvents retrieves creation events within [fromBlock, toBlock].
func (c *ReadClient) GetCreationEvents(_ context.Context, fromBlock, toBlock int64) ([]ledger.CreationEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.GetEventsCalls++

	if c.EventsErr != nil {
		return nil, c.EventsErr
	}
	if err := c.EventsErrAtCall[c.GetEventsCalls]; err != nil {
		return nil, err
	}

	var out []ledger.CreationEvent
	for _, ev := range c.Events {
		if ev.Block >= fromBlock && ev.Block <= toBlock {
			out = append(out, ev)
		}
	}
	return out, nil
}

// GetBlockHeight retrieves the stub block height.
func (c *ReadClient) GetBlockHeight(_ context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.HeightErr != nil {
		return 0, c.HeightErr
	}
	return c.Height, nil
}

// WriteClient implements ledger.WriteClient for testing.
type WriteClient struct {
	mu sync.Mutex

	// SimulateErrs maps method name to the error its simulation returns.
	SimulateErrs map[string]error

	// LogsByMethod maps method name to receipt logs emitted on success.
	LogsByMethod map[string][]ledger.EventLog

	// SubmitErr, when set, fails every SubmitCall.
	SubmitErr error

	// Submitted records every successfully submitted call in order.
	Submitted []ledger.Call

	txSeq      int
	txMethods  map[string]string
	ReceiptErr error
}

// NewWriteClient creates a new stub write client.
func NewWriteClient() *WriteClient {
	return &WriteClient{
		SimulateErrs: make(map[string]error),
		LogsByMethod: make(map[string][]ledger.EventLog),
		txMethods:    make(map[string]string),
	}
}

// Compile-time interface check.
var _ ledger.WriteClient = (*WriteClient)(nil)

// SimulateCall returns the scripted simulation result for the call's method.
func (c *WriteClient) SimulateCall(_ context.Context, call ledger.Call) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.SimulateErrs[call.Method]
}

// SubmitCall records the call and returns a synthetic tx id.
func (c *WriteClient) SubmitCall(_ context.Context, call ledger.Call) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.SubmitErr != nil {
		return "", c.SubmitErr
	}

	c.txSeq++
	txID := fmt.Sprintf("tx-%d", c.txSeq)
	c.Submitted = append(c.Submitted, call)
	c.txMethods[txID] = call.Method
	return txID, nil
}

// WaitReceipt returns a success receipt carrying the method's scripted logs.
func (c *WriteClient) WaitReceipt(_ context.Context, txID string) (*ledger.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ReceiptErr != nil {
		return nil, c.ReceiptErr
	}

	method, ok := c.txMethods[txID]
	if !ok {
		return nil, fmt.Errorf("unknown tx %s", txID)
	}

	return &ledger.Receipt{
		TxID:   txID,
		Status: ledger.ReceiptStatusSuccess,
		Logs:   c.LogsByMethod[method],
	}, nil
}

// SubmittedMethods returns the method names of submitted calls in order.
func (c *WriteClient) SubmittedMethods() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]string, len(c.Submitted))
	for i, call := range c.Submitted {
		out[i] = call.Method
	}
	return out
}

// TokenClient implements ledger.TokenClient for testing.
type TokenClient struct {
	mu sync.Mutex

	// AllowanceSeq is consumed one value per Allowance call; when exhausted,
	// AllowanceDefault is returned.
	AllowanceSeq     []decimal.Decimal
	AllowanceDefault decimal.Decimal

	Symbols map[string]string

	AllowanceCalls int
}

// NewTokenClient creates a new stub token client.
func NewTokenClient() *TokenClient {
	return &TokenClient{
		Symbols: make(map[string]string),
	}
}

// Compile-time interface check.
var _ ledger.TokenClient = (*TokenClient)(nil)

// Allowance returns the next scripted allowance value.
func (c *TokenClient) Allowance(_ context.Context, _, _, _ string) (decimal.Decimal, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.AllowanceCalls++

	if len(c.AllowanceSeq) > 0 {
		v := c.AllowanceSeq[0]
		c.AllowanceSeq = c.AllowanceSeq[1:]
		return v, nil
	}
	return c.AllowanceDefault, nil
}

// SymbolOf returns the scripted symbol for a token address.
func (c *TokenClient) SymbolOf(_ context.Context, token string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sym, ok := c.Symbols[token]
	if !ok {
		return "", fmt.Errorf("unknown token %s", token)
	}
	return sym, nil
}
