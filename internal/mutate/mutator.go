package mutate

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"strapt-sync/internal/domain"
	"strapt-sync/internal/ledger"
	"strapt-sync/internal/observability"
	"strapt-sync/internal/storage"
)

// Allowance preflight tuning.
const (
	DefaultAllowanceRetries = 3
	DefaultAllowanceBackoff = 1 * time.Second
)

// maxAllowance is the maximal approval granted during the createStream
// preflight, so repeat creations skip the approval transaction.
var maxAllowance = decimal.NewFromBigInt(
	new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1)), 0)

// StreamReader is the read dependency for pre and post mutation state.
type StreamReader interface {
	GetStreamDetails(ctx context.Context, id string) (*domain.Stream, error)
}

// MutatorOptions configures optional Mutator behavior. Zero values select
// defaults.
type MutatorOptions struct {
	Logger *log.Logger

	// AllowanceRetries bounds post-approval allowance re-reads.
	AllowanceRetries int

	// AllowanceBackoff is the pause between allowance re-reads.
	AllowanceBackoff time.Duration

	// Sleep overrides backoff sleeping in tests.
	Sleep func(ctx context.Context, d time.Duration)
}

// Mutator issues state-changing stream operations against the ledger.
// Every operation runs simulate, submit, confirm, and invalidates the
// stream's cache entry on success. Operations on the same stream id are
// serialized client-side.
type Mutator struct {
	writer   ledger.WriteClient
	reader   StreamReader
	cache    storage.StreamCacheStore
	tokens   ledger.TokenClient
	contract string // stream ledger contract address
	logger   *log.Logger

	allowanceRetries int
	allowanceBackoff time.Duration
	sleep            func(ctx context.Context, d time.Duration)

	locksMu sync.Mutex
	idLocks map[string]*sync.Mutex
}

// NewMutator creates a Mutator bound to the given ledger contract address.
func NewMutator(writer ledger.WriteClient, reader StreamReader, cache storage.StreamCacheStore, tokens ledger.TokenClient, contract string, opts MutatorOptions) *Mutator {
	m := &Mutator{
		writer:           writer,
		reader:           reader,
		cache:            cache,
		tokens:           tokens,
		contract:         contract,
		logger:           opts.Logger,
		allowanceRetries: opts.AllowanceRetries,
		allowanceBackoff: opts.AllowanceBackoff,
		sleep:            opts.Sleep,
		idLocks:          make(map[string]*sync.Mutex),
	}
	if m.logger == nil {
		m.logger = log.Default()
	}
	if m.allowanceRetries <= 0 {
		m.allowanceRetries = DefaultAllowanceRetries
	}
	if m.allowanceBackoff <= 0 {
		m.allowanceBackoff = DefaultAllowanceBackoff
	}
	if m.sleep == nil {
		m.sleep = func(ctx context.Context, d time.Duration) {
			timer := time.NewTimer(d)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-ctx.Done():
			}
		}
	}
	return m
}

// lockFor returns the mutex serializing mutations on a stream id.
func (m *Mutator) lockFor(id string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()

	mu, ok := m.idLocks[id]
	if !ok {
		mu = &sync.Mutex{}
		m.idLocks[id] = mu
	}
	return mu
}

// CreateParams describes a stream creation request.
type CreateParams struct {
	Sender    string
	Recipient string
	Token     string
	Amount    decimal.Decimal
	StartTime int64 // Unix seconds
	EndTime   int64 // Unix seconds

	// Milestones are percentage-gated release points, in order.
	Milestones []domain.Milestone
}

// CreateResult is the outcome of a successful stream creation.
type CreateResult struct {
	StreamID string
	TxID     string
}

// CreateStream runs the allowance preflight and creates the stream, returning
// the ledger-assigned stream id extracted from the StreamCreated event.
func (m *Mutator) CreateStream(ctx context.Context, p CreateParams) (*CreateResult, error) {
	if err := m.ensureAllowance(ctx, p.Sender, p.Token, p.Amount); err != nil {
		return nil, err
	}

	milestones := make([]interface{}, 0, len(p.Milestones))
	for _, ms := range p.Milestones {
		milestones = append(milestones, map[string]interface{}{
			"percentage":  ms.Percentage,
			"description": ms.Description,
		})
	}

	receipt, err := m.execute(ctx, ledger.Call{
		From:   p.Sender,
		Method: ledger.MethodCreateStream,
		Args:   []interface{}{p.Recipient, p.Token, p.Amount.String(), p.StartTime, p.EndTime, milestones},
	})
	if err != nil {
		return nil, err
	}

	streamID := receipt.EventAttr(ledger.EventStreamCreated, "streamId")
	if streamID == "" {
		return nil, fmt.Errorf("tx %s confirmed but StreamCreated event missing", receipt.TxID)
	}

	return &CreateResult{StreamID: streamID, TxID: receipt.TxID}, nil
}

// ensureAllowance verifies the sender's token allowance covers the amount,
// approving a maximal allowance first when it does not. The post-approval
// re-read tolerates confirmation-to-visibility lag with a bounded backoff;
// a still-insufficient allowance after retries is fatal to the creation.
func (m *Mutator) ensureAllowance(ctx context.Context, sender, token string, amount decimal.Decimal) error {
	allowance, err := m.tokens.Allowance(ctx, token, sender, m.contract)
	if err != nil {
		return fmt.Errorf("read allowance: %w", err)
	}
	if allowance.GreaterThanOrEqual(amount) {
		return nil
	}

	if _, err := m.execute(ctx, ledger.Call{
		From:     sender,
		Contract: token,
		Method:   ledger.MethodApprove,
		Args:     []interface{}{m.contract, maxAllowance.String()},
	}); err != nil {
		return fmt.Errorf("approve allowance: %w", err)
	}

	for attempt := 1; attempt <= m.allowanceRetries; attempt++ {
		allowance, err = m.tokens.Allowance(ctx, token, sender, m.contract)
		if err == nil && allowance.GreaterThanOrEqual(amount) {
			return nil
		}
		if err != nil {
			m.logger.Printf("allowance re-read %d/%d failed: %v", attempt, m.allowanceRetries, err)
		}
		if attempt < m.allowanceRetries {
			m.sleep(ctx, m.allowanceBackoff)
		}
	}

	return ErrAllowanceInsufficient
}

// PauseStream pauses an active stream.
func (m *Mutator) PauseStream(ctx context.Context, sender, id string) (string, error) {
	return m.simpleMutation(ctx, sender, id, ledger.MethodPauseStream, []interface{}{id})
}

// ResumeStream resumes a paused stream.
func (m *Mutator) ResumeStream(ctx context.Context, sender, id string) (string, error) {
	return m.simpleMutation(ctx, sender, id, ledger.MethodResumeStream, []interface{}{id})
}

// CancelStream cancels a stream, returning unstreamed funds to the sender.
func (m *Mutator) CancelStream(ctx context.Context, sender, id string) (string, error) {
	return m.simpleMutation(ctx, sender, id, ledger.MethodCancelStream, []interface{}{id})
}

// ReleaseMilestone releases the milestone at index. The contract rejects a
// second release of the same index.
func (m *Mutator) ReleaseMilestone(ctx context.Context, sender, id string, index int) (string, error) {
	return m.simpleMutation(ctx, sender, id, ledger.MethodReleaseMilestone, []interface{}{id, index})
}

// simpleMutation runs one serialized simulate-submit-confirm cycle on a
// stream id and invalidates its cache entry.
func (m *Mutator) simpleMutation(ctx context.Context, from, id, method string, args []interface{}) (string, error) {
	mu := m.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	receipt, err := m.execute(ctx, ledger.Call{From: from, Method: method, Args: args})
	if err != nil {
		return "", err
	}

	m.invalidate(ctx, id)
	return receipt.TxID, nil
}

// WithdrawResult is the outcome of a withdrawal attempt.
type WithdrawResult struct {
	// NothingToClaim is set when the claimable amount was zero and no
	// transaction was submitted.
	NothingToClaim bool

	TxID    string
	Claimed decimal.Decimal

	// MarkedCompleted is set when the post-withdrawal cleanup confirmed the
	// stream as completed.
	MarkedCompleted bool
}

// WithdrawFromStream withdraws the recipient's claimable amount. A zero
// claimable short-circuits without submitting. After a confirmed withdrawal
// the stream is re-read; a fully-streamed stream not yet marked completed
// gets a best-effort markStreamCompleted cleanup that never fails the
// withdrawal itself.
func (m *Mutator) WithdrawFromStream(ctx context.Context, recipient, id string) (*WithdrawResult, error) {
	mu := m.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	stream, err := m.reader.GetStreamDetails(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("read stream before withdrawal: %w", err)
	}
	if stream == nil {
		return nil, ErrNotFound
	}

	claimable := stream.Claimable()
	if claimable.LessThanOrEqual(decimal.Zero) {
		return &WithdrawResult{NothingToClaim: true}, nil
	}

	receipt, err := m.execute(ctx, ledger.Call{
		From:   recipient,
		Method: ledger.MethodWithdraw,
		Args:   []interface{}{id},
	})
	if err != nil {
		return nil, err
	}

	m.invalidate(ctx, id)
	result := &WithdrawResult{TxID: receipt.TxID, Claimed: claimable}

	// The decision below reads the fresh remote status, never the local
	// provisional promotion.
	post, err := m.reader.GetStreamDetails(ctx, id)
	if err != nil || post == nil {
		m.logger.Printf("post-withdrawal re-read failed for %s: %v", id, err)
		return result, nil
	}

	if post.Streamed.Equal(post.Amount) && post.Status != domain.StatusCompleted {
		if _, err := m.execute(ctx, ledger.Call{
			From:   recipient,
			Method: ledger.MethodMarkCompleted,
			Args:   []interface{}{id},
		}); err != nil {
			m.logger.Printf("mark completed failed for %s: %v", id, err)
		} else {
			m.invalidate(ctx, id)
			result.MarkedCompleted = true
		}
	}

	return result, nil
}

// execute runs one simulate-submit-confirm cycle.
func (m *Mutator) execute(ctx context.Context, call ledger.Call) (*ledger.Receipt, error) {
	started := time.Now()

	if err := m.writer.SimulateCall(ctx, call); err != nil {
		observability.RecordMutation(call.Method, "simulate_failed", time.Since(started).Seconds())
		return nil, classify(err)
	}

	txID, err := m.writer.SubmitCall(ctx, call)
	if err != nil {
		observability.RecordMutation(call.Method, "submit_failed", time.Since(started).Seconds())
		return nil, classify(err)
	}

	receipt, err := m.writer.WaitReceipt(ctx, txID)
	if err != nil {
		observability.RecordMutation(call.Method, "confirm_failed", time.Since(started).Seconds())
		return nil, fmt.Errorf("await tx %s: %w", txID, err)
	}
	if receipt.Status != ledger.ReceiptStatusSuccess {
		observability.RecordMutation(call.Method, "reverted", time.Since(started).Seconds())
		return nil, fmt.Errorf("tx %s reverted on-chain", txID)
	}

	observability.RecordMutation(call.Method, "success", time.Since(started).Seconds())
	return receipt, nil
}

// invalidate drops the stream's cache entry so the next read hits the remote.
func (m *Mutator) invalidate(ctx context.Context, id string) {
	if err := m.cache.Delete(ctx, id); err != nil {
		m.logger.Printf("cache invalidation failed for %s: %v", id, err)
	}
}
