package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// ReadClient defines the ledger read interface.
type ReadClient interface {
	// GetStream retrieves the raw on-chain record for a stream.
	// Returns (nil, nil) when the stream does not exist.
	GetStream(ctx context.Context, id string) (*RawStream, error)

	// GetMilestone retrieves a single milestone by stream id and index.
	GetMilestone(ctx context.Context, id string, index int) (*RawMilestone, error)

	// GetMilestoneCount retrieves the number of milestones for a stream.
	GetMilestoneCount(ctx context.Context, id string) (int, error)

	// GetCreationEvents retrieves StreamCreated events over [fromBlock, toBlock].
	GetCreationEvents(ctx context.Context, fromBlock, toBlock int64) ([]CreationEvent, error)

	// GetBlockHeight retrieves the current block height.
	GetBlockHeight(ctx context.Context) (int64, error)
}

// WriteClient defines the ledger write interface.
// Every mutation follows simulate -> submit -> confirm.
type WriteClient interface {
	// SimulateCall dry-runs a call against current chain state.
	// A contract revert is returned as *RevertError.
	SimulateCall(ctx context.Context, call Call) error

	// SubmitCall sends the transaction and returns a pending tx id.
	SubmitCall(ctx context.Context, call Call) (string, error)

	// WaitReceipt blocks until the transaction is included.
	WaitReceipt(ctx context.Context, txID string) (*Receipt, error)
}

// TokenClient defines the fungible-token contract interface used for the
// pre-flight approval flow.
type TokenClient interface {
	// Allowance retrieves the spender allowance granted by owner.
	Allowance(ctx context.Context, token, owner, spender string) (decimal.Decimal, error)

	// SymbolOf retrieves the token symbol for a token address.
	SymbolOf(ctx context.Context, token string) (string, error)
}

// RawStream is the on-chain stream tuple as reported by the ledger.
type RawStream struct {
	Sender         string
	Recipient      string
	TokenAddress   string
	TotalAmount    decimal.Decimal
	StreamedAmount decimal.Decimal // contract-tracked counter; may be reset by withdrawals
	StartTime      int64           // Unix seconds
	EndTime        int64           // Unix seconds
	StatusCode     int
}

// RawMilestone is the on-chain milestone tuple.
type RawMilestone struct {
	Percentage  uint8
	Description string
	Released    bool
}

// CreationEvent is a historical StreamCreated log entry.
type CreationEvent struct {
	StreamID  string
	Sender    string
	Recipient string
	Block     int64
	TxID      string
}

// Call describes a state-changing contract invocation.
type Call struct {
	From     string        // caller account address
	Contract string        // target contract address; empty means the stream ledger
	Method   string        // contract function name
	Args     []interface{} // positional arguments
}

// Receipt is the confirmation result of a submitted call.
type Receipt struct {
	TxID   string
	Block  int64
	Status int // 1 success, 0 reverted
	Logs   []EventLog
}

// EventLog is a decoded event emitted during execution.
type EventLog struct {
	Name       string
	Attributes map[string]string
}

// EventAttr returns the named attribute of the first log with the given event
// name, or "" when absent.
func (r *Receipt) EventAttr(event, attr string) string {
	for _, l := range r.Logs {
		if l.Name == event {
			return l.Attributes[attr]
		}
	}
	return ""
}

// Receipt status values.
const (
	ReceiptStatusReverted = 0
	ReceiptStatusSuccess  = 1
)

// RevertError carries a contract revert reason from simulation or execution.
type RevertError struct {
	Reason string
}

func (e *RevertError) Error() string {
	return fmt.Sprintf("contract revert: %s", e.Reason)
}

// Well-known event and method names of the stream ledger contract.
const (
	EventStreamCreated = "StreamCreated"

	MethodCreateStream     = "createStream"
	MethodPauseStream      = "pauseStream"
	MethodResumeStream     = "resumeStream"
	MethodCancelStream     = "cancelStream"
	MethodWithdraw         = "withdrawFromStream"
	MethodReleaseMilestone = "releaseMilestone"
	MethodMarkCompleted    = "markStreamCompleted"
	MethodApprove          = "approve"
)
