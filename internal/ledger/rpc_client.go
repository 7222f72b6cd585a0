package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
)

// Default configuration values.
const (
	DefaultTimeout      = 30 * time.Second
	DefaultMaxRetries   = 3
	DefaultRetryDelay   = 1 * time.Second
	DefaultMaxDelay     = 10 * time.Second
	DefaultBackoffMult  = 2.0
	DefaultReceiptPoll  = 2 * time.Second
	DefaultReceiptLimit = 2 * time.Minute
)

// HTTPClient implements ReadClient, WriteClient and TokenClient
// using HTTP JSON-RPC 2.0.
type HTTPClient struct {
	endpoint     string
	client       *http.Client
	maxRetries   int
	retryDelay   time.Duration
	maxDelay     time.Duration
	backoffMult  float64
	receiptPoll  time.Duration
	receiptLimit time.Duration
	requestID    atomic.Uint64
}

// ClientOption configures HTTPClient.
type ClientOption func(*HTTPClient)

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.client.Timeout = d
	}
}

// WithMaxRetries sets maximum retry attempts.
func WithMaxRetries(n int) ClientOption {
	return func(c *HTTPClient) {
		c.maxRetries = n
	}
}

// WithRetryDelay sets initial retry delay.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.retryDelay = d
	}
}

// WithReceiptPoll sets the receipt polling interval.
func WithReceiptPoll(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.receiptPoll = d
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *HTTPClient) {
		c.client = client
	}
}

// NewHTTPClient creates a new ledger RPC HTTP client.
func NewHTTPClient(endpoint string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		endpoint:     endpoint,
		client:       &http.Client{Timeout: DefaultTimeout},
		maxRetries:   DefaultMaxRetries,
		retryDelay:   DefaultRetryDelay,
		maxDelay:     DefaultMaxDelay,
		backoffMult:  DefaultBackoffMult,
		receiptPoll:  DefaultReceiptPoll,
		receiptLimit: DefaultReceiptLimit,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compile-time interface checks.
var (
	_ ReadClient  = (*HTTPClient)(nil)
	_ WriteClient = (*HTTPClient)(nil)
	_ TokenClient = (*HTTPClient)(nil)
)

// rpcRequest represents a JSON-RPC 2.0 request.
type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

// rpcResponse represents a JSON-RPC 2.0 response.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// rpcError represents a JSON-RPC 2.0 error.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// call performs a JSON-RPC call with retries and exponential backoff.
func (c *HTTPClient) call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	reqID := c.requestID.Add(1)
	reqBody := rpcRequest{
		JSONRPC: "2.0",
		ID:      reqID,
		Method:  method,
		Params:  params,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	delay := c.retryDelay
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			// Exponential backoff
			delay = time.Duration(float64(delay) * c.backoffMult)
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		// Handle rate limiting
		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("rate limited (429)")
			continue
		}

		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
			continue
		}

		var rpcResp rpcResponse
		if err := json.Unmarshal(respBody, &rpcResp); err != nil {
			lastErr = fmt.Errorf("unmarshal response: %w", err)
			continue
		}

		if rpcResp.Error != nil {
			// RPC errors are not retried
			return rpcResp.Error
		}

		if result != nil && rpcResp.Result != nil {
			if err := json.Unmarshal(rpcResp.Result, result); err != nil {
				return fmt.Errorf("unmarshal result: %w", err)
			}
		}

		return nil
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// GetStream retrieves the raw on-chain record for a stream.
// Returns (nil, nil) when the stream does not exist.
func (c *HTTPClient) GetStream(ctx context.Context, id string) (*RawStream, error) {
	var result *getStreamResult
	if err := c.call(ctx, "stream_get", []interface{}{id}, &result); err != nil {
		return nil, err
	}
	if result == nil {
		return nil, nil
	}

	total, err := decimal.NewFromString(result.TotalAmount)
	if err != nil {
		return nil, fmt.Errorf("parse total amount: %w", err)
	}
	streamed, err := decimal.NewFromString(result.StreamedAmount)
	if err != nil {
		return nil, fmt.Errorf("parse streamed amount: %w", err)
	}

	return &RawStream{
		Sender:         result.Sender,
		Recipient:      result.Recipient,
		TokenAddress:   result.TokenAddress,
		TotalAmount:    total,
		StreamedAmount: streamed,
		StartTime:      result.StartTime,
		EndTime:        result.EndTime,
		StatusCode:     result.Status,
	}, nil
}

// getStreamResult is the raw RPC response for stream_get.
type getStreamResult struct {
	Sender         string `json:"sender"`
	Recipient      string `json:"recipient"`
	TokenAddress   string `json:"tokenAddress"`
	TotalAmount    string `json:"totalAmount"`
	StreamedAmount string `json:"streamedAmount"`
	StartTime      int64  `json:"startTime"`
	EndTime        int64  `json:"endTime"`
	Status         int    `json:"status"`
}

// GetMilestone retrieves a single milestone by stream id and index.
func (c *HTTPClient) GetMilestone(ctx context.Context, id string, index int) (*RawMilestone, error) {
	var result getMilestoneResult
	if err := c.call(ctx, "stream_getMilestone", []interface{}{id, index}, &result); err != nil {
		return nil, err
	}
	return &RawMilestone{
		Percentage:  result.Percentage,
		Description: result.Description,
		Released:    result.Released,
	}, nil
}

// getMilestoneResult is the raw RPC response for stream_getMilestone.
type getMilestoneResult struct {
	Percentage  uint8  `json:"percentage"`
	Description string `json:"description"`
	Released    bool   `json:"released"`
}

// GetMilestoneCount retrieves the number of milestones for a stream.
func (c *HTTPClient) GetMilestoneCount(ctx context.Context, id string) (int, error) {
	var result int
	if err := c.call(ctx, "stream_getMilestoneCount", []interface{}{id}, &result); err != nil {
		return 0, err
	}
	return result, nil
}

// GetCreationEvents retrieves StreamCreated events over [fromBlock, toBlock].
func (c *HTTPClient) GetCreationEvents(ctx context.Context, fromBlock, toBlock int64) ([]CreationEvent, error) {
	params := []interface{}{
		map[string]interface{}{
			"fromBlock": fromBlock,
			"toBlock":   toBlock,
		},
	}

	var result []creationEventResult
	if err := c.call(ctx, "stream_getCreationEvents", params, &result); err != nil {
		return nil, err
	}

	events := make([]CreationEvent, len(result))
	for i, r := range result {
		events[i] = CreationEvent{
			StreamID:  r.StreamID,
			Sender:    r.Sender,
			Recipient: r.Recipient,
			Block:     r.Block,
			TxID:      r.TxID,
		}
	}
	return events, nil
}

// creationEventResult is the raw RPC response item for stream_getCreationEvents.
type creationEventResult struct {
	StreamID  string `json:"streamId"`
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Block     int64  `json:"block"`
	TxID      string `json:"txId"`
}

// GetBlockHeight retrieves the current block height.
func (c *HTTPClient) GetBlockHeight(ctx context.Context) (int64, error) {
	var result int64
	if err := c.call(ctx, "chain_blockHeight", nil, &result); err != nil {
		return 0, err
	}
	return result, nil
}

// SimulateCall dry-runs a call against current chain state.
// A contract revert is returned as *RevertError.
func (c *HTTPClient) SimulateCall(ctx context.Context, call Call) error {
	var result simulateResult
	if err := c.call(ctx, "call_simulate", []interface{}{callParam(call)}, &result); err != nil {
		return err
	}
	if result.Reverted {
		return &RevertError{Reason: result.Reason}
	}
	return nil
}

// simulateResult is the raw RPC response for call_simulate.
type simulateResult struct {
	Reverted bool   `json:"reverted"`
	Reason   string `json:"reason"`
}

// SubmitCall sends the transaction and returns a pending tx id.
func (c *HTTPClient) SubmitCall(ctx context.Context, call Call) (string, error) {
	var txID string
	if err := c.call(ctx, "call_submit", []interface{}{callParam(call)}, &txID); err != nil {
		return "", err
	}
	return txID, nil
}

// callParam encodes a Call as the RPC parameter object.
func callParam(call Call) map[string]interface{} {
	return map[string]interface{}{
		"from":     call.From,
		"contract": call.Contract,
		"method":   call.Method,
		"args":     call.Args,
	}
}

// WaitReceipt polls for the receipt until the transaction is included.
func (c *HTTPClient) WaitReceipt(ctx context.Context, txID string) (*Receipt, error) {
	deadline := time.Now().Add(c.receiptLimit)

	for {
		var result *receiptResult
		if err := c.call(ctx, "call_getReceipt", []interface{}{txID}, &result); err != nil {
			return nil, err
		}

		if result != nil {
			receipt := &Receipt{
				TxID:   txID,
				Block:  result.Block,
				Status: result.Status,
			}
			for _, l := range result.Logs {
				receipt.Logs = append(receipt.Logs, EventLog{
					Name:       l.Name,
					Attributes: l.Attributes,
				})
			}
			return receipt, nil
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("receipt not found for %s after %v", txID, c.receiptLimit)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.receiptPoll):
		}
	}
}

// receiptResult is the raw RPC response for call_getReceipt.
type receiptResult struct {
	Block  int64             `json:"block"`
	Status int               `json:"status"`
	Logs   []receiptLogEntry `json:"logs"`
}

type receiptLogEntry struct {
	Name       string            `json:"name"`
	Attributes map[string]string `json:"attributes"`
}

// Allowance retrieves the spender allowance granted by owner.
func (c *HTTPClient) Allowance(ctx context.Context, token, owner, spender string) (decimal.Decimal, error) {
	var result string
	if err := c.call(ctx, "token_allowance", []interface{}{token, owner, spender}, &result); err != nil {
		return decimal.Zero, err
	}

	allowance, err := decimal.NewFromString(result)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse allowance: %w", err)
	}
	return allowance, nil
}

// SymbolOf retrieves the token symbol for a token address.
func (c *HTTPClient) SymbolOf(ctx context.Context, token string) (string, error) {
	var result string
	if err := c.call(ctx, "token_symbol", []interface{}{token}, &result); err != nil {
		return "", err
	}
	return result, nil
}
