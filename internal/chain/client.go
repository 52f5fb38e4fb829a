package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/0xc0d3d00d/swapcandles/internal/domain"
	"github.com/0xc0d3d00d/swapcandles/internal/retry"
)

const DefaultTimeout = 30 * time.Second

// Client is a minimal Ethereum JSON-RPC 2.0 client over HTTP. It does not
// retry; callers wrap it in a retry.Caller.
type Client struct {
	endpoint  string
	client    *http.Client
	requestID atomic.Uint64
}

type ClientOption func(*Client)

func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.client.Timeout = d
	}
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.client = client
	}
}

func NewClient(endpoint string, opts ...ClientOption) *Client {
	c := &Client{
		endpoint: endpoint,
		client:   &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// call performs one JSON-RPC round trip. Transport failures, throttling and
// bad gateway responses are ErrTransientFetch; JSON-RPC error objects are
// permanent.
func (c *Client) call(ctx context.Context, method string, params []any, result any) error {
	if params == nil {
		params = []any{}
	}
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.requestID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", domain.ErrTransientFetch, method, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read %s response: %w", domain.ErrTransientFetch, method, err)
	}

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("%w: %s: unexpected status %d: %s", domain.ErrTransientFetch, method, resp.StatusCode, respBody)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
			return err
		}
		return retry.Permanent(err)
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return fmt.Errorf("%w: unmarshal %s response: %w", domain.ErrTransientFetch, method, err)
	}

	if rpcResp.Error != nil {
		return retry.Permanent(fmt.Errorf("%s: %w", method, rpcResp.Error))
	}

	if result != nil && rpcResp.Result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return retry.Permanent(fmt.Errorf("unmarshal %s result: %w", method, err))
		}
	}

	return nil
}

// BlockNumber returns the latest block height.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	var result hexUint64
	if err := c.call(ctx, "eth_blockNumber", nil, &result); err != nil {
		return 0, err
	}
	return uint64(result), nil
}

// BlockTimestamp returns the header timestamp of block number.
func (c *Client) BlockTimestamp(ctx context.Context, number uint64) (time.Time, error) {
	var result *struct {
		Timestamp hexUint64 `json:"timestamp"`
	}
	if err := c.call(ctx, "eth_getBlockByNumber", []any{encodeUint64(number), false}, &result); err != nil {
		return time.Time{}, err
	}
	if result == nil {
		return time.Time{}, fmt.Errorf("%w: block %d not found", domain.ErrTransientFetch, number)
	}
	return time.Unix(int64(result.Timestamp), 0).UTC(), nil
}

type LogFilter struct {
	Address   string
	Topic     string
	FromBlock uint64
	ToBlock   uint64
}

type Log struct {
	Address     string    `json:"address"`
	Topics      []string  `json:"topics"`
	Data        string    `json:"data"`
	BlockNumber hexUint64 `json:"blockNumber"`
	LogIndex    hexUint64 `json:"logIndex"`
	TxHash      string    `json:"transactionHash"`
	Removed     bool      `json:"removed"`
}

// GetLogs runs eth_getLogs for a single address and topic0.
func (c *Client) GetLogs(ctx context.Context, filter LogFilter) ([]Log, error) {
	params := []any{map[string]any{
		"address":   filter.Address,
		"topics":    []string{filter.Topic},
		"fromBlock": encodeUint64(filter.FromBlock),
		"toBlock":   encodeUint64(filter.ToBlock),
	}}

	var logs []Log
	if err := c.call(ctx, "eth_getLogs", params, &logs); err != nil {
		return nil, err
	}
	return logs, nil
}
