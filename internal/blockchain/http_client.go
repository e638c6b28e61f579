package blockchain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
)

var ErrRPC = errors.New("blockchain rpc error")

// HTTPClient speaks a small JSON-RPC dialect to the lookup service.
type HTTPClient struct {
	url    string
	http   *http.Client
	nextID atomic.Int64
}

func NewHTTPClient(url string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		url:  strings.TrimRight(url, "/"),
		http: &http.Client{Timeout: timeout},
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func (c *HTTPClient) GetBalance(ctx context.Context, address, token string) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := c.call(ctx, "get_balance", map[string]string{"address": address, "token": token}, &balance)
	return balance, err
}

func (c *HTTPClient) GetIncomingTransfers(ctx context.Context, address, token string, fromBlock, toBlock int64) ([]Transfer, error) {
	if toBlock < fromBlock {
		return nil, nil
	}
	var transfers []Transfer
	err := c.call(ctx, "get_incoming_transfers", map[string]any{
		"address":    address,
		"token":      token,
		"from_block": fromBlock,
		"to_block":   toBlock,
	}, &transfers)
	return transfers, err
}

func (c *HTTPClient) LatestBlock(ctx context.Context) (int64, error) {
	var block int64
	err := c.call(ctx, "latest_block", struct{}{}, &block)
	return block, err
}

func (c *HTTPClient) call(ctx context.Context, method string, params, result any) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: %w: http status %d", method, ErrRPC, resp.StatusCode)
	}
	var decoded rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return fmt.Errorf("%s: decode response: %w", method, err)
	}
	if decoded.Error != nil {
		return fmt.Errorf("%s: %w: %d %s", method, ErrRPC, decoded.Error.Code, decoded.Error.Message)
	}
	if len(decoded.Result) == 0 || string(decoded.Result) == "null" {
		return fmt.Errorf("%s: %w: empty result", method, ErrRPC)
	}
	return json.Unmarshal(decoded.Result, result)
}
