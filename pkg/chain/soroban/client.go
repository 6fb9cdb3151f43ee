// Package soroban implements the chain capabilities against a Soroban RPC
// node: deposit-event reads and admin-signed contract submissions.
package soroban

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/lumendark/lumendark/pkg/chain"
)

// Client is a minimal JSON-RPC 2.0 client for the Soroban RPC methods the
// pool needs. It also implements chain.EventSource by decoding contract
// events into deposits.
type Client struct {
	rpcURL     string
	contractID string
	httpClient *http.Client
	requestID  atomic.Uint64
	log        *zap.SugaredLogger
}

func NewClient(rpcURL, contractID string, log *zap.SugaredLogger) *Client {
	return &Client{
		rpcURL:     rpcURL,
		contractID: contractID,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        log,
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

// call performs one JSON-RPC round trip, decoding the result into out.
func (c *Client) call(ctx context.Context, method string, params, out any) error {
	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.requestID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s response: %w", method, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: http %d: %s", method, resp.StatusCode, body)
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("%s: rpc error %d: %s", method, rpcResp.Error.Code, rpcResp.Error.Message)
	}
	if out != nil {
		if err := json.Unmarshal(rpcResp.Result, out); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
	}
	return nil
}

// LatestLedger returns the latest ledger sequence known to the RPC node.
func (c *Client) LatestLedger(ctx context.Context) (uint32, error) {
	var result struct {
		Sequence uint32 `json:"sequence"`
	}
	if err := c.call(ctx, "getLatestLedger", nil, &result); err != nil {
		return 0, err
	}
	return result.Sequence, nil
}

// ContractEvent is a raw contract event as returned by getEvents. Topics
// and value are base64-encoded ScVal XDR.
type ContractEvent struct {
	ID     string   `json:"id"`
	Ledger uint32   `json:"ledger"`
	TxHash string   `json:"txHash"`
	Topics []string `json:"topic"`
	Value  string   `json:"value"`
}

// Events returns raw events emitted by the escrow contract from
// startLedger onward.
func (c *Client) Events(ctx context.Context, startLedger uint32, limit int) ([]ContractEvent, error) {
	params := map[string]any{
		"startLedger": startLedger,
		"filters": []map[string]any{
			{"type": "contract", "contractIds": []string{c.contractID}},
		},
		"pagination": map[string]any{"limit": limit},
	}
	var result struct {
		Events []ContractEvent `json:"events"`
	}
	if err := c.call(ctx, "getEvents", params, &result); err != nil {
		return nil, err
	}
	return result.Events, nil
}

// DepositEvents implements chain.EventSource. Events that do not decode as
// deposits are skipped.
func (c *Client) DepositEvents(ctx context.Context, startLedger uint32, limit int) ([]chain.Deposit, error) {
	events, err := c.Events(ctx, startLedger, limit)
	if err != nil {
		return nil, err
	}
	var deposits []chain.Deposit
	for _, ev := range events {
		d, ok := DecodeDepositEvent(ev)
		if !ok {
			continue
		}
		deposits = append(deposits, d)
	}
	return deposits, nil
}

type simulateResult struct {
	TransactionData string `json:"transactionData"`
	MinResourceFee  string `json:"minResourceFee"`
	Error           string `json:"error"`
	Results         []struct {
		XDR  string   `json:"xdr"`
		Auth []string `json:"auth"`
	} `json:"results"`
}

// SimulateTransaction preflights a base64 transaction envelope.
func (c *Client) SimulateTransaction(ctx context.Context, envelopeB64 string) (*simulateResult, error) {
	var result simulateResult
	if err := c.call(ctx, "simulateTransaction", map[string]any{"transaction": envelopeB64}, &result); err != nil {
		return nil, err
	}
	if result.Error != "" {
		return nil, fmt.Errorf("simulation failed: %s", result.Error)
	}
	return &result, nil
}

// SendTransaction submits a signed base64 envelope and returns its hash.
func (c *Client) SendTransaction(ctx context.Context, envelopeB64 string) (string, error) {
	var result struct {
		Status        string `json:"status"`
		Hash          string `json:"hash"`
		ErrorResult   string `json:"errorResultXdr"`
		LatestLedger  uint32 `json:"latestLedger"`
		DiagnosticXDR string `json:"diagnosticEventsXdr"`
	}
	if err := c.call(ctx, "sendTransaction", map[string]any{"transaction": envelopeB64}, &result); err != nil {
		return "", err
	}
	if result.Status == "ERROR" {
		return "", fmt.Errorf("transaction rejected: %s", result.ErrorResult)
	}
	return result.Hash, nil
}

// TransactionStatus polls a submitted transaction. Returns one of
// NOT_FOUND, SUCCESS, or FAILED.
func (c *Client) TransactionStatus(ctx context.Context, hash string) (string, error) {
	var result struct {
		Status string `json:"status"`
	}
	if err := c.call(ctx, "getTransaction", map[string]any{"hash": hash}, &result); err != nil {
		return "", err
	}
	return result.Status, nil
}

// LedgerEntry fetches one ledger entry by base64 key.
func (c *Client) LedgerEntry(ctx context.Context, keyB64 string) (string, error) {
	var result struct {
		Entries []struct {
			XDR string `json:"xdr"`
		} `json:"entries"`
	}
	if err := c.call(ctx, "getLedgerEntries", map[string]any{"keys": []string{keyB64}}, &result); err != nil {
		return "", err
	}
	if len(result.Entries) == 0 {
		return "", fmt.Errorf("ledger entry not found")
	}
	return result.Entries[0].XDR, nil
}
