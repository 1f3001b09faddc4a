// Package rpcclient implements ledger.Client over the node's JSON-RPC API.
package rpcclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"golang.org/x/time/rate"

	"github.com/ggonzalez94/solagent/internal/ledger"
)

// Config describes how to reach the node.
type Config struct {
	URL string
	// RequestsPerSecond caps outgoing calls; zero disables limiting.
	RequestsPerSecond float64
	Burst             int
}

// Client implements ledger.Client.
type Client struct {
	rpc     *gethrpc.Client
	limiter *rate.Limiter
	mu      sync.Mutex
}

var _ ledger.Client = (*Client)(nil)

// Dial connects to the configured endpoint.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, errors.New("missing rpc url")
	}
	rpcClient, err := gethrpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial rpc %s: %w", url, err)
	}
	return New(rpcClient, cfg), nil
}

// New wraps an existing JSON-RPC client.
func New(rpcClient *gethrpc.Client, cfg Config) *Client {
	c := &Client{rpc: rpcClient}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return c
}

func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rpc != nil {
		c.rpc.Close()
		c.rpc = nil
	}
}

func (c *Client) call(ctx context.Context, out any, method string, args ...any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%s: %w", method, err)
		}
	}
	c.mu.Lock()
	rpcClient := c.rpc
	c.mu.Unlock()
	if rpcClient == nil {
		return fmt.Errorf("%s: client closed", method)
	}
	if err := rpcClient.CallContext(ctx, out, method, args...); err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	return nil
}

type commitmentConfig struct {
	Commitment ledger.Commitment `json:"commitment,omitempty"`
}

func (c *Client) LatestTimeBound(ctx context.Context, commitment ledger.Commitment) (ledger.TimeBound, error) {
	var resp struct {
		Value struct {
			Blockhash            string `json:"blockhash"`
			LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
		} `json:"value"`
	}
	if err := c.call(ctx, &resp, "getLatestBlockhash", commitmentConfig{commitment}); err != nil {
		return ledger.TimeBound{}, err
	}
	hash, err := ledger.ParseHash(resp.Value.Blockhash)
	if err != nil {
		return ledger.TimeBound{}, fmt.Errorf("getLatestBlockhash: %w", err)
	}
	return ledger.TimeBound{Blockhash: hash, LastValidBlockHeight: resp.Value.LastValidBlockHeight}, nil
}

func (c *Client) SendTransaction(ctx context.Context, tx ledger.SignedTx, opts ledger.SendOptions) (ledger.Signature, error) {
	cfg := map[string]any{
		"encoding":      "base64",
		"skipPreflight": opts.SkipPreflight,
		// Rebroadcast is owned by the caller's retry loop.
		"maxRetries": 0,
	}
	if opts.PreflightCommitment != "" {
		cfg["preflightCommitment"] = opts.PreflightCommitment
	}
	var sig string
	if err := c.call(ctx, &sig, "sendTransaction", tx.Base64(), cfg); err != nil {
		return ledger.Signature{}, err
	}
	parsed, err := ledger.ParseSignature(sig)
	if err != nil {
		return ledger.Signature{}, fmt.Errorf("sendTransaction: %w", err)
	}
	return parsed, nil
}

func (c *Client) SimulateTransaction(ctx context.Context, tx ledger.SignedTx, commitment ledger.Commitment) (ledger.SimulationResult, error) {
	cfg := map[string]any{
		"encoding":   "base64",
		"sigVerify":  false,
		"commitment": commitment,
	}
	var resp struct {
		Value struct {
			Err           json.RawMessage `json:"err"`
			Logs          []string        `json:"logs"`
			UnitsConsumed uint64          `json:"unitsConsumed"`
		} `json:"value"`
	}
	if err := c.call(ctx, &resp, "simulateTransaction", tx.Base64(), cfg); err != nil {
		return ledger.SimulationResult{}, err
	}
	return ledger.SimulationResult{
		Err:           rawErr(resp.Value.Err),
		Logs:          resp.Value.Logs,
		UnitsConsumed: resp.Value.UnitsConsumed,
	}, nil
}

func (c *Client) SignatureStatus(ctx context.Context, sig ledger.Signature) (*ledger.SignatureStatus, error) {
	var resp struct {
		Value []*struct {
			Slot               uint64          `json:"slot"`
			Confirmations      *uint64         `json:"confirmations"`
			Err                json.RawMessage `json:"err"`
			ConfirmationStatus string          `json:"confirmationStatus"`
		} `json:"value"`
	}
	cfg := map[string]any{"searchTransactionHistory": true}
	if err := c.call(ctx, &resp, "getSignatureStatuses", []string{sig.String()}, cfg); err != nil {
		return nil, err
	}
	if len(resp.Value) == 0 || resp.Value[0] == nil {
		return nil, nil
	}
	v := resp.Value[0]
	return &ledger.SignatureStatus{
		Slot:               v.Slot,
		Confirmations:      v.Confirmations,
		Err:                rawErr(v.Err),
		ConfirmationStatus: ledger.Commitment(v.ConfirmationStatus),
	}, nil
}

func (c *Client) BlockHeight(ctx context.Context, commitment ledger.Commitment) (uint64, error) {
	var height uint64
	if err := c.call(ctx, &height, "getBlockHeight", commitmentConfig{commitment}); err != nil {
		return 0, err
	}
	return height, nil
}

func (c *Client) Transaction(ctx context.Context, sig ledger.Signature, commitment ledger.Commitment) (*ledger.TransactionMeta, error) {
	cfg := map[string]any{
		"encoding":                       "json",
		"commitment":                     commitment,
		"maxSupportedTransactionVersion": 0,
	}
	var resp *struct {
		Slot      uint64 `json:"slot"`
		BlockTime *int64 `json:"blockTime"`
		Meta      *struct {
			Err                  json.RawMessage `json:"err"`
			Fee                  uint64          `json:"fee"`
			ComputeUnitsConsumed *uint64         `json:"computeUnitsConsumed"`
		} `json:"meta"`
	}
	if err := c.call(ctx, &resp, "getTransaction", sig.String(), cfg); err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, nil
	}
	meta := &ledger.TransactionMeta{Slot: resp.Slot}
	if resp.BlockTime != nil {
		meta.BlockTime = *resp.BlockTime
	}
	if resp.Meta != nil {
		meta.Fee = resp.Meta.Fee
		meta.Err = rawErr(resp.Meta.Err)
		if resp.Meta.ComputeUnitsConsumed != nil {
			meta.ComputeUnitsConsumed = *resp.Meta.ComputeUnitsConsumed
		}
	}
	return meta, nil
}

func (c *Client) Balance(ctx context.Context, account ledger.PublicKey, commitment ledger.Commitment) (uint64, error) {
	var resp struct {
		Value uint64 `json:"value"`
	}
	if err := c.call(ctx, &resp, "getBalance", account.String(), commitmentConfig{commitment}); err != nil {
		return 0, err
	}
	return resp.Value, nil
}

// rawErr renders a node error object as compact JSON, or "" for null.
func rawErr(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		return s
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		return string(trimmed)
	}
	return buf.String()
}
