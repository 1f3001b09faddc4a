package ledger

import "context"

type SendOptions struct {
	SkipPreflight       bool
	PreflightCommitment Commitment
}

type SimulationResult struct {
	// Err is the node's description of the failure; empty on success.
	Err           string   `json:"err,omitempty"`
	Logs          []string `json:"logs,omitempty"`
	UnitsConsumed uint64   `json:"units_consumed"`
}

type SignatureStatus struct {
	Slot               uint64     `json:"slot"`
	Confirmations      *uint64    `json:"confirmations,omitempty"`
	Err                string     `json:"err,omitempty"`
	ConfirmationStatus Commitment `json:"confirmation_status"`
}

type TransactionMeta struct {
	Slot                 uint64 `json:"slot"`
	Fee                  uint64 `json:"fee"`
	ComputeUnitsConsumed uint64 `json:"compute_units_consumed"`
	Err                  string `json:"err,omitempty"`
	BlockTime            int64  `json:"block_time,omitempty"`
}

// Client is the ledger capability consumed by the execution pipeline.
type Client interface {
	LatestTimeBound(ctx context.Context, commitment Commitment) (TimeBound, error)
	SendTransaction(ctx context.Context, tx SignedTx, opts SendOptions) (Signature, error)
	SimulateTransaction(ctx context.Context, tx SignedTx, commitment Commitment) (SimulationResult, error)
	// SignatureStatus returns nil when the node has not seen the signature.
	SignatureStatus(ctx context.Context, sig Signature) (*SignatureStatus, error)
	BlockHeight(ctx context.Context, commitment Commitment) (uint64, error)
	// Transaction returns nil when the transaction is not yet available.
	Transaction(ctx context.Context, sig Signature, commitment Commitment) (*TransactionMeta, error)
	Balance(ctx context.Context, account PublicKey, commitment Commitment) (uint64, error)
}
