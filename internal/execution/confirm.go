package execution

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ggonzalez94/solagent/internal/ledger"
)

// Confirmation is a landed, successful transaction.
type Confirmation struct {
	Signature    ledger.Signature
	Slot         uint64
	ComputeUnits uint64
	Fee          uint64
}

// Tracker waits for a sent transaction to settle.
type Tracker struct {
	client       ledger.Client
	commitment   ledger.Commitment
	pollInterval time.Duration
	log          *slog.Logger
}

func NewTracker(client ledger.Client, commitment ledger.Commitment, pollInterval time.Duration, log *slog.Logger) *Tracker {
	if commitment == "" {
		commitment = ledger.CommitmentConfirmed
	}
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Tracker{client: client, commitment: commitment, pollInterval: pollInterval, log: log}
}

// WaitForConfirmation polls the signature until it reaches the tracker's
// commitment. The time-bound decides expiry: once the chain passes
// LastValidBlockHeight without the signature landing, it returns
// ErrConfirmationExpired. A landed failure returns *OnChainFailureError and
// running out of time returns ErrConfirmationTimeout.
func (t *Tracker) WaitForConfirmation(ctx context.Context, sig ledger.Signature, tb ledger.TimeBound, timeout time.Duration) (Confirmation, error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	for {
		status, err := t.client.SignatureStatus(waitCtx, sig)
		switch {
		case err != nil:
			// Polling errors are transient until the deadline.
			if waitCtx.Err() == nil {
				t.log.Debug("signature status poll failed", "signature", sig.String(), "error", err)
			}
		case status != nil && status.Err != "":
			return Confirmation{}, &OnChainFailureError{Signature: sig.String(), Detail: status.Err}
		case status != nil && status.ConfirmationStatus.Satisfies(t.commitment):
			return t.settle(ctx, sig, status.Slot), nil
		case status == nil && tb.LastValidBlockHeight > 0:
			height, err := t.client.BlockHeight(waitCtx, t.commitment)
			if err == nil && height > tb.LastValidBlockHeight {
				// One last look: it may have landed between the two calls.
				if again, err := t.client.SignatureStatus(waitCtx, sig); err == nil && again != nil {
					continue
				}
				return Confirmation{}, ErrConfirmationExpired
			}
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				// Already broadcast: the outcome is unknown, not failed.
				return Confirmation{}, fmt.Errorf("%w: %w", ErrConfirmationTimeout, ctx.Err())
			}
			return Confirmation{}, ErrConfirmationTimeout
		case <-ticker.C:
		}
	}
}

// settle fetches slot and compute units. Metadata lookups are best effort;
// the transaction is confirmed either way.
func (t *Tracker) settle(ctx context.Context, sig ledger.Signature, slot uint64) Confirmation {
	conf := Confirmation{Signature: sig, Slot: slot}
	metaCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	meta, err := t.client.Transaction(metaCtx, sig, t.commitment)
	if err != nil || meta == nil {
		if err != nil {
			t.log.Debug("fetch transaction meta failed", "signature", sig.String(), "error", err)
		}
		return conf
	}
	if meta.Slot > 0 {
		conf.Slot = meta.Slot
	}
	conf.ComputeUnits = meta.ComputeUnitsConsumed
	conf.Fee = meta.Fee
	return conf
}

// IsConfirmed reports whether sig landed successfully at the tracker's
// commitment. Used before retrying an ambiguous send.
func (t *Tracker) IsConfirmed(ctx context.Context, sig ledger.Signature) (bool, error) {
	if sig.IsZero() {
		return false, nil
	}
	status, err := t.client.SignatureStatus(ctx, sig)
	if err != nil {
		return false, err
	}
	return status != nil && status.Err == "" && status.ConfirmationStatus.Satisfies(t.commitment), nil
}
