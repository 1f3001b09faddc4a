package execution

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ggonzalez94/solagent/internal/ledger"
)

const timeBoundFetchTimeout = 15 * time.Second

// Builder turns instructions into signable transactions against a fresh
// time-bound.
type Builder struct {
	client     ledger.Client
	commitment ledger.Commitment
	group      singleflight.Group
}

func NewBuilder(client ledger.Client, commitment ledger.Commitment) *Builder {
	if commitment == "" {
		commitment = ledger.CommitmentConfirmed
	}
	return &Builder{client: client, commitment: commitment}
}

// TimeBound fetches the latest time-bound. Concurrent callers share one
// request.
func (b *Builder) TimeBound(ctx context.Context) (ledger.TimeBound, error) {
	ch := b.group.DoChan(string(b.commitment), func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeBoundFetchTimeout)
		defer cancel()
		return b.client.LatestTimeBound(fetchCtx, b.commitment)
	})
	select {
	case <-ctx.Done():
		return ledger.TimeBound{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return ledger.TimeBound{}, res.Err
		}
		tb := res.Val.(ledger.TimeBound)
		if tb.IsZero() {
			return ledger.TimeBound{}, errors.New("node returned an empty blockhash")
		}
		return tb, nil
	}
}

// Build prepends the compute budget instructions unless the caller already
// supplied their own.
func (b *Builder) Build(ctx context.Context, feePayer ledger.PublicKey, instructions []ledger.Instruction, budget Budget) (ledger.UnsignedTx, error) {
	if len(instructions) == 0 {
		return ledger.UnsignedTx{}, &BuildError{Err: errors.New("no instructions")}
	}
	if feePayer.IsZero() {
		return ledger.UnsignedTx{}, &BuildError{Err: errors.New("missing fee payer")}
	}
	tb, err := b.TimeBound(ctx)
	if err != nil {
		return ledger.UnsignedTx{}, &BuildError{Err: err}
	}
	return ledger.NewUnsignedTx(feePayer, withComputeBudget(instructions, budget), tb), nil
}

// Refresh commits a pre-built transaction to a new time-bound. The
// instructions are not altered and the result must be signed again.
func (b *Builder) Refresh(ctx context.Context, tx ledger.UnsignedTx) (ledger.UnsignedTx, error) {
	if len(tx.Instructions) == 0 {
		return ledger.UnsignedTx{}, &BuildError{Err: errors.New("no instructions")}
	}
	tb, err := b.TimeBound(ctx)
	if err != nil {
		return ledger.UnsignedTx{}, &BuildError{Err: err}
	}
	return tx.WithTimeBound(tb), nil
}

type SimulationResult struct {
	Success       bool     `json:"success"`
	UnitsConsumed uint64   `json:"units_consumed"`
	Err           string   `json:"error,omitempty"`
	Logs          []string `json:"logs,omitempty"`
}

// Simulate dry-runs tx without broadcasting it.
func (b *Builder) Simulate(ctx context.Context, tx ledger.SignedTx) (SimulationResult, error) {
	res, err := b.client.SimulateTransaction(ctx, tx, b.commitment)
	if err != nil {
		return SimulationResult{}, err
	}
	return SimulationResult{
		Success:       res.Err == "",
		UnitsConsumed: res.UnitsConsumed,
		Err:           res.Err,
		Logs:          res.Logs,
	}, nil
}

func withComputeBudget(instructions []ledger.Instruction, budget Budget) []ledger.Instruction {
	for _, ix := range instructions {
		if ledger.IsComputeBudget(ix) {
			return append([]ledger.Instruction(nil), instructions...)
		}
	}
	out := make([]ledger.Instruction, 0, len(instructions)+2)
	if budget.ComputeUnitLimit > 0 {
		out = append(out, ledger.SetComputeUnitLimit(budget.ComputeUnitLimit))
	}
	if budget.PriorityFeeMicroLamports > 0 {
		out = append(out, ledger.SetComputeUnitPrice(budget.PriorityFeeMicroLamports))
	}
	return append(out, instructions...)
}
