package execution

import (
	"context"
	"crypto/ed25519"
	"sync"
	"testing"

	"github.com/ggonzalez94/solagent/internal/execution/signer"
	"github.com/ggonzalez94/solagent/internal/ledger"
)

// fakeLedger is a scripted in-memory node.
type fakeLedger struct {
	mu sync.Mutex

	height   uint64
	tbCalls  int
	tbErr    error
	simErr   string
	simCalls int
	sendErrs []error
	sent     []ledger.SignedTx
	// drop makes the first n successful sends never land.
	drop int
	// expireOnDrop advances the chain past the time-bound of a dropped send.
	expireOnDrop bool
	statuses     map[ledger.Signature]*ledger.SignatureStatus
}

var _ ledger.Client = (*fakeLedger)(nil)

func newFakeLedger() *fakeLedger {
	return &fakeLedger{height: 1000, statuses: map[ledger.Signature]*ledger.SignatureStatus{}}
}

func (f *fakeLedger) LatestTimeBound(context.Context, ledger.Commitment) (ledger.TimeBound, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tbErr != nil {
		return ledger.TimeBound{}, f.tbErr
	}
	f.tbCalls++
	return ledger.TimeBound{Blockhash: ledger.Hash{byte(f.tbCalls)}, LastValidBlockHeight: f.height + 150}, nil
}

func (f *fakeLedger) SendTransaction(_ context.Context, tx ledger.SignedTx, _ ledger.SendOptions) (ledger.Signature, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	if len(f.sendErrs) > 0 {
		err := f.sendErrs[0]
		f.sendErrs = f.sendErrs[1:]
		if err != nil {
			return ledger.Signature{}, err
		}
	}
	if f.drop > 0 {
		f.drop--
		if f.expireOnDrop {
			f.height += 500
		}
		return tx.Signature(), nil
	}
	f.statuses[tx.Signature()] = &ledger.SignatureStatus{Slot: 100, ConfirmationStatus: ledger.CommitmentConfirmed}
	return tx.Signature(), nil
}

func (f *fakeLedger) SimulateTransaction(context.Context, ledger.SignedTx, ledger.Commitment) (ledger.SimulationResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.simCalls++
	return ledger.SimulationResult{Err: f.simErr, UnitsConsumed: 1234}, nil
}

func (f *fakeLedger) SignatureStatus(_ context.Context, sig ledger.Signature) (*ledger.SignatureStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	status, ok := f.statuses[sig]
	if !ok {
		return nil, nil
	}
	cp := *status
	return &cp, nil
}

func (f *fakeLedger) BlockHeight(context.Context, ledger.Commitment) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.height, nil
}

func (f *fakeLedger) Transaction(_ context.Context, sig ledger.Signature, _ ledger.Commitment) (*ledger.TransactionMeta, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	status, ok := f.statuses[sig]
	if !ok {
		return nil, nil
	}
	return &ledger.TransactionMeta{Slot: status.Slot, Fee: 5000, ComputeUnitsConsumed: 4200, Err: status.Err}, nil
}

func (f *fakeLedger) Balance(context.Context, ledger.PublicKey, ledger.Commitment) (uint64, error) {
	return 0, nil
}

func (f *fakeLedger) land(sig ledger.Signature, status ledger.SignatureStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[sig] = &status
}

func (f *fakeLedger) sends() []ledger.SignedTx {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ledger.SignedTx(nil), f.sent...)
}

func (f *fakeLedger) timeBoundCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tbCalls
}

func testSigner(t *testing.T) signer.Signer {
	t.Helper()
	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		seed[i] = byte(i + 1)
	}
	s, err := signer.FromPrivateKey(ed25519.NewKeyFromSeed(seed))
	if err != nil {
		t.Fatalf("FromPrivateKey failed: %v", err)
	}
	return s
}

func transferInstructions(from ledger.PublicKey) []ledger.Instruction {
	return []ledger.Instruction{ledger.SystemTransfer(from, ledger.PublicKey{7}, 1_000_000)}
}
