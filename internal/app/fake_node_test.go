package app

import (
	"context"
	"crypto/ed25519"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/mr-tron/base58"

	execsigner "github.com/ggonzalez94/solagent/internal/execution/signer"
	"github.com/ggonzalez94/solagent/internal/ledger"
	"github.com/ggonzalez94/solagent/internal/ledger/rpcclient"
)

// fakeNode is an in-memory ledger that lands every transaction it is sent.
type fakeNode struct {
	mu      sync.Mutex
	balance uint64
	sent    []ledger.Signature
	landed  map[ledger.Signature]bool
	dialed  string
}

func newFakeNode(balance uint64) *fakeNode {
	return &fakeNode{balance: balance, landed: map[ledger.Signature]bool{}}
}

func (n *fakeNode) dial(_ context.Context, cfg rpcclient.Config) (ledger.Client, func(), error) {
	n.mu.Lock()
	n.dialed = cfg.URL
	n.mu.Unlock()
	return n, func() {}, nil
}

func (n *fakeNode) sends() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

func (n *fakeNode) LatestTimeBound(context.Context, ledger.Commitment) (ledger.TimeBound, error) {
	return ledger.TimeBound{Blockhash: ledger.Hash{9}, LastValidBlockHeight: 1150}, nil
}

func (n *fakeNode) SendTransaction(_ context.Context, tx ledger.SignedTx, _ ledger.SendOptions) (ledger.Signature, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	sig := tx.Signature()
	n.sent = append(n.sent, sig)
	n.landed[sig] = true
	return sig, nil
}

func (n *fakeNode) SimulateTransaction(context.Context, ledger.SignedTx, ledger.Commitment) (ledger.SimulationResult, error) {
	return ledger.SimulationResult{UnitsConsumed: 1500}, nil
}

func (n *fakeNode) SignatureStatus(_ context.Context, sig ledger.Signature) (*ledger.SignatureStatus, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.landed[sig] {
		return nil, nil
	}
	return &ledger.SignatureStatus{Slot: 321, ConfirmationStatus: ledger.CommitmentFinalized}, nil
}

func (n *fakeNode) BlockHeight(context.Context, ledger.Commitment) (uint64, error) {
	return 1000, nil
}

func (n *fakeNode) Transaction(context.Context, ledger.Signature, ledger.Commitment) (*ledger.TransactionMeta, error) {
	return &ledger.TransactionMeta{Slot: 321, Fee: 5000, ComputeUnitsConsumed: 1400}, nil
}

func (n *fakeNode) Balance(context.Context, ledger.PublicKey, ledger.Commitment) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.balance, nil
}

const testConfig = `
log:
  level: error
engine:
  retry_delay: 0s
  poll_interval: 5ms
  confirmation_timeout: 2s
`

// testEnv isolates every path the CLI touches, serves a fixed native price
// and exposes a signing key through the environment.
func testEnv(t *testing.T) {
	t.Helper()
	tmp := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmp, "config"))
	t.Setenv("XDG_CACHE_HOME", filepath.Join(tmp, "cache"))
	t.Setenv("XDG_STATE_HOME", filepath.Join(tmp, "state"))
	t.Setenv(execsigner.EnvPrivateKeyFile, "")

	cfgDir := filepath.Join(tmp, "config", "solagent")
	if err := os.MkdirAll(cfgDir, 0o755); err != nil {
		t.Fatalf("mkdir config: %v", err)
	}
	if err := os.WriteFile(filepath.Join(cfgDir, "config.yaml"), []byte(testConfig), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	prices := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"` + ledger.NativeMint + `":{"usdPrice":100,"decimals":9}}`))
	}))
	t.Cleanup(prices.Close)
	t.Setenv("SOLAGENT_PRICE_URL", prices.URL)

	t.Setenv(execsigner.EnvPrivateKey, base58.Encode(testKey()))
}

func testKey() ed25519.PrivateKey {
	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		seed[i] = byte(i + 1)
	}
	return ed25519.NewKeyFromSeed(seed)
}

// testOwner is the public key of the key exported by testEnv.
func testOwner() ledger.PublicKey {
	var owner ledger.PublicKey
	copy(owner[:], testKey().Public().(ed25519.PublicKey))
	return owner
}
