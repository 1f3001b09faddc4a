package execution

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	clierr "github.com/ggonzalez94/solagent/internal/errors"
	"github.com/ggonzalez94/solagent/internal/logging"
	"github.com/ggonzalez94/solagent/internal/risk"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	store, err := OpenStore(filepath.Join(dir, "journal.db"), filepath.Join(dir, "journal.lock"))
	if err != nil {
		t.Fatalf("OpenStore failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStoreRecordGetList(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	entries := []JournalEntry{
		{ExecutionID: "exec_a", Mode: ModeAuto, Executed: true, Success: true, Signature: "sigA", Attempts: 1, CreatedAt: base},
		{ExecutionID: "exec_b", Mode: ModeAdvisory, ErrorCode: "advisory", Attempts: 1, CreatedAt: base.Add(time.Minute)},
		{ExecutionID: "exec_c", Mode: ModeAuto, Executed: true, ErrorCode: "on_chain_failure", Attempts: 1, CreatedAt: base.Add(2 * time.Minute),
			Action: &risk.ProposedAction{Type: risk.ActionTransfer, Protocol: "system", Amount: 10}},
	}
	for _, e := range entries {
		if err := store.Record(ctx, e); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	got, err := store.Get(ctx, "exec_c")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Action == nil || got.Action.Type != risk.ActionTransfer || got.ErrorCode != "on_chain_failure" {
		t.Fatalf("unexpected entry: %+v", got)
	}

	all, err := store.List(ctx, ListFilter{Limit: 10})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 3 || all[0].ExecutionID != "exec_c" || all[2].ExecutionID != "exec_a" {
		t.Fatalf("expected newest first, got %+v", all)
	}

	executed, err := store.List(ctx, ListFilter{ExecutedOnly: true, FailedOnly: true})
	if err != nil {
		t.Fatalf("List filtered failed: %v", err)
	}
	if len(executed) != 1 || executed[0].ExecutionID != "exec_c" {
		t.Fatalf("unexpected filtered list: %+v", executed)
	}

	limited, err := store.List(ctx, ListFilter{Limit: 1})
	if err != nil {
		t.Fatalf("List limited failed: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("expected one entry, got %d", len(limited))
	}
}

func TestStoreRecordReplacesEntry(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	entry := JournalEntry{ExecutionID: "exec_x", Attempts: 1}
	if err := store.Record(ctx, entry); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	entry.Success = true
	entry.Attempts = 2
	if err := store.Record(ctx, entry); err != nil {
		t.Fatalf("Record update failed: %v", err)
	}
	got, err := store.Get(ctx, "exec_x")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !got.Success || got.Attempts != 2 {
		t.Fatalf("expected updated entry, got %+v", got)
	}
	if err := store.Record(ctx, JournalEntry{}); err == nil {
		t.Fatal("expected missing id error")
	}
}

func TestStoreGetMissingExecution(t *testing.T) {
	store := openTestStore(t)
	_, err := store.Get(context.Background(), "missing")
	if clierr.CodeOf(err) != clierr.CodeUsage {
		t.Fatalf("expected usage error, got %v", err)
	}
}

func TestStoreBreakerState(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if _, ok, err := store.LoadBreakerState(ctx); err != nil || ok {
		t.Fatalf("expected no state, got ok=%v err=%v", ok, err)
	}
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	_, err := store.UpdateBreakerState(ctx, func(st *risk.BreakerState, found bool) bool {
		if found {
			t.Fatal("expected empty row on first update")
		}
		*st = risk.BreakerState{IsActive: true, DailyLossFiat: 42, FailedTxCount: 2, Reason: "daily loss limit reached", Day: day, StartOfDayValue: 800}
		return true
	})
	if err != nil {
		t.Fatalf("UpdateBreakerState failed: %v", err)
	}
	updated, err := store.UpdateBreakerState(ctx, func(st *risk.BreakerState, found bool) bool {
		st.FailedTxCount++
		return found
	})
	if err != nil || updated.FailedTxCount != 3 {
		t.Fatalf("increment failed: state=%+v err=%v", updated, err)
	}
	// An update that reports no change leaves the row alone.
	if _, err := store.UpdateBreakerState(ctx, func(st *risk.BreakerState, _ bool) bool {
		st.FailedTxCount = 99
		return false
	}); err != nil {
		t.Fatalf("no-op update failed: %v", err)
	}
	got, ok, err := store.LoadBreakerState(ctx)
	if err != nil || !ok {
		t.Fatalf("LoadBreakerState failed: ok=%v err=%v", ok, err)
	}
	if !got.IsActive || got.FailedTxCount != 3 || got.DailyLossFiat != 42 || !got.Day.Equal(day) {
		t.Fatalf("unexpected breaker state: %+v", got)
	}
}

// openSharedStore opens another handle on the same journal, the way a
// second CLI process would.
func openSharedStore(t *testing.T, dir string) *Store {
	t.Helper()
	store, err := OpenStore(filepath.Join(dir, "journal.db"), filepath.Join(dir, "journal.lock"))
	if err != nil {
		t.Fatalf("OpenStore failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newStoreManager(t *testing.T, store *Store) *risk.Manager {
	t.Helper()
	m, err := risk.NewManager(risk.DefaultLimits(),
		risk.WithStateStore(store),
		risk.WithLogger(logging.Discard()),
		risk.WithAuditLogger(logging.Discard()),
	)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	if err := m.Load(context.Background()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	return m
}

type storeOutcome bool

func (o storeOutcome) Succeeded() bool { return bool(o) }

func TestStoreBreakerTripSurvivesOtherProcessSuccess(t *testing.T) {
	dir := t.TempDir()
	a := newStoreManager(t, openSharedStore(t, dir))
	b := newStoreManager(t, openSharedStore(t, dir))

	for i := 0; i < risk.MaxConsecutiveFailures; i++ {
		b.RecordExecution(storeOutcome(false), 0, 0)
	}
	if !b.IsTripped() {
		t.Fatal("expected b to trip after consecutive failures")
	}
	if !a.IsTripped() {
		t.Fatal("a must observe the trip recorded through another handle")
	}

	a.RecordExecution(storeOutcome(true), 0, 0)
	fresh := newStoreManager(t, openSharedStore(t, dir))
	state := fresh.CircuitBreakerState()
	if !state.IsActive || state.FailedTxCount != 0 {
		t.Fatalf("success must reset the streak but keep the trip: %+v", state)
	}

	if err := fresh.ResetCircuitBreaker("alice", 0); err != nil {
		t.Fatalf("ResetCircuitBreaker failed: %v", err)
	}
	if a.IsTripped() || b.IsTripped() {
		t.Fatal("operator reset must be visible to every handle")
	}
}

func TestStoreBreakerFailuresAcrossProcesses(t *testing.T) {
	dir := t.TempDir()
	managers := make([]*risk.Manager, risk.MaxConsecutiveFailures)
	for i := range managers {
		managers[i] = newStoreManager(t, openSharedStore(t, dir))
	}

	var wg sync.WaitGroup
	for _, m := range managers {
		wg.Add(1)
		go func(m *risk.Manager) {
			defer wg.Done()
			m.RecordExecution(storeOutcome(false), 0, 0)
		}(m)
	}
	wg.Wait()

	state := newStoreManager(t, openSharedStore(t, dir)).CircuitBreakerState()
	if state.FailedTxCount != risk.MaxConsecutiveFailures || !state.IsActive {
		t.Fatalf("expected %d failures and a trip, got %+v", risk.MaxConsecutiveFailures, state)
	}
}

func TestExecuteRereadsBreakerBeforeSending(t *testing.T) {
	dir := t.TempDir()
	guard := newStoreManager(t, openSharedStore(t, dir))
	other := newStoreManager(t, openSharedStore(t, dir))

	client := newFakeLedger()
	engine := newTestEngine(t, client, WithBreakerGuard(guard))
	engine.OnStateChange(func(st State) {
		if st.Phase == PhaseSimulating {
			for i := 0; i < risk.MaxConsecutiveFailures; i++ {
				other.RecordExecution(storeOutcome(false), 0, 0)
			}
		}
	})

	s := testSigner(t)
	res := engine.Execute(context.Background(), Request{Instructions: transferInstructions(s.PublicKey()), Signer: s})
	if res.Success || res.ErrorCode != clierr.CodeCircuitBreaker.String() {
		t.Fatalf("expected breaker rejection, got %+v", res)
	}
	if len(client.sends()) != 0 {
		t.Fatal("a trip recorded by another process must stop the send")
	}
}

func TestOpenStoreConcurrently(t *testing.T) {
	dir := t.TempDir()
	const workers = 8

	var wg sync.WaitGroup
	errCh := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			store, err := OpenStore(filepath.Join(dir, "journal.db"), filepath.Join(dir, "journal.lock"))
			if err != nil {
				errCh <- fmt.Errorf("worker %d open: %w", worker, err)
				return
			}
			defer store.Close()
			entry := JournalEntry{ExecutionID: fmt.Sprintf("exec_%d", worker), Mode: ModeAuto, Attempts: 1}
			if err := store.Record(context.Background(), entry); err != nil {
				errCh <- fmt.Errorf("worker %d record: %w", worker, err)
			}
		}(i)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatal(err)
	}

	entries, err := openSharedStore(t, dir).List(context.Background(), ListFilter{Limit: workers * 2})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(entries) != workers {
		t.Fatalf("expected %d entries, got %d", workers, len(entries))
	}
}

func TestStoreLimitOverrides(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	got, err := store.LoadLimitOverrides(ctx)
	if err != nil || !got.IsEmpty() {
		t.Fatalf("expected empty overrides, got %+v err=%v", got, err)
	}
	slippage := 75
	reserve := 0.5
	if err := store.SaveLimitOverrides(ctx, risk.LimitsUpdate{MaxSlippageBps: &slippage}); err != nil {
		t.Fatalf("SaveLimitOverrides failed: %v", err)
	}
	got, err = store.LoadLimitOverrides(ctx)
	if err != nil {
		t.Fatalf("LoadLimitOverrides failed: %v", err)
	}
	merged := got.Overlay(risk.LimitsUpdate{MinReserve: &reserve})
	if err := store.SaveLimitOverrides(ctx, merged); err != nil {
		t.Fatalf("SaveLimitOverrides failed: %v", err)
	}
	got, err = store.LoadLimitOverrides(ctx)
	if err != nil {
		t.Fatalf("LoadLimitOverrides failed: %v", err)
	}
	if got.MaxSlippageBps == nil || *got.MaxSlippageBps != 75 || got.MinReserve == nil || *got.MinReserve != 0.5 {
		t.Fatalf("unexpected overrides: %+v", got)
	}
	if got.MaxDailyLossPct != nil {
		t.Fatalf("unset field should stay nil: %+v", got)
	}
}
