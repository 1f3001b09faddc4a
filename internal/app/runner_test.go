package app

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ggonzalez94/solagent/internal/ledger"
)

const recipient = "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"

func newTestRunner(node *fakeNode) (*Runner, *bytes.Buffer, *bytes.Buffer) {
	var stdout, stderr bytes.Buffer
	r := NewRunnerWithWriters(&stdout, &stderr)
	r.interactive = func() bool { return false }
	if node != nil {
		r.dial = node.dial
	}
	return r, &stdout, &stderr
}

func decodeEnvelope(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var env map[string]any
	if err := json.Unmarshal(buf.Bytes(), &env); err != nil {
		t.Fatalf("failed to parse envelope: %v output=%s", err, buf.String())
	}
	return env
}

func TestTrimRootPath(t *testing.T) {
	if got := trimRootPath("solagent risk breaker status"); got != "risk breaker status" {
		t.Fatalf("unexpected trim result: %s", got)
	}
}

func TestRunnerVersion(t *testing.T) {
	testEnv(t)
	r, stdout, stderr := newTestRunner(nil)
	if code := r.Run([]string{"version"}); code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, stderr.String())
	}
	if strings.TrimSpace(stdout.String()) == "" {
		t.Fatal("expected version output")
	}
}

func TestRunnerSchemaMarksHumanOnly(t *testing.T) {
	testEnv(t)
	r, stdout, stderr := newTestRunner(nil)
	if code := r.Run([]string{"schema", "risk", "breaker", "reset", "--results-only"}); code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, stderr.String())
	}
	var out map[string]any
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		t.Fatalf("parse schema: %v output=%s", err, stdout.String())
	}
	if out["human_only"] != true || out["path"] != "solagent risk breaker reset" {
		t.Fatalf("unexpected schema: %v", out)
	}
}

func TestRunnerErrorEnvelopeIgnoresResultsOnly(t *testing.T) {
	testEnv(t)
	r, _, stderr := newTestRunner(nil)
	code := r.Run([]string{"journal", "list", "--enable-commands", "risk snapshot", "--results-only"})
	if code != 16 {
		t.Fatalf("expected exit 16, got %d stderr=%s", code, stderr.String())
	}
	env := decodeEnvelope(t, stderr)
	if env["success"] != false {
		t.Fatalf("expected success=false, got %v", env["success"])
	}
	errBody := env["error"].(map[string]any)
	if errBody["type"] != "command_blocked" {
		t.Fatalf("unexpected error type: %v", errBody)
	}
}

func TestRunnerUnknownFlagIsUsageError(t *testing.T) {
	testEnv(t)
	r, _, stderr := newTestRunner(nil)
	if code := r.Run([]string{"journal", "list", "--bogus"}); code != 2 {
		t.Fatalf("expected exit 2, got %d stderr=%s", code, stderr.String())
	}
}

func TestRunnerBreakerResetIsHumanOnly(t *testing.T) {
	testEnv(t)
	r, _, stderr := newTestRunner(nil)
	if code := r.Run([]string{"risk", "breaker", "reset"}); code != 16 {
		t.Fatalf("expected blocked reset, got %d stderr=%s", code, stderr.String())
	}

	r, stdout, stderr := newTestRunner(nil)
	if code := r.Run([]string{"risk", "breaker", "reset", "--operator", "alice", "--rebaseline", "500", "--results-only"}); code != 0 {
		t.Fatalf("expected reset to succeed, got %d stderr=%s", code, stderr.String())
	}
	var state map[string]any
	if err := json.Unmarshal(stdout.Bytes(), &state); err != nil {
		t.Fatalf("parse state: %v", err)
	}
	if state["is_active"] != false || state["start_of_day_value"] != float64(500) {
		t.Fatalf("unexpected breaker state: %v", state)
	}

	r, stdout, stderr = newTestRunner(nil)
	if code := r.Run([]string{"risk", "breaker", "status", "--results-only"}); code != 0 {
		t.Fatalf("status failed: %d stderr=%s", code, stderr.String())
	}
	if err := json.Unmarshal(stdout.Bytes(), &state); err != nil {
		t.Fatalf("parse state: %v", err)
	}
	if state["start_of_day_value"] != float64(500) {
		t.Fatalf("rebaseline was not persisted: %v", state)
	}
}

func TestRunnerBreakerResetInteractiveUsesLogin(t *testing.T) {
	testEnv(t)
	t.Setenv("USER", "bob")
	r, _, stderr := newTestRunner(nil)
	r.interactive = func() bool { return true }
	if code := r.Run([]string{"risk", "breaker", "reset"}); code != 0 {
		t.Fatalf("expected interactive reset to succeed, got %d stderr=%s", code, stderr.String())
	}
}

func TestRunnerRiskLimitsPersist(t *testing.T) {
	testEnv(t)
	r, _, stderr := newTestRunner(nil)
	if code := r.Run([]string{"risk", "limits", "set", "--max-slippage-bps", "80"}); code != 0 {
		t.Fatalf("set failed: %d stderr=%s", code, stderr.String())
	}
	r, _, stderr = newTestRunner(nil)
	if code := r.Run([]string{"risk", "limits", "set", "--min-reserve", "0.2"}); code != 0 {
		t.Fatalf("set failed: %d stderr=%s", code, stderr.String())
	}

	r, stdout, stderr := newTestRunner(nil)
	if code := r.Run([]string{"risk", "limits", "get", "--results-only"}); code != 0 {
		t.Fatalf("get failed: %d stderr=%s", code, stderr.String())
	}
	var limits map[string]any
	if err := json.Unmarshal(stdout.Bytes(), &limits); err != nil {
		t.Fatalf("parse limits: %v", err)
	}
	if limits["max_slippage_bps"] != float64(80) || limits["min_reserve"] != 0.2 || limits["max_position_size_pct"] != float64(25) {
		t.Fatalf("unexpected limits: %v", limits)
	}

	r, _, stderr = newTestRunner(nil)
	if code := r.Run([]string{"risk", "limits", "set", "--max-slippage-bps", "99999"}); code != 2 {
		t.Fatalf("expected invalid limit to fail with usage, got %d stderr=%s", code, stderr.String())
	}
	r, _, stderr = newTestRunner(nil)
	if code := r.Run([]string{"risk", "limits", "set"}); code != 2 {
		t.Fatalf("expected empty update to fail with usage, got %d stderr=%s", code, stderr.String())
	}
}

func TestRunnerJournalEmpty(t *testing.T) {
	testEnv(t)
	r, stdout, stderr := newTestRunner(nil)
	if code := r.Run([]string{"journal", "list", "--results-only"}); code != 0 {
		t.Fatalf("list failed: %d stderr=%s", code, stderr.String())
	}
	if strings.TrimSpace(stdout.String()) != "[]" {
		t.Fatalf("expected empty list, got %s", stdout.String())
	}

	r, _, stderr = newTestRunner(nil)
	if code := r.Run([]string{"journal", "get", "exec_missing"}); code != 2 {
		t.Fatalf("expected usage error for missing entry, got %d stderr=%s", code, stderr.String())
	}
}

func TestRunnerConfigShowRedactsSecrets(t *testing.T) {
	testEnv(t)
	t.Setenv("SOLAGENT_PRICE_API_KEY", "super-secret")
	r, stdout, stderr := newTestRunner(nil)
	if code := r.Run([]string{"config", "show", "--cluster", "devnet", "--results-only"}); code != 0 {
		t.Fatalf("config show failed: %d stderr=%s", code, stderr.String())
	}
	if strings.Contains(stdout.String(), "super-secret") {
		t.Fatal("api key leaked in config output")
	}
	var view map[string]any
	if err := json.Unmarshal(stdout.Bytes(), &view); err != nil {
		t.Fatalf("parse view: %v", err)
	}
	if view["price_api_key_set"] != true || view["rpc_url"] != "https://api.devnet.solana.com" {
		t.Fatalf("unexpected view: %v", view)
	}
}

func TestRunnerExecTransferConfirms(t *testing.T) {
	testEnv(t)
	node := newFakeNode(100 * ledger.LamportsPerSOL)
	r, stdout, stderr := newTestRunner(node)
	code := r.Run([]string{"exec", "transfer", "--to", recipient, "--amount-decimal", "0.5", "--cluster", "devnet"})
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, stderr.String())
	}
	if node.sends() != 1 {
		t.Fatalf("expected one send, got %d", node.sends())
	}
	if node.dialed != "https://api.devnet.solana.com" {
		t.Fatalf("unexpected rpc url %q", node.dialed)
	}
	env := decodeEnvelope(t, stdout)
	data := env["data"].(map[string]any)
	if data["success"] != true || data["signature"] == "" || data["slot"] != float64(321) {
		t.Fatalf("unexpected result: %v", data)
	}
	assessment := data["assessment"].(map[string]any)
	if assessment["approved"] != true {
		t.Fatalf("expected approved assessment: %v", assessment)
	}

	r, stdout, stderr = newTestRunner(nil)
	if code := r.Run([]string{"journal", "list", "--executed", "--results-only"}); code != 0 {
		t.Fatalf("journal list failed: %d stderr=%s", code, stderr.String())
	}
	var entries []map[string]any
	if err := json.Unmarshal(stdout.Bytes(), &entries); err != nil {
		t.Fatalf("parse journal: %v", err)
	}
	if len(entries) != 1 || entries[0]["success"] != true || entries[0]["execution_id"] != data["execution_id"] {
		t.Fatalf("unexpected journal: %v", entries)
	}
}

func TestRunnerExecTransferVetoNeverSends(t *testing.T) {
	testEnv(t)
	node := newFakeNode(100 * ledger.LamportsPerSOL)
	r, _, stderr := newTestRunner(node)
	code := r.Run([]string{"exec", "transfer", "--to", recipient, "--amount-decimal", "99.99"})
	if code != 22 {
		t.Fatalf("expected risk veto exit 22, got %d stderr=%s", code, stderr.String())
	}
	if node.sends() != 0 {
		t.Fatalf("vetoed action was sent %d times", node.sends())
	}
	env := decodeEnvelope(t, stderr)
	errBody := env["error"].(map[string]any)
	if errBody["type"] != "risk_veto" || !strings.Contains(errBody["message"].(string), "RISK VETO") {
		t.Fatalf("unexpected error: %v", errBody)
	}
}

func TestRunnerExecTransferAdvisory(t *testing.T) {
	testEnv(t)
	node := newFakeNode(100 * ledger.LamportsPerSOL)
	r, stdout, stderr := newTestRunner(node)
	code := r.Run([]string{"exec", "transfer", "--to", recipient, "--amount", "1000000", "--mode", "advisory"})
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, stderr.String())
	}
	if node.sends() != 0 {
		t.Fatalf("advisory mode sent %d transactions", node.sends())
	}
	env := decodeEnvelope(t, stdout)
	warnings, _ := env["warnings"].([]any)
	if len(warnings) != 1 || warnings[0] != advisoryWarning {
		t.Fatalf("expected advisory warning, got %v", env["warnings"])
	}
	data := env["data"].(map[string]any)
	if data["success"] != false || data["error_code"] != "advisory" {
		t.Fatalf("unexpected advisory result: %v", data)
	}
}

func TestRunnerExecTransferValidation(t *testing.T) {
	testEnv(t)
	node := newFakeNode(100 * ledger.LamportsPerSOL)
	cases := []struct {
		args []string
		code int
	}{
		{[]string{"exec", "transfer", "--amount", "1"}, 2},
		{[]string{"exec", "transfer", "--to", "not-a-key", "--amount", "1"}, 2},
		{[]string{"exec", "transfer", "--to", recipient, "--amount", "1", "--protocol", "orca"}, 13},
		{[]string{"exec", "transfer", "--to", recipient, "--amount", "1", "--key-source", "vault"}, 17},
	}
	for _, tc := range cases {
		r, _, stderr := newTestRunner(node)
		if code := r.Run(tc.args); code != tc.code {
			t.Fatalf("%v: expected exit %d, got %d stderr=%s", tc.args, tc.code, code, stderr.String())
		}
	}
	if node.sends() != 0 {
		t.Fatalf("invalid requests were sent")
	}
}

func TestRunnerExecPlanFile(t *testing.T) {
	testEnv(t)
	node := newFakeNode(100 * ledger.LamportsPerSOL)
	to := ledger.MustPublicKey(recipient)
	plan := planFile{
		Description:  "plan transfer",
		Instructions: []ledger.Instruction{ledger.SystemTransfer(testOwner(), to, 1000)},
	}
	buf, err := json.Marshal(plan)
	if err != nil {
		t.Fatalf("marshal plan: %v", err)
	}
	path := filepath.Join(t.TempDir(), "plan.json")
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatalf("write plan: %v", err)
	}

	r, stdout, stderr := newTestRunner(node)
	metrics := filepath.Join(t.TempDir(), "solagent.prom")
	if code := r.Run([]string{"exec", "plan", "--file", path, "--metrics-file", metrics}); code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, stderr.String())
	}
	if node.sends() != 1 {
		t.Fatalf("expected one send, got %d", node.sends())
	}
	env := decodeEnvelope(t, stdout)
	if env["data"].(map[string]any)["description"] != "plan transfer" {
		t.Fatalf("unexpected result: %v", env["data"])
	}
	prom, err := os.ReadFile(metrics)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	if !strings.Contains(string(prom), `solagent_executions_total{outcome="success"} 1`) {
		t.Fatalf("unexpected metrics:\n%s", prom)
	}
}

func TestReadPlanFileRejectsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.json")
	if err := os.WriteFile(path, []byte(`{"instructions":[]}`), 0o644); err != nil {
		t.Fatalf("write plan: %v", err)
	}
	if _, err := readPlanFile(path, nil); err == nil {
		t.Fatal("expected error for empty plan")
	}
	if _, err := readPlanFile("-", strings.NewReader(`{`)); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestRunnerRiskSnapshot(t *testing.T) {
	testEnv(t)
	node := newFakeNode(3 * ledger.LamportsPerSOL)
	r, stdout, stderr := newTestRunner(node)
	if code := r.Run([]string{"risk", "snapshot", "--owner", recipient, "--results-only"}); code != 0 {
		t.Fatalf("snapshot failed: %d stderr=%s", code, stderr.String())
	}
	var snap map[string]any
	if err := json.Unmarshal(stdout.Bytes(), &snap); err != nil {
		t.Fatalf("parse snapshot: %v", err)
	}
	portfolio := snap["portfolio"].(map[string]any)
	if portfolio["total_value_fiat"] != float64(300) || portfolio["native_balance"] != float64(3) {
		t.Fatalf("unexpected portfolio: %v", portfolio)
	}
	if snap["daily_loss_cap_fiat"] != float64(15) {
		t.Fatalf("unexpected loss cap: %v", snap["daily_loss_cap_fiat"])
	}
}
