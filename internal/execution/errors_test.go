package execution

import (
	"context"
	"errors"
	"fmt"
	"testing"

	clierr "github.com/ggonzalez94/solagent/internal/errors"
)

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"blockhash not found", errors.New("Transaction simulation failed: Blockhash not found"), true},
		{"block height exceeded", errors.New("block height exceeded"), true},
		{"rate limited", errors.New("HTTP 429 Too Many Requests"), true},
		{"node behind", errors.New("Node is behind by 42 slots"), true},
		{"reset", errors.New("read tcp: ECONNRESET"), true},
		{"timeout", errors.New("dial tcp: i/o timeout"), true},
		{"socket", errors.New("socket hang up"), true},
		{"insufficient funds", errors.New("Insufficient funds for fee"), false},
		{"insufficient funds wins over transient", errors.New("insufficient lamports after blockhash not found"), false},
		{"account not found", errors.New("AccountNotFound"), false},
		{"unknown", errors.New("something odd"), false},
		{"expired", ErrConfirmationExpired, true},
		{"confirmation timeout", fmt.Errorf("attempt 2: %w", ErrConfirmationTimeout), true},
		{"advisory", ErrAdvisory, false},
		{"canceled", context.Canceled, false},
		{"veto", &VetoError{Summary: "rejected"}, false},
		{"breaker", &BreakerActiveError{Reason: "daily loss"}, false},
		{"on-chain failure", &OnChainFailureError{Detail: "custom program error: 0x1"}, false},
		{"exhausted", &RetriesExhaustedError{Attempts: 3, Last: ErrConfirmationTimeout}, false},
		{"send retryable", &SendError{Err: errors.New("x"), Retryable: true}, true},
		{"send fatal", &SendError{Err: errors.New("blockhash not found"), Retryable: false}, false},
		{"build wrapping transient", &BuildError{Err: errors.New("429 too many requests")}, true},
	}
	for _, tc := range cases {
		if got := IsRetryable(tc.err); got != tc.want {
			t.Fatalf("%s: IsRetryable = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestErrorCodeOutermostWins(t *testing.T) {
	cases := []struct {
		err  error
		want clierr.Code
	}{
		{nil, clierr.CodeSuccess},
		{&RetriesExhaustedError{Attempts: 3, Last: ErrConfirmationTimeout}, clierr.CodeRetriesExhausted},
		{ErrConfirmationTimeout, clierr.CodeConfirmTimeout},
		{ErrConfirmationExpired, clierr.CodeConfirmExpired},
		{&SimulationError{Detail: "x"}, clierr.CodeSimulation},
		{&SendError{Err: errors.New("x")}, clierr.CodeSend},
		{fmt.Errorf("simulate transaction: %w", &VetoError{}), clierr.CodeRiskVeto},
		{clierr.New(clierr.CodeSigner, "missing signer"), clierr.CodeSigner},
		{errors.New("plain"), clierr.CodeInternal},
	}
	for _, tc := range cases {
		if got := ErrorCode(tc.err); got != tc.want {
			t.Fatalf("ErrorCode(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestErrorMessages(t *testing.T) {
	veto := &VetoError{Summary: "rejected: slippage 300 bps exceeds 100 bps limit"}
	if veto.Error() != "RISK VETO: rejected: slippage 300 bps exceeds 100 bps limit" {
		t.Fatalf("unexpected veto message: %s", veto.Error())
	}
	exhausted := &RetriesExhaustedError{Attempts: 3, Last: errors.New("429")}
	if exhausted.Error() != "retries exhausted after 3 attempts: 429" {
		t.Fatalf("unexpected exhausted message: %s", exhausted.Error())
	}
	if !errors.Is(exhausted, exhausted.Last) {
		t.Fatal("exhausted error should unwrap to its last cause")
	}
}
