package errors

import (
	"fmt"
	"testing"
)

type vetoLike struct{}

func (vetoLike) Error() string { return "vetoed" }
func (vetoLike) ErrorCode() Code { return CodeRiskVeto }

func TestExitCodeTypedError(t *testing.T) {
	err := fmt.Errorf("outer: %w", Wrap(CodeUnavailable, "rpc down", fmt.Errorf("dial")))
	if got := ExitCode(err); got != int(CodeUnavailable) {
		t.Fatalf("expected exit code %d, got %d", CodeUnavailable, got)
	}
}

func TestExitCodeCoder(t *testing.T) {
	err := fmt.Errorf("attempt 1: %w", vetoLike{})
	if got := CodeOf(err); got != CodeRiskVeto {
		t.Fatalf("expected risk veto code, got %v", got)
	}
	if ExitCode(nil) != 0 {
		t.Fatal("expected zero exit code for nil error")
	}
	if ExitCode(fmt.Errorf("plain")) != int(CodeInternal) {
		t.Fatal("expected internal exit code for untyped error")
	}
}

func TestCodeString(t *testing.T) {
	if CodeCircuitBreaker.String() != "circuit_breaker_active" {
		t.Fatalf("unexpected name %q", CodeCircuitBreaker.String())
	}
	if Code(999).String() != "unknown" {
		t.Fatalf("unexpected name for unregistered code")
	}
}
