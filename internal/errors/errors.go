package errors

import (
	"errors"
	"fmt"
	"slices"
)

// Code is a stable, machine-readable error type mapped to process exit codes.
type Code int

const (
	CodeSuccess       Code = 0
	CodeInternal      Code = 1
	CodeUsage         Code = 2
	CodeAuth          Code = 10
	CodeRateLimited   Code = 11
	CodeUnavailable   Code = 12
	CodeUnsupported   Code = 13
	CodeStale         Code = 14
	CodePartialStrict Code = 15
	CodeBlocked       Code = 16
	CodeSigner        Code = 17

	// Execution pipeline outcomes.
	CodeBuild            Code = 20
	CodeSimulation       Code = 21
	CodeRiskVeto         Code = 22
	CodeCircuitBreaker   Code = 23
	CodeSend             Code = 24
	CodeConfirmExpired   Code = 25
	CodeOnChainFailure   Code = 26
	CodeConfirmTimeout   Code = 27
	CodeRetriesExhausted Code = 28
	CodeAdvisory         Code = 29
)

var codeNames = map[Code]string{
	CodeInternal:         "internal",
	CodeUsage:            "usage",
	CodeAuth:             "auth",
	CodeRateLimited:      "rate_limited",
	CodeUnavailable:      "unavailable",
	CodeUnsupported:      "unsupported",
	CodeStale:            "stale",
	CodePartialStrict:    "partial_strict",
	CodeBlocked:          "blocked",
	CodeSigner:           "signer",
	CodeBuild:            "build_error",
	CodeSimulation:       "simulation_failed",
	CodeRiskVeto:         "risk_veto",
	CodeCircuitBreaker:   "circuit_breaker_active",
	CodeSend:             "send_error",
	CodeConfirmExpired:   "confirmation_expired",
	CodeOnChainFailure:   "on_chain_failure",
	CodeConfirmTimeout:   "confirmation_timeout",
	CodeRetriesExhausted: "retries_exhausted",
	CodeAdvisory:         "advisory",
}

// String returns the snake_case name used in output envelopes.
func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	if c == CodeSuccess {
		return "success"
	}
	return "unknown"
}

// Codes lists every named code in ascending order.
func Codes() []Code {
	codes := make([]Code, 0, len(codeNames))
	for c := range codeNames {
		codes = append(codes, c)
	}
	slices.Sort(codes)
	return codes
}

// Error is a typed CLI error that carries a stable error code.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// Coder is implemented by domain errors that know their own exit code.
type Coder interface {
	ErrorCode() Code
}

// CodeOf resolves the code of err, checking typed CLI errors first and then
// any wrapped Coder.
func CodeOf(err error) Code {
	if err == nil {
		return CodeSuccess
	}
	if cliErr, ok := As(err); ok {
		return cliErr.Code
	}
	var coder Coder
	if errors.As(err, &coder) {
		return coder.ErrorCode()
	}
	return CodeInternal
}

func ExitCode(err error) int {
	return int(CodeOf(err))
}
