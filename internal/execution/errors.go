package execution

import (
	"context"
	"errors"
	"fmt"
	"strings"

	clierr "github.com/ggonzalez94/solagent/internal/errors"
	"github.com/ggonzalez94/solagent/internal/risk"
)

type codedError struct {
	code clierr.Code
	msg  string
}

func (e *codedError) Error() string          { return e.msg }
func (e *codedError) ErrorCode() clierr.Code { return e.code }

var (
	// ErrConfirmationExpired means the time-bound passed before the
	// transaction landed. The caller should rebuild with a fresh time-bound.
	ErrConfirmationExpired error = &codedError{clierr.CodeConfirmExpired, "transaction expired: block height exceeded before confirmation"}
	// ErrConfirmationTimeout means no confirmation arrived before the
	// deadline. The transaction may still land.
	ErrConfirmationTimeout error = &codedError{clierr.CodeConfirmTimeout, "confirmation timed out"}
	// ErrAdvisory is returned in advisory mode, where nothing is sent.
	ErrAdvisory error = &codedError{clierr.CodeAdvisory, "advisory mode: transaction validated but not sent"}
)

type BuildError struct {
	Err error
}

func (e *BuildError) Error() string          { return "build transaction: " + e.Err.Error() }
func (e *BuildError) Unwrap() error          { return e.Err }
func (e *BuildError) ErrorCode() clierr.Code { return clierr.CodeBuild }

type SimulationError struct {
	Detail        string
	UnitsConsumed uint64
	Logs          []string
}

func (e *SimulationError) Error() string {
	return fmt.Sprintf("simulation failed: %s (units consumed %d)", e.Detail, e.UnitsConsumed)
}

func (e *SimulationError) ErrorCode() clierr.Code { return clierr.CodeSimulation }

// VetoError carries the rejecting risk assessment.
type VetoError struct {
	Summary string
	Checks  []risk.Check
}

func (e *VetoError) Error() string          { return "RISK VETO: " + e.Summary }
func (e *VetoError) ErrorCode() clierr.Code { return clierr.CodeRiskVeto }

type BreakerActiveError struct {
	Reason string
}

func (e *BreakerActiveError) Error() string {
	return "circuit breaker active: " + e.Reason
}

func (e *BreakerActiveError) ErrorCode() clierr.Code { return clierr.CodeCircuitBreaker }

// SendError wraps a broadcast failure with its classification.
type SendError struct {
	Err       error
	Retryable bool
}

func (e *SendError) Error() string          { return "send transaction: " + e.Err.Error() }
func (e *SendError) Unwrap() error          { return e.Err }
func (e *SendError) ErrorCode() clierr.Code { return clierr.CodeSend }

// OnChainFailureError is a transaction that landed and reverted.
type OnChainFailureError struct {
	Signature string
	Detail    string
}

func (e *OnChainFailureError) Error() string {
	return "transaction failed on-chain: " + e.Detail
}

func (e *OnChainFailureError) ErrorCode() clierr.Code { return clierr.CodeOnChainFailure }

type RetriesExhaustedError struct {
	Attempts int
	Last     error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.Last)
}

func (e *RetriesExhaustedError) Unwrap() error          { return e.Last }
func (e *RetriesExhaustedError) ErrorCode() clierr.Code { return clierr.CodeRetriesExhausted }

var retryablePatterns = []string{
	"blockhash not found",
	"blockhashnotfound",
	"block height exceeded",
	"transaction expired",
	"simulation transient",
	"node is behind",
	"429",
	"too many requests",
	"rate limit",
	"connection reset",
	"econnreset",
	"etimedout",
	"connection timed out",
	"i/o timeout",
	"socket hang up",
}

var fatalPatterns = []string{
	"insufficient funds",
	"insufficient lamports",
	"account not found",
	"accountnotfound",
	"invalid instruction",
	"invalidinstruction",
}

// IsRetryable is the closed retry classifier. Deliberate decisions and
// landed failures are never retried; everything else is matched against
// known transient patterns.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var (
		veto      *VetoError
		breaker   *BreakerActiveError
		onChain   *OnChainFailureError
		exhausted *RetriesExhaustedError
		send      *SendError
	)
	switch {
	case errors.As(err, &veto), errors.As(err, &breaker), errors.As(err, &onChain), errors.As(err, &exhausted):
		return false
	case errors.Is(err, ErrAdvisory), errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, ErrConfirmationExpired), errors.Is(err, ErrConfirmationTimeout):
		return true
	case errors.As(err, &send):
		return send.Retryable
	}
	return matchesRetryable(err.Error())
}

func matchesRetryable(msg string) bool {
	msg = strings.ToLower(msg)
	for _, p := range fatalPatterns {
		if strings.Contains(msg, p) {
			return false
		}
	}
	for _, p := range retryablePatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// ErrorCode maps an execution error to its stable code. The outermost coded
// error wins so an exhausted retry loop is not reported as its last cause.
func ErrorCode(err error) clierr.Code {
	if err == nil {
		return clierr.CodeSuccess
	}
	if coder, ok := err.(clierr.Coder); ok {
		return coder.ErrorCode()
	}
	return clierr.CodeOf(err)
}
