package execution

import (
	"fmt"
	"time"

	clierr "github.com/ggonzalez94/solagent/internal/errors"
	"github.com/ggonzalez94/solagent/internal/execution/signer"
	"github.com/ggonzalez94/solagent/internal/ledger"
	"github.com/ggonzalez94/solagent/internal/risk"
)

type Mode string

const (
	// ModeAuto signs and sends approved transactions.
	ModeAuto Mode = "auto"
	// ModeAdvisory stops after validation and never sends.
	ModeAdvisory Mode = "advisory"
)

func ParseMode(v string) (Mode, error) {
	switch Mode(v) {
	case "", ModeAuto:
		return ModeAuto, nil
	case ModeAdvisory:
		return ModeAdvisory, nil
	default:
		return "", fmt.Errorf("unsupported mode %q (expected %s|%s)", v, ModeAuto, ModeAdvisory)
	}
}

type Config struct {
	MaxRetries               int               `json:"max_retries" yaml:"max_retries"`
	RetryDelay               time.Duration     `json:"retry_delay" yaml:"retry_delay"`
	ConfirmationTimeout      time.Duration     `json:"confirmation_timeout" yaml:"confirmation_timeout"`
	PollInterval             time.Duration     `json:"poll_interval" yaml:"poll_interval"`
	SimulateBeforeSend       bool              `json:"simulate_before_send" yaml:"simulate_before_send"`
	SkipPreflight            bool              `json:"skip_preflight" yaml:"skip_preflight"`
	ComputeUnitLimit         uint32            `json:"compute_unit_limit" yaml:"compute_unit_limit"`
	PriorityFeeMicroLamports uint64            `json:"priority_fee_micro_lamports" yaml:"priority_fee_micro_lamports"`
	Commitment               ledger.Commitment `json:"commitment" yaml:"commitment"`
	Mode                     Mode              `json:"mode" yaml:"mode"`
}

func DefaultConfig() Config {
	return Config{
		MaxRetries:               3,
		RetryDelay:               time.Second,
		ConfirmationTimeout:      30 * time.Second,
		PollInterval:             500 * time.Millisecond,
		SimulateBeforeSend:       true,
		SkipPreflight:            false,
		ComputeUnitLimit:         200_000,
		PriorityFeeMicroLamports: 50_000,
		Commitment:               ledger.CommitmentConfirmed,
		Mode:                     ModeAuto,
	}
}

// ConfigUpdate is a partial Config; nil fields keep their current value.
type ConfigUpdate struct {
	MaxRetries               *int
	RetryDelay               *time.Duration
	ConfirmationTimeout      *time.Duration
	PollInterval             *time.Duration
	SimulateBeforeSend       *bool
	SkipPreflight            *bool
	ComputeUnitLimit         *uint32
	PriorityFeeMicroLamports *uint64
	Commitment               *ledger.Commitment
	Mode                     *Mode
}

// Merge returns c with the non-nil fields of u applied.
func (c Config) Merge(u ConfigUpdate) Config {
	if u.MaxRetries != nil {
		c.MaxRetries = *u.MaxRetries
	}
	if u.RetryDelay != nil {
		c.RetryDelay = *u.RetryDelay
	}
	if u.ConfirmationTimeout != nil {
		c.ConfirmationTimeout = *u.ConfirmationTimeout
	}
	if u.PollInterval != nil {
		c.PollInterval = *u.PollInterval
	}
	if u.SimulateBeforeSend != nil {
		c.SimulateBeforeSend = *u.SimulateBeforeSend
	}
	if u.SkipPreflight != nil {
		c.SkipPreflight = *u.SkipPreflight
	}
	if u.ComputeUnitLimit != nil {
		c.ComputeUnitLimit = *u.ComputeUnitLimit
	}
	if u.PriorityFeeMicroLamports != nil {
		c.PriorityFeeMicroLamports = *u.PriorityFeeMicroLamports
	}
	if u.Commitment != nil {
		c.Commitment = *u.Commitment
	}
	if u.Mode != nil {
		c.Mode = *u.Mode
	}
	return c
}

func (c Config) Validate() error {
	switch {
	case c.MaxRetries < 1:
		return clierr.New(clierr.CodeUsage, "max retries must be at least 1")
	case c.RetryDelay < 0:
		return clierr.New(clierr.CodeUsage, "retry delay must be non-negative")
	case c.ConfirmationTimeout <= 0:
		return clierr.New(clierr.CodeUsage, "confirmation timeout must be positive")
	case c.PollInterval <= 0:
		return clierr.New(clierr.CodeUsage, "poll interval must be positive")
	case c.ComputeUnitLimit == 0:
		return clierr.New(clierr.CodeUsage, "compute unit limit must be positive")
	}
	if _, err := ledger.ParseCommitment(string(c.Commitment)); err != nil {
		return clierr.Wrap(clierr.CodeUsage, "invalid commitment", err)
	}
	if _, err := ParseMode(string(c.Mode)); err != nil {
		return clierr.Wrap(clierr.CodeUsage, "invalid mode", err)
	}
	return nil
}

// Budget overrides the engine's compute budget for one request.
type Budget struct {
	ComputeUnitLimit         uint32 `json:"compute_unit_limit"`
	PriorityFeeMicroLamports uint64 `json:"priority_fee_micro_lamports"`
}

// Request is one execution job: either Instructions or a pre-built
// Transaction, never both.
type Request struct {
	Instructions []ledger.Instruction
	Transaction  *ledger.UnsignedTx
	Signer       signer.Signer
	Description  string
	// Action, when set, is validated by the risk policy before signing.
	Action *risk.ProposedAction
	Budget *Budget
}

// Result is the terminal outcome of Execute. Err is nil only on success.
type Result struct {
	ID             string           `json:"execution_id"`
	Success        bool             `json:"success"`
	Signature      string           `json:"signature,omitempty"`
	Err            error            `json:"-"`
	Error          string           `json:"error,omitempty"`
	ErrorCode      string           `json:"error_code,omitempty"`
	Slot           uint64           `json:"slot,omitempty"`
	ComputeUnits   uint64           `json:"compute_units,omitempty"`
	Attempts       int              `json:"attempts"`
	Description    string           `json:"description,omitempty"`
	Mode           Mode             `json:"mode"`
	Assessment     *risk.Assessment `json:"assessment,omitempty"`
	UnitsSimulated uint64           `json:"units_simulated,omitempty"`
	Timestamp      time.Time        `json:"timestamp"`
}

// Succeeded lets a Result be recorded by the circuit breaker.
func (r Result) Succeeded() bool { return r.Success }

var _ risk.Outcome = Result{}
