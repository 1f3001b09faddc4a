package risk

import (
	"time"

	"github.com/ggonzalez94/solagent/internal/ledger"
)

type ActionType string

const (
	ActionSwap             ActionType = "swap"
	ActionStake            ActionType = "stake"
	ActionUnstake          ActionType = "unstake"
	ActionProvideLiquidity ActionType = "provide_liquidity"
	ActionRemoveLiquidity  ActionType = "remove_liquidity"
	ActionTransfer         ActionType = "transfer"
)

// ProposedAction is what a strategy wants to do. It is immutable once built
// and consumed by a single Validate call.
type ProposedAction struct {
	Type       ActionType `json:"type"`
	Protocol   string     `json:"protocol"`
	InputMint  string     `json:"input_mint"`
	OutputMint string     `json:"output_mint,omitempty"`
	// Amount is in the input asset's smallest unit.
	Amount         uint64 `json:"amount"`
	MaxSlippageBps int    `json:"max_slippage_bps"`
	// ExpectedValueChange is the signed fiat estimate of the portfolio delta.
	ExpectedValueChange float64   `json:"expected_value_change"`
	Priority            int       `json:"priority"`
	Rationale           string    `json:"rationale,omitempty"`
	Timestamp           time.Time `json:"timestamp"`
}

// IsNativeInput reports whether the action spends the chain's base asset.
func (a ProposedAction) IsNativeInput() bool {
	return a.InputMint == ledger.NativeMint || a.InputMint == "SOL"
}

// NativeAmount is Amount expressed in native units when the input is native.
func (a ProposedAction) NativeAmount() float64 {
	if !a.IsNativeInput() {
		return 0
	}
	return float64(a.Amount) / ledger.LamportsPerSOL
}

type Position struct {
	Protocol  string  `json:"protocol"`
	Asset     string  `json:"asset"`
	ValueFiat float64 `json:"value_fiat"`
}

// Portfolio is the cached snapshot risk checks evaluate against. The zero
// value is valid and lets the first actions through bootstrap checks.
type Portfolio struct {
	TotalValueFiat  float64    `json:"total_value_fiat"`
	NativeBalance   float64    `json:"native_balance"`
	NativePriceFiat float64    `json:"native_price_fiat"`
	Positions       []Position `json:"positions,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

type Limits struct {
	MaxPositionSizePct     float64 `json:"max_position_size_pct" yaml:"max_position_size_pct"`
	MaxSlippageBps         int     `json:"max_slippage_bps" yaml:"max_slippage_bps"`
	MaxDailyLossPct        float64 `json:"max_daily_loss_pct" yaml:"max_daily_loss_pct"`
	MinReserve             float64 `json:"min_reserve" yaml:"min_reserve"`
	MaxProtocolExposurePct float64 `json:"max_protocol_exposure_pct" yaml:"max_protocol_exposure_pct"`
}

func DefaultLimits() Limits {
	return Limits{
		MaxPositionSizePct:     25,
		MaxSlippageBps:         100,
		MaxDailyLossPct:        5,
		MinReserve:             0.05,
		MaxProtocolExposurePct: 50,
	}
}

// LimitsUpdate is a partial Limits; nil fields keep their current value.
type LimitsUpdate struct {
	MaxPositionSizePct     *float64 `json:"max_position_size_pct,omitempty"`
	MaxSlippageBps         *int     `json:"max_slippage_bps,omitempty"`
	MaxDailyLossPct        *float64 `json:"max_daily_loss_pct,omitempty"`
	MinReserve             *float64 `json:"min_reserve,omitempty"`
	MaxProtocolExposurePct *float64 `json:"max_protocol_exposure_pct,omitempty"`
}

// Overlay returns u with the non-nil fields of next applied on top.
func (u LimitsUpdate) Overlay(next LimitsUpdate) LimitsUpdate {
	if next.MaxPositionSizePct != nil {
		u.MaxPositionSizePct = next.MaxPositionSizePct
	}
	if next.MaxSlippageBps != nil {
		u.MaxSlippageBps = next.MaxSlippageBps
	}
	if next.MaxDailyLossPct != nil {
		u.MaxDailyLossPct = next.MaxDailyLossPct
	}
	if next.MinReserve != nil {
		u.MinReserve = next.MinReserve
	}
	if next.MaxProtocolExposurePct != nil {
		u.MaxProtocolExposurePct = next.MaxProtocolExposurePct
	}
	return u
}

// IsEmpty reports whether u changes nothing.
func (u LimitsUpdate) IsEmpty() bool {
	return u == LimitsUpdate{}
}

type Check struct {
	Name    string  `json:"name"`
	Passed  bool    `json:"passed"`
	Value   float64 `json:"value"`
	Limit   float64 `json:"limit"`
	Message string  `json:"message"`
}

type Assessment struct {
	Approved  bool    `json:"approved"`
	RiskScore int     `json:"risk_score"`
	Checks    []Check `json:"checks"`
	Summary   string  `json:"summary"`
}

// BreakerState is the daily safety status. DailyLossFiat only grows within
// a UTC day.
type BreakerState struct {
	IsActive        bool       `json:"is_active"`
	DailyLossFiat   float64    `json:"daily_loss_fiat"`
	FailedTxCount   int        `json:"failed_tx_count"`
	ActivatedAt     *time.Time `json:"activated_at,omitempty"`
	Reason          string     `json:"reason,omitempty"`
	Day             time.Time  `json:"day"`
	StartOfDayValue float64    `json:"start_of_day_value"`
	BaselineDay     time.Time  `json:"baseline_day"`
	NextReset       time.Time  `json:"next_reset"`
}

// Outcome is the part of an execution result the breaker cares about.
type Outcome interface {
	Succeeded() bool
}

// Snapshot is the display view of the risk state.
type Snapshot struct {
	Limits           Limits       `json:"limits"`
	Breaker          BreakerState `json:"circuit_breaker"`
	Portfolio        Portfolio    `json:"portfolio"`
	DailyLossCapFiat float64      `json:"daily_loss_cap_fiat"`
}
