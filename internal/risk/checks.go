package risk

import (
	"fmt"
	"math"
)

const (
	CheckNamePositionSize     = "position_size"
	CheckNameSlippage         = "slippage"
	CheckNameDailyLoss        = "daily_loss"
	CheckNameReserveBalance   = "reserve_balance"
	CheckNameProtocolExposure = "protocol_exposure"
)

// FeeBuffer is the conservative network fee estimate, in native units, added
// to every action's native spend.
const FeeBuffer = 0.001

// bootstrapValue is the portfolio value below which value-relative checks pass.
const bootstrapValue = 1.0

func CheckPositionSize(a ProposedAction, p Portfolio, l Limits) Check {
	c := Check{Name: CheckNamePositionSize, Limit: l.MaxPositionSizePct}
	if p.TotalValueFiat < bootstrapValue {
		c.Passed = true
		c.Message = "portfolio value below bootstrap threshold"
		return c
	}
	c.Value = math.Abs(a.ExpectedValueChange) * 100 / p.TotalValueFiat
	c.Passed = c.Value <= l.MaxPositionSizePct
	if c.Passed {
		c.Message = fmt.Sprintf("position %.2f%% within %.2f%%", c.Value, l.MaxPositionSizePct)
	} else {
		c.Message = fmt.Sprintf("position %.2f%% exceeds max %.2f%%", c.Value, l.MaxPositionSizePct)
	}
	return c
}

func CheckSlippage(a ProposedAction, l Limits) Check {
	c := Check{
		Name:   CheckNameSlippage,
		Value:  float64(a.MaxSlippageBps),
		Limit:  float64(l.MaxSlippageBps),
		Passed: a.MaxSlippageBps <= l.MaxSlippageBps,
	}
	if c.Passed {
		c.Message = fmt.Sprintf("slippage %d bps within %d bps", a.MaxSlippageBps, l.MaxSlippageBps)
	} else {
		c.Message = fmt.Sprintf("slippage %d bps exceeds max %d bps", a.MaxSlippageBps, l.MaxSlippageBps)
	}
	return c
}

// CheckDailyLoss projects today's realized loss plus the action's potential
// loss against the daily cap.
func CheckDailyLoss(a ProposedAction, p Portfolio, l Limits, dailyLossFiat float64) Check {
	c := Check{Name: CheckNameDailyLoss}
	c.Value = dailyLossFiat + math.Max(0, -a.ExpectedValueChange)
	if p.TotalValueFiat < bootstrapValue {
		c.Passed = true
		c.Message = "portfolio value below bootstrap threshold"
		return c
	}
	c.Limit = p.TotalValueFiat * l.MaxDailyLossPct / 100
	c.Passed = c.Value <= c.Limit
	if c.Passed {
		c.Message = fmt.Sprintf("projected daily loss %.2f within cap %.2f", c.Value, c.Limit)
	} else {
		c.Message = fmt.Sprintf("projected daily loss %.2f exceeds cap %.2f", c.Value, c.Limit)
	}
	return c
}

// CheckReserveBalance fails when the native balance left after the action and
// its fee would drop below the minimum reserve.
func CheckReserveBalance(a ProposedAction, p Portfolio, l Limits) Check {
	spend := a.NativeAmount() + FeeBuffer
	c := Check{
		Name:  CheckNameReserveBalance,
		Value: p.NativeBalance - spend,
		Limit: l.MinReserve,
	}
	c.Passed = c.Value >= l.MinReserve
	if c.Passed {
		c.Message = fmt.Sprintf("projected reserve %.4f above minimum %.4f", c.Value, l.MinReserve)
	} else {
		c.Message = fmt.Sprintf("projected reserve %.4f below minimum %.4f", c.Value, l.MinReserve)
	}
	return c
}

// CheckProtocolExposure adds the action's value to its protocol's current
// positions and compares the resulting share of the portfolio.
func CheckProtocolExposure(a ProposedAction, p Portfolio, l Limits) Check {
	c := Check{Name: CheckNameProtocolExposure, Limit: l.MaxProtocolExposurePct}
	if p.TotalValueFiat < bootstrapValue {
		c.Passed = true
		c.Message = "portfolio value below bootstrap threshold"
		return c
	}
	exposure := math.Abs(a.ExpectedValueChange)
	for _, pos := range p.Positions {
		if pos.Protocol == a.Protocol {
			exposure += pos.ValueFiat
		}
	}
	c.Value = exposure * 100 / p.TotalValueFiat
	c.Passed = c.Value <= l.MaxProtocolExposurePct
	if c.Passed {
		c.Message = fmt.Sprintf("%s exposure %.2f%% within %.2f%%", a.Protocol, c.Value, l.MaxProtocolExposurePct)
	} else {
		c.Message = fmt.Sprintf("%s exposure %.2f%% exceeds max %.2f%%", a.Protocol, c.Value, l.MaxProtocolExposurePct)
	}
	return c
}

// nativeEquivalent is the action amount in native units, used for scoring.
func nativeEquivalent(a ProposedAction, p Portfolio) float64 {
	if a.IsNativeInput() {
		return a.NativeAmount()
	}
	if p.NativePriceFiat > 0 {
		return math.Abs(a.ExpectedValueChange) / p.NativePriceFiat
	}
	return 0
}

// utilization is how close a passed check came to its limit. The reserve
// check is a lower bound so its ratio is inverted.
func utilization(c Check) float64 {
	if c.Name == CheckNameReserveBalance {
		if c.Value <= 0 {
			return 1
		}
		return c.Limit / c.Value
	}
	if c.Limit <= 0 {
		return 0
	}
	return c.Value / c.Limit
}
