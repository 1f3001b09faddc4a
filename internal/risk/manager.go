package risk

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"
	"sync"
	"time"

	clierr "github.com/ggonzalez94/solagent/internal/errors"
)

type EventType string

const (
	EventCheckPassed     EventType = "check_passed"
	EventCheckFailed     EventType = "check_failed"
	EventBreakerTripped  EventType = "circuit_breaker_tripped"
	EventBreakerReset    EventType = "circuit_breaker_reset"
	EventLimitsUpdated   EventType = "limits_updated"
	EventPortfolioUpdate EventType = "portfolio_updated"
)

// Event is emitted to OnEvent listeners. Listeners are observers only.
type Event struct {
	Type       EventType       `json:"type"`
	Action     *ProposedAction `json:"action,omitempty"`
	Assessment *Assessment     `json:"assessment,omitempty"`
	Breaker    *BreakerState   `json:"breaker,omitempty"`
	At         time.Time       `json:"at"`
}

// Limit bounds enforced by SetLimits.
const (
	MinPositionSizePct     = 1.0
	MaxPositionSizePct     = 100.0
	MinSlippageBps         = 1
	MaxSlippageBps         = 5000
	MinDailyLossPct        = 0.1
	MaxDailyLossPct        = 100.0
	MinReserveFloor        = 0.01
	MinProtocolExposurePct = 10.0
	MaxProtocolExposurePct = 100.0
)

// Manager composes the checks into a single approve/veto decision and owns
// the circuit breaker. It is safe for concurrent use.
type Manager struct {
	mu        sync.RWMutex
	limits    Limits
	portfolio Portfolio
	breaker   *Breaker
	listeners []func(Event)
	now       func() time.Time
	log       *slog.Logger
	audit     *slog.Logger
}

func NewManager(limits Limits, opts ...Option) (*Manager, error) {
	if err := validateLimits(limits); err != nil {
		return nil, err
	}
	o := buildOptions(opts)
	m := &Manager{
		limits:  limits,
		breaker: NewBreaker(limits.MaxDailyLossPct, opts...),
		now:     o.now,
		log:     o.log,
		audit:   o.audit,
	}
	m.breaker.OnTrip(func(state BreakerState) {
		m.emit(Event{Type: EventBreakerTripped, Breaker: &state})
	})
	return m, nil
}

// Load restores persisted breaker state.
func (m *Manager) Load(ctx context.Context) error {
	return m.breaker.Load(ctx)
}

// OnEvent registers a listener for assessments and breaker transitions.
func (m *Manager) OnEvent(fn func(Event)) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

// Validate is the sole policy hook of the execution engine. A tripped
// breaker rejects every action without running the checks.
func (m *Manager) Validate(action ProposedAction) Assessment {
	if m.breaker.IsTripped() {
		state := m.breaker.State()
		assessment := Assessment{
			Approved:  false,
			RiskScore: 100,
			Checks:    []Check{},
			Summary:   "circuit breaker active: " + state.Reason,
		}
		m.audit.Warn("risk veto", "reason", "circuit_breaker", "summary", assessment.Summary, "action", action.Type, "protocol", action.Protocol)
		m.emit(Event{Type: EventCheckFailed, Action: &action, Assessment: &assessment})
		return assessment
	}

	m.mu.RLock()
	limits, portfolio := m.limits, m.portfolio
	m.mu.RUnlock()
	dailyLoss := m.breaker.State().DailyLossFiat

	checks := []Check{
		CheckPositionSize(action, portfolio, limits),
		CheckSlippage(action, limits),
		CheckDailyLoss(action, portfolio, limits, dailyLoss),
		CheckReserveBalance(action, portfolio, limits),
		CheckProtocolExposure(action, portfolio, limits),
	}
	assessment := Assessment{Approved: true, Checks: checks}
	var failed []string
	for _, c := range checks {
		if !c.Passed {
			assessment.Approved = false
			failed = append(failed, c.Message)
		}
	}
	assessment.RiskScore = score(action, portfolio, checks)
	if assessment.Approved {
		assessment.Summary = fmt.Sprintf("approved: %d checks passed, risk score %d", len(checks), assessment.RiskScore)
		m.log.Debug("risk checks passed", "action", action.Type, "protocol", action.Protocol, "risk_score", assessment.RiskScore)
		m.emit(Event{Type: EventCheckPassed, Action: &action, Assessment: &assessment})
	} else {
		assessment.Summary = "rejected: " + strings.Join(failed, "; ")
		m.audit.Warn("risk veto", "summary", assessment.Summary, "risk_score", assessment.RiskScore, "action", action.Type, "protocol", action.Protocol)
		m.emit(Event{Type: EventCheckFailed, Action: &action, Assessment: &assessment})
	}
	return assessment
}

func score(action ProposedAction, portfolio Portfolio, checks []Check) int {
	s := 0
	for _, c := range checks {
		if !c.Passed {
			s += 25
			continue
		}
		switch u := utilization(c); {
		case u > 0.8:
			s += 10
		case u > 0.5:
			s += 5
		}
	}
	if action.MaxSlippageBps > 200 {
		s += 10
	}
	switch native := nativeEquivalent(action, portfolio); {
	case native > 100:
		s += 15
	case native > 10:
		s += 5
	}
	return min(max(s, 0), 100)
}

// RecordExecution is called once per completed execution.
func (m *Manager) RecordExecution(outcome Outcome, preValue, postValue float64) {
	success := outcome != nil && outcome.Succeeded()
	m.breaker.RecordExecution(success, preValue, postValue)
}

func (m *Manager) RecordLoss(amount float64) {
	m.breaker.RecordLoss(amount)
}

func (m *Manager) IsTripped() bool {
	return m.breaker.IsTripped()
}

func (m *Manager) CircuitBreakerState() BreakerState {
	return m.breaker.State()
}

// ResetCircuitBreaker clears a trip on behalf of a human operator.
func (m *Manager) ResetCircuitBreaker(operator string, rebaseline float64) error {
	if err := m.breaker.Reset(operator, rebaseline); err != nil {
		return clierr.Wrap(clierr.CodeUsage, "reset circuit breaker", err)
	}
	state := m.breaker.State()
	m.emit(Event{Type: EventBreakerReset, Breaker: &state})
	return nil
}

func (m *Manager) Limits() Limits {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.limits
}

// SetLimits applies a partial update. Every supplied field is validated
// first; any violation leaves the current limits untouched.
func (m *Manager) SetLimits(update LimitsUpdate) (Limits, error) {
	m.mu.Lock()
	next := m.limits
	if update.MaxPositionSizePct != nil {
		next.MaxPositionSizePct = *update.MaxPositionSizePct
	}
	if update.MaxSlippageBps != nil {
		next.MaxSlippageBps = *update.MaxSlippageBps
	}
	if update.MaxDailyLossPct != nil {
		next.MaxDailyLossPct = *update.MaxDailyLossPct
	}
	if update.MinReserve != nil {
		next.MinReserve = *update.MinReserve
	}
	if update.MaxProtocolExposurePct != nil {
		next.MaxProtocolExposurePct = *update.MaxProtocolExposurePct
	}
	if err := validateLimits(next); err != nil {
		m.mu.Unlock()
		return m.Limits(), err
	}
	prev := m.limits
	m.limits = next
	m.mu.Unlock()

	m.breaker.SetMaxDailyLossPct(next.MaxDailyLossPct)
	m.audit.Info("risk limits updated", "previous", prev, "current", next)
	m.emit(Event{Type: EventLimitsUpdated})
	return next, nil
}

func validateLimits(l Limits) error {
	var problems []string
	if !inRange(l.MaxPositionSizePct, MinPositionSizePct, MaxPositionSizePct) {
		problems = append(problems, fmt.Sprintf("max_position_size_pct must be in [%g, %g]", MinPositionSizePct, MaxPositionSizePct))
	}
	if l.MaxSlippageBps < MinSlippageBps || l.MaxSlippageBps > MaxSlippageBps {
		problems = append(problems, fmt.Sprintf("max_slippage_bps must be in [%d, %d]", MinSlippageBps, MaxSlippageBps))
	}
	if !inRange(l.MaxDailyLossPct, MinDailyLossPct, MaxDailyLossPct) {
		problems = append(problems, fmt.Sprintf("max_daily_loss_pct must be in [%g, %g]", MinDailyLossPct, MaxDailyLossPct))
	}
	if math.IsNaN(l.MinReserve) || l.MinReserve < MinReserveFloor {
		problems = append(problems, fmt.Sprintf("min_reserve must be at least %g", MinReserveFloor))
	}
	if !inRange(l.MaxProtocolExposurePct, MinProtocolExposurePct, MaxProtocolExposurePct) {
		problems = append(problems, fmt.Sprintf("max_protocol_exposure_pct must be in [%g, %g]", MinProtocolExposurePct, MaxProtocolExposurePct))
	}
	if len(problems) > 0 {
		return clierr.New(clierr.CodeUsage, "invalid risk limits: "+strings.Join(problems, "; "))
	}
	return nil
}

func inRange(v, lo, hi float64) bool {
	return !math.IsNaN(v) && v >= lo && v <= hi
}

// Portfolio returns the cached snapshot used by Validate.
func (m *Manager) Portfolio() Portfolio {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p := m.portfolio
	p.Positions = append([]Position(nil), m.portfolio.Positions...)
	return p
}

// UpdatePortfolio replaces the cached snapshot. The first snapshot of a UTC
// day becomes the breaker's start-of-day value.
func (m *Manager) UpdatePortfolio(p Portfolio) {
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = m.now().UTC()
	}
	p.Positions = append([]Position(nil), p.Positions...)
	m.mu.Lock()
	m.portfolio = p
	m.mu.Unlock()
	if m.breaker.Baseline(p.TotalValueFiat) {
		m.log.Info("start-of-day value baselined", "value_fiat", p.TotalValueFiat)
	}
	m.emit(Event{Type: EventPortfolioUpdate})
}

// Snapshot is the display view of limits, breaker and portfolio.
func (m *Manager) Snapshot() Snapshot {
	limits := m.Limits()
	breaker := m.breaker.State()
	return Snapshot{
		Limits:           limits,
		Breaker:          breaker,
		Portfolio:        m.Portfolio(),
		DailyLossCapFiat: breaker.StartOfDayValue * limits.MaxDailyLossPct / 100,
	}
}

func (m *Manager) emit(ev Event) {
	if ev.At.IsZero() {
		ev.At = m.now().UTC()
	}
	m.mu.RLock()
	listeners := slices.Clone(m.listeners)
	m.mu.RUnlock()
	for _, fn := range listeners {
		fn(ev)
	}
}
