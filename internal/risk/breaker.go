package risk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// MaxConsecutiveFailures trips the breaker when reached.
const MaxConsecutiveFailures = 5

// StateStore persists breaker state so a reset made by one process is seen
// by the next. UpdateBreakerState must run fn on the latest stored state
// under an exclusive lock and save the result when fn reports a change.
type StateStore interface {
	LoadBreakerState(ctx context.Context) (BreakerState, bool, error)
	UpdateBreakerState(ctx context.Context, fn func(state *BreakerState, found bool) bool) (BreakerState, error)
}

const storeTimeout = 5 * time.Second

// Breaker is the daily safety governor. Once tripped it stays tripped until
// the UTC day changes or an operator resets it. With a StateStore, every
// change is applied to the stored row rather than the in-memory copy, so
// processes sharing the store never overwrite each other.
type Breaker struct {
	mu              sync.Mutex
	state           BreakerState
	maxDailyLossPct float64
	now             func() time.Time
	store           StateStore
	log             *slog.Logger
	audit           *slog.Logger
	onTrip          []func(BreakerState)
}

func NewBreaker(maxDailyLossPct float64, opts ...Option) *Breaker {
	o := buildOptions(opts)
	now := o.now()
	return &Breaker{
		state:           BreakerState{Day: dayStart(now)},
		maxDailyLossPct: maxDailyLossPct,
		now:             o.now,
		store:           o.store,
		log:             o.log,
		audit:           o.audit,
	}
}

// Load restores persisted state, applying the day rollover if it was saved
// on an earlier day.
func (b *Breaker) Load(ctx context.Context) error {
	if b.store == nil {
		return nil
	}
	state, ok, err := b.store.LoadBreakerState(ctx)
	if err != nil {
		return fmt.Errorf("load breaker state: %w", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if ok {
		b.state = state
	}
	if !b.currentDayLocked() {
		b.updateLocked(func(*BreakerState) bool { return false })
	}
	return nil
}

// OnTrip registers a callback invoked after the breaker trips.
func (b *Breaker) OnTrip(fn func(BreakerState)) {
	if fn == nil {
		return
	}
	b.mu.Lock()
	b.onTrip = append(b.onTrip, fn)
	b.mu.Unlock()
}

func (b *Breaker) IsTripped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refreshLocked()
	return b.state.IsActive
}

func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refreshLocked()
	return b.snapshotLocked()
}

func (b *Breaker) SetMaxDailyLossPct(pct float64) {
	b.mu.Lock()
	b.maxDailyLossPct = pct
	b.mu.Unlock()
}

// Baseline records the start-of-day portfolio value. Only the first call of
// each UTC day takes effect; it reports whether the value was applied.
func (b *Breaker) Baseline(value float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	var applied bool
	b.updateLocked(func(st *BreakerState) bool {
		applied = st.BaselineDay.IsZero() || !st.BaselineDay.Equal(st.Day)
		if applied {
			st.StartOfDayValue = value
			st.BaselineDay = st.Day
		}
		return applied
	})
	return applied
}

// RecordExecution feeds a completed execution into both trip axes.
func (b *Breaker) RecordExecution(success bool, preValue, postValue float64) {
	b.mu.Lock()
	var tripped bool
	b.updateLocked(func(st *BreakerState) bool {
		if success {
			st.FailedTxCount = 0
		} else {
			st.FailedTxCount++
		}
		if loss := preValue - postValue; loss > 0 {
			st.DailyLossFiat += loss
		}
		tripped = b.evaluate(st)
		return true
	})
	hooks, state := b.onTrip, b.snapshotLocked()
	b.mu.Unlock()
	b.fire(tripped, hooks, state)
}

// RecordLoss adds an externally estimated loss. Non-positive amounts are
// ignored since gains never offset losses.
func (b *Breaker) RecordLoss(amount float64) {
	if amount <= 0 {
		return
	}
	b.mu.Lock()
	var tripped bool
	b.updateLocked(func(st *BreakerState) bool {
		st.DailyLossFiat += amount
		tripped = b.evaluate(st)
		return true
	})
	hooks, state := b.onTrip, b.snapshotLocked()
	b.mu.Unlock()
	b.fire(tripped, hooks, state)
}

// Reset clears the breaker. It is the only path besides the day rollover
// that can clear a trip, and must name the human operator. A positive
// rebaseline replaces the start-of-day value.
func (b *Breaker) Reset(operator string, rebaseline float64) error {
	operator = strings.TrimSpace(operator)
	if operator == "" {
		return errors.New("circuit breaker reset requires an operator")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	var prev BreakerState
	b.updateLocked(func(st *BreakerState) bool {
		prev = *st
		next := BreakerState{
			Day:             st.Day,
			StartOfDayValue: st.StartOfDayValue,
			BaselineDay:     st.BaselineDay,
		}
		if rebaseline > 0 {
			next.StartOfDayValue = rebaseline
			next.BaselineDay = next.Day
		}
		*st = next
		return true
	})
	b.audit.Info("circuit breaker reset",
		"operator", operator,
		"was_active", prev.IsActive,
		"previous_reason", prev.Reason,
		"daily_loss_fiat", prev.DailyLossFiat,
		"failed_tx_count", prev.FailedTxCount,
		"start_of_day_value", b.state.StartOfDayValue,
	)
	return nil
}

func (b *Breaker) fire(tripped bool, hooks []func(BreakerState), state BreakerState) {
	if !tripped {
		return
	}
	b.audit.Warn("circuit breaker tripped",
		"reason", state.Reason,
		"daily_loss_fiat", state.DailyLossFiat,
		"failed_tx_count", state.FailedTxCount,
	)
	for _, fn := range hooks {
		fn(state)
	}
}

// updateLocked applies fn to the latest state after the day rollover. With
// a store the read, change and write happen in one locked transaction and
// the in-memory copy is replaced by what was saved. If the store fails the
// change still applies in memory so this process keeps enforcing it.
func (b *Breaker) updateLocked(fn func(st *BreakerState) bool) {
	now := b.now()
	if b.store == nil {
		b.rollover(&b.state, now)
		fn(&b.state)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	state, err := b.store.UpdateBreakerState(ctx, func(st *BreakerState, found bool) bool {
		if !found {
			*st = b.state
		}
		rolled := b.rollover(st, now)
		changed := fn(st)
		return rolled || changed
	})
	if err != nil {
		b.log.Error("update breaker state", "error", err)
		b.rollover(&b.state, now)
		fn(&b.state)
		return
	}
	b.state = state
}

// refreshLocked picks up changes other processes made to the stored state.
func (b *Breaker) refreshLocked() {
	if b.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		state, ok, err := b.store.LoadBreakerState(ctx)
		cancel()
		switch {
		case err != nil:
			b.log.Error("reload breaker state", "error", err)
		case ok:
			b.state = state
		}
	}
	if !b.currentDayLocked() {
		b.updateLocked(func(*BreakerState) bool { return false })
	}
}

func (b *Breaker) currentDayLocked() bool {
	return !b.state.Day.IsZero() && sameDay(b.state.Day, b.now())
}

// evaluate trips st if either axis is over its limit and reports whether
// this call did the tripping.
func (b *Breaker) evaluate(st *BreakerState) bool {
	if st.IsActive {
		return false
	}
	var reason string
	switch {
	case st.FailedTxCount >= MaxConsecutiveFailures:
		reason = fmt.Sprintf("%d consecutive failed transactions", st.FailedTxCount)
	case st.StartOfDayValue > 0:
		limit := st.StartOfDayValue * b.maxDailyLossPct / 100
		if st.DailyLossFiat >= limit {
			reason = fmt.Sprintf("daily loss %.2f reached limit %.2f (%.2f%% of %.2f)",
				st.DailyLossFiat, limit, b.maxDailyLossPct, st.StartOfDayValue)
		}
	}
	if reason == "" {
		return false
	}
	at := b.now().UTC()
	st.IsActive = true
	st.ActivatedAt = &at
	st.Reason = reason
	return true
}

// rollover clears the daily counters and any trip when now is on a later
// UTC day than st's window.
func (b *Breaker) rollover(st *BreakerState, now time.Time) bool {
	if st.Day.IsZero() {
		st.Day = dayStart(now)
		return true
	}
	if sameDay(st.Day, now) {
		return false
	}
	if st.IsActive {
		b.log.Info("circuit breaker auto-reset on new day", "previous_reason", st.Reason)
	}
	st.IsActive = false
	st.ActivatedAt = nil
	st.Reason = ""
	st.DailyLossFiat = 0
	st.FailedTxCount = 0
	st.Day = dayStart(now)
	return true
}

func (b *Breaker) snapshotLocked() BreakerState {
	s := b.state
	if s.ActivatedAt != nil {
		at := *s.ActivatedAt
		s.ActivatedAt = &at
	}
	s.NextReset = nextDayStart(s.Day)
	return s
}
