package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	clierr "github.com/ggonzalez94/solagent/internal/errors"
	"github.com/ggonzalez94/solagent/internal/execution/signer"
	"github.com/ggonzalez94/solagent/internal/ledger"
	"github.com/ggonzalez94/solagent/internal/logging"
	"github.com/ggonzalez94/solagent/internal/risk"
)

// RiskValidator is the policy hook consulted before signing a bound action.
type RiskValidator interface {
	Validate(action risk.ProposedAction) risk.Assessment
}

// BreakerGuard blocks every send while tripped, whether or not a request
// carries an action.
type BreakerGuard interface {
	IsTripped() bool
	CircuitBreakerState() risk.BreakerState
}

// Recorder receives completed executions of bound actions.
type Recorder interface {
	RecordExecution(outcome risk.Outcome, preValue, postValue float64)
}

// Valuer prices the portfolio around an execution so realized losses reach
// the circuit breaker.
type Valuer interface {
	PortfolioValue(ctx context.Context) (float64, error)
}

// Journal stores terminal results.
type Journal interface {
	Record(ctx context.Context, entry JournalEntry) error
}

type Option func(*Engine)

func WithConfig(cfg Config) Option             { return func(e *Engine) { e.cfg = cfg } }
func WithRiskValidator(v RiskValidator) Option { return func(e *Engine) { e.validator = v } }
func WithBreakerGuard(g BreakerGuard) Option   { return func(e *Engine) { e.guard = g } }
func WithRecorder(r Recorder) Option           { return func(e *Engine) { e.recorder = r } }
func WithValuer(v Valuer) Option               { return func(e *Engine) { e.valuer = v } }
func WithJournal(j Journal) Option             { return func(e *Engine) { e.journal = j } }
func WithMetrics(m *Metrics) Option            { return func(e *Engine) { e.metrics = m } }

func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// Engine runs the build, simulate, risk-check, sign, send, confirm loop.
// Execute is safe for concurrent use; the only shared state is the config
// and the observer list.
type Engine struct {
	client    ledger.Client
	validator RiskValidator
	guard     BreakerGuard
	recorder  Recorder
	valuer    Valuer
	journal   Journal
	metrics   *Metrics
	log       *slog.Logger
	now       func() time.Time

	mu        sync.RWMutex
	cfg       Config
	builder   *Builder
	listeners []func(State)
}

func NewEngine(client ledger.Client, opts ...Option) (*Engine, error) {
	if client == nil {
		return nil, clierr.New(clierr.CodeInternal, "missing ledger client")
	}
	e := &Engine{
		client: client,
		cfg:    DefaultConfig(),
		log:    logging.Named("execution"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.cfg.Validate(); err != nil {
		return nil, err
	}
	e.builder = NewBuilder(client, e.cfg.Commitment)
	return e, nil
}

func (e *Engine) Config() Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

// UpdateConfig merges u into the current config. Fields left nil keep their
// value; an invalid result leaves the config unchanged.
func (e *Engine) UpdateConfig(u ConfigUpdate) (Config, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	next := e.cfg.Merge(u)
	if err := next.Validate(); err != nil {
		return e.cfg, err
	}
	if next.Commitment != e.cfg.Commitment {
		e.builder = NewBuilder(e.client, next.Commitment)
	}
	e.cfg = next
	return next, nil
}

// OnStateChange registers a progress observer.
func (e *Engine) OnStateChange(fn func(State)) {
	if fn == nil {
		return
	}
	e.mu.Lock()
	e.listeners = append(e.listeners, fn)
	e.mu.Unlock()
}

// ExecutePreBuilt runs a transaction built by an external adapter.
func (e *Engine) ExecutePreBuilt(ctx context.Context, tx ledger.UnsignedTx, s signer.Signer, description string) Result {
	return e.Execute(ctx, Request{Transaction: &tx, Signer: s, Description: description})
}

// run carries the per-call state of one Execute.
type run struct {
	id       string
	cfg      Config
	req      Request
	builder  *Builder
	tracker  *Tracker
	log      *slog.Logger
	attempt  int
	lastSig  ledger.Signature
	sent     bool
	result   *Result
	prebuilt ledger.UnsignedTx
}

// Execute never returns an error or panics across its boundary; every
// outcome, including exhausted retries, is described by the Result.
func (e *Engine) Execute(ctx context.Context, req Request) (res Result) {
	started := e.now()
	e.mu.RLock()
	cfg, builder := e.cfg, e.builder
	e.mu.RUnlock()

	r := &run{
		id:      "exec_" + uuid.NewString(),
		cfg:     cfg,
		req:     req,
		builder: builder,
		tracker: NewTracker(e.client, cfg.Commitment, cfg.PollInterval, e.log),
		result:  &res,
	}
	r.log = e.log.With("execution_id", r.id)
	res = Result{ID: r.id, Description: req.Description, Mode: cfg.Mode}

	defer func() {
		if p := recover(); p != nil {
			r.log.Error("execution panicked", "panic", p)
			e.fail(r, clierr.New(clierr.CodeInternal, fmt.Sprintf("internal error: %v", p)))
		}
		res.Timestamp = e.now().UTC()
		e.metrics.observeResult(res, e.now().Sub(started))
		e.persist(ctx, r)
	}()

	if err := validateRequest(req); err != nil {
		e.fail(r, err)
		return res
	}
	if req.Transaction != nil {
		r.prebuilt = *req.Transaction
	}

	var preValue float64
	if e.recorder != nil && req.Action != nil && e.valuer != nil {
		preValue = e.portfolioValue(ctx, r)
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxRetries; attempt++ {
		r.attempt = attempt
		res.Attempts = attempt
		if attempt > 1 {
			stop, err := e.beforeRetry(ctx, r, lastErr)
			if err != nil {
				lastErr = err
			}
			if stop {
				break
			}
		}
		e.metrics.observeAttempt(attempt)
		conf, err := e.attemptOnce(ctx, r)
		if err == nil {
			res.Success = true
			res.Signature = conf.Signature.String()
			res.Slot = conf.Slot
			res.ComputeUnits = conf.ComputeUnits
			e.emit(r, State{Phase: PhaseConfirmed, Signature: res.Signature, Slot: conf.Slot, UnitsConsumed: conf.ComputeUnits})
			r.log.Info("transaction confirmed", "signature", res.Signature, "slot", conf.Slot, "attempts", attempt)
			lastErr = nil
			break
		}
		lastErr = err
		retryable := IsRetryable(err) && ctx.Err() == nil
		if !isDecision(err) {
			e.emit(r, State{Phase: PhaseFailed, Error: err.Error(), Retryable: retryable})
		}
		r.log.Warn("execution attempt failed", "attempt", attempt, "error", err, "retryable", retryable)
		if !retryable {
			break
		}
		if attempt == cfg.MaxRetries {
			lastErr = &RetriesExhaustedError{Attempts: attempt, Last: err}
		}
	}
	if !res.Success && lastErr != nil {
		e.fail(r, lastErr)
	}

	if e.recorder != nil && req.Action != nil && r.sent {
		postValue := preValue
		if e.valuer != nil {
			postValue = e.portfolioValue(ctx, r)
		}
		e.recorder.RecordExecution(res, preValue, postValue)
		if e.guard != nil {
			e.metrics.ObserveBreaker(e.guard.CircuitBreakerState())
		}
	}
	return res
}

// beforeRetry sleeps the backoff and checks whether an ambiguous earlier
// send landed after all. It reports whether the loop should stop, with the
// error to report when it stops without success.
func (e *Engine) beforeRetry(ctx context.Context, r *run, lastErr error) (bool, error) {
	delay := r.cfg.RetryDelay * time.Duration(r.attempt-1)
	e.emit(r, State{Phase: PhaseRetrying, Delay: delay, Error: errString(lastErr)})
	if err := sleepContext(ctx, delay); err != nil {
		r.result.Attempts = r.attempt - 1
		return true, err
	}
	if r.lastSig.IsZero() || !ambiguous(lastErr) {
		return false, nil
	}
	ok, err := r.tracker.IsConfirmed(ctx, r.lastSig)
	if err != nil || !ok {
		return false, nil
	}
	conf := r.tracker.settle(ctx, r.lastSig, 0)
	r.result.Attempts = r.attempt - 1
	r.result.Success = true
	r.result.Signature = r.lastSig.String()
	r.result.Slot = conf.Slot
	r.result.ComputeUnits = conf.ComputeUnits
	e.emit(r, State{Phase: PhaseConfirmed, Signature: r.result.Signature, Slot: conf.Slot, UnitsConsumed: conf.ComputeUnits})
	r.log.Info("earlier attempt confirmed late; not resending", "signature", r.result.Signature)
	return true, nil
}

func (e *Engine) attemptOnce(ctx context.Context, r *run) (Confirmation, error) {
	if err := e.checkBreaker(); err != nil {
		e.metrics.observeVeto()
		e.emit(r, State{Phase: PhaseVetoed, Error: err.Error()})
		return Confirmation{}, err
	}

	e.emit(r, State{Phase: PhaseBuilding})
	unsigned, err := e.build(ctx, r)
	if err != nil {
		return Confirmation{}, err
	}
	// Every attempt signs its own content; a refreshed time-bound always
	// gets a new signature.
	signed, err := unsigned.Sign(r.req.Signer)
	if err != nil {
		return Confirmation{}, clierr.Wrap(clierr.CodeSigner, "sign transaction", err)
	}

	if r.cfg.SimulateBeforeSend {
		e.emit(r, State{Phase: PhaseSimulating})
		sim, err := r.builder.Simulate(ctx, signed)
		if err != nil {
			return Confirmation{}, fmt.Errorf("simulate transaction: %w", err)
		}
		r.result.UnitsSimulated = sim.UnitsConsumed
		if !sim.Success {
			return Confirmation{}, &SimulationError{Detail: sim.Err, UnitsConsumed: sim.UnitsConsumed, Logs: sim.Logs}
		}
	}

	if r.req.Action != nil {
		e.emit(r, State{Phase: PhaseRiskCheck})
		if err := e.validate(r); err != nil {
			e.metrics.observeVeto()
			e.emit(r, State{Phase: PhaseVetoed, Error: err.Error()})
			return Confirmation{}, err
		}
	}

	if r.cfg.Mode == ModeAdvisory {
		e.emit(r, State{Phase: PhaseAdvisory})
		return Confirmation{}, ErrAdvisory
	}
	if err := e.checkBreaker(); err != nil {
		e.metrics.observeVeto()
		e.emit(r, State{Phase: PhaseVetoed, Error: err.Error()})
		return Confirmation{}, err
	}

	e.emit(r, State{Phase: PhaseSending, Signature: signed.Signature().String()})
	// From here the transaction may reach the network; it cannot be recalled.
	r.lastSig = signed.Signature()
	r.sent = true
	sig, err := e.client.SendTransaction(ctx, signed, ledger.SendOptions{
		SkipPreflight:       r.cfg.SkipPreflight,
		PreflightCommitment: r.cfg.Commitment,
	})
	if err != nil {
		return Confirmation{}, &SendError{Err: err, Retryable: matchesRetryable(err.Error())}
	}
	if sig != r.lastSig {
		r.log.Warn("node returned a different signature", "expected", r.lastSig.String(), "got", sig.String())
		r.lastSig = sig
	}

	e.emit(r, State{Phase: PhaseConfirming, Signature: sig.String()})
	return r.tracker.WaitForConfirmation(ctx, sig, signed.TimeBound(), r.cfg.ConfirmationTimeout)
}

// build produces the attempt's unsigned transaction. Pre-built
// transactions only get their time-bound replaced.
func (e *Engine) build(ctx context.Context, r *run) (ledger.UnsignedTx, error) {
	if r.req.Transaction != nil {
		if r.attempt == 1 && !r.prebuilt.TimeBound.IsZero() {
			return r.prebuilt, nil
		}
		refreshed, err := r.builder.Refresh(ctx, r.prebuilt)
		if err != nil {
			return ledger.UnsignedTx{}, err
		}
		r.prebuilt = refreshed
		return refreshed, nil
	}
	budget := Budget{ComputeUnitLimit: r.cfg.ComputeUnitLimit, PriorityFeeMicroLamports: r.cfg.PriorityFeeMicroLamports}
	if r.req.Budget != nil {
		budget = *r.req.Budget
	}
	return r.builder.Build(ctx, r.req.Signer.PublicKey(), r.req.Instructions, budget)
}

func (e *Engine) validate(r *run) error {
	if e.validator == nil {
		return &VetoError{Summary: "no risk validator configured for a bound action"}
	}
	assessment := e.validator.Validate(*r.req.Action)
	r.result.Assessment = &assessment
	if !assessment.Approved {
		return &VetoError{Summary: assessment.Summary, Checks: assessment.Checks}
	}
	return nil
}

func (e *Engine) checkBreaker() error {
	if e.guard == nil || !e.guard.IsTripped() {
		return nil
	}
	return &BreakerActiveError{Reason: e.guard.CircuitBreakerState().Reason}
}

func (e *Engine) portfolioValue(ctx context.Context, r *run) float64 {
	v, err := e.valuer.PortfolioValue(ctx)
	if err != nil {
		r.log.Warn("portfolio valuation failed", "error", err)
		return 0
	}
	return v
}

func (e *Engine) fail(r *run, err error) {
	res := r.result
	res.Success = false
	res.Err = err
	res.Error = err.Error()
	res.ErrorCode = ErrorCode(err).String()
	if !r.lastSig.IsZero() && res.Signature == "" {
		res.Signature = r.lastSig.String()
	}
}

func (e *Engine) persist(ctx context.Context, r *run) {
	if e.journal == nil {
		return
	}
	entry := NewJournalEntry(*r.result, r.req, r.sent)
	if err := e.journal.Record(context.WithoutCancel(ctx), entry); err != nil {
		r.log.Error("journal write failed", "error", err)
	}
}

func (e *Engine) emit(r *run, st State) {
	st.ExecutionID = r.id
	st.Attempt = r.attempt
	st.Description = r.req.Description
	st.At = e.now().UTC()
	e.mu.RLock()
	listeners := slices.Clone(e.listeners)
	e.mu.RUnlock()
	for _, fn := range listeners {
		e.notify(r, fn, st)
	}
}

// notify isolates the loop from observer panics.
func (e *Engine) notify(r *run, fn func(State), st State) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Warn("state observer panicked", "panic", p)
		}
	}()
	fn(st)
}

func validateRequest(req Request) error {
	if req.Signer == nil {
		return clierr.New(clierr.CodeSigner, "missing signer")
	}
	hasInstructions := len(req.Instructions) > 0
	hasTx := req.Transaction != nil
	switch {
	case hasInstructions && hasTx:
		return &BuildError{Err: errors.New("request has both instructions and a pre-built transaction")}
	case !hasInstructions && !hasTx:
		return &BuildError{Err: errors.New("request has no instructions")}
	case hasTx && len(req.Transaction.Instructions) == 0:
		return &BuildError{Err: errors.New("pre-built transaction has no instructions")}
	}
	return nil
}

// isDecision reports errors that already emitted a vetoed or advisory state.
func isDecision(err error) bool {
	var veto *VetoError
	var breaker *BreakerActiveError
	return errors.As(err, &veto) || errors.As(err, &breaker) || errors.Is(err, ErrAdvisory)
}

// ambiguous reports failures after which the previous transaction may
// still land.
func ambiguous(err error) bool {
	var send *SendError
	return errors.Is(err, ErrConfirmationTimeout) || errors.As(err, &send)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
