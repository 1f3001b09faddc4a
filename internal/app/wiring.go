package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/ggonzalez94/solagent/internal/cache"
	clierr "github.com/ggonzalez94/solagent/internal/errors"
	"github.com/ggonzalez94/solagent/internal/execution"
	"github.com/ggonzalez94/solagent/internal/execution/actionbuilder"
	"github.com/ggonzalez94/solagent/internal/httpx"
	"github.com/ggonzalez94/solagent/internal/ledger"
	"github.com/ggonzalez94/solagent/internal/ledger/rpcclient"
	"github.com/ggonzalez94/solagent/internal/logging"
	"github.com/ggonzalez94/solagent/internal/portfolio"
	"github.com/ggonzalez94/solagent/internal/risk"
)

func dialRPC(ctx context.Context, cfg rpcclient.Config) (ledger.Client, func(), error) {
	client, err := rpcclient.Dial(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return client, client.Close, nil
}

// pipeline is everything an execution command needs, wired for one owner.
type pipeline struct {
	client    ledger.Client
	manager   *risk.Manager
	portfolio *portfolio.Provider
	engine    *execution.Engine
}

// signalContext is canceled on SIGINT or SIGTERM so an in-flight retry loop
// stops at its next checkpoint.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func (s *runtimeState) ensureJournal() (*execution.Store, error) {
	if s.journal != nil {
		return s.journal, nil
	}
	store, err := execution.OpenStore(s.settings.JournalPath, s.settings.JournalLockPath)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "open journal", err)
	}
	s.journal = store
	return store, nil
}

func (s *runtimeState) ensureLedger(ctx context.Context) (ledger.Client, error) {
	if s.ledger != nil {
		return s.ledger, nil
	}
	url, err := rpcclient.ResolveRPCURL(s.settings.RPCURL, s.settings.Cluster)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUsage, "resolve rpc endpoint", err)
	}
	dialCtx, cancel := context.WithTimeout(ctx, s.settings.Timeout)
	defer cancel()
	client, closeFn, err := s.runner.dial(dialCtx, rpcclient.Config{
		URL:               url,
		RequestsPerSecond: s.settings.RPCRequestsPerSecond,
		Burst:             s.settings.RPCBurst,
	})
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "connect to ledger", err)
	}
	s.ledger = client
	s.closeLedger = closeFn
	return client, nil
}

// priceSource is the Jupiter price feed behind the sqlite cache unless
// caching is disabled.
func (s *runtimeState) priceSource() (portfolio.PriceSource, error) {
	var source portfolio.PriceSource = portfolio.NewJupiterPrices(
		httpx.New(s.settings.Timeout, s.settings.Retries),
		s.settings.PriceURL,
		s.settings.PriceAPIKey,
	)
	if !s.settings.CacheEnabled {
		return source, nil
	}
	if s.cache == nil {
		store, err := cache.Open(s.settings.CachePath, s.settings.CacheLockPath)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeInternal, "open cache", err)
		}
		s.cache = store
	}
	maxStale := s.settings.MaxStale
	if s.settings.NoStale {
		maxStale = 0
	}
	return portfolio.NewCachedPrices(source, s.cache, s.settings.PriceCacheTTL, maxStale, logging.Named("prices")), nil
}

// riskManager builds the policy engine over the shared journal so breaker
// state and operator limit overrides carry across invocations.
func (s *runtimeState) riskManager(ctx context.Context) (*risk.Manager, error) {
	store, err := s.ensureJournal()
	if err != nil {
		return nil, err
	}
	mgr, err := risk.NewManager(s.settings.Risk,
		risk.WithStateStore(store),
		risk.WithLogger(logging.Named("risk")),
		risk.WithAuditLogger(logging.Audit()),
	)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUsage, "configure risk limits", err)
	}
	if err := mgr.Load(ctx); err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "load circuit breaker state", err)
	}
	overrides, err := store.LoadLimitOverrides(ctx)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "load limit overrides", err)
	}
	if !overrides.IsEmpty() {
		if _, err := mgr.SetLimits(overrides); err != nil {
			return nil, clierr.Wrap(clierr.CodeUsage, "apply stored limit overrides", err)
		}
	}
	return mgr, nil
}

func (s *runtimeState) portfolioProvider(ctx context.Context, owner ledger.PublicKey) (*portfolio.Provider, error) {
	client, err := s.ensureLedger(ctx)
	if err != nil {
		return nil, err
	}
	prices, err := s.priceSource()
	if err != nil {
		return nil, err
	}
	return portfolio.NewProvider(client, owner, prices, s.settings.Engine.Commitment), nil
}

// newPipeline wires ledger, risk policy, portfolio valuation, journal and
// metrics into an engine. The portfolio snapshot is refreshed first so the
// risk checks see current balances.
func (s *runtimeState) newPipeline(ctx context.Context, owner ledger.PublicKey) (*pipeline, error) {
	mgr, err := s.riskManager(ctx)
	if err != nil {
		return nil, err
	}
	provider, err := s.portfolioProvider(ctx, owner)
	if err != nil {
		return nil, err
	}
	snapCtx, cancel := context.WithTimeout(ctx, s.settings.Timeout)
	snap, err := provider.Snapshot(snapCtx)
	cancel()
	if err != nil {
		return nil, err
	}
	mgr.UpdatePortfolio(snap)

	if s.metrics == nil {
		s.metrics = execution.NewMetrics()
	}
	engine, err := execution.NewEngine(s.ledger,
		execution.WithConfig(s.settings.Engine),
		execution.WithRiskValidator(mgr),
		execution.WithBreakerGuard(mgr),
		execution.WithRecorder(mgr),
		execution.WithValuer(provider),
		execution.WithJournal(s.journal),
		execution.WithMetrics(s.metrics),
		execution.WithLogger(logging.Named("engine")),
	)
	if err != nil {
		return nil, err
	}
	return &pipeline{client: s.ledger, manager: mgr, portfolio: provider, engine: engine}, nil
}

func (s *runtimeState) actionRegistry() *actionbuilder.Registry {
	return actionbuilder.New(actionbuilder.SystemAdapter{})
}

// flushMetrics mirrors the breaker and writes the textfile when configured.
func (s *runtimeState) flushMetrics(mgr *risk.Manager) {
	if s.metrics == nil || s.settings.MetricsFile == "" {
		return
	}
	if mgr != nil {
		s.metrics.ObserveBreaker(mgr.CircuitBreakerState())
	}
	if err := s.metrics.WriteTextfile(s.settings.MetricsFile); err != nil {
		logging.Named("metrics").Warn("write metrics textfile failed", "path", s.settings.MetricsFile, "err", err)
	}
}
