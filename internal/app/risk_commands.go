package app

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	clierr "github.com/ggonzalez94/solagent/internal/errors"
	"github.com/ggonzalez94/solagent/internal/ledger"
	"github.com/ggonzalez94/solagent/internal/policy"
	"github.com/ggonzalez94/solagent/internal/risk"
)

func (s *runtimeState) newRiskCommand() *cobra.Command {
	root := &cobra.Command{Use: "risk", Short: "Inspect and manage the risk policy"}

	limits := &cobra.Command{Use: "limits", Short: "Risk limits"}
	limits.AddCommand(s.newRiskLimitsGetCommand())
	limits.AddCommand(s.newRiskLimitsSetCommand())

	breaker := &cobra.Command{Use: "breaker", Short: "Circuit breaker"}
	breaker.AddCommand(s.newBreakerStatusCommand())
	breaker.AddCommand(s.newBreakerResetCommand())

	root.AddCommand(limits)
	root.AddCommand(breaker)
	root.AddCommand(s.newRiskSnapshotCommand())
	return root
}

func (s *runtimeState) newRiskLimitsGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get",
		Short: "Show effective risk limits",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), s.settings.Timeout)
			defer cancel()
			mgr, err := s.riskManager(ctx)
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), mgr.Limits(), nil, cacheMetaBypass())
		},
	}
}

func (s *runtimeState) newRiskLimitsSetCommand() *cobra.Command {
	var (
		positionPct float64
		slippageBps int
		dailyLoss   float64
		minReserve  float64
		exposurePct float64
	)
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Update risk limits; unspecified limits keep their value",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var update risk.LimitsUpdate
			flags := cmd.Flags()
			if flags.Changed("max-position-size-pct") {
				update.MaxPositionSizePct = &positionPct
			}
			if flags.Changed("max-slippage-bps") {
				update.MaxSlippageBps = &slippageBps
			}
			if flags.Changed("max-daily-loss-pct") {
				update.MaxDailyLossPct = &dailyLoss
			}
			if flags.Changed("min-reserve") {
				update.MinReserve = &minReserve
			}
			if flags.Changed("max-protocol-exposure-pct") {
				update.MaxProtocolExposurePct = &exposurePct
			}
			if update.IsEmpty() {
				return clierr.New(clierr.CodeUsage, "no limits given")
			}

			ctx, cancel := context.WithTimeout(context.Background(), s.settings.Timeout)
			defer cancel()
			mgr, err := s.riskManager(ctx)
			if err != nil {
				return err
			}
			next, err := mgr.SetLimits(update)
			if err != nil {
				return err
			}
			stored, err := s.journal.LoadLimitOverrides(ctx)
			if err != nil {
				return clierr.Wrap(clierr.CodeInternal, "load limit overrides", err)
			}
			if err := s.journal.SaveLimitOverrides(ctx, stored.Overlay(update)); err != nil {
				return clierr.Wrap(clierr.CodeInternal, "save limit overrides", err)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), next, nil, cacheMetaBypass())
		},
	}
	cmd.Flags().Float64Var(&positionPct, "max-position-size-pct", 0, "Largest single action as a percent of portfolio value")
	cmd.Flags().IntVar(&slippageBps, "max-slippage-bps", 0, "Maximum slippage tolerance in basis points")
	cmd.Flags().Float64Var(&dailyLoss, "max-daily-loss-pct", 0, "Daily loss that trips the circuit breaker, percent of start-of-day value")
	cmd.Flags().Float64Var(&minReserve, "min-reserve", 0, "Native balance that must remain after an action")
	cmd.Flags().Float64Var(&exposurePct, "max-protocol-exposure-pct", 0, "Largest share of the portfolio in one protocol")
	return cmd
}

func (s *runtimeState) newBreakerStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show circuit breaker state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), s.settings.Timeout)
			defer cancel()
			mgr, err := s.riskManager(ctx)
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), mgr.CircuitBreakerState(), nil, cacheMetaBypass())
		},
	}
}

func (s *runtimeState) newBreakerResetCommand() *cobra.Command {
	var rebaseline float64
	cmd := &cobra.Command{
		Use:         "reset",
		Short:       "Clear a tripped circuit breaker (human operators only)",
		Annotations: map[string]string{policy.AnnotationHumanOnly: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), s.settings.Timeout)
			defer cancel()
			mgr, err := s.riskManager(ctx)
			if err != nil {
				return err
			}
			if err := mgr.ResetCircuitBreaker(s.operator, rebaseline); err != nil {
				return clierr.Wrap(clierr.CodeUsage, "reset circuit breaker", err)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), mgr.CircuitBreakerState(), nil, cacheMetaBypass())
		},
	}
	cmd.Flags().String("operator", "", "Name of the human operator performing the reset")
	cmd.Flags().Float64Var(&rebaseline, "rebaseline", 0, "New start-of-day portfolio value (fiat); 0 keeps the current one")
	return cmd
}

func (s *runtimeState) newRiskSnapshotCommand() *cobra.Command {
	var (
		owner string
		keys  signerArgs
	)
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Refresh the portfolio and show limits, breaker and valuation",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), s.settings.Timeout)
			defer cancel()

			var key ledger.PublicKey
			if strings.TrimSpace(owner) != "" {
				parsed, err := ledger.ParsePublicKey(owner)
				if err != nil {
					return clierr.Wrap(clierr.CodeUsage, "parse --owner", err)
				}
				key = parsed
			} else {
				txSigner, err := keys.load()
				if err != nil {
					return err
				}
				key = txSigner.PublicKey()
			}

			mgr, err := s.riskManager(ctx)
			if err != nil {
				return err
			}
			provider, err := s.portfolioProvider(ctx, key)
			if err != nil {
				return err
			}
			snap, err := provider.Snapshot(ctx)
			if err != nil {
				return err
			}
			mgr.UpdatePortfolio(snap)
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), mgr.Snapshot(), nil, cacheMetaBypass())
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "Wallet to value (defaults to the signer's public key)")
	keys.register(cmd)
	return cmd
}
