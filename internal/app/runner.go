package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ggonzalez94/solagent/internal/cache"
	"github.com/ggonzalez94/solagent/internal/config"
	clierr "github.com/ggonzalez94/solagent/internal/errors"
	"github.com/ggonzalez94/solagent/internal/execution"
	"github.com/ggonzalez94/solagent/internal/ledger"
	"github.com/ggonzalez94/solagent/internal/ledger/rpcclient"
	"github.com/ggonzalez94/solagent/internal/logging"
	"github.com/ggonzalez94/solagent/internal/model"
	"github.com/ggonzalez94/solagent/internal/out"
	"github.com/ggonzalez94/solagent/internal/policy"
	"github.com/ggonzalez94/solagent/internal/schema"
	"github.com/ggonzalez94/solagent/internal/version"
)

// LedgerDialer opens a ledger client. The returned func releases it.
type LedgerDialer func(ctx context.Context, cfg rpcclient.Config) (ledger.Client, func(), error)

type Runner struct {
	stdout      io.Writer
	stderr      io.Writer
	now         func() time.Time
	dial        LedgerDialer
	interactive func() bool
}

func NewRunner() *Runner {
	return NewRunnerWithWriters(os.Stdout, os.Stderr)
}

func NewRunnerWithWriters(stdout, stderr io.Writer) *Runner {
	return &Runner{
		stdout:      stdout,
		stderr:      stderr,
		now:         time.Now,
		dial:        dialRPC,
		interactive: stdinIsTerminal,
	}
}

type runtimeState struct {
	runner       *Runner
	flags        config.GlobalFlags
	settings     config.Settings
	root         *cobra.Command
	lastCommand  string
	lastWarnings []string
	operator     string

	cache       *cache.Store
	journal     *execution.Store
	ledger      ledger.Client
	closeLedger func()
	metrics     *execution.Metrics
}

func (r *Runner) Run(args []string) int {
	state := &runtimeState{runner: r}
	root := state.newRootCommand()
	state.root = root
	root.SetArgs(args)
	root.SetOut(r.stdout)
	root.SetErr(r.stderr)
	root.SilenceUsage = true
	root.SilenceErrors = true

	err := root.Execute()
	err = normalizeRunError(err)
	if err != nil {
		state.renderError("", err, state.lastWarnings)
	}
	state.close()
	_ = logging.Sync()
	return int(execution.ErrorCode(err))
}

func (s *runtimeState) newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   version.CLIName,
		Short: "Policy-gated transaction execution for autonomous agents",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" {
				return nil
			}
			settings, err := config.Load(s.flags)
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "load configuration", err)
			}
			s.settings = settings
			if err := logging.Init(settings.Log); err != nil {
				return clierr.Wrap(clierr.CodeUsage, "init logging", err)
			}

			path := trimRootPath(cmd.CommandPath())
			s.lastCommand = path
			if err := policy.CheckCommandAllowed(settings.EnableCommands, path); err != nil {
				return err
			}
			return s.checkHumanOnly(cmd)
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return clierr.Wrap(clierr.CodeUsage, "parse flags", err)
	})

	cmd.PersistentFlags().BoolVar(&s.flags.JSON, "json", false, "Output JSON (default)")
	cmd.PersistentFlags().BoolVar(&s.flags.Plain, "plain", false, "Output plain text")
	cmd.PersistentFlags().StringVar(&s.flags.Select, "select", "", "Select fields from data (comma-separated)")
	cmd.PersistentFlags().BoolVar(&s.flags.ResultsOnly, "results-only", false, "Output only data payload")
	cmd.PersistentFlags().StringVar(&s.flags.EnableCommands, "enable-commands", "", "Allowlist command paths (comma-separated)")
	cmd.PersistentFlags().StringVar(&s.flags.Timeout, "timeout", "", "Upstream request timeout")
	cmd.PersistentFlags().IntVar(&s.flags.Retries, "retries", -1, "Retries per upstream HTTP request")
	cmd.PersistentFlags().StringVar(&s.flags.MaxStale, "max-stale", "", "Maximum stale price window after TTL expiry")
	cmd.PersistentFlags().BoolVar(&s.flags.NoStale, "no-stale", false, "Reject stale cached prices")
	cmd.PersistentFlags().BoolVar(&s.flags.NoCache, "no-cache", false, "Disable price cache reads and writes")
	cmd.PersistentFlags().StringVar(&s.flags.ConfigPath, "config", "", "Path to config file")
	cmd.PersistentFlags().StringVar(&s.flags.RPCURL, "rpc-url", "", "Ledger JSON-RPC endpoint (overrides --cluster)")
	cmd.PersistentFlags().StringVar(&s.flags.Cluster, "cluster", "", "Cluster name ("+strings.Join(rpcclient.Clusters(), "|")+")")
	cmd.PersistentFlags().StringVar(&s.flags.Commitment, "commitment", "", "Confirmation commitment (processed|confirmed|finalized)")
	cmd.PersistentFlags().StringVar(&s.flags.Mode, "mode", "", "Agent mode (auto|advisory)")
	cmd.PersistentFlags().StringVar(&s.flags.MetricsFile, "metrics-file", "", "Write prometheus textfile metrics to this path")
	cmd.PersistentFlags().StringVar(&s.flags.LogLevel, "log-level", "", "Log level (debug|info|warn|error)")
	cmd.PersistentFlags().StringVar(&s.flags.LogFormat, "log-format", "", "Log format (text|json)")

	cmd.AddCommand(s.newExecCommand())
	cmd.AddCommand(s.newRiskCommand())
	cmd.AddCommand(s.newJournalCommand())
	cmd.AddCommand(s.newConfigCommand())
	cmd.AddCommand(s.newSchemaCommand())
	cmd.AddCommand(newVersionCommand())

	return cmd
}

func newVersionCommand() *cobra.Command {
	var long bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print CLI version",
		Run: func(cmd *cobra.Command, args []string) {
			if long {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.Long())
				return
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.CLIVersion)
		},
	}
	cmd.Flags().BoolVar(&long, "long", false, "Print extended build metadata")
	return cmd
}

func (s *runtimeState) newSchemaCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema [command path]",
		Short: "Print machine-readable command schema",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) > 0 {
				path = strings.Join(args, " ")
			}
			data, err := schema.Build(s.root, path)
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "build schema", err)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), data, nil, cacheMetaBypass())
		},
	}
	return cmd
}

// checkHumanOnly resolves the operator for annotated commands. On a terminal
// the login name stands in when --operator is omitted.
func (s *runtimeState) checkHumanOnly(cmd *cobra.Command) error {
	if cmd.Annotations[policy.AnnotationHumanOnly] != "true" {
		return nil
	}
	operator, _ := cmd.Flags().GetString("operator")
	operator = strings.TrimSpace(operator)
	interactive := s.runner.interactive()
	if operator == "" && interactive {
		operator = strings.TrimSpace(os.Getenv("USER"))
	}
	s.operator = operator
	return policy.CheckHumanOnly(cmd.Annotations, policy.HumanGate{
		Operator:         operator,
		OperatorExplicit: cmd.Flags().Changed("operator"),
		Interactive:      interactive,
	})
}

func (s *runtimeState) emitSuccess(commandPath string, data any, warnings []string, cacheStatus model.CacheStatus) error {
	env := model.Envelope{
		Version:  model.EnvelopeVersion,
		Success:  true,
		Data:     data,
		Error:    nil,
		Warnings: warnings,
		Meta:     s.meta(commandPath, cacheStatus),
	}
	return out.Render(s.runner.stdout, env, s.settings)
}

func (s *runtimeState) renderError(commandPath string, err error, warnings []string) {
	if strings.TrimSpace(commandPath) == "" {
		commandPath = s.lastCommand
		if commandPath == "" {
			commandPath = version.CLIName
		}
	}
	code := execution.ErrorCode(err)
	typ := code.String()
	switch code {
	case clierr.CodeUsage:
		typ = "usage_error"
	case clierr.CodeAuth:
		typ = "auth_error"
	case clierr.CodeUnavailable:
		typ = "upstream_unavailable"
	case clierr.CodeStale:
		typ = "stale_data"
	case clierr.CodeBlocked:
		typ = "command_blocked"
	case clierr.CodeSigner:
		typ = "signer_error"
	case clierr.CodeInternal:
		typ = "internal_error"
	}

	settings := s.settings
	if settings.OutputMode == "" {
		settings.OutputMode = "json"
	}
	settings.ResultsOnly = false
	settings.SelectFields = nil
	env := model.Envelope{
		Version: model.EnvelopeVersion,
		Success: false,
		Data:    []any{},
		Error: &model.ErrorBody{
			Code:    int(code),
			Type:    typ,
			Message: err.Error(),
		},
		Warnings: warnings,
		Meta:     s.meta(commandPath, cacheMetaBypass()),
	}
	_ = out.Render(s.runner.stderr, env, settings)
}

func (s *runtimeState) meta(commandPath string, cacheStatus model.CacheStatus) model.EnvelopeMeta {
	return model.EnvelopeMeta{
		RequestID: newRequestID(),
		Timestamp: s.runner.now().UTC(),
		Command:   commandPath,
		Cluster:   s.settings.Cluster,
		Mode:      string(s.settings.Engine.Mode),
		Cache:     cacheStatus,
	}
}

func (s *runtimeState) close() {
	if s.closeLedger != nil {
		s.closeLedger()
	}
	if s.journal != nil {
		_ = s.journal.Close()
	}
	if s.cache != nil {
		_ = s.cache.Close()
	}
}

func newRequestID() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func trimRootPath(path string) string {
	parts := strings.Fields(path)
	if len(parts) <= 1 {
		return path
	}
	return strings.Join(parts[1:], " ")
}

func cacheMetaBypass() model.CacheStatus {
	return model.CacheStatus{Status: "bypass", AgeMS: 0, Stale: false}
}

func normalizeRunError(err error) error {
	if err == nil {
		return nil
	}
	if execution.ErrorCode(err) != clierr.CodeInternal {
		return err
	}
	if _, ok := clierr.As(err); ok {
		return err
	}
	if isLikelyUsageError(err) {
		return clierr.Wrap(clierr.CodeUsage, "invalid command input", err)
	}
	return clierr.Wrap(clierr.CodeInternal, "execute command", err)
}

func isLikelyUsageError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	patterns := []string{
		"unknown command",
		"unknown flag",
		"required flag(s)",
		"flag needs an argument",
		"requires at least",
		"requires exactly",
		"accepts ",
		"invalid argument",
		"invalid args",
	}
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

func stdinIsTerminal() bool {
	info, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
