package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	clierr "github.com/ggonzalez94/solagent/internal/errors"
	"github.com/ggonzalez94/solagent/internal/execution"
	"github.com/ggonzalez94/solagent/internal/execution/actionbuilder"
	execsigner "github.com/ggonzalez94/solagent/internal/execution/signer"
	"github.com/ggonzalez94/solagent/internal/ledger"
	"github.com/ggonzalez94/solagent/internal/risk"
	"github.com/ggonzalez94/solagent/internal/units"
)

const advisoryWarning = "advisory mode: transaction validated but not sent"

type signerArgs struct {
	keySource  string
	privateKey string
}

func (a *signerArgs) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&a.keySource, "key-source", execsigner.KeySourceAuto, "Key source (auto|env|file)")
	cmd.Flags().StringVar(&a.privateKey, "private-key", "", "Private key override (base58); prefer "+execsigner.EnvPrivateKey)
}

func (a signerArgs) load() (*execsigner.LocalSigner, error) {
	txSigner, err := execsigner.NewLocalSignerFromInputs(a.keySource, a.privateKey)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeSigner, "load signer", err)
	}
	return txSigner, nil
}

type budgetArgs struct {
	computeUnitLimit uint32
	priorityFee      uint64
}

func (a *budgetArgs) register(cmd *cobra.Command) {
	cmd.Flags().Uint32Var(&a.computeUnitLimit, "compute-unit-limit", 0, "Compute unit limit override")
	cmd.Flags().Uint64Var(&a.priorityFee, "priority-fee", 0, "Priority fee override in micro-lamports per compute unit")
}

// budget returns nil unless a flag was given so the engine defaults apply.
func (a budgetArgs) budget(cmd *cobra.Command, defaults execution.Config) *execution.Budget {
	if !cmd.Flags().Changed("compute-unit-limit") && !cmd.Flags().Changed("priority-fee") {
		return nil
	}
	b := &execution.Budget{
		ComputeUnitLimit:         defaults.ComputeUnitLimit,
		PriorityFeeMicroLamports: defaults.PriorityFeeMicroLamports,
	}
	if cmd.Flags().Changed("compute-unit-limit") {
		b.ComputeUnitLimit = a.computeUnitLimit
	}
	if cmd.Flags().Changed("priority-fee") {
		b.PriorityFeeMicroLamports = a.priorityFee
	}
	return b
}

func (s *runtimeState) newExecCommand() *cobra.Command {
	root := &cobra.Command{Use: "exec", Short: "Validate, sign and submit transactions"}
	root.AddCommand(s.newExecTransferCommand())
	root.AddCommand(s.newExecPlanCommand())
	return root
}

func (s *runtimeState) newExecTransferCommand() *cobra.Command {
	var (
		to            string
		amountBase    string
		amountDecimal string
		protocol      string
		rationale     string
		keys          signerArgs
		budget        budgetArgs
	)
	cmd := &cobra.Command{
		Use:   "transfer",
		Short: "Transfer native tokens through the risk-gated pipeline",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext()
			defer stop()

			recipient, err := ledger.ParsePublicKey(to)
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "parse --to", err)
			}
			lamports, err := units.ParseLamports(amountBase, amountDecimal)
			if err != nil {
				return err
			}
			txSigner, err := keys.load()
			if err != nil {
				return err
			}
			params := actionbuilder.TransferParams{Recipient: recipient, Amount: lamports}
			built, err := s.actionRegistry().Build(ctx, protocol, txSigner.PublicKey(), params)
			if err != nil {
				return err
			}

			p, err := s.newPipeline(ctx, txSigner.PublicKey())
			if err != nil {
				return err
			}
			price := p.manager.Portfolio().NativePriceFiat
			action := actionbuilder.Propose(protocol, params, -units.LamportsToNative(lamports)*price, rationale)
			res := p.engine.Execute(ctx, execution.Request{
				Instructions: built.Instructions,
				Signer:       txSigner,
				Description:  built.Description,
				Action:       &action,
				Budget:       budget.budget(cmd, s.settings.Engine),
			})
			return s.finishExecution(cmd, p.manager, res)
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "Recipient public key (base58)")
	cmd.Flags().StringVar(&amountBase, "amount", "", "Amount in lamports")
	cmd.Flags().StringVar(&amountDecimal, "amount-decimal", "", "Amount in SOL")
	cmd.Flags().StringVar(&protocol, "protocol", "system", "Adapter that builds the transfer")
	cmd.Flags().StringVar(&rationale, "rationale", "", "Why the agent proposes this action")
	keys.register(cmd)
	budget.register(cmd)
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

// planFile is the on-disk form of a pre-assembled instruction list. Action is
// optional; without it only the circuit breaker gates the send.
type planFile struct {
	Description  string               `json:"description"`
	Instructions []ledger.Instruction `json:"instructions"`
	Action       *risk.ProposedAction `json:"action,omitempty"`
	Budget       *execution.Budget    `json:"budget,omitempty"`
}

func (s *runtimeState) newExecPlanCommand() *cobra.Command {
	var (
		file   string
		keys   signerArgs
		budget budgetArgs
	)
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Execute instructions from a plan file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext()
			defer stop()

			plan, err := readPlanFile(file, cmd.InOrStdin())
			if err != nil {
				return err
			}
			txSigner, err := keys.load()
			if err != nil {
				return err
			}
			p, err := s.newPipeline(ctx, txSigner.PublicKey())
			if err != nil {
				return err
			}
			req := execution.Request{
				Instructions: plan.Instructions,
				Signer:       txSigner,
				Description:  plan.Description,
				Action:       plan.Action,
				Budget:       plan.Budget,
			}
			if b := budget.budget(cmd, s.settings.Engine); b != nil {
				req.Budget = b
			}
			res := p.engine.Execute(ctx, req)
			return s.finishExecution(cmd, p.manager, res)
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "Plan JSON path, or - for stdin")
	keys.register(cmd)
	budget.register(cmd)
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func readPlanFile(path string, stdin io.Reader) (planFile, error) {
	var (
		buf []byte
		err error
	)
	if strings.TrimSpace(path) == "-" {
		buf, err = io.ReadAll(stdin)
	} else {
		buf, err = os.ReadFile(path)
	}
	if err != nil {
		return planFile{}, clierr.Wrap(clierr.CodeUsage, "read plan file", err)
	}
	var plan planFile
	if err := json.Unmarshal(buf, &plan); err != nil {
		return planFile{}, clierr.Wrap(clierr.CodeUsage, "decode plan file", err)
	}
	if len(plan.Instructions) == 0 {
		return planFile{}, clierr.New(clierr.CodeUsage, "plan file has no instructions")
	}
	for i, ix := range plan.Instructions {
		if len(ix.Accounts) == 0 && len(ix.Data) == 0 {
			return planFile{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("plan instruction %d is empty", i))
		}
	}
	return plan, nil
}

// finishExecution flushes metrics and maps the result onto the envelope.
// Advisory results are a successful outcome carrying the assessment.
func (s *runtimeState) finishExecution(cmd *cobra.Command, mgr *risk.Manager, res execution.Result) error {
	s.flushMetrics(mgr)
	path := trimRootPath(cmd.CommandPath())
	if errors.Is(res.Err, execution.ErrAdvisory) {
		return s.emitSuccess(path, res, []string{advisoryWarning}, cacheMetaBypass())
	}
	if res.Err != nil {
		return res.Err
	}
	return s.emitSuccess(path, res, nil, cacheMetaBypass())
}
