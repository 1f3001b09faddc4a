package actionbuilder

import (
	"github.com/ggonzalez94/solagent/internal/ledger"
	"github.com/ggonzalez94/solagent/internal/risk"
)

// Params is the closed set of action kinds. Each variant carries only the
// fields its kind needs; the unexported method keeps the set sealed.
type Params interface {
	Kind() risk.ActionType
	params()
}

type SwapParams struct {
	InputMint   string
	OutputMint  string
	Amount      uint64
	SlippageBps int
}

type StakeParams struct {
	Pool   string
	Amount uint64
}

type UnstakeParams struct {
	Pool   string
	Amount uint64
}

type ProvideLiquidityParams struct {
	Pool        string
	MintA       string
	MintB       string
	AmountA     uint64
	AmountB     uint64
	SlippageBps int
}

type RemoveLiquidityParams struct {
	Pool        string
	Shares      uint64
	SlippageBps int
}

// TransferParams moves Amount of Mint; an empty Mint is the native asset.
type TransferParams struct {
	Recipient ledger.PublicKey
	Mint      string
	Amount    uint64
}

func (SwapParams) Kind() risk.ActionType             { return risk.ActionSwap }
func (StakeParams) Kind() risk.ActionType            { return risk.ActionStake }
func (UnstakeParams) Kind() risk.ActionType          { return risk.ActionUnstake }
func (ProvideLiquidityParams) Kind() risk.ActionType { return risk.ActionProvideLiquidity }
func (RemoveLiquidityParams) Kind() risk.ActionType  { return risk.ActionRemoveLiquidity }
func (TransferParams) Kind() risk.ActionType         { return risk.ActionTransfer }

func (SwapParams) params()             {}
func (StakeParams) params()            {}
func (UnstakeParams) params()          {}
func (ProvideLiquidityParams) params() {}
func (RemoveLiquidityParams) params()  {}
func (TransferParams) params()         {}

// Propose describes params as a risk-checkable action.
func Propose(protocol string, p Params, expectedValueChange float64, rationale string) risk.ProposedAction {
	a := risk.ProposedAction{
		Type:                p.Kind(),
		Protocol:            protocol,
		ExpectedValueChange: expectedValueChange,
		Rationale:           rationale,
	}
	switch v := p.(type) {
	case SwapParams:
		a.InputMint, a.OutputMint, a.Amount, a.MaxSlippageBps = v.InputMint, v.OutputMint, v.Amount, v.SlippageBps
	case StakeParams:
		a.InputMint, a.OutputMint, a.Amount = ledger.NativeMint, v.Pool, v.Amount
	case UnstakeParams:
		a.InputMint, a.OutputMint, a.Amount = v.Pool, ledger.NativeMint, v.Amount
	case ProvideLiquidityParams:
		a.InputMint, a.OutputMint, a.Amount, a.MaxSlippageBps = v.MintA, v.Pool, v.AmountA, v.SlippageBps
	case RemoveLiquidityParams:
		a.InputMint, a.Amount, a.MaxSlippageBps = v.Pool, v.Shares, v.SlippageBps
	case TransferParams:
		a.InputMint, a.Amount = v.Mint, v.Amount
		if a.InputMint == "" {
			a.InputMint = ledger.NativeMint
		}
	}
	return a
}
