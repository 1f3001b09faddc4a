package actionbuilder

import (
	"context"
	"fmt"
	"sort"
	"strings"

	clierr "github.com/ggonzalez94/solagent/internal/errors"
	"github.com/ggonzalez94/solagent/internal/ledger"
	"github.com/ggonzalez94/solagent/internal/risk"
)

// Built is an adapter's output: an ordered, opaque instruction list.
type Built struct {
	Instructions []ledger.Instruction
	Description  string
}

// Adapter is a protocol integration. It declares what it can build by
// implementing the capability interfaces below.
type Adapter interface {
	Name() string
}

type Swapper interface {
	BuildSwap(ctx context.Context, owner ledger.PublicKey, p SwapParams) (Built, error)
}

type Staker interface {
	BuildStake(ctx context.Context, owner ledger.PublicKey, p StakeParams) (Built, error)
}

type Unstaker interface {
	BuildUnstake(ctx context.Context, owner ledger.PublicKey, p UnstakeParams) (Built, error)
}

type LiquidityProvider interface {
	BuildProvideLiquidity(ctx context.Context, owner ledger.PublicKey, p ProvideLiquidityParams) (Built, error)
}

type LiquidityRemover interface {
	BuildRemoveLiquidity(ctx context.Context, owner ledger.PublicKey, p RemoveLiquidityParams) (Built, error)
}

type Transferrer interface {
	BuildTransfer(ctx context.Context, owner ledger.PublicKey, p TransferParams) (Built, error)
}

type Registry struct {
	adapters map[string]Adapter
}

func New(adapters ...Adapter) *Registry {
	r := &Registry{adapters: map[string]Adapter{}}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

func (r *Registry) Register(a Adapter) {
	if a == nil {
		return
	}
	r.adapters[normalizeProtocol(a.Name())] = a
}

// Supports reports whether protocol can build actions of kind.
func (r *Registry) Supports(protocol string, kind risk.ActionType) bool {
	a, ok := r.adapters[normalizeProtocol(protocol)]
	return ok && supports(a, kind)
}

func supports(a Adapter, kind risk.ActionType) bool {
	switch kind {
	case risk.ActionSwap:
		_, ok := a.(Swapper)
		return ok
	case risk.ActionStake:
		_, ok := a.(Staker)
		return ok
	case risk.ActionUnstake:
		_, ok := a.(Unstaker)
		return ok
	case risk.ActionProvideLiquidity:
		_, ok := a.(LiquidityProvider)
		return ok
	case risk.ActionRemoveLiquidity:
		_, ok := a.(LiquidityRemover)
		return ok
	case risk.ActionTransfer:
		_, ok := a.(Transferrer)
		return ok
	default:
		return false
	}
}

// Build dispatches params to the protocol's matching capability.
func (r *Registry) Build(ctx context.Context, protocol string, owner ledger.PublicKey, params Params) (Built, error) {
	protocol = normalizeProtocol(protocol)
	if protocol == "" {
		return Built{}, clierr.New(clierr.CodeUsage, "--protocol is required")
	}
	if params == nil {
		return Built{}, clierr.New(clierr.CodeUsage, "missing action parameters")
	}
	a, ok := r.adapters[protocol]
	if !ok {
		return Built{}, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("unsupported protocol %q (available: %s)", protocol, strings.Join(r.Names(), ",")))
	}
	if !supports(a, params.Kind()) {
		return Built{}, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("protocol %s does not support %s; supporting: %s", protocol, params.Kind(), strings.Join(r.Supporting(params.Kind()), ",")))
	}

	var (
		built Built
		err   error
	)
	switch p := params.(type) {
	case SwapParams:
		built, err = a.(Swapper).BuildSwap(ctx, owner, p)
	case StakeParams:
		built, err = a.(Staker).BuildStake(ctx, owner, p)
	case UnstakeParams:
		built, err = a.(Unstaker).BuildUnstake(ctx, owner, p)
	case ProvideLiquidityParams:
		built, err = a.(LiquidityProvider).BuildProvideLiquidity(ctx, owner, p)
	case RemoveLiquidityParams:
		built, err = a.(LiquidityRemover).BuildRemoveLiquidity(ctx, owner, p)
	case TransferParams:
		built, err = a.(Transferrer).BuildTransfer(ctx, owner, p)
	}
	if err != nil {
		return Built{}, err
	}
	if len(built.Instructions) == 0 {
		return Built{}, clierr.New(clierr.CodeInternal, fmt.Sprintf("protocol %s built no instructions", protocol))
	}
	return built, nil
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Supporting lists the protocols able to build kind.
func (r *Registry) Supporting(kind risk.ActionType) []string {
	names := make([]string, 0, len(r.adapters))
	for name, a := range r.adapters {
		if supports(a, kind) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func normalizeProtocol(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}
