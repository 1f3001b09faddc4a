// Package portfolio values the signing wallet so risk checks and the circuit
// breaker can reason in fiat terms.
package portfolio

import (
	"context"
	"time"

	clierr "github.com/ggonzalez94/solagent/internal/errors"
	"github.com/ggonzalez94/solagent/internal/ledger"
	"github.com/ggonzalez94/solagent/internal/risk"
	"github.com/ggonzalez94/solagent/internal/units"
)

// Provider builds portfolio snapshots from the on-chain native balance of one
// owner priced in fiat.
type Provider struct {
	client     ledger.Client
	owner      ledger.PublicKey
	prices     PriceSource
	commitment ledger.Commitment
	now        func() time.Time
}

func NewProvider(client ledger.Client, owner ledger.PublicKey, prices PriceSource, commitment ledger.Commitment) *Provider {
	if commitment == "" {
		commitment = ledger.CommitmentConfirmed
	}
	return &Provider{
		client:     client,
		owner:      owner,
		prices:     prices,
		commitment: commitment,
		now:        time.Now,
	}
}

// Snapshot reads the balance and price. Both lookups must succeed; a partial
// snapshot would understate exposure.
func (p *Provider) Snapshot(ctx context.Context) (risk.Portfolio, error) {
	if p.owner.IsZero() {
		return risk.Portfolio{}, clierr.New(clierr.CodeUsage, "portfolio owner is not set")
	}
	lamports, err := p.client.Balance(ctx, p.owner, p.commitment)
	if err != nil {
		return risk.Portfolio{}, err
	}
	price, err := p.prices.Price(ctx, ledger.NativeMint)
	if err != nil {
		return risk.Portfolio{}, err
	}

	// Idle native balance is not a protocol position and stays out of
	// Positions so it never counts toward protocol exposure.
	native := units.LamportsToNative(lamports)
	return risk.Portfolio{
		TotalValueFiat:  native * price,
		NativeBalance:   native,
		NativePriceFiat: price,
		UpdatedAt:       p.now().UTC(),
	}, nil
}

// PortfolioValue returns the current fiat value of the wallet.
func (p *Provider) PortfolioValue(ctx context.Context) (float64, error) {
	snap, err := p.Snapshot(ctx)
	if err != nil {
		return 0, err
	}
	return snap.TotalValueFiat, nil
}
