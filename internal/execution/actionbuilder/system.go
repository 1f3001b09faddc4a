package actionbuilder

import (
	"context"
	"fmt"

	clierr "github.com/ggonzalez94/solagent/internal/errors"
	"github.com/ggonzalez94/solagent/internal/ledger"
	"github.com/ggonzalez94/solagent/internal/units"
)

// SystemAdapter builds native-asset transfers with the system program.
type SystemAdapter struct{}

var _ Transferrer = SystemAdapter{}

func (SystemAdapter) Name() string { return "system" }

func (SystemAdapter) BuildTransfer(_ context.Context, owner ledger.PublicKey, p TransferParams) (Built, error) {
	if p.Mint != "" && p.Mint != ledger.NativeMint {
		return Built{}, clierr.New(clierr.CodeUnsupported, "system transfers move the native asset only")
	}
	if p.Recipient.IsZero() {
		return Built{}, clierr.New(clierr.CodeUsage, "transfer recipient is required")
	}
	if p.Recipient == owner {
		return Built{}, clierr.New(clierr.CodeUsage, "transfer recipient must differ from the sender")
	}
	if p.Amount == 0 {
		return Built{}, clierr.New(clierr.CodeUsage, "transfer amount must be positive")
	}
	return Built{
		Instructions: []ledger.Instruction{ledger.SystemTransfer(owner, p.Recipient, p.Amount)},
		Description:  fmt.Sprintf("transfer %s SOL to %s", units.FormatLamports(p.Amount), p.Recipient),
	}, nil
}
