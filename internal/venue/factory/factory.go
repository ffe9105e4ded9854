// Package factory builds venue adapters from configuration.
package factory

import (
	"fmt"

	"github.com/misterlabs/venuex/internal/venue/hyperliquid"
	"github.com/misterlabs/venuex/internal/venue/strike"
	"github.com/misterlabs/venuex/pkg/types"
)

// Signers carries the chain-specific signing backends. Key custody stays
// with the embedding application; adapters only ever call these.
type Signers struct {
	Cardano strike.WalletSigner
	EVM     hyperliquid.Signer
}

// Build creates the adapter matching the venue's chain.
func Build(cfg types.VenueConfig, signers Signers) (types.Venue, error) {
	switch cfg.Chain {
	case types.ChainCardano:
		if signers.Cardano == nil {
			return nil, fmt.Errorf("venue %s: no cardano signer configured", cfg.Name)
		}
		return strike.New(cfg, signers.Cardano), nil
	case types.ChainEVM:
		if signers.EVM == nil {
			return nil, fmt.Errorf("venue %s: no evm signer configured", cfg.Name)
		}
		return hyperliquid.New(cfg, signers.EVM), nil
	default:
		return nil, fmt.Errorf("venue %s: unsupported chain %q", cfg.Name, cfg.Chain)
	}
}
