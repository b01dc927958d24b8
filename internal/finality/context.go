package finality

import (
	"fmt"

	"github.com/sutehoge/catapult-server/internal/crypto/ots"
	"github.com/sutehoge/catapult-server/internal/types"
)

type (
	// AccountStateView supplies voter eligibility and weight at a given height.
	// It is a read only collaborator owned by the host chain.
	AccountStateView interface {
		VotingAccountsAt(height types.Height) (map[ots.PublicKey]types.Amount, error)
	}

	// Context is the weight table of one finalization epoch: who may vote, with
	// what weight, and what the decision threshold is.
	Context struct {
		epoch    types.FinalizationEpoch
		height   types.Height
		config   Config
		weight   types.Amount
		accounts map[ots.PublicKey]types.Amount
	}

	// ContextFactory creates contexts for epochs from the account state.
	ContextFactory struct {
		config   Config
		accounts AccountStateView
	}
)

// NewContext builds a context for epoch at height with the given accounts.
func NewContext(epoch types.FinalizationEpoch, height types.Height, config Config, accounts map[ots.PublicKey]types.Amount) *Context {
	var weight types.Amount
	for _, balance := range accounts {
		weight += balance
	}
	return &Context{epoch: epoch, height: height, config: config, weight: weight, accounts: accounts}
}

func (c *Context) Epoch() types.FinalizationEpoch {
	return c.epoch
}

// Height is the last finalized height the epoch voting started from.
func (c *Context) Height() types.Height {
	return c.height
}

func (c *Context) Config() Config {
	return c.config
}

// Weight is the total voting weight of the epoch.
func (c *Context) Weight() types.Amount {
	return c.weight
}

// WeightedThreshold is the minimum accumulated weight for a decision.
func (c *Context) WeightedThreshold() uint64 {
	return uint64(c.weight) * c.config.Threshold / c.config.Size
}

// Lookup returns the weight of the voter with votingPublicKey, zero when the
// voter is not eligible this epoch.
func (c *Context) Lookup(votingPublicKey ots.PublicKey) types.Amount {
	return c.accounts[votingPublicKey]
}

func NewContextFactory(config Config, accounts AccountStateView) *ContextFactory {
	return &ContextFactory{config: config, accounts: accounts}
}

// Create builds the context for epoch. The voter committee is the one active
// at the last height of the previous epoch's voting set.
func (f *ContextFactory) Create(epoch types.FinalizationEpoch, height types.Height) (*Context, error) {
	accounts, err := f.accounts.VotingAccountsAt(height)
	if err != nil {
		return nil, fmt.Errorf("loading voting accounts for epoch %d at height %d: %w", epoch, height, err)
	}
	return NewContext(epoch, height, f.config, accounts), nil
}
