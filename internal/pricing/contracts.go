package pricing

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// ContractOverride finds the customer-specific fixed price for a product.
type ContractOverride struct {
	source  ContractSource
	logger  *slog.Logger
	metrics *Metrics
}

// NewContractOverride wires the contract lookup.
func NewContractOverride(source ContractSource, logger *slog.Logger, metrics *Metrics) *ContractOverride {
	if logger == nil {
		logger = slog.Default()
	}
	return &ContractOverride{
		source:  source,
		logger:  logger.With(slog.String("component", "pricing.contracts")),
		metrics: metrics,
	}
}

// FindActiveContract returns the eligible contract for the pair at asOf, or
// nil when none applies. More than one eligible contract is tolerated and
// logged as a data-integrity warning.
func (c *ContractOverride) FindActiveContract(ctx context.Context, customerID, sku string, asOf time.Time) (*Contract, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return nil, nil
	}
	contracts, err := c.source.FindContracts(ctx, customerID, sku)
	if err != nil {
		return nil, lookupFailed("contract", err)
	}
	chosen, eligible := SelectContract(contracts, asOf)
	if eligible > 1 {
		c.metrics.integrityWarning()
		c.logger.Warn("multiple eligible contracts",
			slog.String("customer_id", customerID),
			slog.String("sku", sku),
			slog.Int("eligible", eligible),
			slog.Int64("selected_id", chosen.ID),
		)
	}
	return chosen, nil
}

// SelectContract picks the active, currently effective contract with the most
// recent effective_from (open start sorts oldest), then the highest id. It
// also returns how many contracts were eligible.
func SelectContract(contracts []Contract, asOf time.Time) (*Contract, int) {
	var best *Contract
	eligible := 0
	for i := range contracts {
		ct := &contracts[i]
		if !ct.IsActive || !ct.Window.Contains(asOf) {
			continue
		}
		eligible++
		if best == nil || contractBeats(ct, best) {
			best = ct
		}
	}
	if best == nil {
		return nil, 0
	}
	out := *best
	return &out, eligible
}

func contractBeats(a, b *Contract) bool {
	af, bf := a.Window.From, b.Window.From
	switch {
	case af != nil && bf == nil:
		return true
	case af == nil && bf != nil:
		return false
	case af != nil && bf != nil && !af.Equal(*bf):
		return af.After(*bf)
	}
	return a.ID > b.ID
}
