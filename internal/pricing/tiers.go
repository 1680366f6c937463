package pricing

import (
	"context"
	"log/slog"
	"strings"

	"go.uber.org/multierr"
)

// TierResolver selects the best qualifying quantity break for a product.
type TierResolver struct {
	source  TierSource
	logger  *slog.Logger
	metrics *Metrics
}

// NewTierResolver wires the tier lookup.
func NewTierResolver(source TierSource, logger *slog.Logger, metrics *Metrics) *TierResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &TierResolver{
		source:  source,
		logger:  logger.With(slog.String("component", "pricing.tiers")),
		metrics: metrics,
	}
}

// FindBestTier returns the winning tier for the query, or nil when no
// threshold is met.
func (r *TierResolver) FindBestTier(ctx context.Context, q MatchQuery) (*VolumeTier, error) {
	tiers, err := r.source.ListVolumeTiers(ctx, TierFilter{
		SKU:        q.Snapshot.SKU,
		CategoryID: q.Snapshot.CategoryID,
		ActiveOnly: true,
	})
	if err != nil {
		return nil, lookupFailed("tier", err)
	}
	best, malformed := SelectTier(tiers, q)
	if malformed != nil {
		errs := multierr.Errors(malformed)
		r.metrics.malformedRecords("tier", len(errs))
		r.logger.Warn("skipped malformed volume tiers",
			slog.String("sku", q.Snapshot.SKU),
			slog.Int("count", len(errs)),
			slog.Any("error", malformed),
		)
	}
	return best, nil
}

// SelectTier is the pure selection step. A qualifying sku tier always beats a
// category tier; within a scope the highest min_qty not above the quantity
// wins and equal thresholds fall back to the lower id.
func SelectTier(tiers []VolumeTier, q MatchQuery) (*VolumeTier, error) {
	var (
		malformed error
		bySKU     *VolumeTier
		byCat     *VolumeTier
	)
	for i := range tiers {
		tier := &tiers[i]
		if err := ValidateTier(*tier); err != nil {
			malformed = multierr.Append(malformed, err)
			continue
		}
		if !tier.IsActive || !tier.Window.Contains(q.AsOf) {
			continue
		}
		if tier.MinQty.GreaterThan(q.Quantity) {
			continue
		}
		if !scopeMatches(tier.Scope, tier.SKU, tier.CategoryID, nil, q.Snapshot) {
			continue
		}
		switch tier.Scope {
		case ScopeSKU:
			if tierBeats(tier, bySKU) {
				bySKU = tier
			}
		case ScopeCategory:
			if tierBeats(tier, byCat) {
				byCat = tier
			}
		}
	}
	best := bySKU
	if best == nil {
		best = byCat
	}
	if best == nil {
		return nil, malformed
	}
	out := *best
	return &out, malformed
}

// ValidateTier checks scope/key consistency and that exactly one discount is set.
func ValidateTier(tier VolumeTier) error {
	bad := func(reason string) error {
		return &MalformedError{Kind: ErrMalformedTier, ID: tier.ID, Reason: reason}
	}
	switch tier.Scope {
	case ScopeSKU:
		if tier.SKU == nil || strings.TrimSpace(*tier.SKU) == "" || tier.CategoryID != nil {
			return bad("sku scope requires only a sku key")
		}
	case ScopeCategory:
		if tier.CategoryID == nil || tier.SKU != nil {
			return bad("category scope requires only a category key")
		}
	default:
		return bad("unknown scope " + string(tier.Scope))
	}
	if (tier.DiscountPercent == nil) == (tier.DiscountAmount == nil) {
		return bad("exactly one of discount percent or amount must be set")
	}
	if tier.MinQty.IsNegative() {
		return bad("negative min_qty")
	}
	return nil
}

func tierBeats(candidate, current *VolumeTier) bool {
	if current == nil {
		return true
	}
	if !candidate.MinQty.Equal(current.MinQty) {
		return candidate.MinQty.GreaterThan(current.MinQty)
	}
	return candidate.ID < current.ID
}
