package pricing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// Sources groups the read collaborators the resolver consumes.
type Sources interface {
	CatalogSource
	RuleSource
	TierSource
	ContractSource
}

// ResolverOptions configures a Resolver.
type ResolverOptions struct {
	Calculator    Calculator
	LookupTimeout time.Duration
	Logger        *slog.Logger
	Metrics       *Metrics
	Clock         func() time.Time
}

// Resolver composes catalog, contract, rule and tier lookups into one pricing
// decision. It holds no per-request state and is safe for concurrent use.
type Resolver struct {
	catalog   *Catalog
	contracts *ContractOverride
	rules     *RuleMatcher
	tiers     *TierResolver
	calc      Calculator
	timeout   time.Duration
	logger    *slog.Logger
	metrics   *Metrics
	now       func() time.Time
}

// NewResolver constructs the orchestrator over sources.
func NewResolver(sources Sources, opts ResolverOptions) *Resolver {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	return &Resolver{
		catalog:   NewCatalog(sources),
		contracts: NewContractOverride(sources, logger, opts.Metrics),
		rules:     NewRuleMatcher(sources, logger, opts.Metrics),
		tiers:     NewTierResolver(sources, logger, opts.Metrics),
		calc:      opts.Calculator,
		timeout:   opts.LookupTimeout,
		logger:    logger.With(slog.String("component", "pricing.resolver")),
		metrics:   opts.Metrics,
		now:       now,
	}
}

// lookups is what the concurrent fan-out collects before precedence is applied.
type lookups struct {
	contract *Contract
	rules    []PriceRule
	tier     *VolumeTier
	degraded []string
}

// Resolve prices one request. Precedence is contract, then the highest
// priority rule, then the best volume tier, then list price.
func (r *Resolver) Resolve(ctx context.Context, req Request) (Result, error) {
	started := time.Now()
	res, err := r.resolve(ctx, req)
	if err != nil {
		r.metrics.observeFailure(failureReason(err))
		return Result{}, err
	}
	r.metrics.observeResolution(res.Kind(), started)
	return res, nil
}

func (r *Resolver) resolve(ctx context.Context, req Request) (Result, error) {
	if !req.Quantity.IsPositive() {
		return Result{}, ErrInvalidQuantity
	}
	asOf := req.AsOf
	if asOf.IsZero() {
		asOf = r.now()
	}
	customerID := strings.TrimSpace(req.CustomerID)

	snap, err := r.catalog.Snapshot(ctx, req.SKU)
	if err != nil {
		if !errors.Is(err, ErrProductNotFound) {
			r.logger.Error("catalog lookup failed", slog.String("sku", req.SKU), slog.Any("error", err))
		}
		return Result{}, err
	}

	q := MatchQuery{
		Snapshot:      snap,
		Quantity:      req.Quantity,
		AsOf:          asOf,
		Channel:       strings.TrimSpace(req.Channel),
		BranchID:      req.BranchID,
		CustomerGroup: strings.TrimSpace(req.CustomerGroup),
	}
	found, err := r.lookup(ctx, customerID, q, req.BestEffort)
	if err != nil {
		r.logger.Error("pricing lookup failed",
			slog.String("sku", snap.SKU),
			slog.String("customer_id", customerID),
			slog.Any("error", err),
		)
		return Result{}, err
	}

	result := Result{
		SKU:        snap.SKU,
		CustomerID: customerID,
		Quantity:   req.Quantity,
		AsOf:       asOf,
		ListPrice:  snap.ListPrice,
		CostPrice:  snap.CostPrice,
		UnitPrice:  snap.ListPrice,
		Candidates: candidatesOf(found),
		Degraded:   found.degraded,
	}

	switch {
	case found.contract != nil:
		result.Applied = &AppliedConstruct{Kind: KindContract, ID: found.contract.ID, Reason: contractReason(*found.contract)}
		result.UnitPrice, err = r.calc.Apply(KindContract, ActionNet, found.contract.NetPrice, snap.ListPrice)
	case len(found.rules) > 0:
		rule := found.rules[0]
		result.Applied = &AppliedConstruct{Kind: KindRule, ID: rule.ID, Reason: ruleReason(rule)}
		result.UnitPrice, err = r.calc.Apply(KindRule, rule.Action, rule.Value, snap.ListPrice)
	case found.tier != nil:
		action, value := found.tier.Action()
		result.Applied = &AppliedConstruct{Kind: KindTier, ID: found.tier.ID, Reason: tierReason(*found.tier)}
		result.UnitPrice, err = r.calc.Apply(KindTier, action, value, snap.ListPrice)
	}
	if err != nil {
		return Result{}, err
	}

	savings := snap.ListPrice.Sub(result.UnitPrice)
	if savings.IsNegative() {
		result.AboveList = true
		savings = decimal.Zero
		r.logger.Warn("resolved price above list",
			slog.String("sku", snap.SKU),
			slog.String("customer_id", customerID),
			slog.String("list_price", snap.ListPrice.String()),
			slog.String("unit_price", result.UnitPrice.String()),
			slog.String("kind", string(result.Kind())),
		)
	}
	result.UnitSavings = savings
	result.LineSavings = savings.Mul(req.Quantity)
	result.TotalAmount = result.UnitPrice.Mul(req.Quantity)
	result.DiscountPercent = discountPercent(savings, snap.ListPrice)
	return result, nil
}

// lookup runs the independent contract, rule and tier lookups concurrently.
// Every lookup runs to completion; a failure only matters when its source is
// the highest-precedence one still undecided, so the outcome matches running
// them one after another. In best-effort mode such a failure counts as absent
// and is recorded.
func (r *Resolver) lookup(ctx context.Context, customerID string, q MatchQuery, bestEffort bool) (lookups, error) {
	var (
		contract    *Contract
		rules       []PriceRule
		tier        *VolumeTier
		contractErr error
		ruleErr     error
		tierErr     error
	)
	var g errgroup.Group
	run := func(fn func(context.Context) error, errp *error) {
		g.Go(func() error {
			lctx := ctx
			if r.timeout > 0 {
				var cancel context.CancelFunc
				lctx, cancel = context.WithTimeout(ctx, r.timeout)
				defer cancel()
			}
			*errp = fn(lctx)
			return nil
		})
	}

	if customerID != "" {
		run(func(ctx context.Context) (err error) {
			contract, err = r.contracts.FindActiveContract(ctx, customerID, q.Snapshot.SKU, q.AsOf)
			return err
		}, &contractErr)
	}
	run(func(ctx context.Context) (err error) {
		rules, err = r.rules.FindMatchingRules(ctx, q)
		return err
	}, &ruleErr)
	run(func(ctx context.Context) (err error) {
		tier, err = r.tiers.FindBestTier(ctx, q)
		return err
	}, &tierErr)
	_ = g.Wait()

	var out lookups
	steps := []struct {
		source string
		err    error
		found  bool
	}{
		{"contract", contractErr, contract != nil},
		{"rule", ruleErr, len(rules) > 0},
		{"tier", tierErr, tier != nil},
	}
	for _, step := range steps {
		if step.err != nil {
			err := lookupFailed(step.source, step.err)
			if !bestEffort {
				return lookups{}, err
			}
			r.logger.Warn("lookup skipped in best-effort mode",
				slog.String("source", step.source),
				slog.String("sku", q.Snapshot.SKU),
				slog.Any("error", err),
			)
			out.degraded = append(out.degraded, step.source)
			continue
		}
		if step.found {
			break
		}
	}
	if contractErr == nil {
		out.contract = contract
	}
	if ruleErr == nil {
		out.rules = rules
	}
	if tierErr == nil {
		out.tier = tier
	}
	return out, nil
}

func candidatesOf(found lookups) []AppliedConstruct {
	var out []AppliedConstruct
	if found.contract != nil {
		out = append(out, AppliedConstruct{Kind: KindContract, ID: found.contract.ID, Reason: contractReason(*found.contract)})
	}
	for _, rule := range found.rules {
		out = append(out, AppliedConstruct{Kind: KindRule, ID: rule.ID, Reason: ruleReason(rule)})
	}
	if found.tier != nil {
		out = append(out, AppliedConstruct{Kind: KindTier, ID: found.tier.ID, Reason: tierReason(*found.tier)})
	}
	return out
}

func discountPercent(savings, listPrice decimal.Decimal) decimal.Decimal {
	if listPrice.IsZero() {
		return decimal.Zero
	}
	return savings.Div(listPrice).Mul(hundred).Round(2)
}

func contractReason(c Contract) string {
	return fmt.Sprintf("customer contract #%d: net price %s", c.ID, c.NetPrice.String())
}

func ruleReason(rule PriceRule) string {
	book := rule.Book.Name
	if book == "" {
		book = fmt.Sprintf("#%d", rule.BookID)
	}
	return fmt.Sprintf("price book %s rule #%d (%s, priority %d): %s", book, rule.ID, scopeLabel(rule.Scope, rule.SKU, rule.CategoryID, rule.Tag), rule.Priority, actionLabel(rule.Action, rule.Value))
}

func tierReason(t VolumeTier) string {
	action, value := t.Action()
	return fmt.Sprintf("volume tier #%d (%s, from qty %s): %s", t.ID, scopeLabel(t.Scope, t.SKU, t.CategoryID, nil), t.MinQty.String(), actionLabel(action, value))
}

func scopeLabel(scope Scope, sku *string, categoryID *int64, tag *string) string {
	switch {
	case scope == ScopeSKU && sku != nil:
		return "sku " + *sku
	case scope == ScopeCategory && categoryID != nil:
		return fmt.Sprintf("category %d", *categoryID)
	case scope == ScopeTag && tag != nil:
		return "tag " + normalizeTag(*tag)
	}
	return string(scope)
}

func actionLabel(action ActionType, value decimal.Decimal) string {
	switch action {
	case ActionNet:
		return "net price " + value.String()
	case ActionAmount:
		return value.String() + " off"
	default:
		return value.String() + "% off"
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidQuantity):
		return "invalid_quantity"
	case errors.Is(err, ErrProductNotFound):
		return "product_not_found"
	case errors.Is(err, ErrUnknownCustomer):
		return "unknown_customer"
	case errors.Is(err, ErrLookupFailure):
		return "lookup_failure"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	}
	return "internal"
}
