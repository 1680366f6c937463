package pricing

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
)

// MatchQuery carries everything rule and tier matching depends on.
type MatchQuery struct {
	Snapshot      Snapshot
	Quantity      decimal.Decimal
	AsOf          time.Time
	Channel       string
	BranchID      int64
	CustomerGroup string
}

// RuleMatcher filters promotional rules down to those applicable to a request.
type RuleMatcher struct {
	source  RuleSource
	logger  *slog.Logger
	metrics *Metrics
}

// NewRuleMatcher wires the rule lookup.
func NewRuleMatcher(source RuleSource, logger *slog.Logger, metrics *Metrics) *RuleMatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &RuleMatcher{
		source:  source,
		logger:  logger.With(slog.String("component", "pricing.rules")),
		metrics: metrics,
	}
}

// FindMatchingRules returns every applicable rule ordered by priority
// descending, then id ascending. Malformed rules are skipped and logged.
func (m *RuleMatcher) FindMatchingRules(ctx context.Context, q MatchQuery) ([]PriceRule, error) {
	rules, err := m.source.ListRules(ctx, RuleFilter{
		SKU:        q.Snapshot.SKU,
		CategoryID: q.Snapshot.CategoryID,
		Tags:       q.Snapshot.Tags,
		ActiveOnly: true,
	})
	if err != nil {
		return nil, lookupFailed("rule", err)
	}
	matched, malformed := MatchRules(rules, q)
	if malformed != nil {
		errs := multierr.Errors(malformed)
		m.metrics.malformedRecords("rule", len(errs))
		m.logger.Warn("skipped malformed rules",
			slog.String("sku", q.Snapshot.SKU),
			slog.Int("count", len(errs)),
			slog.Any("error", malformed),
		)
	}
	return matched, nil
}

// MatchRules is the pure matching step. It returns the ordered matches and an
// aggregate of the malformed rules it skipped.
func MatchRules(rules []PriceRule, q MatchQuery) ([]PriceRule, error) {
	var malformed error
	matched := make([]PriceRule, 0, len(rules))
	for _, rule := range rules {
		if err := ValidateRule(rule); err != nil {
			malformed = multierr.Append(malformed, err)
			continue
		}
		if !ruleApplies(rule, q) {
			continue
		}
		matched = append(matched, rule)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].Priority != matched[j].Priority {
			return matched[i].Priority > matched[j].Priority
		}
		return matched[i].ID < matched[j].ID
	})
	return matched, malformed
}

// ValidateRule checks scope/key consistency, the action type and the quantity window.
func ValidateRule(rule PriceRule) error {
	bad := func(reason string) error {
		return &MalformedError{Kind: ErrMalformedRule, ID: rule.ID, Reason: reason}
	}
	keys := 0
	if rule.SKU != nil {
		keys++
	}
	if rule.CategoryID != nil {
		keys++
	}
	if rule.Tag != nil {
		keys++
	}
	if keys != 1 {
		return bad("exactly one scope key must be set")
	}
	switch rule.Scope {
	case ScopeSKU:
		if rule.SKU == nil || strings.TrimSpace(*rule.SKU) == "" {
			return bad("sku scope without sku key")
		}
	case ScopeCategory:
		if rule.CategoryID == nil {
			return bad("category scope without category key")
		}
	case ScopeTag:
		if rule.Tag == nil || normalizeTag(*rule.Tag) == "" {
			return bad("tag scope without tag key")
		}
	default:
		return bad("unknown scope " + string(rule.Scope))
	}
	if !rule.Action.Valid() {
		return bad("unknown action " + string(rule.Action))
	}
	if rule.MinQty != nil && rule.MaxQty != nil && rule.MinQty.GreaterThan(*rule.MaxQty) {
		return bad("min_qty greater than max_qty")
	}
	return nil
}

func ruleApplies(rule PriceRule, q MatchQuery) bool {
	if !rule.IsActive || !rule.Window.Contains(q.AsOf) {
		return false
	}
	if !bookApplies(rule.Book, q) {
		return false
	}
	if !scopeMatches(rule.Scope, rule.SKU, rule.CategoryID, rule.Tag, q.Snapshot) {
		return false
	}
	if rule.MinQty != nil && q.Quantity.LessThan(*rule.MinQty) {
		return false
	}
	if rule.MaxQty != nil && q.Quantity.GreaterThan(*rule.MaxQty) {
		return false
	}
	return true
}

// bookApplies checks the book flag, window and optional scoping. A scoped
// book only applies when the request carries the same value.
func bookApplies(book PriceBook, q MatchQuery) bool {
	if !book.IsActive || !book.Window.Contains(q.AsOf) {
		return false
	}
	if book.Channel != nil && !strings.EqualFold(strings.TrimSpace(*book.Channel), strings.TrimSpace(q.Channel)) {
		return false
	}
	if book.BranchID != nil && *book.BranchID != q.BranchID {
		return false
	}
	if book.CustomerGroup != nil && !strings.EqualFold(strings.TrimSpace(*book.CustomerGroup), strings.TrimSpace(q.CustomerGroup)) {
		return false
	}
	return true
}

func scopeMatches(scope Scope, sku *string, categoryID *int64, tag *string, snap Snapshot) bool {
	switch scope {
	case ScopeSKU:
		return sku != nil && strings.TrimSpace(*sku) == snap.SKU
	case ScopeCategory:
		return categoryID != nil && snap.CategoryID != 0 && *categoryID == snap.CategoryID
	case ScopeTag:
		return tag != nil && snap.HasTag(*tag)
	}
	return false
}
