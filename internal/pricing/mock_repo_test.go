package pricing

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================================
// MOCK REPOSITORY
// ============================================================================

type mockRepository struct {
	mu sync.Mutex

	catalog   map[string]CatalogEntry
	rules     []PriceRule
	tiers     []VolumeTier
	contracts []Contract
	customers map[string]bool
	books     map[int64]*PriceBook

	// Error injection
	catalogErr  error
	rulesErr    error
	tiersErr    error
	contractErr error
	customerErr error
	txErr       error

	// Call counters
	catalogCalls  int
	rulesCalls    int
	tiersCalls    int
	contractCalls int
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		catalog:   make(map[string]CatalogEntry),
		customers: make(map[string]bool),
		books:     make(map[int64]*PriceBook),
	}
}

func (m *mockRepository) addProduct(sku string, categoryID int64, list, cost int64, tags ...string) {
	m.catalog[sku] = CatalogEntry{
		SKU:        sku,
		CategoryID: categoryID,
		Tags:       tags,
		ListPrice:  decimal.NewFromInt(list),
		CostPrice:  decimal.NewFromInt(cost),
	}
}

func (m *mockRepository) GetCatalogEntry(ctx context.Context, sku string) (CatalogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.catalogCalls++
	if m.catalogErr != nil {
		return CatalogEntry{}, m.catalogErr
	}
	entry, ok := m.catalog[sku]
	if !ok {
		return CatalogEntry{}, ErrProductNotFound
	}
	return entry, nil
}

func (m *mockRepository) ListRules(ctx context.Context, filter RuleFilter) ([]PriceRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rulesCalls++
	if m.rulesErr != nil {
		return nil, m.rulesErr
	}
	out := make([]PriceRule, 0, len(m.rules))
	for _, rule := range m.rules {
		if book, ok := m.books[rule.BookID]; ok {
			rule.Book = *book
		}
		if filter.ActiveOnly && (!rule.IsActive || !rule.Book.IsActive) {
			continue
		}
		out = append(out, rule)
	}
	return out, nil
}

func (m *mockRepository) ListVolumeTiers(ctx context.Context, filter TierFilter) ([]VolumeTier, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tiersCalls++
	if m.tiersErr != nil {
		return nil, m.tiersErr
	}
	out := make([]VolumeTier, 0, len(m.tiers))
	for _, tier := range m.tiers {
		if filter.ActiveOnly && !tier.IsActive {
			continue
		}
		out = append(out, tier)
	}
	return out, nil
}

func (m *mockRepository) FindContracts(ctx context.Context, customerID, sku string) ([]Contract, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contractCalls++
	if m.contractErr != nil {
		return nil, m.contractErr
	}
	var out []Contract
	for _, c := range m.contracts {
		if c.CustomerID == customerID && c.SKU == sku {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *mockRepository) CustomerExists(ctx context.Context, customerID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.customerErr != nil {
		return false, m.customerErr
	}
	return m.customers[customerID], nil
}

func (m *mockRepository) ListActiveSKUs(ctx context.Context, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.catalog))
	for sku := range m.catalog {
		out = append(out, sku)
	}
	sort.Strings(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// WithTx applies the callback to a staged copy and commits it only on success.
func (m *mockRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if m.txErr != nil {
		return m.txErr
	}
	m.mu.Lock()
	tx := &mockTxRepo{
		rules: append([]PriceRule(nil), m.rules...),
		books: make(map[int64]*PriceBook, len(m.books)),
	}
	for id, book := range m.books {
		copied := *book
		tx.books[id] = &copied
	}
	m.mu.Unlock()

	if err := fn(ctx, tx); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = tx.rules
	m.books = tx.books
	return nil
}

type mockTxRepo struct {
	rules []PriceRule
	books map[int64]*PriceBook
}

func (t *mockTxRepo) SetRulesActive(ctx context.Context, ids []int64, active bool, at time.Time) (int64, error) {
	want := idSet(ids)
	var n int64
	for i := range t.rules {
		if _, ok := want[t.rules[i].ID]; ok {
			t.rules[i].IsActive = active
			n++
		}
	}
	return n, nil
}

func (t *mockTxRepo) DeleteRules(ctx context.Context, ids []int64) (int64, error) {
	want := idSet(ids)
	kept := t.rules[:0:0]
	var n int64
	for _, rule := range t.rules {
		if _, ok := want[rule.ID]; ok {
			n++
			continue
		}
		kept = append(kept, rule)
	}
	t.rules = kept
	return n, nil
}

func (t *mockTxRepo) SetBookActive(ctx context.Context, id int64, active bool, at time.Time) (int64, error) {
	book, ok := t.books[id]
	if !ok {
		return 0, nil
	}
	book.IsActive = active
	return 1, nil
}

func (t *mockTxRepo) CountBookRules(ctx context.Context, id int64) (int64, error) {
	var n int64
	for _, rule := range t.rules {
		if rule.BookID == id {
			n++
		}
	}
	return n, nil
}

func (t *mockTxRepo) DeleteBook(ctx context.Context, id int64) (int64, error) {
	if _, ok := t.books[id]; !ok {
		return 0, nil
	}
	delete(t.books, id)
	return 1, nil
}

func idSet(ids []int64) map[int64]struct{} {
	out := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}

// ============================================================================
// FIXTURE HELPERS
// ============================================================================

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func decPtr(v string) *decimal.Decimal {
	d := dec(v)
	return &d
}

func strPtr(v string) *string { return &v }

func int64Ptr(v int64) *int64 { return &v }

func timePtrOf(t time.Time) *time.Time { return &t }

func activeBook(id int64) PriceBook {
	return PriceBook{ID: id, Name: "Book", IsActive: true}
}

func skuRule(id int64, sku string, action ActionType, value string, priority int) PriceRule {
	return PriceRule{
		ID:       id,
		BookID:   1,
		Book:     activeBook(1),
		Scope:    ScopeSKU,
		SKU:      strPtr(sku),
		Action:   action,
		Value:    dec(value),
		Priority: priority,
		IsActive: true,
	}
}

func skuTier(id int64, sku, minQty, percent string) VolumeTier {
	return VolumeTier{
		ID:              id,
		Scope:           ScopeSKU,
		SKU:             strPtr(sku),
		MinQty:          dec(minQty),
		DiscountPercent: decPtr(percent),
		IsActive:        true,
	}
}
