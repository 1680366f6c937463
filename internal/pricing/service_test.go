package pricing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T, repo *mockRepository, cfg ServiceConfig) *Service {
	t.Helper()
	svc := NewService(repo, newTestResolver(repo, nil), nil, cfg, nil)
	svc.now = func() time.Time { return testNow }
	return svc
}

func bulkRepo() *mockRepository {
	repo := scenarioRepo()
	repo.rules = []PriceRule{
		skuRule(1, "P", ActionPercent, "20", 100),
		skuRule(2, "P", ActionPercent, "10", 50),
		skuRule(3, "P", ActionPercent, "5", 10),
	}
	return repo
}

func activeIDs(rules []PriceRule) []int64 {
	var out []int64
	for _, r := range rules {
		if r.IsActive {
			out = append(out, r.ID)
		}
	}
	return out
}

func TestServiceBulkDisable(t *testing.T) {
	repo := bulkRepo()
	svc := newTestService(t, repo, ServiceConfig{})

	res, err := svc.BulkRules(context.Background(), BulkRuleCommand{Action: BulkDisable, RuleIDs: []int64{2, 1, 2}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Affected)
	assert.Equal(t, BulkDisable, res.Action)
	_, err = uuid.Parse(res.BatchID)
	assert.NoError(t, err)
	assert.Equal(t, []int64{3}, activeIDs(repo.rules))

	priced, err := svc.Resolve(context.Background(), Request{SKU: "P", Quantity: dec("1")})
	require.NoError(t, err)
	assert.Equal(t, int64(3), priced.Applied.ID)
}

func TestServiceBulkIsAllOrNothing(t *testing.T) {
	repo := bulkRepo()
	svc := newTestService(t, repo, ServiceConfig{})

	_, err := svc.BulkRules(context.Background(), BulkRuleCommand{Action: BulkDelete, RuleIDs: []int64{1, 99}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRuleNotFound))
	assert.Len(t, repo.rules, 3)

	_, err = svc.BulkRules(context.Background(), BulkRuleCommand{Action: BulkDisable, RuleIDs: []int64{3, 42}})
	require.Error(t, err)
	assert.Equal(t, []int64{1, 2, 3}, activeIDs(repo.rules))
}

func TestServiceBulkDeleteAndEnable(t *testing.T) {
	repo := bulkRepo()
	repo.rules[2].IsActive = false
	svc := newTestService(t, repo, ServiceConfig{})

	res, err := svc.BulkRules(context.Background(), BulkRuleCommand{Action: BulkEnable, RuleIDs: []int64{3}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Affected)
	assert.Equal(t, []int64{1, 2, 3}, activeIDs(repo.rules))

	res, err = svc.BulkRules(context.Background(), BulkRuleCommand{Action: BulkDelete, RuleIDs: []int64{1, 3}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Affected)
	require.Len(t, repo.rules, 1)
	assert.Equal(t, int64(2), repo.rules[0].ID)
}

func TestServiceBulkValidation(t *testing.T) {
	svc := newTestService(t, bulkRepo(), ServiceConfig{})
	cases := []BulkRuleCommand{
		{Action: BulkEnable},
		{Action: BulkEnable, RuleIDs: []int64{0}},
		{Action: BulkAction("archive"), RuleIDs: []int64{1}},
	}
	for _, cmd := range cases {
		_, err := svc.BulkRules(context.Background(), cmd)
		assert.True(t, errors.Is(err, ErrInvalidCommand), "%+v", cmd)
	}
}

func TestServiceBookLifecycle(t *testing.T) {
	repo := bulkRepo()
	svc := newTestService(t, repo, ServiceConfig{})
	ctx := context.Background()

	require.NoError(t, svc.SetBookActive(ctx, 1, false))
	assert.False(t, repo.books[1].IsActive)

	res, err := svc.Resolve(ctx, Request{SKU: "P", Quantity: dec("1")})
	require.NoError(t, err)
	assert.Equal(t, KindNone, res.Kind())

	assert.True(t, errors.Is(svc.SetBookActive(ctx, 404, true), ErrBookNotFound))
	assert.True(t, errors.Is(svc.DeleteBook(ctx, 1), ErrBookInUse))

	_, err = svc.BulkRules(ctx, BulkRuleCommand{Action: BulkDelete, RuleIDs: []int64{1, 2, 3}})
	require.NoError(t, err)
	require.NoError(t, svc.DeleteBook(ctx, 1))
	assert.Empty(t, repo.books)
	assert.True(t, errors.Is(svc.DeleteBook(ctx, 1), ErrBookNotFound))
}

func TestServiceStrictCustomers(t *testing.T) {
	repo := scenarioRepo()
	repo.customers["C"] = true
	svc := newTestService(t, repo, ServiceConfig{StrictCustomers: true})
	ctx := context.Background()

	_, err := svc.Resolve(ctx, Request{SKU: "P", CustomerID: "C", Quantity: dec("1")})
	require.NoError(t, err)

	_, err = svc.Resolve(ctx, Request{SKU: "P", CustomerID: "ghost", Quantity: dec("1")})
	assert.True(t, errors.Is(err, ErrUnknownCustomer))

	_, err = svc.Resolve(ctx, Request{SKU: "P", Quantity: dec("1")})
	require.NoError(t, err)

	repo.customerErr = errors.New("db down")
	_, err = svc.Resolve(ctx, Request{SKU: "P", CustomerID: "C", Quantity: dec("1")})
	assert.True(t, errors.Is(err, ErrLookupFailure))

	lenient := newTestService(t, repo, ServiceConfig{})
	_, err = lenient.Resolve(ctx, Request{SKU: "P", CustomerID: "ghost", Quantity: dec("1")})
	require.NoError(t, err)
}

func TestServiceResolveLinesKeepsOrder(t *testing.T) {
	repo := scenarioRepo()
	repo.addProduct("Q", 0, 1000, 0)
	svc := newTestService(t, repo, ServiceConfig{BatchConcurrency: 2})

	reqs := []Request{
		{SKU: "Q", Quantity: dec("1")},
		{SKU: "P", Quantity: dec("2")},
		{SKU: "Q", Quantity: dec("3")},
	}
	results, err := svc.ResolveLines(context.Background(), reqs)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "Q", results[0].SKU)
	assert.Equal(t, "P", results[1].SKU)
	assert.True(t, results[2].TotalAmount.Equal(dec("3000")))

	reqs = append(reqs, Request{SKU: "missing", Quantity: dec("1")})
	_, err = svc.ResolveLines(context.Background(), reqs)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrProductNotFound))
	assert.Contains(t, err.Error(), "line 3")
}

func TestServiceCacheOperations(t *testing.T) {
	cache, _, _ := newTestCache(t)
	repo := bulkRepo()
	cached := NewCachedRepository(repo, cache)
	svc := NewService(cached, newTestResolver(cached, nil), cache, ServiceConfig{}, nil)
	ctx := context.Background()

	warmed, err := svc.WarmCache(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, warmed)
	calls := repo.rulesCalls

	res, err := svc.Resolve(ctx, Request{SKU: "P", Quantity: dec("1")})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Applied.ID)
	assert.Equal(t, calls, repo.rulesCalls)

	_, err = svc.BulkRules(ctx, BulkRuleCommand{Action: BulkDisable, RuleIDs: []int64{1}})
	require.NoError(t, err)

	res, err = svc.Resolve(ctx, Request{SKU: "P", Quantity: dec("1")})
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Applied.ID)

	before, err := cache.Version(ctx)
	require.NoError(t, err)
	ver, err := svc.InvalidateCache(ctx)
	require.NoError(t, err)
	assert.Equal(t, before+1, ver)
}
