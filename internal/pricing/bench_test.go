package pricing

import (
	"context"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func benchRepo(rules int) *mockRepository {
	repo := scenarioRepo()
	repo.rules = repo.rules[:0]
	for i := 1; i <= rules; i++ {
		repo.rules = append(repo.rules, skuRule(int64(i), "P", ActionPercent, "5", i%7))
	}
	repo.tiers = []VolumeTier{skuTier(1, "P", "10", "3"), skuTier(2, "P", "50", "6")}
	repo.contracts = []Contract{{ID: 1, CustomerID: "C", SKU: "P", NetPrice: dec("150000"), IsActive: true}}
	return repo
}

func BenchmarkResolve(b *testing.B) {
	for _, n := range []int{1, 25, 200} {
		b.Run(fmt.Sprintf("rules=%d", n), func(b *testing.B) {
			resolver := newTestResolver(benchRepo(n), NewMetrics(prometheus.NewRegistry()))
			req := Request{SKU: "P", CustomerID: "C", Quantity: dec("12")}
			ctx := context.Background()
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := resolver.Resolve(ctx, req); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkMatchRules(b *testing.B) {
	rules := benchRepo(200).rules
	for i := range rules {
		rules[i].Book = activeBook(1)
	}
	q := baseQuery()
	q.Snapshot.SKU = "P"
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if matched, _ := MatchRules(rules, q); len(matched) == 0 {
			b.Fatal("expected matches")
		}
	}
}
