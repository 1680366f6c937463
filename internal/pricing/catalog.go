package pricing

import (
	"context"
	"errors"
	"sort"
	"strings"
)

// Catalog adapts the external catalog into read-only snapshots.
type Catalog struct {
	source CatalogSource
}

// NewCatalog constructs the snapshot adapter.
func NewCatalog(source CatalogSource) *Catalog {
	return &Catalog{source: source}
}

// Snapshot returns the product view for sku. Unknown products yield
// ErrProductNotFound; any other failure is a lookup failure.
func (c *Catalog) Snapshot(ctx context.Context, sku string) (Snapshot, error) {
	sku = strings.TrimSpace(sku)
	if sku == "" {
		return Snapshot{}, ErrProductNotFound
	}
	entry, err := c.source.GetCatalogEntry(ctx, sku)
	if err != nil {
		if errors.Is(err, ErrProductNotFound) {
			return Snapshot{}, ErrProductNotFound
		}
		return Snapshot{}, lookupFailed("catalog", err)
	}
	return Snapshot{
		SKU:        entry.SKU,
		CategoryID: entry.CategoryID,
		Tags:       normalizeTags(entry.Tags),
		ListPrice:  entry.ListPrice,
		CostPrice:  entry.CostPrice,
	}, nil
}

func normalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = normalizeTag(tag)
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}
