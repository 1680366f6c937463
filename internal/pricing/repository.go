package pricing

import (
	"context"
	"time"
)

// CatalogSource supplies catalog entries. Unknown products return ErrProductNotFound.
type CatalogSource interface {
	GetCatalogEntry(ctx context.Context, sku string) (CatalogEntry, error)
}

// RuleFilter narrows rule candidates cheaply. Precise matching happens in-process.
type RuleFilter struct {
	SKU        string
	CategoryID int64
	Tags       []string
	ActiveOnly bool
}

// RuleSource lists rules joined with their book.
type RuleSource interface {
	ListRules(ctx context.Context, filter RuleFilter) ([]PriceRule, error)
}

// TierFilter narrows volume tier candidates.
type TierFilter struct {
	SKU        string
	CategoryID int64
	ActiveOnly bool
}

// TierSource lists volume tiers.
type TierSource interface {
	ListVolumeTiers(ctx context.Context, filter TierFilter) ([]VolumeTier, error)
}

// ContractSource lists every contract stored for a customer/product pair.
type ContractSource interface {
	FindContracts(ctx context.Context, customerID, sku string) ([]Contract, error)
}

// CustomerDirectory answers whether a customer id is known.
type CustomerDirectory interface {
	CustomerExists(ctx context.Context, customerID string) (bool, error)
}

// Repository is the storage collaborator consumed by the service.
type Repository interface {
	CatalogSource
	RuleSource
	TierSource
	ContractSource
	CustomerDirectory
	ListActiveSKUs(ctx context.Context, limit int) ([]string, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes the administrative writes that must be atomic.
type TxRepository interface {
	SetRulesActive(ctx context.Context, ids []int64, active bool, at time.Time) (int64, error)
	DeleteRules(ctx context.Context, ids []int64) (int64, error)
	SetBookActive(ctx context.Context, id int64, active bool, at time.Time) (int64, error)
	CountBookRules(ctx context.Context, id int64) (int64, error)
	DeleteBook(ctx context.Context, id int64) (int64, error)
}
