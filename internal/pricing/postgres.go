package pricing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-pricing/internal/platform/db"
)

const foreignKeyViolation = "23503"

// PostgresRepository provides PostgreSQL backed access to the pricing tables.
// Candidate queries are intentionally broad; matching happens in-process.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository constructs a repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// WithTx wraps callback in repeatable-read transaction.
func (r *PostgresRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &pgTxRepo{tx: tx})
	})
}

const catalogQuery = `
SELECT p.sku, COALESCE(p.category_id, 0), p.list_price::text, p.cost_price::text,
       COALESCE(array_agg(t.tag ORDER BY t.tag) FILTER (WHERE t.tag IS NOT NULL), '{}')
FROM catalog_products p
LEFT JOIN catalog_product_tags t ON t.sku = p.sku
WHERE p.sku = $1
GROUP BY p.sku`

// GetCatalogEntry loads one product with its tags.
func (r *PostgresRepository) GetCatalogEntry(ctx context.Context, sku string) (CatalogEntry, error) {
	var (
		entry      CatalogEntry
		list, cost string
	)
	err := r.pool.QueryRow(ctx, catalogQuery, sku).Scan(&entry.SKU, &entry.CategoryID, &list, &cost, &entry.Tags)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CatalogEntry{}, ErrProductNotFound
		}
		return CatalogEntry{}, err
	}
	if entry.ListPrice, err = decimal.NewFromString(list); err != nil {
		return CatalogEntry{}, fmt.Errorf("catalog %s list_price: %w", sku, err)
	}
	if entry.CostPrice, err = decimal.NewFromString(cost); err != nil {
		return CatalogEntry{}, fmt.Errorf("catalog %s cost_price: %w", sku, err)
	}
	return entry, nil
}

const rulesQuery = `
SELECT r.id, r.book_id, r.scope, r.sku, r.category_id, r.tag, r.action_type, r.action_value::text,
       r.min_qty::text, r.max_qty::text, r.priority, r.is_active, r.effective_from, r.effective_to,
       b.name, b.channel, b.branch_id, b.customer_group, b.is_active, b.effective_from, b.effective_to
FROM price_rules r
JOIN price_books b ON b.id = r.book_id
WHERE (r.sku = $1 OR ($2::bigint > 0 AND r.category_id = $2) OR LOWER(TRIM(r.tag)) = ANY($3::text[]))
  AND (NOT $4::boolean OR (r.is_active AND b.is_active))
ORDER BY r.priority DESC, r.id`

// ListRules returns rule candidates joined with their book.
func (r *PostgresRepository) ListRules(ctx context.Context, filter RuleFilter) ([]PriceRule, error) {
	tags := filter.Tags
	if tags == nil {
		tags = []string{}
	}
	rows, err := r.pool.Query(ctx, rulesQuery, filter.SKU, filter.CategoryID, tags, filter.ActiveOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PriceRule
	for rows.Next() {
		var (
			rule                               PriceRule
			scope, action, value               string
			sku, tag, minQty, maxQty           pgtype.Text
			channel, group                     pgtype.Text
			categoryID, branchID               pgtype.Int8
			ruleFrom, ruleTo, bookFrom, bookTo pgtype.Timestamptz
		)
		if err := rows.Scan(
			&rule.ID, &rule.BookID, &scope, &sku, &categoryID, &tag, &action, &value,
			&minQty, &maxQty, &rule.Priority, &rule.IsActive, &ruleFrom, &ruleTo,
			&rule.Book.Name, &channel, &branchID, &group, &rule.Book.IsActive, &bookFrom, &bookTo,
		); err != nil {
			return nil, err
		}
		rule.Scope = Scope(scope)
		rule.Action = ActionType(action)
		rule.SKU = textPtr(sku)
		rule.CategoryID = int8Ptr(categoryID)
		rule.Tag = textPtr(tag)
		rule.Window = Window{From: timePtr(ruleFrom), To: timePtr(ruleTo)}
		if rule.Value, err = decimal.NewFromString(value); err != nil {
			return nil, fmt.Errorf("price rule %d action_value: %w", rule.ID, err)
		}
		if rule.MinQty, err = decimalPtr(minQty); err != nil {
			return nil, fmt.Errorf("price rule %d min_qty: %w", rule.ID, err)
		}
		if rule.MaxQty, err = decimalPtr(maxQty); err != nil {
			return nil, fmt.Errorf("price rule %d max_qty: %w", rule.ID, err)
		}
		rule.Book.ID = rule.BookID
		rule.Book.Channel = textPtr(channel)
		rule.Book.BranchID = int8Ptr(branchID)
		rule.Book.CustomerGroup = textPtr(group)
		rule.Book.Window = Window{From: timePtr(bookFrom), To: timePtr(bookTo)}
		out = append(out, rule)
	}
	return out, rows.Err()
}

const tiersQuery = `
SELECT id, scope, sku, category_id, min_qty::text, discount_percent::text, discount_amount::text,
       is_active, effective_from, effective_to
FROM volume_tiers
WHERE (sku = $1 OR ($2::bigint > 0 AND category_id = $2))
  AND (NOT $3::boolean OR is_active)
ORDER BY min_qty DESC, id`

// ListVolumeTiers returns tier candidates for a product and its category.
func (r *PostgresRepository) ListVolumeTiers(ctx context.Context, filter TierFilter) ([]VolumeTier, error) {
	rows, err := r.pool.Query(ctx, tiersQuery, filter.SKU, filter.CategoryID, filter.ActiveOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []VolumeTier
	for rows.Next() {
		var (
			tier             VolumeTier
			scope, minQty    string
			sku, pct, amount pgtype.Text
			categoryID       pgtype.Int8
			from, to         pgtype.Timestamptz
		)
		if err := rows.Scan(&tier.ID, &scope, &sku, &categoryID, &minQty, &pct, &amount, &tier.IsActive, &from, &to); err != nil {
			return nil, err
		}
		tier.Scope = Scope(scope)
		tier.SKU = textPtr(sku)
		tier.CategoryID = int8Ptr(categoryID)
		tier.Window = Window{From: timePtr(from), To: timePtr(to)}
		if tier.MinQty, err = decimal.NewFromString(minQty); err != nil {
			return nil, fmt.Errorf("volume tier %d min_qty: %w", tier.ID, err)
		}
		if tier.DiscountPercent, err = decimalPtr(pct); err != nil {
			return nil, fmt.Errorf("volume tier %d discount_percent: %w", tier.ID, err)
		}
		if tier.DiscountAmount, err = decimalPtr(amount); err != nil {
			return nil, fmt.Errorf("volume tier %d discount_amount: %w", tier.ID, err)
		}
		out = append(out, tier)
	}
	return out, rows.Err()
}

const contractsQuery = `
SELECT id, customer_id, sku, net_price::text, is_active, effective_from, effective_to, notes
FROM customer_contracts
WHERE customer_id = $1 AND sku = $2
ORDER BY id`

// FindContracts returns every contract stored for the pair, eligible or not.
func (r *PostgresRepository) FindContracts(ctx context.Context, customerID, sku string) ([]Contract, error) {
	rows, err := r.pool.Query(ctx, contractsQuery, customerID, sku)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Contract
	for rows.Next() {
		var (
			c        Contract
			net      string
			from, to pgtype.Timestamptz
		)
		if err := rows.Scan(&c.ID, &c.CustomerID, &c.SKU, &net, &c.IsActive, &from, &to, &c.Notes); err != nil {
			return nil, err
		}
		if c.NetPrice, err = decimal.NewFromString(net); err != nil {
			return nil, fmt.Errorf("contract %d net_price: %w", c.ID, err)
		}
		c.Window = Window{From: timePtr(from), To: timePtr(to)}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CustomerExists reports whether the customer id is on file.
func (r *PostgresRepository) CustomerExists(ctx context.Context, customerID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM customers WHERE id = $1)`, customerID).Scan(&exists)
	return exists, err
}

// ListActiveSKUs returns the most recently updated active products.
func (r *PostgresRepository) ListActiveSKUs(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `SELECT sku FROM catalog_products WHERE is_active ORDER BY updated_at DESC, sku LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var sku string
		if err := rows.Scan(&sku); err != nil {
			return nil, err
		}
		out = append(out, sku)
	}
	return out, rows.Err()
}

type pgTxRepo struct {
	tx pgx.Tx
}

func (t *pgTxRepo) SetRulesActive(ctx context.Context, ids []int64, active bool, at time.Time) (int64, error) {
	tag, err := t.tx.Exec(ctx, `UPDATE price_rules SET is_active = $2, updated_at = $3 WHERE id = ANY($1::bigint[])`, ids, active, at)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (t *pgTxRepo) DeleteRules(ctx context.Context, ids []int64) (int64, error) {
	tag, err := t.tx.Exec(ctx, `DELETE FROM price_rules WHERE id = ANY($1::bigint[])`, ids)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (t *pgTxRepo) SetBookActive(ctx context.Context, id int64, active bool, at time.Time) (int64, error) {
	tag, err := t.tx.Exec(ctx, `UPDATE price_books SET is_active = $2, updated_at = $3 WHERE id = $1`, id, active, at)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (t *pgTxRepo) CountBookRules(ctx context.Context, id int64) (int64, error) {
	var n int64
	err := t.tx.QueryRow(ctx, `SELECT COUNT(*) FROM price_rules WHERE book_id = $1`, id).Scan(&n)
	return n, err
}

func (t *pgTxRepo) DeleteBook(ctx context.Context, id int64) (int64, error) {
	tag, err := t.tx.Exec(ctx, `DELETE FROM price_books WHERE id = $1`, id)
	if err != nil {
		// a rule inserted after CountBookRules still trips the foreign key
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
			return 0, ErrBookInUse
		}
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func textPtr(v pgtype.Text) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func int8Ptr(v pgtype.Int8) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func timePtr(v pgtype.Timestamptz) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}

func decimalPtr(v pgtype.Text) (*decimal.Decimal, error) {
	if !v.Valid {
		return nil, nil
	}
	d, err := decimal.NewFromString(v.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
