package pricing

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Scope is the targeting dimension of a rule or tier.
type Scope string

const (
	ScopeSKU      Scope = "sku"
	ScopeCategory Scope = "category"
	ScopeTag      Scope = "tag"
)

// ActionType describes how a rule turns into a price.
type ActionType string

const (
	ActionNet     ActionType = "net"
	ActionPercent ActionType = "percent"
	ActionAmount  ActionType = "amount"
	ActionBundle  ActionType = "bundle"
	ActionTier    ActionType = "tier"
)

// Valid reports whether the action type is one the calculator understands.
func (a ActionType) Valid() bool {
	switch a {
	case ActionNet, ActionPercent, ActionAmount, ActionBundle, ActionTier:
		return true
	}
	return false
}

// ConstructKind names the pricing construct responsible for a price.
type ConstructKind string

const (
	KindContract ConstructKind = "contract"
	KindRule     ConstructKind = "rule"
	KindTier     ConstructKind = "tier"
	KindNone     ConstructKind = "none"
)

// Window is an effective period. Nil ends are unbounded and both ends are inclusive.
type Window struct {
	From *time.Time `json:"from,omitempty"`
	To   *time.Time `json:"to,omitempty"`
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	if w.From != nil && t.Before(*w.From) {
		return false
	}
	if w.To != nil && t.After(*w.To) {
		return false
	}
	return true
}

// PriceBook is a named, optionally scoped collection of rules.
type PriceBook struct {
	ID            int64   `json:"id"`
	Name          string  `json:"name"`
	Channel       *string `json:"channel,omitempty"`
	BranchID      *int64  `json:"branch_id,omitempty"`
	CustomerGroup *string `json:"customer_group,omitempty"`
	IsActive      bool    `json:"is_active"`
	Window        Window  `json:"window"`
}

// PriceRule is one promotional directive inside a book. Book is denormalised
// by the repository so matching never needs a second lookup.
type PriceRule struct {
	ID         int64            `json:"id"`
	BookID     int64            `json:"book_id"`
	Book       PriceBook        `json:"book"`
	Scope      Scope            `json:"scope"`
	SKU        *string          `json:"sku,omitempty"`
	CategoryID *int64           `json:"category_id,omitempty"`
	Tag        *string          `json:"tag,omitempty"`
	Action     ActionType       `json:"action"`
	Value      decimal.Decimal  `json:"value"`
	MinQty     *decimal.Decimal `json:"min_qty,omitempty"`
	MaxQty     *decimal.Decimal `json:"max_qty,omitempty"`
	Priority   int              `json:"priority"`
	IsActive   bool             `json:"is_active"`
	Window     Window           `json:"window"`
}

// VolumeTier is a quantity-break discount independent of any book.
type VolumeTier struct {
	ID              int64            `json:"id"`
	Scope           Scope            `json:"scope"`
	SKU             *string          `json:"sku,omitempty"`
	CategoryID      *int64           `json:"category_id,omitempty"`
	MinQty          decimal.Decimal  `json:"min_qty"`
	DiscountPercent *decimal.Decimal `json:"discount_percent,omitempty"`
	DiscountAmount  *decimal.Decimal `json:"discount_amount,omitempty"`
	IsActive        bool             `json:"is_active"`
	Window          Window           `json:"window"`
}

// Action returns the arithmetic the tier carries.
func (t VolumeTier) Action() (ActionType, decimal.Decimal) {
	if t.DiscountPercent != nil {
		return ActionPercent, *t.DiscountPercent
	}
	if t.DiscountAmount != nil {
		return ActionAmount, *t.DiscountAmount
	}
	return "", decimal.Zero
}

// Contract binds a customer to a fixed net price for one product.
type Contract struct {
	ID         int64           `json:"id"`
	CustomerID string          `json:"customer_id"`
	SKU        string          `json:"sku"`
	NetPrice   decimal.Decimal `json:"net_price"`
	IsActive   bool            `json:"is_active"`
	Window     Window          `json:"window"`
	Notes      string          `json:"notes,omitempty"`
}

// CatalogEntry is the external catalog's view of a product.
type CatalogEntry struct {
	SKU        string          `json:"sku"`
	CategoryID int64           `json:"category_id"`
	Tags       []string        `json:"tags"`
	ListPrice  decimal.Decimal `json:"list_price"`
	CostPrice  decimal.Decimal `json:"cost_price"`
}

// Snapshot is the read-only product view used during one resolution.
type Snapshot struct {
	SKU        string
	CategoryID int64
	Tags       []string
	ListPrice  decimal.Decimal
	CostPrice  decimal.Decimal
}

// HasTag reports whether the snapshot carries tag, ignoring case and padding.
func (s Snapshot) HasTag(tag string) bool {
	tag = normalizeTag(tag)
	if tag == "" {
		return false
	}
	for _, t := range s.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Request is one pricing question.
type Request struct {
	SKU           string
	CustomerID    string
	Quantity      decimal.Decimal
	AsOf          time.Time
	Channel       string
	BranchID      int64
	CustomerGroup string
	BestEffort    bool
}

// AppliedConstruct identifies the construct that produced (or competed for) a price.
type AppliedConstruct struct {
	Kind   ConstructKind `json:"kind"`
	ID     int64         `json:"id"`
	Reason string        `json:"reason"`
}

// Result is the fully explained pricing decision for one request.
type Result struct {
	SKU             string
	CustomerID      string
	Quantity        decimal.Decimal
	AsOf            time.Time
	ListPrice       decimal.Decimal
	CostPrice       decimal.Decimal
	UnitPrice       decimal.Decimal
	UnitSavings     decimal.Decimal
	LineSavings     decimal.Decimal
	TotalAmount     decimal.Decimal
	DiscountPercent decimal.Decimal
	AboveList       bool
	Applied         *AppliedConstruct
	Candidates      []AppliedConstruct
	Degraded        []string
}

// Kind returns the winning construct kind, or KindNone when list price applies.
func (r Result) Kind() ConstructKind {
	if r.Applied == nil {
		return KindNone
	}
	return r.Applied.Kind
}

// Margin is final unit price minus cost. Reporting only.
func (r Result) Margin() decimal.Decimal {
	return r.UnitPrice.Sub(r.CostPrice)
}

func normalizeTag(tag string) string {
	return strings.ToLower(strings.TrimSpace(tag))
}
