package pricing

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

var hundred = decimal.NewFromInt(100)

// Calculator turns a matched construct into a unit price. It is pure and safe
// for concurrent use.
type Calculator struct {
	scale int32
}

// NewCalculator returns a calculator rounding to scale decimal places.
func NewCalculator(scale int32) Calculator {
	if scale < 0 {
		scale = 0
	}
	return Calculator{scale: scale}
}

// Scale returns the number of decimal places results are rounded to.
func (c Calculator) Scale() int32 {
	return c.scale
}

// Apply materialises a construct into a unit price floored at zero and
// rounded to the calculator's precision. Contracts always use net semantics.
func (c Calculator) Apply(kind ConstructKind, action ActionType, value, listPrice decimal.Decimal) (decimal.Decimal, error) {
	if kind == KindContract {
		action = ActionNet
	}
	var price decimal.Decimal
	switch action {
	case ActionNet:
		price = value
	case ActionPercent, ActionBundle, ActionTier:
		price = listPrice.Mul(hundred.Sub(value)).Div(hundred)
	case ActionAmount:
		price = listPrice.Sub(value)
	default:
		return decimal.Zero, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	return c.Round(clampZero(price)), nil
}

// Round rounds half away from zero to the calculator's precision.
func (c Calculator) Round(v decimal.Decimal) decimal.Decimal {
	return v.Round(c.scale)
}

func clampZero(v decimal.Decimal) decimal.Decimal {
	if v.IsNegative() {
		return decimal.Zero
	}
	return v
}

// ScaleFor returns the minor-unit precision of an ISO 4217 currency under the
// given rounding kind (standard, cash or accounting).
func ScaleFor(code, kind string) (int32, error) {
	unit, err := currency.ParseISO(strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return 0, fmt.Errorf("pricing: currency %q: %w", code, err)
	}
	var k currency.Kind
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "standard":
		k = currency.Standard
	case "cash":
		k = currency.Cash
	case "accounting":
		k = currency.Accounting
	default:
		return 0, fmt.Errorf("pricing: unknown rounding kind %q", kind)
	}
	scale, _ := k.Rounding(unit)
	return int32(scale), nil
}
