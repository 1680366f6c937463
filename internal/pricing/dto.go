package pricing

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type simulateRequest struct {
	SKU           string           `json:"sku" validate:"required,max=64"`
	Qty           *decimal.Decimal `json:"qty" validate:"required"`
	CustomerID    string           `json:"customer_id" validate:"omitempty,max=64"`
	AsOf          *time.Time       `json:"as_of"`
	Channel       string           `json:"channel" validate:"omitempty,max=64"`
	BranchID      int64            `json:"branch_id" validate:"gte=0"`
	CustomerGroup string           `json:"customer_group" validate:"omitempty,max=64"`
	BestEffort    bool             `json:"best_effort"`
}

func (s simulateRequest) toRequest() Request {
	req := Request{
		SKU:           strings.TrimSpace(s.SKU),
		CustomerID:    strings.TrimSpace(s.CustomerID),
		Channel:       s.Channel,
		BranchID:      s.BranchID,
		CustomerGroup: s.CustomerGroup,
		BestEffort:    s.BestEffort,
	}
	if s.Qty != nil {
		req.Quantity = *s.Qty
	}
	if s.AsOf != nil {
		req.AsOf = *s.AsOf
	}
	return req
}

// simulateRequestFromQuery reads the GET form of the simulate endpoint.
func simulateRequestFromQuery(values url.Values) (simulateRequest, error) {
	req := simulateRequest{
		SKU:           values.Get("sku"),
		CustomerID:    values.Get("customer_id"),
		Channel:       values.Get("channel"),
		CustomerGroup: values.Get("customer_group"),
	}
	if raw := strings.TrimSpace(values.Get("qty")); raw != "" {
		qty, err := decimal.NewFromString(raw)
		if err != nil {
			return req, fmt.Errorf("qty: %q is not a number", raw)
		}
		req.Qty = &qty
	}
	if raw := strings.TrimSpace(values.Get("as_of")); raw != "" {
		asOf, err := parseAsOf(raw)
		if err != nil {
			return req, err
		}
		req.AsOf = &asOf
	}
	if raw := strings.TrimSpace(values.Get("branch_id")); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return req, fmt.Errorf("branch_id: %q is not an integer", raw)
		}
		req.BranchID = id
	}
	if raw := strings.TrimSpace(values.Get("best_effort")); raw != "" {
		flag, err := strconv.ParseBool(raw)
		if err != nil {
			return req, fmt.Errorf("best_effort: %q is not a boolean", raw)
		}
		req.BestEffort = flag
	}
	return req, nil
}

func parseAsOf(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("as_of: %q is neither RFC3339 nor YYYY-MM-DD", raw)
}

type batchRequest struct {
	Lines []simulateRequest `json:"lines" validate:"required,min=1,max=500,dive"`
}

type bulkRulesRequest struct {
	Action  string  `json:"action" validate:"required,oneof=enable disable delete"`
	RuleIDs []int64 `json:"rule_ids" validate:"required,min=1,max=1000,dive,gt=0"`
}

type simulateResponse struct {
	SKU             string             `json:"sku"`
	CustomerID      string             `json:"customerId,omitempty"`
	Quantity        float64            `json:"quantity"`
	AsOf            time.Time          `json:"asOf"`
	ListPrice       float64            `json:"listPrice"`
	FinalPrice      float64            `json:"finalPrice"`
	TotalSavings    float64            `json:"totalSavings"`
	LineSavings     float64            `json:"lineSavings"`
	TotalAmount     float64            `json:"totalAmount"`
	DiscountPercent float64            `json:"discountPercent"`
	CostPrice       float64            `json:"costPrice"`
	Margin          float64            `json:"margin"`
	PriceAboveList  bool               `json:"priceAboveList"`
	AppliedRule     *AppliedConstruct  `json:"appliedRule,omitempty"`
	Candidates      []AppliedConstruct `json:"candidates,omitempty"`
	Degraded        []string           `json:"degraded,omitempty"`
}

func newSimulateResponse(res Result) simulateResponse {
	return simulateResponse{
		SKU:             res.SKU,
		CustomerID:      res.CustomerID,
		Quantity:        res.Quantity.InexactFloat64(),
		AsOf:            res.AsOf,
		ListPrice:       res.ListPrice.InexactFloat64(),
		FinalPrice:      res.UnitPrice.InexactFloat64(),
		TotalSavings:    res.UnitSavings.InexactFloat64(),
		LineSavings:     res.LineSavings.InexactFloat64(),
		TotalAmount:     res.TotalAmount.InexactFloat64(),
		DiscountPercent: res.DiscountPercent.InexactFloat64(),
		CostPrice:       res.CostPrice.InexactFloat64(),
		Margin:          res.Margin().InexactFloat64(),
		PriceAboveList:  res.AboveList,
		AppliedRule:     res.Applied,
		Candidates:      res.Candidates,
		Degraded:        res.Degraded,
	}
}

type batchResponse struct {
	Lines []simulateResponse `json:"lines"`
}

type cacheResponse struct {
	Version int64 `json:"version"`
}
