// Package pricing derives order totals from cart state. All arithmetic stays
// exact; rounding is left to display.
package pricing

import (
	"strings"

	"github.com/shopspring/decimal"

	"phonepos/backend/internal/domain"
)

var hundred = decimal.NewFromInt(100)

type Input struct {
	Products   []domain.ProductItem
	Services   []domain.ServiceItem
	GSTPercent decimal.Decimal
	PSTPercent decimal.Decimal
	Adjustment decimal.Decimal
	Direction  domain.AdjustmentDirection
}

type Totals struct {
	ProductSubtotal  decimal.Decimal
	ServiceSubtotal  decimal.Decimal
	Subtotal         decimal.Decimal
	GSTAmount        decimal.Decimal
	PSTAmount        decimal.Decimal
	AdjustmentSigned decimal.Decimal
	GrandTotal       decimal.Decimal
}

// PreAdjustment is the total before any discount or surcharge.
func (t Totals) PreAdjustment() decimal.Decimal {
	return t.Subtotal.Add(t.GSTAmount).Add(t.PSTAmount)
}

// Compute evaluates the totals. Taxes apply to the subtotal only, never to
// each other.
func Compute(in Input) Totals {
	var t Totals
	for _, p := range in.Products {
		t.ProductSubtotal = t.ProductSubtotal.Add(p.Price)
	}
	for _, s := range in.Services {
		t.ServiceSubtotal = t.ServiceSubtotal.Add(s.Price)
	}
	t.Subtotal = t.ProductSubtotal.Add(t.ServiceSubtotal)
	t.GSTAmount = t.Subtotal.Mul(in.GSTPercent).Div(hundred)
	t.PSTAmount = t.Subtotal.Mul(in.PSTPercent).Div(hundred)

	t.AdjustmentSigned = in.Adjustment
	if in.Direction == domain.AdjustmentDiscount {
		t.AdjustmentSigned = in.Adjustment.Neg()
	}
	t.GrandTotal = t.PreAdjustment().Add(t.AdjustmentSigned)
	return t
}

// ParseAmount reads a user-entered number. Empty or malformed input is zero.
func ParseAmount(raw string) decimal.Decimal {
	raw = strings.TrimSpace(strings.ReplaceAll(raw, ",", ""))
	if raw == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// ClampAdjustment caps an entered adjustment at the pre-adjustment total so a
// discount can never push the grand total below zero. Negative entries
// become zero.
func ClampAdjustment(adjustment decimal.Decimal, totals Totals) decimal.Decimal {
	if adjustment.IsNegative() {
		return decimal.Zero
	}
	limit := totals.PreAdjustment()
	if adjustment.GreaterThan(limit) {
		return limit
	}
	return adjustment
}
