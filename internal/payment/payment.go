// Package payment checks a three-way cash/bank/card split against a target.
package payment

import (
	"fmt"

	"github.com/shopspring/decimal"

	"phonepos/backend/internal/domain"
)

type Result struct {
	Target    decimal.Decimal
	TotalPaid decimal.Decimal
	// Credit is the outstanding amount, never negative.
	Credit   decimal.Decimal
	Overpaid bool
}

// OverpaymentError is advisory. It never blocks settlement.
type OverpaymentError struct {
	TotalPaid decimal.Decimal
	Target    decimal.Decimal
}

func (e *OverpaymentError) Error() string {
	return fmt.Sprintf("total paid %s exceeds amount due %s", e.TotalPaid.StringFixed(2), e.Target.StringFixed(2))
}

func Validate(target decimal.Decimal, split domain.PaymentSplit) Result {
	paid := split.Total()
	res := Result{Target: target, TotalPaid: paid, Credit: decimal.Zero}
	if paid.GreaterThan(target) {
		res.Overpaid = true
		return res
	}
	res.Credit = target.Sub(paid)
	return res
}

// Overpayment returns the advisory error for an overpaid result, or nil.
func (r Result) Overpayment() error {
	if !r.Overpaid {
		return nil
	}
	return &OverpaymentError{TotalPaid: r.TotalPaid, Target: r.Target}
}
