package payment

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"phonepos/backend/internal/domain"
)

func split(cash, bank, card int64) domain.PaymentSplit {
	return domain.PaymentSplit{
		Cash: decimal.NewFromInt(cash),
		Bank: decimal.NewFromInt(bank),
		Card: decimal.NewFromInt(card),
	}
}

func TestValidateShortfallLeavesCredit(t *testing.T) {
	res := Validate(decimal.NewFromInt(560), split(500, 0, 0))

	assert.False(t, res.Overpaid)
	assert.True(t, res.TotalPaid.Equal(decimal.NewFromInt(500)))
	assert.True(t, res.Credit.Equal(decimal.NewFromInt(60)))
	assert.NoError(t, res.Overpayment())
}

func TestValidateOverpaidHasNoCredit(t *testing.T) {
	res := Validate(decimal.NewFromInt(100), split(50, 40, 20))

	assert.True(t, res.Overpaid)
	assert.True(t, res.Credit.IsZero())

	var over *OverpaymentError
	require.True(t, errors.As(res.Overpayment(), &over))
	assert.True(t, over.TotalPaid.Equal(decimal.NewFromInt(110)))
	assert.True(t, over.Target.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, "total paid 110.00 exceeds amount due 100.00", over.Error())
}

func TestValidateCreditMatchesDifference(t *testing.T) {
	cases := []struct {
		target           int64
		cash, bank, card int64
	}{
		{0, 0, 0, 0},
		{100, 60, 40, 0},
		{100, 10, 20, 30},
		{75, 100, 0, 0},
		{1, 0, 0, 2},
	}
	for _, tc := range cases {
		target := decimal.NewFromInt(tc.target)
		res := Validate(target, split(tc.cash, tc.bank, tc.card))
		sum := decimal.NewFromInt(tc.cash + tc.bank + tc.card)
		if sum.GreaterThan(target) {
			assert.True(t, res.Overpaid)
			assert.True(t, res.Credit.IsZero())
		} else {
			assert.False(t, res.Overpaid)
			assert.True(t, res.Credit.Equal(target.Sub(sum)))
		}
	}
}

func TestValidateMiddlemanGiveFullyCovered(t *testing.T) {
	res := Validate(decimal.NewFromInt(100), split(60, 40, 0))
	assert.True(t, res.Credit.IsZero())
	assert.False(t, res.Overpaid)
}
