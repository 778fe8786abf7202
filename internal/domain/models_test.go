package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandByIMEIYieldsOneItemPerIdentifier(t *testing.T) {
	source := ProductItem{
		Brand: "Apple",
		Model: "iPhone 12",
		IMEIs: []string{"111", "222", "333"},
		Price: decimal.NewFromInt(500),
		Cost:  decimal.NewNullDecimal(decimal.NewFromInt(400)),
	}

	expanded := ExpandByIMEI([]ProductItem{source})
	require.Len(t, expanded, 3)
	for i, item := range expanded {
		require.Len(t, item.IMEIs, 1)
		assert.Equal(t, source.IMEIs[i], item.IMEIs[0])
		assert.True(t, item.Price.Equal(source.Price), "price must be copied, not divided")
		assert.True(t, item.Cost.Valid)
		assert.True(t, item.Cost.Decimal.Equal(source.Cost.Decimal))
	}

	again := ExpandByIMEI(expanded)
	assert.Equal(t, expanded, again)
}

func TestExpandByIMEIDoesNotAliasSource(t *testing.T) {
	source := []ProductItem{{IMEIs: []string{"1"}}}
	expanded := ExpandByIMEI(source)
	expanded[0].IMEIs[0] = "changed"
	assert.Equal(t, "1", source[0].IMEIs[0])
}

func TestCartContainsIMEIUsesExactMatch(t *testing.T) {
	cart := []ProductItem{{IMEIs: []string{"35000", "35001"}}}
	assert.True(t, CartContainsIMEI(cart, "35001"))
	assert.False(t, CartContainsIMEI(cart, "3500"))
	assert.False(t, CartContainsIMEI(nil, "35000"))
}

func TestRoleCollection(t *testing.T) {
	assert.Equal(t, "Customers", RoleCustomer.Collection())
	assert.Equal(t, "Middlemen", RoleMiddleman.Collection())
	assert.False(t, Role("vendor").Valid())
}

func TestPaymentSplitTotal(t *testing.T) {
	split := PaymentSplit{Cash: decimal.NewFromInt(60), Bank: decimal.NewFromInt(40)}
	assert.True(t, split.Total().Equal(decimal.NewFromInt(100)))
	assert.False(t, split.IsZero())
	assert.True(t, PaymentSplit{}.IsZero())
}
