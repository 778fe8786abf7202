package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"phonepos/backend/internal/domain"
)

func newTestCache(t *testing.T) (*RedisEntityCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := NewRedisEntityCache(mr.Addr(), "", 0)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestRedisEntityCacheKeepsUnknownBalanceDistinct(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t)
	require.NoError(t, c.Ping(ctx))

	entities := []domain.Entity{
		{ID: "c1", Name: "Alice", Role: domain.RoleCustomer, Balance: decimal.NewNullDecimal(decimal.Zero)},
		{ID: "c2", Name: "Bob", Role: domain.RoleCustomer},
	}
	require.NoError(t, c.Set(ctx, domain.RoleCustomer, entities, time.Minute))

	got, ok, err := c.Get(ctx, domain.RoleCustomer)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, got, 2)
	assert.True(t, got[0].Balance.Valid)
	assert.True(t, got[0].Balance.Decimal.IsZero())
	assert.False(t, got[1].Balance.Valid)

	_, ok, err = c.Get(ctx, domain.RoleSupplier)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisEntityCacheExpiresAndInvalidates(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t)

	require.NoError(t, c.Set(ctx, domain.RoleCustomer, nil, time.Minute))
	require.NoError(t, c.Set(ctx, domain.RoleMiddleman, []domain.Entity{{ID: "m1", Name: "Max"}}, time.Minute))

	got, ok, err := c.Get(ctx, domain.RoleCustomer)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, got)

	mr.FastForward(2 * time.Minute)
	_, ok, err = c.Get(ctx, domain.RoleCustomer)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, domain.RoleCustomer, nil, time.Minute))
	require.NoError(t, c.Invalidate(ctx, domain.RoleCustomer, domain.RoleMiddleman))
	assert.False(t, mr.Exists(entitiesKey(domain.RoleCustomer)))
	assert.False(t, mr.Exists(entitiesKey(domain.RoleMiddleman)))
}
