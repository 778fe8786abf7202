package cache

import (
	"context"
	"time"

	"phonepos/backend/internal/domain"
)

// EntityCache holds counterparty lists per role between directory reads.
type EntityCache interface {
	Get(ctx context.Context, role domain.Role) ([]domain.Entity, bool, error)
	Set(ctx context.Context, role domain.Role, entities []domain.Entity, ttl time.Duration) error
	Invalidate(ctx context.Context, roles ...domain.Role) error
}

type NoopEntityCache struct{}

func (NoopEntityCache) Get(_ context.Context, _ domain.Role) ([]domain.Entity, bool, error) {
	return nil, false, nil
}

func (NoopEntityCache) Set(_ context.Context, _ domain.Role, _ []domain.Entity, _ time.Duration) error {
	return nil
}

func (NoopEntityCache) Invalidate(_ context.Context, _ ...domain.Role) error {
	return nil
}

func entitiesKey(role domain.Role) string {
	return "phonepos:entities:" + string(role)
}
