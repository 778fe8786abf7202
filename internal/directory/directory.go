// Package directory lists counterparties per role for selection lists.
package directory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"phonepos/backend/internal/cache"
	"phonepos/backend/internal/docstore"
	"phonepos/backend/internal/domain"
)

// BalanceFields are the accepted balance field names, first present wins.
var BalanceFields = []string{"balance", "Balance", "accountBalance", "AccountBalance"}

// DecodeBalance reads the balance through the BalanceFields chain. The second
// return is the field name it came from, empty when absent.
func DecodeBalance(data map[string]any) (decimal.NullDecimal, string) {
	v, field, ok := docstore.FirstPresent(data, BalanceFields...)
	if !ok {
		return decimal.NullDecimal{}, ""
	}
	d, ok := docstore.Decimal(v)
	if !ok {
		return decimal.NullDecimal{}, field
	}
	return decimal.NewNullDecimal(d), field
}

type Service struct {
	store docstore.Store
	cache cache.EntityCache
	ttl   time.Duration
	log   zerolog.Logger
}

func New(store docstore.Store, entityCache cache.EntityCache, ttl time.Duration, log zerolog.Logger) *Service {
	if entityCache == nil {
		entityCache = cache.NoopEntityCache{}
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Service{store: store, cache: entityCache, ttl: ttl, log: log}
}

func (s *Service) List(ctx context.Context, role domain.Role) ([]domain.Entity, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("unknown role %q", role)
	}

	if cached, ok, err := s.cache.Get(ctx, role); err != nil {
		s.log.Warn().Err(err).Str("role", string(role)).Msg("entity cache read failed")
	} else if ok {
		return cached, nil
	}

	docs, err := s.store.Query(ctx, role.Collection())
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", role.Collection(), err)
	}
	entities := make([]domain.Entity, 0, len(docs))
	for _, doc := range docs {
		name, _ := docstore.String(doc.Data["name"])
		balance, _ := DecodeBalance(doc.Data)
		entities = append(entities, domain.Entity{
			ID:      doc.Ref.ID,
			Name:    name,
			Role:    role,
			Balance: balance,
		})
	}
	sort.SliceStable(entities, func(i, j int) bool {
		return strings.ToLower(entities[i].Name) < strings.ToLower(entities[j].Name)
	})

	if err := s.cache.Set(ctx, role, entities, s.ttl); err != nil {
		s.log.Warn().Err(err).Str("role", string(role)).Msg("entity cache write failed")
	}
	return entities, nil
}

// Invalidate drops cached lists so the next List reads the store.
func (s *Service) Invalidate(ctx context.Context, roles ...domain.Role) {
	if err := s.cache.Invalidate(ctx, roles...); err != nil {
		s.log.Warn().Err(err).Msg("entity cache invalidate failed")
	}
}

// Filter keeps entities whose name or ID contains query, ignoring case.
func Filter(entities []domain.Entity, query string) []domain.Entity {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return entities
	}
	out := make([]domain.Entity, 0, len(entities))
	for _, e := range entities {
		if strings.Contains(strings.ToLower(e.Name), query) || strings.Contains(strings.ToLower(e.ID), query) {
			out = append(out, e)
		}
	}
	return out
}
