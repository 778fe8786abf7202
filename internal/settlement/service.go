// Package settlement commits a confirmed sale: it discovers every document the
// sale touches, computes the new absolute values, then writes them in one
// atomic transaction.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"phonepos/backend/internal/docstore"
	"phonepos/backend/internal/domain"
	"phonepos/backend/internal/metrics"
	"phonepos/backend/internal/ordernumber"
)

// EntityInvalidator is told which counterparty lists a settlement changed.
type EntityInvalidator interface {
	Invalidate(ctx context.Context, roles ...domain.Role)
}

type Service struct {
	store       docstore.Store
	log         zerolog.Logger
	metrics     *metrics.Metrics
	invalidator EntityInvalidator
	orderPrefix string
	now         func() time.Time
}

type Option func(*Service)

func WithLogger(log zerolog.Logger) Option {
	return func(s *Service) { s.log = log }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithInvalidator(inv EntityInvalidator) Option {
	return func(s *Service) { s.invalidator = inv }
}

func WithOrderPrefix(prefix string) Option {
	return func(s *Service) { s.orderPrefix = prefix }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(store docstore.Store, opts ...Option) *Service {
	s := &Service{
		store:       store,
		log:         zerolog.Nop(),
		orderPrefix: "ORD-",
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type Result struct {
	Sale   docstore.Ref
	Record domain.SaleRecord
	Plan   *Plan
}

// Settle validates req, plans the sale and commits it. On any error nothing
// has been written.
func (s *Service) Settle(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	res, err := s.settle(ctx, req)
	s.metrics.ObserveSettlement(Outcome(err), start)
	if err != nil {
		s.log.Warn().Err(err).Str("customer", req.Customer).Msg("settlement failed")
		return nil, err
	}
	s.log.Info().
		Str("sale", res.Sale.Path()).
		Int64("order_number", res.Record.OrderNumber).
		Str("grand_total", res.Record.GrandTotal.String()).
		Msg("settlement committed")
	return res, nil
}

func (s *Service) settle(ctx context.Context, req Request) (*Result, error) {
	verr := &ValidationError{Missing: missingFields(req)}
	orderNumber, err := ordernumber.Parse(s.orderPrefix, req.OrderNumber)
	if err != nil {
		verr.Invalid = append(verr.Invalid, "order number")
	}
	verr.Invalid = append(verr.Invalid, duplicateIMEIs(req.Products)...)
	if len(verr.Missing) > 0 || len(verr.Invalid) > 0 {
		return nil, verr
	}

	p := &planner{svc: s, req: req, now: s.now()}
	plan, err := p.build(ctx, orderNumber)
	if err != nil {
		return nil, err
	}

	// Once the commit starts it runs to completion.
	commitCtx := context.WithoutCancel(ctx)
	err = s.store.RunTransaction(commitCtx, func(_ context.Context, tx docstore.Tx) error {
		Apply(plan, tx)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: commit: %w", ErrStoreOperationFailed, err)
	}

	if s.invalidator != nil {
		roles := []domain.Role{plan.Customer.Role}
		if plan.Middleman != nil {
			roles = append(roles, domain.RoleMiddleman)
		}
		s.invalidator.Invalidate(commitCtx, roles...)
	}
	return &Result{Sale: plan.Sale, Record: plan.Record, Plan: plan}, nil
}

// LoadSale reads a committed sale back for the receipt.
func (s *Service) LoadSale(ctx context.Context, id string) (*domain.SaleRecord, error) {
	doc, err := s.store.Get(ctx, docstore.Doc(SalesCollection, id))
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, fmt.Errorf("%w: sale %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("%w: load sale %s: %w", ErrStoreOperationFailed, id, err)
	}
	rec := decodeSale(doc)
	return &rec, nil
}
