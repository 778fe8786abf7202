// Package barcode turns a scanned serial identifier into a cart line item by
// following the IMEI index to the phone document and its reference fields.
package barcode

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"phonepos/backend/internal/docstore"
	"phonepos/backend/internal/domain"
	"phonepos/backend/internal/metrics"
)

const (
	IMEICollection = "IMEI"
	Unknown        = "Unknown"
)

var (
	ErrIMEINotFound = errors.New("imei not found")
	ErrPhoneMissing = errors.New("phone record missing")
	ErrDuplicate    = errors.New("imei already in cart")
)

type Outcome string

const (
	OutcomeAdded        Outcome = "added"
	OutcomeDuplicate    Outcome = "duplicate"
	OutcomeNotFound     Outcome = "not_found"
	OutcomePhoneMissing Outcome = "phone_missing"
	OutcomeFailed       Outcome = "failed"
)

// OutcomeOf classifies a resolution error.
func OutcomeOf(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeAdded
	case errors.Is(err, ErrDuplicate):
		return OutcomeDuplicate
	case errors.Is(err, ErrIMEINotFound):
		return OutcomeNotFound
	case errors.Is(err, ErrPhoneMissing):
		return OutcomePhoneMissing
	default:
		return OutcomeFailed
	}
}

type Resolver struct {
	store   docstore.Store
	log     zerolog.Logger
	metrics *metrics.Metrics
}

func NewResolver(store docstore.Store, log zerolog.Logger, m *metrics.Metrics) *Resolver {
	return &Resolver{store: store, log: log, metrics: m}
}

// Scan resolves code and rejects it when cart already carries the identifier.
func (r *Resolver) Scan(ctx context.Context, code string, cart []domain.ProductItem) (domain.ProductItem, error) {
	item, err := r.Resolve(ctx, code)
	if err == nil && domain.CartContainsIMEI(cart, item.IMEIs[0]) {
		err = fmt.Errorf("%w: %s", ErrDuplicate, item.IMEIs[0])
	}
	r.metrics.ObserveScan(string(OutcomeOf(err)))
	if err != nil {
		return domain.ProductItem{}, err
	}
	return item, nil
}

// Resolve only fails on the index lookup and the phone lookup. Every other
// field degrades to Unknown on its own.
func (r *Resolver) Resolve(ctx context.Context, code string) (domain.ProductItem, error) {
	code = strings.TrimSpace(code)
	entry, err := docstore.QueryOne(ctx, r.store, IMEICollection, docstore.Where("imei", code))
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return domain.ProductItem{}, fmt.Errorf("%w: %s", ErrIMEINotFound, code)
		}
		return domain.ProductItem{}, fmt.Errorf("lookup imei %s: %w", code, err)
	}

	path, _ := docstore.String(entry.Data["phoneReference"])
	phoneRef, ok := docstore.ParseRef(path)
	if !ok {
		return domain.ProductItem{}, fmt.Errorf("%w: imei %s has no phone reference", ErrPhoneMissing, code)
	}
	phone, err := r.store.Get(ctx, phoneRef)
	if err != nil {
		return domain.ProductItem{}, fmt.Errorf("%w: %s: %v", ErrPhoneMissing, phoneRef, err)
	}

	item := domain.ProductItem{
		Brand:           Unknown,
		Model:           Unknown,
		Color:           Unknown,
		Carrier:         Unknown,
		StorageLocation: Unknown,
		IMEIs:           []string{code},
	}
	if imei, ok := docstore.String(phone.Data["imei"]); ok && imei != "" {
		item.IMEIs = []string{imei}
	}
	item.Status, _ = docstore.String(phone.Data["status"])
	item.Capacity = textValue(phone.Data["capacity"])
	item.CapacityUnit, _ = docstore.String(phone.Data["capacityUnit"])
	if price, ok := docstore.Decimal(phone.Data["price"]); ok {
		item.Price = price
	}
	if cost, ok := docstore.Decimal(phone.Data["cost"]); ok {
		item.Cost = decimal.NewNullDecimal(cost)
	}

	brandRef, modelRef := ancestors(phoneRef)
	var g errgroup.Group
	g.Go(func() error {
		item.Brand = r.lookup(ctx, referenceOr(phone.Data["brand"], brandRef), Unknown, "brand", "name")
		return nil
	})
	g.Go(func() error {
		item.Model = r.lookup(ctx, referenceOr(phone.Data["model"], modelRef), Unknown, "model", "name")
		return nil
	})
	g.Go(func() error {
		item.Color = r.lookup(ctx, phone.Data["color"], Unknown, "color", "name")
		return nil
	})
	g.Go(func() error {
		item.Carrier = r.lookup(ctx, phone.Data["carrier"], Unknown, "carrier", "name")
		return nil
	})
	g.Go(func() error {
		item.StorageLocation = r.storageLocation(ctx, phone.Data["storageLocation"])
		return nil
	})
	_ = g.Wait()

	return item, nil
}

// lookup follows ref and returns the first present candidate field as text,
// or fallback on any failure.
func (r *Resolver) lookup(ctx context.Context, ref any, fallback string, candidates ...string) string {
	path, ok := docstore.String(ref)
	if !ok {
		return fallback
	}
	target, ok := docstore.ParseRef(path)
	if !ok {
		return fallback
	}
	doc, err := r.store.Get(ctx, target)
	if err != nil {
		r.log.Debug().Err(err).Str("ref", path).Msg("reference lookup failed")
		return fallback
	}
	v, _, ok := docstore.FirstPresent(doc.Data, candidates...)
	if !ok {
		return fallback
	}
	text := textValue(v)
	if text == "" {
		return fallback
	}
	return text
}

// storageLocation is stored as text. Older records hold a reference instead.
func (r *Resolver) storageLocation(ctx context.Context, v any) string {
	text, ok := docstore.String(v)
	if !ok || strings.TrimSpace(text) == "" {
		return Unknown
	}
	if _, isRef := docstore.ParseRef(text); isRef {
		return r.lookup(ctx, text, Unknown, "storageLocation", "location", "name")
	}
	return text
}

// ancestors returns the brand and model documents a phone is nested under.
func ancestors(phone docstore.Ref) (docstore.Ref, docstore.Ref) {
	var brand, model docstore.Ref
	segments := strings.Split(phone.Collection, "/")
	if len(segments) >= 2 {
		brand, _ = docstore.ParseRef(strings.Join(segments[:2], "/"))
	}
	if len(segments) >= 4 {
		model, _ = docstore.ParseRef(strings.Join(segments[:4], "/"))
	}
	return brand, model
}

func referenceOr(v any, fallback docstore.Ref) any {
	if path, ok := docstore.String(v); ok {
		if _, isRef := docstore.ParseRef(path); isRef {
			return path
		}
	}
	if fallback.IsZero() {
		return nil
	}
	return fallback.Path()
}

func textValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		if d, ok := docstore.Decimal(t); ok {
			return d.String()
		}
		return fmt.Sprint(t)
	}
}
