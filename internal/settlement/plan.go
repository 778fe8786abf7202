package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"phonepos/backend/internal/directory"
	"phonepos/backend/internal/docstore"
	"phonepos/backend/internal/domain"
	"phonepos/backend/internal/payment"
	"phonepos/backend/internal/pricing"
)

const (
	SalesCollection    = "Sales"
	BalanceCollection  = "Balances"
	BrandCollection    = "PhoneBrands"
	IMEIIndex          = "IMEI"
	OrderCollection    = "OrderNumbers"
	defaultBalanceName = "balance"
	discoveryLimit     = 4
)

// Target is a document the commit deletes, pinned to the version seen
// during discovery.
type Target struct {
	Ref     docstore.Ref
	Version int64
}

type EntityTarget struct {
	Target
	Name string
	Role domain.Role
	// AlsoAs lists further roles the same document plays in this sale. Each
	// gets its own history entry on the single write.
	AlsoAs       []domain.Role
	BalanceField string
	Current      decimal.Decimal
	NewBalance   decimal.Decimal
}

type BalanceTarget struct {
	Target
	Account   domain.BalanceAccount
	Current   decimal.Decimal
	NewAmount decimal.Decimal
}

// Plan is everything the commit needs: identities, pinned versions and the
// absolute values to write. Applying it performs no reads.
type Plan struct {
	Sale        docstore.Ref
	Order       docstore.Ref
	Phones      []Target
	IMEIEntries []Target
	Customer    EntityTarget
	Middleman   *EntityTarget
	Balances    []BalanceTarget
	Record      domain.SaleRecord
	OrderNumber int64
	IsCustom    bool
	Timestamp   time.Time
}

type planner struct {
	svc *Service
	req Request
	now time.Time
}

func (p *planner) build(ctx context.Context, orderNumber int64) (*Plan, error) {
	products := domain.ExpandByIMEI(p.req.Products)

	phones, entries, err := p.discoverInventory(ctx, products)
	if err != nil {
		return nil, err
	}

	customerRef, err := p.findEntity(ctx, p.req.role(), p.req.Customer)
	if err != nil {
		return nil, err
	}
	var middlemanRef docstore.Ref
	if p.req.Middleman.Enabled {
		middlemanRef, err = p.findEntity(ctx, domain.RoleMiddleman, p.req.Middleman.Name)
		if err != nil {
			return nil, err
		}
	}

	plan := &Plan{
		Sale:        p.svc.store.NewRef(SalesCollection),
		Order:       p.svc.store.NewRef(OrderCollection),
		Phones:      phones,
		IMEIEntries: entries,
		OrderNumber: orderNumber,
		IsCustom:    p.req.OrderIsCustom,
		Timestamp:   p.now,
	}

	totals := p.req.Totals()
	main := payment.Validate(totals.GrandTotal, p.req.Payment)
	side := p.req.MiddlemanPayment()
	finals := adjustedSplit(p.req.Payment, p.req.Middleman)

	customer, err := p.prefetchEntity(ctx, customerRef, p.req.role())
	if err != nil {
		return nil, err
	}
	customer.NewBalance = customer.Current.Add(main.TotalPaid.Sub(totals.GrandTotal).Abs())

	if p.req.Middleman.Enabled {
		middleman, err := p.prefetchEntity(ctx, middlemanRef, domain.RoleMiddleman)
		if err != nil {
			return nil, err
		}
		if p.req.Middleman.Unit == domain.MiddlemanGive {
			middleman.NewBalance = middleman.Current.Sub(side.Credit)
		} else {
			middleman.NewBalance = middleman.Current.Add(side.Credit)
		}
		if middleman.Ref == customer.Ref {
			// One document on both sides: fold the deltas into one balance write.
			customer.NewBalance = customer.NewBalance.Add(middleman.NewBalance.Sub(middleman.Current))
			customer.AlsoAs = append(customer.AlsoAs, domain.RoleMiddleman)
			middleman.NewBalance = customer.NewBalance
		}
		plan.Middleman = &middleman
	}
	plan.Customer = customer

	deltas := map[domain.BalanceAccount]decimal.Decimal{
		domain.AccountCash:       finals.Cash,
		domain.AccountBank:       finals.Bank,
		domain.AccountCreditCard: finals.Card,
	}
	for _, account := range domain.BalanceAccounts {
		ref := docstore.Doc(BalanceCollection, string(account))
		doc, err := p.svc.store.Get(ctx, ref)
		if err != nil {
			return nil, lookupErr("balance "+string(account), err)
		}
		current, _ := docstore.Decimal(doc.Data["amount"])
		plan.Balances = append(plan.Balances, BalanceTarget{
			Target:    Target{Ref: ref, Version: doc.Version},
			Account:   account,
			Current:   current,
			NewAmount: current.Add(deltas[account]),
		})
	}

	plan.Record = p.record(plan, products, totals, main, side)
	return plan, nil
}

// adjustedSplit applies the middleman side payment to the main split: a give
// reduces what the business keeps, a receive increases it.
func adjustedSplit(main domain.PaymentSplit, mm MiddlemanInput) domain.PaymentSplit {
	if !mm.Enabled || mm.Split.IsZero() {
		return main
	}
	if mm.Unit == domain.MiddlemanGive {
		return domain.PaymentSplit{
			Cash: main.Cash.Sub(mm.Split.Cash),
			Bank: main.Bank.Sub(mm.Split.Bank),
			Card: main.Card.Sub(mm.Split.Card),
		}
	}
	return domain.PaymentSplit{
		Cash: main.Cash.Add(mm.Split.Cash),
		Bank: main.Bank.Add(mm.Split.Bank),
		Card: main.Card.Add(mm.Split.Card),
	}
}

// discoverInventory resolves brand, model and phone for every serial
// identifier. Any miss fails the whole settlement; a missing index entry
// only means there is nothing to delete from the index. Identifiers are
// unique across products by the time this runs.
func (p *planner) discoverInventory(ctx context.Context, products []domain.ProductItem) ([]Target, []Target, error) {
	type found struct {
		phone   Target
		entries []Target
	}
	results := make([]found, len(products))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(discoveryLimit)
	for i, item := range products {
		g.Go(func() error {
			if len(item.IMEIs) == 0 {
				return fmt.Errorf("%w: %s %s has no imei", ErrNotFound, item.Brand, item.Model)
			}
			imei := item.IMEIs[0]

			brand, err := docstore.QueryOne(gctx, p.svc.store, BrandCollection, docstore.Where("brand", item.Brand))
			if err != nil {
				return lookupErr(fmt.Sprintf("brand %q", item.Brand), err)
			}
			model, err := docstore.QueryOne(gctx, p.svc.store, brand.Ref.Child("Models"), docstore.Where("model", item.Model))
			if err != nil {
				return lookupErr(fmt.Sprintf("model %q", item.Model), err)
			}
			phone, err := docstore.QueryOne(gctx, p.svc.store, model.Ref.Child("Phones"), docstore.Where("imei", imei))
			if err != nil {
				return lookupErr(fmt.Sprintf("phone %s", imei), err)
			}
			res := found{phone: Target{Ref: phone.Ref, Version: phone.Version}}

			entries, err := p.svc.store.Query(gctx, IMEIIndex, docstore.Where("imei", imei))
			if err != nil {
				return lookupErr(fmt.Sprintf("imei index %s", imei), err)
			}
			if len(entries) == 0 {
				p.svc.log.Warn().Str("imei", imei).Msg("imei index entry missing, nothing to remove")
			}
			for _, entry := range entries {
				res.entries = append(res.entries, Target{Ref: entry.Ref, Version: entry.Version})
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	phones := make([]Target, 0, len(results))
	entries := make([]Target, 0, len(results))
	for _, res := range results {
		phones = append(phones, res.phone)
		entries = append(entries, res.entries...)
	}
	return phones, entries, nil
}

func (p *planner) findEntity(ctx context.Context, role domain.Role, name string) (docstore.Ref, error) {
	if !role.Valid() {
		return docstore.Ref{}, fmt.Errorf("%w: role %q", ErrNotFound, role)
	}
	doc, err := docstore.QueryOne(ctx, p.svc.store, role.Collection(), docstore.Where("name", name))
	if err != nil {
		return docstore.Ref{}, lookupErr(fmt.Sprintf("%s %q", role, name), err)
	}
	return doc.Ref, nil
}

// prefetchEntity reads current values outside the atomic scope so the commit
// can write absolute values blind.
func (p *planner) prefetchEntity(ctx context.Context, ref docstore.Ref, role domain.Role) (EntityTarget, error) {
	doc, err := p.svc.store.Get(ctx, ref)
	if err != nil {
		return EntityTarget{}, lookupErr(fmt.Sprintf("%s %s", role, ref), err)
	}
	name, _ := docstore.String(doc.Data["name"])
	balance, field := directory.DecodeBalance(doc.Data)
	if field == "" {
		field = defaultBalanceName
	}
	current := decimal.Zero
	if balance.Valid {
		current = balance.Decimal
	}
	return EntityTarget{
		Target:       Target{Ref: ref, Version: doc.Version},
		Name:         name,
		Role:         role,
		BalanceField: field,
		Current:      current,
	}, nil
}

func (p *planner) record(plan *Plan, products []domain.ProductItem, totals pricing.Totals, main payment.Result, side payment.Result) domain.SaleRecord {
	txDate := p.req.TransactionDate
	if txDate.IsZero() {
		txDate = p.now
	}
	rec := domain.SaleRecord{
		ID:                  plan.Sale.ID,
		TransactionDate:     txDate.UTC(),
		OrderNumber:         plan.OrderNumber,
		ProductSubtotal:     totals.ProductSubtotal,
		ServiceSubtotal:     totals.ServiceSubtotal,
		Subtotal:            totals.Subtotal,
		GSTPercent:          pricing.ParseAmount(p.req.GST),
		PSTPercent:          pricing.ParseAmount(p.req.PST),
		GSTAmount:           totals.GSTAmount,
		PSTAmount:           totals.PSTAmount,
		Adjustment:          pricing.ParseAmount(p.req.Adjustment),
		AdjustmentDirection: p.req.Direction,
		GrandTotal:          totals.GrandTotal,
		Products:            products,
		Services:            append([]domain.ServiceItem(nil), p.req.Services...),
		Payment: domain.SalePayment{
			Cash:            p.req.Payment.Cash,
			Bank:            p.req.Payment.Bank,
			Card:            p.req.Payment.Card,
			TotalPaid:       main.TotalPaid,
			RemainingCredit: main.Credit,
		},
		Customer: domain.SaleCustomer{
			Reference: plan.Customer.Ref.Path(),
			Name:      plan.Customer.Name,
		},
		CreatedAt: p.now,
	}
	if plan.Middleman != nil {
		rec.Middleman = &domain.SaleMiddleman{
			Reference: plan.Middleman.Ref.Path(),
			Name:      plan.Middleman.Name,
			Unit:      p.req.Middleman.Unit,
			Amount:    side.Target,
			Payment: domain.SalePayment{
				Cash:            p.req.Middleman.Split.Cash,
				Bank:            p.req.Middleman.Split.Bank,
				Card:            p.req.Middleman.Split.Card,
				TotalPaid:       side.TotalPaid,
				RemainingCredit: side.Credit,
			},
		}
	}
	return rec
}
