package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"phonepos/backend/internal/barcode"
	"phonepos/backend/internal/docstore"
	"phonepos/backend/internal/docstore/memory"
	"phonepos/backend/internal/domain"
	"phonepos/backend/internal/ordernumber"
	"phonepos/backend/internal/seed"
	"phonepos/backend/internal/settlement"
)

func num(n int64) decimal.Decimal {
	return decimal.NewFromInt(n)
}

func newSession(t *testing.T) (*Session, *memory.Store) {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	require.NoError(t, seed.Balances(ctx, store, num(1000), num(0), num(0), time.Now()))
	_, err := seed.Entity(ctx, store, domain.RoleCustomer, "Walk-in Customer", "balance", decimal.Zero)
	require.NoError(t, err)
	_, err = seed.AddPhone(ctx, store, seed.Phone{Brand: "Apple", Model: "iPhone 12", IMEI: "123", Price: num(500)})
	require.NoError(t, err)
	_, err = seed.AddPhone(ctx, store, seed.Phone{Brand: "Samsung", Model: "Galaxy S21", IMEI: "456", Price: num(300)})
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, barcode.ScannerRef, map[string]any{"barcode": ""}))

	log := zerolog.Nop()
	s := New(Deps{
		Settler:  settlement.New(store, settlement.WithOrderPrefix("ORD-")),
		Resolver: barcode.NewResolver(store, log, nil),
		Orders:   ordernumber.NewAllocator(store, "ORD-", log),
		Scans:    barcode.NewScanner(store, log),
		Log:      log,
	})
	t.Cleanup(s.Close)
	require.NoError(t, s.Open(ctx))
	return s, store
}

func snapshot(t *testing.T, s *Session) Snapshot {
	t.Helper()
	snap, err := s.Snapshot()
	require.NoError(t, err)
	return snap
}

func TestOrderNumberFeedRespectsUserOverride(t *testing.T) {
	ctx := context.Background()
	s, store := newSession(t)

	require.Eventually(t, func() bool { return snapshot(t, s).OrderNumber.Value() == "ORD-1" }, time.Second, 5*time.Millisecond)

	require.NoError(t, s.EditOrderNumber("ORD-77"))
	require.NoError(t, store.Set(ctx, docstore.Doc(ordernumber.Collection, "x"), map[string]any{"orderNumber": 4}))
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, "ORD-77", snapshot(t, s).OrderNumber.Value())

	require.NoError(t, s.ResetOrderNumber())
	assert.Equal(t, "ORD-5", snapshot(t, s).OrderNumber.Value())
}

func TestScannerFeedAddsOnceAndReportsDuplicate(t *testing.T) {
	ctx := context.Background()
	s, store := newSession(t)

	require.NoError(t, store.Update(ctx, barcode.ScannerRef, map[string]any{"barcode": "123"}))
	require.Eventually(t, func() bool { return len(snapshot(t, s).Products) == 1 }, time.Second, 5*time.Millisecond)

	outcome, err := s.Scan(ctx, "123")
	assert.ErrorIs(t, err, barcode.ErrDuplicate)
	assert.Equal(t, barcode.OutcomeDuplicate, outcome)

	snap := snapshot(t, s)
	assert.Len(t, snap.Products, 1)
	require.NotNil(t, snap.LastScan)
	assert.Equal(t, barcode.OutcomeDuplicate, snap.LastScan.Outcome)

	outcome, err = s.Scan(ctx, "000")
	assert.ErrorIs(t, err, barcode.ErrIMEINotFound)
	assert.Equal(t, barcode.OutcomeNotFound, outcome)
	assert.Len(t, snapshot(t, s).Products, 1)
}

func TestConfirmClearsFormOnSuccess(t *testing.T) {
	ctx := context.Background()
	s, store := newSession(t)
	require.Eventually(t, func() bool { return snapshot(t, s).OrderNumber.Value() == "ORD-1" }, time.Second, 5*time.Millisecond)

	_, err := s.Scan(ctx, "123")
	require.NoError(t, err)
	require.NoError(t, s.AddService(domain.ServiceItem{Name: "Screen protector", Price: num(20)}))
	require.NoError(t, s.SetCustomer("Walk-in Customer"))
	require.NoError(t, s.SetTaxes("5", "7"))
	require.NoError(t, s.SetPayment(domain.PaymentSplit{Cash: num(582)}))

	snap := snapshot(t, s)
	assert.True(t, snap.Totals.GrandTotal.Equal(decimal.RequireFromString("582.4")))
	assert.False(t, snap.Main.Overpaid)

	res, err := s.Confirm(ctx)
	require.NoError(t, err)
	require.NotNil(t, res)

	snap = snapshot(t, s)
	assert.Empty(t, snap.Products)
	assert.Empty(t, snap.Services)
	assert.True(t, snap.Payment.IsZero())
	assert.Equal(t, res.Sale.ID, snap.LastSale)
	assert.False(t, snap.Settling)
	assert.Equal(t, "Walk-in Customer", snap.Customer)

	assert.Equal(t, 1, store.Len(settlement.SalesCollection))
	require.Eventually(t, func() bool { return snapshot(t, s).OrderNumber.Value() == "ORD-2" }, time.Second, 5*time.Millisecond)
}

func TestConfirmFailureLeavesFormIntact(t *testing.T) {
	s, store := newSession(t)
	require.NoError(t, s.AddProduct(domain.ProductItem{Brand: "Nokia-X", Model: "3310", IMEIs: []string{"9"}, Price: num(50)}))
	require.NoError(t, s.SetCustomer("Walk-in Customer"))
	require.NoError(t, s.SetTaxes("0", "0"))
	require.Eventually(t, func() bool { return snapshot(t, s).OrderNumber.Value() == "ORD-1" }, time.Second, 5*time.Millisecond)

	_, err := s.Confirm(context.Background())
	require.ErrorIs(t, err, settlement.ErrNotFound)

	snap := snapshot(t, s)
	assert.Len(t, snap.Products, 1)
	assert.Equal(t, err.Error(), snap.LastError)
	assert.Equal(t, 0, store.Len(settlement.SalesCollection))
}

type blockingSettler struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingSettler) Settle(_ context.Context, _ settlement.Request) (*settlement.Result, error) {
	close(b.entered)
	<-b.release
	return nil, errors.New("declined")
}

func TestConfirmRejectsSecondSubmission(t *testing.T) {
	settler := &blockingSettler{entered: make(chan struct{}), release: make(chan struct{})}
	s := New(Deps{Settler: settler, Log: zerolog.Nop()})
	t.Cleanup(s.Close)

	errs := make(chan error, 1)
	go func() {
		_, err := s.Confirm(context.Background())
		errs <- err
	}()
	<-settler.entered

	assert.True(t, snapshot(t, s).Settling)
	_, err := s.Confirm(context.Background())
	assert.ErrorIs(t, err, ErrSettlementInFlight)

	close(settler.release)
	assert.EqualError(t, <-errs, "declined")
	assert.False(t, snapshot(t, s).Settling)
}

func TestEditingLineItems(t *testing.T) {
	s := New(Deps{Log: zerolog.Nop()})
	t.Cleanup(s.Close)

	require.NoError(t, s.AddProduct(domain.ProductItem{Brand: "Apple", IMEIs: []string{"1"}, Price: num(100)}))
	require.NoError(t, s.AddProduct(domain.ProductItem{Brand: "Google", IMEIs: []string{"2"}, Price: num(200)}))
	require.NoError(t, s.ReplaceProduct(0, domain.ProductItem{Brand: "Apple", IMEIs: []string{"1"}, Price: num(150)}))
	require.NoError(t, s.RemoveProduct(1))
	assert.ErrorIs(t, s.RemoveProduct(5), ErrNoSuchItem)

	require.NoError(t, s.AddService(domain.ServiceItem{Name: "Case", Price: num(10)}))
	require.NoError(t, s.ReplaceService(0, domain.ServiceItem{Name: "Case", Price: num(15)}))
	assert.ErrorIs(t, s.ReplaceService(3, domain.ServiceItem{}), ErrNoSuchItem)

	snap := snapshot(t, s)
	require.Len(t, snap.Products, 1)
	assert.True(t, snap.Products[0].Price.Equal(num(150)))
	assert.True(t, snap.Totals.Subtotal.Equal(num(165)))

	require.NoError(t, s.RemoveService(0))
	assert.Empty(t, snapshot(t, s).Services)
}

func TestSetAdjustmentClampsDiscount(t *testing.T) {
	s := New(Deps{Log: zerolog.Nop()})
	t.Cleanup(s.Close)

	require.NoError(t, s.AddProduct(domain.ProductItem{Price: num(100)}))
	require.NoError(t, s.SetTaxes("10", "0"))
	require.NoError(t, s.SetAdjustment("500", domain.AdjustmentDiscount))

	snap := snapshot(t, s)
	assert.Equal(t, "110", snap.Adjustment)
	assert.True(t, snap.Totals.GrandTotal.IsZero())

	require.NoError(t, s.SetAdjustment("5", domain.AdjustmentSurcharge))
	snap = snapshot(t, s)
	assert.Equal(t, "5", snap.Adjustment)
	assert.True(t, snap.Totals.GrandTotal.Equal(num(115)))
}

func TestClosedSessionRejectsCalls(t *testing.T) {
	s := New(Deps{Log: zerolog.Nop()})
	s.Close()
	s.Close()

	assert.ErrorIs(t, s.SetCustomer("x"), ErrClosed)
	_, err := s.Snapshot()
	assert.ErrorIs(t, err, ErrClosed)
}

type gateSettler struct {
	entered chan struct{}
	release chan struct{}
}

func (g *gateSettler) Settle(_ context.Context, _ settlement.Request) (*settlement.Result, error) {
	close(g.entered)
	<-g.release
	return &settlement.Result{Sale: docstore.Doc(settlement.SalesCollection, "s1")}, nil
}

type stockResolver struct{}

func (stockResolver) Scan(_ context.Context, code string, cart []domain.ProductItem) (domain.ProductItem, error) {
	if domain.CartContainsIMEI(cart, code) {
		return domain.ProductItem{}, barcode.ErrDuplicate
	}
	return domain.ProductItem{Brand: "Apple", Model: "iPhone 12", IMEIs: []string{code}, Price: num(100)}, nil
}

func TestConfirmKeepsItemsAddedWhileSettling(t *testing.T) {
	ctx := context.Background()
	settler := &gateSettler{entered: make(chan struct{}), release: make(chan struct{})}
	s := New(Deps{Settler: settler, Resolver: stockResolver{}, Log: zerolog.Nop()})
	t.Cleanup(s.Close)

	_, err := s.Scan(ctx, "123")
	require.NoError(t, err)
	require.NoError(t, s.AddService(domain.ServiceItem{Name: "Repair", Price: num(40)}))

	done := make(chan error, 1)
	go func() {
		_, err := s.Confirm(ctx)
		done <- err
	}()
	<-settler.entered

	_, err = s.Scan(ctx, "456")
	require.NoError(t, err)
	require.NoError(t, s.AddService(domain.ServiceItem{Name: "Case", Price: num(15)}))
	assert.Len(t, snapshot(t, s).Products, 2)

	close(settler.release)
	require.NoError(t, <-done)

	snap := snapshot(t, s)
	require.Len(t, snap.Products, 1)
	assert.Equal(t, []string{"456"}, snap.Products[0].IMEIs)
	require.Len(t, snap.Services, 1)
	assert.Equal(t, "Case", snap.Services[0].Name)
	assert.Equal(t, "s1", snap.LastSale)
}

func TestRemovingItemsReclampsDiscount(t *testing.T) {
	s := New(Deps{Log: zerolog.Nop()})
	t.Cleanup(s.Close)

	require.NoError(t, s.AddProduct(domain.ProductItem{IMEIs: []string{"1"}, Price: num(100)}))
	require.NoError(t, s.AddProduct(domain.ProductItem{IMEIs: []string{"2"}, Price: num(50)}))
	require.NoError(t, s.AddService(domain.ServiceItem{Name: "Case", Price: num(20)}))
	require.NoError(t, s.SetAdjustment("170", domain.AdjustmentDiscount))
	assert.Equal(t, "170", snapshot(t, s).Adjustment)

	require.NoError(t, s.RemoveProduct(0))
	snap := snapshot(t, s)
	assert.Equal(t, "70", snap.Adjustment)
	assert.True(t, snap.Totals.GrandTotal.IsZero())

	require.NoError(t, s.ReplaceService(0, domain.ServiceItem{Name: "Case", Price: num(10)}))
	snap = snapshot(t, s)
	assert.Equal(t, "60", snap.Adjustment)
	assert.False(t, snap.Totals.GrandTotal.IsNegative())
}
