package memory

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"phonepos/backend/internal/docstore"
)

func TestQueryFiltersWithinCollectionOnly(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Set(ctx, docstore.Doc("IMEI", "a"), map[string]any{"imei": "123"}))
	require.NoError(t, s.Set(ctx, docstore.Doc("IMEI", "b"), map[string]any{"imei": "456"}))
	require.NoError(t, s.Set(ctx, docstore.Doc("PhoneBrands/x/Models/y/Phones", "p"), map[string]any{"imei": "123"}))

	docs, err := s.Query(ctx, "IMEI", docstore.Where("imei", "123"))
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "a", docs[0].Ref.ID)

	_, err = docstore.QueryOne(ctx, s, "IMEI", docstore.Where("imei", "789"))
	assert.ErrorIs(t, err, docstore.ErrNotFound)
}

func TestTransactionAppliesAllOrNothing(t *testing.T) {
	ctx := context.Background()
	s := New()
	phone := docstore.Doc("Phones", "p1")
	require.NoError(t, s.Set(ctx, phone, map[string]any{"imei": "1"}))

	err := s.RunTransaction(ctx, func(_ context.Context, tx docstore.Tx) error {
		tx.Delete(phone, docstore.MustExist())
		tx.Create(docstore.Doc("Sales", "s1"), map[string]any{"total": 10})
		tx.Update(docstore.Doc("Balances", "cash"), map[string]any{"amount": 10})
		return nil
	})
	require.ErrorIs(t, err, docstore.ErrConflict)

	_, err = s.Get(ctx, phone)
	assert.NoError(t, err, "phone must survive a failed transaction")
	assert.Equal(t, 0, s.Len("Sales"))
}

func TestMatchVersionDetectsConcurrentWrite(t *testing.T) {
	ctx := context.Background()
	s := New()
	ref := docstore.Doc("Balances", "cash")
	require.NoError(t, s.Set(ctx, ref, map[string]any{"amount": 100}))
	doc, err := s.Get(ctx, ref)
	require.NoError(t, err)

	require.NoError(t, s.Update(ctx, ref, map[string]any{"amount": 150}))

	err = s.RunTransaction(ctx, func(_ context.Context, tx docstore.Tx) error {
		tx.Update(ref, map[string]any{"amount": 200}, docstore.MatchVersion(doc.Version))
		return nil
	})
	require.ErrorIs(t, err, docstore.ErrConflict)

	current, err := s.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, 150, current.Data["amount"])
}

func TestContentionRetriesWithoutDoubleAppend(t *testing.T) {
	ctx := context.Background()
	s := New()
	ref := docstore.Doc("Customers", "c1")
	require.NoError(t, s.Set(ctx, ref, map[string]any{"name": "Walk-in"}))
	s.InjectContention(2)

	var attempts int
	err := s.RunTransaction(ctx, func(_ context.Context, tx docstore.Tx) error {
		attempts++
		tx.Update(ref, map[string]any{"transactionHistory": docstore.ArrayAppend(map[string]any{"saleReference": "Sales/s1"})})
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)

	doc, err := s.Get(ctx, ref)
	require.NoError(t, err)
	assert.Len(t, doc.Data["transactionHistory"], 1)
}

func TestContentionExhaustsAttempts(t *testing.T) {
	s := New(WithMaxAttempts(2))
	s.InjectContention(5)
	err := s.RunTransaction(context.Background(), func(_ context.Context, tx docstore.Tx) error {
		tx.Set(docstore.Doc("Sales", "s1"), map[string]any{})
		return nil
	})
	assert.ErrorIs(t, err, docstore.ErrConflict)
	assert.Equal(t, 0, s.Len("Sales"))
}

func TestCommitHookSeesOrderedOps(t *testing.T) {
	s := New()
	var kinds []docstore.OpKind
	s.SetCommitHook(func(ops []docstore.Op) error {
		for _, op := range ops {
			kinds = append(kinds, op.Kind)
		}
		return errors.New("boom")
	})

	err := s.RunTransaction(context.Background(), func(_ context.Context, tx docstore.Tx) error {
		tx.Delete(docstore.Doc("Phones", "p1"))
		tx.Create(docstore.Doc("Sales", "s1"), map[string]any{})
		return nil
	})
	require.EqualError(t, err, "boom")
	assert.Equal(t, []docstore.OpKind{docstore.OpDelete, docstore.OpCreate}, kinds)
	assert.Equal(t, 0, s.Len("Sales"))
}

func TestListenCollectionDeliversInitialAndChangeSnapshots(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Set(ctx, docstore.Doc("OrderNumbers", "o1"), map[string]any{"orderNumber": 1}))

	var latest atomic.Int64
	l, err := s.ListenCollection(ctx, "OrderNumbers", func(docs []docstore.Document, err error) {
		assert.NoError(t, err)
		latest.Store(int64(len(docs)))
	})
	require.NoError(t, err)
	defer l.Stop()

	require.Eventually(t, func() bool { return latest.Load() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Set(ctx, docstore.Doc("OrderNumbers", "o2"), map[string]any{"orderNumber": 2}))
	require.Eventually(t, func() bool { return latest.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func TestListenDocumentStopsDelivering(t *testing.T) {
	ctx := context.Background()
	s := New()
	ref := docstore.Doc("Data", "scanner")
	require.NoError(t, s.Set(ctx, ref, map[string]any{"barcode": ""}))

	var calls atomic.Int32
	l, err := s.ListenDocument(ctx, ref, func(doc *docstore.Document, err error) {
		calls.Add(1)
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	l.Stop()
	l.Stop()
	require.NoError(t, s.Update(ctx, ref, map[string]any{"barcode": "123"}))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClosedStoreRejectsCalls(t *testing.T) {
	s := New()
	require.NoError(t, s.Close())
	_, err := s.Get(context.Background(), docstore.Doc("Sales", "x"))
	assert.ErrorIs(t, err, docstore.ErrClosed)
	_, err = s.ListenCollection(context.Background(), "Sales", func([]docstore.Document, error) {})
	assert.ErrorIs(t, err, docstore.ErrClosed)
}
