package repository_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pimarket/reconciler/internal/domain"
	"github.com/pimarket/reconciler/internal/repository"
	"github.com/pimarket/reconciler/internal/testfixture"
)

func TestMarkPaidIsConditional(t *testing.T) {
	db := testfixture.OpenDB(t)
	ctx := context.Background()
	orders := repository.NewOrderRepo(db)
	order := testfixture.SeedOrder(t, db, testfixture.OrderSeed{})

	rec := newRecord(4004, order.ExpectedAmount())
	ok, err := orders.MarkPaid(ctx, order.ID, rec, time.Now())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = orders.MarkPaid(ctx, order.ID, newRecord(4005, order.ExpectedAmount()), time.Now())
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := orders.GetByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderPaid, got.Status)
	assert.Equal(t, domain.DeliveryProcessing, got.DeliveryStatus)
	assert.Equal(t, rec.ID, got.BankTransactionID)
	assert.Equal(t, int64(4004), got.GatewayTransactionID)
	require.NotNil(t, got.PaymentVerifiedAt)
}

func TestMarkPaidConcurrentSingleWinner(t *testing.T) {
	db := testfixture.OpenDB(t)
	orders := repository.NewOrderRepo(db)
	order := testfixture.SeedOrder(t, db, testfixture.OrderSeed{})

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := orders.MarkPaid(context.Background(), order.ID, newRecord(int64(5000+i), 1), time.Now())
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestOrderGetByIDNotFound(t *testing.T) {
	db := testfixture.OpenDB(t)
	_, err := repository.NewOrderRepo(db).GetByID(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestOrderExpectedAmount(t *testing.T) {
	db := testfixture.OpenDB(t)
	final := int64(120000)

	discounted := testfixture.SeedOrder(t, db, testfixture.OrderSeed{Price: 150000, Discount: 20000})
	assert.Equal(t, int64(130000), discounted.ExpectedAmount())

	fixed := testfixture.SeedOrder(t, db, testfixture.OrderSeed{Price: 150000, Discount: 20000, FinalAmount: &final})
	assert.Equal(t, int64(120000), fixed.ExpectedAmount())
}

func TestUpdateDeliveryAndCounters(t *testing.T) {
	db := testfixture.OpenDB(t)
	ctx := context.Background()
	orders := repository.NewOrderRepo(db)
	catalog := repository.NewCatalogRepo(db)
	voucherID := uuid.NewString()
	order := testfixture.SeedOrder(t, db, testfixture.OrderSeed{VoucherID: voucherID})

	require.NoError(t, orders.UpdateDelivery(ctx, order.ID, domain.DeliveryDelivered, "sent", time.Now()))
	err := orders.UpdateDelivery(ctx, uuid.NewString(), domain.DeliveryDelivered, "", time.Now())
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, catalog.IncrementPurchaseCount(ctx, order.Product.ID))
	require.NoError(t, catalog.IncrementVoucherUsage(ctx, voucherID))

	got, err := orders.GetByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DeliveryDelivered, got.DeliveryStatus)
	assert.Equal(t, "sent", got.DeliveryNotes)
	assert.Equal(t, int64(1), got.Product.PurchaseCount)
	assert.Equal(t, voucherID, got.VoucherID)

	used, err := catalog.VoucherUsage(ctx, voucherID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), used)

	counts, err := orders.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[string(domain.OrderAwaitingPayment)])
}

func TestEarningFailureRecordAndClear(t *testing.T) {
	db := testfixture.OpenDB(t)
	ctx := context.Background()
	orders := repository.NewOrderRepo(db)
	first := testfixture.SeedOrder(t, db, testfixture.OrderSeed{Status: domain.OrderPaid})
	second := testfixture.SeedOrder(t, db, testfixture.OrderSeed{Status: domain.OrderPaid})
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, orders.RecordEarningFailure(ctx, second.ID, "wallet locked", at.Add(time.Minute)))
	require.NoError(t, orders.RecordEarningFailure(ctx, first.ID, "rate too high", at))
	err := orders.RecordEarningFailure(ctx, uuid.NewString(), "x", at)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	got, err := orders.GetByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "rate too high", got.EarningError)
	require.NotNil(t, got.EarningFailedAt)
	assert.True(t, at.Equal(*got.EarningFailedAt))

	failed, total, err := orders.ListEarningFailures(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, failed, 2)
	assert.Equal(t, first.ID, failed[0].ID)
	assert.Equal(t, second.ID, failed[1].ID)

	require.NoError(t, orders.ClearEarningFailure(ctx, first.ID, at.Add(time.Hour)))
	got, err = orders.GetByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Empty(t, got.EarningError)
	assert.Nil(t, got.EarningFailedAt)

	_, total, err = orders.ListEarningFailures(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}
