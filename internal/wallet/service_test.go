package wallet_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pimarket/reconciler/internal/currency"
	"github.com/pimarket/reconciler/internal/domain"
	"github.com/pimarket/reconciler/internal/repository"
	"github.com/pimarket/reconciler/internal/testfixture"
	"github.com/pimarket/reconciler/internal/wallet"
)

var fixedNow = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func newService(t *testing.T, db *repository.DB) *wallet.Service {
	t.Helper()
	policy, err := currency.NewPolicy(decimal.NewFromInt(1000), "2024-01")
	require.NoError(t, err)
	return wallet.NewService(db, policy, 72*time.Hour, zap.NewNop()).
		WithClock(func() time.Time { return fixedNow })
}

func paidOrder(t *testing.T, db *repository.DB, seed testfixture.OrderSeed) *domain.Order {
	t.Helper()
	seed.Status = domain.OrderPaid
	return testfixture.SeedOrder(t, db, seed)
}

func TestProcessSellerEarningCreditsPending(t *testing.T) {
	db := testfixture.OpenDB(t)
	svc := newService(t, db)
	order := paidOrder(t, db, testfixture.OrderSeed{Price: 150000})

	res, err := svc.ProcessSellerEarning(context.Background(), order, 150000)
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Equal(t, int64(150), res.AmountPI)
	assert.Equal(t, fixedNow.Add(72*time.Hour), res.ReleaseDate)

	w, logs, total, err := svc.Wallet(context.Background(), order.SellerID(), 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(150), w.Pending)
	assert.Equal(t, int64(150), w.TotalEarned)
	assert.Zero(t, w.Available)
	require.Equal(t, 1, total)

	entry := logs[0]
	assert.Equal(t, domain.LogEarning, entry.Type)
	assert.Equal(t, domain.LogStatusPending, entry.Status)
	assert.Equal(t, order.ID, entry.OrderID)
	assert.Equal(t, int64(150000), entry.AmountVND)
	assert.Equal(t, "2024-01", entry.RateVersion)
	assert.True(t, entry.ReleaseDate.Equal(fixedNow.Add(72*time.Hour)))
	assert.Contains(t, entry.Description, "150000 VND = 150 PI")
}

func TestProcessSellerEarningFloorsConversion(t *testing.T) {
	db := testfixture.OpenDB(t)
	svc := newService(t, db)
	order := paidOrder(t, db, testfixture.OrderSeed{Price: 150999})

	res, err := svc.ProcessSellerEarning(context.Background(), order, 150999)
	require.NoError(t, err)
	assert.Equal(t, int64(150), res.AmountPI)
}

func TestProcessSellerEarningIsIdempotent(t *testing.T) {
	db := testfixture.OpenDB(t)
	svc := newService(t, db)
	order := paidOrder(t, db, testfixture.OrderSeed{Price: 150000})
	ctx := context.Background()

	first, err := svc.ProcessSellerEarning(ctx, order, 150000)
	require.NoError(t, err)

	second, err := svc.ProcessSellerEarning(ctx, order, 150000)
	require.NoError(t, err)
	assert.True(t, second.Skipped)
	assert.Equal(t, first.EntryID, second.EntryID)

	w, logs, _, err := svc.Wallet(ctx, order.SellerID(), 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(150), w.Pending)
	assert.Len(t, logs, 1)
}

func TestProcessSellerEarningConcurrent(t *testing.T) {
	db := testfixture.OpenDB(t)
	svc := newService(t, db)
	order := paidOrder(t, db, testfixture.OrderSeed{Price: 150000})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.ProcessSellerEarning(context.Background(), order, 150000)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	w, logs, _, err := svc.Wallet(context.Background(), order.SellerID(), 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(150), w.Pending)
	assert.Equal(t, int64(150), w.TotalEarned)
	assert.Len(t, logs, 1)
}

func TestProcessSellerEarningAccumulatesAcrossOrders(t *testing.T) {
	db := testfixture.OpenDB(t)
	svc := newService(t, db)
	ctx := context.Background()

	first := paidOrder(t, db, testfixture.OrderSeed{Price: 150000})
	second := paidOrder(t, db, testfixture.OrderSeed{Price: 50000, SellerID: first.SellerID()})

	_, err := svc.ProcessSellerEarning(ctx, first, 150000)
	require.NoError(t, err)
	_, err = svc.ProcessSellerEarning(ctx, second, 50000)
	require.NoError(t, err)

	w, _, total, err := svc.Wallet(ctx, first.SellerID(), 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(200), w.Pending)
	assert.Equal(t, 2, total)
}

func TestProcessSellerEarningValidation(t *testing.T) {
	db := testfixture.OpenDB(t)
	svc := newService(t, db)
	paid := paidOrder(t, db, testfixture.OrderSeed{})
	awaiting := testfixture.SeedOrder(t, db, testfixture.OrderSeed{})
	noSeller := *paid
	noSeller.Product.SellerID = ""

	tests := []struct {
		name   string
		order  *domain.Order
		amount int64
		field  string
	}{
		{"nil order", nil, 1000, "order"},
		{"missing seller", &noSeller, 150000, "seller_id"},
		{"not paid", awaiting, 150000, "status"},
		{"zero amount", paid, 0, "amount"},
		{"negative amount", paid, -5, "amount"},
		{"rounds to zero PI", paid, 999, "amount"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.ProcessSellerEarning(context.Background(), tt.order, tt.amount)
			var verr *domain.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}

	_, _, _, err := svc.Wallet(context.Background(), paid.SellerID(), 1, 10)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMaturedPending(t *testing.T) {
	db := testfixture.OpenDB(t)
	svc := newService(t, db)
	order := paidOrder(t, db, testfixture.OrderSeed{})
	_, err := svc.ProcessSellerEarning(context.Background(), order, 150000)
	require.NoError(t, err)

	matured, err := svc.MaturedPending(context.Background())
	require.NoError(t, err)
	assert.Empty(t, matured)

	later := newService(t, db).WithClock(func() time.Time { return fixedNow.Add(73 * time.Hour) })
	matured, err = later.MaturedPending(context.Background())
	require.NoError(t, err)
	require.Len(t, matured, 1)
	assert.Equal(t, order.ID, matured[0].OrderID)
}
