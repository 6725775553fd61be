package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pimarket/reconciler/internal/domain"
	"github.com/pimarket/reconciler/internal/repository"
	"github.com/pimarket/reconciler/internal/testfixture"
)

func newRecord(gatewayID int64, amount int64) *domain.TransactionRecord {
	n := testfixture.Notification(gatewayID, amount, "thanh toan")
	return domain.NewTransactionRecord(ulid.Make().String(), n, time.Now().UTC())
}

func TestSaveIsIdempotentOnGatewayID(t *testing.T) {
	db := testfixture.OpenDB(t)
	repo := repository.NewTransactionRepo(db)
	ctx := context.Background()

	first, existed, err := repo.Save(ctx, newRecord(1001, 150000))
	require.NoError(t, err)
	assert.False(t, existed)

	second, existed, err := repo.Save(ctx, newRecord(1001, 999))
	require.NoError(t, err)
	assert.True(t, existed)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int64(150000), second.Amount)

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestLinkToOrder(t *testing.T) {
	db := testfixture.OpenDB(t)
	repo := repository.NewTransactionRepo(db)
	ctx := context.Background()

	rec, _, err := repo.Save(ctx, newRecord(2002, 50000))
	require.NoError(t, err)

	at := time.Now().UTC()
	require.NoError(t, repo.LinkToOrder(ctx, rec.ID, "order-a", at))
	// same order again is a no-op
	require.NoError(t, repo.LinkToOrder(ctx, rec.ID, "order-a", at))

	err = repo.LinkToOrder(ctx, rec.ID, "order-b", at)
	assert.ErrorIs(t, err, repository.ErrTransactionLinked)

	got, err := repo.GetByGatewayID(ctx, 2002)
	require.NoError(t, err)
	assert.True(t, got.Processed)
	assert.Equal(t, "order-a", got.MatchedOrderID)
	require.NotNil(t, got.MatchedAt)
}

func TestTransactionListFilters(t *testing.T) {
	db := testfixture.OpenDB(t)
	repo := repository.NewTransactionRepo(db)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		_, _, err := repo.Save(ctx, newRecord(i, 1000*i))
		require.NoError(t, err)
	}
	rec, err := repo.GetByGatewayID(ctx, 2)
	require.NoError(t, err)
	require.NoError(t, repo.LinkToOrder(ctx, rec.ID, "order-x", time.Now()))

	processed := true
	list, total, err := repo.List(ctx, repository.TransactionFilter{Processed: &processed})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, list, 1)
	assert.Equal(t, int64(2), list[0].GatewayID)

	unprocessed := false
	_, total, err = repo.List(ctx, repository.TransactionFilter{Processed: &unprocessed})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
}

func TestGetByGatewayIDNotFound(t *testing.T) {
	db := testfixture.OpenDB(t)
	_, err := repository.NewTransactionRepo(db).GetByGatewayID(context.Background(), 42)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUnmatchedInsertDedupesPerReason(t *testing.T) {
	db := testfixture.OpenDB(t)
	ctx := context.Background()
	txns := repository.NewTransactionRepo(db)
	unmatched := repository.NewUnmatchedRepo(db)

	rec, _, err := txns.Save(ctx, newRecord(3003, 70000))
	require.NoError(t, err)

	audit := func(reason domain.UnmatchedReason) *domain.UnmatchedTransaction {
		return &domain.UnmatchedTransaction{
			ID:            ulid.Make().String(),
			TransactionID: rec.ID,
			GatewayID:     rec.GatewayID,
			Amount:        rec.Amount,
			Content:       rec.Content,
			Reason:        reason,
			Detail:        "test",
			CreatedAt:     time.Now().UTC(),
		}
	}

	added, err := unmatched.Insert(ctx, audit(domain.ReasonNoOrderID))
	require.NoError(t, err)
	assert.True(t, added)

	added, err = unmatched.Insert(ctx, audit(domain.ReasonNoOrderID))
	require.NoError(t, err)
	assert.False(t, added)

	added, err = unmatched.Insert(ctx, audit(domain.ReasonOrderNotFound))
	require.NoError(t, err)
	assert.True(t, added)

	rows, err := unmatched.GetByGatewayID(ctx, 3003)
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	summary, err := unmatched.GetSummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.TotalCount)
	assert.Equal(t, 1, summary.ByReason[string(domain.ReasonNoOrderID)])
}

func TestUnmatchedSumAmountIgnoresPaging(t *testing.T) {
	db := testfixture.OpenDB(t)
	ctx := context.Background()
	txns := repository.NewTransactionRepo(db)
	unmatched := repository.NewUnmatchedRepo(db)

	for i, amount := range []int64{10000, 20000, 30000, 40000} {
		rec, _, err := txns.Save(ctx, newRecord(int64(4001+i), amount))
		require.NoError(t, err)
		reason := domain.ReasonNoOrderID
		if i == 3 {
			reason = domain.ReasonOrderNotFound
		}
		_, err = unmatched.Insert(ctx, &domain.UnmatchedTransaction{
			ID:            ulid.Make().String(),
			TransactionID: rec.ID,
			GatewayID:     rec.GatewayID,
			Amount:        rec.Amount,
			Content:       rec.Content,
			Reason:        reason,
			CreatedAt:     time.Now().UTC(),
		})
		require.NoError(t, err)
	}

	filter := repository.UnmatchedFilter{Reason: string(domain.ReasonNoOrderID), Page: 1, Limit: 2}
	items, total, err := unmatched.List(ctx, filter)
	require.NoError(t, err)
	assert.Len(t, items, 2)
	assert.Equal(t, 3, total)

	sum, err := unmatched.SumAmount(ctx, filter)
	require.NoError(t, err)
	assert.Equal(t, int64(60000), sum)

	sum, err = unmatched.SumAmount(ctx, repository.UnmatchedFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(100000), sum)
}
