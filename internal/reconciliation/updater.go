package reconciliation

import (
	"context"
	"time"

	"github.com/pimarket/reconciler/internal/domain"
	"github.com/pimarket/reconciler/internal/repository"
)

// StateUpdater commits the paid transition of an order together with the
// link from the bank transaction to that order.
type StateUpdater struct {
	db     *repository.DB
	orders *repository.OrderRepo
	txns   *repository.TransactionRepo
}

func NewStateUpdater(db *repository.DB) *StateUpdater {
	return &StateUpdater{
		db:     db,
		orders: repository.NewOrderRepo(db),
		txns:   repository.NewTransactionRepo(db),
	}
}

// MarkPaid reports false, changing nothing, when the order is no longer
// awaiting payment.
func (u *StateUpdater) MarkPaid(ctx context.Context, order *domain.Order, rec *domain.TransactionRecord, at time.Time) (bool, error) {
	var won bool
	err := u.db.InTx(ctx, func(tx *repository.Tx) error {
		ok, err := u.orders.WithTx(tx).MarkPaid(ctx, order.ID, rec, at)
		if err != nil || !ok {
			return err
		}
		if err := u.txns.WithTx(tx).LinkToOrder(ctx, rec.ID, order.ID, at); err != nil {
			return err
		}
		won = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return won, nil
}
