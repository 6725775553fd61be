package reconciliation

import (
	"context"

	"github.com/google/uuid"

	"github.com/pimarket/reconciler/internal/currency"
	"github.com/pimarket/reconciler/internal/domain"
	"github.com/pimarket/reconciler/internal/repository"
)

// Matcher resolves an extracted order reference and checks the transfer
// amount against what the order expects.
type Matcher struct {
	orders    *repository.OrderRepo
	tolerance int64
}

// NewMatcher returns a matcher accepting transfers within tolerance VND of
// the expected amount. Zero means exact match.
func NewMatcher(orders *repository.OrderRepo, tolerance int64) *Matcher {
	return &Matcher{orders: orders, tolerance: tolerance}
}

// FindMatchingOrder looks the order up by exact id. A reference that is not a
// well-formed UUID cannot name an order and reports domain.ErrNotFound.
func (m *Matcher) FindMatchingOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	id, err := uuid.Parse(orderID)
	if err != nil {
		return nil, domain.ErrNotFound
	}
	return m.orders.GetByID(ctx, id.String())
}

type AmountCheck struct {
	Valid    bool  `json:"valid"`
	Expected int64 `json:"expected_amount"`
	Received int64 `json:"received_amount"`
}

// VerifyAmount compares the transferred amount with the order's expected
// amount: the final bank amount fixed at checkout, or price minus discount.
func (m *Matcher) VerifyAmount(rec *domain.TransactionRecord, order *domain.Order) AmountCheck {
	expected := order.ExpectedAmount()
	return AmountCheck{
		Valid:    currency.WithinTolerance(expected, rec.Amount, m.tolerance),
		Expected: expected,
		Received: rec.Amount,
	}
}
