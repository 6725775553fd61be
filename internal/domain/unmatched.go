package domain

import "time"

// UnmatchedReason explains why a transfer was not credited to an order.
type UnmatchedReason string

const (
	ReasonNoOrderID       UnmatchedReason = "no_order_id"
	ReasonOrderNotFound   UnmatchedReason = "order_not_found"
	ReasonOrderNotPending UnmatchedReason = "order_not_pending"
	ReasonAmountMismatch  UnmatchedReason = "amount_mismatch"
)

// UnmatchedTransaction is an audit row for manual reconciliation. Operators
// answer "why was this transfer not credited" from these rows alone.
type UnmatchedTransaction struct {
	ID               string          `json:"id"`
	TransactionID    string          `json:"transaction_id"`
	GatewayID        int64           `json:"gateway_id"`
	Amount           int64           `json:"amount"`
	Content          string          `json:"content"`
	ExtractedOrderID string          `json:"extracted_order_id,omitempty"`
	Reason           UnmatchedReason `json:"reason"`
	ExpectedAmount   *int64          `json:"expected_amount,omitempty"`
	Detail           string          `json:"detail"`
	CreatedAt        time.Time       `json:"created_at"`
}
