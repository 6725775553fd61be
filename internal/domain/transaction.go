package domain

import "time"

type TransferDirection string

const (
	DirectionIn  TransferDirection = "in"
	DirectionOut TransferDirection = "out"
)

// TransferNotification is a bank-transfer notification as delivered by the
// gateway webhook. It is never mutated after decoding.
type TransferNotification struct {
	GatewayID     int64             `json:"gateway_id"`
	Gateway       string            `json:"gateway,omitempty"`
	Amount        int64             `json:"amount"`
	Content       string            `json:"content"`
	ReferenceCode string            `json:"reference_code,omitempty"`
	AccountNumber string            `json:"account_number"`
	Direction     TransferDirection `json:"direction"`
	OccurredAt    time.Time         `json:"occurred_at"`
}

// TransactionRecord is the persisted copy of a notification. GatewayID is
// unique; it is the outer idempotency key.
type TransactionRecord struct {
	ID             string            `json:"id"`
	GatewayID      int64             `json:"gateway_id"`
	Gateway        string            `json:"gateway,omitempty"`
	Amount         int64             `json:"amount"`
	Content        string            `json:"content"`
	ReferenceCode  string            `json:"reference_code,omitempty"`
	AccountNumber  string            `json:"account_number"`
	Direction      TransferDirection `json:"direction"`
	OccurredAt     time.Time         `json:"occurred_at"`
	Processed      bool              `json:"processed"`
	MatchedOrderID string            `json:"matched_order_id,omitempty"`
	MatchedAt      *time.Time        `json:"matched_at,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

// NewTransactionRecord copies a notification into an unprocessed record.
func NewTransactionRecord(id string, n TransferNotification, now time.Time) *TransactionRecord {
	return &TransactionRecord{
		ID:            id,
		GatewayID:     n.GatewayID,
		Gateway:       n.Gateway,
		Amount:        n.Amount,
		Content:       n.Content,
		ReferenceCode: n.ReferenceCode,
		AccountNumber: n.AccountNumber,
		Direction:     n.Direction,
		OccurredAt:    n.OccurredAt,
		CreatedAt:     now,
	}
}
