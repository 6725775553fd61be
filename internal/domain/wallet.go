package domain

import "time"

type WalletLogType string

const (
	LogEarning    WalletLogType = "earning"
	LogWithdrawal WalletLogType = "withdrawal"
	LogHold       WalletLogType = "hold"
	LogRelease    WalletLogType = "release"
	LogRefund     WalletLogType = "refund"
)

type WalletLogStatus string

const (
	LogStatusPending  WalletLogStatus = "pending"
	LogStatusReleased WalletLogStatus = "released"
)

// Wallet balances are in PI. Pending and Available are moved by the ledger
// and by the external maturation/withdrawal jobs; TotalEarned never decreases.
type Wallet struct {
	ID          string    `json:"id"`
	SellerID    string    `json:"seller_id"`
	Pending     int64     `json:"pending"`
	Available   int64     `json:"available"`
	TotalEarned int64     `json:"total_earned"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// WalletLogEntry is an immutable ledger row. At most one earning row exists
// per order.
type WalletLogEntry struct {
	ID          string          `json:"id"`
	WalletID    string          `json:"wallet_id"`
	OrderID     string          `json:"order_id"`
	Type        WalletLogType   `json:"type"`
	AmountPI    int64           `json:"amount_pi"`
	AmountVND   int64           `json:"amount_vnd"`
	Status      WalletLogStatus `json:"status"`
	ReleaseDate time.Time       `json:"release_date"`
	RateVersion string          `json:"rate_version"`
	Description string          `json:"description"`
	CreatedAt   time.Time       `json:"created_at"`
}
