package domain

import "time"

type OrderStatus string

const (
	OrderAwaitingPayment OrderStatus = "awaiting_payment"
	OrderPaid            OrderStatus = "paid"
)

type DeliveryStatus string

const (
	DeliveryPending    DeliveryStatus = "pending"
	DeliveryProcessing DeliveryStatus = "processing"
	DeliveryDelivered  DeliveryStatus = "delivered"
	DeliveryFailed     DeliveryStatus = "failed"
)

type ProductType string

const (
	ProductFileDownload       ProductType = "file_download"
	ProductLicenseKey         ProductType = "license_key_delivery"
	ProductSharedAccount      ProductType = "shared_account"
	ProductUpgradeAccountPref ProductType = "upgrade_account_"
)

type Product struct {
	ID            string      `json:"id"`
	SellerID      string      `json:"seller_id"`
	Title         string      `json:"title"`
	Price         int64       `json:"price"`
	Type          ProductType `json:"product_type"`
	FileURL       string      `json:"file_url,omitempty"`
	PurchaseCount int64       `json:"purchase_count"`
}

// Order is created at checkout elsewhere. This service only moves it from
// awaiting_payment to paid and records delivery progress.
type Order struct {
	ID                   string         `json:"id"`
	BuyerID              string         `json:"buyer_id"`
	Product              Product        `json:"product"`
	Status               OrderStatus    `json:"status"`
	DeliveryStatus       DeliveryStatus `json:"delivery_status"`
	DeliveryNotes        string         `json:"delivery_notes,omitempty"`
	PaymentVerifiedAt    *time.Time     `json:"payment_verified_at,omitempty"`
	BankTransactionID    string         `json:"bank_transaction_id,omitempty"`
	GatewayTransactionID int64          `json:"gateway_transaction_id,omitempty"`
	DiscountAmount       int64          `json:"discount_amount"`
	FinalBankAmount      *int64         `json:"final_bank_amount,omitempty"`
	VoucherID            string         `json:"voucher_id,omitempty"`
	EarningError         string         `json:"earning_error,omitempty"`
	EarningFailedAt      *time.Time     `json:"earning_failed_at,omitempty"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

// SellerID is the seller owning the ordered product.
func (o *Order) SellerID() string {
	return o.Product.SellerID
}

// ExpectedAmount is the amount the buyer must transfer: the stored final bank
// amount when checkout fixed one, otherwise price minus discount.
func (o *Order) ExpectedAmount() int64 {
	if o.FinalBankAmount != nil {
		return *o.FinalBankAmount
	}
	return o.Product.Price - o.DiscountAmount
}

type User struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}

// LicenseKey is one pre-loaded key for a license_key_delivery product.
type LicenseKey struct {
	ID        string     `json:"id"`
	ProductID string     `json:"product_id"`
	Value     string     `json:"key_value"`
	IsUsed    bool       `json:"is_used"`
	OrderID   string     `json:"order_id,omitempty"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}
