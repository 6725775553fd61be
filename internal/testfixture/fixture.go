// Package testfixture builds SQLite-backed stores with seeded catalog data
// for package tests.
package testfixture

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/pimarket/reconciler/internal/domain"
	"github.com/pimarket/reconciler/internal/repository"
)

// OpenDB opens a fresh SQLite store under t.TempDir.
func OpenDB(t *testing.T) *repository.DB {
	t.Helper()
	db, err := repository.Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// OrderSeed describes the order SeedOrder creates. Zero values get defaults:
// price 150000 VND and a file_download product.
type OrderSeed struct {
	Price       int64
	Discount    int64
	FinalAmount *int64
	ProductType domain.ProductType
	FileURL     string
	VoucherID   string
	SellerID    string
	Status      domain.OrderStatus
}

// SeedOrder inserts a buyer, a seller, a product and an order awaiting
// payment, and returns the order as loaded from the store.
func SeedOrder(t *testing.T, db *repository.DB, seed OrderSeed) *domain.Order {
	t.Helper()
	ctx := context.Background()
	catalog := repository.NewCatalogRepo(db)
	orders := repository.NewOrderRepo(db)

	if seed.Price == 0 {
		seed.Price = 150000
	}
	if seed.ProductType == "" {
		seed.ProductType = domain.ProductFileDownload
		if seed.FileURL == "" {
			seed.FileURL = "https://files.example.com/ebook.pdf"
		}
	}
	if seed.Status == "" {
		seed.Status = domain.OrderAwaitingPayment
	}

	buyer := &domain.User{ID: uuid.NewString(), Email: "buyer@example.com", DisplayName: "Buyer"}
	require.NoError(t, catalog.InsertUser(ctx, buyer))

	if seed.SellerID == "" {
		seller := &domain.User{ID: uuid.NewString(), Email: "seller@example.com", DisplayName: "Seller"}
		require.NoError(t, catalog.InsertUser(ctx, seller))
		seed.SellerID = seller.ID
	}

	product := &domain.Product{
		ID:       uuid.NewString(),
		SellerID: seed.SellerID,
		Title:    "Go Patterns Ebook",
		Price:    seed.Price,
		Type:     seed.ProductType,
		FileURL:  seed.FileURL,
	}
	require.NoError(t, catalog.InsertProduct(ctx, product))

	if seed.VoucherID != "" {
		require.NoError(t, catalog.InsertVoucher(ctx, seed.VoucherID, "CODE-"+seed.VoucherID[:8]))
	}

	now := time.Now().UTC()
	order := &domain.Order{
		ID:              uuid.NewString(),
		BuyerID:         buyer.ID,
		Product:         *product,
		Status:          seed.Status,
		DeliveryStatus:  domain.DeliveryPending,
		DiscountAmount:  seed.Discount,
		FinalBankAmount: seed.FinalAmount,
		VoucherID:       seed.VoucherID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	require.NoError(t, orders.Insert(ctx, order))

	loaded, err := orders.GetByID(ctx, order.ID)
	require.NoError(t, err)
	return loaded
}

// SeedLicenseKeys loads n unused keys for a product, oldest first.
func SeedLicenseKeys(t *testing.T, db *repository.DB, productID string, values ...string) {
	t.Helper()
	keys := repository.NewLicenseKeyRepo(db)
	base := time.Now().UTC().Add(-time.Hour)
	for i, v := range values {
		require.NoError(t, keys.Insert(context.Background(), &domain.LicenseKey{
			ID:        uuid.NewString(),
			ProductID: productID,
			Value:     v,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}
}

// Notification returns a well-formed inbound transfer for an order.
func Notification(gatewayID int64, amount int64, content string) domain.TransferNotification {
	return domain.TransferNotification{
		GatewayID:     gatewayID,
		Gateway:       "MBBank",
		Amount:        amount,
		Content:       content,
		ReferenceCode: "FT24001",
		AccountNumber: "0123456789",
		Direction:     domain.DirectionIn,
		OccurredAt:    time.Now().UTC().Truncate(time.Second),
	}
}
