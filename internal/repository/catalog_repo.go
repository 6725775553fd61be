package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pimarket/reconciler/internal/domain"
)

// CatalogRepo covers the catalog-side rows this service reads or counts:
// products, users and vouchers. Their CRUD lives in other services.
type CatalogRepo struct {
	q querier
}

func NewCatalogRepo(db *DB) *CatalogRepo {
	return &CatalogRepo{q: db}
}

func (r *CatalogRepo) InsertProduct(ctx context.Context, p *domain.Product) error {
	_, err := r.q.exec(ctx,
		`INSERT INTO products (id, seller_id, title, price, product_type, file_url, purchase_count)
		VALUES (?,?,?,?,?,?,?)`,
		p.ID, p.SellerID, p.Title, p.Price, string(p.Type), p.FileURL, p.PurchaseCount,
	)
	if err != nil {
		return fmt.Errorf("insert product: %w", err)
	}
	return nil
}

func (r *CatalogRepo) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	var p domain.Product
	var productType string
	err := r.q.queryRow(ctx,
		"SELECT id, seller_id, title, price, product_type, file_url, purchase_count FROM products WHERE id = ?", id,
	).Scan(&p.ID, &p.SellerID, &p.Title, &p.Price, &productType, &p.FileURL, &p.PurchaseCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.Type = domain.ProductType(productType)
	return &p, nil
}

// IncrementPurchaseCount bumps the product's sales counter in place.
func (r *CatalogRepo) IncrementPurchaseCount(ctx context.Context, productID string) error {
	_, err := r.q.exec(ctx, "UPDATE products SET purchase_count = purchase_count + 1 WHERE id = ?", productID)
	if err != nil {
		return fmt.Errorf("increment purchase count: %w", err)
	}
	return nil
}

func (r *CatalogRepo) InsertUser(ctx context.Context, u *domain.User) error {
	_, err := r.q.exec(ctx,
		"INSERT INTO users (id, email, display_name) VALUES (?,?,?)",
		u.ID, u.Email, u.DisplayName,
	)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *CatalogRepo) GetUser(ctx context.Context, id string) (*domain.User, error) {
	var u domain.User
	err := r.q.queryRow(ctx, "SELECT id, email, display_name FROM users WHERE id = ?", id).
		Scan(&u.ID, &u.Email, &u.DisplayName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *CatalogRepo) InsertVoucher(ctx context.Context, id, code string) error {
	_, err := r.q.exec(ctx, "INSERT INTO vouchers (id, code, used_count) VALUES (?,?,0)", id, code)
	if err != nil {
		return fmt.Errorf("insert voucher: %w", err)
	}
	return nil
}

// IncrementVoucherUsage bumps the voucher's usage counter in place.
func (r *CatalogRepo) IncrementVoucherUsage(ctx context.Context, voucherID string) error {
	res, err := r.q.exec(ctx, "UPDATE vouchers SET used_count = used_count + 1 WHERE id = ?", voucherID)
	if err != nil {
		return fmt.Errorf("increment voucher usage: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("increment voucher usage %s: %w", voucherID, domain.ErrNotFound)
	}
	return nil
}

func (r *CatalogRepo) VoucherUsage(ctx context.Context, voucherID string) (int64, error) {
	var n int64
	err := r.q.queryRow(ctx, "SELECT used_count FROM vouchers WHERE id = ?", voucherID).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, domain.ErrNotFound
	}
	return n, err
}
