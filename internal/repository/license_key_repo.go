package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pimarket/reconciler/internal/domain"
)

// claimAttempts bounds how often a claim is retried after losing a race for
// the oldest free key.
const claimAttempts = 5

type LicenseKeyRepo struct {
	q querier
}

func NewLicenseKeyRepo(db *DB) *LicenseKeyRepo {
	return &LicenseKeyRepo{q: db}
}

func (r *LicenseKeyRepo) Insert(ctx context.Context, k *domain.LicenseKey) error {
	_, err := r.q.exec(ctx,
		`INSERT INTO license_keys (id, product_id, key_value, is_used, order_id, used_at, created_at)
		VALUES (?,?,?,?,?,?,?)`,
		k.ID, k.ProductID, k.Value, k.IsUsed, nullableString(k.OrderID),
		formatNullableTime(k.UsedAt), formatTime(k.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert license key: %w", err)
	}
	return nil
}

// Claim binds the oldest unused key of a product to orderID. The update is
// conditional on is_used still being false, so two orders never get the same
// key. Returns domain.ErrNoLicenseKey when the product has none left.
func (r *LicenseKeyRepo) Claim(ctx context.Context, productID, orderID string, now time.Time) (*domain.LicenseKey, error) {
	for attempt := 0; attempt < claimAttempts; attempt++ {
		var k domain.LicenseKey
		var createdAt string
		err := r.q.queryRow(ctx,
			`SELECT id, product_id, key_value, created_at FROM license_keys
			WHERE product_id = ? AND is_used = FALSE
			ORDER BY created_at ASC LIMIT 1`,
			productID,
		).Scan(&k.ID, &k.ProductID, &k.Value, &createdAt)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNoLicenseKey
		}
		if err != nil {
			return nil, fmt.Errorf("select license key: %w", err)
		}

		res, err := r.q.exec(ctx,
			`UPDATE license_keys SET is_used = TRUE, order_id = ?, used_at = ?
			WHERE id = ? AND is_used = FALSE`,
			orderID, formatTime(now), k.ID,
		)
		if err != nil {
			return nil, fmt.Errorf("claim license key: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			k.IsUsed = true
			k.OrderID = orderID
			k.UsedAt = &now
			k.CreatedAt = parseTime(createdAt)
			return &k, nil
		}
	}
	return nil, fmt.Errorf("claim license key for product %s: gave up after %d attempts", productID, claimAttempts)
}

// GetByOrder returns the key already bound to an order.
func (r *LicenseKeyRepo) GetByOrder(ctx context.Context, orderID string) (*domain.LicenseKey, error) {
	var k domain.LicenseKey
	var usedAt sql.NullString
	var createdAt string
	err := r.q.queryRow(ctx,
		`SELECT id, product_id, key_value, is_used, used_at, created_at FROM license_keys WHERE order_id = ?`,
		orderID,
	).Scan(&k.ID, &k.ProductID, &k.Value, &k.IsUsed, &usedAt, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	k.OrderID = orderID
	k.UsedAt = parseNullableTime(usedAt)
	k.CreatedAt = parseTime(createdAt)
	return &k, nil
}
