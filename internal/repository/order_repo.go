package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pimarket/reconciler/internal/domain"
)

const orderSelect = `SELECT
	o.id, o.buyer_id, o.status, o.delivery_status, o.delivery_notes, o.payment_verified_at,
	o.bank_transaction_id, o.gateway_transaction_id, o.discount_amount, o.final_bank_amount,
	o.voucher_id, o.earning_error, o.earning_failed_at, o.created_at, o.updated_at,
	p.id, p.seller_id, p.title, p.price, p.product_type, p.file_url, p.purchase_count
	FROM orders o JOIN products p ON p.id = o.product_id`

// OrderRepo reads orders for matching and applies the two mutations this
// service owns: the paid transition and delivery progress.
type OrderRepo struct {
	q querier
}

func NewOrderRepo(db *DB) *OrderRepo {
	return &OrderRepo{q: db}
}

func (r *OrderRepo) WithTx(tx *Tx) *OrderRepo {
	return &OrderRepo{q: tx}
}

// Insert stores an order created at checkout.
func (r *OrderRepo) Insert(ctx context.Context, o *domain.Order) error {
	_, err := r.q.exec(ctx,
		`INSERT INTO orders
		(id, buyer_id, product_id, status, delivery_status, delivery_notes, discount_amount,
		 final_bank_amount, voucher_id, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		o.ID, o.BuyerID, o.Product.ID, string(o.Status), string(o.DeliveryStatus), o.DeliveryNotes,
		o.DiscountAmount, nullableInt(o.FinalBankAmount), nullableString(o.VoucherID),
		formatTime(o.CreatedAt), formatTime(o.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (r *OrderRepo) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	row := r.q.queryRow(ctx, orderSelect+" WHERE o.id = ?", id)
	return scanOrder(row)
}

// MarkPaid moves an awaiting_payment order to paid, opens delivery and links
// the bank transaction, in one statement. It reports false when the order was
// not awaiting payment, leaving it untouched.
func (r *OrderRepo) MarkPaid(ctx context.Context, orderID string, rec *domain.TransactionRecord, at time.Time) (bool, error) {
	res, err := r.q.exec(ctx,
		`UPDATE orders
		SET status = ?, delivery_status = ?, payment_verified_at = ?,
		    bank_transaction_id = ?, gateway_transaction_id = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(domain.OrderPaid), string(domain.DeliveryProcessing), formatTime(at),
		rec.ID, rec.GatewayID, formatTime(at),
		orderID, string(domain.OrderAwaitingPayment),
	)
	if err != nil {
		return false, fmt.Errorf("mark order paid: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// UpdateDelivery records the delivery outcome.
func (r *OrderRepo) UpdateDelivery(ctx context.Context, orderID string, status domain.DeliveryStatus, notes string, at time.Time) error {
	res, err := r.q.exec(ctx,
		"UPDATE orders SET delivery_status = ?, delivery_notes = ?, updated_at = ? WHERE id = ?",
		string(status), notes, formatTime(at), orderID,
	)
	if err != nil {
		return fmt.Errorf("update delivery: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update delivery %s: %w", orderID, domain.ErrNotFound)
	}
	return nil
}

// RecordEarningFailure stores why the seller of a paid order was not
// credited. A later failure overwrites the earlier reason.
func (r *OrderRepo) RecordEarningFailure(ctx context.Context, orderID, reason string, at time.Time) error {
	res, err := r.q.exec(ctx,
		"UPDATE orders SET earning_error = ?, earning_failed_at = ?, updated_at = ? WHERE id = ?",
		reason, formatTime(at), formatTime(at), orderID,
	)
	if err != nil {
		return fmt.Errorf("record earning failure: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("record earning failure %s: %w", orderID, domain.ErrNotFound)
	}
	return nil
}

// ClearEarningFailure removes a recorded failure once the earning exists.
func (r *OrderRepo) ClearEarningFailure(ctx context.Context, orderID string, at time.Time) error {
	_, err := r.q.exec(ctx,
		`UPDATE orders SET earning_error = '', earning_failed_at = NULL, updated_at = ?
		WHERE id = ? AND earning_failed_at IS NOT NULL`,
		formatTime(at), orderID,
	)
	if err != nil {
		return fmt.Errorf("clear earning failure: %w", err)
	}
	return nil
}

// ListEarningFailures returns paid orders whose seller earning is missing,
// oldest failure first.
func (r *OrderRepo) ListEarningFailures(ctx context.Context, page, limit int) ([]domain.Order, int, error) {
	var total int
	if err := r.q.queryRow(ctx,
		"SELECT COUNT(*) FROM orders WHERE earning_failed_at IS NOT NULL",
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count: %w", err)
	}

	limit, offset := pageBounds(page, limit)
	rows, err := r.q.query(ctx,
		orderSelect+" WHERE o.earning_failed_at IS NOT NULL ORDER BY o.earning_failed_at ASC LIMIT ? OFFSET ?",
		limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var out []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan: %w", err)
		}
		out = append(out, *o)
	}
	return out, total, rows.Err()
}

// CountByStatus returns how many orders are in each lifecycle status.
func (r *OrderRepo) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.q.query(ctx, "SELECT status, COUNT(*) FROM orders GROUP BY status")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var k string
		var v int
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

func scanOrder(s scanner) (*domain.Order, error) {
	var o domain.Order
	var status, deliveryStatus, createdAt, updatedAt, productType string
	var verifiedAt, bankTxID, voucherID, earningFailedAt sql.NullString
	var gatewayTxID, finalAmount sql.NullInt64

	err := s.Scan(
		&o.ID, &o.BuyerID, &status, &deliveryStatus, &o.DeliveryNotes, &verifiedAt,
		&bankTxID, &gatewayTxID, &o.DiscountAmount, &finalAmount,
		&voucherID, &o.EarningError, &earningFailedAt, &createdAt, &updatedAt,
		&o.Product.ID, &o.Product.SellerID, &o.Product.Title, &o.Product.Price,
		&productType, &o.Product.FileURL, &o.Product.PurchaseCount,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	o.Status = domain.OrderStatus(status)
	o.DeliveryStatus = domain.DeliveryStatus(deliveryStatus)
	o.Product.Type = domain.ProductType(productType)
	o.PaymentVerifiedAt = parseNullableTime(verifiedAt)
	o.BankTransactionID = bankTxID.String
	o.GatewayTransactionID = gatewayTxID.Int64
	o.VoucherID = voucherID.String
	o.EarningFailedAt = parseNullableTime(earningFailedAt)
	o.CreatedAt = parseTime(createdAt)
	o.UpdatedAt = parseTime(updatedAt)
	if finalAmount.Valid {
		v := finalAmount.Int64
		o.FinalBankAmount = &v
	}
	return &o, nil
}
