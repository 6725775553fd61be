package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pimarket/reconciler/internal/domain"
)

const walletLogColumns = `id, wallet_id, order_id, type, amount_pi, amount_vnd, status,
	release_date, rate_version, description, created_at`

// WalletRepo stores seller wallets and their ledger rows. Balances are only
// ever changed with in-place increments.
type WalletRepo struct {
	q querier
}

func NewWalletRepo(db *DB) *WalletRepo {
	return &WalletRepo{q: db}
}

func (r *WalletRepo) WithTx(tx *Tx) *WalletRepo {
	return &WalletRepo{q: tx}
}

// GetOrCreate returns the seller's wallet, inserting a zeroed one on first
// use. A concurrent creator winning the race is not an error.
func (r *WalletRepo) GetOrCreate(ctx context.Context, walletID, sellerID string, now time.Time) (*domain.Wallet, error) {
	_, err := r.q.exec(ctx,
		`INSERT INTO wallets (id, seller_id, pending, available, total_earned, created_at, updated_at)
		VALUES (?,?,0,0,0,?,?)
		ON CONFLICT (seller_id) DO NOTHING`,
		walletID, sellerID, formatTime(now), formatTime(now),
	)
	if err != nil && !isUniqueViolation(err) {
		return nil, fmt.Errorf("create wallet: %w", err)
	}
	return r.GetBySeller(ctx, sellerID)
}

func (r *WalletRepo) GetBySeller(ctx context.Context, sellerID string) (*domain.Wallet, error) {
	var w domain.Wallet
	var createdAt, updatedAt string
	err := r.q.queryRow(ctx,
		`SELECT id, seller_id, pending, available, total_earned, created_at, updated_at
		FROM wallets WHERE seller_id = ?`, sellerID,
	).Scan(&w.ID, &w.SellerID, &w.Pending, &w.Available, &w.TotalEarned, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	w.CreatedAt = parseTime(createdAt)
	w.UpdatedAt = parseTime(updatedAt)
	return &w, nil
}

// CreditPending adds amount to pending and total_earned atomically.
func (r *WalletRepo) CreditPending(ctx context.Context, walletID string, amount int64, now time.Time) error {
	res, err := r.q.exec(ctx,
		`UPDATE wallets
		SET pending = pending + ?, total_earned = total_earned + ?, updated_at = ?
		WHERE id = ?`,
		amount, amount, formatTime(now), walletID,
	)
	if err != nil {
		return fmt.Errorf("credit wallet: %w", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return fmt.Errorf("credit wallet %s: %w", walletID, domain.ErrNotFound)
	}
	return nil
}

// InsertLog appends a ledger row. A second earning row for the same order
// fails with ErrDuplicate.
func (r *WalletRepo) InsertLog(ctx context.Context, e *domain.WalletLogEntry) error {
	_, err := r.q.exec(ctx,
		`INSERT INTO wallet_logs
		(id, wallet_id, order_id, type, amount_pi, amount_vnd, status, release_date,
		 rate_version, description, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.WalletID, nullableString(e.OrderID), string(e.Type), e.AmountPI, e.AmountVND,
		string(e.Status), formatTime(e.ReleaseDate), e.RateVersion, e.Description, formatTime(e.CreatedAt),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("insert wallet log for order %s: %w", e.OrderID, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("insert wallet log: %w", err)
	}
	return nil
}

// GetEarningByOrder returns the earning row for an order, if any.
func (r *WalletRepo) GetEarningByOrder(ctx context.Context, orderID string) (*domain.WalletLogEntry, error) {
	row := r.q.queryRow(ctx,
		"SELECT "+walletLogColumns+" FROM wallet_logs WHERE order_id = ? AND type = ?",
		orderID, string(domain.LogEarning),
	)
	return scanWalletLog(row)
}

func (r *WalletRepo) ListLogs(ctx context.Context, walletID string, page, limit int) ([]domain.WalletLogEntry, int, error) {
	var total int
	if err := r.q.queryRow(ctx, "SELECT COUNT(*) FROM wallet_logs WHERE wallet_id = ?", walletID).Scan(&total); err != nil {
		return nil, 0, err
	}

	lim, offset := pageBounds(page, limit)
	rows, err := r.q.query(ctx,
		"SELECT "+walletLogColumns+" FROM wallet_logs WHERE wallet_id = ? ORDER BY created_at DESC LIMIT ? OFFSET ?",
		walletID, lim, offset,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	entries, err := scanWalletLogs(rows)
	return entries, total, err
}

// ListMaturedPending returns pending rows whose release date has passed.
// The maturation job that promotes them to available runs elsewhere; this
// is the read side of that contract.
func (r *WalletRepo) ListMaturedPending(ctx context.Context, now time.Time) ([]domain.WalletLogEntry, error) {
	rows, err := r.q.query(ctx,
		"SELECT "+walletLogColumns+" FROM wallet_logs WHERE status = ? AND release_date <= ? ORDER BY release_date",
		string(domain.LogStatusPending), formatTime(now),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanWalletLogs(rows)
}

// SumEarnings totals the PI amount of every earning row of a wallet.
func (r *WalletRepo) SumEarnings(ctx context.Context, walletID string) (int64, error) {
	var sum int64
	err := r.q.queryRow(ctx,
		"SELECT COALESCE(SUM(amount_pi),0) FROM wallet_logs WHERE wallet_id = ? AND type = ?",
		walletID, string(domain.LogEarning),
	).Scan(&sum)
	return sum, err
}

func scanWalletLog(s scanner) (*domain.WalletLogEntry, error) {
	var e domain.WalletLogEntry
	var logType, status, createdAt string
	var orderID, releaseDate sql.NullString

	err := s.Scan(
		&e.ID, &e.WalletID, &orderID, &logType, &e.AmountPI, &e.AmountVND, &status,
		&releaseDate, &e.RateVersion, &e.Description, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	e.OrderID = orderID.String
	e.Type = domain.WalletLogType(logType)
	e.Status = domain.WalletLogStatus(status)
	if releaseDate.Valid {
		e.ReleaseDate = parseTime(releaseDate.String)
	}
	e.CreatedAt = parseTime(createdAt)
	return &e, nil
}

func scanWalletLogs(rows *sql.Rows) ([]domain.WalletLogEntry, error) {
	var entries []domain.WalletLogEntry
	for rows.Next() {
		e, err := scanWalletLog(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}
