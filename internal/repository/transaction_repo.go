package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pimarket/reconciler/internal/domain"
)

// ErrTransactionLinked is returned when linking a record that is already
// processed against a different order.
var ErrTransactionLinked = errors.New("transaction already linked to another order")

const transactionColumns = `id, gateway_id, gateway, amount, content, reference_code, account_number,
	direction, occurred_at, processed, matched_order_id, matched_at, created_at`

// TransactionRepo is the transaction store. gateway_id is unique, which makes
// Save the outermost idempotency gate.
type TransactionRepo struct {
	q querier
}

func NewTransactionRepo(db *DB) *TransactionRepo {
	return &TransactionRepo{q: db}
}

// WithTx returns a copy of the repo bound to tx.
func (r *TransactionRepo) WithTx(tx *Tx) *TransactionRepo {
	return &TransactionRepo{q: tx}
}

// Save inserts rec unless a record with the same gateway id exists, in which
// case the stored record is returned with existed=true.
func (r *TransactionRepo) Save(ctx context.Context, rec *domain.TransactionRecord) (*domain.TransactionRecord, bool, error) {
	res, err := r.q.exec(ctx,
		`INSERT INTO bank_transactions
		(id, gateway_id, gateway, amount, content, reference_code, account_number,
		 direction, occurred_at, processed, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,FALSE,?)
		ON CONFLICT (gateway_id) DO NOTHING`,
		rec.ID, rec.GatewayID, rec.Gateway, rec.Amount, rec.Content, rec.ReferenceCode,
		rec.AccountNumber, string(rec.Direction), formatTime(rec.OccurredAt), formatTime(rec.CreatedAt),
	)
	if err != nil {
		return nil, false, fmt.Errorf("insert transaction: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 1 {
		return rec, false, nil
	}

	existing, err := r.GetByGatewayID(ctx, rec.GatewayID)
	if err != nil {
		return nil, false, fmt.Errorf("load existing transaction: %w", err)
	}
	return existing, true, nil
}

// LinkToOrder marks the record processed and matched to orderID. Linking an
// already processed record to the same order is a no-op.
func (r *TransactionRepo) LinkToOrder(ctx context.Context, id, orderID string, at time.Time) error {
	res, err := r.q.exec(ctx,
		`UPDATE bank_transactions
		SET processed = TRUE, matched_order_id = ?, matched_at = ?
		WHERE id = ? AND processed = FALSE`,
		orderID, formatTime(at), id,
	)
	if err != nil {
		return fmt.Errorf("link transaction: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}

	existing, err := r.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("link transaction: %w", err)
	}
	if existing.MatchedOrderID != orderID {
		return fmt.Errorf("link transaction %s: %w", id, ErrTransactionLinked)
	}
	return nil
}

func (r *TransactionRepo) GetByID(ctx context.Context, id string) (*domain.TransactionRecord, error) {
	row := r.q.queryRow(ctx, "SELECT "+transactionColumns+" FROM bank_transactions WHERE id = ?", id)
	return scanTransaction(row)
}

func (r *TransactionRepo) GetByGatewayID(ctx context.Context, gatewayID int64) (*domain.TransactionRecord, error) {
	row := r.q.queryRow(ctx, "SELECT "+transactionColumns+" FROM bank_transactions WHERE gateway_id = ?", gatewayID)
	return scanTransaction(row)
}

func (r *TransactionRepo) Count(ctx context.Context) (int, error) {
	var count int
	err := r.q.queryRow(ctx, "SELECT COUNT(*) FROM bank_transactions").Scan(&count)
	return count, err
}

// CountByProcessed returns how many records are processed and how many are
// still waiting for a match.
func (r *TransactionRepo) CountByProcessed(ctx context.Context) (processed, unprocessed int, err error) {
	err = r.q.queryRow(ctx,
		`SELECT
			COALESCE(SUM(CASE WHEN processed THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN processed THEN 0 ELSE 1 END), 0)
		FROM bank_transactions`,
	).Scan(&processed, &unprocessed)
	return processed, unprocessed, err
}

type TransactionFilter struct {
	Processed *bool
	From      *time.Time
	To        *time.Time
	Page      int
	Limit     int
}

func (r *TransactionRepo) List(ctx context.Context, f TransactionFilter) ([]domain.TransactionRecord, int, error) {
	where, args := buildTransactionWhere(f)

	var total int
	if err := r.q.queryRow(ctx, "SELECT COUNT(*) FROM bank_transactions"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count: %w", err)
	}

	limit, offset := pageBounds(f.Page, f.Limit)
	querySQL := "SELECT " + transactionColumns + " FROM bank_transactions" + where +
		" ORDER BY occurred_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := r.q.query(ctx, querySQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var recs []domain.TransactionRecord
	for rows.Next() {
		rec, err := scanTransaction(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan: %w", err)
		}
		recs = append(recs, *rec)
	}
	return recs, total, rows.Err()
}

// --- helpers ---

func buildTransactionWhere(f TransactionFilter) (string, []any) {
	var clauses []string
	var args []any

	if f.Processed != nil {
		clauses = append(clauses, "processed = ?")
		args = append(args, *f.Processed)
	}
	if f.From != nil {
		clauses = append(clauses, "occurred_at >= ?")
		args = append(args, formatTime(*f.From))
	}
	if f.To != nil {
		clauses = append(clauses, "occurred_at <= ?")
		args = append(args, formatTime(*f.To))
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTransaction(s scanner) (*domain.TransactionRecord, error) {
	var rec domain.TransactionRecord
	var direction, occurredAt, createdAt string
	var matchedOrderID, matchedAt sql.NullString

	err := s.Scan(
		&rec.ID, &rec.GatewayID, &rec.Gateway, &rec.Amount, &rec.Content, &rec.ReferenceCode,
		&rec.AccountNumber, &direction, &occurredAt, &rec.Processed, &matchedOrderID,
		&matchedAt, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rec.Direction = domain.TransferDirection(direction)
	rec.OccurredAt = parseTime(occurredAt)
	rec.CreatedAt = parseTime(createdAt)
	rec.MatchedOrderID = matchedOrderID.String
	rec.MatchedAt = parseNullableTime(matchedAt)
	return &rec, nil
}
