package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/pimarket/reconciler/internal/domain"
)

const unmatchedColumns = `id, transaction_id, gateway_id, amount, content, extracted_order_id,
	reason, expected_amount, detail, created_at`

// UnmatchedRepo is the append-only audit trail of transfers that were not
// credited to an order.
type UnmatchedRepo struct {
	q querier
}

func NewUnmatchedRepo(db *DB) *UnmatchedRepo {
	return &UnmatchedRepo{q: db}
}

// Insert records u. A row for the same (gateway id, reason) is kept as is, so
// gateway retries do not pile up duplicates. Returns whether a row was added.
func (r *UnmatchedRepo) Insert(ctx context.Context, u *domain.UnmatchedTransaction) (bool, error) {
	res, err := r.q.exec(ctx,
		`INSERT INTO unmatched_transactions
		(id, transaction_id, gateway_id, amount, content, extracted_order_id,
		 reason, expected_amount, detail, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT (gateway_id, reason) DO NOTHING`,
		u.ID, u.TransactionID, u.GatewayID, u.Amount, u.Content, nullableString(u.ExtractedOrderID),
		string(u.Reason), nullableInt(u.ExpectedAmount), u.Detail, formatTime(u.CreatedAt),
	)
	if err != nil {
		return false, fmt.Errorf("insert unmatched transaction: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// GetByGatewayID returns every audit row for one gateway transaction.
func (r *UnmatchedRepo) GetByGatewayID(ctx context.Context, gatewayID int64) ([]domain.UnmatchedTransaction, error) {
	rows, err := r.q.query(ctx,
		"SELECT "+unmatchedColumns+" FROM unmatched_transactions WHERE gateway_id = ? ORDER BY created_at DESC",
		gatewayID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanUnmatched(rows)
}

type UnmatchedFilter struct {
	Reason string
	From   *time.Time
	To     *time.Time
	Page   int
	Limit  int
}

func (r *UnmatchedRepo) List(ctx context.Context, f UnmatchedFilter) ([]domain.UnmatchedTransaction, int, error) {
	where, args := buildUnmatchedWhere(f)

	var total int
	if err := r.q.queryRow(ctx, "SELECT COUNT(*) FROM unmatched_transactions"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit, offset := pageBounds(f.Page, f.Limit)
	q := "SELECT " + unmatchedColumns + " FROM unmatched_transactions" + where +
		" ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := r.q.query(ctx, q, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	items, err := scanUnmatched(rows)
	return items, total, err
}

// SumAmount totals the transferred amount of every row matching f,
// ignoring paging.
func (r *UnmatchedRepo) SumAmount(ctx context.Context, f UnmatchedFilter) (int64, error) {
	where, args := buildUnmatchedWhere(f)
	var sum int64
	err := r.q.queryRow(ctx, "SELECT COALESCE(SUM(amount),0) FROM unmatched_transactions"+where, args...).Scan(&sum)
	return sum, err
}

type UnmatchedSummary struct {
	TotalCount  int            `json:"total_count"`
	TotalAmount int64          `json:"total_amount_vnd"`
	ByReason    map[string]int `json:"by_reason"`
}

func (r *UnmatchedRepo) GetSummary(ctx context.Context) (*UnmatchedSummary, error) {
	s := &UnmatchedSummary{ByReason: make(map[string]int)}

	if err := r.q.queryRow(ctx,
		"SELECT COUNT(*), COALESCE(SUM(amount),0) FROM unmatched_transactions",
	).Scan(&s.TotalCount, &s.TotalAmount); err != nil {
		return nil, err
	}

	rows, err := r.q.query(ctx, "SELECT reason, COUNT(*) FROM unmatched_transactions GROUP BY reason")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var k string
		var v int
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		s.ByReason[k] = v
	}
	return s, rows.Err()
}

// --- helpers ---

func buildUnmatchedWhere(f UnmatchedFilter) (string, []any) {
	var clauses []string
	var args []any

	if f.Reason != "" {
		clauses = append(clauses, "reason = ?")
		args = append(args, f.Reason)
	}
	if f.From != nil {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, formatTime(*f.From))
	}
	if f.To != nil {
		clauses = append(clauses, "created_at <= ?")
		args = append(args, formatTime(*f.To))
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func scanUnmatched(rows *sql.Rows) ([]domain.UnmatchedTransaction, error) {
	var items []domain.UnmatchedTransaction
	for rows.Next() {
		var u domain.UnmatchedTransaction
		var reason, createdAt string
		var extracted sql.NullString
		var expected sql.NullInt64

		err := rows.Scan(
			&u.ID, &u.TransactionID, &u.GatewayID, &u.Amount, &u.Content, &extracted,
			&reason, &expected, &u.Detail, &createdAt,
		)
		if err != nil {
			return nil, err
		}

		u.Reason = domain.UnmatchedReason(reason)
		u.CreatedAt = parseTime(createdAt)
		u.ExtractedOrderID = extracted.String
		if expected.Valid {
			v := expected.Int64
			u.ExpectedAmount = &v
		}
		items = append(items, u)
	}
	return items, rows.Err()
}
