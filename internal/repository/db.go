package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// ErrDuplicate is returned when an insert hits a unique constraint.
var ErrDuplicate = errors.New("duplicate key")

type Dialect int

const (
	DialectSQLite Dialect = iota
	DialectPostgres
)

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

// querier is satisfied by DB and Tx; repositories run every statement
// through it so the same repo code works inside and outside a transaction.
type querier interface {
	exec(ctx context.Context, query string, args ...any) (sql.Result, error)
	query(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	queryRow(ctx context.Context, query string, args ...any) *sql.Row
}

type DB struct {
	db      *sql.DB
	dialect Dialect
}

// Open connects to the store and ensures all tables exist. driver is
// "sqlite" (dsn is a file path, or ":memory:") or "postgres".
func Open(driver, dsn string) (*DB, error) {
	switch driver {
	case "sqlite":
		return openSQLite(dsn)
	case "postgres":
		return openPostgres(dsn)
	default:
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}
}

func openSQLite(dsn string) (*DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One connection serializes writers; SQLite allows only one anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set wal mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	out := &DB{db: db, dialect: DialectSQLite}
	if err := out.createTables(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return out, nil
}

func openPostgres(dsn string) (*DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	out := &DB{db: db, dialect: DialectPostgres}
	if err := out.createTables(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return out, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) Dialect() Dialect {
	return d.dialect
}

// InTx runs fn in a single storage transaction. fn must only use
// repositories bound to tx.
func (d *DB) InTx(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&Tx{tx: sqlTx, dialect: d.dialect}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (d *DB) exec(ctx context.Context, q string, args ...any) (sql.Result, error) {
	return d.db.ExecContext(ctx, rebind(d.dialect, q), args...)
}

func (d *DB) query(ctx context.Context, q string, args ...any) (*sql.Rows, error) {
	return d.db.QueryContext(ctx, rebind(d.dialect, q), args...)
}

func (d *DB) queryRow(ctx context.Context, q string, args ...any) *sql.Row {
	return d.db.QueryRowContext(ctx, rebind(d.dialect, q), args...)
}

type Tx struct {
	tx      *sql.Tx
	dialect Dialect
}

func (t *Tx) exec(ctx context.Context, q string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(ctx, rebind(t.dialect, q), args...)
}

func (t *Tx) query(ctx context.Context, q string, args ...any) (*sql.Rows, error) {
	return t.tx.QueryContext(ctx, rebind(t.dialect, q), args...)
}

func (t *Tx) queryRow(ctx context.Context, q string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(ctx, rebind(t.dialect, q), args...)
}

// rebind rewrites ? placeholders to $n for Postgres. Queries in this
// package never contain a literal question mark.
func rebind(d Dialect, q string) string {
	if d != DialectPostgres {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 16)
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

func (d *DB) createTables(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL,
			display_name TEXT NOT NULL DEFAULT ''
		)`,

		`CREATE TABLE IF NOT EXISTS products (
			id TEXT PRIMARY KEY,
			seller_id TEXT NOT NULL,
			title TEXT NOT NULL,
			price BIGINT NOT NULL,
			product_type TEXT NOT NULL,
			file_url TEXT NOT NULL DEFAULT '',
			purchase_count BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_products_seller ON products(seller_id)`,

		`CREATE TABLE IF NOT EXISTS vouchers (
			id TEXT PRIMARY KEY,
			code TEXT NOT NULL UNIQUE,
			used_count BIGINT NOT NULL DEFAULT 0
		)`,

		`CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			buyer_id TEXT NOT NULL,
			product_id TEXT NOT NULL REFERENCES products(id),
			status TEXT NOT NULL,
			delivery_status TEXT NOT NULL DEFAULT 'pending',
			delivery_notes TEXT NOT NULL DEFAULT '',
			payment_verified_at TEXT,
			bank_transaction_id TEXT,
			gateway_transaction_id BIGINT,
			discount_amount BIGINT NOT NULL DEFAULT 0,
			final_bank_amount BIGINT,
			voucher_id TEXT,
			earning_error TEXT NOT NULL DEFAULT '',
			earning_failed_at TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_earning_failed ON orders(earning_failed_at)`,

		`CREATE TABLE IF NOT EXISTS bank_transactions (
			id TEXT PRIMARY KEY,
			gateway_id BIGINT NOT NULL UNIQUE,
			gateway TEXT NOT NULL DEFAULT '',
			amount BIGINT NOT NULL,
			content TEXT NOT NULL,
			reference_code TEXT NOT NULL DEFAULT '',
			account_number TEXT NOT NULL DEFAULT '',
			direction TEXT NOT NULL,
			occurred_at TEXT NOT NULL,
			processed BOOLEAN NOT NULL DEFAULT FALSE,
			matched_order_id TEXT,
			matched_at TEXT,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_bank_transactions_processed ON bank_transactions(processed)`,
		`CREATE INDEX IF NOT EXISTS idx_bank_transactions_order ON bank_transactions(matched_order_id)`,

		`CREATE TABLE IF NOT EXISTS unmatched_transactions (
			id TEXT PRIMARY KEY,
			transaction_id TEXT NOT NULL REFERENCES bank_transactions(id),
			gateway_id BIGINT NOT NULL,
			amount BIGINT NOT NULL,
			content TEXT NOT NULL,
			extracted_order_id TEXT,
			reason TEXT NOT NULL,
			expected_amount BIGINT,
			detail TEXT NOT NULL,
			created_at TEXT NOT NULL,
			UNIQUE (gateway_id, reason)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_unmatched_reason ON unmatched_transactions(reason)`,

		`CREATE TABLE IF NOT EXISTS wallets (
			id TEXT PRIMARY KEY,
			seller_id TEXT NOT NULL UNIQUE,
			pending BIGINT NOT NULL DEFAULT 0,
			available BIGINT NOT NULL DEFAULT 0,
			total_earned BIGINT NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS wallet_logs (
			id TEXT PRIMARY KEY,
			wallet_id TEXT NOT NULL REFERENCES wallets(id),
			order_id TEXT,
			type TEXT NOT NULL,
			amount_pi BIGINT NOT NULL,
			amount_vnd BIGINT NOT NULL,
			status TEXT NOT NULL,
			release_date TEXT,
			rate_version TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_wallet_logs_order_earning ON wallet_logs(order_id) WHERE type = 'earning'`,
		`CREATE INDEX IF NOT EXISTS idx_wallet_logs_wallet ON wallet_logs(wallet_id)`,
		`CREATE INDEX IF NOT EXISTS idx_wallet_logs_maturity ON wallet_logs(status, release_date)`,

		`CREATE TABLE IF NOT EXISTS license_keys (
			id TEXT PRIMARY KEY,
			product_id TEXT NOT NULL REFERENCES products(id),
			key_value TEXT NOT NULL,
			is_used BOOLEAN NOT NULL DEFAULT FALSE,
			order_id TEXT,
			used_at TEXT,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_license_keys_unused ON license_keys(product_id, is_used, created_at)`,

		`CREATE TABLE IF NOT EXISTS notifications (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			order_id TEXT,
			kind TEXT NOT NULL,
			title TEXT NOT NULL,
			body TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id)`,
	}

	for _, stmt := range stmts {
		if _, err := d.exec(ctx, stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:40], err)
		}
	}
	return nil
}

// --- helpers ---

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatNullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func parseNullableTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableInt(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}

// pageBounds turns a 1-based page and a limit into LIMIT/OFFSET values.
func pageBounds(page, limit int) (int, int) {
	if limit <= 0 {
		limit = 50
	}
	if page <= 0 {
		page = 1
	}
	return limit, (page - 1) * limit
}
