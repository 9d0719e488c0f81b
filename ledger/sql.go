package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/mattn/go-sqlite3"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DB is the SQL backed Store.
type DB struct {
	db     *sql.DB
	q      querier
	tx     *sql.Tx
	driver string
}

var _ Store = (*DB)(nil)

// Open connects to the ledger and creates the schema if needed. driver is
// "sqlite3" or "pgx" ("postgres" is accepted as an alias).
func Open(ctx context.Context, driver, dsn string) (*DB, error) {
	switch driver {
	case "", DriverSQLite, "sqlite":
		driver = DriverSQLite
	case DriverPostgres, "postgres", "postgresql":
		driver = DriverPostgres
	default:
		return nil, fmt.Errorf("unknown ledger driver %q (want sqlite3|pgx)", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	if driver == DriverSQLite {
		// SQLite allows one writer; a single connection also keeps
		// transactions from deadlocking against the pool.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping ledger: %w", err)
	}

	for _, stmt := range Schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}

	return &DB{db: db, q: db, driver: driver}, nil
}

// NewSQLite opens a SQLite ledger at path.
func NewSQLite(path string) (*DB, error) {
	return Open(context.Background(), DriverSQLite, path)
}

func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) WithTx(ctx context.Context, fn func(Store) error) error {
	if d.tx != nil {
		return fn(d)
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	txd := &DB{db: d.db, q: tx, tx: tx, driver: d.driver}

	if err := fn(txd); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (d *DB) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return d.q.ExecContext(ctx, d.rebind(query), args...)
}

func (d *DB) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return d.q.QueryContext(ctx, d.rebind(query), args...)
}

func (d *DB) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return d.q.QueryRowContext(ctx, d.rebind(query), args...)
}

// rebind rewrites ? placeholders as $n for PostgreSQL.
func (d *DB) rebind(query string) string {
	if d.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrConstraint
	}
	var pe *pgconn.PgError
	if errors.As(err, &pe) {
		return pe.Code == "23505"
	}
	return false
}

func nullable(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func ptr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}
