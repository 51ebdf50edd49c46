// Package pgstore implements property.Store on PostgreSQL through pgx.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/custody/internal/platform/db"
	"github.com/odyssey-erp/custody/internal/property"
)

type dbtx interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// queries runs every statement against either the pool or a transaction.
type queries struct {
	db dbtx
}

// Store is the PostgreSQL backed property.Store.
type Store struct {
	queries
	pool *pgxpool.Pool
}

// New builds a Store on top of pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{queries: queries{db: pool}, pool: pool}
}

// WithTx runs fn inside a RepeatableRead transaction.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, property.Tx) error) error {
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txStore{queries: queries{db: tx}})
	})
}

type txStore struct {
	queries
}

var _ property.Store = (*Store)(nil)
var _ property.Tx = (*txStore)(nil)

// mapErr translates driver errors into the property error taxonomy.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return property.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s", property.ErrUniqueViolation, pgErr.ConstraintName)
		case "23503":
			return fmt.Errorf("%w: %s", property.ErrReferenced, pgErr.ConstraintName)
		}
	}
	return err
}

// money scans NUMERIC columns selected as text.
type money struct {
	dst *decimal.Decimal
}

func (m money) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*m.dst = decimal.Zero
		return nil
	case []byte:
		return m.Scan(string(v))
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return err
		}
		*m.dst = d
		return nil
	}
	return fmt.Errorf("pgstore: cannot scan %T into decimal", src)
}

func nullable(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}

func affected(tag pgconn.CommandTag, err error) (int64, error) {
	if err != nil {
		return 0, mapErr(err)
	}
	return tag.RowsAffected(), nil
}

func collect[T any](rows pgx.Rows, err error, scan func(pgx.Row) (T, error)) ([]T, error) {
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, mapErr(rows.Err())
}

func maxSequence(ctx context.Context, q dbtx, query, prefix string) (int, error) {
	var n int
	err := q.QueryRow(ctx, query, prefix, len(prefix)+1).Scan(&n)
	return n, mapErr(err)
}
