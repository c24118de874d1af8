// Package postgres implements the gateway's relational store on top of
// database/sql, sqlx, and lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// baseStore provides transaction-in-context helpers shared by every
// per-entity store built atop the same *sqlx.DB.
type baseStore struct {
	db        *sqlx.DB
	tableName string
}

func newBaseStore(db *sqlx.DB, tableName string) baseStore {
	return baseStore{db: db, tableName: tableName}
}

type txKey struct{}

// TxFromContext extracts an in-flight transaction from ctx, if one exists.
func TxFromContext(ctx context.Context) *sqlx.Tx {
	if tx, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return tx
	}
	return nil
}

func ContextWithTx(ctx context.Context, tx *sqlx.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// querier returns the transaction bound to ctx, or the pool otherwise.
func (s *baseStore) querier(ctx context.Context) sqlx.ExtContext {
	if tx := TxFromContext(ctx); tx != nil {
		return tx
	}
	return s.db
}

// WithTx runs fn inside a transaction, committing on success and rolling
// back on error or panic.
func WithTx(ctx context.Context, db *sqlx.DB, fn func(ctx context.Context) error) (err error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err = fn(ContextWithTx(ctx, tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Open opens and pings a Postgres connection pool with the gateway's
// standard tuning knobs.
func Open(dsn string, maxOpen, maxIdle, connMaxLifetimeSeconds int) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(time.Duration(connMaxLifetimeSeconds) * time.Second)
	return db, nil
}

func (s *baseStore) exists(ctx context.Context, id string) (bool, error) {
	query := fmt.Sprintf("SELECT EXISTS(SELECT 1 FROM %s WHERE id = $1)", s.tableName)
	var exists bool
	if err := sqlx.GetContext(ctx, s.querier(ctx), &exists, query, id); err != nil {
		return false, fmt.Errorf("check exists: %w", err)
	}
	return exists, nil
}

func isNoRows(err error) bool {
	return err == sql.ErrNoRows
}
