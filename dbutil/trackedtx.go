package dbutil

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/ts4z/floorman/varz"
)

var (
	commits   = varz.NewInt("commits")
	rollbacks = varz.NewInt("rollbacks")
)

// Tx is a transaction that remembers whether it is finished, so
// MaybeRollback can always be deferred.
type Tx struct {
	tx *sql.Tx
}

func NewTx(ctx context.Context, db *sql.DB, opts *sql.TxOptions) (*Tx, error) {
	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	return &Tx{tx: tx}, nil
}

// InTx runs fn in a transaction and commits if fn returns nil.  Errors from
// fn come back unwrapped.
func InTx(ctx context.Context, db *sql.DB, fn func(*Tx) error) error {
	tx, err := NewTx(ctx, db, nil)
	if err != nil {
		return err
	}
	defer tx.MaybeRollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// Tx exposes the underlying transaction for helpers that take a
// *sql.Tx.
func (tt *Tx) Tx() *sql.Tx {
	return tt.tx
}

func (tt *Tx) MaybeRollback() {
	if tt.tx == nil {
		return
	}
	if err := tt.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		log.Warn().Err(err).Msg("rollback failed")
	}
	rollbacks.Add(1)
	tt.tx = nil
}

func (tt *Tx) Commit() error {
	if tt.tx == nil {
		return sql.ErrTxDone
	}
	if err := tt.tx.Commit(); err != nil {
		return fmt.Errorf("committing: %w", err)
	}
	commits.Add(1)
	tt.tx = nil
	return nil
}

func (tt *Tx) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return tt.tx.QueryRowContext(ctx, query, args...)
}

func (tt *Tx) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return tt.tx.QueryContext(ctx, query, args...)
}

func (tt *Tx) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return tt.tx.ExecContext(ctx, query, args...)
}
