// File: pkg/sqlscope/sqlscope.go
// Brief: database/sql resources for scope stacks.

// Package sqlscope provides database/sql resources for scope stacks. DB
// scopes a connection pool; Tx scopes a transaction that settles according
// to how the scope exits: commit on a clean unwind, rollback when a failure
// is in flight.
package sqlscope

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// DB opens a handle for Driver/DSN on enter, verifies it with a ping, and
// closes it on exit.
type DB struct {
	Driver string
	DSN    string

	db *sql.DB
}

func (d *DB) Enter(ctx context.Context) (any, error) {
	db, err := sql.Open(d.Driver, d.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d.Driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", d.Driver, err)
	}
	d.db = db
	return db, nil
}

func (d *DB) Exit(_ context.Context, _ error) error {
	if d.db == nil {
		return nil
	}
	if err := d.db.Close(); err != nil {
		return fmt.Errorf("close db: %w", err)
	}
	return nil
}

// Tx begins a transaction on enter. Exit commits when the scope unwinds
// cleanly and rolls back when a failure is in flight. A transaction the
// caller already settled is left alone.
type Tx struct {
	DB   *sql.DB
	Opts *sql.TxOptions

	tx *sql.Tx
}

func (t *Tx) Enter(ctx context.Context) (any, error) {
	if t.DB == nil {
		return nil, errors.New("begin tx: nil db")
	}
	tx, err := t.DB.BeginTx(ctx, t.Opts)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	t.tx = tx
	return tx, nil
}

func (t *Tx) Exit(_ context.Context, cause error) error {
	if t.tx == nil {
		return nil
	}
	if cause != nil {
		if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			return fmt.Errorf("rollback: %w", err)
		}
		return nil
	}
	if err := t.tx.Commit(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
