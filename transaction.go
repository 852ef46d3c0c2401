package rorm

import (
	"context"
	"database/sql"
)

// Tx wraps sql.Tx.
type Tx struct {
	Tx  *sql.Tx
	ctx context.Context
}

// Transaction executes a function within a transaction against the global
// database. Relation mutations such as Attach and Sync compose with it
// through Model.WithTx.
func Transaction(ctx context.Context, fn func(tx *Tx) error) error {
	return runInTransaction(ctx, GetGlobalDB(), fn)
}

// Transaction executes a function within a transaction against the model's
// connection.
func (m *Model[T]) Transaction(ctx context.Context, fn func(tx *Tx) error) error {
	db := m.db
	if db == nil {
		db = GetGlobalDB()
	}
	return runInTransaction(ctx, db, fn)
}

func runInTransaction(ctx context.Context, db *sql.DB, fn func(tx *Tx) error) error {
	if db == nil {
		return ErrNilDatabase
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	wrapped := &Tx{Tx: tx, ctx: ctx}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(wrapped); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}

// WithTx sets the transaction for the model.
func (m *Model[T]) WithTx(tx *Tx) *Model[T] {
	m.tx = tx.Tx
	m.ctx = tx.ctx
	return m
}
