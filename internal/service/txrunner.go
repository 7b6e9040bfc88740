package service

import (
	"context"

	"supportdesk.app/relay/core/db"
	"supportdesk.app/relay/core/db/sqlc"
	"supportdesk.app/relay/internal/store"
)

// StoreProvider exposes the stores needed by a transactional operation.
type StoreProvider = store.Provider

// TxRunner runs functions within a transaction and provides stores bound to that transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(stores StoreProvider) error) error
}

type dbTxRunner struct {
	db *db.DB
}

// NewTxRunner builds a TxRunner backed by the core DB.
func NewTxRunner(db *db.DB) TxRunner {
	return &dbTxRunner{db: db}
}

func (r *dbTxRunner) WithTx(ctx context.Context, fn func(stores StoreProvider) error) error {
	return r.db.WithTx(ctx, func(q *sqlc.Queries) error {
		return fn(store.NewStores(q))
	})
}
