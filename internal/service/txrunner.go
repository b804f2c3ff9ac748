package service

import (
	"context"

	"triagedesk.app/triage/core/db"
	"triagedesk.app/triage/internal/store"
)

// StoreProvider exposes the stores needed by a transactional operation.
type StoreProvider interface {
	Users() store.UserStore
	SourceMessages() store.SourceMessageStore
	TrackedIssues() store.TrackedIssueStore
	ActionItems() store.ActionItemStore
	FollowUps() store.FollowUpStore
	Participants() store.ParticipantStore
	Activity() store.ActivityStore
}

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
	return r.db.WithTx(ctx, func(tx db.DBTX) error {
		stores := store.NewStores(tx)
		return fn(stores)
	})
}
