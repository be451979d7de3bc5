// Package txn defines the collaborator contract between the pool core
// and an external distributed-transaction manager (spec §6). The core
// never constructs a Transaction itself — one is handed to Pool.Acquire
// by the caller, and the TransactionManager delivers completion
// callbacks asynchronously when that transaction finishes.
package txn

import (
	"context"
	"errors"
)

// Recoverable enlistment failures the pool specifically handles (spec §4.4):
// a transaction already marked for rollback still accepts the connection
// (the caller sees no error), while one that already completed forces the
// pool back to non-transactional/autocommit mode.
var (
	ErrMarkedRollback   = errors.New("txn: transaction marked for rollback")
	ErrAlreadyCompleted = errors.New("txn: transaction already completed")
)

// Status is the outcome delivered to a registered completion callback.
type Status int

const (
	StatusCommitted Status = iota
	StatusRolledBack
)

// DelistFlag indicates whether a resource is being delisted normally or
// because the caller reported an error on release (spec §4.1 step 3d).
type DelistFlag int

const (
	DelistNormal DelistFlag = iota
	DelistFail
)

// Transaction is an opaque handle identifying one distributed
// transaction. Implementations must be comparable (used as a map key in
// the transaction affinity map) and must remain a stable identity for
// the life of the transaction.
type Transaction interface {
	// ID returns a value uniquely identifying this transaction for
	// logging; it has no bearing on map-key identity (the Transaction
	// value itself is the key).
	ID() string
}

// CompletionCallback is registered by the pool for exactly one
// transaction and invoked by the TransactionManager exactly once, when
// that transaction finishes (commit or rollback).
type CompletionCallback func(status Status)

// Resource is what the pool enlists/delists with a Transaction. A
// ManagedConnection satisfies this via its XAResource facet (spec §4.4).
type Resource interface {
	// Prepare always answers "ok" for this single-resource, single-phase
	// core (spec §4.4): there is no real two-phase commit here.
	Prepare(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error

	// IsSameRM reports true iff other is the same Resource object
	// (identity, not same underlying driver connection) — this is what
	// makes the transaction manager treat each pooled connection as a
	// distinct branch (spec §4.4).
	IsSameRM(other Resource) bool
}

// TransactionManager is the external collaborator that produces
// transaction handles and delivers completion callbacks (spec §6).
type TransactionManager interface {
	// CurrentTransaction returns the ambient transaction, if any. Used
	// only at well-defined boundaries (spec §9 "Hidden coupling via a
	// 'current transaction' lookup" — confined to this one interface).
	CurrentTransaction(ctx context.Context) (Transaction, bool)

	// Enlist registers resource as a participant in tx. Returns
	// ErrAlreadyCompleted or ErrMarkedRollback (see errors above) for
	// the two recoverable failure modes spec §4.4 distinguishes.
	Enlist(ctx context.Context, tx Transaction, resource Resource) error

	// Delist removes resource from tx's participant list, e.g. on
	// release with disposition=error (spec §4.1 step 3d).
	Delist(ctx context.Context, tx Transaction, resource Resource, flag DelistFlag) error

	// RegisterCompletion arranges for cb to be invoked once tx finishes.
	RegisterCompletion(ctx context.Context, tx Transaction, cb CompletionCallback) error
}
