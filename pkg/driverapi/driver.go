// Package driverapi defines the collaborator contract the pool core
// relies on to open and drive physical database connections. It is
// intentionally an interface-only package: the driver that actually
// talks to a database (see internal/mssqldriver for the concrete
// implementation used by cmd/pooldemo) is an external component, not
// part of the pool core.
package driverapi

import (
	"context"
	"time"
)

// Isolation mirrors the transactionIsolation configuration enum.
type Isolation int

const (
	IsolationDefault Isolation = iota
	IsolationNone
	IsolationReadUncommitted
	IsolationReadCommitted
	IsolationRepeatableRead
	IsolationSerializable
)

// Driver opens physical connections against a single target database.
// Implementations are expected to map 1:1 between a Driver value and one
// reachable database endpoint (host:port/database), matching the "one
// physical connection per caller" rule in spec §3.
type Driver interface {
	// Open establishes one new physical connection. The returned
	// PhysicalConn is owned exclusively by the caller until Close.
	Open(ctx context.Context) (PhysicalConn, error)
}

// PhysicalConn is the opaque handle a ManagedConnection wraps. Owned
// uniquely by exactly one ManagedConnection for its lifetime (spec §3).
type PhysicalConn interface {
	// SetAutoCommit toggles autocommit mode for this physical connection.
	SetAutoCommit(ctx context.Context, on bool) error

	// SetTransactionIsolation sets the isolation level for subsequent work.
	SetTransactionIsolation(ctx context.Context, level Isolation) error

	// Commit commits the current transaction on this connection.
	Commit(ctx context.Context) error

	// Rollback rolls back the current transaction on this connection.
	Rollback(ctx context.Context) error

	// IsClosed reports whether the connection has already been closed
	// (by the driver, the network, or a prior Close call).
	IsClosed() bool

	// Close closes the physical connection. Errors are the caller's
	// concern to log; ManagedConnection.remove() swallows them per spec §4.2.
	Close() error

	// Ping checks that the connection is reachable. The pool core does
	// not call it: its checkLevel=1 validation uses IsClosed.
	Ping(ctx context.Context) error

	// Exec runs a statement with no result set — used for checkLevel=2
	// probes and checkConnection. Session reset on release goes through
	// SessionResetter, not Exec.
	Exec(ctx context.Context, sql string) error

	// Prepare creates a new physical prepared statement.
	Prepare(ctx context.Context, sql string, rsType, rsConcur int) (PhysicalStatement, error)
}

// PhysicalStatement is the driver-level prepared statement handle
// wrapped by a CachedStatement. The mutator methods are exactly the
// calls the statement cache (spec §4.3) watches to mark an entry dirty.
type PhysicalStatement interface {
	Execute(ctx context.Context, args ...any) error
	AddBatch(ctx context.Context, args ...any) error

	SetFetchDirection(dir int) error
	SetFetchSize(n int) error
	SetMaxFieldSize(n int) error
	SetMaxRows(n int) error
	SetQueryTimeout(d time.Duration) error

	// ClearParameters and ClearWarnings back CachedStatement.reuse().
	ClearParameters() error
	ClearWarnings() error

	Close() error
}

// SessionResetter is an optional capability a PhysicalConn can implement:
// if present, the pool core calls ResetSession before returning an
// idle, untransacted connection to the free set, clearing any session
// state (temp tables, SET options, sp_reset_connection and similar) the
// previous caller left behind. Connections that don't need this simply
// don't implement the interface.
type SessionResetter interface {
	ResetSession(ctx context.Context) error
}

// Default mutator values a dirty statement resets to on reuse (spec §4.3).
const (
	FetchForward     = 0
	DefaultFetchSize = 0
	DefaultMaxField  = 0
	DefaultMaxRows   = 0
)

// DefaultQueryTimeout is the zero value mutator reset on reuse.
var DefaultQueryTimeout time.Duration
