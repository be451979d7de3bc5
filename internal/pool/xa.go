package pool

import (
	"context"

	"github.com/tidelock/xapool/pkg/txn"
)

// One concrete ManagedConnection hosts three small facets instead of
// implementing several unrelated role contracts via inheritance
// (Design Notes, "Polymorphism over the driver handle"): the
// consumer-facing pooled-connection facet, the XA resource facet
// enlisted with the transaction manager, and a synchronization facet
// notified at transaction completion. Each accessor just returns self
// wrapped in the narrow interface a caller needs.

// PooledConnectionFacet is the consumer-facing contract (spec §6): its
// Close returns the connection to the pool rather than destroying it.
type PooledConnectionFacet interface {
	Close() error
}

// SynchronizationFacet is notified when the bound transaction completes,
// independent of (and in addition to) the pool's own completion
// callback (which drives freeAfterTx).
type SynchronizationFacet interface {
	AfterCompletion(status txn.Status)
}

// AsXAResource returns the facet enlisted with the transaction manager.
func (mc *ManagedConnection) AsXAResource() txn.Resource { return (*xaResourceFacet)(mc) }

// AsSynchronization returns the facet registered for completion notification.
func (mc *ManagedConnection) AsSynchronization() SynchronizationFacet { return (*syncFacet)(mc) }

// AsPooledConnection returns the consumer-facing facet; closeFn is the
// caller-supplied path back into the pool (Pool.GetConnection passes one
// that fires notifyClose), bound here because a facet's Close must
// return to the pool, not destroy the physical connection.
func (mc *ManagedConnection) AsPooledConnection(closeFn func(*ManagedConnection) error) PooledConnectionFacet {
	return &pooledConnFacet{mc: mc, closeFn: closeFn}
}

// ── XAResource facet ─────────────────────────────────────────────────

// xaResourceFacet is *ManagedConnection viewed as a txn.Resource. Single-phase
// semantics per spec §4.4: Prepare always answers ok, Commit/Rollback
// call straight through to the physical driver connection.
type xaResourceFacet ManagedConnection

func (f *xaResourceFacet) mc() *ManagedConnection { return (*ManagedConnection)(f) }

func (f *xaResourceFacet) Prepare(ctx context.Context) error { return nil }

func (f *xaResourceFacet) Commit(ctx context.Context) error {
	return f.mc().physical.Commit(ctx)
}

func (f *xaResourceFacet) Rollback(ctx context.Context) error {
	return f.mc().physical.Rollback(ctx)
}

// IsSameRM compares object identity, not driver identity (spec §4.4):
// this is what makes the transaction manager treat every pooled
// connection as a distinct branch even if two wrap the same physical
// driver connection type.
func (f *xaResourceFacet) IsSameRM(other txn.Resource) bool {
	o, ok := other.(*xaResourceFacet)
	return ok && o == f
}

// ── Synchronization facet ────────────────────────────────────────────

type syncFacet ManagedConnection

func (f *syncFacet) AfterCompletion(status txn.Status) {
	mc := (*ManagedConnection)(f)
	mc.setTx(nil)
}

// ── PooledConnection facet ───────────────────────────────────────────

type pooledConnFacet struct {
	mc      *ManagedConnection
	closeFn func(*ManagedConnection) error
}

func (f *pooledConnFacet) Close() error { return f.closeFn(f.mc) }
