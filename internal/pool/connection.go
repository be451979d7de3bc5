package pool

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/tidelock/xapool/pkg/driverapi"
	"github.com/tidelock/xapool/pkg/txn"
)

// connEventListener is the allocator-side callback surface a
// ManagedConnection fires into. The connection holds only this
// non-owning interface reference — never a pointer back to a concrete
// *Pool — so ownership stays one-directional: Pool owns
// []*ManagedConnection, a ManagedConnection never owns its Pool
// (Design Notes, "Cyclic ownership between allocator and managed
// connection").
type connEventListener interface {
	connectionClosed(mc *ManagedConnection)
	connectionErrorOccurred(mc *ManagedConnection, err error)
}

// ManagedConnection wraps one physical connection with the bookkeeping
// spec §3 assigns it: hold count, bound transaction, age/idle deadlines,
// its own statement cache, and a reuse counter used as the free-set
// tie-break (spec §3, §4.2).
type ManagedConnection struct {
	mu sync.Mutex

	id       uint64
	poolName string
	physical driverapi.PhysicalConn
	listener connEventListener

	holdCount int
	boundTx   txn.Transaction

	createdAt    time.Time
	ageDeadline  time.Time
	idleDeadline time.Time
	maxOpenTime  time.Duration

	reuseCount uint64
	closed     bool

	statements *statementCache
}

func newManagedConnection(id uint64, poolName string, phys driverapi.PhysicalConn, listener connEventListener, maxAge, maxOpenTime time.Duration, pstmtMax int) *ManagedConnection {
	now := time.Now()
	mc := &ManagedConnection{
		id:          id,
		poolName:    poolName,
		physical:    phys,
		listener:    listener,
		createdAt:   now,
		ageDeadline: now.Add(maxAge),
		maxOpenTime: maxOpenTime,
	}
	mc.statements = newStatementCache(mc, pstmtMax)
	return mc
}

// ID returns the connection's pool-unique, monotonically increasing identifier.
func (mc *ManagedConnection) ID() uint64 { return mc.id }

// Physical exposes the underlying physical connection to callers that
// have acquired this ManagedConnection.
func (mc *ManagedConnection) Physical() driverapi.PhysicalConn { return mc.physical }

// hold increments the hold count and resets the idle/leak deadline
// (spec §4.2).
func (mc *ManagedConnection) hold() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.holdCount++
	mc.idleDeadline = time.Now().Add(mc.maxOpenTime)
}

// release decrements the hold count. Returns false if it was already at
// zero — a double release (spec §4.2).
func (mc *ManagedConnection) release() bool {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if mc.holdCount == 0 {
		return false
	}
	mc.holdCount--
	return true
}

// holdCountValue reports the current hold count.
func (mc *ManagedConnection) holdCountValue() int {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.holdCount
}

// isAged reports whether ageDeadline has passed (spec §3).
func (mc *ManagedConnection) isAged() bool {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return time.Now().After(mc.ageDeadline)
}

// inactive reports whether this connection is "leaked": held, untransacted,
// and past its idle deadline (spec §3).
func (mc *ManagedConnection) inactive() bool {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.holdCount > 0 && mc.boundTx == nil && time.Now().After(mc.idleDeadline)
}

// isOpen reports whether the underlying physical connection is usable.
func (mc *ManagedConnection) isOpen() bool {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return !mc.closed && !mc.physical.IsClosed()
}

// setTx binds or clears the transaction this connection is reserved for.
func (mc *ManagedConnection) setTx(tx txn.Transaction) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.boundTx = tx
}

// boundTransaction returns the transaction this connection is currently
// bound to, or nil.
func (mc *ManagedConnection) boundTransaction() txn.Transaction {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.boundTx
}

// bumpReuse increments the free-set tie-break counter; called by the
// statement cache on a cache hit (spec §3: "how many times its cached
// statements have been reused").
func (mc *ManagedConnection) bumpReuse() {
	mc.mu.Lock()
	mc.reuseCount++
	mc.mu.Unlock()
}

func (mc *ManagedConnection) reuseCountValue() uint64 {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.reuseCount
}

// prepareStatement delegates to this connection's statement cache
// (spec §4.2, §4.3).
func (mc *ManagedConnection) prepareStatement(ctx context.Context, sql string, rsType, rsConcur int) (*CachedStatement, error) {
	return mc.statements.prepare(ctx, mc.physical, sql, rsType, rsConcur)
}

// notifyClose force-closes every still-open statement (warning on any
// that were open), then fires connectionClosed to the listener — which
// is how the allocator learns a caller finished normally (spec §4.2).
func (mc *ManagedConnection) notifyClose() {
	mc.statements.closeAll()
	mc.listener.connectionClosed(mc)
}

// notifyError fires connectionErrorOccurred, which the allocator treats
// as disposition=error on release (spec §4.2, §7).
func (mc *ManagedConnection) notifyError(err error) {
	mc.listener.connectionErrorOccurred(mc, err)
}

// remove closes the physical connection, swallowing errors, and marks
// this ManagedConnection dead (spec §4.2).
func (mc *ManagedConnection) remove() {
	mc.mu.Lock()
	if mc.closed {
		mc.mu.Unlock()
		return
	}
	mc.closed = true
	mc.mu.Unlock()

	mc.statements.closeAll()
	if err := mc.physical.Close(); err != nil {
		log.Printf("[pool] connection %d (%s): close error ignored: %v", mc.id, mc.poolName, err)
	}
}
