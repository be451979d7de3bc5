package pool

import (
	"sync"

	"github.com/tidelock/xapool/pkg/txn"
)

// affinityMap implements the Transaction Affinity Map (spec §4.4): the
// guarantee that every acquisition within one transaction yields the
// same ManagedConnection. It is a plain mutex-guarded map rather than a
// generic scoped-connection-manager — this core targets one concrete
// external txn.Transaction type, not a family of transactional
// resources, so there is nothing to parameterize.
//
// Invariant (spec §3.4): every key's value has boundTx equal to that key.
type affinityMap struct {
	mu  sync.Mutex
	byTx map[txn.Transaction]*ManagedConnection
}

func newAffinityMap() *affinityMap {
	return &affinityMap{byTx: make(map[txn.Transaction]*ManagedConnection)}
}

// lookup returns the connection bound to tx, if any (spec §4.1 step 1:
// the transaction-affinity fast path).
func (a *affinityMap) lookup(tx txn.Transaction) (*ManagedConnection, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	mc, ok := a.byTx[tx]
	return mc, ok
}

// bind records tx → mc.
func (a *affinityMap) bind(tx txn.Transaction, mc *ManagedConnection) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.byTx[tx] = mc
}

// take removes and returns the binding for tx, if any — used by
// freeAfterTx (spec §4.1 "freeAfterTx(tx)").
func (a *affinityMap) take(tx txn.Transaction) (*ManagedConnection, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	mc, ok := a.byTx[tx]
	if ok {
		delete(a.byTx, tx)
	}
	return mc, ok
}
