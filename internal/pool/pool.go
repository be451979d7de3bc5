// Package pool implements the bounded, transaction-aware connection
// pool: the free/active connection sets, the acquire/release algorithm,
// the transaction affinity map, and the background adjust/sample loops.
//
// Spec §8's opened <= served invariant only holds if opened counts the
// on-demand expand path in Acquire (step 2b), not pool_min warm-up or
// adjust's grow-to-minimum — those connections are provisioned before
// anyone has asked for them, so openIntoFree deliberately leaves
// counters.Opened/ConnectionsOpened alone.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/tidelock/xapool/internal/config"
	"github.com/tidelock/xapool/internal/metrics"
	"github.com/tidelock/xapool/pkg/driverapi"
	"github.com/tidelock/xapool/pkg/txn"
)

// Disposition tells Release whether the caller finished normally or hit
// an error on the connection (spec §4.1 step 3d, §7).
type Disposition int

const (
	DispositionNormal Disposition = iota
	DispositionError
)

// Counters is a point-in-time snapshot of a pool's bookkeeping totals.
type Counters struct {
	Opened             uint64
	Served             uint64
	RejectedFull       uint64
	RejectedTimeout    uint64
	RejectedOther      uint64
	ConnectionFailures uint64
	ConnectionLeaks    uint64
	ValidationFailures uint64
}

// Pool is the allocator at the center of the design (spec §4.1): it
// owns every ManagedConnection it has ever opened, the free set of idle
// untransacted ones, the transaction affinity map, and the queue of
// callers waiting for one to become available.
type Pool struct {
	mu sync.Mutex

	name   string
	driver driverapi.Driver
	txMgr  txn.TransactionManager
	cfg    config.PoolOptions

	nextID uint64
	all    map[uint64]*ManagedConnection
	free   *freeSet
	txMap  *affinityMap

	waiters        []chan struct{}
	currentWaiters int

	closed   bool
	stopCh   chan struct{}
	wg       sync.WaitGroup
	sampling samplingState
	counters Counters
}

// newPool constructs a Pool, eagerly opening poolMin connections into
// its free set, and starts the background adjust/sample loop. Kept
// unexported: callers go through a Registry (spec §6's naming-service
// factory pattern) so every pool in a process is discoverable by name.
func newPool(name string, driver driverapi.Driver, txMgr txn.TransactionManager, cfg config.PoolOptions) (*Pool, error) {
	p := &Pool{
		name:   name,
		driver: driver,
		txMgr:  txMgr,
		cfg:    cfg,
		all:    make(map[uint64]*ManagedConnection),
		free:   newFreeSet(),
		txMap:  newAffinityMap(),
		stopCh: make(chan struct{}),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for i := 0; i < cfg.PoolMin; i++ {
		if err := p.openIntoFree(ctx); err != nil {
			return nil, fmt.Errorf("xapool: pool %s: warming pool_min connections: %w", name, err)
		}
	}

	p.wg.Add(1)
	go p.maintenanceLoop()

	return p, nil
}

func (p *Pool) openIntoFree(ctx context.Context) error {
	phys, err := p.driver.Open(ctx)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.nextID++
	id := p.nextID
	mc := newManagedConnection(id, p.name, phys, p, p.cfg.MaxAge, p.cfg.MaxOpenTime, p.cfg.PstmtMax)
	p.all[id] = mc
	p.free.Insert(mc)
	p.updateGaugesLocked()
	p.mu.Unlock()
	return nil
}

// Acquire implements spec §4.1's acquire(tx?) algorithm: the
// transaction-affinity fast path, then a loop over the free/expand/wait
// paths until a validated connection is returned or the caller's
// residual waiter-timeout budget is exhausted.
func (p *Pool) Acquire(ctx context.Context, tx txn.Transaction) (*ManagedConnection, error) {
	if tx != nil {
		if mc, ok := p.txMap.lookup(tx); ok {
			mc.hold()
			p.mu.Lock()
			p.counters.Served++
			metrics.ConnectionsServed.WithLabelValues(p.name).Inc()
			p.updateGaugesLocked()
			p.mu.Unlock()
			return mc, nil
		}
	}

	var waitStart time.Time
	waiting := false
	residualResets := 0

	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, fmt.Errorf("xapool: pool %s is closed", p.name)
		}

		if mc := p.free.TakeHighest(); mc != nil {
			p.mu.Unlock()

			ok, _ := p.validate(ctx, mc)
			if !ok {
				p.destroy(mc)
				p.mu.Lock()
				p.counters.ValidationFailures++
				metrics.ValidationFailures.WithLabelValues(p.name).Inc()
				p.mu.Unlock()
				// A failed validation restarts the residual waiter-timeout
				// budget (spec §9): this candidate cost time the caller
				// shouldn't be charged for.
				if waiting {
					residualResets++
					if residualResets == 3 {
						log.Printf("[pool] pool %s: acquire has been re-budgeted %d times by validation failures; caller may be waiting far past waiter_timeout", p.name, residualResets)
					}
				}
				waitStart = time.Time{}
				waiting = false
				continue
			}
			return p.completeAcquire(ctx, mc, tx)
		}

		if p.cfg.IsUnbounded() || len(p.all) < p.cfg.PoolMax {
			p.mu.Unlock()
			phys, err := p.driver.Open(ctx)
			if err != nil {
				p.mu.Lock()
				p.counters.ConnectionFailures++
				p.counters.RejectedOther++
				metrics.ConnectionFailures.WithLabelValues(p.name).Inc()
				metrics.ConnectionsRejected.WithLabelValues(p.name, "other").Inc()
				p.mu.Unlock()
				return nil, &AcquireFailedError{Pool: p.name, Kind: AcquireFailDriverError, Inner: err}
			}
			p.mu.Lock()
			p.nextID++
			id := p.nextID
			mc := newManagedConnection(id, p.name, phys, p, p.cfg.MaxAge, p.cfg.MaxOpenTime, p.cfg.PstmtMax)
			p.all[id] = mc
			p.counters.Opened++
			metrics.ConnectionsOpened.WithLabelValues(p.name).Inc()
			p.mu.Unlock()
			return p.completeAcquire(ctx, mc, tx)
		}

		if p.currentWaiters >= p.cfg.MaxWaiters {
			full := !waiting
			if full {
				p.counters.RejectedFull++
				metrics.ConnectionsRejected.WithLabelValues(p.name, "full").Inc()
				p.mu.Unlock()
				return nil, &AcquireFailedError{Pool: p.name, Kind: AcquireFailPoolFull}
			}
			p.counters.RejectedTimeout++
			metrics.ConnectionsRejected.WithLabelValues(p.name, "timeout").Inc()
			p.mu.Unlock()
			return nil, &AcquireFailedError{Pool: p.name, Kind: AcquireFailTimeout}
		}

		if !waiting {
			waitStart = time.Now()
			waiting = true
		}
		residual := p.cfg.WaiterTimeout - time.Since(waitStart)
		if residual <= 0 {
			p.counters.RejectedTimeout++
			metrics.ConnectionsRejected.WithLabelValues(p.name, "timeout").Inc()
			p.mu.Unlock()
			return nil, &AcquireFailedError{Pool: p.name, Kind: AcquireFailTimeout}
		}

		sig := make(chan struct{}, 1)
		p.waiters = append(p.waiters, sig)
		p.currentWaiters++
		p.sampling.recordWaiterCount(p.currentWaiters)
		p.updateGaugesLocked()
		p.mu.Unlock()

		timer := time.NewTimer(residual)
		select {
		case <-sig:
			timer.Stop()
		case <-timer.C:
			p.removeWaiter(sig)
		case <-ctx.Done():
			timer.Stop()
			p.removeWaiter(sig)
			p.mu.Lock()
			p.currentWaiters--
			p.sampling.recordWait(time.Since(waitStart))
			p.updateGaugesLocked()
			p.mu.Unlock()
			return nil, ctx.Err()
		}

		p.mu.Lock()
		p.currentWaiters--
		elapsed := time.Since(waitStart)
		p.sampling.recordWait(elapsed)
		metrics.QueueWaitDuration.WithLabelValues(p.name).Observe(elapsed.Seconds())
		p.updateGaugesLocked()
		p.mu.Unlock()
		// Restart the loop from the top: spurious wakes and barging are
		// permitted (spec §5), the woken caller simply re-derives whatever
		// became available rather than receiving a connection directly.
	}
}

// completeAcquire runs the bind/enlist step common to every path that
// produced a fresh mc (free-set, expand, or woken-waiter), outside
// p.mu so the transaction manager's Enlist call is never made while
// holding the pool's lock.
func (p *Pool) completeAcquire(ctx context.Context, mc *ManagedConnection, tx txn.Transaction) (*ManagedConnection, error) {
	mc.hold()

	if tx == nil {
		if err := mc.physical.SetAutoCommit(ctx, true); err != nil {
			log.Printf("[pool] pool %s: conn %d: set autocommit failed: %v", p.name, mc.id, err)
		}
	} else if p.txMgr != nil {
		resource := mc.AsXAResource()
		err := p.txMgr.Enlist(ctx, tx, resource)
		switch {
		case err == nil:
			mc.setTx(tx)
			p.txMap.bind(tx, mc)
			if err := mc.physical.SetAutoCommit(ctx, false); err != nil {
				log.Printf("[pool] pool %s: conn %d: set autocommit failed: %v", p.name, mc.id, err)
			}
			completedTx := tx
			if regErr := p.txMgr.RegisterCompletion(ctx, tx, func(status txn.Status) {
				mc.AsSynchronization().AfterCompletion(status)
				p.FreeAfterTx(completedTx)
			}); regErr != nil {
				log.Printf("[pool] pool %s: conn %d: register completion failed: %v", p.name, mc.id, regErr)
			}
		case errors.Is(err, txn.ErrMarkedRollback):
			// The connection is still handed to the caller bound to tx —
			// only the eventual outcome is already decided (spec §4.4).
			mc.setTx(tx)
			p.txMap.bind(tx, mc)
		case errors.Is(err, txn.ErrAlreadyCompleted):
			if err := mc.physical.SetAutoCommit(ctx, true); err != nil {
				log.Printf("[pool] pool %s: conn %d: set autocommit failed: %v", p.name, mc.id, err)
			}
		default:
			log.Printf("[pool] pool %s: conn %d: enlist failed, serving non-transactionally: %v", p.name, mc.id, err)
			if err := mc.physical.SetAutoCommit(ctx, true); err != nil {
				log.Printf("[pool] pool %s: conn %d: set autocommit failed: %v", p.name, mc.id, err)
			}
		}
	}

	p.mu.Lock()
	p.counters.Served++
	metrics.ConnectionsServed.WithLabelValues(p.name).Inc()
	p.updateGaugesLocked()
	p.mu.Unlock()

	return mc, nil
}

// validate applies the checkLevel policy (spec §4.1b): 0 trusts the
// connection outright, 1 checks it hasn't been reported closed, 2 also
// runs the configured test statement.
func (p *Pool) validate(ctx context.Context, mc *ManagedConnection) (bool, error) {
	switch p.cfg.CheckLevel {
	case 0:
		return true, nil
	case 1:
		return mc.isOpen(), nil
	default:
		if !mc.isOpen() {
			return false, nil
		}
		if p.cfg.TestStatement == "" {
			return true, nil
		}
		if err := mc.physical.Exec(ctx, p.cfg.TestStatement); err != nil {
			return false, err
		}
		return true, nil
	}
}

// GetConnection is the consumer-facing surface of spec §6: a facet
// whose Close returns mc to the pool rather than destroying it.
func (p *Pool) GetConnection(ctx context.Context, tx txn.Transaction) (PooledConnectionFacet, error) {
	mc, err := p.Acquire(ctx, tx)
	if err != nil {
		return nil, err
	}
	return mc.AsPooledConnection(func(m *ManagedConnection) error {
		m.notifyClose()
		return nil
	}), nil
}

// GetXAConnection returns the ManagedConnection directly for callers
// that need the XA resource/synchronization facets themselves (spec §6).
func (p *Pool) GetXAConnection(ctx context.Context, tx txn.Transaction) (*ManagedConnection, error) {
	return p.Acquire(ctx, tx)
}

// Release implements spec §4.1's release(mc, disposition) algorithm.
// It is also what Pool's connEventListener callbacks (fired by
// ManagedConnection.notifyClose/notifyError) ultimately call.
func (p *Pool) Release(mc *ManagedConnection, disposition Disposition) {
	ok := mc.release()
	if !ok {
		log.Printf("[pool] pool %s: double release of connection %d ignored", p.name, mc.id)
		return
	}

	tx := mc.boundTransaction()
	if tx != nil {
		if disposition == DispositionError && p.txMgr != nil {
			if err := p.txMgr.Delist(context.Background(), tx, mc.AsXAResource(), txn.DelistFail); err != nil {
				log.Printf("[pool] pool %s: conn %d: delist failed: %v", p.name, mc.id, err)
			}
		}
		p.mu.Lock()
		p.updateGaugesLocked()
		p.mu.Unlock()
		return
	}

	if mc.holdCountValue() != 0 {
		p.mu.Lock()
		p.updateGaugesLocked()
		p.mu.Unlock()
		return
	}

	if disposition == DispositionError {
		// spec §7: a connection that surfaced a StatementError is
		// quarantined rather than returned to the free set.
		p.destroy(mc)
		p.wakeOneWaiter()
		return
	}

	if resetter, ok := mc.Physical().(driverapi.SessionResetter); ok {
		if err := resetter.ResetSession(context.Background()); err != nil {
			log.Printf("[pool] pool %s: conn %d: session reset failed, discarding: %v", p.name, mc.id, err)
			p.destroy(mc)
			p.wakeOneWaiter()
			return
		}
	}

	p.mu.Lock()
	p.free.Insert(mc)
	p.updateGaugesLocked()
	p.mu.Unlock()
	p.wakeOneWaiter()
}

// connectionClosed implements connEventListener: the normal-path event
// fired by ManagedConnection.notifyClose().
func (p *Pool) connectionClosed(mc *ManagedConnection) {
	p.Release(mc, DispositionNormal)
}

// connectionErrorOccurred implements connEventListener: the error-path
// event fired by ManagedConnection.notifyError().
func (p *Pool) connectionErrorOccurred(mc *ManagedConnection, err error) {
	log.Printf("[pool] pool %s: connection %d reported an error: %v", p.name, mc.id, err)
	p.Release(mc, DispositionError)
}

// FreeAfterTx implements spec §4.1's freeAfterTx(tx): called once a
// transaction completes, it removes the tx→mc affinity binding and, if
// the connection isn't separately held, returns it to the free set.
func (p *Pool) FreeAfterTx(tx txn.Transaction) {
	mc, ok := p.txMap.take(tx)
	if !ok {
		return
	}
	mc.setTx(nil)

	if mc.holdCountValue() != 0 {
		return
	}

	p.mu.Lock()
	p.free.Insert(mc)
	p.updateGaugesLocked()
	p.mu.Unlock()
	p.wakeOneWaiter()
}

// wakeOneWaiter signals exactly one parked waiter, if any (spec §4.1
// "notify one waiter").
func (p *Pool) wakeOneWaiter() {
	p.mu.Lock()
	if len(p.waiters) == 0 {
		p.mu.Unlock()
		return
	}
	sig := p.waiters[0]
	p.waiters = p.waiters[1:]
	p.mu.Unlock()

	select {
	case sig <- struct{}{}:
	default:
	}
}

// removeWaiter drops sig from the waiter queue after it times out or
// its context is canceled, so a late wakeOneWaiter doesn't signal a
// channel nobody is listening on anymore.
func (p *Pool) removeWaiter(sig chan struct{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, s := range p.waiters {
		if s == sig {
			p.waiters = append(p.waiters[:i:i], p.waiters[i+1:]...)
			return
		}
	}
}

// destroy removes mc from the pool entirely and closes its physical
// connection.
func (p *Pool) destroy(mc *ManagedConnection) {
	p.mu.Lock()
	delete(p.all, mc.id)
	p.free.Remove(mc)
	p.updateGaugesLocked()
	p.mu.Unlock()
	mc.remove()
}

// updateGaugesLocked refreshes the current-snapshot gauges and folds
// the current busy count into this sampling period's high/low marks.
// Must be called with p.mu held.
func (p *Pool) updateGaugesLocked() {
	all := len(p.all)
	idle := p.free.Len()
	busy := all - idle

	metrics.ConnectionsAll.WithLabelValues(p.name).Set(float64(all))
	metrics.ConnectionsIdle.WithLabelValues(p.name).Set(float64(idle))
	metrics.ConnectionsActive.WithLabelValues(p.name).Set(float64(busy))
	metrics.CurrentWaiters.WithLabelValues(p.name).Set(float64(p.currentWaiters))

	p.sampling.recordBusy(busy)
}

// Sample rolls the running sampling counters into "recent" snapshots
// (spec §4.5). Called periodically by maintenanceLoop, and exported so
// tests and operators can trigger an out-of-band rollup.
func (p *Pool) Sample() {
	p.mu.Lock()
	defer p.mu.Unlock()
	busy := len(p.all) - p.free.Len()
	p.sampling.sample(p.name, busy)
}

// Adjust implements spec §4.1's adjust(): bounded aged-idle eviction,
// leak reclamation, shrink-to-poolMax, and grow-to-poolMin. Called
// periodically by maintenanceLoop, and exported for tests and operators
// that want to force a pass.
func (p *Pool) Adjust() {
	const maxRemoveFreelist = 10

	p.mu.Lock()
	var toDestroy []*ManagedConnection

	removedAged := 0
	for _, mc := range p.free.Snapshot() {
		if removedAged >= maxRemoveFreelist {
			break
		}
		if len(p.all)-len(toDestroy) <= p.cfg.PoolMin {
			break
		}
		if mc.isAged() {
			p.free.Remove(mc)
			toDestroy = append(toDestroy, mc)
			removedAged++
		}
	}

	var leaked []*ManagedConnection
	for _, mc := range p.all {
		if mc.inactive() {
			leaked = append(leaked, mc)
		}
	}
	for _, mc := range leaked {
		delete(p.all, mc.id)
		p.counters.ConnectionLeaks++
		metrics.ConnectionLeaks.WithLabelValues(p.name).Inc()
	}

	if !p.cfg.IsUnbounded() {
		for len(p.all)-len(toDestroy) > p.cfg.PoolMax {
			mc := p.free.TakeLowest()
			if mc == nil {
				break
			}
			toDestroy = append(toDestroy, mc)
		}
	}
	for _, mc := range toDestroy {
		delete(p.all, mc.id)
	}

	deficit := p.cfg.PoolMin - len(p.all)
	p.updateGaugesLocked()
	p.mu.Unlock()

	for _, mc := range toDestroy {
		mc.remove()
	}
	for _, mc := range leaked {
		mc.remove()
		p.wakeOneWaiter()
	}

	if deficit > 0 {
		p.growBy(deficit)
	}
}

func (p *Pool) growBy(n int) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for i := 0; i < n; i++ {
		if err := p.openIntoFree(ctx); err != nil {
			log.Printf("[pool] pool %s: grow-to-pool-min failed: %v", p.name, err)
			return
		}
		p.wakeOneWaiter()
	}
}

// CheckConnection runs sql against an idle connection (borrowed and
// returned) or, if none is idle, a scratch connection opened and
// discarded for the probe (spec §4.1's checkConnection(sql) diagnostic).
func (p *Pool) CheckConnection(ctx context.Context, sql string) error {
	p.mu.Lock()
	mc := p.free.TakeHighest()
	p.mu.Unlock()

	if mc != nil {
		err := mc.physical.Exec(ctx, sql)
		p.mu.Lock()
		p.free.Insert(mc)
		p.updateGaugesLocked()
		p.mu.Unlock()
		return err
	}

	phys, err := p.driver.Open(ctx)
	if err != nil {
		return err
	}
	defer phys.Close()
	return phys.Exec(ctx, sql)
}

// SetPoolMin updates the floor and immediately runs Adjust to grow
// toward it if needed.
func (p *Pool) SetPoolMin(n int) {
	p.mu.Lock()
	p.cfg.PoolMin = n
	p.mu.Unlock()
	p.Adjust()
}

// SetPoolMax updates the ceiling and immediately runs Adjust to shrink
// toward it if needed.
func (p *Pool) SetPoolMax(n int) {
	p.mu.Lock()
	p.cfg.PoolMax = n
	p.mu.Unlock()
	p.Adjust()
}

// Configure applies an arbitrary mutation to the pool's options under
// lock, then runs Adjust.
func (p *Pool) Configure(mutate func(*config.PoolOptions)) {
	p.mu.Lock()
	mutate(&p.cfg)
	p.mu.Unlock()
	p.Adjust()
}

// CountersSnapshot returns a copy of the pool's bookkeeping totals.
func (p *Pool) CountersSnapshot() Counters {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counters
}

// Name returns this pool's bind name.
func (p *Pool) Name() string { return p.name }

func (p *Pool) maintenanceLoop() {
	defer p.wg.Done()

	adjustTicker := time.NewTicker(30 * time.Second)
	defer adjustTicker.Stop()

	p.mu.Lock()
	samplingPeriod := p.cfg.SamplingPeriod
	p.mu.Unlock()
	if samplingPeriod <= 0 {
		samplingPeriod = 60 * time.Second
	}
	sampleTicker := time.NewTicker(samplingPeriod)
	defer sampleTicker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-adjustTicker.C:
			p.Adjust()
		case <-sampleTicker.C:
			p.Sample()
		}
	}
}

// Shutdown closes every connection the pool owns and stops its
// background maintenance loop. A Pool is not usable after Shutdown.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.stopCh)

	waiters := p.waiters
	p.waiters = nil
	all := make([]*ManagedConnection, 0, len(p.all))
	for _, mc := range p.all {
		all = append(all, mc)
	}
	p.all = make(map[uint64]*ManagedConnection)
	p.free = newFreeSet()
	p.mu.Unlock()

	for _, sig := range waiters {
		close(sig)
	}
	for _, mc := range all {
		mc.remove()
	}
	p.wg.Wait()
}
