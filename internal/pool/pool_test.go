package pool

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidelock/xapool/pkg/txn"
)

func mustNewPool(t *testing.T, driver *fakeDriver, opts ...func(*testing.T)) *Pool {
	t.Helper()
	cfg := testOptions()
	txMgr := txn.NewFakeManager()
	p, err := newPool("testpool", driver, txMgr, cfg)
	require.NoError(t, err)
	t.Cleanup(p.Shutdown)
	return p
}

func TestAcquireReleaseRoundTrip(t *testing.T) {
	driver := newFakeDriver()
	p := mustNewPool(t, driver)

	ctx := context.Background()
	mc, err := p.Acquire(ctx, nil)
	require.NoError(t, err)
	require.NotNil(t, mc)

	assert.Equal(t, 0, p.free.Len()) // free set untouched until release
	p.Release(mc, DispositionNormal)

	assert.Equal(t, 1, p.free.Len())
	assert.Equal(t, uint64(1), p.CountersSnapshot().Served)
}

// Scenario: pool_min warms connections eagerly at construction.
func TestPoolWarmsToMin(t *testing.T) {
	driver := newFakeDriver()
	p := mustNewPool(t, driver)
	assert.Equal(t, int64(1), driver.openCountValue())
	assert.Equal(t, 1, p.free.Len())
}

// Scenario: pool_min warm-up must not count toward opened, since spec
// §8 requires opened <= served always and warming happens before any
// caller has been served.
func TestOpenedNeverExceedsServed(t *testing.T) {
	driver := newFakeDriver()
	p := mustNewPool(t, driver)

	counters := p.CountersSnapshot()
	assert.Equal(t, uint64(0), counters.Opened)
	assert.LessOrEqual(t, counters.Opened, counters.Served)

	ctx := context.Background()
	mc, err := p.Acquire(ctx, nil)
	require.NoError(t, err)

	// Satisfied from the warmed free set: still no on-demand open.
	counters = p.CountersSnapshot()
	assert.Equal(t, uint64(0), counters.Opened)
	assert.Equal(t, uint64(1), counters.Served)
	assert.LessOrEqual(t, counters.Opened, counters.Served)

	mc2, err := p.Acquire(ctx, nil)
	require.NoError(t, err)

	// Pool is at pool_min (1) with nothing free: this expands on demand.
	counters = p.CountersSnapshot()
	assert.Equal(t, uint64(1), counters.Opened)
	assert.Equal(t, uint64(2), counters.Served)
	assert.LessOrEqual(t, counters.Opened, counters.Served)

	p.Release(mc, DispositionNormal)
	p.Release(mc2, DispositionNormal)
}

// Scenario: acquire expands the pool past pool_min up to pool_max.
func TestAcquireExpandsUpToMax(t *testing.T) {
	driver := newFakeDriver()
	p := mustNewPool(t, driver)
	ctx := context.Background()

	var mcs []*ManagedConnection
	for i := 0; i < 3; i++ {
		mc, err := p.Acquire(ctx, nil)
		require.NoError(t, err)
		mcs = append(mcs, mc)
	}
	assert.Equal(t, int64(3), driver.openCountValue())

	// Pool is at pool_max (3) and has no free connections: a further
	// acquire parks as a waiter and times out once its 200ms
	// waiter-timeout budget is spent.
	_, err := p.Acquire(ctx, nil)
	require.Error(t, err)
	assert.True(t, IsTimeout(err) || IsPoolFull(err))

	for _, mc := range mcs {
		p.Release(mc, DispositionNormal)
	}
}

// Scenario: a waiter is woken once a connection is released.
func TestWaiterWokenOnRelease(t *testing.T) {
	driver := newFakeDriver()
	p := mustNewPool(t, driver)
	ctx := context.Background()

	var mcs []*ManagedConnection
	for i := 0; i < 3; i++ {
		mc, err := p.Acquire(ctx, nil)
		require.NoError(t, err)
		mcs = append(mcs, mc)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	var waiterErr error
	var waiterMC *ManagedConnection
	go func() {
		defer wg.Done()
		waiterMC, waiterErr = p.Acquire(context.Background(), nil)
	}()

	time.Sleep(20 * time.Millisecond)
	p.Release(mcs[0], DispositionNormal)

	wg.Wait()
	require.NoError(t, waiterErr)
	require.NotNil(t, waiterMC)

	p.Release(waiterMC, DispositionNormal)
	p.Release(mcs[1], DispositionNormal)
	p.Release(mcs[2], DispositionNormal)
}

// Scenario: pool full with no waiter budget rejects immediately.
func TestAcquireRejectedWhenWaitersFull(t *testing.T) {
	driver := newFakeDriver()
	cfg := testOptions()
	cfg.PoolMax = 1
	cfg.MaxWaiters = 0
	txMgr := txn.NewFakeManager()
	p, err := newPool("full", driver, txMgr, cfg)
	require.NoError(t, err)
	defer p.Shutdown()

	ctx := context.Background()
	mc, err := p.Acquire(ctx, nil)
	require.NoError(t, err)

	_, err = p.Acquire(ctx, nil)
	require.Error(t, err)
	assert.True(t, IsPoolFull(err))

	p.Release(mc, DispositionNormal)
}

// Scenario: acquiring within the same transaction yields the same
// ManagedConnection every time (affinity fast path).
func TestAcquireWithTransactionAffinity(t *testing.T) {
	driver := newFakeDriver()
	p := mustNewPool(t, driver)
	tx := txn.NewFakeTxn("tx-1")
	ctx := context.Background()

	mc1, err := p.Acquire(ctx, tx)
	require.NoError(t, err)
	mc2, err := p.Acquire(ctx, tx)
	require.NoError(t, err)

	assert.Same(t, mc1, mc2)
	assert.Equal(t, 2, mc1.holdCountValue())

	p.Release(mc1, DispositionNormal)
	p.Release(mc2, DispositionNormal)
	// Still tx-bound: neither release should return mc to the free set.
	assert.Equal(t, 0, p.free.Len())
}

// Scenario: completing the transaction frees the affinity-bound
// connection back to the free set.
func TestFreeAfterTxReturnsConnection(t *testing.T) {
	driver := newFakeDriver()
	txMgr := txn.NewFakeManager()
	cfg := testOptions()
	p, err := newPool("txpool", driver, txMgr, cfg)
	require.NoError(t, err)
	defer p.Shutdown()

	tx := txn.NewFakeTxn("tx-1")
	ctx := context.Background()

	mc, err := p.Acquire(ctx, tx)
	require.NoError(t, err)
	p.Release(mc, DispositionNormal)

	assert.Equal(t, 0, p.free.Len())
	txMgr.Complete(tx, txn.StatusCommitted)
	assert.Equal(t, 1, p.free.Len())
}

// Scenario: a transaction marked rollback-only still hands back a
// connection bound to tx (spec §4.4 recoverable failure).
func TestAcquireWithMarkedRollbackTransaction(t *testing.T) {
	driver := newFakeDriver()
	txMgr := txn.NewFakeManager()
	cfg := testOptions()
	p, err := newPool("txpool2", driver, txMgr, cfg)
	require.NoError(t, err)
	defer p.Shutdown()

	tx := txn.NewFakeTxn("tx-rollback")
	txMgr.MarkRollbackOnly(tx)

	mc, err := p.Acquire(context.Background(), tx)
	require.NoError(t, err)
	require.NotNil(t, mc)
	assert.Equal(t, tx, mc.boundTransaction())
}

// Scenario: release with disposition=error on an idle, untransacted
// connection destroys it instead of returning it to the free set.
func TestReleaseErrorDispositionDestroysConnection(t *testing.T) {
	driver := newFakeDriver()
	p := mustNewPool(t, driver)
	ctx := context.Background()

	mc, err := p.Acquire(ctx, nil)
	require.NoError(t, err)
	id := mc.ID()

	p.Release(mc, DispositionError)

	assert.Equal(t, 0, p.free.Len())
	p.mu.Lock()
	_, stillTracked := p.all[id]
	p.mu.Unlock()
	assert.False(t, stillTracked)
}

// Scenario: a session reset failure on release discards the connection
// rather than returning it to the free set.
func TestReleaseSessionResetFailureDiscards(t *testing.T) {
	driver := newFakeDriver()
	p := mustNewPool(t, driver)
	ctx := context.Background()

	mc, err := p.Acquire(ctx, nil)
	require.NoError(t, err)

	fc := mc.Physical().(*fakeConn)
	fc.mu.Lock()
	fc.resetFail = true
	fc.mu.Unlock()

	p.Release(mc, DispositionNormal)

	assert.Equal(t, 0, p.free.Len())
	assert.True(t, fc.isClosedValue())
}

// Scenario: a normal release calls SessionResetter.ResetSession exactly
// once before the connection rejoins the free set.
func TestReleaseCallsSessionResetter(t *testing.T) {
	driver := newFakeDriver()
	p := mustNewPool(t, driver)
	ctx := context.Background()

	mc, err := p.Acquire(ctx, nil)
	require.NoError(t, err)
	fc := mc.Physical().(*fakeConn)

	p.Release(mc, DispositionNormal)

	assert.Equal(t, 1, fc.resetCallsValue())
	assert.Equal(t, 1, p.free.Len())
}

// Scenario: checkLevel=2 validation runs the configured test statement
// and discards a connection that fails it.
func TestAcquireValidationFailureDestroysAndRetries(t *testing.T) {
	driver := newFakeDriver()
	cfg := testOptions()
	cfg.CheckLevel = 2
	cfg.TestStatement = "SELECT 1"
	txMgr := txn.NewFakeManager()
	p, err := newPool("validated", driver, txMgr, cfg)
	require.NoError(t, err)
	defer p.Shutdown()

	// Poison the one warmed connection so the first validation fails.
	p.mu.Lock()
	for _, mc := range p.all {
		mc.Physical().(*fakeConn).mu.Lock()
		mc.Physical().(*fakeConn).execFail = true
		mc.Physical().(*fakeConn).mu.Unlock()
	}
	p.mu.Unlock()

	mc, err := p.Acquire(context.Background(), nil)
	require.NoError(t, err)
	require.NotNil(t, mc)

	// The poisoned connection should have been discarded, and a fresh
	// one opened to satisfy this acquire.
	assert.Equal(t, int64(2), driver.openCountValue())
	assert.Equal(t, uint64(1), p.CountersSnapshot().ValidationFailures)

	p.Release(mc, DispositionNormal)
}

// Scenario: Adjust grows the pool back toward pool_min after a leaked
// connection is reclaimed.
func TestAdjustReclaimsLeakedConnection(t *testing.T) {
	driver := newFakeDriver()
	cfg := testOptions()
	cfg.MaxOpenTime = time.Millisecond
	txMgr := txn.NewFakeManager()
	p, err := newPool("leaky", driver, txMgr, cfg)
	require.NoError(t, err)
	defer p.Shutdown()

	mc, err := p.Acquire(context.Background(), nil)
	require.NoError(t, err)
	_ = mc // never released: simulates a caller leak

	time.Sleep(5 * time.Millisecond)
	p.Adjust()

	assert.Equal(t, uint64(1), p.CountersSnapshot().ConnectionLeaks)
	assert.Equal(t, 1, p.free.Len()) // grown back to pool_min
}

// Scenario: Adjust evicts aged-out idle connections, bounded by the
// MAX_REMOVE_FREELIST cap per pass.
func TestAdjustEvictsAgedConnectionsBounded(t *testing.T) {
	driver := newFakeDriver()
	cfg := testOptions()
	cfg.PoolMin = 0
	cfg.PoolMax = 20
	cfg.MaxAge = time.Millisecond
	txMgr := txn.NewFakeManager()
	p, err := newPool("aging", driver, txMgr, cfg)
	require.NoError(t, err)
	defer p.Shutdown()

	ctx := context.Background()
	var mcs []*ManagedConnection
	for i := 0; i < 15; i++ {
		mc, err := p.Acquire(ctx, nil)
		require.NoError(t, err)
		mcs = append(mcs, mc)
	}
	for _, mc := range mcs {
		p.Release(mc, DispositionNormal)
	}
	assert.Equal(t, 15, p.free.Len())

	time.Sleep(5 * time.Millisecond)
	p.Adjust()

	// At most 10 aged connections removed in one pass.
	assert.Equal(t, 5, p.free.Len())
}

// Scenario: CheckConnection borrows and returns an idle connection
// without disturbing the free set's size.
func TestCheckConnectionUsesIdleConnection(t *testing.T) {
	driver := newFakeDriver()
	p := mustNewPool(t, driver)

	before := p.free.Len()
	err := p.CheckConnection(context.Background(), "SELECT 1")
	require.NoError(t, err)
	assert.Equal(t, before, p.free.Len())
}

// Scenario: a double release is ignored rather than corrupting the
// free set or hold count.
func TestDoubleReleaseIgnored(t *testing.T) {
	driver := newFakeDriver()
	p := mustNewPool(t, driver)
	ctx := context.Background()

	mc, err := p.Acquire(ctx, nil)
	require.NoError(t, err)

	p.Release(mc, DispositionNormal)
	assert.Equal(t, 1, p.free.Len())

	p.Release(mc, DispositionNormal)
	assert.Equal(t, 1, p.free.Len())
}
