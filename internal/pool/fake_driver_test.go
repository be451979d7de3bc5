package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tidelock/xapool/pkg/driverapi"
)

// fakeDriver is an in-memory driverapi.Driver for the pool's own tests —
// grounded on pkg/txn's FakeManager, the same "trivial in-memory
// collaborator" idiom used throughout this repo to keep internal/pool's
// tests free of an actual SQL Server dependency.
type fakeDriver struct {
	mu        sync.Mutex
	openCount int64
	failOpen  bool
	conns     []*fakeConn
}

func newFakeDriver() *fakeDriver { return &fakeDriver{} }

func (d *fakeDriver) Open(ctx context.Context) (driverapi.PhysicalConn, error) {
	d.mu.Lock()
	fail := d.failOpen
	d.mu.Unlock()
	if fail {
		return nil, errOpenFailed
	}
	atomic.AddInt64(&d.openCount, 1)
	c := &fakeConn{}
	d.mu.Lock()
	d.conns = append(d.conns, c)
	d.mu.Unlock()
	return c, nil
}

func (d *fakeDriver) openCountValue() int64 { return atomic.LoadInt64(&d.openCount) }

func (d *fakeDriver) setFailOpen(v bool) {
	d.mu.Lock()
	d.failOpen = v
	d.mu.Unlock()
}

var errOpenFailed = fakeError("fakeDriver: open failed")

type fakeError string

func (e fakeError) Error() string { return string(e) }

// fakeConn is a driverapi.PhysicalConn plus driverapi.SessionResetter,
// entirely in memory.
type fakeConn struct {
	mu         sync.Mutex
	closed     bool
	autoCommit bool
	resetCalls int
	execFail   bool
	resetFail  bool
	pingFail   bool
	statements int
}

func (c *fakeConn) SetAutoCommit(ctx context.Context, on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.autoCommit = on
	return nil
}

func (c *fakeConn) SetTransactionIsolation(ctx context.Context, level driverapi.Isolation) error {
	return nil
}

func (c *fakeConn) Commit(ctx context.Context) error   { return nil }
func (c *fakeConn) Rollback(ctx context.Context) error { return nil }

func (c *fakeConn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) Ping(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pingFail {
		return errOpenFailed
	}
	return nil
}

func (c *fakeConn) Exec(ctx context.Context, sql string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.execFail {
		return errOpenFailed
	}
	return nil
}

func (c *fakeConn) Prepare(ctx context.Context, sql string, rsType, rsConcur int) (driverapi.PhysicalStatement, error) {
	c.mu.Lock()
	c.statements++
	c.mu.Unlock()
	return &fakeStatement{}, nil
}

func (c *fakeConn) ResetSession(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetCalls++
	if c.resetFail {
		return errOpenFailed
	}
	return nil
}

func (c *fakeConn) resetCallsValue() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resetCalls
}

func (c *fakeConn) isClosedValue() bool { return c.IsClosed() }

// fakeStatement is a driverapi.PhysicalStatement entirely in memory.
type fakeStatement struct {
	mu        sync.Mutex
	closed    bool
	closeFail bool

	executes int
}

func (s *fakeStatement) Execute(ctx context.Context, args ...any) error {
	s.mu.Lock()
	s.executes++
	s.mu.Unlock()
	return nil
}
func (s *fakeStatement) AddBatch(ctx context.Context, args ...any) error { return nil }
func (s *fakeStatement) SetFetchDirection(dir int) error                { return nil }
func (s *fakeStatement) SetFetchSize(n int) error                       { return nil }
func (s *fakeStatement) SetMaxFieldSize(n int) error                    { return nil }
func (s *fakeStatement) SetMaxRows(n int) error                         { return nil }
func (s *fakeStatement) SetQueryTimeout(d time.Duration) error          { return nil }
func (s *fakeStatement) ClearParameters() error                         { return nil }
func (s *fakeStatement) ClearWarnings() error                           { return nil }

func (s *fakeStatement) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.closeFail {
		return errOpenFailed
	}
	return nil
}

func (s *fakeStatement) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
