package txn

import (
	"context"
	"fmt"
	"sync"
)

// FakeTxn is a trivial Transaction used by tests and the in-memory fake
// manager below.
type FakeTxn struct{ id string }

func NewFakeTxn(id string) *FakeTxn { return &FakeTxn{id: id} }

func (t *FakeTxn) ID() string { return t.id }

// FakeManager is an in-memory TransactionManager for exercising the pool
// core without a real distributed-transaction product. It supports
// marking a transaction rollback-only or completed, to drive the two
// recoverable enlistment failure modes in spec §4.4.
type FakeManager struct {
	mu          sync.Mutex
	enlisted    map[Transaction][]Resource
	completions map[Transaction][]CompletionCallback
	rollbackOnly map[Transaction]bool
	completed    map[Transaction]Status
	current      Transaction
}

func NewFakeManager() *FakeManager {
	return &FakeManager{
		enlisted:     make(map[Transaction][]Resource),
		completions:  make(map[Transaction][]CompletionCallback),
		rollbackOnly: make(map[Transaction]bool),
		completed:    make(map[Transaction]Status),
	}
}

// SetCurrent sets the ambient transaction returned by CurrentTransaction.
func (m *FakeManager) SetCurrent(tx Transaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = tx
}

func (m *FakeManager) CurrentTransaction(ctx context.Context) (Transaction, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil, false
	}
	return m.current, true
}

// MarkRollbackOnly simulates a transaction marked for rollback: the next
// Enlist call on it fails with ErrMarkedRollback.
func (m *FakeManager) MarkRollbackOnly(tx Transaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollbackOnly[tx] = true
}

func (m *FakeManager) Enlist(ctx context.Context, tx Transaction, resource Resource) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, done := m.completed[tx]; done {
		return ErrAlreadyCompleted
	}
	if m.rollbackOnly[tx] {
		return ErrMarkedRollback
	}
	m.enlisted[tx] = append(m.enlisted[tx], resource)
	return nil
}

func (m *FakeManager) Delist(ctx context.Context, tx Transaction, resource Resource, flag DelistFlag) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rs := m.enlisted[tx]
	for i, r := range rs {
		if r.IsSameRM(resource) {
			m.enlisted[tx] = append(rs[:i], rs[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("txn: resource not enlisted in %s", tx.ID())
}

func (m *FakeManager) RegisterCompletion(ctx context.Context, tx Transaction, cb CompletionCallback) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if status, done := m.completed[tx]; done {
		m.mu.Unlock()
		cb(status)
		m.mu.Lock()
		return nil
	}
	m.completions[tx] = append(m.completions[tx], cb)
	return nil
}

// Complete finishes tx with the given status, firing every registered
// completion callback synchronously (spec §5: "Event listeners are
// invoked synchronously from the firing thread").
func (m *FakeManager) Complete(tx Transaction, status Status) {
	m.mu.Lock()
	cbs := m.completions[tx]
	delete(m.completions, tx)
	m.completed[tx] = status
	m.mu.Unlock()

	for _, cb := range cbs {
		cb(status)
	}
}
