package pool

import (
	"fmt"
	"sync"

	"github.com/tidelock/xapool/internal/config"
	"github.com/tidelock/xapool/pkg/driverapi"
	"github.com/tidelock/xapool/pkg/txn"
)

// Registry binds names to live pools. It is an explicit, constructed
// value rather than package-level global state (Design Notes,
// "Singleton/global registry state") — a process can hold as many
// Registries as it wants, each independently testable. Unlike a single
// pool, a Registry isn't tied to one driver: each Bind call takes its
// own driver, so one Registry can front pools against several distinct
// databases.
type Registry struct {
	mu    sync.Mutex
	pools map[string]*Pool
	txMgr txn.TransactionManager
}

// NewRegistry constructs an empty Registry sharing one transaction
// manager across every pool it binds.
func NewRegistry(txMgr txn.TransactionManager) *Registry {
	return &Registry{
		pools: make(map[string]*Pool),
		txMgr: txMgr,
	}
}

// Bind constructs a new Pool under name against driver and registers
// it. Returns an error if name is already bound.
func (r *Registry) Bind(name string, driver driverapi.Driver, opts config.PoolOptions) (*Pool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.pools[name]; exists {
		return nil, fmt.Errorf("xapool: registry: name %q already bound", name)
	}

	p, err := newPool(name, driver, r.txMgr, opts)
	if err != nil {
		return nil, err
	}
	r.pools[name] = p
	return p, nil
}

// Unbind shuts down and removes the pool bound to name, if any.
func (r *Registry) Unbind(name string) {
	r.mu.Lock()
	p, exists := r.pools[name]
	if exists {
		delete(r.pools, name)
	}
	r.mu.Unlock()

	if exists {
		p.Shutdown()
	}
}

// Lookup returns the pool bound to name, if any.
func (r *Registry) Lookup(name string) (*Pool, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pools[name]
	return p, ok
}

// LookupOrConstruct returns the pool already bound to name, or binds a
// new one against driver from opts if none exists yet — the "ask the
// naming service first, fall back to direct construction" factory
// pattern spec §6 describes for consumer-facing pool access.
func (r *Registry) LookupOrConstruct(name string, driver driverapi.Driver, opts config.PoolOptions) (*Pool, error) {
	r.mu.Lock()
	if p, ok := r.pools[name]; ok {
		r.mu.Unlock()
		return p, nil
	}
	r.mu.Unlock()

	return r.Bind(name, driver, opts)
}

// Names returns every currently bound pool name.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.pools))
	for name := range r.pools {
		out = append(out, name)
	}
	return out
}

// ShutdownAll shuts down and unbinds every pool in the registry.
func (r *Registry) ShutdownAll() {
	r.mu.Lock()
	pools := make([]*Pool, 0, len(r.pools))
	for _, p := range r.pools {
		pools = append(pools, p)
	}
	r.pools = make(map[string]*Pool)
	r.mu.Unlock()

	for _, p := range pools {
		p.Shutdown()
	}
}
