package pool

import (
	"context"
	"log"
	"time"

	"github.com/tidelock/xapool/internal/metrics"
	"github.com/tidelock/xapool/pkg/driverapi"
)

// CachedStatement wraps one driver prepared statement plus the
// dirty-tracking spec §4.3 requires: any mutator call (addBatch,
// setFetchDirection, setFetchSize, setMaxFieldSize, setMaxRows,
// setQueryTimeout) or an execute marks it dirty, and reuse() resets
// those five properties to their driver defaults.
//
// The cache is keyed by SQL text alone, yet equality also considers
// rsType/rsConcur (spec §9, accepted approximation): a lookup by SQL
// text can return an entry whose result-set type/concurrency differ
// from what the caller asked for. This repository keeps that behavior
// rather than "fixing" it, per spec §9's explicit instruction to
// document and preserve it.
type CachedStatement struct {
	sql      string
	rsType   int
	rsConcur int

	physical driverapi.PhysicalStatement
	opened   bool
	dirty    bool

	owner *ManagedConnection
	cache *statementCache // nil when caching is disabled (pstmtMax=0)
}

// SQL returns the original query text.
func (s *CachedStatement) SQL() string { return s.sql }

// Opened reports whether this entry is currently checked out to a caller.
func (s *CachedStatement) Opened() bool { return s.opened }

// Physical returns the underlying driver statement handle.
func (s *CachedStatement) Physical() driverapi.PhysicalStatement { return s.physical }

func (s *CachedStatement) markDirty() { s.dirty = true }

// Execute runs the statement and marks it dirty (spec §4.3).
func (s *CachedStatement) Execute(ctx context.Context, args ...any) error {
	s.markDirty()
	return s.physical.Execute(ctx, args...)
}

// AddBatch queues a batched execution and marks the statement dirty.
func (s *CachedStatement) AddBatch(ctx context.Context, args ...any) error {
	s.markDirty()
	return s.physical.AddBatch(ctx, args...)
}

func (s *CachedStatement) SetFetchDirection(dir int) error {
	s.markDirty()
	return s.physical.SetFetchDirection(dir)
}

func (s *CachedStatement) SetFetchSize(n int) error {
	s.markDirty()
	return s.physical.SetFetchSize(n)
}

func (s *CachedStatement) SetMaxFieldSize(n int) error {
	s.markDirty()
	return s.physical.SetMaxFieldSize(n)
}

func (s *CachedStatement) SetMaxRows(n int) error {
	s.markDirty()
	return s.physical.SetMaxRows(n)
}

func (s *CachedStatement) SetQueryTimeout(d time.Duration) error {
	s.markDirty()
	return s.physical.SetQueryTimeout(d)
}

func (s *CachedStatement) ClearParameters() error { return s.physical.ClearParameters() }

func (s *CachedStatement) ClearWarnings() error { return s.physical.ClearWarnings() }

// Close returns this entry to its cache as an eviction candidate rather
// than physically closing the driver statement — the cache decides when
// a closed entry is actually torn down (spec §4.3). When caching is
// disabled (cache is nil) there is nothing to return to, so this closes
// the driver statement directly.
func (s *CachedStatement) Close() error {
	if s.cache == nil {
		return s.physical.Close()
	}
	s.cache.notifyStatementClosed(s)
	return nil
}

// reuse clears parameters/warnings and, if dirty, resets fetch
// direction/size, max field size, max rows, and query timeout to their
// driver defaults (spec §4.3).
func (s *CachedStatement) reuse() error {
	if err := s.physical.ClearParameters(); err != nil {
		return err
	}
	if err := s.physical.ClearWarnings(); err != nil {
		return err
	}
	if s.dirty {
		if err := s.physical.SetFetchDirection(driverapi.FetchForward); err != nil {
			return err
		}
		if err := s.physical.SetFetchSize(driverapi.DefaultFetchSize); err != nil {
			return err
		}
		if err := s.physical.SetMaxFieldSize(driverapi.DefaultMaxField); err != nil {
			return err
		}
		if err := s.physical.SetMaxRows(driverapi.DefaultMaxRows); err != nil {
			return err
		}
		if err := s.physical.SetQueryTimeout(driverapi.DefaultQueryTimeout); err != nil {
			return err
		}
		s.dirty = false
	}
	s.opened = true
	return nil
}

// statementCache is the bounded, per-connection prepared-statement
// cache of spec §4.3. order tracks insertion order explicitly (a plain
// map has no stable iteration order in Go) so eviction can scan "in
// iteration order" as the spec requires.
type statementCache struct {
	owner    *ManagedConnection
	max      int
	bySQL    map[string]*CachedStatement
	order    []*CachedStatement
}

func newStatementCache(owner *ManagedConnection, max int) *statementCache {
	return &statementCache{
		owner: owner,
		max:   max,
		bySQL: make(map[string]*CachedStatement),
	}
}

// prepare looks up sql (result-set type/concurrency participate in
// equality but the index is SQL-keyed, spec §4.3/§9). On a hit it
// reuses the cached entry; on a miss it prepares a fresh driver
// statement and inserts it (unless caching is disabled by pstmtMax=0).
func (c *statementCache) prepare(ctx context.Context, phys driverapi.PhysicalConn, sql string, rsType, rsConcur int) (*CachedStatement, error) {
	if c.max == 0 {
		ps, err := phys.Prepare(ctx, sql, rsType, rsConcur)
		if err != nil {
			return nil, err
		}
		return &CachedStatement{sql: sql, rsType: rsType, rsConcur: rsConcur, physical: ps, opened: true, owner: c.owner}, nil
	}

	if entry, ok := c.bySQL[sql]; ok {
		if entry.opened {
			log.Printf("[pstmt] conn %d: statement %q reused while still marked open (double-use)", c.owner.id, sql)
		}
		if err := entry.reuse(); err != nil {
			return nil, err
		}
		c.owner.bumpReuse()
		metrics.StatementsReused.WithLabelValues(c.owner.poolName).Inc()
		return entry, nil
	}

	ps, err := phys.Prepare(ctx, sql, rsType, rsConcur)
	if err != nil {
		return nil, err
	}
	entry := &CachedStatement{sql: sql, rsType: rsType, rsConcur: rsConcur, physical: ps, opened: true, owner: c.owner, cache: c}
	c.bySQL[sql] = entry
	c.order = append(c.order, entry)
	return entry, nil
}

// notifyStatementClosed marks s closed and, if the cache is at or above
// its bound, evicts the first closed entry found in iteration order
// (spec §4.3 — "LRU-ish but only ever evicts closed entries").
func (c *statementCache) notifyStatementClosed(s *CachedStatement) {
	s.opened = false

	if c.max == 0 || len(c.order) < c.max {
		return
	}

	for i, entry := range c.order {
		if !entry.opened {
			entry.physical.Close()
			delete(c.bySQL, entry.sql)
			c.order = append(c.order[:i:i], c.order[i+1:]...)
			metrics.StatementsEvicted.WithLabelValues(c.owner.poolName).Inc()
			return
		}
	}
}

// closeAll force-closes every still-open statement, warning for any
// that were still marked open (spec §4.2 notifyClose()).
func (c *statementCache) closeAll() {
	for _, entry := range c.order {
		if entry.opened {
			log.Printf("[pstmt] conn %d: statement %q still open at connection close", c.owner.id, entry.sql)
		}
		entry.physical.Close()
	}
	c.order = nil
	c.bySQL = make(map[string]*CachedStatement)
}

// size returns the number of entries currently tracked, used by tests
// to assert the bound in spec §8 scenario 5.
func (c *statementCache) size() int { return len(c.order) }
