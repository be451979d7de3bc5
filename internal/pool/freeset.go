package pool

import "sort"

// freeSet is an ordered collection of idle, untransacted managed
// connections, keyed by (reuseCount, id) ascending. Per the Design
// Notes redesign, ordering is a property of this container — not a
// comparator embedded in *ManagedConnection — so it is a consistent
// total order even if reuseCount ties across many connections: id is
// monotonic and unique within a pool instance, so it always breaks ties.
//
// TakeHighest (§4.1a "last element") returns the warmest connection;
// TakeLowest (§4.1 adjust()) returns the coldest.
type freeSet struct {
	items []*ManagedConnection // kept sorted ascending by (reuseCount, id)
}

func newFreeSet() *freeSet {
	return &freeSet{}
}

func (s *freeSet) Len() int { return len(s.items) }

// less implements the (reuseCount, id) lexicographic order.
func less(a, b *ManagedConnection) bool {
	if a.reuseCount != b.reuseCount {
		return a.reuseCount < b.reuseCount
	}
	return a.id < b.id
}

// Insert adds mc to the set, keeping items sorted.
func (s *freeSet) Insert(mc *ManagedConnection) {
	i := sort.Search(len(s.items), func(i int) bool { return !less(s.items[i], mc) })
	s.items = append(s.items, nil)
	copy(s.items[i+1:], s.items[i:])
	s.items[i] = mc
}

// TakeHighest removes and returns the element with the highest
// (reuseCount, id) — the warmest connection, acquired first (spec §4.1a).
func (s *freeSet) TakeHighest() *ManagedConnection {
	n := len(s.items)
	if n == 0 {
		return nil
	}
	mc := s.items[n-1]
	s.items = s.items[:n-1]
	return mc
}

// TakeLowest removes and returns the element with the lowest
// (reuseCount, id) — the coldest connection, evicted first when
// shrinking or aging out (spec §4.1 adjust()).
func (s *freeSet) TakeLowest() *ManagedConnection {
	if len(s.items) == 0 {
		return nil
	}
	mc := s.items[0]
	s.items = s.items[1:]
	return mc
}

// Remove deletes mc from the set if present, for callers that pull a
// specific member out of order (Adjust's aged-eviction pass, destroy).
func (s *freeSet) Remove(mc *ManagedConnection) bool {
	for i, item := range s.items {
		if item == mc {
			s.items = append(s.items[:i], s.items[i+1:]...)
			return true
		}
	}
	return false
}

// Snapshot returns a shallow copy of the current members, ascending.
func (s *freeSet) Snapshot() []*ManagedConnection {
	out := make([]*ManagedConnection, len(s.items))
	copy(out, s.items)
	return out
}
