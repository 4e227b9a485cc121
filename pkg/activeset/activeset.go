// Package activeset tracks the Injector's active set: the currently
// running workers, keyed by which factory started them and with which
// argument tuple. Like itemtable and registry, it is plain data owned by
// the Injector's loop goroutine.
package activeset

import (
	"fmt"
	"strings"

	"github.com/cuemby/loom/pkg/host"
	"github.com/cuemby/loom/pkg/item"
)

// Entry is one running worker and the (factory, tuple) that produced it.
type Entry struct {
	FactoryID string
	Tuple     []*item.Item
	Worker    *host.Handle
}

// Set is the collection of active entries.
type Set struct {
	byKey    map[string]*Entry
	byWorker map[*host.Handle]*Entry
}

// New returns an empty Set.
func New() *Set {
	return &Set{
		byKey:    make(map[string]*Entry),
		byWorker: make(map[*host.Handle]*Entry),
	}
}

// tupleKey builds a canonical, hashable key from a tuple of item
// pointers. Items compare by identity, not value, so the key is built
// from pointer addresses rather than from (key, value) pairs.
func tupleKey(factoryID string, tuple []*item.Item) string {
	var b strings.Builder
	b.WriteString(factoryID)
	b.WriteByte(0)
	for _, it := range tuple {
		fmt.Fprintf(&b, "%p", it)
		b.WriteByte(0)
	}
	return b.String()
}

// Contains reports whether (factoryID, tuple) already has a running
// worker.
func (s *Set) Contains(factoryID string, tuple []*item.Item) bool {
	_, ok := s.byKey[tupleKey(factoryID, tuple)]
	return ok
}

// Put records a new active entry. Overwrites any existing entry for the
// same (factoryID, tuple), which should never happen in practice since
// Contains is checked first.
func (s *Set) Put(e *Entry) {
	s.byKey[tupleKey(e.FactoryID, e.Tuple)] = e
	s.byWorker[e.Worker] = e
}

// Remove deletes the entry for (factoryID, tuple), if any.
func (s *Set) Remove(factoryID string, tuple []*item.Item) {
	key := tupleKey(factoryID, tuple)
	e, ok := s.byKey[key]
	if !ok {
		return
	}
	delete(s.byKey, key)
	delete(s.byWorker, e.Worker)
}

// EntryByWorker returns the entry whose worker is handle, if any.
func (s *Set) EntryByWorker(handle *host.Handle) (*Entry, bool) {
	e, ok := s.byWorker[handle]
	return e, ok
}

// EntriesInvolving returns every active entry whose tuple contains it,
// in an unspecified order.
func (s *Set) EntriesInvolving(it *item.Item) []*Entry {
	var out []*Entry
	for _, e := range s.byKey {
		for _, member := range e.Tuple {
			if member == it {
				out = append(out, e)
				break
			}
		}
	}
	return out
}

// Len returns the number of active entries.
func (s *Set) Len() int { return len(s.byKey) }

// All returns every active entry, in an unspecified order.
func (s *Set) All() []*Entry {
	out := make([]*Entry, 0, len(s.byKey))
	for _, e := range s.byKey {
		out = append(out, e)
	}
	return out
}
