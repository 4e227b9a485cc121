// Package itemtable holds every currently-live Item, indexed by key. Like
// registry, it is plain data owned exclusively by the Injector's loop
// goroutine.
package itemtable

import "github.com/cuemby/loom/pkg/item"

// Table indexes live items by key, preserving push order within a key so
// the Matcher's Cartesian enumeration is deterministic.
type Table struct {
	byKey map[item.Key][]*item.Item
}

// New returns an empty Table.
func New() *Table {
	return &Table{byKey: make(map[item.Key][]*item.Item)}
}

// Insert adds it to the table. A no-op if it is already present (by
// identity).
func (t *Table) Insert(it *item.Item) {
	list := t.byKey[it.Key()]
	for _, existing := range list {
		if existing == it {
			return
		}
	}
	t.byKey[it.Key()] = append(list, it)
}

// Remove deletes it from the table. Reports whether it was present.
func (t *Table) Remove(it *item.Item) bool {
	list := t.byKey[it.Key()]
	for i, existing := range list {
		if existing == it {
			t.byKey[it.Key()] = append(list[:i], list[i+1:]...)
			if len(t.byKey[it.Key()]) == 0 {
				delete(t.byKey, it.Key())
			}
			return true
		}
	}
	return false
}

// Contains reports whether it is currently in the table.
func (t *Table) Contains(it *item.Item) bool {
	for _, existing := range t.byKey[it.Key()] {
		if existing == it {
			return true
		}
	}
	return false
}

// Values returns every live item under key, in push order. The returned
// slice is a defensive copy; callers may not mutate the table through it.
func (t *Table) Values(key item.Key) []*item.Item {
	list := t.byKey[key]
	if len(list) == 0 {
		return nil
	}
	out := make([]*item.Item, len(list))
	copy(out, list)
	return out
}

// Count returns the number of live items under key.
func (t *Table) Count(key item.Key) int {
	return len(t.byKey[key])
}

// Keys returns every key currently holding at least one item. Order is
// unspecified.
func (t *Table) Keys() []item.Key {
	out := make([]item.Key, 0, len(t.byKey))
	for k := range t.byKey {
		out = append(out, k)
	}
	return out
}
