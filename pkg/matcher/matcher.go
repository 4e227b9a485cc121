// Package matcher computes, for a given factory and the current item
// table, the full set of dependency tuples that factory could be started
// against. It is a pure function of its inputs: the Injector decides what
// to do with the candidates (skip ones already active, start the rest).
package matcher

import "github.com/cuemby/loom/pkg/item"

// Tuple is one candidate argument tuple, in the same order as the
// factory's Requires list.
type Tuple []*item.Item

// Table is the subset of itemtable.Table the matcher needs; defined here
// so matcher doesn't import itemtable just for this one method.
type Table interface {
	Values(key item.Key) []*item.Item
}

// Candidates returns the Cartesian product of Values(k) for every key k
// in requires, in lexicographic order of index (the last key varies
// fastest). A factory with no requirements has exactly one candidate: the
// empty tuple, matching the spec's "instantiate once at registration"
// rule for singleton factories. A factory with an unsatisfiable
// requirement (no items under some required key) has no candidates.
func Candidates(requires []item.Key, table Table) []Tuple {
	if len(requires) == 0 {
		return []Tuple{{}}
	}

	seqs := make([][]*item.Item, len(requires))
	for i, k := range requires {
		seqs[i] = table.Values(k)
		if len(seqs[i]) == 0 {
			return nil
		}
	}

	var out []Tuple
	idx := make([]int, len(seqs))
	for {
		tuple := make(Tuple, len(seqs))
		for i, s := range seqs {
			tuple[i] = s[idx[i]]
		}
		out = append(out, tuple)

		pos := len(idx) - 1
		for pos >= 0 {
			idx[pos]++
			if idx[pos] < len(seqs[pos]) {
				break
			}
			idx[pos] = 0
			pos--
		}
		if pos < 0 {
			break
		}
	}
	return out
}
