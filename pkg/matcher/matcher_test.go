package matcher

import (
	"testing"

	"github.com/cuemby/loom/pkg/item"
	"github.com/cuemby/loom/pkg/itemtable"
)

func TestNoRequiresYieldsOneEmptyTuple(t *testing.T) {
	tbl := itemtable.New()
	got := Candidates(nil, tbl)
	if len(got) != 1 || len(got[0]) != 0 {
		t.Fatalf("expected exactly one empty tuple, got %v", got)
	}
}

func TestUnsatisfiableRequirementYieldsNoCandidates(t *testing.T) {
	tbl := itemtable.New()
	tbl.Insert(item.New("a", 1))
	got := Candidates([]item.Key{"a", "b"}, tbl)
	if got != nil {
		t.Fatalf("expected no candidates when key b has no items, got %v", got)
	}
}

func TestCartesianProductOrderIsDeterministic(t *testing.T) {
	tbl := itemtable.New()
	a1, a2 := item.New("a", 1), item.New("a", 2)
	b1, b2 := item.New("b", "x"), item.New("b", "y")
	tbl.Insert(a1)
	tbl.Insert(a2)
	tbl.Insert(b1)
	tbl.Insert(b2)

	got := Candidates([]item.Key{"a", "b"}, tbl)
	if len(got) != 4 {
		t.Fatalf("expected 4 candidate tuples, got %d", len(got))
	}
	want := [][2]*item.Item{{a1, b1}, {a1, b2}, {a2, b1}, {a2, b2}}
	for i, w := range want {
		if got[i][0] != w[0] || got[i][1] != w[1] {
			t.Fatalf("tuple %d: got (%p,%p), want (%p,%p)", i, got[i][0], got[i][1], w[0], w[1])
		}
	}
}

func TestRepeatedCallsWithUnchangedTableAreIdempotent(t *testing.T) {
	tbl := itemtable.New()
	tbl.Insert(item.New("a", 1))

	first := Candidates([]item.Key{"a"}, tbl)
	second := Candidates([]item.Key{"a"}, tbl)

	if len(first) != len(second) || first[0][0] != second[0][0] {
		t.Fatal("expected identical candidates across repeated calls with no table changes")
	}
}
