package activeset

import (
	"testing"

	"github.com/cuemby/loom/pkg/item"
)

func TestSameValuesDifferentRefsAreDistinctTuples(t *testing.T) {
	s := New()
	a1 := item.New("db.conn", "postgres://x")
	a2 := item.New("db.conn", "postgres://x") // equal value, distinct ref

	s.Put(&Entry{FactoryID: "worker.v1", Tuple: []*item.Item{a1}})

	if s.Contains("worker.v1", []*item.Item{a2}) {
		t.Fatal("expected a tuple built from a different ref to not match an existing entry")
	}
	if !s.Contains("worker.v1", []*item.Item{a1}) {
		t.Fatal("expected the original tuple to still be found")
	}
}

func TestRemoveByFactoryAndTuple(t *testing.T) {
	s := New()
	a := item.New("config", "v1")
	s.Put(&Entry{FactoryID: "worker.v1", Tuple: []*item.Item{a}})

	s.Remove("worker.v1", []*item.Item{a})

	if s.Contains("worker.v1", []*item.Item{a}) {
		t.Fatal("expected entry to be gone after Remove")
	}
	if s.Len() != 0 {
		t.Fatalf("expected empty set, got %d entries", s.Len())
	}
}

func TestEntriesInvolvingFindsAllTuplesContainingAnItem(t *testing.T) {
	s := New()
	shared := item.New("config", "v1")
	other := item.New("config", "v2")

	s.Put(&Entry{FactoryID: "a", Tuple: []*item.Item{shared}})
	s.Put(&Entry{FactoryID: "b", Tuple: []*item.Item{shared, other}})
	s.Put(&Entry{FactoryID: "c", Tuple: []*item.Item{other}})

	got := s.EntriesInvolving(shared)
	if len(got) != 2 {
		t.Fatalf("expected 2 entries involving shared, got %d", len(got))
	}
}
