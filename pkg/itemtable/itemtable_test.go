package itemtable

import (
	"testing"

	"github.com/cuemby/loom/pkg/item"
)

func TestInsertPreservesPushOrder(t *testing.T) {
	tbl := New()
	a := item.New("worker.id", 1)
	b := item.New("worker.id", 2)
	c := item.New("worker.id", 3)

	tbl.Insert(a)
	tbl.Insert(b)
	tbl.Insert(c)

	got := tbl.Values("worker.id")
	if len(got) != 3 || got[0] != a || got[1] != b || got[2] != c {
		t.Fatalf("expected push order [a b c], got %v", got)
	}
}

func TestRemoveDeletesEmptyKey(t *testing.T) {
	tbl := New()
	a := item.New("config", "v1")
	tbl.Insert(a)

	if !tbl.Remove(a) {
		t.Fatal("expected Remove to report true for a present item")
	}
	if tbl.Count("config") != 0 {
		t.Fatalf("expected key to be empty after removing its only item")
	}
	if tbl.Remove(a) {
		t.Fatal("expected a second Remove of the same item to report false")
	}
}

func TestValuesReturnsDefensiveCopy(t *testing.T) {
	tbl := New()
	a := item.New("config", "v1")
	tbl.Insert(a)

	got := tbl.Values("config")
	got[0] = nil

	if tbl.Values("config")[0] != a {
		t.Fatal("mutating the slice returned by Values should not affect the table")
	}
}
