package uuid

import (
	"sort"
	"testing"
)

func TestNewIDUniqueAndOrdered(t *testing.T) {
	t.Parallel()

	g := New()
	ids := make([]string, 0, 100)
	seen := make(map[string]bool, 100)
	for i := 0; i < 100; i++ {
		id, err := g.NewID()
		if err != nil {
			t.Fatal(err)
		}
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
		ids = append(ids, id)
	}
	// UUIDv7 is time-ordered, so generation order is lexicographic order.
	if !sort.StringsAreSorted(ids) {
		t.Fatal("expected ids to sort by generation order")
	}
}
