package setutil

import "testing"

func TestAddAllDedupsAndSkipsEmpty(t *testing.T) {
	s := New()
	s.AddAll([]string{"b", "a", "", "b"})
	if got := s.Len(); got != 2 {
		t.Fatalf("Len() = %d, want 2", got)
	}
}

func TestSortedOrdersLexicographically(t *testing.T) {
	s := New()
	s.AddAll([]string{"KEGG:1", "PUBCHEM:1", "ATLAS:1"})
	got := s.Sorted()
	want := []string{"ATLAS:1", "KEGG:1", "PUBCHEM:1"}
	if !equal(got, want) {
		t.Fatalf("Sorted() = %v, want %v", got, want)
	}
}

func TestInsertionOrderPreservesFirstSeen(t *testing.T) {
	s := New()
	s.AddAll([]string{"b", "a", "c"})
	s.AddAll([]string{"a", "d"})
	got := s.InsertionOrder()
	want := []string{"b", "a", "c", "d"}
	if !equal(got, want) {
		t.Fatalf("InsertionOrder() = %v, want %v", got, want)
	}
}

func TestSortedReturnsCopyNotAlias(t *testing.T) {
	s := New()
	s.AddAll([]string{"z", "a"})
	got := s.Sorted()
	got[0] = "mutated"
	if again := s.Sorted(); again[0] == "mutated" {
		t.Fatal("Sorted() leaked its internal slice to the caller")
	}
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
