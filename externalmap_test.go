package tbman

import "testing"

func TestExternalMapBasics(t *testing.T) {
	m := newExternalMap()

	if !m.insert(10, 1000) {
		t.Fatal("insert at a fresh address should succeed")
	}
	if m.insert(10, 2000) {
		t.Fatal("duplicate insert should fail")
	}
	if !m.insert(20, 500) {
		t.Fatal("insert at a second address should succeed")
	}

	if got, ok := m.lookup(10); !ok || got != 1000 {
		t.Fatalf("lookup(10) = (%d, %v), want (1000, true)", got, ok)
	}
	if _, ok := m.lookup(999); ok {
		t.Fatal("lookup of an absent address should fail")
	}

	if got := m.sum(); got != 1500 {
		t.Fatalf("sum() = %d, want 1500", got)
	}
	if got := m.count(); got != 2 {
		t.Fatalf("count() = %d, want 2", got)
	}

	var seen []uintptr
	m.run(func(addr uintptr, size uintptr) {
		seen = append(seen, addr)
	})
	if len(seen) != 2 || seen[0] != 10 || seen[1] != 20 {
		t.Fatalf("run() visited %v in the wrong order", seen)
	}

	if !m.remove(10) {
		t.Fatal("remove of a present address should succeed")
	}
	if m.remove(10) {
		t.Fatal("remove of an absent address should fail")
	}
	if got := m.sum(); got != 500 {
		t.Fatalf("sum() after remove = %d, want 500", got)
	}
}
