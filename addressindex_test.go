package tbman

import "testing"

func TestAddressIndexInsertRemove(t *testing.T) {
	idx := newAddressIndex()
	p := &TokenPool{}

	if !idx.insert(100, p) {
		t.Fatal("first insert at a fresh address should succeed")
	}
	if idx.insert(100, p) {
		t.Fatal("duplicate insert at the same address should fail")
	}
	if idx.count() != 1 {
		t.Fatalf("count = %d, want 1", idx.count())
	}
	if !idx.remove(100) {
		t.Fatal("remove of a present address should succeed")
	}
	if idx.remove(100) {
		t.Fatal("remove of an absent address should fail")
	}
	if idx.count() != 0 {
		t.Fatalf("count = %d, want 0", idx.count())
	}
}

func TestAddressIndexFloor(t *testing.T) {
	idx := newAddressIndex()
	p1 := &TokenPool{}
	p2 := &TokenPool{}
	p3 := &TokenPool{}

	idx.insert(100, p1)
	idx.insert(200, p2)
	idx.insert(300, p3)

	tests := []struct {
		addr uintptr
		want *TokenPool
		ok   bool
	}{
		{50, nil, false},
		{100, p1, true},
		{150, p1, true},
		{200, p2, true},
		{250, p2, true},
		{300, p3, true},
		{999, p3, true},
	}

	for _, tt := range tests {
		got, ok := idx.floor(tt.addr)
		if ok != tt.ok || got != tt.want {
			t.Errorf("floor(%d) = (%v, %v), want (%v, %v)", tt.addr, got, ok, tt.want, tt.ok)
		}
	}
}
