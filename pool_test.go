package tbman

import (
	"testing"
	"unsafe"
)

func TestNewTokenPoolLayout(t *testing.T) {
	p := newTokenPool(4096, 64, true)
	defer p.discard()

	if p.poolSize != 4096 || p.blockSize != 64 {
		t.Fatalf("pool_size/block_size = %d/%d, want 4096/64", p.poolSize, p.blockSize)
	}
	if p.stackSize != 64 {
		t.Fatalf("stack_size = %d, want 64", p.stackSize)
	}
	if p.reservedBlocks <= 0 || p.reservedBlocks >= p.stackSize {
		t.Fatalf("reservedBlocks = %d out of range [1, %d)", p.reservedBlocks, p.stackSize)
	}
	if p.isFull() {
		t.Fatal("a freshly created pool should not be full")
	}
	if !p.isEmpty() {
		t.Fatal("a freshly created pool should be empty")
	}
}

func TestTokenPoolAllocFreeRoundTrip(t *testing.T) {
	p := newTokenPool(4096, 64, true)
	defer p.discard()

	usable := p.stackSize - p.reservedBlocks
	ptrs := make([]unsafe.Pointer, 0, usable)

	for i := 0; i < usable; i++ {
		if p.isFull() {
			t.Fatalf("pool reported full after only %d allocations, want %d", i, usable)
		}
		ptrs = append(ptrs, p.allocateOne())
	}
	if !p.isFull() {
		t.Fatal("pool should be full after exhausting every usable block")
	}

	for _, ptr := range ptrs {
		addr := uintptr(ptr)
		if addr < p.baseAddr || addr-p.baseAddr >= uintptr(p.poolSize) {
			t.Fatalf("allocated address %x lies outside the pool", addr)
		}
		if addr-p.baseAddr < uintptr(tokenPoolHeaderSize+2*p.stackSize) {
			t.Fatalf("allocated address %x lies inside the reserved prefix", addr)
		}
	}

	seen := make(map[unsafe.Pointer]bool)
	for _, ptr := range ptrs {
		if seen[ptr] {
			t.Fatalf("address %p handed out twice", ptr)
		}
		seen[ptr] = true
	}

	for _, ptr := range ptrs {
		p.freeOne(ptr)
	}
	if !p.isEmpty() {
		t.Fatal("pool should be empty after freeing every allocation")
	}
}

func TestTokenPoolFreeUnfreezesFull(t *testing.T) {
	p := newTokenPool(4096, 64, true)
	defer p.discard()

	usable := p.stackSize - p.reservedBlocks
	var ptrs []unsafe.Pointer
	for i := 0; i < usable; i++ {
		ptrs = append(ptrs, p.allocateOne())
	}
	if !p.isFull() {
		t.Fatal("pool should be full")
	}

	p.freeOne(ptrs[0])
	if p.isFull() {
		t.Fatal("pool should no longer be full after one free")
	}

	reused := p.allocateOne()
	if reused != ptrs[0] {
		t.Fatalf("LIFO token stack should hand back the just-freed block first: got %p, want %p", reused, ptrs[0])
	}
}

func TestTokenPoolSelfPointerFastLookup(t *testing.T) {
	p := newTokenPool(4096, 64, true)
	defer p.discard()

	got := selfPointerAt(p.baseAddr)
	if got != p {
		t.Fatalf("selfPointerAt(baseAddr) = %p, want %p", got, p)
	}
}
