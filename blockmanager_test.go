package tbman

import (
	"testing"
	"unsafe"
)

func usableBlocksFor(poolSize, blockSize int) int {
	p := newTokenPool(poolSize, blockSize, true)
	defer p.discard()
	return p.stackSize - p.reservedBlocks
}

func TestBlockManagerGrowsAndFillsPoolsInOrder(t *testing.T) {
	bm := newBlockManager(4096, 64, true)
	defer drainBlockManager(bm)

	usable := usableBlocksFor(4096, 64)

	var ptrs []unsafe.Pointer
	for i := 0; i < usable; i++ {
		ptrs = append(ptrs, bm.allocateOne())
	}
	if len(bm.pools) != 1 {
		t.Fatalf("pools = %d, want 1 after filling the first pool exactly", len(bm.pools))
	}
	if bm.freeIndex != 1 {
		t.Fatalf("freeIndex = %d, want 1 once the sole pool is full", bm.freeIndex)
	}

	ptrs = append(ptrs, bm.allocateOne())
	if len(bm.pools) != 2 {
		t.Fatalf("pools = %d, want 2 after the first pool filled up", len(bm.pools))
	}
	if bm.freeIndex != 1 {
		t.Fatalf("freeIndex = %d, want 1: the new pool is not full yet", bm.freeIndex)
	}

	for _, p := range ptrs {
		bm.freeToEmptyOrFreeOne(p)
	}
}

// freeToEmptyOrFreeOne locates the pool owning p by linear scan (tests
// only have a handful of pools) and frees through it.
func (o *BlockManager) freeToEmptyOrFreeOne(ptr unsafe.Pointer) {
	addr := uintptr(ptr)
	for _, p := range o.pools {
		if addr >= p.baseAddr && addr-p.baseAddr < uintptr(p.poolSize) {
			p.freeOne(ptr)
			return
		}
	}
}

func drainBlockManager(bm *BlockManager) {
	for _, p := range bm.pools {
		p.discard()
	}
}

func TestBlockManagerFullToFreeSwapsToBoundary(t *testing.T) {
	bm := newBlockManager(4096, 64, true)
	defer drainBlockManager(bm)

	usable := usableBlocksFor(4096, 64)

	// Fill pool 0 completely, forcing growth into pool 1, then allocate one
	// block from pool 1 so freeIndex sits at 1 with two pools present.
	var firstPoolPtrs []unsafe.Pointer
	for i := 0; i < usable; i++ {
		firstPoolPtrs = append(firstPoolPtrs, bm.allocateOne())
	}
	secondPtr := bm.allocateOne()
	_ = secondPtr

	if bm.freeIndex != 1 || len(bm.pools) != 2 {
		t.Fatalf("freeIndex/pools = %d/%d, want 1/2", bm.freeIndex, len(bm.pools))
	}

	// Freeing a block from the now-full pool 0 must report it free again
	// and swap it to the boundary slot, which becomes the new freeIndex.
	bm.freeToEmptyOrFreeOne(firstPoolPtrs[0])
	if bm.freeIndex != 0 {
		t.Fatalf("freeIndex = %d, want 0 after freeing the only full pool's block", bm.freeIndex)
	}
}

func TestBlockManagerSweepsTrailingEmptyPools(t *testing.T) {
	bm := newBlockManager(4096, 64, true)
	defer drainBlockManager(bm)

	usable := usableBlocksFor(4096, 64)

	// Build up enough fully-allocated pools that a later mass-free leaves
	// a large empty tail relative to the pools that remain non-empty.
	var allPtrs []unsafe.Pointer
	for pool := 0; pool < 4; pool++ {
		for i := 0; i < usable; i++ {
			allPtrs = append(allPtrs, bm.allocateOne())
		}
	}
	if len(bm.pools) != 4 {
		t.Fatalf("pools = %d, want 4", len(bm.pools))
	}

	// Drain three of the four pools entirely; with only one non-empty
	// pool left, the sweep hysteresis ratio is crossed immediately.
	for _, ptr := range allPtrs[:usable*3] {
		bm.freeToEmptyOrFreeOne(ptr)
	}

	if len(bm.pools) != 1 {
		t.Fatalf("pools = %d after sweep, want 1 surviving (non-empty) pool", len(bm.pools))
	}
}
