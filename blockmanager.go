package tbman

import "unsafe"

// BlockManager owns a growable set of TokenPools that all share one
// block size. Pools are kept linearly ordered by fullness state: full,
// then partially-free, then empty, with freeIndex marking the
// full/free boundary and empty pools always occupying the tail. State
// transitions arrive as upcalls from a child TokenPool and are handled
// with an O(1) swap-to-position.
type BlockManager struct {
	poolSize        int
	blockSize       int
	alignPreference bool
	sweepHysteresis float64
	aligned         bool

	pools     []*TokenPool
	freeIndex int

	parent *Manager
}

func newBlockManager(poolSize, blockSize int, alignPreference bool) *BlockManager {
	return &BlockManager{
		poolSize:        poolSize,
		blockSize:       blockSize,
		alignPreference: alignPreference,
		sweepHysteresis: 0.125,
		aligned:         true,
	}
}

// allocateOne delegates to the free_index(ed) pool, growing the pool set
// by one fresh TokenPool first if every existing pool is full.
func (o *BlockManager) allocateOne() unsafe.Pointer {
	if o.freeIndex == len(o.pools) {
		pool := newTokenPool(o.poolSize, o.blockSize, o.alignPreference)
		pool.parent = o
		pool.parentIndex = len(o.pools)
		o.pools = append(o.pools, pool)

		if o.aligned && !pool.aligned {
			o.aligned = false
			if o.parent != nil {
				o.parent.lostAlignment()
			}
		}

		if o.parent != nil && !o.parent.addressIndex.insert(pool.baseAddr, pool) {
			fail("failed registering block address")
		}
	}

	child := o.pools[o.freeIndex]
	ptr := child.allocateOne()
	if child.isFull() {
		o.freeIndex++
	}
	return ptr
}

// fullToFree is the upcall a TokenPool makes just before it stops being
// full. It is swapped with the current last full pool and freeIndex
// decrements, an O(1) update of the full/free boundary.
func (o *BlockManager) fullToFree(child *TokenPool) {
	if o.freeIndex == 0 {
		fail("block manager free_index underflowed on full->free upcall")
	}
	o.freeIndex--
	o.swap(child.parentIndex, o.freeIndex)
}

func (o *BlockManager) swap(i, j int) {
	o.pools[i], o.pools[j] = o.pools[j], o.pools[i]
	o.pools[i].parentIndex = i
	o.pools[j].parentIndex = j
}

// emptyTail reports how many pools at the end of the slice are
// currently empty.
func (o *BlockManager) emptyTail() int {
	idx := len(o.pools)
	for idx > 0 && o.pools[idx-1].isEmpty() {
		idx--
	}
	return len(o.pools) - idx
}

// freeToEmpty is the upcall a TokenPool makes the moment its last
// allocation is freed. The pool is moved into the empty tail if it
// isn't already there, then the sweep rule runs: once the empty tail
// outgrows sweepHysteresis times the non-empty count, trailing empty
// pools are discarded back to the OS.
func (o *BlockManager) freeToEmpty(child *TokenPool) {
	childIndex := child.parentIndex
	tail := o.emptyTail()

	if tail < len(o.pools) {
		swapIndex := len(o.pools) - tail - 1
		if childIndex < swapIndex {
			o.swap(childIndex, swapIndex)
			tail++
		}
	}

	nonEmpty := len(o.pools) - tail
	if float64(tail) > float64(nonEmpty)*o.sweepHysteresis {
		for len(o.pools) > 0 && o.pools[len(o.pools)-1].isEmpty() {
			last := o.pools[len(o.pools)-1]
			o.pools = o.pools[:len(o.pools)-1]
			if o.parent != nil && !o.parent.addressIndex.remove(last.baseAddr) {
				fail("failed removing block address")
			}
			last.discard()
		}
	}
}

func (o *BlockManager) totalAlloc() int {
	sum := 0
	for _, p := range o.pools {
		sum += p.totalAlloc()
	}
	return sum
}

func (o *BlockManager) totalInstances() int {
	sum := 0
	for _, p := range o.pools {
		sum += p.totalInstances()
	}
	return sum
}

func (o *BlockManager) totalSpace() int {
	sum := 0
	for _, p := range o.pools {
		sum += p.totalSpace()
	}
	return sum
}

func (o *BlockManager) forEachInstance(cb func(ptr unsafe.Pointer, size int)) {
	for _, p := range o.pools {
		p.forEachInstance(cb)
	}
}
