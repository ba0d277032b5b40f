package tbman

import "unsafe"

// poolHeaderLayout exists only to compute the reserved-prefix size with
// unsafe.Sizeof; its fields are never read back as a struct. The first
// field occupies the region's first pointer-sized slot and is where a
// TokenPool writes a raw, GC-invisible pointer back to itself (see
// setSelfPointer/selfPointerAt below) so the fast address->pool path can
// recover a real *TokenPool in O(1) without walking the address index.
type poolHeaderLayout struct {
	self       unsafe.Pointer
	poolSize   uintptr
	blockSize  uintptr
	stackSize  uint16
	stackIndex uint16
	aligned    uint8
}

var tokenPoolHeaderSize = roundUp(int(unsafe.Sizeof(poolHeaderLayout{})), 8)

// TokenPool is one contiguous, equal-block-sized region of memory. Free
// blocks are tracked by a LIFO stack of 16-bit tokens that lives inside
// the region itself, immediately after the small self-pointer header.
//
// Invariants:
//
//	stackIndex is the number of live allocations; tokenStack[0:stackIndex)
//	is the consumed part of the stack and, once blocks are freed out of
//	order, does not list the live tokens exactly.
//	tokenStack[stackIndex:N) are free tokens, terminated by a 0
//	sentinel at position stackIndex when none remain. Every token in
//	the free region is distinct and lies in [reservedBlocks, N).
//	isFull() iff tokenStack[stackIndex] == 0; isEmpty() iff
//	stackIndex == 0. The pool owns region; discard() frees it with one
//	OS call.
type TokenPool struct {
	poolSize       int
	blockSize      int
	stackSize      int
	stackIndex     int
	reservedBlocks int
	baseAddr       uintptr
	aligned        bool
	region         []byte
	tokenStack     []uint16

	parent      *BlockManager
	parentIndex int
}

// newTokenPool allocates one pool region of poolSize bytes holding
// blocks of blockSize bytes each. Configuration problems and OS
// allocation failure are fatal: there is no recoverable path for a pool
// that cannot be constructed correctly.
func newTokenPool(poolSize, blockSize int, alignPreference bool) *TokenPool {
	if !isPowerOfTwo(poolSize) {
		fail("pool_size %d is not a power of two", poolSize)
	}
	stackSize := poolSize / blockSize
	if stackSize > 0x10000 {
		fail("stack_size %d exceeds 65536", stackSize)
	}

	reservedBytes := tokenPoolHeaderSize + 2*stackSize
	reservedBlocks := reservedBytes / blockSize
	if reservedBytes%blockSize != 0 {
		reservedBlocks++
	}
	if stackSize <= reservedBlocks {
		fail("pool_size %d is too small to hold its own header for block_size %d", poolSize, blockSize)
	}

	align := poolSize
	if !alignPreference {
		align = minOSAlign
	}
	region, err := osAllocRegion(poolSize, align)
	if err != nil {
		fail("failed allocating %d bytes: %v", poolSize, err)
	}

	p := &TokenPool{
		poolSize:       poolSize,
		blockSize:      blockSize,
		stackSize:      stackSize,
		reservedBlocks: reservedBlocks,
		region:         region,
	}
	p.baseAddr = uintptr(unsafe.Pointer(&region[0]))
	p.aligned = p.baseAddr&(uintptr(poolSize)-1) == 0
	p.setSelfPointer()

	p.tokenStack = unsafe.Slice((*uint16)(unsafe.Pointer(&region[tokenPoolHeaderSize])), stackSize)
	for i := 0; i < stackSize; i++ {
		if i+reservedBlocks < stackSize {
			p.tokenStack[i] = uint16(i + reservedBlocks)
		} else {
			p.tokenStack[i] = 0
		}
	}
	return p
}

// setSelfPointer writes a raw, unmanaged pointer back to p into the
// first word of its own region, so the region carries enough to find
// the owning struct again. It is safe despite being invisible to the
// garbage collector because p is always kept alive independently, by
// its parent BlockManager's pools slice and the top-level address index.
func (p *TokenPool) setSelfPointer() {
	*(*unsafe.Pointer)(unsafe.Pointer(&p.region[0])) = unsafe.Pointer(p)
}

// selfPointerAt reads back a *TokenPool written by setSelfPointer, given
// the address a caller believes is a pool's base address. It is only
// ever used as a hint by the fast bitmask path in Manager — callers must
// still validate the bounds of the returned pool (see resolveTokenPool).
func selfPointerAt(addr uintptr) *TokenPool {
	if addr == 0 {
		return nil
	}
	return (*TokenPool)(*(*unsafe.Pointer)(unsafe.Pointer(addr)))
}

func (p *TokenPool) isFull() bool  { return p.tokenStack[p.stackIndex] == 0 }
func (p *TokenPool) isEmpty() bool { return p.stackIndex == 0 }

// allocateOne hands out the block for the top-of-stack token. Precondition:
// !p.isFull().
func (p *TokenPool) allocateOne() unsafe.Pointer {
	if p.isFull() {
		fail("allocate_one called on a full pool")
	}
	t := p.tokenStack[p.stackIndex]
	ptr := unsafe.Pointer(&p.region[uintptr(t)*uintptr(p.blockSize)])
	p.stackIndex++
	return ptr
}

// freeOne returns the block at ptr to the pool. The full->free upcall, if
// any, happens before stackIndex is touched, so the parent sees the full
// state before this call mutates it. The freed token is then written at
// the new top (stackIndex-1); the 0 sentinel at the old top stays in place.
func (p *TokenPool) freeOne(ptr unsafe.Pointer) {
	addr := uintptr(ptr)
	off := addr - p.baseAddr
	if off >= uintptr(p.poolSize) {
		fail("attempt to free memory outside its pool")
	}
	token := uint16(off / uintptr(p.blockSize))
	if int(token) < p.reservedBlocks {
		fail("attempt to free reserved pool memory")
	}
	for i := p.stackIndex; i < p.stackSize; i++ {
		if p.tokenStack[i] == token {
			fail("attempt to free memory that is already free")
		}
	}

	wasFull := p.isFull()
	if wasFull && p.parent != nil {
		p.parent.fullToFree(p)
	}

	p.stackIndex--
	p.tokenStack[p.stackIndex] = token

	if p.stackIndex == 0 && p.parent != nil {
		p.parent.freeToEmpty(p)
	}
}

func (p *TokenPool) totalAlloc() int     { return p.blockSize * p.stackIndex }
func (p *TokenPool) totalInstances() int { return p.stackIndex }
func (p *TokenPool) totalSpace() int     { return p.poolSize + p.stackSize*2 }

// forEachInstance visits every live allocation in this pool: every
// non-reserved block whose token is not in the free region of the stack.
func (p *TokenPool) forEachInstance(cb func(ptr unsafe.Pointer, size int)) {
	free := make([]bool, p.stackSize)
	for i := p.stackIndex; i < p.stackSize; i++ {
		free[p.tokenStack[i]] = true
	}
	for t := p.reservedBlocks; t < p.stackSize; t++ {
		if free[t] {
			continue
		}
		ptr := unsafe.Pointer(&p.region[uintptr(t)*uintptr(p.blockSize)])
		cb(ptr, p.blockSize)
	}
}

// discard releases the pool's region back to the OS in one call.
func (p *TokenPool) discard() {
	if err := osFreeRegion(p.region); err != nil {
		fail("failed releasing pool region: %v", err)
	}
}
