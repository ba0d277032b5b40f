package tbman

import (
	"log/slog"
	"sync"
	"unsafe"
)

// Config configures a Manager at construction time.
type Config struct {
	// PoolSize is the byte size of every TokenPool; must be a power of two.
	PoolSize int
	// MinBlockSize and MaxBlockSize bound the ladder of block sizes the
	// manager services internally; requests above MaxBlockSize fall
	// through to the OS as external allocations.
	MinBlockSize int
	MaxBlockSize int
	// SteppingMethod controls how many block sizes are generated per
	// power-of-two range (2^(SteppingMethod-1) of them once the ladder
	// has settled). SteppingMethod 1 with an already power-of-two
	// MinBlockSize yields pure doubling: 8, 16, 32, 64, ...
	// SteppingMethod 2 subdivides each octave once more: 8, 16, 24, 32,
	// 48, 64, 96, 128, ...
	SteppingMethod uint
	// FullAlign requests that every pool be aligned to PoolSize, enabling
	// the O(1) bitmask fast path for free/realloc. When false, pools are
	// aligned to a modest minimum instead; the fast path then stays in use
	// only while every pool the OS returned happens to be PoolSize-aligned,
	// and pointers otherwise resolve through the address index.
	FullAlign bool
}

// DefaultConfig returns a reasonable general-purpose configuration: a
// 64KiB pool, an 8-to-16KiB block ladder with stepping method 1, fully
// aligned.
func DefaultConfig() Config {
	return Config{
		PoolSize:       65536,
		MinBlockSize:   8,
		MaxBlockSize:   16384,
		SteppingMethod: 1,
		FullAlign:      true,
	}
}

// Manager is the top-level allocator: a fan-out over BlockManagers of
// increasing block size, an address-ordered index over every live
// TokenPool for the O(log n) fallback lookup, and a side map for
// oversize allocations that bypass the pools entirely. Every public
// method locks mu, so a Manager is always safe for concurrent use —
// there is no unlocked variant to opt into.
type Manager struct {
	mu sync.Mutex

	poolSize       int
	minBlockSize   int
	maxBlockSize   int
	steppingMethod uint
	fullAlign      bool

	blockManagers  []*BlockManager
	blockSizeArray []int

	aligned bool

	addressIndex *addressIndex
	externalMap  *externalMap
	// externalRegions tracks the raw backing slice for every address
	// registered in externalMap, so memFree/memRealloc can hand the exact
	// region (base address and true capacity) back to osFreeRegion: a Go
	// []byte needs its length/capacity carried alongside its address.
	externalRegions map[uintptr][]byte
}

// New constructs a Manager. Configuration mistakes (non-power-of-two
// pool size) are fatal immediately: there is no use constructing a
// manager that could never serve a single allocation correctly.
func New(cfg Config) *Manager {
	if !isPowerOfTwo(cfg.PoolSize) {
		fail("pool_size %d is not a power of two", cfg.PoolSize)
	}

	m := &Manager{
		poolSize:        cfg.PoolSize,
		minBlockSize:    cfg.MinBlockSize,
		maxBlockSize:    cfg.MaxBlockSize,
		steppingMethod:  cfg.SteppingMethod,
		fullAlign:       cfg.FullAlign,
		aligned:         true,
		addressIndex:    newAddressIndex(),
		externalMap:     newExternalMap(),
		externalRegions: make(map[uintptr][]byte),
	}

	for _, blockSize := range generateBlockSizeLadder(cfg.MinBlockSize, cfg.MaxBlockSize, cfg.SteppingMethod) {
		bm := newBlockManager(cfg.PoolSize, blockSize, cfg.FullAlign)
		bm.parent = m
		m.blockManagers = append(m.blockManagers, bm)
		m.blockSizeArray = append(m.blockSizeArray, blockSize)
	}

	return m
}

// generateBlockSizeLadder produces the exponentially-spaced block sizes
// between min and max for the given stepping method: 2^(m-1) sizes per
// power-of-two range once the ladder has settled (m=1 is pure doubling).
func generateBlockSizeLadder(minBlockSize, maxBlockSize int, steppingMethod uint) []int {
	sizeMask := (1 << steppingMethod) - 1
	sizeInc := minBlockSize
	for sizeMask < minBlockSize || ((sizeMask<<1)&minBlockSize) != 0 {
		sizeMask <<= 1
	}

	var sizes []int
	for blockSize := minBlockSize; blockSize <= maxBlockSize; blockSize += sizeInc {
		sizes = append(sizes, blockSize)
		if blockSize > sizeMask {
			sizeMask <<= 1
			sizeInc <<= 1
		}
	}
	return sizes
}

// lostAlignment is the upcall a BlockManager makes the first time it
// appends a pool that isn't aligned to pool_size. Once false, it never
// becomes true again, permanently disabling the fast free/realloc path.
func (m *Manager) lostAlignment() {
	m.aligned = false
}

// Close discards the manager. If any allocations are still outstanding
// it logs a warning with the leaked instance count and byte total before
// releasing resources: leak detection is the one non-fatal diagnostic
// this package reports.
func (m *Manager) Close() {
	m.mu.Lock()
	leakedBytes := m.totalGrantedSpaceLocked()
	if leakedBytes > 0 {
		leakedInstances := m.totalInstancesLocked()
		slog.Warn("tbman: leaking memory at close",
			"instances", leakedInstances,
			"bytes", leakedBytes,
		)
	}

	for addr, region := range m.externalRegions {
		_ = osFreeRegion(region)
		delete(m.externalRegions, addr)
	}
	for _, bm := range m.blockManagers {
		for _, p := range bm.pools {
			p.discard()
		}
	}
	m.blockManagers = nil
	m.mu.Unlock()
}

// Alloc behaves as free when requestedSize is 0. Otherwise it allocates
// fresh memory (currentPtr == nil) or reallocates currentPtr, possibly
// moving it (currentPtr != nil), with no information about currentPtr's previous
// size — the manager must resolve it via the address index or the
// bitmask fast path.
func (m *Manager) Alloc(currentPtr unsafe.Pointer, requestedSize uintptr) (unsafe.Pointer, uintptr) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if requestedSize == 0 {
		if currentPtr != nil {
			m.memFree(currentPtr, nil)
		}
		return nil, 0
	}
	if currentPtr != nil {
		return m.memRealloc(currentPtr, nil, requestedSize)
	}
	return m.memAlloc(requestedSize)
}

// NAlloc is identical to Alloc except currentSize == 0 means currentPtr
// may not be freed or reallocated — it is treated as a fresh allocate.
func (m *Manager) NAlloc(currentPtr unsafe.Pointer, currentSize, requestedSize uintptr) (unsafe.Pointer, uintptr) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if requestedSize == 0 {
		if currentSize != 0 {
			m.memFree(currentPtr, &currentSize)
		}
		return nil, 0
	}
	if currentSize != 0 {
		return m.memRealloc(currentPtr, &currentSize, requestedSize)
	}
	return m.memAlloc(requestedSize)
}

// memAlloc serves a fresh allocation request, delegating to the
// smallest-fitting BlockManager or falling through to the OS for
// oversize requests.
func (m *Manager) memAlloc(requestedSize uintptr) (unsafe.Pointer, uintptr) {
	if bm, blockSize, ok := m.fittingBlockManager(requestedSize); ok {
		return bm.allocateOne(), uintptr(blockSize)
	}
	return m.externalAlloc(requestedSize)
}

func (m *Manager) fittingBlockManager(requestedSize uintptr) (*BlockManager, int, bool) {
	for i, blockSize := range m.blockSizeArray {
		if requestedSize <= uintptr(blockSize) {
			return m.blockManagers[i], blockSize, true
		}
	}
	return nil, 0, false
}

func (m *Manager) externalAlloc(requestedSize uintptr) (unsafe.Pointer, uintptr) {
	region, err := osAllocRegion(int(requestedSize), minOSAlign)
	if err != nil {
		fail("failed allocating %d bytes: %v", requestedSize, err)
	}
	addr := uintptr(unsafe.Pointer(&region[0]))
	if !m.externalMap.insert(addr, requestedSize) {
		fail("registering new external address failed")
	}
	m.externalRegions[addr] = region
	return unsafe.Pointer(&region[0]), requestedSize
}

// memFree resolves ptr to its owning TokenPool (fast path when
// currentSize is known and the manager is still globally aligned, slow
// path via the address index otherwise) and frees it there; failing
// that, it is treated as an external allocation.
func (m *Manager) memFree(ptr unsafe.Pointer, currentSize *uintptr) {
	if pool := m.resolveTokenPool(ptr, currentSize); pool != nil {
		pool.freeOne(ptr)
		return
	}

	addr := uintptr(ptr)
	region, ok := m.externalRegions[addr]
	if !ok {
		fail("invalid free: pointer not tracked by this manager")
	}
	if !m.externalMap.remove(addr) {
		fail("invalid free: pointer not tracked by this manager")
	}
	delete(m.externalRegions, addr)
	if err := osFreeRegion(region); err != nil {
		fail("failed releasing external region: %v", err)
	}
}

// resolveTokenPool finds the TokenPool owning ptr, or nil if ptr is
// external (or untracked). The fast path recovers a *TokenPool directly
// from the self-pointer word at the start of the bitmask-derived pool
// address; that result is only a hint and is always validated against
// the pool's own bounds before being trusted, exactly as the slow
// path's result would be.
func (m *Manager) resolveTokenPool(ptr unsafe.Pointer, currentSize *uintptr) *TokenPool {
	addr := uintptr(ptr)

	if currentSize != nil && *currentSize <= uintptr(m.maxBlockSize) && m.aligned {
		poolAddr := addr &^ (uintptr(m.poolSize) - 1)
		if pool := selfPointerAt(poolAddr); pool != nil && addr-pool.baseAddr < uintptr(pool.poolSize) {
			return pool
		}
	}

	pool, ok := m.addressIndex.floor(addr)
	if ok && addr-pool.baseAddr < uintptr(pool.poolSize) {
		return pool
	}
	return nil
}

// memRealloc implements the full reallocate decision tree: internal
// growth re-allocates and copies; internal shrink either stays in place
// (same block-size class) or moves to a smaller class; external requests
// either move inside the pools, keep their block when the new size is
// still at least half the old one, or get a fresh OS block otherwise.
func (m *Manager) memRealloc(ptr unsafe.Pointer, currentSize *uintptr, requestedSize uintptr) (unsafe.Pointer, uintptr) {
	pool := m.resolveTokenPool(ptr, currentSize)

	if pool != nil {
		return m.reallocInternal(pool, ptr, requestedSize)
	}
	return m.reallocExternal(ptr, requestedSize)
}

func (m *Manager) reallocInternal(pool *TokenPool, ptr unsafe.Pointer, requestedSize uintptr) (unsafe.Pointer, uintptr) {
	currentBlockSize := uintptr(pool.blockSize)

	if requestedSize > currentBlockSize {
		newPtr, granted := m.memAlloc(requestedSize)
		copyBytes(newPtr, ptr, currentBlockSize)
		pool.freeOne(ptr)
		return newPtr, granted
	}

	bm, blockSize, ok := m.fittingBlockManager(requestedSize)
	if !ok {
		fail("internal pointer has no fitting block manager for shrink")
	}
	if blockSize == pool.blockSize {
		return ptr, currentBlockSize
	}

	newPtr := bm.allocateOne()
	copyBytes(newPtr, ptr, requestedSize)
	pool.freeOne(ptr)
	return newPtr, uintptr(blockSize)
}

func (m *Manager) reallocExternal(ptr unsafe.Pointer, requestedSize uintptr) (unsafe.Pointer, uintptr) {
	addr := uintptr(ptr)

	if requestedSize <= uintptr(m.maxBlockSize) {
		newPtr, granted := m.memAlloc(requestedSize)
		copyBytes(newPtr, ptr, requestedSize)
		m.releaseExternal(addr)
		return newPtr, granted
	}

	currentSize, ok := m.externalMap.lookup(addr)
	if !ok {
		fail("could not retrieve current external allocation size")
	}

	// Keep the block in place when the request shrinks, but not by more
	// than half - avoids a copy for a marginal size reduction.
	if requestedSize < currentSize && requestedSize >= currentSize/2 {
		return ptr, currentSize
	}

	newRegion, err := osAllocRegion(int(requestedSize), minOSAlign)
	if err != nil {
		fail("failed allocating %d bytes: %v", requestedSize, err)
	}
	newAddr := uintptr(unsafe.Pointer(&newRegion[0]))
	if !m.externalMap.insert(newAddr, requestedSize) {
		fail("registering new external address failed")
	}
	m.externalRegions[newAddr] = newRegion

	copyBytes(unsafe.Pointer(&newRegion[0]), ptr, minUintptr(requestedSize, currentSize))
	m.releaseExternal(addr)
	return unsafe.Pointer(&newRegion[0]), requestedSize
}

func (m *Manager) releaseExternal(addr uintptr) {
	region, ok := m.externalRegions[addr]
	if !ok {
		fail("attempt to free invalid external memory")
	}
	if !m.externalMap.remove(addr) {
		fail("attempt to free invalid external memory")
	}
	delete(m.externalRegions, addr)
	if err := osFreeRegion(region); err != nil {
		fail("failed releasing external region: %v", err)
	}
}

func copyBytes(dst, src unsafe.Pointer, n uintptr) {
	if n == 0 {
		return
	}
	dstSlice := unsafe.Slice((*byte)(dst), n)
	srcSlice := unsafe.Slice((*byte)(src), n)
	copy(dstSlice, srcSlice)
}

func minUintptr(a, b uintptr) uintptr {
	if a < b {
		return a
	}
	return b
}

// GrantedSpace reports the granted size of ptr, or 0 if ptr is not
// tracked by this manager.
func (m *Manager) GrantedSpace(ptr unsafe.Pointer) uintptr {
	m.mu.Lock()
	defer m.mu.Unlock()

	if pool := m.resolveTokenPool(ptr, nil); pool != nil {
		return uintptr(pool.blockSize)
	}
	if size, ok := m.externalMap.lookup(uintptr(ptr)); ok {
		return size
	}
	return 0
}

// TotalGrantedSpace is the sum of granted sizes across every live
// internal and external allocation.
func (m *Manager) TotalGrantedSpace() uintptr {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalGrantedSpaceLocked()
}

func (m *Manager) totalGrantedSpaceLocked() uintptr {
	return uintptr(m.internalTotalAlloc()) + m.externalMap.sum()
}

func (m *Manager) internalTotalAlloc() int {
	sum := 0
	for _, bm := range m.blockManagers {
		sum += bm.totalAlloc()
	}
	return sum
}

func (m *Manager) internalTotalSpace() int {
	sum := 0
	for _, bm := range m.blockManagers {
		sum += bm.totalSpace()
	}
	return sum
}

// TotalInstances is the count of live allocations, internal and external.
func (m *Manager) TotalInstances() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalInstancesLocked()
}

func (m *Manager) totalInstancesLocked() int {
	sum := m.externalMap.count()
	for _, bm := range m.blockManagers {
		sum += bm.totalInstances()
	}
	return sum
}

// ForEachInstance takes a snapshot of every live (pointer, size) pair
// under the lock, releases the lock, then invokes cb for each — so cb
// may call back into the manager without re-entering the mutex it was
// already holding.
func (m *Manager) ForEachInstance(cb func(ptr unsafe.Pointer, size uintptr)) {
	if cb == nil {
		return
	}

	type snapshotEntry struct {
		ptr  unsafe.Pointer
		size uintptr
	}

	m.mu.Lock()
	var snapshot []snapshotEntry
	for _, bm := range m.blockManagers {
		bm.forEachInstance(func(ptr unsafe.Pointer, size int) {
			snapshot = append(snapshot, snapshotEntry{ptr, uintptr(size)})
		})
	}
	m.externalMap.run(func(addr uintptr, size uintptr) {
		snapshot = append(snapshot, snapshotEntry{unsafe.Pointer(addr), size})
	})
	m.mu.Unlock()

	for _, e := range snapshot {
		cb(e.ptr, e.size)
	}
}
