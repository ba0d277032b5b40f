// Package tbman implements a three-level token-block memory manager for Go.
//
// # Overview
//
// tbman sits between application code and the operating system's raw
// allocator. It services variable-size allocate/reallocate/free requests
// with O(1) amortized behavior for a wide range of sizes, low
// fragmentation, and thread safety built in. It is aimed at applications
// that perform very large numbers of small-to-medium allocations and want
// deterministic behavior plus instrumentation (live-instance enumeration,
// leak reporting, granted-size queries).
//
// # Architecture
//
// Three levels, leaves first:
//
//   - TokenPool: one contiguous region, sliced into equal-sized blocks,
//     with free blocks tracked by a LIFO stack of tokens embedded in the
//     region itself.
//   - BlockManager: a growable set of TokenPools sharing one block size,
//     partitioned by fullness (full | partially-free | empty), with a
//     sweep policy that returns empty pools to the OS.
//   - Manager: a fan-out over BlockManagers with exponentially increasing
//     block sizes, an address-ordered index for O(1)/O(log n) pointer
//     resolution, and fall-through to the OS for oversize requests.
//
// # Basic Usage
//
//	m := tbman.New(tbman.DefaultConfig())
//	defer m.Close()
//
//	ptr, granted := m.Alloc(nil, 128)
//	// ... use the memory pointed to by ptr, up to granted bytes ...
//	m.Alloc(ptr, 0) // free
//
// # Process-Global Singleton
//
// Most programs only need one manager. Open/Close construct and destroy
// a process-wide singleton with default parameters; the free functions
// at package scope operate on it.
//
//	tbman.Open()
//	defer tbman.Close()
//	ptr, granted := tbman.Alloc(nil, 64)
//
// # Thread Safety
//
// Every Manager method locks the manager's mutex internally; there is no
// unlocked variant to opt out of. Parallel goroutines may call into a
// Manager concurrently; each call is atomic with respect to the others.
//
// # Error Handling
//
// Configuration mistakes, OS out-of-memory, internal invariant
// violations, invalid frees, and use of the singleton before Open are all
// fatal: tbman prints a diagnostic line and terminates the process. There
// is nothing to recover from; a violated invariant means either caller
// misuse or memory corruption, and the package does not try to guess
// which. Leak detection at Close is the one exception — it is a warning,
// not a fatal error.
package tbman
