//go:build !unix && !windows

package tbman

import "unsafe"

// osAllocRegion is the portable fallback for platforms with neither mmap
// nor VirtualAlloc available through golang.org/x/sys (e.g. js/wasm). It
// over-allocates a plain Go slice and shifts into it to satisfy the
// alignment requirement, the same technique
// apache/arrow-go's memory.GoAllocator uses for its 64-byte-aligned
// buffers. There is no real unmap on this path: "freeing" a region is
// just dropping the last reference and letting the garbage collector
// reclaim it, so sweep (BlockManager) still shrinks live heap usage even
// though it cannot shrink OS-resident pages.
func osAllocRegion(size, align int) ([]byte, error) {
	if align <= 0 {
		align = minOSAlign
	}
	buf := make([]byte, size+align)
	base := uintptr(unsafe.Pointer(&buf[0]))
	aligned := (base + uintptr(align) - 1) &^ (uintptr(align) - 1)
	shift := int(aligned - base)
	return buf[shift : shift+size : shift+size], nil
}

// osFreeRegion is a no-op on the fallback path: the caller drops its
// reference and the Go garbage collector reclaims the backing array.
func osFreeRegion(region []byte) error {
	return nil
}
