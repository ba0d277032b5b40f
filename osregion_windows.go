//go:build windows

package tbman

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

// osAllocRegion acquires a region of at least size bytes aligned to
// align, using the standard VirtualAlloc aligned-allocation trick:
// reserve a region big enough to guarantee an aligned sub-window exists
// inside it, release the reservation, then commit exactly size bytes
// starting at the aligned address. There is a narrow window between the
// release and the re-commit where another thread's VirtualAlloc could
// claim the address; this is the same trade-off the reference C
// allocator's aligned_alloc-on-Windows implementations accept.
func osAllocRegion(size, align int) ([]byte, error) {
	if align <= 0 {
		align = minOSAlign
	}

	reserveLen := size + align
	reserved, err := windows.VirtualAlloc(0, uintptr(reserveLen), windows.MEM_RESERVE, windows.PAGE_NOACCESS)
	if err != nil {
		return nil, err
	}
	if err := windows.VirtualFree(reserved, 0, windows.MEM_RELEASE); err != nil {
		return nil, err
	}

	alignedAddr := (uintptr(reserved) + uintptr(align) - 1) &^ (uintptr(align) - 1)

	addr, err := windows.VirtualAlloc(alignedAddr, uintptr(size), windows.MEM_COMMIT|windows.MEM_RESERVE, windows.PAGE_READWRITE)
	if err != nil {
		return nil, err
	}

	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), size), nil
}

// osFreeRegion returns a region obtained from osAllocRegion to the OS.
func osFreeRegion(region []byte) error {
	if region == nil {
		return nil
	}
	addr := uintptr(unsafe.Pointer(&region[0]))
	return windows.VirtualFree(addr, 0, windows.MEM_RELEASE)
}
