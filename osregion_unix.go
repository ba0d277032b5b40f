//go:build unix

package tbman

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// osAllocRegion acquires a region of at least size bytes, whose start
// address is a multiple of align, via an anonymous mmap. When align
// exceeds the page size, it over-allocates by one extra alignment unit,
// trims the unused head and tail back to the kernel with Munmap, and
// keeps only the aligned window mapped — the same trick
// malloc/jemalloc-style allocators use to get aligned pages out of an
// allocator (mmap) that only guarantees page alignment.
//
// The returned slice has length size and capacity equal to the full
// mapped length, so osFreeRegion can recover the whole mapping with
// region[:cap(region)].
func osAllocRegion(size, align int) ([]byte, error) {
	pageSize := unix.Getpagesize()
	mapLen := roundUp(size, pageSize)

	if align <= pageSize {
		b, err := unix.Mmap(-1, 0, mapLen, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
		if err != nil {
			return nil, err
		}
		return b[:size:mapLen], nil
	}

	totalLen := mapLen + align
	b, err := unix.Mmap(-1, 0, totalLen, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, err
	}

	base := uintptr(unsafe.Pointer(&b[0]))
	alignedBase := (base + uintptr(align) - 1) &^ (uintptr(align) - 1)
	headTrim := int(alignedBase - base)
	alignedEnd := headTrim + mapLen
	tailTrim := totalLen - alignedEnd

	if headTrim > 0 {
		if err := unix.Munmap(b[:headTrim]); err != nil {
			return nil, err
		}
	}
	if tailTrim > 0 {
		if err := unix.Munmap(b[alignedEnd:]); err != nil {
			return nil, err
		}
	}

	aligned := b[headTrim:alignedEnd:alignedEnd]
	return aligned[:size:mapLen], nil
}

// osFreeRegion returns a region obtained from osAllocRegion to the OS.
func osFreeRegion(region []byte) error {
	if region == nil {
		return nil
	}
	return unix.Munmap(region[:cap(region)])
}
