package tbman

import (
	"sync"
	"unsafe"
)

var (
	globalOnce sync.Once
	global     *Manager
)

// Open constructs the process-global singleton with DefaultConfig, the
// first time it is called; later calls are no-ops. It is safe to call
// concurrently from multiple goroutines racing to be "first": exactly
// one construction happens, via sync.Once.
func Open() {
	globalOnce.Do(func() {
		global = New(DefaultConfig())
	})
}

// Close tears down the process-global singleton. It is not safe to call
// concurrently with in-flight operations against the singleton; that is
// the caller's responsibility.
func Close() {
	if global == nil {
		return
	}
	global.Close()
	global = nil
	globalOnce = sync.Once{}
}

func assertOpen() {
	if global == nil {
		fail("manager was not initialized; call tbman.Open() at the start of your program")
	}
}

// Alloc operates on the process-global singleton. See (*Manager).Alloc.
func Alloc(currentPtr unsafe.Pointer, requestedSize uintptr) (unsafe.Pointer, uintptr) {
	assertOpen()
	return global.Alloc(currentPtr, requestedSize)
}

// NAlloc operates on the process-global singleton. See (*Manager).NAlloc.
func NAlloc(currentPtr unsafe.Pointer, currentSize, requestedSize uintptr) (unsafe.Pointer, uintptr) {
	assertOpen()
	return global.NAlloc(currentPtr, currentSize, requestedSize)
}

// GrantedSpace operates on the process-global singleton.
func GrantedSpace(ptr unsafe.Pointer) uintptr {
	assertOpen()
	return global.GrantedSpace(ptr)
}

// TotalGrantedSpace operates on the process-global singleton.
func TotalGrantedSpace() uintptr {
	assertOpen()
	return global.TotalGrantedSpace()
}

// TotalInstances operates on the process-global singleton.
func TotalInstances() int {
	assertOpen()
	return global.TotalInstances()
}

// ForEachInstance operates on the process-global singleton.
func ForEachInstance(cb func(ptr unsafe.Pointer, size uintptr)) {
	assertOpen()
	global.ForEachInstance(cb)
}

// Status operates on the process-global singleton.
func Status(detail int) string {
	assertOpen()
	return global.Status(detail)
}
