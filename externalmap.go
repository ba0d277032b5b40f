package tbman

import "github.com/google/btree"

// externalMap is an ordered map keyed by address, holding the requested
// byte count of every live oversize ("external") allocation — any
// request larger than the manager's max block size, served directly by
// the OS and tracked here instead of inside a TokenPool.
type externalMap struct {
	tree *btree.BTree
}

type externalItem struct {
	addr uintptr
	size uintptr
}

func (e externalItem) Less(than btree.Item) bool {
	return e.addr < than.(externalItem).addr
}

func newExternalMap() *externalMap {
	return &externalMap{tree: btree.New(addressIndexDegree)}
}

// insert registers a requested size for addr, reporting false if addr
// was already present.
func (m *externalMap) insert(addr uintptr, size uintptr) bool {
	if m.tree.Has(externalItem{addr: addr}) {
		return false
	}
	m.tree.ReplaceOrInsert(externalItem{addr: addr, size: size})
	return true
}

// remove drops addr, reporting false if it was absent.
func (m *externalMap) remove(addr uintptr) bool {
	removed := m.tree.Delete(externalItem{addr: addr})
	return removed != nil
}

// lookup returns the requested size registered for addr.
func (m *externalMap) lookup(addr uintptr) (uintptr, bool) {
	item := m.tree.Get(externalItem{addr: addr})
	if item == nil {
		return 0, false
	}
	return item.(externalItem).size, true
}

// sum returns the total of all registered sizes.
func (m *externalMap) sum() uintptr {
	var total uintptr
	m.tree.Ascend(func(i btree.Item) bool {
		total += i.(externalItem).size
		return true
	})
	return total
}

// run invokes cb for every (address, size) pair in ascending address
// order.
func (m *externalMap) run(cb func(addr uintptr, size uintptr)) {
	m.tree.Ascend(func(i btree.Item) bool {
		e := i.(externalItem)
		cb(e.addr, e.size)
		return true
	})
}

func (m *externalMap) count() int {
	return m.tree.Len()
}

func (m *externalMap) depth() int {
	return btreeDepthEstimate(m.tree.Len())
}
