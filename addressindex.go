package tbman

import (
	"math"

	"github.com/google/btree"
)

// addressIndexDegree is the B-tree degree used for both ordered-map
// collaborators below. google/btree exposes no direct depth accessor, so
// depth() below reports an estimate derived from Len() and this degree
// instead.
const addressIndexDegree = 32

// addressIndex is an ordered map keyed by address, holding every
// currently-allocated TokenPool's start address. It backs the slow
// pointer->pool resolution path used whenever the fast alignment-based
// bitmask trick is unavailable (the manager lost global alignment, or no
// current-size hint was given).
type addressIndex struct {
	tree *btree.BTree
}

type poolItem struct {
	addr uintptr
	pool *TokenPool
}

func (p poolItem) Less(than btree.Item) bool {
	return p.addr < than.(poolItem).addr
}

func newAddressIndex() *addressIndex {
	return &addressIndex{tree: btree.New(addressIndexDegree)}
}

// insert registers pool at addr. It reports false (and does nothing) if
// addr is already present — duplicate insertion would mean the OS handed
// out an address that is still considered live, which is a corruption
// signal the caller must treat as fatal.
func (idx *addressIndex) insert(addr uintptr, pool *TokenPool) bool {
	if idx.tree.Has(poolItem{addr: addr}) {
		return false
	}
	idx.tree.ReplaceOrInsert(poolItem{addr: addr, pool: pool})
	return true
}

// remove drops addr from the index, reporting false if it was absent.
func (idx *addressIndex) remove(addr uintptr) bool {
	removed := idx.tree.Delete(poolItem{addr: addr})
	return removed != nil
}

// floor returns the TokenPool with the largest start address <= addr.
func (idx *addressIndex) floor(addr uintptr) (*TokenPool, bool) {
	var found *TokenPool
	idx.tree.DescendLessOrEqual(poolItem{addr: addr}, func(i btree.Item) bool {
		found = i.(poolItem).pool
		return false
	})
	return found, found != nil
}

func (idx *addressIndex) count() int {
	return idx.tree.Len()
}

func (idx *addressIndex) depth() int {
	return btreeDepthEstimate(idx.tree.Len())
}

func btreeDepthEstimate(n int) int {
	if n <= 1 {
		return n
	}
	d := math.Log(float64(n)) / math.Log(float64(addressIndexDegree))
	return int(math.Ceil(d)) + 1
}
