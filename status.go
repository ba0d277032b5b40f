package tbman

import (
	"fmt"
	"strings"
)

// report writes a human-readable summary of a single TokenPool.
func (p *TokenPool) report(b *strings.Builder, indent string) {
	fmt.Fprintf(b, "%spool_size:   %d\n", indent, p.poolSize)
	fmt.Fprintf(b, "%sblock_size:  %d\n", indent, p.blockSize)
	fmt.Fprintf(b, "%sstack_size:  %d\n", indent, p.stackSize)
	fmt.Fprintf(b, "%saligned:     %t\n", indent, p.aligned)
	fmt.Fprintf(b, "%sstack_index: %d\n", indent, p.stackIndex)
	fmt.Fprintf(b, "%stotal alloc: %d\n", indent, p.totalAlloc())
	fmt.Fprintf(b, "%stotal space: %d\n", indent, p.totalSpace())
}

// report writes a human-readable summary of a BlockManager. detail > 1
// recurses into every pool.
func (o *BlockManager) report(b *strings.Builder, detail int) {
	fmt.Fprintf(b, "  pool_size:        %d\n", o.poolSize)
	fmt.Fprintf(b, "  block_size:       %d\n", o.blockSize)
	fmt.Fprintf(b, "  sweep_hysteresis: %g\n", o.sweepHysteresis)
	fmt.Fprintf(b, "  aligned:          %t\n", o.aligned)
	fmt.Fprintf(b, "  token_pools:      %d\n", len(o.pools))
	fmt.Fprintf(b, "      full:         %d\n", o.freeIndex)
	fmt.Fprintf(b, "      empty:        %d\n", o.emptyTail())
	fmt.Fprintf(b, "  total alloc:      %d\n", o.totalAlloc())
	fmt.Fprintf(b, "  total space:      %d\n", o.totalSpace())
	if detail > 1 {
		for i, p := range o.pools {
			fmt.Fprintf(b, "\ntoken pool %d:\n", i)
			p.report(b, "    ")
		}
	}
}

// Status renders a multi-line report of the manager's current state: at
// detail 1 it prints manager-wide counts and totals, at detail 2 it adds
// a section per block manager, and at detail 3 and above it also reports
// every pool. It returns a
// string rather than writing straight to stdout, so callers can send it
// wherever they like (a logger, a debug endpoint, a test assertion).
func (m *Manager) Status(detail int) string {
	if detail <= 0 {
		return ""
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "pool_size:              %d\n", m.poolSize)
	fmt.Fprintf(&b, "block managers:         %d\n", len(m.blockManagers))
	fmt.Fprintf(&b, "token pools:            %d\n", m.addressIndex.count())
	fmt.Fprintf(&b, "external allocs:        %d\n", m.externalMap.count())
	fmt.Fprintf(&b, "address index depth:    %d\n", m.addressIndex.depth())
	fmt.Fprintf(&b, "external map depth:     %d\n", m.externalMap.depth())
	fmt.Fprintf(&b, "min_block_size:         %d\n", m.minBlockSize)
	fmt.Fprintf(&b, "max_block_size:         %d\n", m.maxBlockSize)
	fmt.Fprintf(&b, "aligned:                %t\n", m.aligned)
	fmt.Fprintf(&b, "total external granted: %d\n", m.externalMap.sum())
	fmt.Fprintf(&b, "total internal granted: %d\n", m.internalTotalAlloc())
	fmt.Fprintf(&b, "total internal used:    %d\n", m.internalTotalSpace())

	if detail > 1 {
		for i, bm := range m.blockManagers {
			fmt.Fprintf(&b, "\nblock manager %d:\n", i)
			bm.report(&b, detail-1)
		}
	}

	return b.String()
}
