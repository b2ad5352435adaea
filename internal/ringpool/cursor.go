package ringpool

import "sync/atomic"

// atomicCursor is a free-running 64-bit counter. Each Pool owns two —
// write and read — and each is mutated by exactly one thread over the
// pool's lifetime; the atomic ops exist purely for cross-thread
// visibility between that one writer and any number of readers (spec
// §4.B: "only the cursor itself is shared ... relaxed atomic ordering
// suffices for the cursor updates").
type atomicCursor struct {
	v atomic.Uint64
}

func (c *atomicCursor) load() uint64 { return c.v.Load() }

func (c *atomicCursor) store(val uint64) { c.v.Store(val) }

func (c *atomicCursor) add(delta uint64) { c.v.Add(delta) }
