package conn

// Table is a fixed-capacity slab of Connections, indexed by a stable
// 16-bit slot plus a generation tag that changes on every reuse, so a
// stray completion for a closed-then-reopened slot can be detected and
// dropped (spec §3: "packaged with a generation tag in the low 32 bits
// of the io_uring user-data field").
type Table struct {
	slots       []*Connection
	generations []uint16
	free        []uint16
}

// MaxConnections bounds the 16-bit slab index space.
const MaxConnections = 1 << 16

// NewTable builds an empty table with the given slot capacity (<=
// MaxConnections).
func NewTable(capacity int) *Table {
	if capacity <= 0 || capacity > MaxConnections {
		capacity = MaxConnections
	}
	t := &Table{
		slots:       make([]*Connection, capacity),
		generations: make([]uint16, capacity),
		free:        make([]uint16, capacity),
	}
	for i := range t.free {
		t.free[i] = uint16(capacity - 1 - i)
	}
	return t
}

// MakeKey packs a slab index and generation into the 32-bit ConnKey.
func MakeKey(index, generation uint16) uint32 {
	return uint32(generation)<<16 | uint32(index)
}

// SplitKey unpacks a ConnKey into its slab index and generation.
func SplitKey(key uint32) (index, generation uint16) {
	return uint16(key), uint16(key >> 16)
}

// Insert allocates a free slot for fd, returning the new Connection and
// its key, or ok==false if the table is full.
func (t *Table) Insert(fd int, readBufSize int) (c *Connection, ok bool) {
	if len(t.free) == 0 {
		return nil, false
	}
	idx := t.free[len(t.free)-1]
	t.free = t.free[:len(t.free)-1]

	gen := t.generations[idx]
	key := MakeKey(idx, gen)

	c = t.slots[idx]
	if c == nil {
		c = New(fd, key, readBufSize)
		t.slots[idx] = c
	} else {
		c.Reset(fd, key)
	}
	return c, true
}

// Lookup returns the connection for key, or ok==false if the slot is
// free or its generation no longer matches (a stale completion for an
// already-recycled slot).
func (t *Table) Lookup(key uint32) (c *Connection, ok bool) {
	idx, gen := SplitKey(key)
	if int(idx) >= len(t.slots) {
		return nil, false
	}
	if t.generations[idx] != gen {
		return nil, false
	}
	c = t.slots[idx]
	if c == nil {
		return nil, false
	}
	return c, true
}

// Remove frees key's slot, bumping its generation so any in-flight
// completion still tagged with the old generation is rejected by a
// later Lookup.
func (t *Table) Remove(key uint32) {
	idx, gen := SplitKey(key)
	if int(idx) >= len(t.slots) || t.generations[idx] != gen {
		return
	}
	t.generations[idx]++
	t.free = append(t.free, idx)
}

// Len returns the number of currently occupied slots.
func (t *Table) Len() int {
	return len(t.slots) - len(t.free)
}

// Each calls fn for every occupied connection. fn must not call Insert
// or Remove on this table.
func (t *Table) Each(fn func(*Connection)) {
	for _, c := range t.slots {
		if c == nil {
			continue
		}
		// A recycled-but-unused slot still holds its last Connection
		// pointer; only visit slots actually in use.
		idx, gen := SplitKey(c.Key)
		if t.generations[idx] != gen {
			continue
		}
		fn(c)
	}
}
