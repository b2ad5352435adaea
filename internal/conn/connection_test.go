package conn

import (
	"testing"

	"github.com/momentics/inferd/internal/respring"
	"github.com/stretchr/testify/require"
)

func TestTableInsertLookupRemove(t *testing.T) {
	tbl := NewTable(4)
	c1, ok := tbl.Insert(10, 64)
	require.True(t, ok)
	require.Equal(t, 1, tbl.Len())
	// Keep the first key: a recycled slot reuses the same record, so
	// c1.Key is overwritten by the next Insert.
	key1 := c1.Key

	got, ok := tbl.Lookup(key1)
	require.True(t, ok)
	require.Same(t, c1, got)

	tbl.Remove(key1)
	_, ok = tbl.Lookup(key1)
	require.False(t, ok, "stale key must not resolve after removal")

	c2, ok := tbl.Insert(20, 64)
	require.True(t, ok)
	idx1, _ := SplitKey(key1)
	idx2, gen2 := SplitKey(c2.Key)
	require.Equal(t, idx1, idx2, "slot should be recycled")
	require.NotEqual(t, key1, c2.Key, "generation must differ after reuse")
	require.Equal(t, uint16(1), gen2)
}

func TestTableFull(t *testing.T) {
	tbl := NewTable(2)
	_, ok := tbl.Insert(1, 64)
	require.True(t, ok)
	_, ok = tbl.Insert(2, 64)
	require.True(t, ok)
	_, ok = tbl.Insert(3, 64)
	require.False(t, ok)
}

func TestCompact(t *testing.T) {
	c := New(1, 0, 16)
	copy(c.ReadBuf, []byte("hello world"))
	c.ReadLen = 11
	c.Compact(6)
	require.Equal(t, 5, c.ReadLen)
	require.Equal(t, "world", string(c.ReadBuf[:c.ReadLen]))
}

func TestWriteQueuePartialDrain(t *testing.T) {
	c := New(1, 0, 64)
	c.EnqueueResponse(2, respring.NewInline([]float32{1, 2}))

	iovecs := c.BuildIovecs(nil)
	require.Len(t, iovecs, 2) // header + payload

	total := 0
	for _, v := range iovecs {
		total += len(v.Base)
	}
	require.Equal(t, 1+2*4, total)

	// Partially drain: header byte + 3 of the 8 payload bytes.
	c.AdvanceWritten(4)
	require.True(t, c.HasPendingWrites())

	iovecs = c.BuildIovecs(iovecs)
	require.Len(t, iovecs, 1)
	require.Len(t, iovecs[0].Base, 5)

	c.AdvanceWritten(5)
	require.False(t, c.HasPendingWrites())
}

func TestDiscardPendingWrites(t *testing.T) {
	c := New(1, 0, 64)
	c.EnqueueResponse(1, respring.NewInline([]float32{1}))
	require.True(t, c.HasPendingWrites())
	c.DiscardPendingWrites()
	require.False(t, c.HasPendingWrites())
}
