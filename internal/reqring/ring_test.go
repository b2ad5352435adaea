package reqring

import (
	"testing"

	"github.com/momentics/inferd/internal/ringpool"
	"github.com/stretchr/testify/require"
)

func TestPublishFIFOAndBackpressure(t *testing.T) {
	r := New(4)
	require.Equal(t, 4, r.Cap())

	for i := 0; i < 4; i++ {
		ok := r.Publish(Event{RequestSeq: uint64(i)})
		require.True(t, ok)
	}
	// Ring is full: consumer hasn't advanced, so the 5th publish must
	// fail without touching producer state.
	ok := r.Publish(Event{RequestSeq: 4})
	require.False(t, ok)
	require.Equal(t, uint64(4), r.Published())

	r.Advance(1)
	ok = r.Publish(Event{RequestSeq: 4})
	require.True(t, ok)
	require.Equal(t, uint64(5), r.Published())
	require.Equal(t, uint64(4), r.Slot(4).RequestSeq)
}

func TestPublishReleasesOverwrittenFeatureSlice(t *testing.T) {
	pool := ringpool.New(64)
	r := New(2)

	m1, err := pool.Alloc(8)
	require.NoError(t, err)
	require.True(t, r.Publish(Event{RequestSeq: 0, Features: m1.Freeze()}))

	m2, err := pool.Alloc(8)
	require.NoError(t, err)
	require.True(t, r.Publish(Event{RequestSeq: 1, Features: m2.Freeze()}))

	// Ring full (consumed still 0); must not publish or release anything.
	m3, err := pool.Alloc(8)
	require.NoError(t, err)
	require.False(t, r.Publish(Event{RequestSeq: 2, Features: m3.Freeze()}))
	require.Equal(t, uint64(24), pool.InUse())

	// Consumer processed slot 0 and the feature bytes within it; advancing
	// unblocks the producer to overwrite that slot, releasing slot 0's
	// slice as a side effect.
	r.Advance(1)
	require.True(t, r.Publish(Event{RequestSeq: 2, Features: m3.Freeze()}))
	require.Equal(t, uint64(16), pool.InUse(), "slot 0's 8 bytes released, slot 2's 8 bytes allocated")
}

func TestPublishLeavesBytesOnBackpressure(t *testing.T) {
	r := New(2)
	require.True(t, r.Publish(Event{RequestSeq: 0}))
	require.True(t, r.Publish(Event{RequestSeq: 1}))

	ev := Event{RequestSeq: 2, NumVectors: 7}
	ok := r.Publish(ev)
	require.False(t, ok)
	// Caller is expected to retry ev unchanged on its next loop turn; the
	// ring must not have mutated its consumed/published cursors.
	require.Equal(t, uint64(2), r.Published())
}
