package ringpool

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestAllocConservation covers spec §8 property 4: after any sequence of
// alloc/freeze/release where every freeze is eventually released in
// allocation order, write-read returns to zero.
func TestAllocConservation(t *testing.T) {
	p := New(4096)
	r := rand.New(rand.NewSource(1))

	var pending []Slice
	for i := 0; i < 2000; i++ {
		length := 1 + r.Intn(200)
		m, err := p.Alloc(length)
		if err == ErrExhausted {
			// release oldest to make room, then retry.
			require.NotEmpty(t, pending)
			pending[0].Release()
			pending = pending[1:]
			m, err = p.Alloc(length)
		}
		require.NoError(t, err)
		pending = append(pending, m.Freeze())

		// Occasionally drain a few, always oldest-first (FIFO).
		if r.Intn(3) == 0 && len(pending) > 0 {
			n := 1 + r.Intn(len(pending))
			for j := 0; j < n; j++ {
				pending[0].Release()
				pending = pending[1:]
			}
		}
	}
	for _, s := range pending {
		s.Release()
	}

	require.Equal(t, uint64(0), p.InUse())
}

// TestAllocExclusion covers spec §8 property 5: no two simultaneously
// live slices from the same pool overlap in physical byte ranges.
func TestAllocExclusion(t *testing.T) {
	p := New(4096)
	r := rand.New(rand.NewSource(2))

	type live struct {
		start, end int
	}
	var liveSlices []live
	var pending []Slice

	overlaps := func(a, b live) bool {
		return a.start < b.end && b.start < a.end
	}

	for i := 0; i < 2000; i++ {
		length := 1 + r.Intn(100)
		m, err := p.Alloc(length)
		// A wrapping allocation also consumes the tail gap, so one release
		// may not be enough; release oldest-first until it fits.
		for err == ErrExhausted {
			require.NotEmpty(t, pending)
			pending[0].Release()
			liveSlices = liveSlices[1:]
			pending = pending[1:]
			m, err = p.Alloc(length)
		}
		require.NoError(t, err)
		s := m.Freeze()

		start := m.start
		end := start + m.length
		cur := live{start, end}
		for _, other := range liveSlices {
			require.False(t, overlaps(cur, other), "overlap: %+v vs %+v", cur, other)
		}
		liveSlices = append(liveSlices, cur)
		pending = append(pending, s)

		if r.Intn(4) == 0 {
			pending[0].Release()
			pending = pending[1:]
			liveSlices = liveSlices[1:]
		}
	}
}

func TestAllocTooLarge(t *testing.T) {
	p := New(1024)
	_, err := p.Alloc(2048)
	require.ErrorIs(t, err, ErrTooLarge)
}

func TestAllocExhaustedThenRecovers(t *testing.T) {
	p := New(64)
	m1, err := p.Alloc(64)
	require.NoError(t, err)
	_, err = p.Alloc(1)
	require.ErrorIs(t, err, ErrExhausted)

	m1.Freeze().Release()
	_, err = p.Alloc(1)
	require.NoError(t, err)
}
