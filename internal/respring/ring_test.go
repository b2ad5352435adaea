package respring

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRingFIFOAndBackpressure(t *testing.T) {
	r := New(4)
	for i := 0; i < 4; i++ {
		ok := r.TryPublish(Response{ConnKey: 1, RequestSeq: uint64(i)})
		require.True(t, ok)
	}
	require.False(t, r.TryPublish(Response{ConnKey: 1, RequestSeq: 4}))

	r.Advance(1)
	require.True(t, r.TryPublish(Response{ConnKey: 1, RequestSeq: 4}))

	for i := 0; i < 4; i++ {
		resp := r.Slot(uint64(i))
		require.Equal(t, uint64(i), resp.RequestSeq)
	}
}

func TestEventFDCoalescing(t *testing.T) {
	e, err := NewEventFD()
	require.NoError(t, err)
	defer e.Close()

	require.NoError(t, e.Signal())
	require.NoError(t, e.Signal())
	require.NoError(t, e.Signal())

	n, err := e.Drain()
	require.NoError(t, err)
	require.GreaterOrEqual(t, n, uint64(1))
}

func TestResultsInlineAndAt(t *testing.T) {
	vals := []float32{1, 2, 3}
	res := NewInline(vals)
	require.Equal(t, 3, res.Len())
	for i, v := range vals {
		require.Equal(t, v, res.At(i))
	}
}
