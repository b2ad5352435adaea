package batch

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/momentics/inferd/internal/reqring"
	"github.com/momentics/inferd/internal/respring"
	"github.com/momentics/inferd/internal/ringpool"
	"github.com/momentics/inferd/internal/wire"
	"github.com/stretchr/testify/require"
)

const testFeatureDim = 16

func makeEvent(t *testing.T, pool *ringpool.Pool, connKey uint32, seq uint64, vectors [][]float32) reqring.Event {
	t.Helper()
	frame := wire.EncodeRequest(vectors)
	featureBytes := frame[4:]
	m, err := pool.Alloc(len(featureBytes))
	require.NoError(t, err)
	copy(m.Bytes(), featureBytes)
	return reqring.Event{
		ConnKey:    connKey,
		RequestSeq: seq,
		NumVectors: uint16(len(vectors)),
		ThreadID:   0,
		Features:   m.Freeze(),
	}
}

func newTestProcessor() (*Processor, *reqring.Ring, *respring.Ring, *atomic.Bool) {
	reqRing := reqring.New(64)
	respRing := respring.New(64)
	efd, _ := respring.NewEventFD()
	var stop atomic.Bool
	p := &Processor{
		Request:    reqRing,
		Responses:  []*respring.Ring{respRing},
		EventFDs:   []*respring.EventFD{efd},
		ResultPool: ringpool.New(1 << 16),
		FeatureDim: testFeatureDim,
		Reduce:     Sum,
		Stop:       &stop,
	}
	return p, reqRing, respRing, &stop
}

// TestScenarioS1Smoke covers spec §8 scenario S1: single vector of all
// 1.0s over FEATURE_DIM=16 sums to 16.0.
func TestScenarioS1Smoke(t *testing.T) {
	p, reqRing, respRing, stop := newTestProcessor()
	go p.Run()
	defer stop.Store(true)

	vec := make([]float32, testFeatureDim)
	for i := range vec {
		vec[i] = 1.0
	}
	ev := makeEvent(t, ringpool.New(1<<16), 1, 0, [][]float32{vec})
	require.True(t, reqRing.Publish(ev))

	require.Eventually(t, func() bool { return respRing.Published() >= 1 }, time.Second, time.Millisecond)
	resp := respRing.Slot(0)
	require.Equal(t, uint16(1), resp.NumVectors)
	require.Equal(t, float32(16.0), resp.Results.At(0))
}

// TestScenarioS2Batch covers spec §8 scenario S2.
func TestScenarioS2Batch(t *testing.T) {
	p, reqRing, respRing, stop := newTestProcessor()
	go p.Run()
	defer stop.Store(true)

	mk := func(v float32) []float32 {
		vec := make([]float32, testFeatureDim)
		for i := range vec {
			vec[i] = v
		}
		return vec
	}
	ev := makeEvent(t, ringpool.New(1<<16), 1, 0, [][]float32{mk(1), mk(2), mk(3)})
	require.True(t, reqRing.Publish(ev))

	require.Eventually(t, func() bool { return respRing.Published() >= 1 }, time.Second, time.Millisecond)
	resp := respRing.Slot(0)
	require.Equal(t, uint16(3), resp.NumVectors)
	require.Equal(t, float32(16), resp.Results.At(0))
	require.Equal(t, float32(32), resp.Results.At(1))
	require.Equal(t, float32(48), resp.Results.At(2))
}

// TestScenarioS6MaxSize covers spec §8 scenario S6: num_vectors at the
// protocol max forces the pooled (non-inline) Results path.
func TestScenarioS6MaxSize(t *testing.T) {
	const maxVectors = 64
	p, reqRing, respRing, stop := newTestProcessor()
	go p.Run()
	defer stop.Store(true)

	vecs := make([][]float32, maxVectors)
	for i := range vecs {
		v := make([]float32, testFeatureDim)
		for j := range v {
			v[j] = 0.5
		}
		vecs[i] = v
	}
	ev := makeEvent(t, ringpool.New(1<<20), 1, 0, vecs)
	require.True(t, reqRing.Publish(ev))

	require.Eventually(t, func() bool { return respRing.Published() >= 1 }, time.Second, time.Millisecond)
	resp := respRing.Slot(0)
	require.Equal(t, uint16(maxVectors), resp.NumVectors)
	want := float32(0.5 * testFeatureDim)
	for i := 0; i < maxVectors; i++ {
		require.Equal(t, want, resp.Results.At(i))
	}
}

// TestPerConnectionOrderPreservation covers spec §8 property 6.
func TestPerConnectionOrderPreservation(t *testing.T) {
	p, reqRing, respRing, stop := newTestProcessor()
	go p.Run()
	defer stop.Store(true)

	pool := ringpool.New(1 << 16)
	const n = 20
	for i := 0; i < n; i++ {
		vec := make([]float32, testFeatureDim)
		for j := range vec {
			vec[j] = float32(i)
		}
		ev := makeEvent(t, pool, 7, uint64(i), [][]float32{vec})
		require.True(t, reqRing.Publish(ev))
	}

	require.Eventually(t, func() bool { return respRing.Published() >= n }, time.Second, time.Millisecond)
	for i := 0; i < n; i++ {
		resp := respRing.Slot(uint64(i))
		require.Equal(t, uint64(i), resp.RequestSeq)
		require.Equal(t, float32(i)*testFeatureDim, resp.Results.At(0))
	}
}
