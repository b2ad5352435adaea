// Package batch implements the batch processor (spec §4.G): it
// busy-spins on the request ring, runs the per-vector reducer, and
// publishes responses to the originating IO thread's response ring,
// signalling that thread's eventfd.
package batch

import (
	"encoding/binary"
	"log"
	"math"
	"runtime"
	"sync/atomic"

	"github.com/momentics/inferd/internal/metrics"
	"github.com/momentics/inferd/internal/reqring"
	"github.com/momentics/inferd/internal/respring"
	"github.com/momentics/inferd/internal/ringpool"
)

// Processor is the single consumer of a request ring and the single
// producer into every IO thread's response ring.
type Processor struct {
	Request    *reqring.Ring
	Responses  []*respring.Ring   // indexed by event.ThreadID
	EventFDs   []*respring.EventFD // indexed by event.ThreadID
	ResultPool *ringpool.Pool      // used when n > respring.InlineResultCapacity

	FeatureDim int
	Reduce     Reducer

	Stop    *atomic.Bool
	Metrics *metrics.Counters // optional
	Logger  *log.Logger       // optional

	scratch []float32 // reused across iterations; single-threaded owner
}

// Run drives the batch processor until Stop is set. It never blocks.
func (p *Processor) Run() {
	if p.scratch == nil {
		p.scratch = make([]float32, 0, 4096)
	}
	var consumed uint64
	for {
		if p.Stop.Load() {
			return
		}
		published := p.Request.Published()
		if consumed >= published {
			runtime.Gosched() // spec §5: "optional pause-instruction hints are permitted"
			continue
		}

		ev := p.Request.Slot(consumed)
		results := p.compute(ev)
		resp := respring.Response{
			ConnKey:    ev.ConnKey,
			RequestSeq: ev.RequestSeq,
			NumVectors: ev.NumVectors,
			Results:    results,
		}

		ring := p.Responses[ev.ThreadID]
		efd := p.EventFDs[ev.ThreadID]
		for !ring.TryPublish(resp) {
			if p.Metrics != nil {
				p.Metrics.RespRingFull.Add(1)
			}
			if p.Stop.Load() {
				return
			}
			runtime.Gosched()
		}
		if p.Metrics != nil {
			p.Metrics.Published.Add(1)
		}
		if err := efd.Signal(); err != nil && p.Logger != nil {
			p.Logger.Printf("batch: eventfd signal failed thread=%d err=%v", ev.ThreadID, err)
		}

		consumed++
		p.Request.Advance(consumed)
	}
}

// compute applies the reducer to every vector in ev's feature payload
// and returns a Results value — inline for small n, pool-backed above
// respring.InlineResultCapacity.
func (p *Processor) compute(ev *reqring.Event) respring.Results {
	n := int(ev.NumVectors)
	if cap(p.scratch) < n {
		p.scratch = make([]float32, n)
	}
	p.scratch = p.scratch[:n]

	buf := ev.Features.Bytes()
	dim := p.FeatureDim
	vec := make([]float32, dim) // per-vector scratch, reused for every vector of this event
	for i := 0; i < n; i++ {
		off := i * dim * 4
		for j := 0; j < dim; j++ {
			bits := binary.LittleEndian.Uint32(buf[off+j*4:])
			vec[j] = math.Float32frombits(bits)
		}
		p.scratch[i] = p.Reduce(vec)
	}

	if n <= respring.InlineResultCapacity {
		return respring.NewInline(p.scratch)
	}

	for {
		slice, err := p.ResultPool.Alloc(n * 4)
		if err == nil {
			return respring.NewPooled(slice.Freeze(), p.scratch)
		}
		if err == ringpool.ErrTooLarge {
			if p.Metrics != nil {
				p.Metrics.PoolTooLarge.Add(1)
			}
			panic("batch: result pool capacity smaller than a single response — misconfigured")
		}
		if p.Metrics != nil {
			p.Metrics.PoolExhausted.Add(1)
		}
		if p.Stop.Load() {
			return respring.Results{}
		}
		runtime.Gosched()
	}
}
