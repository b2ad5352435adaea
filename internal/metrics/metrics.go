// Package metrics implements the optional process-wide observation hook
// described in spec §6: monotonic counters and occupancy/peak gauges,
// sampled and printed at a configurable interval (ten seconds by
// default) when enabled. It has no effect on request/response semantics:
// every core component accepts a nil *Counters, which is what the server
// passes when metrics are disabled, and then skips its updates.
package metrics

import (
	"fmt"
	"log"
	"sync/atomic"
	"time"
)

// Counters holds every counter and gauge named in spec §6. Every field
// is independently atomic so hot-path updates never take a lock —
// grounded on control/metrics.go's registry, generalized from a
// string-keyed map to named atomics per the spec's fixed counter set.
type Counters struct {
	Published     atomic.Int64
	Sent          atomic.Int64
	ReqRingFull   atomic.Int64
	RespRingFull  atomic.Int64
	PoolExhausted atomic.Int64
	PoolTooLarge  atomic.Int64
	PollEvents    atomic.Int64
	PollNoEvents  atomic.Int64

	ReqRingOccupancy  atomic.Int64
	ReqRingPeak       atomic.Int64
	RespRingOccupancy atomic.Int64
	RespRingPeak      atomic.Int64
	PoolBytesInUse    atomic.Int64
	PoolBytesPeak     atomic.Int64
}

// New returns a zeroed Counters, ready to use.
func New() *Counters { return &Counters{} }

// RecordReqRingOccupancy updates the current request-ring occupancy
// gauge and its running peak.
func (c *Counters) RecordReqRingOccupancy(n int64) {
	c.ReqRingOccupancy.Store(n)
	raisePeak(&c.ReqRingPeak, n)
}

// RecordRespRingOccupancy updates the current response-ring occupancy
// gauge and its running peak.
func (c *Counters) RecordRespRingOccupancy(n int64) {
	c.RespRingOccupancy.Store(n)
	raisePeak(&c.RespRingPeak, n)
}

// RecordPoolBytesInUse updates the pool-in-use gauge and its peak.
func (c *Counters) RecordPoolBytesInUse(n int64) {
	c.PoolBytesInUse.Store(n)
	raisePeak(&c.PoolBytesPeak, n)
}

func raisePeak(peak *atomic.Int64, n int64) {
	for {
		cur := peak.Load()
		if n <= cur {
			return
		}
		if peak.CompareAndSwap(cur, n) {
			return
		}
	}
}

// Snapshot is a point-in-time copy of every counter and gauge, safe to
// print or serialize.
type Snapshot struct {
	Published, Sent                       int64
	ReqRingFull, RespRingFull              int64
	PoolExhausted, PoolTooLarge            int64
	PollEvents, PollNoEvents               int64
	ReqRingOccupancy, ReqRingPeak          int64
	RespRingOccupancy, RespRingPeak        int64
	PoolBytesInUse, PoolBytesPeak          int64
}

// Snapshot takes a consistent-enough (each field individually atomic)
// snapshot of all counters and gauges.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		Published:         c.Published.Load(),
		Sent:              c.Sent.Load(),
		ReqRingFull:       c.ReqRingFull.Load(),
		RespRingFull:      c.RespRingFull.Load(),
		PoolExhausted:     c.PoolExhausted.Load(),
		PoolTooLarge:      c.PoolTooLarge.Load(),
		PollEvents:        c.PollEvents.Load(),
		PollNoEvents:      c.PollNoEvents.Load(),
		ReqRingOccupancy:  c.ReqRingOccupancy.Load(),
		ReqRingPeak:       c.ReqRingPeak.Load(),
		RespRingOccupancy: c.RespRingOccupancy.Load(),
		RespRingPeak:      c.RespRingPeak.Load(),
		PoolBytesInUse:    c.PoolBytesInUse.Load(),
		PoolBytesPeak:     c.PoolBytesPeak.Load(),
	}
}

func (s Snapshot) String() string {
	return fmt.Sprintf(
		"published=%d sent=%d req_ring_full=%d resp_ring_full=%d pool_exh=%d pool_too_large=%d "+
			"poll_events=%d poll_no_events=%d req_ring_occ=%d req_ring_peak=%d "+
			"resp_ring_occ=%d resp_ring_peak=%d pool_bytes_in_use=%d pool_bytes_peak=%d",
		s.Published, s.Sent, s.ReqRingFull, s.RespRingFull, s.PoolExhausted, s.PoolTooLarge,
		s.PollEvents, s.PollNoEvents, s.ReqRingOccupancy, s.ReqRingPeak,
		s.RespRingOccupancy, s.RespRingPeak, s.PoolBytesInUse, s.PoolBytesPeak,
	)
}

// StartPrinter launches a background goroutine that logs a snapshot
// every interval, until stop fires. Grounded on the ticker-driven
// reporter in examples/stest/client/main.go.
func StartPrinter(c *Counters, interval time.Duration, logger *log.Logger, stop <-chan struct{}) {
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				logger.Print(c.Snapshot().String())
			}
		}
	}()
}
