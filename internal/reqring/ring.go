// Package reqring implements the request ring: a bounded, lock-free,
// single-producer/single-consumer disruptor of InferenceEvents between
// an IO thread (producer) and the batch processor (consumer). Capacity
// must be a power of two (spec §4.C).
package reqring

import (
	"sync/atomic"

	"github.com/momentics/inferd/internal/ringpool"
)

// Event is one request-ring slot: a parsed, not-yet-computed request.
type Event struct {
	ConnKey    uint32
	RequestSeq uint64
	NumVectors uint16
	ThreadID   uint16
	Features   ringpool.Slice
}

// Ring is the SPSC request disruptor. One producer (IO thread) calls
// Publish; one consumer (batch processor) calls Published/Slot/Advance.
type Ring struct {
	slots []Event
	mask  uint64

	// published is a release-store cursor: the producer stores the
	// count of slots fully written so far; the consumer load-acquires
	// it to know how far it may safely read.
	published atomic.Uint64

	// consumed is the consumer's own cursor, published back to the
	// producer so it can detect lapping (spec §4.C backpressure).
	consumed atomic.Uint64

	// nextSeq is producer-local: no other goroutine touches it.
	nextSeq uint64
}

// New builds a ring of the given capacity, which must be a power of two.
func New(capacity int) *Ring {
	if capacity <= 0 || capacity&(capacity-1) != 0 {
		panic("reqring: capacity must be a power of two")
	}
	return &Ring{
		slots: make([]Event, capacity),
		mask:  uint64(capacity - 1),
	}
}

// Cap returns the ring's fixed capacity.
func (r *Ring) Cap() int { return len(r.slots) }

// Publish attempts to publish ev as the next event. It returns false
// (without consuming anything) if the producer's next sequence would
// lap the consumer's cursor — the caller (IO thread) must retry on its
// next loop turn, keeping the parsed bytes in its read buffer (spec
// §4.C, §4.E). On success, if the overwritten slot held a live feature
// slice, that slice's Release() has already been called (on this, the
// producer, thread) before the new value was written.
func (r *Ring) Publish(ev Event) bool {
	consumed := r.consumed.Load()
	if r.nextSeq-consumed >= uint64(len(r.slots)) {
		return false
	}

	idx := r.nextSeq & r.mask
	prev := r.slots[idx]
	if !prev.Features.IsZero() {
		prev.Features.Release()
	}
	r.slots[idx] = ev
	r.nextSeq++
	r.published.Store(r.nextSeq)
	return true
}

// Published returns the producer's release-stored publish cursor. The
// consumer busy-spins on this value.
func (r *Ring) Published() uint64 { return r.published.Load() }

// Slot returns the event at absolute sequence seq. The caller (consumer)
// must only call this for seq < Published().
func (r *Ring) Slot(seq uint64) *Event { return &r.slots[seq&r.mask] }

// Advance publishes the consumer's cursor up to seq (the count of events
// fully processed so far), unblocking producer backpressure.
func (r *Ring) Advance(seq uint64) { r.consumed.Store(seq) }

// Consumed returns the consumer's own published cursor — useful on the
// producer side for occupancy gauges (spec §6).
func (r *Ring) Consumed() uint64 { return r.consumed.Load() }
