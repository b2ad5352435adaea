// Package respring implements the per-IO-thread response ring: a
// bounded SPSC queue of InferenceResponses from the batch processor
// (producer) to its owning IO thread (consumer), paired with an eventfd
// wakeup (spec §4.D).
package respring

import "sync/atomic"

// Response is one response-ring slot.
type Response struct {
	ConnKey    uint32
	RequestSeq uint64
	NumVectors uint16
	Results    Results
}

// Ring is the SPSC response disruptor for one IO thread.
type Ring struct {
	slots []Response
	mask  uint64

	published atomic.Uint64 // producer's release-store cursor
	consumed  atomic.Uint64 // consumer's cursor, read back by the producer

	nextSeq uint64 // producer-local
}

// New builds a ring of the given capacity, which must be a power of two.
func New(capacity int) *Ring {
	if capacity <= 0 || capacity&(capacity-1) != 0 {
		panic("respring: capacity must be a power of two")
	}
	return &Ring{
		slots: make([]Response, capacity),
		mask:  uint64(capacity - 1),
	}
}

func (r *Ring) Cap() int { return len(r.slots) }

// TryPublish publishes resp if there is free space, returning false
// (spin-wait is the caller's responsibility, spec §4.D backpressure)
// when the ring is full. A full response ring never drops data — the
// producer must retry, since result computation already happened and
// would otherwise be lost.
func (r *Ring) TryPublish(resp Response) bool {
	consumed := r.consumed.Load()
	if r.nextSeq-consumed >= uint64(len(r.slots)) {
		return false
	}
	idx := r.nextSeq & r.mask
	r.slots[idx] = resp
	r.nextSeq++
	r.published.Store(r.nextSeq)
	return true
}

// Published returns the producer's publish cursor.
func (r *Ring) Published() uint64 { return r.published.Load() }

// Slot returns the response at absolute sequence seq.
func (r *Ring) Slot(seq uint64) *Response { return &r.slots[seq&r.mask] }

// Advance publishes the consumer's cursor up to seq.
func (r *Ring) Advance(seq uint64) { r.consumed.Store(seq) }
