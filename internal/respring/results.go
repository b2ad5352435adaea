package respring

import (
	"encoding/binary"
	"math"

	"github.com/momentics/inferd/internal/ringpool"
)

// InlineResultCapacity is the largest result count stored inline,
// avoiding a pool round-trip for the common small-batch case.
const InlineResultCapacity = 8

// Results is the in-memory ResultStorage for one InferenceResponse: an
// inline fixed array for small, common vector counts, or a slice from
// the response-side ring-arena pool for larger batches (spec §3). Both
// forms store the results pre-serialized as little-endian float32 bytes
// so the write path (spec §4.E scatter-gather) never re-encodes them.
type Results struct {
	n           int
	inlineBytes [InlineResultCapacity * 4]byte
	pool        ringpool.Slice // zero value when inline is used
}

// NewInline builds a Results backed by the fixed inline array. len(vals)
// must be <= InlineResultCapacity.
func NewInline(vals []float32) Results {
	var r Results
	r.n = len(vals)
	off := 0
	for _, v := range vals {
		binary.LittleEndian.PutUint32(r.inlineBytes[off:], math.Float32bits(v))
		off += 4
	}
	return r
}

// NewPooled builds a Results backed by a pool slice and writes vals into
// it as little-endian float32 bytes.
func NewPooled(slice ringpool.Slice, vals []float32) Results {
	buf := slice.Bytes()
	off := 0
	for _, v := range vals {
		binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(v))
		off += 4
	}
	return Results{n: len(vals), pool: slice}
}

// Len returns the number of result values.
func (r Results) Len() int { return r.n }

// Bytes returns the raw little-endian float32 payload bytes — exactly
// what belongs on the wire after the response's 1-byte count header.
func (r Results) Bytes() []byte {
	if !r.pool.IsZero() {
		return r.pool.Bytes()
	}
	return r.inlineBytes[:r.n*4]
}

// At returns the i-th result value.
func (r Results) At(i int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(r.Bytes()[i*4:]))
}

// AppendTo appends all result values to dst and returns the extended slice.
func (r Results) AppendTo(dst []float32) []float32 {
	for i := 0; i < r.n; i++ {
		dst = append(dst, r.At(i))
	}
	return dst
}

// Release returns any pool-backed storage to its arena. Safe to call on
// inline-backed Results (no-op).
func (r Results) Release() {
	r.pool.Release()
}
