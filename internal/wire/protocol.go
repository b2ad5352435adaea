// Package wire implements the request/response frame codec for the
// inference protocol: a 4-byte little-endian vector count followed by
// packed float32 feature data, and a 1-byte response count followed by
// packed float32 results. No alignment padding, no copies on parse.
package wire

import (
	"encoding/binary"
	"errors"
	"math"
)

// ErrProtocol names a frame that is fatal to the connection:
// num_vectors == 0, or num_vectors greater than MaxVectorsPerRequest.
// TryParseRequest reports such a frame as StatusError; it does not
// return this value.
var ErrProtocol = errors.New("wire: protocol violation")

const (
	// lenPrefixSize is the byte width of the request's num_vectors field.
	lenPrefixSize = 4
	// floatSize is the wire width of a single feature or result value.
	floatSize = 4
)

// Status distinguishes the three outcomes of TryParseRequest.
type Status int

const (
	// StatusIncomplete means buf does not yet hold a full frame.
	StatusIncomplete Status = iota
	// StatusComplete means buf[:BytesConsumed] is one full, valid frame.
	StatusComplete
	// StatusError means the frame is malformed and the connection must close.
	StatusError
)

// ParseResult is the outcome of a single TryParseRequest call.
type ParseResult struct {
	Status Status

	// Populated when Status == StatusComplete.
	NumVectors    uint32
	BytesConsumed int
	// Features is a view into the caller's buffer — [4:BytesConsumed] — and
	// is only valid until the caller mutates or compacts that buffer. The
	// caller decides whether, and where, to copy it (into a pool slice).
	Features []byte

	// Populated when Status == StatusIncomplete: the smallest byte count
	// that would let a further call make progress.
	MinNeeded int
}

// Protocol bundles the two values that size every frame:
// the feature dimension and the maximum vectors per request. Both are
// fixed for the lifetime of a server instance.
type Protocol struct {
	FeatureDim           int
	MaxVectorsPerRequest int
}

// vectorBytes is the wire size, in bytes, of one feature vector.
func (p Protocol) vectorBytes() int {
	return p.FeatureDim * floatSize
}

// TryParseRequest attempts to parse one request frame from the front of
// buf. It never copies feature bytes: Features aliases buf. See
// ParseResult for the three possible outcomes.
func (p Protocol) TryParseRequest(buf []byte) ParseResult {
	if len(buf) < lenPrefixSize {
		return ParseResult{Status: StatusIncomplete, MinNeeded: lenPrefixSize}
	}

	numVectors := binary.LittleEndian.Uint32(buf[:lenPrefixSize])
	if numVectors == 0 || int(numVectors) > p.MaxVectorsPerRequest {
		return ParseResult{Status: StatusError}
	}

	frameLen := lenPrefixSize + int(numVectors)*p.vectorBytes()
	if len(buf) < frameLen {
		return ParseResult{Status: StatusIncomplete, MinNeeded: frameLen}
	}

	return ParseResult{
		Status:        StatusComplete,
		NumVectors:    numVectors,
		BytesConsumed: frameLen,
		Features:      buf[lenPrefixSize:frameLen],
	}
}

// WriteResponse serializes a response frame (one byte count, then
// results as little-endian float32) into dst, which must have at least
// ResponseLen(len(results)) bytes of capacity starting at offset 0. It
// returns the number of bytes written.
func WriteResponse(dst []byte, results []float32) int {
	dst[0] = byte(len(results))
	off := 1
	for _, r := range results {
		binary.LittleEndian.PutUint32(dst[off:], math.Float32bits(r))
		off += floatSize
	}
	return off
}

// ResponseLen returns the wire length of a response frame with n results.
func ResponseLen(n int) int {
	return 1 + n*floatSize
}

// EncodeRequest serializes a request frame (used by the reference load
// test client and by round-trip tests) into a newly allocated slice.
// It returns nil when features is empty.
func EncodeRequest(features [][]float32) []byte {
	n := len(features)
	if n == 0 {
		return nil
	}
	dim := len(features[0])
	out := make([]byte, lenPrefixSize+n*dim*floatSize)
	binary.LittleEndian.PutUint32(out[:lenPrefixSize], uint32(n))
	off := lenPrefixSize
	for _, vec := range features {
		for _, f := range vec {
			binary.LittleEndian.PutUint32(out[off:], math.Float32bits(f))
			off += floatSize
		}
	}
	return out
}

// DecodeResponse parses a response frame produced by WriteResponse. It is
// used by tests and the reference load-test client, not by the server.
func DecodeResponse(buf []byte) (results []float32, consumed int, ok bool) {
	if len(buf) < 1 {
		return nil, 0, false
	}
	n := int(buf[0])
	need := ResponseLen(n)
	if len(buf) < need {
		return nil, 0, false
	}
	results = make([]float32, n)
	off := 1
	for i := range results {
		results[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[off:]))
		off += floatSize
	}
	return results, need, true
}
