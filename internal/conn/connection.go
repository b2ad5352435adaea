// Package conn implements the per-connection read/write state machine:
// read-buffer accumulation and compaction, the scatter-gather write
// queue, and the Open/Closing lifecycle (spec §4.E).
package conn

import "github.com/momentics/inferd/internal/respring"

// State is a connection's lifecycle stage.
type State int

const (
	// Open accepts new reads and publishes new requests.
	Open State = iota
	// Closing has seen EOF, a fatal I/O error, or a protocol error; no
	// new requests may be published, and the IO thread waits for both
	// inflight flags to clear before removing the connection.
	Closing
)

// pendingWrite is one queued response: a 1-byte header and a results
// payload, each independently tracked for partial-write resumption.
type pendingWrite struct {
	header    [1]byte
	headerOff int // 0 or 1
	results   respring.Results
	payloadOff int
}

func (w *pendingWrite) headerRemaining() []byte {
	if w.headerOff >= len(w.header) {
		return nil
	}
	return w.header[w.headerOff:]
}

func (w *pendingWrite) payloadRemaining() []byte {
	b := w.results.Bytes()
	if w.payloadOff >= len(b) {
		return nil
	}
	return b[w.payloadOff:]
}

func (w *pendingWrite) done() bool {
	return w.headerOff >= len(w.header) && w.payloadOff >= len(w.results.Bytes())
}

// Connection is one accepted socket's mutable state.
type Connection struct {
	FD  int
	Key uint32 // slab index (low 16 bits) + generation (high 16 bits)

	State State

	ReadBuf []byte // fixed capacity, reused across reads
	ReadLen int    // fill level

	// PendingRetry is set when a parse succeeded but the ring could not
	// accept the event (pool exhaustion or request-ring full); the
	// already-consumed bytes are NOT compacted away until this clears
	// (spec §4.E).
	PendingRetry bool

	ReadInflight  bool
	WriteInflight bool

	NextRequestSeq uint64

	writeQueue []*pendingWrite
}

// New allocates a connection record with a read buffer of the given
// fixed capacity.
func New(fd int, key uint32, readBufSize int) *Connection {
	return &Connection{
		FD:      fd,
		Key:     key,
		ReadBuf: make([]byte, readBufSize),
	}
}

// Reset clears a connection record for reuse from the slab free list.
func (c *Connection) Reset(fd int, key uint32) {
	c.FD = fd
	c.Key = key
	c.State = Open
	c.ReadLen = 0
	c.PendingRetry = false
	c.ReadInflight = false
	c.WriteInflight = false
	c.NextRequestSeq = 0
	c.writeQueue = c.writeQueue[:0]
}

// Compact discards the first n consumed bytes from the read buffer,
// sliding any remaining unparsed bytes to the front (spec §4.E).
func (c *Connection) Compact(n int) {
	if n <= 0 {
		return
	}
	remaining := c.ReadLen - n
	if remaining > 0 {
		copy(c.ReadBuf[:remaining], c.ReadBuf[n:c.ReadLen])
	}
	c.ReadLen = remaining
}

// FreeReadSpace returns the writable tail of the read buffer for the
// next read completion to land in.
func (c *Connection) FreeReadSpace() []byte {
	return c.ReadBuf[c.ReadLen:]
}

// EnqueueResponse appends a response's header+payload pair to the write
// queue.
func (c *Connection) EnqueueResponse(numVectors uint16, results respring.Results) {
	w := &pendingWrite{results: results}
	w.header[0] = byte(numVectors)
	c.writeQueue = append(c.writeQueue, w)
}

// HasPendingWrites reports whether any queued response still has
// unsent bytes.
func (c *Connection) HasPendingWrites() bool {
	return len(c.writeQueue) > 0
}

// DiscardPendingWrites releases all queued (but not yet sent) responses
// without writing them — used when a Closing connection's writes are
// abandoned.
func (c *Connection) DiscardPendingWrites() {
	for _, w := range c.writeQueue {
		w.results.Release()
	}
	c.writeQueue = c.writeQueue[:0]
}

// IOVec is a platform-independent scatter-gather segment; ioloop
// converts these to unix.Iovec immediately before submission.
type IOVec struct {
	Base []byte
}

// BuildIovecs appends one IOVec per still-unsent header/payload segment
// across the whole write queue, in FIFO order, into dst (reusing its
// backing array) and returns the extended slice.
func (c *Connection) BuildIovecs(dst []IOVec) []IOVec {
	dst = dst[:0]
	for _, w := range c.writeQueue {
		if h := w.headerRemaining(); len(h) > 0 {
			dst = append(dst, IOVec{Base: h})
		}
		if p := w.payloadRemaining(); len(p) > 0 {
			dst = append(dst, IOVec{Base: p})
		}
	}
	return dst
}

// AdvanceWritten accounts for n bytes accepted by a writev completion:
// it skips fully sent segments and trims the first partially sent one,
// releasing and popping any pendingWrite that becomes fully drained
// (spec §4.E).
func (c *Connection) AdvanceWritten(n int) {
	for n > 0 && len(c.writeQueue) > 0 {
		w := c.writeQueue[0]
		if h := w.headerRemaining(); len(h) > 0 {
			take := n
			if take > len(h) {
				take = len(h)
			}
			w.headerOff += take
			n -= take
			if n == 0 {
				break
			}
		}
		if p := w.payloadRemaining(); len(p) > 0 {
			take := n
			if take > len(p) {
				take = len(p)
			}
			w.payloadOff += take
			n -= take
		}
		if w.done() {
			w.results.Release()
			c.writeQueue = c.writeQueue[1:]
		} else {
			break
		}
	}
}
