//go:build linux

package ioloop

import (
	"fmt"
	"log"
	"sync/atomic"
	"syscall"
	"unsafe"

	"github.com/pawelgaczynski/giouring"
	"golang.org/x/sys/unix"

	"github.com/momentics/inferd/internal/conn"
	"github.com/momentics/inferd/internal/metrics"
	"github.com/momentics/inferd/internal/reqring"
	"github.com/momentics/inferd/internal/respring"
	"github.com/momentics/inferd/internal/ringpool"
	"github.com/momentics/inferd/internal/wire"
)

const (
	defaultRingEntries = 4096
	defaultReadBufSize = 64 * 1024
	cqeBatchSize       = 256
)

// Config bundles everything one IO thread needs at construction — the
// producer-side handles of spec §4.F's owned resources (request-ring
// producer, response-ring consumer, buffer pool, eventfd), plus the
// shared listening socket and shutdown flag.
type Config struct {
	ID       uint16
	ListenFD int
	Protocol wire.Protocol

	FeaturePool *ringpool.Pool
	Request     *reqring.Ring
	Response    *respring.Ring
	EventFD     *respring.EventFD
	Table       *conn.Table

	RingEntries int // defaults to defaultRingEntries
	ReadBufSize int // defaults to defaultReadBufSize; must exceed one max-size frame

	Stop    *atomic.Bool
	Metrics *metrics.Counters
	Logger  *log.Logger
}

// Thread is one IO thread: one io_uring instance plus the bookkeeping
// needed to dispatch its completions (spec §4.F).
type Thread struct {
	cfg  Config
	ring *giouring.Ring

	respConsumed uint64
	efdBuf       [8]byte

	// pinned keeps a submitted writev's iovec array reachable until its
	// completion fires — io_uring reads the array contents at submission
	// time, but nothing else in Go would otherwise keep it alive that
	// long once submitWrite returns.
	pinned map[uint32][]unix.Iovec
}

// New constructs an IO thread's io_uring instance. The thread must be
// run from the OS thread it will remain pinned to (affinity.Pin), but
// New itself performs no pinning.
func New(cfg Config) (*Thread, error) {
	if cfg.RingEntries == 0 {
		cfg.RingEntries = defaultRingEntries
	}
	if cfg.ReadBufSize == 0 {
		cfg.ReadBufSize = defaultReadBufSize
	}
	ring, err := giouring.CreateRing(uint32(cfg.RingEntries))
	if err != nil {
		return nil, fmt.Errorf("ioloop: create ring: %w", err)
	}
	return &Thread{
		cfg:    cfg,
		ring:   ring,
		pinned: make(map[uint32][]unix.Iovec),
	}, nil
}

// Close releases the io_uring instance. Call only after Run returns.
func (t *Thread) Close() {
	t.ring.QueueExit()
}

// Run drives the uring loop until the shared Stop flag is observed,
// submitting a persistent accept and a persistent eventfd read first
// (spec §4.F).
func (t *Thread) Run() error {
	if err := t.submitAccept(); err != nil {
		return err
	}
	if err := t.submitEventFD(); err != nil {
		return err
	}

	cqes := make([]*giouring.CompletionQueueEvent, cqeBatchSize)
	for {
		if t.cfg.Stop.Load() {
			t.drainShutdown()
			return nil
		}

		if _, err := t.ring.SubmitAndWait(1); err != nil {
			if isTemporary(err) {
				continue
			}
			return fmt.Errorf("ioloop[%d]: submit_and_wait: %w", t.cfg.ID, err)
		}

		peeked := t.ring.PeekBatchCQE(cqes)
		if t.cfg.Metrics != nil {
			if peeked == 0 {
				t.cfg.Metrics.PollNoEvents.Add(1)
			} else {
				t.cfg.Metrics.PollEvents.Add(1)
			}
		}
		for i := uint32(0); i < peeked; i++ {
			t.dispatch(cqes[i])
		}
		t.ring.CQAdvance(peeked)

		t.retryPending()
		t.recordOccupancy()
	}
}

func (t *Thread) dispatch(cqe *giouring.CompletionQueueEvent) {
	op, key := splitUserData(cqe.UserData)
	switch op {
	case OpAccept:
		t.onAccept(cqe)
	case OpRead:
		t.onRead(key, cqe)
	case OpWrite:
		t.onWrite(key, cqe)
	case OpEventFD:
		t.onEventFD(cqe)
	}
}

// getSQE reserves a submission queue entry, flushing the queue to the
// kernel and retrying once if the queue was full (spec §4.F "submission
// queue full" policy).
func (t *Thread) getSQE() *giouring.SubmissionQueueEntry {
	if sqe := t.ring.GetSQE(); sqe != nil {
		return sqe
	}
	if _, err := t.ring.SubmitAndWait(0); err != nil {
		return nil
	}
	return t.ring.GetSQE()
}

func (t *Thread) submitAccept() error {
	sqe := t.getSQE()
	if sqe == nil {
		return fmt.Errorf("ioloop[%d]: no SQE available for accept", t.cfg.ID)
	}
	sqe.PrepareAccept(t.cfg.ListenFD, 0, 0, 0)
	sqe.UserData = userData(OpAccept, 0)
	return nil
}

func (t *Thread) submitEventFD() error {
	sqe := t.getSQE()
	if sqe == nil {
		return fmt.Errorf("ioloop[%d]: no SQE available for eventfd read", t.cfg.ID)
	}
	sqe.PrepareRead(t.cfg.EventFD.FD, uintptr(unsafe.Pointer(&t.efdBuf[0])), uint32(len(t.efdBuf)), 0)
	sqe.UserData = userData(OpEventFD, 0)
	return nil
}

func (t *Thread) submitRead(c *conn.Connection) {
	buf := c.FreeReadSpace()
	if len(buf) == 0 {
		return
	}
	sqe := t.getSQE()
	if sqe == nil {
		return // read_inflight stays false; retried on a later loop turn
	}
	sqe.PrepareRecv(c.FD, uintptr(unsafe.Pointer(&buf[0])), uint32(len(buf)), 0)
	sqe.UserData = userData(OpRead, c.Key)
	c.ReadInflight = true
}

func (t *Thread) submitWrite(c *conn.Connection) {
	vecs := c.BuildIovecs(nil)
	if len(vecs) == 0 {
		return
	}
	uv := make([]unix.Iovec, len(vecs))
	for i, v := range vecs {
		uv[i].Base = &v.Base[0]
		uv[i].SetLen(len(v.Base))
	}
	sqe := t.getSQE()
	if sqe == nil {
		return
	}
	sqe.PrepareWritev(c.FD, uintptr(unsafe.Pointer(&uv[0])), uint32(len(uv)), 0)
	sqe.UserData = userData(OpWrite, c.Key)
	c.WriteInflight = true
	t.pinned[c.Key] = uv
}

func (t *Thread) onAccept(cqe *giouring.CompletionQueueEvent) {
	if cqe.Res >= 0 {
		fd := int(cqe.Res)
		_ = unix.SetNonblock(fd, true)
		_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
		if c, ok := t.cfg.Table.Insert(fd, t.cfg.ReadBufSize); ok {
			t.submitRead(c)
		} else {
			unix.Close(fd)
		}
	} else if t.cfg.Logger != nil {
		t.cfg.Logger.Printf("ioloop[%d]: accept error res=%d", t.cfg.ID, cqe.Res)
	}
	if err := t.submitAccept(); err != nil && t.cfg.Logger != nil {
		t.cfg.Logger.Printf("ioloop[%d]: %v", t.cfg.ID, err)
	}
}

func (t *Thread) onRead(key uint32, cqe *giouring.CompletionQueueEvent) {
	c, ok := t.cfg.Table.Lookup(key)
	if !ok {
		return // stale completion for a recycled or removed slot
	}
	c.ReadInflight = false

	switch {
	case cqe.Res < 0:
		if isTemporaryErrno(cqe.Res) {
			t.submitRead(c)
			return
		}
		t.beginClose(c)
		return
	case cqe.Res == 0:
		t.beginClose(c)
		return
	}

	c.ReadLen += int(cqe.Res)
	t.parseAndPublish(c)

	if c.State == conn.Open && !c.PendingRetry && !c.ReadInflight && len(c.FreeReadSpace()) > 0 {
		t.submitRead(c)
	}
}

// parseAndPublish drains every complete frame currently sitting in c's
// read buffer, publishing one InferenceEvent per frame and compacting
// consumed bytes away. It stops (without compacting) on the first
// incomplete frame, protocol error, or backpressure condition, per
// spec §4.C/§4.E.
func (t *Thread) parseAndPublish(c *conn.Connection) {
	for {
		res := t.cfg.Protocol.TryParseRequest(c.ReadBuf[:c.ReadLen])
		switch res.Status {
		case wire.StatusIncomplete:
			c.PendingRetry = false
			return
		case wire.StatusError:
			t.beginClose(c)
			return
		}

		// Check request-ring space before allocating, so a full ring never
		// leaves a fresh feature slice that would have to be released out
		// of allocation order.
		if req := t.cfg.Request; req.Published()-req.Consumed() >= uint64(req.Cap()) {
			if t.cfg.Metrics != nil {
				t.cfg.Metrics.ReqRingFull.Add(1)
			}
			c.PendingRetry = true
			return
		}

		m, err := t.cfg.FeaturePool.Alloc(len(res.Features))
		if err != nil {
			if err == ringpool.ErrTooLarge {
				if t.cfg.Metrics != nil {
					t.cfg.Metrics.PoolTooLarge.Add(1)
				}
				t.beginClose(c)
				return
			}
			if t.cfg.Metrics != nil {
				t.cfg.Metrics.PoolExhausted.Add(1)
			}
			c.PendingRetry = true
			return
		}
		copy(m.Bytes(), res.Features)
		features := m.Freeze()

		ev := reqring.Event{
			ConnKey:    c.Key,
			RequestSeq: c.NextRequestSeq,
			NumVectors: uint16(res.NumVectors),
			ThreadID:   t.cfg.ID,
			Features:   features,
		}
		if !t.cfg.Request.Publish(ev) {
			if t.cfg.Metrics != nil {
				t.cfg.Metrics.ReqRingFull.Add(1)
			}
			features.Release()
			c.PendingRetry = true
			return
		}

		c.NextRequestSeq++
		c.PendingRetry = false
		c.Compact(res.BytesConsumed)
	}
}

func (t *Thread) onWrite(key uint32, cqe *giouring.CompletionQueueEvent) {
	c, ok := t.cfg.Table.Lookup(key)
	if !ok {
		delete(t.pinned, key)
		return
	}
	delete(t.pinned, key)
	c.WriteInflight = false

	if cqe.Res < 0 {
		if isTemporaryErrno(cqe.Res) {
			t.submitWrite(c)
			return
		}
		t.beginClose(c)
		return
	}

	c.AdvanceWritten(int(cqe.Res))
	if t.cfg.Metrics != nil {
		t.cfg.Metrics.Sent.Add(1)
	}
	if c.HasPendingWrites() {
		t.submitWrite(c)
	}
	t.maybeFinishClose(c)
}

func (t *Thread) onEventFD(cqe *giouring.CompletionQueueEvent) {
	if cqe.Res < 0 && !isTemporaryErrno(cqe.Res) && t.cfg.Logger != nil {
		t.cfg.Logger.Printf("ioloop[%d]: eventfd read error res=%d", t.cfg.ID, cqe.Res)
	}
	t.drainResponses()
	if err := t.submitEventFD(); err != nil && t.cfg.Logger != nil {
		t.cfg.Logger.Printf("ioloop[%d]: %v", t.cfg.ID, err)
	}
}

// drainResponses moves every published-but-undrained response into its
// target connection's write queue, discarding responses whose
// connection has already been removed from the table (spec §4.E).
func (t *Thread) drainResponses() {
	r := t.cfg.Response
	published := r.Published()
	for t.respConsumed < published {
		resp := r.Slot(t.respConsumed)
		if c, ok := t.cfg.Table.Lookup(resp.ConnKey); ok && c.State == conn.Open {
			c.EnqueueResponse(resp.NumVectors, resp.Results)
		} else {
			resp.Results.Release()
		}
		t.respConsumed++
	}
	r.Advance(t.respConsumed)
	t.cfg.Table.Each(func(c *conn.Connection) {
		if c.HasPendingWrites() && !c.WriteInflight {
			t.submitWrite(c)
		}
	})
}

// retryPending re-attempts publication for connections whose last parse
// stalled on pool or request-ring backpressure, resubmits a read for
// open connections left without one, and (re)submits writev
// for connections with unsent, not-already-inflight write queues (spec
// §4.F step 3).
func (t *Thread) retryPending() {
	t.cfg.Table.Each(func(c *conn.Connection) {
		if c.State == conn.Open && c.PendingRetry {
			t.parseAndPublish(c)
		}
		if c.State == conn.Open && !c.PendingRetry && !c.ReadInflight && len(c.FreeReadSpace()) > 0 {
			t.submitRead(c)
		}
		if c.HasPendingWrites() && !c.WriteInflight {
			t.submitWrite(c)
		}
		t.maybeFinishClose(c)
	})
}

// recordOccupancy samples the request/response ring occupancy and the
// feature pool's in-use bytes for the optional metrics gauges (spec §6).
// Called once per loop turn; a no-op when metrics are disabled.
func (t *Thread) recordOccupancy() {
	if t.cfg.Metrics == nil {
		return
	}
	req := t.cfg.Request
	t.cfg.Metrics.RecordReqRingOccupancy(int64(req.Published() - req.Consumed()))
	t.cfg.Metrics.RecordRespRingOccupancy(int64(t.cfg.Response.Published() - t.respConsumed))
	t.cfg.Metrics.RecordPoolBytesInUse(int64(t.cfg.FeaturePool.InUse()))
}

func (t *Thread) beginClose(c *conn.Connection) {
	if c.State == conn.Closing {
		return
	}
	c.State = conn.Closing
	c.DiscardPendingWrites()
	t.maybeFinishClose(c)
}

func (t *Thread) maybeFinishClose(c *conn.Connection) {
	if c.State != conn.Closing || c.ReadInflight || c.WriteInflight {
		return
	}
	delete(t.pinned, c.Key)
	unix.Close(c.FD)
	t.cfg.Table.Remove(c.Key)
}

// drainShutdown stops submitting new operations and waits for every
// connection's inflight reads/writes to complete before Run returns
// (spec §5 "server shutdown flag").
func (t *Thread) drainShutdown() {
	cqes := make([]*giouring.CompletionQueueEvent, cqeBatchSize)
	for {
		pending := false
		t.cfg.Table.Each(func(c *conn.Connection) {
			if c.ReadInflight || c.WriteInflight {
				pending = true
			}
		})
		if !pending {
			return
		}
		if _, err := t.ring.SubmitAndWait(1); err != nil && !isTemporary(err) {
			return
		}
		peeked := t.ring.PeekBatchCQE(cqes)
		for i := uint32(0); i < peeked; i++ {
			op, key := splitUserData(cqes[i].UserData)
			if op != OpRead && op != OpWrite {
				continue
			}
			if c, ok := t.cfg.Table.Lookup(key); ok {
				if op == OpRead {
					c.ReadInflight = false
				} else {
					c.WriteInflight = false
				}
			}
		}
		t.ring.CQAdvance(peeked)
	}
}

func isTemporaryErrno(res int32) bool {
	errno := syscall.Errno(-res)
	return errno == syscall.EAGAIN || errno == syscall.EINTR
}

func isTemporary(err error) bool {
	errno, ok := err.(syscall.Errno)
	if !ok {
		return false
	}
	return errno == syscall.EAGAIN || errno == syscall.EINTR || errno == syscall.ETIME
}
