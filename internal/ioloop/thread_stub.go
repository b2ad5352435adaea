//go:build !linux

package ioloop

import (
	"errors"
	"log"
	"sync/atomic"

	"github.com/momentics/inferd/internal/conn"
	"github.com/momentics/inferd/internal/metrics"
	"github.com/momentics/inferd/internal/reqring"
	"github.com/momentics/inferd/internal/respring"
	"github.com/momentics/inferd/internal/ringpool"
	"github.com/momentics/inferd/internal/wire"
)

// Config mirrors the Linux build's field set so callers (internal/server)
// compile unchanged on every platform; only Linux can actually run a
// thread, since io_uring is Linux-only (spec §6 "Requires a kernel
// supporting io_uring").
type Config struct {
	ID       uint16
	ListenFD int
	Protocol wire.Protocol

	FeaturePool *ringpool.Pool
	Request     *reqring.Ring
	Response    *respring.Ring
	EventFD     *respring.EventFD
	Table       *conn.Table

	RingEntries int
	ReadBufSize int

	Stop    *atomic.Bool
	Metrics *metrics.Counters
	Logger  *log.Logger
}

// Thread is an unusable placeholder outside Linux.
type Thread struct{}

// ErrUnsupported is returned by New on any non-Linux platform.
var ErrUnsupported = errors.New("ioloop: io_uring is only available on linux")

func New(cfg Config) (*Thread, error) { return nil, ErrUnsupported }

func (t *Thread) Run() error { return ErrUnsupported }

func (t *Thread) Close() {}
