//go:build !linux

package respring

import (
	"errors"
	"sync/atomic"
)

// ErrNotSupported is returned by EventFD operations on non-Linux
// platforms; the real io_uring + eventfd transport is Linux-only (spec
// §6 "Requires a kernel supporting io_uring ... and eventfd reads").
// This stub lets the SPSC ring and pool packages build and test
// cross-platform; internal/ioloop itself is gated to linux.
var ErrNotSupported = errors.New("respring: eventfd requires linux")

// EventFD is a software stand-in used only so non-Linux builds compile
// and so ring/pool unit tests can run on any platform.
type EventFD struct {
	counter atomic.Uint64
}

func NewEventFD() (*EventFD, error) {
	return &EventFD{}, nil
}

func (e *EventFD) Signal() error {
	e.counter.Add(1)
	return nil
}

func (e *EventFD) Drain() (uint64, error) {
	return e.counter.Swap(0), nil
}

func (e *EventFD) Close() error {
	return nil
}
