//go:build linux

package respring

import (
	"encoding/binary"

	"golang.org/x/sys/unix"
)

// EventFD wraps a Linux eventfd used to wake an IO thread after one or
// more responses have been published to its Ring (spec §4.D).
type EventFD struct {
	FD int
}

// NewEventFD creates a non-blocking eventfd in counter (not semaphore)
// mode: multiple writes between two reads coalesce, and a read returns
// and clears the accumulated counter (spec "coalescing" / "signal
// idempotence").
func NewEventFD() (*EventFD, error) {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &EventFD{FD: fd}, nil
}

// Signal performs the 8-byte counter-increment write. Called by the
// batch processor after publishing one or more responses.
func (e *EventFD) Signal() error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 1)
	_, err := unix.Write(e.FD, buf[:])
	if err == unix.EAGAIN {
		// Counter is at its max value; the pending notification still
		// stands and the reader will still observe it.
		return nil
	}
	return err
}

// Drain reads and clears the accumulated counter. Returns the count
// observed (>=1) if a notification was pending.
func (e *EventFD) Drain() (uint64, error) {
	var buf [8]byte
	n, err := unix.Read(e.FD, buf[:])
	if err != nil {
		if err == unix.EAGAIN {
			return 0, nil
		}
		return 0, err
	}
	if n != 8 {
		return 0, nil
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// Close releases the eventfd's file descriptor.
func (e *EventFD) Close() error {
	return unix.Close(e.FD)
}
