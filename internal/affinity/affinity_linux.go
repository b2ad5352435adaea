//go:build linux

// Package affinity pins the calling OS thread to a single CPU core, so
// each IO thread and the batch processor thread keep warm caches and
// never migrate mid-loop (spec §4.H "pinned to distinct cores where
// supported").
package affinity

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

// Pin locks the calling goroutine to its OS thread and restricts that
// thread to cpu. The caller must invoke Pin from the goroutine that
// will run the hot loop (e.g. as the first statement of an IO thread's
// or the batch processor's entry point), since runtime.LockOSThread
// only affects the calling goroutine.
func Pin(cpu int) error {
	runtime.LockOSThread()
	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return fmt.Errorf("affinity: sched_setaffinity cpu=%d: %w", cpu, err)
	}
	return nil
}

// NumCPU returns the number of logical CPUs available to the process.
func NumCPU() int {
	return runtime.NumCPU()
}
