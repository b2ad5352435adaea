//go:build !linux

package affinity

import "runtime"

// Pin is a no-op outside Linux: CPU affinity is not portable, and the
// server still runs correctly without pinning, just without the
// cache-locality guarantee (spec §4.H "where supported").
func Pin(cpu int) error { return nil }

// NumCPU returns the number of logical CPUs available to the process.
func NumCPU() int { return runtime.NumCPU() }
