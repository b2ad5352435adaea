// Package server performs startup assembly (spec §4.H): binding the
// reuse-port listening socket, constructing a buffer pool, response
// ring, eventfd, and io_uring instance per IO thread, wiring a
// single-producer request ring between the IO thread and the batch
// processor, and launching every thread pinned where supported.
package server

import "time"

// Config holds every tunable named in spec §3/§4, with the reference
// values as defaults (spec "reference value" / "reference N").
type Config struct {
	Port int

	FeatureDim           int
	MaxVectorsPerRequest int

	ReadBufSize   int
	RequestRing   int // DISRUPTOR_SIZE
	ResponseRing  int // RESPONSE_QUEUE_SIZE
	FeaturePool   int // bytes; per IO thread
	ResultPool    int // bytes; per IO thread
	IORingEntries int

	ShutdownTimeout time.Duration

	MetricsEnabled  bool
	MetricsInterval time.Duration

	LogFilename string // empty = stderr
}

// DefaultConfig returns the reference configuration from spec §3/§6.
func DefaultConfig() *Config {
	return &Config{
		Port:                 9900,
		FeatureDim:           16,
		MaxVectorsPerRequest: 64,
		ReadBufSize:          64 * 1024,
		RequestRing:          1 << 16, // 65536
		ResponseRing:         1 << 13, // 8192
		FeaturePool:          4 << 20, // 4 MiB
		ResultPool:           1 << 20, // 1 MiB
		IORingEntries:        4096,
		ShutdownTimeout:      10 * time.Second,
		MetricsEnabled:       false,
		MetricsInterval:      10 * time.Second,
	}
}

// Option customizes a Config before the server is built.
type Option func(*Config)

func WithPort(port int) Option {
	return func(c *Config) { c.Port = port }
}

func WithFeatureDim(dim int) Option {
	return func(c *Config) { c.FeatureDim = dim }
}

func WithMaxVectorsPerRequest(n int) Option {
	return func(c *Config) { c.MaxVectorsPerRequest = n }
}

func WithMetrics(enabled bool, interval time.Duration) Option {
	return func(c *Config) {
		c.MetricsEnabled = enabled
		if interval > 0 {
			c.MetricsInterval = interval
		}
	}
}

func WithLogFile(path string) Option {
	return func(c *Config) { c.LogFilename = path }
}
