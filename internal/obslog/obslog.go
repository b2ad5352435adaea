// Package obslog builds the process's stdlib *log.Logger, backed by an
// agilira/lethe rotating file writer when a log file path is
// configured, or os.Stderr otherwise. Every other package in this
// module takes a plain *log.Logger — obslog is the only place that
// knows about the rotation backend.
package obslog

import (
	"io"
	"log"
	"os"

	"github.com/agilira/lethe"
)

// Options configures the rotating backend. A zero value writes to
// os.Stderr with no rotation.
type Options struct {
	// Filename, if non-empty, routes log output through a lethe.Logger
	// at this path instead of os.Stderr.
	Filename   string
	MaxSizeStr string // e.g. "100MB"; defaults to "100MB" when Filename is set
	MaxBackups int
	Compress   bool
}

// New builds a *log.Logger and returns it along with an io.Closer that
// flushes and closes the rotation backend (a no-op when Filename is
// empty). The caller should defer closer.Close() in main.
func New(opts Options) (*log.Logger, io.Closer, error) {
	if opts.Filename == "" {
		return log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds), nopCloser{}, nil
	}

	maxSize := opts.MaxSizeStr
	if maxSize == "" {
		maxSize = "100MB"
	}
	rotator := &lethe.Logger{
		Filename:   opts.Filename,
		MaxSizeStr: maxSize,
		MaxBackups: opts.MaxBackups,
		Compress:   opts.Compress,
	}
	return log.New(rotator, "", log.LstdFlags|log.Lmicroseconds), rotator, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
