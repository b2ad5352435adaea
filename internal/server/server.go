package server

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/momentics/inferd/internal/affinity"
	"github.com/momentics/inferd/internal/batch"
	"github.com/momentics/inferd/internal/conn"
	"github.com/momentics/inferd/internal/ioloop"
	"github.com/momentics/inferd/internal/metrics"
	"github.com/momentics/inferd/internal/obslog"
	"github.com/momentics/inferd/internal/reqring"
	"github.com/momentics/inferd/internal/respring"
	"github.com/momentics/inferd/internal/ringpool"
	"github.com/momentics/inferd/internal/wire"
)

// Server owns every long-lived resource assembled at startup: the
// shared listening socket, the one IO thread, and the one batch
// processor of the reference configuration (spec §4.H, §5).
type Server struct {
	cfg *Config

	logger   *log.Logger
	logClose io.Closer

	listenFD int
	thread   *ioloop.Thread
	proc     *batch.Processor
	metrics  *metrics.Counters
	stop     atomic.Bool
}

// New assembles every component named in spec §4.A-G without starting
// any thread. Call Run to start the server.
func New(cfg *Config, opts ...Option) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	c := *cfg
	for _, o := range opts {
		o(&c)
	}

	logger, logClose, err := obslog.New(obslog.Options{Filename: c.LogFilename})
	if err != nil {
		return nil, fmt.Errorf("server: logger: %w", err)
	}

	listenFD, err := reusePortListener(c.Port)
	if err != nil {
		logClose.Close()
		return nil, err
	}

	table := conn.NewTable(conn.MaxConnections)
	reqRing := reqring.New(c.RequestRing)
	respRing := respring.New(c.ResponseRing)
	efd, err := respring.NewEventFD()
	if err != nil {
		closeFD(listenFD)
		logClose.Close()
		return nil, fmt.Errorf("server: eventfd: %w", err)
	}
	featurePool := ringpool.New(c.FeaturePool)
	resultPool := ringpool.New(c.ResultPool)

	var counters *metrics.Counters
	if c.MetricsEnabled {
		counters = metrics.New()
	}

	protocol := wire.Protocol{FeatureDim: c.FeatureDim, MaxVectorsPerRequest: c.MaxVectorsPerRequest}

	s := &Server{cfg: &c, logger: logger, logClose: logClose, listenFD: listenFD, metrics: counters}

	thread, err := ioloop.New(ioloop.Config{
		ID:          0,
		ListenFD:    listenFD,
		Protocol:    protocol,
		FeaturePool: featurePool,
		Request:     reqRing,
		Response:    respRing,
		EventFD:     efd,
		Table:       table,
		RingEntries: c.IORingEntries,
		ReadBufSize: c.ReadBufSize,
		Stop:        &s.stop,
		Metrics:     counters,
		Logger:      logger,
	})
	if err != nil {
		closeFD(listenFD)
		logClose.Close()
		return nil, err
	}
	s.thread = thread

	s.proc = &batch.Processor{
		Request:    reqRing,
		Responses:  []*respring.Ring{respRing},
		EventFDs:   []*respring.EventFD{efd},
		ResultPool: resultPool,
		FeatureDim: c.FeatureDim,
		Reduce:     batch.Sum,
		Stop:       &s.stop,
		Metrics:    counters,
		Logger:     logger,
	}

	return s, nil
}

// Run launches the IO thread and the batch processor, each pinned to
// its own core where supported, and blocks until ctx is cancelled. It
// then stops both threads and waits up to cfg.ShutdownTimeout for them
// to drain (spec §4.H, §5 "shutdown flag").
func (s *Server) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	errCh := make(chan error, 1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := affinity.Pin(0); err != nil {
			s.logger.Printf("server: io thread affinity: %v", err)
		}
		if err := s.thread.Run(); err != nil {
			select {
			case errCh <- fmt.Errorf("io thread: %w", err):
			default:
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := affinity.Pin(affinity.NumCPU() - 1); err != nil {
			s.logger.Printf("server: batch processor affinity: %v", err)
		}
		s.proc.Run()
	}()

	if s.metrics != nil {
		stopPrinter := make(chan struct{})
		defer close(stopPrinter)
		metrics.StartPrinter(s.metrics, s.cfg.MetricsInterval, s.logger, stopPrinter)
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		s.stop.Store(true)
		s.shutdown(&wg)
		return err
	}

	s.stop.Store(true)
	return s.shutdown(&wg)
}

func (s *Server) shutdown(wg *sync.WaitGroup) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(s.cfg.ShutdownTimeout):
		s.logger.Printf("server: shutdown timeout after %s; threads did not drain", s.cfg.ShutdownTimeout)
	}

	s.thread.Close()
	closeFD(s.listenFD)
	return s.logClose.Close()
}
