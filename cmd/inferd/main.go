// Command inferd runs the io_uring-driven inference server described
// in spec §4: a TCP listener accepting fixed-dimension feature-vector
// requests and returning one reduced scalar per vector.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/momentics/inferd/internal/server"
)

func main() {
	os.Exit(run())
}

func run() int {
	port := flag.Int("port", 9900, "TCP port to listen on")
	featureDim := flag.Int("feature-dim", 16, "fixed feature vector dimension")
	maxVectors := flag.Int("max-vectors", 64, "maximum vectors per request frame")
	metricsEnabled := flag.Bool("metrics", false, "print periodic throughput/occupancy counters")
	metricsInterval := flag.Duration("metrics-interval", 10*time.Second, "metrics print interval")
	logFile := flag.String("log-file", "", "rotate logs to this file instead of stderr")
	flag.Parse()

	srv, err := server.New(server.DefaultConfig(),
		server.WithPort(*port),
		server.WithFeatureDim(*featureDim),
		server.WithMaxVectorsPerRequest(*maxVectors),
		server.WithMetrics(*metricsEnabled, *metricsInterval),
		server.WithLogFile(*logFile),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "inferd: %v\n", err)
		return 1
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := srv.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "inferd: %v\n", err)
		return 1
	}
	return 0
}
