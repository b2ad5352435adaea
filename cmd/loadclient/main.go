// Command loadclient is a reference traffic generator for inferd
// (spec §8 "traffic generator"): it dials N parallel connections, each
// pipelining fixed-size request frames and measuring round-trip
// latency against its own send-time FIFO.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"net"
	"os"
	"os/signal"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"

	"github.com/momentics/inferd/internal/wire"
)

func main() {
	addr := flag.String("addr", "localhost:9900", "server host:port")
	concurrency := flag.Int("concurrency", 1, "parallel connections")
	featureDim := flag.Int("feature-dim", 16, "feature vector dimension, must match the server")
	vectorsPerReq := flag.Int("vectors", 1, "vectors per request frame")
	pipeline := flag.Int("pipeline", 1, "in-flight requests per connection before waiting on a response")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	var totalRequests, totalLatencyNs int64

	go func() {
		t := time.NewTicker(time.Second)
		defer t.Stop()
		for range t.C {
			n := atomic.SwapInt64(&totalRequests, 0)
			latSum := atomic.SwapInt64(&totalLatencyNs, 0)
			avg := time.Duration(0)
			if n > 0 {
				avg = time.Duration(latSum / n)
			}
			fmt.Printf("rps=%d avg_latency=%s\n", n, avg)
		}
	}()

	for i := 0; i < *concurrency; i++ {
		go worker(ctx, *addr, *featureDim, *vectorsPerReq, *pipeline, &totalRequests, &totalLatencyNs)
	}

	<-ctx.Done()
	fmt.Println("loadclient: shutting down")
	time.Sleep(200 * time.Millisecond)
}

// worker drives one TCP connection. pendingAt is a single-threaded FIFO
// of send timestamps: one entry per request currently awaiting its
// response, used to measure per-request latency without a correlation
// id on the wire (the protocol is strictly FIFO per connection).
func worker(ctx context.Context, addr string, featureDim, vectorsPerReq, pipeline int, totalRequests, totalLatencyNs *int64) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return
	}
	defer conn.Close()

	pendingAt := queue.New()
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	respBuf := make([]byte, wire.ResponseLen(vectorsPerReq))
	for {
		for pendingAt.Length() < pipeline {
			vectors := make([][]float32, vectorsPerReq)
			for i := range vectors {
				v := make([]float32, featureDim)
				for j := range v {
					v[j] = rng.Float32()
				}
				vectors[i] = v
			}
			frame := wire.EncodeRequest(vectors)
			pendingAt.Add(time.Now())
			if _, err := conn.Write(frame); err != nil {
				return
			}
		}

		if _, err := readFull(conn, respBuf); err != nil {
			return
		}
		sentAt := pendingAt.Remove().(time.Time)
		atomic.AddInt64(totalRequests, 1)
		atomic.AddInt64(totalLatencyNs, int64(time.Since(sentAt)))
	}
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}
