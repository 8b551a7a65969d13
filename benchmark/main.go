// Package main provides a benchmark tool for the main-thread dispatcher.
// Producer goroutines enqueue no-op tasks while a host loop drains them every frame,
// and the tool reports enqueue throughput and end-to-end queue latency.
//
// Usage:
//
//	go run benchmark/main.go -tasks 100000 -producers 10 -frame 1ms
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/guido-cesarano/editorbridge/pkg/dispatch"
	"github.com/guido-cesarano/editorbridge/pkg/hostloop"
	"github.com/rs/zerolog"
)

func main() {
	numTasks := flag.Int("tasks", 100000, "Number of tasks to enqueue")
	numProducers := flag.Int("producers", 10, "Number of concurrent producers")
	frame := flag.Duration("frame", time.Millisecond, "Host loop frame interval")
	flag.Parse()

	if *numProducers <= 0 || *numTasks < *numProducers {
		fmt.Fprintln(os.Stderr, "benchmark: need at least one task per producer")
		os.Exit(2)
	}

	d := dispatch.New(dispatch.WithLogger(zerolog.Nop()))
	loop := hostloop.New(*frame, zerolog.Nop())

	var drained atomic.Int64
	var drains atomic.Int64
	loop.OnUpdate(func() {
		n, _ := d.Drain()
		if n > 0 {
			drained.Add(int64(n))
			drains.Add(1)
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		loop.Run(ctx)
	}()

	fmt.Printf("Dispatcher Benchmark\n")
	fmt.Printf("====================\n")
	fmt.Printf("Tasks to enqueue: %d\n", *numTasks)
	fmt.Printf("Concurrent producers: %d\n", *numProducers)
	fmt.Printf("Frame interval: %s\n\n", *frame)

	// Enqueue phase
	fmt.Printf("Starting enqueue phase...\n")
	tasksPerProducer := *numTasks / *numProducers
	total := int64(tasksPerProducer * *numProducers)
	latencies := make([]time.Duration, total)

	startEnqueue := time.Now()
	var wg sync.WaitGroup
	var enqueued atomic.Int64
	for i := 0; i < *numProducers; i++ {
		wg.Add(1)
		go func(producerID int) {
			defer wg.Done()
			for j := 0; j < tasksPerProducer; j++ {
				slot := producerID*tasksPerProducer + j
				queuedAt := time.Now()
				if err := d.Enqueue(func() { latencies[slot] = time.Since(queuedAt) }); err != nil {
					fmt.Printf("Error enqueuing: %v\n", err)
					return
				}
				enqueued.Add(1)
			}
		}(i)
	}
	wg.Wait()
	enqueueTime := time.Since(startEnqueue)

	fmt.Printf("✓ Enqueued %d tasks in %s\n", enqueued.Load(), enqueueTime)
	fmt.Printf("  Throughput: %.2f tasks/sec\n\n", float64(enqueued.Load())/enqueueTime.Seconds())

	fmt.Printf("Waiting for the host loop to drain...\n")
	for drained.Load() < enqueued.Load() {
		time.Sleep(10 * time.Millisecond)
	}
	totalTime := time.Since(startEnqueue)

	cancel()
	<-loopDone

	done := latencies[:drained.Load()]
	sort.Slice(done, func(i, j int) bool { return done[i] < done[j] })

	fmt.Printf("\n✓ All tasks executed in %s over %d drains (%d frames)\n", totalTime, drains.Load(), loop.Frames())
	fmt.Printf("  Overall throughput: %.2f tasks/sec\n", float64(drained.Load())/totalTime.Seconds())
	if len(done) > 0 {
		fmt.Printf("  Queue latency p50: %s\n", percentile(done, 0.50))
		fmt.Printf("  Queue latency p99: %s\n", percentile(done, 0.99))
		fmt.Printf("  Queue latency max: %s\n", done[len(done)-1])
	}
}

// percentile expects sorted input.
func percentile(sorted []time.Duration, p float64) time.Duration {
	idx := int(float64(len(sorted)-1) * p)
	return sorted[idx]
}
