package dispatch

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDispatcher(opts ...Option) *Dispatcher {
	return New(append([]Option{WithLogger(zerolog.Nop())}, opts...)...)
}

func appendLabel(log *[]string, label string) func() {
	return func() { *log = append(*log, label) }
}

func TestDrainRunsTasksInEnqueueOrder(t *testing.T) {
	d := newTestDispatcher()
	var log []string

	require.NoError(t, d.Enqueue(appendLabel(&log, "A")))
	require.NoError(t, d.Enqueue(appendLabel(&log, "B")))
	require.NoError(t, d.Enqueue(appendLabel(&log, "C")))
	assert.Equal(t, 3, d.Pending())

	ran, err := d.Drain()
	require.NoError(t, err)
	assert.Equal(t, 3, ran)
	assert.Equal(t, []string{"A", "B", "C"}, log)
	assert.Equal(t, 0, d.Pending())

	ran, err = d.Drain()
	require.NoError(t, err)
	assert.Equal(t, 0, ran)
	assert.Equal(t, []string{"A", "B", "C"}, log)
}

func TestDrainOnEmptyQueueIsNoop(t *testing.T) {
	d := newTestDispatcher()
	for i := 0; i < 3; i++ {
		ran, err := d.Drain()
		assert.NoError(t, err)
		assert.Equal(t, 0, ran)
	}
	assert.False(t, d.Draining())
}

func TestTasksEnqueuedDuringDrainRunInNextDrain(t *testing.T) {
	d := newTestDispatcher()
	var log []string

	enqueued := make(chan struct{})
	require.NoError(t, d.Enqueue(func() {
		log = append(log, "A")
		// Same goroutine.
		require.NoError(t, d.Enqueue(appendLabel(&log, "B")))
		// Another goroutine, completed before this task returns.
		go func() {
			defer close(enqueued)
			assert.NoError(t, d.Enqueue(appendLabel(&log, "C")))
		}()
		<-enqueued
	}))

	ran, err := d.Drain()
	require.NoError(t, err)
	assert.Equal(t, 1, ran)
	assert.Equal(t, []string{"A"}, log)
	assert.Equal(t, 2, d.Pending())

	ran, err = d.Drain()
	require.NoError(t, err)
	assert.Equal(t, 2, ran)
	assert.Equal(t, []string{"A", "B", "C"}, log)

	ran, err = d.Drain()
	require.NoError(t, err)
	assert.Equal(t, 0, ran)
	assert.Equal(t, []string{"A", "B", "C"}, log)
}

func TestConcurrentProducers(t *testing.T) {
	d := newTestDispatcher()
	producers := 8
	perProducer := 500

	type entry struct{ producer, seq int }
	var executed []entry

	var wg sync.WaitGroup
	var finished atomic.Bool
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for s := 0; s < perProducer; s++ {
				e := entry{producer: p, seq: s}
				if err := d.Enqueue(func() { executed = append(executed, e) }); err != nil {
					t.Errorf("Enqueue failed: %v", err)
					return
				}
			}
		}(p)
	}
	go func() {
		wg.Wait()
		finished.Store(true)
	}()

	// This goroutine plays the main loop.
	for {
		done := finished.Load()
		_, err := d.Drain()
		require.NoError(t, err)
		if done && d.Pending() == 0 {
			break
		}
		runtime.Gosched()
	}

	require.Len(t, executed, producers*perProducer)
	last := make([]int, producers)
	for i := range last {
		last[i] = -1
	}
	for _, e := range executed {
		assert.Equal(t, last[e.producer]+1, e.seq, "producer %d out of order", e.producer)
		last[e.producer] = e.seq
	}
}

func TestUnsupportedEnvironment(t *testing.T) {
	d := newTestDispatcher(WithMainThreadLoop(false))
	assert.False(t, d.Supported())

	for i := 0; i < 3; i++ {
		err := d.Enqueue(func() { t.Error("task must never run") })
		assert.ErrorIs(t, err, ErrUnsupportedEnvironment)
		assert.Equal(t, 0, d.Pending())
	}

	ran, err := d.Drain()
	assert.ErrorIs(t, err, ErrUnsupportedEnvironment)
	assert.Equal(t, 0, ran)
	assert.Equal(t, 0, d.Close())
}

func TestEnqueueNilTask(t *testing.T) {
	d := newTestDispatcher()
	assert.ErrorIs(t, d.Enqueue(nil), ErrNilTask)
	assert.Equal(t, 0, d.Pending())
}

func TestPanicContinueOnError(t *testing.T) {
	var reported []*TaskExecutionError
	d := newTestDispatcher(WithErrorHandler(func(err *TaskExecutionError) {
		reported = append(reported, err)
	}))
	var log []string

	require.NoError(t, d.EnqueueNamed("A", appendLabel(&log, "A")))
	require.NoError(t, d.EnqueueNamed("B", func() { panic("boom") }))
	require.NoError(t, d.EnqueueNamed("C", appendLabel(&log, "C")))

	ran, err := d.Drain()
	assert.Equal(t, 3, ran)
	assert.Equal(t, []string{"A", "C"}, log)
	assert.Equal(t, 0, d.Pending())

	var execErr *TaskExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, uint64(2), execErr.Ordinal)
	assert.Equal(t, "B", execErr.Label)
	assert.Equal(t, "boom", execErr.Value)
	assert.NotEmpty(t, execErr.Stack)
	require.Len(t, reported, 1)
	assert.Same(t, execErr, reported[0])
}

func TestPanicStopOnErrorKeepsRemainder(t *testing.T) {
	d := newTestDispatcher(WithPolicy(StopOnError))
	var log []string

	require.NoError(t, d.Enqueue(appendLabel(&log, "A")))
	require.NoError(t, d.Enqueue(func() { panic(errors.New("boom")) }))
	require.NoError(t, d.Enqueue(appendLabel(&log, "C")))
	require.NoError(t, d.Enqueue(appendLabel(&log, "D")))

	ran, err := d.Drain()
	assert.Equal(t, 2, ran)
	var execErr *TaskExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, uint64(2), execErr.Ordinal)
	assert.EqualError(t, execErr.Unwrap(), "boom")
	assert.Equal(t, []string{"A"}, log)
	assert.Equal(t, 2, d.Pending())

	require.NoError(t, d.Enqueue(appendLabel(&log, "E")))
	ran, err = d.Drain()
	require.NoError(t, err)
	assert.Equal(t, 3, ran)
	assert.Equal(t, []string{"A", "C", "D", "E"}, log)
}

func TestOrdinalsFollowEnqueueOrder(t *testing.T) {
	d := newTestDispatcher()
	for i := 0; i < 3; i++ {
		i := i
		require.NoError(t, d.EnqueueNamed(fmt.Sprintf("t%d", i), func() { panic(i) }))
	}

	_, err := d.Drain()
	joined, ok := err.(interface{ Unwrap() []error })
	require.True(t, ok)
	errs := joined.Unwrap()
	require.Len(t, errs, 3)
	for i, e := range errs {
		var execErr *TaskExecutionError
		require.ErrorAs(t, e, &execErr)
		assert.Equal(t, uint64(i+1), execErr.Ordinal)
		assert.Equal(t, fmt.Sprintf("t%d", i), execErr.Label)
	}
}

func TestReentrantDrainIsRejected(t *testing.T) {
	d := newTestDispatcher()
	var inner error
	var sawDraining bool
	var log []string

	require.NoError(t, d.Enqueue(func() {
		sawDraining = d.Draining()
		require.NoError(t, d.Enqueue(appendLabel(&log, "X")))
		_, inner = d.Drain()
	}))

	ran, err := d.Drain()
	require.NoError(t, err)
	assert.Equal(t, 1, ran)
	assert.True(t, sawDraining)
	assert.ErrorIs(t, inner, ErrConcurrentDrain)
	assert.Empty(t, log)
	assert.False(t, d.Draining())

	ran, err = d.Drain()
	require.NoError(t, err)
	assert.Equal(t, 1, ran)
	assert.Equal(t, []string{"X"}, log)
}

func TestClose(t *testing.T) {
	d := newTestDispatcher()
	require.NoError(t, d.Enqueue(func() { t.Error("discarded task must not run") }))
	require.NoError(t, d.Enqueue(func() { t.Error("discarded task must not run") }))

	assert.Equal(t, 2, d.Close())
	assert.Equal(t, 0, d.Pending())
	assert.ErrorIs(t, d.Enqueue(func() {}), ErrClosed)

	ran, err := d.Drain()
	assert.NoError(t, err)
	assert.Equal(t, 0, ran)
	assert.Equal(t, 0, d.Close())
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	d := newTestDispatcher(WithRegisterer(reg))

	require.NoError(t, d.Enqueue(func() {}))
	require.NoError(t, d.Enqueue(func() { panic("boom") }))
	require.NoError(t, d.Enqueue(func() {}))
	assert.ErrorIs(t, d.Enqueue(nil), ErrNilTask)
	assert.Equal(t, float64(3), testutil.ToFloat64(d.metrics.pending))

	_, _ = d.Drain()

	assert.Equal(t, float64(3), testutil.ToFloat64(d.metrics.enqueued))
	assert.Equal(t, float64(1), testutil.ToFloat64(d.metrics.rejected))
	assert.Equal(t, float64(2), testutil.ToFloat64(d.metrics.executed.WithLabelValues(statusSuccess)))
	assert.Equal(t, float64(1), testutil.ToFloat64(d.metrics.executed.WithLabelValues(statusFailed)))
	assert.Equal(t, float64(0), testutil.ToFloat64(d.metrics.pending))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, ContinueOnError, p)

	p, err = ParsePolicy("stop")
	require.NoError(t, err)
	assert.Equal(t, StopOnError, p)
	assert.Equal(t, "stop", p.String())

	_, err = ParsePolicy("retry")
	assert.Error(t, err)
}
