// Package dispatch provides the main-thread task dispatcher.
// Any goroutine can queue work with Enqueue; the goroutine that owns the host's main loop runs
// the queued work with Drain, once per loop iteration:
//   - Enqueue only appends under a mutex, it never waits for execution
//   - Drain swaps the queue out under the same mutex, then runs the snapshot outside it
//   - Tasks queued while a drain runs are picked up by the next drain
//   - A panicking task is recovered and reported; the Policy decides whether the cycle goes on
//
// The Dispatcher does not run a loop itself. Hosts without a main-thread loop construct it with
// WithMainThreadLoop(false) and every call fails fast with ErrUnsupportedEnvironment.
package dispatch

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/guido-cesarano/editorbridge/pkg/logger"
	"github.com/guido-cesarano/editorbridge/pkg/tasks"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Policy selects how a drain cycle reacts to a panicking task.
type Policy int

const (
	// ContinueOnError reports the failure and runs the rest of the snapshot.
	ContinueOnError Policy = iota

	// StopOnError ends the cycle at the failed task. The tasks after it go back to the head
	// of the queue and run on the next drain, ahead of anything queued since.
	StopOnError
)

// ParsePolicy maps "continue" and "stop" to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "continue":
		return ContinueOnError, nil
	case "stop":
		return StopOnError, nil
	}
	return ContinueOnError, errors.New("dispatch: unknown failure policy " + s)
}

func (p Policy) String() string {
	if p == StopOnError {
		return "stop"
	}
	return "continue"
}

// Dispatcher queues tasks from any goroutine and executes them on the main goroutine.
// The zero value is not usable; construct it with New.
type Dispatcher struct {
	supported  bool
	policy     Policy
	log        zerolog.Logger
	registerer prometheus.Registerer
	tracer     trace.Tracer
	onError    func(err *TaskExecutionError)
	metrics    *metrics

	mu     sync.Mutex
	queue  []tasks.Task
	next   uint64
	closed bool

	// pending mirrors len(queue); written under mu, read without it for the idle check.
	pending  atomic.Int64
	draining atomic.Bool
}

// New creates a Dispatcher. By default it supports a main-thread loop and continues on errors.
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		supported: true,
		policy:    ContinueOnError,
		log:       logger.Component("dispatch"),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.tracer == nil {
		d.tracer = otel.Tracer("github.com/guido-cesarano/editorbridge/pkg/dispatch")
	}
	d.metrics = newMetrics(d.registerer)
	return d
}

// Supported reports whether the dispatcher was built for a host with a main-thread loop.
func (d *Dispatcher) Supported() bool {
	return d.supported
}

// Enqueue queues fn for the next drain. It is safe to call from any goroutine.
func (d *Dispatcher) Enqueue(fn func()) error {
	return d.EnqueueNamed("", fn)
}

// EnqueueNamed queues fn under a label used in logs and errors.
func (d *Dispatcher) EnqueueNamed(label string, fn func()) error {
	if !d.supported {
		d.metrics.rejected.Inc()
		return ErrUnsupportedEnvironment
	}
	if fn == nil {
		d.metrics.rejected.Inc()
		return ErrNilTask
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.metrics.rejected.Inc()
		return ErrClosed
	}
	d.next++
	d.queue = append(d.queue, tasks.Task{
		Ordinal:    d.next,
		Label:      label,
		Fn:         fn,
		EnqueuedAt: time.Now(),
	})
	d.pending.Store(int64(len(d.queue)))
	d.mu.Unlock()

	d.metrics.enqueued.Inc()
	d.metrics.pending.Inc()
	return nil
}

// Pending returns the number of queued tasks.
func (d *Dispatcher) Pending() int {
	return int(d.pending.Load())
}

// Draining reports whether a drain cycle is executing tasks right now.
func (d *Dispatcher) Draining() bool {
	return d.draining.Load()
}

// Drain executes every task queued before the call, in enqueue order, on the calling goroutine.
// It must only be called from the main goroutine. It returns the number of tasks that ran and
// the panics of failed tasks joined together.
func (d *Dispatcher) Drain() (int, error) {
	if !d.supported {
		return 0, ErrUnsupportedEnvironment
	}
	if d.pending.Load() == 0 {
		return 0, nil
	}
	if !d.draining.CompareAndSwap(false, true) {
		return 0, ErrConcurrentDrain
	}
	defer d.draining.Store(false)

	snapshot := d.take()
	if len(snapshot) == 0 {
		return 0, nil
	}

	start := time.Now()
	_, span := d.tracer.Start(context.Background(), "dispatch.drain",
		trace.WithAttributes(attribute.Int("dispatch.tasks", len(snapshot))))

	var errs []error
	ran := 0
	for i, task := range snapshot {
		d.metrics.queueLatency.Observe(start.Sub(task.EnqueuedAt).Seconds())
		err := d.run(task)
		ran++
		if err == nil {
			continue
		}
		errs = append(errs, err)
		if d.policy == StopOnError {
			d.requeue(snapshot[i+1:])
			break
		}
	}

	d.metrics.drainDuration.Observe(time.Since(start).Seconds())
	span.SetAttributes(attribute.Int("dispatch.executed", ran), attribute.Int("dispatch.failed", len(errs)))
	err := errors.Join(errs...)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()

	d.log.Trace().Int("executed", ran).Int("failed", len(errs)).Msg("Drain cycle finished")
	return ran, err
}

// Close discards the queued tasks and refuses new ones. It returns the number discarded.
func (d *Dispatcher) Close() int {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return 0
	}
	d.closed = true
	discarded := len(d.queue)
	d.queue = nil
	d.pending.Store(0)
	d.mu.Unlock()

	d.metrics.pending.Sub(float64(discarded))
	if discarded > 0 {
		d.log.Warn().Int("discarded", discarded).Msg("Dispatcher closed with pending tasks")
	}
	return discarded
}

// take swaps the queue out under the lock.
func (d *Dispatcher) take() []tasks.Task {
	d.mu.Lock()
	snapshot := d.queue
	d.queue = nil
	d.pending.Store(0)
	d.mu.Unlock()

	d.metrics.pending.Sub(float64(len(snapshot)))
	return snapshot
}

// requeue puts the unexecuted tail of a snapshot back in front of the queue.
func (d *Dispatcher) requeue(rest []tasks.Task) {
	if len(rest) == 0 {
		return
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.log.Warn().Int("discarded", len(rest)).Msg("Dispatcher closed during drain, dropping remaining tasks")
		return
	}
	queue := make([]tasks.Task, 0, len(rest)+len(d.queue))
	queue = append(queue, rest...)
	d.queue = append(queue, d.queue...)
	d.pending.Store(int64(len(d.queue)))
	d.mu.Unlock()

	d.metrics.pending.Add(float64(len(rest)))
}

// run executes one task, converting a panic into a *TaskExecutionError.
func (d *Dispatcher) run(task tasks.Task) (err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		execErr := &TaskExecutionError{
			Ordinal: task.Ordinal,
			Label:   task.Label,
			Value:   r,
			Stack:   debug.Stack(),
		}
		d.metrics.executed.WithLabelValues(statusFailed).Inc()
		d.log.Error().
			Err(execErr).
			Uint64("ordinal", task.Ordinal).
			Str("task", task.Name()).
			Str("policy", d.policy.String()).
			Msg("Main-thread task failed")
		if d.onError != nil {
			d.onError(execErr)
		}
		err = execErr
	}()

	task.Fn()
	d.metrics.executed.WithLabelValues(statusSuccess).Inc()
	return nil
}
