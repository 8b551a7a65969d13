package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// Option configures a Dispatcher
type Option func(d *Dispatcher)

// WithMainThreadLoop declares whether the host runs a main-thread loop that will call Drain.
// Without one, every Enqueue and Drain fails with ErrUnsupportedEnvironment.
func WithMainThreadLoop(supported bool) Option {
	return func(d *Dispatcher) {
		d.supported = supported
	}
}

// WithPolicy sets what a drain cycle does after a task panics
func WithPolicy(policy Policy) Option {
	return func(d *Dispatcher) {
		d.policy = policy
	}
}

// WithLogger sets the logger
func WithLogger(log zerolog.Logger) Option {
	return func(d *Dispatcher) {
		d.log = log
	}
}

// WithRegisterer registers the dispatcher metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(d *Dispatcher) {
		d.registerer = reg
	}
}

// WithTracer sets the tracer used for drain spans
func WithTracer(tracer trace.Tracer) Option {
	return func(d *Dispatcher) {
		d.tracer = tracer
	}
}

// WithErrorHandler sets a callback invoked on the main goroutine for every failed task.
func WithErrorHandler(fn func(err *TaskExecutionError)) Option {
	return func(d *Dispatcher) {
		d.onError = fn
	}
}
