package dispatch

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedEnvironment is returned when the host has no main-thread loop.
	ErrUnsupportedEnvironment = errors.New("dispatch: main-thread dispatch is not supported in this environment")

	// ErrClosed is returned by Enqueue after Close.
	ErrClosed = errors.New("dispatch: dispatcher is closed")

	// ErrNilTask is returned when a nil function is enqueued.
	ErrNilTask = errors.New("dispatch: nil task")

	// ErrConcurrentDrain is returned when Drain is entered while another drain cycle is running.
	ErrConcurrentDrain = errors.New("dispatch: drain already in progress")
)

// TaskExecutionError describes a task that panicked on the main goroutine.
type TaskExecutionError struct {
	Ordinal uint64
	Label   string
	Value   interface{}
	Stack   []byte
}

func (e *TaskExecutionError) Error() string {
	label := e.Label
	if label == "" {
		label = "anonymous"
	}
	return fmt.Sprintf("dispatch: task %d (%s) panicked: %v", e.Ordinal, label, e.Value)
}

// Unwrap exposes the panic value when it is an error.
func (e *TaskExecutionError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
