// Package tasks defines the units of work that move through editorbridge: main-thread tasks
// executed by the dispatcher and commands sent by the IDE through the Redis queue.
package tasks

import (
	"time"
)

// Func is the body of a main-thread task. It takes no arguments and returns nothing;
// a task reports failure by panicking.
type Func func()

// Task is a unit of work waiting to run on the main goroutine.
//
// A Task is created by the dispatcher at enqueue time and never modified afterwards.
type Task struct {
	// Ordinal is the enqueue position, assigned under the queue lock. It is strictly
	// increasing within one dispatcher.
	Ordinal uint64

	// Label names the task in logs and errors. It may be empty.
	Label string

	// Fn is the work itself.
	Fn Func

	// EnqueuedAt is the time the task entered the queue.
	EnqueuedAt time.Time
}

// Name returns the label, or "anonymous" for unlabelled tasks.
func (t Task) Name() string {
	if t.Label == "" {
		return "anonymous"
	}
	return t.Label
}

// Command is a request sent by the IDE over the Redis command queue.
//
// The Type field routes the command to a relay handler, while the Payload
// carries the handler-specific arguments. RetryCount is incremented by the
// queue each time the command is scheduled for another attempt.
type Command struct {
	// ID is a unique identifier for the command (typically UUID).
	ID string `json:"id"`

	// Type selects the handler (e.g., "play", "menu").
	Type string `json:"type"`

	// Payload holds handler arguments as decoded JSON.
	Payload map[string]interface{} `json:"payload,omitempty"`

	// CreatedAt is the timestamp when the command was first pushed.
	CreatedAt time.Time `json:"created_at"`

	// RetryCount tracks how many times this command has been retried after failures.
	RetryCount int `json:"retry_count"`

	// Priority determines the processing order of the command.
	// 0 = Low, 1 = Default, 2 = High
	Priority int `json:"priority"`
}

const (
	PriorityLow     = 0
	PriorityDefault = 1
	PriorityHigh    = 2
)

// Command types understood by the editor host.
const (
	CommandPlay = "play"
	CommandMenu = "menu"
)

// Bool returns the payload value under key as a bool, false when absent or of another type.
func (c Command) Bool(key string) bool {
	v, _ := c.Payload[key].(bool)
	return v
}

// String returns the payload value under key as a string, "" when absent or of another type.
func (c Command) String(key string) string {
	v, _ := c.Payload[key].(string)
	return v
}
