package dispatch

import (
	"context"
	"fmt"
)

// Call runs fn on the main goroutine and waits for its result.
//
// Call must not be used from the main goroutine itself: the task could only run on a later
// drain of that same goroutine, so the wait would never end. When ctx is done first Call
// returns ctx.Err(); fn still runs on a later drain and its result is dropped.
func (d *Dispatcher) Call(ctx context.Context, label string, fn func() error) error {
	if fn == nil {
		return ErrNilTask
	}

	done := make(chan error, 1)
	err := d.EnqueueNamed(label, func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("%s: panic: %v", label, r)
				panic(r)
			}
		}()
		done <- fn()
	})
	if err != nil {
		return err
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
