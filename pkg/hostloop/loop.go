// Package hostloop runs the editor's main loop: one goroutine, locked to its OS thread,
// that calls every registered update callback once per frame.
package hostloop

import (
	"context"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultInterval is roughly one frame at 60 Hz.
const DefaultInterval = 16 * time.Millisecond

// Loop calls its update callbacks on a single goroutine at a fixed interval.
type Loop struct {
	interval time.Duration
	log      zerolog.Logger

	mu      sync.Mutex
	updates []func()
	frames  uint64
}

// New creates a Loop ticking every interval. A non-positive interval uses DefaultInterval.
func New(interval time.Duration, log zerolog.Logger) *Loop {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Loop{interval: interval, log: log}
}

// OnUpdate registers fn to run on every frame, after the callbacks registered before it.
func (l *Loop) OnUpdate(fn func()) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	l.updates = append(l.updates, fn)
	l.mu.Unlock()
}

// Frames returns the number of completed frames.
func (l *Loop) Frames() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.frames
}

// Run locks the calling goroutine to its OS thread and runs frames until ctx is done.
// The goroutine calling Run is the main goroutine for everything registered with OnUpdate.
func (l *Loop) Run(ctx context.Context) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	l.log.Info().Dur("interval", l.interval).Msg("Main loop started")
	for {
		select {
		case <-ctx.Done():
			l.log.Info().Uint64("frames", l.Frames()).Msg("Main loop stopped")
			return
		case <-ticker.C:
			l.Step()
		}
	}
}

// Step runs a single frame on the calling goroutine.
func (l *Loop) Step() {
	l.mu.Lock()
	updates := append([]func(){}, l.updates...)
	l.mu.Unlock()

	for _, fn := range updates {
		l.call(fn)
	}

	l.mu.Lock()
	l.frames++
	l.mu.Unlock()
}

func (l *Loop) call(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("Update callback panicked")
		}
	}()
	fn()
}
