// Package editor models the editor process driven by the IDE: play mode, menu items, and the
// session that owns the main-thread dispatcher.
//
// Editor state may only change on the main goroutine, inside a drain of the session's
// dispatcher. Other goroutines queue requests through the Session.
package editor

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/guido-cesarano/editorbridge/pkg/dispatch"
	"github.com/rs/zerolog"
)

// Built-in menu items.
const (
	MenuPlay    = "Edit/Play"
	MenuRefresh = "Assets/Refresh"
)

var (
	// ErrNotMainThread is returned when editor state is touched outside a drain cycle.
	ErrNotMainThread = errors.New("editor: call must run on the main thread")

	// ErrUnknownMenuItem is returned for a menu path nobody registered.
	ErrUnknownMenuItem = errors.New("editor: unknown menu item")
)

// MenuFunc is the action behind a menu item. It runs on the main goroutine.
type MenuFunc func() error

// Editor holds the main-thread-only editor state.
type Editor struct {
	dispatcher *dispatch.Dispatcher
	log        zerolog.Logger

	playing   atomic.Bool
	refreshes atomic.Int64

	mu   sync.RWMutex
	menu map[string]MenuFunc
}

// NewEditor creates an Editor whose main thread is the goroutine draining d.
func NewEditor(d *dispatch.Dispatcher, log zerolog.Logger) *Editor {
	e := &Editor{
		dispatcher: d,
		log:        log,
		menu:       make(map[string]MenuFunc),
	}
	e.RegisterMenuItem(MenuPlay, func() error {
		playing := !e.playing.Load()
		e.playing.Store(playing)
		e.log.Info().Bool("playing", playing).Msg("Play mode toggled")
		return nil
	})
	e.RegisterMenuItem(MenuRefresh, func() error {
		n := e.refreshes.Add(1)
		e.log.Debug().Int64("refreshes", n).Msg("Asset database refreshed")
		return nil
	})
	return e
}

// IsPlaying reports whether the editor is in play mode. Safe from any goroutine.
func (e *Editor) IsPlaying() bool {
	return e.playing.Load()
}

// Refreshes returns how many times the asset database was refreshed.
func (e *Editor) Refreshes() int64 {
	return e.refreshes.Load()
}

// RegisterMenuItem adds or replaces the action for path.
func (e *Editor) RegisterMenuItem(path string, fn MenuFunc) {
	e.mu.Lock()
	e.menu[path] = fn
	e.mu.Unlock()
}

// MenuItems returns the registered menu paths, sorted.
func (e *Editor) MenuItems() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	paths := make([]string, 0, len(e.menu))
	for path := range e.menu {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// ExecuteMenuItem runs the action registered for path. It must run on the main goroutine.
func (e *Editor) ExecuteMenuItem(path string) error {
	if !e.dispatcher.Draining() {
		return ErrNotMainThread
	}
	e.mu.RLock()
	fn, ok := e.menu[path]
	e.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownMenuItem, path)
	}
	return fn()
}
