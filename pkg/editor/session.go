package editor

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/guido-cesarano/editorbridge/pkg/dispatch"
	"github.com/rs/zerolog"
)

// Session is one editor session: the dispatcher that feeds the main goroutine and the editor
// it drives. Closing the session tears the dispatcher down.
type Session struct {
	id         string
	dispatcher *dispatch.Dispatcher
	editor     *Editor
	log        zerolog.Logger
}

// Status is a point-in-time view of a session, safe to build from any goroutine.
type Status struct {
	SessionID string `json:"session_id"`
	Supported bool   `json:"supported"`
	Playing   bool   `json:"playing"`
	Pending   int    `json:"pending"`
	Refreshes int64  `json:"refreshes"`
}

// NewSession creates a session around d.
func NewSession(d *dispatch.Dispatcher, log zerolog.Logger) *Session {
	id := uuid.New().String()
	log = log.With().Str("session_id", id).Logger()
	return &Session{
		id:         id,
		dispatcher: d,
		editor:     NewEditor(d, log),
		log:        log,
	}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Dispatcher returns the session dispatcher.
func (s *Session) Dispatcher() *dispatch.Dispatcher { return s.dispatcher }

// Editor returns the session editor.
func (s *Session) Editor() *Editor { return s.editor }

// ApplyPlay enters or leaves play mode. It must run on the main goroutine and does nothing
// when the editor is already in the requested mode.
func (s *Session) ApplyPlay(play bool) error {
	if s.editor.IsPlaying() == play {
		return nil
	}
	return s.editor.ExecuteMenuItem(MenuPlay)
}

// RequestPlay queues a play mode change for the main goroutine.
func (s *Session) RequestPlay(play bool) error {
	s.log.Info().Bool("play", play).Msg("Play mode requested")
	return s.dispatcher.EnqueueNamed(MenuPlay, func() {
		if err := s.ApplyPlay(play); err != nil {
			s.log.Error().Err(err).Bool("play", play).Msg("Failed to change play mode")
		}
	})
}

// RequestMenuItem queues the execution of a menu item for the main goroutine.
func (s *Session) RequestMenuItem(path string) error {
	return s.dispatcher.EnqueueNamed(path, func() {
		if err := s.editor.ExecuteMenuItem(path); err != nil {
			s.log.Error().Err(err).Str("menu", path).Msg("Menu item failed")
		}
	})
}

// Call runs fn on the main goroutine and waits for its result.
func (s *Session) Call(ctx context.Context, label string, fn func() error) error {
	return s.dispatcher.Call(ctx, label, fn)
}

// Update is the main loop callback: it drains the dispatcher once.
func (s *Session) Update() {
	ran, err := s.dispatcher.Drain()
	if err == nil {
		return
	}
	if errors.Is(err, dispatch.ErrUnsupportedEnvironment) {
		s.log.Error().Err(err).Msg("Main loop attached to an unsupported dispatcher")
		return
	}
	s.log.Warn().Err(err).Int("executed", ran).Msg("Drain cycle finished with failures")
}

// Status returns the current session status.
func (s *Session) Status() Status {
	return Status{
		SessionID: s.id,
		Supported: s.dispatcher.Supported(),
		Playing:   s.editor.IsPlaying(),
		Pending:   s.dispatcher.Pending(),
		Refreshes: s.editor.Refreshes(),
	}
}

// Close discards queued work and refuses new requests.
func (s *Session) Close() {
	discarded := s.dispatcher.Close()
	s.log.Info().Int("discarded", discarded).Msg("Editor session closed")
}
