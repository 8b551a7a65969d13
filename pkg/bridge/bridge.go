// Package bridge is the IDE-facing side of the editor host. It exposes the editor session over a
// local HTTP port derived from the process id, so an IDE can find the editor it belongs to.
//
// API Endpoints:
//
//	POST /play    {"play": true}          - enter or leave play mode
//	POST /menu    {"path": "Edit/Play"}   - execute a menu item
//	GET  /status                          - session, port and play mode
//	GET  /metrics                         - Prometheus metrics
//
// Requests that change editor state are queued for the main thread and answered with 202.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/guido-cesarano/editorbridge/pkg/editor"
	"github.com/guido-cesarano/editorbridge/pkg/tracing"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Port returns the bridge port for a process: base + pid % span.
func Port(pid, base, span int) int {
	if span <= 0 {
		return base
	}
	return base + pid%span
}

// LogPath returns the session log file for a host started at now.
func LogPath(dir string, now time.Time) string {
	return filepath.Join(dir, "EditorBridge", "EditorBridge"+now.Format("2006-01-02T-15-04-05")+".log")
}

// Config describes where and how the server listens.
type Config struct {
	Host   string
	Port   int
	APIKey string
}

// Server serves the bridge API for one editor session.
type Server struct {
	config   Config
	session  *editor.Session
	gatherer prometheus.Gatherer
	log      zerolog.Logger
	pid      int

	httpServer *http.Server
	listener   net.Listener
	connected  atomic.Bool
}

// NewServer creates a Server. gatherer may be nil, in which case /metrics is not served.
func NewServer(config Config, session *editor.Session, gatherer prometheus.Gatherer, log zerolog.Logger) *Server {
	s := &Server{
		config:   config,
		session:  session,
		gatherer: gatherer,
		log:      log,
		pid:      os.Getpid(),
	}
	s.httpServer = &http.Server{
		Addr:              net.JoinHostPort(config.Host, strconv.Itoa(config.Port)),
		Handler:           tracing.Middleware(s.Routes()),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start binds the listener and serves in the background. Once bound the host counts as connected.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("bridge: listen %s: %w", s.httpServer.Addr, err)
	}
	s.listener = ln
	s.connected.Store(true)
	s.log.Info().Str("addr", ln.Addr().String()).Int("pid", s.pid).Msg("Bridge listening")

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("Bridge server failed")
		}
		s.connected.Store(false)
	}()
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.httpServer.Addr
}

// HostConnected reports whether the bridge is serving.
func (s *Server) HostConnected() bool {
	return s.connected.Load()
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	s.connected.Store(false)
	return s.httpServer.Shutdown(ctx)
}
