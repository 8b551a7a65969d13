package bridge

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/guido-cesarano/editorbridge/pkg/dispatch"
	"github.com/guido-cesarano/editorbridge/pkg/editor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Status is the body of GET /status.
type Status struct {
	editor.Status
	PID           int    `json:"pid"`
	Addr          string `json:"addr"`
	HostConnected bool   `json:"host_connected"`
}

// authMiddleware wraps an http.HandlerFunc and enforces API Key authentication.
func authMiddleware(next http.HandlerFunc, requiredKey string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// If no key is configured, allow all (dev mode)
		if requiredKey == "" {
			next(w, r)
			return
		}

		if r.Header.Get("X-API-Key") != requiredKey {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next(w, r)
	}
}

// enableCORS wraps an http.HandlerFunc and adds CORS headers.
func enableCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, X-API-Key")

		// Preflight requests never reach auth
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

// Routes returns the bridge mux. Every route is wrapped as CORS -> auth -> handler.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	wrap := func(h http.HandlerFunc) http.HandlerFunc {
		return enableCORS(authMiddleware(h, s.config.APIKey))
	}

	mux.HandleFunc("/play", wrap(s.handlePlay))
	mux.HandleFunc("/menu", wrap(s.handleMenu))
	mux.HandleFunc("/status", wrap(s.handleStatus))
	if s.gatherer != nil {
		metrics := promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})
		mux.HandleFunc("/metrics", wrap(metrics.ServeHTTP))
	}
	return mux
}

func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Play *bool `json:"play"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Play == nil {
		http.Error(w, "Missing play field", http.StatusBadRequest)
		return
	}

	s.log.Info().Bool("play", *req.Play).Msg("Play requested by IDE")
	s.queued(w, s.session.RequestPlay(*req.Play))
}

func (s *Server) handleMenu(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Path string `json:"path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Path == "" {
		http.Error(w, "Missing path field", http.StatusBadRequest)
		return
	}

	s.queued(w, s.session.RequestMenuItem(req.Path))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := Status{
		Status:        s.session.Status(),
		PID:           s.pid,
		Addr:          s.Addr(),
		HostConnected: s.HostConnected(),
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// queued answers a request whose work was handed to the dispatcher.
func (s *Server) queued(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("queued\n"))
	case errors.Is(err, dispatch.ErrUnsupportedEnvironment):
		http.Error(w, err.Error(), http.StatusNotImplemented)
	case errors.Is(err, dispatch.ErrClosed):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
