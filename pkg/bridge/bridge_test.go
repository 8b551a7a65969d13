package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/guido-cesarano/editorbridge/pkg/dispatch"
	"github.com/guido-cesarano/editorbridge/pkg/editor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

func newTestServer(apiKey string, opts ...dispatch.Option) (*Server, *editor.Session) {
	reg := prometheus.NewRegistry()
	opts = append([]dispatch.Option{dispatch.WithLogger(zerolog.Nop()), dispatch.WithRegisterer(reg)}, opts...)
	session := editor.NewSession(dispatch.New(opts...), zerolog.Nop())
	config := Config{Host: "127.0.0.1", Port: 0, APIKey: apiKey}
	return NewServer(config, session, reg, zerolog.Nop()), session
}

func TestPort(t *testing.T) {
	tests := []struct {
		pid, base, span, want int
	}{
		{pid: 12345, base: 46000, span: 1000, want: 46345},
		{pid: 999, base: 46000, span: 1000, want: 46999},
		{pid: 1000, base: 46000, span: 1000, want: 46000},
		{pid: 7, base: 5000, span: 0, want: 5000},
	}
	for _, tt := range tests {
		if got := Port(tt.pid, tt.base, tt.span); got != tt.want {
			t.Errorf("Port(%d, %d, %d) = %d, want %d", tt.pid, tt.base, tt.span, got, tt.want)
		}
	}
}

func TestLogPath(t *testing.T) {
	now := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	got := LogPath("/tmp", now)
	want := "/tmp/EditorBridge/EditorBridge2026-03-04T-05-06-07.log"
	if got != want {
		t.Errorf("Expected %s, got %s", want, got)
	}
}

func TestAuthMiddleware(t *testing.T) {
	s, _ := newTestServer("secret-key")
	mux := s.Routes()

	tests := []struct {
		name           string
		headerKey      string
		headerValue    string
		expectedStatus int
	}{
		{
			name:           "No API Key",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "Wrong API Key",
			headerKey:      "X-API-Key",
			headerValue:    "wrong-key",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "Correct API Key",
			headerKey:      "X-API-Key",
			headerValue:    "secret-key",
			expectedStatus: http.StatusBadRequest, // 400 because body is empty, but auth passed
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/play", nil)
			if tt.headerKey != "" {
				req.Header.Set(tt.headerKey, tt.headerValue)
			}

			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)

			if w.Code != tt.expectedStatus {
				t.Errorf("Expected status %d, got %d", tt.expectedStatus, w.Code)
			}
		})
	}
}

func TestPreflightSkipsAuth(t *testing.T) {
	s, _ := newTestServer("secret-key")
	req := httptest.NewRequest(http.MethodOptions, "/play", nil)
	w := httptest.NewRecorder()
	s.Routes().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected preflight to pass, got %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("Expected CORS header")
	}
}

func TestPlayIsQueuedForMainThread(t *testing.T) {
	s, session := newTestServer("")
	mux := s.Routes()

	req := httptest.NewRequest(http.MethodPost, "/play", strings.NewReader(`{"play":true}`))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d: %s", w.Code, w.Body.String())
	}
	if session.Editor().IsPlaying() {
		t.Fatal("Play mode must not change before the main thread drains")
	}

	session.Update()

	if !session.Editor().IsPlaying() {
		t.Error("Expected play mode after drain")
	}
}

func TestPlayValidation(t *testing.T) {
	s, _ := newTestServer("")
	mux := s.Routes()

	tests := []struct {
		name   string
		method string
		body   string
		want   int
	}{
		{name: "wrong method", method: http.MethodGet, want: http.StatusMethodNotAllowed},
		{name: "bad json", method: http.MethodPost, body: "{", want: http.StatusBadRequest},
		{name: "missing field", method: http.MethodPost, body: "{}", want: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/play", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("Expected status %d, got %d", tt.want, w.Code)
			}
		})
	}
}

func TestUnsupportedEnvironmentIsReported(t *testing.T) {
	s, session := newTestServer("", dispatch.WithMainThreadLoop(false))
	mux := s.Routes()

	req := httptest.NewRequest(http.MethodPost, "/play", strings.NewReader(`{"play":true}`))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusNotImplemented {
		t.Errorf("Expected 501, got %d", w.Code)
	}
	if session.Status().Pending != 0 {
		t.Error("Expected nothing queued")
	}
}

func TestMenuAndClosedSession(t *testing.T) {
	s, session := newTestServer("")
	mux := s.Routes()

	req := httptest.NewRequest(http.MethodPost, "/menu", strings.NewReader(`{"path":"Assets/Refresh"}`))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d", w.Code)
	}
	session.Update()
	if session.Editor().Refreshes() != 1 {
		t.Errorf("Expected 1 refresh, got %d", session.Editor().Refreshes())
	}

	session.Close()
	req = httptest.NewRequest(http.MethodPost, "/menu", strings.NewReader(`{"path":"Assets/Refresh"}`))
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 after close, got %d", w.Code)
	}
}

func TestServerLifecycle(t *testing.T) {
	s, session := newTestServer("")
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !s.HostConnected() {
		t.Error("Expected host to be connected after Start")
	}

	if err := session.RequestPlay(true); err != nil {
		t.Fatalf("RequestPlay failed: %v", err)
	}

	resp, err := http.Get("http://" + s.Addr() + "/status")
	if err != nil {
		t.Fatalf("GET /status failed: %v", err)
	}
	var status Status
	err = json.NewDecoder(resp.Body).Decode(&status)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !status.HostConnected || status.SessionID != session.ID() || status.Pending != 1 || !status.Supported {
		t.Errorf("Unexpected status: %+v", status)
	}

	resp, err = http.Get("http://" + s.Addr() + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected metrics 200, got %d", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if s.HostConnected() {
		t.Error("Expected host to be disconnected after Shutdown")
	}
}
