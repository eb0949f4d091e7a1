package auth

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// CallbackServer handles the local HTTP listener for the OAuth callback.
// It binds to the loopback address from the redirect URI, captures at most
// one callback result per attempt, and exposes it through a non-blocking
// Poll so the integrating caller's event loop never blocks on the browser
// round-trip.
type CallbackServer struct {
	// addr is the host:port the listener binds to.
	addr string
	// path is the callback path served.
	path string

	// mu guards server lifecycle state and the result slot.
	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	running  bool
	// result is written exactly once by the handler goroutine; later
	// callbacks are answered but not recorded.
	result *Callback
	// done is closed once the serve goroutine has exited.
	done chan struct{}
}

// NewCallbackServer creates a callback server for the given bind address and
// callback path. The server does not listen until Start is called.
func NewCallbackServer(addr, path string) *CallbackServer {
	return &CallbackServer{
		addr: addr,
		path: path,
	}
}

// Start binds the listener and begins serving callback requests on a
// background goroutine. Binding failures (port in use, permission denied)
// are returned synchronously and are fatal for the attempt.
func (s *CallbackServer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return NewAuthenticationError(ErrListenerBind, errors.New("server is already running"))
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return NewAuthenticationError(ErrListenerBind, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc(s.path, s.handleCallback)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	s.listener = ln
	s.result = nil
	s.running = true
	s.done = make(chan struct{})

	log.Debugf("OAuth callback listener started on %s%s", s.addr, s.path)

	go func(srv *http.Server, ln net.Listener, done chan struct{}) {
		defer close(done)
		if errServe := srv.Serve(ln); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			log.Errorf("OAuth callback listener terminated: %v", errServe)
		}
	}(s.server, ln, s.done)

	return nil
}

// Poll returns the recorded callback result, or nil while the attempt is
// still pending. It never blocks.
func (s *CallbackServer) Poll() *Callback {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

// Stop shuts the listener down gracefully: it stops accepting connections,
// lets any in-flight response finish, and waits for the serve goroutine to
// exit. Safe to call multiple times.
func (s *CallbackServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running || s.server == nil {
		s.mu.Unlock()
		return nil
	}
	log.Debug("Stopping OAuth callback listener")
	server := s.server
	done := s.done
	s.running = false
	s.server = nil
	s.listener = nil
	s.mu.Unlock()

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := server.Shutdown(shutdownCtx)
	select {
	case <-done:
	case <-shutdownCtx.Done():
	}
	return err
}

// IsRunning reports whether the listener is currently serving.
func (s *CallbackServer) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// handleCallback handles the redirect from the OAuth provider. It extracts
// the code, state, and error query parameters, records them exactly once,
// and serves a static informational page to the browser.
func (s *CallbackServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	log.Debug("Received OAuth callback")

	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query()
	result := &Callback{
		Code:             query.Get("code"),
		State:            query.Get("state"),
		Error:            query.Get("error"),
		ErrorDescription: query.Get("error_description"),
	}

	recorded := s.record(result)
	if !recorded {
		log.Debug("Duplicate OAuth callback ignored")
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	page := loginSuccessHTML
	if result.Error != "" || result.Code == "" {
		page = loginFailureHTML
	}
	if _, err := w.Write([]byte(page)); err != nil {
		log.Errorf("Failed to write callback response page: %v", err)
	}
}

// record stores the result if none has been recorded for this attempt.
func (s *CallbackServer) record(result *Callback) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result != nil {
		return false
	}
	s.result = result
	return true
}
