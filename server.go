package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// sessionTTL is the lifetime of an admin API session.
const sessionTTL = 24 * time.Hour

// Server exposes the admin HTTP API: status, remote reset, the event log and,
// with simulated hardware, button injection.
type Server struct {
	cfgMgr     *ConfigManager
	sessions   *SessionManager
	controller *Controller
	hw         *Hardware
	events     *EventLogger
	log        *logrus.Logger
	loginLimit *rate.Limiter
}

// NewServer wires the API to the controller.  hw is only used to inject
// edges when it is simulated.
func NewServer(cfgMgr *ConfigManager, controller *Controller, hw *Hardware, events *EventLogger, log *logrus.Logger) *Server {
	return &Server{
		cfgMgr:     cfgMgr,
		sessions:   NewSessionManager(clockwork.NewRealClock(), sessionTTL),
		controller: controller,
		hw:         hw,
		events:     events,
		log:        log,
		// One login per second on average, bursts of five.
		loginLimit: rate.NewLimiter(rate.Limit(1), 5),
	}
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/login", s.handleLogin)
	mux.HandleFunc("/api/logout", s.handleLogout)
	mux.HandleFunc("/api/status", s.withAuth(s.handleStatus))
	mux.HandleFunc("/api/reset", s.withAuth(s.handleReset))
	mux.HandleFunc("/api/logs", s.withAuth(s.handleLogs))
	mux.HandleFunc("/api/test_trigger", s.withAuth(s.handleTestTrigger))
	return mux
}

// Start serves the API on the configured address until ctx is cancelled.
// TLS is used when both a certificate and key are configured.
func (s *Server) Start(ctx context.Context) error {
	cfg := s.cfgMgr.Get()
	srv := &http.Server{
		Addr:              cfg.Admin.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		TLSConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}
	go s.sessions.RunPurge(ctx, time.Hour)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	var err error
	if cfg.Admin.CertFile != "" && cfg.Admin.KeyFile != "" {
		s.log.Infof("admin API listening on https://%s", cfg.Admin.Listen)
		err = srv.ListenAndServeTLS(cfg.Admin.CertFile, cfg.Admin.KeyFile)
	} else {
		s.log.Infof("admin API listening on http://%s", cfg.Admin.Listen)
		err = srv.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// withAuth wraps handlers that require a valid session.  If the request
// contains a valid "session" cookie, it calls the underlying handler with
// the user; otherwise it responds with 401.
func (s *Server) withAuth(handler func(http.ResponseWriter, *http.Request, User)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie("session")
		if err != nil {
			http.Error(w, "unauthenticated", http.StatusUnauthorized)
			return
		}
		sess, ok := s.sessions.Lookup(cookie.Value)
		if !ok {
			http.Error(w, "session expired", http.StatusUnauthorized)
			return
		}
		user, _ := s.cfgMgr.FindUser(sess.Username)
		if user.Username == "" {
			http.Error(w, "unknown user", http.StatusUnauthorized)
			return
		}
		handler(w, r, user)
	}
}

// handleLogin authenticates a user and sets a session cookie.  Expected JSON:
// {"username":"...","password":"..."}
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.loginLimit.Allow() {
		http.Error(w, "too many login attempts", http.StatusTooManyRequests)
		return
	}
	var creds struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	user, err := s.cfgMgr.Authenticate(creds.Username, creds.Password)
	if err != nil {
		s.events.Log("admin login failed for %q", creds.Username)
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	sessID, sess, err := s.sessions.Create(user.Username)
	if err != nil {
		http.Error(w, "failed to create session", http.StatusInternalServerError)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     "session",
		Value:    sessID,
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteStrictMode,
		Expires:  sess.Expires,
	})
	s.events.Log("admin login %s", user.Username)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleLogout deletes the session cookie.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if cookie, err := r.Cookie("session"); err == nil {
		s.sessions.Revoke(cookie.Value)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     "session",
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Expires:  time.Unix(0, 0),
	})
	w.WriteHeader(http.StatusNoContent)
}

// handleStatus returns the controller snapshot.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request, user User) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.controller.Status())
}

// handleReset posts a manual reset, exactly as the reset button does.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request, user User) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.controller.Post(InputReset) {
		http.Error(w, "controller stopped", http.StatusServiceUnavailable)
		return
	}
	s.events.Log("remote reset by %s", user.Username)
	w.WriteHeader(http.StatusAccepted)
}

// handleLogs returns the event log.  Admins only.  Accepts optional query
// parameter `lines=n` to limit number of lines returned.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request, user User) {
	if !user.Admin {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	limit := 200
	if n, err := strconv.Atoi(r.URL.Query().Get("lines")); err == nil && n > 0 {
		limit = n
	}
	lines, err := s.events.Tail(limit)
	if err != nil {
		http.Error(w, "log not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, lines)
}

// handleTestTrigger injects an edge on a simulated input.  Clients send
// {"input":"face"|"reset"|"shutdown"}.  The edge travels through the event
// source, debounce included.  Rejected unless the hardware is simulated.
func (s *Server) handleTestTrigger(w http.ResponseWriter, r *http.Request, user User) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.hw == nil || !s.hw.Simulated {
		http.Error(w, "not running with simulated hardware", http.StatusBadRequest)
		return
	}
	var req struct {
		Input string `json:"input"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	in, err := ParseInput(req.Input)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	pin, ok := s.hw.Inputs()[in].(*SimPin)
	if !ok {
		http.Error(w, "input is not simulated", http.StatusBadRequest)
		return
	}
	if !pin.Trigger() {
		http.Error(w, "edge buffer full", http.StatusServiceUnavailable)
		return
	}
	s.events.Log("test trigger %s by %s", in, user.Username)
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
