package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/speedrun-hq/paywatch/pkg/apiclient"
	"github.com/speedrun-hq/paywatch/pkg/circuitbreaker"
	"github.com/speedrun-hq/paywatch/pkg/logger"
	"github.com/speedrun-hq/paywatch/pkg/session"
)

// SessionRegistry is the session surface exposed over HTTP
type SessionRegistry interface {
	CreateSession(ctx context.Context, amount string) (session.Snapshot, error)
	ListSessions() []session.Snapshot
	GetSession(id string) (session.Snapshot, error)
	ConfirmSession(id string) (session.Snapshot, error)
	CancelSession(id string) (session.Snapshot, error)
}

// Server represents a health check HTTP server
type Server struct {
	port      string
	registry  SessionRegistry
	breaker   *circuitbreaker.CircuitBreaker
	apiKey    string
	logger    logger.Logger
	startedAt time.Time
}

// NewServer creates a new health check server
func NewServer(port string, registry SessionRegistry, breaker *circuitbreaker.CircuitBreaker, apiKey string, logger logger.Logger) *Server {
	return &Server{
		port:      port,
		registry:  registry,
		breaker:   breaker,
		apiKey:    apiKey,
		logger:    logger,
		startedAt: time.Now(),
	}
}

type createSessionRequest struct {
	Amount string `json:"amount"`
}

type errorResponse struct {
	Error   string            `json:"error"`
	Session *session.Snapshot `json:"session,omitempty"`
}

// authMiddleware is a middleware that checks for a valid API key.
// It guards metrics, admin and session routes.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Skip auth if no API key is configured
		if s.apiKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Missing Authorization header", http.StatusUnauthorized)
			return
		}

		token, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok || token == "" {
			http.Error(w, "Invalid Authorization header format", http.StatusUnauthorized)
			return
		}

		if token != s.apiKey {
			http.Error(w, "Invalid API key", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Handler returns the routes served by the health server
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	// Not ready while intents cannot be created
	mux.HandleFunc("GET /ready", func(w http.ResponseWriter, r *http.Request) {
		if s.breaker != nil && s.breaker.IsOpen() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("Intent API circuit breaker open"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("Ready"))
	})

	mux.HandleFunc("GET /status", s.handleStatus)

	// Circuit breaker admin control endpoint
	s.handleAuth(mux, "POST /circuit/reset", func(w http.ResponseWriter, r *http.Request) {
		if s.breaker == nil {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte("No circuit breaker configured"))
			return
		}
		s.breaker.Reset()
		s.logger.Notice("Circuit breaker reset through admin endpoint")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("Circuit breaker reset"))
	})

	// Sessions spend the service credential, so they need the API key too
	s.handleAuth(mux, "POST /sessions", s.handleCreateSession)
	s.handleAuth(mux, "GET /sessions", func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, http.StatusOK, s.registry.ListSessions())
	})
	s.handleAuth(mux, "GET /sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		snap, err := s.registry.GetSession(r.PathValue("id"))
		s.respondSession(w, snap, err)
	})
	s.handleAuth(mux, "POST /sessions/{id}/confirm", func(w http.ResponseWriter, r *http.Request) {
		snap, err := s.registry.ConfirmSession(r.PathValue("id"))
		s.respondSession(w, snap, err)
	})
	s.handleAuth(mux, "DELETE /sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		snap, err := s.registry.CancelSession(r.PathValue("id"))
		s.respondSession(w, snap, err)
	})

	// Expose Prometheus metrics with API key authentication
	mux.Handle("/metrics", s.authMiddleware(promhttp.Handler()))

	return mux
}

func (s *Server) handleAuth(mux *http.ServeMux, pattern string, handler http.HandlerFunc) {
	mux.Handle(pattern, s.authMiddleware(handler))
}

// Start serves until ctx is done
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("Health server shutdown error: %v", err)
		}
	}()

	s.logger.Info("Starting health and metrics server on port %s", s.port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("health server error: %w", err)
	}
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	counts := make(map[session.Status]int)
	sessions := s.registry.ListSessions()
	for _, snap := range sessions {
		counts[snap.Status]++
	}

	status := map[string]interface{}{
		"uptime":    time.Since(s.startedAt).Round(time.Second).String(),
		"sessions":  len(sessions),
		"by_status": counts,
	}
	if s.breaker != nil {
		status["circuit"] = s.breaker.GetState()
	}

	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	snap, err := s.registry.CreateSession(r.Context(), req.Amount)
	if err != nil {
		code := http.StatusBadGateway
		switch {
		case errors.Is(err, apiclient.ErrInvalidAmount):
			code = http.StatusBadRequest
		case errors.Is(err, apiclient.ErrCircuitOpen):
			code = http.StatusServiceUnavailable
		}
		resp := errorResponse{Error: err.Error()}
		if snap.ID != "" {
			resp.Session = &snap
		}
		s.writeJSON(w, code, resp)
		return
	}

	s.writeJSON(w, http.StatusCreated, snap)
}

func (s *Server) respondSession(w http.ResponseWriter, snap session.Snapshot, err error) {
	if errors.Is(err, session.ErrSessionNotFound) {
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
		return
	}
	if err != nil {
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Error encoding response JSON: %v", err)
	}
}
