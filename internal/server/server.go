package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"combatd/internal/combat"
)

// HealthChecker reports whether the backing store is reachable.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Server wraps HTTP handlers and configuration.
type Server struct {
	cfg             Config
	logger          *slog.Logger
	mux             *http.ServeMux
	combat          *combat.Service
	health          HealthChecker
	allowedOrigins  []string
	allowAllOrigins bool
}

// NewLogger returns the JSON logger shared by the server and the combat service.
func NewLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{AddSource: true, Level: level}))
}

// New constructs a Server with routes and middleware configured.
func New(cfg Config, svc *combat.Service, health HealthChecker, logger *slog.Logger) (*Server, error) {
	if svc == nil {
		return nil, errors.New("combat service is required")
	}
	if logger == nil {
		logger = NewLogger(cfg.LogLevel)
	}

	srv := &Server{
		cfg:            cfg,
		logger:         logger,
		mux:            http.NewServeMux(),
		combat:         svc,
		health:         health,
		allowedOrigins: cfg.AllowedOrigins,
	}
	for _, origin := range cfg.AllowedOrigins {
		if origin == "*" {
			srv.allowAllOrigins = true
		}
	}

	srv.routes()
	return srv, nil
}

// Router returns the HTTP handler with middleware applied.
func (s *Server) Router() http.Handler {
	return s.withCORS(s.loggingMiddleware(s.requireToken(s.mux)))
}

// Run serves HTTP on addr until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", slog.String("addr", addr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)

	s.mux.HandleFunc("POST /combatSession", s.handleCreateSession)
	s.mux.HandleFunc("GET /combatSession/{id}", s.handleGetSession)
	s.mux.HandleFunc("GET /combatSession/channel/{channelId}/active", s.handleActiveSession)
	s.mux.HandleFunc("GET /combatSession/channel/{channelId}", s.handleListSessions)
	s.mux.HandleFunc("PUT /combatSession/{id}", s.handleUpdateSession)
	s.mux.HandleFunc("PUT /combatSession/{id}/start", s.handleStartCombat)
	s.mux.HandleFunc("PUT /combatSession/{id}/next", s.handleAdvanceTurn)
	s.mux.HandleFunc("PUT /combatSession/{id}/end", s.handleEndCombat)
	s.mux.HandleFunc("PUT /combatSession/{id}/state", s.handleForceState)
	s.mux.HandleFunc("DELETE /combatSession/{id}", s.handleDeleteSession)

	s.mux.HandleFunc("POST /combatant", s.handleAddCombatant)
	s.mux.HandleFunc("GET /combatant/{id}", s.handleGetCombatant)
	s.mux.HandleFunc("GET /combatant/session/{sessionId}", s.handleListCombatants)
	s.mux.HandleFunc("GET /combatant/session/{sessionId}/user/{discordUserId}", s.handleCombatantByUser)
	s.mux.HandleFunc("PUT /combatant/{id}", s.handleUpdateCombatantHP)
	s.mux.HandleFunc("DELETE /combatant/{id}", s.handleDeleteCombatant)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		s.logger.Info("request", slog.String("method", r.Method), slog.String("path", r.URL.Path), slog.Int("status", rw.status), slog.Duration("duration", time.Since(start)))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(status int) {
	rw.status = status
	rw.ResponseWriter.WriteHeader(status)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health.Ping(r.Context()); err != nil {
			s.logger.Error("health check", slog.String("error", err.Error()))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decodeJSON reads a JSON body into dst. An empty body leaves dst untouched
// when allowEmpty is set.
func decodeJSON(r *http.Request, dst any, allowEmpty bool) error {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps a combat error to its HTTP status. Errors outside the
// combat taxonomy are logged and reported as a generic 500.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	var status int
	switch combat.KindOf(err) {
	case combat.KindValidation, combat.KindInvalidState:
		status = http.StatusBadRequest
	case combat.KindNotFound:
		status = http.StatusNotFound
	case combat.KindConflict:
		status = http.StatusConflict
	default:
		s.logger.Error(op, slog.String("path", r.URL.Path), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	var domainErr *combat.Error
	errors.As(err, &domainErr)
	body := map[string]string{"error": domainErr.Message}
	for key, value := range domainErr.Metadata {
		if key != "error" {
			body[key] = value
		}
	}
	writeJSON(w, status, body)
}
