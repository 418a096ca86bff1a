// Package server exposes course generation, auth and progress over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/p-n-ai/pai-course/internal/auth"
	"github.com/p-n-ai/pai-course/internal/course"
	"github.com/p-n-ai/pai-course/internal/generator"
	"github.com/p-n-ai/pai-course/internal/progress"
)

const (
	maxBodyBytes = 1 << 20
	checkTimeout = 3 * time.Second
)

// Generator builds or fetches the course for a topic.
type Generator interface {
	GenerateWithObserver(ctx context.Context, topic string, obs generator.Observer) (*course.Course, error)
}

// Check reports whether a dependency is usable.
type Check func(ctx context.Context) error

// Config holds the server's collaborators.
type Config struct {
	Generator      Generator
	Courses        course.Store
	Progress       progress.Store
	Auth           *auth.Service
	Checks         map[string]Check // run by /readyz
	AllowedOrigins []string         // extra origins accepted for the WebSocket stream
}

// Server routes API requests to the course, auth and progress services.
type Server struct {
	generator      Generator
	courses        course.Store
	progress       progress.Store
	auth           *auth.Service
	checks         map[string]Check
	allowedOrigins []string
}

// New creates a server.
func New(cfg Config) *Server {
	return &Server{
		generator:      cfg.Generator,
		courses:        cfg.Courses,
		progress:       cfg.Progress,
		auth:           cfg.Auth,
		checks:         cfg.Checks,
		allowedOrigins: cfg.AllowedOrigins,
	}
}

// Handler returns the HTTP router.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReadyz)

	mux.HandleFunc("POST /api/auth/register", s.handleRegister)
	mux.HandleFunc("POST /api/auth/login", s.handleLogin)

	protected := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, s.auth.Middleware(h))
	}
	protected("GET /api/auth/me", s.handleMe)
	protected("POST /api/courses/generate", s.handleGenerate)
	protected("GET /api/courses/generate/ws", s.handleGenerateStream)
	protected("GET /api/courses/{id}", s.handleGetCourse)
	protected("GET /api/courses/{id}/export.xlsx", s.handleExport)
	protected("GET /api/users/progress", s.handleListProgress)
	protected("POST /api/users/progress", s.handleUpsertProgress)
	return mux
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	failed := map[string]string{}
	for name, check := range s.checks {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := check(ctx)
		cancel()
		if err != nil {
			slog.Warn("readiness check failed", "check", name, "error", err)
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "failed": failed})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "request body must be a JSON object")
		return false
	}
	return true
}

func userID(r *http.Request) string {
	id, _ := auth.UserIDFromContext(r.Context())
	return id
}

// lookupCourse writes 404 or 500 and returns nil when the course is not
// available.
func (s *Server) lookupCourse(w http.ResponseWriter, r *http.Request, id string) *course.Course {
	c, err := s.courses.Get(r.Context(), id)
	if errors.Is(err, course.ErrNotFound) {
		writeError(w, http.StatusNotFound, "course not found")
		return nil
	}
	if err != nil {
		slog.Error("failed to load course", "course_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load course")
		return nil
	}
	return c
}
