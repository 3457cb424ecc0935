// Package server exposes the recognizer to the camera front-end over HTTP.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/andresmejia3/rollcall/internal/attendance"
	"github.com/andresmejia3/rollcall/internal/liveness"
	"github.com/andresmejia3/rollcall/internal/logger"
	"github.com/andresmejia3/rollcall/internal/recognizer"
)

// Processor runs uploads through recognition.
type Processor interface {
	ProcessFrame(ctx context.Context, data []byte, state *liveness.State) (*recognizer.Result, error)
	ProcessImage(ctx context.Context, data []byte) (*recognizer.Result, error)
}

type Config struct {
	Host           string
	Port           int
	MaxUploadBytes int64
	Liveness       liveness.Options
	// SessionTTL drops liveness sessions idle for longer than this (defaults to 30 minutes).
	SessionTTL time.Duration
	// MaxSessions caps live sessions; the least recently seen is evicted (defaults to 256).
	MaxSessions int
}

// Server is the HTTP front of rollcall.
type Server struct {
	cfg        Config
	router     *chi.Mux
	httpServer *http.Server
	pipeline   Processor
	attendance attendance.Lister
	sessions   *sessionManager
}

// New wires the router. A nil lister disables the attendance listing endpoint.
func New(cfg Config, p Processor, lister attendance.Lister) *Server {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 5_000_000
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 30 * time.Minute
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 256
	}

	r := chi.NewRouter()
	s := &Server{
		cfg:        cfg,
		router:     r,
		pipeline:   p,
		attendance: lister,
		sessions: newSessionManager(cfg.SessionTTL, cfg.MaxSessions, func() *liveness.State {
			return liveness.NewState(cfg.Liveness)
		}),
	}

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(cors)

	r.Get("/healthz", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Post("/uploads", s.handleUpload)
		r.Delete("/sessions/{id}", s.handleDeleteSession)
		r.Get("/attendance", s.handleAttendance)
	})

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute, // detection on a cold worker can be slow
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start blocks serving HTTP until Shutdown is called.
func (s *Server) Start() error {
	logger.Info("starting web server", logger.LoggerOptions{Key: "addr", Data: s.httpServer.Addr})
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	logger.Info("shutting down web server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// Router returns the chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// cors allows any origin, like the upload server the camera page was built against.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, X-Session-ID")
		w.Header().Set("Access-Control-Expose-Headers", "X-Session-ID")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
