// Package api exposes the HTTP and WebSocket surface: account routes,
// project routes, and the per-project relay endpoint.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/devmate/devmate/pkg/auth"
	"github.com/devmate/devmate/pkg/channel"
	"github.com/devmate/devmate/pkg/collab"
	"github.com/devmate/devmate/pkg/config"
	"github.com/devmate/devmate/pkg/logging"
	"github.com/devmate/devmate/pkg/storage"
)

// Server is the devmate API server.
type Server struct {
	cfg        config.Config
	store      *storage.Store
	tokens     *auth.TokenManager
	hub        *channel.Hub
	sessions   *collab.Manager
	logger     *logging.Logger
	httpServer *http.Server
	limiter    *clientLimiter
}

// ServerConfig wires the server's collaborators.
type ServerConfig struct {
	Config   config.Config
	Store    *storage.Store
	Tokens   *auth.TokenManager
	Hub      *channel.Hub
	Sessions *collab.Manager
	Logger   *logging.Logger
}

// NewServer creates the API server and mounts all routes.
func NewServer(cfg ServerConfig) *Server {
	s := &Server{
		cfg:      cfg.Config,
		store:    cfg.Store,
		tokens:   cfg.Tokens,
		hub:      cfg.Hub,
		sessions: cfg.Sessions,
		logger:   cfg.Logger,
		limiter:  newClientLimiter(),
	}

	router := chi.NewRouter()
	router.Use(s.corsMiddleware)
	router.Use(s.loggingMiddleware)

	router.Get("/healthz", s.handleHealthz)
	router.Get("/metrics", s.handleMetrics)

	router.Route("/users", func(r chi.Router) {
		r.Post("/register", s.handleRegister)
		r.Post("/login", s.handleLogin)
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Get("/profile", s.handleProfile)
			r.Post("/logout", s.handleLogout)
			r.Get("/all", s.handleListUsers)
		})
	})

	router.Route("/projects", func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Post("/create", s.handleCreateProject)
		r.Get("/all", s.handleListProjects)
		r.Get("/get-project/{projectID}", s.handleGetProject)
		r.Get("/get-project/{projectID}/file", s.handleGetFile)
		r.Put("/add-user", s.handleAddUser)
		r.With(s.rateLimitMiddleware).Put("/update-file-tree", s.handleUpdateFileTree)
		r.With(s.rateLimitMiddleware).Put("/edit-file", s.handleEditFile)
		r.Post("/{projectID}/run", s.handleRunProject)
	})

	router.Get("/ws", s.handleWS)

	s.httpServer = &http.Server{
		Addr:         cfg.Config.Server.BindAddress,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // WebSocket connections stay open
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start starts the API server.
func (s *Server) Start() error {
	if s.logger != nil {
		_ = s.logger.Info(logging.CategoryServer, "server_starting", "listening",
			map[string]any{"addr": s.httpServer.Addr})
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server, closing all sessions and the
// room relay.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.sessions != nil {
		s.sessions.CloseAll()
	}
	if s.hub != nil {
		s.hub.Close()
	}
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the underlying handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
