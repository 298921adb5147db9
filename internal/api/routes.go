// Package api exposes the agent's timer, sync and auth operations over a
// small local HTTP surface: the Go equivalent of the desktop shell's IPC
// command surface, since this module runs as a standalone daemon instead
// of inside a webview process.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hubnity/timer-agent/internal/api/middleware"
	"github.com/hubnity/timer-agent/internal/authholder"
	"github.com/hubnity/timer-agent/internal/config"
	"github.com/hubnity/timer-agent/internal/events"
	"github.com/hubnity/timer-agent/internal/store"
	"github.com/hubnity/timer-agent/internal/syncworker"
	"github.com/hubnity/timer-agent/internal/timerengine"
)

// Server wires the timer engine, store, auth holder, sync worker and
// events hub behind a chi router.
type Server struct {
	router *chi.Mux
	cfg    *config.Config
	engine *timerengine.Engine
	store  *store.Store
	auth   *authholder.Holder
	worker *syncworker.Worker
	hub    *events.Hub
	wsHandler *events.Handler
}

func NewServer(cfg *config.Config, engine *timerengine.Engine, st *store.Store, auth *authholder.Holder, worker *syncworker.Worker, hub *events.Hub) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		cfg:       cfg,
		engine:    engine,
		store:     st,
		auth:      auth,
		worker:    worker,
		hub:       hub,
		wsHandler: events.NewHandler(hub),
	}

	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealthz)

	if s.cfg.Metrics.Enabled {
		s.router.Handle(s.cfg.Metrics.Path, promhttp.Handler())
	}

	s.router.Get("/ws", s.wsHandler.ServeWS)

	s.router.Route("/v1", func(r chi.Router) {
		r.Use(chimiddleware.AllowContentType("application/json"))
		r.Use(middleware.Auth(s.cfg.Server.JWTSecret))

		r.Route("/timer", func(r chi.Router) {
			r.Post("/start", s.handleTimerStart)
			r.Post("/pause", s.handleTimerPause)
			r.Post("/resume", s.handleTimerResume)
			r.Post("/stop", s.handleTimerStop)
			r.Post("/reset-day", s.handleTimerResetDay)
			r.Get("/state", s.handleTimerState)
		})

		r.Route("/sync", func(r chi.Router) {
			r.Post("/enqueue", s.handleSyncEnqueue)
			r.Post("/screenshot", s.handleSyncScreenshot)
			r.Post("/run", s.handleSyncRun)
			r.Get("/stats", s.handleSyncStats)
			r.Get("/failed", s.handleSyncFailed)
			r.Post("/failed/reset", s.handleSyncFailedReset)
		})

		r.Route("/auth", func(r chi.Router) {
			r.Post("/tokens", s.handleAuthTokens)
		})
	})
}

// Start starts the events hub's broadcast loop.
func (s *Server) Start(ctx context.Context) {
	s.hub.Run(ctx)
}

// Stop stops the events hub.
func (s *Server) Stop() {
	s.hub.Stop()
}

func (s *Server) Router() *chi.Mux {
	return s.router
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
