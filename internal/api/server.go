// Package api exposes the feed over a local HTTP API for operator tooling.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server serves the feed API and /metrics.
type Server struct {
	httpServer *http.Server
	listener   net.Listener
	logger     *zap.Logger
}

// NewRouter builds the route table.
func NewRouter(h *Handler, logger *zap.Logger) chi.Router {
	r := chi.NewRouter()
	r.Use(metricsMiddleware, requestLogger(logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/feed", h.GetFeed)
		r.Put("/feed/category", h.SetCategory)
		r.Put("/feed/filter", h.ApplyFilter)
		r.Delete("/feed/filter", h.ClearFilters)
		r.Post("/feed/refresh", h.Refresh)
		r.Post("/feed/retry", h.Retry)
		r.Post("/feed/scroll", h.Scroll)
		r.Put("/feed/viewport", h.SetViewport)
		r.Get("/feed/layout", h.Layout)

		r.Get("/rows/{id}", h.Search)
		r.Patch("/rows/{id}", h.UpdateRow)
		r.Delete("/rows/{id}", h.DeleteRow)
		r.Post("/rows/{id}/expand", h.ToggleExpand)

		r.Get("/channels", h.Channels)
		r.Get("/stats", h.Stats)
		r.Post("/logout", h.Logout)
	})
	return r
}

// NewServer listens on addr. The listener is opened eagerly so a port
// conflict fails startup.
func NewServer(addr string, h *Handler, logger *zap.Logger) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return &Server{
		httpServer: &http.Server{
			Handler:           NewRouter(h, logger),
			ReadHeaderTimeout: 5 * time.Second,
		},
		listener: listener,
		logger:   logger,
	}, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Start serves until Stop. Blocks.
func (s *Server) Start() error {
	s.logger.Info("HTTP server starting", zap.String("addr", s.Addr()))
	if err := s.httpServer.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("HTTP server stopping")
	return s.httpServer.Shutdown(ctx)
}
