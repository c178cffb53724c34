// Package server exposes the link engine, chat log, and marker store to
// the local UI over HTTP and WebSocket.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/Saintenr/dis4ster-shr3k/bluetooth"
	"github.com/Saintenr/dis4ster-shr3k/marker"
	"github.com/Saintenr/dis4ster-shr3k/utils"
)

// Server holds the dependencies for the HTTP surface.
type Server struct {
	log         zerolog.Logger
	coordinator *bluetooth.Coordinator
	store       marker.Store
	hub         *utils.Hub
	addr        string
	router      chi.Router
}

func New(coordinator *bluetooth.Coordinator, store marker.Store, hub *utils.Hub, addr string, log zerolog.Logger) *Server {
	s := &Server{
		log:         log,
		coordinator: coordinator,
		store:       store,
		hub:         hub,
		addr:        addr,
		router:      chi.NewRouter(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.router.Use(middleware.Recoverer)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/messages", s.handleListMessages)
		r.Post("/messages", s.handleSendMessage)
		r.Get("/peers", s.handleListPeers)
		r.Get("/markers", s.handleListMarkers)
		r.Post("/markers", s.handleAddMarker)
		r.Put("/markers/{id}", s.handleUpdateMarker)
		r.Get("/categories", s.handleListCategories)
	})
	s.router.Get("/ws", s.handleWebSocket)
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.addr,
		Handler: s.router,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
