package api

import (
	"context"
	"net/http"
	"time"

	"optiondesk/broker"
	"optiondesk/config"
	"optiondesk/connection"
	"optiondesk/db"
	"optiondesk/logger"
	"optiondesk/marketdata"

	"github.com/gorilla/mux"
)

// LotSizes contains the standard lot sizes for each index.
var LotSizes = map[string]int{
	"NIFTY":     75,
	"BANKNIFTY": 30,
	"SENSEX":    20,
}

// Server is the HTTP API server.
type Server struct {
	router      *mux.Router
	server      *http.Server
	port        string
	allowOrigin string

	store       *db.Postgres
	connections *connection.Manager
	aggregator  *marketdata.Aggregator
	instruments *broker.InstrumentStore
	log         *logger.Logger
}

// NewServer wires the API server with its collaborators.
func NewServer(cfg *config.ServerConfig, store *db.Postgres, connections *connection.Manager,
	aggregator *marketdata.Aggregator, instruments *broker.InstrumentStore) *Server {

	s := &Server{
		router:      mux.NewRouter(),
		port:        cfg.Port,
		allowOrigin: cfg.AllowOrigin,
		store:       store,
		connections: connections,
		aggregator:  aggregator,
		instruments: instruments,
		log:         logger.L(),
	}
	s.setupRoutes()
	return s
}

// Start runs the HTTP server until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         ":" + s.port,
		Handler:      s.router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("Starting API server", map[string]interface{}{
			"port": s.port,
		})
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.Stop()
	}
}

// Stop shuts the HTTP server down gracefully.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.log.Info("Stopping API server", nil)
	return s.server.Shutdown(ctx)
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler {
	return s.router
}
