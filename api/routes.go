package api

import "net/http"

// setupRoutes initializes all API routes.
func (s *Server) setupRoutes() {
	s.router.Use(s.CORSMiddleware)
	s.router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s.log.Debug("Request received", map[string]interface{}{
				"method": r.Method,
				"path":   r.URL.Path,
			})
			next.ServeHTTP(w, r)
		})
	})

	// Public routes (no auth required).
	publicRouter := s.router.PathPrefix("/api").Subrouter()
	publicRouter.HandleFunc("/auth/login", s.handleLogin).Methods("POST", "OPTIONS")

	// Authenticated routes.
	authenticatedRouter := s.router.PathPrefix("/api").Subrouter()
	authenticatedRouter.Use(s.AuthMiddleware)

	authenticatedRouter.HandleFunc("/auth/logout", s.handleLogout).Methods("POST")
	authenticatedRouter.HandleFunc("/auth/check", s.handleAuthCheck).Methods("GET")
	authenticatedRouter.HandleFunc("/health", s.handleHealthCheck).Methods("GET")
	authenticatedRouter.HandleFunc("/profile", s.handleGetProfile).Methods("GET")

	// Broker connection lifecycle.
	connectionRouter := authenticatedRouter.PathPrefix("/connections").Subrouter()
	connectionRouter.HandleFunc("", s.handleListConnections).Methods("GET")
	connectionRouter.HandleFunc("", s.handleAddConnection).Methods("POST")
	connectionRouter.HandleFunc("/{id}", s.handleRemoveConnection).Methods("DELETE")
	connectionRouter.HandleFunc("/{id}/refresh", s.handleRefreshToken).Methods("POST")
	connectionRouter.HandleFunc("/{id}/reauthorize", s.handleReauthorize).Methods("POST")
	connectionRouter.HandleFunc("/{id}/verify", s.handleVerifyConnection).Methods("POST")

	// OAuth callback: the frontend receives the redirect and relays
	// code/state here with its session token.
	authenticatedRouter.HandleFunc("/broker/callback", s.handleOAuthCallback).Methods("POST")

	// Live market data.
	liveRouter := authenticatedRouter.PathPrefix("/live").Subrouter()
	liveRouter.HandleFunc("/connect", s.handleLiveConnect).Methods("POST")
	liveRouter.HandleFunc("/disconnect", s.handleLiveDisconnect).Methods("POST")
	liveRouter.HandleFunc("/reconnect", s.handleLiveReconnect).Methods("POST")
	liveRouter.HandleFunc("/subscribe", s.handleSubscribe).Methods("POST")
	liveRouter.HandleFunc("/unsubscribe", s.handleUnsubscribe).Methods("POST")
	liveRouter.HandleFunc("/status", s.handleLiveStatus).Methods("GET")
	liveRouter.HandleFunc("/data", s.handleGetMarketData).Methods("GET")
	liveRouter.HandleFunc("/nifty", s.handleGetNiftyData).Methods("GET")

	// Option chain and reference data.
	authenticatedRouter.HandleFunc("/option-chain", s.handleGetOptionChain).Methods("GET")
	authenticatedRouter.HandleFunc("/expiries", s.handleGetExpiries).Methods("GET")
	authenticatedRouter.HandleFunc("/status", s.handleGetMarketStatus).Methods("GET")
	authenticatedRouter.HandleFunc("/general", s.handleGeneral).Methods("GET")

	// Live tick stream.
	authenticatedRouter.HandleFunc("/ws/ticks", s.handleTickStream).Methods("GET")
}
