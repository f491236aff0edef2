package api

import (
	"context"
	"net/http"
	"strings"

	"optiondesk/auth"
)

// CORSMiddleware applies the configured allow-origin to every response.
func (s *Server) CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := s.allowOrigin
		if origin == "" {
			origin = "*"
		}
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// AuthMiddleware checks for a valid JWT and stores the user id in the
// request context. WebSocket clients cannot set headers, so a token query
// parameter is accepted as a fallback.
func (s *Server) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		var tokenString string
		authHeader := r.Header.Get("Authorization")
		switch {
		case authHeader != "":
			tokenString = strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader {
				SendError(w, http.StatusUnauthorized, "Invalid authorization header format", "")
				return
			}
		case r.URL.Query().Get("token") != "":
			tokenString = r.URL.Query().Get("token")
		default:
			SendError(w, http.StatusUnauthorized, "No authorization header", "")
			return
		}

		userID, err := auth.ValidateToken(tokenString)
		if err != nil {
			SendError(w, http.StatusUnauthorized, "Invalid token", "")
			return
		}

		ctx := context.WithValue(r.Context(), auth.UserContextKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// userFrom returns the authenticated user id stored by AuthMiddleware.
func userFrom(r *http.Request) string {
	if userID, ok := r.Context().Value(auth.UserContextKey).(string); ok {
		return userID
	}
	return ""
}
