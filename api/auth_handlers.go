package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"optiondesk/auth"
	"optiondesk/db"
)

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var creds auth.Credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		SendValidationError(w, "Invalid request body")
		return
	}

	if !auth.ValidateCredentials(creds.Username, creds.Password) {
		SendError(w, http.StatusUnauthorized, "Invalid credentials", "")
		return
	}

	token, err := auth.GenerateToken(creds.Username)
	if err != nil {
		s.log.Error("Failed to generate token", map[string]interface{}{
			"error": err.Error(),
		})
		SendInternalServerError(w, err)
		return
	}

	SendSuccess(w, map[string]string{"token": token}, "Logged in")
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	authHeader := r.Header.Get("Authorization")
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token != "" && token != authHeader {
		auth.InvalidateToken(token)
	}
	SendSuccess(w, nil, "Logged out")
}

func (s *Server) handleAuthCheck(w http.ResponseWriter, r *http.Request) {
	SendSuccess(w, map[string]string{"user_id": userFrom(r)}, "")
}

func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	SendSuccess(w, map[string]string{"status": "ok"}, "")
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	userID := userFrom(r)
	if err := s.store.EnsureProfile(r.Context(), userID); err != nil {
		SendInternalServerError(w, err)
		return
	}

	profile, err := s.store.GetProfile(r.Context(), userID)
	if err != nil {
		if err == db.ErrNotFound {
			SendNotFound(w, "Profile")
			return
		}
		SendInternalServerError(w, err)
		return
	}
	SendSuccess(w, profile, "")
}
