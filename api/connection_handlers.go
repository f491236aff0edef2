package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"optiondesk/broker"
	"optiondesk/connection"
	"optiondesk/db"

	"github.com/gorilla/mux"
)

func (s *Server) handleListConnections(w http.ResponseWriter, r *http.Request) {
	connections, err := s.connections.ListConnections(r.Context(), userFrom(r))
	if err != nil {
		SendInternalServerError(w, err)
		return
	}
	SendSuccess(w, connections, "")
}

func (s *Server) handleAddConnection(w http.ResponseWriter, r *http.Request) {
	var req connection.AddConnectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		SendValidationError(w, "Invalid request body")
		return
	}

	conn, redirectURL, err := s.connections.AddConnection(r.Context(), userFrom(r), req)
	if err != nil {
		switch {
		case errors.Is(err, connection.ErrInvalidCredentials):
			SendValidationError(w, err.Error())
		case errors.Is(err, connection.ErrConnectionExists):
			SendError(w, http.StatusConflict, err.Error(), "")
		default:
			SendInternalServerError(w, err)
		}
		return
	}

	SendSuccess(w, map[string]interface{}{
		"connection":   conn,
		"redirect_url": redirectURL,
	}, "Connection added, complete authorization")
}

type oauthCallbackRequest struct {
	Code  string `json:"code"`
	State string `json:"state"`
	Error string `json:"error"`
}

func (s *Server) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	var req oauthCallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		SendValidationError(w, "Invalid request body")
		return
	}

	err := s.connections.OAuthCallback(r.Context(), userFrom(r), req.Code, req.State, req.Error)
	if err != nil {
		switch {
		case errors.Is(err, connection.ErrInvalidState):
			SendError(w, http.StatusForbidden, err.Error(), "")
		case errors.Is(err, connection.ErrMissingAuthCode):
			SendValidationError(w, err.Error())
		case errors.Is(err, broker.ErrUpstreamOAuth):
			SendError(w, http.StatusBadGateway, err.Error(), "")
		default:
			SendInternalServerError(w, err)
		}
		return
	}

	SendSuccess(w, nil, "Broker connected")
}

func (s *Server) handleRefreshToken(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	err := s.connections.RefreshToken(r.Context(), userFrom(r), id)
	if err != nil {
		switch {
		case errors.Is(err, db.ErrNotFound):
			SendNotFound(w, "Connection")
		case errors.Is(err, connection.ErrReauthorizeRequired):
			SendError(w, http.StatusConflict, err.Error(), "Reauthorization required")
		default:
			SendInternalServerError(w, err)
		}
		return
	}
	SendSuccess(w, nil, "Token refreshed")
}

func (s *Server) handleReauthorize(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	redirectURL, err := s.connections.Reauthorize(r.Context(), userFrom(r), id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			SendNotFound(w, "Connection")
			return
		}
		SendInternalServerError(w, err)
		return
	}
	SendSuccess(w, map[string]string{"redirect_url": redirectURL}, "Reauthorization started")
}

func (s *Server) handleVerifyConnection(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	profile, err := s.connections.VerifyConnection(r.Context(), userFrom(r), id)
	if err != nil {
		switch {
		case errors.Is(err, db.ErrNotFound):
			SendNotFound(w, "Connection")
		case errors.Is(err, connection.ErrReauthorizeRequired):
			SendError(w, http.StatusConflict, err.Error(), "Reauthorization required")
		case broker.IsUnauthorized(err):
			SendError(w, http.StatusConflict, "Broker rejected the stored token", "Reauthorization required")
		default:
			SendInternalServerError(w, err)
		}
		return
	}
	SendSuccess(w, profile, "Connection verified")
}

func (s *Server) handleRemoveConnection(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.connections.RemoveConnection(r.Context(), userFrom(r), id); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			SendNotFound(w, "Connection")
			return
		}
		SendInternalServerError(w, err)
		return
	}
	SendSuccess(w, nil, "Connection removed")
}
