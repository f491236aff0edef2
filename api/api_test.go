package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"optiondesk/auth"
	"optiondesk/config"
	"optiondesk/marketdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	require.NoError(t, auth.Initialize(auth.Config{
		Username: "admin",
		Password: "test-password",
		Secret:   "test-secret",
		TokenTTL: time.Hour,
	}))

	aggregator := marketdata.New(nil, nil, nil, time.Hour)
	t.Cleanup(aggregator.Close)

	return NewServer(&config.ServerConfig{Port: "8080"}, nil, nil, aggregator, nil)
}

func doJSON(t *testing.T, s *Server, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func login(t *testing.T, s *Server) string {
	t.Helper()
	rec := doJSON(t, s, http.MethodPost, "/api/auth/login",
		`{"username":"admin","password":"test-password"}`, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Success)

	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	token, _ := data["token"].(string)
	require.NotEmpty(t, token)
	return token
}

func TestLogin(t *testing.T) {
	s := newTestServer(t)
	login(t, s)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/auth/login",
		`{"username":"admin","password":"wrong"}`, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
}

func TestLoginRejectsMalformedBody(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/auth/login", `{not json`, "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestAuthMiddlewareRequiresToken(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/api/health", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthMiddlewareRejectsMalformedHeader(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Authorization", "not-a-bearer-token")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthMiddlewareAcceptsBearerToken(t *testing.T) {
	s := newTestServer(t)
	token := login(t, s)

	rec := doJSON(t, s, http.MethodGet, "/api/health", "", token)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthMiddlewareAcceptsQueryToken(t *testing.T) {
	s := newTestServer(t)
	token := login(t, s)

	// WebSocket clients cannot set headers; the token query parameter is
	// the supported fallback.
	rec := doJSON(t, s, http.MethodGet, "/api/auth/check?token="+token, "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "admin", data["user_id"])
}

func TestLogoutInvalidatesToken(t *testing.T) {
	s := newTestServer(t)
	token := login(t, s)

	rec := doJSON(t, s, http.MethodPost, "/api/auth/logout", "", token)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/api/auth/check", "", token)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/auth/login", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "Authorization")
}

func TestMarketStatus(t *testing.T) {
	s := newTestServer(t)
	token := login(t, s)

	rec := doJSON(t, s, http.MethodGet, "/api/status", "", token)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, data, "market_open")
	assert.Equal(t, string(marketdata.StatusDisconnected), data["status"])
}

func TestGeneralLotSizes(t *testing.T) {
	s := newTestServer(t)
	token := login(t, s)

	rec := doJSON(t, s, http.MethodGet, "/api/general", "", token)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	sizes, ok := data["lot_sizes"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(75), sizes["NIFTY"])
}

func TestLiveStatusWhenDisconnected(t *testing.T) {
	s := newTestServer(t)
	token := login(t, s)

	rec := doJSON(t, s, http.MethodGet, "/api/live/status", "", token)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
}
