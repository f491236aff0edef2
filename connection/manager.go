package connection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"optiondesk/broker"
	"optiondesk/cache"
	"optiondesk/db"
	"optiondesk/logger"

	"github.com/google/uuid"
)

// Supported broker names.
const (
	BrokerUpstox  = "upstox"
	BrokerZerodha = "zerodha"
	BrokerAngel   = "angel"
)

// refreshWindow is how close to expiry a token must be before RefreshToken
// actually exchanges it.
const refreshWindow = 10 * time.Minute

var (
	// ErrConnectionExists is returned when the user already has a
	// connection for the broker.
	ErrConnectionExists = errors.New("connection already exists for this broker")

	// ErrInvalidState is returned when the OAuth callback state does not
	// match the initiating user.
	ErrInvalidState = errors.New("oauth state mismatch")

	// ErrMissingAuthCode is returned when the OAuth callback carries no
	// authorization code.
	ErrMissingAuthCode = errors.New("missing authorization code")

	// ErrReauthorizeRequired is returned when a token refresh fails and
	// the user must go through OAuth again.
	ErrReauthorizeRequired = errors.New("token refresh failed, reauthorization required")

	// ErrInvalidCredentials is returned when credential format validation
	// fails.
	ErrInvalidCredentials = errors.New("invalid broker credentials")
)

// Profile status values written to profiles.broker_connection_status.
const (
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
	StatusError        = "error"
)

// Store is the persistence surface the manager needs. *db.Postgres
// satisfies it.
type Store interface {
	EnsureProfile(ctx context.Context, userID string) error
	UpdateProfileBrokerStatus(ctx context.Context, userID string, connected bool, status string) error
	InsertConnection(ctx context.Context, c *db.BrokerConnection) error
	GetConnection(ctx context.Context, userID, id string) (*db.BrokerConnection, error)
	GetConnectionByBroker(ctx context.Context, userID, broker string) (*db.BrokerConnection, error)
	GetActiveConnection(ctx context.Context, userID string) (*db.BrokerConnection, error)
	GetPendingConnection(ctx context.Context, userID string) (*db.BrokerConnection, error)
	ListConnections(ctx context.Context, userID string) ([]*db.BrokerConnection, error)
	ActivateConnection(ctx context.Context, id, brokerUserID, accessTokenEnc, refreshTokenEnc string, expiresAt time.Time) error
	UpdateConnectionTokens(ctx context.Context, id, accessTokenEnc, refreshTokenEnc string, expiresAt time.Time) error
	TouchVerified(ctx context.Context, id string) error
	DeactivateConnection(ctx context.Context, id string) error
	DeleteConnection(ctx context.Context, userID, id string) (int, error)
}

// Manager orchestrates the lifecycle of a user's broker connection: add,
// OAuth completion, refresh, reauthorize and removal.
type Manager struct {
	store  Store
	client *broker.Client
	cipher *TokenCipher
	tokens *cache.RedisCache
	log    *logger.Logger
}

// NewManager wires a connection manager. The redis cache may be nil; token
// caching is then skipped.
func NewManager(store Store, client *broker.Client, cipher *TokenCipher, tokens *cache.RedisCache) *Manager {
	return &Manager{
		store:  store,
		client: client,
		cipher: cipher,
		tokens: tokens,
		log:    logger.L(),
	}
}

// AddConnectionRequest is the payload for AddConnection.
type AddConnectionRequest struct {
	BrokerName string `json:"broker_name"`
	APIKey     string `json:"api_key"`
	APISecret  string `json:"api_secret"`
}

// validate applies format checks only; the credentials are proven live by
// the OAuth exchange that follows.
func (r *AddConnectionRequest) validate() error {
	switch r.BrokerName {
	case BrokerUpstox, BrokerZerodha, BrokerAngel:
	default:
		return fmt.Errorf("%w: unknown broker %q", ErrInvalidCredentials, r.BrokerName)
	}
	if len(r.APIKey) < 6 {
		return fmt.Errorf("%w: api key too short", ErrInvalidCredentials)
	}
	if len(r.APISecret) < 8 {
		return fmt.Errorf("%w: api secret too short", ErrInvalidCredentials)
	}
	return nil
}

// AddConnection persists an inactive connection row and returns the OAuth
// authorization URL the user must visit. The state parameter is the user id
// and is verified on callback.
func (m *Manager) AddConnection(ctx context.Context, userID string, req AddConnectionRequest) (*db.BrokerConnection, string, error) {
	if err := req.validate(); err != nil {
		return nil, "", err
	}

	if _, err := m.store.GetConnectionByBroker(ctx, userID, req.BrokerName); err == nil {
		return nil, "", ErrConnectionExists
	} else if !errors.Is(err, db.ErrNotFound) {
		return nil, "", err
	}

	secretEnc, err := m.cipher.Encrypt(req.APISecret)
	if err != nil {
		return nil, "", fmt.Errorf("failed to encrypt api secret: %w", err)
	}

	conn := &db.BrokerConnection{
		ID:                 uuid.NewString(),
		UserID:             userID,
		BrokerName:         req.BrokerName,
		APIKey:             req.APIKey,
		APISecretEncrypted: secretEnc,
	}

	if err := m.store.EnsureProfile(ctx, userID); err != nil {
		return nil, "", err
	}
	if err := m.store.InsertConnection(ctx, conn); err != nil {
		return nil, "", err
	}

	redirectURL := m.client.BuildAuthorizeURL(req.APIKey, userID)

	m.log.Info("Broker connection added", map[string]interface{}{
		"user":   userID,
		"broker": req.BrokerName,
		"id":     conn.ID,
	})
	return conn, redirectURL, nil
}

// OAuthCallback completes the handshake: it validates state and code,
// exchanges the code for tokens and activates the pending connection.
// upstreamErr carries the broker's error query parameter, if any.
func (m *Manager) OAuthCallback(ctx context.Context, userID, code, state, upstreamErr string) error {
	if upstreamErr != "" {
		return fmt.Errorf("%w: %s", broker.ErrUpstreamOAuth, upstreamErr)
	}
	if state != userID {
		return ErrInvalidState
	}
	if code == "" {
		return ErrMissingAuthCode
	}

	conn, err := m.store.GetPendingConnection(ctx, userID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return fmt.Errorf("no pending broker connection for user")
		}
		return err
	}

	apiSecret, err := m.cipher.Decrypt(conn.APISecretEncrypted)
	if err != nil {
		return fmt.Errorf("failed to decrypt api secret: %w", err)
	}

	token, err := m.client.ExchangeCode(ctx, conn.APIKey, apiSecret, code)
	if err != nil {
		return fmt.Errorf("token exchange failed: %w", err)
	}

	expiresAt := broker.TokenExpiry(time.Now())

	accessEnc, err := m.cipher.Encrypt(token.AccessToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt access token: %w", err)
	}
	refreshEnc := ""
	if token.RefreshToken != "" {
		if refreshEnc, err = m.cipher.Encrypt(token.RefreshToken); err != nil {
			return fmt.Errorf("failed to encrypt refresh token: %w", err)
		}
	}

	if err := m.store.ActivateConnection(ctx, conn.ID, token.UserID, accessEnc, refreshEnc, expiresAt); err != nil {
		return err
	}
	if err := m.store.UpdateProfileBrokerStatus(ctx, userID, true, StatusConnected); err != nil {
		return err
	}

	if m.tokens != nil {
		if err := m.tokens.StoreAccessToken(ctx, userID, token.AccessToken, expiresAt); err != nil {
			m.log.Debug("Failed to cache access token", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	m.log.Info("Broker connection activated", map[string]interface{}{
		"user":           userID,
		"broker":         conn.BrokerName,
		"id":             conn.ID,
		"broker_user_id": token.UserID,
		"expires_at":     expiresAt.Format(time.RFC3339),
	})
	return nil
}

// RefreshToken exchanges the stored refresh credential for a new access
// token when the current one is within the refresh window. On upstream
// failure the connection is soft-disabled and ErrReauthorizeRequired is
// returned.
func (m *Manager) RefreshToken(ctx context.Context, userID, connectionID string) error {
	conn, err := m.store.GetConnection(ctx, userID, connectionID)
	if err != nil {
		return err
	}

	if conn.TokenExpiresAt != nil && time.Until(*conn.TokenExpiresAt) >= refreshWindow {
		m.log.Debug("Token not due for refresh", map[string]interface{}{
			"id":         conn.ID,
			"expires_at": conn.TokenExpiresAt.Format(time.RFC3339),
		})
		return nil
	}

	apiSecret, err := m.cipher.Decrypt(conn.APISecretEncrypted)
	if err != nil {
		return fmt.Errorf("failed to decrypt api secret: %w", err)
	}
	refreshToken := ""
	if conn.RefreshTokenEncrypted != "" {
		if refreshToken, err = m.cipher.Decrypt(conn.RefreshTokenEncrypted); err != nil {
			return fmt.Errorf("failed to decrypt refresh token: %w", err)
		}
	}

	token, err := m.client.RefreshToken(ctx, conn.APIKey, apiSecret, refreshToken)
	if err != nil {
		// Soft-disable rather than delete; the credentials survive for
		// reauthorization.
		if derr := m.store.DeactivateConnection(ctx, conn.ID); derr != nil {
			m.log.Error("Failed to deactivate connection after refresh failure", map[string]interface{}{
				"error": derr.Error(),
				"id":    conn.ID,
			})
		}
		if perr := m.store.UpdateProfileBrokerStatus(ctx, userID, false, StatusError); perr != nil {
			m.log.Error("Failed to downgrade profile status", map[string]interface{}{
				"error": perr.Error(),
				"user":  userID,
			})
		}
		if m.tokens != nil {
			m.tokens.InvalidateToken(ctx, userID)
		}
		return fmt.Errorf("%w: %v", ErrReauthorizeRequired, err)
	}

	expiresAt := broker.TokenExpiry(time.Now())

	accessEnc, err := m.cipher.Encrypt(token.AccessToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt access token: %w", err)
	}
	refreshEnc := conn.RefreshTokenEncrypted
	if token.RefreshToken != "" {
		if refreshEnc, err = m.cipher.Encrypt(token.RefreshToken); err != nil {
			return fmt.Errorf("failed to encrypt refresh token: %w", err)
		}
	}

	if err := m.store.UpdateConnectionTokens(ctx, conn.ID, accessEnc, refreshEnc, expiresAt); err != nil {
		return err
	}
	if m.tokens != nil {
		if err := m.tokens.StoreAccessToken(ctx, userID, token.AccessToken, expiresAt); err != nil {
			m.log.Debug("Failed to cache refreshed token", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	m.log.Info("Broker token refreshed", map[string]interface{}{
		"user":       userID,
		"id":         conn.ID,
		"expires_at": expiresAt.Format(time.RFC3339),
	})
	return nil
}

// Reauthorize soft-disables the connection and re-issues the OAuth
// redirect using the stored credentials.
func (m *Manager) Reauthorize(ctx context.Context, userID, connectionID string) (string, error) {
	conn, err := m.store.GetConnection(ctx, userID, connectionID)
	if err != nil {
		return "", err
	}

	if err := m.store.DeactivateConnection(ctx, conn.ID); err != nil {
		return "", err
	}
	if m.tokens != nil {
		m.tokens.InvalidateToken(ctx, userID)
	}

	m.log.Info("Broker connection reauthorization started", map[string]interface{}{
		"user": userID,
		"id":   conn.ID,
	})
	return m.client.BuildAuthorizeURL(conn.APIKey, userID), nil
}

// VerifyConnection proves the stored token against the broker profile
// endpoint and records the verification time.
func (m *Manager) VerifyConnection(ctx context.Context, userID, connectionID string) (*broker.Profile, error) {
	conn, err := m.store.GetConnection(ctx, userID, connectionID)
	if err != nil {
		return nil, err
	}
	if conn.AccessTokenEncrypted == "" {
		return nil, ErrReauthorizeRequired
	}

	accessToken, err := m.cipher.Decrypt(conn.AccessTokenEncrypted)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt access token: %w", err)
	}

	profile, err := m.client.GetProfile(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	if err := m.store.TouchVerified(ctx, conn.ID); err != nil {
		m.log.Error("Failed to record verification", map[string]interface{}{
			"error": err.Error(),
			"id":    conn.ID,
		})
	}
	return profile, nil
}

// RemoveConnection deletes the row. If it was the user's last connection
// the profile's aggregate broker flags are reset.
func (m *Manager) RemoveConnection(ctx context.Context, userID, connectionID string) error {
	remaining, err := m.store.DeleteConnection(ctx, userID, connectionID)
	if err != nil {
		return err
	}

	if m.tokens != nil {
		m.tokens.InvalidateToken(ctx, userID)
	}

	if remaining == 0 {
		if err := m.store.UpdateProfileBrokerStatus(ctx, userID, false, StatusDisconnected); err != nil {
			return err
		}
	}

	m.log.Info("Broker connection removed", map[string]interface{}{
		"user":      userID,
		"id":        connectionID,
		"remaining": remaining,
	})
	return nil
}

// ListConnections returns the user's connections with secrets redacted.
func (m *Manager) ListConnections(ctx context.Context, userID string) ([]*db.BrokerConnection, error) {
	connections, err := m.store.ListConnections(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, c := range connections {
		c.APISecretEncrypted = ""
		c.AccessTokenEncrypted = ""
		c.RefreshTokenEncrypted = ""
	}
	return connections, nil
}

// AccessToken resolves the user's current decrypted access token for the
// live data layer, preferring the redis cache over a database read.
func (m *Manager) AccessToken(ctx context.Context, userID string) (string, time.Time, error) {
	if m.tokens != nil {
		if token := m.tokens.GetValidToken(ctx, userID); token != "" {
			return token, time.Time{}, nil
		}
	}

	conn, err := m.store.GetActiveConnection(ctx, userID)
	if err != nil {
		return "", time.Time{}, err
	}
	if conn.AccessTokenEncrypted == "" || conn.TokenExpiresAt == nil {
		return "", time.Time{}, db.ErrNotFound
	}
	if time.Now().After(*conn.TokenExpiresAt) {
		return "", time.Time{}, db.ErrNotFound
	}

	token, err := m.cipher.Decrypt(conn.AccessTokenEncrypted)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to decrypt access token: %w", err)
	}

	if m.tokens != nil {
		if err := m.tokens.StoreAccessToken(ctx, userID, token, *conn.TokenExpiresAt); err != nil {
			m.log.Debug("Failed to cache access token", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}
	return token, *conn.TokenExpiresAt, nil
}
