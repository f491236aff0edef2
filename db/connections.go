package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// BrokerConnection mirrors the broker_connections table. Token and secret
// columns hold ciphertext; decryption happens in the connection package.
type BrokerConnection struct {
	ID                    string     `db:"id"`
	UserID                string     `db:"user_id"`
	BrokerName            string     `db:"broker_name"`
	BrokerUserID          string     `db:"broker_user_id"`
	APIKey                string     `db:"api_key"`
	APISecretEncrypted    string     `db:"api_secret_encrypted"`
	AccessTokenEncrypted  string     `db:"access_token_encrypted"`
	RefreshTokenEncrypted string     `db:"refresh_token_encrypted"`
	IsActive              bool       `db:"is_active"`
	IsVerified            bool       `db:"is_verified"`
	TokenExpiresAt        *time.Time `db:"token_expires_at"`
	LastVerifiedAt        *time.Time `db:"last_verified_at"`
	CreatedAt             time.Time  `db:"created_at"`
	UpdatedAt             time.Time  `db:"updated_at"`
}

const connectionColumns = `id, user_id, broker_name, COALESCE(broker_user_id, ''),
	api_key, api_secret_encrypted, COALESCE(access_token_encrypted, ''),
	COALESCE(refresh_token_encrypted, ''), is_active, is_verified,
	token_expires_at, last_verified_at, created_at, updated_at`

func scanConnection(row pgx.Row) (*BrokerConnection, error) {
	var c BrokerConnection
	err := row.Scan(&c.ID, &c.UserID, &c.BrokerName, &c.BrokerUserID,
		&c.APIKey, &c.APISecretEncrypted, &c.AccessTokenEncrypted,
		&c.RefreshTokenEncrypted, &c.IsActive, &c.IsVerified,
		&c.TokenExpiresAt, &c.LastVerifiedAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

// InsertConnection stores a new broker connection row.
func (p *Postgres) InsertConnection(ctx context.Context, c *BrokerConnection) error {
	query := `
		INSERT INTO broker_connections
			(id, user_id, broker_name, broker_user_id, api_key,
			 api_secret_encrypted, is_active, is_verified, created_at, updated_at)
		VALUES (@id, @user_id, @broker_name, @broker_user_id, @api_key,
			 @api_secret_encrypted, @is_active, @is_verified, @now, @now)
	`

	args := pgx.NamedArgs{
		"id":                   c.ID,
		"user_id":              c.UserID,
		"broker_name":          c.BrokerName,
		"broker_user_id":       c.BrokerUserID,
		"api_key":              c.APIKey,
		"api_secret_encrypted": c.APISecretEncrypted,
		"is_active":            c.IsActive,
		"is_verified":          c.IsVerified,
		"now":                  pgtype.Timestamptz{Time: time.Now(), Valid: true},
	}

	if _, err := p.pool.Exec(ctx, query, args); err != nil {
		p.log.Error("Failed to insert broker connection", map[string]interface{}{
			"error":  err.Error(),
			"user":   c.UserID,
			"broker": c.BrokerName,
		})
		return fmt.Errorf("failed to insert broker connection: %w", err)
	}
	return nil
}

// GetConnection fetches a connection by id, scoped to the user.
func (p *Postgres) GetConnection(ctx context.Context, userID, id string) (*BrokerConnection, error) {
	query := fmt.Sprintf(`SELECT %s FROM broker_connections WHERE id = $1 AND user_id = $2`, connectionColumns)
	return scanConnection(p.pool.QueryRow(ctx, query, id, userID))
}

// GetConnectionByBroker fetches the user's connection for a broker, if any.
func (p *Postgres) GetConnectionByBroker(ctx context.Context, userID, broker string) (*BrokerConnection, error) {
	query := fmt.Sprintf(`SELECT %s FROM broker_connections WHERE user_id = $1 AND broker_name = $2`, connectionColumns)
	return scanConnection(p.pool.QueryRow(ctx, query, userID, broker))
}

// GetActiveConnection returns the user's single active, verified connection.
func (p *Postgres) GetActiveConnection(ctx context.Context, userID string) (*BrokerConnection, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM broker_connections
		WHERE user_id = $1 AND is_active = TRUE AND is_verified = TRUE
		ORDER BY updated_at DESC LIMIT 1`, connectionColumns)
	return scanConnection(p.pool.QueryRow(ctx, query, userID))
}

// GetPendingConnection returns the user's most recently touched inactive
// connection, the one an OAuth callback should complete.
func (p *Postgres) GetPendingConnection(ctx context.Context, userID string) (*BrokerConnection, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM broker_connections
		WHERE user_id = $1 AND is_active = FALSE
		ORDER BY updated_at DESC LIMIT 1`, connectionColumns)
	return scanConnection(p.pool.QueryRow(ctx, query, userID))
}

// ListConnections returns all of the user's connections.
func (p *Postgres) ListConnections(ctx context.Context, userID string) ([]*BrokerConnection, error) {
	query := fmt.Sprintf(`SELECT %s FROM broker_connections WHERE user_id = $1 ORDER BY created_at`, connectionColumns)

	rows, err := p.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list broker connections: %w", err)
	}
	defer rows.Close()

	var connections []*BrokerConnection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan broker connection: %w", err)
		}
		connections = append(connections, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating broker connections: %w", err)
	}
	return connections, nil
}

// ActivateConnection writes the exchanged tokens and flips the row active.
func (p *Postgres) ActivateConnection(ctx context.Context, id, brokerUserID, accessTokenEnc, refreshTokenEnc string, expiresAt time.Time) error {
	query := `
		UPDATE broker_connections SET
			broker_user_id = @broker_user_id,
			access_token_encrypted = @access_token,
			refresh_token_encrypted = @refresh_token,
			is_active = TRUE,
			is_verified = TRUE,
			token_expires_at = @expires_at,
			last_verified_at = @now,
			updated_at = @now
		WHERE id = @id
	`

	args := pgx.NamedArgs{
		"id":             id,
		"broker_user_id": brokerUserID,
		"access_token":   accessTokenEnc,
		"refresh_token":  refreshTokenEnc,
		"expires_at":     pgtype.Timestamptz{Time: expiresAt, Valid: true},
		"now":            pgtype.Timestamptz{Time: time.Now(), Valid: true},
	}

	if _, err := p.pool.Exec(ctx, query, args); err != nil {
		return fmt.Errorf("failed to activate broker connection: %w", err)
	}
	return nil
}

// UpdateConnectionTokens writes refreshed tokens without touching flags.
func (p *Postgres) UpdateConnectionTokens(ctx context.Context, id, accessTokenEnc, refreshTokenEnc string, expiresAt time.Time) error {
	query := `
		UPDATE broker_connections SET
			access_token_encrypted = @access_token,
			refresh_token_encrypted = @refresh_token,
			token_expires_at = @expires_at,
			last_verified_at = @now,
			updated_at = @now
		WHERE id = @id
	`

	args := pgx.NamedArgs{
		"id":            id,
		"access_token":  accessTokenEnc,
		"refresh_token": refreshTokenEnc,
		"expires_at":    pgtype.Timestamptz{Time: expiresAt, Valid: true},
		"now":           pgtype.Timestamptz{Time: time.Now(), Valid: true},
	}

	if _, err := p.pool.Exec(ctx, query, args); err != nil {
		return fmt.Errorf("failed to update broker connection tokens: %w", err)
	}
	return nil
}

// TouchVerified records a successful live verification of the connection.
func (p *Postgres) TouchVerified(ctx context.Context, id string) error {
	query := `UPDATE broker_connections SET last_verified_at = NOW(), updated_at = NOW() WHERE id = $1`
	if _, err := p.pool.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("failed to touch broker connection: %w", err)
	}
	return nil
}

// DeactivateConnection soft-disables a connection; the row survives so the
// user can reauthorize without re-entering credentials.
func (p *Postgres) DeactivateConnection(ctx context.Context, id string) error {
	query := `
		UPDATE broker_connections SET
			is_active = FALSE,
			is_verified = FALSE,
			updated_at = NOW()
		WHERE id = $1
	`
	if _, err := p.pool.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("failed to deactivate broker connection: %w", err)
	}
	return nil
}

// DeleteConnection removes the row and reports how many connections the
// user still has.
func (p *Postgres) DeleteConnection(ctx context.Context, userID, id string) (int, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM broker_connections WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete broker connection: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return 0, ErrNotFound
	}

	var remaining int
	err = p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM broker_connections WHERE user_id = $1`, userID).Scan(&remaining)
	if err != nil {
		return 0, fmt.Errorf("failed to count broker connections: %w", err)
	}
	return remaining, nil
}
