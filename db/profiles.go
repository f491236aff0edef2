package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Profile holds the per-user aggregate broker state shown on dashboards.
type Profile struct {
	UserID                 string `db:"user_id"`
	BrokerConnected        bool   `db:"broker_connected"`
	BrokerConnectionStatus string `db:"broker_connection_status"`
}

// EnsureProfile creates the profile row on first use.
func (p *Postgres) EnsureProfile(ctx context.Context, userID string) error {
	query := `
		INSERT INTO profiles (user_id)
		VALUES ($1)
		ON CONFLICT (user_id) DO NOTHING
	`
	if _, err := p.pool.Exec(ctx, query, userID); err != nil {
		return fmt.Errorf("failed to ensure profile: %w", err)
	}
	return nil
}

// GetProfile fetches the user's profile row.
func (p *Postgres) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	var prof Profile
	err := p.pool.QueryRow(ctx,
		`SELECT user_id, broker_connected, broker_connection_status FROM profiles WHERE user_id = $1`,
		userID,
	).Scan(&prof.UserID, &prof.BrokerConnected, &prof.BrokerConnectionStatus)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return &prof, nil
}

// UpdateProfileBrokerStatus writes the aggregate connection flags.
func (p *Postgres) UpdateProfileBrokerStatus(ctx context.Context, userID string, connected bool, status string) error {
	query := `
		UPDATE profiles SET
			broker_connected = $2,
			broker_connection_status = $3,
			updated_at = NOW()
		WHERE user_id = $1
	`
	if _, err := p.pool.Exec(ctx, query, userID, connected, status); err != nil {
		p.log.Error("Failed to update profile broker status", map[string]interface{}{
			"error": err.Error(),
			"user":  userID,
		})
		return fmt.Errorf("failed to update profile broker status: %w", err)
	}
	return nil
}
