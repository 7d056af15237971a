package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sakif/storefront/internal/apperror"
	"github.com/sakif/storefront/internal/model"
	"github.com/sakif/storefront/internal/repository"
)

var _ repository.OAuthTokenRepository = (*DB)(nil)

// SaveOAuthToken upserts the provider's token row. Concurrent refreshes are
// last-write-wins; the loser's next post simply fails and prompts a reconnect.
func (db *DB) SaveOAuthToken(ctx context.Context, token *model.OAuthToken) error {
	token.UpdatedAt = time.Now()

	var expiresAt any
	if !token.ExpiresAt.IsZero() {
		expiresAt = utc(token.ExpiresAt)
	}

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO oauth_tokens (provider, access_token, refresh_token, token_type, scope, expires_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (provider) DO UPDATE SET
		   access_token  = excluded.access_token,
		   refresh_token = excluded.refresh_token,
		   token_type    = excluded.token_type,
		   scope         = excluded.scope,
		   expires_at    = excluded.expires_at,
		   updated_at    = excluded.updated_at`,
		token.Provider,
		token.AccessToken,
		token.RefreshToken,
		token.TokenType,
		token.Scope,
		expiresAt,
		utc(token.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: saving oauth token for %s: %w", token.Provider, err)
	}
	return nil
}

// GetOAuthToken returns apperror.ErrNotFound when the provider was never connected.
func (db *DB) GetOAuthToken(ctx context.Context, provider string) (*model.OAuthToken, error) {
	var t model.OAuthToken
	var expiresAt sql.NullTime

	err := db.conn.QueryRowContext(ctx,
		`SELECT provider, access_token, refresh_token, token_type, scope, expires_at, updated_at
		 FROM oauth_tokens WHERE provider = ?`,
		provider,
	).Scan(&t.Provider, &t.AccessToken, &t.RefreshToken, &t.TokenType, &t.Scope, &expiresAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("oauth token", provider)
		}
		return nil, fmt.Errorf("sqlite: getting oauth token for %s: %w", provider, err)
	}
	if expiresAt.Valid {
		t.ExpiresAt = expiresAt.Time
	}
	return &t, nil
}

// DeleteOAuthToken disconnects the provider. Deleting a missing row is not an error.
func (db *DB) DeleteOAuthToken(ctx context.Context, provider string) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM oauth_tokens WHERE provider = ?`, provider); err != nil {
		return fmt.Errorf("sqlite: deleting oauth token for %s: %w", provider, err)
	}
	return nil
}
