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

var _ repository.ResetTokenRepository = (*DB)(nil)

// CreateResetToken stores a new token. Only the digest reaches the table.
func (db *DB) CreateResetToken(ctx context.Context, token *model.ResetToken) error {
	if token.ID == "" {
		token.ID = newID()
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now()
	}

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO reset_tokens (id, user_id, token_hash, created_at, expires_at) VALUES (?, ?, ?, ?, ?)`,
		token.ID, token.UserID, token.TokenHash, utc(token.CreatedAt), utc(token.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: inserting reset token: %w", err)
	}
	return nil
}

// GetResetTokenByHash returns the token row whatever its state; deciding
// whether it is still live is the caller's job (model.ResetToken.IsLive).
func (db *DB) GetResetTokenByHash(ctx context.Context, tokenHash string) (*model.ResetToken, error) {
	t, err := scanResetToken(db.conn.QueryRowContext(ctx,
		`SELECT id, user_id, token_hash, created_at, expires_at, used_at FROM reset_tokens WHERE token_hash = ?`,
		tokenHash,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("reset token", "")
		}
		return nil, fmt.Errorf("sqlite: getting reset token: %w", err)
	}
	return t, nil
}

// RedeemResetToken changes the owner's password and consumes the token in
// one transaction, in that order:
//
//  1. find the token by digest
//  2. write the new password hash
//  3. UPDATE ... SET used_at WHERE used_at IS NULL AND expires_at > now
//
// Step 3 is the gate. If it touches no row (the token was consumed by a
// concurrent request, or expired in between), the transaction rolls back
// and the password change from step 2 is discarded.
func (db *DB) RedeemResetToken(ctx context.Context, tokenHash, passwordHash string, now time.Time) (*model.User, error) {
	var user *model.User

	err := db.withTx(ctx, func(tx *sql.Tx) error {
		var tokenID, userID string
		err := tx.QueryRowContext(ctx,
			`SELECT id, user_id FROM reset_tokens WHERE token_hash = ?`, tokenHash,
		).Scan(&tokenID, &userID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return apperror.NotFound("reset token", "")
			}
			return fmt.Errorf("sqlite: finding reset token: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`,
			passwordHash, utc(now), userID,
		); err != nil {
			return fmt.Errorf("sqlite: setting password for %s: %w", userID, err)
		}

		if err := markUsed(ctx, tx, tokenID, now); err != nil {
			return err
		}

		user, err = scanUser(tx.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, userID))
		if err != nil {
			return fmt.Errorf("sqlite: reloading user %s: %w", userID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// MarkResetTokenUsed consumes a token without changing any password.
// A token that is already used or expired yields apperror.ErrNotFound.
func (db *DB) MarkResetTokenUsed(ctx context.Context, id string, now time.Time) error {
	return markUsed(ctx, db.conn, id, now)
}

func markUsed(ctx context.Context, exec execer, id string, now time.Time) error {
	res, err := exec.ExecContext(ctx,
		`UPDATE reset_tokens SET used_at = ? WHERE id = ? AND used_at IS NULL AND expires_at > ?`,
		utc(now), id, utc(now),
	)
	if err != nil {
		return fmt.Errorf("sqlite: consuming reset token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking consumed reset token: %w", err)
	}
	if n == 0 {
		return apperror.NotFound("reset token", "")
	}
	return nil
}

// DeleteStaleResetTokens removes tokens that expired, or were used, before
// the cutoff. Returns the number of rows deleted.
func (db *DB) DeleteStaleResetTokens(ctx context.Context, before time.Time) (int64, error) {
	res, err := db.conn.ExecContext(ctx,
		`DELETE FROM reset_tokens WHERE expires_at < ? OR (used_at IS NOT NULL AND used_at < ?)`,
		utc(before), utc(before),
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite: deleting stale reset tokens: %w", err)
	}
	return res.RowsAffected()
}

func scanResetToken(s scanner) (*model.ResetToken, error) {
	var t model.ResetToken
	var usedAt sql.NullTime
	if err := s.Scan(&t.ID, &t.UserID, &t.TokenHash, &t.CreatedAt, &t.ExpiresAt, &usedAt); err != nil {
		return nil, err
	}
	if usedAt.Valid {
		used := usedAt.Time
		t.UsedAt = &used
	}
	return &t, nil
}
