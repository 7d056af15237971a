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

// compile-time check that *DB implements repository.UserRepository
var _ repository.UserRepository = (*DB)(nil)

const userColumns = `id, username, email, password_hash, role, created_at, updated_at`

// CreateUser inserts a new account, filling in ID and timestamps.
// A taken username (case-insensitive) is reported as apperror.ErrIntegrity.
func (db *DB) CreateUser(ctx context.Context, user *model.User) error {
	now := time.Now()
	user.ID = newID()
	user.CreatedAt = now
	user.UpdatedAt = now
	if user.Role == "" {
		user.Role = model.RoleCustomer
	}

	return insertUser(ctx, db.conn, user)
}

// insertUser is shared with CreateVendor, which creates the account and
// its first store in one transaction.
func insertUser(ctx context.Context, exec execer, user *model.User) error {
	_, err := exec.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		user.ID,
		user.Username,
		user.Email,
		user.PasswordHash,
		string(user.Role),
		utc(user.CreatedAt),
		utc(user.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Integrity("username", "username is already taken")
		}
		return fmt.Errorf("sqlite: inserting user %q: %w", user.Username, err)
	}
	return nil
}

// GetUserByID retrieves a user by their internal ID.
// Returns apperror.ErrNotFound if no user exists with that ID.
func (db *DB) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	u, err := scanUser(db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", id)
		}
		return nil, fmt.Errorf("sqlite: getting user %s: %w", id, err)
	}
	return u, nil
}

// GetUserByUsername looks a user up by login name, ignoring case.
func (db *DB) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	u, err := scanUser(db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = ?`, username))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", username)
		}
		return nil, fmt.Errorf("sqlite: getting user %q: %w", username, err)
	}
	return u, nil
}

// ListUsersByEmail returns every account registered with email, oldest first.
// Several accounts may share an address; forgot-username mails all of them.
func (db *DB) ListUsersByEmail(ctx context.Context, email string) ([]model.User, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ? AND email != '' ORDER BY created_at`, email)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing users by email: %w", err)
	}
	defer rows.Close()

	users := []model.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning user: %w", err)
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

func scanUser(s scanner) (*model.User, error) {
	var u model.User
	var role string
	if err := s.Scan(
		&u.ID,
		&u.Username,
		&u.Email,
		&u.PasswordHash,
		&role,
		&u.CreatedAt,
		&u.UpdatedAt,
	); err != nil {
		return nil, err
	}
	u.Role = model.Role(role)
	return &u, nil
}
