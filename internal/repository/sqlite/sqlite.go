// Package sqlite implements the repository interfaces on an embedded SQLite
// database (modernc.org/sqlite, pure Go, no cgo).
//
// One *DB implements every repository in internal/repository. Methods carry
// the entity in their name (CreateStore, GetProductByID, ...) so they can
// live side by side on the same type.
//
// TIME STORAGE:
// All timestamps are written in UTC with the "_time_format=sqlite" layout
// (2006-01-02 15:04:05.999999999-07:00). Because every row uses the same
// zone and layout, string comparison in SQL orders them chronologically,
// which the reset-token expiry check and the outbox scheduler rely on.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/xid"
	sqlitedriver "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// DefaultHookTimeout bounds the work PlaceOrder does while its transaction
// is open (sending the invoice).
const DefaultHookTimeout = 30 * time.Second

// DB wraps the connection pool and implements the repository interfaces.
type DB struct {
	conn        *sql.DB
	hookTimeout time.Duration
}

// New opens (or creates) the database at dbPath and runs migrations.
//
// dbPath examples:
//   - "data/storefront.db" → file-based database
//   - ":memory:"           → in-memory database, used by tests
func New(dbPath string) (*DB, error) {
	dsn := dbPath
	if !strings.Contains(dsn, "?") {
		dsn += "?_time_format=sqlite"
	}

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// SQLite serialises writers anyway. A single connection also keeps a
	// ":memory:" database alive and shared across every query, and
	// guarantees a transaction sees the rows it wrote.
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}

	// Purchases reference products: deleting a product someone bought must
	// fail instead of silently orphaning their purchase history.
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: enabling foreign keys: %w", err)
	}

	db := &DB{conn: conn, hookTimeout: DefaultHookTimeout}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// SetHookTimeout changes how long PlaceOrder's beforeCommit may run.
func (db *DB) SetHookTimeout(d time.Duration) {
	if d > 0 {
		db.hookTimeout = d
	}
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping reports whether the database is reachable; used by /healthz.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// withTx runs fn inside a transaction, committing when fn returns nil and
// rolling back otherwise. fn must only use tx: with a single pooled
// connection, touching db.conn inside fn would block forever.
func (db *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: committing transaction: %w", err)
	}
	return nil
}

// migrate creates the schema. Every statement is idempotent.
func (db *DB) migrate() error {
	statements := []struct {
		name string
		sql  string
	}{
		{"users", `
			CREATE TABLE IF NOT EXISTS users (
				id            TEXT PRIMARY KEY,
				username      TEXT NOT NULL UNIQUE COLLATE NOCASE,
				email         TEXT NOT NULL DEFAULT '',
				password_hash TEXT NOT NULL,
				role          TEXT NOT NULL DEFAULT 'customer',
				created_at    DATETIME NOT NULL,
				updated_at    DATETIME NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_users_email ON users(email);`},
		{"stores", `
			CREATE TABLE IF NOT EXISTS stores (
				id         INTEGER PRIMARY KEY AUTOINCREMENT,
				owner_id   TEXT NOT NULL REFERENCES users(id),
				name       TEXT NOT NULL,
				bio        TEXT NOT NULL DEFAULT '',
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL,
				UNIQUE (owner_id, name)
			);`},
		{"products", `
			CREATE TABLE IF NOT EXISTS products (
				id          INTEGER PRIMARY KEY AUTOINCREMENT,
				store_id    INTEGER NOT NULL REFERENCES stores(id) ON DELETE CASCADE,
				name        TEXT NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				price       INTEGER NOT NULL CHECK (price >= 0),
				stock       INTEGER NOT NULL DEFAULT 0 CHECK (stock >= 0),
				created_at  DATETIME NOT NULL,
				updated_at  DATETIME NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_products_store_id ON products(store_id);`},
		{"product_images", `
			CREATE TABLE IF NOT EXISTS product_images (
				product_id   INTEGER PRIMARY KEY REFERENCES products(id) ON DELETE CASCADE,
				filename     TEXT NOT NULL,
				content_type TEXT NOT NULL,
				data         BLOB NOT NULL
			);`},
		{"orders", `
			CREATE TABLE IF NOT EXISTS orders (
				id         TEXT PRIMARY KEY,
				user_id    TEXT NOT NULL REFERENCES users(id),
				invoice_no TEXT NOT NULL UNIQUE,
				email      TEXT NOT NULL,
				total      INTEGER NOT NULL,
				created_at DATETIME NOT NULL
			);
			CREATE TABLE IF NOT EXISTS order_items (
				order_id   TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
				product_id INTEGER NOT NULL,
				name       TEXT NOT NULL,
				quantity   INTEGER NOT NULL CHECK (quantity > 0),
				unit_price INTEGER NOT NULL,
				PRIMARY KEY (order_id, product_id)
			);`},
		{"purchases", `
			CREATE TABLE IF NOT EXISTS purchases (
				user_id      TEXT NOT NULL REFERENCES users(id),
				product_id   INTEGER NOT NULL REFERENCES products(id),
				purchased_at DATETIME NOT NULL,
				PRIMARY KEY (user_id, product_id)
			);`},
		{"reviews", `
			CREATE TABLE IF NOT EXISTS reviews (
				id         INTEGER PRIMARY KEY AUTOINCREMENT,
				product_id INTEGER NOT NULL REFERENCES products(id) ON DELETE CASCADE,
				user_id    TEXT NOT NULL REFERENCES users(id),
				rating     INTEGER NOT NULL CHECK (rating BETWEEN 1 AND 5),
				body       TEXT NOT NULL DEFAULT '',
				created_at DATETIME NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_reviews_product_id ON reviews(product_id);`},
		{"reset_tokens", `
			CREATE TABLE IF NOT EXISTS reset_tokens (
				id         TEXT PRIMARY KEY,
				user_id    TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				token_hash TEXT NOT NULL UNIQUE CHECK (length(token_hash) = 64),
				created_at DATETIME NOT NULL,
				expires_at DATETIME NOT NULL,
				used_at    DATETIME
			);
			CREATE INDEX IF NOT EXISTS idx_reset_tokens_expires_at ON reset_tokens(expires_at);`},
		{"oauth_tokens", `
			CREATE TABLE IF NOT EXISTS oauth_tokens (
				provider      TEXT PRIMARY KEY,
				access_token  TEXT NOT NULL,
				refresh_token TEXT NOT NULL DEFAULT '',
				token_type    TEXT NOT NULL DEFAULT '',
				scope         TEXT NOT NULL DEFAULT '',
				expires_at    DATETIME,
				updated_at    DATETIME NOT NULL
			);`},
		{"announcements", `
			CREATE TABLE IF NOT EXISTS announcements (
				id              TEXT PRIMARY KEY,
				kind            TEXT NOT NULL,
				subject_id      INTEGER NOT NULL,
				text            TEXT NOT NULL,
				status          TEXT NOT NULL DEFAULT 'pending',
				attempts        INTEGER NOT NULL DEFAULT 0,
				last_error      TEXT NOT NULL DEFAULT '',
				post_id         TEXT NOT NULL DEFAULT '',
				next_attempt_at DATETIME NOT NULL,
				created_at      DATETIME NOT NULL,
				updated_at      DATETIME NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_announcements_due ON announcements(status, next_attempt_at);`},
	}

	for _, s := range statements {
		if _, err := db.conn.Exec(s.sql); err != nil {
			return fmt.Errorf("creating %s table: %w", s.name, err)
		}
	}
	return nil
}

// utc normalises a timestamp before it is written; see the package comment.
func utc(t time.Time) time.Time {
	return t.UTC()
}

// sqliteCode extracts the extended result code from a driver error, or 0.
func sqliteCode(err error) int {
	var se *sqlitedriver.Error
	if errors.As(err, &se) {
		return se.Code()
	}
	return 0
}

// The message checks cover connections where extended result codes are off
// and the driver only reports the primary SQLITE_CONSTRAINT code.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	switch sqliteCode(err) {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isForeignKeyViolation(err error) bool {
	if err == nil {
		return false
	}
	if sqliteCode(err) == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY {
		return true
	}
	return strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// newID returns a sortable, URL-safe 20-character ID for TEXT primary keys.
func newID() string {
	return xid.New().String()
}
