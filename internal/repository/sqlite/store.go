package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/sakif/storefront/internal/apperror"
	"github.com/sakif/storefront/internal/model"
	"github.com/sakif/storefront/internal/repository"
)

var _ repository.StoreRepository = (*DB)(nil)

const storeColumns = `id, owner_id, name, bio, created_at, updated_at`

// CreateStore inserts a store and sets its ID and timestamps.
// A second store with the same name for the same owner is an integrity error.
func (db *DB) CreateStore(ctx context.Context, store *model.Store) error {
	return insertStore(ctx, db.conn, store)
}

// CreateVendor creates a vendor account together with its first store.
// Both rows are written in one transaction: a vendor never exists without
// somewhere to list products.
func (db *DB) CreateVendor(ctx context.Context, user *model.User, store *model.Store) error {
	user.Role = model.RoleVendor
	return db.withTx(ctx, func(tx *sql.Tx) error {
		now := time.Now()
		user.ID = newID()
		user.CreatedAt = now
		user.UpdatedAt = now
		if err := insertUser(ctx, tx, user); err != nil {
			return err
		}
		store.OwnerID = user.ID
		return insertStore(ctx, tx, store)
	})
}

func insertStore(ctx context.Context, exec execer, store *model.Store) error {
	now := time.Now()
	store.CreatedAt = now
	store.UpdatedAt = now

	res, err := exec.ExecContext(ctx,
		`INSERT INTO stores (owner_id, name, bio, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		store.OwnerID, store.Name, store.Bio, utc(now), utc(now),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Integrity("name", "you already have a store with that name")
		}
		return fmt.Errorf("sqlite: inserting store %q: %w", store.Name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("sqlite: reading store id: %w", err)
	}
	store.ID = id
	return nil
}

// GetStoreByID returns apperror.ErrNotFound for an unknown ID.
func (db *DB) GetStoreByID(ctx context.Context, id int64) (*model.Store, error) {
	s, err := scanStore(db.conn.QueryRowContext(ctx,
		`SELECT `+storeColumns+` FROM stores WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("store", strconv.FormatInt(id, 10))
		}
		return nil, fmt.Errorf("sqlite: getting store %d: %w", id, err)
	}
	return s, nil
}

// ListStoresByOwner returns the owner's stores, oldest first.
func (db *DB) ListStoresByOwner(ctx context.Context, ownerID string) ([]model.Store, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+storeColumns+` FROM stores WHERE owner_id = ? ORDER BY id`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing stores for %s: %w", ownerID, err)
	}
	defer rows.Close()
	return collectStores(rows)
}

// ListStores is the public, paginated store directory. vendorID narrows it
// to one owner when non-empty.
func (db *DB) ListStores(ctx context.Context, vendorID string, opts repository.ListOptions) (model.Page[model.Store], error) {
	opts = opts.Normalize()
	page := model.Page[model.Store]{Page: opts.Page, PageSize: opts.PageSize}

	where, args := "", []any{}
	if vendorID != "" {
		where = ` WHERE owner_id = ?`
		args = append(args, vendorID)
	}

	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM stores`+where, args...).Scan(&page.Total); err != nil {
		return page, fmt.Errorf("sqlite: counting stores: %w", err)
	}

	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+storeColumns+` FROM stores`+where+` ORDER BY id LIMIT ? OFFSET ?`,
		append(args, opts.PageSize, opts.Offset())...,
	)
	if err != nil {
		return page, fmt.Errorf("sqlite: listing stores: %w", err)
	}
	defer rows.Close()

	page.Items, err = collectStores(rows)
	return page, err
}

// UpdateStore saves the name and bio of an existing store.
func (db *DB) UpdateStore(ctx context.Context, store *model.Store) error {
	store.UpdatedAt = time.Now()
	res, err := db.conn.ExecContext(ctx,
		`UPDATE stores SET name = ?, bio = ?, updated_at = ? WHERE id = ?`,
		store.Name, store.Bio, utc(store.UpdatedAt), store.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Integrity("name", "you already have a store with that name")
		}
		return fmt.Errorf("sqlite: updating store %d: %w", store.ID, err)
	}
	return expectOneRow(res, "store", store.ID)
}

// DeleteStore removes a store and, by cascade, its products. It fails with
// apperror.ErrConflict while any of those products has been purchased.
func (db *DB) DeleteStore(ctx context.Context, id int64) error {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM stores WHERE id = ?`, id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return apperror.Conflict("store", strconv.FormatInt(id, 10))
		}
		return fmt.Errorf("sqlite: deleting store %d: %w", id, err)
	}
	return expectOneRow(res, "store", id)
}

func scanStore(s scanner) (*model.Store, error) {
	var st model.Store
	if err := s.Scan(&st.ID, &st.OwnerID, &st.Name, &st.Bio, &st.CreatedAt, &st.UpdatedAt); err != nil {
		return nil, err
	}
	return &st, nil
}

func collectStores(rows *sql.Rows) ([]model.Store, error) {
	stores := []model.Store{}
	for rows.Next() {
		s, err := scanStore(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning store: %w", err)
		}
		stores = append(stores, *s)
	}
	return stores, rows.Err()
}

// expectOneRow turns "0 rows affected" into apperror.ErrNotFound.
func expectOneRow(res sql.Result, resource string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound(resource, strconv.FormatInt(id, 10))
	}
	return nil
}
