package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sakif/storefront/internal/apperror"
	"github.com/sakif/storefront/internal/model"
	"github.com/sakif/storefront/internal/repository"
)

var _ repository.ProductRepository = (*DB)(nil)

// productSelect joins the owning store so every product read carries the
// store name and owner. Image bytes stay in product_images; only the file
// name comes along.
const productSelect = `
	SELECT p.id, p.store_id, s.name, s.owner_id, p.name, p.description,
	       p.price, p.stock, COALESCE(i.filename, ''), p.created_at, p.updated_at
	FROM products p
	JOIN stores s ON s.id = p.store_id
	LEFT JOIN product_images i ON i.product_id = p.id`

// CreateProduct inserts a product into an existing store, with its image
// when product.Image is set.
func (db *DB) CreateProduct(ctx context.Context, product *model.Product) error {
	now := time.Now()
	product.CreatedAt = now
	product.UpdatedAt = now

	return db.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO products (store_id, name, description, price, stock, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			product.StoreID,
			product.Name,
			product.Description,
			product.Price,
			product.Stock,
			utc(now),
			utc(now),
		)
		if err != nil {
			if isForeignKeyViolation(err) {
				return apperror.NotFound("store", strconv.FormatInt(product.StoreID, 10))
			}
			return fmt.Errorf("sqlite: inserting product %q: %w", product.Name, err)
		}
		if product.ID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("sqlite: reading product id: %w", err)
		}
		return saveProductImage(ctx, tx, product)
	})
}

// GetProductImage returns the stored picture, or apperror.ErrNotFound when
// the product has none.
func (db *DB) GetProductImage(ctx context.Context, productID int64) (*model.ProductImage, error) {
	var img model.ProductImage
	err := db.conn.QueryRowContext(ctx,
		`SELECT filename, content_type, data FROM product_images WHERE product_id = ?`, productID,
	).Scan(&img.Filename, &img.ContentType, &img.Data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("product image", strconv.FormatInt(productID, 10))
		}
		return nil, fmt.Errorf("sqlite: getting image for product %d: %w", productID, err)
	}
	return &img, nil
}

// saveProductImage applies the product's image fields:
//
//	Image set          → store it, replacing any previous picture
//	ImageName cleared  → drop the stored picture
//	otherwise          → leave it alone
func saveProductImage(ctx context.Context, ex execer, product *model.Product) error {
	switch {
	case product.Image != nil:
		_, err := ex.ExecContext(ctx,
			`INSERT OR REPLACE INTO product_images (product_id, filename, content_type, data) VALUES (?, ?, ?, ?)`,
			product.ID, product.Image.Filename, product.Image.ContentType, product.Image.Data,
		)
		if err != nil {
			return fmt.Errorf("sqlite: saving image for product %d: %w", product.ID, err)
		}
		product.ImageName = product.Image.Filename
	case product.ImageName == "":
		if _, err := ex.ExecContext(ctx, `DELETE FROM product_images WHERE product_id = ?`, product.ID); err != nil {
			return fmt.Errorf("sqlite: removing image for product %d: %w", product.ID, err)
		}
	}
	return nil
}

// GetProductByID returns apperror.ErrNotFound for a missing product. The
// basket depends on that exact error to skip deleted products.
func (db *DB) GetProductByID(ctx context.Context, id int64) (*model.Product, error) {
	p, err := scanProduct(db.conn.QueryRowContext(ctx, productSelect+` WHERE p.id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("product", strconv.FormatInt(id, 10))
		}
		return nil, fmt.Errorf("sqlite: getting product %d: %w", id, err)
	}
	return p, nil
}

// ListProductsByStore returns a store's products, oldest first.
func (db *DB) ListProductsByStore(ctx context.Context, storeID int64) ([]model.Product, error) {
	rows, err := db.conn.QueryContext(ctx, productSelect+` WHERE p.store_id = ? ORDER BY p.id`, storeID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing products for store %d: %w", storeID, err)
	}
	defer rows.Close()
	return collectProducts(rows)
}

// SearchProducts is the public catalog query. Filters combine with AND;
// Query matches a case-insensitive substring of the product name.
func (db *DB) SearchProducts(ctx context.Context, f repository.ProductFilter, opts repository.ListOptions) (model.Page[model.Product], error) {
	opts = opts.Normalize()
	page := model.Page[model.Product]{Page: opts.Page, PageSize: opts.PageSize}

	var conds []string
	var args []any
	if f.StoreID != 0 {
		conds = append(conds, "p.store_id = ?")
		args = append(args, f.StoreID)
	}
	if f.VendorID != "" {
		conds = append(conds, "s.owner_id = ?")
		args = append(args, f.VendorID)
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		conds = append(conds, "p.name LIKE ? ESCAPE '\\'")
		args = append(args, "%"+escapeLike(q)+"%")
	}
	if f.MinPrice != nil {
		conds = append(conds, "p.price >= ?")
		args = append(args, *f.MinPrice)
	}
	if f.MaxPrice != nil {
		conds = append(conds, "p.price <= ?")
		args = append(args, *f.MaxPrice)
	}
	if f.InStock {
		conds = append(conds, "p.stock > 0")
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	countQuery := `SELECT COUNT(*) FROM products p JOIN stores s ON s.id = p.store_id` + where
	if err := db.conn.QueryRowContext(ctx, countQuery, args...).Scan(&page.Total); err != nil {
		return page, fmt.Errorf("sqlite: counting products: %w", err)
	}

	rows, err := db.conn.QueryContext(ctx,
		productSelect+where+` ORDER BY p.id LIMIT ? OFFSET ?`,
		append(args, opts.PageSize, opts.Offset())...,
	)
	if err != nil {
		return page, fmt.Errorf("sqlite: searching products: %w", err)
	}
	defer rows.Close()

	page.Items, err = collectProducts(rows)
	return page, err
}

// UpdateProduct saves the editable fields and applies the image fields
// (see saveProductImage). StoreID is fixed at creation.
func (db *DB) UpdateProduct(ctx context.Context, product *model.Product) error {
	product.UpdatedAt = time.Now()
	return db.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE products SET name = ?, description = ?, price = ?, stock = ?, updated_at = ? WHERE id = ?`,
			product.Name,
			product.Description,
			product.Price,
			product.Stock,
			utc(product.UpdatedAt),
			product.ID,
		)
		if err != nil {
			return fmt.Errorf("sqlite: updating product %d: %w", product.ID, err)
		}
		if err := expectOneRow(res, "product", product.ID); err != nil {
			return err
		}
		return saveProductImage(ctx, tx, product)
	})
}

// DeleteProduct fails with apperror.ErrConflict once anyone has bought the
// product: purchase history protects it.
func (db *DB) DeleteProduct(ctx context.Context, id int64) error {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM products WHERE id = ?`, id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return apperror.Conflict("product", strconv.FormatInt(id, 10))
		}
		return fmt.Errorf("sqlite: deleting product %d: %w", id, err)
	}
	return expectOneRow(res, "product", id)
}

func scanProduct(s scanner) (*model.Product, error) {
	var p model.Product
	if err := s.Scan(
		&p.ID,
		&p.StoreID,
		&p.StoreName,
		&p.OwnerID,
		&p.Name,
		&p.Description,
		&p.Price,
		&p.Stock,
		&p.ImageName,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &p, nil
}

func collectProducts(rows *sql.Rows) ([]model.Product, error) {
	products := []model.Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning product: %w", err)
		}
		products = append(products, *p)
	}
	return products, rows.Err()
}

// escapeLike escapes LIKE wildcards so user input matches literally.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
