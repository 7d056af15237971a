package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sakif/storefront/internal/apperror"
	"github.com/sakif/storefront/internal/model"
	"github.com/sakif/storefront/internal/repository"
)

var _ repository.ReviewRepository = (*DB)(nil)

// reviewSelect computes Verified with a correlated lookup in purchases
// rather than storing it, so a review written before checkout becomes
// verified once the purchase happens.
const reviewSelect = `
	SELECT r.id, r.product_id, r.user_id, u.username, r.rating, r.body, r.created_at,
	       EXISTS (SELECT 1 FROM purchases pu WHERE pu.user_id = r.user_id AND pu.product_id = r.product_id)
	FROM reviews r
	JOIN users u ON u.id = r.user_id
	JOIN products p ON p.id = r.product_id
	JOIN stores s ON s.id = p.store_id`

// CreateReview stores a review and fills ID, CreatedAt and Verified.
func (db *DB) CreateReview(ctx context.Context, review *model.Review) error {
	review.CreatedAt = time.Now()

	res, err := db.conn.ExecContext(ctx,
		`INSERT INTO reviews (product_id, user_id, rating, body, created_at) VALUES (?, ?, ?, ?, ?)`,
		review.ProductID, review.UserID, review.Rating, review.Body, utc(review.CreatedAt),
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return apperror.NotFound("product", strconv.FormatInt(review.ProductID, 10))
		}
		return fmt.Errorf("sqlite: inserting review: %w", err)
	}
	if review.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("sqlite: reading review id: %w", err)
	}

	review.Verified, err = db.HasPurchased(ctx, review.UserID, review.ProductID)
	return err
}

// ListReviewsByProduct returns a product's reviews, newest first.
func (db *DB) ListReviewsByProduct(ctx context.Context, productID int64) ([]model.Review, error) {
	rows, err := db.conn.QueryContext(ctx,
		reviewSelect+` WHERE r.product_id = ? ORDER BY r.created_at DESC, r.id DESC`, productID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing reviews for product %d: %w", productID, err)
	}
	defer rows.Close()
	return collectReviews(rows)
}

// ListReviews backs the vendor's "reviews of my products" page.
func (db *DB) ListReviews(ctx context.Context, f repository.ReviewFilter, opts repository.ListOptions) (model.Page[model.Review], error) {
	opts = opts.Normalize()
	page := model.Page[model.Review]{Page: opts.Page, PageSize: opts.PageSize}

	var conds []string
	var args []any
	if f.OwnerID != "" {
		conds = append(conds, "s.owner_id = ?")
		args = append(args, f.OwnerID)
	}
	if f.StoreID != 0 {
		conds = append(conds, "p.store_id = ?")
		args = append(args, f.StoreID)
	}
	if f.ProductID != 0 {
		conds = append(conds, "r.product_id = ?")
		args = append(args, f.ProductID)
	}
	if f.Rating != 0 {
		conds = append(conds, "r.rating = ?")
		args = append(args, f.Rating)
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	countQuery := `SELECT COUNT(*) FROM reviews r
		JOIN products p ON p.id = r.product_id
		JOIN stores s ON s.id = p.store_id` + where
	if err := db.conn.QueryRowContext(ctx, countQuery, args...).Scan(&page.Total); err != nil {
		return page, fmt.Errorf("sqlite: counting reviews: %w", err)
	}

	rows, err := db.conn.QueryContext(ctx,
		reviewSelect+where+` ORDER BY r.created_at DESC, r.id DESC LIMIT ? OFFSET ?`,
		append(args, opts.PageSize, opts.Offset())...,
	)
	if err != nil {
		return page, fmt.Errorf("sqlite: listing reviews: %w", err)
	}
	defer rows.Close()

	page.Items, err = collectReviews(rows)
	return page, err
}

func collectReviews(rows *sql.Rows) ([]model.Review, error) {
	reviews := []model.Review{}
	for rows.Next() {
		var r model.Review
		if err := rows.Scan(
			&r.ID,
			&r.ProductID,
			&r.UserID,
			&r.Username,
			&r.Rating,
			&r.Body,
			&r.CreatedAt,
			&r.Verified,
		); err != nil {
			return nil, fmt.Errorf("sqlite: scanning review: %w", err)
		}
		reviews = append(reviews, r)
	}
	return reviews, rows.Err()
}
