package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sakif/storefront/internal/apperror"
	"github.com/sakif/storefront/internal/model"
	"github.com/sakif/storefront/internal/repository"
)

var _ repository.OrderRepository = (*DB)(nil)

// PlaceOrder writes the order, its lines and the purchase records, then
// calls beforeCommit while the transaction is still open. Checkout passes
// the invoice mail as beforeCommit, so a mail failure leaves no order and
// no "purchased" flags behind.
//
// beforeCommit gets a context bounded by the DB's hook timeout. The open
// transaction pins the only connection, so a hook that stalls would stall
// every other query with it.
func (db *DB) PlaceOrder(ctx context.Context, order *model.Order, beforeCommit func(context.Context) error) error {
	if order.ID == "" {
		order.ID = newID()
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now()
	}

	return db.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO orders (id, user_id, invoice_no, email, total, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			order.ID, order.UserID, order.InvoiceNo, order.Email, order.Total, utc(order.CreatedAt),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return apperror.Integrity("invoice_no", "invoice number "+order.InvoiceNo+" is already taken")
			}
			return fmt.Errorf("sqlite: inserting order %s: %w", order.InvoiceNo, err)
		}

		for _, item := range order.Items {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO order_items (order_id, product_id, name, quantity, unit_price) VALUES (?, ?, ?, ?, ?)`,
				order.ID, item.ProductID, item.Name, item.Quantity, item.UnitPrice,
			)
			if err != nil {
				return fmt.Errorf("sqlite: inserting order item %d: %w", item.ProductID, err)
			}

			// A repeat purchase keeps the original purchased_at.
			_, err = tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO purchases (user_id, product_id, purchased_at) VALUES (?, ?, ?)`,
				order.UserID, item.ProductID, utc(order.CreatedAt),
			)
			if err != nil {
				return fmt.Errorf("sqlite: recording purchase of %d: %w", item.ProductID, err)
			}
		}

		if beforeCommit == nil {
			return nil
		}
		hookCtx, cancel := context.WithTimeout(ctx, db.hookTimeout)
		defer cancel()
		return beforeCommit(hookCtx)
	})
}

// HasPurchased reports whether userID has ever checked out productID.
func (db *DB) HasPurchased(ctx context.Context, userID string, productID int64) (bool, error) {
	var n int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM purchases WHERE user_id = ? AND product_id = ?`, userID, productID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("sqlite: checking purchase: %w", err)
	}
	return n > 0, nil
}
