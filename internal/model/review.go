package model

import "time"

// Review is a customer's rating of a product.
// Verified is computed on read: true when the author has bought the product.
type Review struct {
	ID        int64     `json:"id"`
	ProductID int64     `json:"productId"`
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	Rating    int       `json:"rating"`
	Body      string    `json:"body"`
	Verified  bool      `json:"verified"`
	CreatedAt time.Time `json:"createdAt"`
}
