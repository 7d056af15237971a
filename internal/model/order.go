package model

import "time"

// Order records one checkout. Prices on the lines are the basket snapshot,
// so the order reflects exactly what the invoice email said.
type Order struct {
	ID        string      `json:"id"`
	UserID    string      `json:"userId"`
	InvoiceNo string      `json:"invoiceNo"`
	Email     string      `json:"email"`
	Total     int64       `json:"total"`
	Items     []OrderItem `json:"items"`
	CreatedAt time.Time   `json:"createdAt"`
}

// OrderItem is one basket line frozen at checkout time.
type OrderItem struct {
	ProductID int64  `json:"productId"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unitPrice"`
}

// LineTotal is UnitPrice × Quantity in cents.
func (i OrderItem) LineTotal() int64 {
	return i.UnitPrice * int64(i.Quantity)
}
