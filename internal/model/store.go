package model

import "time"

// Store is a vendor's shop front. Name is unique per owner, not globally.
type Store struct {
	ID        int64     `json:"id"`
	OwnerID   string    `json:"ownerId"`
	Name      string    `json:"name"`
	Bio       string    `json:"bio"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Product is a sellable item in a store.
//
// Price is in cents. The catalog never uses floats for money: 10.00 + 5.50
// must be exactly 15.50, and an int64 of cents guarantees it.
//
// StoreName and OwnerID are read-only and filled from the owning store on
// every read, so handlers can run ownership checks and build announcement
// text without a second query.
//
// IMAGES:
// Reads fill ImageName only; the bytes are fetched separately with
// GetProductImage. Image is write-only: set it on create or update to store
// a new picture.
type Product struct {
	ID          int64         `json:"id"`
	StoreID     int64         `json:"storeId"`
	StoreName   string        `json:"storeName"`
	OwnerID     string        `json:"ownerId"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Price       int64         `json:"price"`
	Stock       int           `json:"stock"`
	ImageName   string        `json:"imageName,omitempty"`
	Image       *ProductImage `json:"-"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

// HasImage reports whether the product has a stored picture.
func (p *Product) HasImage() bool { return p.ImageName != "" }

// ProductImage is an uploaded product picture.
type ProductImage struct {
	Filename    string
	ContentType string
	Data        []byte
}
