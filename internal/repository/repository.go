// Package repository declares the persistence contracts the services depend on.
// internal/repository/sqlite implements all of them on a single *sqlite.DB.
package repository

import (
	"context"
	"time"

	"github.com/sakif/storefront/internal/model"
)

// Paging defaults shared by every paginated listing.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// ListOptions selects one page of a listing. Page is 1-based.
type ListOptions struct {
	Page     int
	PageSize int
}

// Normalize clamps Page and PageSize into their valid ranges.
func (o ListOptions) Normalize() ListOptions {
	if o.Page < 1 {
		o.Page = 1
	}
	if o.PageSize < 1 {
		o.PageSize = DefaultPageSize
	}
	if o.PageSize > MaxPageSize {
		o.PageSize = MaxPageSize
	}
	return o
}

// Offset is the number of rows to skip for this page.
func (o ListOptions) Offset() int {
	n := o.Normalize()
	return (n.Page - 1) * n.PageSize
}

// ProductFilter narrows the public product search. Zero values mean "any".
type ProductFilter struct {
	StoreID  int64
	VendorID string
	Query    string
	MinPrice *int64
	MaxPrice *int64
	InStock  bool
}

// ReviewFilter narrows a vendor's "reviews of my products" listing.
type ReviewFilter struct {
	OwnerID   string
	StoreID   int64
	ProductID int64
	Rating    int
}

type UserRepository interface {
	CreateUser(ctx context.Context, user *model.User) error
	// CreateVendor creates a vendor account and its first store atomically.
	CreateVendor(ctx context.Context, user *model.User, store *model.Store) error
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)
	ListUsersByEmail(ctx context.Context, email string) ([]model.User, error)
}

type StoreRepository interface {
	CreateStore(ctx context.Context, store *model.Store) error
	GetStoreByID(ctx context.Context, id int64) (*model.Store, error)
	ListStoresByOwner(ctx context.Context, ownerID string) ([]model.Store, error)
	ListStores(ctx context.Context, vendorID string, opts ListOptions) (model.Page[model.Store], error)
	UpdateStore(ctx context.Context, store *model.Store) error
	DeleteStore(ctx context.Context, id int64) error
}

type ProductRepository interface {
	CreateProduct(ctx context.Context, product *model.Product) error
	GetProductByID(ctx context.Context, id int64) (*model.Product, error)
	ListProductsByStore(ctx context.Context, storeID int64) ([]model.Product, error)
	SearchProducts(ctx context.Context, filter ProductFilter, opts ListOptions) (model.Page[model.Product], error)
	UpdateProduct(ctx context.Context, product *model.Product) error
	DeleteProduct(ctx context.Context, id int64) error
	GetProductImage(ctx context.Context, productID int64) (*model.ProductImage, error)
}

type OrderRepository interface {
	// PlaceOrder stores the order, its lines and the buyer's purchase records
	// in one transaction. beforeCommit runs inside that transaction after the
	// rows are written; if it fails, nothing is committed.
	PlaceOrder(ctx context.Context, order *model.Order, beforeCommit func(context.Context) error) error
	HasPurchased(ctx context.Context, userID string, productID int64) (bool, error)
}

type ReviewRepository interface {
	CreateReview(ctx context.Context, review *model.Review) error
	ListReviewsByProduct(ctx context.Context, productID int64) ([]model.Review, error)
	ListReviews(ctx context.Context, filter ReviewFilter, opts ListOptions) (model.Page[model.Review], error)
}

type ResetTokenRepository interface {
	CreateResetToken(ctx context.Context, token *model.ResetToken) error
	GetResetTokenByHash(ctx context.Context, tokenHash string) (*model.ResetToken, error)
	// RedeemResetToken sets the owner's password hash and marks the token
	// used, as one transaction. It fails with apperror.ErrNotFound, changing
	// nothing, unless the token is still live at now.
	RedeemResetToken(ctx context.Context, tokenHash, passwordHash string, now time.Time) (*model.User, error)
	// MarkResetTokenUsed consumes a live token without touching the password.
	MarkResetTokenUsed(ctx context.Context, id string, now time.Time) error
	DeleteStaleResetTokens(ctx context.Context, before time.Time) (int64, error)
}

type OAuthTokenRepository interface {
	SaveOAuthToken(ctx context.Context, token *model.OAuthToken) error
	GetOAuthToken(ctx context.Context, provider string) (*model.OAuthToken, error)
	DeleteOAuthToken(ctx context.Context, provider string) error
}

type AnnouncementRepository interface {
	EnqueueAnnouncement(ctx context.Context, a *model.Announcement) error
	ListDueAnnouncements(ctx context.Context, now time.Time, limit int) ([]model.Announcement, error)
	MarkAnnouncementSent(ctx context.Context, id, postID string, now time.Time) error
	MarkAnnouncementRetry(ctx context.Context, id, reason string, next time.Time) error
	MarkAnnouncementFailed(ctx context.Context, id, reason string, now time.Time) error
}
