package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/storefront/internal/apperror"
	"github.com/sakif/storefront/internal/model"
	"github.com/sakif/storefront/internal/repository"
)

// ReviewService handles product reviews.
//
// Anyone signed in may review, except the product's own vendor. Verified is
// not an input: it is true when the reviewer has bought the product, and
// the repository computes it on every read.
type ReviewService struct {
	reviews  repository.ReviewRepository
	products repository.ProductRepository
	users    repository.UserRepository
	logger   *slog.Logger
}

func NewReviewService(
	reviews repository.ReviewRepository,
	products repository.ProductRepository,
	users repository.UserRepository,
	logger *slog.Logger,
) *ReviewService {
	return &ReviewService{reviews: reviews, products: products, users: users, logger: logger}
}

// Create stores a 1 to 5 star review with an optional body.
func (s *ReviewService) Create(ctx context.Context, userID string, productID int64, rating int, body string) (*model.Review, error) {
	user, err := loadUser(ctx, s.users, userID)
	if err != nil {
		return nil, err
	}
	if rating < 1 || rating > 5 {
		return nil, apperror.ValidationFailed("rating", "rating must be between 1 and 5")
	}
	body = strings.TrimSpace(body)
	if len(body) > MaxTextLength {
		return nil, apperror.ValidationFailed("body", fmt.Sprintf("review must be %d characters or fewer", MaxTextLength))
	}

	product, err := s.products.GetProductByID(ctx, productID)
	if err != nil {
		return nil, err
	}
	if product.OwnerID == user.ID {
		return nil, apperror.Forbidden("you cannot review your own product")
	}

	review := &model.Review{
		ProductID: product.ID,
		UserID:    user.ID,
		Username:  user.Username,
		Rating:    rating,
		Body:      body,
	}
	if err := s.reviews.CreateReview(ctx, review); err != nil {
		return nil, err
	}

	s.logger.Info("review created",
		slog.Int64("reviewID", review.ID),
		slog.Int64("productID", product.ID),
		slog.Bool("verified", review.Verified),
	)
	return review, nil
}

// ListForProduct returns a product's reviews, newest first.
func (s *ReviewService) ListForProduct(ctx context.Context, productID int64) ([]model.Review, error) {
	return s.reviews.ListReviewsByProduct(ctx, productID)
}

// ListForVendor returns reviews of the vendor's own products, filtered.
func (s *ReviewService) ListForVendor(ctx context.Context, vendorID string, f repository.ReviewFilter, opts repository.ListOptions) (model.Page[model.Review], error) {
	user, err := loadUser(ctx, s.users, vendorID)
	if err != nil {
		return model.Page[model.Review]{}, err
	}
	if !user.IsVendor() {
		return model.Page[model.Review]{}, apperror.Forbidden("only vendors have product reviews")
	}
	if f.Rating != 0 && (f.Rating < 1 || f.Rating > 5) {
		return model.Page[model.Review]{}, apperror.ValidationFailed("rating", "rating must be between 1 and 5")
	}
	f.OwnerID = user.ID
	return s.reviews.ListReviews(ctx, f, opts.Normalize())
}
