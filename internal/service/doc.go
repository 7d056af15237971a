// Package service contains the business logic layer of the storefront.
//
// THE THREE-LAYER ARCHITECTURE:
//
//	Handler (HTTP layer)     → parses requests, writes responses, sets flashes
//	Service (business layer) → validates, enforces ownership and role rules
//	Repository (data layer)  → reads/writes SQLite
//
// Services accept primitives and model types, never *http.Request, and
// return apperror values. The handler translates those to status codes.
//
// DEPENDENCY INJECTION:
// Every service takes repository interfaces, not *sqlite.DB. main.go hands
// the same *sqlite.DB to all of them; tests hand in fakes or an in-memory
// database.
//
//	AccountService  → register, login, forgot-username
//	StoreService    → vendor store CRUD, public store directory
//	ProductService  → vendor product CRUD, public catalog search
//	ReviewService   → reviews with the verified-purchase flag
//	CheckoutService → invoice mail + order + purchases, all or nothing
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/sakif/storefront/internal/apperror"
	"github.com/sakif/storefront/internal/model"
	"github.com/sakif/storefront/internal/repository"
)

// Field limits shared by the services.
const (
	MaxNameLength        = 100
	MaxTextLength        = 2000
	MinUsernameLength    = 3
	MaxUsernameLength    = 150
	MaxPrice             = 100_000_000 // one million in cents
	MaxStock             = 1_000_000
	MaxQuantityPerBasket = 1000
	MaxImageBytes        = 5 << 20
)

// loadUser fetches a user and maps a missing account to Unauthorized: the
// caller holds a valid JWT for a user that no longer exists.
func loadUser(ctx context.Context, users repository.UserRepository, id string) (*model.User, error) {
	if id == "" {
		return nil, apperror.Unauthorized("authentication required")
	}
	user, err := users.GetUserByID(ctx, id)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.Unauthorized("authentication required")
		}
		return nil, fmt.Errorf("service: loading user %s: %w", id, err)
	}
	return user, nil
}
