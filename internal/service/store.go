package service

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/sakif/storefront/internal/apperror"
	"github.com/sakif/storefront/internal/model"
	"github.com/sakif/storefront/internal/repository"
)

// StoreService handles vendor store management and the public directory.
//
// OWNERSHIP RULE:
// Only vendors create stores, and only a store's owner may change or delete
// it. A vendor touching someone else's store gets Forbidden, not NotFound:
// store IDs are public anyway, via the directory.
type StoreService struct {
	stores repository.StoreRepository
	users  repository.UserRepository
	logger *slog.Logger
}

func NewStoreService(stores repository.StoreRepository, users repository.UserRepository, logger *slog.Logger) *StoreService {
	return &StoreService{stores: stores, users: users, logger: logger}
}

// Create adds a store for ownerID. The name must be unique for that owner.
func (s *StoreService) Create(ctx context.Context, ownerID, name, bio string) (*model.Store, error) {
	if _, err := s.requireVendor(ctx, ownerID); err != nil {
		return nil, err
	}

	store := &model.Store{OwnerID: ownerID, Name: strings.TrimSpace(name), Bio: strings.TrimSpace(bio)}
	if err := validateStore(store.Name, store.Bio); err != nil {
		return nil, err
	}
	if err := s.stores.CreateStore(ctx, store); err != nil {
		return nil, err
	}

	s.logger.Info("store created", slog.Int64("storeID", store.ID), slog.String("ownerID", ownerID))
	return store, nil
}

// Update renames a store or changes its bio.
func (s *StoreService) Update(ctx context.Context, ownerID string, id int64, name, bio string) (*model.Store, error) {
	store, err := s.Owned(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}

	store.Name = strings.TrimSpace(name)
	store.Bio = strings.TrimSpace(bio)
	if err := validateStore(store.Name, store.Bio); err != nil {
		return nil, err
	}
	if err := s.stores.UpdateStore(ctx, store); err != nil {
		return nil, err
	}
	return store, nil
}

// Delete removes a store and its products. It fails with Conflict when a
// product in it has been bought.
func (s *StoreService) Delete(ctx context.Context, ownerID string, id int64) error {
	if _, err := s.Owned(ctx, ownerID, id); err != nil {
		return err
	}
	if err := s.stores.DeleteStore(ctx, id); err != nil {
		return err
	}
	s.logger.Info("store deleted", slog.Int64("storeID", id), slog.String("ownerID", ownerID))
	return nil
}

// Owned returns the store when ownerID is a vendor who owns it.
func (s *StoreService) Owned(ctx context.Context, ownerID string, id int64) (*model.Store, error) {
	if _, err := s.requireVendor(ctx, ownerID); err != nil {
		return nil, err
	}
	store, err := s.stores.GetStoreByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if store.OwnerID != ownerID {
		return nil, apperror.Forbidden("you do not own store " + strconv.FormatInt(id, 10))
	}
	return store, nil
}

// ListMine returns the vendor's own stores.
func (s *StoreService) ListMine(ctx context.Context, ownerID string) ([]model.Store, error) {
	if _, err := s.requireVendor(ctx, ownerID); err != nil {
		return nil, err
	}
	return s.stores.ListStoresByOwner(ctx, ownerID)
}

// List is the public store directory, optionally narrowed to one vendor.
func (s *StoreService) List(ctx context.Context, vendorID string, opts repository.ListOptions) (model.Page[model.Store], error) {
	return s.stores.ListStores(ctx, strings.TrimSpace(vendorID), opts.Normalize())
}

func (s *StoreService) requireVendor(ctx context.Context, userID string) (*model.User, error) {
	user, err := loadUser(ctx, s.users, userID)
	if err != nil {
		return nil, err
	}
	if !user.IsVendor() {
		return nil, apperror.Forbidden("only vendors can manage stores")
	}
	return user, nil
}

func validateStore(name, bio string) error {
	if name == "" {
		return apperror.ValidationFailed("name", "store name is required")
	}
	if len(name) > MaxNameLength {
		return apperror.ValidationFailed("name", fmt.Sprintf("store name must be %d characters or fewer", MaxNameLength))
	}
	if len(bio) > MaxTextLength {
		return apperror.ValidationFailed("bio", fmt.Sprintf("bio must be %d characters or fewer", MaxTextLength))
	}
	return nil
}
