package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/sakif/storefront/internal/apperror"
	"github.com/sakif/storefront/internal/model"
	"github.com/sakif/storefront/internal/repository"
)

// ProductInput carries the editable product fields. Price is in cents.
//
// Image is optional. On update a nil Image keeps the current picture
// unless RemoveImage is set.
type ProductInput struct {
	Name        string
	Description string
	Price       int64
	Stock       int
	Image       *ImageInput
	RemoveImage bool
}

// ImageInput is an uploaded picture before validation. The content type
// is sniffed from Data; whatever the client claimed is ignored.
type ImageInput struct {
	Filename string
	Data     []byte
}

// ProductService handles vendor product management and the public catalog.
// Ownership is checked through the StoreService so the rule lives in one place.
type ProductService struct {
	products repository.ProductRepository
	stores   *StoreService
	logger   *slog.Logger
}

func NewProductService(products repository.ProductRepository, stores *StoreService, logger *slog.Logger) *ProductService {
	return &ProductService{products: products, stores: stores, logger: logger}
}

// Create adds a product to one of the owner's stores.
func (s *ProductService) Create(ctx context.Context, ownerID string, storeID int64, in ProductInput) (*model.Product, error) {
	store, err := s.stores.Owned(ctx, ownerID, storeID)
	if err != nil {
		return nil, err
	}
	in = in.normalize()
	if err := in.validate(); err != nil {
		return nil, err
	}

	p := &model.Product{
		StoreID:     store.ID,
		Name:        in.Name,
		Description: in.Description,
		Price:       in.Price,
		Stock:       in.Stock,
		Image:       in.image(),
	}
	if err := s.products.CreateProduct(ctx, p); err != nil {
		return nil, err
	}

	s.logger.Info("product created", slog.Int64("productID", p.ID), slog.Int64("storeID", store.ID))
	return p, nil
}

// Update edits a product. storeID must be the product's store.
func (s *ProductService) Update(ctx context.Context, ownerID string, storeID, productID int64, in ProductInput) (*model.Product, error) {
	p, err := s.owned(ctx, ownerID, storeID, productID)
	if err != nil {
		return nil, err
	}
	in = in.normalize()
	if err := in.validate(); err != nil {
		return nil, err
	}

	p.Name, p.Description, p.Price, p.Stock = in.Name, in.Description, in.Price, in.Stock
	switch {
	case in.Image != nil:
		p.Image = in.image()
	case in.RemoveImage:
		p.ImageName = ""
	}
	if err := s.products.UpdateProduct(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Delete removes a product nobody has bought yet.
func (s *ProductService) Delete(ctx context.Context, ownerID string, storeID, productID int64) error {
	if _, err := s.owned(ctx, ownerID, storeID, productID); err != nil {
		return err
	}
	if err := s.products.DeleteProduct(ctx, productID); err != nil {
		return err
	}
	s.logger.Info("product deleted", slog.Int64("productID", productID), slog.Int64("storeID", storeID))
	return nil
}

// ListByStore returns the products of one of the owner's stores.
func (s *ProductService) ListByStore(ctx context.Context, ownerID string, storeID int64) ([]model.Product, error) {
	if _, err := s.stores.Owned(ctx, ownerID, storeID); err != nil {
		return nil, err
	}
	return s.products.ListProductsByStore(ctx, storeID)
}

// Get returns one product, for the public detail page.
func (s *ProductService) Get(ctx context.Context, id int64) (*model.Product, error) {
	return s.products.GetProductByID(ctx, id)
}

// Image returns a product's picture, or apperror.ErrNotFound.
func (s *ProductService) Image(ctx context.Context, id int64) (*model.ProductImage, error) {
	return s.products.GetProductImage(ctx, id)
}

// Search is the public catalog query.
func (s *ProductService) Search(ctx context.Context, f repository.ProductFilter, opts repository.ListOptions) (model.Page[model.Product], error) {
	f.Query = strings.TrimSpace(f.Query)
	if f.MinPrice != nil && f.MaxPrice != nil && *f.MinPrice > *f.MaxPrice {
		return model.Page[model.Product]{}, apperror.ValidationFailed("min_price", "min_price must not exceed max_price")
	}
	return s.products.SearchProducts(ctx, f, opts.Normalize())
}

// GetProductByID lets the basket resolve its entries through the service.
func (s *ProductService) GetProductByID(ctx context.Context, id int64) (*model.Product, error) {
	return s.products.GetProductByID(ctx, id)
}

func (s *ProductService) owned(ctx context.Context, ownerID string, storeID, productID int64) (*model.Product, error) {
	if _, err := s.stores.Owned(ctx, ownerID, storeID); err != nil {
		return nil, err
	}
	p, err := s.products.GetProductByID(ctx, productID)
	if err != nil {
		return nil, err
	}
	if p.StoreID != storeID {
		return nil, apperror.NotFound("product", strconv.FormatInt(productID, 10))
	}
	return p, nil
}

func (in ProductInput) normalize() ProductInput {
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	if in.Image != nil {
		img := *in.Image
		// Keep only the base name of whatever path the client sent.
		img.Filename = path.Base(strings.ReplaceAll(strings.TrimSpace(img.Filename), `\`, "/"))
		if img.Filename == "." || img.Filename == "/" {
			img.Filename = ""
		}
		in.Image = &img
	}
	return in
}

// image converts a validated ImageInput for storage.
func (in ProductInput) image() *model.ProductImage {
	if in.Image == nil {
		return nil
	}
	return &model.ProductImage{
		Filename:    in.Image.Filename,
		ContentType: http.DetectContentType(in.Image.Data),
		Data:        in.Image.Data,
	}
}

func (in ProductInput) validate() error {
	switch {
	case in.Name == "":
		return apperror.ValidationFailed("name", "product name is required")
	case len(in.Name) > MaxNameLength:
		return apperror.ValidationFailed("name", fmt.Sprintf("product name must be %d characters or fewer", MaxNameLength))
	case len(in.Description) > MaxTextLength:
		return apperror.ValidationFailed("description", fmt.Sprintf("description must be %d characters or fewer", MaxTextLength))
	case in.Price < 0 || in.Price > MaxPrice:
		return apperror.ValidationFailed("price", "price must be between 0 and 1,000,000.00")
	case in.Stock < 0 || in.Stock > MaxStock:
		return apperror.ValidationFailed("stock", fmt.Sprintf("stock must be between 0 and %d", MaxStock))
	}
	if in.Image != nil {
		return in.Image.validate()
	}
	return nil
}

func (img *ImageInput) validate() error {
	switch {
	case len(img.Data) == 0:
		return apperror.ValidationFailed("image", "image is empty")
	case len(img.Data) > MaxImageBytes:
		return apperror.ValidationFailed("image", fmt.Sprintf("image must be %d MB or smaller", MaxImageBytes>>20))
	case !strings.HasPrefix(http.DetectContentType(img.Data), "image/"):
		return apperror.ValidationFailed("image", "upload a PNG, JPEG, GIF or WebP image")
	case img.Filename == "":
		return apperror.ValidationFailed("image_name", "image file name is required")
	case len(img.Filename) > MaxNameLength:
		return apperror.ValidationFailed("image_name", fmt.Sprintf("image file name must be %d characters or fewer", MaxNameLength))
	}
	return nil
}
