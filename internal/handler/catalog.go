package handler

import (
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/sakif/storefront/internal/apperror"
	"github.com/sakif/storefront/internal/auth"
	"github.com/sakif/storefront/internal/basket"
	"github.com/sakif/storefront/internal/model"
	"github.com/sakif/storefront/internal/repository"
	"github.com/sakif/storefront/internal/service"
)

// CatalogHandler serves the public shop: product search, product pages with
// their reviews, the store directory, and review writing.
type CatalogHandler struct {
	products *service.ProductService
	stores   *service.StoreService
	reviews  *service.ReviewService
	currency string
	logger   *slog.Logger
}

func NewCatalogHandler(
	products *service.ProductService,
	stores *service.StoreService,
	reviews *service.ReviewService,
	currency string,
	logger *slog.Logger,
) *CatalogHandler {
	return &CatalogHandler{
		products: products,
		stores:   stores,
		reviews:  reviews,
		currency: currency,
		logger:   logger,
	}
}

type productDetail struct {
	Product        *model.Product `json:"product"`
	FormattedPrice string         `json:"formattedPrice"`
	Reviews        []model.Review `json:"reviews"`
	IsOwner        bool           `json:"isOwner"`
	InBasket       bool           `json:"inBasket"`
}

type reviewRequest struct {
	Rating int    `json:"rating" validate:"required,gte=1,lte=5"`
	Body   string `json:"body" validate:"max=2000"`
}

// HandleSearch is the public product listing.
//
// HTTP: GET /api/products?q=&store=&vendor=&min_price=&max_price=&in_stock=&page=&page_size=
//
// Prices in the filters are in cents, like everywhere else in the API.
func (h *CatalogHandler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	filter, err := productFilter(r)
	if err != nil {
		writeError(w, err)
		return
	}
	opts, err := listOptions(r)
	if err != nil {
		writeError(w, err)
		return
	}

	page, err := h.products.Search(r.Context(), filter, opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func productFilter(r *http.Request) (repository.ProductFilter, error) {
	q := r.URL.Query()
	f := repository.ProductFilter{
		VendorID: strings.TrimSpace(q.Get("vendor")),
		Query:    q.Get("q"),
		InStock:  queryBool(r, "in_stock"),
	}

	var err error
	if f.StoreID, err = queryInt(r, "store"); err != nil {
		return f, err
	}
	if f.MinPrice, err = priceBound(r, "min_price"); err != nil {
		return f, err
	}
	if f.MaxPrice, err = priceBound(r, "max_price"); err != nil {
		return f, err
	}
	return f, nil
}

// priceBound reads an optional price filter; nil means unbounded.
func priceBound(r *http.Request, name string) (*int64, error) {
	if strings.TrimSpace(r.URL.Query().Get(name)) == "" {
		return nil, nil
	}
	v, err := queryInt(r, name)
	if err != nil {
		return nil, err
	}
	if v < 0 {
		return nil, apperror.ValidationFailed(name, name+" must not be negative")
	}
	return &v, nil
}

// HandleGet returns one product with its reviews, newest first.
//
// HTTP: GET /api/products/{id}
// Auth: Optional. Signed-in visitors also learn whether they own the
// product, which the page uses to hide the "add to basket" button.
func (h *CatalogHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	product, err := h.products.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	reviews, err := h.reviews.ListForProduct(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	userID, _ := auth.UserIDFromContext(r.Context())
	writeJSON(w, http.StatusOK, productDetail{
		Product:        product,
		FormattedPrice: basket.FormatPrice(h.currency, product.Price),
		Reviews:        reviews,
		IsOwner:        userID != "" && userID == product.OwnerID,
		InBasket:       basket.Load(currentSession(r), h.products).Contains(id),
	})
}

// HandleImage serves a product's picture.
//
// HTTP: GET /api/products/{id}/image
func (h *CatalogHandler) HandleImage(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	img, err := h.products.Image(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	hdr := w.Header()
	hdr.Set("Content-Type", img.ContentType)
	hdr.Set("Content-Length", strconv.Itoa(len(img.Data)))
	hdr.Set("X-Content-Type-Options", "nosniff")
	hdr.Set("Cache-Control", "public, max-age=300")
	hdr.Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": img.Filename}))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(img.Data)
}

// HandleCreateReview posts a review for a product.
//
// HTTP: POST /api/products/{id}/reviews
// REQUEST BODY: {"rating": 1-5, "body": "optional"}
func (h *CatalogHandler) HandleCreateReview(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var req reviewRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	userID, _ := auth.UserIDFromContext(r.Context())
	review, err := h.reviews.Create(r.Context(), userID, id, req.Rating, req.Body)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, review)
}

// HandleListStores is the public store directory.
//
// HTTP: GET /api/stores?vendor=&page=&page_size=
func (h *CatalogHandler) HandleListStores(w http.ResponseWriter, r *http.Request) {
	opts, err := listOptions(r)
	if err != nil {
		writeError(w, err)
		return
	}
	page, err := h.stores.List(r.Context(), r.URL.Query().Get("vendor"), opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// HandleMyReviews lists reviews of the signed-in vendor's products.
//
// HTTP: GET /api/my/reviews?store=&product=&rating=&page=&page_size=
func (h *CatalogHandler) HandleMyReviews(w http.ResponseWriter, r *http.Request) {
	var (
		f   repository.ReviewFilter
		err error
	)
	if f.StoreID, err = queryInt(r, "store"); err != nil {
		writeError(w, err)
		return
	}
	if f.ProductID, err = queryInt(r, "product"); err != nil {
		writeError(w, err)
		return
	}
	rating, err := queryInt(r, "rating")
	if err != nil {
		writeError(w, err)
		return
	}
	f.Rating = int(rating)
	opts, err := listOptions(r)
	if err != nil {
		writeError(w, err)
		return
	}

	userID, _ := auth.UserIDFromContext(r.Context())
	page, err := h.reviews.ListForVendor(r.Context(), userID, f, opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}
