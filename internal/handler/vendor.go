package handler

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/sakif/storefront/internal/announce"
	"github.com/sakif/storefront/internal/auth"
	"github.com/sakif/storefront/internal/model"
	"github.com/sakif/storefront/internal/service"
	"github.com/sakif/storefront/internal/session"
)

// Announcer queues social posts for new stores and products.
// *announce.Enqueuer is the production implementation.
type Announcer interface {
	Store(ctx context.Context, store *model.Store) announce.Notice
	Product(ctx context.Context, product *model.Product) announce.Notice
}

// VendorHandler serves a vendor's store and product management.
//
// All routes sit behind RequireAuth; the services reject non-vendors and
// non-owners with 403.
//
// ANNOUNCEMENTS:
// Creating a store or product queues a social post only after the row is
// committed. Whatever the announcer says, creation has already succeeded:
// the notice only decides which flash the vendor sees.
type VendorHandler struct {
	stores    *service.StoreService
	products  *service.ProductService
	announcer Announcer
	logger    *slog.Logger
}

func NewVendorHandler(
	stores *service.StoreService,
	products *service.ProductService,
	announcer Announcer,
	logger *slog.Logger,
) *VendorHandler {
	return &VendorHandler{
		stores:    stores,
		products:  products,
		announcer: announcer,
		logger:    logger,
	}
}

type storeRequest struct {
	Name string `json:"name" validate:"required,max=100"`
	Bio  string `json:"bio" validate:"max=2000"`
}

// productRequest carries an optional picture as base64 in "image" (the
// encoding/json form of []byte) with its file name in "imageName".
type productRequest struct {
	Name        string `json:"name" validate:"required,max=100"`
	Description string `json:"description" validate:"max=2000"`
	Price       int64  `json:"price" validate:"gte=0"`
	Stock       int    `json:"stock" validate:"gte=0"`
	Image       []byte `json:"image"`
	ImageName   string `json:"imageName" validate:"required_with=Image,max=100"`
	RemoveImage bool   `json:"removeImage"`
}

// maxProductBody leaves room for a base64 image of service.MaxImageBytes.
const maxProductBody = (service.MaxImageBytes/3+1)*4 + 64<<10

func (p productRequest) input() service.ProductInput {
	in := service.ProductInput{
		Name:        p.Name,
		Description: p.Description,
		Price:       p.Price,
		Stock:       p.Stock,
		RemoveImage: p.RemoveImage,
	}
	if len(p.Image) > 0 {
		in.Image = &service.ImageInput{Filename: p.ImageName, Data: p.Image}
	}
	return in
}

// createdResponse wraps a new store or product with what happened to its
// announcement: "queued", "connect" (no account linked), or empty.
type createdResponse struct {
	Store        *model.Store   `json:"store,omitempty"`
	Product      *model.Product `json:"product,omitempty"`
	Announcement string         `json:"announcement,omitempty"`
	ConnectURL   string         `json:"connectURL,omitempty"`
}

// notify turns an announcement notice into a flash and response fields.
// next is where the vendor lands after connecting their account.
func notify(r *http.Request, resp *createdResponse, notice announce.Notice, next string) {
	switch notice {
	case announce.NoticeQueued:
		resp.Announcement = "queued"
		flash(r, session.LevelSuccess, "Announcement queued.")
	case announce.NoticeConnect:
		resp.Announcement = "connect"
		resp.ConnectURL = "/social/connect?next=" + url.QueryEscape(next)
		flash(r, session.LevelInfo, "Your social account isn't connected yet. Connect now to auto-post: "+resp.ConnectURL)
	}
}

// HandleListStores returns the vendor's own stores.
//
// HTTP: GET /vendor/stores
func (h *VendorHandler) HandleListStores(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	stores, err := h.stores.ListMine(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stores)
}

// HandleCreateStore opens a new store and announces it.
//
// HTTP: POST /vendor/stores
// REQUEST BODY: {"name": "...", "bio": "..."}
func (h *VendorHandler) HandleCreateStore(w http.ResponseWriter, r *http.Request) {
	var req storeRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	userID, _ := auth.UserIDFromContext(r.Context())
	store, err := h.stores.Create(r.Context(), userID, req.Name, req.Bio)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := createdResponse{Store: store}
	notify(r, &resp, h.announcer.Store(r.Context(), store), "/vendor/stores")
	writeJSON(w, http.StatusCreated, resp)
}

// HandleUpdateStore renames a store or changes its bio.
//
// HTTP: PUT /vendor/stores/{id}
func (h *VendorHandler) HandleUpdateStore(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var req storeRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	userID, _ := auth.UserIDFromContext(r.Context())
	store, err := h.stores.Update(r.Context(), userID, id, req.Name, req.Bio)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, store)
}

// HandleDeleteStore removes a store and its products.
//
// HTTP: DELETE /vendor/stores/{id}
// 409 when one of its products has been bought.
func (h *VendorHandler) HandleDeleteStore(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	userID, _ := auth.UserIDFromContext(r.Context())
	if err := h.stores.Delete(r.Context(), userID, id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleListProducts returns the products of one of the vendor's stores.
//
// HTTP: GET /vendor/stores/{id}/products
func (h *VendorHandler) HandleListProducts(w http.ResponseWriter, r *http.Request) {
	storeID, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	userID, _ := auth.UserIDFromContext(r.Context())
	products, err := h.products.ListByStore(r.Context(), userID, storeID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, products)
}

// HandleCreateProduct adds a product to a store and announces it.
//
// HTTP: POST /vendor/stores/{id}/products
// REQUEST BODY: {"name","description","price" (cents),"stock","image" (base64),"imageName"}
func (h *VendorHandler) HandleCreateProduct(w http.ResponseWriter, r *http.Request) {
	storeID, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var req productRequest
	if !decodeJSONLimit(w, r, &req, maxProductBody) {
		return
	}

	userID, _ := auth.UserIDFromContext(r.Context())
	product, err := h.products.Create(r.Context(), userID, storeID, req.input())
	if err != nil {
		writeError(w, err)
		return
	}

	// The announcement names the store, which Create does not fill in.
	if full, err := h.products.Get(r.Context(), product.ID); err == nil {
		product = full
	} else {
		h.logger.Warn("reloading new product", slog.Int64("productID", product.ID), slog.String("error", err.Error()))
	}

	resp := createdResponse{Product: product}
	next := "/vendor/stores/" + strconv.FormatInt(storeID, 10) + "/products"
	notify(r, &resp, h.announcer.Product(r.Context(), product), next)
	writeJSON(w, http.StatusCreated, resp)
}

// HandleUpdateProduct edits a product. Without "image" the current picture
// is kept; "removeImage": true drops it.
//
// HTTP: PUT /vendor/stores/{id}/products/{pid}
func (h *VendorHandler) HandleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	storeID, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	productID, err := pathID(r, "pid")
	if err != nil {
		writeError(w, err)
		return
	}
	var req productRequest
	if !decodeJSONLimit(w, r, &req, maxProductBody) {
		return
	}

	userID, _ := auth.UserIDFromContext(r.Context())
	product, err := h.products.Update(r.Context(), userID, storeID, productID, req.input())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

// HandleDeleteProduct removes a product nobody has bought.
//
// HTTP: DELETE /vendor/stores/{id}/products/{pid}
func (h *VendorHandler) HandleDeleteProduct(w http.ResponseWriter, r *http.Request) {
	storeID, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	productID, err := pathID(r, "pid")
	if err != nil {
		writeError(w, err)
		return
	}
	userID, _ := auth.UserIDFromContext(r.Context())
	if err := h.products.Delete(r.Context(), userID, storeID, productID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
