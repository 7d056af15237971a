package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/sakif/storefront/internal/apperror"
	"github.com/sakif/storefront/internal/auth"
	"github.com/sakif/storefront/internal/basket"
	"github.com/sakif/storefront/internal/model"
	"github.com/sakif/storefront/internal/service"
	"github.com/sakif/storefront/internal/session"
)

// Where the form-style basket endpoints send the browser afterwards.
const (
	basketPage  = "/basket"
	catalogPage = "/products"
)

// BasketHandler serves the session basket and checkout.
//
// All routes sit behind RequireAuth. The basket itself lives in the session
// (see internal/basket), so it survives logout and login on the same browser.
type BasketHandler struct {
	products *service.ProductService
	accounts *service.AccountService
	checkout *service.CheckoutService
	currency string
	logger   *slog.Logger
}

func NewBasketHandler(
	products *service.ProductService,
	accounts *service.AccountService,
	checkout *service.CheckoutService,
	currency string,
	logger *slog.Logger,
) *BasketHandler {
	return &BasketHandler{
		products: products,
		accounts: accounts,
		checkout: checkout,
		currency: currency,
		logger:   logger,
	}
}

type basketLine struct {
	Product        *model.Product `json:"product"`
	Quantity       int            `json:"quantity"`
	UnitPrice      int64          `json:"unitPrice"`
	TotalPrice     int64          `json:"totalPrice"`
	FormattedPrice string         `json:"formattedPrice"`
	FormattedTotal string         `json:"formattedTotal"`
}

type basketResponse struct {
	Items          []basketLine `json:"items"`
	Len            int          `json:"len"`
	Total          int64        `json:"total"`
	FormattedTotal string       `json:"formattedTotal"`
}

func (h *BasketHandler) load(r *http.Request) *basket.Basket {
	return basket.Load(currentSession(r), h.products)
}

// HandleGet returns the basket resolved against the live catalog.
//
// HTTP: GET /api/basket
//
// Prices are the snapshots taken when each line was added; products that
// have since been deleted are left out.
func (h *BasketHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	b := h.load(r)

	items, err := b.Items(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	resp := basketResponse{
		Items:          make([]basketLine, 0, len(items)),
		Len:            b.Len(),
		Total:          b.TotalPrice(),
		FormattedTotal: basket.FormatPrice(h.currency, b.TotalPrice()),
	}
	for _, it := range items {
		resp.Items = append(resp.Items, basketLine{
			Product:        it.Product,
			Quantity:       it.Quantity,
			UnitPrice:      it.UnitPrice,
			TotalPrice:     it.TotalPrice,
			FormattedPrice: basket.FormatPrice(h.currency, it.UnitPrice),
			FormattedTotal: basket.FormatPrice(h.currency, it.TotalPrice),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleAdd puts a product into the basket.
//
// HTTP: POST /basket/add/{productID}?quantity=1&update=false
//
// Vendors (and so every store owner) cannot buy. With update=true the
// quantity replaces the current one and the price snapshot is refreshed.
func (h *BasketHandler) HandleAdd(w http.ResponseWriter, r *http.Request) {
	productID, err := pathID(r, "productID")
	if err != nil {
		writeError(w, err)
		return
	}
	product, err := h.products.Get(r.Context(), productID)
	if err != nil {
		writeError(w, err)
		return
	}
	productPage := catalogPage + "/" + strconv.FormatInt(product.ID, 10)

	userID, _ := auth.UserIDFromContext(r.Context())
	user, err := h.accounts.GetUserByID(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	if user.IsVendor() || product.OwnerID == user.ID {
		flashRedirect(w, r, session.LevelError, "Vendors and store owners cannot add items to the basket.", productPage)
		return
	}

	quantity := int64(1)
	if r.URL.Query().Has("quantity") {
		if quantity, err = queryInt(r, "quantity"); err != nil {
			flashRedirect(w, r, session.LevelError, userMessage(err), productPage)
			return
		}
	}
	update := queryBool(r, "update")
	if quantity > service.MaxQuantityPerBasket || (!update && quantity < 1) {
		flashRedirect(w, r, session.LevelError,
			fmt.Sprintf("Quantity must be between 1 and %d.", service.MaxQuantityPerBasket), productPage)
		return
	}

	b := h.load(r)
	if current := b.Entries()[product.ID].Quantity; !update && current+int(quantity) > service.MaxQuantityPerBasket {
		flashRedirect(w, r, session.LevelError,
			fmt.Sprintf("You can have at most %d of one product in your basket.", service.MaxQuantityPerBasket), basketPage)
		return
	}
	if err := b.Add(product, int(quantity), update); err != nil {
		flashRedirect(w, r, session.LevelError, userMessage(err), productPage)
		return
	}

	if update && quantity == 0 {
		flashRedirect(w, r, session.LevelSuccess, "Removed "+product.Name+" from your basket.", basketPage)
		return
	}
	flashRedirect(w, r, session.LevelSuccess, "Added "+product.Name+" to your basket.", basketPage)
}

// HandleRemove drops a line from the basket.
//
// HTTP: POST /basket/remove/{productID}
func (h *BasketHandler) HandleRemove(w http.ResponseWriter, r *http.Request) {
	productID, err := pathID(r, "productID")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.load(r).Remove(productID); err != nil {
		writeError(w, err)
		return
	}
	http.Redirect(w, r, basketPage, http.StatusSeeOther)
}

// HandleCheckout places the order and emails the invoice.
//
// HTTP: POST /checkout
//
// FLOW:
//  1. CheckoutService validates the buyer and basket, writes the order and
//     sends the invoice inside one transaction.
//  2. Only after it succeeds is the basket cleared.
//  3. The buyer lands on the catalog with the invoice number in a flash.
//
// Any failure leaves the basket untouched and sends the buyer back to it.
func (h *BasketHandler) HandleCheckout(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	b := h.load(r)

	order, err := h.checkout.Checkout(r.Context(), userID, b)
	if err != nil {
		var appErr *apperror.AppError
		if !errors.As(err, &appErr) {
			h.logger.Error("checkout failed",
				slog.String("userID", userID),
				slog.String("error", err.Error()),
			)
			flashRedirect(w, r, session.LevelError, "We could not complete your order. Please try again.", basketPage)
			return
		}
		flashRedirect(w, r, session.LevelError, userMessage(err), basketPage)
		return
	}

	b.Clear()
	flashRedirect(w, r, session.LevelSuccess,
		fmt.Sprintf("Invoice %s sent to %s.", order.InvoiceNo, order.Email), catalogPage)
}
