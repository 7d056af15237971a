package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/sakif/storefront/internal/announce"
	"github.com/sakif/storefront/internal/apperror"
	"github.com/sakif/storefront/internal/auth"
	"github.com/sakif/storefront/internal/mail"
	"github.com/sakif/storefront/internal/model"
	"github.com/sakif/storefront/internal/repository/sqlite"
	"github.com/sakif/storefront/internal/service"
	"github.com/sakif/storefront/internal/session"
	"github.com/sakif/storefront/internal/social"
)

// =========================================================================
// FIXTURES
// =========================================================================

type fixture struct {
	logger   *slog.Logger
	accounts *service.AccountService
	stores   *service.StoreService
	products *service.ProductService
	checkout *service.CheckoutService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	tokens, err := auth.NewTokenService("handler-test-secret-0123456789")
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	mailer := mail.NewLogMailer(logger)
	f := &fixture{logger: logger}
	f.accounts = service.NewAccountService(db, tokens, auth.NewPasswordServiceForTest(bcrypt.MinCost), mailer, logger)
	f.stores = service.NewStoreService(db, db, logger)
	f.products = service.NewProductService(db, f.stores, logger)
	f.checkout = service.NewCheckoutService(service.CheckoutConfig{SiteName: "eCommerce", CurrencySymbol: "$"}, db, db, mailer, logger)
	return f
}

func (f *fixture) register(t *testing.T, username string, role model.Role) *service.AuthResult {
	t.Helper()
	res, err := f.accounts.Register(context.Background(), service.RegisterInput{
		Username: username,
		Email:    username + "@example.com",
		Password: "correct-horse",
		Role:     role,
	})
	require.NoError(t, err)
	return res
}

// request builds a request carrying what the middleware chain would have
// put in its context: the session, the signed-in user and chi URL params.
func request(method, target, body string, sess *session.Session, userID string, params map[string]string) *http.Request {
	r := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		r.Header.Set("Content-Type", "application/json")
	}

	ctx := r.Context()
	if sess != nil {
		ctx = session.NewContext(ctx, sess)
	}
	if userID != "" {
		ctx = auth.WithUserID(ctx, userID)
	}
	if len(params) > 0 {
		rctx := chi.NewRouteContext()
		for k, v := range params {
			rctx.URLParams.Add(k, v)
		}
		ctx = context.WithValue(ctx, chi.RouteCtxKey, rctx)
	}
	return r.WithContext(ctx)
}

func lastFlash(t *testing.T, sess *session.Session) session.Message {
	t.Helper()
	msgs := session.Flashes(sess)
	require.NotEmpty(t, msgs, "expected a flash message")
	return msgs[len(msgs)-1]
}

// =========================================================================
// RESPONSE HELPERS
// =========================================================================

func TestWriteError_StatusMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantType   string
	}{
		{"validation", apperror.ValidationFailed("name", "name is required"), http.StatusBadRequest, "validation_error"},
		{"integrity", apperror.Integrity("username", "taken"), http.StatusBadRequest, "validation_error"},
		{"not found", apperror.NotFound("product", "7"), http.StatusNotFound, "not_found"},
		{"forbidden", apperror.Forbidden("not yours"), http.StatusForbidden, "forbidden"},
		{"conflict", apperror.Conflict("product", "7"), http.StatusConflict, "conflict"},
		{"unauthorized", apperror.Unauthorized("sign in"), http.StatusUnauthorized, "unauthorized"},
		{"wrapped", fmt.Errorf("service: %w", apperror.Forbidden("not yours")), http.StatusForbidden, "forbidden"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeError(rec, tt.err)

			assert.Equal(t, tt.wantStatus, rec.Code)
			var resp ErrorResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.Equal(t, tt.wantType, resp.Error)
			assert.NotEmpty(t, resp.Message)
		})
	}
}

func TestWriteError_UnknownErrorHidesDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, errors.New("sqlite: disk I/O error at /var/lib/shop.db"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "/var/lib")
	assert.Equal(t, "Something went wrong. Please try again.", userMessage(errors.New("boom")))
}

func TestDecodeJSON(t *testing.T) {
	t.Run("not json", func(t *testing.T) {
		rec := httptest.NewRecorder()
		var dst storeRequest
		ok := decodeJSON(rec, request(http.MethodPost, "/", "{nope", nil, "", nil), &dst)

		assert.False(t, ok)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "invalid_request")
	})

	t.Run("fails validation", func(t *testing.T) {
		rec := httptest.NewRecorder()
		var dst storeRequest
		ok := decodeJSON(rec, request(http.MethodPost, "/", `{"bio":"no name"}`, nil, "", nil), &dst)

		assert.False(t, ok)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		var resp ErrorResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, "validation_error", resp.Error)
		assert.Contains(t, resp.Fields, "name")
	})
}

func TestSafeNext(t *testing.T) {
	tests := map[string]string{
		"/vendor/stores":      "/vendor/stores",
		"/products?page=2":    "/products?page=2",
		"":                    "/",
		"https://evil.test/":  "/",
		"//evil.test":         "/",
		"/\\evil.test":        "/",
		"vendor/stores":       "/",
		"javascript:alert(1)": "/",
	}
	for in, want := range tests {
		assert.Equal(t, want, safeNext(in), "safeNext(%q)", in)
	}
}

func TestHandleMessages_PopsOnce(t *testing.T) {
	sess := session.New("s1")
	session.AddFlash(sess, session.LevelInfo, "hello")

	rec := httptest.NewRecorder()
	HandleMessages(rec, request(http.MethodGet, "/api/messages", "", sess, "", nil))
	assert.JSONEq(t, `{"messages":[{"level":"info","message":"hello"}]}`, rec.Body.String())

	rec = httptest.NewRecorder()
	HandleMessages(rec, request(http.MethodGet, "/api/messages", "", sess, "", nil))
	assert.JSONEq(t, `{"messages":[]}`, rec.Body.String())
}

// =========================================================================
// SOCIAL CONNECT
// =========================================================================

type fakeConnector struct {
	pending   social.Pending
	authURL   string
	finishErr error

	gotCallback string
	gotPending  social.Pending
	finished    bool
}

func (f *fakeConnector) Begin() (social.Pending, string, error) {
	return f.pending, f.authURL, nil
}

func (f *fakeConnector) Finish(_ context.Context, callbackURL string, pending social.Pending) error {
	f.finished = true
	f.gotCallback = callbackURL
	f.gotPending = pending
	return f.finishErr
}

func (f *fakeConnector) Status(context.Context) (social.Connection, error) {
	return social.Connection{Connected: true}, nil
}

func (f *fakeConnector) Disconnect(context.Context) error { return nil }

func newSocialFixture(t *testing.T) (*fixture, *fakeConnector, *SocialHandler) {
	t.Helper()
	f := newFixture(t)
	conn := &fakeConnector{
		pending: social.Pending{State: "state-123", Verifier: "verifier-456"},
		authURL: "https://provider.test/authorize?state=state-123",
	}
	return f, conn, NewSocialHandler(conn, f.accounts, f.logger)
}

func TestSocialConnect(t *testing.T) {
	f, conn, h := newSocialFixture(t)
	vendor := f.register(t, "vera", model.RoleVendor)

	tests := []struct {
		next     string
		wantNext string
	}{
		{"/vendor/stores/1/products", "/vendor/stores/1/products"},
		{"//evil.test", "/"},
		{"", "/"},
	}
	for _, tt := range tests {
		t.Run(tt.next, func(t *testing.T) {
			sess := session.New("s1")
			rec := httptest.NewRecorder()
			h.HandleConnect(rec, request(http.MethodGet, "/social/connect?next="+tt.next, "", sess, vendor.User.ID, nil))

			require.Equal(t, http.StatusFound, rec.Code)
			assert.Equal(t, conn.authURL, rec.Header().Get("Location"))

			var saved social.Pending
			found, err := sess.Get(pendingKey, &saved)
			require.NoError(t, err)
			require.True(t, found)
			assert.Equal(t, "state-123", saved.State)
			assert.Equal(t, "verifier-456", saved.Verifier)
			assert.Equal(t, tt.wantNext, saved.Next)
		})
	}
}

func TestSocialConnect_CustomerForbidden(t *testing.T) {
	f, _, h := newSocialFixture(t)
	customer := f.register(t, "cara", model.RoleCustomer)

	sess := session.New("s1")
	rec := httptest.NewRecorder()
	h.HandleConnect(rec, request(http.MethodGet, "/social/connect", "", sess, customer.User.ID, nil))

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.False(t, sess.Has(pendingKey))
}

func TestSocialCallback_NoPending(t *testing.T) {
	_, conn, h := newSocialFixture(t)

	sess := session.New("s1")
	rec := httptest.NewRecorder()
	h.HandleCallback(rec, request(http.MethodGet, "/social/callback?state=x&code=y", "", sess, "", nil))

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))
	assert.Equal(t, session.LevelError, lastFlash(t, sess).Level)
	assert.False(t, conn.finished, "the code must not be exchanged")
}

func TestSocialCallback(t *testing.T) {
	tests := []struct {
		name      string
		finishErr error
		wantLevel session.Level
		wantText  string
	}{
		{"connected", nil, session.LevelSuccess, "Social account connected."},
		{"state mismatch", social.ErrStateMismatch, session.LevelError, "could not be verified"},
		{"denied", &social.ProviderError{Code: "access_denied"}, session.LevelError, "denied"},
		{"provider error", &social.ProviderError{Status: 400, Code: "invalid_request"}, session.LevelError, "rejected"},
		{"network", errors.New("dial tcp: timeout"), session.LevelError, "try again later"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, conn, h := newSocialFixture(t)
			conn.finishErr = tt.finishErr

			sess := session.New("s1")
			require.NoError(t, sess.Set(pendingKey, social.Pending{State: "state-123", Verifier: "v", Next: "/vendor/stores"}))

			rec := httptest.NewRecorder()
			h.HandleCallback(rec, request(http.MethodGet, "/social/callback?state=state-123&code=abc", "", sess, "", nil))

			assert.Equal(t, http.StatusSeeOther, rec.Code)
			assert.Equal(t, "/vendor/stores", rec.Header().Get("Location"))
			assert.False(t, sess.Has(pendingKey), "pending is consumed whatever the outcome")
			assert.Equal(t, "state-123", conn.gotPending.State)
			assert.Contains(t, conn.gotCallback, "code=abc")

			msg := lastFlash(t, sess)
			assert.Equal(t, tt.wantLevel, msg.Level)
			assert.Contains(t, msg.Text, tt.wantText)
		})
	}
}

// =========================================================================
// VENDOR ANNOUNCEMENTS
// =========================================================================

type fakeAnnouncer struct {
	notice   announce.Notice
	products []*model.Product
	stores   []*model.Store
}

func (f *fakeAnnouncer) Store(_ context.Context, s *model.Store) announce.Notice {
	f.stores = append(f.stores, s)
	return f.notice
}

func (f *fakeAnnouncer) Product(_ context.Context, p *model.Product) announce.Notice {
	f.products = append(f.products, p)
	return f.notice
}

func TestVendorCreateStore_Notices(t *testing.T) {
	tests := []struct {
		name             string
		notice           announce.Notice
		wantAnnouncement string
		wantConnectURL   string
		wantFlash        session.Level
	}{
		{"queued", announce.NoticeQueued, "queued", "", session.LevelSuccess},
		{"not connected", announce.NoticeConnect, "connect", "/social/connect?next=%2Fvendor%2Fstores", session.LevelInfo},
		{"disabled", announce.NoticeNone, "", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			vendor := f.register(t, "vera", model.RoleVendor)
			announcer := &fakeAnnouncer{notice: tt.notice}
			h := NewVendorHandler(f.stores, f.products, announcer, f.logger)

			sess := session.New("s1")
			rec := httptest.NewRecorder()
			h.HandleCreateStore(rec, request(http.MethodPost, "/vendor/stores", `{"name":"Second Shop"}`, sess, vendor.User.ID, nil))

			require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
			var resp struct {
				Store        model.Store `json:"store"`
				Announcement string      `json:"announcement"`
				ConnectURL   string      `json:"connectURL"`
			}
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.Equal(t, "Second Shop", resp.Store.Name)
			assert.Equal(t, tt.wantAnnouncement, resp.Announcement)
			assert.Equal(t, tt.wantConnectURL, resp.ConnectURL)
			require.Len(t, announcer.stores, 1)

			msgs := session.Flashes(sess)
			if tt.wantFlash == "" {
				assert.Empty(t, msgs)
				return
			}
			require.Len(t, msgs, 1)
			assert.Equal(t, tt.wantFlash, msgs[0].Level)
		})
	}
}

func TestVendorCreateProduct_AnnouncesWithStoreName(t *testing.T) {
	f := newFixture(t)
	vendor := f.register(t, "vera", model.RoleVendor)
	announcer := &fakeAnnouncer{notice: announce.NoticeQueued}
	h := NewVendorHandler(f.stores, f.products, announcer, f.logger)

	storeID := strconv.FormatInt(vendor.Store.ID, 10)
	rec := httptest.NewRecorder()
	h.HandleCreateProduct(rec, request(http.MethodPost, "/vendor/stores/"+storeID+"/products",
		`{"name":"Mug","price":1500,"stock":3}`, session.New("s1"), vendor.User.ID, map[string]string{"id": storeID}))

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Len(t, announcer.products, 1)
	assert.Equal(t, "vera's Store", announcer.products[0].StoreName)
}

func TestVendorCreateProduct_OtherVendorsStore(t *testing.T) {
	f := newFixture(t)
	owner := f.register(t, "vera", model.RoleVendor)
	other := f.register(t, "otto", model.RoleVendor)
	announcer := &fakeAnnouncer{}
	h := NewVendorHandler(f.stores, f.products, announcer, f.logger)

	storeID := strconv.FormatInt(owner.Store.ID, 10)
	rec := httptest.NewRecorder()
	h.HandleCreateProduct(rec, request(http.MethodPost, "/", `{"name":"Mug","price":1500}`,
		session.New("s1"), other.User.ID, map[string]string{"id": storeID}))

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, announcer.products)
}

func TestVendorCreateProduct_WithImage(t *testing.T) {
	f := newFixture(t)
	vendor := f.register(t, "vera", model.RoleVendor)
	announcer := &fakeAnnouncer{notice: announce.NoticeQueued}
	h := NewVendorHandler(f.stores, f.products, announcer, f.logger)

	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR-mug")
	storeID := strconv.FormatInt(vendor.Store.ID, 10)
	body := fmt.Sprintf(`{"name":"Mug","price":1500,"stock":3,"image":%q,"imageName":"mug.png"}`,
		base64.StdEncoding.EncodeToString(png))
	rec := httptest.NewRecorder()
	h.HandleCreateProduct(rec, request(http.MethodPost, "/", body, session.New("s1"), vendor.User.ID, map[string]string{"id": storeID}))

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Len(t, announcer.products, 1)
	assert.Equal(t, "mug.png", announcer.products[0].ImageName)

	productID := strconv.FormatInt(announcer.products[0].ID, 10)
	catalog := NewCatalogHandler(f.products, f.stores, nil, "$", f.logger)
	rec = httptest.NewRecorder()
	catalog.HandleImage(rec, request(http.MethodGet, "/", "", nil, "", map[string]string{"id": productID}))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "mug.png")
	assert.Equal(t, png, rec.Body.Bytes())
}

func TestVendorCreateProduct_ImageValidation(t *testing.T) {
	f := newFixture(t)
	vendor := f.register(t, "vera", model.RoleVendor)
	announcer := &fakeAnnouncer{}
	h := NewVendorHandler(f.stores, f.products, announcer, f.logger)
	storeID := strconv.FormatInt(vendor.Store.ID, 10)

	for name, body := range map[string]string{
		"missing name": `{"name":"Mug","price":1,"image":"iVBORw0KGgo="}`,
		"not an image": `{"name":"Mug","price":1,"image":"aGVsbG8gd29ybGQ=","imageName":"mug.png"}`,
	} {
		t.Run(name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.HandleCreateProduct(rec, request(http.MethodPost, "/", body, session.New("s1"), vendor.User.ID, map[string]string{"id": storeID}))
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
	assert.Empty(t, announcer.products)
}

func TestCatalogImage_NoImage(t *testing.T) {
	f := newFixture(t)
	vendor := f.register(t, "vera", model.RoleVendor)
	p, err := f.products.Create(context.Background(), vendor.User.ID, vendor.Store.ID, service.ProductInput{Name: "Mug", Price: 1})
	require.NoError(t, err)

	catalog := NewCatalogHandler(f.products, f.stores, nil, "$", f.logger)
	rec := httptest.NewRecorder()
	catalog.HandleImage(rec, request(http.MethodGet, "/", "", nil, "", map[string]string{"id": strconv.FormatInt(p.ID, 10)}))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =========================================================================
// BASKET
// =========================================================================

func TestBasketAdd(t *testing.T) {
	f := newFixture(t)
	vendor := f.register(t, "vera", model.RoleVendor)
	customer := f.register(t, "cara", model.RoleCustomer)
	product, err := f.products.Create(context.Background(), vendor.User.ID, vendor.Store.ID,
		service.ProductInput{Name: "Tea", Price: 450, Stock: 10})
	require.NoError(t, err)

	h := NewBasketHandler(f.products, f.accounts, f.checkout, "$", f.logger)
	id := strconv.FormatInt(product.ID, 10)
	params := map[string]string{"productID": id}
	productPage := "/products/" + id

	add := func(sess *session.Session, userID, query string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h.HandleAdd(rec, request(http.MethodPost, "/basket/add/"+id+query, "", sess, userID, params))
		return rec
	}

	t.Run("vendor is turned away", func(t *testing.T) {
		sess := session.New("s1")
		rec := add(sess, vendor.User.ID, "")
		assert.Equal(t, http.StatusSeeOther, rec.Code)
		assert.Equal(t, productPage, rec.Header().Get("Location"))
		assert.Equal(t, session.LevelError, lastFlash(t, sess).Level)
	})

	t.Run("quantity out of range", func(t *testing.T) {
		for _, q := range []string{"?quantity=0", "?quantity=-2", "?quantity=1001", "?quantity=abc"} {
			sess := session.New("s1")
			rec := add(sess, customer.User.ID, q)
			assert.Equal(t, productPage, rec.Header().Get("Location"), q)
			assert.Equal(t, session.LevelError, lastFlash(t, sess).Level, q)
		}
	})

	t.Run("adds and accumulates", func(t *testing.T) {
		sess := session.New("s1")
		rec := add(sess, customer.User.ID, "")
		assert.Equal(t, "/basket", rec.Header().Get("Location"))
		assert.Equal(t, "Added Tea to your basket.", lastFlash(t, sess).Text)

		add(sess, customer.User.ID, "?quantity=2")

		rec = httptest.NewRecorder()
		h.HandleGet(rec, request(http.MethodGet, "/api/basket", "", sess, customer.User.ID, nil))
		var resp basketResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, 3, resp.Len)
		assert.EqualValues(t, 1350, resp.Total)
		assert.Equal(t, "$13.50", resp.FormattedTotal)
		require.Len(t, resp.Items, 1)
		assert.Equal(t, "$4.50", resp.Items[0].FormattedPrice)
	})

	t.Run("update replaces the quantity", func(t *testing.T) {
		sess := session.New("s1")
		add(sess, customer.User.ID, "?quantity=5")
		add(sess, customer.User.ID, "?quantity=2&update=1")

		rec := httptest.NewRecorder()
		h.HandleGet(rec, request(http.MethodGet, "/api/basket", "", sess, customer.User.ID, nil))
		var resp basketResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, 2, resp.Len)
	})

	t.Run("accumulating past the cap", func(t *testing.T) {
		sess := session.New("s1")
		add(sess, customer.User.ID, "?quantity=1000")
		session.Flashes(sess)

		rec := add(sess, customer.User.ID, "")
		assert.Equal(t, "/basket", rec.Header().Get("Location"))
		assert.Contains(t, lastFlash(t, sess).Text, "at most 1000")
	})
}

func TestBasketCheckout_EmptyBasketStaysOnBasket(t *testing.T) {
	f := newFixture(t)
	customer := f.register(t, "cara", model.RoleCustomer)
	h := NewBasketHandler(f.products, f.accounts, f.checkout, "$", f.logger)

	sess := session.New("s1")
	rec := httptest.NewRecorder()
	h.HandleCheckout(rec, request(http.MethodPost, "/checkout", "", sess, customer.User.ID, nil))

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/basket", rec.Header().Get("Location"))
	assert.Equal(t, session.LevelError, lastFlash(t, sess).Level)
}
