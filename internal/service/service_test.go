package service

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/sakif/storefront/internal/apperror"
	"github.com/sakif/storefront/internal/auth"
	"github.com/sakif/storefront/internal/mail"
	"github.com/sakif/storefront/internal/model"
	"github.com/sakif/storefront/internal/repository/sqlite"
)

// =========================================================================
// SHARED FIXTURES
// =========================================================================
//
// The services are tested against a real in-memory SQLite database: the
// rules they enforce (unique names, purchase protection, verified reviews)
// are half in the service and half in the schema, and a fake would have to
// re-implement the schema to be useful. Failure paths that SQLite can't
// produce on demand (a mail relay down mid-checkout) use small fakes.

type testEnv struct {
	db        *sqlite.DB
	tokens    *auth.TokenService
	passwords *auth.PasswordService
	mailer    *recordingMailer
	logger    *slog.Logger

	accounts *AccountService
	stores   *StoreService
	products *ProductService
	reviews  *ReviewService
	checkout *CheckoutService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("sqlite.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ts, err := auth.NewTokenService("test-secret-at-least-16-chars!!")
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}

	env := &testEnv{
		db:        db,
		tokens:    ts,
		passwords: auth.NewPasswordServiceForTest(bcrypt.MinCost),
		mailer:    &recordingMailer{},
		logger:    slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})),
	}
	env.accounts = NewAccountService(db, ts, env.passwords, env.mailer, env.logger)
	env.stores = NewStoreService(db, db, env.logger)
	env.products = NewProductService(db, env.stores, env.logger)
	env.reviews = NewReviewService(db, db, db, env.logger)
	env.checkout = NewCheckoutService(CheckoutConfig{SiteName: "eCommerce", CurrencySymbol: "$"}, db, db, env.mailer, env.logger)
	return env
}

func (e *testEnv) register(t *testing.T, username string, role model.Role) *AuthResult {
	t.Helper()
	res, err := e.accounts.Register(context.Background(), RegisterInput{
		Username: username,
		Email:    username + "@example.com",
		Password: "correct-horse",
		Role:     role,
	})
	if err != nil {
		t.Fatalf("Register(%s): %v", username, err)
	}
	return res
}

func (e *testEnv) product(t *testing.T, vendor *AuthResult, name string, price int64) *model.Product {
	t.Helper()
	p, err := e.products.Create(context.Background(), vendor.User.ID, vendor.Store.ID, ProductInput{Name: name, Price: price, Stock: 10})
	if err != nil {
		t.Fatalf("products.Create(%s): %v", name, err)
	}
	return p
}

// recordingMailer keeps every message; set err to simulate a relay failure.
type recordingMailer struct {
	mu   sync.Mutex
	sent []mail.Message
	err  error
}

func (m *recordingMailer) Send(_ context.Context, msg mail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

// wantErr fails the test unless err wraps target.
func wantErr(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("error = %v, want %v", err, target)
	}
}

// wantField fails the test unless err is an AppError naming field.
func wantField(t *testing.T, err error, field string) {
	t.Helper()
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("error = %v, want *apperror.AppError", err)
	}
	if appErr.Field != field {
		t.Errorf("Field = %q, want %q", appErr.Field, field)
	}
}
