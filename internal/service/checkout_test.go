package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sakif/storefront/internal/apperror"
	"github.com/sakif/storefront/internal/basket"
	"github.com/sakif/storefront/internal/model"
	"github.com/sakif/storefront/internal/session"
)

// basketWith returns a fresh session basket holding qty of each product.
func (e *testEnv) basketWith(t *testing.T, lines map[*model.Product]int) *basket.Basket {
	t.Helper()
	b := basket.Load(session.New("test-session"), e.products)
	for p, qty := range lines {
		if err := b.Add(p, qty, false); err != nil {
			t.Fatalf("basket.Add: %v", err)
		}
	}
	return b
}

// buy checks out qty of p for user.
func (e *testEnv) buy(t *testing.T, user *AuthResult, p *model.Product, qty int) *model.Order {
	t.Helper()
	order, err := e.checkout.Checkout(context.Background(), user.User.ID, e.basketWith(t, map[*model.Product]int{p: qty}))
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	return order
}

func TestCheckout_PlacesOrderAndMailsInvoice(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.checkout.now = func() time.Time { return time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC) }

	alice := env.register(t, "alice", model.RoleVendor)
	cust := env.register(t, "cust", model.RoleCustomer)
	tea := env.product(t, alice, "Green Tea", 450)
	mug := env.product(t, alice, "Mug", 1500)

	b := env.basketWith(t, map[*model.Product]int{tea: 2, mug: 1})
	order, err := env.checkout.Checkout(ctx, cust.User.ID, b)
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}

	if order.Total != 2400 {
		t.Errorf("Total = %d, want 2400", order.Total)
	}
	if len(order.Items) != 2 {
		t.Errorf("Items = %d lines, want 2", len(order.Items))
	}
	wantInvoice := "INV-20260304050607-" + cust.User.ID
	if order.InvoiceNo != wantInvoice {
		t.Errorf("InvoiceNo = %q, want %q", order.InvoiceNo, wantInvoice)
	}
	if order.Email != "cust@example.com" {
		t.Errorf("Email = %q", order.Email)
	}

	// Clearing is the caller's job.
	if b.Len() != 3 {
		t.Errorf("basket holds %d units after checkout, want 3", b.Len())
	}

	if len(env.mailer.sent) != 1 {
		t.Fatalf("sent %d mails, want 1", len(env.mailer.sent))
	}
	msg := env.mailer.sent[0]
	if msg.Subject != "Your invoice "+wantInvoice {
		t.Errorf("Subject = %q", msg.Subject)
	}
	if len(msg.To) != 1 || msg.To[0] != "cust@example.com" {
		t.Errorf("To = %v", msg.To)
	}
	for _, want := range []string{"Green Tea x 2 @ $4.50 = $9.00", "Mug x 1 @ $15.00 = $15.00", "Total: $24.00"} {
		if !strings.Contains(msg.Text, want) {
			t.Errorf("invoice text missing %q:\n%s", want, msg.Text)
		}
	}
	if !strings.Contains(msg.HTML, "<td>Green Tea</td>") {
		t.Errorf("invoice HTML missing product row:\n%s", msg.HTML)
	}

	bought, err := env.db.HasPurchased(ctx, cust.User.ID, tea.ID)
	if err != nil {
		t.Fatalf("HasPurchased: %v", err)
	}
	if !bought {
		t.Error("checkout must record the purchase")
	}
}

func TestCheckout_UsesPriceSnapshot(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.register(t, "alice", model.RoleVendor)
	cust := env.register(t, "cust", model.RoleCustomer)
	tea := env.product(t, alice, "Green Tea", 450)

	b := env.basketWith(t, map[*model.Product]int{tea: 1})
	if _, err := env.products.Update(ctx, alice.User.ID, alice.Store.ID, tea.ID, ProductInput{Name: "Green Tea", Price: 999}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	order, err := env.checkout.Checkout(ctx, cust.User.ID, b)
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if order.Total != 450 {
		t.Errorf("Total = %d, want the 450 the customer saw", order.Total)
	}
}

func TestCheckout_Rejections(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.register(t, "alice", model.RoleVendor)
	cust := env.register(t, "cust", model.RoleCustomer)
	noMail, err := env.accounts.Register(ctx, RegisterInput{Username: "nomail", Password: "correct-horse"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	tea := env.product(t, alice, "Green Tea", 450)

	t.Run("vendor", func(t *testing.T) {
		_, err := env.checkout.Checkout(ctx, alice.User.ID, env.basketWith(t, map[*model.Product]int{tea: 1}))
		wantErr(t, err, apperror.ErrForbidden)
	})

	t.Run("empty basket", func(t *testing.T) {
		_, err := env.checkout.Checkout(ctx, cust.User.ID, env.basketWith(t, nil))
		wantErr(t, err, apperror.ErrValidation)
		wantField(t, err, "basket")
	})

	t.Run("no email", func(t *testing.T) {
		_, err := env.checkout.Checkout(ctx, noMail.User.ID, env.basketWith(t, map[*model.Product]int{tea: 1}))
		wantErr(t, err, apperror.ErrValidation)
		wantField(t, err, "email")
	})

	t.Run("signed out", func(t *testing.T) {
		_, err := env.checkout.Checkout(ctx, "", env.basketWith(t, map[*model.Product]int{tea: 1}))
		wantErr(t, err, apperror.ErrUnauthorized)
	})

	if len(env.mailer.sent) != 0 {
		t.Errorf("rejected checkouts sent %d mails", len(env.mailer.sent))
	}
}

func TestCheckout_MailFailureRollsBack(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.register(t, "alice", model.RoleVendor)
	cust := env.register(t, "cust", model.RoleCustomer)
	tea := env.product(t, alice, "Green Tea", 450)

	relayDown := errors.New("relay down")
	env.mailer.err = relayDown

	_, err := env.checkout.Checkout(ctx, cust.User.ID, env.basketWith(t, map[*model.Product]int{tea: 1}))
	if !errors.Is(err, relayDown) {
		t.Fatalf("Checkout error = %v, want the mail error", err)
	}

	bought, err := env.db.HasPurchased(ctx, cust.User.ID, tea.ID)
	if err != nil {
		t.Fatalf("HasPurchased: %v", err)
	}
	if bought {
		t.Error("a failed invoice must not leave a purchase behind")
	}

	// The same basket goes through once the relay is back.
	env.mailer.err = nil
	env.buy(t, cust, tea, 1)
}

func TestInvoiceNumber(t *testing.T) {
	at := time.Date(2026, 12, 31, 23, 59, 58, 0, time.FixedZone("EST", -5*3600))
	if got := InvoiceNumber(at, "u1", 1); got != "INV-20270101045958-u1" {
		t.Errorf("InvoiceNumber = %q", got)
	}
	if got := InvoiceNumber(at, "u1", 3); got != "INV-20270101045958-u1-3" {
		t.Errorf("InvoiceNumber(seq 3) = %q", got)
	}
}

func TestCheckout_SameSecondGetsNumberedInvoice(t *testing.T) {
	env := newTestEnv(t)
	env.checkout.now = func() time.Time { return time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC) }
	alice := env.register(t, "alice", model.RoleVendor)
	cust := env.register(t, "cust", model.RoleCustomer)
	tea := env.product(t, alice, "Green Tea", 450)

	first := env.buy(t, cust, tea, 1)
	second := env.buy(t, cust, tea, 1)
	third := env.buy(t, cust, tea, 1)

	base := "INV-20260304050607-" + cust.User.ID
	if first.InvoiceNo != base {
		t.Errorf("first InvoiceNo = %q, want %q", first.InvoiceNo, base)
	}
	if second.InvoiceNo != base+"-2" {
		t.Errorf("second InvoiceNo = %q, want %q", second.InvoiceNo, base+"-2")
	}
	if third.InvoiceNo != base+"-3" {
		t.Errorf("third InvoiceNo = %q, want %q", third.InvoiceNo, base+"-3")
	}
	if len(env.mailer.sent) != 3 {
		t.Fatalf("sent %d invoices, want 3", len(env.mailer.sent))
	}
	if !strings.Contains(env.mailer.sent[1].Subject, base+"-2") {
		t.Errorf("second invoice subject = %q", env.mailer.sent[1].Subject)
	}
}
