package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	htmltemplate "html/template"
	"log/slog"
	"strconv"
	texttemplate "text/template"
	"time"

	"github.com/sakif/storefront/internal/apperror"
	"github.com/sakif/storefront/internal/basket"
	"github.com/sakif/storefront/internal/mail"
	"github.com/sakif/storefront/internal/model"
	"github.com/sakif/storefront/internal/repository"
)

// CheckoutConfig is the checkout's slice of the application settings.
type CheckoutConfig struct {
	SiteName       string
	CurrencySymbol string
}

// CheckoutService turns a basket into an order and an emailed invoice.
//
// ALL OR NOTHING:
// The order rows, the purchase records and the invoice mail succeed or fail
// together. The mail is sent from inside the order transaction (the
// beforeCommit hook), so a relay failure rolls the order back and the
// customer can simply try again with the basket intact.
type CheckoutService struct {
	cfg    CheckoutConfig
	users  repository.UserRepository
	orders repository.OrderRepository
	mailer mail.Mailer
	logger *slog.Logger
	now    func() time.Time
}

func NewCheckoutService(
	cfg CheckoutConfig,
	users repository.UserRepository,
	orders repository.OrderRepository,
	mailer mail.Mailer,
	logger *slog.Logger,
) *CheckoutService {
	return &CheckoutService{cfg: cfg, users: users, orders: orders, mailer: mailer, logger: logger, now: time.Now}
}

// Checkout places the order for the basket's current contents. The caller
// clears the basket once this returns successfully.
func (s *CheckoutService) Checkout(ctx context.Context, userID string, b *basket.Basket) (*model.Order, error) {
	user, err := loadUser(ctx, s.users, userID)
	if err != nil {
		return nil, err
	}
	if user.IsVendor() {
		return nil, apperror.Forbidden("Vendors cannot checkout.")
	}

	items, err := b.Items(ctx)
	if err != nil {
		return nil, fmt.Errorf("service/checkout: reading basket: %w", err)
	}
	if len(items) == 0 {
		return nil, apperror.ValidationFailed("basket", "Your basket is empty.")
	}
	if user.Email == "" {
		return nil, apperror.ValidationFailed("email", "Your account has no email address. Please add one to receive the invoice.")
	}

	now := s.now()
	order := &model.Order{
		UserID:    user.ID,
		Email:     user.Email,
		CreatedAt: now,
	}
	for _, it := range items {
		order.Items = append(order.Items, model.OrderItem{
			ProductID: it.Product.ID,
			Name:      it.Product.Name,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		})
		order.Total += it.TotalPrice
	}

	// Two checkouts by one user within the same second share a timestamp;
	// the second one gets a numbered invoice instead of failing.
	for seq := 1; ; seq++ {
		order.InvoiceNo = InvoiceNumber(now, user.ID, seq)
		err = s.place(ctx, user, order)
		if err == nil {
			break
		}
		if !errors.Is(err, apperror.ErrIntegrity) || seq == maxInvoiceAttempts {
			return nil, err
		}
	}

	s.logger.Info("order placed",
		slog.String("invoice", order.InvoiceNo),
		slog.String("userID", user.ID),
		slog.Int64("total", order.Total),
		slog.Int("lines", len(order.Items)),
	)
	return order, nil
}

// maxInvoiceAttempts caps the numbered retries for one checkout.
const maxInvoiceAttempts = 5

// place writes the order and mails its invoice in one transaction.
func (s *CheckoutService) place(ctx context.Context, user *model.User, order *model.Order) error {
	msg, err := s.invoice(user, order)
	if err != nil {
		return err
	}
	return s.orders.PlaceOrder(ctx, order, func(ctx context.Context) error {
		if err := s.mailer.Send(ctx, msg); err != nil {
			return fmt.Errorf("service/checkout: sending invoice %s: %w", order.InvoiceNo, err)
		}
		return nil
	})
}

// InvoiceNumber is INV-<UTC timestamp to the second>-<user ID>, with
// "-<seq>" appended from the second attempt on.
func InvoiceNumber(at time.Time, userID string, seq int) string {
	n := "INV-" + at.UTC().Format("20060102150405") + "-" + userID
	if seq > 1 {
		n += "-" + strconv.Itoa(seq)
	}
	return n
}

type invoiceLine struct {
	Name      string
	Quantity  int
	UnitPrice string
	Total     string
}

type invoiceData struct {
	SiteName    string
	Username    string
	InvoiceNo   string
	GeneratedAt string
	Lines       []invoiceLine
	Total       string
}

func (s *CheckoutService) invoice(user *model.User, order *model.Order) (mail.Message, error) {
	price := func(c int64) string { return basket.FormatPrice(s.cfg.CurrencySymbol, c) }

	data := invoiceData{
		SiteName:    s.cfg.SiteName,
		Username:    user.Username,
		InvoiceNo:   order.InvoiceNo,
		GeneratedAt: order.CreatedAt.UTC().Format("2006-01-02 15:04 MST"),
		Total:       price(order.Total),
	}
	for _, it := range order.Items {
		data.Lines = append(data.Lines, invoiceLine{
			Name:      it.Name,
			Quantity:  it.Quantity,
			UnitPrice: price(it.UnitPrice),
			Total:     price(it.LineTotal()),
		})
	}

	var html, text bytes.Buffer
	if err := invoiceHTML.Execute(&html, data); err != nil {
		return mail.Message{}, fmt.Errorf("service/checkout: rendering invoice: %w", err)
	}
	if err := invoiceText.Execute(&text, data); err != nil {
		return mail.Message{}, fmt.Errorf("service/checkout: rendering invoice: %w", err)
	}

	return mail.Message{
		To:      []string{order.Email},
		Subject: "Your invoice " + order.InvoiceNo,
		Text:    text.String(),
		HTML:    html.String(),
	}, nil
}

var invoiceHTML = htmltemplate.Must(htmltemplate.New("invoice.html").Parse(`<h2>{{.SiteName}}: invoice {{.InvoiceNo}}</h2>
<p>Hello {{.Username}}, thank you for your order.</p>
<table>
<tr><th>Product</th><th>Qty</th><th>Price</th><th>Total</th></tr>
{{range .Lines}}<tr><td>{{.Name}}</td><td>{{.Quantity}}</td><td>{{.UnitPrice}}</td><td>{{.Total}}</td></tr>
{{end}}</table>
<p><strong>Total: {{.Total}}</strong></p>
<p>Generated {{.GeneratedAt}}</p>
`))

var invoiceText = texttemplate.Must(texttemplate.New("invoice.txt").Parse(`{{.SiteName}}: invoice {{.InvoiceNo}}

Hello {{.Username}}, thank you for your order.

{{range .Lines}}{{.Name}} x {{.Quantity}} @ {{.UnitPrice}} = {{.Total}}
{{end}}
Total: {{.Total}}
Generated {{.GeneratedAt}}
`))
