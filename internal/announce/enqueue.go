// Package announce tells the social platform about new stores and products.
//
// Creation and posting are decoupled by an outbox:
//
//	handler → create store (tx commits) → Enqueuer.Store → announcements row
//	Worker (background) → ListDue → EnsureFresh → UploadMedia → PostStatus → mark row
//
// UploadMedia only runs for products that have a picture. If it fails, the
// post goes out as text only.
//
// A slow, failing or disconnected provider therefore never blocks or rolls
// back the store or product it is announcing.
package announce

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sakif/storefront/internal/basket"
	"github.com/sakif/storefront/internal/model"
	"github.com/sakif/storefront/internal/repository"
	"github.com/sakif/storefront/internal/social"
)

// maxSnippetRunes caps how much of a bio or description goes into a post.
const maxSnippetRunes = 240

// Notice tells the handler what to say to the vendor after enqueueing.
type Notice int

const (
	// NoticeNone: posting is disabled, or enqueueing failed and was logged.
	NoticeNone Notice = iota
	// NoticeConnect: no account is connected, so nothing was queued.
	NoticeConnect
	// NoticeQueued: the post is in the outbox.
	NoticeQueued
)

// ConnectionChecker reports whether a social account is connected.
type ConnectionChecker interface {
	Status(ctx context.Context) (social.Connection, error)
}

// Enqueuer writes announcement rows after the primary write has committed.
type Enqueuer struct {
	repo     repository.AnnouncementRepository
	conn     ConnectionChecker
	enabled  bool
	siteName string
	currency string
	logger   *slog.Logger
}

func NewEnqueuer(
	repo repository.AnnouncementRepository,
	conn ConnectionChecker,
	enabled bool,
	siteName, currency string,
	logger *slog.Logger,
) *Enqueuer {
	return &Enqueuer{
		repo:     repo,
		conn:     conn,
		enabled:  enabled,
		siteName: siteName,
		currency: currency,
		logger:   logger,
	}
}

// Store queues the announcement of a new store.
func (e *Enqueuer) Store(ctx context.Context, store *model.Store) Notice {
	return e.enqueue(ctx, model.AnnounceStore, store.ID, StoreText(e.siteName, store))
}

// Product queues the announcement of a new product.
func (e *Enqueuer) Product(ctx context.Context, product *model.Product) Notice {
	return e.enqueue(ctx, model.AnnounceProduct, product.ID, ProductText(e.currency, product))
}

func (e *Enqueuer) enqueue(ctx context.Context, kind model.AnnouncementKind, subjectID int64, text string) Notice {
	if !e.enabled {
		return NoticeNone
	}

	conn, err := e.conn.Status(ctx)
	if err != nil {
		e.logger.Warn("announce: checking social connection",
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()),
		)
		return NoticeNone
	}
	if !conn.Connected {
		return NoticeConnect
	}

	a := &model.Announcement{Kind: kind, SubjectID: subjectID, Text: text}
	if err := e.repo.EnqueueAnnouncement(ctx, a); err != nil {
		e.logger.Warn("announce: enqueueing",
			slog.String("kind", string(kind)),
			slog.Int64("subjectID", subjectID),
			slog.String("error", err.Error()),
		)
		return NoticeNone
	}
	outcomes.WithLabelValues(string(kind), "queued").Inc()
	return NoticeQueued
}

// StoreText is the post for a new store.
func StoreText(siteName string, store *model.Store) string {
	return fmt.Sprintf("New store open on %s!\n%s\n\n%s", siteName, store.Name, snippet(store.Bio))
}

// ProductText is the post for a new product.
func ProductText(currency string, p *model.Product) string {
	return fmt.Sprintf("New product launched!\n%s is available now from %s for %s\n\n%s",
		p.Name, p.StoreName, basket.FormatPrice(currency, p.Price), snippet(p.Description))
}

func snippet(s string) string {
	r := []rune(s)
	if len(r) > maxSnippetRunes {
		r = r[:maxSnippetRunes]
	}
	return string(r)
}

// errNoPostID guards against a provider answering 2xx without an ID.
var errNoPostID = errors.New("announce: provider returned no post ID")
