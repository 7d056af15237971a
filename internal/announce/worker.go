package announce

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sakif/storefront/internal/apperror"
	"github.com/sakif/storefront/internal/model"
	"github.com/sakif/storefront/internal/repository"
	"github.com/sakif/storefront/internal/social"
)

// Failure reasons stored on failed rows.
const (
	ReasonReconnect = "reconnect"
	ReasonScope     = "scope"
)

const maxBackoff = time.Hour

var outcomes = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "announcements_total",
		Help: "Announcements by kind and outcome (queued, sent, retried, failed)",
	},
	[]string{"kind", "outcome"},
)

var mediaUploads = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "announcement_media_uploads_total",
		Help: "Product image uploads by outcome (uploaded, failed)",
	},
	[]string{"outcome"},
)

// Poster is the part of the social client the worker needs.
type Poster interface {
	EnsureFresh(ctx context.Context) (*model.OAuthToken, error)
	UploadMedia(ctx context.Context, filename string, r io.Reader) (string, error)
	PostStatus(ctx context.Context, text string, mediaIDs []string) (string, error)
}

// ImageSource finds the picture to attach to a product announcement.
// *sqlite.DB implements it.
type ImageSource interface {
	GetProductImage(ctx context.Context, productID int64) (*model.ProductImage, error)
}

// Maintainer runs on the slower maintenance tick. The reset service's
// PurgeExpired satisfies it.
type Maintainer func(ctx context.Context) (int64, error)

type Config struct {
	PollInterval  time.Duration
	BatchSize     int
	MaxAttempts   int
	PurgeInterval time.Duration
}

// Worker drains the announcement outbox in a single background goroutine.
type Worker struct {
	cfg      Config
	repo     repository.AnnouncementRepository
	poster   Poster
	images   ImageSource
	maintain Maintainer
	logger   *slog.Logger
	now      func() time.Time

	cancel    context.CancelFunc
	done      chan struct{}
	wg        sync.WaitGroup
	startDone sync.Once
	stopDone  sync.Once
}

// NewWorker builds a worker. images and maintain may be nil; without
// images every post is text only.
func NewWorker(cfg Config, repo repository.AnnouncementRepository, poster Poster, images ImageSource, maintain Maintainer, logger *slog.Logger) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 15 * time.Second
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 10
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 5
	}
	if cfg.PurgeInterval <= 0 {
		cfg.PurgeInterval = time.Hour
	}
	return &Worker{
		cfg:      cfg,
		repo:     repo,
		poster:   poster,
		images:   images,
		maintain: maintain,
		logger:   logger,
		now:      time.Now,
		done:     make(chan struct{}),
	}
}

// Start launches the polling goroutine. Calling it more than once is a no-op.
func (w *Worker) Start() {
	w.startDone.Do(func() {
		w.logger.Info("starting announcement worker",
			slog.Duration("pollInterval", w.cfg.PollInterval),
			slog.Int("batchSize", w.cfg.BatchSize),
		)
		ctx, cancel := context.WithCancel(context.Background())
		w.cancel = cancel
		w.wg.Add(1)
		go w.loop(ctx)
	})
}

// Stop cancels any in-flight post and waits for the goroutine to exit.
func (w *Worker) Stop() {
	w.stopDone.Do(func() {
		w.logger.Info("shutting down announcement worker")
		close(w.done)
		if w.cancel != nil {
			w.cancel()
		}
		w.wg.Wait()
	})
}

func (w *Worker) loop(ctx context.Context) {
	defer w.wg.Done()

	poll := time.NewTicker(w.cfg.PollInterval)
	defer poll.Stop()
	purge := time.NewTicker(w.cfg.PurgeInterval)
	defer purge.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-poll.C:
			if _, err := w.RunOnce(ctx); err != nil && ctx.Err() == nil {
				w.logger.Error("announcement batch failed", slog.String("error", err.Error()))
			}
		case <-purge.C:
			w.runMaintenance(ctx)
		}
	}
}

func (w *Worker) runMaintenance(ctx context.Context) {
	if w.maintain == nil {
		return
	}
	n, err := w.maintain(ctx)
	if err != nil {
		w.logger.Error("maintenance failed", slog.String("error", err.Error()))
		return
	}
	if n > 0 {
		w.logger.Info("stale reset tokens purged", slog.Int64("deleted", n))
	}
}

// RunOnce processes one batch of due rows and returns how many it handled.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	due, err := w.repo.ListDueAnnouncements(ctx, w.now(), w.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	for i := range due {
		if ctx.Err() != nil {
			return i, ctx.Err()
		}
		w.process(ctx, &due[i])
	}
	return len(due), nil
}

func (w *Worker) process(ctx context.Context, a *model.Announcement) {
	postID, err := w.post(ctx, a)
	if ctx.Err() != nil {
		// Shutting down: leave the row pending for the next run.
		return
	}

	var outcome string
	var markErr error
	switch {
	case err == nil:
		outcome = "sent"
		markErr = w.repo.MarkAnnouncementSent(ctx, a.ID, postID, w.now())
	case social.NeedsReconnect(err):
		outcome = "failed"
		markErr = w.repo.MarkAnnouncementFailed(ctx, a.ID, ReasonReconnect, w.now())
	case social.ScopeDenied(err):
		outcome = "failed"
		markErr = w.repo.MarkAnnouncementFailed(ctx, a.ID, ReasonScope, w.now())
	case a.Attempts+1 >= w.cfg.MaxAttempts:
		outcome = "failed"
		markErr = w.repo.MarkAnnouncementFailed(ctx, a.ID, err.Error(), w.now())
	default:
		outcome = "retried"
		markErr = w.repo.MarkAnnouncementRetry(ctx, a.ID, err.Error(), w.now().Add(w.backoff(a.Attempts)))
	}
	outcomes.WithLabelValues(string(a.Kind), outcome).Inc()

	attrs := []any{
		slog.String("id", a.ID),
		slog.String("kind", string(a.Kind)),
		slog.Int64("subjectID", a.SubjectID),
		slog.String("outcome", outcome),
	}
	if err != nil {
		w.logger.Warn("announcement not posted", append(attrs, slog.String("error", err.Error()))...)
	} else {
		w.logger.Info("announcement posted", append(attrs, slog.String("postID", postID))...)
	}
	if markErr != nil {
		w.logger.Error("recording announcement outcome", slog.String("id", a.ID), slog.String("error", markErr.Error()))
	}
}

func (w *Worker) post(ctx context.Context, a *model.Announcement) (string, error) {
	if _, err := w.poster.EnsureFresh(ctx); err != nil {
		return "", err
	}
	id, err := w.poster.PostStatus(ctx, a.Text, w.media(ctx, a))
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", errNoPostID
	}
	return id, nil
}

// media uploads the product's picture and returns its media ID. A product
// without a picture, or an upload that fails, gives nil: the announcement
// then goes out as text only.
func (w *Worker) media(ctx context.Context, a *model.Announcement) []string {
	if a.Kind != model.AnnounceProduct || w.images == nil {
		return nil
	}
	img, err := w.images.GetProductImage(ctx, a.SubjectID)
	if err != nil {
		if !errors.Is(err, apperror.ErrNotFound) {
			w.logger.Warn("loading product image, posting text only",
				slog.Int64("productID", a.SubjectID),
				slog.String("error", err.Error()),
			)
		}
		return nil
	}

	mediaID, err := w.poster.UploadMedia(ctx, img.Filename, bytes.NewReader(img.Data))
	if err != nil || mediaID == "" {
		mediaUploads.WithLabelValues("failed").Inc()
		attrs := []any{slog.String("id", a.ID), slog.Int64("productID", a.SubjectID)}
		if err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
		}
		w.logger.Warn("couldn't attach image, posting text only", attrs...)
		return nil
	}
	mediaUploads.WithLabelValues("uploaded").Inc()
	return []string{mediaID}
}

// backoff doubles the poll interval per attempt, capped at maxBackoff.
func (w *Worker) backoff(attempts int) time.Duration {
	d := w.cfg.PollInterval
	for range attempts {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}

// compile-time check that the social client can drive the worker
var _ Poster = (*social.Client)(nil)
