package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/sakif/storefront/internal/model"
	"github.com/sakif/storefront/internal/repository"
)

var _ repository.AnnouncementRepository = (*DB)(nil)

const announcementColumns = `id, kind, subject_id, text, status, attempts, last_error, post_id,
	next_attempt_at, created_at, updated_at`

// EnqueueAnnouncement adds a pending post to the outbox, due immediately.
func (db *DB) EnqueueAnnouncement(ctx context.Context, a *model.Announcement) error {
	now := time.Now()
	a.ID = newID()
	a.Status = model.AnnouncementPending
	a.CreatedAt = now
	a.UpdatedAt = now
	if a.NextAttemptAt.IsZero() {
		a.NextAttemptAt = now
	}

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO announcements (`+announcementColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID,
		string(a.Kind),
		a.SubjectID,
		a.Text,
		string(a.Status),
		a.Attempts,
		a.LastError,
		a.PostID,
		utc(a.NextAttemptAt),
		utc(a.CreatedAt),
		utc(a.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: enqueueing %s announcement: %w", a.Kind, err)
	}
	return nil
}

// ListDueAnnouncements returns up to limit pending rows whose next attempt
// is at or before now, oldest first.
func (db *DB) ListDueAnnouncements(ctx context.Context, now time.Time, limit int) ([]model.Announcement, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+announcementColumns+` FROM announcements
		 WHERE status = ? AND next_attempt_at <= ?
		 ORDER BY created_at, id LIMIT ?`,
		string(model.AnnouncementPending), utc(now), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing due announcements: %w", err)
	}
	defer rows.Close()

	out := []model.Announcement{}
	for rows.Next() {
		var a model.Announcement
		var kind, status string
		if err := rows.Scan(
			&a.ID,
			&kind,
			&a.SubjectID,
			&a.Text,
			&status,
			&a.Attempts,
			&a.LastError,
			&a.PostID,
			&a.NextAttemptAt,
			&a.CreatedAt,
			&a.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("sqlite: scanning announcement: %w", err)
		}
		a.Kind = model.AnnouncementKind(kind)
		a.Status = model.AnnouncementStatus(status)
		out = append(out, a)
	}
	return out, rows.Err()
}

// MarkAnnouncementSent records a successful post.
func (db *DB) MarkAnnouncementSent(ctx context.Context, id, postID string, now time.Time) error {
	_, err := db.conn.ExecContext(ctx,
		`UPDATE announcements SET status = ?, post_id = ?, attempts = attempts + 1, last_error = '', updated_at = ?
		 WHERE id = ?`,
		string(model.AnnouncementSent), postID, utc(now), id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: marking announcement %s sent: %w", id, err)
	}
	return nil
}

// MarkAnnouncementRetry keeps the row pending and pushes its next attempt to next.
func (db *DB) MarkAnnouncementRetry(ctx context.Context, id, reason string, next time.Time) error {
	_, err := db.conn.ExecContext(ctx,
		`UPDATE announcements SET attempts = attempts + 1, last_error = ?, next_attempt_at = ?, updated_at = ?
		 WHERE id = ?`,
		reason, utc(next), utc(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: rescheduling announcement %s: %w", id, err)
	}
	return nil
}

// MarkAnnouncementFailed gives up on a row for good.
func (db *DB) MarkAnnouncementFailed(ctx context.Context, id, reason string, now time.Time) error {
	_, err := db.conn.ExecContext(ctx,
		`UPDATE announcements SET status = ?, attempts = attempts + 1, last_error = ?, updated_at = ?
		 WHERE id = ?`,
		string(model.AnnouncementFailed), reason, utc(now), id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: failing announcement %s: %w", id, err)
	}
	return nil
}
