package model

import "time"

// AnnouncementKind says what a queued social post is about.
type AnnouncementKind string

const (
	AnnounceStore   AnnouncementKind = "store"
	AnnounceProduct AnnouncementKind = "product"
)

// AnnouncementStatus tracks an outbox row through delivery.
type AnnouncementStatus string

const (
	AnnouncementPending AnnouncementStatus = "pending"
	AnnouncementSent    AnnouncementStatus = "sent"
	AnnouncementFailed  AnnouncementStatus = "failed"
)

// Announcement is a social post waiting in the outbox. Rows are written after
// the store/product transaction commits and drained by the announce worker.
type Announcement struct {
	ID            string             `json:"id"`
	Kind          AnnouncementKind   `json:"kind"`
	SubjectID     int64              `json:"subjectId"`
	Text          string             `json:"text"`
	Status        AnnouncementStatus `json:"status"`
	Attempts      int                `json:"attempts"`
	LastError     string             `json:"lastError,omitempty"`
	PostID        string             `json:"postId,omitempty"`
	NextAttemptAt time.Time          `json:"nextAttemptAt"`
	CreatedAt     time.Time          `json:"createdAt"`
	UpdatedAt     time.Time          `json:"updatedAt"`
}
