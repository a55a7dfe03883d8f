package domain

import (
	"time"

	"github.com/google/uuid"
)

// Notification is an out-of-band event addressed to one user, typically
// emitted by the thesis workflow (submission reviewed, marks published).
type Notification struct {
	ID        uuid.UUID  `json:"id"`
	UserID    uuid.UUID  `json:"user_id"`
	Kind      string     `json:"kind"`
	Title     string     `json:"title"`
	Body      string     `json:"body"`
	Link      *string    `json:"link,omitempty"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

const (
	NotificationKindSubmission = "submission"
	NotificationKindGrading    = "grading"
	NotificationKindGroup      = "group"
	NotificationKindSystem     = "system"
)

func (n *Notification) IsRead() bool {
	return n.ReadAt != nil
}
