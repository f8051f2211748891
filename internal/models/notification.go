package models

import "time"

// Notification is a message delivered to a user of the school app.
type Notification struct {
	ID          string     `json:"id"`
	SchoolID    string     `json:"school_id"`
	RecipientID string     `json:"recipient_id"`
	Title       string     `json:"title"`
	Body        string     `json:"body"`
	Kind        string     `json:"kind,omitempty"`
	Read        bool       `json:"read"`
	ReadAt      *time.Time `json:"read_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	SyncStatus  SyncStatus `json:"sync_status"`
}

// NotificationFilter encapsulates allowed search parameters for notifications.
type NotificationFilter struct {
	RecipientID string
	Kind        string
	Unread      bool
}

// Matches applies the filter to a single record.
func (f NotificationFilter) Matches(n Notification) bool {
	if f.RecipientID != "" && n.RecipientID != f.RecipientID {
		return false
	}
	if f.Kind != "" && n.Kind != f.Kind {
		return false
	}
	if f.Unread && n.Read {
		return false
	}
	return true
}
