package models

import "time"

// Session is the single current-session record persisted locally so the
// app can restore identity without a network round-trip.
type Session struct {
	UserID       string    `json:"user_id"`
	SchoolID     string    `json:"school_id"`
	Email        string    `json:"email"`
	Role         string    `json:"role"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	CachedAt     time.Time `json:"cached_at"`
}

// OfflineCredential caches a bcrypt hash of the user's password so a
// disconnected login can validate against a last-known-good snapshot.
type OfflineCredential struct {
	UserID       string    `json:"user_id"`
	SchoolID     string    `json:"school_id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"password_hash"`
	UpdatedAt    time.Time `json:"updated_at"`
}
