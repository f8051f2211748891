package models

import "time"

// ParentAccount represents a guardian login tied to one or more students.
type ParentAccount struct {
	ID         string     `json:"id"`
	SchoolID   string     `json:"school_id"`
	FullName   string     `json:"full_name"`
	Email      string     `json:"email"`
	Phone      string     `json:"phone,omitempty"`
	Active     bool       `json:"active"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	SyncStatus SyncStatus `json:"sync_status"`
}

// ParentStudentLink connects a parent account to one student record.
type ParentStudentLink struct {
	ID         string     `json:"id"`
	SchoolID   string     `json:"school_id"`
	ParentID   string     `json:"parent_id"`
	StudentID  string     `json:"student_id"`
	Relation   string     `json:"relation,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	SyncStatus SyncStatus `json:"sync_status"`
}

// LinkedStudent is a denormalized view of a student reachable from a
// parent account, assembled by client-side lookup.
type LinkedStudent struct {
	LinkID          string `json:"link_id"`
	StudentID       string `json:"student_id"`
	FullName        string `json:"full_name"`
	AdmissionNumber string `json:"admission_number"`
	ClassName       string `json:"class_name"`
	Relation        string `json:"relation,omitempty"`
}

// ParentFilter encapsulates allowed search parameters for parent accounts.
type ParentFilter struct {
	Active *bool
	Search string
}

// Matches applies the filter to a single record.
func (f ParentFilter) Matches(p ParentAccount) bool {
	if f.Active != nil && p.Active != *f.Active {
		return false
	}
	if f.Search != "" && !containsFold(f.Search, p.FullName, p.Email, p.Phone) {
		return false
	}
	return true
}
