package models

import "time"

// Student represents a learner registered with a school.
type Student struct {
	ID              string     `json:"id"`
	SchoolID        string     `json:"school_id"`
	AdmissionNumber string     `json:"admission_number"`
	FullName        string     `json:"full_name"`
	Gender          string     `json:"gender"`
	DateOfBirth     string     `json:"date_of_birth,omitempty"`
	ClassName       string     `json:"class_name"`
	GuardianName    string     `json:"guardian_name,omitempty"`
	GuardianPhone   string     `json:"guardian_phone,omitempty"`
	Address         string     `json:"address,omitempty"`
	Active          bool       `json:"active"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	SyncStatus      SyncStatus `json:"sync_status"`
}

// StudentFilter encapsulates allowed search parameters for listing students.
// The same filter drives both the in-memory local path and the remote query.
type StudentFilter struct {
	ClassName string
	Active    *bool
	Search    string
}

// Matches applies the filter to a single record. Kept in models so the
// local path and tests share one definition of the filter semantics.
func (f StudentFilter) Matches(s Student) bool {
	if f.ClassName != "" && s.ClassName != f.ClassName {
		return false
	}
	if f.Active != nil && s.Active != *f.Active {
		return false
	}
	if f.Search != "" && !containsFold(f.Search, s.FullName, s.AdmissionNumber) {
		return false
	}
	return true
}
