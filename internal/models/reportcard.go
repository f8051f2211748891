package models

import "time"

// SubjectScore is one line of a report card.
type SubjectScore struct {
	Subject string  `json:"subject"`
	Score   float64 `json:"score"`
	Grade   string  `json:"grade,omitempty"`
	Remark  string  `json:"remark,omitempty"`
}

// ReportCard summarises a student's term results.
type ReportCard struct {
	ID         string         `json:"id"`
	SchoolID   string         `json:"school_id"`
	StudentID  string         `json:"student_id"`
	ClassName  string         `json:"class_name"`
	Term       string         `json:"term"`
	Scores     []SubjectScore `json:"scores"`
	Total      float64        `json:"total"`
	Average    float64        `json:"average"`
	Position   int            `json:"position,omitempty"`
	ClassSize  int            `json:"class_size,omitempty"`
	Remark     string         `json:"remark,omitempty"`

	// Denormalized at read time.
	StudentName     string `json:"student_name,omitempty"`
	AdmissionNumber string `json:"admission_number,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	SyncStatus SyncStatus `json:"sync_status"`
}

// ReportCardFilter encapsulates allowed search parameters for report cards.
type ReportCardFilter struct {
	StudentID string
	ClassName string
	Term      string
}

// Matches applies the filter to a single record.
func (f ReportCardFilter) Matches(rc ReportCard) bool {
	if f.StudentID != "" && rc.StudentID != f.StudentID {
		return false
	}
	if f.ClassName != "" && rc.ClassName != f.ClassName {
		return false
	}
	if f.Term != "" && rc.Term != f.Term {
		return false
	}
	return true
}
