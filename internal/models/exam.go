package models

import "time"

// Exam represents a single assessment sat by a student.
type Exam struct {
	ID         string     `json:"id"`
	SchoolID   string     `json:"school_id"`
	StudentID  string     `json:"student_id"`
	ClassName  string     `json:"class_name"`
	Term       string     `json:"term"`
	Subject    string     `json:"subject"`
	Score      float64    `json:"score"`
	MaxScore   float64    `json:"max_score"`
	ExamType   string     `json:"exam_type,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	SyncStatus SyncStatus `json:"sync_status"`
}

// ExamFilter encapsulates allowed search parameters for listing exams.
type ExamFilter struct {
	StudentID string
	ClassName string
	Term      string
	Subject   string
}

// Matches applies the filter to a single record.
func (f ExamFilter) Matches(e Exam) bool {
	if f.StudentID != "" && e.StudentID != f.StudentID {
		return false
	}
	if f.ClassName != "" && e.ClassName != f.ClassName {
		return false
	}
	if f.Term != "" && e.Term != f.Term {
		return false
	}
	if f.Subject != "" && e.Subject != f.Subject {
		return false
	}
	return true
}
