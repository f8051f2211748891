package models

import "time"

// Attendance marks recognised by the register.
const (
	AttendancePresent = "present"
	AttendanceAbsent  = "absent"
	AttendanceLate    = "late"
	AttendanceExcused = "excused"
)

// Attendance records one student's mark for one school day.
type Attendance struct {
	ID         string     `json:"id"`
	SchoolID   string     `json:"school_id"`
	StudentID  string     `json:"student_id"`
	ClassName  string     `json:"class_name"`
	Date       string     `json:"date"`
	Mark       string     `json:"mark"`
	Note       string     `json:"note,omitempty"`
	MarkedBy   string     `json:"marked_by,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	SyncStatus SyncStatus `json:"sync_status"`
}

// ValidAttendanceMark reports whether mark is one of the recognised values.
func ValidAttendanceMark(mark string) bool {
	switch mark {
	case AttendancePresent, AttendanceAbsent, AttendanceLate, AttendanceExcused:
		return true
	}
	return false
}

// AttendanceFilter encapsulates allowed search parameters for the register.
type AttendanceFilter struct {
	StudentID string
	ClassName string
	Mark      string
	DateFrom  string
	DateTo    string
}

// Matches applies the filter to a single record.
func (f AttendanceFilter) Matches(a Attendance) bool {
	if f.StudentID != "" && a.StudentID != f.StudentID {
		return false
	}
	if f.ClassName != "" && a.ClassName != f.ClassName {
		return false
	}
	if f.Mark != "" && a.Mark != f.Mark {
		return false
	}
	return withinRange(a.Date, f.DateFrom, f.DateTo)
}
