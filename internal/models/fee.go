package models

import "time"

// Fee payment lifecycle.
const (
	FeeStatusPending = "pending"
	FeeStatusPartial = "partial"
	FeeStatusPaid    = "paid"
)

// Fee represents a charge raised against a student for a term.
type Fee struct {
	ID        string  `json:"id"`
	SchoolID  string  `json:"school_id"`
	StudentID string  `json:"student_id"`
	Category  string  `json:"category"`
	Term      string  `json:"term"`
	Amount    float64 `json:"amount"`
	Paid      float64 `json:"paid"`
	Balance   float64 `json:"balance"`
	Status    string  `json:"status"`
	DueDate   string  `json:"due_date,omitempty"`

	// Denormalized from the student record at read time; the local store
	// has no join capability.
	StudentName     string `json:"student_name,omitempty"`
	AdmissionNumber string `json:"admission_number,omitempty"`

	Payments   []Payment  `json:"payments,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	SyncStatus SyncStatus `json:"sync_status"`
}

// Payment records a single amount received against a fee.
type Payment struct {
	ID         string    `json:"id"`
	Amount     float64   `json:"amount"`
	Method     string    `json:"method"`
	PaidAt     time.Time `json:"paid_at"`
	ReceivedBy string    `json:"received_by,omitempty"`
}

// Receipt is an opaque rendered receipt blob keyed by the fee it settles.
// Rendering happens outside this layer; the core only stores the bytes.
type Receipt struct {
	ID         string     `json:"id"`
	SchoolID   string     `json:"school_id"`
	FeeID      string     `json:"fee_id"`
	PaymentID  string     `json:"payment_id"`
	MimeType   string     `json:"mime_type"`
	Content    []byte     `json:"content"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	SyncStatus SyncStatus `json:"sync_status"`
}

// FeeFilter encapsulates allowed search parameters for listing fees.
type FeeFilter struct {
	StudentID string
	Status    string
	Term      string
	DueFrom   string
	DueTo     string
	Search    string
}

// Matches applies the filter to a single record.
func (f FeeFilter) Matches(fee Fee) bool {
	if f.StudentID != "" && fee.StudentID != f.StudentID {
		return false
	}
	if f.Status != "" && fee.Status != f.Status {
		return false
	}
	if f.Term != "" && fee.Term != f.Term {
		return false
	}
	if !withinRange(fee.DueDate, f.DueFrom, f.DueTo) {
		return false
	}
	if f.Search != "" && !containsFold(f.Search, fee.StudentName, fee.AdmissionNumber, fee.Category) {
		return false
	}
	return true
}

// FeeSummary aggregates fee state for a school.
type FeeSummary struct {
	TotalBilled    float64 `json:"total_billed"`
	TotalCollected float64 `json:"total_collected"`
	TotalOutstand  float64 `json:"total_outstanding"`
	CountPending   int     `json:"count_pending"`
	CountPartial   int     `json:"count_partial"`
	CountPaid      int     `json:"count_paid"`
}
