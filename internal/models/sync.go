package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// SyncOperation is the kind of mutation captured in a queue entry.
type SyncOperation string

const (
	SyncOpCreate SyncOperation = "create"
	SyncOpUpdate SyncOperation = "update"
	SyncOpDelete SyncOperation = "delete"
)

// Queue entry processing states.
type SyncEntryStatus string

const (
	SyncEntryPending    SyncEntryStatus = "pending"
	SyncEntryProcessing SyncEntryStatus = "processing"
	SyncEntryCompleted  SyncEntryStatus = "completed"
	SyncEntryFailed     SyncEntryStatus = "failed"
)

// SyncQueueEntry is one durable pending mutation. Data is a full snapshot
// of the record at enqueue time, never a delta, so replays are idempotent.
type SyncQueueEntry struct {
	Seq       int64           `db:"seq" json:"seq"`
	ID        string          `db:"id" json:"id"`
	TableName string          `db:"table_name" json:"table_name"`
	RecordID  string          `db:"record_id" json:"record_id"`
	Operation SyncOperation   `db:"operation" json:"operation"`
	Data      json.RawMessage `db:"data" json:"data"`
	Status    SyncEntryStatus `db:"status" json:"status"`
	Attempts  int             `db:"attempts" json:"attempts"`
	LastError string          `db:"last_error" json:"last_error,omitempty"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}

// DecodeQueuePayload turns an entry's opaque snapshot into the typed record
// for its collection. The durable layer stores raw JSON; replay gets a
// tagged union keyed by table name.
func DecodeQueuePayload(table string, data []byte) (any, error) {
	decode := func(v any) (any, error) {
		if err := json.Unmarshal(data, v); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", table, err)
		}
		return v, nil
	}
	switch table {
	case CollectionStudents:
		return decode(&Student{})
	case CollectionFees:
		return decode(&Fee{})
	case CollectionAttendance:
		return decode(&Attendance{})
	case CollectionExams:
		return decode(&Exam{})
	case CollectionReportCards:
		return decode(&ReportCard{})
	case CollectionReceipts:
		return decode(&Receipt{})
	case CollectionNotifications:
		return decode(&Notification{})
	case CollectionParentAccounts:
		return decode(&ParentAccount{})
	case CollectionParentStudentLinks:
		return decode(&ParentStudentLink{})
	default:
		return nil, fmt.Errorf("unknown sync table %q", table)
	}
}

// SyncResult summarises one drain pass for callers and the UI.
type SyncResult struct {
	Completed int  `json:"completed"`
	Failed    int  `json:"failed"`
	Skipped   bool `json:"skipped"`
}
