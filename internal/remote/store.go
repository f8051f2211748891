// Package remote defines the contract the sync layer holds against the
// relational backend, plus the Postgres and HTTP client implementations.
//
// The backend accepts client-supplied UUID primary keys, which is what
// lets this design skip temporary-id remapping entirely. Insert and
// Update are both upserts keyed by that id, and Delete of a missing id
// succeeds, so queue replays are idempotent.
package remote

import (
	"context"
	"encoding/json"
	"time"
)

// Record is the canonical remote-write payload for every collection and
// both write paths (immediate best-effort and queued drain): the identity
// columns plus the full JSON snapshot of the entity.
type Record struct {
	ID        string          `db:"id" json:"id"`
	SchoolID  string          `db:"school_id" json:"school_id"`
	Data      json.RawMessage `db:"data" json:"data"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}

// Filter mirrors the entity services' local predicates in a form each
// backend can translate to its query language.
type Filter struct {
	// Eq matches data fields exactly.
	Eq map[string]string
	// Search is a case-insensitive substring match over SearchFields.
	Search       string
	SearchFields []string
	// Date range over DateField (YYYY-MM-DD string field), inclusive.
	DateField string
	From      string
	To        string
}

// Store is the consumed remote contract: CRUD plus filtered query over
// named record collections, scoped by school.
type Store interface {
	Select(ctx context.Context, table, schoolID string, filter Filter) ([]Record, error)
	Insert(ctx context.Context, table string, rec Record) error
	Update(ctx context.Context, table string, rec Record) error
	Delete(ctx context.Context, table, id string) error
}

// Tables that sync remotely. Guarding the table name here keeps a
// corrupted queue entry from reaching the backends with an arbitrary
// identifier.
var syncedTables = map[string]bool{
	"students":             true,
	"fees":                 true,
	"attendance":           true,
	"exams":                true,
	"report_cards":         true,
	"receipts":             true,
	"notifications":        true,
	"parent_accounts":      true,
	"parent_student_links": true,
}

// ValidTable reports whether table is part of the sync contract.
func ValidTable(table string) bool {
	return syncedTables[table]
}
