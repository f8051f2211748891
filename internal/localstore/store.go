// Package localstore implements the versioned, schema-keyed durable store
// backing the offline client. Every entity collection lives in one generic
// records table keyed by (collection, id); the secondary indexes the
// remote schema expresses as foreign keys are mirrored as indexed columns,
// since the local side has no join capability.
package localstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-offline-core/internal/models"
	appErrors "github.com/noah-isme/sma-offline-core/pkg/errors"
)

// Envelope is the stored form of any record: indexed identity columns
// plus the opaque JSON snapshot of the typed entity.
type Envelope struct {
	Collection string            `db:"collection"`
	ID         string            `db:"id"`
	SchoolID   string            `db:"school_id"`
	StudentID  string            `db:"student_id"`
	ParentID   string            `db:"parent_id"`
	FeeID      string            `db:"fee_id"`
	SyncStatus models.SyncStatus `db:"sync_status"`
	Data       []byte            `db:"data"`
	CreatedAt  time.Time         `db:"created_at"`
	UpdatedAt  time.Time         `db:"updated_at"`
}

var indexColumns = map[string]string{
	models.IndexBySchool:  "school_id",
	models.IndexByStudent: "student_id",
	models.IndexByParent:  "parent_id",
	models.IndexByFee:     "fee_id",
}

// Store is the shared local database handle. Obtain one through Acquire.
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func newStore(db *sqlx.DB, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := migrate(db); err != nil {
		return nil, err
	}
	return &Store{db: db, logger: logger}, nil
}

// DB exposes the underlying connection for collaborators that share the
// durable database, such as the sync queue.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Get returns the record, or (nil, nil) when absent. A missing record is
// not an error at this layer.
func (s *Store) Get(ctx context.Context, collection, id string) (*Envelope, error) {
	const query = `SELECT collection, id, school_id, student_id, parent_id, fee_id, sync_status, data, created_at, updated_at
		FROM records WHERE collection = ? AND id = ?`
	var env Envelope
	if err := s.db.GetContext(ctx, &env, query, collection, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	return &env, nil
}

// GetAllByIndex is the sole query primitive: all entity-service filtering
// beyond it happens in memory after retrieval.
func (s *Store) GetAllByIndex(ctx context.Context, collection, index, value string) ([]Envelope, error) {
	column, ok := indexColumns[index]
	if !ok {
		return nil, fmt.Errorf("unknown index %q", index)
	}
	query := fmt.Sprintf(`SELECT collection, id, school_id, student_id, parent_id, fee_id, sync_status, data, created_at, updated_at
		FROM records WHERE collection = ? AND %s = ? ORDER BY created_at, id`, column)
	var envs []Envelope
	if err := s.db.SelectContext(ctx, &envs, query, collection, value); err != nil {
		return nil, fmt.Errorf("index scan %s/%s: %w", collection, index, err)
	}
	return envs, nil
}

// Put upserts keyed by id; last write wins, no version check.
func (s *Store) Put(ctx context.Context, env Envelope) error {
	now := time.Now().UTC()
	if env.CreatedAt.IsZero() {
		env.CreatedAt = now
	}
	env.UpdatedAt = now
	const query = `INSERT INTO records (collection, id, school_id, student_id, parent_id, fee_id, sync_status, data, created_at, updated_at)
		VALUES (:collection, :id, :school_id, :student_id, :parent_id, :fee_id, :sync_status, :data, :created_at, :updated_at)
		ON CONFLICT (collection, id) DO UPDATE SET
			school_id = excluded.school_id,
			student_id = excluded.student_id,
			parent_id = excluded.parent_id,
			fee_id = excluded.fee_id,
			sync_status = excluded.sync_status,
			data = excluded.data,
			updated_at = excluded.updated_at`
	if _, err := s.db.NamedExecContext(ctx, query, env); err != nil {
		return fmt.Errorf("put %s/%s: %w", env.Collection, env.ID, err)
	}
	return nil
}

// Delete removes a record and reports NotFound when it was absent, since
// delete requires an existing record.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM records WHERE collection = ? AND id = ?", collection, id)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("%s record not found", collection))
	}
	return nil
}

// SetSyncStatus flips a record's reconciliation state. The embedded JSON
// snapshot carries the same tag, so both are updated together.
func (s *Store) SetSyncStatus(ctx context.Context, collection, id string, status models.SyncStatus) error {
	const query = `UPDATE records
		SET sync_status = ?, data = json_set(data, '$.sync_status', ?), updated_at = ?
		WHERE collection = ? AND id = ?`
	if _, err := s.db.ExecContext(ctx, query, status, status, time.Now().UTC(), collection, id); err != nil {
		return fmt.Errorf("set sync status %s/%s: %w", collection, id, err)
	}
	return nil
}

// Clear drops every record in one collection.
func (s *Store) Clear(ctx context.Context, collection string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM records WHERE collection = ?", collection); err != nil {
		return fmt.Errorf("clear %s: %w", collection, err)
	}
	return nil
}

// ClearAll wipes all client state: every collection, the sync queue and
// the query cache. Used on logout.
func (s *Store) ClearAll(ctx context.Context) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	for _, stmt := range []string{"DELETE FROM records", "DELETE FROM sync_queue", "DELETE FROM cache_entries"} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("clear all: %w", err)
		}
	}
	return tx.Commit()
}
