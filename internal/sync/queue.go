// Package sync holds the durable mutation queue and the reconciler that
// drains it against the remote store once connectivity returns.
package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-offline-core/internal/localstore"
	"github.com/noah-isme/sma-offline-core/internal/models"
	appErrors "github.com/noah-isme/sma-offline-core/pkg/errors"
)

// Queue is the ordered, durable log of pending mutations. It shares the
// local database so a queued entry and the record it snapshots live or
// die together.
type Queue struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewQueue constructs the queue over the shared local store.
func NewQueue(store *localstore.Store, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{db: store.DB(), logger: logger}
}

// Enqueue appends a mutation with a full snapshot of the record. A write
// failure here is fatal to the caller's mutation: without a queue entry
// the change can never reach the remote store.
func (q *Queue) Enqueue(ctx context.Context, table, recordID string, op models.SyncOperation, payload any) (*models.SyncQueueEntry, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrQueueWrite.Code, appErrors.ErrQueueWrite.Status, "encode sync payload")
	}

	now := time.Now().UTC()
	entry := &models.SyncQueueEntry{
		ID:        uuid.NewString(),
		TableName: table,
		RecordID:  recordID,
		Operation: op,
		Data:      data,
		Status:    models.SyncEntryPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	const query = `INSERT INTO sync_queue (id, table_name, record_id, operation, data, status, attempts, last_error, created_at, updated_at)
		VALUES (:id, :table_name, :record_id, :operation, :data, :status, :attempts, :last_error, :created_at, :updated_at)`
	if _, err := q.db.NamedExecContext(ctx, query, entry); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrQueueWrite.Code, appErrors.ErrQueueWrite.Status, "persist sync entry")
	}
	return entry, nil
}

// Pending returns entries awaiting replay in global FIFO order, across
// all tables, preserving cross-table causal order. Entries left in
// processing by a crash are picked up again; replays are idempotent.
func (q *Queue) Pending(ctx context.Context) ([]models.SyncQueueEntry, error) {
	const query = `SELECT seq, id, table_name, record_id, operation, data, status, attempts, last_error, created_at, updated_at
		FROM sync_queue WHERE status IN (?, ?, ?) ORDER BY seq`
	var entries []models.SyncQueueEntry
	if err := q.db.SelectContext(ctx, &entries, query,
		models.SyncEntryPending, models.SyncEntryProcessing, models.SyncEntryFailed); err != nil {
		return nil, fmt.Errorf("load pending sync entries: %w", err)
	}
	return entries, nil
}

// MarkProcessing flags an entry as in flight.
func (q *Queue) MarkProcessing(ctx context.Context, id string) error {
	return q.setStatus(ctx, id, models.SyncEntryProcessing, "")
}

// MarkFailed records a failed attempt; the entry stays queued and is
// retried on the next drain pass.
func (q *Queue) MarkFailed(ctx context.Context, id, cause string) error {
	const query = `UPDATE sync_queue SET status = ?, attempts = attempts + 1, last_error = ?, updated_at = ? WHERE id = ?`
	if _, err := q.db.ExecContext(ctx, query, models.SyncEntryFailed, cause, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("mark sync entry failed: %w", err)
	}
	return nil
}

// Remove drops a confirmed entry from the queue.
func (q *Queue) Remove(ctx context.Context, id string) error {
	if _, err := q.db.ExecContext(ctx, "DELETE FROM sync_queue WHERE id = ?", id); err != nil {
		return fmt.Errorf("remove sync entry: %w", err)
	}
	return nil
}

// Depth counts entries still awaiting reconciliation.
func (q *Queue) Depth(ctx context.Context) (int, error) {
	var depth int
	const query = `SELECT COUNT(*) FROM sync_queue WHERE status IN (?, ?, ?)`
	if err := q.db.GetContext(ctx, &depth, query,
		models.SyncEntryPending, models.SyncEntryProcessing, models.SyncEntryFailed); err != nil {
		return 0, fmt.Errorf("queue depth: %w", err)
	}
	return depth, nil
}

func (q *Queue) setStatus(ctx context.Context, id string, status models.SyncEntryStatus, cause string) error {
	const query = `UPDATE sync_queue SET status = ?, last_error = ?, updated_at = ? WHERE id = ?`
	if _, err := q.db.ExecContext(ctx, query, status, cause, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("set sync entry status: %w", err)
	}
	return nil
}
