// Package service implements the per-entity read/write APIs that follow
// the local-first read, write-through-queue pattern: every read starts
// from the local store, every mutation lands locally and in the sync
// queue before any network is attempted, and remote calls are best-effort
// optimizations that can fail without the caller noticing.
package service

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-offline-core/internal/connectivity"
	"github.com/noah-isme/sma-offline-core/internal/localstore"
	"github.com/noah-isme/sma-offline-core/internal/models"
	"github.com/noah-isme/sma-offline-core/internal/remote"
	appErrors "github.com/noah-isme/sma-offline-core/pkg/errors"
)

// recordStore is the slice of the local store the services consume.
type recordStore interface {
	Get(ctx context.Context, collection, id string) (*localstore.Envelope, error)
	GetAllByIndex(ctx context.Context, collection, index, value string) ([]localstore.Envelope, error)
	Put(ctx context.Context, env localstore.Envelope) error
	Delete(ctx context.Context, collection, id string) error
	SetSyncStatus(ctx context.Context, collection, id string, status models.SyncStatus) error
	ClearAll(ctx context.Context) error
}

// mutationQueue is the slice of the sync queue the services consume.
type mutationQueue interface {
	Enqueue(ctx context.Context, table, recordID string, op models.SyncOperation, payload any) (*models.SyncQueueEntry, error)
	Remove(ctx context.Context, id string) error
}

// base carries the dependencies every entity service shares.
type base struct {
	store         recordStore
	queue         mutationQueue
	remote        remote.Store
	conn          connectivity.Provider
	logger        *zap.Logger
	remoteTimeout time.Duration
}

func newBase(store recordStore, queue mutationQueue, remoteStore remote.Store, conn connectivity.Provider, logger *zap.Logger) base {
	if logger == nil {
		logger = zap.NewNop()
	}
	return base{
		store:         store,
		queue:         queue,
		remote:        remoteStore,
		conn:          conn,
		logger:        logger,
		remoteTimeout: 5 * time.Second,
	}
}

// remoteCtx bounds opportunistic remote calls so a slow network never
// blocks the local-first path.
func (b *base) remoteCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, b.remoteTimeout)
}

// writeThrough persists the record locally, enqueues the mutation, and
// attempts an immediate remote write when online. Returns whether the
// record ended up synced. The local write and the queue entry are
// mandatory and land together or not at all; the remote call is a
// best-effort optimization, since the queue guarantees eventual
// consistency if it is skipped or fails.
func (b *base) writeThrough(ctx context.Context, table string, env localstore.Envelope, op models.SyncOperation) (bool, error) {
	prev, err := b.store.Get(ctx, table, env.ID)
	if err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "load prior record")
	}
	if err := b.store.Put(ctx, env); err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "persist local record")
	}
	entry, err := b.queue.Enqueue(ctx, table, env.ID, op, json.RawMessage(env.Data))
	if err != nil {
		// Without a queue entry the mutation can never reach the remote
		// store; this is the one failure the caller must see. Undo the
		// local write so no unsyncable record lingers.
		b.revertLocal(ctx, table, env.ID, prev)
		return false, err
	}

	if !b.conn.Online() {
		return false, nil
	}

	rctx, cancel := b.remoteCtx(ctx)
	defer cancel()
	rec := remote.Record{
		ID:        env.ID,
		SchoolID:  env.SchoolID,
		Data:      env.Data,
		CreatedAt: env.CreatedAt,
		UpdatedAt: env.UpdatedAt,
	}
	var remoteErr error
	if op == models.SyncOpCreate {
		remoteErr = b.remote.Insert(rctx, table, rec)
	} else {
		remoteErr = b.remote.Update(rctx, table, rec)
	}
	if remoteErr != nil {
		b.logger.Debug("immediate remote write failed, queued entry will reconcile",
			zap.String("table", table), zap.String("id", env.ID), zap.Error(remoteErr))
		return false, nil
	}

	if err := b.store.SetSyncStatus(ctx, table, env.ID, models.SyncStatusSynced); err != nil {
		b.logger.Warn("local status update failed after remote write",
			zap.String("table", table), zap.String("id", env.ID), zap.Error(err))
	}
	if err := b.queue.Remove(ctx, entry.ID); err != nil {
		b.logger.Warn("queue entry removal failed after remote write, replay is idempotent",
			zap.String("entry_id", entry.ID), zap.Error(err))
	}
	return true, nil
}

// deleteThrough removes the record locally, enqueues the delete, and
// attempts the remote delete when online.
func (b *base) deleteThrough(ctx context.Context, table, id string, snapshot []byte) error {
	prev, err := b.store.Get(ctx, table, id)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "load prior record")
	}
	if err := b.store.Delete(ctx, table, id); err != nil {
		return err
	}
	entry, err := b.queue.Enqueue(ctx, table, id, models.SyncOpDelete, json.RawMessage(snapshot))
	if err != nil {
		b.revertLocal(ctx, table, id, prev)
		return err
	}

	if !b.conn.Online() {
		return nil
	}

	rctx, cancel := b.remoteCtx(ctx)
	defer cancel()
	if err := b.remote.Delete(rctx, table, id); err != nil {
		b.logger.Debug("immediate remote delete failed, queued entry will reconcile",
			zap.String("table", table), zap.String("id", id), zap.Error(err))
		return nil
	}
	if err := b.queue.Remove(ctx, entry.ID); err != nil {
		b.logger.Warn("queue entry removal failed after remote delete, replay is idempotent",
			zap.String("entry_id", entry.ID), zap.Error(err))
	}
	return nil
}

// revertLocal restores the record to its pre-mutation state after a
// failed enqueue: the prior envelope if one existed, nothing otherwise.
func (b *base) revertLocal(ctx context.Context, table, id string, prev *localstore.Envelope) {
	var err error
	if prev != nil {
		err = b.store.Put(ctx, *prev)
	} else {
		err = b.store.Delete(ctx, table, id)
	}
	if err != nil {
		b.logger.Warn("local rollback after enqueue failure did not apply",
			zap.String("table", table), zap.String("id", id), zap.Error(err))
	}
}

// refreshLocal writes a remote result back into the local store with
// synced status.
func (b *base) refreshLocal(ctx context.Context, env localstore.Envelope) {
	env.SyncStatus = models.SyncStatusSynced
	if err := b.store.Put(ctx, env); err != nil {
		b.logger.Warn("local refresh write failed",
			zap.String("collection", env.Collection), zap.String("id", env.ID), zap.Error(err))
	}
}

// nowUTC is the single clock used for record timestamps.
func nowUTC() time.Time {
	return time.Now().UTC()
}
