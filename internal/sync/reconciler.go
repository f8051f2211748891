package sync

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-offline-core/internal/connectivity"
	"github.com/noah-isme/sma-offline-core/internal/localstore"
	"github.com/noah-isme/sma-offline-core/internal/models"
	"github.com/noah-isme/sma-offline-core/internal/remote"
)

// ReconcilerConfig tunes drain scheduling.
type ReconcilerConfig struct {
	Interval      time.Duration
	RemoteTimeout time.Duration
}

// Reconciler drives queue drains at the right times: on reconnect, on a
// periodic timer while online, and on demand after a batch of local
// mutations. Only one drain is in flight at a time; concurrent triggers
// are coalesced, not queued.
type Reconciler struct {
	queue   *Queue
	store   *localstore.Store
	remote  remote.Store
	conn    connectivity.Provider
	logger  *zap.Logger
	metrics *Metrics

	interval      time.Duration
	remoteTimeout time.Duration

	inFlight atomic.Bool
	kick     chan struct{}
}

// NewReconciler wires the reconciler. Metrics may be nil.
func NewReconciler(queue *Queue, store *localstore.Store, remoteStore remote.Store, conn connectivity.Provider, cfg ReconcilerConfig, metrics *Metrics, logger *zap.Logger) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.RemoteTimeout <= 0 {
		cfg.RemoteTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		queue:         queue,
		store:         store,
		remote:        remoteStore,
		conn:          conn,
		logger:        logger,
		metrics:       metrics,
		interval:      cfg.Interval,
		remoteTimeout: cfg.RemoteTimeout,
		kick:          make(chan struct{}, 1),
	}
}

// Kick requests an on-demand drain, e.g. after a bulk import. Non-blocking;
// requests made while a drain runs coalesce into at most one follow-up.
func (r *Reconciler) Kick() {
	select {
	case r.kick <- struct{}{}:
	default:
	}
}

// Run drains periodically and on offline-to-online transitions until ctx
// is cancelled. Pass the channel from connectivity.Monitor.Subscribe, or
// nil to rely on the timer and Kick alone.
func (r *Reconciler) Run(ctx context.Context, reconnect <-chan struct{}) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-reconnect:
		case <-r.kick:
		}
		if _, err := r.Drain(ctx); err != nil {
			r.logger.Warn("drain failed", zap.Error(err))
		}
	}
}

// Drain processes the queue in FIFO order until it is empty or every
// remaining entry has failed in this pass. Each entry is attempted once
// per invocation; per-entry failures never block later entries for other
// records. Returns Skipped when another drain holds the flight lock.
func (r *Reconciler) Drain(ctx context.Context) (models.SyncResult, error) {
	if !r.inFlight.CompareAndSwap(false, true) {
		if r.metrics != nil {
			r.metrics.drainsSkipped.Inc()
		}
		return models.SyncResult{Skipped: true}, nil
	}
	defer r.inFlight.Store(false)

	if !r.conn.Online() {
		return models.SyncResult{}, nil
	}

	entries, err := r.queue.Pending(ctx)
	if err != nil {
		return models.SyncResult{}, err
	}

	var result models.SyncResult
	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		if err := r.apply(ctx, entry); err != nil {
			result.Failed++
			if r.metrics != nil {
				r.metrics.entriesFailed.Inc()
			}
			r.logger.Warn("sync entry failed",
				zap.String("entry_id", entry.ID),
				zap.String("table", entry.TableName),
				zap.String("record_id", entry.RecordID),
				zap.String("operation", string(entry.Operation)),
				zap.Error(err))
			if markErr := r.queue.MarkFailed(ctx, entry.ID, err.Error()); markErr != nil {
				r.logger.Error("mark failed", zap.String("entry_id", entry.ID), zap.Error(markErr))
			}
			continue
		}
		result.Completed++
		if r.metrics != nil {
			r.metrics.entriesCompleted.Inc()
		}
	}

	if r.metrics != nil {
		r.metrics.drainsTotal.Inc()
		if depth, err := r.queue.Depth(ctx); err == nil {
			r.metrics.queueDepth.Set(float64(depth))
		}
	}

	r.logger.Info("drain complete",
		zap.Int("completed", result.Completed),
		zap.Int("failed", result.Failed))
	return result, nil
}

// apply replays a single entry against the remote store and flips the
// local record to synced on success.
func (r *Reconciler) apply(ctx context.Context, entry models.SyncQueueEntry) error {
	if err := r.queue.MarkProcessing(ctx, entry.ID); err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, r.remoteTimeout)
	defer cancel()

	switch entry.Operation {
	case models.SyncOpDelete:
		if err := r.remote.Delete(callCtx, entry.TableName, entry.RecordID); err != nil {
			return err
		}
	case models.SyncOpCreate, models.SyncOpUpdate:
		// The snapshot must still decode as its collection's record;
		// a corrupted payload fails here instead of reaching the remote.
		if _, err := models.DecodeQueuePayload(entry.TableName, entry.Data); err != nil {
			return err
		}
		rec, err := recordFromSnapshot(entry)
		if err != nil {
			return err
		}
		if entry.Operation == models.SyncOpCreate {
			err = r.remote.Insert(callCtx, entry.TableName, rec)
		} else {
			err = r.remote.Update(callCtx, entry.TableName, rec)
		}
		if err != nil {
			return err
		}
		if err := r.store.SetSyncStatus(ctx, entry.TableName, entry.RecordID, models.SyncStatusSynced); err != nil {
			// The remote write landed; losing the local flag only means
			// the record reads pending until the next confirmation.
			r.logger.Warn("record synced remotely but local status update failed",
				zap.String("table", entry.TableName), zap.String("record_id", entry.RecordID), zap.Error(err))
		}
	default:
		return &unknownOperationError{op: entry.Operation}
	}

	return r.queue.Remove(ctx, entry.ID)
}

type unknownOperationError struct {
	op models.SyncOperation
}

func (e *unknownOperationError) Error() string {
	return "unknown sync operation " + string(e.op)
}

// recordFromSnapshot builds the canonical remote payload from a queue
// entry. Both write paths (immediate and drained) produce this same shape.
func recordFromSnapshot(entry models.SyncQueueEntry) (remote.Record, error) {
	var meta struct {
		SchoolID  string    `json:"school_id"`
		CreatedAt time.Time `json:"created_at"`
		UpdatedAt time.Time `json:"updated_at"`
	}
	if err := json.Unmarshal(entry.Data, &meta); err != nil {
		return remote.Record{}, err
	}
	return remote.Record{
		ID:        entry.RecordID,
		SchoolID:  meta.SchoolID,
		Data:      entry.Data,
		CreatedAt: meta.CreatedAt,
		UpdatedAt: meta.UpdatedAt,
	}, nil
}
