package sync

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-offline-core/internal/connectivity"
	"github.com/noah-isme/sma-offline-core/internal/localstore"
	"github.com/noah-isme/sma-offline-core/internal/models"
	"github.com/noah-isme/sma-offline-core/internal/remote"
	"github.com/noah-isme/sma-offline-core/internal/remotetest"
)

func remoteRecord(id, schoolID string, data []byte) remote.Record {
	now := time.Now().UTC()
	return remote.Record{ID: id, SchoolID: schoolID, Data: data, CreatedAt: now, UpdatedAt: now}
}

type fixture struct {
	store      *localstore.Store
	queue      *Queue
	remote     *remotetest.Memory
	conn       *connectivity.Monitor
	reconciler *Reconciler
}

func newFixture(t *testing.T, online bool) *fixture {
	t.Helper()
	store := openTestStore(t)
	queue := NewQueue(store, nil)
	mem := remotetest.NewMemory()
	conn := connectivity.NewMonitor(online)
	rec := NewReconciler(queue, store, mem, conn, ReconcilerConfig{
		Interval:      time.Minute,
		RemoteTimeout: time.Second,
	}, nil, nil)
	return &fixture{store: store, queue: queue, remote: mem, conn: conn, reconciler: rec}
}

func (f *fixture) enqueueStudent(t *testing.T, id string, op models.SyncOperation) models.Student {
	t.Helper()
	now := time.Now().UTC()
	student := models.Student{
		ID:         id,
		SchoolID:   "school-1",
		FullName:   "Student " + id,
		ClassName:  "JSS1",
		Active:     true,
		CreatedAt:  now,
		UpdatedAt:  now,
		SyncStatus: models.SyncStatusPending,
	}
	data, err := json.Marshal(student)
	require.NoError(t, err)
	require.NoError(t, f.store.Put(context.Background(), localstore.Envelope{
		Collection: models.CollectionStudents,
		ID:         id,
		SchoolID:   student.SchoolID,
		SyncStatus: models.SyncStatusPending,
		Data:       data,
		CreatedAt:  now,
		UpdatedAt:  now,
	}))
	_, err = f.queue.Enqueue(context.Background(), models.CollectionStudents, id, op, student)
	require.NoError(t, err)
	return student
}

func TestDrainOfflineIsNoOp(t *testing.T) {
	f := newFixture(t, false)
	f.enqueueStudent(t, "s1", models.SyncOpCreate)

	result, err := f.reconciler.Drain(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.Completed)
	assert.Zero(t, result.Failed)
	assert.Empty(t, f.remote.Calls())

	depth, err := f.queue.Depth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, depth)
}

func TestDrainReplaysInFIFOOrderAcrossTables(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	f.enqueueStudent(t, "s1", models.SyncOpCreate)
	now := time.Now().UTC()
	fee := models.Fee{ID: "f1", SchoolID: "school-1", StudentID: "s1", Amount: 100, Balance: 100,
		Status: models.FeeStatusPending, CreatedAt: now, UpdatedAt: now}
	_, err := f.queue.Enqueue(ctx, models.CollectionFees, "f1", models.SyncOpCreate, fee)
	require.NoError(t, err)

	result, err := f.reconciler.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Completed)
	assert.Zero(t, result.Failed)

	calls := f.remote.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "insert:students:s1", calls[0])
	assert.Equal(t, "insert:fees:f1", calls[1])

	depth, err := f.queue.Depth(ctx)
	require.NoError(t, err)
	assert.Zero(t, depth)
}

func TestDrainFlipsLocalRecordToSynced(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	f.enqueueStudent(t, "s1", models.SyncOpCreate)

	_, err := f.reconciler.Drain(ctx)
	require.NoError(t, err)

	env, err := f.store.Get(ctx, models.CollectionStudents, "s1")
	require.NoError(t, err)
	require.NotNil(t, env)
	assert.Equal(t, models.SyncStatusSynced, env.SyncStatus)
}

func TestDrainIsolatesEntryFailures(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	f.enqueueStudent(t, "s1", models.SyncOpCreate)
	f.enqueueStudent(t, "s2", models.SyncOpCreate)
	f.remote.FailNext("insert", models.CollectionStudents, 1)

	result, err := f.reconciler.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Completed)
	assert.Equal(t, 1, result.Failed)

	// s1 failed and stays queued; s2 went through.
	_, ok := f.remote.Get(models.CollectionStudents, "s2")
	assert.True(t, ok)
	_, ok = f.remote.Get(models.CollectionStudents, "s1")
	assert.False(t, ok)

	pending, err := f.queue.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "s1", pending[0].RecordID)
	assert.Equal(t, models.SyncEntryFailed, pending[0].Status)
	assert.Equal(t, 1, pending[0].Attempts)
}

func TestDrainRetriesFailedEntriesNextPass(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	f.enqueueStudent(t, "s1", models.SyncOpCreate)
	f.remote.FailNext("insert", models.CollectionStudents, 1)

	first, err := f.reconciler.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Failed)

	second, err := f.reconciler.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, second.Completed)
	assert.Zero(t, second.Failed)

	_, ok := f.remote.Get(models.CollectionStudents, "s1")
	assert.True(t, ok)
	depth, err := f.queue.Depth(ctx)
	require.NoError(t, err)
	assert.Zero(t, depth)
}

func TestDrainReplayIsIdempotent(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	student := f.enqueueStudent(t, "s1", models.SyncOpCreate)
	// Simulate a crash after the remote write but before the queue entry
	// was removed: the record already exists remotely.
	data, _ := json.Marshal(student)
	f.remote.Seed(models.CollectionStudents, remoteRecord("s1", "school-1", data))

	result, err := f.reconciler.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Completed)
	assert.Equal(t, 1, f.remote.Count(models.CollectionStudents))
}

func TestDrainAppliesDeletes(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	data := []byte(`{"id":"s1","school_id":"school-1"}`)
	f.remote.Seed(models.CollectionStudents, remoteRecord("s1", "school-1", data))
	_, err := f.queue.Enqueue(ctx, models.CollectionStudents, "s1", models.SyncOpDelete, json.RawMessage(data))
	require.NoError(t, err)

	result, err := f.reconciler.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Completed)
	assert.Zero(t, f.remote.Count(models.CollectionStudents))
}

func TestDrainRejectsCorruptPayloads(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	_, err := f.queue.Enqueue(ctx, models.CollectionStudents, "s1", models.SyncOpCreate, json.RawMessage(`"not an object"`))
	require.NoError(t, err)

	result, err := f.reconciler.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	// The corrupted entry never reached the remote store.
	assert.Empty(t, f.remote.Calls())
}

func TestDrainCoalescesConcurrentTriggers(t *testing.T) {
	f := newFixture(t, true)

	f.reconciler.inFlight.Store(true)
	result, err := f.reconciler.Drain(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Skipped)
	f.reconciler.inFlight.Store(false)
}

func TestRunDrainsOnReconnect(t *testing.T) {
	f := newFixture(t, false)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f.enqueueStudent(t, "s1", models.SyncOpCreate)

	reconnect := f.conn.Subscribe()
	done := make(chan struct{})
	go func() {
		f.reconciler.Run(ctx, reconnect)
		close(done)
	}()

	f.conn.SetOnline(true)

	require.Eventually(t, func() bool {
		depth, err := f.queue.Depth(context.Background())
		return err == nil && depth == 0
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done

	_, ok := f.remote.Get(models.CollectionStudents, "s1")
	assert.True(t, ok)
}

func TestKickTriggersDrain(t *testing.T) {
	f := newFixture(t, true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f.enqueueStudent(t, "s1", models.SyncOpCreate)

	go f.reconciler.Run(ctx, nil)
	f.reconciler.Kick()

	require.Eventually(t, func() bool {
		depth, err := f.queue.Depth(context.Background())
		return err == nil && depth == 0
	}, 2*time.Second, 10*time.Millisecond)
}
