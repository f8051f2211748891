package service

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/sma-offline-core/internal/localstore"
	"github.com/noah-isme/sma-offline-core/internal/models"
	"github.com/noah-isme/sma-offline-core/internal/remote"
	appErrors "github.com/noah-isme/sma-offline-core/pkg/errors"
)

// remoteRecord builds a seeded remote record for fallback tests.
func remoteRecord(id, schoolID string, data []byte) remote.Record {
	now := time.Now().UTC()
	return remote.Record{ID: id, SchoolID: schoolID, Data: data, CreatedAt: now, UpdatedAt: now}
}

// remoteStudent builds a seeded remote student for list/get fallback tests.
func remoteStudent(id, schoolID, name string) remote.Record {
	now := time.Now().UTC()
	data, _ := json.Marshal(models.Student{
		ID:         id,
		SchoolID:   schoolID,
		FullName:   name,
		ClassName:  "JSS1",
		Active:     true,
		CreatedAt:  now,
		UpdatedAt:  now,
		SyncStatus: models.SyncStatusSynced,
	})
	return remote.Record{ID: id, SchoolID: schoolID, Data: data, CreatedAt: now, UpdatedAt: now}
}

// fakeStore is an in-memory recordStore mirroring the real store's
// contract: nil on miss, NotFound on deleting a missing record, index
// lookups over the envelope's identity columns.
type fakeStore struct {
	mu      sync.Mutex
	records map[string]map[string]localstore.Envelope
	failPut bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[string]map[string]localstore.Envelope)}
}

func (f *fakeStore) Get(ctx context.Context, collection, id string) (*localstore.Envelope, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	env, ok := f.records[collection][id]
	if !ok {
		return nil, nil
	}
	return &env, nil
}

func (f *fakeStore) GetAllByIndex(ctx context.Context, collection, index, value string) ([]localstore.Envelope, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []localstore.Envelope
	for _, env := range f.records[collection] {
		var key string
		switch index {
		case models.IndexBySchool:
			key = env.SchoolID
		case models.IndexByStudent:
			key = env.StudentID
		case models.IndexByParent:
			key = env.ParentID
		case models.IndexByFee:
			key = env.FeeID
		}
		if key == value {
			out = append(out, env)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (f *fakeStore) Put(ctx context.Context, env localstore.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPut {
		return appErrors.Clone(appErrors.ErrInternal, "injected put failure")
	}
	if f.records[env.Collection] == nil {
		f.records[env.Collection] = make(map[string]localstore.Envelope)
	}
	f.records[env.Collection][env.ID] = env
	return nil
}

func (f *fakeStore) Delete(ctx context.Context, collection, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.records[collection][id]; !ok {
		return appErrors.Clone(appErrors.ErrNotFound, collection+" record not found")
	}
	delete(f.records[collection], id)
	return nil
}

func (f *fakeStore) SetSyncStatus(ctx context.Context, collection, id string, status models.SyncStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	env, ok := f.records[collection][id]
	if !ok {
		return nil
	}
	env.SyncStatus = status
	var snapshot map[string]any
	if json.Unmarshal(env.Data, &snapshot) == nil {
		snapshot["sync_status"] = string(status)
		if data, err := json.Marshal(snapshot); err == nil {
			env.Data = data
		}
	}
	f.records[collection][id] = env
	return nil
}

func (f *fakeStore) ClearAll(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = make(map[string]map[string]localstore.Envelope)
	return nil
}

func (f *fakeStore) count(collection string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records[collection])
}

// fakeQueue is an in-memory mutationQueue that records enqueued entries
// and removals.
type fakeQueue struct {
	mu          sync.Mutex
	entries     []models.SyncQueueEntry
	removed     []string
	failEnqueue bool
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{}
}

func (f *fakeQueue) Enqueue(ctx context.Context, table, recordID string, op models.SyncOperation, payload any) (*models.SyncQueueEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failEnqueue {
		return nil, appErrors.Clone(appErrors.ErrQueueWrite, "injected queue failure")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrQueueWrite, "encode payload")
	}
	entry := models.SyncQueueEntry{
		Seq:       int64(len(f.entries) + 1),
		ID:        uuid.NewString(),
		TableName: table,
		RecordID:  recordID,
		Operation: op,
		Data:      data,
		Status:    models.SyncEntryPending,
	}
	f.entries = append(f.entries, entry)
	return &entry, nil
}

func (f *fakeQueue) Remove(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, entry := range f.entries {
		if entry.ID == id {
			f.entries = append(f.entries[:i], f.entries[i+1:]...)
			break
		}
	}
	f.removed = append(f.removed, id)
	return nil
}

func (f *fakeQueue) depth() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

func (f *fakeQueue) last() *models.SyncQueueEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.entries) == 0 {
		return nil
	}
	entry := f.entries[len(f.entries)-1]
	return &entry
}
