package remote_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-offline-core/internal/remote"
	"github.com/noah-isme/sma-offline-core/internal/remotetest"
)

func newHTTPFixture(t *testing.T) (*remote.HTTPStore, *remotetest.Memory) {
	t.Helper()
	srv := remotetest.NewServer(nil)
	t.Cleanup(srv.Close)
	return remote.NewHTTPStore(srv.URL, "test-key", 5*time.Second, nil), srv.Store
}

func seeded(id, schoolID string, data string) remote.Record {
	now := time.Now().UTC()
	return remote.Record{ID: id, SchoolID: schoolID, Data: []byte(data), CreatedAt: now, UpdatedAt: now}
}

func TestHTTPInsertAndSelect(t *testing.T) {
	store, _ := newHTTPFixture(t)
	ctx := context.Background()

	err := store.Insert(ctx, "students", seeded("s1", "school-1", `{"id":"s1","full_name":"Ada"}`))
	require.NoError(t, err)

	records, err := store.Select(ctx, "students", "school-1", remote.Filter{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "s1", records[0].ID)

	// Scoped by school: a different tenant sees nothing.
	other, err := store.Select(ctx, "students", "school-2", remote.Filter{})
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestHTTPSelectFilters(t *testing.T) {
	store, mem := newHTTPFixture(t)
	ctx := context.Background()

	mem.Seed("students", seeded("s1", "school-1", `{"id":"s1","full_name":"Ada Lovelace","class_name":"JSS1"}`))
	mem.Seed("students", seeded("s2", "school-1", `{"id":"s2","full_name":"Grace Hopper","class_name":"JSS2"}`))

	byClass, err := store.Select(ctx, "students", "school-1", remote.Filter{
		Eq: map[string]string{"class_name": "JSS1"},
	})
	require.NoError(t, err)
	require.Len(t, byClass, 1)
	assert.Equal(t, "s1", byClass[0].ID)

	bySearch, err := store.Select(ctx, "students", "school-1", remote.Filter{
		Search:       "hopper",
		SearchFields: []string{"full_name"},
	})
	require.NoError(t, err)
	require.Len(t, bySearch, 1)
	assert.Equal(t, "s2", bySearch[0].ID)
}

func TestHTTPInsertIsUpsert(t *testing.T) {
	store, mem := newHTTPFixture(t)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, "students", seeded("s1", "school-1", `{"id":"s1","full_name":"Ada"}`)))
	require.NoError(t, store.Insert(ctx, "students", seeded("s1", "school-1", `{"id":"s1","full_name":"Ada Lovelace"}`)))

	assert.Equal(t, 1, mem.Count("students"))
	rec, ok := mem.Get("students", "s1")
	require.True(t, ok)
	assert.Contains(t, string(rec.Data), "Lovelace")
}

func TestHTTPUpdate(t *testing.T) {
	store, mem := newHTTPFixture(t)
	ctx := context.Background()

	mem.Seed("students", seeded("s1", "school-1", `{"id":"s1","full_name":"Ada"}`))
	require.NoError(t, store.Update(ctx, "students", seeded("s1", "school-1", `{"id":"s1","full_name":"Ada L"}`)))

	rec, ok := mem.Get("students", "s1")
	require.True(t, ok)
	assert.Contains(t, string(rec.Data), "Ada L")
}

func TestHTTPDeleteToleratesMissing(t *testing.T) {
	store, mem := newHTTPFixture(t)
	ctx := context.Background()

	mem.Seed("students", seeded("s1", "school-1", `{"id":"s1"}`))
	require.NoError(t, store.Delete(ctx, "students", "s1"))
	assert.Zero(t, mem.Count("students"))

	// The server answers 404 for the second delete; the client treats it
	// as success so replays stay idempotent.
	require.NoError(t, store.Delete(ctx, "students", "s1"))
}

func TestHTTPRejectsUnknownTables(t *testing.T) {
	store, _ := newHTTPFixture(t)
	ctx := context.Background()

	_, err := store.Select(ctx, "secrets", "school-1", remote.Filter{})
	assert.Error(t, err)
	assert.Error(t, store.Insert(ctx, "secrets", seeded("x", "school-1", `{}`)))
}
