// Package remotetest provides test doubles for the remote store contract:
// an in-memory implementation with failure injection, and an HTTP server
// speaking the sync gateway's REST dialect for exercising the HTTP client.
package remotetest

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/noah-isme/sma-offline-core/internal/remote"
)

// Memory is an in-memory remote.Store. Safe for concurrent use.
type Memory struct {
	mu      sync.Mutex
	tables  map[string]map[string]remote.Record
	fail    map[string]int
	callLog []string
}

// NewMemory returns an empty in-memory remote store.
func NewMemory() *Memory {
	return &Memory{
		tables: make(map[string]map[string]remote.Record),
		fail:   make(map[string]int),
	}
}

// FailNext makes the next n calls of op ("insert", "update", "delete",
// "select") on table return an error.
func (m *Memory) FailNext(op, table string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail[op+":"+table] = n
}

// Calls returns the op:table:id log in invocation order, which lets tests
// assert FIFO replay across tables.
func (m *Memory) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.callLog))
	copy(out, m.callLog)
	return out
}

// Get returns a stored record directly, bypassing the Store contract.
func (m *Memory) Get(table, id string) (remote.Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.tables[table][id]
	return rec, ok
}

// Count returns the number of records in a table.
func (m *Memory) Count(table string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tables[table])
}

// Seed places a record without going through the contract.
func (m *Memory) Seed(table string, rec remote.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tables[table] == nil {
		m.tables[table] = make(map[string]remote.Record)
	}
	m.tables[table][rec.ID] = rec
}

func (m *Memory) shouldFail(op, table string) bool {
	key := op + ":" + table
	if m.fail[key] > 0 {
		m.fail[key]--
		return true
	}
	return false
}

// Select implements remote.Store.
func (m *Memory) Select(ctx context.Context, table, schoolID string, filter remote.Filter) ([]remote.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callLog = append(m.callLog, "select:"+table)
	if m.shouldFail("select", table) {
		return nil, fmt.Errorf("injected select failure on %s", table)
	}

	var out []remote.Record
	for _, rec := range m.tables[table] {
		if rec.SchoolID != schoolID {
			continue
		}
		if matches(rec, filter) {
			out = append(out, rec)
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

// Insert implements remote.Store as an upsert.
func (m *Memory) Insert(ctx context.Context, table string, rec remote.Record) error {
	return m.upsert("insert", table, rec)
}

// Update implements remote.Store as an upsert.
func (m *Memory) Update(ctx context.Context, table string, rec remote.Record) error {
	return m.upsert("update", table, rec)
}

func (m *Memory) upsert(op, table string, rec remote.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callLog = append(m.callLog, op+":"+table+":"+rec.ID)
	if m.shouldFail(op, table) {
		return fmt.Errorf("injected %s failure on %s", op, table)
	}
	if m.tables[table] == nil {
		m.tables[table] = make(map[string]remote.Record)
	}
	m.tables[table][rec.ID] = rec
	return nil
}

// Delete implements remote.Store; deleting a missing id succeeds.
func (m *Memory) Delete(ctx context.Context, table, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callLog = append(m.callLog, "delete:"+table+":"+id)
	if m.shouldFail("delete", table) {
		return fmt.Errorf("injected delete failure on %s", table)
	}
	delete(m.tables[table], id)
	return nil
}

// matches mirrors the filter semantics the real backends implement.
func matches(rec remote.Record, filter remote.Filter) bool {
	var fields map[string]json.RawMessage
	if len(filter.Eq) > 0 || filter.Search != "" || filter.DateField != "" {
		if err := json.Unmarshal(rec.Data, &fields); err != nil {
			return false
		}
	}

	str := func(name string) string {
		raw, ok := fields[name]
		if !ok {
			return ""
		}
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return strings.Trim(string(raw), `"`)
		}
		return s
	}

	for field, want := range filter.Eq {
		if str(field) != want {
			return false
		}
	}
	if filter.Search != "" {
		needle := strings.ToLower(filter.Search)
		found := false
		for _, field := range filter.SearchFields {
			if strings.Contains(strings.ToLower(str(field)), needle) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if filter.DateField != "" {
		day := str(filter.DateField)
		if filter.From != "" && day < filter.From {
			return false
		}
		if filter.To != "" && day > filter.To {
			return false
		}
	}
	return true
}
