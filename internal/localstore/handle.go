package localstore

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-offline-core/pkg/config"
	"github.com/noah-isme/sma-offline-core/pkg/database"
)

// The process shares one local database connection. Callers acquire the
// handle explicitly instead of reaching into package state, and the pool
// closes when the last holder releases it.
var handle struct {
	mu    sync.Mutex
	store *Store
	path  string
	refs  int
}

// Acquire opens (or joins) the shared local store. Idempotent: repeated
// calls with the same path return the same handle with an incremented
// reference count. Each Acquire must be paired with one Release.
func Acquire(cfg config.LocalStoreConfig, logger *zap.Logger) (*Store, error) {
	handle.mu.Lock()
	defer handle.mu.Unlock()

	if handle.store != nil {
		if handle.path != cfg.Path {
			return nil, fmt.Errorf("local store already open at %s", handle.path)
		}
		handle.refs++
		return handle.store, nil
	}

	db, err := database.NewSQLite(cfg)
	if err != nil {
		return nil, err
	}
	store, err := newStore(db, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	handle.store = store
	handle.path = cfg.Path
	handle.refs = 1
	return store, nil
}

// Release drops one reference; the underlying pool closes when the count
// reaches zero.
func (s *Store) Release() error {
	handle.mu.Lock()
	defer handle.mu.Unlock()

	if handle.store != s || handle.refs == 0 {
		return nil
	}
	handle.refs--
	if handle.refs > 0 {
		return nil
	}
	err := s.db.Close()
	handle.store = nil
	handle.path = ""
	return err
}

// OpenAt builds an unshared store for tests that need isolated databases.
func OpenAt(cfg config.LocalStoreConfig, logger *zap.Logger) (*Store, error) {
	db, err := database.NewSQLite(cfg)
	if err != nil {
		return nil, err
	}
	store, err := newStore(db, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close shuts down an unshared store built with OpenAt.
func (s *Store) Close() error {
	return s.db.Close()
}
