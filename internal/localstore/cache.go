package localstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PutCache stores an arbitrary query result under key until ttl elapses.
// The cache is durable so it survives offline restarts.
func (s *Store) PutCache(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	expires := time.Now().UTC().Add(ttl)
	const query = `INSERT INTO cache_entries (key, payload, expires_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET payload = excluded.payload, expires_at = excluded.expires_at`
	if _, err := s.db.ExecContext(ctx, query, key, payload, expires); err != nil {
		return fmt.Errorf("cache put %s: %w", key, err)
	}
	return nil
}

// GetCache returns the cached payload, or ok=false when missing or expired.
func (s *Store) GetCache(ctx context.Context, key string) ([]byte, bool, error) {
	var row struct {
		Payload   []byte    `db:"payload"`
		ExpiresAt time.Time `db:"expires_at"`
	}
	err := s.db.GetContext(ctx, &row, "SELECT payload, expires_at FROM cache_entries WHERE key = ?", key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("cache get %s: %w", key, err)
	}
	if time.Now().UTC().After(row.ExpiresAt) {
		return nil, false, nil
	}
	return row.Payload, true, nil
}

// PurgeExpiredCache removes entries past their expiry.
func (s *Store) PurgeExpiredCache(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM cache_entries WHERE expires_at < ?", time.Now().UTC()); err != nil {
		return fmt.Errorf("cache purge: %w", err)
	}
	return nil
}
