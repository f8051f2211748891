package remote

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

// PostgresStore implements Store against the remote relational backend
// directly. Each synced collection is a table of the shape
// (id text primary key, school_id text, data jsonb, created_at, updated_at).
type PostgresStore struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewPostgresStore constructs the Postgres-backed remote store.
func NewPostgresStore(db *sqlx.DB, logger *zap.Logger) *PostgresStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresStore{db: db, logger: logger}
}

// Select returns records for one school matching the filter.
func (s *PostgresStore) Select(ctx context.Context, table, schoolID string, filter Filter) ([]Record, error) {
	if !ValidTable(table) {
		return nil, fmt.Errorf("select: unknown table %q", table)
	}

	conditions := []string{"school_id = $1"}
	args := []interface{}{schoolID}

	for field, value := range filter.Eq {
		conditions = append(conditions, fmt.Sprintf("data->>%s = $%d", pq.QuoteLiteral(field), len(args)+1))
		args = append(args, value)
	}
	if filter.Search != "" && len(filter.SearchFields) > 0 {
		var ors []string
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
		idx := len(args)
		for _, field := range filter.SearchFields {
			ors = append(ors, fmt.Sprintf("LOWER(data->>%s) LIKE $%d", pq.QuoteLiteral(field), idx))
		}
		conditions = append(conditions, "("+strings.Join(ors, " OR ")+")")
	}
	if filter.DateField != "" {
		if filter.From != "" {
			conditions = append(conditions, fmt.Sprintf("data->>%s >= $%d", pq.QuoteLiteral(filter.DateField), len(args)+1))
			args = append(args, filter.From)
		}
		if filter.To != "" {
			conditions = append(conditions, fmt.Sprintf("data->>%s <= $%d", pq.QuoteLiteral(filter.DateField), len(args)+1))
			args = append(args, filter.To)
		}
	}

	query := fmt.Sprintf("SELECT id, school_id, data, created_at, updated_at FROM %s WHERE %s ORDER BY created_at, id",
		pq.QuoteIdentifier(table), strings.Join(conditions, " AND "))

	var records []Record
	if err := s.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, fmt.Errorf("select %s: %w", table, err)
	}
	return records, nil
}

// Insert upserts on the client-supplied id so a replayed create of an
// already-existing record succeeds.
func (s *PostgresStore) Insert(ctx context.Context, table string, rec Record) error {
	return s.upsert(ctx, table, rec)
}

// Update shares the upsert path: with stable client ids the distinction
// between create and update collapses remotely.
func (s *PostgresStore) Update(ctx context.Context, table string, rec Record) error {
	return s.upsert(ctx, table, rec)
}

func (s *PostgresStore) upsert(ctx context.Context, table string, rec Record) error {
	if !ValidTable(table) {
		return fmt.Errorf("upsert: unknown table %q", table)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	rec.UpdatedAt = time.Now().UTC()
	query := fmt.Sprintf(`INSERT INTO %s (id, school_id, data, created_at, updated_at)
		VALUES (:id, :school_id, :data, :created_at, :updated_at)
		ON CONFLICT (id) DO UPDATE SET school_id = excluded.school_id, data = excluded.data, updated_at = excluded.updated_at`,
		pq.QuoteIdentifier(table))
	if _, err := s.db.NamedExecContext(ctx, query, rec); err != nil {
		return fmt.Errorf("upsert %s/%s: %w", table, rec.ID, err)
	}
	return nil
}

// Delete removes a record; deleting an id that is already gone succeeds.
func (s *PostgresStore) Delete(ctx context.Context, table, id string) error {
	if !ValidTable(table) {
		return fmt.Errorf("delete: unknown table %q", table)
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE id = $1", pq.QuoteIdentifier(table))
	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete %s/%s: %w", table, id, err)
	}
	return nil
}
