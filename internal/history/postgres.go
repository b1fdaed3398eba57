package history

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/MrWong99/callcoach/pkg/types"
)

// Schema is the SQL DDL for the call_history table. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS call_history (
    id               TEXT PRIMARY KEY,
    position         INTEGER NOT NULL,
    customer_name    TEXT NOT NULL DEFAULT '',
    start_time       TIMESTAMPTZ NOT NULL,
    total_promised   DOUBLE PRECISION NOT NULL DEFAULT 0,
    item             JSONB NOT NULL,
    saved_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_call_history_position ON call_history(position);
CREATE INDEX IF NOT EXISTS idx_call_history_customer ON call_history(customer_name);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// PostgresStore is a [Store] backed by PostgreSQL. Each history item is one
// row holding the full item as JSONB; the scalar columns exist for ad-hoc
// reporting queries.
type PostgresStore struct {
	db DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a [PostgresStore] on db. The caller is responsible
// for calling [PostgresStore.Migrate] before the first Load.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate executes the [Schema] DDL.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("history: migrate: %w", err)
	}
	return nil
}

// Load returns every stored item ordered by position, most recent first.
func (s *PostgresStore) Load(ctx context.Context) ([]types.CallHistoryItem, error) {
	const query = `SELECT item FROM call_history ORDER BY position`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("history: load: %w", err)
	}
	defer rows.Close()

	items := []types.CallHistoryItem{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("history: load scan: %w", err)
		}
		var item types.CallHistoryItem
		if err := json.Unmarshal(raw, &item); err != nil {
			return nil, fmt.Errorf("history: unmarshal item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: load: %w", err)
	}
	return items, nil
}

// Save replaces the table contents with items. The statements are sent as a
// single batch, which PostgreSQL runs in one implicit transaction.
func (s *PostgresStore) Save(ctx context.Context, items []types.CallHistoryItem) error {
	const insert = `
		INSERT INTO call_history (id, position, customer_name, start_time, total_promised, item)
		VALUES ($1, $2, $3, $4, $5, $6)`

	batch := &pgx.Batch{}
	batch.Queue(`DELETE FROM call_history`)
	for i, item := range items {
		raw, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("history: marshal item %q: %w", item.ID, err)
		}
		batch.Queue(insert, item.ID, i, item.Customer.Name, item.StartTime, item.TotalPromisedAmount, raw)
	}

	br := s.db.SendBatch(ctx, batch)
	for range batch.Len() {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("history: save: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("history: save: %w", err)
	}
	return nil
}
