package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/hupe1980/agentkernel/core"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS events (
	partition_key   TEXT NOT NULL,
	position        INTEGER NOT NULL,
	event_id        TEXT NOT NULL UNIQUE,
	event_type      TEXT NOT NULL,
	correlation_id  TEXT,
	idempotency_key TEXT,
	envelope_json   TEXT NOT NULL,
	PRIMARY KEY (partition_key, position)
);
CREATE INDEX IF NOT EXISTS idx_events_type ON events(partition_key, event_type);
CREATE INDEX IF NOT EXISTS idx_events_correlation ON events(partition_key, correlation_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_events_idem ON events(partition_key, idempotency_key)
	WHERE idempotency_key IS NOT NULL;
`

// SQLiteStore is a durable EventStore backed by a single SQLite database
// file. Each append runs in its own transaction so an envelope is durable
// before Append returns. A process level mutex serializes writers; reads
// run concurrently.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex
}

// OpenSQLite opens (creating if necessary) a SQLite-backed event store at
// the given path. Use ":memory:" for a throwaway database in tests.
func OpenSQLite(path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open event store: %w", err)
	}
	// modernc sqlite serializes through a single connection; pooling extra
	// connections only produces SQLITE_BUSY under write load.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init event store schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Append validates and durably appends an envelope to its partition,
// assigning the next sequential position. A duplicate idempotency key
// within the partition is accepted as a silent no-op.
func (s *SQLiteStore) Append(ctx context.Context, env core.Envelope) error {
	if err := env.Validate(); err != nil {
		return err
	}
	data, err := core.Marshal(env)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if env.IdempotencyKey != "" {
		var exists bool
		err = tx.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM events WHERE partition_key = ? AND idempotency_key = ?)`,
			env.PartitionKey, env.IdempotencyKey).Scan(&exists)
		if err != nil {
			return fmt.Errorf("idempotency lookup: %w", err)
		}
		if exists {
			return nil
		}
	}

	var next int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(position) + 1, 0) FROM events WHERE partition_key = ?`,
		env.PartitionKey).Scan(&next)
	if err != nil {
		return fmt.Errorf("next position: %w", err)
	}

	idem := sql.NullString{String: env.IdempotencyKey, Valid: env.IdempotencyKey != ""}
	corr := sql.NullString{String: env.CorrelationID, Valid: env.CorrelationID != ""}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO events(partition_key, position, event_id, event_type, correlation_id, idempotency_key, envelope_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		env.PartitionKey, next, env.EventID, env.EventType, corr, idem, string(data))
	if err != nil {
		return fmt.Errorf("append envelope: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append: %w", err)
	}
	return nil
}

// Read returns envelopes at or after opts.FromOffset in ascending position
// order, optionally filtered. An undecodable row aborts the whole read with
// a *core.CorruptionError.
func (s *SQLiteStore) Read(ctx context.Context, partition string, opts core.ReadOptions) ([]core.Envelope, error) {
	query := `SELECT position, envelope_json FROM events WHERE partition_key = ? AND position >= ?`
	args := []any{partition, opts.FromOffset}
	if opts.EventType != "" {
		query += ` AND event_type = ?`
		args = append(args, opts.EventType)
	}
	if opts.CorrelationID != "" {
		query += ` AND correlation_id = ?`
		args = append(args, opts.CorrelationID)
	}
	query += ` ORDER BY position ASC`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	defer rows.Close()

	var out []core.Envelope
	for rows.Next() {
		var position int
		var raw string
		if err := rows.Scan(&position, &raw); err != nil {
			return nil, &core.CorruptionError{Partition: partition, Offset: position, Err: err}
		}
		env, err := core.Unmarshal([]byte(raw))
		if err != nil {
			return nil, &core.CorruptionError{Partition: partition, Offset: position, Err: err}
		}
		out = append(out, env)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	return out, nil
}

// LastOffset returns the partition's log length.
func (s *SQLiteStore) LastOffset(ctx context.Context, partition string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM events WHERE partition_key = ?`, partition).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("last offset: %w", err)
	}
	return n, nil
}

// ReadByCorrelation returns every envelope sharing a correlation id, in
// position order, across the whole partition.
func (s *SQLiteStore) ReadByCorrelation(ctx context.Context, partition, correlationID string) ([]core.Envelope, error) {
	return s.Read(ctx, partition, core.ReadOptions{CorrelationID: correlationID})
}

// Partitions lists partition keys in sorted order.
func (s *SQLiteStore) Partitions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT partition_key FROM events ORDER BY partition_key`)
	if err != nil {
		return nil, fmt.Errorf("list partitions: %w", err)
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("list partitions: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list partitions: %w", err)
	}
	return keys, nil
}
