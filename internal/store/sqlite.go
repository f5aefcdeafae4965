package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"jitmod/internal/logging"

	_ "modernc.org/sqlite"
)

// sqliteTimeLayout matches SQLite's CURRENT_TIMESTAMP output (UTC).
const sqliteTimeLayout = "2006-01-02 15:04:05"

var _ CacheStore = (*SQLiteStore)(nil)

// SQLiteStore implements CacheStore on a single SQLite file.
//
// Storage location: <data_dir>/modules.db
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// NewSQLiteStore opens (or creates) the module cache at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	logging.StoreDebug("Initializing module cache at path: %s", dbPath)

	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			logging.StoreError("Failed to create store directory %s: %v", dir, err)
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		logging.StoreError("Failed to open module cache at %s: %v", dbPath, err)
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &SQLiteStore{db: db, dbPath: dbPath}
	if err := s.initialize(); err != nil {
		logging.StoreError("Failed to initialize module cache schema: %v", err)
		db.Close()
		return nil, err
	}

	logging.Store("Module cache initialized at %s", dbPath)
	return s, nil
}

// initialize creates the database schema.
func (s *SQLiteStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS modules (
		cache_key TEXT PRIMARY KEY,
		status TEXT NOT NULL DEFAULT 'pending',
		source_text TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		model TEXT NOT NULL DEFAULT '',
		generation_ms INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_modules_status ON modules(status);
	CREATE INDEX IF NOT EXISTS idx_modules_updated ON modules(updated_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Reserve atomically claims the key for generation.
func (s *SQLiteStore) Reserve(ctx context.Context, key string) (*Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO modules (cache_key, status) VALUES (?, 'pending')
		ON CONFLICT(cache_key) DO NOTHING`, key)
	if err != nil {
		return nil, &StorageError{Op: "reserve", Err: err}
	}
	if n, _ := res.RowsAffected(); n == 1 {
		logging.StoreDebug("Reserved %s (new)", shortKey(key))
		return &Reservation{State: Reserved}, nil
	}

	var status Status
	var source string
	row := s.db.QueryRowContext(ctx, `SELECT status, source_text FROM modules WHERE cache_key = ?`, key)
	if err := row.Scan(&status, &source); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Row deleted between insert and read. Treat as owned elsewhere.
			return &Reservation{State: AlreadyPending}, nil
		}
		return nil, &StorageError{Op: "reserve", Err: err}
	}

	switch status {
	case StatusReady:
		logging.StoreDebug("Reserve %s: already ready (%d bytes)", shortKey(key), len(source))
		return &Reservation{State: AlreadyReady, SourceText: source}, nil
	case StatusFailed:
		// Reclaim the failed record for a retry.
		res, err := s.db.ExecContext(ctx, `
			UPDATE modules SET status = 'pending', error = '', updated_at = CURRENT_TIMESTAMP
			WHERE cache_key = ? AND status = 'failed'`, key)
		if err != nil {
			return nil, &StorageError{Op: "reserve", Err: err}
		}
		if n, _ := res.RowsAffected(); n == 1 {
			logging.Store("Reserved %s (reclaimed failed record)", shortKey(key))
			return &Reservation{State: Reserved}, nil
		}
		// Lost the claim to another process.
		return &Reservation{State: AlreadyPending}, nil
	default:
		logging.StoreDebug("Reserve %s: pending elsewhere", shortKey(key))
		return &Reservation{State: AlreadyPending}, nil
	}
}

// Finalize moves a Pending record to its terminal state.
func (s *SQLiteStore) Finalize(ctx context.Context, key string, status Status, sourceText, errText, model string, generationMS int64) error {
	if status != StatusReady && status != StatusFailed {
		return &StorageError{Op: "finalize", Err: fmt.Errorf("invalid target status %q", status)}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if status == StatusReady {
		// Upsert so a completed generation is never dropped, but an
		// existing Ready record always wins.
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO modules (cache_key, status, source_text, error, model, generation_ms)
			VALUES (?, 'ready', ?, '', ?, ?)
			ON CONFLICT(cache_key) DO UPDATE SET
				status = 'ready',
				source_text = excluded.source_text,
				error = '',
				model = excluded.model,
				generation_ms = excluded.generation_ms,
				updated_at = CURRENT_TIMESTAMP
			WHERE modules.status != 'ready'`,
			key, sourceText, model, generationMS)
		if err != nil {
			return &StorageError{Op: "finalize", Err: err}
		}
		logging.Store("Finalized %s as ready (%d bytes, %dms)", shortKey(key), len(sourceText), generationMS)
		return nil
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE modules SET status = 'failed', error = ?, model = ?, updated_at = CURRENT_TIMESTAMP
		WHERE cache_key = ? AND status = 'pending'`,
		errText, model, key)
	if err != nil {
		return &StorageError{Op: "finalize", Err: err}
	}
	if n, _ := res.RowsAffected(); n == 1 {
		logging.Store("Finalized %s as failed: %s", shortKey(key), errText)
	}
	return nil
}

// Get returns the record for key, or nil when absent.
func (s *SQLiteStore) Get(ctx context.Context, key string) (*ModuleRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT cache_key, status, source_text, error, model, generation_ms, created_at, updated_at
		FROM modules WHERE cache_key = ?`, key)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &StorageError{Op: "get", Err: err}
	}
	return rec, nil
}

// Stats summarizes the store contents.
func (s *SQLiteStore) Stats(ctx context.Context) (*CacheStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &CacheStats{ByModel: make(map[string]int64)}

	var oldest, newest string
	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN status = 'ready' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(LENGTH(source_text)), 0),
		       COALESCE(MIN(created_at), ''),
		       COALESCE(MAX(created_at), '')
		FROM modules`)
	if err := row.Scan(&stats.TotalRecords, &stats.ReadyCount, &stats.PendingCount,
		&stats.FailedCount, &stats.TotalSourceBytes, &oldest, &newest); err != nil {
		return nil, &StorageError{Op: "stats", Err: err}
	}
	stats.OldestRecord, _ = time.Parse(sqliteTimeLayout, oldest)
	stats.NewestRecord, _ = time.Parse(sqliteTimeLayout, newest)

	rows, err := s.db.QueryContext(ctx, `
		SELECT model, COUNT(*) FROM modules WHERE model != '' GROUP BY model`)
	if err != nil {
		return nil, &StorageError{Op: "stats", Err: err}
	}
	defer rows.Close()

	for rows.Next() {
		var model string
		var count int64
		if err := rows.Scan(&model, &count); err != nil {
			continue
		}
		stats.ByModel[model] = count
	}

	return stats, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		logging.Store("Closing module cache at %s", s.dbPath)
		return s.db.Close()
	}
	return nil
}

// scanRecord scans a single row into a ModuleRecord.
func scanRecord(row *sql.Row) (*ModuleRecord, error) {
	var rec ModuleRecord
	var createdAt, updatedAt string

	err := row.Scan(
		&rec.Key, &rec.Status, &rec.SourceText, &rec.Error,
		&rec.Model, &rec.GenerationMS, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.CreatedAt, _ = time.Parse(sqliteTimeLayout, createdAt)
	rec.UpdatedAt, _ = time.Parse(sqliteTimeLayout, updatedAt)

	return &rec, nil
}
