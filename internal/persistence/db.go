// Package persistence provides save-game storage: a SQLite-backed store, a
// flat-file store, the save blob codec, and tick history.
package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/city-tycoon/internal/engine"
)

// ErrNotFound is returned by a Store when no blob exists for a key.
var ErrNotFound = errors.New("save not found")

// Store is a key-value store of opaque save blobs.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// DB wraps a SQLite connection holding saves, tick history and metadata.
type DB struct {
	conn *sqlx.DB
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	conn, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS saves (
		key TEXT PRIMARY KEY,
		data TEXT NOT NULL,
		saved_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tick_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		tick INTEGER NOT NULL,
		income_base INTEGER NOT NULL,
		upkeep INTEGER NOT NULL,
		gained INTEGER NOT NULL,
		money INTEGER NOT NULL,
		energy INTEGER NOT NULL,
		population INTEGER NOT NULL,
		happiness REAL NOT NULL
	);

	CREATE TABLE IF NOT EXISTS world_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tick_history_tick ON tick_history(tick);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// Put stores data under key, replacing any previous blob.
func (db *DB) Put(ctx context.Context, key string, data []byte) error {
	_, err := db.conn.ExecContext(ctx,
		"INSERT OR REPLACE INTO saves (key, data, saved_at) VALUES (?, ?, ?)",
		key, string(data), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// Get returns the blob stored under key, or ErrNotFound.
func (db *DB) Get(ctx context.Context, key string) ([]byte, error) {
	var data string
	err := db.conn.GetContext(ctx, &data, "SELECT data FROM saves WHERE key = ?", key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return []byte(data), nil
}

// SaveMeta stores a key-value pair in metadata.
func (db *DB) SaveMeta(key, value string) error {
	_, err := db.conn.Exec(
		"INSERT OR REPLACE INTO world_meta (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta retrieves a metadata value.
func (db *DB) GetMeta(key string) (string, error) {
	var value string
	err := db.conn.Get(&value, "SELECT value FROM world_meta WHERE key = ?", key)
	return value, err
}

// AppendHistory writes tick reports in one transaction.
func (db *DB) AppendHistory(ctx context.Context, reports []engine.TickReport) error {
	if len(reports) == 0 {
		return nil
	}

	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareNamedContext(ctx, `INSERT INTO tick_history
		(tick, income_base, upkeep, gained, money, energy, population, happiness)
		VALUES (:tick, :income_base, :upkeep, :gained, :money, :energy, :population, :happiness)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range reports {
		if _, err := stmt.ExecContext(ctx, r); err != nil {
			return fmt.Errorf("insert tick %d: %w", r.Tick, err)
		}
	}

	return tx.Commit()
}

// History returns the most recent limit tick reports, oldest first.
func (db *DB) History(ctx context.Context, limit int) ([]engine.TickReport, error) {
	var rows []engine.TickReport
	err := db.conn.SelectContext(ctx, &rows,
		`SELECT tick, income_base, upkeep, gained, money, energy, population, happiness
		 FROM tick_history ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	return rows, nil
}

// HistoryWriter appends only the tick reports it has not written yet.
type HistoryWriter struct {
	DB   *DB
	run  uint64
	last uint64
}

// Flush writes reports of the given run newer than the last flushed tick.
// A new run (the city was reset) starts counting from tick 0 again.
func (w *HistoryWriter) Flush(ctx context.Context, run uint64, reports []engine.TickReport) (int, error) {
	if run != w.run {
		w.run = run
		w.last = 0
	}

	var pending []engine.TickReport
	for _, r := range reports {
		if r.Tick > w.last {
			pending = append(pending, r)
		}
	}
	if err := w.DB.AppendHistory(ctx, pending); err != nil {
		return 0, fmt.Errorf("append history: %w", err)
	}
	if len(pending) > 0 {
		w.last = pending[len(pending)-1].Tick
		slog.Debug("tick history flushed", "rows", len(pending), "last_tick", w.last)
	}
	return len(pending), nil
}
