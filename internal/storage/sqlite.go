package storage

import (
	"database/sql"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// SQLiteKV is the durable key-value backend: a single kv table plus a
// _metadata table carrying a monotonic write counter. The counter is a
// tamper tripwire surfaced through the audit report; a restored-from-old
// database shows a counter that went backwards.
type SQLiteKV struct {
	db     *sql.DB
	dbPath string

	// writeCounter increments on every successful mutation.
	writeCounter int64

	mu sync.RWMutex
}

// WriteCounterKey is the _metadata row holding the write counter.
const WriteCounterKey = "write_counter"

// NewSQLiteKV opens (or creates) the database at dbPath. Pass ":memory:"
// for an ephemeral store.
func NewSQLiteKV(dbPath string) (*SQLiteKV, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	s := &SQLiteKV{db: db, dbPath: dbPath}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	log.Debug().Str("path", dbPath).Int64("write_counter", s.writeCounter).Msg("opened kv store")
	return s, nil
}

func (s *SQLiteKV) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS _metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO _metadata (key, value, updated_at)
		VALUES (?, '0', ?)
	`, WriteCounterKey, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to initialize metadata: %w", err)
	}

	var counterStr string
	if err := s.db.QueryRow(`SELECT value FROM _metadata WHERE key = ?`, WriteCounterKey).Scan(&counterStr); err != nil {
		return fmt.Errorf("failed to load write counter: %w", err)
	}
	s.writeCounter, err = strconv.ParseInt(counterStr, 10, 64)
	if err != nil {
		return fmt.Errorf("corrupt write counter %q: %w", counterStr, err)
	}
	return nil
}

func (s *SQLiteKV) Get(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var value []byte
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %q: %w", key, err)
	}
	return value, nil
}

// Put stores value under key. The upsert and the counter bump commit in
// one transaction so a crash never leaves a half-applied write.
func (s *SQLiteKV) Put(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	_, err = tx.Exec(`
		INSERT INTO kv (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, key, value, now)
	if err != nil {
		return fmt.Errorf("failed to put %q: %w", key, err)
	}

	next := s.writeCounter + 1
	_, err = tx.Exec(`
		UPDATE _metadata SET value = ?, updated_at = ? WHERE key = ?
	`, strconv.FormatInt(next, 10), now, WriteCounterKey)
	if err != nil {
		return fmt.Errorf("failed to bump write counter: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit put: %w", err)
	}
	s.writeCounter = next
	return nil
}

func (s *SQLiteKV) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	result, err := tx.Exec(`DELETE FROM kv WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("failed to delete %q: %w", key, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrKeyNotFound
	}

	next := s.writeCounter + 1
	_, err = tx.Exec(`
		UPDATE _metadata SET value = ?, updated_at = ? WHERE key = ?
	`, strconv.FormatInt(next, 10), now, WriteCounterKey)
	if err != nil {
		return fmt.Errorf("failed to bump write counter: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete: %w", err)
	}
	s.writeCounter = next
	return nil
}

func (s *SQLiteKV) Keys(prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Range scan instead of LIKE: namespace prefixes contain underscores,
	// which LIKE treats as wildcards.
	rows, err := s.db.Query(`
		SELECT key FROM kv
		WHERE key >= ? AND key < ?
		ORDER BY key ASC
	`, prefix, prefix+"￿")
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("failed to scan key: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating keys: %w", err)
	}
	return keys, nil
}

// WriteCounter returns the persisted mutation count.
func (s *SQLiteKV) WriteCounter() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writeCounter
}

func (s *SQLiteKV) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
