// Package store provides the durable SQLite persistence for the memory layers.
package store

import (
	"database/sql"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"
)

// SQLiteStore persists the durable memory layers in a single SQLite
// database: one table each for episodic events, knowledge facts, concept
// nodes and affect states.
type SQLiteStore struct {
	db *sql.DB

	entropyMu sync.Mutex
	entropy   *rand.Rand
}

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	s := &SQLiteStore{
		db:      db,
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// NewID returns a new ULID. IDs are unique across every layer so that
// cross-layer references stay unambiguous.
func (s *SQLiteStore) NewID() string {
	s.entropyMu.Lock()
	defer s.entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id              TEXT PRIMARY KEY,
		content         TEXT NOT NULL,
		timestamp       TEXT NOT NULL,
		layer           TEXT NOT NULL DEFAULT 'episodic',
		participants    TEXT,
		tags            TEXT,
		priority        TEXT NOT NULL DEFAULT 'normal',
		consolidated_at TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp);
	CREATE INDEX IF NOT EXISTS idx_events_consolidated ON events(consolidated_at);

	CREATE TABLE IF NOT EXISTS facts (
		id                 TEXT PRIMARY KEY,
		subject            TEXT NOT NULL,
		predicate          TEXT NOT NULL,
		object             TEXT NOT NULL,
		confidence         REAL NOT NULL,
		confirmation_count INTEGER NOT NULL DEFAULT 1,
		first_seen         TEXT NOT NULL,
		last_confirmed     TEXT NOT NULL,
		UNIQUE(subject, predicate, object)
	);
	CREATE INDEX IF NOT EXISTS idx_facts_subject ON facts(subject);
	CREATE INDEX IF NOT EXISTS idx_facts_predicate ON facts(predicate);

	CREATE TABLE IF NOT EXISTS concepts (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL UNIQUE,
		fact_ids    TEXT,
		concept_ids TEXT,
		activation  REAL NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS affect_states (
		subject_id   TEXT PRIMARY KEY,
		valence      REAL NOT NULL,
		intensity    REAL NOT NULL,
		last_updated TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// timeLayout is a fixed-width RFC3339 layout with zero-padded nanoseconds.
// RFC3339Nano trims trailing zeros, which breaks the lexicographic ordering
// the timestamp comparisons in SQL rely on ("...00.5Z" sorts before
// "...00Z"); the padded form keeps TEXT comparison equal to temporal order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(v string) time.Time {
	t, _ := time.Parse(timeLayout, v)
	return t
}
