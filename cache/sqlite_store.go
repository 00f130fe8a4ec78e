package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore implements EntryStore using a SQLite database. First-write-wins
// semantics come from INSERT OR IGNORE on the fingerprint primary key, so a
// racing second writer is a no-op and readers always observe complete rows.
type SQLiteStore struct {
	db      *sql.DB
	dbPath  string
	options SQLiteStoreOptions
}

// SQLiteStoreOptions configures the SQLite entry store
type SQLiteStoreOptions struct {
	QueryTimeout      time.Duration // Timeout for database queries
	PragmaJournalMode string        // WAL mode for better concurrent performance
	PragmaSyncMode    string        // Synchronization mode
	MaxConnections    int           // Maximum number of connections in pool
}

// DefaultSQLiteStoreOptions returns sensible defaults
func DefaultSQLiteStoreOptions() SQLiteStoreOptions {
	return SQLiteStoreOptions{
		QueryTimeout:      30 * time.Second,
		PragmaJournalMode: "WAL",
		PragmaSyncMode:    "NORMAL",
		MaxConnections:    10,
	}
}

// NewSQLiteStore creates a new SQLite-based entry store
func NewSQLiteStore(dbPath string, options SQLiteStoreOptions) (*SQLiteStore, error) {
	if options.QueryTimeout == 0 {
		options = DefaultSQLiteStoreOptions()
	}

	store := &SQLiteStore{dbPath: dbPath, options: options}
	if err := store.initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite store: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initialize() error {
	dsn := fmt.Sprintf("%s?_journal_mode=%s&_sync=%s&_timeout=5000",
		s.dbPath, s.options.PragmaJournalMode, s.options.PragmaSyncMode)

	var err error
	s.db, err = sql.Open("sqlite3", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	s.db.SetMaxOpenConns(s.options.MaxConnections)
	s.db.SetMaxIdleConns(s.options.MaxConnections / 2)
	s.db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), s.options.QueryTimeout)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS cache_entries (
		fingerprint TEXT PRIMARY KEY,
		outputs JSON NOT NULL,
		source_run_id TEXT,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_cache_entries_created ON cache_entries(created_at);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, fingerprint string) (*Entry, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.options.QueryTimeout)
	defer cancel()

	row := s.db.QueryRowContext(ctx,
		`SELECT fingerprint, outputs, source_run_id, created_at FROM cache_entries WHERE fingerprint = ?`,
		fingerprint)

	var entry Entry
	var outputsJSON string
	err := row.Scan(&entry.Fingerprint, &outputsJSON, &entry.SourceRunID, &entry.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to query entry: %w", err)
	}

	if err := json.Unmarshal([]byte(outputsJSON), &entry.Outputs); err != nil {
		return nil, false, fmt.Errorf("failed to decode outputs: %w", err)
	}
	return &entry, true, nil
}

func (s *SQLiteStore) Put(ctx context.Context, entry *Entry) error {
	ctx, cancel := context.WithTimeout(ctx, s.options.QueryTimeout)
	defer cancel()

	outputsJSON, err := json.Marshal(entry.Outputs)
	if err != nil {
		return fmt.Errorf("failed to encode outputs: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO cache_entries (fingerprint, outputs, source_run_id, created_at) VALUES (?, ?, ?, ?)`,
		entry.Fingerprint, string(outputsJSON), entry.SourceRunID, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert entry: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, fingerprint string) error {
	ctx, cancel := context.WithTimeout(ctx, s.options.QueryTimeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE fingerprint = ?`, fingerprint); err != nil {
		return fmt.Errorf("failed to delete entry: %w", err)
	}
	return nil
}

// Close closes the underlying database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
