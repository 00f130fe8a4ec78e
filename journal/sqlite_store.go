package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/deepnoodle-ai/reflow"
)

// SQLiteStore implements Store using a SQLite database
type SQLiteStore struct {
	db      *sql.DB
	dbPath  string
	options SQLiteStoreOptions
}

// SQLiteStoreOptions configures the SQLite journal store
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

// NewSQLiteStore creates a new SQLite-based journal store
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
	CREATE TABLE IF NOT EXISTS run_events (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL,
		sequence INTEGER NOT NULL,
		timestamp DATETIME NOT NULL,
		event_type TEXT NOT NULL,
		attempt INTEGER,
		data JSON,
		UNIQUE(run_id, sequence)
	);

	CREATE INDEX IF NOT EXISTS idx_run_events_run_id ON run_events(run_id);
	CREATE INDEX IF NOT EXISTS idx_run_events_sequence ON run_events(run_id, sequence);
	CREATE INDEX IF NOT EXISTS idx_run_events_type ON run_events(event_type);

	CREATE TABLE IF NOT EXISTS run_snapshots (
		run_id TEXT PRIMARY KEY,
		work_item_name TEXT NOT NULL,
		fingerprint TEXT,
		status TEXT NOT NULL,
		start_time DATETIME,
		end_time DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		attempt_count INTEGER NOT NULL,
		last_event_seq INTEGER NOT NULL,
		outputs JSON,
		from_cache INTEGER NOT NULL DEFAULT 0,
		error TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_run_snapshots_status ON run_snapshots(status);
	CREATE INDEX IF NOT EXISTS idx_run_snapshots_name ON run_snapshots(work_item_name);
	CREATE INDEX IF NOT EXISTS idx_run_snapshots_created ON run_snapshots(created_at);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// AppendEvents adds events to the store in a single transaction
func (s *SQLiteStore) AppendEvents(ctx context.Context, events []*RunEvent) error {
	if len(events) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.options.QueryTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO run_events (id, run_id, sequence, timestamp, event_type, attempt, data)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, event := range events {
		if err := event.Validate(); err != nil {
			return fmt.Errorf("invalid event: %w", err)
		}
		dataJSON, err := json.Marshal(event.Data)
		if err != nil {
			return fmt.Errorf("failed to encode event data: %w", err)
		}
		if _, err := stmt.ExecContext(ctx,
			event.ID, event.RunID, event.Sequence, event.Timestamp,
			string(event.EventType), event.Attempt, string(dataJSON)); err != nil {
			return fmt.Errorf("failed to insert event: %w", err)
		}
	}
	return tx.Commit()
}

// GetEvents retrieves a run's events starting from a sequence number
func (s *SQLiteStore) GetEvents(ctx context.Context, runID string, fromSeq int64) ([]*RunEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, s.options.QueryTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, sequence, timestamp, event_type, attempt, data
		 FROM run_events WHERE run_id = ? AND sequence >= ? ORDER BY sequence`,
		runID, fromSeq)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []*RunEvent
	for rows.Next() {
		var event RunEvent
		var eventType string
		var dataJSON string
		if err := rows.Scan(&event.ID, &event.RunID, &event.Sequence,
			&event.Timestamp, &eventType, &event.Attempt, &dataJSON); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		event.EventType = RunEventType(eventType)
		if dataJSON != "" && dataJSON != "null" {
			if err := json.Unmarshal([]byte(dataJSON), &event.Data); err != nil {
				return nil, fmt.Errorf("failed to decode event data: %w", err)
			}
		}
		events = append(events, &event)
	}
	return events, rows.Err()
}

// GetHistory retrieves the complete event history for a run
func (s *SQLiteStore) GetHistory(ctx context.Context, runID string) ([]*RunEvent, error) {
	return s.GetEvents(ctx, runID, 1)
}

// SaveSnapshot inserts or replaces a run snapshot
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, snapshot *RunSnapshot) error {
	ctx, cancel := context.WithTimeout(ctx, s.options.QueryTimeout)
	defer cancel()

	snapshot.UpdatedAt = reflow.Timestamp()
	if snapshot.CreatedAt.IsZero() {
		snapshot.CreatedAt = snapshot.UpdatedAt
	}

	outputsJSON, err := json.Marshal(snapshot.Outputs)
	if err != nil {
		return fmt.Errorf("failed to encode outputs: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO run_snapshots
		 (run_id, work_item_name, fingerprint, status, start_time, end_time,
		  created_at, updated_at, attempt_count, last_event_seq, outputs, from_cache, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snapshot.ID, snapshot.WorkItemName, snapshot.Fingerprint, string(snapshot.Status),
		snapshot.StartTime, snapshot.EndTime, snapshot.CreatedAt, snapshot.UpdatedAt,
		snapshot.AttemptCount, snapshot.LastEventSeq, string(outputsJSON),
		snapshot.FromCache, snapshot.Error)
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// GetSnapshot retrieves a run snapshot
func (s *SQLiteStore) GetSnapshot(ctx context.Context, runID string) (*RunSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, s.options.QueryTimeout)
	defer cancel()

	row := s.db.QueryRowContext(ctx,
		`SELECT run_id, work_item_name, fingerprint, status, start_time, end_time,
		        created_at, updated_at, attempt_count, last_event_seq, outputs, from_cache, error
		 FROM run_snapshots WHERE run_id = ?`, runID)

	snapshot, err := scanSnapshot(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("snapshot not found for run %s", runID)
	}
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row rowScanner) (*RunSnapshot, error) {
	var snapshot RunSnapshot
	var status string
	var outputsJSON string
	err := row.Scan(&snapshot.ID, &snapshot.WorkItemName, &snapshot.Fingerprint,
		&status, &snapshot.StartTime, &snapshot.EndTime,
		&snapshot.CreatedAt, &snapshot.UpdatedAt, &snapshot.AttemptCount,
		&snapshot.LastEventSeq, &outputsJSON, &snapshot.FromCache, &snapshot.Error)
	if err != nil {
		return nil, err
	}
	snapshot.Status = reflow.RunStatus(status)
	if outputsJSON != "" && outputsJSON != "null" {
		if err := json.Unmarshal([]byte(outputsJSON), &snapshot.Outputs); err != nil {
			return nil, fmt.Errorf("failed to decode outputs: %w", err)
		}
	}
	return &snapshot, nil
}

// ListRuns returns runs matching the filter, newest first. The status filter
// is pushed into SQL; name globs are applied in memory.
func (s *SQLiteStore) ListRuns(ctx context.Context, filter Filter) ([]*RunSnapshot, error) {
	if err := filter.Validate(); err != nil {
		return nil, fmt.Errorf("invalid filter: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.options.QueryTimeout)
	defer cancel()

	query := `SELECT run_id, work_item_name, fingerprint, status, start_time, end_time,
	                 created_at, updated_at, attempt_count, last_event_seq, outputs, from_cache, error
	          FROM run_snapshots`
	var args []any
	if filter.Status != nil {
		query += ` WHERE status = ?`
		args = append(args, string(*filter.Status))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []*RunSnapshot
	for rows.Next() {
		snapshot, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		if !filter.matches(snapshot) {
			continue
		}
		snapshots = append(snapshots, snapshot)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	start := filter.Offset
	if start >= len(snapshots) {
		return []*RunSnapshot{}, nil
	}
	end := len(snapshots)
	if filter.Limit > 0 && start+filter.Limit < end {
		end = start + filter.Limit
	}
	return snapshots[start:end], nil
}

// DeleteRun removes a run's events and snapshot
func (s *SQLiteStore) DeleteRun(ctx context.Context, runID string) error {
	ctx, cancel := context.WithTimeout(ctx, s.options.QueryTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM run_events WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("failed to delete events: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM run_snapshots WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return tx.Commit()
}

// CleanupFinishedRuns removes terminal runs that ended before the given time
func (s *SQLiteStore) CleanupFinishedRuns(ctx context.Context, olderThan time.Time) error {
	snapshots, err := s.ListRuns(ctx, Filter{})
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}
	for _, snapshot := range snapshots {
		if snapshot.Status.IsTerminal() && snapshot.EndTime.Before(olderThan) {
			if err := s.DeleteRun(ctx, snapshot.ID); err != nil {
				return fmt.Errorf("failed to delete run %s: %w", snapshot.ID, err)
			}
		}
	}
	return nil
}

// Close closes the underlying database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
