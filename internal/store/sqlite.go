package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store at the given path, creating
// parent directories as needed.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	// Open database with WAL mode and recommended pragmas
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Force a connection to ensure the file is created
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	// Best effort; Windows uses ACLs instead of Unix permissions.
	_ = setSecureFilePermissions(dbPath)

	// SQLite is single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return store, nil
}

// setSecureFilePermissions sets restrictive permissions on the database file.
func setSecureFilePermissions(path string) error {
	if runtime.GOOS == "windows" {
		return nil
	}

	if err := os.Chmod(path, 0600); err != nil {
		return fmt.Errorf("setting permissions on %s: %w", path, err)
	}

	// WAL and SHM files may not exist yet; ignore errors
	os.Chmod(path+"-wal", 0600)
	os.Chmod(path+"-shm", 0600)

	return nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	var version int
	err := s.db.QueryRow("SELECT version FROM schema_version WHERE id = 1").Scan(&version)
	if err != nil {
		// Table doesn't exist, create it
		if _, err := s.db.Exec(`
			CREATE TABLE IF NOT EXISTS schema_version (
				id INTEGER PRIMARY KEY CHECK (id = 1),
				version INTEGER NOT NULL,
				applied_at TEXT NOT NULL DEFAULT (datetime('now'))
			);
			INSERT OR IGNORE INTO schema_version (id, version) VALUES (1, 0);
		`); err != nil {
			return fmt.Errorf("creating schema_version: %w", err)
		}
		version = 0
	}

	migrations := []string{
		migrationV1, // Initial schema
	}

	for i := version; i < len(migrations); i++ {
		if _, err := s.db.Exec(migrations[i]); err != nil {
			return fmt.Errorf("running migration %d: %w", i+1, err)
		}
		if _, err := s.db.Exec("UPDATE schema_version SET version = ?, applied_at = datetime('now') WHERE id = 1", i+1); err != nil {
			return fmt.Errorf("updating version to %d: %w", i+1, err)
		}
	}

	return nil
}

const migrationV1 = `
CREATE TABLE IF NOT EXISTS api_calls (
	id TEXT PRIMARY KEY,
	timestamp TEXT NOT NULL,
	provider TEXT NOT NULL,
	model TEXT NOT NULL,
	input_tokens INTEGER NOT NULL CHECK (input_tokens >= 0),
	output_tokens INTEGER NOT NULL CHECK (output_tokens >= 0),
	cost REAL NOT NULL,
	project TEXT NOT NULL DEFAULT 'default',
	tags TEXT NOT NULL DEFAULT '[]',
	metadata TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_api_calls_timestamp ON api_calls(timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_api_calls_model ON api_calls(model, timestamp);
CREATE INDEX IF NOT EXISTS idx_api_calls_provider ON api_calls(provider, timestamp);
CREATE INDEX IF NOT EXISTS idx_api_calls_project ON api_calls(project, timestamp);
`

// Insert writes a call record. The ID (if empty) and timestamp are
// assigned here; the stored record is returned via the ID.
func (s *SQLiteStore) Insert(ctx context.Context, call *Call) (string, error) {
	if call.ID == "" {
		call.ID = uuid.NewString()
	}
	call.Timestamp = time.Now().UTC()
	if call.Project == "" {
		call.Project = "default"
	}

	tags, _ := json.Marshal(call.Tags)
	if call.Tags == nil {
		tags = []byte("[]")
	}
	metadata, _ := json.Marshal(call.Metadata)
	if call.Metadata == nil {
		metadata = []byte("{}")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO api_calls (id, timestamp, provider, model, input_tokens, output_tokens, cost, project, tags, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		call.ID, call.Timestamp.Format(time.RFC3339Nano), call.Provider, call.Model,
		call.InputTokens, call.OutputTokens, call.Cost, call.Project,
		string(tags), string(metadata),
	)
	if err != nil {
		return "", err
	}
	return call.ID, nil
}

// ListCalls returns calls matching the filter, newest first.
func (s *SQLiteStore) ListCalls(ctx context.Context, filter CallFilter) ([]*Call, error) {
	query := strings.Builder{}
	query.WriteString(`
		SELECT id, timestamp, provider, model, input_tokens, output_tokens, cost, project, tags, metadata
		FROM api_calls WHERE 1=1
	`)

	args := []interface{}{}

	if filter.Provider != nil {
		query.WriteString(" AND provider = ?")
		args = append(args, *filter.Provider)
	}
	if filter.Model != nil {
		query.WriteString(" AND model = ?")
		args = append(args, *filter.Model)
	}
	if filter.Project != nil {
		query.WriteString(" AND project = ?")
		args = append(args, *filter.Project)
	}
	if filter.StartTime != nil {
		query.WriteString(" AND timestamp >= ?")
		args = append(args, filter.StartTime.Format(time.RFC3339Nano))
	}
	if filter.EndTime != nil {
		query.WriteString(" AND timestamp <= ?")
		args = append(args, filter.EndTime.Format(time.RFC3339Nano))
	}

	query.WriteString(" ORDER BY timestamp DESC")

	if filter.Limit > 0 {
		query.WriteString(" LIMIT ?")
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query.WriteString(" OFFSET ?")
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var calls []*Call
	for rows.Next() {
		call, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		calls = append(calls, call)
	}

	return calls, rows.Err()
}

// DeleteBefore removes calls recorded before the cutoff.
func (s *SQLiteStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM api_calls WHERE timestamp < ?",
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Reset removes all call records.
func (s *SQLiteStore) Reset(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM api_calls")
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection for aggregation queries.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// scanCall scans a call from rows.
func scanCall(rows *sql.Rows) (*Call, error) {
	var call Call
	var ts, tags, metadata string

	err := rows.Scan(
		&call.ID, &ts, &call.Provider, &call.Model,
		&call.InputTokens, &call.OutputTokens, &call.Cost, &call.Project,
		&tags, &metadata,
	)
	if err != nil {
		return nil, err
	}

	call.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
	json.Unmarshal([]byte(tags), &call.Tags)
	json.Unmarshal([]byte(metadata), &call.Metadata)

	return &call, nil
}
