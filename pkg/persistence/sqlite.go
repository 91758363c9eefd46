package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"civagent/pkg/agent/llm"
	"civagent/pkg/logx"
)

// CurrentSchemaVersion defines the current schema version for migration support.
const CurrentSchemaVersion = 1

// SQLiteStore keeps dialogues as rows keyed by session for later audit queries.
type SQLiteStore struct {
	db     *sql.DB
	logger *logx.Logger
}

// OpenDB opens the transcript database at path and brings its schema up to date. Use
// ":memory:" for a throwaway database.
func OpenDB(path string) (*sql.DB, error) {
	dsn := path
	if path != ":memory:" {
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite only supports one writer
	db.SetMaxIdleConns(1)

	if err := initializeSchemaWithMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return db, nil
}

// NewSQLiteStore wraps a database opened with OpenDB.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db, logger: logx.NewLogger("persistence")}
}

func initializeSchemaWithMigrations(db *sql.DB) error {
	version, err := GetSchemaVersion(db)
	if err != nil {
		return err
	}
	if version == CurrentSchemaVersion {
		return nil
	}
	if version > CurrentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported %d", version, CurrentSchemaVersion)
	}
	for v := version + 1; v <= CurrentSchemaVersion; v++ {
		if err := runMigration(db, v); err != nil {
			return fmt.Errorf("migration to version %d failed: %w", v, err)
		}
		if _, err := db.Exec(`INSERT OR REPLACE INTO schema_version (version) VALUES (?)`, v); err != nil {
			return fmt.Errorf("failed to update schema version to %d: %w", v, err)
		}
	}
	return nil
}

func runMigration(db *sql.DB, version int) error {
	switch version {
	case 1:
		for _, stmt := range []string{
			`CREATE TABLE IF NOT EXISTS sessions (
				id TEXT PRIMARY KEY,
				model TEXT NOT NULL,
				role TEXT NOT NULL,
				started_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
			)`,
			`CREATE TABLE IF NOT EXISTS transcripts (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				session_id TEXT NOT NULL,
				name TEXT NOT NULL,
				seq INTEGER NOT NULL,
				role TEXT NOT NULL,
				content TEXT NOT NULL,
				saved_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
			)`,
			`CREATE INDEX IF NOT EXISTS idx_transcripts_session ON transcripts(session_id, name)`,
		} {
			if _, err := db.Exec(stmt); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown migration version %d", version)
	}
}

// GetSchemaVersion returns the current schema version from the database.
func GetSchemaVersion(db *sql.DB) (int, error) {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
	)`)
	if err != nil {
		return 0, fmt.Errorf("failed to create schema_version table: %w", err)
	}

	var version int
	err = db.QueryRow(`SELECT version FROM schema_version ORDER BY version DESC LIMIT 1`).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("schema version scan error: %w", err)
	}
	return version, nil
}

// StartSession registers a new play session and returns its id.
func (s *SQLiteStore) StartSession(ctx context.Context, model, role string) (string, error) {
	id := uuid.New().String()
	if _, err := s.db.ExecContext(ctx, `INSERT INTO sessions (id, model, role) VALUES (?, ?, ?)`, id, model, role); err != nil {
		return "", fmt.Errorf("failed to start session: %w", err)
	}
	s.logger.Info("session %s started (model %s, role %s)", id, model, role)
	return id, nil
}

// SaveTranscript implements TranscriptStore. Saving the same name again replaces it.
func (s *SQLiteStore) SaveTranscript(ctx context.Context, sessionID, name string, msgs []llm.CompletionMessage) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is safe to call after commit

	if _, err := tx.ExecContext(ctx, `DELETE FROM transcripts WHERE session_id = ? AND name = ?`, sessionID, name); err != nil {
		return fmt.Errorf("failed to clear transcript %s: %w", name, err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO transcripts (session_id, name, seq, role, content) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare transcript statement: %w", err)
	}
	defer stmt.Close() //nolint:errcheck // Close in defer is safe

	for i := range msgs {
		if _, err := stmt.ExecContext(ctx, sessionID, name, i, string(msgs[i].Role), msgs[i].Content); err != nil {
			return fmt.Errorf("failed to insert message %d of %s: %w", i, name, err)
		}
	}
	return tx.Commit()
}

// LoadTranscript returns a saved dialogue in order.
func (s *SQLiteStore) LoadTranscript(ctx context.Context, sessionID, name string) ([]llm.CompletionMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content FROM transcripts WHERE session_id = ? AND name = ? ORDER BY seq`,
		sessionID, name)
	if err != nil {
		return nil, fmt.Errorf("failed to query transcript: %w", err)
	}
	defer rows.Close() //nolint:errcheck // Close in defer is safe

	var msgs []llm.CompletionMessage
	for rows.Next() {
		var role, content string
		if err := rows.Scan(&role, &content); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		msgs = append(msgs, llm.CompletionMessage{Role: llm.CompletionRole(role), Content: content})
	}
	return msgs, rows.Err()
}

// ListTranscripts returns the dialogue names saved in a session.
func (s *SQLiteStore) ListTranscripts(ctx context.Context, sessionID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name FROM transcripts WHERE session_id = ? GROUP BY name ORDER BY min(id)`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transcripts: %w", err)
	}
	defer rows.Close() //nolint:errcheck // Close in defer is safe

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
