package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const schemaVersion = 2

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	input_path TEXT NOT NULL,
	output_path TEXT,
	target REAL,
	two_pass INTEGER NOT NULL DEFAULT 0,
	forced_qi INTEGER NOT NULL DEFAULT -1,
	started_at TEXT NOT NULL,
	finished_at TEXT,
	frames INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	error TEXT
);

CREATE TABLE IF NOT EXISTS frames (
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	pass INTEGER NOT NULL DEFAULT 0,
	frame_index INTEGER NOT NULL,
	qi INTEGER NOT NULL,
	score REAL NOT NULL,
	trials INTEGER NOT NULL,
	converged INTEGER NOT NULL DEFAULT 1,
	bytes INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (session_id, pass, frame_index)
);

CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL,
	applied_at TEXT DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_sessions_started_at ON sessions(started_at);
`

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db   *sql.DB
	mu   sync.RWMutex // Protects concurrent access
	path string
}

// NewSQLiteStore creates a new SQLite-backed store.
// The database file is created if it doesn't exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// WAL for concurrent readers; foreign keys are per connection, so they
	// are enabled in the DSN rather than with a one-off PRAGMA.
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	// Check/set schema version
	var version int
	err = db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	if err == sql.ErrNoRows {
		if _, err := db.Exec("INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
			db.Close()
			return nil, fmt.Errorf("insert schema version: %w", err)
		}
	} else if err != nil {
		db.Close()
		return nil, fmt.Errorf("check schema version: %w", err)
	} else if version < schemaVersion {
		if version < 2 {
			// Migrate v1 -> v2: per-frame convergence and payload size
			migrations := []string{
				`ALTER TABLE frames ADD COLUMN converged INTEGER NOT NULL DEFAULT 1`,
				`ALTER TABLE frames ADD COLUMN bytes INTEGER NOT NULL DEFAULT 0`,
			}
			for _, m := range migrations {
				if _, err := db.Exec(m); err != nil {
					db.Close()
					return nil, fmt.Errorf("migration v1->v2 failed: %w", err)
				}
			}
		}
		if _, err := db.Exec("INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
			db.Close()
			return nil, fmt.Errorf("update schema version: %w", err)
		}
	}

	return &SQLiteStore{db: db, path: dbPath}, nil
}

// CreateSession inserts a new session row.
func (s *SQLiteStore) CreateSession(sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess.ID == "" {
		sess.ID = uuid.New().String()
	}
	if sess.StartedAt.IsZero() {
		sess.StartedAt = time.Now()
	}
	if sess.Status == "" {
		sess.Status = StatusRunning
	}

	_, err := s.db.Exec(`
		INSERT INTO sessions (
			id, input_path, output_path, target, two_pass, forced_qi,
			started_at, finished_at, frames, status, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		sess.ID, sess.InputPath, nullString(sess.OutputPath), nullFloat64(sess.Target),
		boolToInt(sess.TwoPass), sess.ForcedQI,
		formatTime(sess.StartedAt), formatTimePtr(sess.FinishedAt),
		sess.Frames, string(sess.Status), nullString(sess.Error),
	)
	return err
}

// RecordFrame inserts or replaces one frame result.
func (s *SQLiteStore) RecordFrame(f FrameRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(insertFrame, frameArgs(f)...)
	return err
}

// RecordFrames persists multiple frame results in a transaction.
func (s *SQLiteStore) RecordFrames(frames []FrameRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(insertFrame)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, f := range frames {
		if _, err := stmt.Exec(frameArgs(f)...); err != nil {
			return err
		}
	}

	return tx.Commit()
}

const insertFrame = `
	INSERT OR REPLACE INTO frames (
		session_id, pass, frame_index, qi, score, trials, converged, bytes
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`

func frameArgs(f FrameRecord) []interface{} {
	return []interface{}{
		f.SessionID, f.Pass, int64(f.FrameIndex), f.QI, f.Score, f.Trials,
		boolToInt(f.Converged), f.Bytes,
	}
}

// FinishSession records the outcome of a session.
func (s *SQLiteStore) FinishSession(id string, status Status, frames int, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec(`
		UPDATE sessions
		SET status = ?, frames = ?, error = ?, finished_at = ?
		WHERE id = ?
	`, string(status), frames, nullString(errMsg), formatTime(time.Now()), id)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sessionNotFoundError(id)
	}
	return nil
}

// GetSession retrieves a session by ID.
func (s *SQLiteStore) GetSession(id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`
		SELECT id, input_path, output_path, target, two_pass, forced_qi,
			started_at, finished_at, frames, status, error
		FROM sessions WHERE id = ?
	`, id)

	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return sess, err
}

// ListFrames returns every frame of a session in pass, index order.
func (s *SQLiteStore) ListFrames(sessionID string) ([]FrameRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT session_id, pass, frame_index, qi, score, trials, converged, bytes
		FROM frames WHERE session_id = ?
		ORDER BY pass ASC, frame_index ASC
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var frames []FrameRecord
	for rows.Next() {
		var f FrameRecord
		var index int64
		var converged int
		if err := rows.Scan(&f.SessionID, &f.Pass, &index, &f.QI, &f.Score, &f.Trials, &converged, &f.Bytes); err != nil {
			return nil, err
		}
		f.FrameIndex = uint64(index)
		f.Converged = converged != 0
		frames = append(frames, f)
	}
	return frames, rows.Err()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*Session, error) {
	var sess Session
	var outputPath, errStr, finishedAt sql.NullString
	var target sql.NullFloat64
	var twoPass int
	var status, startedAt string

	err := row.Scan(
		&sess.ID, &sess.InputPath, &outputPath, &target, &twoPass, &sess.ForcedQI,
		&startedAt, &finishedAt, &sess.Frames, &status, &errStr,
	)
	if err != nil {
		return nil, err
	}

	sess.OutputPath = outputPath.String
	sess.Target = target.Float64
	sess.TwoPass = twoPass != 0
	sess.StartedAt = parseTime(startedAt)
	sess.FinishedAt = parseTime(finishedAt.String)
	sess.Status = Status(status)
	sess.Error = errStr.String

	return &sess, nil
}

// Helper functions for SQL values

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullFloat64(f float64) interface{} {
	if f == 0 {
		return nil
	}
	return f
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339, s)
	return t
}
