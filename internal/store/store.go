// Package store keeps a history of encode sessions and their per-frame
// results in SQLite.
package store

import "time"

// Status is the lifecycle state of a session.
type Status string

const (
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
)

// Session is one invocation of the encoder.
type Session struct {
	ID         string
	InputPath  string
	OutputPath string
	Target     float64 // 0 when the quantizer was forced
	TwoPass    bool
	ForcedQI   int // -1 when the target score drove the search
	StartedAt  time.Time
	FinishedAt time.Time
	Frames     int
	Status     Status
	Error      string
}

// FrameRecord is the committed result for one frame of one pass.
type FrameRecord struct {
	SessionID  string
	Pass       int // 1 or 2 for two-pass sessions, 0 for single pass
	FrameIndex uint64
	QI         int
	Score      float64
	Trials     int
	Converged  bool
	Bytes      int
}

// Store defines the persistence interface for session history.
// Implementations must be safe for concurrent use.
type Store interface {
	// CreateSession inserts s, assigning an ID if it has none.
	CreateSession(s *Session) error

	// RecordFrame appends one frame result.
	RecordFrame(f FrameRecord) error

	// RecordFrames appends frame results in a single transaction.
	RecordFrames(frames []FrameRecord) error

	// FinishSession sets the final status, frame count and error.
	FinishSession(id string, status Status, frames int, errMsg string) error

	// GetSession retrieves a session by ID. Returns nil if not found.
	GetSession(id string) (*Session, error)

	// ListFrames returns a session's frames ordered by pass and index.
	ListFrames(sessionID string) ([]FrameRecord, error)

	// Close closes the store and releases resources.
	Close() error
}
