package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CaptureSession records one run of the scan pipeline against a source.
// Only counters are kept.
type CaptureSession struct {
	SessionID   string `json:"session_id"`
	Source      string `json:"source"`
	StartedAt   int64  `json:"started_unix_nanos"`
	EndedAt     *int64 `json:"ended_unix_nanos,omitempty"`
	ScansOK     int64  `json:"scans_ok"`
	ScansFailed int64  `json:"scans_failed"`
	LastError   string `json:"last_error,omitempty"`
}

// Open reports whether the session has not been ended.
func (s *CaptureSession) Open() bool {
	return s.EndedAt == nil
}

// ErrSessionNotFound is returned when a session id does not exist.
var ErrSessionNotFound = errors.New("capture session not found")

// StartSession creates a new open session for source.
func (db *DB) StartSession(source string, at time.Time) (*CaptureSession, error) {
	s := &CaptureSession{
		SessionID: uuid.NewString(),
		Source:    source,
		StartedAt: at.UnixNano(),
	}
	_, err := db.Exec(`INSERT INTO capture_sessions (session_id, source, started_unix_nanos) VALUES (?, ?, ?)`,
		s.SessionID, s.Source, s.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to start capture session: %w", err)
	}
	return s, nil
}

// UpdateSessionCounts stores the running counters of an open session.
func (db *DB) UpdateSessionCounts(id string, scansOK, scansFailed uint64, lastError string) error {
	result, err := db.Exec(`UPDATE capture_sessions
	          SET scans_ok = ?, scans_failed = ?, last_error = ?
	          WHERE session_id = ?`, int64(scansOK), int64(scansFailed), lastError, id)
	if err != nil {
		return fmt.Errorf("failed to update capture session: %w", err)
	}
	return sessionFound(result, id)
}

// EndSession stores the final counters and closes the session.
func (db *DB) EndSession(id string, at time.Time, scansOK, scansFailed uint64, lastError string) error {
	result, err := db.Exec(`UPDATE capture_sessions
	          SET ended_unix_nanos = ?, scans_ok = ?, scans_failed = ?, last_error = ?
	          WHERE session_id = ?`, at.UnixNano(), int64(scansOK), int64(scansFailed), lastError, id)
	if err != nil {
		return fmt.Errorf("failed to end capture session: %w", err)
	}
	return sessionFound(result, id)
}

const sessionColumns = `session_id, source, started_unix_nanos, ended_unix_nanos, scans_ok, scans_failed, last_error`

func scanSession(row interface{ Scan(...any) error }) (CaptureSession, error) {
	var s CaptureSession
	var ended sql.NullInt64
	err := row.Scan(&s.SessionID, &s.Source, &s.StartedAt, &ended, &s.ScansOK, &s.ScansFailed, &s.LastError)
	if ended.Valid {
		v := ended.Int64
		s.EndedAt = &v
	}
	return s, err
}

// GetSession returns the session with id.
func (db *DB) GetSession(id string) (*CaptureSession, error) {
	s, err := scanSession(db.QueryRow(`SELECT `+sessionColumns+` FROM capture_sessions WHERE session_id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get capture session: %w", err)
	}
	return &s, nil
}

// RecentSessions returns up to limit sessions, newest first.
func (db *DB) RecentSessions(limit int) ([]CaptureSession, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`SELECT `+sessionColumns+`
	          FROM capture_sessions
	          ORDER BY started_unix_nanos DESC
	          LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query capture sessions: %w", err)
	}
	defer rows.Close()

	var sessions []CaptureSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan capture session: %w", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// CloseOpenSessions ends any session left open by a previous process that
// did not shut down cleanly. It returns how many were closed.
func (db *DB) CloseOpenSessions(at time.Time) (int64, error) {
	result, err := db.Exec(`UPDATE capture_sessions
	          SET ended_unix_nanos = ?, last_error = CASE WHEN last_error = '' THEN 'not closed cleanly' ELSE last_error END
	          WHERE ended_unix_nanos IS NULL`, at.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to close open capture sessions: %w", err)
	}
	return result.RowsAffected()
}

func sessionFound(result sql.Result, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return nil
}
