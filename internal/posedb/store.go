package posedb

import (
	"database/sql"
	"fmt"

	"github.com/banshee-data/reproject/internal/render"
)

// SessionRecord mirrors one row of the sessions table.
type SessionRecord struct {
	SessionID        string
	StartedUnixNanos int64
	EndedUnixNanos   sql.NullInt64
	Frames           int64
	Corrected        int64
	Fallback         int64
	Provisional      int64
	RejectedSamples  int64
	StaleSamples     int64
}

// FrameRow mirrors one row of the frame_records table.
type FrameRow struct {
	SessionID    string
	FrameIndex   int64
	ReadyIndex   int64
	Outcome      string
	PoseAgeNanos int64
	TSUnixNanos  int64
}

// InsertSession records the start of a session.
func (s *Store) InsertSession(sessionID string, startedNanos int64) error {
	_, err := s.Exec(
		`INSERT INTO sessions (session_id, started_unix_nanos) VALUES (?, ?)`,
		sessionID, startedNanos,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// CloseSession stamps the session's end time and final counters.
func (s *Store) CloseSession(sessionID string, endedNanos int64, loopStats render.Stats, rejected, stale uint64) error {
	_, err := s.Exec(
		`UPDATE sessions SET
			ended_unix_nanos = ?,
			frames = ?, corrected = ?, fallback = ?, provisional = ?,
			rejected_samples = ?, stale_samples = ?
		WHERE session_id = ?`,
		endedNanos,
		loopStats.Frames, loopStats.Corrected, loopStats.Fallback, loopStats.Provisional,
		rejected, stale,
		sessionID,
	)
	if err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	return nil
}

// GetSession returns the stored session row.
func (s *Store) GetSession(sessionID string) (*SessionRecord, error) {
	row := s.QueryRow(
		`SELECT session_id, started_unix_nanos, ended_unix_nanos,
			frames, corrected, fallback, provisional, rejected_samples, stale_samples
		FROM sessions WHERE session_id = ?`, sessionID)

	var rec SessionRecord
	err := row.Scan(
		&rec.SessionID, &rec.StartedUnixNanos, &rec.EndedUnixNanos,
		&rec.Frames, &rec.Corrected, &rec.Fallback, &rec.Provisional,
		&rec.RejectedSamples, &rec.StaleSamples,
	)
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", sessionID, err)
	}
	return &rec, nil
}

// LatestSessionID returns the most recently started session.
func (s *Store) LatestSessionID() (string, error) {
	row := s.QueryRow(`SELECT session_id FROM sessions ORDER BY started_unix_nanos DESC LIMIT 1`)
	var id string
	if err := row.Scan(&id); err != nil {
		return "", fmt.Errorf("latest session: %w", err)
	}
	return id, nil
}

// insertFrameBatch writes a batch of frame records in one transaction.
func (s *Store) insertFrameBatch(sessionID string, batch []render.FrameRecord) error {
	tx, err := s.Begin()
	if err != nil {
		return fmt.Errorf("begin frame batch: %w", err)
	}
	stmt, err := tx.Prepare(
		`INSERT INTO frame_records
			(session_id, frame_index, ready_index, outcome, pose_age_nanos, ts_unix_nanos)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare frame insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range batch {
		if _, err := stmt.Exec(sessionID, r.FrameIndex, r.ReadyIndex, string(r.Outcome), r.PoseAgeNanos, r.TSNanos); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert frame %d: %w", r.FrameIndex, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit frame batch: %w", err)
	}
	return nil
}

// FrameRecords returns up to limit frame records for a session in
// timestamp order.
func (s *Store) FrameRecords(sessionID string, limit int) ([]FrameRow, error) {
	if limit <= 0 {
		limit = 10000
	}
	rows, err := s.Query(
		`SELECT session_id, frame_index, ready_index, outcome, pose_age_nanos, ts_unix_nanos
		FROM frame_records WHERE session_id = ?
		ORDER BY ts_unix_nanos ASC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query frame records: %w", err)
	}
	defer rows.Close()

	var out []FrameRow
	for rows.Next() {
		var r FrameRow
		if err := rows.Scan(&r.SessionID, &r.FrameIndex, &r.ReadyIndex, &r.Outcome, &r.PoseAgeNanos, &r.TSUnixNanos); err != nil {
			return nil, fmt.Errorf("scan frame record: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// PoseAges returns the pose-age samples (nanos) of corrected frames for a
// session, for percentile and plotting use.
func (s *Store) PoseAges(sessionID string) ([]float64, error) {
	rows, err := s.Query(
		`SELECT pose_age_nanos FROM frame_records
		WHERE session_id = ? AND outcome = 'corrected'
		ORDER BY ts_unix_nanos ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query pose ages: %w", err)
	}
	defer rows.Close()

	var out []float64
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan pose age: %w", err)
		}
		out = append(out, float64(v))
	}
	return out, rows.Err()
}
