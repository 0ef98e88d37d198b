package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/goodtune/sessionmeter/internal/storage"
)

type sessionStore struct {
	db *sql.DB
}

func (s *sessionStore) Insert(ctx context.Context, session storage.Session) error {
	var endedAt any
	if session.EndedAt != nil {
		endedAt = toMillis(*session.EndedAt)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, started_at, ended_at)
		VALUES (?, ?, ?)
	`, session.ID, toMillis(session.StartedAt), endedAt); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *sessionStore) Get(ctx context.Context, id string) (*storage.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, started_at, ended_at
		FROM sessions
		WHERE id = ?
	`, id)
	return scanSession(row)
}

func (s *sessionStore) Active(ctx context.Context) (*storage.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, started_at, ended_at
		FROM sessions
		WHERE ended_at IS NULL
		ORDER BY started_at DESC
		LIMIT 1
	`)
	return scanSession(row)
}

func scanSession(row *sql.Row) (*storage.Session, error) {
	var (
		session   storage.Session
		startedAt int64
		endedAt   sql.NullInt64
	)
	err := row.Scan(&session.ID, &startedAt, &endedAt)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	session.StartedAt = fromMillis(startedAt)
	if endedAt.Valid {
		t := fromMillis(endedAt.Int64)
		session.EndedAt = &t
	}
	return &session, nil
}

func (s *sessionStore) InsertSegment(ctx context.Context, segment storage.Segment) error {
	var (
		endedAt any
		mbUsed  any
	)
	if segment.EndedAt != nil {
		endedAt = toMillis(*segment.EndedAt)
	}
	if segment.MBUsed != nil {
		mbUsed = *segment.MBUsed
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO session_segments (id, session_id, device_id, started_at, ended_at, mb_used)
		VALUES (?, ?, ?, ?, ?, ?)
	`, segment.ID, segment.SessionID, segment.DeviceID, toMillis(segment.StartedAt), endedAt, mbUsed); err != nil {
		return fmt.Errorf("insert segment: %w", err)
	}
	return nil
}

func (s *sessionStore) OpenSegment(ctx context.Context, sessionID string) (*storage.Segment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, device_id, started_at, ended_at, mb_used
		FROM session_segments
		WHERE session_id = ? AND ended_at IS NULL
		ORDER BY started_at DESC
		LIMIT 1
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("open segment: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("open segment: %w", err)
		}
		return nil, storage.ErrNotFound
	}
	return scanSegment(rows)
}

func (s *sessionStore) CloseSegment(ctx context.Context, segmentID string, endedAt time.Time, mbUsed float64) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE session_segments
		SET ended_at = ?, mb_used = ?
		WHERE id = ?
	`, toMillis(endedAt), mbUsed, segmentID)
	if err != nil {
		return fmt.Errorf("close segment: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *sessionStore) ListSegments(ctx context.Context, sessionID string) ([]storage.Segment, error) {
	return s.listSegments(ctx, `
		SELECT id, session_id, device_id, started_at, ended_at, mb_used
		FROM session_segments
		WHERE session_id = ?
		ORDER BY started_at
	`, sessionID)
}

func (s *sessionStore) ListSegmentsByDevice(ctx context.Context, deviceID string) ([]storage.Segment, error) {
	return s.listSegments(ctx, `
		SELECT id, session_id, device_id, started_at, ended_at, mb_used
		FROM session_segments
		WHERE device_id = ?
		ORDER BY started_at
	`, deviceID)
}

func (s *sessionStore) listSegments(ctx context.Context, query string, arg string) ([]storage.Segment, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}
	defer rows.Close()

	segments := make([]storage.Segment, 0)
	for rows.Next() {
		segment, err := scanSegment(rows)
		if err != nil {
			return nil, err
		}
		segments = append(segments, *segment)
	}
	return segments, rows.Err()
}

func scanSegment(rows *sql.Rows) (*storage.Segment, error) {
	var (
		segment   storage.Segment
		startedAt int64
		endedAt   sql.NullInt64
		mbUsed    sql.NullFloat64
	)
	if err := rows.Scan(&segment.ID, &segment.SessionID, &segment.DeviceID, &startedAt, &endedAt, &mbUsed); err != nil {
		return nil, fmt.Errorf("scan segment: %w", err)
	}
	segment.StartedAt = fromMillis(startedAt)
	if endedAt.Valid {
		t := fromMillis(endedAt.Int64)
		segment.EndedAt = &t
	}
	if mbUsed.Valid {
		used := mbUsed.Float64
		segment.MBUsed = &used
	}
	return &segment, nil
}

func (s *sessionStore) DeleteAll(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete sessions: %w", err)
	}

	// Dependent rows first
	if _, err := tx.ExecContext(ctx, `DELETE FROM session_segments`); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("delete segments: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions`); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("delete sessions: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete sessions: %w", err)
	}
	return nil
}
