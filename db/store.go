// Package db persists meeting sessions and transcript chunks in Postgres.
package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"meetscribe/etc"
)

// ErrPersistence wraps any session or chunk write failure.
var ErrPersistence = errors.New("persistence error")

type SessionRow struct {
	ID               string
	TenantID         string
	UserID           string
	Title            string
	Status           string
	ConsentConfirmed bool
	StartedAt        *time.Time
	EndedAt          *time.Time
	TotalDurationSec int
	SttEngineUsed    string
	Summary          string
	CreatedAt        time.Time
}

type ChunkRow struct {
	SessionID    string
	Seq          int
	Text         string
	EngineSource string
	CreatedAt    time.Time
}

type Store struct {
	conn *pgx.Conn
}

func NewStore(conn *pgx.Conn) *Store {
	return &Store{conn: conn}
}

// CreateSession inserts a consent-confirmed session already in recording
// state and returns its fresh id.
func (s *Store) CreateSession(
	ctx context.Context,
	tenantID, userID, title string,
	startedAt time.Time,
) (string, error) {
	id := etc.NewFreshID()
	_, err := s.conn.Exec(ctx, `
		INSERT INTO meeting_sessions
			(id, tenant_id, user_id, title, status, consent_confirmed, started_at)
		VALUES ($1, $2, $3, $4, 'recording', TRUE, $5)`,
		id, tenantID, userID, title, startedAt,
	)
	if err != nil {
		return "", fmt.Errorf("%w: create session: %v", ErrPersistence, err)
	}
	return id, nil
}

func (s *Store) UpdateSessionTitle(ctx context.Context, id, title string) error {
	_, err := s.conn.Exec(ctx, `
		UPDATE meeting_sessions SET title = $2 WHERE id = $1`,
		id, title,
	)
	if err != nil {
		return fmt.Errorf("%w: update title: %v", ErrPersistence, err)
	}
	return nil
}

// FinalizeSession records the finished duration and engine label before
// the summarization hand-off.
func (s *Store) FinalizeSession(
	ctx context.Context,
	id string,
	durationSec int,
	engine string,
	endedAt time.Time,
) error {
	_, err := s.conn.Exec(ctx, `
		UPDATE meeting_sessions
		SET status = 'processing',
		    ended_at = $2,
		    total_duration_sec = $3,
		    stt_engine_used = $4
		WHERE id = $1`,
		id, endedAt, durationSec, engine,
	)
	if err != nil {
		return fmt.Errorf("%w: finalize session: %v", ErrPersistence, err)
	}
	return nil
}

func (s *Store) MarkSessionReady(ctx context.Context, id string) error {
	return s.markStatus(ctx, id, "ready")
}

func (s *Store) MarkSessionIdle(ctx context.Context, id string) error {
	return s.markStatus(ctx, id, "idle")
}

func (s *Store) markStatus(ctx context.Context, id, status string) error {
	_, err := s.conn.Exec(ctx, `
		UPDATE meeting_sessions SET status = $2 WHERE id = $1`,
		id, status,
	)
	if err != nil {
		return fmt.Errorf("%w: mark session %s: %v", ErrPersistence, status, err)
	}
	return nil
}

func (s *Store) SaveSummary(ctx context.Context, id, summary string) error {
	_, err := s.conn.Exec(ctx, `
		UPDATE meeting_sessions SET summary = $2 WHERE id = $1`,
		id, summary,
	)
	if err != nil {
		return fmt.Errorf("%w: save summary: %v", ErrPersistence, err)
	}
	return nil
}

func (s *Store) InsertChunk(
	ctx context.Context,
	sessionID string,
	seq int,
	text string,
	engineSource string,
) error {
	_, err := s.conn.Exec(ctx, `
		INSERT INTO meeting_transcript_chunks (session_id, seq, text, engine_source)
		VALUES ($1, $2, $3, $4)`,
		sessionID, seq, text, engineSource,
	)
	if err != nil {
		return fmt.Errorf("%w: insert chunk: %v", ErrPersistence, err)
	}
	return nil
}

// ChunksForSession returns all persisted chunks in seq order.
func (s *Store) ChunksForSession(ctx context.Context, sessionID string) ([]ChunkRow, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT session_id, seq, text, engine_source, created_at
		FROM meeting_transcript_chunks
		WHERE session_id = $1
		ORDER BY seq`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("fetch chunks: %w", err)
	}
	defer rows.Close()

	var chunks []ChunkRow
	for rows.Next() {
		var c ChunkRow
		if err := rows.Scan(&c.SessionID, &c.Seq, &c.Text, &c.EngineSource, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// RecentSessions returns the newest sessions first.
func (s *Store) RecentSessions(ctx context.Context, limit int) ([]SessionRow, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT id, tenant_id, user_id, title, status, consent_confirmed,
		       started_at, ended_at, COALESCE(total_duration_sec, 0),
		       COALESCE(stt_engine_used, ''), COALESCE(summary, ''), created_at
		FROM meeting_sessions
		ORDER BY created_at DESC
		LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("fetch sessions: %w", err)
	}
	defer rows.Close()

	var sessions []SessionRow
	for rows.Next() {
		var row SessionRow
		if err := rows.Scan(
			&row.ID, &row.TenantID, &row.UserID, &row.Title, &row.Status,
			&row.ConsentConfirmed, &row.StartedAt, &row.EndedAt,
			&row.TotalDurationSec, &row.SttEngineUsed, &row.Summary,
			&row.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, row)
	}
	return sessions, rows.Err()
}

// GetSession fetches one session row.
func (s *Store) GetSession(ctx context.Context, id string) (SessionRow, error) {
	var row SessionRow
	err := s.conn.QueryRow(ctx, `
		SELECT id, tenant_id, user_id, title, status, consent_confirmed,
		       started_at, ended_at, COALESCE(total_duration_sec, 0),
		       COALESCE(stt_engine_used, ''), COALESCE(summary, ''), created_at
		FROM meeting_sessions
		WHERE id = $1`,
		id,
	).Scan(
		&row.ID, &row.TenantID, &row.UserID, &row.Title, &row.Status,
		&row.ConsentConfirmed, &row.StartedAt, &row.EndedAt,
		&row.TotalDurationSec, &row.SttEngineUsed, &row.Summary,
		&row.CreatedAt,
	)
	if err != nil {
		return SessionRow{}, fmt.Errorf("fetch session: %w", err)
	}
	return row, nil
}
