package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pbarone/meetingtranscribermacos/internal/repository"
)

const sessionColumns = `id, input_device_id, output_device_id, language_code, diarization,
	started_at, ended_at, status, reconnect_count, last_error, segment_count`

type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) repository.Repository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) CreateSession(ctx context.Context, input repository.CreateSessionInput) (*repository.Session, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO capture_sessions (id, input_device_id, output_device_id, language_code, diarization, started_at, status)
		 VALUES ($1, $2, $3, $4, $5, $6, 'running')
		 RETURNING `+sessionColumns,
		input.ID, input.InputDeviceID, input.OutputDeviceID, input.LanguageCode, input.Diarization, input.StartedAt)
	return scanSession(row)
}

func (r *PostgresRepository) CompleteSession(ctx context.Context, input repository.CompleteSessionInput) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE capture_sessions
		 SET status = $2, ended_at = $3, reconnect_count = $4, last_error = $5, segment_count = $6
		 WHERE id = $1`,
		input.SessionID, string(input.Status), input.EndedAt, input.ReconnectCount, input.LastError, input.SegmentCount)
	return err
}

func (r *PostgresRepository) GetSession(ctx context.Context, sessionID string) (*repository.Session, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM capture_sessions WHERE id = $1`,
		sessionID)
	s, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

func scanSession(row pgx.Row) (*repository.Session, error) {
	var s repository.Session
	var endedAt *time.Time
	var status string
	err := row.Scan(&s.ID, &s.InputDeviceID, &s.OutputDeviceID, &s.LanguageCode, &s.Diarization,
		&s.StartedAt, &endedAt, &status, &s.ReconnectCount, &s.LastError, &s.SegmentCount)
	if err != nil {
		return nil, err
	}
	s.EndedAt = endedAt
	s.Status = repository.SessionStatus(status)
	return &s, nil
}

func (r *PostgresRepository) InsertSegment(ctx context.Context, input repository.InsertSegmentInput) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO transcript_segments (session_id, segment_index, content, speaker, start_ms, end_ms, epoch)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		input.SessionID, input.SegmentIndex, input.Content, input.Speaker,
		input.Start.Milliseconds(), input.End.Milliseconds(), input.Epoch)
	return err
}

func (r *PostgresRepository) ListSegmentsBySessionID(ctx context.Context, sessionID string) ([]repository.TranscriptSegment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, session_id, segment_index, content, speaker, start_ms, end_ms, epoch, created_at
		 FROM transcript_segments WHERE session_id = $1 ORDER BY segment_index ASC`,
		sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []repository.TranscriptSegment
	for rows.Next() {
		var seg repository.TranscriptSegment
		if err := rows.Scan(&seg.ID, &seg.SessionID, &seg.SegmentIndex, &seg.Content, &seg.Speaker,
			&seg.StartMs, &seg.EndMs, &seg.Epoch, &seg.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, seg)
	}
	return list, rows.Err()
}
