package repository

import (
	"context"
	"time"
)

type CreateSessionInput struct {
	ID             string
	InputDeviceID  string
	OutputDeviceID string
	LanguageCode   string
	Diarization    bool
	StartedAt      time.Time
}

type CompleteSessionInput struct {
	SessionID      string
	EndedAt        time.Time
	Status         SessionStatus
	ReconnectCount int
	LastError      string
	SegmentCount   int
}

type InsertSegmentInput struct {
	SessionID    string
	SegmentIndex int
	Content      string
	Speaker      string
	Start        time.Duration
	End          time.Duration
	Epoch        int
}

type SessionRepository interface {
	CreateSession(ctx context.Context, input CreateSessionInput) (*Session, error)
	CompleteSession(ctx context.Context, input CompleteSessionInput) error
	GetSession(ctx context.Context, sessionID string) (*Session, error)
}

type TranscriptRepository interface {
	InsertSegment(ctx context.Context, input InsertSegmentInput) error
	ListSegmentsBySessionID(ctx context.Context, sessionID string) ([]TranscriptSegment, error)
}

type Repository interface {
	SessionRepository
	TranscriptRepository
}
