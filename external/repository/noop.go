package repository

import (
	"context"

	"github.com/pbarone/meetingtranscribermacos/internal/repository"
)

type NoopRepository struct{}

func NewNoopRepository() repository.Repository {
	return NoopRepository{}
}

func (NoopRepository) CreateSession(_ context.Context, input repository.CreateSessionInput) (*repository.Session, error) {
	return &repository.Session{
		ID:             input.ID,
		InputDeviceID:  input.InputDeviceID,
		OutputDeviceID: input.OutputDeviceID,
		LanguageCode:   input.LanguageCode,
		Diarization:    input.Diarization,
		StartedAt:      input.StartedAt,
		Status:         repository.SessionStatusRunning,
	}, nil
}

func (NoopRepository) CompleteSession(context.Context, repository.CompleteSessionInput) error {
	return nil
}

func (NoopRepository) GetSession(context.Context, string) (*repository.Session, error) {
	return nil, nil
}

func (NoopRepository) InsertSegment(context.Context, repository.InsertSegmentInput) error {
	return nil
}

func (NoopRepository) ListSegmentsBySessionID(context.Context, string) ([]repository.TranscriptSegment, error) {
	return nil, nil
}
