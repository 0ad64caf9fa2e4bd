package ports

import (
	"context"

	"roomrec/internal/core/domain"
)

type SessionRepository interface {
	Save(ctx context.Context, record *domain.SessionRecord) error
	GetByID(ctx context.Context, id domain.SessionID) (*domain.SessionRecord, error)
	Delete(ctx context.Context, id domain.SessionID) error
	List(ctx context.Context) ([]*domain.SessionRecord, error)
	ListRecording(ctx context.Context) ([]*domain.SessionRecord, error)
}
