package memory

import (
	"context"
	"sort"
	"sync"

	"roomrec/internal/core/domain"
	"roomrec/internal/core/ports"
)

type MemorySessionRepository struct {
	records map[domain.SessionID]domain.SessionRecord
	mu      sync.RWMutex
}

func NewMemorySessionRepository() ports.SessionRepository {
	return &MemorySessionRepository{
		records: make(map[domain.SessionID]domain.SessionRecord),
	}
}

// Save upserts a copy of record.
func (r *MemorySessionRepository) Save(ctx context.Context, record *domain.SessionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.records[record.ID] = *record
	return nil
}

func (r *MemorySessionRepository) GetByID(ctx context.Context, id domain.SessionID) (*domain.SessionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, exists := r.records[id]
	if !exists {
		return nil, domain.ErrSessionNotFound
	}
	return &record, nil
}

func (r *MemorySessionRepository) Delete(ctx context.Context, id domain.SessionID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.records, id)
	return nil
}

func (r *MemorySessionRepository) List(ctx context.Context) ([]*domain.SessionRecord, error) {
	return r.filter(func(*domain.SessionRecord) bool { return true }), nil
}

func (r *MemorySessionRepository) ListRecording(ctx context.Context) ([]*domain.SessionRecord, error) {
	return r.filter((*domain.SessionRecord).Active), nil
}

func (r *MemorySessionRepository) filter(keep func(*domain.SessionRecord) bool) []*domain.SessionRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.SessionRecord, 0, len(r.records))
	for _, record := range r.records {
		rec := record
		if keep(&rec) {
			out = append(out, &rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out
}
