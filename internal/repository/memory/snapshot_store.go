package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/kjannette/bullion-backend/internal/models"
	"github.com/kjannette/bullion-backend/internal/repository"
)

type SnapshotStore struct {
	mu   sync.RWMutex
	data map[uuid.UUID]models.PriceSnapshot
}

var _ repository.SnapshotStore = (*SnapshotStore)(nil)

func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{data: make(map[uuid.UUID]models.PriceSnapshot)}
}

func (s *SnapshotStore) CreateSnapshot(_ context.Context, snap *models.PriceSnapshot) error {
	if snap == nil || snap.ID == uuid.Nil {
		return repository.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[snap.ID]; exists {
		return repository.ErrDuplicateKey
	}
	s.data[snap.ID] = *snap
	return nil
}

func (s *SnapshotStore) GetSnapshot(_ context.Context, id uuid.UUID) (*models.PriceSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.data[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &snap, nil
}
