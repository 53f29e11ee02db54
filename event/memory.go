package event

import (
	"context"
	"sync"
	"time"

	"gofalre.io/inventory/models"
)

// MemoryRepository keeps processed-event records in memory for tests.
type MemoryRepository struct {
	mu     sync.Mutex
	events map[string]*models.ProcessedEvent
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{events: make(map[string]*models.ProcessedEvent)}
}

func (r *MemoryRepository) Create(_ context.Context, event *models.ProcessedEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	if existing, ok := r.events[event.ID]; ok {
		existing.Topic = event.Topic
		existing.UpdatedAt = now
		return nil
	}

	copied := *event
	copied.CreatedAt = now
	copied.UpdatedAt = now
	r.events[copied.ID] = &copied
	return nil
}

func (r *MemoryRepository) GetByID(_ context.Context, id string) (*models.ProcessedEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	event, ok := r.events[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *event
	return &copied, nil
}

func (r *MemoryRepository) MarkAsProcessed(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if event, ok := r.events[id]; ok {
		event.Processed = true
		event.UpdatedAt = time.Now().UTC()
	}
	return nil
}
