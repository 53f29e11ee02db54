package reservation

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"gofalre.io/inventory/models"
	"gofalre.io/inventory/models/enum"
)

// MemoryRepository is a mutex-guarded in-memory Repository for tests and
// single-process use. Transition semantics match the SQL implementation.
type MemoryRepository struct {
	mu           sync.Mutex
	reservations map[uuid.UUID]*models.Reservation
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		reservations: make(map[uuid.UUID]*models.Reservation),
	}
}

func (r *MemoryRepository) Create(_ context.Context, reservation *models.Reservation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	copied := *reservation
	now := time.Now().UTC()
	copied.CreatedAt = now
	copied.UpdatedAt = now
	r.reservations[copied.ID] = &copied
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, id uuid.UUID) (*models.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	reservation, ok := r.reservations[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *reservation
	return &copied, nil
}

func (r *MemoryRepository) ListByOrder(_ context.Context, orderID uuid.UUID) ([]*models.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	matched := make([]*models.Reservation, 0)
	for _, reservation := range r.reservations {
		if reservation.OrderID == orderID {
			copied := *reservation
			matched = append(matched, &copied)
		}
	}
	return matched, nil
}

func (r *MemoryRepository) ListExpired(_ context.Context, now time.Time, limit int) ([]*models.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	matched := make([]*models.Reservation, 0)
	for _, reservation := range r.reservations {
		if reservation.Status == enum.ReservationStatusActive && reservation.ReservedUntil.Before(now) {
			copied := *reservation
			matched = append(matched, &copied)
			if limit > 0 && len(matched) == limit {
				break
			}
		}
	}
	return matched, nil
}

func (r *MemoryRepository) Transition(_ context.Context, id uuid.UUID, to enum.ReservationStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	reservation, ok := r.reservations[id]
	if !ok || reservation.Status != enum.ReservationStatusActive {
		return false, nil
	}
	reservation.Status = to
	reservation.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (r *MemoryRepository) Reactivate(_ context.Context, id uuid.UUID, from enum.ReservationStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	reservation, ok := r.reservations[id]
	if !ok || reservation.Status != from {
		return nil
	}
	reservation.Status = enum.ReservationStatusActive
	reservation.UpdatedAt = time.Now().UTC()
	return nil
}
