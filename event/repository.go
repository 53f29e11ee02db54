// Package event records inbound bus messages so at-least-once redelivery
// does not replay their side effects.
package event

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"gofalre.io/inventory/driver"
	"gofalre.io/inventory/models"
)

var _ Repository = (*repository)(nil)

// ErrNotFound is returned when an event id has never been seen.
var ErrNotFound = errors.New("event not found")

type Repository interface {
	Create(ctx context.Context, event *models.ProcessedEvent) error
	GetByID(ctx context.Context, id string) (*models.ProcessedEvent, error)
	MarkAsProcessed(ctx context.Context, id string) error
}

type repository struct {
	conn   driver.PostgresPool
	logger *zap.Logger
}

func NewRepository(conn driver.PostgresPool, logger *zap.Logger) Repository {
	return &repository{
		conn:   conn,
		logger: logger,
	}
}

func (r *repository) Create(ctx context.Context, event *models.ProcessedEvent) error {
	_, err := r.conn.Exec(ctx,
		`INSERT INTO processed_events (id, topic, processed, created_at, updated_at)
		 VALUES ($1, $2, $3, now(), now())
		 ON CONFLICT (id) DO UPDATE SET topic = EXCLUDED.topic, updated_at = now()`,
		event.ID, event.Topic, event.Processed)
	if err != nil {
		r.logger.Error("failed to create event record", zap.String("event_id", event.ID), zap.Error(err))
	}
	return err
}

func (r *repository) GetByID(ctx context.Context, id string) (*models.ProcessedEvent, error) {
	var event models.ProcessedEvent
	err := r.conn.QueryRow(ctx,
		`SELECT id, topic, processed, created_at, updated_at FROM processed_events WHERE id = $1`, id).
		Scan(&event.ID, &event.Topic, &event.Processed, &event.CreatedAt, &event.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *repository) MarkAsProcessed(ctx context.Context, id string) error {
	_, err := r.conn.Exec(ctx,
		`UPDATE processed_events SET processed = true, updated_at = now() WHERE id = $1`, id)
	return err
}
