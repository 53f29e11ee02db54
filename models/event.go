package models

import "time"

// ProcessedEvent tracks inbound bus messages that have been handled. The
// bus delivers at least once; handlers consult this record to stay
// idempotent under redelivery.
type ProcessedEvent struct {
	ID        string    `json:"id"`
	Topic     string    `json:"topic"`
	Processed bool      `json:"processed"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
