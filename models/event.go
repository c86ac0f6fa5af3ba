package models

import (
	"time"
)

// Enrollment lifecycle event types
const (
	EventEnrolled     = "enrolled"
	EventStepSent     = "step_sent"
	EventStepFailed   = "step_failed"
	EventStopped      = "stopped"
	EventCompleted    = "completed"
	EventReplyMatched = "reply_matched"
)

// EnrollmentEvent is an append-only lifecycle record. The reporting layer
// consumes these; nothing in this service updates or deletes them.
type EnrollmentEvent struct {
	ID         uint                   `gorm:"primaryKey" json:"id"`
	EntityType string                 `gorm:"not null;default:'enrollment';index" json:"entity_type"`
	EntityID   uint                   `gorm:"not null;index" json:"entity_id"`
	EventType  string                 `gorm:"not null" json:"event_type"`
	Payload    map[string]interface{} `gorm:"type:jsonb;serializer:json" json:"payload,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
}
