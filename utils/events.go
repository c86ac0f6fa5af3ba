package utils

import (
	"log"

	"dealflow/models"

	"gorm.io/gorm"
)

// EventRecorder appends enrollment lifecycle events. The store is
// append-only; there is no update or delete path.
type EventRecorder struct {
	DB     *gorm.DB
	Logger *log.Logger

	// Broadcast, when set, receives every recorded event (used by the live
	// event feed). Must not block.
	Broadcast func(event models.EnrollmentEvent)
}

func NewEventRecorder(db *gorm.DB, logger *log.Logger) *EventRecorder {
	return &EventRecorder{
		DB:     db,
		Logger: logger,
	}
}

// Record appends one lifecycle event for an enrollment. Recording failures
// are logged, never propagated: the transition itself already happened.
func (er *EventRecorder) Record(enrollmentID uint, eventType string, payload map[string]interface{}) {
	event := models.EnrollmentEvent{
		EntityType: "enrollment",
		EntityID:   enrollmentID,
		EventType:  eventType,
		Payload:    payload,
	}

	if err := er.DB.Create(&event).Error; err != nil {
		er.Logger.Printf("Failed to record %s event for enrollment %d: %v", eventType, enrollmentID, err)
		return
	}

	if er.Broadcast != nil {
		er.Broadcast(event)
	}
}
