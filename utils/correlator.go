package utils

import (
	"errors"
	"log"

	"dealflow/models"

	"gorm.io/gorm"
)

// ErrNoMatchingEnrollment is informational: an unmatched reply is stored
// anyway, it just influences nothing.
var ErrNoMatchingEnrollment = errors.New("no active enrollment matches the sender")

// Correlator matches inbound replies to the enrollment they should
// influence. It only writes advisory state; stopping is always the
// scheduler's decision.
type Correlator struct {
	DB     *gorm.DB
	Events *EventRecorder
	Logger *log.Logger
}

func NewCorrelator(db *gorm.DB, events *EventRecorder, logger *log.Logger) *Correlator {
	return &Correlator{
		DB:     db,
		Events: events,
		Logger: logger,
	}
}

// OnInboundReceived stores an inbound message and correlates it against
// active enrollments by recipient identity. Delivering the same
// provider_message_id twice returns the original row unchanged.
func (cr *Correlator) OnInboundReceived(message *models.InboundMessage) (*models.InboundMessage, error) {
	// Webhooks get retried upstream; dedupe on the provider's message id
	if message.ProviderMessageID != "" {
		var existing models.InboundMessage
		err := cr.DB.Where("provider_message_id = ?", message.ProviderMessageID).
			First(&existing).Error
		if err == nil {
			return &existing, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	if err := cr.DB.Create(message).Error; err != nil {
		return nil, err
	}

	enrollment, err := cr.matchEnrollment(message.SenderIdentity)
	if err != nil {
		if errors.Is(err, ErrNoMatchingEnrollment) {
			cr.Logger.Printf("No matching enrollment for inbound message %d from %s", message.ID, message.SenderIdentity)
			return message, nil
		}
		return nil, err
	}

	if err := cr.DB.Model(message).Updates(map[string]interface{}{
		"matched_enrollment_id": enrollment.ID,
		"user_id":               enrollment.UserID,
		"processed":             false,
	}).Error; err != nil {
		return nil, err
	}
	message.MatchedEnrollmentID = &enrollment.ID

	cr.Events.Record(enrollment.ID, models.EventReplyMatched, map[string]interface{}{
		"inbound_message_id": message.ID,
		"channel":            message.Channel,
	})

	return message, nil
}

// matchEnrollment finds the active enrollment whose recipient identity
// matches the inbound sender, preferring the most recently started one.
func (cr *Correlator) matchEnrollment(senderIdentity string) (*models.SequenceEnrollment, error) {
	if senderIdentity == "" {
		return nil, ErrNoMatchingEnrollment
	}

	var enrollment models.SequenceEnrollment
	err := cr.DB.
		Where("status = ? AND (recipient_email = ? OR recipient_phone = ?)",
			models.EnrollmentStatusActive, senderIdentity, senderIdentity).
		Order("created_at DESC").
		First(&enrollment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoMatchingEnrollment
	}
	if err != nil {
		return nil, err
	}

	return &enrollment, nil
}

// HasUnprocessedReply reports whether a correlated, not yet consumed reply
// exists for the enrollment. The scheduler feeds this to the stop rules.
func HasUnprocessedReply(db *gorm.DB, enrollmentID uint) (bool, error) {
	var count int64
	err := db.Model(&models.InboundMessage{}).
		Where("matched_enrollment_id = ? AND processed = ?", enrollmentID, false).
		Count(&count).Error
	return count > 0, err
}

// MarkRepliesProcessed consumes the enrollment's pending replies so one
// reply influences exactly one scheduler evaluation
func MarkRepliesProcessed(db *gorm.DB, enrollmentID uint) error {
	return db.Model(&models.InboundMessage{}).
		Where("matched_enrollment_id = ? AND processed = ?", enrollmentID, false).
		Update("processed", true).Error
}
