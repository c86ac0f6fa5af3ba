package utils

import (
	"errors"
	"fmt"
	"log"
	"time"

	"dealflow/models"

	"gorm.io/gorm"
)

var (
	// ErrAlreadyEnrolled is returned when an active enrollment already
	// exists for the (sequence, deal) pair
	ErrAlreadyEnrolled = errors.New("deal is already enrolled in this sequence")

	// ErrSequenceDisabled is returned when the sequence is not enabled
	ErrSequenceDisabled = errors.New("sequence is disabled")

	// ErrSequenceEmpty is returned when the sequence has no steps to run
	ErrSequenceEmpty = errors.New("sequence has no steps")
)

// EnrollmentManager owns enrollment lifecycle: it creates enrollments with a
// computed first-run time and performs idempotent stops. Advancing the
// cursor is the scheduler's job.
type EnrollmentManager struct {
	DB     *gorm.DB
	Events *EventRecorder
	Logger *log.Logger

	now func() time.Time
}

func NewEnrollmentManager(db *gorm.DB, events *EventRecorder, logger *log.Logger) *EnrollmentManager {
	return &EnrollmentManager{
		DB:     db,
		Events: events,
		Logger: logger,
		now:    time.Now,
	}
}

// StepDelay converts a step's (days, hours) delay into a duration
func StepDelay(step *models.SequenceStep) time.Duration {
	return time.Duration(step.DelayDays)*24*time.Hour + time.Duration(step.DelayHours)*time.Hour
}

// Start enrolls a deal into a sequence at step 0. Starting while an active
// enrollment exists for the same pair fails with ErrAlreadyEnrolled.
func (em *EnrollmentManager) Start(sequenceID, dealID uint) (*models.SequenceEnrollment, error) {
	var sequence models.Sequence
	if err := em.DB.Preload("Steps", func(db *gorm.DB) *gorm.DB {
		return db.Order("step_order ASC")
	}).First(&sequence, sequenceID).Error; err != nil {
		return nil, fmt.Errorf("sequence not found: %w", err)
	}

	if !sequence.Enabled {
		return nil, ErrSequenceDisabled
	}
	if len(sequence.Steps) == 0 {
		return nil, ErrSequenceEmpty
	}

	var deal models.Deal
	if err := em.DB.Preload("Contact").First(&deal, dealID).Error; err != nil {
		return nil, fmt.Errorf("deal not found: %w", err)
	}

	// Reject a second active enrollment for the same pair
	var existing models.SequenceEnrollment
	err := em.DB.Where("sequence_id = ? AND deal_id = ? AND status = ?",
		sequenceID, dealID, models.EnrollmentStatusActive).First(&existing).Error
	if err == nil {
		return nil, ErrAlreadyEnrolled
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	now := em.now()
	firstRun := now.Add(StepDelay(&sequence.Steps[0]))

	enrollment := models.SequenceEnrollment{
		SequenceID:      sequenceID,
		DealID:          dealID,
		UserID:          sequence.UserID,
		Status:          models.EnrollmentStatusActive,
		CurrentStep:     0,
		RecipientEmail:  deal.Contact.Email,
		RecipientPhone:  deal.Contact.Phone,
		NextExecutionAt: &firstRun,
	}

	if err := em.DB.Create(&enrollment).Error; err != nil {
		return nil, fmt.Errorf("failed to create enrollment: %w", err)
	}

	em.Events.Record(enrollment.ID, models.EventEnrolled, map[string]interface{}{
		"sequence_id":       sequenceID,
		"deal_id":           dealID,
		"next_execution_at": firstRun,
	})

	return &enrollment, nil
}

// Stop halts an enrollment with the given reason. Stopping an enrollment
// that is no longer active is a no-op, not an error.
func (em *EnrollmentManager) Stop(enrollmentID uint, reason string) error {
	var enrollment models.SequenceEnrollment
	if err := em.DB.First(&enrollment, enrollmentID).Error; err != nil {
		return fmt.Errorf("enrollment not found: %w", err)
	}

	if enrollment.Status == models.EnrollmentStatusStopped ||
		enrollment.Status == models.EnrollmentStatusCompleted {
		return nil
	}

	if err := em.DB.Model(&enrollment).Updates(map[string]interface{}{
		"status":      models.EnrollmentStatusStopped,
		"stop_reason": reason,
	}).Error; err != nil {
		return fmt.Errorf("failed to stop enrollment: %w", err)
	}

	em.Events.Record(enrollmentID, models.EventStopped, map[string]interface{}{
		"reason": reason,
	})

	return nil
}
