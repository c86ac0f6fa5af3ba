package utils

import (
	"errors"
	"fmt"
	"time"

	"dealflow/models"

	"github.com/badoux/checkmail"
	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var (
	// ErrEnrollmentNotActive guards the invariant that a non-active
	// enrollment never gains outbound messages
	ErrEnrollmentNotActive = errors.New("enrollment is not active")

	// ErrRetriesExhausted marks a step whose attempts hit the retry cap
	ErrRetriesExhausted = errors.New("send retries exhausted for this step")
)

// MessageDispatcher turns a due step into an outbound message, sends it
// through the channel provider and records the delivery result. Attempt rows
// are immutable history: retries create fresh rows, a failure never
// overwrites a prior success.
type MessageDispatcher struct {
	DB         *gorm.DB
	Providers  *ProviderSet
	Events     *EventRecorder
	MaxRetries int

	now func() time.Time
}

func NewMessageDispatcher(db *gorm.DB, providers *ProviderSet, events *EventRecorder, maxRetries int) *MessageDispatcher {
	return &MessageDispatcher{
		DB:         db,
		Providers:  providers,
		Events:     events,
		MaxRetries: maxRetries,
		now:        time.Now,
	}
}

// Send executes one step for one enrollment
func (md *MessageDispatcher) Send(enrollment *models.SequenceEnrollment, step *models.SequenceStep) (*models.OutboundMessage, error) {
	if enrollment.Status != models.EnrollmentStatusActive {
		return nil, ErrEnrollmentNotActive
	}

	// Bounded retry policy: once the step's failed attempts hit the cap the
	// step is terminal and is reported instead of re-sent
	var priorFailures int64
	if err := md.DB.Model(&models.OutboundMessage{}).
		Where("enrollment_id = ? AND step_id = ? AND status = ?",
			enrollment.ID, step.ID, models.MessageStatusFailed).
		Count(&priorFailures).Error; err != nil {
		return nil, err
	}
	if int(priorFailures) >= md.MaxRetries {
		return nil, ErrRetriesExhausted
	}

	var deal models.Deal
	if err := md.DB.Preload("Contact").First(&deal, enrollment.DealID).Error; err != nil {
		return nil, fmt.Errorf("deal not found: %w", err)
	}

	subject, body, err := md.resolveContent(step)
	if err != nil {
		return nil, err
	}

	fields := MergeFields(&deal, &deal.Contact)
	payload := OutboundPayload{
		UserID:  enrollment.UserID,
		DealID:  deal.ID,
		Subject: RenderTemplate(subject, fields),
		Body:    RenderTemplate(body, fields),
	}

	payload.Recipient, err = md.resolveRecipient(enrollment, step.Channel)
	if err != nil {
		return nil, err
	}

	message := models.OutboundMessage{
		EnrollmentID: enrollment.ID,
		StepID:       step.ID,
		UserID:       enrollment.UserID,
		Channel:      step.Channel,
		Recipient:    payload.Recipient,
		Subject:      payload.Subject,
		Body:         payload.Body,
		Status:       models.MessageStatusQueued,
		RetryCount:   int(priorFailures),
	}
	if err := md.DB.Create(&message).Error; err != nil {
		return nil, fmt.Errorf("failed to queue message: %w", err)
	}

	if err := md.attemptSend(&message, payload); err != nil {
		return &message, err
	}
	return &message, nil
}

// RetryFailed re-attempts failed sends still under the retry cap for active
// enrollments. Each re-attempt is a fresh row referencing the same step.
func (md *MessageDispatcher) RetryFailed() (int, []string) {
	var candidates []models.OutboundMessage
	err := md.DB.
		Joins("JOIN sequence_enrollments ON sequence_enrollments.id = outbound_messages.enrollment_id").
		Where("outbound_messages.status = ? AND outbound_messages.retry_count < ? AND sequence_enrollments.status = ?",
			models.MessageStatusFailed, md.MaxRetries, models.EnrollmentStatusActive).
		Find(&candidates).Error
	if err != nil {
		return 0, []string{fmt.Sprintf("failed to load retry candidates: %v", err)}
	}

	retried := 0
	var errs []string
	for _, failed := range candidates {
		// Skip anything already superseded by a later attempt
		var newer int64
		if err := md.DB.Model(&models.OutboundMessage{}).
			Where("enrollment_id = ? AND step_id = ? AND id > ?",
				failed.EnrollmentID, failed.StepID, failed.ID).
			Count(&newer).Error; err != nil || newer > 0 {
			continue
		}

		attempt := models.OutboundMessage{
			EnrollmentID: failed.EnrollmentID,
			StepID:       failed.StepID,
			UserID:       failed.UserID,
			Channel:      failed.Channel,
			Recipient:    failed.Recipient,
			Subject:      failed.Subject,
			Body:         failed.Body,
			Status:       models.MessageStatusQueued,
			RetryCount:   failed.RetryCount,
		}
		if err := md.DB.Create(&attempt).Error; err != nil {
			errs = append(errs, fmt.Sprintf("enrollment %d: %v", failed.EnrollmentID, err))
			continue
		}

		var enrollment models.SequenceEnrollment
		if err := md.DB.First(&enrollment, attempt.EnrollmentID).Error; err != nil {
			errs = append(errs, fmt.Sprintf("enrollment %d: %v", attempt.EnrollmentID, err))
			continue
		}

		payload := OutboundPayload{
			UserID:    attempt.UserID,
			DealID:    enrollment.DealID,
			Recipient: attempt.Recipient,
			Subject:   attempt.Subject,
			Body:      attempt.Body,
		}
		if err := md.attemptSend(&attempt, payload); err != nil {
			errs = append(errs, fmt.Sprintf("enrollment %d step %d: %v", attempt.EnrollmentID, attempt.StepID, err))
			continue
		}
		retried++
	}

	return retried, errs
}

func (md *MessageDispatcher) attemptSend(message *models.OutboundMessage, payload OutboundPayload) error {
	provider, err := md.Providers.ForChannel(message.Channel)
	if err != nil {
		md.markFailed(message, err)
		return err
	}

	if err := md.DB.Model(message).Update("status", models.MessageStatusSending).Error; err != nil {
		return err
	}

	providerID, sendErr := provider.Send(payload)
	if sendErr != nil {
		md.markFailed(message, sendErr)
		return fmt.Errorf("provider send failed: %w", sendErr)
	}

	now := md.now()
	if err := md.DB.Model(message).Updates(map[string]interface{}{
		"status":              models.MessageStatusSent,
		"provider_message_id": providerID,
		"sent_at":             now,
	}).Error; err != nil {
		return err
	}
	message.Status = models.MessageStatusSent
	message.ProviderMessageID = providerID
	message.SentAt = &now

	logrus.WithFields(logrus.Fields{
		"enrollment_id": message.EnrollmentID,
		"channel":       message.Channel,
		"provider_id":   providerID,
	}).Info("outbound message sent")

	// Touch summary side effect applies to outbound-direction sends only,
	// never to internally-created task rows
	if message.Channel == models.ChannelEmail || message.Channel == models.ChannelSMS {
		md.touchDeal(payload.DealID, now)
	}

	md.Events.Record(message.EnrollmentID, models.EventStepSent, map[string]interface{}{
		"message_id": message.ID,
		"channel":    message.Channel,
	})

	return nil
}

func (md *MessageDispatcher) markFailed(message *models.OutboundMessage, sendErr error) {
	message.RetryCount++
	message.Status = models.MessageStatusFailed
	message.ErrorMessage = sendErr.Error()

	if err := md.DB.Model(message).Updates(map[string]interface{}{
		"status":        models.MessageStatusFailed,
		"error_message": sendErr.Error(),
		"retry_count":   message.RetryCount,
	}).Error; err != nil {
		logrus.WithError(err).Error("failed to record send failure")
	}

	logrus.WithFields(logrus.Fields{
		"enrollment_id": message.EnrollmentID,
		"channel":       message.Channel,
		"retry_count":   message.RetryCount,
	}).WithError(sendErr).Warn("outbound message failed")

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("channel", message.Channel)
		scope.SetExtra("enrollment_id", message.EnrollmentID)
		scope.SetExtra("retry_count", message.RetryCount)
		sentry.CaptureException(sendErr)
	})

	md.Events.Record(message.EnrollmentID, models.EventStepFailed, map[string]interface{}{
		"message_id":  message.ID,
		"channel":     message.Channel,
		"error":       sendErr.Error(),
		"retry_count": message.RetryCount,
	})
}

func (md *MessageDispatcher) resolveContent(step *models.SequenceStep) (string, string, error) {
	subject, body := step.Subject, step.Body

	// Inline content wins; fall back to the referenced template
	if body == "" && step.TemplateID != nil {
		var tmpl models.Template
		if err := md.DB.First(&tmpl, *step.TemplateID).Error; err != nil {
			return "", "", fmt.Errorf("template not found: %w", err)
		}
		body = tmpl.Body
		if subject == "" {
			subject = tmpl.Subject
		}
	}

	if body == "" && step.Channel != models.ChannelCallTask {
		return "", "", fmt.Errorf("step %d has no content", step.StepOrder)
	}
	return subject, body, nil
}

func (md *MessageDispatcher) resolveRecipient(enrollment *models.SequenceEnrollment, channel string) (string, error) {
	switch channel {
	case models.ChannelEmail:
		if err := checkmail.ValidateFormat(enrollment.RecipientEmail); err != nil {
			return "", fmt.Errorf("invalid recipient email %q: %w", enrollment.RecipientEmail, err)
		}
		return enrollment.RecipientEmail, nil
	case models.ChannelSMS:
		if enrollment.RecipientPhone == "" {
			return "", fmt.Errorf("enrollment %d has no recipient phone", enrollment.ID)
		}
		return enrollment.RecipientPhone, nil
	default:
		// Task channels are internal; the assignee comes from the deal owner
		return "", nil
	}
}

func (md *MessageDispatcher) touchDeal(dealID uint, now time.Time) {
	if dealID == 0 {
		return
	}
	if err := md.DB.Model(&models.Deal{}).Where("id = ?", dealID).
		Updates(map[string]interface{}{
			"last_touch_at": now,
			"touch_count":   gorm.Expr("touch_count + ?", 1),
		}).Error; err != nil {
		logrus.WithError(err).WithField("deal_id", dealID).Error("failed to update deal touch summary")
	}
}
