package utils

import (
	"errors"
	"testing"

	"dealflow/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// fakeProvider stands in for a channel provider and records what it sent
type fakeProvider struct {
	sent []OutboundPayload
	err  error
}

func (fp *fakeProvider) Send(payload OutboundPayload) (string, error) {
	if fp.err != nil {
		return "", fp.err
	}
	fp.sent = append(fp.sent, payload)
	return "fake-id-123", nil
}

func newTestDispatcher(db *gorm.DB, email, sms ChannelProvider) *MessageDispatcher {
	providers := &ProviderSet{
		Email:    email,
		SMS:      sms,
		CallTask: &TaskProvider{DB: db, Kind: "call"},
		Task:     &TaskProvider{DB: db, Kind: "todo"},
	}
	return NewMessageDispatcher(db, providers, newTestRecorder(db), 3)
}

func activeEnrollment(t *testing.T, db *gorm.DB, sequence *models.Sequence, deal *models.Deal) *models.SequenceEnrollment {
	t.Helper()
	enrollment := models.SequenceEnrollment{
		SequenceID:     sequence.ID,
		DealID:         deal.ID,
		UserID:         deal.UserID,
		Status:         models.EnrollmentStatusActive,
		RecipientEmail: deal.Contact.Email,
		RecipientPhone: deal.Contact.Phone,
	}
	require.NoError(t, db.Create(&enrollment).Error)
	return &enrollment
}

func TestDispatcherSendEmail(t *testing.T) {
	db := newTestDB(t)
	sequence := seedSequence(t, db,
		models.SequenceStep{Channel: models.ChannelEmail, Subject: "About {{deal_name}}", Body: "Hi {{first_name}}"},
	)
	deal := seedDealWithContact(t, db, "proposal")
	enrollment := activeEnrollment(t, db, sequence, deal)

	email := &fakeProvider{}
	md := newTestDispatcher(db, email, &fakeProvider{})

	message, err := md.Send(enrollment, &sequence.Steps[0])
	require.NoError(t, err)

	assert.Equal(t, models.MessageStatusSent, message.Status)
	assert.Equal(t, "fake-id-123", message.ProviderMessageID)
	assert.NotNil(t, message.SentAt)
	assert.Equal(t, "ada@example.com", message.Recipient)

	require.Len(t, email.sent, 1)
	assert.Equal(t, "About Engine rollout", email.sent[0].Subject)
	assert.Equal(t, "Hi Ada", email.sent[0].Body)

	// Successful outbound sends update the deal touch summary
	var touched models.Deal
	require.NoError(t, db.First(&touched, deal.ID).Error)
	assert.Equal(t, 1, touched.TouchCount)
	assert.NotNil(t, touched.LastTouchAt)

	var events int64
	require.NoError(t, db.Model(&models.EnrollmentEvent{}).
		Where("entity_id = ? AND event_type = ?", enrollment.ID, models.EventStepSent).
		Count(&events).Error)
	assert.Equal(t, int64(1), events)
}

func TestDispatcherTaskChannelSkipsTouch(t *testing.T) {
	db := newTestDB(t)
	sequence := seedSequence(t, db,
		models.SequenceStep{Channel: models.ChannelCallTask, Subject: "Call {{first_name}}"},
	)
	deal := seedDealWithContact(t, db, "proposal")
	enrollment := activeEnrollment(t, db, sequence, deal)

	md := newTestDispatcher(db, &fakeProvider{}, &fakeProvider{})

	message, err := md.Send(enrollment, &sequence.Steps[0])
	require.NoError(t, err)
	assert.Equal(t, models.MessageStatusSent, message.Status)

	// The step materializes as a CRM task row
	var task models.Task
	require.NoError(t, db.Where("deal_id = ?", deal.ID).First(&task).Error)
	assert.Equal(t, "call", task.Kind)
	assert.Equal(t, "Call Ada", task.Title)

	// Internal task rows are not a deal touch
	var untouched models.Deal
	require.NoError(t, db.First(&untouched, deal.ID).Error)
	assert.Equal(t, 0, untouched.TouchCount)
	assert.Nil(t, untouched.LastTouchAt)
}

func TestDispatcherSendFailure(t *testing.T) {
	db := newTestDB(t)
	sequence := seedSequence(t, db,
		models.SequenceStep{Channel: models.ChannelEmail, Body: "Hi"},
	)
	deal := seedDealWithContact(t, db, "proposal")
	enrollment := activeEnrollment(t, db, sequence, deal)

	md := newTestDispatcher(db, &fakeProvider{err: errors.New("smtp timeout")}, &fakeProvider{})

	message, err := md.Send(enrollment, &sequence.Steps[0])
	require.Error(t, err)
	require.NotNil(t, message)

	var stored models.OutboundMessage
	require.NoError(t, db.First(&stored, message.ID).Error)
	assert.Equal(t, models.MessageStatusFailed, stored.Status)
	assert.Equal(t, 1, stored.RetryCount)
	assert.Contains(t, stored.ErrorMessage, "smtp timeout")

	var untouched models.Deal
	require.NoError(t, db.First(&untouched, deal.ID).Error)
	assert.Equal(t, 0, untouched.TouchCount)

	var events int64
	require.NoError(t, db.Model(&models.EnrollmentEvent{}).
		Where("entity_id = ? AND event_type = ?", enrollment.ID, models.EventStepFailed).
		Count(&events).Error)
	assert.Equal(t, int64(1), events)
}

func TestDispatcherRetryCap(t *testing.T) {
	db := newTestDB(t)
	sequence := seedSequence(t, db,
		models.SequenceStep{Channel: models.ChannelEmail, Body: "Hi"},
	)
	deal := seedDealWithContact(t, db, "proposal")
	enrollment := activeEnrollment(t, db, sequence, deal)

	md := newTestDispatcher(db, &fakeProvider{err: errors.New("smtp timeout")}, &fakeProvider{})
	md.MaxRetries = 2

	_, err := md.Send(enrollment, &sequence.Steps[0])
	require.Error(t, err)
	_, err = md.Send(enrollment, &sequence.Steps[0])
	require.Error(t, err)

	// Two failed attempts hit the cap; the third refuses before queueing
	_, err = md.Send(enrollment, &sequence.Steps[0])
	assert.ErrorIs(t, err, ErrRetriesExhausted)

	var attempts int64
	require.NoError(t, db.Model(&models.OutboundMessage{}).
		Where("enrollment_id = ?", enrollment.ID).Count(&attempts).Error)
	assert.Equal(t, int64(2), attempts)
}

func TestDispatcherRejectsInactiveEnrollment(t *testing.T) {
	db := newTestDB(t)
	sequence := seedSequence(t, db,
		models.SequenceStep{Channel: models.ChannelEmail, Body: "Hi"},
	)
	deal := seedDealWithContact(t, db, "proposal")
	enrollment := activeEnrollment(t, db, sequence, deal)
	enrollment.Status = models.EnrollmentStatusStopped

	md := newTestDispatcher(db, &fakeProvider{}, &fakeProvider{})

	_, err := md.Send(enrollment, &sequence.Steps[0])
	assert.ErrorIs(t, err, ErrEnrollmentNotActive)
}

func TestDispatcherInvalidRecipient(t *testing.T) {
	db := newTestDB(t)
	sequence := seedSequence(t, db,
		models.SequenceStep{Channel: models.ChannelEmail, Body: "Hi"},
	)
	deal := seedDealWithContact(t, db, "proposal")
	enrollment := activeEnrollment(t, db, sequence, deal)
	require.NoError(t, db.Model(enrollment).Update("recipient_email", "not-an-email").Error)
	enrollment.RecipientEmail = "not-an-email"

	md := newTestDispatcher(db, &fakeProvider{}, &fakeProvider{})

	_, err := md.Send(enrollment, &sequence.Steps[0])
	require.Error(t, err)

	var attempts int64
	require.NoError(t, db.Model(&models.OutboundMessage{}).Count(&attempts).Error)
	assert.Equal(t, int64(0), attempts)
}

func TestDispatcherTemplateFallback(t *testing.T) {
	db := newTestDB(t)
	tmpl := models.Template{UserID: 1, Name: "intro", Subject: "Welcome {{first_name}}", Body: "Template body"}
	require.NoError(t, db.Create(&tmpl).Error)

	sequence := seedSequence(t, db,
		models.SequenceStep{Channel: models.ChannelEmail, TemplateID: &tmpl.ID},
	)
	deal := seedDealWithContact(t, db, "proposal")
	enrollment := activeEnrollment(t, db, sequence, deal)

	email := &fakeProvider{}
	md := newTestDispatcher(db, email, &fakeProvider{})

	_, err := md.Send(enrollment, &sequence.Steps[0])
	require.NoError(t, err)

	require.Len(t, email.sent, 1)
	assert.Equal(t, "Welcome Ada", email.sent[0].Subject)
	assert.Equal(t, "Template body", email.sent[0].Body)
}

func TestDispatcherRetryFailed(t *testing.T) {
	db := newTestDB(t)
	sequence := seedSequence(t, db,
		models.SequenceStep{Channel: models.ChannelEmail, Body: "Hi"},
	)
	deal := seedDealWithContact(t, db, "proposal")
	enrollment := activeEnrollment(t, db, sequence, deal)

	email := &fakeProvider{err: errors.New("smtp timeout")}
	md := newTestDispatcher(db, email, &fakeProvider{})

	_, err := md.Send(enrollment, &sequence.Steps[0])
	require.Error(t, err)

	// Provider recovers; the retry pass re-sends as a fresh attempt row
	email.err = nil
	retried, errs := md.RetryFailed()
	assert.Equal(t, 1, retried)
	assert.Empty(t, errs)

	var attempts []models.OutboundMessage
	require.NoError(t, db.Where("enrollment_id = ?", enrollment.ID).
		Order("id ASC").Find(&attempts).Error)
	require.Len(t, attempts, 2)
	assert.Equal(t, models.MessageStatusFailed, attempts[0].Status)
	assert.Equal(t, models.MessageStatusSent, attempts[1].Status)

	// The superseded failure is not retried again
	retried, errs = md.RetryFailed()
	assert.Equal(t, 0, retried)
	assert.Empty(t, errs)
}

func TestDispatcherRetryFailedSkipsStoppedEnrollments(t *testing.T) {
	db := newTestDB(t)
	sequence := seedSequence(t, db,
		models.SequenceStep{Channel: models.ChannelEmail, Body: "Hi"},
	)
	deal := seedDealWithContact(t, db, "proposal")
	enrollment := activeEnrollment(t, db, sequence, deal)

	email := &fakeProvider{err: errors.New("smtp timeout")}
	md := newTestDispatcher(db, email, &fakeProvider{})

	_, err := md.Send(enrollment, &sequence.Steps[0])
	require.Error(t, err)

	require.NoError(t, db.Model(enrollment).Update("status", models.EnrollmentStatusStopped).Error)

	email.err = nil
	retried, errs := md.RetryFailed()
	assert.Equal(t, 0, retried)
	assert.Empty(t, errs)

	var attempts int64
	require.NoError(t, db.Model(&models.OutboundMessage{}).Count(&attempts).Error)
	assert.Equal(t, int64(1), attempts)
}
