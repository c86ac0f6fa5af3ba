package utils

import (
	"testing"
	"time"

	"dealflow/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnrollmentManagerStart(t *testing.T) {
	db := newTestDB(t)
	sequence := seedSequence(t, db,
		models.SequenceStep{Channel: models.ChannelEmail, DelayDays: 1, DelayHours: 2, Body: "Hi {{first_name}}"},
		models.SequenceStep{Channel: models.ChannelEmail, DelayDays: 3, Body: "Bump"},
	)
	deal := seedDealWithContact(t, db, "proposal")

	em := NewEnrollmentManager(db, newTestRecorder(db), newTestLogger())
	frozen := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	em.now = func() time.Time { return frozen }

	enrollment, err := em.Start(sequence.ID, deal.ID)
	require.NoError(t, err)

	assert.Equal(t, models.EnrollmentStatusActive, enrollment.Status)
	assert.Equal(t, 0, enrollment.CurrentStep)
	assert.Equal(t, "ada@example.com", enrollment.RecipientEmail)
	assert.Equal(t, "+15550001111", enrollment.RecipientPhone)
	require.NotNil(t, enrollment.NextExecutionAt)
	assert.Equal(t, frozen.Add(26*time.Hour), enrollment.NextExecutionAt.UTC())

	var events []models.EnrollmentEvent
	require.NoError(t, db.Where("entity_id = ?", enrollment.ID).Find(&events).Error)
	require.Len(t, events, 1)
	assert.Equal(t, models.EventEnrolled, events[0].EventType)
}

func TestEnrollmentManagerStartRejectsDuplicate(t *testing.T) {
	db := newTestDB(t)
	sequence := seedSequence(t, db,
		models.SequenceStep{Channel: models.ChannelEmail, Body: "Hi"},
	)
	deal := seedDealWithContact(t, db, "proposal")

	em := NewEnrollmentManager(db, newTestRecorder(db), newTestLogger())

	first, err := em.Start(sequence.ID, deal.ID)
	require.NoError(t, err)

	_, err = em.Start(sequence.ID, deal.ID)
	assert.ErrorIs(t, err, ErrAlreadyEnrolled)

	// A stopped enrollment no longer blocks re-enrollment
	require.NoError(t, em.Stop(first.ID, models.StopReasonManual))
	_, err = em.Start(sequence.ID, deal.ID)
	assert.NoError(t, err)
}

func TestEnrollmentManagerStartValidation(t *testing.T) {
	db := newTestDB(t)
	deal := seedDealWithContact(t, db, "proposal")
	em := NewEnrollmentManager(db, newTestRecorder(db), newTestLogger())

	disabled := seedSequence(t, db,
		models.SequenceStep{Channel: models.ChannelEmail, Body: "Hi"},
	)
	require.NoError(t, db.Model(disabled).Update("enabled", false).Error)
	_, err := em.Start(disabled.ID, deal.ID)
	assert.ErrorIs(t, err, ErrSequenceDisabled)

	empty := seedSequence(t, db)
	_, err = em.Start(empty.ID, deal.ID)
	assert.ErrorIs(t, err, ErrSequenceEmpty)

	_, err = em.Start(999, deal.ID)
	assert.Error(t, err)
}

func TestEnrollmentManagerStopIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	sequence := seedSequence(t, db,
		models.SequenceStep{Channel: models.ChannelEmail, Body: "Hi"},
	)
	deal := seedDealWithContact(t, db, "proposal")

	em := NewEnrollmentManager(db, newTestRecorder(db), newTestLogger())
	enrollment, err := em.Start(sequence.ID, deal.ID)
	require.NoError(t, err)

	require.NoError(t, em.Stop(enrollment.ID, models.StopReasonReply))

	var stopped models.SequenceEnrollment
	require.NoError(t, db.First(&stopped, enrollment.ID).Error)
	assert.Equal(t, models.EnrollmentStatusStopped, stopped.Status)
	require.NotNil(t, stopped.StopReason)
	assert.Equal(t, models.StopReasonReply, *stopped.StopReason)

	// A second stop with a different reason changes nothing
	require.NoError(t, em.Stop(enrollment.ID, models.StopReasonManual))
	require.NoError(t, db.First(&stopped, enrollment.ID).Error)
	assert.Equal(t, models.StopReasonReply, *stopped.StopReason)

	var stopEvents int64
	require.NoError(t, db.Model(&models.EnrollmentEvent{}).
		Where("entity_id = ? AND event_type = ?", enrollment.ID, models.EventStopped).
		Count(&stopEvents).Error)
	assert.Equal(t, int64(1), stopEvents)
}

func TestStepDelay(t *testing.T) {
	step := models.SequenceStep{DelayDays: 2, DelayHours: 5}
	assert.Equal(t, 53*time.Hour, StepDelay(&step))

	assert.Equal(t, time.Duration(0), StepDelay(&models.SequenceStep{}))
}
