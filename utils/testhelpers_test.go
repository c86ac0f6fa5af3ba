package utils

import (
	"io"
	"log"
	"testing"

	"dealflow/config"
	"dealflow/models"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	// A single connection keeps every query on the same in-memory database
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, config.MigrateDB(db))
	return db
}

func newTestLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func newTestRecorder(db *gorm.DB) *EventRecorder {
	return NewEventRecorder(db, newTestLogger())
}

func seedDealWithContact(t *testing.T, db *gorm.DB, stage string) *models.Deal {
	t.Helper()

	contact := models.Contact{
		UserID:    1,
		FirstName: "Ada",
		LastName:  "Lovelace",
		Email:     "ada@example.com",
		Phone:     "+15550001111",
		Company:   "Analytical Engines",
		Position:  "CTO",
	}
	require.NoError(t, db.Create(&contact).Error)

	deal := models.Deal{
		UserID:    1,
		ContactID: contact.ID,
		Name:      "Engine rollout",
		Stage:     stage,
		Value:     250000,
		Contact:   contact,
	}
	require.NoError(t, db.Create(&deal).Error)
	return &deal
}

func seedSequence(t *testing.T, db *gorm.DB, steps ...models.SequenceStep) *models.Sequence {
	t.Helper()

	sequence := models.Sequence{
		UserID:       1,
		Name:         "Follow-up",
		TriggerStage: "proposal",
		Enabled:      true,
		StopOnReply:  true,
	}
	require.NoError(t, db.Create(&sequence).Error)

	for i := range steps {
		steps[i].SequenceID = sequence.ID
		steps[i].StepOrder = i
		require.NoError(t, db.Create(&steps[i]).Error)
	}
	sequence.Steps = steps
	return &sequence
}
