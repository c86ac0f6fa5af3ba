package controller

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"dealflow/config"
	"dealflow/models"
	"dealflow/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newWebhookTestApp(t *testing.T) (*fiber.App, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, config.MigrateDB(db))

	discard := log.New(io.Discard, "", 0)
	correlator := utils.NewCorrelator(db, utils.NewEventRecorder(db, discard), discard)
	wc := NewWebhookController(db, correlator, discard)

	app := fiber.New()
	app.Post("/webhooks/inbound", wc.HandleInboundWebhook)
	return app, db
}

func postJSON(t *testing.T, app *fiber.App, payload map[string]interface{}) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/inbound", strings.NewReader(string(body)))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp
}

func TestHandleInboundWebhookJSON(t *testing.T) {
	app, db := newWebhookTestApp(t)

	enrollment := models.SequenceEnrollment{
		SequenceID:     1,
		DealID:         1,
		UserID:         1,
		Status:         models.EnrollmentStatusActive,
		RecipientEmail: "ada@example.com",
	}
	require.NoError(t, db.Create(&enrollment).Error)

	resp := postJSON(t, app, map[string]interface{}{
		"provider":            "sendgrid",
		"channel":             "email",
		"sender_identity":     "ada@example.com",
		"subject":             "Re: Engine rollout",
		"body":                "Let's talk",
		"provider_message_id": "msg-1",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		MessageID           uint  `json:"message_id"`
		MatchedEnrollmentID *uint `json:"matched_enrollment_id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.NotZero(t, out.MessageID)
	require.NotNil(t, out.MatchedEnrollmentID)
	assert.Equal(t, enrollment.ID, *out.MatchedEnrollmentID)
}

func TestHandleInboundWebhookForm(t *testing.T) {
	app, db := newWebhookTestApp(t)

	// SMS vendors post form-encoded callbacks
	form := url.Values{}
	form.Set("provider", "twilio")
	form.Set("channel", "sms")
	form.Set("sender_identity", "+15550001111")
	form.Set("body", "stop")

	req := httptest.NewRequest(http.MethodPost, "/webhooks/inbound", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stored models.InboundMessage
	require.NoError(t, db.First(&stored).Error)
	assert.Equal(t, "twilio", stored.Provider)
	assert.Equal(t, models.ChannelSMS, stored.Channel)
	assert.Equal(t, "+15550001111", stored.SenderIdentity)
}

func TestHandleInboundWebhookValidation(t *testing.T) {
	app, _ := newWebhookTestApp(t)

	// Missing sender identity
	resp := postJSON(t, app, map[string]interface{}{"channel": "email"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Unsupported channel
	resp = postJSON(t, app, map[string]interface{}{
		"channel":         "carrier_pigeon",
		"sender_identity": "ada@example.com",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleInboundWebhookIdempotent(t *testing.T) {
	app, db := newWebhookTestApp(t)

	payload := map[string]interface{}{
		"channel":             "email",
		"sender_identity":     "ada@example.com",
		"provider_message_id": "msg-7",
	}

	first := postJSON(t, app, payload)
	require.Equal(t, http.StatusOK, first.StatusCode)
	second := postJSON(t, app, payload)
	require.Equal(t, http.StatusOK, second.StatusCode)

	var firstOut, secondOut struct {
		MessageID uint `json:"message_id"`
	}
	require.NoError(t, json.NewDecoder(first.Body).Decode(&firstOut))
	require.NoError(t, json.NewDecoder(second.Body).Decode(&secondOut))
	assert.Equal(t, firstOut.MessageID, secondOut.MessageID)

	var count int64
	require.NoError(t, db.Model(&models.InboundMessage{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}
