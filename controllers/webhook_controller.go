package controller

import (
	"log"

	"dealflow/models"
	"dealflow/utils"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type WebhookController struct {
	DB         *gorm.DB
	Correlator *utils.Correlator
	Logger     *log.Logger
}

func NewWebhookController(db *gorm.DB, correlator *utils.Correlator, logger *log.Logger) *WebhookController {
	return &WebhookController{
		DB:         db,
		Correlator: correlator,
		Logger:     logger,
	}
}

type inboundWebhookInput struct {
	Provider          string `json:"provider" form:"provider"`
	Channel           string `json:"channel" form:"channel" validate:"required,oneof=email sms call"`
	SenderIdentity    string `json:"sender_identity" form:"sender_identity" validate:"required"`
	RecipientIdentity string `json:"recipient_identity" form:"recipient_identity"`
	Subject           string `json:"subject" form:"subject"`
	Body              string `json:"body" form:"body"`
	ProviderMessageID string `json:"provider_message_id" form:"provider_message_id"`
}

// HandleInboundWebhook ingests a reply from the telephony/email vendor.
// BodyParser normalizes both JSON and form-encoded payloads by content
// type. Delivering the same provider_message_id twice is idempotent.
func (wc *WebhookController) HandleInboundWebhook(c *fiber.Ctx) error {
	var input inboundWebhookInput
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if err := utils.ValidateStruct(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	message := models.InboundMessage{
		Provider:          input.Provider,
		Channel:           input.Channel,
		SenderIdentity:    input.SenderIdentity,
		RecipientIdentity: input.RecipientIdentity,
		Subject:           input.Subject,
		Body:              input.Body,
		ProviderMessageID: input.ProviderMessageID,
	}

	stored, err := wc.Correlator.OnInboundReceived(&message)
	if err != nil {
		wc.Logger.Printf("Failed to process inbound message: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to process inbound message",
		})
	}

	return c.JSON(fiber.Map{
		"message_id":            stored.ID,
		"matched_enrollment_id": stored.MatchedEnrollmentID,
	})
}
