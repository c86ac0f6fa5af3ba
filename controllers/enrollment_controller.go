package controller

import (
	"errors"
	"log"

	"dealflow/models"
	"dealflow/utils"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type EnrollmentController struct {
	DB          *gorm.DB
	Enrollments *utils.EnrollmentManager
	Logger      *log.Logger
}

func NewEnrollmentController(db *gorm.DB, enrollments *utils.EnrollmentManager, logger *log.Logger) *EnrollmentController {
	return &EnrollmentController{
		DB:          db,
		Enrollments: enrollments,
		Logger:      logger,
	}
}

type startEnrollmentInput struct {
	DealID uint `json:"deal_id" validate:"required"`
}

// StartEnrollment enrolls a deal into the sequence
func (ec *EnrollmentController) StartEnrollment(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var sequence models.Sequence
	if err := ec.DB.Where("id = ? AND user_id = ?", c.Params("id"), user.ID).First(&sequence).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Sequence not found",
		})
	}

	var input startEnrollmentInput
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

	enrollment, err := ec.Enrollments.Start(sequence.ID, input.DealID)
	if err != nil {
		switch {
		case errors.Is(err, utils.ErrAlreadyEnrolled):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": "Deal is already enrolled in this sequence",
			})
		case errors.Is(err, utils.ErrSequenceDisabled):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Sequence is disabled",
			})
		case errors.Is(err, utils.ErrSequenceEmpty):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Sequence has no steps",
			})
		default:
			ec.Logger.Printf("Failed to start enrollment: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to start enrollment",
			})
		}
	}

	return c.Status(fiber.StatusCreated).JSON(enrollment)
}

// StopEnrollment halts an enrollment manually. Stopping twice is a no-op.
func (ec *EnrollmentController) StopEnrollment(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var enrollment models.SequenceEnrollment
	if err := ec.DB.Where("id = ? AND user_id = ?", c.Params("id"), user.ID).First(&enrollment).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Enrollment not found",
		})
	}

	if err := ec.Enrollments.Stop(enrollment.ID, models.StopReasonManual); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to stop enrollment",
		})
	}

	return c.JSON(fiber.Map{
		"message": "Enrollment stopped",
	})
}

// GetEnrollments lists enrollments, optionally filtered by status or deal
func (ec *EnrollmentController) GetEnrollments(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	query := ec.DB.Where("user_id = ?", user.ID)
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}
	if dealID := c.Query("deal_id"); dealID != "" {
		query = query.Where("deal_id = ?", utils.ParseUint(dealID))
	}

	var enrollments []models.SequenceEnrollment
	if err := query.Order("created_at DESC").Find(&enrollments).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch enrollments",
		})
	}

	return c.JSON(enrollments)
}

// GetEnrollment returns an enrollment with its lifecycle events and
// outbound messages
func (ec *EnrollmentController) GetEnrollment(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var enrollment models.SequenceEnrollment
	if err := ec.DB.Where("id = ? AND user_id = ?", c.Params("id"), user.ID).First(&enrollment).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Enrollment not found",
		})
	}

	var events []models.EnrollmentEvent
	ec.DB.Where("entity_type = ? AND entity_id = ?", "enrollment", enrollment.ID).
		Order("created_at ASC").Find(&events)

	var messages []models.OutboundMessage
	ec.DB.Where("enrollment_id = ?", enrollment.ID).
		Order("created_at ASC").Find(&messages)

	return c.JSON(fiber.Map{
		"enrollment": enrollment,
		"events":     events,
		"messages":   messages,
	})
}
