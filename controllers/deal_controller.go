package controller

import (
	"errors"
	"log"

	"dealflow/models"
	"dealflow/utils"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// DealController is the minimal deal/contact surface the automation engine
// needs. Full CRM record management lives in the CRUD layer, not here.
type DealController struct {
	DB          *gorm.DB
	Enrollments *utils.EnrollmentManager
	Logger      *log.Logger
}

func NewDealController(db *gorm.DB, enrollments *utils.EnrollmentManager, logger *log.Logger) *DealController {
	return &DealController{
		DB:          db,
		Enrollments: enrollments,
		Logger:      logger,
	}
}

type createDealInput struct {
	Name      string `json:"name" validate:"required,max=200"`
	Stage     string `json:"stage" validate:"required"`
	Value     int64  `json:"value"`
	ContactID uint   `json:"contact_id" validate:"required"`
}

func (dc *DealController) CreateDeal(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var input createDealInput
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

	var contact models.Contact
	if err := dc.DB.Where("id = ? AND user_id = ?", input.ContactID, user.ID).First(&contact).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Contact not found",
		})
	}

	deal := models.Deal{
		UserID:    user.ID,
		ContactID: contact.ID,
		Name:      input.Name,
		Stage:     input.Stage,
		Value:     input.Value,
	}

	if err := dc.DB.Create(&deal).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create deal",
		})
	}

	dc.autoEnroll(&deal)

	return c.Status(fiber.StatusCreated).JSON(deal)
}

func (dc *DealController) GetDeal(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var deal models.Deal
	if err := dc.DB.Where("id = ? AND user_id = ?", c.Params("id"), user.ID).
		Preload("Contact").First(&deal).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Deal not found",
		})
	}

	return c.JSON(deal)
}

type updateStageInput struct {
	Stage string `json:"stage" validate:"required"`
}

// UpdateDealStage moves a deal to a new stage and auto-enrolls it into
// every enabled sequence triggered by that stage. Sequences watching the
// old stage react through their stop rules on the next tick.
func (dc *DealController) UpdateDealStage(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var deal models.Deal
	if err := dc.DB.Where("id = ? AND user_id = ?", c.Params("id"), user.ID).First(&deal).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Deal not found",
		})
	}

	var input updateStageInput
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

	if err := dc.DB.Model(&deal).Update("stage", input.Stage).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update deal",
		})
	}
	deal.Stage = input.Stage

	dc.autoEnroll(&deal)

	return c.JSON(deal)
}

// autoEnroll starts the deal in every enabled sequence whose trigger stage
// matches. AlreadyEnrolled is a no-op, everything else is logged and
// skipped; stage updates never fail because enrollment did.
func (dc *DealController) autoEnroll(deal *models.Deal) {
	var sequences []models.Sequence
	if err := dc.DB.Where("user_id = ? AND enabled = ? AND trigger_stage = ?",
		deal.UserID, true, deal.Stage).Find(&sequences).Error; err != nil {
		dc.Logger.Printf("Failed to load trigger sequences for deal %d: %v", deal.ID, err)
		return
	}

	for _, sequence := range sequences {
		if _, err := dc.Enrollments.Start(sequence.ID, deal.ID); err != nil {
			if errors.Is(err, utils.ErrAlreadyEnrolled) {
				continue
			}
			dc.Logger.Printf("Auto-enroll failed for deal %d in sequence %d: %v", deal.ID, sequence.ID, err)
		}
	}
}

type createContactInput struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email" validate:"omitempty,email"`
	Phone     string `json:"phone"`
	Company   string `json:"company"`
	Position  string `json:"position"`
}

func (dc *DealController) CreateContact(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var input createContactInput
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

	contact := models.Contact{
		UserID:    user.ID,
		FirstName: input.FirstName,
		LastName:  input.LastName,
		Email:     input.Email,
		Phone:     input.Phone,
		Company:   input.Company,
		Position:  input.Position,
	}

	if err := dc.DB.Create(&contact).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create contact",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(contact)
}
