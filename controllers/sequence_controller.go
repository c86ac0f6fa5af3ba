package controller

import (
	"log"

	"dealflow/models"
	"dealflow/utils"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type SequenceController struct {
	DB     *gorm.DB
	Cache  *utils.SequenceCache
	Logger *log.Logger
}

func NewSequenceController(db *gorm.DB, cache *utils.SequenceCache, logger *log.Logger) *SequenceController {
	return &SequenceController{
		DB:     db,
		Cache:  cache,
		Logger: logger,
	}
}

type stepInput struct {
	Channel    string `json:"channel" validate:"required,oneof=email sms call_task task"`
	DelayDays  int    `json:"delay_days" validate:"min=0"`
	DelayHours int    `json:"delay_hours" validate:"min=0"`
	TemplateID *uint  `json:"template_id"`
	Subject    string `json:"subject"`
	Body       string `json:"body"`
}

type createSequenceInput struct {
	Name              string      `json:"name" validate:"required,max=200"`
	Description       string      `json:"description"`
	TriggerStage      string      `json:"trigger_stage"`
	StopOnReply       *bool       `json:"stop_on_reply"`
	StopOnStageChange bool        `json:"stop_on_stage_change"`
	MaxAttempts       *int        `json:"max_attempts"`
	Steps             []stepInput `json:"steps" validate:"required,min=1,dive"`
}

// CreateSequence creates a sequence together with its ordered steps
func (sc *SequenceController) CreateSequence(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var input createSequenceInput
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

	stopOnReply := true
	if input.StopOnReply != nil {
		stopOnReply = *input.StopOnReply
	}

	sequence := models.Sequence{
		UserID:            user.ID,
		Name:              input.Name,
		Description:       input.Description,
		TriggerStage:      input.TriggerStage,
		Enabled:           true,
		StopOnReply:       stopOnReply,
		StopOnStageChange: input.StopOnStageChange,
		MaxAttempts:       input.MaxAttempts,
	}

	tx := sc.DB.Begin()

	if err := tx.Create(&sequence).Error; err != nil {
		tx.Rollback()
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create sequence",
		})
	}

	for i, in := range input.Steps {
		step := models.SequenceStep{
			SequenceID: sequence.ID,
			StepOrder:  i,
			Channel:    in.Channel,
			DelayDays:  in.DelayDays,
			DelayHours: in.DelayHours,
			TemplateID: in.TemplateID,
			Subject:    in.Subject,
			Body:       in.Body,
		}
		if err := tx.Create(&step).Error; err != nil {
			tx.Rollback()
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to create sequence step",
			})
		}
	}

	if err := tx.Commit().Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create sequence",
		})
	}

	sc.DB.Preload("Steps").First(&sequence, sequence.ID)
	return c.Status(fiber.StatusCreated).JSON(sequence)
}

func (sc *SequenceController) GetSequences(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var sequences []models.Sequence
	if err := sc.DB.Where("user_id = ?", user.ID).Preload("Steps").Find(&sequences).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch sequences",
		})
	}

	return c.JSON(sequences)
}

func (sc *SequenceController) GetSequence(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var sequence models.Sequence
	if err := sc.DB.Where("id = ? AND user_id = ?", c.Params("id"), user.ID).
		Preload("Steps", func(db *gorm.DB) *gorm.DB {
			return db.Order("step_order ASC")
		}).First(&sequence).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Sequence not found",
		})
	}

	return c.JSON(sequence)
}

type updateSequenceInput struct {
	Enabled           *bool `json:"enabled"`
	StopOnReply       *bool `json:"stop_on_reply"`
	StopOnStageChange *bool `json:"stop_on_stage_change"`
	MaxAttempts       *int  `json:"max_attempts"`
}

// UpdateSequence changes the enabled flag and stop rules. Steps are
// immutable once created; only AddStep can grow a sequence.
func (sc *SequenceController) UpdateSequence(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var sequence models.Sequence
	if err := sc.DB.Where("id = ? AND user_id = ?", c.Params("id"), user.ID).First(&sequence).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Sequence not found",
		})
	}

	var input updateSequenceInput
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	updates := map[string]interface{}{}
	if input.Enabled != nil {
		updates["enabled"] = *input.Enabled
	}
	if input.StopOnReply != nil {
		updates["stop_on_reply"] = *input.StopOnReply
	}
	if input.StopOnStageChange != nil {
		updates["stop_on_stage_change"] = *input.StopOnStageChange
	}
	if input.MaxAttempts != nil {
		updates["max_attempts"] = *input.MaxAttempts
	}

	if len(updates) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "No updatable fields provided",
		})
	}

	if err := sc.DB.Model(&sequence).Updates(updates).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update sequence",
		})
	}

	sc.Cache.Invalidate(c.Context(), sequence.ID)
	return c.JSON(sequence)
}

// AddStep appends one step after the current last step. Existing steps are
// never reordered or rewritten.
func (sc *SequenceController) AddStep(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var sequence models.Sequence
	if err := sc.DB.Where("id = ? AND user_id = ?", c.Params("id"), user.ID).First(&sequence).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Sequence not found",
		})
	}

	var input stepInput
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

	var maxOrder int
	row := sc.DB.Model(&models.SequenceStep{}).
		Where("sequence_id = ?", sequence.ID).
		Select("COALESCE(MAX(step_order), -1)").Row()
	if err := row.Scan(&maxOrder); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to determine step order",
		})
	}

	step := models.SequenceStep{
		SequenceID: sequence.ID,
		StepOrder:  maxOrder + 1,
		Channel:    input.Channel,
		DelayDays:  input.DelayDays,
		DelayHours: input.DelayHours,
		TemplateID: input.TemplateID,
		Subject:    input.Subject,
		Body:       input.Body,
	}

	if err := sc.DB.Create(&step).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to add step",
		})
	}

	sc.Cache.Invalidate(c.Context(), sequence.ID)
	return c.Status(fiber.StatusCreated).JSON(step)
}
