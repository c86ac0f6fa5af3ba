package models

import "gorm.io/gorm"

// Step channels
const (
	ChannelEmail    = "email"
	ChannelSMS      = "sms"
	ChannelCallTask = "call_task"
	ChannelTask     = "task"
)

// Sequence represents an automated follow-up sequence tied to a deal stage
type Sequence struct {
	gorm.Model
	UserID uint `gorm:"not null;index" json:"user_id"`

	Name         string `gorm:"not null" json:"name"`
	Description  string `json:"description"`
	TriggerStage string `gorm:"index" json:"trigger_stage"` // deals entering this stage auto-enroll
	Enabled      bool   `gorm:"default:true" json:"enabled"`

	// Stop rules
	StopOnReply       bool `gorm:"default:true" json:"stop_on_reply"`
	StopOnStageChange bool `gorm:"default:false" json:"stop_on_stage_change"`
	MaxAttempts       *int `json:"max_attempts,omitempty"` // nil = unlimited

	// Relations
	Steps []SequenceStep `gorm:"foreignKey:SequenceID" json:"steps,omitempty"`
}

// SequenceStep represents one touch in a sequence. Steps are append-only:
// step_order is unique and contiguous per sequence.
type SequenceStep struct {
	gorm.Model
	SequenceID uint  `gorm:"not null;uniqueIndex:idx_sequence_step_order" json:"sequence_id"`
	TemplateID *uint `gorm:"index" json:"template_id,omitempty"`

	StepOrder  int    `gorm:"not null;uniqueIndex:idx_sequence_step_order" json:"step_order"`
	Channel    string `gorm:"not null" json:"channel"` // email, sms, call_task, task
	DelayDays  int    `gorm:"not null;default:0" json:"delay_days"`
	DelayHours int    `gorm:"not null;default:0" json:"delay_hours"`

	// Inline content, used when no template is referenced
	Subject string `json:"subject"`
	Body    string `gorm:"type:text" json:"body"` // supports merge fields: {{first_name}}, {{deal_name}}, etc.

	// Relations
	Template *Template `json:"-"`
}

// Template represents reusable message content
type Template struct {
	gorm.Model
	UserID uint `gorm:"not null;index" json:"user_id"`

	Name    string `gorm:"not null" json:"name"`
	Subject string `json:"subject"`
	Body    string `gorm:"type:text" json:"body"`
}
