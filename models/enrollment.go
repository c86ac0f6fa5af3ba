package models

import (
	"time"

	"gorm.io/gorm"
)

// Enrollment statuses
const (
	EnrollmentStatusActive    = "active"
	EnrollmentStatusPaused    = "paused"
	EnrollmentStatusStopped   = "stopped"
	EnrollmentStatusCompleted = "completed"
)

// Stop reasons
const (
	StopReasonReply        = "reply"
	StopReasonStageChanged = "stage_changed"
	StopReasonMaxAttempts  = "max_attempts"
	StopReasonManual       = "manual"
)

// SequenceEnrollment is one deal's live progress through one sequence.
// At most one active enrollment exists per (sequence, deal) pair.
type SequenceEnrollment struct {
	gorm.Model
	SequenceID uint `gorm:"not null;index" json:"sequence_id"`
	DealID     uint `gorm:"not null;index" json:"deal_id"`
	UserID     uint `gorm:"not null;index" json:"user_id"`

	Status     string  `gorm:"not null;default:'active';index" json:"status"` // active, paused, stopped, completed
	StopReason *string `json:"stop_reason,omitempty"`

	// Send cursor: index into the sequence's ordered steps, 0-based
	CurrentStep  int `gorm:"not null;default:0" json:"current_step"`
	AttemptCount int `gorm:"not null;default:0" json:"attempt_count"` // steps actually sent

	// Claim marker for the scheduler; set and cleared within one tick
	InFlight bool `gorm:"not null;default:false" json:"-"`

	// Recipient identity snapshot taken at enrollment time, used by the
	// inbound correlator
	RecipientEmail string `gorm:"index" json:"recipient_email"`
	RecipientPhone string `gorm:"index" json:"recipient_phone"`

	LastExecutedAt  *time.Time `json:"last_executed_at,omitempty"`
	NextExecutionAt *time.Time `gorm:"index" json:"next_execution_at,omitempty"`

	// Relations
	Sequence Sequence `json:"-"`
	Deal     Deal     `json:"-"`
}
