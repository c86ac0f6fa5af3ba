package models

import (
	"time"

	"gorm.io/gorm"
)

// Outbound message statuses
const (
	MessageStatusQueued  = "queued"
	MessageStatusSending = "sending"
	MessageStatusSent    = "sent"
	MessageStatusFailed  = "failed"
)

// OutboundMessage records one delivery attempt for one sequence step.
// Rows are immutable history: a retry creates a fresh attempt referencing
// the same step, it never overwrites a prior result.
type OutboundMessage struct {
	gorm.Model
	EnrollmentID uint `gorm:"not null;index" json:"enrollment_id"`
	StepID       uint `gorm:"not null;index" json:"step_id"`
	UserID       uint `gorm:"not null;index" json:"user_id"`

	Channel   string `gorm:"not null" json:"channel"`
	Recipient string `gorm:"not null" json:"recipient"`
	Subject   string `json:"subject"`
	Body      string `gorm:"type:text" json:"body"`

	Status            string     `gorm:"not null;default:'queued'" json:"status"` // queued, sending, sent, failed
	ProviderMessageID string     `gorm:"index" json:"provider_message_id"`
	ErrorMessage      string     `json:"error_message,omitempty"`
	RetryCount        int        `gorm:"not null;default:0" json:"retry_count"`
	SentAt            *time.Time `json:"sent_at,omitempty"`

	// Relations
	Enrollment SequenceEnrollment `json:"-"`
	Step       SequenceStep       `json:"-"`
}

// InboundMessage is a raw received reply (webhook or IMAP), append-only.
// provider_message_id deduplicates repeated webhook deliveries.
type InboundMessage struct {
	gorm.Model
	UserID uint `gorm:"index" json:"user_id"`

	Provider          string `json:"provider"`
	Channel           string `gorm:"not null" json:"channel"` // email, sms, call
	SenderIdentity    string `gorm:"not null;index" json:"sender_identity"`
	RecipientIdentity string `json:"recipient_identity"`
	Subject           string `json:"subject"`
	Body              string `gorm:"type:text" json:"body"`
	ProviderMessageID string `gorm:"index" json:"provider_message_id"`

	// Correlation state; advisory, consumed by the next scheduler tick
	MatchedEnrollmentID *uint `gorm:"index" json:"matched_enrollment_id,omitempty"`
	Processed           bool  `gorm:"not null;default:false;index" json:"processed"`
}
