package models

import (
	"time"

	"gorm.io/gorm"
)

// Deal represents a sales opportunity. The automation engine only reads
// deals, except for the narrowly-scoped touch-summary fields below.
type Deal struct {
	gorm.Model
	UserID    uint `gorm:"not null;index" json:"user_id"`
	ContactID uint `gorm:"not null;index" json:"contact_id"`

	Name  string `gorm:"not null" json:"name"`
	Stage string `gorm:"not null;index" json:"stage"` // prospecting, qualification, proposal, won, lost
	Value int64  `gorm:"default:0" json:"value"`      // cents

	// Touch summary, updated as a side effect of successful outbound sends
	LastTouchAt *time.Time `json:"last_touch_at,omitempty"`
	TouchCount  int        `gorm:"default:0" json:"touch_count"`

	// Relations
	Contact Contact `json:"contact,omitempty"`
}

// Contact represents the person on the other end of a deal
type Contact struct {
	gorm.Model
	UserID uint `gorm:"not null;index" json:"user_id"`

	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `gorm:"index" json:"email"`
	Phone     string `gorm:"index" json:"phone"`
	Company   string `json:"company"`
	Position  string `json:"position"`
}

// Task is a CRM to-do created by call-task and generic-task sequence steps
type Task struct {
	gorm.Model
	UserID uint  `gorm:"not null;index" json:"user_id"`
	DealID *uint `gorm:"index" json:"deal_id,omitempty"`

	Kind      string     `gorm:"not null" json:"kind"` // call, todo
	Title     string     `gorm:"not null" json:"title"`
	Notes     string     `gorm:"type:text" json:"notes"`
	DueAt     *time.Time `json:"due_at,omitempty"`
	Completed bool       `gorm:"default:false" json:"completed"`
}
