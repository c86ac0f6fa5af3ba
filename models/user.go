package models

import "gorm.io/gorm"

// User is an operator account
type User struct {
	gorm.Model
	Email        string `gorm:"not null;uniqueIndex" json:"email"`
	PasswordHash string `gorm:"not null" json:"-"`
	Name         string `json:"name"`
	IsActive     bool   `gorm:"default:true" json:"is_active"`

	// Bumped to invalidate all outstanding tokens for the account
	TokenVersion int `gorm:"default:0" json:"-"`
}
