package models

import (
	"time"

	"gorm.io/gorm"
)

// User is the owner reference for sessions. Accounts are managed by the external auth service.
type User struct {
	ID        string         `gorm:"type:varchar(36);primaryKey" json:"id"`
	Email     string         `gorm:"uniqueIndex;not null" json:"email"`
	FullName  string         `gorm:"size:255" json:"full_name,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}
