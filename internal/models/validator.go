package models

import "time"

// Validator is a user eligible for validation duties. Color is cosmetic.
type Validator struct {
	ID          string    `gorm:"primaryKey;size:128" json:"id"`
	DisplayName string    `gorm:"size:256" json:"display_name"`
	Color       string    `gorm:"size:32" json:"color,omitempty"`
	Active      bool      `gorm:"not null;index" json:"active"`
	CreatedAt   time.Time `json:"-"`
	UpdatedAt   time.Time `json:"-"`
}

// TableName specifies the table name for Validator.
func (Validator) TableName() string {
	return "validators"
}
