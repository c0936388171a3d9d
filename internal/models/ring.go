package models

import "time"

// RingAssignment places one validator on the rotation ring of a period.
// Positions within a period are a permutation of 1..N.
type RingAssignment struct {
	ID          uint      `gorm:"primaryKey" json:"-"`
	Period      string    `gorm:"size:16;not null;uniqueIndex:ux_ring_period_position;uniqueIndex:ux_ring_period_validator" json:"period"`
	ValidatorID string    `gorm:"size:128;not null;uniqueIndex:ux_ring_period_validator" json:"validator_id"`
	Position    int       `gorm:"not null;uniqueIndex:ux_ring_period_position" json:"position"`
	CreatedAt   time.Time `json:"created_at"`
}

// TableName specifies the table name for RingAssignment.
func (RingAssignment) TableName() string {
	return "ring_assignments"
}
