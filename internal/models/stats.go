package models

import "time"

// ValidatorPeriodStats summarizes a validator's timeliness for one period.
// Rows are recomputed by the performance scan and never edited by hand.
type ValidatorPeriodStats struct {
	ID            uint   `gorm:"primaryKey" json:"-"`
	ValidatorID   string `gorm:"size:128;not null;uniqueIndex:ux_stats_validator_period" json:"validator_id"`
	Period        string `gorm:"size:16;not null;uniqueIndex:ux_stats_validator_period;index" json:"period"`
	TotalAssigned int    `gorm:"not null" json:"total_assigned"`
	TotalCast     int    `gorm:"not null" json:"total_cast"`
	OnTime        int    `gorm:"not null" json:"on_time"`
	Missed        int    `gorm:"not null" json:"missed"`
	// Excused counts expected submissions that reached quorum before this
	// validator voted and before the SLA expired.
	Excused    int       `gorm:"not null" json:"excused"`
	Blocked    bool      `gorm:"not null;index" json:"blocked"`
	ComputedAt time.Time `json:"computed_at"`
}

// TableName specifies the table name for ValidatorPeriodStats.
func (ValidatorPeriodStats) TableName() string {
	return "validator_period_stats"
}
