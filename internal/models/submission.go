package models

import (
	"time"

	"github.com/google/uuid"
)

// Submission is a unit of work (OBV or KPI record) subject to peer review.
// Kind is stored as the (kind, subtype) column pair; use Kind() to get the
// tagged variant back.
type Submission struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Family      Family     `gorm:"column:kind;size:16;not null;index" json:"kind"`
	Subtype     string     `gorm:"size:32" json:"subtype,omitempty"`
	OwnerID     string     `gorm:"size:128;not null;index" json:"owner_id"`
	Status      Status     `gorm:"size:16;not null;index" json:"status"`
	CreatedAt   time.Time  `gorm:"not null;index" json:"created_at"`
	FinalizedAt *time.Time `json:"finalized_at,omitempty"`
	UpdatedAt   time.Time  `json:"-"`
}

// TableName specifies the table name for Submission.
func (Submission) TableName() string {
	return "submissions"
}

// Kind decodes the stored discriminator pair.
func (s Submission) Kind() (Kind, error) {
	return ParseKind(string(s.Family), s.Subtype)
}

// SetKind encodes k into the discriminator columns.
func (s *Submission) SetKind(k Kind) {
	switch v := k.(type) {
	case OBV:
		s.Family, s.Subtype = FamilyOBV, v.Type
	case KPI:
		s.Family, s.Subtype = FamilyKPI, string(v.Type)
	}
}

// Vote is one validator's decision on one submission. At most one row exists
// per (submission, validator).
type Vote struct {
	ID           uint      `gorm:"primaryKey" json:"-"`
	SubmissionID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:ux_votes_submission_validator" json:"submission_id"`
	ValidatorID  string    `gorm:"size:128;not null;uniqueIndex:ux_votes_submission_validator;index" json:"validator_id"`
	Approved     bool      `gorm:"not null" json:"approved"`
	Comment      *string   `gorm:"type:text" json:"comment,omitempty"`
	CastAt       time.Time `gorm:"not null;index" json:"cast_at"`
}

// TableName specifies the table name for Vote.
func (Vote) TableName() string {
	return "votes"
}

// Tally is the vote count of one submission.
type Tally struct {
	Approved int
	Rejected int
}

// Decide applies the quorum rule. Approval is checked first, so a tally that
// somehow reaches quorum on both sides resolves to validated.
func (t Tally) Decide(quorum int) Status {
	switch {
	case t.Approved >= quorum:
		return StatusValidated
	case t.Rejected >= quorum:
		return StatusRejected
	default:
		return StatusPending
	}
}
