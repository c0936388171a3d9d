// Package store persists submissions, votes, rings, stats and validator
// profiles. Two implementations share one contract: Gorm (Postgres) and
// Memory, which backs the service when no DATABASE_URL is configured.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"peer-validation/internal/models"
)

var (
	// ErrConflict is returned by SaveRing when the period already has rows.
	ErrConflict = errors.New("store: conflicting write")

	// ErrVoteExists is returned by Tx.InsertVote on the (submission, validator)
	// unique constraint.
	ErrVoteExists = errors.New("store: vote already exists")
)

// Submissions is the repository for items requiring validation.
type Submissions interface {
	CreateSubmission(ctx context.Context, s *models.Submission) error
	GetSubmission(ctx context.Context, id uuid.UUID) (models.Submission, error)

	// FindPendingFor returns pending submissions not owned by validatorID or
	// excludeOwnerID on which validatorID has not voted, newest first.
	// limit <= 0 means no limit.
	FindPendingFor(ctx context.Context, validatorID, excludeOwnerID string, limit int) ([]models.Submission, error)

	// SubmissionsCreatedBetween returns submissions with from <= created_at < to
	// owned by any of ownerIDs.
	SubmissionsCreatedBetween(ctx context.Context, from, to time.Time, ownerIDs []string) ([]models.Submission, error)

	VotesFor(ctx context.Context, submissionID uuid.UUID) ([]models.Vote, error)
	VotesForSubmissions(ctx context.Context, ids []uuid.UUID) ([]models.Vote, error)
}

// Rings persists rotation rings. A ring is written once per period.
type Rings interface {
	// Ring returns the period's assignments ordered by position, or
	// models.ErrNotFound.
	Ring(ctx context.Context, period string) ([]models.RingAssignment, error)
	// SaveRing writes all assignments atomically, or returns ErrConflict if
	// the period already has a ring.
	SaveRing(ctx context.Context, period string, ring []models.RingAssignment) error
}

// Stats persists per-validator period summaries.
type Stats interface {
	// ReplaceStats swaps the full stats set of a period in one transaction.
	ReplaceStats(ctx context.Context, period string, stats []models.ValidatorPeriodStats) error
	Stats(ctx context.Context, validatorID, period string) (models.ValidatorPeriodStats, error)
	PeriodStats(ctx context.Context, period string) ([]models.ValidatorPeriodStats, error)
}

// Validators persists validator profiles.
type Validators interface {
	UpsertValidator(ctx context.Context, v models.Validator) error
	SetValidatorActive(ctx context.Context, id string, active bool) error
	Validators(ctx context.Context, ids []string) ([]models.Validator, error)
	ActiveValidators(ctx context.Context) ([]models.Validator, error)
}

// Store is the full persistence contract.
type Store interface {
	Submissions
	Rings
	Stats
	Validators

	// InTx runs fn as one atomic unit. Nothing fn wrote survives if fn or the
	// commit fails.
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the vote-recording unit of work. LockSubmission must be called first;
// it serializes all transactions touching the same submission.
type Tx interface {
	LockSubmission(id uuid.UUID) (models.Submission, error)
	FindVote(submissionID uuid.UUID, validatorID string) (models.Vote, bool, error)
	InsertVote(v *models.Vote) error
	Tally(submissionID uuid.UUID) (models.Tally, error)
	Finalize(id uuid.UUID, status models.Status, at time.Time) error
}
