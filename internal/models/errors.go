package models

import "errors"

var (
	// ErrNotFound is returned for an unknown submission, validator or period.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyFinalized is returned for a vote on a validated or rejected submission.
	ErrAlreadyFinalized = errors.New("submission already finalized")

	// ErrSelfValidation is returned when an owner votes on their own submission.
	ErrSelfValidation = errors.New("validator cannot vote on own submission")

	// ErrDuplicateVote is returned when a validator votes twice with a different decision.
	ErrDuplicateVote = errors.New("validator already voted on submission")

	// ErrEmptyCohort is returned when a ring is requested for zero validators.
	ErrEmptyCohort = errors.New("no eligible validators")

	// ErrPeriodAlreadyFinalized is returned when a published ring would change.
	ErrPeriodAlreadyFinalized = errors.New("rotation for period already published")

	ErrInvalidArgument = errors.New("invalid argument")

	// ErrTransient marks infrastructure failures the caller may retry. For
	// SubmitVote it also means the vote was not recorded.
	ErrTransient = errors.New("transient datastore failure")
)

// IsBusinessError reports whether err is one of the validation or business-rule
// errors that should be surfaced to the caller as-is.
func IsBusinessError(err error) bool {
	for _, target := range []error{
		ErrNotFound,
		ErrAlreadyFinalized,
		ErrSelfValidation,
		ErrDuplicateVote,
		ErrEmptyCohort,
		ErrPeriodAlreadyFinalized,
		ErrInvalidArgument,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
