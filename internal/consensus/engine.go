// Package consensus records peer votes and finalizes submissions by quorum.
//
// Each vote runs as one transaction: lock the submission row, check the
// preconditions, insert the vote, re-tally and transition if a quorum is
// reached. The row lock serializes concurrent voters on the same submission,
// so exactly one of them can observe the tally that crosses the threshold;
// the others see a terminal status and fail with models.ErrAlreadyFinalized.
package consensus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"peer-validation/internal/metrics"
	"peer-validation/internal/models"
	"peer-validation/internal/store"
)

const (
	DefaultQuorum    = 2
	DefaultTxTimeout = 5 * time.Second
)

// FinalizeListener is notified after a transition has committed. It is called
// once per submission, by the goroutine whose vote caused the transition.
type FinalizeListener interface {
	SubmissionFinalized(ctx context.Context, sub models.Submission, tally models.Tally)
}

// FinalizeListenerFunc adapts a function to FinalizeListener.
type FinalizeListenerFunc func(ctx context.Context, sub models.Submission, tally models.Tally)

func (f FinalizeListenerFunc) SubmissionFinalized(ctx context.Context, sub models.Submission, tally models.Tally) {
	f(ctx, sub, tally)
}

// VoteRequest is one validator's decision on one submission.
type VoteRequest struct {
	SubmissionID uuid.UUID
	ValidatorID  string
	Approved     bool
	Comment      *string
}

// Result describes the state after a vote.
type Result struct {
	Submission models.Submission
	Vote       models.Vote
	Tally      models.Tally
	// Finalized is true only for the call whose vote moved the submission
	// into a terminal status.
	Finalized bool
	// Replayed is true when an identical vote was already recorded and
	// nothing changed.
	Replayed bool
}

// Engine implements vote submission.
type Engine struct {
	store     store.Store
	quorum    int
	txTimeout time.Duration
	clock     func() time.Time
	listeners []FinalizeListener
	metrics   metrics.ConsensusMetrics
	log       zerolog.Logger
}

// Option customizes engine construction.
type Option func(*Engine)

// WithQuorum sets the number of same-direction votes that finalize a submission.
func WithQuorum(q int) Option {
	return func(e *Engine) {
		if q > 0 {
			e.quorum = q
		}
	}
}

// WithTxTimeout bounds each vote transaction.
func WithTxTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.txTimeout = d
		}
	}
}

// WithClock allows tests to control vote timestamps.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

func WithMetrics(m metrics.ConsensusMetrics) Option {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(e *Engine) {
		e.log = log.With().Str("component", "consensus").Logger()
	}
}

// WithListener registers a finalization listener.
func WithListener(l FinalizeListener) Option {
	return func(e *Engine) {
		if l != nil {
			e.listeners = append(e.listeners, l)
		}
	}
}

func NewEngine(st store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:     st,
		quorum:    DefaultQuorum,
		txTimeout: DefaultTxTimeout,
		clock:     func() time.Time { return time.Now().UTC() },
		metrics:   metrics.NewNoopCollector(),
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

func (e *Engine) Quorum() int { return e.quorum }

// SubmitVote records a vote and applies the quorum rule atomically.
//
// Preconditions are checked in this order: unknown submission
// (models.ErrNotFound), vote by the owner (models.ErrSelfValidation, whatever
// the status), an earlier vote by the same validator (identical decision:
// replayed without effect; different decision: models.ErrDuplicateVote),
// terminal status (models.ErrAlreadyFinalized).
//
// The transaction is detached from ctx cancellation and bounded by the
// engine's own timeout, so it always either commits or rolls back as a whole.
// Infrastructure failures return models.ErrTransient and are not retried here.
func (e *Engine) SubmitVote(ctx context.Context, req VoteRequest) (Result, error) {
	if req.SubmissionID == uuid.Nil || req.ValidatorID == "" {
		return Result{}, fmt.Errorf("vote needs submission and validator: %w", models.ErrInvalidArgument)
	}

	txCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.txTimeout)
	defer cancel()

	var res Result
	err := e.store.InTx(txCtx, func(tx store.Tx) error {
		var err error
		res, err = e.apply(tx, req)
		return err
	})
	if errors.Is(err, store.ErrVoteExists) {
		// lost an insert race against our own retry; judge against what won
		res, err = e.replay(txCtx, req)
	}
	if err != nil {
		e.metrics.VoteRefused(reason(err))
		return Result{}, err
	}

	kind := kindLabel(res.Submission)
	if res.Replayed {
		e.log.Debug().
			Str("submission", req.SubmissionID.String()).
			Str("validator", req.ValidatorID).
			Msg("identical vote replayed")
		return res, nil
	}
	e.metrics.VoteRecorded(kind, req.Approved)
	e.log.Info().
		Str("submission", req.SubmissionID.String()).
		Str("kind", kind).
		Str("validator", req.ValidatorID).
		Bool("approved", req.Approved).
		Int("approvals", res.Tally.Approved).
		Int("rejections", res.Tally.Rejected).
		Msg("vote recorded")

	if res.Finalized {
		e.metrics.SubmissionFinalized(kind, string(res.Submission.Status), res.Vote.CastAt.Sub(res.Submission.CreatedAt))
		e.log.Info().
			Str("submission", req.SubmissionID.String()).
			Str("status", string(res.Submission.Status)).
			Msg("submission finalized")
		for _, l := range e.listeners {
			l.SubmissionFinalized(ctx, res.Submission, res.Tally)
		}
	}
	return res, nil
}

func (e *Engine) apply(tx store.Tx, req VoteRequest) (Result, error) {
	sub, err := tx.LockSubmission(req.SubmissionID)
	if err != nil {
		return Result{}, err
	}
	if sub.OwnerID == req.ValidatorID {
		return Result{}, fmt.Errorf("submission %s: %w", sub.ID, models.ErrSelfValidation)
	}

	prior, found, err := tx.FindVote(sub.ID, req.ValidatorID)
	if err != nil {
		return Result{}, err
	}
	if found {
		if prior.Approved != req.Approved {
			return Result{}, fmt.Errorf("submission %s validator %s: %w", sub.ID, req.ValidatorID, models.ErrDuplicateVote)
		}
		tally, err := tx.Tally(sub.ID)
		if err != nil {
			return Result{}, err
		}
		return Result{Submission: sub, Vote: prior, Tally: tally, Replayed: true}, nil
	}

	if sub.Status != models.StatusPending {
		return Result{}, fmt.Errorf("submission %s is %s: %w", sub.ID, sub.Status, models.ErrAlreadyFinalized)
	}

	vote := models.Vote{
		SubmissionID: sub.ID,
		ValidatorID:  req.ValidatorID,
		Approved:     req.Approved,
		Comment:      req.Comment,
		CastAt:       e.clock(),
	}
	if err := tx.InsertVote(&vote); err != nil {
		return Result{}, err
	}

	tally, err := tx.Tally(sub.ID)
	if err != nil {
		return Result{}, err
	}
	res := Result{Submission: sub, Vote: vote, Tally: tally}

	if next := tally.Decide(e.quorum); next != models.StatusPending {
		if err := tx.Finalize(sub.ID, next, vote.CastAt); err != nil {
			return Result{}, err
		}
		at := vote.CastAt
		res.Submission.Status = next
		res.Submission.FinalizedAt = &at
		res.Finalized = true
	}
	return res, nil
}

// replay resolves a unique-constraint hit by reading the vote that won.
func (e *Engine) replay(ctx context.Context, req VoteRequest) (Result, error) {
	sub, err := e.store.GetSubmission(ctx, req.SubmissionID)
	if err != nil {
		return Result{}, err
	}
	votes, err := e.store.VotesFor(ctx, req.SubmissionID)
	if err != nil {
		return Result{}, err
	}
	var res Result
	found := false
	for _, v := range votes {
		if v.Approved {
			res.Tally.Approved++
		} else {
			res.Tally.Rejected++
		}
		if v.ValidatorID == req.ValidatorID {
			res.Vote, found = v, true
		}
	}
	if !found || res.Vote.Approved != req.Approved {
		return Result{}, fmt.Errorf("submission %s validator %s: %w", req.SubmissionID, req.ValidatorID, models.ErrDuplicateVote)
	}
	res.Submission = sub
	res.Replayed = true
	return res, nil
}

func kindLabel(s models.Submission) string {
	k, err := s.Kind()
	if err != nil {
		return "unknown"
	}
	switch v := k.(type) {
	case models.OBV:
		return string(models.FamilyOBV)
	case models.KPI:
		return string(models.FamilyKPI) + "_" + string(v.Type)
	default:
		return "unknown"
	}
}

func reason(err error) string {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return "not_found"
	case errors.Is(err, models.ErrSelfValidation):
		return "self_validation"
	case errors.Is(err, models.ErrDuplicateVote):
		return "duplicate"
	case errors.Is(err, models.ErrAlreadyFinalized):
		return "already_finalized"
	case errors.Is(err, models.ErrInvalidArgument):
		return "invalid"
	case errors.Is(err, models.ErrTransient):
		return "transient"
	default:
		return "error"
	}
}
