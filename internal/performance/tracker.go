// Package performance measures how reliably validators vote on the
// submissions the ring expects them to review.
package performance

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"peer-validation/internal/assignment"
	"peer-validation/internal/metrics"
	"peer-validation/internal/models"
	"peer-validation/internal/store"
)

const (
	DefaultSLA            = 72 * time.Hour
	DefaultBlockThreshold = 3
)

// Rules parameterize the evaluation.
type Rules struct {
	FanOut         int
	SLA            time.Duration
	BlockThreshold int
}

// DefaultRules returns K=3, a 72h SLA and blocking at 3 misses.
func DefaultRules() Rules {
	return Rules{FanOut: assignment.DefaultFanOut, SLA: DefaultSLA, BlockThreshold: DefaultBlockThreshold}
}

// Backend is the slice of the store the tracker reads and writes.
type Backend interface {
	Ring(ctx context.Context, period string) ([]models.RingAssignment, error)
	SubmissionsCreatedBetween(ctx context.Context, from, to time.Time, ownerIDs []string) ([]models.Submission, error)
	VotesForSubmissions(ctx context.Context, ids []uuid.UUID) ([]models.Vote, error)
	store.Stats
}

type Tracker struct {
	backend Backend
	rules   Rules
	clock   func() time.Time
	metrics metrics.JobMetrics
	log     zerolog.Logger
}

func NewTracker(backend Backend, rules Rules, log zerolog.Logger, m metrics.JobMetrics) *Tracker {
	if m == nil {
		m = metrics.NewNoopCollector()
	}
	return &Tracker{
		backend: backend,
		rules:   rules,
		clock:   func() time.Time { return time.Now().UTC() },
		metrics: m,
		log:     log.With().Str("component", "performance").Logger(),
	}
}

// SetClock replaces the time source used to decide whether an SLA expired.
func (t *Tracker) SetClock(clock func() time.Time) {
	if clock != nil {
		t.clock = clock
	}
}

func (t *Tracker) Rules() Rules { return t.rules }

// Compute evaluates every ring member of period as of now without persisting.
func (t *Tracker) Compute(ctx context.Context, period string) ([]models.ValidatorPeriodStats, error) {
	p, err := models.ParsePeriod(period)
	if err != nil {
		return nil, err
	}
	ring, err := t.backend.Ring(ctx, period)
	if err != nil {
		return nil, err
	}
	graph, err := assignment.NewGraph(ring, t.rules.FanOut)
	if err != nil {
		return nil, fmt.Errorf("ring %s: %w", period, err)
	}
	subs, err := t.backend.SubmissionsCreatedBetween(ctx, p.Start(), p.End(), graph.Members())
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, len(subs))
	for i, s := range subs {
		ids[i] = s.ID
	}
	votes, err := t.backend.VotesForSubmissions(ctx, ids)
	if err != nil {
		return nil, err
	}
	return Evaluate(graph, subs, votes, t.rules, t.clock()), nil
}

// ScanPeriod recomputes and persists the stats of every ring member.
func (t *Tracker) ScanPeriod(ctx context.Context, period string) ([]models.ValidatorPeriodStats, error) {
	stats, err := t.Compute(ctx, period)
	if err != nil {
		return nil, err
	}
	if err := t.backend.ReplaceStats(ctx, period, stats); err != nil {
		return nil, fmt.Errorf("persist stats %s: %w", period, err)
	}
	blocked := 0
	for _, st := range stats {
		if st.Blocked {
			blocked++
			t.log.Warn().Str("period", period).Str("validator", st.ValidatorID).Int("missed", st.Missed).Msg("validator blocked")
		}
	}
	t.metrics.BlockedValidators(period, blocked)
	t.log.Info().Str("period", period).Int("validators", len(stats)).Int("blocked", blocked).Msg("period scanned")
	return stats, nil
}

// Evaluate derives each ring member's stats, in ring order.
//
// A submission is expected from a validator when its owner is one of the
// validator's validatees. Against its deadline (creation + SLA) it is on time
// if voted by then; excused if nobody asked of this validator could vote
// anymore because quorum was reached first; missed once the deadline passed
// without a vote; otherwise still open.
//
// Excused submissions are not misses. A validator who let BlockThreshold
// submissions expire is blocked only if none of them reached quorum before
// its deadline; a quorum reached in time excuses the silent reviewers.
func Evaluate(g *assignment.Graph, subs []models.Submission, votes []models.Vote, rules Rules, now time.Time) []models.ValidatorPeriodStats {
	byOwner := make(map[string][]models.Submission)
	for _, s := range subs {
		byOwner[s.OwnerID] = append(byOwner[s.OwnerID], s)
	}
	cast := make(map[uuid.UUID]map[string]models.Vote, len(subs))
	for _, v := range votes {
		if cast[v.SubmissionID] == nil {
			cast[v.SubmissionID] = make(map[string]models.Vote)
		}
		cast[v.SubmissionID][v.ValidatorID] = v
	}

	out := make([]models.ValidatorPeriodStats, 0, g.Size())
	for _, validator := range g.Members() {
		st := models.ValidatorPeriodStats{
			ValidatorID: validator,
			Period:      g.Period(),
			ComputedAt:  now,
		}
		validatees, _ := g.ValidateesOf(validator)
		for _, owner := range validatees {
			for _, s := range byOwner[owner] {
				st.TotalAssigned++
				deadline := s.CreatedAt.Add(rules.SLA)
				v, voted := cast[s.ID][validator]
				if voted {
					st.TotalCast++
				}
				switch {
				case voted && !v.CastAt.After(deadline):
					st.OnTime++
				case !voted && s.FinalizedAt != nil && !s.FinalizedAt.After(deadline):
					st.Excused++
				case now.After(deadline):
					st.Missed++
				}
			}
		}
		st.Blocked = st.Missed >= rules.BlockThreshold
		out = append(out, st)
	}
	return out
}
