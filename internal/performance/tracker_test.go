package performance

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"peer-validation/internal/assignment"
	"peer-validation/internal/models"
	"peer-validation/internal/store"
)

const period = "2025-03"

var (
	base  = time.Date(2025, 3, 3, 12, 0, 0, 0, time.UTC)
	rules = Rules{FanOut: 3, SLA: 72 * time.Hour, BlockThreshold: 3}
)

// a..e sit at positions 1..5, so a reviews b, c and d.
func fixedRing() []models.RingAssignment {
	ids := []string{"a", "b", "c", "d", "e"}
	ring := make([]models.RingAssignment, len(ids))
	for i, id := range ids {
		ring[i] = models.RingAssignment{Period: period, ValidatorID: id, Position: i + 1}
	}
	return ring
}

func graph(t *testing.T) *assignment.Graph {
	g, err := assignment.NewGraph(fixedRing(), rules.FanOut)
	require.NoError(t, err)
	return g
}

func submission(owner string, created time.Time) models.Submission {
	s := models.Submission{ID: uuid.New(), OwnerID: owner, Status: models.StatusPending, CreatedAt: created}
	s.SetKind(models.OBV{})
	return s
}

func castBy(s models.Submission, validator string, at time.Time) models.Vote {
	return models.Vote{SubmissionID: s.ID, ValidatorID: validator, Approved: true, CastAt: at}
}

func statsOf(t *testing.T, all []models.ValidatorPeriodStats, id string) models.ValidatorPeriodStats {
	for _, st := range all {
		if st.ValidatorID == id {
			return st
		}
	}
	t.Fatalf("no stats for %s", id)
	return models.ValidatorPeriodStats{}
}

func TestThreeMissesBlock(t *testing.T) {
	subs := []models.Submission{
		submission("b", base),
		submission("b", base.Add(time.Hour)),
		submission("c", base.Add(2*time.Hour)),
		submission("c", base.Add(3*time.Hour)),
		submission("d", base.Add(4*time.Hour)),
	}
	votes := []models.Vote{
		castBy(subs[0], "a", base.Add(time.Hour)),
		castBy(subs[2], "a", base.Add(50*time.Hour)),
	}
	now := base.Add(10 * 24 * time.Hour)

	st := statsOf(t, Evaluate(graph(t), subs, votes, rules, now), "a")
	assert.Equal(t, 5, st.TotalAssigned)
	assert.Equal(t, 2, st.TotalCast)
	assert.Equal(t, 2, st.OnTime)
	assert.Equal(t, 3, st.Missed)
	assert.True(t, st.Blocked)
	assert.Equal(t, now, st.ComputedAt)
	assert.Equal(t, period, st.Period)
}

func TestTwoMissesDoNotBlock(t *testing.T) {
	subs := []models.Submission{
		submission("b", base),
		submission("c", base),
		submission("d", base),
		submission("d", base),
	}
	votes := []models.Vote{
		castBy(subs[0], "a", base.Add(time.Hour)),
		castBy(subs[1], "a", base.Add(2*time.Hour)),
	}
	st := statsOf(t, Evaluate(graph(t), subs, votes, rules, base.Add(30*24*time.Hour)), "a")
	assert.Equal(t, 2, st.Missed)
	assert.False(t, st.Blocked)
}

func TestLateVoteCountsAsCastAndMissed(t *testing.T) {
	s := submission("b", base)
	votes := []models.Vote{castBy(s, "a", base.Add(rules.SLA+time.Minute))}
	st := statsOf(t, Evaluate(graph(t), []models.Submission{s}, votes, rules, base.Add(rules.SLA*2)), "a")
	assert.Equal(t, 1, st.TotalCast)
	assert.Equal(t, 0, st.OnTime)
	assert.Equal(t, 1, st.Missed)
}

func TestVoteExactlyAtDeadlineIsOnTime(t *testing.T) {
	s := submission("b", base)
	votes := []models.Vote{castBy(s, "a", base.Add(rules.SLA))}
	st := statsOf(t, Evaluate(graph(t), []models.Submission{s}, votes, rules, base.Add(rules.SLA*2)), "a")
	assert.Equal(t, 1, st.OnTime)
	assert.Zero(t, st.Missed)
}

func TestQuorumBeforeDeadlineExcuses(t *testing.T) {
	early := submission("b", base)
	done := base.Add(10 * time.Hour)
	early.Status, early.FinalizedAt = models.StatusValidated, &done

	late := submission("c", base)
	after := base.Add(rules.SLA + time.Hour)
	late.Status, late.FinalizedAt = models.StatusValidated, &after

	st := statsOf(t, Evaluate(graph(t), []models.Submission{early, late}, nil, rules, base.Add(rules.SLA*2)), "a")
	assert.Equal(t, 1, st.Excused)
	assert.Equal(t, 1, st.Missed)
}

func TestThreeSilentButOneReachedQuorumDoesNotBlock(t *testing.T) {
	subs := []models.Submission{
		submission("b", base),
		submission("c", base),
		submission("d", base),
	}
	done := base.Add(5 * time.Hour)
	subs[2].Status, subs[2].FinalizedAt = models.StatusRejected, &done

	st := statsOf(t, Evaluate(graph(t), subs, nil, rules, base.Add(rules.SLA*2)), "a")
	assert.Equal(t, 2, st.Missed)
	assert.Equal(t, 1, st.Excused)
	assert.False(t, st.Blocked)
}

func TestOpenWindowIsNeitherOnTimeNorMissed(t *testing.T) {
	s := submission("b", base)
	st := statsOf(t, Evaluate(graph(t), []models.Submission{s}, nil, rules, base.Add(time.Hour)), "a")
	assert.Equal(t, 1, st.TotalAssigned)
	assert.Zero(t, st.OnTime)
	assert.Zero(t, st.Missed)
}

func TestOnlyValidateesCount(t *testing.T) {
	// e is not among a's validatees.
	s := submission("e", base)
	all := Evaluate(graph(t), []models.Submission{s}, nil, rules, base.Add(rules.SLA*2))
	assert.Zero(t, statsOf(t, all, "a").TotalAssigned)
	// b, c and d review e.
	for _, id := range []string{"b", "c", "d"} {
		assert.Equal(t, 1, statsOf(t, all, id).Missed, id)
	}
	require.Len(t, all, 5)
	for i, st := range all {
		assert.Equal(t, fixedRing()[i].ValidatorID, st.ValidatorID)
	}
}

func TestScanPeriodPersists(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	require.NoError(t, st.SaveRing(ctx, period, fixedRing()))

	var subs []models.Submission
	for i := 0; i < 3; i++ {
		s := submission("b", base.Add(time.Duration(i)*time.Hour))
		require.NoError(t, st.CreateSubmission(ctx, &s))
		subs = append(subs, s)
	}
	// Outside the period: ignored.
	outside := submission("b", time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, st.CreateSubmission(ctx, &outside))

	require.NoError(t, st.InTx(ctx, func(tx store.Tx) error {
		v := castBy(subs[0], "a", base.Add(time.Hour))
		return tx.InsertVote(&v)
	}))

	tr := NewTracker(st, rules, zerolog.Nop(), nil)
	tr.SetClock(func() time.Time { return time.Date(2025, 4, 20, 0, 0, 0, 0, time.UTC) })

	computed, err := tr.ScanPeriod(ctx, period)
	require.NoError(t, err)
	require.Len(t, computed, 5)

	a, err := st.Stats(ctx, "a", period)
	require.NoError(t, err)
	assert.Equal(t, 3, a.TotalAssigned)
	assert.Equal(t, 1, a.OnTime)
	assert.Equal(t, 2, a.Missed)
	assert.False(t, a.Blocked)

	// e reviews a, b and c; three missed reviews of b block it.
	e, err := st.Stats(ctx, "e", period)
	require.NoError(t, err)
	assert.Equal(t, 3, e.Missed)
	assert.True(t, e.Blocked)
}

func TestComputeWithoutRing(t *testing.T) {
	tr := NewTracker(store.NewMemory(), rules, zerolog.Nop(), nil)
	_, err := tr.Compute(context.Background(), period)
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = tr.Compute(context.Background(), "2025-13")
	assert.ErrorIs(t, err, models.ErrInvalidArgument)
}
