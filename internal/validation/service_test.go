package validation

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"peer-validation/internal/consensus"
	"peer-validation/internal/models"
	"peer-validation/internal/store"
)

const period = "2025-03"

var start = time.Date(2025, 3, 2, 8, 0, 0, 0, time.UTC)

func testSettings() Settings {
	s := DefaultSettings()
	s.RetryBase = time.Millisecond
	s.QueryTimeout = time.Second
	return s
}

func newService(t *testing.T, st store.Store) (*Service, *time.Time) {
	t.Helper()
	now := start
	svc := New(st, testSettings(), zerolog.Nop(), nil)
	svc.SetClock(func() time.Time { return now })
	return svc, &now
}

func register(t *testing.T, svc *Service, ids ...string) {
	t.Helper()
	for _, id := range ids {
		_, err := svc.RegisterValidator(context.Background(), models.Validator{ID: id, DisplayName: "name-" + id, Active: true})
		require.NoError(t, err)
	}
}

func members(ring []models.RingAssignment) []string {
	out := make([]string, len(ring))
	for i, ra := range ring {
		out[i] = ra.ValidatorID
	}
	return out
}

func TestCreateSubmission(t *testing.T) {
	svc, _ := newService(t, store.NewMemory())
	ctx := context.Background()

	sub, err := svc.CreateSubmission(ctx, models.KPI{Type: "BP"}, "u1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, sub.Status)
	assert.Equal(t, start, sub.CreatedAt)
	kind, err := sub.Kind()
	require.NoError(t, err)
	assert.Equal(t, models.KPI{Type: models.KPISubtypeBP}, kind)

	_, err = svc.CreateSubmission(ctx, models.KPI{Type: "xx"}, "u1")
	assert.ErrorIs(t, err, models.ErrInvalidArgument)
	_, err = svc.CreateSubmission(ctx, models.OBV{}, " ")
	assert.ErrorIs(t, err, models.ErrInvalidArgument)
	_, err = svc.CreateSubmission(ctx, nil, "u1")
	assert.ErrorIs(t, err, models.ErrInvalidArgument)
}

func TestPendingValidations(t *testing.T) {
	svc, now := newService(t, store.NewMemory())
	ctx := context.Background()

	var subs []models.Submission
	for i, owner := range []string{"u2", "u1", "u3", "u2"} {
		*now = start.Add(time.Duration(i) * time.Hour)
		s, err := svc.CreateSubmission(ctx, models.OBV{}, owner)
		require.NoError(t, err)
		subs = append(subs, s)
	}
	_, err := svc.SubmitVote(ctx, consensus.VoteRequest{SubmissionID: subs[2].ID, ValidatorID: "u1", Approved: true})
	require.NoError(t, err)

	pending, err := svc.GetPendingValidationsForUser(ctx, "u1", 0)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, subs[3].ID, pending[0].ID)
	assert.Equal(t, subs[0].ID, pending[1].ID)

	pending, err = svc.GetPendingValidationsForUser(ctx, "u1", 1)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	_, err = svc.GetPendingValidationsForUser(ctx, "u1", -1)
	assert.ErrorIs(t, err, models.ErrInvalidArgument)
	_, err = svc.GetPendingValidationsForUser(ctx, "", 5)
	assert.ErrorIs(t, err, models.ErrInvalidArgument)
}

type flakyStore struct {
	store.Store
	failures int32
	calls    int32
}

func (f *flakyStore) FindPendingFor(ctx context.Context, validatorID, excludeOwnerID string, limit int) ([]models.Submission, error) {
	if atomic.AddInt32(&f.calls, 1) <= atomic.LoadInt32(&f.failures) {
		return nil, fmt.Errorf("find pending: %w", models.ErrTransient)
	}
	return f.Store.FindPendingFor(ctx, validatorID, excludeOwnerID, limit)
}

func TestReadsRetryTransientFailures(t *testing.T) {
	fs := &flakyStore{Store: store.NewMemory(), failures: 2}
	svc, _ := newService(t, fs)
	ctx := context.Background()
	_, err := svc.CreateSubmission(ctx, models.OBV{}, "u2")
	require.NoError(t, err)

	pending, err := svc.GetPendingValidationsForUser(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
	assert.Equal(t, int32(3), atomic.LoadInt32(&fs.calls))
}

func TestReadsGiveUpAfterMaxAttempts(t *testing.T) {
	fs := &flakyStore{Store: store.NewMemory(), failures: 100}
	svc, _ := newService(t, fs)

	_, err := svc.GetPendingValidationsForUser(context.Background(), "u1", 10)
	assert.ErrorIs(t, err, models.ErrTransient)
	assert.Equal(t, int32(svc.Settings().RetryMaxAttempts), atomic.LoadInt32(&fs.calls))
}

func TestZeroRetryBaseFallsBackToDefault(t *testing.T) {
	fs := &flakyStore{Store: store.NewMemory(), failures: 1}
	settings := testSettings()
	settings.RetryBase = 0
	svc := New(fs, settings, zerolog.Nop(), nil)
	assert.Equal(t, DefaultSettings().RetryBase, svc.Settings().RetryBase)

	require.NotPanics(t, func() {
		_, err := svc.GetPendingValidationsForUser(context.Background(), "u1", 10)
		assert.NoError(t, err)
	})
	assert.Equal(t, int32(2), atomic.LoadInt32(&fs.calls))
}

func TestReadsRespectCancellation(t *testing.T) {
	svc, _ := newService(t, store.NewMemory())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := svc.GetPendingValidationsForUser(ctx, "u1", 10)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestVoteAndGetSubmission(t *testing.T) {
	svc, now := newService(t, store.NewMemory())
	ctx := context.Background()
	sub, err := svc.CreateSubmission(ctx, models.OBV{Type: "market"}, "owner")
	require.NoError(t, err)

	*now = start.Add(time.Hour)
	_, err = svc.SubmitVote(ctx, consensus.VoteRequest{SubmissionID: sub.ID, ValidatorID: "a", Approved: true})
	require.NoError(t, err)
	res, err := svc.SubmitVote(ctx, consensus.VoteRequest{SubmissionID: sub.ID, ValidatorID: "b", Approved: true})
	require.NoError(t, err)
	assert.True(t, res.Finalized)

	detail, err := svc.GetSubmission(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusValidated, detail.Submission.Status)
	assert.Len(t, detail.Votes, 2)
	require.NotNil(t, detail.Submission.FinalizedAt)
	assert.Equal(t, start.Add(time.Hour), *detail.Submission.FinalizedAt)

	_, err = svc.GetSubmission(ctx, uuid.New())
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestRotationAndNeighbours(t *testing.T) {
	svc, _ := newService(t, store.NewMemory())
	ctx := context.Background()
	register(t, svc, "a", "b", "c", "d", "e")

	ring, created, err := svc.EnsureRotation(ctx, period)
	require.NoError(t, err)
	assert.True(t, created)
	require.Len(t, ring, 5)

	order, err := svc.GetRotationOrder(ctx, period)
	require.NoError(t, err)
	assert.Equal(t, members(ring), members(order))

	first := order[0].ValidatorID
	validatees, err := svc.GetMyValidatees(ctx, first, period)
	require.NoError(t, err)
	require.Len(t, validatees, 3)
	for i, v := range validatees {
		assert.Equal(t, order[i+1].ValidatorID, v.ID)
		assert.Equal(t, "name-"+v.ID, v.DisplayName)
	}

	validators, err := svc.GetMyValidators(ctx, first, period)
	require.NoError(t, err)
	require.Len(t, validators, 3)
	assert.Equal(t, order[4].ValidatorID, validators[0].ID)
	assert.Equal(t, order[2].ValidatorID, validators[2].ID)

	_, err = svc.GetMyValidatees(ctx, "stranger", period)
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = svc.GetMyValidatees(ctx, first, "2025-04")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestBuildRotationExplicitCohort(t *testing.T) {
	svc, _ := newService(t, store.NewMemory())
	ctx := context.Background()

	ring, err := svc.BuildRotation(ctx, period, []string{"x", "y", "z"})
	require.NoError(t, err)
	assert.Len(t, ring, 3)

	again, err := svc.BuildRotation(ctx, period, []string{"z", "y", "x"})
	require.NoError(t, err)
	assert.Equal(t, members(ring), members(again))

	_, err = svc.BuildRotation(ctx, period, []string{"x", "y"})
	assert.ErrorIs(t, err, models.ErrPeriodAlreadyFinalized)

	_, err = svc.BuildRotation(ctx, "2025-04", nil)
	assert.ErrorIs(t, err, models.ErrEmptyCohort)
}

func TestDeactivatedValidatorLeavesNextCohort(t *testing.T) {
	svc, _ := newService(t, store.NewMemory())
	ctx := context.Background()
	register(t, svc, "a", "b", "c")

	_, _, err := svc.EnsureRotation(ctx, period)
	require.NoError(t, err)
	require.NoError(t, svc.DeactivateValidator(ctx, "c"))

	march, err := svc.GetRotationOrder(ctx, period)
	require.NoError(t, err)
	assert.Len(t, march, 3)

	april, _, err := svc.EnsureRotation(ctx, "2025-04")
	require.NoError(t, err)
	assert.Len(t, april, 2)

	assert.ErrorIs(t, svc.DeactivateValidator(ctx, "ghost"), models.ErrNotFound)
}

func TestValidatorStatsLiveThenStored(t *testing.T) {
	svc, now := newService(t, store.NewMemory())
	ctx := context.Background()

	_, err := svc.BuildRotation(ctx, period, []string{"a", "b", "c", "d", "e"})
	require.NoError(t, err)
	order, err := svc.GetRotationOrder(ctx, period)
	require.NoError(t, err)
	reviewer, owner := order[0].ValidatorID, order[1].ValidatorID

	for i := 0; i < 3; i++ {
		_, err := svc.CreateSubmission(ctx, models.OBV{}, owner)
		require.NoError(t, err)
	}
	*now = start.Add(10 * 24 * time.Hour)

	live, err := svc.GetValidatorStats(ctx, reviewer, period)
	require.NoError(t, err)
	assert.Equal(t, 3, live.Missed)
	assert.True(t, live.Blocked)
	_, err = svc.store.Stats(ctx, reviewer, period)
	assert.ErrorIs(t, err, models.ErrNotFound)

	scanned, err := svc.ScanPeriod(ctx, period)
	require.NoError(t, err)
	assert.Len(t, scanned, 5)

	stored, err := svc.GetValidatorStats(ctx, reviewer, period)
	require.NoError(t, err)
	assert.Equal(t, live.Missed, stored.Missed)

	all, err := svc.PeriodStats(ctx, period)
	require.NoError(t, err)
	require.Len(t, all, 5)
	for i, st := range all {
		assert.Equal(t, order[i].ValidatorID, st.ValidatorID)
	}

	_, err = svc.GetValidatorStats(ctx, "stranger", period)
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = svc.GetValidatorStats(ctx, reviewer, "March")
	assert.ErrorIs(t, err, models.ErrInvalidArgument)
}

func TestBoard(t *testing.T) {
	svc, _ := newService(t, store.NewMemory())
	ctx := context.Background()
	register(t, svc, "a", "b", "c", "d")
	_, _, err := svc.EnsureRotation(ctx, period)
	require.NoError(t, err)

	rows, err := svc.Board(ctx, period)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	for i, row := range rows {
		assert.Equal(t, i+1, row.Position)
		assert.Len(t, row.Validatees, 3)
		assert.Equal(t, row.Validator.ID, row.Stats.ValidatorID)
		assert.NotEmpty(t, row.Validator.DisplayName)
	}
}
