package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"peer-validation/internal/models"
)

var base = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func newSubmission(owner string, at time.Time) *models.Submission {
	s := &models.Submission{
		ID:        uuid.New(),
		OwnerID:   owner,
		Status:    models.StatusPending,
		CreatedAt: at,
	}
	s.SetKind(models.OBV{})
	return s
}

func castInTx(t *testing.T, st Store, sub uuid.UUID, validator string, approved bool) {
	t.Helper()
	err := st.InTx(context.Background(), func(tx Tx) error {
		if _, err := tx.LockSubmission(sub); err != nil {
			return err
		}
		return tx.InsertVote(&models.Vote{SubmissionID: sub, ValidatorID: validator, Approved: approved, CastAt: base})
	})
	require.NoError(t, err)
}

// runContract exercises the behaviour every Store implementation must share.
func runContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("FindPendingFor", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()
		older := newSubmission("owner-a", base)
		newer := newSubmission("owner-b", base.Add(time.Hour))
		own := newSubmission("val", base.Add(2*time.Hour))
		voted := newSubmission("owner-c", base.Add(3*time.Hour))
		for _, s := range []*models.Submission{older, newer, own, voted} {
			require.NoError(t, st.CreateSubmission(ctx, s))
		}
		castInTx(t, st, voted.ID, "val", true)

		got, err := st.FindPendingFor(ctx, "val", "val", 10)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, newer.ID, got[0].ID)
		assert.Equal(t, older.ID, got[1].ID)

		got, err = st.FindPendingFor(ctx, "val", "val", 1)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, newer.ID, got[0].ID)
	})

	t.Run("VoteTransaction", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()
		s := newSubmission("owner", base)
		require.NoError(t, st.CreateSubmission(ctx, s))

		castInTx(t, st, s.ID, "a", true)
		err := st.InTx(ctx, func(tx Tx) error {
			if _, err := tx.LockSubmission(s.ID); err != nil {
				return err
			}
			return tx.InsertVote(&models.Vote{SubmissionID: s.ID, ValidatorID: "a", Approved: true, CastAt: base})
		})
		assert.ErrorIs(t, err, ErrVoteExists)

		err = st.InTx(ctx, func(tx Tx) error {
			if _, err := tx.LockSubmission(s.ID); err != nil {
				return err
			}
			if err := tx.InsertVote(&models.Vote{SubmissionID: s.ID, ValidatorID: "b", Approved: true, CastAt: base}); err != nil {
				return err
			}
			tally, err := tx.Tally(s.ID)
			if err != nil {
				return err
			}
			assert.Equal(t, models.Tally{Approved: 2}, tally)
			return tx.Finalize(s.ID, models.StatusValidated, base)
		})
		require.NoError(t, err)

		got, err := st.GetSubmission(ctx, s.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusValidated, got.Status)
		require.NotNil(t, got.FinalizedAt)

		err = st.InTx(ctx, func(tx Tx) error {
			return tx.Finalize(s.ID, models.StatusRejected, base)
		})
		assert.ErrorIs(t, err, models.ErrAlreadyFinalized)
	})

	t.Run("RollbackDiscardsVote", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()
		s := newSubmission("owner", base)
		require.NoError(t, st.CreateSubmission(ctx, s))

		err := st.InTx(ctx, func(tx Tx) error {
			if _, err := tx.LockSubmission(s.ID); err != nil {
				return err
			}
			if err := tx.InsertVote(&models.Vote{SubmissionID: s.ID, ValidatorID: "a", Approved: true, CastAt: base}); err != nil {
				return err
			}
			return models.ErrTransient
		})
		assert.ErrorIs(t, err, models.ErrTransient)

		votes, err := st.VotesFor(ctx, s.ID)
		require.NoError(t, err)
		assert.Empty(t, votes)
	})

	t.Run("Ring", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()
		_, err := st.Ring(ctx, "2025-03")
		assert.ErrorIs(t, err, models.ErrNotFound)

		ring := []models.RingAssignment{
			{Period: "2025-03", ValidatorID: "b", Position: 2},
			{Period: "2025-03", ValidatorID: "a", Position: 1},
		}
		require.NoError(t, st.SaveRing(ctx, "2025-03", ring))
		assert.ErrorIs(t, st.SaveRing(ctx, "2025-03", ring), ErrConflict)

		got, err := st.Ring(ctx, "2025-03")
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "a", got[0].ValidatorID)
		assert.Equal(t, 2, got[1].Position)
	})

	t.Run("Stats", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()
		require.NoError(t, st.ReplaceStats(ctx, "2025-03", []models.ValidatorPeriodStats{
			{ValidatorID: "a", Period: "2025-03", Missed: 1},
			{ValidatorID: "b", Period: "2025-03", Missed: 4, Blocked: true},
		}))
		require.NoError(t, st.ReplaceStats(ctx, "2025-03", []models.ValidatorPeriodStats{
			{ValidatorID: "a", Period: "2025-03", Missed: 3, Blocked: true},
		}))
		got, err := st.Stats(ctx, "a", "2025-03")
		require.NoError(t, err)
		assert.True(t, got.Blocked)
		_, err = st.Stats(ctx, "b", "2025-03")
		assert.ErrorIs(t, err, models.ErrNotFound)

		all, err := st.PeriodStats(ctx, "2025-03")
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})

	t.Run("Validators", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()
		require.NoError(t, st.UpsertValidator(ctx, models.Validator{ID: "a", DisplayName: "Ana", Active: true}))
		require.NoError(t, st.UpsertValidator(ctx, models.Validator{ID: "b", DisplayName: "Ben", Active: true}))
		require.NoError(t, st.UpsertValidator(ctx, models.Validator{ID: "a", DisplayName: "Ana M", Color: "#f00", Active: true}))
		require.NoError(t, st.SetValidatorActive(ctx, "b", false))
		assert.ErrorIs(t, st.SetValidatorActive(ctx, "zz", false), models.ErrNotFound)

		active, err := st.ActiveValidators(ctx)
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, "Ana M", active[0].DisplayName)

		got, err := st.Validators(ctx, []string{"a", "b", "zz"})
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})

	t.Run("SubmissionsCreatedBetween", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()
		in := newSubmission("a", base)
		out := newSubmission("a", base.AddDate(0, 1, 0))
		other := newSubmission("z", base)
		for _, s := range []*models.Submission{in, out, other} {
			require.NoError(t, st.CreateSubmission(ctx, s))
		}
		got, err := st.SubmissionsCreatedBetween(ctx,
			time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
			time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
			[]string{"a"})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, in.ID, got[0].ID)
	})
}
