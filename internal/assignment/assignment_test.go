package assignment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"peer-validation/internal/models"
)

func TestValidateesWrapAround(t *testing.T) {
	assert.Equal(t, []int{2, 3, 4}, Validatees(1, 5, 3))
	assert.Equal(t, []int{1, 2, 3}, Validatees(5, 5, 3))
	assert.Equal(t, []int{5, 1, 2}, Validatees(4, 5, 3))
}

func TestValidatorsWrapAround(t *testing.T) {
	assert.Equal(t, []int{5, 4, 3}, Validators(1, 5, 3))
	assert.Equal(t, []int{1, 5, 4}, Validators(2, 5, 3))
}

func TestSmallRings(t *testing.T) {
	assert.Empty(t, Validatees(1, 1, 3))
	assert.Equal(t, []int{2}, Validatees(1, 2, 3))
	assert.Equal(t, []int{1}, Validatees(2, 2, 3))
	assert.Equal(t, []int{3, 1}, Validatees(2, 3, 3))
	assert.Nil(t, Validatees(0, 3, 3))
	assert.Nil(t, Validators(4, 3, 3))
}

func TestValidateesProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(2, 64).Draw(t, "n")
		k := rapid.IntRange(1, 10).Draw(t, "k")
		p := rapid.IntRange(1, n).Draw(t, "p")

		got := Validatees(p, n, k)
		want := k
		if n-1 < want {
			want = n - 1
		}
		if len(got) != want {
			t.Fatalf("validatees(%d, %d, %d) has %d entries, want %d", p, n, k, len(got), want)
		}
		seen := map[int]bool{}
		for _, q := range got {
			if q == p {
				t.Fatalf("position %d assigned to itself", p)
			}
			if q < 1 || q > n {
				t.Fatalf("position %d out of ring %d", q, n)
			}
			if seen[q] {
				t.Fatalf("duplicate validatee %d", q)
			}
			seen[q] = true
		}
	})
}

func TestDutyGraphSymmetry(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(2, 40).Draw(t, "n")
		k := rapid.IntRange(1, 8).Draw(t, "k")
		p := rapid.IntRange(1, n).Draw(t, "p")
		q := rapid.IntRange(1, n).Draw(t, "q")

		forward := contains(Validatees(p, n, k), q)
		backward := contains(Validators(q, n, k), p)
		if forward != backward {
			t.Fatalf("n=%d k=%d: %d in validatees(%d)=%v but %d in validators(%d)=%v",
				n, k, q, p, forward, p, q, backward)
		}
	})
}

func contains(xs []int, x int) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

func ring(period string, ids ...string) []models.RingAssignment {
	out := make([]models.RingAssignment, len(ids))
	for i, id := range ids {
		out[i] = models.RingAssignment{Period: period, ValidatorID: id, Position: i + 1}
	}
	return out
}

func TestGraphResolvesIDs(t *testing.T) {
	g, err := NewGraph(ring("2025-03", "a", "b", "c", "d", "e"), 3)
	require.NoError(t, err)

	got, err := g.ValidateesOf("e")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, got)

	got, err = g.ValidatorsOf("a")
	require.NoError(t, err)
	assert.Equal(t, []string{"e", "d", "c"}, got)

	_, err = g.ValidateesOf("zz")
	assert.ErrorIs(t, err, models.ErrNotFound)

	reviewers := g.ExpectedReviewers()
	assert.Len(t, reviewers["c"], 3)
	assert.Contains(t, reviewers["c"], "b")
	assert.NotContains(t, reviewers["c"], "c")
}

func TestGraphRejectsBrokenRing(t *testing.T) {
	r := ring("2025-03", "a", "b", "c")
	r[2].Position = 2
	_, err := NewGraph(r, 3)
	assert.Error(t, err)

	r = ring("2025-03", "a", "b", "a")
	_, err = NewGraph(r, 3)
	assert.Error(t, err)

	r = ring("2025-03", "a", "b")
	r[1].Period = "2025-04"
	_, err = NewGraph(r, 3)
	assert.Error(t, err)
}
