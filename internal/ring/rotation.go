package ring

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"peer-validation/internal/models"
	"peer-validation/internal/store"
)

// Backend is the slice of the store the rotation needs.
type Backend interface {
	store.Rings
	ActiveValidators(ctx context.Context) ([]models.Validator, error)
}

// Rotation publishes rings. A published ring is immutable: rebuilding with
// the same cohort returns it unchanged, rebuilding with a different cohort
// fails with models.ErrPeriodAlreadyFinalized.
type Rotation struct {
	backend Backend
	log     zerolog.Logger
	flight  singleflight.Group
}

func NewRotation(backend Backend, log zerolog.Logger) *Rotation {
	return &Rotation{
		backend: backend,
		log:     log.With().Str("component", "rotation").Logger(),
	}
}

// Ring returns the published ring of a period ordered by position.
func (r *Rotation) Ring(ctx context.Context, period string) ([]models.RingAssignment, error) {
	if _, err := models.ParsePeriod(period); err != nil {
		return nil, err
	}
	return r.backend.Ring(ctx, period)
}

// Build publishes the ring for period with an explicit cohort.
func (r *Rotation) Build(ctx context.Context, period string, cohort []string) ([]models.RingAssignment, error) {
	ring, _, err := r.build(ctx, period, cohort)
	return ring, err
}

type published struct {
	ring    []models.RingAssignment
	created bool
}

// build reports whether this call wrote the ring, as opposed to finding one
// with the same cohort already in place.
func (r *Rotation) build(ctx context.Context, period string, cohort []string) ([]models.RingAssignment, bool, error) {
	if _, err := models.ParsePeriod(period); err != nil {
		return nil, false, err
	}
	order, err := Order(period, cohort)
	if err != nil {
		return nil, false, err
	}
	// collapse overlapping triggers inside this process; the unique
	// constraints on ring_assignments cover other processes
	v, err, shared := r.flight.Do(period, func() (interface{}, error) {
		return r.publish(ctx, period, order, cohort)
	})
	if err != nil {
		return nil, false, err
	}
	p := v.(published)
	if shared {
		// the leader may have published a different cohort
		ring, err := r.reconcile(period, p.ring, cohort)
		return ring, false, err
	}
	return p.ring, p.created, nil
}

func (r *Rotation) publish(ctx context.Context, period string, order []models.RingAssignment, cohort []string) (published, error) {
	existing, err := r.backend.Ring(ctx, period)
	switch {
	case err == nil:
		existing, err = r.reconcile(period, existing, cohort)
		return published{ring: existing}, err
	case !errors.Is(err, models.ErrNotFound):
		return published{}, err
	}

	err = r.backend.SaveRing(ctx, period, order)
	if errors.Is(err, store.ErrConflict) {
		existing, err = r.backend.Ring(ctx, period)
		if err != nil {
			return published{}, err
		}
		existing, err = r.reconcile(period, existing, cohort)
		return published{ring: existing}, err
	}
	if err != nil {
		return published{}, fmt.Errorf("publish ring %s: %w", period, err)
	}
	r.log.Info().Str("period", period).Int("size", len(order)).Msg("rotation ring published")
	return published{ring: order, created: true}, nil
}

func (r *Rotation) reconcile(period string, existing []models.RingAssignment, cohort []string) ([]models.RingAssignment, error) {
	if !sameCohort(existing, cohort) {
		return nil, fmt.Errorf("ring %s has %d members, cohort differs: %w", period, len(existing), models.ErrPeriodAlreadyFinalized)
	}
	r.log.Debug().Str("period", period).Msg("rotation ring already published")
	return existing, nil
}

// Ensure returns the ring of period, publishing it from the currently active
// validators if none exists. The bool reports whether this call created it.
func (r *Rotation) Ensure(ctx context.Context, period string) ([]models.RingAssignment, bool, error) {
	existing, err := r.Ring(ctx, period)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, false, err
	}
	active, err := r.backend.ActiveValidators(ctx)
	if err != nil {
		return nil, false, err
	}
	cohort := make([]string, 0, len(active))
	for _, v := range active {
		cohort = append(cohort, v.ID)
	}
	ring, created, err := r.build(ctx, period, cohort)
	if errors.Is(err, models.ErrPeriodAlreadyFinalized) {
		// another builder saw a different cohort first; theirs stands
		existing, err = r.Ring(ctx, period)
		return existing, false, err
	}
	if err != nil {
		return nil, false, err
	}
	return ring, created, nil
}
