package assignment

import (
	"fmt"
	"sort"

	"peer-validation/internal/models"
)

// Graph resolves duties by validator id over one period's ring.
type Graph struct {
	period     string
	fanOut     int
	byPosition []string // index = position-1
	positions  map[string]int
}

// NewGraph indexes a ring. It rejects rings whose positions are not a
// permutation of 1..N or that contain a validator twice.
func NewGraph(ring []models.RingAssignment, fanOut int) (*Graph, error) {
	g := &Graph{
		fanOut:     fanOut,
		byPosition: make([]string, len(ring)),
		positions:  make(map[string]int, len(ring)),
	}
	for _, ra := range ring {
		if g.period == "" {
			g.period = ra.Period
		} else if ra.Period != g.period {
			return nil, fmt.Errorf("assignment: ring mixes periods %s and %s", g.period, ra.Period)
		}
		if !inRing(ra.Position, len(ring)) {
			return nil, fmt.Errorf("assignment: position %d outside ring of %d", ra.Position, len(ring))
		}
		if g.byPosition[ra.Position-1] != "" {
			return nil, fmt.Errorf("assignment: position %d assigned twice", ra.Position)
		}
		if _, dup := g.positions[ra.ValidatorID]; dup {
			return nil, fmt.Errorf("assignment: validator %s appears twice", ra.ValidatorID)
		}
		g.byPosition[ra.Position-1] = ra.ValidatorID
		g.positions[ra.ValidatorID] = ra.Position
	}
	return g, nil
}

func (g *Graph) Period() string { return g.period }

func (g *Graph) Size() int { return len(g.byPosition) }

// Position returns the ring position of a validator.
func (g *Graph) Position(validatorID string) (int, bool) {
	p, ok := g.positions[validatorID]
	return p, ok
}

// ValidatorAt returns the validator placed at position p.
func (g *Graph) ValidatorAt(p int) (string, bool) {
	if !inRing(p, g.Size()) {
		return "", false
	}
	return g.byPosition[p-1], true
}

// Members lists validator ids in ring order.
func (g *Graph) Members() []string {
	out := make([]string, len(g.byPosition))
	copy(out, g.byPosition)
	return out
}

// ValidateesOf lists whom the validator reviews this period.
func (g *Graph) ValidateesOf(validatorID string) ([]string, error) {
	p, ok := g.positions[validatorID]
	if !ok {
		return nil, fmt.Errorf("validator %s not in ring %s: %w", validatorID, g.period, models.ErrNotFound)
	}
	return g.ids(Validatees(p, g.Size(), g.fanOut)), nil
}

// ValidatorsOf lists who reviews the validator this period.
func (g *Graph) ValidatorsOf(validatorID string) ([]string, error) {
	p, ok := g.positions[validatorID]
	if !ok {
		return nil, fmt.Errorf("validator %s not in ring %s: %w", validatorID, g.period, models.ErrNotFound)
	}
	return g.ids(Validators(p, g.Size(), g.fanOut)), nil
}

// ExpectedReviewers maps each owner to the set of validators expected to
// review that owner's submissions.
func (g *Graph) ExpectedReviewers() map[string]map[string]struct{} {
	out := make(map[string]map[string]struct{}, g.Size())
	for _, owner := range g.byPosition {
		reviewers, _ := g.ValidatorsOf(owner)
		set := make(map[string]struct{}, len(reviewers))
		for _, r := range reviewers {
			set[r] = struct{}{}
		}
		out[owner] = set
	}
	return out
}

func (g *Graph) ids(positions []int) []string {
	out := make([]string, 0, len(positions))
	for _, p := range positions {
		out = append(out, g.byPosition[p-1])
	}
	return out
}

// SortByPosition orders a ring in place by ascending position.
func SortByPosition(ring []models.RingAssignment) {
	sort.Slice(ring, func(i, j int) bool { return ring[i].Position < ring[j].Position })
}
