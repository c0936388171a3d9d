// Package ring builds and publishes the per-period rotation ring.
package ring

import (
	"fmt"
	"sort"

	"github.com/onflow/flow-go/crypto/hash"
	"github.com/onflow/flow-go/crypto/random"

	"peer-validation/internal/models"
)

// seedDomain separates ring seeds from any other use of the period key.
const seedDomain = "peer-validation/ring/"

// customizer is the ChaCha20 nonce customizer (at most 12 bytes).
var customizer = []byte("rotation")

// Order assigns positions 1..N to the cohort. The cohort is deduplicated and
// sorted before shuffling, so the result depends only on the period key and
// the set of validator ids, never on the order the caller listed them in.
func Order(period string, cohort []string) ([]models.RingAssignment, error) {
	ids := normalize(cohort)
	if len(ids) == 0 {
		return nil, fmt.Errorf("ring %s: %w", period, models.ErrEmptyCohort)
	}
	rng, err := prgFor(period)
	if err != nil {
		return nil, err
	}
	if err := rng.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] }); err != nil {
		return nil, fmt.Errorf("ring %s: shuffle: %w", period, err)
	}
	out := make([]models.RingAssignment, len(ids))
	for i, id := range ids {
		out[i] = models.RingAssignment{Period: period, ValidatorID: id, Position: i + 1}
	}
	return out, nil
}

// prgFor derives a PRG from the period key. Hashing spreads the few bytes of
// entropy in the key over the full seed.
func prgFor(period string) (random.Rand, error) {
	var seed [hash.HashLenSHA3_256]byte
	hash.ComputeSHA3_256(&seed, []byte(seedDomain+period))
	rng, err := random.NewChacha20PRG(seed[:], customizer)
	if err != nil {
		return nil, fmt.Errorf("could not create ChaCha20 PRG: %w", err)
	}
	return rng, nil
}

func normalize(cohort []string) []string {
	seen := make(map[string]struct{}, len(cohort))
	ids := make([]string, 0, len(cohort))
	for _, id := range cohort {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// sameCohort reports whether a stored ring covers exactly the given cohort.
func sameCohort(ring []models.RingAssignment, cohort []string) bool {
	ids := normalize(cohort)
	if len(ids) != len(ring) {
		return false
	}
	members := make(map[string]struct{}, len(ring))
	for _, ra := range ring {
		members[ra.ValidatorID] = struct{}{}
	}
	for _, id := range ids {
		if _, ok := members[id]; !ok {
			return false
		}
	}
	return true
}
