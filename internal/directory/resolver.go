// Package directory resolves validator ids to display profiles.
package directory

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"peer-validation/internal/models"
)

// DefaultTTL bounds how long a cached profile is served. Profiles change rarely.
const DefaultTTL = 10 * time.Minute

// Source is where profiles are loaded from.
type Source interface {
	Validators(ctx context.Context, ids []string) ([]models.Validator, error)
	ActiveValidators(ctx context.Context) ([]models.Validator, error)
}

// Resolver caches validator profiles. A snapshot of all active validators is
// taken on refresh; ids outside it are fetched individually and kept until the
// next refresh, including ids the source does not know.
type Resolver struct {
	src       Source
	log       zerolog.Logger
	mu        sync.RWMutex
	cache     map[string]models.Validator
	lastFetch time.Time
	ttl       time.Duration
	now       func() time.Time
}

func NewResolver(src Source, ttl time.Duration, log zerolog.Logger) *Resolver {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Resolver{
		src:   src,
		log:   log.With().Str("component", "directory").Logger(),
		cache: map[string]models.Validator{},
		ttl:   ttl,
		now:   time.Now,
	}
}

// Resolve returns the profile of id. An unknown id resolves to a bare
// profile carrying only the id.
func (r *Resolver) Resolve(ctx context.Context, id string) models.Validator {
	return r.ResolveMany(ctx, []string{id})[0]
}

// ResolveMany resolves ids in order. Lookup failures degrade to bare profiles
// and are logged, never returned.
func (r *Resolver) ResolveMany(ctx context.Context, ids []string) []models.Validator {
	out := make([]models.Validator, len(ids))
	if r == nil {
		for i, id := range ids {
			out[i] = models.Validator{ID: id}
		}
		return out
	}

	r.mu.RLock()
	stale := r.now().Sub(r.lastFetch) > r.ttl
	var missing []string
	for _, id := range ids {
		if _, ok := r.cache[id]; !ok {
			missing = append(missing, id)
		}
	}
	r.mu.RUnlock()

	if stale || len(missing) > 0 {
		r.refresh(ctx, missing)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for i, id := range ids {
		if v, ok := r.cache[id]; ok {
			out[i] = v
		} else {
			out[i] = models.Validator{ID: id}
		}
	}
	return out
}

// Invalidate drops id so the next lookup reloads it.
func (r *Resolver) Invalidate(id string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	delete(r.cache, id)
	r.mu.Unlock()
}

func (r *Resolver) refresh(ctx context.Context, missing []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.now().Sub(r.lastFetch) > r.ttl {
		active, err := r.src.ActiveValidators(ctx)
		if err != nil {
			r.log.Warn().Err(err).Msg("failed to load active validators")
			return
		}
		mapping := make(map[string]models.Validator, len(active))
		for _, v := range active {
			mapping[v.ID] = v
		}
		r.cache = mapping
		r.lastFetch = r.now()
		r.log.Debug().Int("validators", len(mapping)).Msg("profile cache refreshed")
	}

	// Double-check under lock; another caller may have loaded them.
	var still []string
	for _, id := range missing {
		if _, ok := r.cache[id]; !ok {
			still = append(still, id)
		}
	}
	if len(still) == 0 {
		return
	}
	found, err := r.src.Validators(ctx, still)
	if err != nil {
		r.log.Warn().Err(err).Int("ids", len(still)).Msg("failed to load validator profiles")
		return
	}
	for _, v := range found {
		r.cache[v.ID] = v
	}
	// Unregistered ids are remembered as bare profiles until the next refresh.
	for _, id := range still {
		if _, ok := r.cache[id]; !ok {
			r.cache[id] = models.Validator{ID: id}
		}
	}
}
