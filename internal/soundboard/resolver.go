package soundboard

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"
)

// Resolver turns an [Expr] into a sound ID.
type Resolver struct {
	catalog Catalog
	history *History

	mu  sync.Mutex
	rng *rand.Rand
}

// NewResolver creates a resolver. A nil rng is seeded randomly.
func NewResolver(catalog Catalog, history *History, rng *rand.Rand) *Resolver {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Resolver{catalog: catalog, history: history, rng: rng}
}

func (r *Resolver) pick(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.IntN(n)
}

// Resolve returns the sound ID expr selects in session.
func (r *Resolver) Resolve(ctx context.Context, session string, expr Expr) (string, error) {
	snd, err := r.ResolveSound(ctx, session, expr)
	if err != nil {
		return "", err
	}
	return snd.ID, nil
}

// ResolveSound is [Resolver.Resolve] returning the whole catalog entry.
func (r *Resolver) ResolveSound(ctx context.Context, session string, expr Expr) (*Sound, error) {
	switch e := expr.(type) {
	case ExplicitID:
		return r.catalog.Lookup(ctx, session, string(e))

	case AlternationOf:
		var present []*Sound
		for _, id := range e {
			snd, err := r.catalog.Lookup(ctx, session, id)
			switch {
			case err == nil:
				present = append(present, snd)
			case errors.Is(err, ErrNotFound):
			default:
				return nil, err
			}
		}
		if len(present) == 0 {
			return nil, ErrEmpty
		}
		return present[r.pick(len(present))], nil

	case Random:
		sounds, err := r.catalog.List(ctx, session)
		if err != nil {
			return nil, err
		}
		if len(sounds) == 0 {
			return nil, ErrEmpty
		}
		return &sounds[r.pick(len(sounds))], nil

	case LatestAdded:
		sounds, err := r.catalog.List(ctx, session)
		if err != nil {
			return nil, err
		}
		if len(sounds) == 0 {
			return nil, ErrEmpty
		}
		latest := slices.MaxFunc(sounds, compareCreated)
		return &latest, nil

	case LastPlayed:
		entry, err := r.history.Recent(session, e.Offset)
		if err != nil {
			return nil, err
		}
		// A sound deleted since it was played no longer resolves.
		return r.catalog.Lookup(ctx, session, entry.SoundID)

	default:
		return nil, fmt.Errorf("%w: %T", ErrBadExpr, expr)
	}
}
