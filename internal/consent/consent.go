// Package consent tracks which users agreed to be recorded.
//
// Recording is opt-in: the voice layer asks [Registry.Allowed] before every
// frame and drops audio from anyone not on the whitelist. The list survives
// restarts through a [Store].
package consent

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
)

// ErrInvalidUser is returned for user IDs a [Store] cannot represent.
var ErrInvalidUser = errors.New("consent: invalid user id")

// Store persists the whitelist. Implementations need not be safe for
// concurrent use; [Registry] serialises access.
type Store interface {
	// Load returns every stored user ID. A store that was never written
	// returns an empty list.
	Load() ([]string, error)

	// Append adds one user ID.
	Append(user string) error

	// Save replaces the stored list with users.
	Save(users []string) error
}

// Registry is the in-memory whitelist, backed by an optional [Store].
//
// All methods are safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	users    map[string]struct{}
	store    Store
	onRemove []func(user string)
}

// NewRegistry loads the whitelist from store. A nil store keeps the list in
// memory only.
func NewRegistry(store Store) (*Registry, error) {
	r := &Registry{users: make(map[string]struct{}), store: store}
	if store == nil {
		return r, nil
	}
	users, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("consent: load whitelist: %w", err)
	}
	for _, u := range users {
		r.users[u] = struct{}{}
	}
	slog.Info("consent: whitelist loaded", "users", len(r.users))
	return r, nil
}

// OnRemove registers fn to run after a user is removed. Callbacks run
// synchronously in registration order, outside the registry lock.
func (r *Registry) OnRemove(fn func(user string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onRemove = append(r.onRemove, fn)
}

// Add puts user on the whitelist. It reports false if the user was already
// there. The store is written before the in-memory list changes, so a failed
// write leaves the registry untouched.
func (r *Registry) Add(user string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[user]; ok {
		return false, nil
	}
	if r.store != nil {
		if err := r.store.Append(user); err != nil {
			return false, fmt.Errorf("consent: add %s: %w", user, err)
		}
	}
	r.users[user] = struct{}{}
	slog.Info("consent: user added to whitelist", "user_id", user)
	return true, nil
}

// Remove takes user off the whitelist and runs the OnRemove callbacks. It
// reports false if the user was not on it.
func (r *Registry) Remove(user string) (bool, error) {
	r.mu.Lock()
	if _, ok := r.users[user]; !ok {
		r.mu.Unlock()
		return false, nil
	}
	if r.store != nil {
		rest := make([]string, 0, len(r.users)-1)
		for u := range r.users {
			if u != user {
				rest = append(rest, u)
			}
		}
		slices.Sort(rest)
		if err := r.store.Save(rest); err != nil {
			r.mu.Unlock()
			return false, fmt.Errorf("consent: remove %s: %w", user, err)
		}
	}
	delete(r.users, user)
	callbacks := slices.Clone(r.onRemove)
	r.mu.Unlock()

	slog.Info("consent: user removed from whitelist", "user_id", user)
	for _, fn := range callbacks {
		fn(user)
	}
	return true, nil
}

// Allowed reports whether user may be recorded.
func (r *Registry) Allowed(user string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.users[user]
	return ok
}

// List returns the whitelisted user IDs, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.users))
	for u := range r.users {
		out = append(out, u)
	}
	slices.Sort(out)
	return out
}
