package config

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/earshot/internal/soundboard"
	"github.com/MrWong99/earshot/internal/transcode"
)

// ErrNotRegistered is returned by the Create methods when no factory exists
// for the requested name.
var ErrNotRegistered = errors.New("config: factory not registered")

// StoreFactory opens a catalog store.
type StoreFactory func(ctx context.Context, cfg StoreConfig) (soundboard.Store, error)

// ConverterFactory builds a sound converter.
type ConverterFactory func(cfg SoundboardConfig) (transcode.Converter, error)

// Registry maps store drivers and converter names to their constructors.
// main registers the concrete implementations, which keeps this package free
// of driver imports. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	stores     map[StoreDriver]StoreFactory
	converters map[ConverterName]ConverterFactory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		stores:     make(map[StoreDriver]StoreFactory),
		converters: make(map[ConverterName]ConverterFactory),
	}
}

// RegisterStore registers factory for driver, replacing any previous one.
func (r *Registry) RegisterStore(driver StoreDriver, factory StoreFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stores[driver] = factory
}

// RegisterConverter registers factory for name, replacing any previous one.
func (r *Registry) RegisterConverter(name ConverterName, factory ConverterFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.converters[name] = factory
}

// CreateStore opens the store registered for cfg.Driver.
func (r *Registry) CreateStore(ctx context.Context, cfg StoreConfig) (soundboard.Store, error) {
	r.mu.RLock()
	factory, ok := r.stores[cfg.Driver]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: store/%q", ErrNotRegistered, cfg.Driver)
	}
	return factory(ctx, cfg)
}

// CreateConverter builds the converter registered for cfg.Converter.
func (r *Registry) CreateConverter(cfg SoundboardConfig) (transcode.Converter, error) {
	r.mu.RLock()
	factory, ok := r.converters[cfg.Converter]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: converter/%q", ErrNotRegistered, cfg.Converter)
	}
	return factory(cfg)
}
