package transcode

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/pkg/clock"
)

type cacheKey struct {
	id     string
	format Format
}

func (k cacheKey) String() string { return k.id + "\x00" + string(k.format) }

type cacheEntry struct {
	data    []byte
	created time.Time
}

// CacheOption is a functional option for [NewCache].
type CacheOption func(*Cache)

// WithClock sets the time source for entry ages. Defaults to [clock.Real].
func WithClock(c clock.Clock) CacheOption {
	return func(cc *Cache) { cc.clock = c }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) CacheOption {
	return func(cc *Cache) { cc.metrics = m }
}

// Cache keeps converted sounds for a fixed time after they were produced.
//
// Entries are keyed by (sound ID, format). A miss starts a conversion shared
// by every caller that asks for the same key while it runs. The conversion
// itself is detached from the caller's context, so a caller that gives up
// does not abort it for the others.
//
// Returned slices are shared between callers and must not be modified.
type Cache struct {
	conv   Converter
	source SourceFunc
	ttl    time.Duration

	clock   clock.Clock
	metrics *observe.Metrics

	mu      sync.RWMutex
	entries map[cacheKey]cacheEntry
	// gens counts invalidations per sound. A conversion only stores its
	// result if the generation it started under is still current.
	gens map[string]uint64

	group singleflight.Group
}

// NewCache creates a cache that converts with conv, finds sound files with
// source and keeps results for ttl.
func NewCache(conv Converter, source SourceFunc, ttl time.Duration, opts ...CacheOption) *Cache {
	c := &Cache{
		conv:    conv,
		source:  source,
		ttl:     ttl,
		clock:   clock.Real{},
		entries: make(map[cacheKey]cacheEntry),
		gens:    make(map[string]uint64),
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// TTL returns how long entries live.
func (c *Cache) TTL() time.Duration { return c.ttl }

func (c *Cache) live(e cacheEntry, now time.Time) bool {
	return now.Before(e.created.Add(c.ttl))
}

// Get returns the sound in format, converting it if no live entry exists.
// If ctx ends first Get returns ctx.Err() and the conversion carries on
// for any other callers.
func (c *Cache) Get(ctx context.Context, soundID string, format Format) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	k := cacheKey{id: soundID, format: format}

	c.mu.RLock()
	e, ok := c.entries[k]
	c.mu.RUnlock()
	if ok && c.live(e, c.clock.Now()) {
		c.metrics.RecordCacheLookup(ctx, "hit")
		return e.data, nil
	}

	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(k.String(), func() (any, error) {
		return c.fill(detached, k)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		result := "miss"
		if res.Shared {
			result = "shared"
		}
		c.metrics.RecordCacheLookup(ctx, result)
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	}
}

// fill runs as the single flight for k.
func (c *Cache) fill(ctx context.Context, k cacheKey) ([]byte, error) {
	c.mu.RLock()
	gen := c.gens[k.id]
	e, ok := c.entries[k]
	c.mu.RUnlock()
	// A flight that finished just before this one started may have stored it.
	if ok && c.live(e, c.clock.Now()) {
		return e.data, nil
	}

	src, err := c.source(ctx, k.id)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	data, err := c.conv.Convert(ctx, src, k.format)
	elapsed := time.Since(start)
	if err != nil {
		c.metrics.RecordConversion(ctx, string(k.format), "error", elapsed.Seconds())
		slog.Warn("transcode: conversion failed",
			"sound_id", k.id,
			"format", k.format,
			"elapsed", elapsed,
			"error", err,
		)
		if !errors.Is(err, ErrConversionFailed) {
			err = errors.Join(ErrConversionFailed, err)
		}
		return nil, err
	}
	c.metrics.RecordConversion(ctx, string(k.format), "ok", elapsed.Seconds())

	c.mu.Lock()
	stored := c.gens[k.id] == gen
	if stored {
		c.entries[k] = cacheEntry{data: data, created: c.clock.Now()}
	}
	c.mu.Unlock()

	slog.Debug("transcode: converted",
		"sound_id", k.id,
		"format", k.format,
		"bytes", len(data),
		"elapsed", elapsed,
		"stored", stored,
	)
	return data, nil
}

// Invalidate drops every format of soundID. A conversion already running for
// it still answers its callers but does not populate the cache, and the next
// Get starts a new one.
func (c *Cache) Invalidate(soundID string) {
	c.mu.Lock()
	for k := range c.entries {
		if k.id == soundID {
			delete(c.entries, k)
		}
	}
	c.gens[soundID]++
	c.mu.Unlock()

	for _, f := range Formats {
		c.group.Forget(cacheKey{id: soundID, format: f}.String())
	}
}

// Sweep removes entries that expired at now and returns how many.
func (c *Cache) Sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for k, e := range c.entries {
		if !c.live(e, now) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored entries, live or not yet swept.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Run sweeps every interval until ctx is cancelled. It returns nil on
// cancellation.
func (c *Cache) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return errors.New("transcode: sweep interval must be positive")
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.safeSweep()
		}
	}
}

func (c *Cache) safeSweep() {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("transcode: sweep panicked", "panic", r)
		}
	}()
	if removed := c.Sweep(c.clock.Now()); removed > 0 {
		slog.Info("transcode: swept expired entries", "removed", removed, "remaining", c.Len())
	}
}
