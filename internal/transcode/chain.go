package transcode

import (
	"context"
	"errors"

	"github.com/MrWong99/earshot/internal/resilience"
)

// Compile-time interface assertions.
var (
	_ Converter = (*Chain)(nil)
	_ Converter = (*Guarded)(nil)
)

// breakerFailure counts a conversion error against the converter's health
// unless it only means the converter does not handle the container.
func breakerFailure(err error) bool {
	return resilience.CountsAsFailure(err) && !errors.Is(err, ErrUnsupported)
}

// fallbackOn moves to the next converter for anything but cancellation.
func fallbackOn(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// Chain tries converters in registration order until one succeeds. Each
// converter sits behind its own circuit breaker, so one that keeps failing
// is skipped until its breaker probes it again.
type Chain struct {
	group *resilience.FallbackGroup[Converter]
}

// NewChain creates a chain with primary tried first. Only the breaker
// thresholds of cb are used.
func NewChain(primaryName string, primary Converter, cb resilience.CircuitBreakerConfig) *Chain {
	cb.IsFailure = breakerFailure
	return &Chain{
		group: resilience.NewFallbackGroup(primary, primaryName, resilience.FallbackConfig{
			CircuitBreaker: cb,
			ShouldFallback: fallbackOn,
		}),
	}
}

// Add appends a converter tried after all earlier ones. Call before the
// first Convert.
func (c *Chain) Add(name string, conv Converter) *Chain {
	c.group.AddFallback(name, conv)
	return c
}

// Names returns the converter names in the order they are tried.
func (c *Chain) Names() []string { return c.group.Names() }

// Convert implements [Converter].
func (c *Chain) Convert(ctx context.Context, src Source, format Format) ([]byte, error) {
	data, err := resilience.ExecuteWithResult(c.group, func(conv Converter) ([]byte, error) {
		return conv.Convert(ctx, src, format)
	})
	if err != nil && !errors.Is(err, ErrConversionFailed) {
		return nil, errors.Join(ErrConversionFailed, err)
	}
	return data, err
}

// Guarded puts a single converter behind a circuit breaker.
type Guarded struct {
	conv    Converter
	breaker *resilience.CircuitBreaker
}

// NewGuarded wraps conv.
func NewGuarded(name string, conv Converter, cb resilience.CircuitBreakerConfig) *Guarded {
	cb.Name = name
	cb.IsFailure = breakerFailure
	return &Guarded{conv: conv, breaker: resilience.NewCircuitBreaker(cb)}
}

// State exposes the breaker state for health reporting.
func (g *Guarded) State() resilience.State { return g.breaker.State() }

// Convert implements [Converter]. A rejected call wraps both
// [ErrConversionFailed] and [resilience.ErrCircuitOpen].
func (g *Guarded) Convert(ctx context.Context, src Source, format Format) ([]byte, error) {
	var data []byte
	err := g.breaker.Execute(func() error {
		var err error
		data, err = g.conv.Convert(ctx, src, format)
		return err
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return nil, errors.Join(ErrConversionFailed, err)
	}
	return data, err
}
