// Package clock provides the time source used by the recorder and the sound
// cache. Production code uses [Real]; tests drive a [Fake] by hand so that
// expiry and eviction can be asserted without sleeping.
package clock

import (
	"sync"
	"time"
)

// Clock reports the current time. Implementations must be safe for
// concurrent use.
type Clock interface {
	Now() time.Time
}

// Real is a [Clock] backed by [time.Now]. The returned times carry a
// monotonic reading, so differences between them are immune to wall clock
// adjustments.
type Real struct{}

// Now implements [Clock].
func (Real) Now() time.Time { return time.Now() }

// Compile-time interface assertions.
var (
	_ Clock = Real{}
	_ Clock = (*Fake)(nil)
)

// Fake is a manually driven [Clock] for tests. The zero value starts at the
// zero time; use [NewFake] to start somewhere meaningful.
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake returns a Fake clock set to start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// Now implements [Clock].
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the clock forward by d and returns the new time.
func (f *Fake) Advance(d time.Duration) time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
	return f.now
}

// Set moves the clock to t.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t
}
