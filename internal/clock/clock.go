// Package clock provides the single time source the store reads from.
//
// Spec §9 notes that the C reference caches milliseconds in a background
// thread polling every 1ms as a micro-optimization, and that "a
// straightforward implementation may read the clock directly per request"
// as long as the read stays monotonic *within* a single operation. This
// package does the latter: a stream lookup takes one Clock.Now() reading for
// its expiry check, and Append takes one further reading that it uses for
// every timestamp it commits, rather than re-reading the clock per message
// or per producer update. Wrapping benbjohnson/clock
// also makes TTL/expiry logic deterministic in tests, which a bare
// time.Now() would not allow.
package clock

import "github.com/benbjohnson/clock"

// Clock is the narrow interface the store depends on.
type Clock = clock.Clock

// New returns the real wall-clock implementation.
func New() Clock {
	return clock.New()
}

// NewMock returns a fake clock for deterministic tests. It starts at the
// Unix epoch; callers typically call mock.Set or mock.Add to move it.
func NewMock() *clock.Mock {
	return clock.NewMock()
}
