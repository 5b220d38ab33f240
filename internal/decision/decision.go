// Package decision declares the narrow interface the Worker Loop calls on
// every cycle before popping a signal (spec section 4.J, component J). The
// distilled spec treats this collaborator's own logic as out of scope; what
// belongs here is only the seam the worker calls through, plus a
// deterministic no-op implementation so the worker runs standalone without
// an external decision engine wired in.
package decision

import "context"

// Generator is polled once per worker cycle. Implementations may emit zero
// or more signals by writing to the outbox directly; Generator itself
// returns only an error, mirroring the worker's own fire-and-log treatment
// of every other per-cycle step (spec 4.I).
type Generator interface {
	Tick(ctx context.Context) error
}

// Noop never produces a signal. It is the default Generator when no
// external decision engine is configured, letting the worker loop run on
// outbox contents alone.
type Noop struct{}

// Tick does nothing and never errors.
func (Noop) Tick(context.Context) error { return nil }
