package engine

import "errors"

var (
	// ErrGatingRejected marks a tick whose entry attempt was blocked by the
	// time window or pivot gate. Soft: skip this tick, retry next.
	ErrGatingRejected = errors.New("entry gated")

	// ErrTagCollision marks a venue order carrying this engine's scoping
	// tag that the engine did not submit. Management of the affected
	// direction is suspended while the foreign order remains.
	ErrTagCollision = errors.New("foreign order carries engine tag")
)
