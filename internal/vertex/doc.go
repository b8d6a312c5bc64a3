// Package vertex fits a common vertex to a set of tracks with the Billoir
// method.
//
// Responsibilities: per-track normal-equation caches, block elimination of
// the momentum unknowns into a 3x3 vertex system, optional beam-spot
// constraint, angle periodicity bookkeeping and the keep-best iteration
// policy.
// Key types: Fitter, FittedVertex, TrackAtVertex, Constraint, Linearizer.
//
// Dependency rule: vertex depends on track, config and monitoring. Concrete
// linearizers (internal/linearize) depend on vertex, never the other way.
// No SQL/database code is allowed in this package.
//
// A single Fit is synchronous and CPU bound. Fitters hold no per-call state,
// so one Fitter may serve many goroutines fitting independent candidates.
package vertex
