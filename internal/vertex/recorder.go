package vertex

import "gonum.org/v1/gonum/spatial/r3"

// IterationRecorder observes the fit loop. RecordIteration is called once
// per completed iteration with the total chi-square, the updated
// linearization point, and whether the iteration replaced the best vertex.
// A recorder shared by concurrent fits must synchronise itself.
type IterationRecorder interface {
	RecordIteration(iteration int, chi2 float64, point r3.Vec, improved bool)
}
