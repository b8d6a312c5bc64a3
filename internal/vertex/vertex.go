package vertex

import (
	"fmt"

	"github.com/banshee-data/vertexfit/internal/track"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// TrackAtVertex is one track's refit at the fitted vertex.
type TrackAtVertex[T any] struct {
	// Refitted is expressed on a perigee centred at the vertex, so d0 and
	// z0 are zero and the covariance is the 5x5 refit covariance.
	Refitted track.Parameters
	Chi2     float64 // this track's chi-square contribution
	Original T
}

// FittedVertex is the result of a vertex fit. A FittedVertex is built in
// one piece and never modified afterwards by the fitter.
type FittedVertex[T any] struct {
	Position   r3.Vec
	Covariance *mat.SymDense // 3x3
	Chi2       float64
	NDF        int // 0 on the empty-input vertex, not DegreesOfFreedom(0, ...)
	Iteration  int // iteration that produced this vertex; 0 when no fit ran
	Tracks     []TrackAtVertex[T]
}

// defaultVertex is returned when there is nothing to fit. No fit ran, so
// it carries NDF 0 rather than the single-track value of DegreesOfFreedom.
func defaultVertex[T any]() *FittedVertex[T] {
	return &FittedVertex[T]{Covariance: mat.NewSymDense(3, nil)}
}

// ReducedChi2 returns chi2/ndf, or 0 when ndf is not positive.
func (v *FittedVertex[T]) ReducedChi2() float64 {
	if v.NDF <= 0 {
		return 0
	}
	return v.Chi2 / float64(v.NDF)
}

// PositionError returns the 1σ uncertainties along x, y and z.
func (v *FittedVertex[T]) PositionError() r3.Vec {
	return r3.Vec{
		X: sqrtNonNeg(v.Covariance.At(0, 0)),
		Y: sqrtNonNeg(v.Covariance.At(1, 1)),
		Z: sqrtNonNeg(v.Covariance.At(2, 2)),
	}
}

// Summary is a one-line description for logs.
func (v *FittedVertex[T]) Summary() string {
	return fmt.Sprintf("vertex (%.4f, %.4f, %.4f) chi2/ndf=%.3f/%d tracks=%d iter=%d",
		v.Position.X, v.Position.Y, v.Position.Z, v.Chi2, v.NDF, len(v.Tracks), v.Iteration)
}

// DegreesOfFreedom returns the ndf of a fit with n tracks: 2n-3 for n >= 2,
// otherwise 1, plus 3 for an active constraint.
func DegreesOfFreedom(n int, constrained bool) int {
	ndf := 2*n - 3
	if n < 2 {
		ndf = 1
	}
	if constrained {
		ndf += 3
	}
	return ndf
}
