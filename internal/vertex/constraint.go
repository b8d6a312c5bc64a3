package vertex

import (
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Constraint is a prior on the vertex position, typically the beam spot.
type Constraint struct {
	Position   r3.Vec
	Covariance *mat.SymDense // 3x3
}

// NewBeamSpot returns a constraint with independent per-axis widths.
func NewBeamSpot(pos r3.Vec, sigmaX, sigmaY, sigmaZ float64) *Constraint {
	cov := mat.NewSymDense(3, nil)
	cov.SetSym(0, 0, sigmaX*sigmaX)
	cov.SetSym(1, 1, sigmaY*sigmaY)
	cov.SetSym(2, 2, sigmaZ*sigmaZ)
	return &Constraint{Position: pos, Covariance: cov}
}

// Active reports whether the constraint takes part in the fit: it must be
// non-nil and carry a covariance with a nonzero trace.
func (c *Constraint) Active() bool {
	return c != nil && c.Covariance != nil && mat.Trace(c.Covariance) != 0
}
