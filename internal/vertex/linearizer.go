package vertex

import (
	"errors"
	"fmt"

	"github.com/banshee-data/vertexfit/internal/track"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// LinearExpansion is the first-order expansion of a track's perigee
// parameters around a reference point:
//
//	q(V, p) ≈ ParamsAtPCA + D·δV + E·δp
//
// where V is the vertex position and p = (phi, theta, q/p).
type LinearExpansion struct {
	ParamsAtPCA      [track.NumParams]float64
	PositionJacobian *mat.Dense    // D, 5x3
	MomentumJacobian *mat.Dense    // E, 5x3
	CovarianceAtPCA  *mat.SymDense // 5x5
}

// Linearizer expands a track around a reference point. Implementations
// must be safe for concurrent use when a Fitter is shared across
// goroutines.
type Linearizer interface {
	Linearize(params track.Parameters, point r3.Vec) (*LinearExpansion, error)
}

// LinearizerFunc adapts a function to the Linearizer interface.
type LinearizerFunc func(params track.Parameters, point r3.Vec) (*LinearExpansion, error)

// Linearize calls f.
func (f LinearizerFunc) Linearize(params track.Parameters, point r3.Vec) (*LinearExpansion, error) {
	return f(params, point)
}

// Extractor reads the measured perigee parameters from a caller-owned
// trajectory. It must not mutate the trajectory.
type Extractor[T any] func(T) track.Parameters

// Identity is the Extractor for callers that already hold track.Parameters.
func Identity(p track.Parameters) track.Parameters { return p }

// validate checks the expansion shapes before any matrix arithmetic.
func (e *LinearExpansion) validate() error {
	switch {
	case e == nil:
		return errors.New("nil linear expansion")
	case e.PositionJacobian == nil || e.MomentumJacobian == nil || e.CovarianceAtPCA == nil:
		return errors.New("incomplete linear expansion")
	}
	if r, c := e.PositionJacobian.Dims(); r != track.NumParams || c != 3 {
		return fmt.Errorf("position jacobian is %dx%d, want 5x3", r, c)
	}
	if r, c := e.MomentumJacobian.Dims(); r != track.NumParams || c != 3 {
		return fmt.Errorf("momentum jacobian is %dx%d, want 5x3", r, c)
	}
	if n := e.CovarianceAtPCA.SymmetricDim(); n != track.NumParams {
		return fmt.Errorf("covariance is %dx%d, want 5x5", n, n)
	}
	return nil
}
