package linearize

import (
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/vertexfit/internal/config"
	"github.com/banshee-data/vertexfit/internal/track"
	"github.com/banshee-data/vertexfit/internal/vertex"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// ErrPropagationFailure is returned when a track cannot be transported to
// the requested reference point.
var ErrPropagationFailure = errors.New("linearize: propagation failure")

// StraightLine linearizes tracks in a field-free region.
type StraightLine struct {
	// MinSinTheta rejects tracks too close to the beam axis, where
	// cot(theta) blows up.
	MinSinTheta float64
	// MaxDistance, when positive, rejects transports whose new impact
	// parameters are farther than this from the reference point (mm).
	MaxDistance float64
}

var _ vertex.Linearizer = (*StraightLine)(nil)

// NewStraightLine builds a StraightLine from tuning config.
func NewStraightLine(cfg *config.VertexingConfig) *StraightLine {
	return &StraightLine{
		MinSinTheta: cfg.GetMinSinTheta(),
		MaxDistance: cfg.GetMaxDistance(),
	}
}

// Linearize transports params to a perigee centred on point and returns
// the expansion in the vertex position and momentum.
func (s *StraightLine) Linearize(params track.Parameters, point r3.Vec) (*vertex.LinearExpansion, error) {
	for i, v := range params.Params {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: parameter %d is %v", ErrPropagationFailure, i, v)
		}
	}
	if params.Covariance == nil || params.Covariance.SymmetricDim() != track.NumParams {
		return nil, fmt.Errorf("%w: missing 5x5 covariance", ErrPropagationFailure)
	}

	d0 := params.Params[track.LocD0]
	phi := params.Params[track.Phi]
	theta := params.Params[track.Theta]
	sinPhi, cosPhi := math.Sincos(phi)
	sinTheta, cosTheta := math.Sincos(theta)
	if math.Abs(sinTheta) < s.MinSinTheta {
		return nil, fmt.Errorf("%w: sin(theta)=%g below %g", ErrPropagationFailure, sinTheta, s.MinSinTheta)
	}
	cotTheta := cosTheta / sinTheta

	delta := r3.Sub(params.PCA(), point)
	newD0 := -delta.X*sinPhi + delta.Y*cosPhi
	along := delta.X*cosPhi + delta.Y*sinPhi
	newZ0 := delta.Z - along*cotTheta
	if s.MaxDistance > 0 && math.Hypot(newD0, newZ0) > s.MaxDistance {
		return nil, fmt.Errorf("%w: perigee (%g, %g) beyond %g of %v", ErrPropagationFailure, newD0, newZ0, s.MaxDistance, point)
	}

	// Transport Jacobian between the two perigee frames.
	jac := identity(track.NumParams)
	jac.Set(track.LocD0, track.Phi, -along)
	jac.Set(track.LocZ0, track.Phi, (d0-newD0)*cotTheta)
	jac.Set(track.LocZ0, track.Theta, along/(sinTheta*sinTheta))
	var cov mat.Dense
	cov.Product(jac, params.Covariance, jac.T())

	posJac := mat.NewDense(track.NumParams, 3, []float64{
		-sinPhi, cosPhi, 0,
		-cosPhi * cotTheta, -sinPhi * cotTheta, 1,
		0, 0, 0,
		0, 0, 0,
		0, 0, 0,
	})
	momJac := mat.NewDense(track.NumParams, 3, []float64{
		0, 0, 0,
		-newD0 * cotTheta, 0, 0,
		1, 0, 0,
		0, 1, 0,
		0, 0, 1,
	})

	return &vertex.LinearExpansion{
		ParamsAtPCA:      [track.NumParams]float64{newD0, newZ0, phi, theta, params.Params[track.QOverP]},
		PositionJacobian: posJac,
		MomentumJacobian: momJac,
		CovarianceAtPCA:  symmetric(&cov),
	}, nil
}

// PerigeeAt returns the perigee parameters, relative to ref, of the
// straight line through point with the given direction. The covariance is
// left nil.
func PerigeeAt(point r3.Vec, phi, theta, qOverP float64, ref r3.Vec) track.Parameters {
	sinPhi, cosPhi := math.Sincos(phi)
	sinTheta, cosTheta := math.Sincos(theta)
	delta := r3.Sub(point, ref)
	along := delta.X*cosPhi + delta.Y*sinPhi
	return track.NewParameters(ref, [track.NumParams]float64{
		-delta.X*sinPhi + delta.Y*cosPhi,
		delta.Z - along*cosTheta/sinTheta,
		phi,
		theta,
		qOverP,
	}, nil)
}

func identity(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}

func symmetric(a mat.Matrix) *mat.SymDense {
	n, _ := a.Dims()
	s := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			s.SetSym(i, j, 0.5*(a.At(i, j)+a.At(j, i)))
		}
	}
	return s
}
