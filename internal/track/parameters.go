package track

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Indices into the bound parameter vector.
const (
	LocD0     = 0 // Transverse impact parameter (signed)
	LocZ0     = 1 // Longitudinal impact parameter
	Phi       = 2 // Azimuth of the momentum at the perigee
	Theta     = 3 // Polar angle of the momentum
	QOverP    = 4 // Charge over momentum magnitude
	NumParams = 5
)

// Parameters is a track state expressed at the point of closest approach
// to Reference. The transverse sign convention is d0 = (pca - ref)·(-sinφ, cosφ).
type Parameters struct {
	Params     [NumParams]float64
	Covariance *mat.SymDense // 5x5; may be nil for refits that carry no errors
	Reference  r3.Vec
}

// NewParameters builds Parameters from its parts.
func NewParameters(ref r3.Vec, params [NumParams]float64, cov *mat.SymDense) Parameters {
	return Parameters{Params: params, Covariance: cov, Reference: ref}
}

// D0 returns the transverse impact parameter.
func (p Parameters) D0() float64 { return p.Params[LocD0] }

// Z0 returns the longitudinal impact parameter.
func (p Parameters) Z0() float64 { return p.Params[LocZ0] }

// Phi returns the azimuth.
func (p Parameters) Phi() float64 { return p.Params[Phi] }

// Theta returns the polar angle.
func (p Parameters) Theta() float64 { return p.Params[Theta] }

// QOverP returns the signed inverse momentum.
func (p Parameters) QOverP() float64 { return p.Params[QOverP] }

// PCA returns the global position of the perigee point.
func (p Parameters) PCA() r3.Vec {
	sinPhi, cosPhi := math.Sincos(p.Params[Phi])
	d0 := p.Params[LocD0]
	return r3.Add(p.Reference, r3.Vec{X: -d0 * sinPhi, Y: d0 * cosPhi, Z: p.Params[LocZ0]})
}

// Momentum returns the momentum vector at the perigee.
func (p Parameters) Momentum() r3.Vec {
	return Momentum(p.Params[Phi], p.Params[Theta], p.Params[QOverP])
}

// Charge returns the sign of q/p, or 0 for a neutral (q/p == 0) track.
func (p Parameters) Charge() float64 {
	switch {
	case p.Params[QOverP] > 0:
		return 1
	case p.Params[QOverP] < 0:
		return -1
	}
	return 0
}

// Direction returns the unit vector for the given azimuth and polar angle.
func Direction(phi, theta float64) r3.Vec {
	sinPhi, cosPhi := math.Sincos(phi)
	sinTheta, cosTheta := math.Sincos(theta)
	return r3.Vec{X: cosPhi * sinTheta, Y: sinPhi * sinTheta, Z: cosTheta}
}

// Momentum reconstructs a momentum vector from (phi, theta, q/p). A zero
// q/p has no defined magnitude, so the unit direction is returned.
func Momentum(phi, theta, qOverP float64) r3.Vec {
	dir := Direction(phi, theta)
	if qOverP == 0 {
		return dir
	}
	return r3.Scale(1/math.Abs(qOverP), dir)
}

// DiagonalCovariance builds a 5x5 covariance from per-parameter variances.
func DiagonalCovariance(variances [NumParams]float64) *mat.SymDense {
	cov := mat.NewSymDense(NumParams, nil)
	for i, v := range variances {
		cov.SetSym(i, i, v)
	}
	return cov
}
