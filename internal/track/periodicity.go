package track

import "math"

const twoPi = 2 * math.Pi

// NormalizePhiTheta maps an (azimuth, polar angle) pair onto the canonical
// ranges phi ∈ (-π, π] and theta ∈ [0, π] without changing the direction
// they describe. A polar angle reflected through the z axis flips the
// azimuth by π.
func NormalizePhiTheta(phi, theta float64) (float64, float64) {
	phi = wrapPhi(math.Mod(phi, twoPi))

	theta = math.Mod(theta, twoPi)
	if theta < -math.Pi {
		theta = math.Abs(theta + twoPi)
	} else if theta < 0 {
		theta = -theta
		phi = wrapPhi(phi + math.Pi)
	}
	if theta > math.Pi {
		theta = twoPi - theta
		phi = wrapPhi(phi + math.Pi)
	}
	return phi, theta
}

// wrapPhi folds an angle in (-2π, 2π] into (-π, π].
func wrapPhi(phi float64) float64 {
	if phi > math.Pi {
		return phi - twoPi
	}
	if phi <= -math.Pi {
		return phi + twoPi
	}
	return phi
}
