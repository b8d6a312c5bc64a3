package vertex

import (
	"fmt"

	"github.com/banshee-data/vertexfit/internal/track"
	"gonum.org/v1/gonum/mat"
)

// trackCache holds one track's normal-equation terms for the current
// iteration. D and E are the position and momentum Jacobians of the
// expansion and W is the inverse of its covariance.
type trackCache struct {
	d, e   *mat.Dense    // 5x3
	weight *mat.SymDense // W, 5x5
	deltaQ *mat.VecDense // measured minus predicted parameters

	dtw  *mat.Dense    // DᵗW, 3x5
	g    *mat.SymDense // EᵗWE
	cInv *mat.SymDense // (EᵗWE)⁻¹
	b    *mat.Dense    // DᵗWE
	bc   *mat.Dense    // B·C⁻¹
	u    *mat.VecDense // EᵗW·deltaQ

	chi2 float64
}

// fill rebuilds the cache from a fresh expansion. momentum is the track's
// running (phi, theta, q/p) estimate; the impact parameters are compared
// against zero because the expansion is taken at the current vertex guess.
func (c *trackCache) fill(lin *LinearExpansion, momentum [3]float64, limit float64) error {
	q := lin.ParamsAtPCA
	c.d = lin.PositionJacobian
	c.e = lin.MomentumJacobian
	c.deltaQ = mat.NewVecDense(track.NumParams, []float64{
		q[track.LocD0],
		q[track.LocZ0],
		q[track.Phi] - momentum[0],
		q[track.Theta] - momentum[1],
		q[track.QOverP] - momentum[2],
	})

	w, err := invertSym(lin.CovarianceAtPCA, limit)
	if err != nil {
		return fmt.Errorf("measurement covariance: %w", err)
	}
	c.weight = w

	c.dtw = new(mat.Dense)
	c.dtw.Mul(c.d.T(), w)
	var etw mat.Dense
	etw.Mul(c.e.T(), w)

	var g mat.Dense
	g.Mul(&etw, c.e)
	c.g = symmetrize(&g)
	if c.cInv, err = invertSym(c.g, limit); err != nil {
		return fmt.Errorf("momentum weight G: %w", err)
	}

	c.b = new(mat.Dense)
	c.b.Mul(c.dtw, c.e)
	c.u = new(mat.VecDense)
	c.u.MulVec(&etw, c.deltaQ)
	c.bc = new(mat.Dense)
	c.bc.Mul(c.b, c.cInv)
	c.chi2 = 0
	return nil
}

// momentumUpdate returns δp = C⁻¹·(U − Bᵗ·δV).
func (c *trackCache) momentumUpdate(deltaV *mat.VecDense) *mat.VecDense {
	var btv mat.VecDense
	btv.MulVec(c.b.T(), deltaV)
	var rhs mat.VecDense
	rhs.SubVec(c.u, &btv)
	dp := new(mat.VecDense)
	dp.MulVec(c.cInv, &rhs)
	return dp
}

// chiSquare returns rᵗWr for r = deltaQ − D·δV − E·δp. The weight is the
// one the iteration started with.
func (c *trackCache) chiSquare(deltaV, deltaP *mat.VecDense) float64 {
	var dv, ep mat.VecDense
	dv.MulVec(c.d, deltaV)
	ep.MulVec(c.e, deltaP)
	r := mat.NewVecDense(track.NumParams, nil)
	r.SubVec(c.deltaQ, &dv)
	r.SubVec(r, &ep)
	return mat.Inner(r, c.weight, r)
}

// refitCovariance propagates the joint (vertex, momentum) covariance of
// this track into its 5x5 perigee covariance at the vertex.
func (c *trackCache) refitCovariance(cov *mat.SymDense) *mat.SymDense {
	// cov(V,P) = −cov·G·C⁻¹. G·C⁻¹ = I, so this is −cov and the result can be
	// indefinite: use its diagonal, not the d0/z0 to momentum correlations.
	var vp mat.Dense
	vp.Product(cov, c.g, c.cInv)
	vp.Scale(-1, &vp)

	// cov(P,P) = C⁻¹ + BCᵗ·cov·BC
	var pp mat.Dense
	pp.Product(c.bc.T(), cov, c.bc)
	pp.Add(&pp, c.cInv)

	full := mat.NewDense(6, 6, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			full.Set(i, j, cov.At(i, j))
			full.Set(i, j+3, vp.At(i, j))
			full.Set(i+3, j, vp.At(j, i))
			full.Set(i+3, j+3, pp.At(i, j))
		}
	}

	trans := c.perigeeTransform()
	var out mat.Dense
	out.Product(trans, full, trans.T())
	return symmetrize(&out)
}

// perigeeTransform maps (x, y, z, phi, theta, q/p) onto the five perigee
// parameters. Only d0 and z0 see the transverse position, through the
// track's own position Jacobian; z feeds z0 directly and the momentum
// parameters pass through.
func (c *trackCache) perigeeTransform() *mat.Dense {
	t := mat.NewDense(track.NumParams, 6, nil)
	t.Set(0, 0, c.d.At(0, 0))
	t.Set(0, 1, c.d.At(0, 1))
	t.Set(1, 0, c.d.At(1, 0))
	t.Set(1, 1, c.d.At(1, 1))
	t.Set(1, 2, 1)
	t.Set(2, 3, 1)
	t.Set(3, 4, 1)
	t.Set(4, 5, 1)
	return t
}
