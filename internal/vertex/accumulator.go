package vertex

import "gonum.org/v1/gonum/mat"

// accumulator sums the per-track terms that survive block elimination of
// the momentum unknowns. It is rebuilt from zero every iteration.
type accumulator struct {
	a   *mat.Dense    // Σ DᵗWD
	t   *mat.VecDense // Σ DᵗW·deltaQ
	bcb *mat.Dense    // Σ BC·Bᵗ
	bcu *mat.VecDense // Σ BC·U
}

func newAccumulator() *accumulator {
	return &accumulator{
		a:   mat.NewDense(3, 3, nil),
		t:   mat.NewVecDense(3, nil),
		bcb: mat.NewDense(3, 3, nil),
		bcu: mat.NewVecDense(3, nil),
	}
}

func (acc *accumulator) add(c *trackCache) {
	var dtwd mat.Dense
	dtwd.Mul(c.dtw, c.d)
	acc.a.Add(acc.a, &dtwd)

	var dtwq mat.VecDense
	dtwq.MulVec(c.dtw, c.deltaQ)
	acc.t.AddVec(acc.t, &dtwq)

	var bcbt mat.Dense
	bcbt.Mul(c.bc, c.b.T())
	acc.bcb.Add(acc.bcb, &bcbt)

	var bcu mat.VecDense
	bcu.MulVec(c.bc, c.u)
	acc.bcu.AddVec(acc.bcu, &bcu)
}

// system returns the reduced vertex equations Vwgt·δV = Vdel with
// Vdel = T − BCU and Vwgt = A − BCB.
func (acc *accumulator) system() (vdel *mat.VecDense, vwgt *mat.SymDense) {
	vdel = mat.NewVecDense(3, nil)
	vdel.SubVec(acc.t, acc.bcu)
	var w mat.Dense
	w.Sub(acc.a, acc.bcb)
	return vdel, symmetrize(&w)
}
