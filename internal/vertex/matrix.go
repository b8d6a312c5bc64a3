package vertex

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// invertSym inverts a symmetric positive definite matrix through its
// Cholesky factorisation. Matrices that fail to factorise, or whose
// condition number exceeds limit, are singular for our purposes.
func invertSym(a mat.Symmetric, limit float64) (*mat.SymDense, error) {
	var chol mat.Cholesky
	if ok := chol.Factorize(a); !ok {
		return nil, ErrSingularMatrix
	}
	if cond := chol.Cond(); math.IsNaN(cond) || cond > limit {
		return nil, ErrSingularMatrix
	}
	n, _ := a.Dims()
	inv := mat.NewSymDense(n, nil)
	if err := chol.InverseTo(inv); err != nil {
		return nil, ErrSingularMatrix
	}
	return inv, nil
}

// symmetrize returns (a + aᵗ)/2 as a SymDense. Products such as EᵗWE are
// symmetric in exact arithmetic only.
func symmetrize(a mat.Matrix) *mat.SymDense {
	n, _ := a.Dims()
	s := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			s.SetSym(i, j, 0.5*(a.At(i, j)+a.At(j, i)))
		}
	}
	return s
}

func vecFromR3(v r3.Vec) *mat.VecDense {
	return mat.NewVecDense(3, []float64{v.X, v.Y, v.Z})
}

func r3FromVec(v mat.Vector) r3.Vec {
	return r3.Vec{X: v.AtVec(0), Y: v.AtVec(1), Z: v.AtVec(2)}
}

func sqrtNonNeg(v float64) float64 {
	if v <= 0 {
		return 0
	}
	return math.Sqrt(v)
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
