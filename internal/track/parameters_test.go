package track

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/spatial/r3"
)

func TestParametersPCA(t *testing.T) {
	t.Parallel()

	p := NewParameters(r3.Vec{X: 1, Y: 2, Z: 3}, [NumParams]float64{0.5, -0.25, math.Pi / 2, 1, 0.1}, nil)
	pca := p.PCA()

	// phi = π/2 puts the signed d0 offset along -x.
	assert.InDelta(t, 0.5, pca.X, 1e-12)
	assert.InDelta(t, 2.0, pca.Y, 1e-12)
	assert.InDelta(t, 2.75, pca.Z, 1e-12)
}

func TestMomentum(t *testing.T) {
	t.Parallel()

	t.Run("magnitude from q over p", func(t *testing.T) {
		t.Parallel()
		mom := Momentum(0, math.Pi/2, -0.5)
		assert.InDelta(t, 2.0, r3.Norm(mom), 1e-12)
		assert.InDelta(t, 2.0, mom.X, 1e-12)
	})

	t.Run("neutral returns unit direction", func(t *testing.T) {
		t.Parallel()
		mom := Momentum(0.3, 0.7, 0)
		assert.InDelta(t, 1.0, r3.Norm(mom), 1e-12)
	})
}

func TestCharge(t *testing.T) {
	t.Parallel()

	cases := map[float64]float64{0.2: 1, -0.2: -1, 0: 0}
	for qop, want := range cases {
		p := Parameters{Params: [NumParams]float64{0, 0, 0, 1, qop}}
		assert.Equal(t, want, p.Charge(), "q/p=%g", qop)
	}
}

func TestDiagonalCovariance(t *testing.T) {
	t.Parallel()

	cov := DiagonalCovariance([NumParams]float64{1, 2, 3, 4, 5})
	for i := 0; i < NumParams; i++ {
		for j := 0; j < NumParams; j++ {
			want := 0.0
			if i == j {
				want = float64(i + 1)
			}
			assert.Equal(t, want, cov.At(i, j))
		}
	}
}
