package vertex_test

import (
	"math"
	"sync"
	"testing"

	"github.com/banshee-data/vertexfit/internal/config"
	"github.com/banshee-data/vertexfit/internal/linearize"
	"github.com/banshee-data/vertexfit/internal/simulate"
	"github.com/banshee-data/vertexfit/internal/testutil"
	"github.com/banshee-data/vertexfit/internal/track"
	"github.com/banshee-data/vertexfit/internal/vertex"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

var (
	trueVertex = r3.Vec{X: 0.1, Y: -0.2, Z: 1.5}
	directions = [][2]float64{{0.3, 1.0}, {1.9, 1.4}, {-2.5, 2.0}, {-0.8, 0.8}, {2.8, 2.4}}
)

func noiselessTracks() []track.Parameters {
	cov := track.DiagonalCovariance([track.NumParams]float64{1e-4, 1e-4, 1e-6, 1e-6, 1e-6})
	return simulate.Noiseless(trueVertex, directions, 0.2, cov)
}

func newFitter(t *testing.T, cfg vertex.Config) *vertex.Fitter[track.Parameters] {
	t.Helper()
	f, err := vertex.NewFitter(cfg, vertex.Identity)
	require.NoError(t, err)
	return f
}

func TestFitRecoversNoiselessVertex(t *testing.T) {
	t.Parallel()

	f := newFitter(t, vertex.DefaultConfig())
	tracks := noiselessTracks()
	v, err := f.Fit(tracks, &linearize.StraightLine{}, nil)
	require.NoError(t, err)

	testutil.AssertVecNear(t, v.Position, trueVertex, 1e-6)
	assert.Less(t, v.Chi2, 1e-6)
	assert.Equal(t, 7, v.NDF)
	require.Len(t, v.Tracks, len(tracks))
	for i, tv := range v.Tracks {
		assert.InDelta(t, directions[i][0], tv.Refitted.Phi(), 1e-6)
		assert.InDelta(t, directions[i][1], tv.Refitted.Theta(), 1e-6)
		assert.Equal(t, tracks[i], tv.Original)
	}
}

func TestFitConstraintDominates(t *testing.T) {
	t.Parallel()

	f := newFitter(t, vertex.DefaultConfig())
	target := r3.Vec{X: 1, Y: 1, Z: 5}
	cov := mat.NewSymDense(3, []float64{1e-12, 0, 0, 0, 1e-12, 0, 0, 0, 1e-12})
	v, err := f.Fit(noiselessTracks(), &linearize.StraightLine{}, &vertex.Constraint{Position: target, Covariance: cov})
	require.NoError(t, err)

	testutil.AssertVecNear(t, v.Position, target, 1e-6)
	assert.Equal(t, 10, v.NDF)
}

func TestFitWeakConstraintKeepsTrackVertex(t *testing.T) {
	t.Parallel()

	f := newFitter(t, vertex.DefaultConfig())
	v, err := f.Fit(noiselessTracks(), &linearize.StraightLine{}, vertex.NewBeamSpot(r3.Vec{}, 100, 100, 100))
	require.NoError(t, err)
	testutil.AssertVecNear(t, v.Position, trueVertex, 1e-3)
}

// snapshot flattens a fit result so two runs can be compared bit for bit.
func snapshot[T any](v *vertex.FittedVertex[T]) []float64 {
	out := []float64{v.Position.X, v.Position.Y, v.Position.Z, v.Chi2, float64(v.NDF), float64(v.Iteration)}
	out = append(out, v.Covariance.RawSymmetric().Data...)
	for _, tv := range v.Tracks {
		out = append(out, tv.Chi2)
		out = append(out, tv.Refitted.Params[:]...)
		out = append(out, tv.Refitted.Covariance.RawSymmetric().Data...)
	}
	return out
}

func TestFitDeterministic(t *testing.T) {
	t.Parallel()

	cfg := simulate.ConfigFromTuning(config.EmptyVertexingConfig())
	ev := simulate.NewGenerator(cfg, 99).Event(0)
	f, err := vertex.NewFitter(vertex.DefaultConfig(), simulate.Measured)
	require.NoError(t, err)
	lin := &linearize.StraightLine{}

	first, err := f.Fit(ev.Tracks, lin, nil)
	require.NoError(t, err)

	// A shared fitter gives identical answers from concurrent callers.
	var wg sync.WaitGroup
	results := make([]*vertex.FittedVertex[simulate.Track], 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = f.Fit(ev.Tracks, lin, nil)
		}(i)
	}
	wg.Wait()

	want := snapshot(first)
	for i, r := range results {
		require.NotNil(t, r, "run %d", i)
		if diff := cmp.Diff(want, snapshot(r)); diff != "" {
			t.Errorf("run %d differs (-first +run):\n%s", i, diff)
		}
	}
}

func TestFitSimulatedEventsWithinErrors(t *testing.T) {
	t.Parallel()

	cfg := simulate.ConfigFromTuning(config.EmptyVertexingConfig())
	gen := simulate.NewGenerator(cfg, 2024)
	f, err := vertex.NewFitter(vertex.DefaultConfig(), simulate.Measured)
	require.NoError(t, err)

	for _, ev := range gen.Events(20) {
		v, err := f.Fit(ev.Tracks, &linearize.StraightLine{}, nil)
		require.NoError(t, err, "event %d", ev.ID)

		sigma := v.PositionError()
		diff := r3.Sub(v.Position, ev.TrueVertex)
		assert.Less(t, math.Abs(diff.X), 6*sigma.X, "event %d x", ev.ID)
		assert.Less(t, math.Abs(diff.Y), 6*sigma.Y, "event %d y", ev.ID)
		assert.Less(t, math.Abs(diff.Z), 6*sigma.Z, "event %d z", ev.ID)
		assert.True(t, v.Chi2 >= 0 && !math.IsInf(v.Chi2, 0))
		assert.Equal(t, 2*cfg.TracksPerVertex-3, v.NDF)

		// Only the refit diagonal is meaningful; it must stay non-negative.
		for i, tv := range v.Tracks {
			for k := 0; k < track.NumParams; k++ {
				assert.GreaterOrEqual(t, tv.Refitted.Covariance.At(k, k), 0.0, "event %d track %d param %d", ev.ID, i, k)
			}
		}
	}
}

func TestFitPropagationFailureSurfaces(t *testing.T) {
	t.Parallel()

	f := newFitter(t, vertex.DefaultConfig())
	tracks := noiselessTracks()
	tracks[3].Params[track.Theta] = 0

	_, err := f.Fit(tracks, &linearize.StraightLine{MinSinTheta: 1e-6}, nil)
	require.ErrorIs(t, err, linearize.ErrPropagationFailure)
	var linErr *vertex.LinearizationError
	require.ErrorAs(t, err, &linErr)
	assert.Equal(t, 3, linErr.Track)
	assert.Equal(t, 1, linErr.Iteration)
}
