package batch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"testing"

	"github.com/banshee-data/vertexfit/internal/config"
	"github.com/banshee-data/vertexfit/internal/linearize"
	"github.com/banshee-data/vertexfit/internal/monitoring"
	"github.com/banshee-data/vertexfit/internal/simulate"
	"github.com/banshee-data/vertexfit/internal/vertex"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRunner(t *testing.T, workers int, metrics *monitoring.FitMetrics) *Runner[simulate.Track] {
	t.Helper()
	f, err := vertex.NewFitter(vertex.DefaultConfig(), simulate.Measured)
	require.NoError(t, err)
	return NewRunner(f, &linearize.StraightLine{MinSinTheta: 1e-6}, workers, metrics)
}

func candidates(n int) []Candidate[simulate.Track] {
	gen := simulate.NewGenerator(simulate.ConfigFromTuning(config.EmptyVertexingConfig()), 5)
	out := make([]Candidate[simulate.Track], n)
	for i, ev := range gen.Events(n) {
		out[i] = Candidate[simulate.Track]{ID: 100 + ev.ID, Tracks: ev.Tracks}
	}
	return out
}

func TestRunnerFitsAllCandidates(t *testing.T) {
	t.Parallel()

	cands := candidates(12)
	// Two copies of the same track leave the vertex undetermined.
	cands[4].Tracks = []simulate.Track{cands[4].Tracks[0], cands[4].Tracks[0]}
	cands[7].Tracks = nil

	reg := prometheus.NewRegistry()
	r := newRunner(t, 3, monitoring.NewFitMetrics(reg))
	results, err := r.Run(context.Background(), cands)
	require.NoError(t, err)
	require.Len(t, results, len(cands))

	for i, res := range results {
		assert.Equal(t, cands[i].ID, res.ID)
		switch i {
		case 4:
			assert.ErrorIs(t, res.Err, vertex.ErrSingularMatrix)
			assert.Nil(t, res.Vertex)
		case 7:
			require.NoError(t, res.Err)
			assert.Empty(t, res.Vertex.Tracks)
		default:
			require.NoError(t, res.Err, "candidate %d", i)
			assert.Len(t, res.Vertex.Tracks, len(cands[i].Tracks))
		}
	}

	st := Summarize(results)
	assert.Equal(t, 12, st.Total)
	assert.Equal(t, 11, st.OK)
	assert.Equal(t, 1, st.Failed)
	assert.Equal(t, 1, st.ByStatus[monitoring.StatusSingular])
	assert.Greater(t, st.MeanReducedChi2, 0.0)
}

func TestRunnerMatchesSerialFits(t *testing.T) {
	t.Parallel()

	cands := candidates(6)
	parallel, err := newRunner(t, 4, nil).Run(context.Background(), cands)
	require.NoError(t, err)
	serial, err := newRunner(t, 1, nil).Run(context.Background(), cands)
	require.NoError(t, err)

	for i := range cands {
		assert.Equal(t, serial[i].Vertex.Position, parallel[i].Vertex.Position)
		assert.Equal(t, serial[i].Vertex.Chi2, parallel[i].Vertex.Chi2)
	}
}

func TestRunnerCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cands := candidates(5)
	results, err := newRunner(t, 2, nil).Run(ctx, cands)
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, results, 5)
	for i, res := range results {
		assert.Equal(t, cands[i].ID, res.ID)
		assert.ErrorIs(t, res.Err, context.Canceled)
		assert.Nil(t, res.Vertex)
	}
	assert.Equal(t, 5, Summarize(results).ByStatus[monitoring.StatusCancelled])
}

func TestNewRunnerDefaultsWorkers(t *testing.T) {
	t.Parallel()

	r := newRunner(t, 0, nil)
	assert.Positive(t, r.workers)
}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want string
	}{
		{nil, monitoring.StatusOK},
		{fmt.Errorf("vertex weight: %w", vertex.ErrSingularMatrix), monitoring.StatusSingular},
		{&vertex.LinearizationError{Track: 1, Iteration: 2, Err: linearize.ErrPropagationFailure}, monitoring.StatusLinearization},
		{fmt.Errorf("iteration 3: %w", vertex.ErrNumericFailure), monitoring.StatusNumeric},
		{context.DeadlineExceeded, monitoring.StatusCancelled},
		{errors.New("disk on fire"), monitoring.StatusError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.err), "%v", tt.err)
	}
}

// Not parallel: swaps the package logger.
func TestStatsLog(t *testing.T) {
	var buf strings.Builder
	monitoring.SetLogger(func(format string, v ...interface{}) {
		fmt.Fprintf(&buf, format, v...)
	})
	defer monitoring.SetLogger(log.Printf)

	Stats{Total: 3, OK: 2, Failed: 1, MeanReducedChi2: 1.25}.Log("run")
	assert.Contains(t, buf.String(), "run: 3 candidates, 2 ok, 1 failed, mean chi2/ndf=1.250")
}
