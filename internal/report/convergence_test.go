package report

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

func TestConvergenceRecorder_Aggregates(t *testing.T) {
	t.Parallel()

	r := NewConvergenceRecorder("test")
	r.RecordIteration(1, 10, r3.Vec{}, true)
	r.RecordIteration(2, 4, r3.Vec{}, true)
	r.RecordIteration(1, 20, r3.Vec{}, true)
	r.RecordIteration(2, 30, r3.Vec{}, false)
	r.RecordIteration(0, 99, r3.Vec{}, true)

	stats := r.Stats()
	require.Len(t, stats, 2)
	assert.Equal(t, 1, stats[0].Iteration)
	assert.Equal(t, 2, stats[0].Fits)
	assert.InDelta(t, 15, stats[0].MeanChi2(), 1e-12)
	assert.InDelta(t, 1, stats[0].ImprovedFraction(), 1e-12)
	assert.InDelta(t, 17, stats[1].MeanChi2(), 1e-12)
	assert.InDelta(t, 0.5, stats[1].ImprovedFraction(), 1e-12)

	var empty IterationStats
	assert.Zero(t, empty.MeanChi2())
	assert.Zero(t, empty.ImprovedFraction())
}

func TestConvergenceRecorder_PointSpread(t *testing.T) {
	t.Parallel()

	r := NewConvergenceRecorder("spread")
	r.RecordIteration(1, 5, r3.Vec{X: 1}, true)
	r.RecordIteration(1, 5, r3.Vec{X: -1}, true)
	r.RecordIteration(2, 1, r3.Vec{Z: 2}, true)

	stats := r.Stats()
	require.Len(t, stats, 2)
	assert.InDelta(t, 1, stats[0].PointSpread(), 1e-12)
	assert.InDelta(t, 0, stats[1].PointSpread(), 1e-12)
	assert.Zero(t, IterationStats{}.PointSpread())
}

func TestConvergenceRecorder_Concurrent(t *testing.T) {
	t.Parallel()

	r := NewConvergenceRecorder("concurrent")
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for it := 1; it <= 5; it++ {
				r.RecordIteration(it, float64(it), r3.Vec{X: float64(it)}, it == 1)
			}
		}()
	}
	wg.Wait()

	stats := r.Stats()
	require.Len(t, stats, 5)
	for _, s := range stats {
		assert.Equal(t, 8, s.Fits)
	}
	assert.Equal(t, 8, stats[0].Improved)
	assert.Zero(t, stats[4].Improved)
}

func TestConvergenceRecorder_Render(t *testing.T) {
	t.Parallel()

	r := NewConvergenceRecorder("render")
	r.RecordIteration(1, 12, r3.Vec{}, true)
	r.RecordIteration(2, 3, r3.Vec{}, true)

	var buf bytes.Buffer
	require.NoError(t, r.Render(&buf))
	assert.Contains(t, buf.String(), "Vertex Fit Convergence")
	assert.Contains(t, buf.String(), "mean chi2")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/convergence", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), "improved fraction")
}
