package sqlite

import (
	"encoding/json"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/banshee-data/vertexfit/internal/db"
	"github.com/banshee-data/vertexfit/internal/linearize"
	"github.com/banshee-data/vertexfit/internal/simulate"
	"github.com/banshee-data/vertexfit/internal/track"
	"github.com/banshee-data/vertexfit/internal/vertex"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

func setupStore(t *testing.T) *VertexStore {
	t.Helper()
	d, err := db.OpenDB(filepath.Join(t.TempDir(), "fits.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return NewVertexStore(d.DB)
}

func fittedVertex(t *testing.T) *vertex.FittedVertex[track.Parameters] {
	t.Helper()
	cov := track.DiagonalCovariance([track.NumParams]float64{1e-4, 1e-4, 1e-6, 1e-6, 1e-6})
	tracks := simulate.Noiseless(r3.Vec{X: 0.1, Y: -0.2, Z: 1.5},
		[][2]float64{{0.3, 1.0}, {1.9, 1.4}, {-2.5, 2.0}, {-0.8, 0.8}}, 0.2, cov)
	f, err := vertex.NewFitter(vertex.DefaultConfig(), vertex.Identity)
	require.NoError(t, err)
	v, err := f.Fit(tracks, &linearize.StraightLine{}, nil)
	require.NoError(t, err)
	return v
}

func TestInsertAndGetRun(t *testing.T) {
	t.Parallel()
	s := setupStore(t)

	run := &Run{Seed: 42, Candidates: 10, Constrained: true, ConfigJSON: json.RawMessage(`{"max_iterations":5}`), Notes: "smoke"}
	require.NoError(t, s.InsertRun(run))
	assert.NotEmpty(t, run.RunID)
	assert.NotZero(t, run.CreatedAt)

	got, err := s.GetRun(run.RunID)
	require.NoError(t, err)
	assert.Equal(t, run.RunID, got.RunID)
	assert.Equal(t, int64(42), got.Seed)
	assert.Equal(t, 10, got.Candidates)
	assert.True(t, got.Constrained)
	assert.JSONEq(t, `{"max_iterations":5}`, string(got.ConfigJSON))
	assert.Equal(t, "smoke", got.Notes)

	_, err = s.GetRun("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecordFromFit(t *testing.T) {
	t.Parallel()

	v := fittedVertex(t)
	rec := RecordFromFit("run-1", 3, v, nil, "ok", 2*time.Millisecond)
	assert.Equal(t, "run-1", rec.RunID)
	assert.Equal(t, 3, rec.CandidateID)
	assert.Equal(t, v.Position, rec.Position)
	assert.Equal(t, v.Covariance.At(0, 1), rec.Covariance[1])
	assert.Equal(t, v.Covariance.At(2, 2), rec.Covariance[5])
	assert.Equal(t, int64(2e6), rec.DurationNS)
	require.Len(t, rec.Tracks, 4)
	for i, tr := range rec.Tracks {
		assert.Equal(t, i, tr.TrackIndex)
		assert.Equal(t, v.Tracks[i].Refitted.Phi(), tr.Phi)
		assert.InDelta(t, math.Sqrt(v.Tracks[i].Refitted.Covariance.At(track.Phi, track.Phi)), tr.SigmaPhi, 1e-15)
	}

	failed := RecordFromFit[track.Parameters]("run-1", 4, nil, errors.New("vertex: singular matrix"), "singular", time.Millisecond)
	assert.Equal(t, "singular", failed.Status)
	assert.Equal(t, "vertex: singular matrix", failed.Error)
	assert.Empty(t, failed.Tracks)
}

func TestInsertVertexRoundTrip(t *testing.T) {
	t.Parallel()
	s := setupStore(t)

	run := &Run{}
	require.NoError(t, s.InsertRun(run))

	truth := r3.Vec{X: 0.1, Y: -0.2, Z: 1.5}
	rec := RecordFromFit(run.RunID, 0, fittedVertex(t), nil, "ok", time.Millisecond)
	rec.Truth = &truth
	require.NoError(t, s.InsertVertex(rec))
	require.NotEmpty(t, rec.VertexID)

	failed := RecordFromFit[track.Parameters](run.RunID, 1, nil, errors.New("boom"), "error", 0)
	require.NoError(t, s.InsertVertex(failed))

	got, err := s.GetVertex(rec.VertexID)
	require.NoError(t, err)
	assert.Equal(t, rec.Position, got.Position)
	assert.Equal(t, rec.Covariance, got.Covariance)
	assert.Equal(t, rec.Chi2, got.Chi2)
	assert.Equal(t, rec.NDF, got.NDF)
	require.NotNil(t, got.Truth)
	assert.Equal(t, truth, *got.Truth)
	assert.Equal(t, rec.Tracks, got.Tracks)

	list, err := s.ListVertices(run.RunID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, 0, list[0].CandidateID)
	assert.Equal(t, "boom", list[1].Error)
	assert.Nil(t, list[1].Truth)

	st, err := s.RunStats(run.RunID, "ok")
	require.NoError(t, err)
	assert.Equal(t, 2, st.Total)
	assert.Equal(t, 1, st.OK)
	assert.InDelta(t, rec.Chi2/float64(rec.NDF), st.MeanReducedChi2, 1e-15)

	_, err = s.GetVertex("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInsertVertexRequiresRun(t *testing.T) {
	t.Parallel()
	s := setupStore(t)

	err := s.InsertVertex(&VertexRecord{RunID: "no-such-run", Status: "ok"})
	assert.Error(t, err)
}

func TestDeleteRunCascades(t *testing.T) {
	t.Parallel()
	s := setupStore(t)

	run := &Run{}
	require.NoError(t, s.InsertRun(run))
	rec := RecordFromFit(run.RunID, 0, fittedVertex(t), nil, "ok", 0)
	require.NoError(t, s.InsertVertex(rec))

	require.NoError(t, s.DeleteRun(run.RunID))
	list, err := s.ListVertices(run.RunID)
	require.NoError(t, err)
	assert.Empty(t, list)
	refits, err := s.TrackRefits(rec.VertexID)
	require.NoError(t, err)
	assert.Empty(t, refits)

	assert.ErrorIs(t, s.DeleteRun(run.RunID), ErrNotFound)
}
