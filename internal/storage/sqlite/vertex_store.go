package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/banshee-data/vertexfit/internal/track"
	"github.com/banshee-data/vertexfit/internal/vertex"
	"github.com/google/uuid"
	"gonum.org/v1/gonum/spatial/r3"
)

// ErrNotFound is returned when a run or vertex does not exist.
var ErrNotFound = errors.New("sqlite: not found")

// Run is one invocation of the batch fitter.
type Run struct {
	RunID       string          `json:"run_id"`
	CreatedAt   int64           `json:"created_at"`
	Seed        int64           `json:"seed"`
	Candidates  int             `json:"candidates"`
	Constrained bool            `json:"constrained"`
	ConfigJSON  json.RawMessage `json:"config_json,omitempty"`
	Notes       string          `json:"notes,omitempty"`
}

// VertexRecord is a persisted fit outcome. Failed fits are stored too,
// with Status and Error set and the numeric fields left zero.
type VertexRecord struct {
	VertexID    string `json:"vertex_id"`
	RunID       string `json:"run_id"`
	CandidateID int    `json:"candidate_id"`
	Status      string `json:"status"`
	Error       string `json:"error,omitempty"`

	Position r3.Vec `json:"position"`
	// Covariance holds the upper triangle xx, xy, xz, yy, yz, zz.
	Covariance [6]float64 `json:"covariance"`
	Chi2       float64    `json:"chi2"`
	NDF        int        `json:"ndf"`
	Iteration  int        `json:"iteration"`
	NTracks    int        `json:"n_tracks"`
	Truth      *r3.Vec    `json:"truth,omitempty"`
	DurationNS int64      `json:"duration_ns"`

	Tracks []TrackRefit `json:"tracks,omitempty"`
}

// TrackRefit is one track's refitted momentum at its vertex.
type TrackRefit struct {
	TrackIndex  int     `json:"track_index"`
	Phi         float64 `json:"phi"`
	Theta       float64 `json:"theta"`
	QOverP      float64 `json:"qop"`
	SigmaPhi    float64 `json:"sigma_phi"`
	SigmaTheta  float64 `json:"sigma_theta"`
	SigmaQOverP float64 `json:"sigma_qop"`
	Chi2        float64 `json:"chi2"`
}

// RunStats aggregates the vertices of a run.
type RunStats struct {
	Total           int
	OK              int
	MeanReducedChi2 float64
}

// RecordFromFit converts a fit outcome into a VertexRecord. v may be nil
// when fitErr is set.
func RecordFromFit[T any](runID string, candidateID int, v *vertex.FittedVertex[T], fitErr error, status string, d time.Duration) *VertexRecord {
	rec := &VertexRecord{
		RunID:       runID,
		CandidateID: candidateID,
		Status:      status,
		DurationNS:  d.Nanoseconds(),
	}
	if fitErr != nil {
		rec.Error = fitErr.Error()
	}
	if v == nil {
		return rec
	}

	rec.Position = v.Position
	rec.Covariance = [6]float64{
		v.Covariance.At(0, 0), v.Covariance.At(0, 1), v.Covariance.At(0, 2),
		v.Covariance.At(1, 1), v.Covariance.At(1, 2), v.Covariance.At(2, 2),
	}
	rec.Chi2, rec.NDF, rec.Iteration, rec.NTracks = v.Chi2, v.NDF, v.Iteration, len(v.Tracks)
	for i, tv := range v.Tracks {
		p := tv.Refitted
		refit := TrackRefit{
			TrackIndex: i,
			Phi:        p.Phi(),
			Theta:      p.Theta(),
			QOverP:     p.QOverP(),
			Chi2:       tv.Chi2,
		}
		if p.Covariance != nil {
			refit.SigmaPhi = sqrtOrZero(p.Covariance.At(track.Phi, track.Phi))
			refit.SigmaTheta = sqrtOrZero(p.Covariance.At(track.Theta, track.Theta))
			refit.SigmaQOverP = sqrtOrZero(p.Covariance.At(track.QOverP, track.QOverP))
		}
		rec.Tracks = append(rec.Tracks, refit)
	}
	return rec
}

// VertexStore provides persistence for fit runs and their vertices.
type VertexStore struct {
	db *sql.DB
}

// NewVertexStore creates a new VertexStore.
func NewVertexStore(db *sql.DB) *VertexStore {
	return &VertexStore{db: db}
}

// InsertRun persists a run. If RunID is empty, a UUID is generated.
func (s *VertexStore) InsertRun(run *Run) error {
	if run.RunID == "" {
		run.RunID = uuid.New().String()
	}
	if run.CreatedAt == 0 {
		run.CreatedAt = time.Now().UnixNano()
	}

	var configStr interface{}
	if len(run.ConfigJSON) > 0 {
		configStr = string(run.ConfigJSON)
	}

	return retryOnBusy(func() error {
		_, err := s.db.Exec(`
			INSERT INTO fit_runs (run_id, created_at, seed, candidates, constrained, config_json, notes)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			run.RunID, run.CreatedAt, run.Seed, run.Candidates, run.Constrained, configStr, run.Notes,
		)
		return err
	})
}

// GetRun returns a run by ID.
func (s *VertexStore) GetRun(runID string) (*Run, error) {
	var r Run
	var configStr sql.NullString
	var notes sql.NullString
	err := s.db.QueryRow(`
		SELECT run_id, created_at, seed, candidates, constrained, config_json, notes
		FROM fit_runs WHERE run_id = ?`, runID).Scan(
		&r.RunID, &r.CreatedAt, &r.Seed, &r.Candidates, &r.Constrained, &configStr, &notes,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	if configStr.Valid {
		r.ConfigJSON = json.RawMessage(configStr.String)
	}
	r.Notes = notes.String
	return &r, nil
}

// InsertVertex persists a vertex and its track refits in one transaction.
// If VertexID is empty, a UUID is generated.
func (s *VertexStore) InsertVertex(rec *VertexRecord) error {
	if rec.VertexID == "" {
		rec.VertexID = uuid.New().String()
	}
	var tx, ty, tz interface{}
	if rec.Truth != nil {
		tx, ty, tz = rec.Truth.X, rec.Truth.Y, rec.Truth.Z
	}
	var errStr interface{}
	if rec.Error != "" {
		errStr = rec.Error
	}

	return retryOnBusy(func() error {
		txn, err := s.db.Begin()
		if err != nil {
			return err
		}
		defer txn.Rollback()

		c := rec.Covariance
		if _, err := txn.Exec(`
			INSERT INTO vertices (
				vertex_id, run_id, candidate_id, status, error,
				x, y, z, cov_xx, cov_xy, cov_xz, cov_yy, cov_yz, cov_zz,
				chi2, ndf, iteration, n_tracks, true_x, true_y, true_z, duration_ns
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.VertexID, rec.RunID, rec.CandidateID, rec.Status, errStr,
			rec.Position.X, rec.Position.Y, rec.Position.Z, c[0], c[1], c[2], c[3], c[4], c[5],
			rec.Chi2, rec.NDF, rec.Iteration, rec.NTracks, tx, ty, tz, rec.DurationNS,
		); err != nil {
			return err
		}

		for _, t := range rec.Tracks {
			if _, err := txn.Exec(`
				INSERT INTO track_refits (
					vertex_id, track_index, phi, theta, qop, sigma_phi, sigma_theta, sigma_qop, chi2
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				rec.VertexID, t.TrackIndex, t.Phi, t.Theta, t.QOverP, t.SigmaPhi, t.SigmaTheta, t.SigmaQOverP, t.Chi2,
			); err != nil {
				return err
			}
		}
		return txn.Commit()
	})
}

const vertexColumns = `
	vertex_id, run_id, candidate_id, status, error,
	x, y, z, cov_xx, cov_xy, cov_xz, cov_yy, cov_yz, cov_zz,
	chi2, ndf, iteration, n_tracks, true_x, true_y, true_z, duration_ns`

type scanner interface {
	Scan(dest ...any) error
}

func scanVertex(row scanner) (*VertexRecord, error) {
	var v VertexRecord
	var errStr sql.NullString
	var tx, ty, tz sql.NullFloat64
	c := &v.Covariance
	err := row.Scan(
		&v.VertexID, &v.RunID, &v.CandidateID, &v.Status, &errStr,
		&v.Position.X, &v.Position.Y, &v.Position.Z, &c[0], &c[1], &c[2], &c[3], &c[4], &c[5],
		&v.Chi2, &v.NDF, &v.Iteration, &v.NTracks, &tx, &ty, &tz, &v.DurationNS,
	)
	if err != nil {
		return nil, err
	}
	v.Error = errStr.String
	if tx.Valid && ty.Valid && tz.Valid {
		v.Truth = &r3.Vec{X: tx.Float64, Y: ty.Float64, Z: tz.Float64}
	}
	return &v, nil
}

// GetVertex returns a vertex with its track refits.
func (s *VertexStore) GetVertex(vertexID string) (*VertexRecord, error) {
	v, err := scanVertex(s.db.QueryRow(`SELECT `+vertexColumns+` FROM vertices WHERE vertex_id = ?`, vertexID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("vertex %s: %w", vertexID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get vertex: %w", err)
	}
	if v.Tracks, err = s.TrackRefits(vertexID); err != nil {
		return nil, err
	}
	return v, nil
}

// ListVertices returns the vertices of a run ordered by candidate ID,
// without their track refits.
func (s *VertexStore) ListVertices(runID string) ([]*VertexRecord, error) {
	rows, err := s.db.Query(`SELECT `+vertexColumns+` FROM vertices WHERE run_id = ? ORDER BY candidate_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("query vertices: %w", err)
	}
	defer rows.Close()

	var out []*VertexRecord
	for rows.Next() {
		v, err := scanVertex(rows)
		if err != nil {
			return nil, fmt.Errorf("scan vertex: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// TrackRefits returns the refits of a vertex ordered by track index.
func (s *VertexStore) TrackRefits(vertexID string) ([]TrackRefit, error) {
	rows, err := s.db.Query(`
		SELECT track_index, phi, theta, qop, sigma_phi, sigma_theta, sigma_qop, chi2
		FROM track_refits WHERE vertex_id = ? ORDER BY track_index`, vertexID)
	if err != nil {
		return nil, fmt.Errorf("query track refits: %w", err)
	}
	defer rows.Close()

	var out []TrackRefit
	for rows.Next() {
		var t TrackRefit
		if err := rows.Scan(&t.TrackIndex, &t.Phi, &t.Theta, &t.QOverP, &t.SigmaPhi, &t.SigmaTheta, &t.SigmaQOverP, &t.Chi2); err != nil {
			return nil, fmt.Errorf("scan track refit: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// RunStats summarises a run. The mean is over successful fits with a
// positive ndf.
func (s *VertexStore) RunStats(runID string, okStatus string) (RunStats, error) {
	var st RunStats
	var mean sql.NullFloat64
	err := s.db.QueryRow(`
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
		       AVG(CASE WHEN status = ? AND ndf > 0 THEN chi2 / ndf END)
		FROM vertices WHERE run_id = ?`, okStatus, okStatus, runID).Scan(&st.Total, &st.OK, &mean)
	if err != nil {
		return st, fmt.Errorf("run stats: %w", err)
	}
	st.MeanReducedChi2 = mean.Float64
	return st, nil
}

// DeleteRun removes a run; its vertices and refits cascade.
func (s *VertexStore) DeleteRun(runID string) error {
	return retryOnBusy(func() error {
		res, err := s.db.Exec(`DELETE FROM fit_runs WHERE run_id = ?`, runID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("run %s: %w", runID, ErrNotFound)
		}
		return nil
	})
}

func sqrtOrZero(v float64) float64 {
	if v <= 0 {
		return 0
	}
	return math.Sqrt(v)
}
