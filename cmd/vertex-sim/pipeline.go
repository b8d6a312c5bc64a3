package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/vertexfit/internal/batch"
	"github.com/banshee-data/vertexfit/internal/config"
	"github.com/banshee-data/vertexfit/internal/db"
	"github.com/banshee-data/vertexfit/internal/linearize"
	"github.com/banshee-data/vertexfit/internal/monitoring"
	"github.com/banshee-data/vertexfit/internal/report"
	"github.com/banshee-data/vertexfit/internal/simulate"
	"github.com/banshee-data/vertexfit/internal/storage/sqlite"
	"github.com/banshee-data/vertexfit/internal/vertex"
)

// options are the pipeline inputs taken from the command line.
type options struct {
	Events      int
	Seed        uint64
	Workers     int // overrides batch_workers when positive
	Constrained bool
	DBPath      string
	PlotsDir    string
	HTMLPath    string
}

// outcome is what a pipeline run produced.
type outcome struct {
	RunID       string
	Stats       batch.Stats
	Pulls       map[string]report.Summary
	PlotFiles   int
	Convergence *report.ConvergenceRecorder
	DB          *db.DB // open when DBPath was set; the caller closes it
}

// runPipeline simulates events, fits them in parallel and writes the
// requested outputs.
func runPipeline(ctx context.Context, cfg *config.VertexingConfig, o options, metrics *monitoring.FitMetrics) (*outcome, error) {
	if o.Events < 1 {
		return nil, fmt.Errorf("events must be positive, got %d", o.Events)
	}

	gen := simulate.NewGenerator(simulate.ConfigFromTuning(cfg), o.Seed)
	events := gen.Events(o.Events)

	out := &outcome{Convergence: report.NewConvergenceRecorder(fmt.Sprintf("Billoir fit, %d events", o.Events))}
	fitCfg := vertex.ConfigFromTuning(cfg)
	fitCfg.Recorder = out.Convergence
	fitter, err := vertex.NewFitter[simulate.Track](fitCfg, simulate.Measured)
	if err != nil {
		return nil, err
	}

	var beamSpot *vertex.Constraint
	if o.Constrained {
		s := cfg.GetBeamSpotSigma()
		beamSpot = vertex.NewBeamSpot(r3.Vec{}, s, s, s)
	}
	cands := make([]batch.Candidate[simulate.Track], len(events))
	for i, ev := range events {
		cands[i] = batch.Candidate[simulate.Track]{ID: ev.ID, Tracks: ev.Tracks, Constraint: beamSpot}
	}

	workers := cfg.GetBatchWorkers()
	if o.Workers > 0 {
		workers = o.Workers
	}
	runner := batch.NewRunner(fitter, linearize.NewStraightLine(cfg), workers, metrics)
	results, err := runner.Run(ctx, cands)
	if err != nil {
		return nil, fmt.Errorf("batch fit: %w", err)
	}
	out.Stats = batch.Summarize(results)
	out.Stats.Log("vertex-sim")

	pulls := report.NewPullPlotter(o.PlotsDir)
	for i, res := range results {
		if res.Err != nil {
			continue
		}
		pulls.Add(res.Vertex.Position, res.Vertex.PositionError(), events[i].TrueVertex, res.Vertex.ReducedChi2())
	}
	out.Pulls = pulls.Summaries()
	for _, name := range []string{"pull_x", "pull_y", "pull_z"} {
		s := out.Pulls[name]
		monitoring.Logf("%s: n=%d mean=%.3f sd=%.3f", name, s.N, s.Mean, s.StdDev)
	}

	if o.DBPath != "" {
		if out.RunID, out.DB, err = store(cfg, o, events, results); err != nil {
			return nil, err
		}
	}

	if o.PlotsDir != "" {
		out.PlotFiles, err = pulls.GeneratePlots()
		if errors.Is(err, report.ErrNoSamples) {
			monitoring.Logf("no successful fits, skipping plots")
		} else if err != nil {
			out.close()
			return nil, err
		} else {
			monitoring.Logf("wrote %d plots to %s", out.PlotFiles, o.PlotsDir)
		}
	}

	if o.HTMLPath != "" {
		if err := writeHTML(o.HTMLPath, out.Convergence); err != nil {
			out.close()
			return nil, err
		}
	}
	return out, nil
}

func store(cfg *config.VertexingConfig, o options, events []simulate.Event, results []batch.Result[simulate.Track]) (string, *db.DB, error) {
	database, err := db.OpenDB(o.DBPath)
	if err != nil {
		return "", nil, fmt.Errorf("failed to open results database: %w", err)
	}
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		database.Close()
		return "", nil, err
	}

	vs := sqlite.NewVertexStore(database.DB)
	run := &sqlite.Run{
		Seed:        int64(o.Seed),
		Candidates:  len(results),
		Constrained: o.Constrained,
		ConfigJSON:  cfgJSON,
	}
	if err := vs.InsertRun(run); err != nil {
		database.Close()
		return "", nil, fmt.Errorf("failed to insert run: %w", err)
	}
	for i, res := range results {
		rec := sqlite.RecordFromFit(run.RunID, res.ID, res.Vertex, res.Err, batch.Classify(res.Err), res.Duration)
		truth := events[i].TrueVertex
		rec.Truth = &truth
		if err := vs.InsertVertex(rec); err != nil {
			database.Close()
			return "", nil, fmt.Errorf("failed to insert vertex %d: %w", res.ID, err)
		}
	}

	st, err := vs.RunStats(run.RunID, monitoring.StatusOK)
	if err != nil {
		database.Close()
		return "", nil, err
	}
	monitoring.Logf("stored run %s: %d vertices, %d ok, mean chi2/ndf=%.3f", run.RunID, st.Total, st.OK, st.MeanReducedChi2)
	return run.RunID, database, nil
}

func writeHTML(path string, rec *report.ConvergenceRecorder) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := rec.Render(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to render convergence chart: %w", err)
	}
	return f.Close()
}

func (o *outcome) close() {
	if o.DB != nil {
		o.DB.Close()
		o.DB = nil
	}
}
