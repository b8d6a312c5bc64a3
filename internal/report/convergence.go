package report

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"net/http"
	"sync"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/vertexfit/internal/monitoring"
	"github.com/banshee-data/vertexfit/internal/vertex"
)

const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

var _ vertex.IterationRecorder = (*ConvergenceRecorder)(nil)

// IterationStats aggregates every fit's state at one iteration index.
type IterationStats struct {
	Iteration int
	Fits      int
	Improved  int
	SumChi2   float64
	sumPoint  r3.Vec
	sumSq     float64
}

// MeanChi2 returns the mean total chi-square at this iteration.
func (s IterationStats) MeanChi2() float64 {
	if s.Fits == 0 {
		return 0
	}
	return s.SumChi2 / float64(s.Fits)
}

// PointSpread returns the RMS distance of the linearization points from
// their centroid at this iteration.
func (s IterationStats) PointSpread() float64 {
	if s.Fits == 0 {
		return 0
	}
	n := float64(s.Fits)
	mean := r3.Scale(1/n, s.sumPoint)
	v := s.sumSq/n - r3.Dot(mean, mean)
	if v < 0 {
		return 0
	}
	return math.Sqrt(v)
}

// ImprovedFraction returns the share of fits that replaced their best vertex.
func (s IterationStats) ImprovedFraction() float64 {
	if s.Fits == 0 {
		return 0
	}
	return float64(s.Improved) / float64(s.Fits)
}

// ConvergenceRecorder aggregates iterations across every fit that shares
// it. It is safe for concurrent use.
type ConvergenceRecorder struct {
	mu    sync.Mutex
	title string
	iters []IterationStats
}

// NewConvergenceRecorder returns an empty recorder.
func NewConvergenceRecorder(title string) *ConvergenceRecorder {
	return &ConvergenceRecorder{title: title}
}

// RecordIteration implements vertex.IterationRecorder.
func (r *ConvergenceRecorder) RecordIteration(iteration int, chi2 float64, point r3.Vec, improved bool) {
	if iteration < 1 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	for len(r.iters) < iteration {
		r.iters = append(r.iters, IterationStats{Iteration: len(r.iters) + 1})
	}
	s := &r.iters[iteration-1]
	s.Fits++
	s.SumChi2 += chi2
	s.sumPoint = r3.Add(s.sumPoint, point)
	s.sumSq += r3.Dot(point, point)
	if improved {
		s.Improved++
	}
}

// Stats returns a copy of the per-iteration aggregates.
func (r *ConvergenceRecorder) Stats() []IterationStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]IterationStats(nil), r.iters...)
}

// Render writes the convergence chart as a standalone HTML page.
func (r *ConvergenceRecorder) Render(w io.Writer) error {
	stats := r.Stats()

	xs := make([]int, len(stats))
	chi2 := make([]opts.LineData, len(stats))
	improved := make([]opts.LineData, len(stats))
	spread := make([]opts.LineData, len(stats))
	for i, s := range stats {
		xs[i] = s.Iteration
		chi2[i] = opts.LineData{Value: s.MeanChi2()}
		improved[i] = opts.LineData{Value: s.ImprovedFraction(), YAxisIndex: 1}
		spread[i] = opts.LineData{Value: s.PointSpread(), YAxisIndex: 1}
	}

	fits := 0
	if len(stats) > 0 {
		fits = stats[0].Fits
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Vertex Fit Convergence", Width: "1000px", Height: "560px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: r.title, Subtitle: fmt.Sprintf("fits=%d iterations=%d", fits, len(stats))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "bottom"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "iteration", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "mean chi2", Type: "log"}),
	)
	line.ExtendYAxis(opts.YAxis{Name: "fraction / spread (mm)"})
	line.SetXAxis(xs).
		AddSeries("mean chi2", chi2, charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(true)})).
		AddSeries("improved fraction", improved, charts.WithLineChartOpts(opts.LineChart{YAxisIndex: 1})).
		AddSeries("point spread", spread, charts.WithLineChartOpts(opts.LineChart{YAxisIndex: 1}))

	return line.Render(w)
}

// ServeHTTP renders the chart on demand.
func (r *ConvergenceRecorder) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	var buf bytes.Buffer
	if err := r.Render(&buf); err != nil {
		monitoring.Logf("[report] convergence render failed: %v", err)
		http.Error(w, "failed to render chart", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
