package report

import (
	"errors"
	"fmt"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"sync"

	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// ErrNoSamples is returned when plots are requested before any sample.
var ErrNoSamples = errors.New("report: no samples recorded")

const histBins = 30

// Summary is the mean and standard deviation of one distribution.
type Summary struct {
	N      int
	Mean   float64
	StdDev float64
}

// PullPlotter accumulates position pulls (fitted - true)/sigma and reduced
// chi-square values across many fits and writes their histograms.
type PullPlotter struct {
	mu        sync.Mutex
	outputDir string

	pullX, pullY, pullZ []float64
	reducedChi2         []float64
	skipped             int
}

// NewPullPlotter creates a plotter that writes into outputDir.
func NewPullPlotter(outputDir string) *PullPlotter {
	return &PullPlotter{outputDir: outputDir}
}

// Add records one fit. Axes with a non-positive sigma are skipped and
// counted.
func (pp *PullPlotter) Add(fitted, sigma, truth r3.Vec, reducedChi2 float64) {
	pp.mu.Lock()
	defer pp.mu.Unlock()

	if sigma.X <= 0 || sigma.Y <= 0 || sigma.Z <= 0 {
		pp.skipped++
		return
	}
	d := r3.Sub(fitted, truth)
	pp.pullX = append(pp.pullX, d.X/sigma.X)
	pp.pullY = append(pp.pullY, d.Y/sigma.Y)
	pp.pullZ = append(pp.pullZ, d.Z/sigma.Z)
	if !math.IsNaN(reducedChi2) && !math.IsInf(reducedChi2, 0) {
		pp.reducedChi2 = append(pp.reducedChi2, reducedChi2)
	}
}

// Count returns the number of recorded and skipped fits.
func (pp *PullPlotter) Count() (recorded, skipped int) {
	pp.mu.Lock()
	defer pp.mu.Unlock()
	return len(pp.pullX), pp.skipped
}

// Summaries returns the distribution summaries keyed by "pull_x",
// "pull_y", "pull_z" and "reduced_chi2".
func (pp *PullPlotter) Summaries() map[string]Summary {
	pp.mu.Lock()
	defer pp.mu.Unlock()

	out := make(map[string]Summary, 4)
	for name, vals := range pp.series() {
		out[name] = summarize(vals)
	}
	return out
}

func (pp *PullPlotter) series() map[string][]float64 {
	return map[string][]float64{
		"pull_x":       pp.pullX,
		"pull_y":       pp.pullY,
		"pull_z":       pp.pullZ,
		"reduced_chi2": pp.reducedChi2,
	}
}

func summarize(vals []float64) Summary {
	if len(vals) == 0 {
		return Summary{}
	}
	mean, sd := stat.MeanStdDev(vals, nil)
	if len(vals) < 2 {
		sd = 0
	}
	return Summary{N: len(vals), Mean: mean, StdDev: sd}
}

// GeneratePlots writes one PNG per distribution and returns the number of
// files written.
func (pp *PullPlotter) GeneratePlots() (int, error) {
	pp.mu.Lock()
	defer pp.mu.Unlock()

	if len(pp.pullX) == 0 {
		return 0, ErrNoSamples
	}
	if err := os.MkdirAll(pp.outputDir, 0755); err != nil {
		return 0, fmt.Errorf("failed to create output dir: %w", err)
	}

	written := 0
	for _, name := range []string{"pull_x", "pull_y", "pull_z"} {
		if err := pp.savePull(name, pp.series()[name]); err != nil {
			return written, err
		}
		written++
	}
	if len(pp.reducedChi2) > 0 {
		if err := pp.saveHist("reduced_chi2", "chi2/ndf", pp.reducedChi2, nil); err != nil {
			return written, err
		}
		written++
	}
	return written, nil
}

// savePull overlays a unit Gaussian scaled to the histogram area.
func (pp *PullPlotter) savePull(name string, vals []float64) error {
	unit := plotter.NewFunction(func(x float64) float64 {
		return math.Exp(-x*x/2) / math.Sqrt(2*math.Pi)
	})
	unit.Color = color.RGBA{R: 200, A: 255}
	unit.Width = vg.Points(1)
	return pp.saveHist(name, name+" (fitted - true)/sigma", vals, unit)
}

func (pp *PullPlotter) saveHist(name, xLabel string, vals []float64, overlay plot.Plotter) error {
	p := plot.New()
	s := summarize(vals)
	p.Title.Text = fmt.Sprintf("%s  n=%d mean=%.3f sd=%.3f", name, s.N, s.Mean, s.StdDev)
	p.X.Label.Text = xLabel
	p.Y.Label.Text = "density"

	h, err := plotter.NewHist(plotter.Values(vals), histBins)
	if err != nil {
		return fmt.Errorf("%s histogram: %w", name, err)
	}
	h.Normalize(1)
	h.FillColor = color.RGBA{R: 70, G: 130, B: 180, A: 160}
	p.Add(h)
	if overlay != nil {
		p.Add(overlay)
	}

	file := filepath.Join(pp.outputDir, name+".png")
	if err := p.Save(8*vg.Inch, 5*vg.Inch, file); err != nil {
		return fmt.Errorf("failed to save %s: %w", file, err)
	}
	return nil
}

// OutputDir returns the directory plots are written to.
func (pp *PullPlotter) OutputDir() string {
	return pp.outputDir
}
