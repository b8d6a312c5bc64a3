package simulate

import (
	"math"
	"math/rand/v2"

	"github.com/banshee-data/vertexfit/internal/config"
	"github.com/banshee-data/vertexfit/internal/linearize"
	"github.com/banshee-data/vertexfit/internal/track"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat/distuv"
)

// Tracks are kept away from the beam axis so that cot(theta) stays small.
const (
	minTheta  = 0.35
	maxTheta  = math.Pi - 0.35
	minMomInv = 0.05 // 1/GeV
	maxMomInv = 1.0
)

// Config controls event generation.
type Config struct {
	TracksPerVertex int
	ImpactSigma     float64 // d0 and z0 resolution (mm)
	AngleSigma      float64 // phi and theta resolution (rad)
	QOverPSigma     float64 // q/p resolution (1/GeV)
	VertexSpread    float64 // Gaussian width of the true vertex around the origin (mm)
}

// ConfigFromTuning reads the sim_* keys of a VertexingConfig.
func ConfigFromTuning(cfg *config.VertexingConfig) Config {
	return Config{
		TracksPerVertex: cfg.GetSimTracksPerVertex(),
		ImpactSigma:     cfg.GetSimImpactSigma(),
		AngleSigma:      cfg.GetSimAngleSigma(),
		QOverPSigma:     cfg.GetSimQOverPSigma(),
		VertexSpread:    cfg.GetSimVertexSpread(),
	}
}

// Track is one simulated track: its smeared measurement and the true
// parameters it was drawn from, both on a perigee centred at the origin.
type Track struct {
	Index    int
	Measured track.Parameters
	Truth    track.Parameters
}

// Measured extracts the measurement; it is the vertex.Extractor for Track.
func Measured(t Track) track.Parameters { return t.Measured }

// Event is one simulated vertex.
type Event struct {
	ID         int
	TrueVertex r3.Vec
	Tracks     []Track
}

// Generator draws events from a seeded source. A Generator is not safe
// for concurrent use; give each goroutine its own.
type Generator struct {
	cfg Config

	unit    distuv.Normal
	uniform distuv.Uniform
	sign    distuv.Bernoulli
}

// NewGenerator returns a Generator whose output is fully determined by seed.
func NewGenerator(cfg Config, seed uint64) *Generator {
	src := rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)
	return &Generator{
		cfg:     cfg,
		unit:    distuv.Normal{Mu: 0, Sigma: 1, Src: src},
		uniform: distuv.Uniform{Min: 0, Max: 1, Src: src},
		sign:    distuv.Bernoulli{P: 0.5, Src: src},
	}
}

// Event draws the next event.
func (g *Generator) Event(id int) Event {
	vtx := r3.Vec{
		X: g.cfg.VertexSpread * g.unit.Rand(),
		Y: g.cfg.VertexSpread * g.unit.Rand(),
		Z: g.cfg.VertexSpread * g.unit.Rand(),
	}
	ev := Event{ID: id, TrueVertex: vtx, Tracks: make([]Track, g.cfg.TracksPerVertex)}
	cov := Covariance(g.cfg)
	for i := range ev.Tracks {
		phi := g.between(-math.Pi, math.Pi)
		theta := g.between(minTheta, maxTheta)
		qop := g.between(minMomInv, maxMomInv)
		if g.sign.Rand() == 0 {
			qop = -qop
		}
		truth := linearize.PerigeeAt(vtx, phi, theta, qop, r3.Vec{})
		meas := truth
		meas.Covariance = cov
		sigmas := [track.NumParams]float64{g.cfg.ImpactSigma, g.cfg.ImpactSigma, g.cfg.AngleSigma, g.cfg.AngleSigma, g.cfg.QOverPSigma}
		for k, s := range sigmas {
			meas.Params[k] += s * g.unit.Rand()
		}
		meas.Params[track.Phi], meas.Params[track.Theta] = track.NormalizePhiTheta(meas.Params[track.Phi], meas.Params[track.Theta])
		ev.Tracks[i] = Track{Index: i, Measured: meas, Truth: truth}
	}
	return ev
}

// Events draws n events with ids 0..n-1.
func (g *Generator) Events(n int) []Event {
	out := make([]Event, n)
	for i := range out {
		out[i] = g.Event(i)
	}
	return out
}

func (g *Generator) between(lo, hi float64) float64 {
	return lo + (hi-lo)*g.uniform.Rand()
}

// Covariance is the diagonal measurement covariance implied by cfg.
func Covariance(cfg Config) *mat.SymDense {
	ip, ang, qop := cfg.ImpactSigma*cfg.ImpactSigma, cfg.AngleSigma*cfg.AngleSigma, cfg.QOverPSigma*cfg.QOverPSigma
	return track.DiagonalCovariance([track.NumParams]float64{ip, ip, ang, ang, qop})
}

// Noiseless returns exact measurements of straight tracks leaving vtx with
// the given (phi, theta) directions, on a perigee at the origin.
func Noiseless(vtx r3.Vec, directions [][2]float64, qOverP float64, cov *mat.SymDense) []track.Parameters {
	out := make([]track.Parameters, len(directions))
	for i, dir := range directions {
		p := linearize.PerigeeAt(vtx, dir[0], dir[1], qOverP, r3.Vec{})
		p.Covariance = cov
		out[i] = p
	}
	return out
}
