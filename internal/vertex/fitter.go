package vertex

import (
	"fmt"
	"math"

	"github.com/banshee-data/vertexfit/internal/monitoring"
	"github.com/banshee-data/vertexfit/internal/track"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Fitter estimates a common vertex for a set of tracks with the Billoir
// method. A Fitter holds only its configuration and may be shared between
// goroutines.
type Fitter[T any] struct {
	cfg     Config
	extract Extractor[T]
}

// NewFitter validates cfg and returns a Fitter that reads tracks of type T
// through extract.
func NewFitter[T any](cfg Config, extract Extractor[T]) (*Fitter[T], error) {
	if extract == nil {
		return nil, fmt.Errorf("%w: nil extractor", ErrInvalidConfig)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Fitter[T]{cfg: cfg, extract: extract}, nil
}

// Config returns the fitter settings.
func (f *Fitter[T]) Config() Config { return f.cfg }

// fitState is the working set of a single Fit call.
type fitState struct {
	params   []track.Parameters
	momenta  [][3]float64 // running (phi, theta, q/p) per track
	caches   []trackCache
	linPoint r3.Vec

	constraint *Constraint
	cWeight    *mat.SymDense // inverse constraint covariance; nil when inactive
}

// Fit runs the full iteration budget and returns the vertex from the
// iteration with the smallest total chi-square. Empty input yields the
// default vertex at the origin. On error no vertex is returned.
func (f *Fitter[T]) Fit(tracks []T, lin Linearizer, constraint *Constraint) (*FittedVertex[T], error) {
	if len(tracks) == 0 {
		return defaultVertex[T](), nil
	}

	st := &fitState{
		params:  make([]track.Parameters, len(tracks)),
		momenta: make([][3]float64, len(tracks)),
		caches:  make([]trackCache, len(tracks)),
	}
	for i, trk := range tracks {
		p := f.extract(trk)
		st.params[i] = p
		st.momenta[i] = [3]float64{p.Params[track.Phi], p.Params[track.Theta], p.Params[track.QOverP]}
	}

	if constraint != nil {
		st.linPoint = constraint.Position
	}
	active := constraint.Active()
	if active {
		w, err := invertSym(constraint.Covariance, f.cfg.ConditionLimit)
		if err != nil {
			monitoring.Debugf("vertex: constraint covariance not invertible: trace=%g", mat.Trace(constraint.Covariance))
			return nil, fmt.Errorf("constraint covariance: %w", err)
		}
		st.constraint = constraint
		st.cWeight = w
	}
	ndf := DegreesOfFreedom(len(tracks), active)

	var best *FittedVertex[T]
	bestChi2 := math.Inf(1)

	for iter := 1; iter <= f.cfg.MaxIterations; iter++ {
		acc := newAccumulator()
		for i := range tracks {
			exp, err := lin.Linearize(st.params[i], st.linPoint)
			if err == nil {
				err = exp.validate()
			}
			if err != nil {
				monitoring.Debugf("vertex: iter %d: linearizing track %d at %v: %v", iter, i, st.linPoint, err)
				return nil, &LinearizationError{Track: i, Iteration: iter, Err: err}
			}
			if err := st.caches[i].fill(exp, st.momenta[i], f.cfg.ConditionLimit); err != nil {
				monitoring.Debugf("vertex: iter %d: track %d: %v", iter, i, err)
				return nil, fmt.Errorf("track %d: %w", i, err)
			}
			acc.add(&st.caches[i])
		}

		vdel, vwgt := acc.system()
		var offset *mat.VecDense
		if st.cWeight != nil {
			offset = vecFromR3(r3.Sub(st.constraint.Position, st.linPoint))
			var pull mat.VecDense
			pull.MulVec(st.cWeight, offset)
			vdel.AddVec(vdel, &pull)
			vwgt.AddSym(vwgt, st.cWeight)
		}

		cov, err := invertSym(vwgt, f.cfg.ConditionLimit)
		if err != nil {
			monitoring.Debugf("vertex: iter %d: vertex weight matrix not invertible (%d tracks)", iter, len(tracks))
			return nil, fmt.Errorf("vertex weight: %w", err)
		}
		deltaV := mat.NewVecDense(3, nil)
		deltaV.MulVec(cov, vdel)

		refitCovs := make([]*mat.SymDense, len(tracks))
		chi2 := 0.0
		for i := range tracks {
			c := &st.caches[i]
			dp := c.momentumUpdate(deltaV)
			m := &st.momenta[i]
			m[0] += dp.AtVec(0)
			m[1] += dp.AtVec(1)
			m[2] += dp.AtVec(2)
			m[0], m[1] = track.NormalizePhiTheta(m[0], m[1])

			refitCovs[i] = c.refitCovariance(cov)
			c.chi2 = c.chiSquare(deltaV, dp)
			chi2 += c.chi2
		}
		if offset != nil {
			var diff mat.VecDense
			diff.SubVec(deltaV, offset)
			chi2 += mat.Inner(&diff, st.cWeight, &diff)
		}
		if !isFinite(chi2) {
			monitoring.Debugf("vertex: iter %d: chi2=%v", iter, chi2)
			return nil, fmt.Errorf("iteration %d: %w", iter, ErrNumericFailure)
		}

		step := r3FromVec(deltaV)
		st.linPoint = r3.Add(st.linPoint, step)

		improved := chi2 < bestChi2
		if improved {
			bestChi2 = chi2
			best = materialize(tracks, st, cov, refitCovs, chi2, ndf, iter)
		}
		monitoring.Debugf("vertex: iter %d: chi2=%.6g point=(%.6g, %.6g, %.6g) improved=%t",
			iter, chi2, st.linPoint.X, st.linPoint.Y, st.linPoint.Z, improved)
		if f.cfg.Recorder != nil {
			f.cfg.Recorder.RecordIteration(iter, chi2, st.linPoint, improved)
		}
		if improved && f.cfg.ConvergenceTolerance > 0 && r3.Norm(step) < f.cfg.ConvergenceTolerance {
			break
		}
	}

	if best == nil {
		return defaultVertex[T](), nil
	}
	return best, nil
}

// materialize snapshots the current state into a new FittedVertex. Refits
// sit on a perigee centred at the vertex, so d0 = z0 = 0.
func materialize[T any](tracks []T, st *fitState, cov *mat.SymDense, refitCovs []*mat.SymDense, chi2 float64, ndf, iter int) *FittedVertex[T] {
	out := &FittedVertex[T]{
		Position:   st.linPoint,
		Covariance: mat.NewSymDense(3, nil),
		Chi2:       chi2,
		NDF:        ndf,
		Iteration:  iter,
		Tracks:     make([]TrackAtVertex[T], len(tracks)),
	}
	out.Covariance.CopySym(cov)
	for i, trk := range tracks {
		m := st.momenta[i]
		out.Tracks[i] = TrackAtVertex[T]{
			Refitted: track.NewParameters(st.linPoint,
				[track.NumParams]float64{0, 0, m[0], m[1], m[2]}, refitCovs[i]),
			Chi2:     st.caches[i].chi2,
			Original: trk,
		}
	}
	return out
}
