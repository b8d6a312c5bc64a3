package batch

import (
	"context"
	"errors"
	"runtime"
	"time"

	"github.com/banshee-data/vertexfit/internal/monitoring"
	"github.com/banshee-data/vertexfit/internal/vertex"
	"golang.org/x/sync/errgroup"
)

// Candidate is one group of tracks believed to share a vertex.
type Candidate[T any] struct {
	ID         int
	Tracks     []T
	Constraint *vertex.Constraint
}

// Result is the outcome for the candidate at the same index. Exactly one
// of Vertex and Err is set once the candidate has been attempted.
type Result[T any] struct {
	ID       int
	Vertex   *vertex.FittedVertex[T]
	Err      error
	Duration time.Duration
}

// Stats summarises a batch.
type Stats struct {
	Total           int
	OK              int
	Failed          int
	ByStatus        map[string]int
	MeanReducedChi2 float64
}

// Runner fits candidates on a bounded pool of goroutines sharing a single
// Fitter and Linearizer.
type Runner[T any] struct {
	fitter  *vertex.Fitter[T]
	lin     vertex.Linearizer
	workers int
	metrics *monitoring.FitMetrics
}

// NewRunner returns a Runner. workers <= 0 uses GOMAXPROCS. metrics may be
// nil.
func NewRunner[T any](fitter *vertex.Fitter[T], lin vertex.Linearizer, workers int, metrics *monitoring.FitMetrics) *Runner[T] {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Runner[T]{fitter: fitter, lin: lin, workers: workers, metrics: metrics}
}

// Run fits every candidate. A failed fit is reported in its Result and
// does not stop the batch. Cancelling ctx stops scheduling new fits; Run
// then returns the partial results together with the context error.
func (r *Runner[T]) Run(ctx context.Context, cands []Candidate[T]) ([]Result[T], error) {
	results := make([]Result[T], len(cands))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)

	for i := range cands {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			results[i] = r.fitOne(gctx, cands[i])
			if errors.Is(results[i].Err, context.Canceled) || errors.Is(results[i].Err, context.DeadlineExceeded) {
				return results[i].Err
			}
			return nil
		})
	}
	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		for i := range results {
			if results[i].Vertex == nil && results[i].Err == nil {
				results[i] = Result[T]{ID: cands[i].ID, Err: err}
			}
		}
	}
	return results, err
}

func (r *Runner[T]) fitOne(ctx context.Context, c Candidate[T]) Result[T] {
	res := Result[T]{ID: c.ID}
	if err := ctx.Err(); err != nil {
		res.Err = err
		return res
	}

	r.metrics.FitStarted()
	start := time.Now()
	res.Vertex, res.Err = r.fitter.Fit(c.Tracks, r.lin, c.Constraint)
	res.Duration = time.Since(start)

	status := Classify(res.Err)
	var chi2 float64
	var iter int
	if res.Vertex != nil {
		chi2, iter = res.Vertex.ReducedChi2(), res.Vertex.Iteration
	} else {
		monitoring.Debugf("batch: candidate %d (%d tracks): %v", c.ID, len(c.Tracks), res.Err)
	}
	r.metrics.FitFinished(status, res.Duration, len(c.Tracks), chi2, iter)
	return res
}

// Classify maps a Fit error onto a metrics status label.
func Classify(err error) string {
	var linErr *vertex.LinearizationError
	switch {
	case err == nil:
		return monitoring.StatusOK
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return monitoring.StatusCancelled
	case errors.As(err, &linErr):
		return monitoring.StatusLinearization
	case errors.Is(err, vertex.ErrSingularMatrix):
		return monitoring.StatusSingular
	case errors.Is(err, vertex.ErrNumericFailure):
		return monitoring.StatusNumeric
	}
	return monitoring.StatusError
}

// Summarize counts outcomes and averages chi2/ndf over successful fits.
func Summarize[T any](results []Result[T]) Stats {
	st := Stats{Total: len(results), ByStatus: make(map[string]int)}
	sum := 0.0
	for _, res := range results {
		st.ByStatus[Classify(res.Err)]++
		if res.Err != nil || res.Vertex == nil {
			st.Failed++
			continue
		}
		st.OK++
		sum += res.Vertex.ReducedChi2()
	}
	if st.OK > 0 {
		st.MeanReducedChi2 = sum / float64(st.OK)
	}
	return st
}

// Log writes the summary through monitoring.Logf.
func (s Stats) Log(label string) {
	monitoring.Logf("%s: %d candidates, %d ok, %d failed, mean chi2/ndf=%.3f, by status %v",
		label, s.Total, s.OK, s.Failed, s.MeanReducedChi2, s.ByStatus)
}
