package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Fit outcome labels.
const (
	StatusOK            = "ok"
	StatusSingular      = "singular"
	StatusLinearization = "linearization"
	StatusNumeric       = "numeric"
	StatusCancelled     = "cancelled"
	StatusError         = "error"
)

// FitMetrics holds the Prometheus collectors for vertex fitting. A nil
// *FitMetrics is valid and records nothing.
type FitMetrics struct {
	fits        *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	reducedChi2 prometheus.Histogram
	iteration   prometheus.Histogram
	tracks      prometheus.Histogram
	inFlight    prometheus.Gauge
}

// NewFitMetrics creates the collectors and registers them with reg. Pass
// prometheus.DefaultRegisterer to expose them on the default /metrics
// handler, or a fresh registry in tests.
func NewFitMetrics(reg prometheus.Registerer) *FitMetrics {
	m := &FitMetrics{
		fits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vertexfit_fits_total",
			Help: "Vertex fits by outcome",
		}, []string{"status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vertexfit_fit_duration_seconds",
			Help:    "Wall time of a single vertex fit",
			Buckets: prometheus.ExponentialBuckets(1e-5, 4, 10),
		}, []string{"status"}),
		reducedChi2: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "vertexfit_reduced_chi2",
			Help:    "chi2/ndf of successful fits",
			Buckets: []float64{0.25, 0.5, 0.75, 1, 1.5, 2, 3, 5, 10},
		}),
		iteration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "vertexfit_best_iteration",
			Help:    "Iteration that produced the returned vertex",
			Buckets: prometheus.LinearBuckets(1, 1, 10),
		}),
		tracks: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "vertexfit_tracks_per_fit",
			Help:    "Number of tracks in each fit",
			Buckets: prometheus.ExponentialBuckets(2, 2, 8),
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vertexfit_fits_in_flight",
			Help: "Fits currently running",
		}),
	}
	reg.MustRegister(m.fits, m.latency, m.reducedChi2, m.iteration, m.tracks, m.inFlight)
	return m
}

// FitStarted marks a fit as running.
func (m *FitMetrics) FitStarted() {
	if m == nil {
		return
	}
	m.inFlight.Inc()
}

// FitFinished records the outcome of a fit started with FitStarted.
// reducedChi2 and iteration are only observed for StatusOK.
func (m *FitMetrics) FitFinished(status string, d time.Duration, tracks int, reducedChi2 float64, iteration int) {
	if m == nil {
		return
	}
	m.inFlight.Dec()
	m.fits.WithLabelValues(status).Inc()
	m.latency.WithLabelValues(status).Observe(d.Seconds())
	m.tracks.Observe(float64(tracks))
	if status == StatusOK {
		m.reducedChi2.Observe(reducedChi2)
		m.iteration.Observe(float64(iteration))
	}
}
