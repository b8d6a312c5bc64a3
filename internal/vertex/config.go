package vertex

import (
	"fmt"

	"github.com/banshee-data/vertexfit/internal/config"
)

// Config holds the fitter settings. The zero value is not usable; start
// from DefaultConfig or ConfigFromTuning.
type Config struct {
	// MaxIterations is the iteration budget. Every iteration runs unless
	// ConvergenceTolerance is set.
	MaxIterations int

	// ConditionLimit is the largest condition number accepted when
	// inverting a symmetric matrix. Larger values are reported as
	// ErrSingularMatrix.
	ConditionLimit float64

	// ConvergenceTolerance, when positive, stops the loop after an
	// improving iteration whose position step is shorter than it (mm).
	// Zero keeps the full-budget behaviour.
	ConvergenceTolerance float64

	// Recorder, if non-nil, is told about every iteration.
	Recorder IterationRecorder
}

// DefaultConfig returns the built-in fitter defaults.
func DefaultConfig() Config {
	return ConfigFromTuning(config.EmptyVertexingConfig())
}

// ConfigFromTuning builds a Config from a loaded VertexingConfig.
func ConfigFromTuning(cfg *config.VertexingConfig) Config {
	return Config{
		MaxIterations:        cfg.GetMaxIterations(),
		ConditionLimit:       cfg.GetConditionLimit(),
		ConvergenceTolerance: cfg.GetConvergenceTolerance(),
	}
}

func (c Config) validate() error {
	if c.MaxIterations < 1 {
		return fmt.Errorf("%w: max iterations must be positive, got %d", ErrInvalidConfig, c.MaxIterations)
	}
	if c.ConditionLimit <= 1 {
		return fmt.Errorf("%w: condition limit must exceed 1, got %g", ErrInvalidConfig, c.ConditionLimit)
	}
	if c.ConvergenceTolerance < 0 {
		return fmt.Errorf("%w: convergence tolerance must be non-negative, got %g", ErrInvalidConfig, c.ConvergenceTolerance)
	}
	return nil
}
