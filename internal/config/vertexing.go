package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is the path to the canonical vertexing defaults file.
// This is the single source of truth for all default fit and simulation values.
const DefaultConfigPath = "config/vertexing.defaults.json"

// VertexingConfig represents the root configuration for the vertex fitter,
// the straight-line linearizer, the batch runner and the event simulator.
// Every field is optional; the Get* accessors supply defaults.
type VertexingConfig struct {
	// Fitter params
	MaxIterations        *int     `json:"max_iterations,omitempty" yaml:"max_iterations,omitempty"`
	ConditionLimit       *float64 `json:"condition_limit,omitempty" yaml:"condition_limit,omitempty"`
	ConvergenceTolerance *float64 `json:"convergence_tolerance,omitempty" yaml:"convergence_tolerance,omitempty"`

	// Linearizer params
	MinSinTheta *float64 `json:"min_sin_theta,omitempty" yaml:"min_sin_theta,omitempty"`
	MaxDistance *float64 `json:"max_distance,omitempty" yaml:"max_distance,omitempty"` // mm, 0 disables

	// Batch params
	BatchWorkers *int `json:"batch_workers,omitempty" yaml:"batch_workers,omitempty"` // 0 = one per CPU

	// Simulation params (units: mm, rad, 1/GeV)
	SimTracksPerVertex *int     `json:"sim_tracks_per_vertex,omitempty" yaml:"sim_tracks_per_vertex,omitempty"`
	SimImpactSigma     *float64 `json:"sim_impact_sigma,omitempty" yaml:"sim_impact_sigma,omitempty"`
	SimAngleSigma      *float64 `json:"sim_angle_sigma,omitempty" yaml:"sim_angle_sigma,omitempty"`
	SimQOverPSigma     *float64 `json:"sim_qop_sigma,omitempty" yaml:"sim_qop_sigma,omitempty"`
	SimVertexSpread    *float64 `json:"sim_vertex_spread,omitempty" yaml:"sim_vertex_spread,omitempty"`
	BeamSpotSigma      *float64 `json:"beam_spot_sigma,omitempty" yaml:"beam_spot_sigma,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyVertexingConfig returns a VertexingConfig with all fields set to nil.
func EmptyVertexingConfig() *VertexingConfig {
	return &VertexingConfig{}
}

// DefaultVertexingConfig returns a config with every field populated from
// the built-in defaults. It does not touch the filesystem.
func DefaultVertexingConfig() *VertexingConfig {
	c := EmptyVertexingConfig()
	return &VertexingConfig{
		MaxIterations:        ptrInt(c.GetMaxIterations()),
		ConditionLimit:       ptrFloat64(c.GetConditionLimit()),
		ConvergenceTolerance: ptrFloat64(c.GetConvergenceTolerance()),
		MinSinTheta:          ptrFloat64(c.GetMinSinTheta()),
		MaxDistance:          ptrFloat64(c.GetMaxDistance()),
		BatchWorkers:         ptrInt(c.GetBatchWorkers()),
		SimTracksPerVertex:   ptrInt(c.GetSimTracksPerVertex()),
		SimImpactSigma:       ptrFloat64(c.GetSimImpactSigma()),
		SimAngleSigma:        ptrFloat64(c.GetSimAngleSigma()),
		SimQOverPSigma:       ptrFloat64(c.GetSimQOverPSigma()),
		SimVertexSpread:      ptrFloat64(c.GetSimVertexSpread()),
		BeamSpotSigma:        ptrFloat64(c.GetBeamSpotSigma()),
	}
}

// LoadVertexingConfig loads a VertexingConfig from a JSON or YAML file.
// The extension selects the decoder. Fields omitted from the file fall back
// to the Get* defaults, so partial configs are safe.
func LoadVertexingConfig(path string) (*VertexingConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := filepath.Ext(cleanPath)
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyVertexingConfig()
	if ext == ".json" {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *VertexingConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,          // from cmd/<tool>/
		"../../" + DefaultConfigPath,       // from internal/<pkg>/
		"../../../" + DefaultConfigPath,    // from internal/storage/sqlite/
		"../../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadVertexingConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *VertexingConfig) Validate() error {
	if c.MaxIterations != nil && *c.MaxIterations < 1 {
		return fmt.Errorf("max_iterations must be positive, got %d", *c.MaxIterations)
	}
	if c.ConditionLimit != nil && *c.ConditionLimit <= 1 {
		return fmt.Errorf("condition_limit must be greater than 1, got %g", *c.ConditionLimit)
	}
	if c.ConvergenceTolerance != nil && *c.ConvergenceTolerance < 0 {
		return fmt.Errorf("convergence_tolerance must be non-negative, got %g", *c.ConvergenceTolerance)
	}
	if c.MinSinTheta != nil && (*c.MinSinTheta < 0 || *c.MinSinTheta >= 1) {
		return fmt.Errorf("min_sin_theta must be in [0, 1), got %g", *c.MinSinTheta)
	}
	if c.MaxDistance != nil && *c.MaxDistance < 0 {
		return fmt.Errorf("max_distance must be non-negative, got %g", *c.MaxDistance)
	}
	if c.BatchWorkers != nil && *c.BatchWorkers < 0 {
		return fmt.Errorf("batch_workers must be non-negative, got %d", *c.BatchWorkers)
	}
	if c.SimTracksPerVertex != nil && *c.SimTracksPerVertex < 1 {
		return fmt.Errorf("sim_tracks_per_vertex must be positive, got %d", *c.SimTracksPerVertex)
	}
	for name, v := range map[string]*float64{
		"sim_impact_sigma":  c.SimImpactSigma,
		"sim_angle_sigma":   c.SimAngleSigma,
		"sim_qop_sigma":     c.SimQOverPSigma,
		"sim_vertex_spread": c.SimVertexSpread,
		"beam_spot_sigma":   c.BeamSpotSigma,
	} {
		if v != nil && *v < 0 {
			return fmt.Errorf("%s must be non-negative, got %g", name, *v)
		}
	}
	return nil
}

// GetMaxIterations returns the max_iterations value or the default.
func (c *VertexingConfig) GetMaxIterations() int {
	if c.MaxIterations == nil {
		return 5
	}
	return *c.MaxIterations
}

// GetConditionLimit returns the condition_limit value or the default.
func (c *VertexingConfig) GetConditionLimit() float64 {
	if c.ConditionLimit == nil {
		return 1e12
	}
	return *c.ConditionLimit
}

// GetConvergenceTolerance returns the convergence_tolerance value or the default.
func (c *VertexingConfig) GetConvergenceTolerance() float64 {
	if c.ConvergenceTolerance == nil {
		return 0 // default: always run the full iteration budget
	}
	return *c.ConvergenceTolerance
}

// GetMinSinTheta returns the min_sin_theta value or the default.
func (c *VertexingConfig) GetMinSinTheta() float64 {
	if c.MinSinTheta == nil {
		return 1e-6
	}
	return *c.MinSinTheta
}

// GetMaxDistance returns the max_distance value or the default.
func (c *VertexingConfig) GetMaxDistance() float64 {
	if c.MaxDistance == nil {
		return 0
	}
	return *c.MaxDistance
}

// GetBatchWorkers returns the batch_workers value or the default.
func (c *VertexingConfig) GetBatchWorkers() int {
	if c.BatchWorkers == nil {
		return 0
	}
	return *c.BatchWorkers
}

// GetSimTracksPerVertex returns the sim_tracks_per_vertex value or the default.
func (c *VertexingConfig) GetSimTracksPerVertex() int {
	if c.SimTracksPerVertex == nil {
		return 8
	}
	return *c.SimTracksPerVertex
}

// GetSimImpactSigma returns the sim_impact_sigma value or the default.
func (c *VertexingConfig) GetSimImpactSigma() float64 {
	if c.SimImpactSigma == nil {
		return 0.02
	}
	return *c.SimImpactSigma
}

// GetSimAngleSigma returns the sim_angle_sigma value or the default.
func (c *VertexingConfig) GetSimAngleSigma() float64 {
	if c.SimAngleSigma == nil {
		return 1e-4
	}
	return *c.SimAngleSigma
}

// GetSimQOverPSigma returns the sim_qop_sigma value or the default.
func (c *VertexingConfig) GetSimQOverPSigma() float64 {
	if c.SimQOverPSigma == nil {
		return 1e-3
	}
	return *c.SimQOverPSigma
}

// GetSimVertexSpread returns the sim_vertex_spread value or the default.
func (c *VertexingConfig) GetSimVertexSpread() float64 {
	if c.SimVertexSpread == nil {
		return 0.05
	}
	return *c.SimVertexSpread
}

// GetBeamSpotSigma returns the beam_spot_sigma value or the default.
func (c *VertexingConfig) GetBeamSpotSigma() float64 {
	if c.BeamSpotSigma == nil {
		return 0.05
	}
	return *c.BeamSpotSigma
}
