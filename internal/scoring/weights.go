// Package scoring implements the performance scoring engine: a weighted,
// configurable rubric combining per-muscle compliance, bilateral symmetry,
// subjective effort, and game performance under a BFR safety gate. Weight
// tables are versioned; a session keeps the config id it was first scored
// with so historical scores stay reproducible.
package scoring

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ggustin93/emg-c3d-analyzer-sub000/internal/config"
)

// Config is one versioned scoring rubric.
type Config struct {
	ID     string `yaml:"id" json:"id"`
	Name   string `yaml:"name" json:"name"`
	Active bool   `yaml:"active" json:"active"`

	// Main component weights; must sum to 1.
	WeightCompliance float64 `yaml:"weight_compliance" json:"weight_compliance"`
	WeightSymmetry   float64 `yaml:"weight_symmetry" json:"weight_symmetry"`
	WeightEffort     float64 `yaml:"weight_effort" json:"weight_effort"`
	WeightGame       float64 `yaml:"weight_game" json:"weight_game"`

	// Compliance sub-weights; must sum to 1.
	WeightCompletion float64 `yaml:"weight_completion" json:"weight_completion"`
	WeightIntensity  float64 `yaml:"weight_intensity" json:"weight_intensity"`
	WeightDuration   float64 `yaml:"weight_duration" json:"weight_duration"`

	RPEMapping RPEMapping `yaml:"rpe_mapping" json:"rpe_mapping"`
}

// DefaultConfig returns the system rubric seeded from the configuration
// constants. The database seed row is the source of truth; this value exists
// to bootstrap it and to cross-check at startup.
func DefaultConfig() Config {
	return Config{
		Name:             "GHOSTLY-TRIAL-DEFAULT",
		Active:           true,
		WeightCompliance: config.DefaultWeightCompliance,
		WeightSymmetry:   config.DefaultWeightSymmetry,
		WeightEffort:     config.DefaultWeightEffort,
		WeightGame:       config.DefaultWeightGame,
		WeightCompletion: config.DefaultWeightCompletion,
		WeightIntensity:  config.DefaultWeightIntensity,
		WeightDuration:   config.DefaultWeightDuration,
		RPEMapping:       RPEMapping(config.DefaultRPEMapping()),
	}
}

// Validate checks both weight sums against the tolerance and rejects
// negative weights and malformed RPE mappings.
func (c *Config) Validate() error {
	for name, w := range map[string]float64{
		"weight_compliance": c.WeightCompliance,
		"weight_symmetry":   c.WeightSymmetry,
		"weight_effort":     c.WeightEffort,
		"weight_game":       c.WeightGame,
		"weight_completion": c.WeightCompletion,
		"weight_intensity":  c.WeightIntensity,
		"weight_duration":   c.WeightDuration,
	} {
		if w < 0 {
			return fmt.Errorf("scoring: %s is negative: %f", name, w)
		}
	}

	mainSum := c.WeightCompliance + c.WeightSymmetry + c.WeightEffort + c.WeightGame
	if math.Abs(mainSum-1.0) > config.WeightSumTolerance {
		return fmt.Errorf("scoring: main weights sum to %.4f, want 1.0 ± %.2f",
			mainSum, config.WeightSumTolerance)
	}

	subSum := c.WeightCompletion + c.WeightIntensity + c.WeightDuration
	if math.Abs(subSum-1.0) > config.WeightSumTolerance {
		return fmt.Errorf("scoring: compliance sub-weights sum to %.4f, want 1.0 ± %.2f",
			subSum, config.WeightSumTolerance)
	}

	if len(c.RPEMapping) > 0 {
		if err := c.RPEMapping.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// EquivalentWeights reports whether two configs carry the same weights within
// the validation tolerance. Used to cross-check the database seed against
// the compiled defaults at startup.
func (c Config) EquivalentWeights(other Config) bool {
	tol := config.WeightSumTolerance
	close := func(a, b float64) bool { return math.Abs(a-b) <= tol }
	return close(c.WeightCompliance, other.WeightCompliance) &&
		close(c.WeightSymmetry, other.WeightSymmetry) &&
		close(c.WeightEffort, other.WeightEffort) &&
		close(c.WeightGame, other.WeightGame) &&
		close(c.WeightCompletion, other.WeightCompletion) &&
		close(c.WeightIntensity, other.WeightIntensity) &&
		close(c.WeightDuration, other.WeightDuration)
}

// LoadConfigFile reads a rubric override from a YAML file and validates it.
// Missing RPE mapping falls back to the default bands.
func LoadConfigFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("scoring: read config %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("scoring: parse config %s: %w", path, err)
	}
	if len(cfg.RPEMapping) == 0 {
		cfg.RPEMapping = RPEMapping(config.DefaultRPEMapping())
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
