package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/inference-sim/simkernel/sim"
	"github.com/inference-sim/simkernel/sim/experiment"
)

// ExperimentConfig is the YAML experiment file.
// All top-level sections must be listed to satisfy KnownFields(true) strict parsing.
type ExperimentConfig struct {
	Name         string      `yaml:"name"`
	Seed         int64       `yaml:"seed"`
	Replications int         `yaml:"replications"`
	StartTime    int64       `yaml:"start_time"`
	WarmupTime   int64       `yaml:"warmup_time"`
	EndTime      int64       `yaml:"end_time"`
	Model        BankConfig  `yaml:"model"`
	Trace        TraceConfig `yaml:"trace"`
}

// BankConfig parameterizes the bank queueing model. Times are in ticks.
type BankConfig struct {
	Tellers          int     `yaml:"tellers"`
	MeanInterarrival float64 `yaml:"mean_interarrival"`
	MeanService      float64 `yaml:"mean_service"`
	Patience         int64   `yaml:"patience"`
}

// TraceConfig selects where dispatched events are recorded. Empty disables
// tracing.
type TraceConfig struct {
	SQLite string `yaml:"sqlite"`
}

// DefaultExperimentConfig returns the values used for fields a file omits.
func DefaultExperimentConfig() ExperimentConfig {
	return ExperimentConfig{
		Name:         "bank",
		Seed:         42,
		Replications: 1,
		StartTime:    0,
		WarmupTime:   0,
		EndTime:      100_000,
		Model: BankConfig{
			Tellers:          2,
			MeanInterarrival: 100,
			MeanService:      150,
			Patience:         400,
		},
	}
}

// LoadExperimentConfig reads path over the defaults. Unknown keys are
// errors so typos do not silently fall back to defaults.
func LoadExperimentConfig(path string) (*ExperimentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading experiment config: %w", err)
	}
	return ParseExperimentConfig(data)
}

// ParseExperimentConfig decodes YAML over the defaults and validates the result.
func ParseExperimentConfig(data []byte) (*ExperimentConfig, error) {
	cfg := DefaultExperimentConfig()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: parsing experiment config: %v", sim.ErrConfiguration, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the model parameters and the replication bounds.
func (c *ExperimentConfig) Validate() error {
	if err := c.Model.Validate(); err != nil {
		return err
	}
	return c.Experiment().Validate()
}

// Experiment builds the replication manager described by c.
func (c *ExperimentConfig) Experiment() *experiment.Experiment {
	return &experiment.Experiment{
		Name:         c.Name,
		Seed:         c.Seed,
		Replications: c.Replications,
		Start:        sim.Time(c.StartTime),
		Warmup:       sim.Time(c.WarmupTime),
		End:          sim.Time(c.EndTime),
	}
}

// Validate checks the bank parameters.
func (b BankConfig) Validate() error {
	switch {
	case b.Tellers <= 0:
		return fmt.Errorf("%w: model.tellers must be positive, got %d", sim.ErrConfiguration, b.Tellers)
	case b.MeanInterarrival <= 0:
		return fmt.Errorf("%w: model.mean_interarrival must be positive, got %g",
			sim.ErrConfiguration, b.MeanInterarrival)
	case b.MeanService <= 0:
		return fmt.Errorf("%w: model.mean_service must be positive, got %g", sim.ErrConfiguration, b.MeanService)
	case b.Patience < 0:
		return fmt.Errorf("%w: model.patience must not be negative, got %d", sim.ErrConfiguration, b.Patience)
	}
	return nil
}
