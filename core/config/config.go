// Package config loads and validates the facet pipeline configuration from
// YAML, applying defaults first and FACET_* environment overrides last.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/quenchlab/facet/core/colorspace"
	"github.com/quenchlab/facet/core/errs"
)

type Config struct {
	Pipeline PipelineConfig `yaml:"pipeline"`
	Builder  BuilderConfig  `yaml:"builder"`
	Prune    PruneConfig    `yaml:"prune"`
	Outliers OutlierConfig  `yaml:"outliers"`
	DMap     DMapConfig     `yaml:"dmap"`
	Colors   ColorConfig    `yaml:"colors"`
	Output   OutputConfig   `yaml:"output"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type PipelineConfig struct {
	Workers int      `yaml:"workers"`
	Seed    int64    `yaml:"seed"`
	PBC     string   `yaml:"pbc"`
	Strict  bool     `yaml:"strict"`
	Include []string `yaml:"include"`
	Exclude []string `yaml:"exclude"`
}

type BuilderConfig struct {
	Cutoff    float64 `yaml:"cutoff"`
	Shells    int     `yaml:"shells"`
	CacheSize int     `yaml:"cache_size"`
}

type PruneConfig struct {
	Mode          string   `yaml:"mode"`
	NumTop        *int     `yaml:"num_top"`
	MinFreq       *float64 `yaml:"min_freq"`
	MinPercentile *float64 `yaml:"min_percentile"`
	NumRandom     int      `yaml:"num_random"`
}

type OutlierConfig struct {
	Mode   string  `yaml:"mode"`
	Thresh float64 `yaml:"thresh"`
}

type DMapConfig struct {
	Alpha   float64 `yaml:"alpha"`
	NumEvec int     `yaml:"num_evec"`
	Epsilon float64 `yaml:"epsilon"`
}

type ColorConfig struct {
	Rotations []colorspace.Rotation `yaml:"rotations"`
}

type OutputConfig struct {
	Dir           string `yaml:"dir"`
	Manifold      string `yaml:"manifold"`
	Library       string `yaml:"library"`
	HalfPrecision bool   `yaml:"half_precision"`
}

type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig mirrors the conventional single-shell neighborhood analysis:
// one worker, full periodic boundaries, frequency pruning at min_freq 1, and
// a four-eigenvector diffusion map with data-driven bandwidth.
func DefaultConfig() *Config {
	minFreq := 1.0
	return &Config{
		Pipeline: PipelineConfig{Workers: 1, Seed: 42, PBC: "xyz"},
		Builder:  BuilderConfig{Cutoff: 1.4, Shells: 1, CacheSize: 4096},
		Prune:    PruneConfig{Mode: "frequency", MinFreq: &minFreq},
		DMap:     DMapConfig{Alpha: 1.0, NumEvec: 4},
		Output:   OutputConfig{Dir: ".", Manifold: "manifold.xyz"},
		Logging:  LoggingConfig{Level: "info"},
	}
}

// Load reads path (optional; empty path keeps defaults), overlays it onto the
// defaults, applies environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: parse %s: %v", errs.ErrConfiguration, path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("FACET_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("FACET_OUTPUT_DIR"); v != "" {
		c.Output.Dir = v
	}
	if v := os.Getenv("FACET_METRICS_LISTEN"); v != "" {
		c.Metrics.Listen = v
	}
	if v := os.Getenv("FACET_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Pipeline.Workers = n
		}
	}
}

// Validate checks every section, wrapping failures in ErrConfiguration.
func (c *Config) Validate() error {
	if c.Pipeline.Workers < 1 {
		return fmt.Errorf("%w: pipeline.workers must be >= 1, got %d",
			errs.ErrConfiguration, c.Pipeline.Workers)
	}
	for _, p := range c.Pipeline.PBC {
		if p != 'x' && p != 'y' && p != 'z' {
			return fmt.Errorf("%w: pipeline.pbc must be a combination of x, y and z, got %q",
				errs.ErrConfiguration, c.Pipeline.PBC)
		}
	}
	if c.Builder.Cutoff <= 0 {
		return fmt.Errorf("%w: builder.cutoff must be positive, got %g",
			errs.ErrConfiguration, c.Builder.Cutoff)
	}
	if c.Builder.Shells < 1 {
		return fmt.Errorf("%w: builder.shells must be >= 1, got %d",
			errs.ErrConfiguration, c.Builder.Shells)
	}
	if c.Prune.Mode != "frequency" && c.Prune.Mode != "clustersize" {
		return fmt.Errorf("%w: prune.mode must be frequency or clustersize, got %q",
			errs.ErrConfiguration, c.Prune.Mode)
	}
	set := 0
	for _, ok := range []bool{c.Prune.NumTop != nil, c.Prune.MinFreq != nil, c.Prune.MinPercentile != nil} {
		if ok {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("%w: exactly one of prune.num_top, prune.min_freq, prune.min_percentile must be set",
			errs.ErrConfiguration)
	}
	switch c.Outliers.Mode {
	case "", "agglomerative", "cutoff":
	default:
		return fmt.Errorf("%w: outliers.mode must be agglomerative or cutoff, got %q",
			errs.ErrConfiguration, c.Outliers.Mode)
	}
	if c.Outliers.Mode == "cutoff" && c.Outliers.Thresh <= 0 {
		return fmt.Errorf("%w: outliers.thresh must be positive in cutoff mode",
			errs.ErrConfiguration)
	}
	if c.DMap.Alpha <= 0 {
		return fmt.Errorf("%w: dmap.alpha must be positive, got %g",
			errs.ErrConfiguration, c.DMap.Alpha)
	}
	if c.DMap.NumEvec < 2 {
		return fmt.Errorf("%w: dmap.num_evec must be >= 2, got %d",
			errs.ErrConfiguration, c.DMap.NumEvec)
	}
	return nil
}
