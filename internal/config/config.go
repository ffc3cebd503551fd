package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models tatake.yml: the reward tuning knobs of the backend.
type Config struct {
	Rewards struct {
		// Points granted for completing a task outside the Top3 set.
		TaskCompletionPoints int `yaml:"task_completion_points"`
		// Consolation points when the Top3 lottery lands on the points side.
		ConsolationPoints int `yaml:"consolation_points"`
		// Points charged for locking in a daily Top3 selection.
		Top3Cost int `yaml:"top3_cost"`
	} `yaml:"rewards"`
	Lottery struct {
		// Probability of the points outcome; the item outcome gets the rest.
		PointsProbability float64 `yaml:"points_probability"`
	} `yaml:"lottery"`
}

// Load reads and validates config from the workspace, falling back to
// defaults when the file does not exist.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Rewards.TaskCompletionPoints <= 0 {
		return fmt.Errorf("config.rewards.task_completion_points must be positive")
	}
	if c.Rewards.ConsolationPoints <= 0 {
		return fmt.Errorf("config.rewards.consolation_points must be positive")
	}
	if c.Rewards.Top3Cost <= 0 {
		return fmt.Errorf("config.rewards.top3_cost must be positive")
	}
	p := c.Lottery.PointsProbability
	if math.IsNaN(p) || p < 0 || p > 1 {
		return fmt.Errorf("config.lottery.points_probability must be within [0,1]")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "tatake.yml")
}

// Default returns the default reward tuning.
func Default() *Config {
	var cfg Config
	cfg.Rewards.TaskCompletionPoints = 10
	cfg.Rewards.ConsolationPoints = 100
	cfg.Rewards.Top3Cost = 300
	cfg.Lottery.PointsProbability = 0.5
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Omitted sections
// keep their defaults.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// GenerateDefault returns the default config as YAML.
func GenerateDefault() string {
	out, _ := yaml.Marshal(Default())
	return string(out)
}
