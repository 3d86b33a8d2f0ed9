package config

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models planline.yml: the scoring and scheduling preferences for a
// project. The numeric defaults are tunable heuristics, not tuned truths, so
// everything here is overridable per deployment.
type Config struct {
	Project struct {
		ID string `yaml:"id"`
	} `yaml:"project"`
	Assignment struct {
		MinConfidence             float64 `yaml:"min_confidence"`
		DefaultMaxConcurrentTasks int     `yaml:"default_max_concurrent_tasks"`
		PriorityMode              string  `yaml:"priority_mode"`
		Weights                   Weights `yaml:"weights"`
		SpecializationThreshold   float64 `yaml:"specialization_threshold"`
	} `yaml:"assignment"`
	Experience struct {
		HalfLifeDays        float64 `yaml:"half_life_days"`
		SaturationHours     float64 `yaml:"saturation_hours"`
		ContextProjectBoost float64 `yaml:"context_project_boost"`
	} `yaml:"experience"`
	CPM struct {
		HoursPerDay float64 `yaml:"hours_per_day"`
	} `yaml:"cpm"`
}

// Weights are the fit-score components. They must sum to 1.
type Weights struct {
	Experience     float64 `yaml:"experience"`
	Availability   float64 `yaml:"availability"`
	Coverage       float64 `yaml:"coverage"`
	Specialization float64 `yaml:"specialization"`
}

func (w Weights) Sum() float64 {
	return w.Experience + w.Availability + w.Coverage + w.Specialization
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with pl project prefs import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Project.ID == "" {
		return fmt.Errorf("config.project.id is required")
	}
	a := c.Assignment
	if a.MinConfidence < 0 || a.MinConfidence > 1 {
		return fmt.Errorf("config.assignment.min_confidence must be in [0,1]")
	}
	if a.DefaultMaxConcurrentTasks < 1 {
		return fmt.Errorf("config.assignment.default_max_concurrent_tasks must be >= 1")
	}
	switch a.PriorityMode {
	case "weighted", "lexicographic":
	default:
		return fmt.Errorf("config.assignment.priority_mode must be weighted or lexicographic")
	}
	for name, v := range map[string]float64{
		"experience":     a.Weights.Experience,
		"availability":   a.Weights.Availability,
		"coverage":       a.Weights.Coverage,
		"specialization": a.Weights.Specialization,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("config.assignment.weights.%s must be in [0,1]", name)
		}
	}
	if math.Abs(a.Weights.Sum()-1) > 1e-9 {
		return fmt.Errorf("config.assignment.weights must sum to 1, got %v", a.Weights.Sum())
	}
	if a.SpecializationThreshold < 0 || a.SpecializationThreshold > 1 {
		return fmt.Errorf("config.assignment.specialization_threshold must be in [0,1]")
	}
	if c.Experience.HalfLifeDays <= 0 {
		return fmt.Errorf("config.experience.half_life_days must be > 0")
	}
	if c.Experience.SaturationHours <= 0 {
		return fmt.Errorf("config.experience.saturation_hours must be > 0")
	}
	if c.Experience.ContextProjectBoost < 1 {
		return fmt.Errorf("config.experience.context_project_boost must be >= 1")
	}
	if c.CPM.HoursPerDay <= 0 || c.CPM.HoursPerDay > 24 {
		return fmt.Errorf("config.cpm.hours_per_day must be in (0,24]")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "planline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(projectID string) string {
	return fmt.Sprintf(defaultTemplate, projectID)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for a project.
func Default(projectID string) *Config {
	var cfg Config
	cfg.Project.ID = projectID
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, projectID))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `project:
  id: %s

assignment:
  # a task whose best candidate scores below this stays unassigned
  min_confidence: 0.3
  default_max_concurrent_tasks: 3
  priority_mode: weighted
  weights:
    experience: 0.5
    availability: 0.35
    coverage: 0.10
    specialization: 0.05
  specialization_threshold: 0.8

experience:
  half_life_days: 180
  saturation_hours: 40
  context_project_boost: 1.25

cpm:
  hours_per_day: 8
`
