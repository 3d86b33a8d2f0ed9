package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default("demo")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.Project.ID != "demo" {
		t.Fatalf("project id = %q, want demo", cfg.Project.ID)
	}
	if cfg.Assignment.MinConfidence != 0.3 {
		t.Fatalf("min_confidence = %v, want 0.3", cfg.Assignment.MinConfidence)
	}
	if cfg.Assignment.Weights.Experience != 0.5 {
		t.Fatalf("experience weight = %v, want 0.5", cfg.Assignment.Weights.Experience)
	}
	if cfg.CPM.HoursPerDay != 8 {
		t.Fatalf("hours_per_day = %v, want 8", cfg.CPM.HoursPerDay)
	}
}

func TestGenerateDefaultRoundTrips(t *testing.T) {
	cfg, err := FromYAML([]byte(GenerateDefault("demo")))
	if err != nil {
		t.Fatalf("FromYAML: %v", err)
	}
	if cfg.Experience.HalfLifeDays != 180 || cfg.Experience.SaturationHours != 40 {
		t.Fatalf("experience defaults = %+v", cfg.Experience)
	}
	if cfg.Assignment.PriorityMode != "weighted" {
		t.Fatalf("priority_mode = %q, want weighted", cfg.Assignment.PriorityMode)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing project id", func(c *Config) { c.Project.ID = "" }, "project.id"},
		{"confidence out of range", func(c *Config) { c.Assignment.MinConfidence = 1.5 }, "min_confidence"},
		{"zero capacity default", func(c *Config) { c.Assignment.DefaultMaxConcurrentTasks = 0 }, "default_max_concurrent_tasks"},
		{"unknown priority mode", func(c *Config) { c.Assignment.PriorityMode = "random" }, "priority_mode"},
		{"weights off by too much", func(c *Config) { c.Assignment.Weights.Experience = 0.6 }, "sum to 1"},
		{"negative weight", func(c *Config) {
			c.Assignment.Weights.Experience = -0.1
			c.Assignment.Weights.Availability = 0.95
		}, "weights.experience"},
		{"threshold out of range", func(c *Config) { c.Assignment.SpecializationThreshold = 2 }, "specialization_threshold"},
		{"zero half life", func(c *Config) { c.Experience.HalfLifeDays = 0 }, "half_life_days"},
		{"zero saturation", func(c *Config) { c.Experience.SaturationHours = 0 }, "saturation_hours"},
		{"boost below one", func(c *Config) { c.Experience.ContextProjectBoost = 0.5 }, "context_project_boost"},
		{"too many hours per day", func(c *Config) { c.CPM.HoursPerDay = 25 }, "hours_per_day"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default("demo")
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestFromYAMLOverrides(t *testing.T) {
	cfg, err := FromYAML([]byte(`project:
  id: override
assignment:
  min_confidence: 0.5
  default_max_concurrent_tasks: 2
  priority_mode: lexicographic
  weights:
    experience: 0.7
    availability: 0.2
    coverage: 0.05
    specialization: 0.05
  specialization_threshold: 0.9
experience:
  half_life_days: 90
  saturation_hours: 80
  context_project_boost: 1.5
cpm:
  hours_per_day: 6
`))
	if err != nil {
		t.Fatalf("FromYAML: %v", err)
	}
	if cfg.Assignment.PriorityMode != "lexicographic" {
		t.Fatalf("priority_mode = %q", cfg.Assignment.PriorityMode)
	}
	if cfg.Assignment.Weights.Sum() != 1 {
		t.Fatalf("weights sum = %v", cfg.Assignment.Weights.Sum())
	}
	if cfg.CPM.HoursPerDay != 6 {
		t.Fatalf("hours_per_day = %v", cfg.CPM.HoursPerDay)
	}
}

func TestFromYAMLMalformed(t *testing.T) {
	if _, err := FromYAML([]byte("project: [not a mapping")); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadMissingFile(t *testing.T) {
	dir := t.TempDir()
	if _, err := Load(dir); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("Load on empty workspace: %v", err)
	}
	cfg, err := LoadOptional(dir)
	if err != nil || cfg != nil {
		t.Fatalf("LoadOptional on empty workspace = %v, %v; want nil, nil", cfg, err)
	}
}

func TestLoadFromWorkspace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "planline.yml")
	if err := os.WriteFile(path, []byte(GenerateDefault("ws")), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Project.ID != "ws" {
		t.Fatalf("project id = %q, want ws", cfg.Project.ID)
	}
}
