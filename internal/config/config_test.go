package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "exp.yaml", "simulation:\n  seed: 7\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Simulation.Seed != 7 {
		t.Fatalf("seed = %d, want 7", cfg.Simulation.Seed)
	}
	// Untouched sections keep the baseline.
	if cfg.World.GridSize != 30 || cfg.Provider.Name != "mock" {
		t.Fatalf("defaults lost: grid=%d provider=%q", cfg.World.GridSize, cfg.Provider.Name)
	}
}

func TestLoadInheritanceChain(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", `
world:
  grid_size: 16
agents:
  count: 6
`)
	writeFile(t, dir, "experiment.yaml", `
inherits: base
agents:
  count: 2
perturbation:
  enabled: true
  rate: 0.1
  stores:
    episodic: 1.0
  transforms:
    deletion: 1.0
`)
	child := writeFile(t, dir, "variant.yaml", `
inherits: experiment
perturbation:
  rate: 0.25
`)

	cfg, err := Load(child)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.World.GridSize != 16 {
		t.Fatalf("grid from grandparent = %d, want 16", cfg.World.GridSize)
	}
	if cfg.Agents.Count != 2 {
		t.Fatalf("count override = %d, want 2", cfg.Agents.Count)
	}
	if !cfg.Perturbation.Enabled || cfg.Perturbation.Rate != 0.25 {
		t.Fatalf("perturbation = %+v", cfg.Perturbation)
	}
	if cfg.Perturbation.Stores["episodic"] != 1.0 {
		t.Fatalf("stores lost through chain: %v", cfg.Perturbation.Stores)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "exp.yaml", "provider:\n  name: mock\n")

	t.Setenv("SAVANNAH_PROVIDER_NAME", "local_ollama")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Provider.Name != "local_ollama" {
		t.Fatalf("provider = %q, want env override", cfg.Provider.Name)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"grid":     "world:\n  grid_size: 1\n",
		"food":     "world:\n  food:\n    min_sources: 9\n    max_sources: 3\n",
		"session":  "provider:\n  session_mode: streaming\n",
		"agents":   "agents:\n  count: 0\n",
		"energy":   "agents:\n  energy_start: 200\n",
		"perturb":  "perturbation:\n  enabled: true\n  rate: 3\n",
		"extract":  "metrics:\n  extract_every: 0\n",
		"snapshot": "simulation:\n  snapshot_every: 0\n",
	}
	for name, content := range cases {
		path := writeFile(t, dir, name+".yaml", content)
		if _, err := Load(path); err == nil {
			t.Fatalf("%s: invalid config accepted", name)
		}
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := Defaults()
	cfg.Simulation.Seed = 99
	cfg.Simulation.Ticks = 500
	cfg.Perturbation.Enabled = true
	cfg.Perturbation.StartTick = 50

	path := filepath.Join(dir, "config.yaml")
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Simulation.Seed != 99 || loaded.Simulation.Ticks != 500 {
		t.Fatalf("simulation lost: %+v", loaded.Simulation)
	}
	if !loaded.Perturbation.Enabled || loaded.Perturbation.StartTick != 50 {
		t.Fatalf("perturbation lost: %+v", loaded.Perturbation)
	}
	if loaded.Agents.EnergyPerRest != cfg.Agents.EnergyPerRest {
		t.Fatalf("costs lost: %v vs %v", loaded.Agents.EnergyPerRest, cfg.Agents.EnergyPerRest)
	}
}

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults do not validate: %v", err)
	}
}
