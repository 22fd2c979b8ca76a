package config

import (
	"fmt"
	"os"
	"strings"

	koanfyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"gopkg.in/yaml.v3"
)

// Config is the fully resolved configuration tree the engine consumes.
// Inheritance between config files is resolved at load time; the core
// never sees a partial tree.
type Config struct {
	Simulation   Simulation   `koanf:"simulation" yaml:"simulation"`
	World        World        `koanf:"world" yaml:"world"`
	Agents       Agents       `koanf:"agents" yaml:"agents"`
	Provider     Provider     `koanf:"provider" yaml:"provider"`
	Perturbation Perturbation `koanf:"perturbation" yaml:"perturbation"`
	Metrics      Metrics      `koanf:"metrics" yaml:"metrics"`
	Observer     Observer     `koanf:"observer" yaml:"observer"`
}

type Simulation struct {
	Seed          int64 `koanf:"seed" yaml:"seed"`
	Ticks         int   `koanf:"ticks" yaml:"ticks"`
	SnapshotEvery int   `koanf:"snapshot_every" yaml:"snapshot_every"`
	TickDelayMs   int   `koanf:"tick_delay_ms" yaml:"tick_delay_ms"`
}

type World struct {
	GridSize int  `koanf:"grid_size" yaml:"grid_size"`
	Toroidal bool `koanf:"toroidal" yaml:"toroidal"`
	Food     Food `koanf:"food" yaml:"food"`
}

type Food struct {
	SpawnRate  float64 `koanf:"spawn_rate" yaml:"spawn_rate"` // per-empty-cell probability per tick
	SizeMin    int     `koanf:"size_min" yaml:"size_min"`
	SizeMax    int     `koanf:"size_max" yaml:"size_max"`
	MinSources int     `koanf:"min_sources" yaml:"min_sources"`
	MaxSources int     `koanf:"max_sources" yaml:"max_sources"`
}

type Agents struct {
	Count       int     `koanf:"count" yaml:"count"`
	EnergyStart float64 `koanf:"energy_start" yaml:"energy_start"`
	EnergyMax   float64 `koanf:"energy_max" yaml:"energy_max"`
	FoodValue   float64 `koanf:"food_value" yaml:"food_value"`
	VisionRange int     `koanf:"vision_range" yaml:"vision_range"`
	CommRange   int     `koanf:"comm_range" yaml:"comm_range"`
	EatRate     float64 `koanf:"eat_rate" yaml:"eat_rate"`

	EnergyDrainPerTick float64 `koanf:"energy_drain_per_tick" yaml:"energy_drain_per_tick"`
	EnergyPerMove      float64 `koanf:"energy_per_move" yaml:"energy_per_move"`
	EnergyPerRecall    float64 `koanf:"energy_per_recall" yaml:"energy_per_recall"`
	EnergyPerRemember  float64 `koanf:"energy_per_remember" yaml:"energy_per_remember"`
	EnergyPerCompact   float64 `koanf:"energy_per_compact" yaml:"energy_per_compact"`
	EnergyPerSignal    float64 `koanf:"energy_per_signal" yaml:"energy_per_signal"`
	EnergyPerObserve   float64 `koanf:"energy_per_observe" yaml:"energy_per_observe"`
	EnergyPerAttack    float64 `koanf:"energy_per_attack" yaml:"energy_per_attack"`
	EnergyPerFlee      float64 `koanf:"energy_per_flee" yaml:"energy_per_flee"`
	EnergyPerRest      float64 `koanf:"energy_per_rest" yaml:"energy_per_rest"`

	CombatRiskFactor float64 `koanf:"combat_risk_factor" yaml:"combat_risk_factor"`
	RecallMaxResults int     `koanf:"recall_max_results" yaml:"recall_max_results"`
	CompactThreshold int     `koanf:"compact_threshold" yaml:"compact_threshold"` // episodic entry ceiling
	WorkingMaxBytes  int     `koanf:"working_max_bytes" yaml:"working_max_bytes"`
}

type Provider struct {
	Name            string  `koanf:"name" yaml:"name"`
	Model           string  `koanf:"model" yaml:"model"`
	CompactionModel string  `koanf:"compaction_model" yaml:"compaction_model"`
	SessionMode     string  `koanf:"session_mode" yaml:"session_mode"` // "stateless" or "resumable"
	Temperature     float64 `koanf:"temperature" yaml:"temperature"`
	TimeoutSeconds  int     `koanf:"timeout_seconds" yaml:"timeout_seconds"`
	RetryMax        int     `koanf:"retry_max" yaml:"retry_max"`
	RetryBackoffMs  int     `koanf:"retry_backoff_ms" yaml:"retry_backoff_ms"`
	MaxConcurrent   int     `koanf:"max_concurrent" yaml:"max_concurrent"`
	BaseURL         string  `koanf:"base_url" yaml:"base_url"` // http providers only
}

type Perturbation struct {
	Enabled    bool               `koanf:"enabled" yaml:"enabled"`
	Rate       float64            `koanf:"rate" yaml:"rate"`
	StartTick  int                `koanf:"start_tick" yaml:"start_tick"`
	Stores     map[string]float64 `koanf:"stores" yaml:"stores"`         // store name -> weight
	Transforms map[string]float64 `koanf:"transforms" yaml:"transforms"` // transform kind -> weight
}

type Metrics struct {
	ExtractEvery int `koanf:"extract_every" yaml:"extract_every"`
}

type Observer struct {
	Enabled bool   `koanf:"enabled" yaml:"enabled"`
	Addr    string `koanf:"addr" yaml:"addr"`
}

const (
	SessionStateless = "stateless"
	SessionResumable = "resumable"
)

// Load reads a YAML config file, resolves single-parent inheritance via
// the "inherits" key, applies SAVANNAH_* environment overrides, and
// unmarshals into a validated Config.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := loadWithInheritance(k, path, 0); err != nil {
		return nil, err
	}

	// SAVANNAH_PROVIDER_NAME -> provider.name
	if err := k.Load(env.Provider("SAVANNAH_", ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, "SAVANNAH_")), "_", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("env overrides: %w", err)
	}

	cfg := Defaults()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadWithInheritance(k *koanf.Koanf, path string, depth int) error {
	if depth > 8 {
		return fmt.Errorf("config inheritance too deep at %s", path)
	}
	probe := koanf.New(".")
	if err := probe.Load(file.Provider(path), koanfyaml.Parser()); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	if parent := probe.String("inherits"); parent != "" {
		parentPath := resolveSibling(path, parent)
		if err := loadWithInheritance(k, parentPath, depth+1); err != nil {
			return err
		}
	}
	if err := k.Load(file.Provider(path), koanfyaml.Parser()); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	k.Delete("inherits")
	return nil
}

func resolveSibling(path, name string) string {
	if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
		name += ".yaml"
	}
	idx := strings.LastIndexByte(path, '/')
	if idx < 0 {
		return name
	}
	return path[:idx+1] + name
}

// Defaults returns a runnable baseline configuration.
func Defaults() Config {
	return Config{
		Simulation: Simulation{
			Seed:          42,
			Ticks:         100,
			SnapshotEvery: 10,
		},
		World: World{
			GridSize: 30,
			Toroidal: true,
			Food: Food{
				SpawnRate:  0.002,
				SizeMin:    30,
				SizeMax:    80,
				MinSources: 5,
				MaxSources: 15,
			},
		},
		Agents: Agents{
			Count:              4,
			EnergyStart:        80,
			EnergyMax:          100,
			FoodValue:          80,
			VisionRange:        3,
			CommRange:          5,
			EatRate:            50,
			EnergyDrainPerTick: 1,
			EnergyPerMove:      2,
			EnergyPerRecall:    1,
			EnergyPerRemember:  1,
			EnergyPerCompact:   2,
			EnergyPerSignal:    1,
			EnergyPerObserve:   1,
			EnergyPerAttack:    5,
			EnergyPerFlee:      4,
			EnergyPerRest:      0.5,
			CombatRiskFactor:   0.3,
			RecallMaxResults:   3,
			CompactThreshold:   60,
			WorkingMaxBytes:    2048,
		},
		Provider: Provider{
			Name:            "mock",
			Model:           "default",
			CompactionModel: "default",
			SessionMode:     SessionStateless,
			Temperature:     1.0,
			TimeoutSeconds:  30,
			RetryMax:        3,
			RetryBackoffMs:  500,
			MaxConcurrent:   6,
		},
		Perturbation: Perturbation{
			Enabled:   false,
			Rate:      0.05,
			StartTick: 0,
			Stores: map[string]float64{
				"episodic": 0.5,
				"semantic": 0.2,
				"self":     0.15,
				"working":  0.15,
			},
			Transforms: map[string]float64{
				"location_swap":   0.3,
				"identifier_swap": 0.2,
				"outcome_invert":  0.25,
				"deletion":        0.1,
				"false_entry":     0.15,
			},
		},
		Metrics:  Metrics{ExtractEvery: 1},
		Observer: Observer{Addr: "127.0.0.1:8787"},
	}
}

// Validate rejects configurations the engine cannot run with. Capability
// checks that depend on the provider implementation (resumable session
// support) live in the provider registry.
func (c *Config) Validate() error {
	if c.World.GridSize < 2 {
		return fmt.Errorf("world.grid_size must be >= 2, got %d", c.World.GridSize)
	}
	f := c.World.Food
	if f.MinSources < 0 || f.MaxSources < f.MinSources {
		return fmt.Errorf("world.food: need 0 <= min_sources <= max_sources, got [%d, %d]", f.MinSources, f.MaxSources)
	}
	if f.MaxSources > c.World.GridSize*c.World.GridSize {
		return fmt.Errorf("world.food.max_sources %d exceeds cell count", f.MaxSources)
	}
	if f.SizeMin <= 0 || f.SizeMax < f.SizeMin {
		return fmt.Errorf("world.food: need 0 < size_min <= size_max, got [%d, %d]", f.SizeMin, f.SizeMax)
	}
	if f.SpawnRate < 0 || f.SpawnRate > 1 {
		return fmt.Errorf("world.food.spawn_rate must be in [0,1], got %v", f.SpawnRate)
	}
	if c.Agents.Count < 1 {
		return fmt.Errorf("agents.count must be >= 1, got %d", c.Agents.Count)
	}
	if c.Agents.EnergyMax <= 0 || c.Agents.EnergyStart <= 0 || c.Agents.EnergyStart > c.Agents.EnergyMax {
		return fmt.Errorf("agents: need 0 < energy_start <= energy_max")
	}
	switch c.Provider.SessionMode {
	case SessionStateless, SessionResumable:
	default:
		return fmt.Errorf("provider.session_mode must be %q or %q, got %q",
			SessionStateless, SessionResumable, c.Provider.SessionMode)
	}
	if c.Provider.Name == "" {
		return fmt.Errorf("provider.name is required")
	}
	if c.Provider.MaxConcurrent < 1 {
		return fmt.Errorf("provider.max_concurrent must be >= 1, got %d", c.Provider.MaxConcurrent)
	}
	if c.Provider.RetryMax < 1 {
		return fmt.Errorf("provider.retry_max must be >= 1, got %d", c.Provider.RetryMax)
	}
	p := c.Perturbation
	if p.Enabled {
		if p.Rate < 0 || p.Rate > 1 {
			return fmt.Errorf("perturbation.rate must be in [0,1], got %v", p.Rate)
		}
		if sumWeights(p.Stores) <= 0 {
			return fmt.Errorf("perturbation.stores weights must sum > 0")
		}
		if sumWeights(p.Transforms) <= 0 {
			return fmt.Errorf("perturbation.transforms weights must sum > 0")
		}
	}
	if c.Metrics.ExtractEvery < 1 {
		return fmt.Errorf("metrics.extract_every must be >= 1, got %d", c.Metrics.ExtractEvery)
	}
	if c.Simulation.SnapshotEvery < 1 {
		return fmt.Errorf("simulation.snapshot_every must be >= 1, got %d", c.Simulation.SnapshotEvery)
	}
	return nil
}

func sumWeights(m map[string]float64) float64 {
	var total float64
	for _, w := range m {
		total += w
	}
	return total
}

// Save writes the resolved config as YAML, preserving a copy alongside
// the run data for replay and audit.
func (c *Config) Save(path string) error {
	b, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
