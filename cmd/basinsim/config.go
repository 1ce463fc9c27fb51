package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/martinemde/basin/ecokernel"
	"github.com/martinemde/basin/popsim"
)

// SimConfig holds the simulation driver configuration. Durations are
// strings in time.ParseDuration form so the file stays readable.
type SimConfig struct {
	Seed int64 `yaml:"seed" json:"seed"`

	// TickInterval paces kernel retry ticks. Samples arrive at a random
	// interval between SampleIntervalMin and SampleIntervalMax.
	TickInterval      string `yaml:"tick_interval" json:"tick_interval"`
	SampleIntervalMin string `yaml:"sample_interval_min" json:"sample_interval_min"`
	SampleIntervalMax string `yaml:"sample_interval_max" json:"sample_interval_max"`

	// HighCostRate is the fraction of samples drawn from the contention
	// regime; OutcomeRate is the fraction of samples followed by a task
	// outcome report.
	HighCostRate float64 `yaml:"high_cost_rate" json:"high_cost_rate"`
	OutcomeRate  float64 `yaml:"outcome_rate" json:"outcome_rate"`

	Kernel KernelSettings `yaml:"kernel" json:"kernel"`
	Agents []AgentSpec    `yaml:"agents" json:"agents"`
	Popsim PopsimSettings `yaml:"popsim" json:"popsim"`
}

// KernelSettings is the YAML surface of ecokernel.KernelConfig. Zero
// values fall through to the kernel defaults.
type KernelSettings struct {
	BifurcationThreshold   float64            `yaml:"bifurcation_threshold" json:"bifurcation_threshold"`
	CooperativeThreshold   float64            `yaml:"cooperative_threshold" json:"cooperative_threshold"`
	MaturityFloor          float64            `yaml:"maturity_floor" json:"maturity_floor"`
	HealthyIndex           float64            `yaml:"healthy_index" json:"healthy_index"`
	DegradedIndex          float64            `yaml:"degraded_index" json:"degraded_index"`
	BetaFloor              float64            `yaml:"beta_floor" json:"beta_floor"`
	BetaCeiling            float64            `yaml:"beta_ceiling" json:"beta_ceiling"`
	BetaStep               float64            `yaml:"beta_step" json:"beta_step"`
	BetaOverrides          map[string]float64 `yaml:"beta_overrides" json:"beta_overrides,omitempty"`
	NudgeGain              float64            `yaml:"nudge_gain" json:"nudge_gain"`
	NudgeSigma             float64            `yaml:"nudge_sigma" json:"nudge_sigma"`
	Routes                 map[string]float64 `yaml:"routes" json:"routes,omitempty"`
	RetryCooldown          string             `yaml:"retry_cooldown" json:"retry_cooldown"`
	MaxInterventionRetries int                `yaml:"max_intervention_retries" json:"max_intervention_retries"`
	SampleWindow           string             `yaml:"sample_window" json:"sample_window"`
	EventCapacity          int                `yaml:"event_capacity" json:"event_capacity"`
	SnapshotEvery          int                `yaml:"snapshot_every" json:"snapshot_every"`
}

// AgentSpec declares one roster agent. The runtime id is the upper-cased
// name plus a short unique suffix.
type AgentSpec struct {
	Name         string   `yaml:"name" json:"name"`
	Resource     string   `yaml:"resource" json:"resource"`
	Domain       string   `yaml:"domain" json:"domain,omitempty"`
	Phi          float64  `yaml:"phi" json:"phi"`
	Epsilon      float64  `yaml:"epsilon" json:"epsilon"`
	Capabilities []string `yaml:"capabilities" json:"capabilities,omitempty"`
}

// PopsimSettings is the YAML surface of popsim.Config.
type PopsimSettings struct {
	Dt                float64 `yaml:"dt" json:"dt"`
	GrowthRate        float64 `yaml:"growth_rate" json:"growth_rate"`
	Capacity          float64 `yaml:"capacity" json:"capacity"`
	InitialPopulation float64 `yaml:"initial_population" json:"initial_population"`
	TickInterval      string  `yaml:"tick_interval" json:"tick_interval"`
}

// DefaultSimConfig returns a self-contained demo configuration: seven
// agents spread over the four resource types with enough cost pressure to
// exercise every intervention mechanism.
func DefaultSimConfig() *SimConfig {
	return &SimConfig{
		Seed:              42,
		TickInterval:      "2s",
		SampleIntervalMin: "1500ms",
		SampleIntervalMax: "3500ms",
		HighCostRate:      0.12,
		OutcomeRate:       0.30,
		Kernel: KernelSettings{
			Routes: map[string]float64{
				"network": 0.6,
			},
		},
		Agents: []AgentSpec{
			{Name: "scout", Resource: "network", Domain: "discovery", Phi: 0.70, Epsilon: 3.0},
			{Name: "relay", Resource: "network", Domain: "transport", Phi: 0.55, Epsilon: 4.0},
			{Name: "planner", Resource: "token", Domain: "reasoning", Phi: 0.80, Epsilon: 2.0},
			{Name: "drafter", Resource: "token", Domain: "generation", Phi: 0.45, Epsilon: 5.0},
			{Name: "builder", Resource: "compute", Domain: "execution", Phi: 0.65, Epsilon: 3.0},
			{Name: "prover", Resource: "compute", Domain: "verification", Phi: 0.50, Epsilon: 4.0},
			{Name: "auditor", Resource: "quota", Domain: "governance", Phi: 0.75, Epsilon: 2.0},
		},
		Popsim: PopsimSettings{
			TickInterval: "1s",
		},
	}
}

// loadSimConfig loads the configuration, layering the file over the
// defaults. An empty path or a missing file returns the defaults.
func loadSimConfig(path string) (*SimConfig, error) {
	cfg := DefaultSimConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *SimConfig) validate() error {
	for _, field := range []struct {
		name, value string
	}{
		{"tick_interval", c.TickInterval},
		{"sample_interval_min", c.SampleIntervalMin},
		{"sample_interval_max", c.SampleIntervalMax},
	} {
		if field.value == "" {
			continue
		}
		if _, err := time.ParseDuration(field.value); err != nil {
			return fmt.Errorf("invalid %s: %w", field.name, err)
		}
	}
	if min, max := c.sampleBounds(); max < min {
		return fmt.Errorf("sample_interval_max %s is below sample_interval_min %s", c.SampleIntervalMax, c.SampleIntervalMin)
	}
	if c.HighCostRate < 0 || c.HighCostRate > 1 {
		return fmt.Errorf("high_cost_rate %.2f outside [0,1]", c.HighCostRate)
	}
	if c.OutcomeRate < 0 || c.OutcomeRate > 1 {
		return fmt.Errorf("outcome_rate %.2f outside [0,1]", c.OutcomeRate)
	}
	for _, spec := range c.Agents {
		if spec.Name == "" {
			return fmt.Errorf("agent with empty name")
		}
		if !ecokernel.ResourceType(spec.Resource).Valid() {
			return fmt.Errorf("agent %s: unknown resource type %q", spec.Name, spec.Resource)
		}
	}
	return nil
}

func (c *SimConfig) tickInterval() time.Duration {
	d, err := time.ParseDuration(c.TickInterval)
	if err != nil || d <= 0 {
		return 2 * time.Second
	}
	return d
}

func (c *SimConfig) sampleBounds() (min, max time.Duration) {
	min, err := time.ParseDuration(c.SampleIntervalMin)
	if err != nil || min <= 0 {
		min = 1500 * time.Millisecond
	}
	max, err = time.ParseDuration(c.SampleIntervalMax)
	if err != nil || max <= 0 {
		max = 3500 * time.Millisecond
	}
	return min, max
}

// toKernelConfig converts the YAML settings to the kernel's configuration,
// validating resource names and durations.
func (s KernelSettings) toKernelConfig() (ecokernel.KernelConfig, error) {
	cfg := ecokernel.KernelConfig{
		BifurcationThreshold:   s.BifurcationThreshold,
		CooperativeThreshold:   s.CooperativeThreshold,
		MaturityFloor:          s.MaturityFloor,
		HealthyIndex:           s.HealthyIndex,
		DegradedIndex:          s.DegradedIndex,
		BetaFloor:              s.BetaFloor,
		BetaCeiling:            s.BetaCeiling,
		BetaStep:               s.BetaStep,
		NudgeGain:              s.NudgeGain,
		NudgeSigma:             s.NudgeSigma,
		MaxInterventionRetries: s.MaxInterventionRetries,
		EventCapacity:          s.EventCapacity,
		SnapshotEvery:          s.SnapshotEvery,
	}

	var err error
	if cfg.BetaOverrides, err = resourceMap(s.BetaOverrides, "beta_overrides"); err != nil {
		return cfg, err
	}
	if cfg.Routes, err = resourceMap(s.Routes, "routes"); err != nil {
		return cfg, err
	}
	if s.RetryCooldown != "" {
		if cfg.RetryCooldown, err = time.ParseDuration(s.RetryCooldown); err != nil {
			return cfg, fmt.Errorf("invalid retry_cooldown: %w", err)
		}
	}
	if s.SampleWindow != "" {
		if cfg.SampleWindow, err = time.ParseDuration(s.SampleWindow); err != nil {
			return cfg, fmt.Errorf("invalid sample_window: %w", err)
		}
	}
	return cfg, nil
}

func resourceMap(in map[string]float64, field string) (map[ecokernel.ResourceType]float64, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make(map[ecokernel.ResourceType]float64, len(in))
	for name, value := range in {
		r := ecokernel.ResourceType(name)
		if !r.Valid() {
			return nil, fmt.Errorf("unknown resource type %q in %s", name, field)
		}
		out[r] = value
	}
	return out, nil
}

// toPopsimConfig converts the YAML settings to the simulator's
// configuration.
func (s PopsimSettings) toPopsimConfig() (popsim.Config, error) {
	cfg := popsim.Config{
		Dt:                s.Dt,
		GrowthRate:        s.GrowthRate,
		Capacity:          s.Capacity,
		InitialPopulation: s.InitialPopulation,
	}
	if s.TickInterval != "" {
		d, err := time.ParseDuration(s.TickInterval)
		if err != nil {
			return cfg, fmt.Errorf("invalid popsim tick_interval: %w", err)
		}
		cfg.TickInterval = d
	}
	return cfg, nil
}
