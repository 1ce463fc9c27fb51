package ecokernel

import (
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// KernelConfig holds the tunables of a kernel instance. Zero values are
// replaced by the corresponding DefaultKernelConfig values at construction,
// so a partially filled struct is safe.
type KernelConfig struct {
	// BifurcationThreshold is the beta*i value at and above which a pair
	// bifurcates.
	BifurcationThreshold float64 `json:"bifurcation_threshold"`
	// CooperativeThreshold is the upper bound of the cooperative reporting
	// band; between it and BifurcationThreshold lies the threshold zone.
	CooperativeThreshold float64 `json:"cooperative_threshold"`
	// MaturityFloor is the phi below which an agent reports MATURING.
	MaturityFloor float64 `json:"maturity_floor"`
	// HealthyIndex and DegradedIndex classify the cooperation index:
	// HEALTHY at or above HealthyIndex, CRITICAL below DegradedIndex.
	HealthyIndex  float64 `json:"healthy_index"`
	DegradedIndex float64 `json:"degraded_index"`

	// BetaFloor and BetaCeiling bound every beta write.
	BetaFloor   float64 `json:"beta_floor"`
	BetaCeiling float64 `json:"beta_ceiling"`
	// BetaStep is the multiplier (< 1) applied by the provisioning
	// intervention.
	BetaStep float64 `json:"beta_step"`
	// BetaOverrides replaces default beta values per resource type.
	BetaOverrides map[ResourceType]float64 `json:"beta_overrides,omitempty"`

	// NudgeGain is the fixed fraction added to the yielded benefit term;
	// NudgeSigma is the standard deviation of the stochastic component.
	NudgeGain  float64 `json:"nudge_gain"`
	NudgeSigma float64 `json:"nudge_sigma"`

	// Routes maps a resource type to an alternate-route cost multiplier.
	// An entry < 1 means a cheaper route exists for that task class.
	Routes map[ResourceType]float64 `json:"routes,omitempty"`

	// RetryCooldown rate-limits interventions per pair: an unresolved
	// bifurcation is retried no more than once per cooldown.
	RetryCooldown time.Duration `json:"retry_cooldown"`
	// MaxInterventionRetries bounds interventions per bifurcation episode.
	// 0 means unlimited.
	MaxInterventionRetries int `json:"max_intervention_retries"`

	// SampleWindow is how long a reported sample keeps an agent eligible
	// for pair evaluation. 0 means samples never expire; the newest sample
	// always overwrites the current one.
	SampleWindow time.Duration `json:"sample_window"`

	// EventCapacity sizes the bounded event ring; EventBuffer sizes the
	// live subscription channel.
	EventCapacity int `json:"event_capacity"`
	EventBuffer   int `json:"event_buffer"`
	// SnapshotEvery appends an index snapshot event every n-th Tick.
	SnapshotEvery int `json:"snapshot_every"`

	// RecentWindow is the number of recent evaluations feeding the health
	// means; OmegaWindow feeds the coupling metrics.
	RecentWindow int `json:"recent_window"`
	OmegaWindow  int `json:"omega_window"`
}

// DefaultKernelConfig returns the default configuration.
func DefaultKernelConfig() KernelConfig {
	return KernelConfig{
		BifurcationThreshold: 1.0,
		CooperativeThreshold: 0.70,
		MaturityFloor:        0.6,
		HealthyIndex:         0.75,
		DegradedIndex:        0.50,
		BetaFloor:            0.1,
		BetaCeiling:          3.0,
		BetaStep:             0.85,
		NudgeGain:            0.08,
		NudgeSigma:           0.05,
		RetryCooldown:        5 * time.Second,
		SampleWindow:         0,
		EventCapacity:        256,
		EventBuffer:          64,
		SnapshotEvery:        10,
		RecentWindow:         50,
		OmegaWindow:          100,
	}
}

// normalize fills zero-valued fields from the defaults.
func (c *KernelConfig) normalize() {
	def := DefaultKernelConfig()
	if c.BifurcationThreshold <= 0 {
		c.BifurcationThreshold = def.BifurcationThreshold
	}
	if c.CooperativeThreshold <= 0 {
		c.CooperativeThreshold = def.CooperativeThreshold
	}
	if c.MaturityFloor <= 0 {
		c.MaturityFloor = def.MaturityFloor
	}
	if c.HealthyIndex <= 0 {
		c.HealthyIndex = def.HealthyIndex
	}
	if c.DegradedIndex <= 0 {
		c.DegradedIndex = def.DegradedIndex
	}
	if c.BetaFloor <= 0 {
		c.BetaFloor = def.BetaFloor
	}
	if c.BetaCeiling <= c.BetaFloor {
		c.BetaCeiling = def.BetaCeiling
	}
	if c.BetaStep <= 0 || c.BetaStep >= 1 {
		c.BetaStep = def.BetaStep
	}
	if c.NudgeGain <= 0 {
		c.NudgeGain = def.NudgeGain
	}
	if c.NudgeSigma < 0 {
		c.NudgeSigma = def.NudgeSigma
	}
	if c.RetryCooldown <= 0 {
		c.RetryCooldown = def.RetryCooldown
	}
	if c.EventCapacity <= 0 {
		c.EventCapacity = def.EventCapacity
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = def.EventBuffer
	}
	if c.SnapshotEvery <= 0 {
		c.SnapshotEvery = def.SnapshotEvery
	}
	if c.RecentWindow <= 0 {
		c.RecentWindow = def.RecentWindow
	}
	if c.OmegaWindow <= 0 {
		c.OmegaWindow = def.OmegaWindow
	}
}

// copyResourceMap clones a per-resource rate map, preserving nil.
func copyResourceMap(m map[ResourceType]float64) map[ResourceType]float64 {
	if m == nil {
		return nil
	}
	out := make(map[ResourceType]float64, len(m))
	for r, v := range m {
		out[r] = v
	}
	return out
}

// KernelOption customizes cross-cutting kernel dependencies.
type KernelOption func(*Kernel)

// WithLogger sets the structured logger. The default is a no-op logger so
// library use is silent.
func WithLogger(logger *zap.Logger) KernelOption {
	return func(k *Kernel) {
		if logger != nil {
			k.logger = logger
		}
	}
}

// WithClock injects the time source used for cooldowns, windows, and event
// timestamps.
func WithClock(now func() time.Time) KernelOption {
	return func(k *Kernel) {
		if now != nil {
			k.now = now
		}
	}
}

// WithRand injects the random source for the nudge perturbation, making
// intervention outcomes reproducible under a fixed seed.
func WithRand(rng *rand.Rand) KernelOption {
	return func(k *Kernel) {
		if rng != nil {
			k.rng = rng
		}
	}
}

// WithBetaEnvironment replaces the kernel-built beta environment with an
// externally constructed one.
func WithBetaEnvironment(env *BetaEnvironment) KernelOption {
	return func(k *Kernel) {
		if env != nil {
			k.beta = env
		}
	}
}
