package ecokernel

import "sync"

// Default per-resource scarcity scalars. >1 scarce, <1 abundant.
var DefaultBetaValues = map[ResourceType]float64{
	ResourceNetwork: 0.9,
	ResourceToken:   1.1,
	ResourceCompute: 1.0,
	ResourceQuota:   1.2,
}

// BetaEnvironment holds the per-resource-type scarcity scalars read by every
// cost evaluation. It is owned by a kernel instance, never a process global,
// so independent kernels can carry independent environments. All values stay
// inside [floor, ceiling]; the floor keeps beta strictly positive.
type BetaEnvironment struct {
	mu     sync.RWMutex
	values map[ResourceType]float64
	floor  float64
	ceil   float64
}

// NewBetaEnvironment builds an environment from the default values with the
// given overrides applied. Floor and ceiling bound every subsequent write.
func NewBetaEnvironment(floor, ceil float64, overrides map[ResourceType]float64) *BetaEnvironment {
	if floor <= 0 {
		floor = 0.1
	}
	if ceil <= floor {
		ceil = 3.0
	}
	b := &BetaEnvironment{
		values: make(map[ResourceType]float64, len(DefaultBetaValues)),
		floor:  floor,
		ceil:   ceil,
	}
	for r, v := range DefaultBetaValues {
		b.values[r] = b.clamp(v)
	}
	for r, v := range overrides {
		b.values[r] = b.clamp(v)
	}
	return b
}

func (b *BetaEnvironment) clamp(v float64) float64 {
	if v < b.floor {
		return b.floor
	}
	if v > b.ceil {
		return b.ceil
	}
	return v
}

// Get returns the scalar for a resource type. Unknown types read as 1.0,
// the neutral suitability.
func (b *BetaEnvironment) Get(r ResourceType) float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if v, ok := b.values[r]; ok {
		return v
	}
	return 1.0
}

// Set writes a scalar for a resource type, clamped to [floor, ceiling], and
// returns the applied value. This is the operator provisioning entry point.
func (b *BetaEnvironment) Set(r ResourceType, v float64) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	applied := b.clamp(v)
	b.values[r] = applied
	return applied
}

// Floor returns the configured lower bound.
func (b *BetaEnvironment) Floor() float64 { return b.floor }

// provision applies the provisioning intervention: beta is multiplied by
// step (< 1) and never drops below the floor. It reports the old and new
// values and whether any reduction was possible.
func (b *BetaEnvironment) provision(r ResourceType, step float64) (old, applied float64, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	old, exists := b.values[r]
	if !exists {
		old = 1.0
	}
	if old <= b.floor {
		return old, old, false
	}
	applied = old * step
	if applied < b.floor {
		applied = b.floor
	}
	b.values[r] = applied
	return old, applied, true
}

// Mean returns the average scalar across all known resource types.
func (b *BetaEnvironment) Mean() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.values) == 0 {
		return 1.0
	}
	sum := 0.0
	for _, v := range b.values {
		sum += v
	}
	return sum / float64(len(b.values))
}

// Snapshot returns a value copy of the environment.
func (b *BetaEnvironment) Snapshot() map[ResourceType]float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[ResourceType]float64, len(b.values))
	for r, v := range b.values {
		out[r] = v
	}
	return out
}
