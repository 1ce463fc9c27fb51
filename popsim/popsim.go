package popsim

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/martinemde/basin/ecokernel"
)

// Source supplies the simulator's per-tick inputs: the live agent roster,
// the tracked pairwise interference matrix, and the per-resource capacity
// scales accumulated by provisioning. *ecokernel.Kernel satisfies it.
type Source interface {
	ListAgents() []ecokernel.AgentSnapshot
	CostMatrix() []ecokernel.PairCost
	CapacityScales() map[ecokernel.ResourceType]float64
}

// Config holds the population dynamics parameters. Zero values are filled
// from DefaultConfig at construction.
type Config struct {
	// Dt is the discrete integration step.
	Dt float64 `json:"dt"`
	// GrowthRate is the default per-agent intrinsic growth rate r.
	GrowthRate float64 `json:"growth_rate"`
	// Capacity is the default per-agent carrying capacity K before the
	// kernel's capacity scales apply.
	Capacity float64 `json:"capacity"`
	// InitialPopulation seeds agents that appear in the roster for the
	// first time.
	InitialPopulation float64 `json:"initial_population"`
	// TickInterval paces Run.
	TickInterval time.Duration `json:"tick_interval"`

	// Coupling converts interference factors to competition coefficients.
	// Defaults to IdentityCoupling.
	Coupling Coupling `json:"-"`

	// Growth and Capacities override the defaults per agent id.
	Growth     map[string]float64 `json:"growth,omitempty"`
	Capacities map[string]float64 `json:"capacities,omitempty"`
}

// DefaultConfig returns the default simulation parameters.
func DefaultConfig() Config {
	return Config{
		Dt:                1.0,
		GrowthRate:        0.15,
		Capacity:          100,
		InitialPopulation: 10,
		TickInterval:      time.Second,
		Coupling:          IdentityCoupling,
	}
}

func (c *Config) normalize() {
	def := DefaultConfig()
	if c.Dt <= 0 {
		c.Dt = def.Dt
	}
	if c.GrowthRate <= 0 {
		c.GrowthRate = def.GrowthRate
	}
	if c.Capacity <= 0 {
		c.Capacity = def.Capacity
	}
	if c.InitialPopulation <= 0 {
		c.InitialPopulation = def.InitialPopulation
	}
	if c.TickInterval <= 0 {
		c.TickInterval = def.TickInterval
	}
	if c.Coupling == nil {
		c.Coupling = def.Coupling
	}
}

// Option customizes a Simulator.
type Option func(*Simulator)

// WithLogger sets the structured logger. The default is a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Simulator) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Simulator integrates discrete Lotka-Volterra dynamics over the kernel's
// cost matrix:
//
//	N_i(t+1) = N_i + r_i * N_i * (1 - sum_j(alpha_ij * N_j) / K_i) * dt
//
// with alpha_ii = 1 and alpha_ij derived from the pair's interference
// factor. Populations are clamped at zero; an extinct population stays
// extinct until its agent is re-registered.
type Simulator struct {
	mu     sync.Mutex
	cfg    Config
	src    Source
	logger *zap.Logger
	pops   map[string]float64
	caps   map[string]float64
	ticks  int
}

// New constructs a simulator over a source. A nil config uses
// DefaultConfig; zero-valued fields are filled from the defaults.
func New(src Source, cfg *Config, opts ...Option) *Simulator {
	resolved := DefaultConfig()
	if cfg != nil {
		resolved = *cfg
	}
	resolved.normalize()

	s := &Simulator{
		cfg:    resolved,
		src:    src,
		logger: zap.NewNop(),
		pops:   make(map[string]float64),
		caps:   make(map[string]float64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Simulator) growthFor(id string) float64 {
	if r, ok := s.cfg.Growth[id]; ok && r > 0 {
		return r
	}
	return s.cfg.GrowthRate
}

func (s *Simulator) capacityFor(id string) float64 {
	if k, ok := s.cfg.Capacities[id]; ok && k > 0 {
		return k
	}
	return s.cfg.Capacity
}

// Step advances the simulation one tick against an atomically captured
// kernel snapshot and returns a copy of the new population vector. Agents
// new to the roster are seeded at the initial population; deregistered
// agents are dropped.
func (s *Simulator) Step() map[string]float64 {
	agents := s.src.ListAgents()
	matrix := s.src.CostMatrix()
	scales := s.src.CapacityScales()

	s.mu.Lock()
	defer s.mu.Unlock()

	live := make(map[string]ecokernel.AgentSnapshot, len(agents))
	for _, a := range agents {
		live[a.ID] = a
		if _, ok := s.pops[a.ID]; !ok {
			s.pops[a.ID] = s.cfg.InitialPopulation
		}
	}
	for id := range s.pops {
		if _, ok := live[id]; !ok {
			delete(s.pops, id)
			delete(s.caps, id)
		}
	}

	alpha := make(map[ecokernel.PairKey]float64, len(matrix))
	for _, pc := range matrix {
		alpha[pc.Pair] = s.cfg.Coupling(pc.IFactor)
	}

	// The whole tick reads the previous vector so update order is
	// irrelevant.
	prev := make(map[string]float64, len(s.pops))
	for id, n := range s.pops {
		prev[id] = n
	}

	for id, n := range prev {
		capacity := s.capacityFor(id)
		if scale, ok := scales[live[id].Resource]; ok && scale > 0 {
			capacity *= scale
		}
		s.caps[id] = capacity
		if capacity <= 0 {
			s.pops[id] = 0
			continue
		}

		pressure := n // alpha_ii = 1
		for other, m := range prev {
			if other == id {
				continue
			}
			if coeff, ok := alpha[ecokernel.NewPairKey(id, other)]; ok {
				pressure += coeff * m
			}
		}

		next := n + s.growthFor(id)*n*(1-pressure/capacity)*s.cfg.Dt
		if next < 0 {
			next = 0
		}
		s.pops[id] = next
	}
	s.ticks++

	out := make(map[string]float64, len(s.pops))
	for id, n := range s.pops {
		out[id] = n
	}
	s.logger.Debug("population step", zap.Int("tick", s.ticks), zap.Int("agents", len(out)))
	return out
}

// Run steps the simulation on the configured interval until the context is
// canceled, then returns the context's error.
func (s *Simulator) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Step()
		}
	}
}

// Populations returns a copy of the current population vector.
func (s *Simulator) Populations() map[string]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]float64, len(s.pops))
	for id, n := range s.pops {
		out[id] = n
	}
	return out
}

// Population returns one agent's population and whether it is tracked.
func (s *Simulator) Population(id string) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.pops[id]
	return n, ok
}

// Capacities returns a copy of the effective carrying capacities used on
// the latest step, after provisioning scales.
func (s *Simulator) Capacities() map[string]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]float64, len(s.caps))
	for id, c := range s.caps {
		out[id] = c
	}
	return out
}

// Ticks returns how many steps have run.
func (s *Simulator) Ticks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ticks
}
