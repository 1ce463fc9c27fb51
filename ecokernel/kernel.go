package ecokernel

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Kernel is the arbitration core: it owns the agent registry, the pair
// evaluation state, the beta environment, and the event log, and arbitrates
// resource contention between registered agents.
//
// The kernel mutex guards the registry maps and agent fields; each pair
// carries its own lock so evaluations of disjoint pairs run in parallel.
// Pairs governed by the same resource type additionally serialize through
// a per-resource lock, keeping beta reads and provisioning ordered. A pair
// lock is never acquired while the kernel lock is held.
type Kernel struct {
	cfg    KernelConfig
	logger *zap.Logger
	now    func() time.Time

	randMu sync.Mutex
	rng    *rand.Rand

	beta    *BetaEnvironment
	log     *eventLog
	emitter *EventEmitter

	// resourceMu serializes pair evaluation per governing resource.
	// Immutable after construction.
	resourceMu map[ResourceType]*sync.Mutex

	mu          sync.RWMutex
	agents      map[string]*agent
	pairs       map[PairKey]*pairState
	untracked   map[PairKey]bool
	bifurcating map[PairKey]bool
	capScale    map[ResourceType]float64
	evals       []evalRecord
	evalHead    int
	evalSize    int
	ticks       int
}

// evalRecord is one entry of the bounded recent-evaluation ring feeding the
// health means and the omega coupling metrics.
type evalRecord struct {
	key   PairKey
	i     float64
	betaI float64
	class Classification
	at    time.Time
}

// NewKernel constructs a kernel. A nil config uses DefaultKernelConfig;
// zero-valued fields of a non-nil config are filled from the defaults.
func NewKernel(cfg *KernelConfig, opts ...KernelOption) *Kernel {
	resolved := DefaultKernelConfig()
	if cfg != nil {
		resolved = *cfg
	}
	resolved.normalize()

	k := &Kernel{
		cfg:         resolved,
		logger:      zap.NewNop(),
		now:         time.Now,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		agents:      make(map[string]*agent),
		pairs:       make(map[PairKey]*pairState),
		untracked:   make(map[PairKey]bool),
		bifurcating: make(map[PairKey]bool),
		capScale:    make(map[ResourceType]float64),
		resourceMu:  make(map[ResourceType]*sync.Mutex),
	}
	for _, r := range ResourceTypes() {
		k.capScale[r] = 1.0
		k.resourceMu[r] = &sync.Mutex{}
	}
	for _, opt := range opts {
		opt(k)
	}
	if k.beta == nil {
		k.beta = NewBetaEnvironment(resolved.BetaFloor, resolved.BetaCeiling, resolved.BetaOverrides)
	}

	ringCap := resolved.OmegaWindow
	if resolved.RecentWindow > ringCap {
		ringCap = resolved.RecentWindow
	}
	k.evals = make([]evalRecord, ringCap)
	k.log = newEventLog(resolved.EventCapacity)
	k.emitter = NewEventEmitter(resolved.EventBuffer)
	return k
}

// Config returns a copy of the resolved configuration. The override and
// route maps are copied too, so mutating the result never reaches live
// kernel state.
func (k *Kernel) Config() KernelConfig {
	cfg := k.cfg
	cfg.BetaOverrides = copyResourceMap(k.cfg.BetaOverrides)
	cfg.Routes = copyResourceMap(k.cfg.Routes)
	return cfg
}

// Events returns the live event channel. Events are dropped, not queued,
// when the subscriber lags; the bounded log via Recent keeps history.
func (k *Kernel) Events() <-chan KernelEvent {
	return k.emitter.Events()
}

// Recent returns up to n events from the bounded log, newest last.
func (k *Kernel) Recent(n int) []KernelEvent {
	return k.log.recent(n)
}

// Close shuts the event channel down. The kernel's synchronous operations
// remain usable afterwards; emitted events are simply dropped.
func (k *Kernel) Close() {
	k.emitter.Close()
}

// Beta returns the current scarcity coefficient for a resource type.
func (k *Kernel) Beta(resource ResourceType) float64 {
	return k.beta.Get(resource)
}

// BetaValues returns a copy of the full beta environment.
func (k *Kernel) BetaValues() map[ResourceType]float64 {
	return k.beta.Snapshot()
}

// SetBeta is the operator entry point for adjusting scarcity. The written
// value is clamped to the environment bounds and returned.
func (k *Kernel) SetBeta(resource ResourceType, value float64) (float64, error) {
	if !resource.Valid() {
		return 0, &KernelError{Message: "unknown resource type " + string(resource)}
	}
	applied := k.beta.Set(resource, value)
	k.logger.Info("beta updated",
		zap.String("resource", string(resource)),
		zap.Float64("requested", value),
		zap.Float64("applied", applied))
	return applied, nil
}

// CapacityScales reports the per-resource carrying-capacity multipliers
// accumulated by provisioning interventions. Values start at 1 and grow as
// capacity is provisioned.
func (k *Kernel) CapacityScales() map[ResourceType]float64 {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make(map[ResourceType]float64, len(k.capScale))
	for r, s := range k.capScale {
		out[r] = s
	}
	return out
}

// appendEvent stamps, stores, emits, and returns an event.
func (k *Kernel) appendEvent(ev KernelEvent) KernelEvent {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = k.now()
	}
	stored := k.log.append(ev)
	k.emitter.Emit(stored)
	return stored
}

// recordEval pushes one evaluation into the bounded ring.
func (k *Kernel) recordEval(key PairKey, i, betaI float64, class Classification, at time.Time) {
	k.mu.Lock()
	k.evals[k.evalHead] = evalRecord{key: key, i: i, betaI: betaI, class: class, at: at}
	k.evalHead = (k.evalHead + 1) % len(k.evals)
	if k.evalSize < len(k.evals) {
		k.evalSize++
	}
	k.mu.Unlock()
}

// recentEvalsLocked returns up to n most recent evaluation records, newest
// last. Caller holds the kernel lock.
func (k *Kernel) recentEvalsLocked(n int) []evalRecord {
	if n <= 0 || n > k.evalSize {
		n = k.evalSize
	}
	out := make([]evalRecord, 0, n)
	start := k.evalHead - n
	if start < 0 {
		start += len(k.evals)
	}
	for i := 0; i < n; i++ {
		out = append(out, k.evals[(start+i)%len(k.evals)])
	}
	return out
}

// Tick retries pending interventions for pairs still above the threshold
// and periodically records an index snapshot event. Hosts drive it from a
// ticker; the kernel never starts goroutines of its own.
func (k *Kernel) Tick() error {
	now := k.now()

	k.mu.RLock()
	jobs := make([]pairJob, 0, len(k.bifurcating))
	for key := range k.bifurcating {
		p, ok := k.pairs[key]
		if !ok || k.untracked[key] {
			continue
		}
		a, okA := k.agents[key.A]
		b, okB := k.agents[key.B]
		if !okA || !okB || !a.hasSample || !b.hasSample {
			continue
		}
		jobs = append(jobs, pairJob{
			pair: p,
			ctx: evalContext{
				now:      now,
				a:        inputsOf(a),
				b:        inputsOf(b),
				resource: p.resource,
			},
		})
	}
	k.mu.RUnlock()

	var firstErr error
	for _, job := range jobs {
		if err := k.evaluatePair(job.pair, job.ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	k.mu.Lock()
	k.ticks++
	tick := k.ticks
	k.mu.Unlock()

	if tick%k.cfg.SnapshotEvery == 0 {
		idx := k.CooperationIndex()
		k.appendEvent(KernelEvent{
			Kind:        EventIndexSnapshot,
			Index:       &idx,
			Description: fmt.Sprintf("cooperation index %.4f (%s) at tick %d", idx.Value, idx.Status, tick),
		})
	}
	return firstErr
}

// pairSnapshots copies every pair's state. Pair pointers are collected
// under the kernel read lock, then each pair is copied under its own lock.
func (k *Kernel) pairSnapshots() []PairSnapshot {
	k.mu.RLock()
	states := make([]*pairState, 0, len(k.pairs))
	for _, p := range k.pairs {
		states = append(states, p)
	}
	k.mu.RUnlock()

	snaps := make([]PairSnapshot, 0, len(states))
	for _, p := range states {
		p.mu.Lock()
		if !p.removed {
			snaps = append(snaps, PairSnapshot{
				Pair:      p.key,
				Resource:  p.resource,
				IFactor:   p.iFactor,
				Beta:      p.beta,
				BetaI:     p.iFactor * p.beta,
				Status:    p.status,
				Class:     p.class,
				Tracked:   p.tracked,
				Retries:   p.retries,
				UpdatedAt: p.lastEvalAt,
			})
		}
		p.mu.Unlock()
	}
	return snaps
}

// CooperationIndex computes 1 - mean(beta*i) over tracked pairs, clamped to
// [0,1]. With no tracked pairs the index is exactly 1.
func (k *Kernel) CooperationIndex() Index {
	var (
		sum float64
		n   int
	)
	for _, s := range k.pairSnapshots() {
		if !s.Tracked {
			continue
		}
		sum += s.BetaI
		n++
	}

	value := 1.0
	if n > 0 {
		value = 1.0 - sum/float64(n)
		if value < 0 {
			value = 0
		}
		if value > 1 {
			value = 1
		}
	}

	status := IndexCritical
	switch {
	case value >= k.cfg.HealthyIndex:
		status = IndexHealthy
	case value >= k.cfg.DegradedIndex:
		status = IndexDegraded
	}
	return Index{Value: value, Status: status}
}

// ListInteractions returns pair snapshots ordered most recently evaluated
// first. limit <= 0 returns all.
func (k *Kernel) ListInteractions(limit int) []PairSnapshot {
	snaps := k.pairSnapshots()
	sort.Slice(snaps, func(i, j int) bool {
		if !snaps[i].UpdatedAt.Equal(snaps[j].UpdatedAt) {
			return snaps[i].UpdatedAt.After(snaps[j].UpdatedAt)
		}
		return snaps[i].Pair.String() < snaps[j].Pair.String()
	})
	if limit > 0 && len(snaps) > limit {
		snaps = snaps[:limit]
	}
	return snaps
}

// CostMatrix captures the tracked pairwise i-factors as one atomic value
// copy, ordered by pair key. This is the population simulator's coupling
// input.
func (k *Kernel) CostMatrix() []PairCost {
	snaps := k.pairSnapshots()
	out := make([]PairCost, 0, len(snaps))
	for _, s := range snaps {
		if !s.Tracked {
			continue
		}
		out = append(out, PairCost{Pair: s.Pair, IFactor: s.IFactor})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Pair.String() < out[j].Pair.String()
	})
	return out
}

// Health assembles the full ecosystem report: cooperation index, agent and
// pair aggregates, recent-evaluation means, beta environment, omega
// coupling metrics, and the latest events.
func (k *Kernel) Health() HealthSnapshot {
	index := k.CooperationIndex()
	pairs := k.pairSnapshots()

	snap := HealthSnapshot{
		CooperationIndex: index,
		Breakdown:        make(map[Classification]int),
		StatusCounts:     make(map[AgentStatus]int),
		Beta:             k.beta.Snapshot(),
		MeanBeta:         k.beta.Mean(),
		Omega:            k.Omega(),
		RecentEvents:     k.Recent(10),
	}

	for _, p := range pairs {
		if !p.Tracked {
			continue
		}
		snap.TrackedPairs++
		if p.Status == PairBifurcating {
			snap.ActiveBifurcations++
		}
	}

	k.mu.RLock()
	snap.AgentCount = len(k.agents)
	var phiSum, epsSum float64
	for _, a := range k.agents {
		phiSum += a.phi
		epsSum += a.epsilon
		snap.StatusCounts[k.statusOfLocked(a)]++
	}
	if snap.AgentCount > 0 {
		snap.MeanPhi = phiSum / float64(snap.AgentCount)
		snap.MeanEpsilon = epsSum / float64(snap.AgentCount)
	}

	recent := k.recentEvalsLocked(k.cfg.RecentWindow)
	var iSum, biSum float64
	for _, r := range recent {
		iSum += r.i
		biSum += r.betaI
		snap.Breakdown[r.class]++
	}
	if len(recent) > 0 {
		snap.MeanIFactor = iSum / float64(len(recent))
		snap.MeanBetaI = biSum / float64(len(recent))
	}
	k.mu.RUnlock()

	return snap
}
