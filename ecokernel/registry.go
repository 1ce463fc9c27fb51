package ecokernel

import (
	"time"

	"go.uber.org/zap"
)

// agent is the registry's internal record. All fields are guarded by the
// kernel mutex; external callers only ever see AgentSnapshot copies.
type agent struct {
	id           string
	name         string
	domain       string
	resource     ResourceType
	phi          float64
	epsilon      float64
	capabilities []string

	totalCost    float64
	totalBenefit float64
	curCost      float64
	curBenefit   float64
	hasSample    bool

	taskCount   int
	successRate float64

	// bifurcating records whether the most recent pair evaluation
	// involving this agent crossed the threshold.
	bifurcating bool

	createdAt    time.Time
	lastSampleAt time.Time
}

// AgentOption customizes a registration beyond id and resource type.
type AgentOption func(*agent)

// WithName attaches a human-readable name to the agent.
func WithName(name string) AgentOption {
	return func(a *agent) { a.name = name }
}

// WithDomain tags the agent with its working domain.
func WithDomain(domain string) AgentOption {
	return func(a *agent) { a.domain = domain }
}

// WithPhi sets the initial maturity, clamped to [0,1].
func WithPhi(phi float64) AgentOption {
	return func(a *agent) { a.phi = clamp01(phi) }
}

// WithEpsilon sets the adaptive plasticity, clamped to [0,8].
func WithEpsilon(epsilon float64) AgentOption {
	return func(a *agent) {
		if epsilon < 0 {
			epsilon = 0
		}
		if epsilon > 8 {
			epsilon = 8
		}
		a.epsilon = epsilon
	}
}

// WithCapabilities lists the agent's capabilities for reporting.
func WithCapabilities(caps ...string) AgentOption {
	return func(a *agent) { a.capabilities = append([]string(nil), caps...) }
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Register adds an agent to the registry. It fails with DuplicateAgentError
// if the id is already registered and with a validation error if the
// resource type is unknown.
func (k *Kernel) Register(id string, resource ResourceType, opts ...AgentOption) (AgentSnapshot, error) {
	if !resource.Valid() {
		return AgentSnapshot{}, &KernelError{Message: "unknown resource type " + string(resource)}
	}
	now := k.now()

	a := &agent{
		id:        id,
		resource:  resource,
		phi:       0.5,
		epsilon:   3.0,
		createdAt: now,
	}
	for _, opt := range opts {
		opt(a)
	}

	k.mu.Lock()
	if _, exists := k.agents[id]; exists {
		k.mu.Unlock()
		return AgentSnapshot{}, duplicateAgent(id)
	}
	k.agents[id] = a
	snap := k.snapshotAgentLocked(a)
	k.mu.Unlock()

	k.appendEvent(KernelEvent{
		Kind:        EventAgentRegistered,
		AgentID:     id,
		Description: "agent " + id + " registered for " + string(resource),
	})
	k.logger.Info("agent registered",
		zap.String("agent", id),
		zap.String("resource", string(resource)),
		zap.Float64("phi", a.phi))
	return snap, nil
}

// Deregister removes an agent and every PairState referencing it from
// future recomputation. Events already appended stay in the log.
func (k *Kernel) Deregister(id string) error {
	k.mu.Lock()
	if _, exists := k.agents[id]; !exists {
		k.mu.Unlock()
		return unknownAgent(id)
	}
	delete(k.agents, id)

	var removed []*pairState
	for key, p := range k.pairs {
		if key.Has(id) {
			removed = append(removed, p)
			delete(k.pairs, key)
			delete(k.untracked, key)
			delete(k.bifurcating, key)
		}
	}
	k.mu.Unlock()

	// Mark outside the kernel lock; pair locks are never taken under it.
	for _, p := range removed {
		p.mu.Lock()
		p.removed = true
		p.mu.Unlock()
	}

	k.appendEvent(KernelEvent{
		Kind:        EventAgentDeregistered,
		AgentID:     id,
		Description: "agent " + id + " deregistered",
	})
	k.logger.Info("agent deregistered", zap.String("agent", id), zap.Int("pairs_removed", len(removed)))
	return nil
}

// Agent returns a snapshot of a single agent.
func (k *Kernel) Agent(id string) (AgentSnapshot, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	a, ok := k.agents[id]
	if !ok {
		return AgentSnapshot{}, unknownAgent(id)
	}
	return k.snapshotAgentLocked(a), nil
}

// ListAgents returns snapshots of all registered agents in stable order by
// id.
func (k *Kernel) ListAgents() []AgentSnapshot {
	k.mu.RLock()
	snaps := make([]AgentSnapshot, 0, len(k.agents))
	for _, a := range k.agents {
		snaps = append(snaps, k.snapshotAgentLocked(a))
	}
	k.mu.RUnlock()
	sortAgentSnapshots(snaps)
	return snaps
}

// ReportSample ingests one (cost, benefit) observation for an agent. The
// sample lands in the cumulative accumulators and overwrites the agent's
// current-window values, then every tracked pair involving the agent and
// another in-window agent is re-evaluated. Negative inputs are rejected
// before any mutation.
func (k *Kernel) ReportSample(id string, cost, benefit float64) error {
	now := k.now()

	k.mu.Lock()
	a, ok := k.agents[id]
	if !ok {
		k.mu.Unlock()
		return unknownAgent(id)
	}
	if cost < 0 || benefit < 0 {
		k.mu.Unlock()
		return invalidSample(id, cost, benefit)
	}

	a.totalCost += cost
	a.totalBenefit += benefit
	a.curCost = cost
	a.curBenefit = benefit
	a.hasSample = true
	a.lastSampleAt = now

	// Snapshot evaluation inputs for every eligible partner while the
	// registry is consistent; evaluation itself runs under pair locks only.
	var jobs []pairJob
	for pid, partner := range k.agents {
		if pid == id || !partner.hasSample || !k.inWindowLocked(partner, now) {
			continue
		}
		key := NewPairKey(id, pid)
		if k.untracked[key] {
			continue
		}
		p, exists := k.pairs[key]
		if !exists {
			p = newPairState(key, k.governingResource(a.resource, partner.resource))
			k.pairs[key] = p
		}
		jobs = append(jobs, pairJob{
			pair: p,
			ctx: evalContext{
				now:      now,
				a:        inputsOf(a),
				b:        inputsOf(partner),
				resource: p.resource,
			},
		})
	}
	k.mu.Unlock()

	var firstErr error
	for _, job := range jobs {
		if err := k.evaluatePair(job.pair, job.ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// RecordOutcome folds a task outcome quality in [0,1] into the agent's
// maturity and success statistics. Maturity moves by epsilon*0.01*(q-0.5),
// floored at zero so outcomes never lower phi; only UpdateMaturity can.
func (k *Kernel) RecordOutcome(id string, quality float64) error {
	quality = clamp01(quality)

	k.mu.Lock()
	defer k.mu.Unlock()
	a, ok := k.agents[id]
	if !ok {
		return unknownAgent(id)
	}

	delta := a.epsilon * 0.01 * (quality - 0.5)
	if delta > 0 {
		a.phi = clamp01(a.phi + delta)
	}
	a.taskCount++
	a.successRate = (a.successRate*float64(a.taskCount-1) + quality) / float64(a.taskCount)
	return nil
}

// UpdateMaturity applies an explicit signed maturity adjustment, clamped to
// [0,1]. This is the only path that may lower phi.
func (k *Kernel) UpdateMaturity(id string, delta float64) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	a, ok := k.agents[id]
	if !ok {
		return unknownAgent(id)
	}
	a.phi = clamp01(a.phi + delta)
	return nil
}

// statusOfLocked derives the status from maturity and the latest pair
// evaluation. MATURING takes precedence over THRESHOLD.
func (k *Kernel) statusOfLocked(a *agent) AgentStatus {
	switch {
	case a.phi < k.cfg.MaturityFloor:
		return AgentMaturing
	case a.bifurcating:
		return AgentThreshold
	default:
		return AgentActive
	}
}

func (k *Kernel) snapshotAgentLocked(a *agent) AgentSnapshot {
	return AgentSnapshot{
		ID:             a.id,
		Name:           a.name,
		Domain:         a.domain,
		Resource:       a.resource,
		Phi:            a.phi,
		Epsilon:        a.epsilon,
		Status:         k.statusOfLocked(a),
		MaturityLabel:  MaturityLabelFor(a.phi),
		Capabilities:   append([]string(nil), a.capabilities...),
		TotalCost:      a.totalCost,
		TotalBenefit:   a.totalBenefit,
		CurrentCost:    a.curCost,
		CurrentBenefit: a.curBenefit,
		TaskCount:      a.taskCount,
		SuccessRate:    a.successRate,
		CreatedAt:      a.createdAt,
		LastSampleAt:   a.lastSampleAt,
	}
}

// inWindowLocked reports whether an agent's latest sample is still inside
// the evaluation window. A zero window never expires.
func (k *Kernel) inWindowLocked(a *agent, now time.Time) bool {
	if k.cfg.SampleWindow <= 0 {
		return true
	}
	return now.Sub(a.lastSampleAt) <= k.cfg.SampleWindow
}

// governingResource picks the resource type whose beta scales a pair's
// cost: the shared type when both members match, otherwise the scarcer
// (higher beta) of the two at derivation time. Ties break toward the
// lexicographically smaller name so the choice is deterministic. Pair
// creation and agent substitution both derive through here.
func (k *Kernel) governingResource(x, y ResourceType) ResourceType {
	if x == y {
		return x
	}
	bx, by := k.beta.Get(x), k.beta.Get(y)
	if bx > by {
		return x
	}
	if by > bx {
		return y
	}
	if x < y {
		return x
	}
	return y
}
