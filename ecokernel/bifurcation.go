package ecokernel

import (
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
)

// pairState carries the evaluation state for one unordered agent pair. Its
// own mutex serializes evaluation and intervention; pairs on different
// resources proceed in parallel, while pairs governed by the same resource
// serialize through the kernel's per-resource lock. Lock order: resource
// lock, then pair lock; the kernel lock may be taken under both but a pair
// lock is never acquired while holding it.
type pairState struct {
	mu sync.Mutex

	key      PairKey
	resource ResourceType // fixed at creation

	iFactor float64
	beta    float64
	status  PairStatus
	class   Classification
	tracked bool
	removed bool
	retries int

	lastEvalAt       time.Time
	lastIntervention time.Time
}

func newPairState(key PairKey, resource ResourceType) *pairState {
	return &pairState{
		key:      key,
		resource: resource,
		status:   PairCooperative,
		class:    ClassCooperative,
		tracked:  true,
	}
}

// agentInputs is the per-member slice of registry state a pair evaluation
// consumes. Snapshotting it up front keeps evaluation off the kernel lock.
type agentInputs struct {
	id       string
	resource ResourceType
	cost     float64
	benefit  float64
	phi      float64
	epsilon  float64
}

func inputsOf(a *agent) agentInputs {
	return agentInputs{
		id:       a.id,
		resource: a.resource,
		cost:     a.curCost,
		benefit:  a.curBenefit,
		phi:      a.phi,
		epsilon:  a.epsilon,
	}
}

type evalContext struct {
	now      time.Time
	a, b     agentInputs
	resource ResourceType
}

func (c *evalContext) iFactor() float64 {
	return ComputeIFactor(c.a.cost, c.a.benefit, c.a.phi, c.b.cost, c.b.benefit, c.b.phi)
}

// higher returns pointers to the pair's higher and lower cost/benefit
// members under the maturity-weighted ratio.
func (c *evalContext) higher() (hi, lo *agentInputs) {
	ra := costBenefitRatio(c.a.cost, c.a.benefit, c.a.phi)
	rb := costBenefitRatio(c.b.cost, c.b.benefit, c.b.phi)
	if rb > ra {
		return &c.b, &c.a
	}
	return &c.a, &c.b
}

type pairJob struct {
	pair *pairState
	ctx  evalContext
}

// interventionResult is what an applied mechanism reports back: the
// projected post-intervention load, whether the pair resolved, and an
// optional follow-up to run once the pair lock is released.
type interventionResult struct {
	kind     InterventionKind
	desc     string
	postBI   float64
	resolved bool
	followUp func()
}

// evaluatePair recomputes one pair from fresh inputs and, when the scaled
// load crosses the threshold, drives the intervention sequence. It is the
// only writer of pair evaluation state.
func (k *Kernel) evaluatePair(p *pairState, ctx evalContext) error {
	var followUp func()

	// Same-resource evaluations serialize here so the beta read below and
	// any provisioning form one sequence; a second pair contending on this
	// resource sees the adjusted beta, not the one this pair acted on.
	seq := k.resourceMu[p.resource]
	seq.Lock()
	err := func() error {
		p.mu.Lock()
		defer p.mu.Unlock()

		if p.removed || !p.tracked {
			return nil
		}

		prevStatus := p.status
		prevBI := p.iFactor * p.beta

		i := ctx.iFactor()
		beta := k.beta.Get(p.resource)
		bi := i * beta

		p.iFactor = i
		p.beta = beta
		p.class = ClassifyBetaI(bi, k.cfg.CooperativeThreshold, k.cfg.BifurcationThreshold)
		p.lastEvalAt = ctx.now

		k.recordEval(p.key, i, bi, p.class, ctx.now)

		if bi < k.cfg.BifurcationThreshold {
			p.status = PairCooperative
			p.retries = 0
			p.lastIntervention = time.Time{}
			k.setBifurcating(p.key, false)
			if prevStatus == PairBifurcating {
				k.appendEvent(KernelEvent{
					Kind:        EventResolution,
					Pair:        &p.key,
					BetaIPre:    prevBI,
					BetaIPost:   bi,
					Resolved:    true,
					Description: fmt.Sprintf("pair %s back under threshold at %.3f", p.key, bi),
				})
			}
			return nil
		}

		p.status = PairBifurcating
		k.setBifurcating(p.key, true)
		if prevStatus != PairBifurcating {
			k.appendEvent(KernelEvent{
				Kind:        EventBifurcation,
				Pair:        &p.key,
				BetaIPre:    prevBI,
				BetaIPost:   bi,
				Description: fmt.Sprintf("pair %s crossed threshold: beta*i %.3f on %s", p.key, bi, p.resource),
			})
			k.logger.Warn("bifurcation detected",
				zap.String("pair", p.key.String()),
				zap.Float64("beta_i", bi),
				zap.String("resource", string(p.resource)))
		}

		// A fresh sample during cooldown supersedes the episode state but
		// does not fire another intervention until the window elapses.
		if !p.lastIntervention.IsZero() && ctx.now.Sub(p.lastIntervention) < k.cfg.RetryCooldown {
			return nil
		}
		if k.cfg.MaxInterventionRetries > 0 && p.retries >= k.cfg.MaxInterventionRetries {
			return nil
		}

		res, err := k.selectIntervention(p, &ctx, bi)
		if err != nil {
			return err
		}
		followUp = res.followUp

		p.retries++
		p.lastIntervention = ctx.now

		// Substitution and divergence retire the pair; only the in-place
		// mechanisms rewrite its evaluation state.
		inPlace := res.kind == InterventionRouteService ||
			res.kind == InterventionProvisionBeta ||
			res.kind == InterventionNudge
		if inPlace {
			newBeta := k.beta.Get(p.resource)
			p.beta = newBeta
			if newBeta > 0 {
				p.iFactor = res.postBI / newBeta
			}
			p.class = ClassifyBetaI(res.postBI, k.cfg.CooperativeThreshold, k.cfg.BifurcationThreshold)
			if res.resolved {
				p.status = PairCooperative
				p.retries = 0
				p.lastIntervention = time.Time{}
				k.setBifurcating(p.key, false)
			}
		}

		k.appendEvent(KernelEvent{
			Kind:         EventIntervention,
			Pair:         &p.key,
			Intervention: res.kind,
			BetaIPre:     bi,
			BetaIPost:    res.postBI,
			Resolved:     res.resolved,
			Description:  res.desc,
		})
		k.logger.Info("intervention applied",
			zap.String("pair", p.key.String()),
			zap.String("kind", string(res.kind)),
			zap.Float64("beta_i_pre", bi),
			zap.Float64("beta_i_post", res.postBI),
			zap.Bool("resolved", res.resolved))
		return nil
	}()
	seq.Unlock()

	// Follow-ups evaluate a different pair, possibly on the same resource,
	// so they must run outside the sequence lock.
	if followUp != nil {
		followUp()
	}
	return err
}

// selectIntervention walks the fixed priority order and applies the first
// applicable mechanism. Niche divergence is unconditionally applicable, so
// a nil result can only mean an internal inconsistency.
func (k *Kernel) selectIntervention(p *pairState, ctx *evalContext, preBI float64) (*interventionResult, error) {
	for _, kind := range InterventionPriority {
		var (
			res *interventionResult
			ok  bool
		)
		switch kind {
		case InterventionAgentSubstitute:
			res, ok = k.tryAgentSubstitute(p, ctx)
		case InterventionRouteService:
			res, ok = k.tryRouteService(p, ctx)
		case InterventionProvisionBeta:
			res, ok = k.tryProvisionBeta(p, ctx)
		case InterventionNudge:
			res, ok = k.tryNudge(p, ctx)
		case InterventionNicheDivergence:
			res, ok = k.tryNicheDivergence(p, ctx, preBI)
		}
		if ok {
			res.kind = kind
			return res, nil
		}
	}
	err := noIntervention(p.key)
	k.logger.Error("no applicable intervention", zap.String("pair", p.key.String()))
	return nil, err
}

// tryAgentSubstitute looks for a registered agent outside the pair, on the
// same resource type as the higher-cost member, with a strictly better
// cost/benefit ratio. On success the old pair is retired from tracking and
// the survivor/candidate pair is evaluated as a follow-up.
func (k *Kernel) tryAgentSubstitute(p *pairState, ctx *evalContext) (*interventionResult, bool) {
	hi, lo := ctx.higher()
	hiRatio := costBenefitRatio(hi.cost, hi.benefit, hi.phi)

	var (
		best      agentInputs
		bestRatio float64
		found     bool
	)
	k.mu.RLock()
	for id, cand := range k.agents {
		if id == ctx.a.id || id == ctx.b.id || !cand.hasSample {
			continue
		}
		if cand.resource != hi.resource || !k.inWindowLocked(cand, ctx.now) {
			continue
		}
		r := costBenefitRatio(cand.curCost, cand.curBenefit, cand.phi)
		if r >= hiRatio {
			continue
		}
		if !found || r < bestRatio || (r == bestRatio && id < best.id) {
			best = inputsOf(cand)
			bestRatio = r
			found = true
		}
	}
	k.mu.RUnlock()
	if !found {
		return nil, false
	}

	p.tracked = false
	k.retirePair(p.key)
	k.setBifurcating(p.key, false)

	survivor := *lo
	replacement := best
	newKey := NewPairKey(survivor.id, replacement.id)
	newResource := k.governingResource(survivor.resource, replacement.resource)
	projected := ComputeIFactor(
		survivor.cost, survivor.benefit, survivor.phi,
		replacement.cost, replacement.benefit, replacement.phi,
	) * k.beta.Get(newResource)

	now := ctx.now
	followUp := func() {
		k.mu.Lock()
		_, liveA := k.agents[survivor.id]
		_, liveB := k.agents[replacement.id]
		if !liveA || !liveB || k.untracked[newKey] {
			k.mu.Unlock()
			return
		}
		np, exists := k.pairs[newKey]
		if !exists {
			np = newPairState(newKey, newResource)
			k.pairs[newKey] = np
		}
		k.mu.Unlock()
		_ = k.evaluatePair(np, evalContext{
			now:      now,
			a:        survivor,
			b:        replacement,
			resource: np.resource,
		})
	}

	return &interventionResult{
		desc: fmt.Sprintf("substituted %s for %s alongside %s (ratio %.3f < %.3f)",
			replacement.id, hi.id, survivor.id, bestRatio, hiRatio),
		postBI:   projected,
		resolved: projected < k.cfg.BifurcationThreshold,
		followUp: followUp,
	}, true
}

// tryRouteService scales both members' current costs by the configured
// route multiplier for the pair's resource. Applicable only when a route
// with a multiplier below 1 exists.
func (k *Kernel) tryRouteService(p *pairState, ctx *evalContext) (*interventionResult, bool) {
	mult, ok := k.cfg.Routes[p.resource]
	if !ok || mult <= 0 || mult >= 1 {
		return nil, false
	}

	ctx.a.cost *= mult
	ctx.b.cost *= mult
	k.mu.Lock()
	if a, live := k.agents[ctx.a.id]; live {
		a.curCost *= mult
	}
	if b, live := k.agents[ctx.b.id]; live {
		b.curCost *= mult
	}
	k.mu.Unlock()

	post := ctx.iFactor() * k.beta.Get(p.resource)
	return &interventionResult{
		desc:     fmt.Sprintf("routed %s traffic for %s through shared service (cost x%.2f)", p.resource, p.key, mult),
		postBI:   post,
		resolved: post < k.cfg.BifurcationThreshold,
	}, true
}

// tryProvisionBeta lowers the scarcity coefficient for the pair's resource
// by one step. Not applicable once the environment floor is reached.
func (k *Kernel) tryProvisionBeta(p *pairState, ctx *evalContext) (*interventionResult, bool) {
	old, applied, ok := k.beta.provision(p.resource, k.cfg.BetaStep)
	if !ok {
		return nil, false
	}

	k.mu.Lock()
	k.capScale[p.resource] *= old / applied
	k.mu.Unlock()

	post := ctx.iFactor() * applied
	return &interventionResult{
		desc:     fmt.Sprintf("provisioned %s capacity: beta %.3f -> %.3f", p.resource, old, applied),
		postBI:   post,
		resolved: post < k.cfg.BifurcationThreshold,
	}, true
}

// tryNudge boosts the higher-cost member's realized benefit when that
// member still has plasticity to adapt. The boost carries a small random
// component so repeated nudges do not thrash deterministically.
func (k *Kernel) tryNudge(p *pairState, ctx *evalContext) (*interventionResult, bool) {
	hi, _ := ctx.higher()
	if hi.epsilon <= 0 {
		return nil, false
	}

	k.randMu.Lock()
	eta := k.rng.NormFloat64() * k.cfg.NudgeSigma
	k.randMu.Unlock()
	factor := 1 + k.cfg.NudgeGain + math.Abs(eta)

	hi.benefit *= factor
	k.mu.Lock()
	if a, live := k.agents[hi.id]; live {
		a.curBenefit *= factor
	}
	k.mu.Unlock()

	post := ctx.iFactor() * k.beta.Get(p.resource)
	return &interventionResult{
		desc:     fmt.Sprintf("nudged %s benefit x%.3f", hi.id, factor),
		postBI:   post,
		resolved: post < k.cfg.BifurcationThreshold,
	}, true
}

// tryNicheDivergence is the terminal mechanism: the pair is permanently
// removed from tracking and both members drop their threshold flags. It is
// always applicable.
func (k *Kernel) tryNicheDivergence(p *pairState, ctx *evalContext, preBI float64) (*interventionResult, bool) {
	p.tracked = false
	k.retirePair(p.key)
	k.setBifurcating(p.key, false)

	return &interventionResult{
		desc:     fmt.Sprintf("pair %s diverged into separate niches", p.key),
		postBI:   preBI,
		resolved: true,
	}, true
}

// setBifurcating updates both members' threshold flags and the kernel's
// index of bifurcating pairs. Called under the pair lock.
func (k *Kernel) setBifurcating(key PairKey, flag bool) {
	k.mu.Lock()
	if a, ok := k.agents[key.A]; ok {
		a.bifurcating = flag
	}
	if b, ok := k.agents[key.B]; ok {
		b.bifurcating = flag
	}
	if flag {
		k.bifurcating[key] = true
	} else {
		delete(k.bifurcating, key)
	}
	k.mu.Unlock()
}

// retirePair drops a pair from the recompute and retry indexes. The
// pairState itself stays addressable for snapshots.
func (k *Kernel) retirePair(key PairKey) {
	k.mu.Lock()
	k.untracked[key] = true
	delete(k.bifurcating, key)
	k.mu.Unlock()
}
