package ecokernel

import (
	"math"
	"sort"
)

// Omega summarizes service coupling over the recent-evaluation window.
// Each pair contributes an edge weighted by the mean of (1 - i) across its
// evaluations in the window, so low-interference pairs weigh high. The
// spectral radius is approximated as sum(weights)/sqrt(n) over n registered
// agents, and BetaService normalizes it by n again.
func (k *Kernel) Omega() OmegaMetrics {
	k.mu.RLock()
	recs := k.recentEvalsLocked(k.cfg.OmegaWindow)
	agentCount := len(k.agents)
	k.mu.RUnlock()

	type acc struct {
		sum float64
		n   int
	}
	byPair := make(map[PairKey]*acc)
	for _, r := range recs {
		a, ok := byPair[r.key]
		if !ok {
			a = &acc{}
			byPair[r.key] = a
		}
		a.sum += 1 - r.i
		a.n++
	}

	m := OmegaMetrics{N: agentCount, Edges: make([]OmegaEdge, 0, len(byPair))}
	var total float64
	for key, a := range byPair {
		w := a.sum / float64(a.n)
		class := ClassConflict
		switch {
		case w > 0.30:
			class = ClassCooperative
		case w > 0:
			class = ClassThreshold
		}
		m.Edges = append(m.Edges, OmegaEdge{AgentA: key.A, AgentB: key.B, Weight: w, Class: class})
		total += w
	}
	sort.Slice(m.Edges, func(i, j int) bool {
		if m.Edges[i].AgentA != m.Edges[j].AgentA {
			return m.Edges[i].AgentA < m.Edges[j].AgentA
		}
		return m.Edges[i].AgentB < m.Edges[j].AgentB
	})

	if len(m.Edges) > 0 && agentCount > 0 {
		m.LambdaMax = total / math.Sqrt(float64(agentCount))
		m.BetaService = m.LambdaMax / float64(agentCount)
	}
	return m
}
