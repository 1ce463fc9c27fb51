package ecokernel

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// eventsByKind filters the full event log by kind.
func eventsByKind(k *Kernel, kind EventKind) []KernelEvent {
	var out []KernelEvent
	for _, ev := range k.Recent(0) {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func TestProvisionBetaResolvesBifurcation(t *testing.T) {
	k := NewKernel(nil)
	defer k.Close()

	// On quota (beta 1.2) the canonical pair tips over the threshold:
	// beta*i = 1.2 * 10/11 = 1.0909.
	_, err := k.Register("alpha", ResourceQuota, WithPhi(1.0))
	require.NoError(t, err)
	_, err = k.Register("bravo", ResourceQuota, WithPhi(0.5))
	require.NoError(t, err)

	require.NoError(t, k.ReportSample("alpha", 2, 10))
	require.NoError(t, k.ReportSample("bravo", 8, 2))

	// No third agent and no routes, so provisioning is the first
	// applicable mechanism: beta 1.2 -> 1.02 puts beta*i at 0.927.
	bifs := eventsByKind(k, EventBifurcation)
	require.Len(t, bifs, 1)
	assert.InDelta(t, 1.0909, bifs[0].BetaIPost, 1e-3)

	ivs := eventsByKind(k, EventIntervention)
	require.Len(t, ivs, 1)
	assert.Equal(t, InterventionProvisionBeta, ivs[0].Intervention)
	assert.True(t, ivs[0].Resolved)
	assert.InDelta(t, 1.0909, ivs[0].BetaIPre, 1e-3)
	assert.InDelta(t, 0.9273, ivs[0].BetaIPost, 1e-3)

	assert.InDelta(t, 1.02, k.Beta(ResourceQuota), 1e-9)

	pairs := k.ListInteractions(0)
	require.Len(t, pairs, 1)
	assert.Equal(t, PairCooperative, pairs[0].Status)
	assert.True(t, pairs[0].Tracked)

	// Provisioned capacity surfaces as an enlarged carrying-capacity
	// scale for the population projection.
	scales := k.CapacityScales()
	assert.InDelta(t, 1.2/1.02, scales[ResourceQuota], 1e-9)

	// Flags cleared: status falls back to maturity alone.
	a, _ := k.Agent("alpha")
	b, _ := k.Agent("bravo")
	assert.Equal(t, AgentActive, a.Status)
	assert.Equal(t, AgentMaturing, b.Status)
}

func TestNicheDivergenceIsTerminal(t *testing.T) {
	// Floor == current beta blocks provisioning; zero plasticity blocks
	// the nudge; two agents leave no substitute. Divergence must fire.
	cfg := DefaultKernelConfig()
	cfg.BetaFloor = 1.2
	cfg.BetaOverrides = map[ResourceType]float64{ResourceQuota: 1.2}
	k := NewKernel(&cfg)
	defer k.Close()

	_, err := k.Register("alpha", ResourceQuota, WithPhi(1.0), WithEpsilon(0))
	require.NoError(t, err)
	_, err = k.Register("bravo", ResourceQuota, WithPhi(1.0), WithEpsilon(0))
	require.NoError(t, err)

	require.NoError(t, k.ReportSample("alpha", 10, 1))
	require.NoError(t, k.ReportSample("bravo", 10, 1))

	ivs := eventsByKind(k, EventIntervention)
	require.Len(t, ivs, 1)
	assert.Equal(t, InterventionNicheDivergence, ivs[0].Intervention)
	assert.True(t, ivs[0].Resolved)

	// The pair stays visible but leaves tracking for good.
	pairs := k.ListInteractions(0)
	require.Len(t, pairs, 1)
	assert.False(t, pairs[0].Tracked)
	assert.Equal(t, PairBifurcating, pairs[0].Status)
	assert.Empty(t, k.CostMatrix())

	// With nothing tracked the index reads exactly 1.
	idx := k.CooperationIndex()
	assert.Equal(t, 1.0, idx.Value)
	assert.Equal(t, IndexHealthy, idx.Status)

	a, _ := k.Agent("alpha")
	assert.Equal(t, AgentActive, a.Status)

	// Diverged pairs are never re-evaluated.
	before := len(k.Recent(0))
	require.NoError(t, k.ReportSample("alpha", 10, 1))
	assert.Len(t, k.Recent(0), before)
}

func TestAgentSubstituteRetiresAndReplaces(t *testing.T) {
	k := NewKernel(nil)
	defer k.Close()

	for _, id := range []string{"alpha", "bravo", "charlie"} {
		_, err := k.Register(id, ResourceCompute, WithPhi(1.0))
		require.NoError(t, err)
	}

	// charlie samples first so it is an eligible substitute with a far
	// better cost/benefit ratio than bravo.
	require.NoError(t, k.ReportSample("charlie", 0.1, 5))
	require.NoError(t, k.ReportSample("alpha", 2, 10))
	require.NoError(t, k.ReportSample("bravo", 30, 1))

	// bravo's report bifurcates both of its pairs; each resolves by
	// substituting charlie (or alpha) in for bravo.
	ivs := eventsByKind(k, EventIntervention)
	require.Len(t, ivs, 2)
	for _, iv := range ivs {
		assert.Equal(t, InterventionAgentSubstitute, iv.Intervention)
		assert.True(t, iv.Resolved)
		assert.True(t, iv.Pair.Has("bravo"))
	}

	// Only the survivor pair remains tracked.
	matrix := k.CostMatrix()
	require.Len(t, matrix, 1)
	assert.Equal(t, NewPairKey("alpha", "charlie"), matrix[0].Pair)
	assert.InDelta(t, 2.1/15.0, matrix[0].IFactor, 1e-9)

	b, _ := k.Agent("bravo")
	assert.Equal(t, AgentActive, b.Status)
}

func TestRouteServiceDiscountsCosts(t *testing.T) {
	cfg := DefaultKernelConfig()
	cfg.BetaOverrides = map[ResourceType]float64{ResourceNetwork: 1.2}
	cfg.Routes = map[ResourceType]float64{ResourceNetwork: 0.5}
	k := NewKernel(&cfg)
	defer k.Close()

	_, err := k.Register("alpha", ResourceNetwork, WithPhi(1.0))
	require.NoError(t, err)
	_, err = k.Register("bravo", ResourceNetwork, WithPhi(1.0))
	require.NoError(t, err)

	// i = 8/8 = 1.0, so beta*i = 1.2 bifurcates; halving both costs
	// brings it to 0.6.
	require.NoError(t, k.ReportSample("alpha", 4, 5))
	require.NoError(t, k.ReportSample("bravo", 4, 3))

	ivs := eventsByKind(k, EventIntervention)
	require.Len(t, ivs, 1)
	assert.Equal(t, InterventionRouteService, ivs[0].Intervention)
	assert.True(t, ivs[0].Resolved)
	assert.InDelta(t, 0.6, ivs[0].BetaIPost, 1e-9)

	// The discount lands on the agents' current costs.
	a, _ := k.Agent("alpha")
	b, _ := k.Agent("bravo")
	assert.Equal(t, 2.0, a.CurrentCost)
	assert.Equal(t, 2.0, b.CurrentCost)

	pairs := k.ListInteractions(0)
	require.Len(t, pairs, 1)
	assert.Equal(t, PairCooperative, pairs[0].Status)
	assert.Equal(t, ClassCooperative, pairs[0].Class)
}

func TestNudgeBoostsBenefit(t *testing.T) {
	// Provisioning blocked at the floor, no routes, no substitute: the
	// nudge is the last mechanism before divergence and bravo still has
	// plasticity.
	cfg := DefaultKernelConfig()
	cfg.BetaFloor = 1.2
	cfg.BetaOverrides = map[ResourceType]float64{ResourceQuota: 1.2}
	k := NewKernel(&cfg, WithRand(rand.New(rand.NewSource(7))))
	defer k.Close()

	_, err := k.Register("alpha", ResourceQuota, WithPhi(1.0), WithEpsilon(0))
	require.NoError(t, err)
	_, err = k.Register("bravo", ResourceQuota, WithPhi(0.5), WithEpsilon(4))
	require.NoError(t, err)

	require.NoError(t, k.ReportSample("alpha", 1, 10))
	require.NoError(t, k.ReportSample("bravo", 20, 2))

	ivs := eventsByKind(k, EventIntervention)
	require.Len(t, ivs, 1)
	assert.Equal(t, InterventionNudge, ivs[0].Intervention)
	assert.Less(t, ivs[0].BetaIPost, ivs[0].BetaIPre)

	// The boost multiplies the higher-cost member's realized benefit.
	b, _ := k.Agent("bravo")
	assert.Greater(t, b.CurrentBenefit, 2.0)
}

func TestNudgeDeterministicUnderSeed(t *testing.T) {
	run := func() float64 {
		cfg := DefaultKernelConfig()
		cfg.BetaFloor = 1.2
		cfg.BetaOverrides = map[ResourceType]float64{ResourceQuota: 1.2}
		k := NewKernel(&cfg, WithRand(rand.New(rand.NewSource(99))))
		defer k.Close()

		_, err := k.Register("alpha", ResourceQuota, WithPhi(1.0), WithEpsilon(0))
		require.NoError(t, err)
		_, err = k.Register("bravo", ResourceQuota, WithPhi(0.5), WithEpsilon(4))
		require.NoError(t, err)
		require.NoError(t, k.ReportSample("alpha", 1, 10))
		require.NoError(t, k.ReportSample("bravo", 20, 2))

		b, err := k.Agent("bravo")
		require.NoError(t, err)
		return b.CurrentBenefit
	}

	first := run()
	assert.Greater(t, first, 2.0)
	assert.Equal(t, first, run())
}

func TestStatusPrecedenceDuringBifurcation(t *testing.T) {
	// An unresolved intervention leaves the pair bifurcating. The mature
	// member reports THRESHOLD; the immature one stays MATURING.
	k := NewKernel(nil)
	defer k.Close()

	_, err := k.Register("alpha", ResourceCompute, WithPhi(1.0))
	require.NoError(t, err)
	_, err = k.Register("bravo", ResourceCompute, WithPhi(0.3))
	require.NoError(t, err)

	// i = 200/1.3 is hopeless; one provisioning step cannot resolve it.
	require.NoError(t, k.ReportSample("alpha", 100, 1))
	require.NoError(t, k.ReportSample("bravo", 100, 1))

	ivs := eventsByKind(k, EventIntervention)
	require.Len(t, ivs, 1)
	assert.False(t, ivs[0].Resolved)

	pairs := k.ListInteractions(0)
	require.Len(t, pairs, 1)
	assert.Equal(t, PairBifurcating, pairs[0].Status)

	a, _ := k.Agent("alpha")
	b, _ := k.Agent("bravo")
	assert.Equal(t, AgentThreshold, a.Status)
	assert.Equal(t, AgentMaturing, b.Status)
}
