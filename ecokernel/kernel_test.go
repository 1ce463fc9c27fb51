package ecokernel

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// fakeClock is a hand-advanced time source for cooldown and ordering tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestPairEvaluationClassification(t *testing.T) {
	k := NewKernel(nil)
	defer k.Close()

	_, err := k.Register("alpha", ResourceCompute, WithPhi(1.0))
	require.NoError(t, err)
	_, err = k.Register("bravo", ResourceCompute, WithPhi(0.5))
	require.NoError(t, err)

	require.NoError(t, k.ReportSample("alpha", 2, 10))
	require.NoError(t, k.ReportSample("bravo", 8, 2))

	// i = 10/11 on unit beta: over the cooperative bound but short of
	// bifurcation, so the pair stays tracked with no events fired.
	pairs := k.ListInteractions(0)
	require.Len(t, pairs, 1)
	assert.Equal(t, NewPairKey("alpha", "bravo"), pairs[0].Pair)
	assert.Equal(t, ResourceCompute, pairs[0].Resource)
	assert.InDelta(t, 10.0/11.0, pairs[0].IFactor, 1e-9)
	assert.InDelta(t, 1.0, pairs[0].Beta, 1e-9)
	assert.InDelta(t, 10.0/11.0, pairs[0].BetaI, 1e-9)
	assert.Equal(t, PairCooperative, pairs[0].Status)
	assert.Equal(t, ClassThreshold, pairs[0].Class)
	assert.True(t, pairs[0].Tracked)

	assert.Empty(t, eventsByKind(k, EventBifurcation))
	assert.Empty(t, eventsByKind(k, EventIntervention))

	// One heavy pair drags the whole index down.
	idx := k.CooperationIndex()
	assert.InDelta(t, 1.0/11.0, idx.Value, 1e-9)
	assert.Equal(t, IndexCritical, idx.Status)
}

func TestCooperationIndexEmptyIsHealthy(t *testing.T) {
	k := NewKernel(nil)
	defer k.Close()

	idx := k.CooperationIndex()
	assert.Equal(t, 1.0, idx.Value)
	assert.Equal(t, IndexHealthy, idx.Status)

	// Registered agents without samples leave the index untouched.
	_, err := k.Register("alpha", ResourceNetwork)
	require.NoError(t, err)
	idx = k.CooperationIndex()
	assert.Equal(t, 1.0, idx.Value)
}

func TestCooperationIndexAggregate(t *testing.T) {
	k := NewKernel(nil)
	defer k.Close()

	samples := map[string][2]float64{
		"alpha":   {1, 10},
		"bravo":   {1, 10},
		"charlie": {2.5, 5},
		"delta":   {2.5, 5},
	}
	for _, id := range []string{"alpha", "bravo", "charlie", "delta"} {
		_, err := k.Register(id, ResourceCompute, WithPhi(1.0))
		require.NoError(t, err)
		s := samples[id]
		require.NoError(t, k.ReportSample(id, s[0], s[1]))
	}

	// Six pairs: alpha:bravo at 0.1, charlie:delta at 0.5, and four
	// cross pairs at 7/30 each. Mean beta*i is 0.25555.
	idx := k.CooperationIndex()
	assert.InDelta(t, 0.74444, idx.Value, 1e-4)
	assert.Equal(t, IndexDegraded, idx.Status)

	health := k.Health()
	assert.Equal(t, 4, health.AgentCount)
	assert.Equal(t, 6, health.TrackedPairs)
	assert.Equal(t, 0, health.ActiveBifurcations)
	assert.InDelta(t, 0.25555, health.MeanIFactor, 1e-4)
	assert.InDelta(t, 0.25555, health.MeanBetaI, 1e-4)
	assert.InDelta(t, 1.0, health.MeanPhi, 1e-9)
	assert.InDelta(t, 3.0, health.MeanEpsilon, 1e-9)
	assert.Equal(t, map[Classification]int{ClassCooperative: 6}, health.Breakdown)
	assert.Equal(t, map[AgentStatus]int{AgentActive: 4}, health.StatusCounts)
	assert.InDelta(t, 1.0, health.Beta[ResourceCompute], 1e-9)
	assert.InDelta(t, 1.05, health.MeanBeta, 1e-9)
	assert.NotEmpty(t, health.RecentEvents)
}

func TestInterventionRetryCooldown(t *testing.T) {
	// Floor-blocked provisioning and a plastic high-cost member make the
	// nudge fire on every eligible evaluation. The cooldown must gate the
	// second attempt until the window elapses.
	cfg := DefaultKernelConfig()
	cfg.BetaFloor = 1.2
	cfg.BetaOverrides = map[ResourceType]float64{ResourceQuota: 1.2}
	clock := newFakeClock()
	k := NewKernel(&cfg, WithClock(clock.Now))
	defer k.Close()

	_, err := k.Register("alpha", ResourceQuota, WithPhi(1.0), WithEpsilon(0))
	require.NoError(t, err)
	_, err = k.Register("bravo", ResourceQuota, WithPhi(0.5), WithEpsilon(4))
	require.NoError(t, err)

	require.NoError(t, k.ReportSample("alpha", 1, 10))
	require.NoError(t, k.ReportSample("bravo", 20, 2))
	require.Len(t, eventsByKind(k, EventIntervention), 1)

	// A fresh sample inside the cooldown re-evaluates but does not
	// retry the intervention.
	clock.Advance(2 * time.Second)
	require.NoError(t, k.ReportSample("bravo", 20, 2))
	require.Len(t, eventsByKind(k, EventIntervention), 1)

	// Once the window elapses the maintenance tick picks the pair back
	// up and retries.
	clock.Advance(4 * time.Second)
	require.NoError(t, k.Tick())
	ivs := eventsByKind(k, EventIntervention)
	require.Len(t, ivs, 2)
	assert.Equal(t, InterventionNudge, ivs[1].Intervention)
	assert.False(t, ivs[1].Resolved)
}

func TestRepeatedProvisioningEventuallyResolves(t *testing.T) {
	// With i fixed at 1.3 a single provisioning step cannot clear the
	// threshold. Each episode re-walks the priority order from the top,
	// lands on provisioning again, and the third step resolves.
	clock := newFakeClock()
	k := NewKernel(nil, WithClock(clock.Now))
	defer k.Close()

	_, err := k.Register("alpha", ResourceQuota, WithPhi(1.0))
	require.NoError(t, err)
	_, err = k.Register("bravo", ResourceQuota, WithPhi(1.0))
	require.NoError(t, err)
	require.NoError(t, k.ReportSample("alpha", 13, 10))
	require.NoError(t, k.ReportSample("bravo", 13, 10))

	for i := 0; i < 2; i++ {
		clock.Advance(6 * time.Second)
		require.NoError(t, k.Tick())
	}

	ivs := eventsByKind(k, EventIntervention)
	require.Len(t, ivs, 3)
	for i, iv := range ivs {
		assert.Equal(t, InterventionProvisionBeta, iv.Intervention)
		assert.Equal(t, i == 2, iv.Resolved)
	}

	// beta walked 1.2 -> 1.02 -> 0.867 -> 0.737; the capacity scale
	// accumulated the full inverse.
	assert.InDelta(t, 1.2*0.85*0.85*0.85, k.Beta(ResourceQuota), 1e-9)
	assert.InDelta(t, 1.2/(1.2*0.85*0.85*0.85), k.CapacityScales()[ResourceQuota], 1e-9)

	pairs := k.ListInteractions(0)
	require.Len(t, pairs, 1)
	assert.Equal(t, PairCooperative, pairs[0].Status)
	assert.Equal(t, ClassThreshold, pairs[0].Class)
}

func TestTickSnapshotCadence(t *testing.T) {
	cfg := DefaultKernelConfig()
	cfg.SnapshotEvery = 2
	k := NewKernel(&cfg)
	defer k.Close()

	_, err := k.Register("alpha", ResourceCompute, WithPhi(1.0))
	require.NoError(t, err)
	_, err = k.Register("bravo", ResourceCompute, WithPhi(1.0))
	require.NoError(t, err)
	require.NoError(t, k.ReportSample("alpha", 1, 10))
	require.NoError(t, k.ReportSample("bravo", 1, 10))

	for i := 0; i < 4; i++ {
		require.NoError(t, k.Tick())
	}

	snaps := eventsByKind(k, EventIndexSnapshot)
	require.Len(t, snaps, 2)
	for _, ev := range snaps {
		require.NotNil(t, ev.Index)
		assert.InDelta(t, 0.9, ev.Index.Value, 1e-9)
		assert.Equal(t, IndexHealthy, ev.Index.Status)
	}
}

func TestDeregisterRemovesPairs(t *testing.T) {
	k := NewKernel(nil)
	defer k.Close()

	_, err := k.Register("alpha", ResourceCompute, WithPhi(1.0))
	require.NoError(t, err)
	_, err = k.Register("bravo", ResourceCompute, WithPhi(1.0))
	require.NoError(t, err)
	require.NoError(t, k.ReportSample("alpha", 1, 10))
	require.NoError(t, k.ReportSample("bravo", 1, 10))
	require.Len(t, k.ListInteractions(0), 1)

	require.NoError(t, k.Deregister("bravo"))

	assert.Empty(t, k.ListInteractions(0))
	assert.Empty(t, k.CostMatrix())
	_, err = k.Agent("bravo")
	assert.Error(t, err)

	idx := k.CooperationIndex()
	assert.Equal(t, 1.0, idx.Value)

	// History survives the departure.
	gone := eventsByKind(k, EventAgentDeregistered)
	require.Len(t, gone, 1)
	assert.Equal(t, "bravo", gone[0].AgentID)
}

func TestSetBetaClampsAndRejects(t *testing.T) {
	k := NewKernel(nil)
	defer k.Close()

	applied, err := k.SetBeta(ResourceNetwork, 10)
	require.NoError(t, err)
	assert.InDelta(t, 3.0, applied, 1e-9)
	assert.InDelta(t, 3.0, k.Beta(ResourceNetwork), 1e-9)

	applied, err = k.SetBeta(ResourceNetwork, 0.01)
	require.NoError(t, err)
	assert.InDelta(t, 0.1, applied, 1e-9)

	_, err = k.SetBeta(ResourceType("plutonium"), 1)
	assert.Error(t, err)

	vals := k.BetaValues()
	assert.InDelta(t, 0.1, vals[ResourceNetwork], 1e-9)
	assert.InDelta(t, 1.1, vals[ResourceToken], 1e-9)
}

func TestListInteractionsOrder(t *testing.T) {
	clock := newFakeClock()
	k := NewKernel(nil, WithClock(clock.Now))
	defer k.Close()

	for _, id := range []string{"alpha", "bravo", "charlie"} {
		_, err := k.Register(id, ResourceCompute, WithPhi(1.0))
		require.NoError(t, err)
	}

	require.NoError(t, k.ReportSample("alpha", 1, 10))
	require.NoError(t, k.ReportSample("bravo", 1, 10))
	clock.Advance(time.Minute)
	require.NoError(t, k.ReportSample("charlie", 1, 10))

	// Most recently evaluated first; ties break on the pair key.
	pairs := k.ListInteractions(0)
	require.Len(t, pairs, 3)
	assert.Equal(t, NewPairKey("alpha", "charlie"), pairs[0].Pair)
	assert.Equal(t, NewPairKey("bravo", "charlie"), pairs[1].Pair)
	assert.Equal(t, NewPairKey("alpha", "bravo"), pairs[2].Pair)

	limited := k.ListInteractions(2)
	require.Len(t, limited, 2)
	assert.Equal(t, NewPairKey("alpha", "charlie"), limited[0].Pair)
}

func TestKernelConcurrentUse(t *testing.T) {
	defer goleak.VerifyNone(t)

	k := NewKernel(nil)
	defer k.Close()

	roster := []string{"a1", "a2", "a3", "b1", "b2", "b3"}
	resources := []ResourceType{ResourceNetwork, ResourceToken, ResourceCompute}
	for i, id := range roster {
		_, err := k.Register(id, resources[i%len(resources)], WithPhi(0.8))
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(seed int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				id := roster[(seed+i)%len(roster)]
				cost := 0.5 + float64((seed*7+i)%10)*0.3
				benefit := 1.0 + float64((seed*3+i)%10)*0.5
				_ = k.ReportSample(id, cost, benefit)
			}
		}(g)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 25; i++ {
			_ = k.Tick()
		}
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 25; i++ {
			_ = k.Health()
			_ = k.ListInteractions(5)
			_ = k.CostMatrix()
		}
	}()
	wg.Wait()

	// Pairs only ever form between registered agents.
	assert.LessOrEqual(t, len(k.ListInteractions(0)), 15)
	idx := k.CooperationIndex()
	assert.GreaterOrEqual(t, idx.Value, 0.0)
	assert.LessOrEqual(t, idx.Value, 1.0)
	for _, a := range k.ListAgents() {
		assert.GreaterOrEqual(t, a.Phi, 0.0)
		assert.LessOrEqual(t, a.Phi, 1.0)
	}
}

func TestConcurrentPairsProvisionOnce(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := DefaultKernelConfig()
	cfg.BetaOverrides = map[ResourceType]float64{ResourceNetwork: 2.0}
	k := NewKernel(&cfg)
	defer k.Close()

	// Three agents with identical cost/benefit ratios: every pair lands
	// at i = 0.55, so beta 2.0 tips all of them over the threshold at
	// beta*i = 1.1. One provision (2.0 -> 1.7) must settle the whole
	// resource; pairs evaluated afterward read the adjusted beta and
	// stay cooperative at 0.935, never re-provisioning off the stale 2.0.
	for _, id := range []string{"alpha", "bravo", "charlie"} {
		_, err := k.Register(id, ResourceNetwork, WithPhi(1.0))
		require.NoError(t, err)
	}
	require.NoError(t, k.ReportSample("alpha", 0.55, 1.0))

	var wg sync.WaitGroup
	for _, id := range []string{"bravo", "charlie"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			assert.NoError(t, k.ReportSample(id, 0.55, 1.0))
		}(id)
	}
	wg.Wait()

	assert.InDelta(t, 1.7, k.Beta(ResourceNetwork), 1e-9)
	assert.InDelta(t, 2.0/1.7, k.CapacityScales()[ResourceNetwork], 1e-9)

	bifs := eventsByKind(k, EventBifurcation)
	require.Len(t, bifs, 1)
	assert.InDelta(t, 1.1, bifs[0].BetaIPost, 1e-9)

	ivs := eventsByKind(k, EventIntervention)
	require.Len(t, ivs, 1)
	assert.Equal(t, InterventionProvisionBeta, ivs[0].Intervention)
	assert.True(t, ivs[0].Resolved)
	assert.InDelta(t, 0.935, ivs[0].BetaIPost, 1e-9)

	pairs := k.ListInteractions(0)
	require.Len(t, pairs, 3)
	for _, p := range pairs {
		assert.Equal(t, PairCooperative, p.Status)
		assert.InDelta(t, 0.935, p.BetaI, 1e-9)
	}
	assert.InDelta(t, 0.065, k.CooperationIndex().Value, 1e-9)
}

func TestConfigCopiesMaps(t *testing.T) {
	cfg := DefaultKernelConfig()
	cfg.BetaOverrides = map[ResourceType]float64{ResourceNetwork: 2.0}
	cfg.Routes = map[ResourceType]float64{ResourceNetwork: 0.5}
	k := NewKernel(&cfg)
	defer k.Close()

	got := k.Config()
	got.BetaOverrides[ResourceNetwork] = 99
	got.Routes[ResourceNetwork] = 99
	got.Routes[ResourceToken] = 0.1

	// Scribbling on the returned maps must not reach the kernel.
	fresh := k.Config()
	assert.InDelta(t, 2.0, fresh.BetaOverrides[ResourceNetwork], 1e-9)
	assert.InDelta(t, 0.5, fresh.Routes[ResourceNetwork], 1e-9)
	assert.NotContains(t, fresh.Routes, ResourceToken)
}
