package ecokernel

// InterventionPriority is the fixed order in which mechanisms are tried
// when a pair bifurcates. The first applicable mechanism is applied; niche
// divergence is always applicable and therefore terminal.
var InterventionPriority = []InterventionKind{
	InterventionAgentSubstitute,
	InterventionRouteService,
	InterventionProvisionBeta,
	InterventionNudge,
	InterventionNicheDivergence,
}

// InterventionInfo describes one mechanism for operator-facing output.
type InterventionInfo struct {
	Kind       InterventionKind `json:"kind"`
	Summary    string           `json:"summary"`
	Applicable string           `json:"applicable"`
}

var interventionCatalog = []InterventionInfo{
	{
		Kind:       InterventionAgentSubstitute,
		Summary:    "replace the higher-cost member with a cheaper agent on the same resource",
		Applicable: "a third agent exists with a strictly lower cost/benefit ratio",
	},
	{
		Kind:       InterventionRouteService,
		Summary:    "route both members through a shared service that discounts their costs",
		Applicable: "a route with a multiplier below 1 is configured for the pair's resource",
	},
	{
		Kind:       InterventionProvisionBeta,
		Summary:    "provision capacity, lowering the resource's scarcity coefficient one step",
		Applicable: "the coefficient is above the environment floor",
	},
	{
		Kind:       InterventionNudge,
		Summary:    "boost the higher-cost member's realized benefit",
		Applicable: "the member's plasticity is above zero",
	},
	{
		Kind:       InterventionNicheDivergence,
		Summary:    "separate the pair into non-overlapping niches and stop tracking it",
		Applicable: "always",
	},
}

// Interventions returns the mechanism catalog in priority order.
func Interventions() []InterventionInfo {
	out := make([]InterventionInfo, len(interventionCatalog))
	copy(out, interventionCatalog)
	return out
}

// DescribeIntervention looks up one mechanism by kind.
func DescribeIntervention(kind InterventionKind) (InterventionInfo, bool) {
	for _, info := range interventionCatalog {
		if info.Kind == kind {
			return info, true
		}
	}
	return InterventionInfo{}, false
}
