package ecokernel

import (
	"fmt"
	"sort"
	"time"
)

// ResourceType tags an agent with the contended resource class it consumes.
type ResourceType string

const (
	ResourceNetwork ResourceType = "network"
	ResourceToken   ResourceType = "token"
	ResourceCompute ResourceType = "compute"
	ResourceQuota   ResourceType = "quota"
)

// ResourceTypes returns all resource types in stable order.
func ResourceTypes() []ResourceType {
	return []ResourceType{ResourceCompute, ResourceNetwork, ResourceQuota, ResourceToken}
}

// Valid reports whether r is one of the known resource types.
func (r ResourceType) Valid() bool {
	switch r {
	case ResourceNetwork, ResourceToken, ResourceCompute, ResourceQuota:
		return true
	}
	return false
}

// AgentStatus is the lifecycle/health state of a registered agent.
// It is a pure function of maturity and the agent's most recent pair
// evaluation: MATURING while phi is below the configured maturity floor,
// THRESHOLD while the latest evaluation involving the agent bifurcated,
// ACTIVE otherwise. MATURING takes precedence over THRESHOLD.
type AgentStatus string

const (
	AgentActive    AgentStatus = "active"
	AgentMaturing  AgentStatus = "maturing"
	AgentThreshold AgentStatus = "threshold"
)

// PairStatus is the two-state machine driven by the bifurcation threshold.
type PairStatus string

const (
	PairCooperative PairStatus = "cooperative"
	PairBifurcating PairStatus = "bifurcating"
)

// Classification is the three-way reporting band for a pair evaluation.
// It never drives the state machine; it feeds health breakdowns and omega
// edges.
type Classification string

const (
	ClassCooperative Classification = "cooperative"
	ClassThreshold   Classification = "threshold"
	ClassConflict    Classification = "conflict"
)

// IndexStatus classifies the cooperation index value.
type IndexStatus string

const (
	IndexHealthy  IndexStatus = "healthy"
	IndexDegraded IndexStatus = "degraded"
	IndexCritical IndexStatus = "critical"
)

// InterventionKind identifies one of the fixed corrective actions the
// decision engine may apply when a pair bifurcates.
type InterventionKind string

const (
	InterventionAgentSubstitute InterventionKind = "agent_substitute"
	InterventionRouteService    InterventionKind = "route_service"
	InterventionProvisionBeta   InterventionKind = "provision_beta"
	InterventionNudge           InterventionKind = "nudge"
	InterventionNicheDivergence InterventionKind = "niche_divergence"
)

// PairKey identifies an unordered agent pair. A is always the
// lexicographically smaller id, so a given pair has exactly one key.
type PairKey struct {
	A string `json:"a"`
	B string `json:"b"`
}

// NewPairKey returns the canonical key for two agent ids.
func NewPairKey(x, y string) PairKey {
	if x > y {
		x, y = y, x
	}
	return PairKey{A: x, B: y}
}

// Has reports whether the key references the given agent id.
func (k PairKey) Has(id string) bool {
	return k.A == id || k.B == id
}

// Other returns the member of the pair that is not id.
func (k PairKey) Other(id string) string {
	if k.A == id {
		return k.B
	}
	return k.A
}

func (k PairKey) String() string {
	return k.A + ":" + k.B
}

// AgentSnapshot is a value copy of an agent's state for external reporting.
type AgentSnapshot struct {
	ID             string       `json:"id"`
	Name           string       `json:"name,omitempty"`
	Domain         string       `json:"domain,omitempty"`
	Resource       ResourceType `json:"resource"`
	Phi            float64      `json:"phi"`
	Epsilon        float64      `json:"epsilon"`
	Status         AgentStatus  `json:"status"`
	MaturityLabel  string       `json:"maturity_label"`
	Capabilities   []string     `json:"capabilities,omitempty"`
	TotalCost      float64      `json:"total_cost"`
	TotalBenefit   float64      `json:"total_benefit"`
	CurrentCost    float64      `json:"current_cost"`
	CurrentBenefit float64      `json:"current_benefit"`
	TaskCount      int          `json:"task_count"`
	SuccessRate    float64      `json:"success_rate"`
	CreatedAt      time.Time    `json:"created_at"`
	LastSampleAt   time.Time    `json:"last_sample_at"`
}

// MaturityLabelFor maps phi to the reporting label used on snapshots.
func MaturityLabelFor(phi float64) string {
	switch {
	case phi >= 0.85:
		return "expert"
	case phi >= 0.65:
		return "proficient"
	case phi >= 0.40:
		return "developing"
	default:
		return "novice"
	}
}

// PairSnapshot is a value copy of a PairState for external reporting.
type PairSnapshot struct {
	Pair      PairKey        `json:"pair"`
	Resource  ResourceType   `json:"resource"`
	IFactor   float64        `json:"i_factor"`
	Beta      float64        `json:"beta"`
	BetaI     float64        `json:"beta_i"`
	Status    PairStatus     `json:"status"`
	Class     Classification `json:"classification"`
	Tracked   bool           `json:"tracked"`
	Retries   int            `json:"retries,omitempty"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// PairCost is one entry of the atomically captured cost matrix consumed by
// the population dynamics simulator.
type PairCost struct {
	Pair    PairKey `json:"pair"`
	IFactor float64 `json:"i_factor"`
}

// Index is the cooperation index value with its status classification.
type Index struct {
	Value  float64     `json:"value"`
	Status IndexStatus `json:"status"`
}

// TaskDescriptor describes a task submitted for routing. Resource narrows
// candidates to agents of that type; empty means any.
type TaskDescriptor struct {
	Description string       `json:"description"`
	Resource    ResourceType `json:"resource,omitempty"`
}

// RoutingDecision is the result of SubmitTask: the chosen agent plus the
// ranked candidate list. Agents in THRESHOLD are listed under Deprioritized
// and are chosen only when nothing healthier is registered.
type RoutingDecision struct {
	TaskID        string    `json:"task_id"`
	AgentID       string    `json:"agent_id"`
	Candidates    []string  `json:"candidates"`
	Deprioritized []string  `json:"deprioritized,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// OmegaEdge is one pair's coupling weight in the service network.
type OmegaEdge struct {
	AgentA string         `json:"agent_a"`
	AgentB string         `json:"agent_b"`
	Weight float64        `json:"weight"`
	Class  Classification `json:"classification"`
}

// OmegaMetrics summarizes service coupling over recent evaluations:
// lambda_max approximates the coupling matrix's spectral radius as
// sum(weights)/sqrt(n), and BetaService = lambda_max/n.
type OmegaMetrics struct {
	LambdaMax   float64     `json:"lambda_max"`
	N           int         `json:"n"`
	BetaService float64     `json:"beta_service"`
	Edges       []OmegaEdge `json:"edges"`
}

// HealthSnapshot is the full ecosystem report exposed to external callers.
type HealthSnapshot struct {
	CooperationIndex   Index                    `json:"cooperation_index"`
	AgentCount         int                      `json:"agent_count"`
	ActiveBifurcations int                      `json:"active_bifurcations"`
	TrackedPairs       int                      `json:"tracked_pairs"`
	MeanIFactor        float64                  `json:"mean_i_factor"`
	MeanBetaI          float64                  `json:"mean_beta_i"`
	MeanBeta           float64                  `json:"mean_beta"`
	MeanPhi            float64                  `json:"mean_phi"`
	MeanEpsilon        float64                  `json:"mean_epsilon"`
	Breakdown          map[Classification]int   `json:"interaction_breakdown"`
	StatusCounts       map[AgentStatus]int      `json:"agent_status_counts"`
	Beta               map[ResourceType]float64 `json:"beta_environment"`
	Omega              OmegaMetrics             `json:"omega"`
	RecentEvents       []KernelEvent            `json:"recent_events"`
}

func (s HealthSnapshot) String() string {
	return fmt.Sprintf("ci=%.4f(%s) agents=%d bifurcating=%d",
		s.CooperationIndex.Value, s.CooperationIndex.Status, s.AgentCount, s.ActiveBifurcations)
}

// sortAgentSnapshots orders snapshots by id for stable external reporting.
func sortAgentSnapshots(snaps []AgentSnapshot) {
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].ID < snaps[j].ID })
}
