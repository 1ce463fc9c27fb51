package ecokernel

import (
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SubmitTask routes a task to the most mature eligible agent. Agents whose
// latest pair evaluation crossed the threshold rank behind everything else;
// one of them is chosen only when no healthier agent is registered. An
// empty resource on the descriptor matches agents of any type.
func (k *Kernel) SubmitTask(task TaskDescriptor) (RoutingDecision, error) {
	now := k.now()

	type candidate struct {
		id        string
		phi       float64
		threshold bool
	}

	k.mu.RLock()
	cands := make([]candidate, 0, len(k.agents))
	for _, a := range k.agents {
		if task.Resource != "" && a.resource != task.Resource {
			continue
		}
		cands = append(cands, candidate{
			id:        a.id,
			phi:       a.phi,
			threshold: k.statusOfLocked(a) == AgentThreshold,
		})
	}
	k.mu.RUnlock()

	if len(cands) == 0 {
		return RoutingDecision{}, noRoute(task.Resource)
	}

	sort.Slice(cands, func(i, j int) bool {
		if cands[i].phi != cands[j].phi {
			return cands[i].phi > cands[j].phi
		}
		return cands[i].id < cands[j].id
	})

	decision := RoutingDecision{
		TaskID:    "TASK-" + uuid.NewString()[:8],
		CreatedAt: now,
	}
	for _, c := range cands {
		if c.threshold {
			decision.Deprioritized = append(decision.Deprioritized, c.id)
		} else {
			decision.Candidates = append(decision.Candidates, c.id)
		}
	}
	if len(decision.Candidates) > 0 {
		decision.AgentID = decision.Candidates[0]
	} else {
		decision.AgentID = decision.Deprioritized[0]
	}

	k.logger.Info("task routed",
		zap.String("task", decision.TaskID),
		zap.String("agent", decision.AgentID),
		zap.String("resource", string(task.Resource)),
		zap.Int("candidates", len(decision.Candidates)),
		zap.Int("deprioritized", len(decision.Deprioritized)))
	return decision, nil
}
