// Package ecokernel implements an ecological arbitration kernel for
// multi-agent systems.
//
// It treats running agents as species competing for shared resources. Each
// agent reports per-task cost and benefit samples; the kernel folds every
// sample into a pairwise interference factor i, scales it by the scarcity
// coefficient beta of the contended resource, and flags a pair as
// bifurcating once beta*i reaches the threshold. A bifurcating pair is
// driven through a fixed sequence of interventions, from substituting a
// cheaper agent down to splitting the pair into separate niches, until the
// contention resolves or the pair is retired from tracking.
//
// # Architecture
//
// The package is organized around these core concepts:
//
//   - Kernel: The central orchestrator holding the agent registry, pair
//     evaluation state, intervention sequencing, and health reporting.
//   - BetaEnvironment: Per-resource scarcity coefficients with bounds,
//     operator writes, and floor-limited provisioning.
//   - PairKey/PairSnapshot: Unordered agent pairs and their evaluation
//     state, serialized per pair so disjoint pairs evaluate in parallel.
//   - EventEmitter: Bounded event stream for host application integration,
//     backed by an append-only ring log.
//   - OmegaMetrics: Coupling metrics over recent evaluations, summarizing
//     how tightly the agent population is bound to shared services.
//
// # Quick Start
//
//	kernel := ecokernel.NewKernel(nil, ecokernel.WithLogger(logger))
//	defer kernel.Close()
//
//	kernel.Register("planner-1", ecokernel.ResourceToken)
//	kernel.Register("builder-1", ecokernel.ResourceToken)
//
//	if err := kernel.ReportSample("planner-1", 2.0, 10.0); err != nil {
//	    log.Fatal(err)
//	}
//
//	for event := range kernel.Events() {
//	    fmt.Printf("[%s] %s\n", event.Kind, event.Description)
//	}
package ecokernel
