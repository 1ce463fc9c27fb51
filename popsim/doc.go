// Package popsim projects the ecokernel's interference state into
// population dynamics.
//
// Each registered agent is modeled as a species with an abundance, an
// intrinsic growth rate, and a carrying capacity. Every tick the simulator
// captures one atomic snapshot of the kernel's cost matrix, converts each
// tracked pair's interference factor into a competition coefficient, and
// integrates one discrete Lotka-Volterra step. Provisioning interventions
// in the kernel surface here as enlarged carrying capacities, so relieving
// scarcity visibly lifts the populations competing for that resource.
//
// The simulator never feeds back into the kernel; it is a read-only
// projection suitable for dashboards and capacity planning.
package popsim
