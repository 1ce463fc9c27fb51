package ecokernel

import "fmt"

// KernelError is the base error type for all kernel errors.
type KernelError struct {
	Message string
	Cause   error
}

func (e *KernelError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *KernelError) Unwrap() error {
	return e.Cause
}

// UnknownAgentError is returned when an operation references an id that is
// not registered. Caller's responsibility; never retried by the kernel.
type UnknownAgentError struct {
	KernelError
	AgentID string
}

func unknownAgent(id string) *UnknownAgentError {
	return &UnknownAgentError{
		KernelError: KernelError{Message: fmt.Sprintf("unknown agent %q", id)},
		AgentID:     id,
	}
}

// DuplicateAgentError is returned on a registration collision.
type DuplicateAgentError struct {
	KernelError
	AgentID string
}

func duplicateAgent(id string) *DuplicateAgentError {
	return &DuplicateAgentError{
		KernelError: KernelError{Message: fmt.Sprintf("agent %q already registered", id)},
		AgentID:     id,
	}
}

// InvalidSampleError is returned for a negative cost or benefit. The sample
// is discarded with no partial mutation; rejection is idempotent.
type InvalidSampleError struct {
	KernelError
	AgentID string
	Cost    float64
	Benefit float64
}

func invalidSample(id string, cost, benefit float64) *InvalidSampleError {
	return &InvalidSampleError{
		KernelError: KernelError{Message: fmt.Sprintf("invalid sample for %q: cost=%g benefit=%g", id, cost, benefit)},
		AgentID:     id,
		Cost:        cost,
		Benefit:     benefit,
	}
}

// NoInterventionError reports that no intervention was applicable for a
// bifurcating pair. The unconditional niche_divergence fallback makes this
// unreachable; if it ever surfaces it is an internal-consistency fault, not
// a condition to skip past.
type NoInterventionError struct {
	KernelError
	Pair PairKey
}

func noIntervention(pair PairKey) *NoInterventionError {
	return &NoInterventionError{
		KernelError: KernelError{Message: fmt.Sprintf("no applicable intervention for pair %s", pair)},
		Pair:        pair,
	}
}

// NoRouteError is returned by SubmitTask when no registered agent matches
// the descriptor.
type NoRouteError struct {
	KernelError
	Resource ResourceType
}

func noRoute(resource ResourceType) *NoRouteError {
	return &NoRouteError{
		KernelError: KernelError{Message: fmt.Sprintf("no candidate agents for resource %q", resource)},
		Resource:    resource,
	}
}

// IsFatal reports whether err is an internal-consistency fault that should
// halt the caller rather than be handled. Everything else is a structured
// result the caller can act on.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	switch err.(type) {
	case *NoInterventionError:
		return true
	default:
		return false
	}
}
