package ecokernel

// DegenerateIFactor is the i-factor assigned when the effective benefit
// denominator is zero or negative: the interaction extracts no value, so it
// is priced as maximal cost rather than propagating an undefined division.
// The constant forces bifurcation under any beta >= 0.5.
const DegenerateIFactor = 2.0

// ComputeIFactor computes the normalized interaction cost for a pair:
//
//	i = (costA + costB) / (benefitA*phiA + benefitB*phiB)
//
// Maturity modulates the benefit each member actually extracts. The result
// is non-negative and finite for all valid inputs; a non-positive
// denominator yields DegenerateIFactor. The computation is pure; negative
// costs and benefits are rejected upstream at sample ingestion.
func ComputeIFactor(costA, benefitA, phiA, costB, benefitB, phiB float64) float64 {
	denom := benefitA*phiA + benefitB*phiB
	if denom <= 0 {
		return DegenerateIFactor
	}
	i := (costA + costB) / denom
	if i < 0 {
		return 0
	}
	return i
}

// ClassifyBetaI maps a scaled interaction cost to its reporting band.
// Below cooperative it is cooperative routing, at or above conflict the
// pair is in conflict, between the two it sits in the threshold zone.
func ClassifyBetaI(betaI, cooperative, conflict float64) Classification {
	switch {
	case betaI < cooperative:
		return ClassCooperative
	case betaI < conflict:
		return ClassThreshold
	default:
		return ClassConflict
	}
}

// costBenefitRatio is the single-agent cost pressure used to pick the
// higher-cost member of a pair and to rank substitute candidates. A zero
// effective benefit prices as the degenerate maximum.
func costBenefitRatio(cost, benefit, phi float64) float64 {
	eff := benefit * phi
	if eff <= 0 {
		return DegenerateIFactor
	}
	r := cost / eff
	if r < 0 {
		return 0
	}
	return r
}
