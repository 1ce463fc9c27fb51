package popsim

// Coupling maps a pairwise interference factor from the kernel's cost
// matrix to a Lotka-Volterra competition coefficient alpha.
type Coupling func(iFactor float64) float64

// AffineCoupling returns alpha = base + scale*i.
func AffineCoupling(base, scale float64) Coupling {
	return func(i float64) float64 { return base + scale*i }
}

// IdentityCoupling uses the interference factor directly as the
// competition coefficient. It is the default: cooperative pairs (i well
// under 1) depress each other's growth only mildly, conflicting pairs
// compete at full strength.
var IdentityCoupling = AffineCoupling(0, 1)
