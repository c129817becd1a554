// Package overlap provides the local computation a peer performs while its
// non-blocking transfers are in flight.
package overlap

import "math"

// TermsPerUnit is the number of trigonometric terms evaluated by one Unit.
const TermsPerUnit = 256

// Unit evaluates one fixed batch of terms and returns their sum.
// It depends only on seed, so that the work cannot be optimized away and
// never touches transfer buffers.
func Unit(seed int) float64 {
	sum := 0.0
	base := float64(seed%TermsPerUnit) * 1e-3
	for k := 0; k < TermsPerUnit; k++ {
		x := base + float64(k)*1e-2
		sum += math.Sin(x) * math.Cos(x)
	}
	return sum
}

// Work runs units consecutive Units.
func Work(units int) float64 {
	sum := 0.0
	for i := 0; i < units; i++ {
		sum += Unit(i)
	}
	return sum
}
