package arbitrage

import "math/big"

const sqrtMaxIterations = 50

// successive newton iterates closer than this are considered converged
var sqrtTolerance = big.NewInt(1)

// Isqrt computes the integer square root via Newton's method seeded at
// (value+1)/2. Iterates until two successive guesses differ by at most
// sqrtTolerance or the iteration cap is hit, then returns the last guess.
// The cap guards non-convergence; the result can sit one off the exact
// floor, which is inside every caller's tolerance.
func Isqrt(value *big.Int) *big.Int {
	if value == nil || value.Sign() <= 0 {
		return big.NewInt(0)
	}

	x := new(big.Int).Add(value, big.NewInt(1))
	x.Rsh(x, 1)

	for i := 0; i < sqrtMaxIterations; i++ {
		// x' = (value/x + x) / 2
		next := new(big.Int).Div(value, x)
		next.Add(next, x)
		next.Rsh(next, 1)

		diff := new(big.Int).Sub(next, x)
		if diff.CmpAbs(sqrtTolerance) <= 0 {
			return next
		}
		x = next
	}

	return x
}
