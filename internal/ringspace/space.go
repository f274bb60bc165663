// Package ringspace defines the hash space shared by every server node in
// the ring: the modulus, the rolling hash used to place usernames on the
// ring, and the contiguous ranges nodes own.
package ringspace

import "math/big"

// Modulus is the size of the identifier space, M = 10^18 + 3.
const Modulus uint64 = 1_000_000_000_000_000_003

// base is the multiplier B used by the rolling hash.
const base uint64 = 911382629

// Hash computes h(s) = sum(s[i] * B^i) mod M using Horner's method,
// evaluated from the last byte of s to the first so that the i-th byte
// ends up multiplied by B^i.
//
// The intermediate product h*B (with h < M, about 10^18) can exceed 64
// bits, so the
// multiply-then-reduce step borrows math/big rather than risking silent
// wraparound with plain uint64 arithmetic.
func Hash(s string) uint64 {
	if len(s) == 0 {
		return 0
	}
	m := new(big.Int).SetUint64(Modulus)
	b := new(big.Int).SetUint64(base)
	h := new(big.Int)
	for i := len(s) - 1; i >= 0; i-- {
		h.Mul(h, b)
		h.Add(h, big.NewInt(int64(s[i])))
		h.Mod(h, m)
	}
	return h.Uint64()
}

// Range is a closed interval [Lower, Upper] of the identifier space
// owned by exactly one live node.
type Range struct {
	Lower uint64
	Upper uint64
}

// Full returns the range covering the entire identifier space, owned by
// a single node with no neighbors.
func Full() Range {
	return Range{Lower: 0, Upper: Modulus - 1}
}

// Contains reports whether x falls in [r.Lower, r.Upper].
func (r Range) Contains(x uint64) bool {
	return x >= r.Lower && x <= r.Upper
}

// Mid returns floor((lower+upper)/2) for the range, used by JOIN to
// split ownership between a joiner and its sponsor. Uses big.Int to
// avoid overflow on lower+upper near the top of the space.
func (r Range) Mid() uint64 {
	sum := new(big.Int).Add(new(big.Int).SetUint64(r.Lower), new(big.Int).SetUint64(r.Upper))
	sum.Div(sum, big.NewInt(2))
	return sum.Uint64()
}
