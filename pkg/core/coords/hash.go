// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package coords

import "golang.org/x/exp/constraints"

const (
	// fnvOffsetBasis is the 64-bit FNV offset basis.
	fnvOffsetBasis uint64 = 14695981039346656037

	// fnvPrime is the 64-bit FNV prime.
	fnvPrime uint64 = 1099511628211
)

// Hash returns the FNV style hash of the sequence of integer values.
//
// For each value the running hash is first multiplied by the FNV prime and then xor-ed with the value
// reinterpreted as an uint64 (negative values are sign extended). It is order-sensitive and deterministic
// across runs, and it is the same routine used for coordinates, pixel distances and geometry keys.
//
// It is not a cryptographic hash: it is only used for bucket placement and for logging.
func Hash[T constraints.Integer](values []T) uint64 {
	hash := fnvOffsetBasis
	for _, v := range values {
		hash *= fnvPrime
		hash ^= uint64(int64(v))
	}
	return hash
}

// HashUint64 is like Hash, but for values that are already hashes, so no sign extension is involved.
func HashUint64(values ...uint64) uint64 {
	hash := fnvOffsetBasis
	for _, v := range values {
		hash *= fnvPrime
		hash ^= v
	}
	return hash
}
