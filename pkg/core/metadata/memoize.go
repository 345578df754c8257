// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package metadata

// memoize returns cache[key] if present, otherwise it builds the value, stores it and returns it.
//
// If build fails nothing is stored. It's the only place values are added to the scope caches, and it must be
// called with the scope lock held, making the check-then-insert atomic per key.
func memoize[K comparable, V any](cache map[K]V, key K, build func() (V, error)) (value V, built bool, err error) {
	if value, found := cache[key]; found {
		return value, false, nil
	}
	value, err = build()
	if err != nil {
		var zero V
		return zero, false, err
	}
	cache[key] = value
	return value, true, nil
}
