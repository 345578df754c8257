// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package metadata

import (
	"fmt"

	"github.com/gomlx/sparseconv/pkg/core/coords"
)

// GeometryKey identifies a cached kernel in/out map.
//
// It is compared structurally (all fields), so distinct geometries never share a cached map, even if their
// hashes collide.
type GeometryKey struct {
	PixelDist, Stride, KernelSize, Dilation coords.Vec
	Transpose                               bool
}

// GlobalKey returns the key of the global reduction map for coordinates at pixelDist: stride, kernel size and
// dilation are all zeros.
func GlobalKey(pixelDist coords.Vec) GeometryKey {
	zeros := coords.ZeroVec(pixelDist.Dims())
	return GeometryKey{
		PixelDist:  pixelDist,
		Stride:     zeros,
		KernelSize: zeros,
		Dilation:   zeros,
	}
}

// IsGlobal returns whether the key refers to a global reduction map.
func (k GeometryKey) IsGlobal() bool {
	return k.Stride.IsZero() && k.KernelSize.IsZero()
}

// OutPixelDist returns the pixel distance of the output coordinates: the input pixel distance multiplied by
// the stride, or divided by the stride for transposed operations. Global keys output at the all-zero pixel
// distance.
func (k GeometryKey) OutPixelDist() (coords.Vec, error) {
	if k.IsGlobal() {
		return coords.ZeroVec(k.PixelDist.Dims()), nil
	}
	if k.Transpose {
		return k.PixelDist.Div(k.Stride)
	}
	return k.PixelDist.Mul(k.Stride), nil
}

// Hash returns the hash of the 5 fields: the hashes of the 4 tuples and the transpose flag.
//
// It is only used for logging, the cache compares keys structurally.
func (k GeometryKey) Hash() uint64 {
	var transpose uint64
	if k.Transpose {
		transpose = 1
	}
	return coords.HashUint64(k.PixelDist.Hash(), k.Stride.Hash(), k.KernelSize.Hash(), k.Dilation.Hash(), transpose)
}

// String implements fmt.Stringer.
func (k GeometryKey) String() string {
	if k.IsGlobal() {
		return fmt.Sprintf("Global{pixelDist=%s}", k.PixelDist)
	}
	return fmt.Sprintf("Geometry{pixelDist=%s, stride=%s, kernel=%s, dilation=%s, transpose=%v}",
		k.PixelDist, k.Stride, k.KernelSize, k.Dilation, k.Transpose)
}
