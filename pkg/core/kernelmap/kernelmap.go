// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package kernelmap generates output coordinate sets for strided, transposed and global operations, and builds
// the kernel in/out maps: for each kernel offset, the list of (input row, output row) pairs that contribute to
// the weighted sum of the convolution (or pooling).
package kernelmap

import (
	"fmt"

	"github.com/gomlx/sparseconv/pkg/core/coords"
	"github.com/pkg/errors"
)

// InOutMap holds, for each kernel offset k, the matched pairs `(In[k][i], Out[k][i])`: input row In[k][i]
// contributes to output row Out[k][i] through the kernel weights of offset k.
//
// Invariant: len(In[k]) == len(Out[k]) for every k.
type InOutMap struct {
	In, Out [][]int32
}

// newInOutMap creates an InOutMap with numOffsets empty lists.
func newInOutMap(numOffsets int) *InOutMap {
	return &InOutMap{
		In:  make([][]int32, numOffsets),
		Out: make([][]int32, numOffsets),
	}
}

// NumOffsets returns the number of kernel offsets.
func (m *InOutMap) NumOffsets() int {
	return len(m.In)
}

// NumPairs returns the total number of pairs, over all offsets.
func (m *InOutMap) NumPairs() int {
	n := 0
	for _, in := range m.In {
		n += len(in)
	}
	return n
}

// MemoryBytes returns the number of bytes used by the index lists.
func (m *InOutMap) MemoryBytes() uint64 {
	return uint64(2*m.NumPairs()) * 4
}

// Validate checks the pairing invariant.
func (m *InOutMap) Validate() error {
	if len(m.In) != len(m.Out) {
		return errors.Errorf("in/out maps have different number of offsets: %d != %d", len(m.In), len(m.Out))
	}
	for k := range m.In {
		if len(m.In[k]) != len(m.Out[k]) {
			return errors.Errorf("in/out maps for kernel offset %d have different lengths: %d != %d",
				k, len(m.In[k]), len(m.Out[k]))
		}
	}
	return nil
}

// String implements fmt.Stringer.
func (m *InOutMap) String() string {
	return fmt.Sprintf("InOutMap{offsets=%d, pairs=%d}", m.NumOffsets(), m.NumPairs())
}

// checkSameDims returns an error if the index maps have different number of spatial dimensions.
func checkSameDims(in, out *coords.IndexMap) error {
	if in.Dims() != out.Dims() {
		return errors.Wrapf(coords.ErrDimensionMismatch, "input coordinates have %d dimensions, output coordinates have %d",
			in.Dims(), out.Dims())
	}
	return nil
}
