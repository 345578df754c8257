// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package region defines the shape of the kernel support: the list of offsets sampled around each coordinate.
package region

import (
	"fmt"
	"slices"

	"github.com/gomlx/sparseconv/pkg/core/coords"
	"github.com/pkg/errors"
)

// Type of region.
type Type int

const (
	// Hypercube samples every offset of the kernel, iterated in row-major order (last axis changes fastest).
	Hypercube Type = iota

	// Hypercross samples the center and the offsets along each axis ("diamond" shaped for a 2D kernel of
	// size 3). It requires odd kernel sizes.
	Hypercross

	// Custom uses an explicit list of offset vectors, in list order.
	Custom
)

// String implements fmt.Stringer.
func (t Type) String() string {
	switch t {
	case Hypercube:
		return "Hypercube"
	case Hypercross:
		return "Hypercross"
	case Custom:
		return "Custom"
	}
	return fmt.Sprintf("Type(%d)", int(t))
}

// Region describes the kernel support. The zero value is a Hypercube.
type Region struct {
	Type Type

	// CustomOffsets are only used for Custom regions. Each offset has one value per spatial dimension, and it
	// is measured in units of "dilation * pixel distance".
	CustomOffsets [][]int32
}

// NewCustom returns a Custom region with the given offsets, given in a flat buffer shaped [numOffsets, dims].
func NewCustom(dims int, flat []int32) (Region, error) {
	if dims <= 0 || len(flat)%dims != 0 {
		return Region{}, errors.Wrapf(coords.ErrDimensionMismatch,
			"custom offsets buffer with %d values is not a multiple of %d dimensions", len(flat), dims)
	}
	r := Region{Type: Custom, CustomOffsets: make([][]int32, 0, len(flat)/dims)}
	for start := 0; start < len(flat); start += dims {
		r.CustomOffsets = append(r.CustomOffsets, slices.Clone(flat[start:start+dims]))
	}
	return r, nil
}

// Equal returns whether both regions describe the same offsets.
func (r Region) Equal(r2 Region) bool {
	if r.Type != r2.Type {
		return false
	}
	return slices.EqualFunc(r.CustomOffsets, r2.CustomOffsets, slices.Equal[[]int32])
}

// String implements fmt.Stringer.
func (r Region) String() string {
	if r.Type == Custom {
		return fmt.Sprintf("Custom%v", r.CustomOffsets)
	}
	return r.Type.String()
}

// Volume returns the number of offsets in the region for the given kernel size.
func (r Region) Volume(kernelSize coords.Vec) int {
	switch r.Type {
	case Hypercross:
		volume := 1
		for axis := range kernelSize.Dims() {
			volume += int(kernelSize.At(axis)) - 1
		}
		return volume
	case Custom:
		return len(r.CustomOffsets)
	default:
		return kernelSize.Product()
	}
}

// Validate checks that the region can be used with the given kernel size.
func (r Region) Validate(kernelSize coords.Vec) error {
	if !kernelSize.AllPositive() {
		return errors.Wrapf(coords.ErrInvalidArgument, "kernel size must be positive, got %s", kernelSize)
	}
	switch r.Type {
	case Hypercube:
		return nil
	case Hypercross:
		for axis := range kernelSize.Dims() {
			if kernelSize.At(axis)%2 == 0 {
				return errors.Wrapf(coords.ErrInvalidArgument,
					"hypercross region requires odd kernel sizes, got %s", kernelSize)
			}
		}
		return nil
	case Custom:
		if len(r.CustomOffsets) == 0 {
			return errors.Wrapf(coords.ErrInvalidArgument, "custom region with no offsets")
		}
		for ii, offset := range r.CustomOffsets {
			if len(offset) != kernelSize.Dims() {
				return errors.Wrapf(coords.ErrDimensionMismatch, "custom offset #%d has %d values, expected %d",
					ii, len(offset), kernelSize.Dims())
			}
		}
		return nil
	}
	return errors.Wrapf(coords.ErrInvalidArgument, "unknown region type %s", r.Type)
}

// Offsets enumerates the offsets of the region for the given kernel size, in their fixed order: the position of
// an offset in the returned list is its kernel offset index.
//
// Offsets are in units of "dilation * pixel distance". For the Hypercube odd sizes are centered around 0
// (`-(k-1)/2 ... (k-1)/2`), and even sizes span `0 ... k-1`.
func (r Region) Offsets(kernelSize coords.Vec) ([][]int32, error) {
	if err := r.Validate(kernelSize); err != nil {
		return nil, err
	}
	dims := kernelSize.Dims()
	offsets := make([][]int32, 0, r.Volume(kernelSize))
	switch r.Type {
	case Hypercube:
		lower := make([]int32, dims)
		for axis := range dims {
			lower[axis] = lowerBound(kernelSize.At(axis))
		}
		indices := make([]int32, dims)
		for {
			offset := make([]int32, dims)
			for axis := range dims {
				offset[axis] = lower[axis] + indices[axis]
			}
			offsets = append(offsets, offset)

			// Increment indices, row-major order: the last index changes fastest.
			axis := dims - 1
			for ; axis >= 0; axis-- {
				indices[axis]++
				if indices[axis] < kernelSize.At(axis) {
					break
				}
				indices[axis] = 0
			}
			if axis < 0 {
				break
			}
		}

	case Hypercross:
		offsets = append(offsets, make([]int32, dims))
		for axis := range dims {
			half := (kernelSize.At(axis) - 1) / 2
			for step := -half; step <= half; step++ {
				if step == 0 {
					continue
				}
				offset := make([]int32, dims)
				offset[axis] = step
				offsets = append(offsets, offset)
			}
		}

	case Custom:
		for _, offset := range r.CustomOffsets {
			offsets = append(offsets, slices.Clone(offset))
		}
	}
	return offsets, nil
}

// lowerBound of the offsets for a kernel of the given size.
func lowerBound(size int32) int32 {
	if size%2 == 0 {
		return 0
	}
	return -(size - 1) / 2
}
