// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package coords defines the sparse coordinates, the per-dimension integer tuples (pixel distances, strides,
// kernel sizes and dilations) and the IndexMap that assigns each unique coordinate a dense row index.
//
// A coordinate has D spatial components followed by the batch index. So a row in a flat coordinates buffer
// for D=3 looks like `[x, y, z, batch]`.
package coords

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// MaxDims is the maximum number of spatial dimensions supported.
const MaxDims = 7

// Vec is a tuple of D integers, used for pixel distances (resolutions), strides, kernel sizes and dilations.
//
// It is comparable, so it can be used as part of map keys. The zero value is a tuple with 0 dimensions.
type Vec struct {
	dims   uint8
	values [MaxDims]int32
}

// checkDims returns an error if dims is not in the range [1, MaxDims].
func checkDims(dims int) error {
	if dims < 1 || dims > MaxDims {
		return errors.Wrapf(ErrDimensionMismatch, "number of spatial dimensions must be between 1 and %d, got %d",
			MaxDims, dims)
	}
	return nil
}

// MakeVec creates a Vec with dims dimensions.
//
// If only one value is given, it is broadcast to all dimensions. Otherwise, the number of values must match dims.
func MakeVec[T int | int32 | int64](dims int, values ...T) (Vec, error) {
	var v Vec
	if err := checkDims(dims); err != nil {
		return v, err
	}
	v.dims = uint8(dims)
	switch len(values) {
	case 1:
		for ii := range dims {
			v.values[ii] = int32(values[0])
		}
	case dims:
		for ii, value := range values {
			v.values[ii] = int32(value)
		}
	default:
		return Vec{}, errors.Wrapf(ErrDimensionMismatch, "expected 1 or %d values, got %d (%v)", dims, len(values), values)
	}
	return v, nil
}

// ZeroVec returns a Vec with all dims values set to 0.
//
// The all-zero pixel distance is reserved for the origin (global pooling) resolution.
func ZeroVec(dims int) Vec {
	return Vec{dims: uint8(dims)}
}

// Dims returns the number of dimensions of the tuple.
func (v Vec) Dims() int { return int(v.dims) }

// At returns the value for the given axis.
func (v Vec) At(axis int) int32 { return v.values[axis] }

// Values returns a copy of the values in the tuple.
func (v Vec) Values() []int32 {
	values := make([]int32, v.dims)
	copy(values, v.values[:v.dims])
	return values
}

// IsZero returns whether all values are zero.
func (v Vec) IsZero() bool {
	for _, value := range v.values[:v.dims] {
		if value != 0 {
			return false
		}
	}
	return true
}

// AllPositive returns whether all values are > 0.
func (v Vec) AllPositive() bool {
	for _, value := range v.values[:v.dims] {
		if value <= 0 {
			return false
		}
	}
	return true
}

// Product returns the product of all values.
func (v Vec) Product() int {
	p := 1
	for _, value := range v.values[:v.dims] {
		p *= int(value)
	}
	return p
}

// Mul returns the element-wise product of v and v2. They must have the same dimensions.
func (v Vec) Mul(v2 Vec) Vec {
	res := Vec{dims: v.dims}
	for ii := range int(v.dims) {
		res.values[ii] = v.values[ii] * v2.values[ii]
	}
	return res
}

// Div returns the element-wise division v/v2. It returns an error if some axis is not exactly divisible
// or if the result would be zero.
func (v Vec) Div(v2 Vec) (Vec, error) {
	res := Vec{dims: v.dims}
	for ii := range int(v.dims) {
		if v2.values[ii] <= 0 || v.values[ii]%v2.values[ii] != 0 || v.values[ii] < v2.values[ii] {
			return Vec{}, errors.Wrapf(ErrInvalidArgument, "%s is not divisible by %s on axis %d", v, v2, ii)
		}
		res.values[ii] = v.values[ii] / v2.values[ii]
	}
	return res, nil
}

// Hash returns the FNV hash of the values, see Hash.
func (v Vec) Hash() uint64 {
	return Hash(v.values[:v.dims])
}

// String implements fmt.Stringer.
func (v Vec) String() string {
	return formatInts(v.values[:v.dims])
}

func formatInts(values []int32) string {
	parts := make([]string, len(values))
	for ii, value := range values {
		parts[ii] = fmt.Sprintf("%d", value)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// Key is a coordinate: D spatial components followed by the batch index.
//
// It is comparable, and two coordinates are the same if all their D+1 components are equal.
type Key struct {
	dims   uint8
	values [MaxDims + 1]int32
}

// MakeKey creates a coordinate from its spatial components and the batch index.
func MakeKey(spatial []int32, batch int32) Key {
	k := Key{dims: uint8(len(spatial))}
	copy(k.values[:], spatial)
	k.values[k.dims] = batch
	return k
}

// KeyFromRow creates a coordinate from a row with D+1 values, with the batch index last.
func KeyFromRow(row []int32) Key {
	k := Key{dims: uint8(len(row) - 1)}
	copy(k.values[:], row)
	return k
}

// Dims returns the number of spatial dimensions of the coordinate.
func (k Key) Dims() int { return int(k.dims) }

// Batch returns the batch index of the coordinate.
func (k Key) Batch() int32 { return k.values[k.dims] }

// At returns the spatial component for the given axis.
func (k Key) At(axis int) int32 { return k.values[axis] }

// Row returns a copy of the D+1 components, batch last.
func (k Key) Row() []int32 {
	return k.AppendTo(make([]int32, 0, k.dims+1))
}

// AppendTo appends the D+1 components (batch last) to dst.
func (k Key) AppendTo(dst []int32) []int32 {
	return append(dst, k.values[:k.dims+1]...)
}

// Shift returns the coordinate with each spatial component added by sign*offset[axis]*scale[axis].
// The batch index is kept.
func (k Key) Shift(offset []int32, scale Vec, sign int32) Key {
	shifted := k
	for axis, o := range offset {
		shifted.values[axis] += sign * o * scale.values[axis]
	}
	return shifted
}

// Align returns the coordinate with each spatial component rounded down to the nearest multiple of
// the given pixel distance. The batch index is kept.
func (k Key) Align(pixelDist Vec) Key {
	aligned := k
	for axis := range int(k.dims) {
		aligned.values[axis] = FloorDiv(k.values[axis], pixelDist.values[axis]) * pixelDist.values[axis]
	}
	return aligned
}

// Origin returns the coordinate with all spatial components set to 0, keeping the batch index.
func (k Key) Origin() Key {
	return MakeKey(make([]int32, k.dims), k.Batch())
}

// Hash returns the FNV hash of the D+1 components, see Hash.
func (k Key) Hash() uint64 {
	return Hash(k.values[:k.dims+1])
}

// String implements fmt.Stringer.
func (k Key) String() string {
	return formatInts(k.values[:k.dims+1])
}

// FloorDiv returns a/b rounded towards negative infinity. b must be positive.
func FloorDiv(a, b int32) int32 {
	q := a / b
	if (a%b != 0) && (a < 0) {
		q--
	}
	return q
}
