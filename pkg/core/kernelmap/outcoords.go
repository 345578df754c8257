// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package kernelmap

import (
	"github.com/gomlx/sparseconv/pkg/core/coords"
	"github.com/pkg/errors"
)

// StridedCoords returns the coordinates at the output resolution outPixelDist (input pixel distance times the
// stride): each input coordinate is aligned to the output grid (spatial components rounded down to a multiple of
// outPixelDist, batch kept) and repeated output coordinates collapse.
//
// Output rows are assigned in the order they are first touched while iterating the input rows.
func StridedCoords(in *coords.IndexMap, outPixelDist coords.Vec) (*coords.IndexMap, error) {
	if outPixelDist.Dims() != in.Dims() {
		return nil, errors.Wrapf(coords.ErrDimensionMismatch, "output pixel distance %s for coordinates with %d dimensions",
			outPixelDist, in.Dims())
	}
	if !outPixelDist.AllPositive() {
		return nil, errors.Wrapf(coords.ErrInvalidArgument, "output pixel distance must be positive, got %s", outPixelDist)
	}
	out, err := coords.NewIndexMap(in.Dims(), in.Len())
	if err != nil {
		return nil, err
	}
	for _, key := range in.Rows() {
		out.Insert(key.Align(outPixelDist))
	}
	return out, nil
}

// OriginCoords returns the coordinates used for global reductions: one row per batch index present in the
// input, with all spatial components set to 0. Rows are in the order batches are first seen.
func OriginCoords(in *coords.IndexMap) (*coords.IndexMap, error) {
	out, err := coords.NewIndexMap(in.Dims(), 0)
	if err != nil {
		return nil, err
	}
	for _, key := range in.Rows() {
		out.Insert(key.Origin())
	}
	return out, nil
}

// OriginCoordsForBatches returns the origin coordinates for batch indices 0 to batchSize-1, in order.
func OriginCoordsForBatches(dims, batchSize int) (*coords.IndexMap, error) {
	if batchSize < 0 {
		return nil, errors.Wrapf(coords.ErrInvalidArgument, "negative batch size %d", batchSize)
	}
	out, err := coords.NewIndexMap(dims, batchSize)
	if err != nil {
		return nil, err
	}
	spatial := make([]int32, dims)
	for batch := range batchSize {
		out.Insert(coords.MakeKey(spatial, int32(batch)))
	}
	return out, nil
}
