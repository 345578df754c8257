// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package kernelmap

import (
	"github.com/gomlx/sparseconv/internal/workerspool"
	"github.com/gomlx/sparseconv/pkg/core/coords"
	"github.com/gomlx/sparseconv/pkg/core/region"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Builder builds InOutMap objects. The lists of each kernel offset are built in parallel, but the results
// are identical to a sequential build.
//
// It is safe for concurrent use.
type Builder struct {
	pool *workerspool.Pool
}

// NewBuilder creates a Builder that uses the given pool to parallelize over kernel offsets.
// If pool is nil, a pool with the default parallelism is created.
func NewBuilder(pool *workerspool.Pool) *Builder {
	if pool == nil {
		pool = workerspool.New()
	}
	return &Builder{pool: pool}
}

// Params are the geometric parameters of a kernel map.
type Params struct {
	// KernelSize per spatial dimension.
	KernelSize coords.Vec

	// Dilation per spatial dimension.
	Dilation coords.Vec

	// Region of the kernel.
	Region region.Region
}

// offsets validates the parameters against the coordinates dimensions and returns the region offsets.
func (p Params) offsets(dims int) ([][]int32, error) {
	if p.KernelSize.Dims() != dims || p.Dilation.Dims() != dims {
		return nil, errors.Wrapf(coords.ErrDimensionMismatch,
			"kernel size %s and dilation %s must have %d dimensions", p.KernelSize, p.Dilation, dims)
	}
	if !p.Dilation.AllPositive() {
		return nil, errors.Wrapf(coords.ErrInvalidArgument, "dilation must be positive, got %s", p.Dilation)
	}
	return p.Region.Offsets(p.KernelSize)
}

// Build the forward (non-transposed) InOutMap from the input coordinates at inPixelDist to the output coordinates
// (the same resolution or a coarser one).
//
// Input row c and output row o are paired under kernel offset k if `c = o + offset_k * dilation * inPixelDist`.
// The pairs of each offset are ordered by input row.
func (b *Builder) Build(in, out *coords.IndexMap, inPixelDist coords.Vec, params Params) (*InOutMap, error) {
	if err := checkSameDims(in, out); err != nil {
		return nil, err
	}
	offsets, err := params.offsets(in.Dims())
	if err != nil {
		return nil, err
	}
	if inPixelDist.Dims() != in.Dims() {
		return nil, errors.Wrapf(coords.ErrDimensionMismatch, "pixel distance %s for coordinates with %d dimensions",
			inPixelDist, in.Dims())
	}
	scale := params.Dilation.Mul(inPixelDist)
	return b.build(in, out, offsets, scale, -1), nil
}

// BuildTranspose builds the InOutMap of a transposed operation, from the (coarser) input coordinates to the
// (finer) output coordinates at outPixelDist.
//
// Input row c and output row o are paired under kernel offset k if `o = c + offset_k * dilation * outPixelDist`:
// these are exactly the pairs of the forward map from the output coordinates back to the input coordinates,
// with the roles swapped. The pairs of each offset are ordered by input row.
func (b *Builder) BuildTranspose(in, out *coords.IndexMap, outPixelDist coords.Vec, params Params) (*InOutMap, error) {
	if err := checkSameDims(in, out); err != nil {
		return nil, err
	}
	offsets, err := params.offsets(in.Dims())
	if err != nil {
		return nil, err
	}
	if outPixelDist.Dims() != in.Dims() {
		return nil, errors.Wrapf(coords.ErrDimensionMismatch, "pixel distance %s for coordinates with %d dimensions",
			outPixelDist, in.Dims())
	}
	scale := params.Dilation.Mul(outPixelDist)
	return b.build(in, out, offsets, scale, 1), nil
}

// build iterates over the input rows, and for each kernel offset looks up `c + sign * offset * scale` in the
// output coordinates.
func (b *Builder) build(in, out *coords.IndexMap, offsets [][]int32, scale coords.Vec, sign int32) *InOutMap {
	m := newInOutMap(len(offsets))
	inRows := in.Rows()
	b.pool.ForEach(len(offsets), func(k int) {
		offset := offsets[k]
		var inList, outList []int32
		for inRow, key := range inRows {
			outRow, found := out.Lookup(key.Shift(offset, scale, sign))
			if !found {
				continue
			}
			inList = append(inList, int32(inRow))
			outList = append(outList, int32(outRow))
		}
		m.In[k], m.Out[k] = inList, outList
		if klog.V(2).Enabled() {
			klog.Infof("kernel offset #%d %v: %d pairs", k, offset, len(inList))
		}
	})
	return m
}

// BuildGlobal builds the InOutMap of a global reduction: a single offset where every input row is paired with
// the origin row of its batch.
//
// It returns an error if the batch of some input row is missing from the origin coordinates.
func BuildGlobal(in, origin *coords.IndexMap) (*InOutMap, error) {
	if err := checkSameDims(in, origin); err != nil {
		return nil, err
	}
	m := newInOutMap(1)
	inList := make([]int32, 0, in.Len())
	outList := make([]int32, 0, in.Len())
	for inRow, key := range in.Rows() {
		outRow, found := origin.Lookup(key.Origin())
		if !found {
			return nil, errors.Wrapf(coords.ErrInvalidArgument, "batch %d of input row %d missing in the origin coordinates",
				key.Batch(), inRow)
		}
		inList = append(inList, int32(inRow))
		outList = append(outList, int32(outRow))
	}
	m.In[0], m.Out[0] = inList, outList
	return m, nil
}
