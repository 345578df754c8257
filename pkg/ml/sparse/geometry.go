// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package sparse

import (
	"github.com/gomlx/sparseconv/pkg/core/coords"
	"github.com/gomlx/sparseconv/pkg/core/metadata"
	"github.com/gomlx/sparseconv/pkg/core/region"
)

// Geometry describes the kernel of a sparse operation. Create it with NewGeometry and configure it with the
// cascading methods:
//
//	geom := sparse.NewGeometry(3).PixelDist(2).Strides(2).KernelSize(3).Hypercross()
//
// Errors in the configuration are kept and returned by Err, or by the operation using the Geometry.
type Geometry struct {
	dims                                    int
	pixelDist, stride, kernelSize, dilation coords.Vec
	region                                  region.Region
	err                                     error
}

// NewGeometry returns a Geometry for coordinates with dims spatial dimensions: pixel distance, strides, kernel
// size and dilations all default to 1, with a hypercube region.
func NewGeometry(dims int) *Geometry {
	g := &Geometry{dims: dims}
	var ones coords.Vec
	ones, g.err = coords.MakeVec(dims, 1)
	g.pixelDist, g.stride, g.kernelSize, g.dilation = ones, ones, ones, ones
	return g
}

// setVec parses values into v, keeping the first error.
func (g *Geometry) setVec(v *coords.Vec, values []int) *Geometry {
	if g.err != nil {
		return g
	}
	*v, g.err = coords.MakeVec(g.dims, values...)
	return g
}

// PixelDist sets the pixel distance (resolution) of the input coordinates. A single value is used for every axis.
func (g *Geometry) PixelDist(values ...int) *Geometry { return g.setVec(&g.pixelDist, values) }

// Strides sets the strides of the operation. A single value is used for every axis.
func (g *Geometry) Strides(values ...int) *Geometry { return g.setVec(&g.stride, values) }

// KernelSize sets the kernel size. A single value is used for every axis.
func (g *Geometry) KernelSize(values ...int) *Geometry { return g.setVec(&g.kernelSize, values) }

// Dilations sets the dilations of the kernel. A single value is used for every axis.
func (g *Geometry) Dilations(values ...int) *Geometry { return g.setVec(&g.dilation, values) }

// Hypercross uses a cross shaped kernel: the center and the offsets along each axis.
func (g *Geometry) Hypercross() *Geometry {
	g.region = region.Region{Type: region.Hypercross}
	return g
}

// CustomOffsets uses an explicit list of kernel offsets, given flat: each consecutive dims values is one offset.
func (g *Geometry) CustomOffsets(flat ...int32) *Geometry {
	if g.err != nil {
		return g
	}
	g.region, g.err = region.NewCustom(g.dims, flat)
	return g
}

// Err returns the first configuration error, if any.
func (g *Geometry) Err() error { return g.err }

// Region returns the kernel region.
func (g *Geometry) Region() region.Region { return g.region }

// InPixelDist returns the pixel distance of the input coordinates.
func (g *Geometry) InPixelDist() coords.Vec { return g.pixelDist }

// Key returns the key of the kernel map for a regular or a transposed operation.
func (g *Geometry) Key(transpose bool) (metadata.GeometryKey, error) {
	if g.err != nil {
		return metadata.GeometryKey{}, g.err
	}
	return metadata.GeometryKey{
		PixelDist:  g.pixelDist,
		Stride:     g.stride,
		KernelSize: g.kernelSize,
		Dilation:   g.dilation,
		Transpose:  transpose,
	}, nil
}

// OutPixelDist returns the pixel distance of the output of a regular or a transposed operation.
func (g *Geometry) OutPixelDist(transpose bool) (coords.Vec, error) {
	key, err := g.Key(transpose)
	if err != nil {
		return coords.Vec{}, err
	}
	return key.OutPixelDist()
}
