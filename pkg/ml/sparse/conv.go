// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package sparse

import (
	"strconv"

	"github.com/gomlx/sparseconv/pkg/core/metadata"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"k8s.io/klog/v2"
)

// ConvForward returns the sparse convolution of the input features, at the geometry's pixel distance, with one
// kernel per kernel offset, each shaped [input channels, output channels].
//
// The output has one row per coordinate at the output pixel distance (pixel distance times strides), which are
// created if needed.
func ConvForward(md *metadata.Metadata, geom *Geometry, input *mat.Dense, kernels []*mat.Dense) (*mat.Dense, error) {
	return convForward(md, geom, false, input, kernels)
}

// ConvTransposeForward returns the transposed sparse convolution of the input features, onto the finer
// coordinates at the geometry's pixel distance divided by the strides, which must be registered already.
func ConvTransposeForward(md *metadata.Metadata, geom *Geometry, input *mat.Dense, kernels []*mat.Dense) (*mat.Dense, error) {
	return convForward(md, geom, true, input, kernels)
}

// ConvBackward returns the gradients of the input features and of the kernels, given the gradient of the output of
// ConvForward. The forward pass must have been executed on the same scope.
func ConvBackward(md *metadata.Metadata, geom *Geometry, input *mat.Dense, kernels []*mat.Dense, gradOutput *mat.Dense) (
	gradInput *mat.Dense, gradKernels []*mat.Dense, err error) {
	return convBackward(md, geom, false, input, kernels, gradOutput)
}

// ConvTransposeBackward is the backward pass of ConvTransposeForward, see ConvBackward.
func ConvTransposeBackward(md *metadata.Metadata, geom *Geometry, input *mat.Dense, kernels []*mat.Dense, gradOutput *mat.Dense) (
	gradInput *mat.Dense, gradKernels []*mat.Dense, err error) {
	return convBackward(md, geom, true, input, kernels, gradOutput)
}

// checkKernels verifies there is one kernel per offset, all with the same shape, and returns the number of
// output channels.
func checkKernels(numOffsets int, kernels []*mat.Dense, inChannels int) (outChannels int, err error) {
	if len(kernels) == 0 || len(kernels) != numOffsets {
		return 0, errors.Wrapf(metadata.ErrBufferSizeMismatch, "got %d kernels for a kernel map with %d offsets",
			len(kernels), numOffsets)
	}
	outChannels = numChannels(kernels[0])
	for k, kernel := range kernels {
		if err := checkShape("kernel #"+strconv.Itoa(k), kernel, inChannels, outChannels); err != nil {
			return 0, err
		}
	}
	return outChannels, nil
}

func convForward(md *metadata.Metadata, geom *Geometry, transpose bool, input *mat.Dense, kernels []*mat.Dense) (*mat.Dense, error) {
	key, err := geom.Key(transpose)
	if err != nil {
		return nil, err
	}
	if _, err := checkRows(md, "input", input, key.PixelDist); err != nil {
		return nil, err
	}
	// Before anything is cached in the scope.
	outChannels, err := checkKernels(geom.Region().Volume(key.KernelSize), kernels, numChannels(input))
	if err != nil {
		return nil, err
	}
	km, err := md.InitializeKernelMap(key, geom.Region())
	if err != nil {
		return nil, err
	}
	outPixelDist, err := key.OutPixelDist()
	if err != nil {
		return nil, err
	}
	numOut, err := md.NumCoords(outPixelDist)
	if err != nil {
		return nil, err
	}
	output, err := newFeatures(numOut, outChannels)
	if err != nil {
		return nil, err
	}
	backend, err := md.Backend()
	if err != nil {
		return nil, err
	}
	for k, kernel := range kernels {
		if len(km.In[k]) == 0 {
			continue
		}
		if err := backend.GatherMulScatter(input, kernel, output, km.In[k], km.Out[k]); err != nil {
			return nil, errors.WithMessagef(err, "convolution of kernel offset #%d", k)
		}
	}
	klog.V(2).Infof("convolution %s: %d pairs into %d rows", key, km.NumPairs(), numOut)
	return output, nil
}

func convBackward(md *metadata.Metadata, geom *Geometry, transpose bool, input *mat.Dense, kernels []*mat.Dense, gradOutput *mat.Dense) (
	gradInput *mat.Dense, gradKernels []*mat.Dense, err error) {
	key, err := geom.Key(transpose)
	if err != nil {
		return nil, nil, err
	}
	km, err := md.KernelMap(key)
	if err != nil {
		return nil, nil, err
	}
	numIn, err := checkRows(md, "input", input, key.PixelDist)
	if err != nil {
		return nil, nil, err
	}
	inChannels := numChannels(input)
	outChannels, err := checkKernels(km.NumOffsets(), kernels, inChannels)
	if err != nil {
		return nil, nil, err
	}
	outPixelDist, err := key.OutPixelDist()
	if err != nil {
		return nil, nil, err
	}
	numOut, err := md.NumCoords(outPixelDist)
	if err != nil {
		return nil, nil, err
	}
	if err = checkShape("output gradient", gradOutput, numOut, outChannels); err != nil {
		return nil, nil, err
	}
	backend, err := md.Backend()
	if err != nil {
		return nil, nil, err
	}

	gradInput = mat.NewDense(numIn, inChannels, nil)
	gradKernels = make([]*mat.Dense, len(kernels))
	for k, kernel := range kernels {
		gradKernels[k] = mat.NewDense(inChannels, outChannels, nil)
		if len(km.In[k]) == 0 {
			continue
		}
		if err = backend.GatherMulScatter(gradOutput, kernel.T(), gradInput, km.Out[k], km.In[k]); err != nil {
			return nil, nil, errors.WithMessagef(err, "input gradient of kernel offset #%d", k)
		}
		if err = backend.GatherOuterAccumulate(input, gradOutput, gradKernels[k], km.In[k], km.Out[k]); err != nil {
			return nil, nil, errors.WithMessagef(err, "kernel gradient of kernel offset #%d", k)
		}
	}
	return gradInput, gradKernels, nil
}
