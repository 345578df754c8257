// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package sparse

import (
	"github.com/gomlx/sparseconv/pkg/core/coords"
	"github.com/gomlx/sparseconv/pkg/core/kernelmap"
	"github.com/gomlx/sparseconv/pkg/core/metadata"
	"github.com/gomlx/sparseconv/pkg/support/xslices"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// poolMaps returns the kernel map of a forward pooling, building it if needed, with the number of output rows.
func poolMaps(md *metadata.Metadata, geom *Geometry, input mat.Matrix) (km *kernelmap.InOutMap, numOut int, err error) {
	key, err := geom.Key(false)
	if err != nil {
		return nil, 0, err
	}
	if _, err = checkRows(md, "input", input, key.PixelDist); err != nil {
		return nil, 0, err
	}
	km, err = md.InitializeKernelMap(key, geom.Region())
	if err != nil {
		return nil, 0, err
	}
	outPixelDist, err := key.OutPixelDist()
	if err != nil {
		return nil, 0, err
	}
	numOut, err = md.NumCoords(outPixelDist)
	return km, numOut, err
}

// backwardMaps returns the previously built kernel map for key, and the number of input and output rows.
// It checks gradOutput has one row per output coordinate.
func backwardMaps(md *metadata.Metadata, key metadata.GeometryKey, gradOutput mat.Matrix) (km *kernelmap.InOutMap, numIn, numOut int, err error) {
	km, err = md.KernelMap(key)
	if err != nil {
		return
	}
	numIn, err = md.NumCoords(key.PixelDist)
	if err != nil {
		return
	}
	var outPixelDist coords.Vec
	outPixelDist, err = key.OutPixelDist()
	if err != nil {
		return
	}
	numOut, err = checkRows(md, "output gradient", gradOutput, outPixelDist)
	return
}

// MaxPoolForward returns the per channel maximum of the input rows pooled into each output row, and the mask
// with the input row selected for each output value (shaped [numOut, channels], flat), used by MaxPoolBackward.
//
// Output rows without any input are set to 0, with mask -1.
func MaxPoolForward(md *metadata.Metadata, geom *Geometry, input *mat.Dense) (output *mat.Dense, mask []int32, err error) {
	km, numOut, err := poolMaps(md, geom, input)
	if err != nil {
		return nil, nil, err
	}
	channels := numChannels(input)
	output, err = newFeatures(numOut, channels)
	if err != nil {
		return nil, nil, err
	}
	mask = xslices.SliceWithValue[int32](numOut*channels, -1)
	for k := range km.NumOffsets() {
		for ii, inRow := range km.In[k] {
			outRow := int(km.Out[k][ii])
			src := input.RawRowView(int(inRow))
			dst := output.RawRowView(outRow)
			rowMask := mask[outRow*channels : (outRow+1)*channels]
			for c, v := range src {
				if rowMask[c] == -1 || v > dst[c] {
					dst[c] = v
					rowMask[c] = inRow
				}
			}
		}
	}
	return output, mask, nil
}

// MaxPoolBackward routes each output gradient to the input row selected by the mask of MaxPoolForward.
func MaxPoolBackward(md *metadata.Metadata, geom *Geometry, gradOutput *mat.Dense, mask []int32) (*mat.Dense, error) {
	key, err := geom.Key(false)
	if err != nil {
		return nil, err
	}
	_, numIn, numOut, err := backwardMaps(md, key, gradOutput)
	if err != nil {
		return nil, err
	}
	channels := numChannels(gradOutput)
	if len(mask) != numOut*channels {
		return nil, errors.Wrapf(metadata.ErrBufferSizeMismatch, "mask has %d elements, expected %d", len(mask), numOut*channels)
	}
	gradInput, err := newFeatures(numIn, channels)
	if err != nil {
		return nil, err
	}
	for outRow := range numOut {
		grad := gradOutput.RawRowView(outRow)
		for c, inRow := range mask[outRow*channels : (outRow+1)*channels] {
			if inRow < 0 {
				continue
			}
			if int(inRow) >= numIn {
				return nil, errors.Wrapf(metadata.ErrInvalidArgument, "mask references input row %d, only %d rows", inRow, numIn)
			}
			gradInput.Set(int(inRow), c, gradInput.At(int(inRow), c)+grad[c])
		}
	}
	return gradInput, nil
}

// pairCounts returns how many pairs of the kernel map land on each output row.
func pairCounts(km *kernelmap.InOutMap, numOut int) []float64 {
	counts := make([]float64, numOut)
	for _, outList := range km.Out {
		for _, outRow := range outList {
			counts[outRow]++
		}
	}
	return counts
}

// averageInto accumulates the input rows into the output rows, divided by the number of inputs of each output.
func averageInto(km *kernelmap.InOutMap, input, output *mat.Dense, counts []float64) {
	for k := range km.NumOffsets() {
		for ii, inRow := range km.In[k] {
			outRow := km.Out[k][ii]
			floats.AddScaled(output.RawRowView(int(outRow)), 1/counts[outRow], input.RawRowView(int(inRow)))
		}
	}
}

// scatterAverageGrad distributes the output gradient back to the input rows, divided by the number of inputs of
// each output.
func scatterAverageGrad(km *kernelmap.InOutMap, gradOutput, gradInput *mat.Dense, counts []float64) {
	for k := range km.NumOffsets() {
		for ii, inRow := range km.In[k] {
			outRow := km.Out[k][ii]
			floats.AddScaled(gradInput.RawRowView(int(inRow)), 1/counts[outRow], gradOutput.RawRowView(int(outRow)))
		}
	}
}

// AvgPoolForward returns the average of the input rows pooled into each output row. Only the inputs present are
// averaged: an output row with 3 inputs is divided by 3, whatever the kernel volume.
//
// Output rows without any input are set to 0.
func AvgPoolForward(md *metadata.Metadata, geom *Geometry, input *mat.Dense) (*mat.Dense, error) {
	km, numOut, err := poolMaps(md, geom, input)
	if err != nil {
		return nil, err
	}
	output, err := newFeatures(numOut, numChannels(input))
	if err != nil {
		return nil, err
	}
	averageInto(km, input, output, pairCounts(km, numOut))
	return output, nil
}

// AvgPoolBackward returns the gradient of the input of AvgPoolForward.
func AvgPoolBackward(md *metadata.Metadata, geom *Geometry, gradOutput *mat.Dense) (*mat.Dense, error) {
	key, err := geom.Key(false)
	if err != nil {
		return nil, err
	}
	km, numIn, numOut, err := backwardMaps(md, key, gradOutput)
	if err != nil {
		return nil, err
	}
	gradInput, err := newFeatures(numIn, numChannels(gradOutput))
	if err != nil {
		return nil, err
	}
	scatterAverageGrad(km, gradOutput, gradInput, pairCounts(km, numOut))
	return gradInput, nil
}
