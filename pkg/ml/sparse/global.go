// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package sparse

import (
	"fmt"

	"github.com/gomlx/sparseconv/pkg/core/coords"
	"github.com/gomlx/sparseconv/pkg/core/metadata"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// BroadcastOp is the operation used to combine the features of each row with the global features of its batch.
type BroadcastOp int

const (
	// BroadcastAdd adds the global features to every row of the batch.
	BroadcastAdd BroadcastOp = iota

	// BroadcastMul multiplies every row of the batch by the global features, element-wise.
	BroadcastMul
)

// String implements fmt.Stringer.
func (op BroadcastOp) String() string {
	switch op {
	case BroadcastAdd:
		return "BroadcastAdd"
	case BroadcastMul:
		return "BroadcastMul"
	}
	return fmt.Sprintf("BroadcastOp(%d)", int(op))
}

func (op BroadcastOp) check() error {
	if op != BroadcastAdd && op != BroadcastMul {
		return errors.Wrapf(metadata.ErrInvalidArgument, "unknown broadcast operation %s", op)
	}
	return nil
}

// GlobalAvgPoolForward returns the average of the input rows of each batch: one output row per origin
// coordinate (see metadata.Metadata.InitializeGlobalMap) in the order of the origin coordinates.
//
// Only the geometry's pixel distance is used.
func GlobalAvgPoolForward(md *metadata.Metadata, geom *Geometry, input *mat.Dense) (*mat.Dense, error) {
	if err := geom.Err(); err != nil {
		return nil, err
	}
	pixelDist := geom.InPixelDist()
	if _, err := checkRows(md, "input", input, pixelDist); err != nil {
		return nil, err
	}
	km, err := md.InitializeGlobalMap(pixelDist)
	if err != nil {
		return nil, err
	}
	numOut, err := md.NumCoords(coords.ZeroVec(pixelDist.Dims()))
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

// GlobalAvgPoolBackward returns the gradient of the input of GlobalAvgPoolForward.
func GlobalAvgPoolBackward(md *metadata.Metadata, geom *Geometry, gradOutput *mat.Dense) (*mat.Dense, error) {
	if err := geom.Err(); err != nil {
		return nil, err
	}
	km, numIn, numOut, err := backwardMaps(md, metadata.GlobalKey(geom.InPixelDist()), gradOutput)
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

// checkGlobal validates the global features have one row per origin coordinate and the input's channels.
func checkGlobal(md *metadata.Metadata, input, global *mat.Dense) error {
	numGlobal, err := md.NumCoords(coords.ZeroVec(md.Dims()))
	if err != nil {
		return err
	}
	return checkShape("global features", global, numGlobal, numChannels(input))
}

// GlobalBroadcastForward combines each input row with the global features (one row per origin coordinate) of its
// batch, using op.
func GlobalBroadcastForward(md *metadata.Metadata, geom *Geometry, input, global *mat.Dense, op BroadcastOp) (*mat.Dense, error) {
	if err := geom.Err(); err != nil {
		return nil, err
	}
	if err := op.check(); err != nil {
		return nil, err
	}
	pixelDist := geom.InPixelDist()
	numIn, err := checkRows(md, "input", input, pixelDist)
	if err != nil {
		return nil, err
	}
	km, err := md.InitializeGlobalMap(pixelDist)
	if err != nil {
		return nil, err
	}
	if err := checkGlobal(md, input, global); err != nil {
		return nil, err
	}
	output, err := newFeatures(numIn, numChannels(input))
	if err != nil {
		return nil, err
	}
	output.Copy(input)
	for ii, inRow := range km.In[0] {
		dst := output.RawRowView(int(inRow))
		src := global.RawRowView(int(km.Out[0][ii]))
		switch op {
		case BroadcastAdd:
			floats.Add(dst, src)
		case BroadcastMul:
			floats.Mul(dst, src)
		}
	}
	return output, nil
}

// GlobalBroadcastBackward returns the gradients of the input and the global features of GlobalBroadcastForward.
func GlobalBroadcastBackward(md *metadata.Metadata, geom *Geometry, input, global, gradOutput *mat.Dense, op BroadcastOp) (
	gradInput, gradGlobal *mat.Dense, err error) {
	if err = geom.Err(); err != nil {
		return nil, nil, err
	}
	if err = op.check(); err != nil {
		return nil, nil, err
	}
	pixelDist := geom.InPixelDist()
	km, err := md.GlobalKernelMap(pixelDist)
	if err != nil {
		return nil, nil, err
	}
	numIn, err := checkRows(md, "input", input, pixelDist)
	if err != nil {
		return nil, nil, err
	}
	if err = checkShape("output gradient", gradOutput, numIn, numChannels(input)); err != nil {
		return nil, nil, err
	}
	if err = checkGlobal(md, input, global); err != nil {
		return nil, nil, err
	}
	numGlobal, channels := global.Dims()
	gradInput = mat.NewDense(numIn, channels, nil)
	gradGlobal = mat.NewDense(numGlobal, channels, nil)
	scratch := make([]float64, channels)
	for ii, inRow := range km.In[0] {
		globalRow := int(km.Out[0][ii])
		grad := gradOutput.RawRowView(int(inRow))
		switch op {
		case BroadcastAdd:
			gradInput.SetRow(int(inRow), grad)
			floats.Add(gradGlobal.RawRowView(globalRow), grad)
		case BroadcastMul:
			floats.MulTo(gradInput.RawRowView(int(inRow)), grad, global.RawRowView(globalRow))
			floats.MulTo(scratch, grad, input.RawRowView(int(inRow)))
			floats.Add(gradGlobal.RawRowView(globalRow), scratch)
		}
	}
	return gradInput, gradGlobal, nil
}
